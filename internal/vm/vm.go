// Package vm is the managed runtime reloadable programs run on. A VM owns
// the heap and the class, static and subclass tables of one application;
// Threads execute method bodies against whichever program is current.
package vm

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/funvibe/hotreload/internal/continuity"
	"github.com/funvibe/hotreload/internal/diagnostics"
	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/identity"
	"github.com/funvibe/hotreload/internal/program"
	"github.com/funvibe/hotreload/internal/statics"
	"github.com/funvibe/hotreload/internal/subclass"
)

// LazyKind labels what a lazy initialiser produced.
type LazyKind string

const (
	LazyField  LazyKind = "field"
	LazyStatic LazyKind = "static"
)

// ReloadHook runs a reload on behalf of a thread that called reload().
type ReloadHook func(t *Thread) error

// Options configure a VM.
type Options struct {
	Logger logr.Logger
	// Stdout receives print() output.
	Stdout io.Writer
	// HeapLimit bounds live heap slots; zero is unlimited.
	HeapLimit int
	// MaxFrames bounds the call stack of every thread.
	MaxFrames int
	// OnLazyInit is called after every successful lazy initialisation.
	OnLazyInit func(LazyKind)
}

type Option func(*Options)

func WithLogger(l logr.Logger) Option { return func(o *Options) { o.Logger = l } }

func WithStdout(w io.Writer) Option { return func(o *Options) { o.Stdout = w } }

func WithHeapLimit(n int) Option { return func(o *Options) { o.HeapLimit = n } }

func WithMaxFrames(n int) Option { return func(o *Options) { o.MaxFrames = n } }

func WithLazyInitHook(fn func(LazyKind)) Option { return func(o *Options) { o.OnLazyInit = fn } }

// VM is one isolate group: a heap and the tables describing its objects.
type VM struct {
	log  logr.Logger
	opts Options

	heap     *heap.Heap
	identity *identity.Table
	statics  *statics.Store
	subs     *subclass.Registry
	codes    *continuity.Registry
	epoch    continuity.Epoch

	prog atomic.Pointer[program.Program]

	mu      sync.Mutex
	threads map[*Thread]struct{}
	hook    ReloadHook

	// Initialisers of fields and statics run as synthetic functions so
	// that they get frames and code versions like any method.
	initMu sync.Mutex
	inits  map[*program.Expr]*program.Function
	initOf map[*program.Function]*program.Expr
}

// New creates a VM with no program loaded.
func New(options ...Option) *VM {
	opts := Options{Logger: logr.Discard(), Stdout: io.Discard}
	for _, opt := range options {
		opt(&opts)
	}
	vm := &VM{
		log:      opts.Logger.WithName("vm"),
		opts:     opts,
		heap:     heap.New(opts.HeapLimit),
		identity: identity.New(),
		statics:  statics.New(),
		subs:     subclass.New(),
		codes:    continuity.NewRegistry(),
		threads:  map[*Thread]struct{}{},
		inits:    map[*program.Expr]*program.Function{},
		initOf:   map[*program.Function]*program.Expr{},
	}
	return vm
}

// Load installs the first program: a runtime class per declared class,
// the subclass registry and an uninitialized cell per variable and static.
func (vm *VM) Load(p *program.Program) error {
	if vm.prog.Load() != nil {
		return diagnostics.Undefinedf("a program is already loaded; use a reload")
	}
	for _, c := range p.Classes() {
		vm.identity.Define(heap.NewClass(vm.identity.NewID(), c, p))
	}
	for _, c := range p.Classes() {
		if c.Super.IsZero() {
			continue
		}
		parent, child := vm.identity.Class(c.Super), vm.identity.Class(c.Key())
		if parent != nil && child != nil {
			vm.subs.Add(parent.ID, child.ID)
		}
	}
	for _, l := range p.Libraries() {
		for _, v := range l.Variables {
			vm.statics.Register(statics.LibraryKey(l.URI, v.Name), v)
		}
		for _, c := range l.Classes {
			for _, s := range c.Statics {
				vm.statics.Register(statics.ClassKey(c.Key(), s.Name), s)
			}
		}
	}
	vm.prog.Store(p)
	vm.log.V(1).Info("program loaded", "root", p.Root, "libraries", len(p.Libraries()), "classes", len(p.Classes()))
	return nil
}

// Program returns the current program, nil before Load.
func (vm *VM) Program() *program.Program { return vm.prog.Load() }

// Publish makes p the program new calls resolve against.
func (vm *VM) Publish(p *program.Program) { vm.prog.Store(p) }

func (vm *VM) Logger() logr.Logger { return vm.log }

func (vm *VM) Heap() *heap.Heap { return vm.heap }

func (vm *VM) Identity() *identity.Table { return vm.identity }

func (vm *VM) Statics() *statics.Store { return vm.statics }

func (vm *VM) Subclasses() *subclass.Registry { return vm.subs }

func (vm *VM) Codes() *continuity.Registry { return vm.codes }

func (vm *VM) Epoch() *continuity.Epoch { return &vm.epoch }

// SetReloadHook installs what reload() runs.
func (vm *VM) SetReloadHook(h ReloadHook) {
	vm.mu.Lock()
	vm.hook = h
	vm.mu.Unlock()
}

func (vm *VM) reloadHook() ReloadHook {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.hook
}

// Threads returns the threads attached to the VM.
func (vm *VM) Threads() []*Thread {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	out := make([]*Thread, 0, len(vm.threads))
	for t := range vm.threads {
		out = append(out, t)
	}
	return out
}

// Deoptimize flags, on every thread, the frames running invalidated code.
// It must run at a safepoint.
func (vm *VM) Deoptimize() int {
	n := 0
	for _, t := range vm.Threads() {
		n += t.stack.Deoptimize()
	}
	return n
}

// RetireCode drops the code of every function that is not part of p.
// Initialisers count as part of p while their expression is.
func (vm *VM) RetireCode(p *program.Program) int {
	fns := map[*program.Function]bool{}
	exprs := map[*program.Expr]bool{}
	addVar := func(v *program.Variable) {
		if v.Init != nil {
			exprs[v.Init] = true
		}
	}
	for _, l := range p.Libraries() {
		for _, f := range l.Functions {
			fns[f] = true
		}
		for _, v := range l.Variables {
			addVar(v)
		}
		for _, c := range l.Classes {
			for _, m := range c.Methods {
				fns[m] = true
			}
			for _, s := range c.Statics {
				addVar(s)
			}
			for _, f := range c.Fields {
				if f.Init != nil {
					exprs[f.Init] = true
				}
			}
		}
	}

	vm.initMu.Lock()
	defer vm.initMu.Unlock()
	n := vm.codes.Retire(func(fn *program.Function) bool {
		if fns[fn] {
			return true
		}
		e, ok := vm.initOf[fn]
		return ok && exprs[e]
	})
	for e, fn := range vm.inits {
		if !exprs[e] {
			delete(vm.inits, e)
			delete(vm.initOf, fn)
		}
	}
	return n
}

// initializer returns the synthetic function evaluating an initialiser.
func (vm *VM) initializer(e *program.Expr, name string) *program.Function {
	vm.initMu.Lock()
	defer vm.initMu.Unlock()
	if fn, ok := vm.inits[e]; ok {
		return fn
	}
	fn := &program.Function{
		Name: name,
		Body: []program.Step{{Op: program.StepReturn, Value: e}},
		Line: e.Line,
	}
	vm.inits[e] = fn
	vm.initOf[fn] = e
	return fn
}

func (vm *VM) lazyInit(kind LazyKind) {
	if vm.opts.OnLazyInit != nil {
		vm.opts.OnLazyInit(kind)
	}
}

// Collect frees every object unreachable from the static store, the
// identity table, the stacks of all threads and extra. It parks all
// mutators, so it must not be called from a running thread.
func (vm *VM) Collect(extra ...any) int {
	var freed int
	_ = vm.heap.Safepoint().RunAtSafepoint(nil, func() error {
		roots := append([]any(nil), extra...)
		roots = append(roots, vm.statics.Roots()...)
		roots = append(roots, vm.identity.Roots()...)
		for _, t := range vm.Threads() {
			for _, f := range t.stack.Frames() {
				if f.Receiver != nil {
					roots = append(roots, f.Receiver)
				}
				for _, v := range f.Locals {
					roots = append(roots, v)
				}
			}
		}
		freed = vm.heap.Collect(roots)
		return nil
	})
	vm.log.V(1).Info("heap collected", "freed", freed, "objects", vm.heap.Stats().Objects)
	return freed
}
