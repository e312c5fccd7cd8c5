package vm

import (
	"github.com/go-logr/logr"
	"github.com/google/cel-go/cel"

	"github.com/funvibe/hotreload/internal/continuity"
	"github.com/funvibe/hotreload/internal/expr"
	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/program"
)

// Thread is one mutator. It owns a call stack and a dispatch cache and is
// not safe for concurrent use; run one Thread per goroutine.
type Thread struct {
	vm      *VM
	log     logr.Logger
	mutator *heap.Mutator
	stack   *continuity.Stack
	cache   *continuity.DispatchCache
	adapter *expr.Adapter

	// Expressions are compiled per thread because their function bindings
	// call back into this thread.
	envs   map[*program.Program]*cel.Env
	bodies map[*continuity.Code]*body
	epoch  uint64

	// fault is the language error behind the CEL error value last
	// returned to the expression being evaluated.
	fault error
}

// NewThread attaches a thread to the VM.
func (vm *VM) NewThread() *Thread {
	t := &Thread{
		vm:      vm,
		mutator: vm.heap.Safepoint().NewMutator(),
		stack:   continuity.NewStack(vm.opts.MaxFrames),
		cache:   continuity.NewDispatchCache(&vm.epoch),
		envs:    map[*program.Program]*cel.Env{},
		bodies:  map[*continuity.Code]*body{},
		epoch:   vm.epoch.Current(),
	}
	t.log = vm.log.WithValues("thread", t.mutator.ID())
	t.adapter = &expr.Adapter{Wrap: t.wrap}
	vm.mu.Lock()
	vm.threads[t] = struct{}{}
	vm.mu.Unlock()
	return t
}

// Close detaches the thread from the VM.
func (t *Thread) Close() {
	t.vm.mu.Lock()
	delete(t.vm.threads, t)
	t.vm.mu.Unlock()
}

func (t *Thread) ID() uint64 { return t.mutator.ID() }

func (t *Thread) VM() *VM { return t.vm }

// Mutator is the safepoint participant of the thread.
func (t *Thread) Mutator() *heap.Mutator { return t.mutator }

// Stack returns the frames of the thread, outermost first.
func (t *Thread) Stack() []*continuity.Frame { return t.stack.Frames() }

// Cache exposes the dispatch cache statistics.
func (t *Thread) Cache() *continuity.DispatchCache { return t.cache }

// enter marks the thread running until the returned func is called.
func (t *Thread) enter() func() {
	t.mutator.Enter()
	t.sync()
	return t.mutator.Exit
}

// sync drops compiled bodies of retired code no frame runs any more, and
// environments no remaining body needs, once per reload.
func (t *Thread) sync() {
	cur := t.vm.epoch.Current()
	if cur == t.epoch {
		return
	}
	t.epoch = cur
	running := map[*continuity.Code]bool{}
	for _, f := range t.stack.Frames() {
		running[f.Code] = true
	}
	for c := range t.bodies {
		if c.Retired() && !running[c] {
			delete(t.bodies, c)
		}
	}
	used := map[*program.Program]bool{t.vm.Program(): true}
	for c := range t.bodies {
		used[c.Program] = true
	}
	for p := range t.envs {
		if !used[p] {
			delete(t.envs, p)
		}
	}
}
