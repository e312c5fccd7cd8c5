// Package hotreload embeds a reloadable program in a Go application: load
// a program from library sources, call into it, and swap in new sources
// while the heap and running frames stay live.
package hotreload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/funvibe/hotreload/internal/compiler"
	"github.com/funvibe/hotreload/internal/config"
	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/journal"
	"github.com/funvibe/hotreload/internal/metrics"
	"github.com/funvibe/hotreload/internal/program"
	"github.com/funvibe/hotreload/internal/reload"
	"github.com/funvibe/hotreload/internal/vm"
)

// ErrNoJournal is returned by History when the runtime records no journal.
var ErrNoJournal = errors.New("reload journal is not enabled")

type (
	Result      = reload.Result
	LibraryID   = reload.LibraryID
	LibraryInfo = reload.LibraryInfo
	Entry       = journal.Entry
	Object      = heap.Object
)

type options struct {
	logger     logr.Logger
	stdout     io.Writer
	heapLimit  int
	journal    string
	registry   prometheus.Registerer
	debuggable bool
}

type Option func(*options)

func WithLogger(l logr.Logger) Option { return func(o *options) { o.logger = l } }

func WithStdout(w io.Writer) Option { return func(o *options) { o.stdout = w } }

func WithHeapLimit(n int) Option { return func(o *options) { o.heapLimit = n } }

// WithJournal records every reload in the SQLite database at path.
func WithJournal(path string) Option { return func(o *options) { o.journal = path } }

// WithMetrics registers the reload and lazy initialisation collectors.
func WithMetrics(r prometheus.Registerer) Option { return func(o *options) { o.registry = r } }

func WithDebuggableDefault(b bool) Option { return func(o *options) { o.debuggable = b } }

// Runtime wraps a VM and its reload engine and provides a high-level
// embedding API. Calls into the program are serialised on one thread;
// reloads may come from any goroutine.
type Runtime struct {
	log        logr.Logger
	machine    *vm.VM
	engine     *reload.Engine
	marshaller *Marshaller
	journal    *journal.Journal

	mu     sync.Mutex
	thread *vm.Thread
}

// New creates a runtime with no program loaded.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	o := options{logger: logr.Discard(), stdout: io.Discard, debuggable: true}
	for _, opt := range opts {
		opt(&o)
	}

	vmOpts := []vm.Option{vm.WithLogger(o.logger), vm.WithStdout(o.stdout), vm.WithHeapLimit(o.heapLimit)}
	engineOpts := []reload.Option{reload.WithLogger(o.logger), reload.WithDebuggableDefault(o.debuggable)}
	if o.registry != nil {
		m := metrics.New()
		m.MustRegister(o.registry)
		vmOpts = append(vmOpts, vm.WithLazyInitHook(func(k vm.LazyKind) { m.ObserveLazyInit(string(k)) }))
		engineOpts = append(engineOpts, reload.WithMetrics(m))
	}

	r := &Runtime{log: o.logger, marshaller: NewMarshaller()}
	if o.journal != "" {
		j, err := journal.Open(ctx, o.journal)
		if err != nil {
			return nil, err
		}
		r.journal = j
		engineOpts = append(engineOpts, reload.WithJournal(j))
	}

	r.machine = vm.New(vmOpts...)
	r.engine = reload.New(r.machine, compiler.New(o.logger), engineOpts...)
	r.thread = r.machine.NewThread()
	return r, nil
}

// FromConfig creates a runtime as described by cfg and loads its sources.
// Metrics are registered with the default registerer when cfg enables
// them and no WithMetrics option is given.
func FromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	base := []Option{
		WithHeapLimit(cfg.HeapLimit),
		WithJournal(cfg.Journal),
		WithDebuggableDefault(cfg.Debuggable()),
	}
	if cfg.Metrics {
		base = append(base, WithMetrics(prometheus.DefaultRegisterer))
	}
	r, err := New(ctx, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	sources, err := compiler.LoadDir(cfg.Sources)
	if err == nil {
		err = r.Load(ctx, cfg.Root, sources)
	}
	if err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// Load compiles and installs the first program. root names the library
// holding the entry point.
func (r *Runtime) Load(ctx context.Context, root string, sources map[string][]byte) error {
	return r.engine.Load(ctx, root, sources)
}

// LoadImage installs the first program from a snapshot taken by Snapshot.
func (r *Runtime) LoadImage(ctx context.Context, data []byte) error {
	img, err := program.DeserializeImage(data)
	if err != nil {
		return err
	}
	return r.engine.Load(ctx, img.Root, img.Sources)
}

// Snapshot serializes the sources of the current program.
func (r *Runtime) Snapshot() ([]byte, error) {
	p := r.machine.Program()
	if p == nil {
		return nil, errors.New("no program loaded")
	}
	return program.Snapshot(p).Serialize()
}

// Invoke calls a top-level function of library. Arguments are converted
// with the runtime's Marshaller; the result is returned as a runtime value.
func (r *Runtime) Invoke(library, fn string, args ...any) (any, error) {
	vals := make([]any, len(args))
	for i, a := range args {
		v, err := r.marshaller.ToValue(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d conversion failed: %w", i, err)
		}
		vals[i] = v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.thread.Invoke(library, fn, vals...)
}

// InvokeAs calls a top-level function and converts its result to T.
func InvokeAs[T any](r *Runtime, library, fn string, args ...any) (T, error) {
	var zero T
	res, err := r.Invoke(library, fn, args...)
	if err != nil {
		return zero, err
	}
	v, err := r.marshaller.FromValue(res, reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

// Eval evaluates an expression in the top-level scope of library.
func (r *Runtime) Eval(library, src string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.thread.Eval(library, src)
}

// ReadField reads a field of an object returned by the program.
func (r *Runtime) ReadField(obj *Object, name string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.thread.ReadField(obj, name)
}

// Str renders v the way the program's str() does.
func (r *Runtime) Str(v any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.thread.Str(v)
}

// Reload replaces the program with one compiled from sources. A failed
// reload leaves the running program untouched; the returned result says
// which phase failed and why.
func (r *Runtime) Reload(ctx context.Context, sources map[string][]byte) Result {
	return r.engine.BeginReload(ctx, sources)
}

// ReloadDir reloads from the library documents in dir.
func (r *Runtime) ReloadDir(ctx context.Context, dir string) (Result, error) {
	sources, err := compiler.LoadDir(dir)
	if err != nil {
		return Result{}, err
	}
	return r.Reload(ctx, sources), nil
}

// Stage sets the sources the program's own reload() call picks up next.
func (r *Runtime) Stage(sources map[string][]byte) { r.engine.Stage(sources) }

// Libraries lists every library the runtime has seen.
func (r *Runtime) Libraries() []LibraryInfo { return r.engine.Libraries().List() }

// LibraryID returns the stable ID of a library URI.
func (r *Runtime) LibraryID(uri string) (LibraryID, bool) { return r.engine.Libraries().Lookup(uri) }

func (r *Runtime) IsLibraryDebuggable(id LibraryID) (bool, error) {
	return r.engine.IsLibraryDebuggable(id)
}

func (r *Runtime) SetLibraryDebuggable(id LibraryID, debuggable bool) error {
	return r.engine.SetLibraryDebuggable(id, debuggable)
}

// History returns up to limit journaled reloads, newest first.
func (r *Runtime) History(ctx context.Context, limit int) ([]Entry, error) {
	if r.journal == nil {
		return nil, ErrNoJournal
	}
	return r.journal.List(ctx, limit)
}

// HeapStats reports live objects and the heap limit.
func (r *Runtime) HeapStats() heap.Stats { return r.machine.Heap().Stats() }

// Close detaches the runtime's thread and closes the journal.
func (r *Runtime) Close() error {
	r.mu.Lock()
	r.thread.Close()
	r.mu.Unlock()
	if r.journal != nil {
		return r.journal.Close()
	}
	return nil
}
