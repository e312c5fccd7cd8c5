// Package reload replaces the program of a running VM. A reload compiles
// the new sources, diffs them against the current program, validates and
// stages every change, and then either commits all of it inside one
// safepoint window or rolls all of it back.
package reload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/funvibe/hotreload/internal/compiler"
	"github.com/funvibe/hotreload/internal/diagnostics"
	"github.com/funvibe/hotreload/internal/differ"
	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/journal"
	"github.com/funvibe/hotreload/internal/pipeline"
	"github.com/funvibe/hotreload/internal/program"
	"github.com/funvibe/hotreload/internal/vm"
)

// Recorder persists reload attempts.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Observer measures reload attempts.
type Observer interface {
	ObserveReload(success bool, d time.Duration, objects int)
}

// Options configure an Engine.
type Options struct {
	Logger            logr.Logger
	Journal           Recorder
	Metrics           Observer
	DebuggableDefault bool
}

type Option func(*Options)

func WithLogger(l logr.Logger) Option { return func(o *Options) { o.Logger = l } }

func WithJournal(r Recorder) Option { return func(o *Options) { o.Journal = r } }

func WithMetrics(m Observer) Option { return func(o *Options) { o.Metrics = m } }

func WithDebuggableDefault(b bool) Option { return func(o *Options) { o.DebuggableDefault = b } }

// Stats describes what a reload did.
type Stats struct {
	Diff              differ.Stats
	ClassesMigrated   int
	ObjectsMigrated   int
	EnumValuesDeleted int
	FieldsRechecked   int
	CodeInvalidated   int
	FramesDeoptimized int
}

// Result is the outcome of one reload attempt.
type Result struct {
	TxnID   uuid.UUID
	Success bool
	// Phase is the phase the attempt ended in: Committing on success,
	// otherwise the phase that failed.
	Phase Phase
	// Err is nil on success. Rejections are *diagnostics.Diagnostic.
	Err      error
	Stats    Stats
	Duration time.Duration
}

// Diagnostic returns the rejection, or nil on success.
func (r Result) Diagnostic() *diagnostics.Diagnostic { return diagnostics.AsDiagnostic(r.Err) }

// Engine reloads the program of one VM. At most one reload runs at a time.
type Engine struct {
	log      logr.Logger
	opts     Options
	vm       *vm.VM
	compiler *compiler.Compiler
	libs     *Libraries

	mu    sync.Mutex
	phase atomic.Int32

	// Guarded by mu.
	lastReload time.Time

	stateMu  sync.Mutex
	modified compiler.ModifiedFunc
	sources  map[string][]byte
	pending  map[string][]byte
}

// New creates an engine for v and installs it as v's reload hook.
func New(v *vm.VM, c *compiler.Compiler, options ...Option) *Engine {
	opts := Options{Logger: logr.Discard(), DebuggableDefault: true}
	for _, opt := range options {
		opt(&opts)
	}
	e := &Engine{
		log:      opts.Logger.WithName("reload"),
		opts:     opts,
		vm:       v,
		compiler: c,
		libs:     newLibraries(opts.DebuggableDefault),
	}
	v.SetReloadHook(e.hook)
	return e
}

func (e *Engine) VM() *vm.VM { return e.vm }

// Phase returns the phase of the reload in progress, Idle when none is.
func (e *Engine) Phase() Phase { return Phase(e.phase.Load()) }

func (e *Engine) setPhase(p Phase) {
	old := Phase(e.phase.Swap(int32(p)))
	if old != p {
		e.log.V(1).Info("phase", "from", old.String(), "to", p.String())
	}
}

// Libraries returns the library registry.
func (e *Engine) Libraries() *Libraries { return e.libs }

func (e *Engine) IsLibraryDebuggable(id LibraryID) (bool, error) { return e.libs.IsDebuggable(id) }

func (e *Engine) SetLibraryDebuggable(id LibraryID, debuggable bool) error {
	return e.libs.SetDebuggable(id, debuggable)
}

// SetModifiedOracle installs the function deciding which libraries changed
// since the last reload. Without one, libraries are compared by source
// hash.
func (e *Engine) SetModifiedOracle(fn compiler.ModifiedFunc) {
	e.stateMu.Lock()
	e.modified = fn
	e.stateMu.Unlock()
}

// Stage sets the sources the next reload() call from running code loads.
func (e *Engine) Stage(sources map[string][]byte) {
	e.stateMu.Lock()
	e.pending = sources
	e.stateMu.Unlock()
}

// Load compiles sources and installs the result as the VM's first program.
func (e *Engine) Load(ctx context.Context, root string, sources map[string][]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.compiler.Compile(ctx, compiler.Request{Root: root, Sources: sources})
	if err != nil {
		return err
	}
	if err := e.vm.Load(p); err != nil {
		return err
	}
	e.setSources(sources)
	e.lastReload = p.CompiledAt
	e.libs.sync(p)
	return nil
}

// BeginReload compiles sources incrementally against the current program
// and reloads to the result.
func (e *Engine) BeginReload(ctx context.Context, sources map[string][]byte) Result {
	return e.run(ctx, nil, sources, nil)
}

// ReloadProgram reloads to an already compiled program.
func (e *Engine) ReloadProgram(ctx context.Context, p *program.Program) Result {
	return e.run(ctx, nil, nil, p)
}

func (e *Engine) setSources(sources map[string][]byte) {
	e.stateMu.Lock()
	e.sources = sources
	e.stateMu.Unlock()
}

// hook serves reload() calls from running code: it loads the staged
// sources, or the current ones when nothing is staged. The calling thread
// counts as parked while the reload holds the safepoint.
func (e *Engine) hook(t *vm.Thread) error {
	e.stateMu.Lock()
	sources := e.pending
	e.pending = nil
	if sources == nil {
		sources = e.sources
	}
	e.stateMu.Unlock()

	res := e.run(context.Background(), t.Mutator(), sources, nil)
	return res.Err
}

func (e *Engine) run(ctx context.Context, caller *heap.Mutator, sources map[string][]byte, p *program.Program) (res Result) {
	res.TxnID = uuid.New()
	log := e.log.WithValues("txn", res.TxnID.String())
	if !e.mu.TryLock() {
		res.Err = diagnostics.Busy()
		res.Phase = e.Phase()
		log.Info("reload rejected", "reason", res.Err.Error())
		return res
	}
	defer e.mu.Unlock()

	started := time.Now()
	defer func() {
		res.Duration = time.Since(started)
		e.setPhase(Idle)
		e.finish(ctx, log, res, started)
	}()

	e.setPhase(Diffing)
	res.Phase = Diffing
	old := e.vm.Program()
	if old == nil {
		res.Err = fmt.Errorf("reloading: no program is loaded")
		return res
	}

	newProg := p
	if newProg == nil {
		var err error
		newProg, err = e.compile(ctx, old, sources)
		if err != nil {
			res.Err = err
			return res
		}
	}

	d, err := differ.Diff(ctx, old, newProg)
	if err != nil {
		res.Err = err
		return res
	}

	x := newTransaction(log, e.vm, d)
	pipe := newPipeline().OnStage(func(name string) {
		res.Phase = stagePhases[name]
		e.setPhase(res.Phase)
	})
	err = e.vm.Heap().Safepoint().RunAtSafepoint(caller, func() error {
		if err := pipe.Run(ctx, x); err != nil {
			e.setPhase(RollingBack)
			x.rollback()
			return err
		}
		return nil
	})
	res.Stats = x.stats
	if err != nil {
		var se *pipeline.StageError
		if errors.As(err, &se) && errors.As(se.Err, new(*diagnostics.Diagnostic)) {
			err = se.Err
		}
		res.Err = err
		return res
	}

	if sources != nil {
		e.setSources(sources)
	}
	e.lastReload = newProg.CompiledAt
	e.libs.sync(newProg)
	res.Success = true
	return res
}

func (e *Engine) compile(ctx context.Context, old *program.Program, sources map[string][]byte) (*program.Program, error) {
	e.stateMu.Lock()
	modified := e.modified
	e.stateMu.Unlock()
	return e.compiler.Compile(ctx, compiler.Request{
		Root:    old.Root,
		Sources: sources,
		Options: compiler.Options{
			Incremental: true,
			Baseline:    old,
			Since:       e.lastReload,
			IsModified:  modified,
		},
	})
}

// finish logs, journals and measures an attempt.
func (e *Engine) finish(ctx context.Context, log logr.Logger, res Result, started time.Time) {
	if res.Success {
		log.Info("reload committed",
			"libraries", res.Stats.Diff.LibrariesAdded+res.Stats.Diff.LibrariesRemoved+res.Stats.Diff.LibrariesModified,
			"classes", res.Stats.ClassesMigrated,
			"objects", res.Stats.ObjectsMigrated,
			"duration", res.Duration)
	} else {
		log.Info("reload rolled back", "phase", res.Phase.String(), "error", res.Err.Error())
	}

	if e.opts.Metrics != nil {
		e.opts.Metrics.ObserveReload(res.Success, res.Duration, res.Stats.ObjectsMigrated)
	}
	if e.opts.Journal == nil {
		return
	}
	entry := journal.Entry{
		ID:               res.TxnID.String(),
		StartedAt:        started,
		FinishedAt:       started.Add(res.Duration),
		Success:          res.Success,
		Phase:            res.Phase.String(),
		LibrariesChanged: res.Stats.Diff.LibrariesAdded + res.Stats.Diff.LibrariesRemoved + res.Stats.Diff.LibrariesModified,
		ClassesMigrated:  res.Stats.ClassesMigrated,
		ObjectsMigrated:  res.Stats.ObjectsMigrated,
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	// A cancelled reload is still worth recording.
	if err := e.opts.Journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		log.Error(err, "recording reload")
	}
}
