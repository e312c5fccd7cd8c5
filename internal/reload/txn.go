package reload

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/funvibe/hotreload/internal/continuity"
	"github.com/funvibe/hotreload/internal/diagnostics"
	"github.com/funvibe/hotreload/internal/differ"
	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/identity"
	"github.com/funvibe/hotreload/internal/migrate"
	"github.com/funvibe/hotreload/internal/pipeline"
	"github.com/funvibe/hotreload/internal/program"
	"github.com/funvibe/hotreload/internal/shape"
	"github.com/funvibe/hotreload/internal/statics"
	"github.com/funvibe/hotreload/internal/subclass"
	"github.com/funvibe/hotreload/internal/vm"
)

const (
	stageValidate = "validate"
	stageStage    = "stage"
	stageCommit   = "commit"
)

var stagePhases = map[string]Phase{
	stageValidate: Validating,
	stageStage:    Staging,
	stageCommit:   Committing,
}

type rebinding struct {
	cls  *heap.Class
	decl *program.Class
}

// transaction carries one reload from validation to commit. Everything it
// stages is private to it until commit; rollback drops it.
type transaction struct {
	log  logr.Logger
	vm   *vm.VM
	diff *differ.Result

	plans   *shape.PlanSet
	ids     *identity.Txn
	statics *statics.Txn
	subs    *subclass.Txn
	undo    *migrate.Undo

	jobs    []migrate.Job
	rebind  []rebinding
	retired []*heap.Class
	// changed holds the IDs of classes whose layout changed or that left
	// the program; code that cached their slots is invalid.
	changed map[heap.ClassID]bool
	// reinit holds the keys of const bindings whose value is recomputed.
	reinit map[string]bool

	hierarchy bool
	stats     Stats
}

func newTransaction(log logr.Logger, v *vm.VM, d *differ.Result) *transaction {
	return &transaction{
		log:       log,
		vm:        v,
		diff:      d,
		changed:   map[heap.ClassID]bool{},
		reinit:    map[string]bool{},
		hierarchy: hierarchyChanged(d),
		stats:     Stats{Diff: d.Stats()},
	}
}

func newPipeline() *pipeline.Pipeline[*transaction] {
	return pipeline.New(
		pipeline.Stage(stageValidate, func(ctx context.Context, x *transaction) error { return x.validate(ctx) }),
		pipeline.Stage(stageStage, func(ctx context.Context, x *transaction) error { return x.stage(ctx) }),
		pipeline.Stage(stageCommit, func(ctx context.Context, x *transaction) error { return x.commit(ctx) }),
	)
}

// validate rejects illegal transitions and plans every layout change
// before anything is staged.
func (x *transaction) validate(ctx context.Context) error {
	if err := shape.Validate(x.diff, instanceOracle{vm: x.vm}); err != nil {
		return err
	}
	plans, err := shape.Build(x.diff)
	if err != nil {
		return err
	}
	x.plans = plans
	x.stats.ClassesMigrated = plans.Len()
	return nil
}

// stage builds the new class table, static bindings and subclass lists
// and migrates the heap. It must run at a safepoint.
func (x *transaction) stage(ctx context.Context) error {
	x.ids = x.vm.Identity().Begin()
	x.statics = x.vm.Statics().Begin()
	x.subs = x.vm.Subclasses().Begin()

	if err := x.stageClasses(); err != nil {
		return err
	}
	x.stageStatics()
	x.stageSubclasses()

	undo, err := migrate.Migrate(x.vm.Heap(), x.jobs)
	if err != nil {
		if errors.Is(err, heap.ErrOutOfMemory) {
			return diagnostics.Allocation(err)
		}
		return err
	}
	x.undo = undo
	x.stats.ObjectsMigrated = undo.Objects()
	x.log.V(1).Info("staged", "classes", len(x.ids.Defined()), "rebound", len(x.rebind), "objects", undo.Objects())
	return nil
}

func (x *transaction) stageClasses() error {
	table := x.vm.Identity()
	newProg := x.diff.New
	for _, cd := range x.diff.Classes() {
		switch cd.Change {
		case differ.Added:
			x.ids.Define(heap.NewClass(x.ids.NewID(), cd.New, newProg))

		case differ.Removed:
			if rc := table.Class(cd.Key); rc != nil {
				x.ids.Remove(cd.Key)
				x.retired = append(x.retired, rc)
				x.changed[rc.ID] = true
			}

		default:
			rc := table.Class(cd.Key)
			if rc == nil {
				return fmt.Errorf("class %s has no runtime class", cd.Key)
			}
			plan := x.plans.Lookup(cd.Key)
			if plan == nil {
				x.rebind = append(x.rebind, rebinding{cls: rc, decl: cd.New})
				continue
			}
			nc := heap.NewClass(rc.ID, cd.New, newProg)
			x.ids.Define(nc)
			x.jobs = append(x.jobs, migrate.Job{Plan: plan, Old: rc, New: nc})
			x.retired = append(x.retired, rc)
			x.changed[rc.ID] = true
			if len(table.Constants(rc.ID)) > 0 {
				x.ids.Rehash(rc.ID)
			}
		}
	}
	return nil
}

// stageStatics declares every binding of the new program and removes the
// ones that are gone. When the class hierarchy changed, retained bindings
// of class type are rechecked on their next read.
func (x *transaction) stageStatics() {
	oldProg, newProg := x.diff.Old, x.diff.New
	declare := func(key statics.Key, old, decl *program.Variable) {
		d, check := statics.Decide(old, decl)
		if d == statics.Retain && x.hierarchy && isClassType(newProg, decl.Type) {
			check = true
		}
		if d == statics.Reinitialize {
			x.reinit[key.String()] = true
		}
		x.statics.Declare(key, decl, d, check)
	}

	for _, l := range newProg.Libraries() {
		oldLib := oldProg.Library(l.URI)
		for _, v := range l.Variables {
			var old *program.Variable
			if oldLib != nil {
				old = oldLib.Variable(v.Name)
			}
			declare(statics.LibraryKey(l.URI, v.Name), old, v)
		}
		for _, c := range l.Classes {
			oldClass := oldProg.Class(c.Key())
			for _, s := range c.Statics {
				var old *program.Variable
				if oldClass != nil {
					old = oldClass.Static(s.Name)
				}
				declare(statics.ClassKey(c.Key(), s.Name), old, s)
			}
		}
	}

	for _, l := range oldProg.Libraries() {
		newLib := newProg.Library(l.URI)
		for _, v := range l.Variables {
			if newLib == nil || newLib.Variable(v.Name) == nil {
				x.statics.Remove(statics.LibraryKey(l.URI, v.Name))
			}
		}
		for _, c := range l.Classes {
			newClass := newProg.Class(c.Key())
			for _, s := range c.Statics {
				if newClass == nil || newClass.Static(s.Name) == nil {
					x.statics.Remove(statics.ClassKey(c.Key(), s.Name))
				}
			}
		}
	}
}

// stageSubclasses mirrors supertype edges of the new program into the
// registry. Classes keep their position in lists they stay in.
func (x *transaction) stageSubclasses() {
	table := x.vm.Identity()
	for _, cd := range x.diff.Classes() {
		switch cd.Change {
		case differ.Added:
			if cd.New.Super.IsZero() {
				continue
			}
			parent, child := x.ids.Class(cd.New.Super), x.ids.Class(cd.Key)
			if parent != nil && child != nil {
				x.subs.Add(parent.ID, child.ID)
			}

		case differ.Removed:
			if cd.Old.Super.IsZero() {
				continue
			}
			parent, child := table.Class(cd.Old.Super), table.Class(cd.Key)
			if parent != nil && child != nil {
				x.subs.Remove(parent.ID, child.ID)
			}

		case differ.Modified:
			if !cd.Kinds.Has(differ.SupertypeChanged) {
				continue
			}
			child := table.Class(cd.Key)
			if child == nil {
				continue
			}
			var from, to *heap.Class
			if !cd.Old.Super.IsZero() {
				from = table.Class(cd.Old.Super)
			}
			if !cd.New.Super.IsZero() {
				to = x.ids.Class(cd.New.Super)
			}
			switch {
			case from != nil && to != nil:
				x.subs.Move(child.ID, from.ID, to.ID)
			case from != nil:
				x.subs.Remove(from.ID, child.ID)
			case to != nil:
				x.subs.Add(to.ID, child.ID)
			}
		}
	}
}

// commit publishes everything staged. Nothing in it can fail.
func (x *transaction) commit(ctx context.Context) error {
	// Enum values are re-indexed against the committed table, so this
	// runs before the identity commit moves deleted members.
	for _, cd := range x.diff.Classes() {
		if cd.Change != differ.Modified || !cd.Kinds.Has(differ.EnumMembersChanged) {
			continue
		}
		if rc := x.ids.Class(cd.Key); rc != nil {
			x.stats.EnumValuesDeleted += x.vm.FixupEnums(rc, cd.New, x.ids)
		}
	}

	x.ids.Commit()
	x.statics.Commit()
	x.subs.Commit()
	x.undo.Discard()

	newProg := x.diff.New
	for _, r := range x.rebind {
		r.cls.Rebind(r.decl, newProg)
	}
	for _, c := range x.retired {
		c.Retire()
	}
	if x.hierarchy {
		x.stats.FieldsRechecked = x.recheckFields()
	}

	invalid := x.vm.Codes().Invalidate(func(c *continuity.Code) bool {
		for id := range x.changed {
			if c.AssumesShape(id) {
				return true
			}
		}
		for key := range x.reinit {
			if c.AssumesConst(key) {
				return true
			}
		}
		return false
	})
	x.stats.CodeInvalidated = len(invalid)
	x.vm.RetireCode(newProg)

	x.vm.Publish(newProg)
	x.vm.Epoch().Invalidate()
	x.stats.FramesDeoptimized = x.vm.Deoptimize()
	return nil
}

// rollback undoes whatever was staged. It must run at the safepoint the
// transaction ran in.
func (x *transaction) rollback() {
	x.undo.Rollback()
	if x.subs != nil {
		x.subs.Rollback()
	}
	if x.statics != nil {
		x.statics.Rollback()
	}
	if x.ids != nil {
		x.ids.Rollback()
	}
}

// recheckFields marks every initialized class-typed field of every live
// object for a checked read. A changed supertype can invalidate values
// that were stored under the old hierarchy.
func (x *transaction) recheckFields() int {
	newProg := x.diff.New
	n := 0
	x.vm.Heap().ForEachLiveObject(func(o *heap.Object) bool {
		layout, slots := o.Fields()
		for i, f := range layout {
			if slots[i].State != heap.Initialized || !isClassType(newProg, f.Type) {
				continue
			}
			if _, ok := slots[i].Value.(*heap.Object); !ok {
				continue
			}
			o.UpdateField(f.Name, func(s *heap.Slot) { s.CheckOnRead = true })
			n++
		}
		return true
	})
	return n
}

func hierarchyChanged(d *differ.Result) bool {
	for _, cd := range d.Classes() {
		if cd.Change == differ.Modified && (cd.Kinds.Has(differ.SupertypeChanged) || cd.Kinds.Has(differ.MixinsChanged)) {
			return true
		}
	}
	return false
}

// isClassType reports whether a declared type names a class of p.
func isClassType(p *program.Program, typ string) bool {
	name := program.BaseTypeName(typ)
	if name == "" {
		return false
	}
	for _, l := range p.Libraries() {
		if l.Class(name) != nil {
			return true
		}
	}
	return false
}
