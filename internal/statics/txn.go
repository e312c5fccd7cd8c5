package statics

import (
	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/program"
)

// Decision says what a reload does with one binding.
type Decision int

const (
	// Retain keeps the current cell and its value.
	Retain Decision = iota
	// Register adds a binding new to the program; it starts uninitialized.
	Register
	// Reinitialize replaces the cell of a const binding whose initializer
	// changed. Compile-time constants are not program state.
	Reinitialize
)

func (d Decision) String() string {
	switch d {
	case Retain:
		return "retain"
	case Register:
		return "register"
	case Reinitialize:
		return "reinitialize"
	}
	return "?"
}

// Decide classifies a binding present in the new program. old is nil for a
// new binding. check is set when the declared type of a retained binding
// changed.
func Decide(old, new *program.Variable) (d Decision, check bool) {
	switch {
	case old == nil:
		return Register, false
	case old.Const && new.Const && exprSource(old.Init) != exprSource(new.Init):
		return Reinitialize, false
	default:
		return Retain, old.Type != new.Type
	}
}

func exprSource(e *program.Expr) string {
	if e == nil {
		return ""
	}
	return e.Source
}

type opKind int

const (
	opDeclare opKind = iota
	opRemove
)

type op struct {
	kind     opKind
	key      Key
	decl     *program.Variable
	decision Decision
	check    bool
}

// Txn stages the bindings of one reload. Lookups through the Store keep
// seeing the committed state until Commit.
type Txn struct {
	s      *Store
	ops    []op
	staged *PersistentMap
	done   bool
}

func (s *Store) Begin() *Txn {
	return &Txn{s: s, staged: s.root.Load()}
}

// Declare stages a binding of the new program.
func (x *Txn) Declare(key Key, decl *program.Variable, d Decision, check bool) {
	x.ops = append(x.ops, op{kind: opDeclare, key: key, decl: decl, decision: d, check: check})
	if d != Retain || x.staged.Get(key.String()) == nil {
		x.staged = x.staged.Put(key.String(), newCell(key, decl))
	}
}

// Remove stages the removal of a binding. Its value stays reachable through
// whatever still references it.
func (x *Txn) Remove(key Key) {
	x.ops = append(x.ops, op{kind: opRemove, key: key})
	x.staged = x.staged.Delete(key.String())
}

// Lookup returns the cell of a binding as the transaction sees it.
func (x *Txn) Lookup(key Key) *Cell { return x.staged.Get(key.String()) }

// Commit applies the staged operations on top of the committed store.
func (x *Txn) Commit() {
	if x.done {
		return
	}
	x.done = true

	s := x.s
	s.mu.Lock()
	defer s.mu.Unlock()
	root := s.root.Load()
	for _, o := range x.ops {
		k := o.key.String()
		if o.kind == opRemove {
			root = root.Delete(k)
			continue
		}
		cur := root.Get(k)
		if o.decision == Retain && cur != nil {
			cur.decl.Store(o.decl)
			if o.check {
				cur.Update(func(sl *heap.Slot) {
					if sl.State == heap.Initialized {
						sl.CheckOnRead = true
					}
				})
			}
			continue
		}
		root = root.Put(k, newCell(o.key, o.decl))
	}
	s.root.Store(root)
}

// Rollback drops the staged operations.
func (x *Txn) Rollback() {
	x.done = true
	x.ops = nil
	x.staged = nil
}
