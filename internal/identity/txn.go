package identity

import (
	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/program"
)

// Txn stages class-table changes of one reload. Nothing is visible through
// the Table until Commit.
type Txn struct {
	t       *Table
	defined map[program.ClassKey]*heap.Class
	removed map[program.ClassKey]bool
	deleted []EnumKey
	rehash  map[heap.ClassID]bool
	done    bool
}

// Begin starts staging on top of the committed table.
func (t *Table) Begin() *Txn {
	return &Txn{
		t:       t,
		defined: map[program.ClassKey]*heap.Class{},
		removed: map[program.ClassKey]bool{},
		rehash:  map[heap.ClassID]bool{},
	}
}

// NewID allocates an ID for a class added by this reload. A rolled back
// transaction burns its IDs.
func (x *Txn) NewID() heap.ClassID { return x.t.NewID() }

// Class returns the class for key as this transaction sees it.
func (x *Txn) Class(key program.ClassKey) *heap.Class {
	if x.removed[key] {
		return nil
	}
	if c, ok := x.defined[key]; ok {
		return c
	}
	return x.t.Class(key)
}

// Define stages an added class or the replacement of a shape-changed one.
func (x *Txn) Define(cls *heap.Class) {
	delete(x.removed, cls.Key)
	x.defined[cls.Key] = cls
}

// Remove stages the removal of a class from the program.
func (x *Txn) Remove(key program.ClassKey) {
	delete(x.defined, key)
	x.removed[key] = true
}

// DeleteEnumMember stages the retirement of an enum member. Its value, if
// one was materialised, moves to the deleted list at commit.
func (x *Txn) DeleteEnumMember(id heap.ClassID, member string) {
	x.deleted = append(x.deleted, EnumKey{Class: id, Member: member})
}

// Rehash requests that constants of class id be re-keyed at commit.
func (x *Txn) Rehash(id heap.ClassID) { x.rehash[id] = true }

// Defined returns the staged classes.
func (x *Txn) Defined() map[program.ClassKey]*heap.Class { return x.defined }

// Commit publishes the staged changes.
func (x *Txn) Commit() {
	if x.done {
		return
	}
	x.done = true

	t := x.t
	t.mu.Lock()
	for key := range x.removed {
		delete(t.byKey, key)
	}
	for key, cls := range x.defined {
		t.byKey[key] = cls
		t.byID[cls.ID] = cls
	}
	for _, k := range x.deleted {
		if o, ok := t.enums[k]; ok {
			delete(t.enums, k)
			t.deleted[k.Class] = append(t.deleted[k.Class], o)
		}
	}
	t.mu.Unlock()

	if len(x.rehash) > 0 {
		t.Rehash(x.rehash)
	}
}

// Rollback drops the staged changes.
func (x *Txn) Rollback() {
	x.done = true
	x.defined = nil
	x.removed = nil
	x.deleted = nil
	x.rehash = nil
}
