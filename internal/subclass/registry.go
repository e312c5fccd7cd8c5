// Package subclass tracks the direct subclasses of every class.
package subclass

import (
	"sync"

	"github.com/funvibe/hotreload/internal/heap"
)

// Registry maps a class to its direct subclasses in registration order.
type Registry struct {
	mu   sync.RWMutex
	subs map[heap.ClassID][]heap.ClassID
}

func New() *Registry {
	return &Registry{subs: map[heap.ClassID][]heap.ClassID{}}
}

// Add registers child under parent outside of a reload. Duplicates are
// ignored.
func (r *Registry) Add(parent, child heap.ClassID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !contains(r.subs[parent], child) {
		r.subs[parent] = append(r.subs[parent], child)
	}
}

// Subclasses returns a copy of the direct subclasses of parent.
func (r *Registry) Subclasses(parent heap.ClassID) []heap.ClassID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]heap.ClassID(nil), r.subs[parent]...)
}

// Snapshot copies the whole registry.
func (r *Registry) Snapshot() map[heap.ClassID][]heap.ClassID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[heap.ClassID][]heap.ClassID, len(r.subs))
	for k, v := range r.subs {
		out[k] = append([]heap.ClassID(nil), v...)
	}
	return out
}

// Txn stages registry changes. Lists are copied on first write, so the
// committed registry is never touched before Commit.
type Txn struct {
	r       *Registry
	changed map[heap.ClassID][]heap.ClassID
	done    bool
}

func (r *Registry) Begin() *Txn {
	return &Txn{r: r, changed: map[heap.ClassID][]heap.ClassID{}}
}

func (x *Txn) list(parent heap.ClassID) []heap.ClassID {
	if l, ok := x.changed[parent]; ok {
		return l
	}
	l := x.r.Subclasses(parent)
	x.changed[parent] = l
	return l
}

// Subclasses returns the staged list of parent.
func (x *Txn) Subclasses(parent heap.ClassID) []heap.ClassID {
	return append([]heap.ClassID(nil), x.list(parent)...)
}

// Add stages child under parent.
func (x *Txn) Add(parent, child heap.ClassID) {
	l := x.list(parent)
	if !contains(l, child) {
		x.changed[parent] = append(l, child)
	}
}

// Remove stages the removal of child from parent, keeping the order of the
// remaining entries.
func (x *Txn) Remove(parent, child heap.ClassID) {
	l := x.list(parent)
	out := make([]heap.ClassID, 0, len(l))
	for _, c := range l {
		if c != child {
			out = append(out, c)
		}
	}
	x.changed[parent] = out
}

// Move stages a superclass change of child.
func (x *Txn) Move(child, from, to heap.ClassID) {
	if from == to {
		return
	}
	x.Remove(from, child)
	x.Add(to, child)
}

// Commit publishes every staged list.
func (x *Txn) Commit() {
	if x.done {
		return
	}
	x.done = true
	x.r.mu.Lock()
	defer x.r.mu.Unlock()
	for parent, l := range x.changed {
		if len(l) == 0 {
			delete(x.r.subs, parent)
			continue
		}
		x.r.subs[parent] = l
	}
}

// Rollback drops every staged list.
func (x *Txn) Rollback() {
	x.done = true
	x.changed = nil
}

func contains(list []heap.ClassID, id heap.ClassID) bool {
	for _, x := range list {
		if x == id {
			return true
		}
	}
	return false
}
