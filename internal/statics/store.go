// Package statics keeps the values of top-level variables and class
// statics independently of the program version that declared them.
package statics

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/program"
)

// Key names a binding: a library URI or class key as owner, plus a name.
type Key struct {
	Owner string
	Name  string
}

// LibraryKey names a top-level variable.
func LibraryKey(uri, name string) Key { return Key{Owner: uri, Name: name} }

// ClassKey names a class static.
func ClassKey(c program.ClassKey, name string) Key { return Key{Owner: c.String(), Name: name} }

func (k Key) String() string { return k.Owner + "#" + k.Name }

// Cell holds the value of one binding. It survives reloads as long as the
// binding is retained.
type Cell struct {
	Key Key

	mu   sync.Mutex
	slot heap.Slot
	decl atomic.Pointer[program.Variable]
}

func newCell(key Key, decl *program.Variable) *Cell {
	c := &Cell{Key: key}
	c.decl.Store(decl)
	return c
}

// Decl returns the declaration currently backing the binding.
func (c *Cell) Decl() *program.Variable { return c.decl.Load() }

func (c *Cell) Slot() heap.Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot
}

// Update runs fn on the cell's slot under the cell lock.
func (c *Cell) Update(fn func(*heap.Slot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.slot)
}

// Set stores an initialized value.
func (c *Cell) Set(v any) {
	c.Update(func(s *heap.Slot) { *s = heap.Slot{Value: v, State: heap.Initialized} })
}

// Store is the static state of one VM.
type Store struct {
	root atomic.Pointer[PersistentMap]
	mu   sync.Mutex // serialises Register and Commit
}

func New() *Store {
	s := &Store{}
	s.root.Store(EmptyMap())
	return s
}

// Lookup returns the committed cell of a binding, or nil.
func (s *Store) Lookup(key Key) *Cell {
	return s.root.Load().Get(key.String())
}

// Register adds an uninitialized binding outside of a reload. It returns
// the existing cell when the binding is already known.
func (s *Store) Register(key Key, decl *program.Variable) *Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	root := s.root.Load()
	if c := root.Get(key.String()); c != nil {
		return c
	}
	c := newCell(key, decl)
	s.root.Store(root.Put(key.String(), c))
	return c
}

func (s *Store) Len() int { return s.root.Load().Len() }

// Cells returns every committed cell ordered by key.
func (s *Store) Cells() []*Cell {
	var out []*Cell
	s.root.Load().Range(func(_ string, c *Cell) bool {
		out = append(out, c)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Roots returns the initialized values of every binding.
func (s *Store) Roots() []any {
	var out []any
	for _, c := range s.Cells() {
		if sl := c.Slot(); sl.State == heap.Initialized {
			out = append(out, sl.Value)
		}
	}
	return out
}
