// Package continuity keeps running frames on the code they started with
// while new calls pick up reloaded code. Code versions, call stacks and
// dispatch caches live here; the interpreter that runs them lives in vm.
package continuity

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/program"
)

// Code is one version of a function body, compiled for the program that
// declared it. A frame binds the Code it was called with until it returns.
//
// Code records what it specialised on: the class layouts behind its cached
// slot indices and the values of const statics it inlined. When one of
// those assumptions breaks, the code is invalidated and frames running it
// fall back to unspecialised lookups.
type Code struct {
	ID      uint64
	Decl    *program.Function
	Library string
	// Class is the declaring class, zero for top-level functions.
	Class   program.ClassKey
	Program *program.Program

	invalid atomic.Bool
	retired atomic.Bool

	mu     sync.Mutex
	shapes map[heap.ClassID]*heap.Class
	slots  map[slotKey]int
	consts map[string]any
}

type slotKey struct {
	class *heap.Class
	name  string
}

// Name is the qualified name of the function, e.g. "C.foo".
func (c *Code) Name() string {
	if c.Class.IsZero() {
		return c.Decl.Name
	}
	return c.Class.Name + "." + c.Decl.Name
}

// Valid reports whether the code's assumptions still hold.
func (c *Code) Valid() bool { return !c.invalid.Load() }

// Invalidate drops every specialisation of the code.
func (c *Code) Invalidate() {
	c.invalid.Store(true)
	c.mu.Lock()
	c.shapes, c.slots, c.consts = nil, nil, nil
	c.mu.Unlock()
}

// Retired reports whether the declaration was replaced by a reload. Frames
// already running retired code finish on it; new calls never get it.
func (c *Code) Retired() bool { return c.retired.Load() }

// Slot returns the slot of field name in instances of cls, caching the
// answer. Invalid code does not cache.
func (c *Code) Slot(cls *heap.Class, name string) int {
	if !c.Valid() {
		return cls.Slot(name)
	}
	k := slotKey{class: cls, name: name}
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, ok := c.slots[k]; ok {
		return i
	}
	i := cls.Slot(name)
	if c.slots == nil {
		c.slots = map[slotKey]int{}
		c.shapes = map[heap.ClassID]*heap.Class{}
	}
	c.slots[k] = i
	c.shapes[cls.ID] = cls
	return i
}

// InlineConst records the value of a const static the code read.
func (c *Code) InlineConst(key string, v any) {
	if !c.Valid() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consts == nil {
		c.consts = map[string]any{}
	}
	c.consts[key] = v
}

// Const returns an inlined const value.
func (c *Code) Const(key string) (any, bool) {
	if !c.Valid() {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.consts[key]
	return v, ok
}

// AssumesShape reports whether the code cached slots of class id.
func (c *Code) AssumesShape(id heap.ClassID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.shapes[id]
	return ok
}

// AssumesConst reports whether the code inlined the const static key.
func (c *Code) AssumesConst(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.consts[key]
	return ok
}

// Registry is the set of live code of a VM, one current version per
// declaration.
type Registry struct {
	mu     sync.Mutex
	nextID uint64
	byDecl map[*program.Function]*Code
}

func NewRegistry() *Registry {
	return &Registry{byDecl: map[*program.Function]*Code{}}
}

// Lookup returns the current code for decl, compiling a new version when
// there is none. Retired code is never returned.
func (r *Registry) Lookup(decl *program.Function, library string, class program.ClassKey, prog *program.Program) *Code {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byDecl[decl]; ok {
		return c
	}
	r.nextID++
	c := &Code{ID: r.nextID, Decl: decl, Library: library, Class: class, Program: prog}
	r.byDecl[decl] = c
	return c
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byDecl)
}

// Codes returns the current code versions ordered by ID.
func (r *Registry) Codes() []*Code {
	r.mu.Lock()
	out := make([]*Code, 0, len(r.byDecl))
	for _, c := range r.byDecl {
		out = append(out, c)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Invalidate marks every code matching pred invalid and returns it.
func (r *Registry) Invalidate(pred func(*Code) bool) []*Code {
	var out []*Code
	for _, c := range r.Codes() {
		if c.Valid() && pred(c) {
			c.Invalidate()
			out = append(out, c)
		}
	}
	return out
}

// Retire drops the code of every declaration not in live. Frames running
// it keep their reference.
func (r *Registry) Retire(live func(*program.Function) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for decl, c := range r.byDecl {
		if live(decl) {
			continue
		}
		c.retired.Store(true)
		delete(r.byDecl, decl)
		n++
	}
	return n
}
