package heap

import (
	"sync/atomic"

	"github.com/funvibe/hotreload/internal/program"
)

// ClassID identifies a class for the lifetime of a VM. It survives reloads
// and is never reused.
type ClassID uint32

// Class is the runtime side of a class: the slot layout its instances carry
// and the declaration currently backing it. A shape change produces a new
// Class with the same ID; a body-only change rebinds the declaration.
type Class struct {
	ID  ClassID
	Key program.ClassKey

	layout []program.ShapeField
	index  map[string]int

	binding atomic.Pointer[binding]
	retired atomic.Bool
}

type binding struct {
	decl *program.Class
	prog *program.Program
}

// NewClass builds a runtime class for decl as declared in prog.
func NewClass(id ClassID, decl *program.Class, prog *program.Program) *Class {
	layout := prog.Shape(decl.Key())
	c := &Class{
		ID:     id,
		Key:    decl.Key(),
		layout: layout,
		index:  make(map[string]int, len(layout)),
	}
	for i, f := range layout {
		c.index[f.Name] = i
	}
	c.binding.Store(&binding{decl: decl, prog: prog})
	return c
}

func (c *Class) Name() string { return c.Key.Name }

// Decl returns the declaration currently backing the class. After the class
// is removed from the program it keeps its last declaration.
func (c *Class) Decl() *program.Class { return c.binding.Load().decl }

// Program returns the program Decl belongs to.
func (c *Class) Program() *program.Program { return c.binding.Load().prog }

// Rebind swaps the declaration without touching the layout.
func (c *Class) Rebind(decl *program.Class, prog *program.Program) {
	c.binding.Store(&binding{decl: decl, prog: prog})
}

// Retire marks a class that a reload replaced or removed. Objects of a
// replaced class are migrated off it before commit. Objects of a removed
// class keep it and stay readable, but the class table no longer holds it.
func (c *Class) Retire() { c.retired.Store(true) }

func (c *Class) Retired() bool { return c.retired.Load() }

// Size is the number of slots an instance carries.
func (c *Class) Size() int { return len(c.layout) }

func (c *Class) Layout() []program.ShapeField { return c.layout }

// Slot returns the slot index of a field or -1.
func (c *Class) Slot(name string) int {
	if i, ok := c.index[name]; ok {
		return i
	}
	return -1
}

// Field returns the layout entry of a field.
func (c *Class) Field(name string) (program.ShapeField, bool) {
	i := c.Slot(name)
	if i < 0 {
		return program.ShapeField{}, false
	}
	return c.layout[i], true
}

// SameLayout reports whether two layouts carry the same fields, by name and
// declared type, in the same order.
func SameLayout(a, b []program.ShapeField) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Type != b[i].Type {
			return false
		}
	}
	return true
}
