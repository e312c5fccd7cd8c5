package statics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/program"
)

const lib = "file:///statics-test"

func variable(name, typ, init string, isConst bool) *program.Variable {
	v := &program.Variable{Name: name, Type: typ, Const: isConst, Final: isConst}
	if init != "" {
		v.Init = &program.Expr{Source: init}
	}
	return v
}

func TestPersistentMap(t *testing.T) {
	m := EmptyMap()
	cells := map[string]*Cell{}
	for i := 0; i < 2000; i++ {
		k := fmt.Sprintf("k%d", i)
		cells[k] = &Cell{Key: Key{Name: k}}
		m = m.Put(k, cells[k])
	}
	require.Equal(t, 2000, m.Len())
	for k, c := range cells {
		assert.Same(t, c, m.Get(k))
	}

	before := m
	for i := 0; i < 2000; i += 2 {
		m = m.Delete(fmt.Sprintf("k%d", i))
	}
	assert.Equal(t, 1000, m.Len())
	assert.Nil(t, m.Get("k0"))
	assert.NotNil(t, m.Get("k1"))
	// The old version is untouched.
	assert.Equal(t, 2000, before.Len())
	assert.NotNil(t, before.Get("k0"))

	assert.Same(t, m, m.Delete("missing"))

	n := 0
	m.Range(func(string, *Cell) bool { n++; return true })
	assert.Equal(t, 1000, n)
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		old, new *program.Variable
		want     Decision
		check    bool
	}{
		{"new binding", nil, variable("a", "", "1", false), Register, false},
		{"unchanged", variable("a", "int", "1", false), variable("a", "int", "1", false), Retain, false},
		{"initializer changed", variable("a", "int", "1", false), variable("a", "int", "2", false), Retain, false},
		{"type changed", variable("a", "int", "1", false), variable("a", "double", "1", false), Retain, true},
		{"const initializer changed", variable("a", "", "1", true), variable("a", "", "2", true), Reinitialize, false},
		{"const unchanged", variable("a", "", "1", true), variable("a", "", "1", true), Retain, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, check := Decide(tt.old, tt.new)
			assert.Equal(t, tt.want, d)
			assert.Equal(t, tt.check, check)
		})
	}
}

func TestTxnRetainsValues(t *testing.T) {
	s := New()
	counter := LibraryKey(lib, "counter")
	gone := LibraryKey(lib, "gone")
	limit := ClassKey(program.ClassKey{Library: lib, Name: "C"}, "limit")

	s.Register(counter, variable("counter", "int", "0", false)).Set(int64(5))
	s.Register(gone, variable("gone", "", "1", false)).Set(int64(1))
	s.Register(limit, variable("limit", "", "10", true)).Set(int64(10))
	cell := s.Lookup(counter)

	txn := s.Begin()
	newDecl := variable("counter", "double", "100", false)
	d, check := Decide(cell.Decl(), newDecl)
	txn.Declare(counter, newDecl, d, check)
	txn.Remove(gone)
	txn.Declare(limit, variable("limit", "", "20", true), Reinitialize, false)
	fresh := LibraryKey(lib, "fresh")
	txn.Declare(fresh, variable("fresh", "", "7", false), Register, false)

	// Nothing is visible before commit.
	assert.NotNil(t, s.Lookup(gone))
	assert.Nil(t, s.Lookup(fresh))
	assert.Nil(t, txn.Lookup(gone))
	assert.NotNil(t, txn.Lookup(fresh))
	assert.Same(t, cell, txn.Lookup(counter))

	txn.Commit()

	assert.Same(t, cell, s.Lookup(counter))
	assert.Same(t, newDecl, cell.Decl())
	sl := cell.Slot()
	assert.Equal(t, int64(5), sl.Value)
	assert.True(t, sl.CheckOnRead)

	assert.Nil(t, s.Lookup(gone))
	assert.Equal(t, heap.Uninitialized, s.Lookup(fresh).Slot().State)
	assert.Equal(t, heap.Uninitialized, s.Lookup(limit).Slot().State)
	assert.Equal(t, 3, s.Len())
}

func TestTxnRollback(t *testing.T) {
	s := New()
	k := LibraryKey(lib, "x")
	s.Register(k, variable("x", "", "1", false)).Set("kept")

	txn := s.Begin()
	txn.Remove(k)
	txn.Declare(LibraryKey(lib, "y"), variable("y", "", "2", false), Register, false)
	txn.Rollback()

	require.NotNil(t, s.Lookup(k))
	assert.Equal(t, "kept", s.Lookup(k).Slot().Value)
	assert.Nil(t, s.Lookup(LibraryKey(lib, "y")))
	assert.Equal(t, []any{"kept"}, s.Roots())
}

func TestRegisterIsIdempotent(t *testing.T) {
	s := New()
	k := LibraryKey(lib, "x")
	a := s.Register(k, variable("x", "", "1", false))
	b := s.Register(k, variable("x", "", "2", false))
	assert.Same(t, a, b)
	assert.Len(t, s.Cells(), 1)
}
