package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/program"
)

const lib = "file:///identity-test"

func fixture(fields ...string) (*program.Program, *program.Class) {
	c := &program.Class{Library: lib, Name: "Fruit", Const: true, Super: program.ObjectKey}
	for _, f := range fields {
		c.Fields = append(c.Fields, &program.Field{Name: f, Final: true})
	}
	return program.New(lib, []*program.Library{{URI: lib, Classes: []*program.Class{c}}}), c
}

func TestConstantsAreCanonical(t *testing.T) {
	p, decl := fixture("name")
	tab := New()
	cls := heap.NewClass(tab.NewID(), decl, p)
	tab.Define(cls)
	h := heap.New(0)

	constant := func(name string) *heap.Object {
		o, err := tab.Constant(cls.ID, []any{name}, func() (*heap.Object, error) {
			o, err := h.Allocate(cls)
			if err == nil {
				o.SetField("name", name)
			}
			return o, err
		})
		require.NoError(t, err)
		return o
	}

	pear := constant("Pear")
	assert.Same(t, pear, constant("Pear"))
	assert.NotSame(t, pear, constant("Apple"))
	assert.True(t, tab.IsConstant(pear))
	assert.Len(t, tab.Constants(cls.ID), 2)
}

func TestConstKeyDistinguishesValues(t *testing.T) {
	tests := []struct {
		name string
		a, b []any
		same bool
	}{
		{"equal ints", []any{int64(1)}, []any{int64(1)}, true},
		{"int vs double", []any{int64(1)}, []any{float64(1)}, false},
		{"string length prefix", []any{"a,b"}, []any{"a", "b"}, false},
		{"nested list", []any{[]any{int64(1), "x"}}, []any{[]any{int64(1), "x"}}, true},
		{"map order", []any{map[string]any{"a": 1, "b": 2}}, []any{map[string]any{"b": 2, "a": 1}}, true},
		{"null vs false", []any{nil}, []any{false}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.same, ConstKey(1, tt.a) == ConstKey(1, tt.b))
		})
	}
	assert.NotEqual(t, ConstKey(1, nil), ConstKey(2, nil))
}

func TestTypeIdentityIsStable(t *testing.T) {
	p, decl := fixture()
	tab := New()
	cls := heap.NewClass(tab.NewID(), decl, p)

	a := tab.Type(cls, []string{"int"})
	assert.Same(t, a, tab.Type(cls, []string{"int"}))
	assert.NotSame(t, a, tab.Type(cls, nil))
	assert.Equal(t, "Fruit<int>", a.String())

	// A shape change replaces the class object but keeps its ID.
	p2, decl2 := fixture("weight")
	replaced := heap.NewClass(cls.ID, decl2, p2)
	assert.Same(t, a, tab.Type(replaced, []string{"int"}))
}

func TestTxnCommitAndRollback(t *testing.T) {
	p, decl := fixture("name")
	tab := New()
	cls := heap.NewClass(tab.NewID(), decl, p)
	tab.Define(cls)

	t.Run("rollback leaves table untouched", func(t *testing.T) {
		txn := tab.Begin()
		p2, decl2 := fixture("name", "color")
		txn.Define(heap.NewClass(cls.ID, decl2, p2))
		assert.NotSame(t, cls, txn.Class(cls.Key))
		txn.Rollback()
		assert.Same(t, cls, tab.Class(cls.Key))
	})

	t.Run("remove", func(t *testing.T) {
		txn := tab.Begin()
		txn.Remove(cls.Key)
		assert.Nil(t, txn.Class(cls.Key))
		assert.Same(t, cls, tab.Class(cls.Key))
		txn.Commit()
		assert.Nil(t, tab.Class(cls.Key))
		assert.Same(t, cls, tab.ClassByID(cls.ID))
	})

	t.Run("ids are never reused", func(t *testing.T) {
		txn := tab.Begin()
		id := txn.NewID()
		txn.Rollback()
		assert.Greater(t, tab.NewID(), id)
	})
}

func TestEnumValuesAndDeletion(t *testing.T) {
	p, decl := fixture()
	tab := New()
	cls := heap.NewClass(tab.NewID(), decl, p)
	h := heap.New(0)

	calls := 0
	create := func() (*heap.Object, error) {
		calls++
		return h.Allocate(cls)
	}
	apple, err := tab.EnumValue(cls.ID, "Apple", create)
	require.NoError(t, err)
	again, err := tab.EnumValue(cls.ID, "Apple", create)
	require.NoError(t, err)
	assert.Same(t, apple, again)
	assert.Equal(t, 1, calls)

	txn := tab.Begin()
	txn.DeleteEnumMember(cls.ID, "Apple")
	txn.Commit()
	assert.Empty(t, tab.EnumValues(cls.ID))
	assert.Equal(t, []*heap.Object{apple}, tab.DeletedEnumValues(cls.ID))
	assert.Contains(t, tab.Roots(), any(apple))
}

func TestRehashAfterMigration(t *testing.T) {
	p, decl := fixture("a", "b")
	tab := New()
	cls := heap.NewClass(tab.NewID(), decl, p)
	tab.Define(cls)
	h := heap.New(0)

	o, err := tab.Constant(cls.ID, []any{int64(1), int64(2)}, func() (*heap.Object, error) {
		o, err := h.Allocate(cls)
		if err == nil {
			o.SetField("a", int64(1))
			o.SetField("b", int64(2))
		}
		return o, err
	})
	require.NoError(t, err)

	// Field b is dropped from the class.
	p2, decl2 := fixture("a")
	next := heap.NewClass(cls.ID, decl2, p2)
	old, err := h.Reallocate(o, next, next.Size())
	require.NoError(t, err)
	o.StoreAt(0, old.Slot(0))
	h.Release(old)

	txn := tab.Begin()
	txn.Define(next)
	txn.Rehash(cls.ID)
	txn.Commit()

	got, err := tab.Constant(cls.ID, []any{int64(1)}, func() (*heap.Object, error) {
		t.Fatal("constant should already exist")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Same(t, o, got)
}

func TestTearOffsAreCanonical(t *testing.T) {
	tab := New()
	h := heap.New(0)
	key := TearOffKey{Owner: lib, Name: "f"}
	a := tab.TearOff(key, func() *heap.Closure { return h.NewClosure(heap.Closure{Library: lib, Name: "f"}) })
	b := tab.TearOff(key, func() *heap.Closure { return h.NewClosure(heap.Closure{Library: lib, Name: "f"}) })
	assert.Same(t, a, b)
	assert.Equal(t, a.Hash(), b.Hash())
}
