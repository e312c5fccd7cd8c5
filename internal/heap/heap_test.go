package heap

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funvibe/hotreload/internal/program"
)

const lib = "file:///heap-test"

func testProgram(fields ...string) (*program.Program, *program.Class) {
	c := &program.Class{Library: lib, Name: "Point", Super: program.ObjectKey}
	for _, f := range fields {
		c.Fields = append(c.Fields, &program.Field{Name: f, Type: "int"})
	}
	p := program.New(lib, []*program.Library{{URI: lib, Classes: []*program.Class{c}}})
	return p, c
}

func TestAllocateAndFields(t *testing.T) {
	p, decl := testProgram("x", "y")
	cls := NewClass(1, decl, p)
	h := New(0)

	o, err := h.Allocate(cls)
	require.NoError(t, err)
	assert.Equal(t, 2, cls.Size())
	assert.NotZero(t, o.Hash())

	s, ok := o.Field("x")
	require.True(t, ok)
	assert.Equal(t, Uninitialized, s.State)

	require.True(t, o.SetField("x", int64(3)))
	s, _ = o.Field("x")
	assert.Equal(t, Slot{Value: int64(3), State: Initialized}, s)

	assert.False(t, o.SetField("nope", 1))
	_, ok = o.Field("nope")
	assert.False(t, ok)

	assert.Equal(t, "Instance of 'Point'", o.String())
	assert.Equal(t, Stats{Objects: 1, Used: 3}, h.Stats())
}

func TestIdentityHashesAreDistinct(t *testing.T) {
	p, decl := testProgram()
	cls := NewClass(1, decl, p)
	h := New(0)
	seen := map[uint32]bool{}
	for i := 0; i < 1000; i++ {
		o, err := h.Allocate(cls)
		require.NoError(t, err)
		seen[o.Hash()] = true
	}
	assert.Greater(t, len(seen), 990)
}

func TestAllocationBudget(t *testing.T) {
	p, decl := testProgram("x", "y")
	cls := NewClass(1, decl, p)
	h := New(6)

	_, err := h.Allocate(cls)
	require.NoError(t, err)
	_, err = h.Allocate(cls)
	require.NoError(t, err)
	_, err = h.Allocate(cls)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfMemory))
}

func TestReallocateRestoreRelease(t *testing.T) {
	p1, d1 := testProgram("a", "b", "c")
	p2, d2 := testProgram("c")
	oldCls := NewClass(7, d1, p1)
	newCls := NewClass(7, d2, p2)
	h := New(0)

	o, err := h.Allocate(oldCls)
	require.NoError(t, err)
	o.SetField("c", int64(42))
	hash := o.Hash()

	old, err := h.Reallocate(o, newCls, newCls.Size())
	require.NoError(t, err)
	assert.Same(t, newCls, o.Class())
	assert.Equal(t, 3, old.Len())
	assert.Equal(t, int64(42), old.Slot(2).Value)
	assert.Equal(t, 4+1, h.Stats().Used)

	t.Run("restore", func(t *testing.T) {
		h.Restore(o, oldCls, old)
		assert.Same(t, oldCls, o.Class())
		s, _ := o.Field("c")
		assert.Equal(t, int64(42), s.Value)
		assert.Equal(t, 4, h.Stats().Used)
	})

	t.Run("release", func(t *testing.T) {
		old, err := h.Reallocate(o, newCls, newCls.Size())
		require.NoError(t, err)
		o.StoreAt(0, old.Slot(2))
		h.Release(old)
		assert.Equal(t, 2, h.Stats().Used)
		s, _ := o.Field("c")
		assert.Equal(t, int64(42), s.Value)
		assert.Equal(t, hash, o.Hash())
		assert.Len(t, h.InstancesOf(7), 1)
	})
}

func TestReallocateOutOfMemoryLeavesObject(t *testing.T) {
	p1, d1 := testProgram("a")
	p2, d2 := testProgram("a", "b", "c")
	oldCls := NewClass(1, d1, p1)
	newCls := NewClass(1, d2, p2)
	h := New(3)

	o, err := h.Allocate(oldCls)
	require.NoError(t, err)
	_, err = h.Reallocate(o, newCls, newCls.Size())
	require.ErrorIs(t, err, ErrOutOfMemory)
	assert.Same(t, oldCls, o.Class())
}

func TestInstanceIndexAndCollect(t *testing.T) {
	p, decl := testProgram("next")
	point := NewClass(1, decl, p)
	other := NewClass(2, decl, p)
	h := New(0)

	a, _ := h.Allocate(point)
	b, _ := h.Allocate(point)
	c, _ := h.Allocate(other)
	a.SetField("next", []any{b})
	assert.Equal(t, 2, h.CountInstances(1))
	assert.Equal(t, []*Object{a, b}, h.InstancesOf(1))

	var visited []*Object
	h.ForEachLiveObject(func(o *Object) bool {
		visited = append(visited, o)
		return true
	})
	assert.Equal(t, []*Object{a, b, c}, visited)

	clo := h.NewClosure(Closure{Name: "m", Class: point.Key, Receiver: a})
	freed := h.Collect([]any{map[string]any{"f": clo}})
	assert.Equal(t, 1, freed)
	assert.Equal(t, 0, h.CountInstances(2))
	assert.Equal(t, 2, h.Stats().Objects)
}

func TestClassRebindAndRetire(t *testing.T) {
	p1, d1 := testProgram("x")
	p2, d2 := testProgram("x")
	cls := NewClass(3, d1, p1)
	cls.Rebind(d2, p2)
	assert.Same(t, d2, cls.Decl())
	assert.Same(t, p2, cls.Program())
	assert.False(t, cls.Retired())
	cls.Retire()
	assert.True(t, cls.Retired())
	assert.True(t, SameLayout(cls.Layout(), p1.Shape(d1.Key())))
	assert.Equal(t, -1, cls.Slot("y"))
}

func TestRunAtSafepointWaitsForMutators(t *testing.T) {
	sp := NewSafepoint()
	m := sp.NewMutator()
	m.Enter()

	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sp.RunAtSafepoint(nil, func() error {
			record("safepoint")
			return nil
		})
	}()

	record("mutator")
	for waiting := true; waiting; {
		m.Poll()
		select {
		case <-done:
			waiting = false
		case <-time.After(time.Millisecond):
		}
	}
	m.Exit()

	assert.Equal(t, []string{"mutator", "safepoint"}, order)
}

func TestRunAtSafepointFromRunningCaller(t *testing.T) {
	sp := NewSafepoint()
	m := sp.NewMutator()
	m.Enter()
	m.Enter()
	ran := false
	err := sp.RunAtSafepoint(m, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.True(t, m.Running())
	m.Exit()
	m.Exit()
	assert.False(t, m.Running())

	sentinel := errors.New("boom")
	assert.ErrorIs(t, sp.RunAtSafepoint(nil, func() error { return sentinel }), sentinel)
}
