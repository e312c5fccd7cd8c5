package heap

import (
	"sync"
	"sync/atomic"
)

// Safepoint coordinates mutators with operations that must see the heap at
// rest. A running mutator holds the read side; RunAtSafepoint takes the
// write side, so it starts only once every mutator has exited or polled.
type Safepoint struct {
	rw      sync.RWMutex
	pending atomic.Int32
	nextID  atomic.Uint64
}

func NewSafepoint() *Safepoint { return &Safepoint{} }

// Mutator is one thread of execution. Enter and Exit nest.
type Mutator struct {
	sp    *Safepoint
	id    uint64
	depth int
}

func (s *Safepoint) NewMutator() *Mutator {
	return &Mutator{sp: s, id: s.nextID.Add(1)}
}

func (m *Mutator) ID() uint64 { return m.id }

func (m *Mutator) Enter() {
	if m.depth == 0 {
		m.sp.rw.RLock()
	}
	m.depth++
}

func (m *Mutator) Exit() {
	m.depth--
	if m.depth == 0 {
		m.sp.rw.RUnlock()
	}
}

// Running reports whether the mutator is between Enter and Exit.
func (m *Mutator) Running() bool { return m.depth > 0 }

// Poll parks the mutator while a safepoint operation is pending.
func (m *Mutator) Poll() {
	if m.depth == 0 || m.sp.pending.Load() == 0 {
		return
	}
	m.sp.rw.RUnlock()
	m.sp.rw.RLock()
}

// RunAtSafepoint runs fn with every mutator parked. caller is the mutator
// requesting the operation, or nil; a running caller counts as parked for
// the duration of fn.
func (s *Safepoint) RunAtSafepoint(caller *Mutator, fn func() error) error {
	parked := caller != nil && caller.depth > 0
	if parked {
		s.rw.RUnlock()
	}
	s.pending.Add(1)
	s.rw.Lock()
	defer func() {
		s.rw.Unlock()
		s.pending.Add(-1)
		if parked {
			s.rw.RLock()
		}
	}()
	return fn()
}
