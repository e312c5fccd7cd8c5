package heap

import (
	"fmt"
	"sync"

	"github.com/funvibe/hotreload/internal/program"
)

// SlotState tracks lazy initialisation of one field of one object.
type SlotState uint8

const (
	Uninitialized SlotState = iota
	Initializing
	Initialized
)

func (s SlotState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Slot is the storage of one field.
type Slot struct {
	Value any
	State SlotState
	// Owner is the mutator running the initializer while Initializing.
	Owner uint64
	// CheckOnRead is set when the declared type of a retained field changed;
	// the next read type-checks the stored value.
	CheckOnRead bool
}

// Storage is the slot array of an object. Storage detached by Reallocate is
// never written again.
type Storage struct {
	slots []Slot
}

func newStorage(size int) *Storage { return &Storage{slots: make([]Slot, size)} }

func (s *Storage) Len() int { return len(s.slots) }

func (s *Storage) Slot(i int) Slot { return s.slots[i] }

// Object is a heap instance. Its identity and hash never change; its class
// and storage are replaced together when its class changes shape.
type Object struct {
	id   uint64
	hash uint32

	mu      sync.Mutex
	class   *Class
	storage *Storage
}

func (o *Object) ID() uint64 { return o.id }

// Hash is the identity hash.
func (o *Object) Hash() uint32 { return o.hash }

func (o *Object) Class() *Class {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.class
}

// Field returns the slot of a field by name.
func (o *Object) Field(name string) (Slot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	i := o.class.Slot(name)
	if i < 0 {
		return Slot{}, false
	}
	return o.storage.slots[i], true
}

// SetField stores an initialized value and clears any pending read check.
func (o *Object) SetField(name string, v any) bool {
	return o.UpdateField(name, func(s *Slot) {
		*s = Slot{Value: v, State: Initialized}
	})
}

// UpdateField runs fn on a field's slot under the object lock.
func (o *Object) UpdateField(name string, fn func(*Slot)) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	i := o.class.Slot(name)
	if i < 0 {
		return false
	}
	fn(&o.storage.slots[i])
	return true
}

// StoreAt writes slot i directly. Only the heap migrator uses it, while
// mutators are parked.
func (o *Object) StoreAt(i int, s Slot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.storage.slots[i] = s
}

// Fields returns a copy of the layout and slots, in layout order.
func (o *Object) Fields() ([]program.ShapeField, []Slot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	slots := make([]Slot, len(o.storage.slots))
	copy(slots, o.storage.slots)
	return o.class.Layout(), slots
}

func (o *Object) String() string {
	return fmt.Sprintf("Instance of '%s'", o.Class().Name())
}

// Closure is a method reference: a function or method bound, for instance
// methods, to its receiver.
type Closure struct {
	id   uint64
	hash uint32

	// Library declares the function, or the class when Class is set.
	Library  string
	Class    program.ClassKey
	Name     string
	Static   bool
	Receiver *Object
}

func (c *Closure) ID() uint64 { return c.id }

func (c *Closure) Hash() uint32 { return c.hash }

func (c *Closure) String() string {
	if c.Class.IsZero() {
		return fmt.Sprintf("Closure: %s", c.Name)
	}
	return fmt.Sprintf("Closure: %s.%s", c.Class.Name, c.Name)
}
