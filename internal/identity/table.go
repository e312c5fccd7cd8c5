// Package identity holds the canonicalisation maps shared by the VM and the
// reload engine: runtime classes by key, type identities, constants, enum
// values and tear-offs. Every entry keeps its identity across reloads.
package identity

import (
	"fmt"
	"strings"
	"sync"

	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/program"
)

// Type is the canonical identity of a class applied to type arguments.
type Type struct {
	Class heap.ClassID
	Key   program.ClassKey
	Args  []string
}

func (t *Type) String() string {
	if len(t.Args) == 0 {
		return t.Key.Name
	}
	return t.Key.Name + "<" + strings.Join(t.Args, ", ") + ">"
}

// EnumKey names one enum value.
type EnumKey struct {
	Class  heap.ClassID
	Member string
}

// TearOffKey names the declaration of a top-level function or static
// method. Bound instance-method closures are not canonicalised.
type TearOffKey struct {
	Owner string
	Name  string
}

// Table is the identity table of one VM.
type Table struct {
	mu sync.Mutex

	nextID  heap.ClassID
	byKey   map[program.ClassKey]*heap.Class
	byID    map[heap.ClassID]*heap.Class
	types   map[string]*Type
	consts  map[string]*heap.Object
	isConst map[uint64]string
	enums   map[EnumKey]*heap.Object
	deleted map[heap.ClassID][]*heap.Object
	tearOff map[TearOffKey]*heap.Closure
}

func New() *Table {
	return &Table{
		byKey:   map[program.ClassKey]*heap.Class{},
		byID:    map[heap.ClassID]*heap.Class{},
		types:   map[string]*Type{},
		consts:  map[string]*heap.Object{},
		isConst: map[uint64]string{},
		enums:   map[EnumKey]*heap.Object{},
		deleted: map[heap.ClassID][]*heap.Object{},
		tearOff: map[TearOffKey]*heap.Closure{},
	}
}

func (t *Table) allocID() heap.ClassID {
	t.nextID++
	return t.nextID
}

// NewID allocates a class ID outside of any transaction. IDs are never
// reused.
func (t *Table) NewID() heap.ClassID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allocID()
}

// Define installs a class directly. It is used to bootstrap the first
// program; later changes go through a Txn.
func (t *Table) Define(cls *heap.Class) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byKey[cls.Key] = cls
	t.byID[cls.ID] = cls
}

// Class returns the committed class for key, or nil.
func (t *Table) Class(key program.ClassKey) *heap.Class {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byKey[key]
}

// ClassByID returns the latest class object carrying id, including classes
// no longer present in the program.
func (t *Table) ClassByID(id heap.ClassID) *heap.Class {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byID[id]
}

// Classes returns every committed class of the current program.
func (t *Table) Classes() []*heap.Class {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*heap.Class, 0, len(t.byKey))
	for _, c := range t.byKey {
		out = append(out, c)
	}
	return out
}

// Type returns the canonical type identity of cls applied to args.
func (t *Table) Type(cls *heap.Class, args []string) *Type {
	k := fmt.Sprintf("%d<%s>", cls.ID, strings.Join(args, ","))
	t.mu.Lock()
	defer t.mu.Unlock()
	if ty, ok := t.types[k]; ok {
		return ty
	}
	ty := &Type{Class: cls.ID, Key: cls.Key, Args: append([]string(nil), args...)}
	t.types[k] = ty
	return ty
}

// Constant returns the canonical constant of class id with the given field
// values, calling create when none exists yet.
func (t *Table) Constant(id heap.ClassID, values []any, create func() (*heap.Object, error)) (*heap.Object, error) {
	k := ConstKey(id, values)
	t.mu.Lock()
	if o, ok := t.consts[k]; ok {
		t.mu.Unlock()
		return o, nil
	}
	t.mu.Unlock()

	o, err := create()
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.consts[k]; ok {
		return prev, nil
	}
	t.consts[k] = o
	t.isConst[o.ID()] = k
	return o, nil
}

// IsConstant reports whether o is a canonical constant.
func (t *Table) IsConstant(o *heap.Object) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.isConst[o.ID()]
	return ok
}

// Constants returns every canonical constant of a class.
func (t *Table) Constants(id heap.ClassID) []*heap.Object {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*heap.Object
	for _, o := range t.consts {
		if o.Class().ID == id {
			out = append(out, o)
		}
	}
	return out
}

// Rehash recomputes the keys of every constant of the given classes from
// their current field values. It runs after their instances migrated.
func (t *Table) Rehash(ids map[heap.ClassID]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, o := range t.consts {
		cls := o.Class()
		if !ids[cls.ID] {
			continue
		}
		_, slots := o.Fields()
		values := make([]any, len(slots))
		for i, s := range slots {
			values[i] = s.Value
		}
		nk := ConstKey(cls.ID, values)
		if nk == k {
			continue
		}
		delete(t.consts, k)
		if _, taken := t.consts[nk]; !taken {
			t.consts[nk] = o
		}
		t.isConst[o.ID()] = nk
	}
}

// EnumValue returns the value object of an enum member, calling create the
// first time it is requested.
func (t *Table) EnumValue(id heap.ClassID, member string, create func() (*heap.Object, error)) (*heap.Object, error) {
	key := EnumKey{Class: id, Member: member}
	t.mu.Lock()
	if o, ok := t.enums[key]; ok {
		t.mu.Unlock()
		return o, nil
	}
	t.mu.Unlock()

	o, err := create()
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.enums[key]; ok {
		return prev, nil
	}
	t.enums[key] = o
	return o, nil
}

// EnumValues returns the materialised values of an enum keyed by member.
func (t *Table) EnumValues(id heap.ClassID) map[string]*heap.Object {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := map[string]*heap.Object{}
	for k, o := range t.enums {
		if k.Class == id {
			out[k.Member] = o
		}
	}
	return out
}

// DeletedEnumValues returns the values whose member was removed from the
// enum. They stay reachable through references held by the program.
func (t *Table) DeletedEnumValues(id heap.ClassID) []*heap.Object {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*heap.Object(nil), t.deleted[id]...)
}

// TearOff returns the canonical method reference for key.
func (t *Table) TearOff(key TearOffKey, create func() *heap.Closure) *heap.Closure {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.tearOff[key]; ok {
		return c
	}
	c := create()
	t.tearOff[key] = c
	return c
}

// Roots returns every value the table keeps alive.
func (t *Table) Roots() []any {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []any
	for _, o := range t.consts {
		out = append(out, o)
	}
	for _, o := range t.enums {
		out = append(out, o)
	}
	for _, list := range t.deleted {
		for _, o := range list {
			out = append(out, o)
		}
	}
	for _, c := range t.tearOff {
		out = append(out, c)
	}
	return out
}
