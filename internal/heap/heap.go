package heap

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrOutOfMemory is returned when an allocation exceeds the heap limit.
var ErrOutOfMemory = errors.New("out of memory")

// Stats is a snapshot of heap occupancy.
type Stats struct {
	Objects int
	Used    int
	Limit   int
}

// Heap owns every object of a VM. Objects are indexed per class so that
// migration visits only the instances of classes that changed.
//
// Each object costs one header slot plus one slot per field against Limit.
type Heap struct {
	mu      sync.Mutex
	objects map[ClassID]map[uint64]*Object
	count   int
	used    int
	limit   int

	nextID atomic.Uint64
	sp     *Safepoint
}

// New creates a heap. A limit of zero means unlimited.
func New(limit int) *Heap {
	return &Heap{
		objects: map[ClassID]map[uint64]*Object{},
		limit:   limit,
		sp:      NewSafepoint(),
	}
}

func (h *Heap) Safepoint() *Safepoint { return h.sp }

// SetLimit changes the allocation budget.
func (h *Heap) SetLimit(limit int) {
	h.mu.Lock()
	h.limit = limit
	h.mu.Unlock()
}

func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Objects: h.count, Used: h.used, Limit: h.limit}
}

func cost(size int) int { return size + 1 }

func (h *Heap) charge(n int) error {
	if h.limit > 0 && h.used+n > h.limit {
		return fmt.Errorf("%w: %d slots requested, %d of %d in use", ErrOutOfMemory, n, h.used, h.limit)
	}
	h.used += n
	return nil
}

func (h *Heap) identity() (uint64, uint32) {
	id := h.nextID.Add(1)
	// splitmix64 finalizer, folded to a positive small int like a tagged hash
	x := id
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	hash := uint32(x) & 0x3fffffff
	if hash == 0 {
		hash = 1
	}
	return id, hash
}

// Allocate creates an instance of cls with every slot uninitialized.
func (h *Heap) Allocate(cls *Class) (*Object, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.charge(cost(cls.Size())); err != nil {
		return nil, err
	}
	id, hash := h.identity()
	o := &Object{id: id, hash: hash, class: cls, storage: newStorage(cls.Size())}
	h.index(o, cls.ID)
	h.count++
	return o, nil
}

// NewClosure creates a method reference with a fresh identity.
func (h *Heap) NewClosure(c Closure) *Closure {
	c.id, c.hash = h.identity()
	return &c
}

func (h *Heap) index(o *Object, id ClassID) {
	set := h.objects[id]
	if set == nil {
		set = map[uint64]*Object{}
		h.objects[id] = set
	}
	set[o.id] = o
}

func (h *Heap) unindex(o *Object, id ClassID) {
	if set := h.objects[id]; set != nil {
		delete(set, o.id)
		if len(set) == 0 {
			delete(h.objects, id)
		}
	}
}

// Reallocate gives o fresh, uninitialized storage sized for cls and points
// it at cls. The old storage is returned and stays charged until Release or
// Restore so that the change can be undone.
func (h *Heap) Reallocate(o *Object, cls *Class, size int) (*Storage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.charge(size); err != nil {
		return nil, err
	}
	o.mu.Lock()
	old, oldClass := o.storage, o.class
	o.class, o.storage = cls, newStorage(size)
	o.mu.Unlock()
	if oldClass.ID != cls.ID {
		h.unindex(o, oldClass.ID)
		h.index(o, cls.ID)
	}
	return old, nil
}

// Restore undoes a Reallocate.
func (h *Heap) Restore(o *Object, cls *Class, old *Storage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	o.mu.Lock()
	cur, curClass := o.storage, o.class
	o.class, o.storage = cls, old
	o.mu.Unlock()
	h.used -= cur.Len()
	if curClass.ID != cls.ID {
		h.unindex(o, curClass.ID)
		h.index(o, cls.ID)
	}
}

// Release returns storage detached by Reallocate to the budget.
func (h *Heap) Release(old *Storage) {
	h.mu.Lock()
	h.used -= old.Len()
	h.mu.Unlock()
}

// InstancesOf returns the live instances of a class ordered by allocation.
func (h *Heap) InstancesOf(id ClassID) []*Object {
	h.mu.Lock()
	set := h.objects[id]
	out := make([]*Object, 0, len(set))
	for _, o := range set {
		out = append(out, o)
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// CountInstances returns the number of live instances of a class.
func (h *Heap) CountInstances(id ClassID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.objects[id])
}

// ForEachLiveObject visits every object until fn returns false.
func (h *Heap) ForEachLiveObject(fn func(*Object) bool) {
	h.mu.Lock()
	var all []*Object
	for _, set := range h.objects {
		for _, o := range set {
			all = append(all, o)
		}
	}
	h.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].id < all[j].id })
	for _, o := range all {
		if !fn(o) {
			return
		}
	}
}

// Collect drops every object not reachable from roots and returns how many
// were freed. Values are traced through objects, closures, lists and maps.
func (h *Heap) Collect(roots []any) int {
	marked := map[uint64]bool{}
	var stack []any
	stack = append(stack, roots...)
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch x := v.(type) {
		case *Object:
			if marked[x.id] {
				continue
			}
			marked[x.id] = true
			_, slots := x.Fields()
			for _, s := range slots {
				stack = append(stack, s.Value)
			}
		case *Closure:
			if x.Receiver != nil {
				stack = append(stack, x.Receiver)
			}
		case []any:
			stack = append(stack, x...)
		case map[string]any:
			for _, e := range x {
				stack = append(stack, e)
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	freed := 0
	for id, set := range h.objects {
		for oid, o := range set {
			if marked[oid] {
				continue
			}
			delete(set, oid)
			h.used -= cost(o.storage.Len())
			h.count--
			freed++
		}
		if len(set) == 0 {
			delete(h.objects, id)
		}
	}
	return freed
}
