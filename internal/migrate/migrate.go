// Package migrate rewrites the live instances of classes whose layout
// changed. It must run with every mutator parked.
package migrate

import (
	"fmt"

	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/shape"
)

// Job moves the instances of Old to New following Plan. Old and New share
// a ClassID.
type Job struct {
	Plan *shape.Plan
	Old  *heap.Class
	New  *heap.Class
}

type record struct {
	obj     *heap.Object
	class   *heap.Class
	storage *heap.Storage
}

// Undo holds the storage detached from every migrated object until the
// reload either commits or rolls back.
type Undo struct {
	h       *heap.Heap
	records []record
	done    bool
}

// Objects is the number of migrated objects.
func (u *Undo) Objects() int { return len(u.records) }

// Discard releases the detached storage. Called on commit.
func (u *Undo) Discard() {
	if u == nil || u.done {
		return
	}
	u.done = true
	for _, r := range u.records {
		u.h.Release(r.storage)
	}
	u.records = nil
}

// Rollback puts every migrated object back on its old class and storage,
// newest first.
func (u *Undo) Rollback() {
	if u == nil || u.done {
		return
	}
	u.done = true
	for i := len(u.records) - 1; i >= 0; i-- {
		r := u.records[i]
		u.h.Restore(r.obj, r.class, r.storage)
	}
	u.records = nil
}

// Migrate visits the instances of each job's class through the heap's class
// index; objects of other classes are not looked at. An allocation failure
// restores every object already migrated and returns the error wrapping
// heap.ErrOutOfMemory.
func Migrate(h *heap.Heap, jobs []Job) (*Undo, error) {
	u := &Undo{h: h}
	for _, job := range jobs {
		if job.Old.ID != job.New.ID {
			u.Rollback()
			return nil, fmt.Errorf("migrating %s: class id changed from %d to %d", job.Plan.Key, job.Old.ID, job.New.ID)
		}
		for _, o := range h.InstancesOf(job.Old.ID) {
			if o.Class() != job.Old {
				// Allocated after the class was staged; already on the new layout.
				continue
			}
			if err := migrateObject(h, u, o, job); err != nil {
				u.Rollback()
				return nil, fmt.Errorf("migrating %s: %w", job.Plan.Key, err)
			}
		}
	}
	return u, nil
}

func migrateObject(h *heap.Heap, u *Undo, o *heap.Object, job Job) error {
	old, err := h.Reallocate(o, job.New, job.New.Size())
	if err != nil {
		return err
	}
	u.records = append(u.records, record{obj: o, class: job.Old, storage: old})
	for i, sp := range job.Plan.Slots {
		if sp.Action != shape.Copy {
			continue
		}
		s := old.Slot(sp.From)
		if sp.CheckOnRead && s.State == heap.Initialized {
			s.CheckOnRead = true
		}
		o.StoreAt(i, s)
	}
	return nil
}
