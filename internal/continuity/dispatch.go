package continuity

import (
	"sync/atomic"

	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/program"
)

// Epoch versions every dispatch cache of a VM. Bumping it flushes them all.
type Epoch struct {
	v atomic.Uint64
}

func (e *Epoch) Current() uint64 { return e.v.Load() }

// Invalidate starts a new epoch.
func (e *Epoch) Invalidate() uint64 { return e.v.Add(1) }

type TargetKind int

const (
	TargetFunction TargetKind = iota
	TargetMethod
	TargetStatic
	TargetConstructor
	TargetGetter
)

// Site identifies a call site and, for member calls, the receiver class.
type Site struct {
	Code     uint64
	Name     string
	Arity    int
	Receiver heap.ClassID
	// Unqualified is set for f(..) calls, whose meaning depends on the whole
	// lookup chain of the caller.
	Unqualified bool
}

// Target is the resolved callee of a site.
type Target struct {
	Kind    TargetKind
	Library string
	Class   program.ClassKey
	Decl    *program.Function
	Owner   *program.Class
}

// DispatchCache remembers resolved call sites of one thread. Entries are
// only trusted within the epoch they were stored in.
type DispatchCache struct {
	epoch   *Epoch
	seen    uint64
	entries map[Site]Target

	Hits, Misses, Flushes int
}

func NewDispatchCache(epoch *Epoch) *DispatchCache {
	return &DispatchCache{epoch: epoch, seen: epoch.Current(), entries: map[Site]Target{}}
}

func (d *DispatchCache) sync() {
	if cur := d.epoch.Current(); cur != d.seen {
		d.seen = cur
		if len(d.entries) > 0 {
			d.entries = map[Site]Target{}
		}
		d.Flushes++
	}
}

func (d *DispatchCache) Lookup(s Site) (Target, bool) {
	d.sync()
	t, ok := d.entries[s]
	if ok {
		d.Hits++
	} else {
		d.Misses++
	}
	return t, ok
}

func (d *DispatchCache) Store(s Site, t Target) {
	d.sync()
	d.entries[s] = t
}

func (d *DispatchCache) Len() int {
	d.sync()
	return len(d.entries)
}
