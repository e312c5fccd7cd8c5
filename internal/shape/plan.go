package shape

import (
	"fmt"
	"strings"

	"github.com/funvibe/hotreload/internal/differ"
	"github.com/funvibe/hotreload/internal/program"
)

type Action int

const (
	// Copy carries the value of an old slot over.
	Copy Action = iota
	// LazyInit leaves the slot uninitialized; its initializer runs on first
	// read.
	LazyInit
)

func (a Action) String() string {
	switch a {
	case Copy:
		return "copy"
	case LazyInit:
		return "lazy"
	}
	return "?"
}

// SlotPlan says where one slot of the new layout gets its value.
type SlotPlan struct {
	Name   string
	Action Action
	// From is the old slot index for Copy, -1 otherwise.
	From int
	// CheckOnRead marks a copied value whose declared type changed. The
	// next read checks it against the new type.
	CheckOnRead bool
}

// Plan maps the old layout of one class onto its new layout. Fields are
// matched by name, never by position.
type Plan struct {
	Key     program.ClassKey
	Old     []program.ShapeField
	New     []program.ShapeField
	Slots   []SlotPlan
	Dropped []string
}

// Checked returns the names of copied fields that need a checked read.
func (p *Plan) Checked() []string {
	var out []string
	for _, s := range p.Slots {
		if s.CheckOnRead {
			out = append(out, s.Name)
		}
	}
	return out
}

// Added returns the names of fields left for lazy initialization.
func (p *Plan) Added() []string {
	var out []string
	for _, s := range p.Slots {
		if s.Action == LazyInit {
			out = append(out, s.Name)
		}
	}
	return out
}

func (p *Plan) String() string {
	var b strings.Builder
	b.WriteString(p.Key.String())
	b.WriteString(" {")
	for i, s := range p.Slots {
		if i > 0 {
			b.WriteString(", ")
		}
		switch s.Action {
		case Copy:
			fmt.Fprintf(&b, "%s<-%d", s.Name, s.From)
		default:
			fmt.Fprintf(&b, "%s:lazy", s.Name)
		}
		if s.CheckOnRead {
			b.WriteString("!")
		}
	}
	if len(p.Dropped) > 0 {
		fmt.Fprintf(&b, "; drop %s", strings.Join(p.Dropped, ","))
	}
	b.WriteString("}")
	return b.String()
}

// PlanSet holds the plans of every shape-changed class of one reload.
type PlanSet struct {
	plans []*Plan
	byKey map[program.ClassKey]*Plan
}

func (s *PlanSet) Plans() []*Plan { return s.plans }

func (s *PlanSet) Len() int { return len(s.plans) }

// Lookup returns the plan of a class or nil when its layout is unchanged.
func (s *PlanSet) Lookup(key program.ClassKey) *Plan { return s.byKey[key] }

// Build plans every class of r whose layout changed, subclasses that only
// inherit the change included. It runs before any object is touched.
func Build(r *differ.Result) (*PlanSet, error) {
	set := &PlanSet{byKey: map[program.ClassKey]*Plan{}}
	for _, cd := range r.ShapeChanged() {
		if cd.Old == nil || cd.New == nil {
			return nil, fmt.Errorf("planning %s: class missing from one program", cd.Key)
		}
		p := NewPlan(cd.Key, cd.OldShape, cd.NewShape)
		set.plans = append(set.plans, p)
		set.byKey[cd.Key] = p
	}
	return set, nil
}

// NewPlan builds the plan moving instances from the old to the new layout.
func NewPlan(key program.ClassKey, old, new []program.ShapeField) *Plan {
	oldIndex := make(map[string]int, len(old))
	for i, f := range old {
		oldIndex[f.Name] = i
	}
	p := &Plan{Key: key, Old: old, New: new, Slots: make([]SlotPlan, len(new))}
	kept := map[string]bool{}
	for i, f := range new {
		j, ok := oldIndex[f.Name]
		if !ok {
			p.Slots[i] = SlotPlan{Name: f.Name, Action: LazyInit, From: -1}
			continue
		}
		kept[f.Name] = true
		p.Slots[i] = SlotPlan{
			Name:        f.Name,
			Action:      Copy,
			From:        j,
			CheckOnRead: !sameType(old[j].Type, f.Type),
		}
	}
	for _, f := range old {
		if !kept[f.Name] {
			p.Dropped = append(p.Dropped, f.Name)
		}
	}
	return p
}

// sameType compares declared types, treating an empty type as dynamic.
func sameType(a, b string) bool {
	norm := func(s string) string {
		s = strings.TrimSpace(s)
		if s == "" {
			return "dynamic"
		}
		return s
	}
	return norm(a) == norm(b)
}
