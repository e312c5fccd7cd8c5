// Package differ compares two programs structurally. The result is a pure
// value; nothing in either program is touched.
package differ

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/funvibe/hotreload/internal/program"
)

// Entry is the diff of one named member.
type Entry struct {
	Name   string
	Change Change
	// Detail describes a modification, e.g. "type int -> double".
	Detail string
}

// ClassDiff is the diff of one class.
type ClassDiff struct {
	Key    program.ClassKey
	Change Change
	Kinds  ClassChange
	Old    *program.Class
	New    *program.Class

	// OldShape and NewShape are the flattened layouts in each program.
	OldShape []program.ShapeField
	NewShape []program.ShapeField

	Fields      []Entry
	Methods     []Entry
	Statics     []Entry
	EnumMembers []Entry
}

// LibraryDiff is the diff of one library.
type LibraryDiff struct {
	URI    string
	Change Change
	Old    *program.Library
	New    *program.Library

	Classes   []*ClassDiff
	Functions []Entry
	Variables []Entry
	Typedefs  []Entry
	Imports   []Entry
	// Transitions lists names that changed kind, e.g. a typedef that became
	// a class.
	Transitions []Entry
}

// Result is the diff of two programs.
type Result struct {
	Old       *program.Program
	New       *program.Program
	Libraries []*LibraryDiff

	classes map[program.ClassKey]*ClassDiff
	libs    map[string]*LibraryDiff
}

// Stats summarises a diff.
type Stats struct {
	LibrariesAdded    int
	LibrariesRemoved  int
	LibrariesModified int
	ClassesAdded      int
	ClassesRemoved    int
	ClassesModified   int
	ShapesChanged     int
}

// Diff compares old and new. Libraries are compared concurrently.
func Diff(ctx context.Context, old, new *program.Program) (*Result, error) {
	uris := map[string]bool{}
	for _, l := range old.Libraries() {
		uris[l.URI] = true
	}
	for _, l := range new.Libraries() {
		uris[l.URI] = true
	}
	ordered := make([]string, 0, len(uris))
	for uri := range uris {
		ordered = append(ordered, uri)
	}
	sort.Strings(ordered)

	out := make([]*LibraryDiff, len(ordered))
	g, gctx := errgroup.WithContext(ctx)
	for i, uri := range ordered {
		i, uri := i, uri
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = diffLibrary(old, new, uri)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("diffing programs: %w", err)
	}

	r := &Result{
		Old:       old,
		New:       new,
		Libraries: out,
		classes:   map[program.ClassKey]*ClassDiff{},
		libs:      map[string]*LibraryDiff{},
	}
	for _, ld := range out {
		r.libs[ld.URI] = ld
		for _, cd := range ld.Classes {
			r.classes[cd.Key] = cd
		}
	}
	return r, nil
}

// Library returns the diff of one library, or nil.
func (r *Result) Library(uri string) *LibraryDiff { return r.libs[uri] }

// Class returns the diff of one class, or nil.
func (r *Result) Class(key program.ClassKey) *ClassDiff { return r.classes[key] }

// Classes returns every class diff in library then declaration order.
func (r *Result) Classes() []*ClassDiff {
	var out []*ClassDiff
	for _, ld := range r.Libraries {
		out = append(out, ld.Classes...)
	}
	return out
}

// ShapeChanged returns the classes present in both programs whose layout
// changed, including subclasses that only inherit the change.
func (r *Result) ShapeChanged() []*ClassDiff {
	var out []*ClassDiff
	for _, cd := range r.Classes() {
		if cd.Change == Modified && cd.Kinds.Has(ShapeChanged) {
			out = append(out, cd)
		}
	}
	return out
}

// Changed reports whether anything differs.
func (r *Result) Changed() bool {
	for _, ld := range r.Libraries {
		if ld.Change != Unchanged {
			return true
		}
	}
	return false
}

func (r *Result) Stats() Stats {
	var s Stats
	for _, ld := range r.Libraries {
		switch ld.Change {
		case Added:
			s.LibrariesAdded++
		case Removed:
			s.LibrariesRemoved++
		case Modified:
			s.LibrariesModified++
		}
		for _, cd := range ld.Classes {
			switch cd.Change {
			case Added:
				s.ClassesAdded++
			case Removed:
				s.ClassesRemoved++
			case Modified:
				s.ClassesModified++
				if cd.Kinds.Has(ShapeChanged) {
					s.ShapesChanged++
				}
			}
		}
	}
	return s
}

func diffLibrary(oldProg, newProg *program.Program, uri string) *LibraryDiff {
	old, new := oldProg.Library(uri), newProg.Library(uri)
	ld := &LibraryDiff{URI: uri, Old: old, New: new}
	switch {
	case old == nil:
		ld.Change = Added
		for _, c := range new.Classes {
			ld.Classes = append(ld.Classes, &ClassDiff{Key: c.Key(), Change: Added, New: c, NewShape: newProg.Shape(c.Key())})
		}
		return ld
	case new == nil:
		ld.Change = Removed
		for _, c := range old.Classes {
			ld.Classes = append(ld.Classes, &ClassDiff{Key: c.Key(), Change: Removed, Old: c, OldShape: oldProg.Shape(c.Key())})
		}
		return ld
	}

	for _, name := range unionNames(classNames(old), classNames(new)) {
		cd := diffClass(oldProg, newProg, old.Class(name), new.Class(name))
		ld.Classes = append(ld.Classes, cd)
	}

	ld.Functions = diffEntries(functionMap(old.Functions), functionMap(new.Functions))
	ld.Variables = diffEntries(variableMap(old.Variables), variableMap(new.Variables))
	ld.Typedefs = diffEntries(typedefMap(old.Typedefs), typedefMap(new.Typedefs))
	ld.Imports = diffEntries(importMap(old.Imports, "import"), importMap(new.Imports, "import"))
	ld.Imports = append(ld.Imports, diffEntries(importMap(old.Exports, "export"), importMap(new.Exports, "export"))...)
	ld.Transitions = transitions(old, new)

	ld.Change = Unchanged
	for _, cd := range ld.Classes {
		if cd.Change != Unchanged {
			ld.Change = Modified
		}
	}
	for _, list := range [][]Entry{ld.Functions, ld.Variables, ld.Typedefs, ld.Imports, ld.Transitions} {
		for _, e := range list {
			if e.Change != Unchanged {
				ld.Change = Modified
			}
		}
	}
	return ld
}

func diffClass(oldProg, newProg *program.Program, old, new *program.Class) *ClassDiff {
	switch {
	case old == nil:
		return &ClassDiff{Key: new.Key(), Change: Added, New: new, NewShape: newProg.Shape(new.Key())}
	case new == nil:
		return &ClassDiff{Key: old.Key(), Change: Removed, Old: old, OldShape: oldProg.Shape(old.Key())}
	}

	cd := &ClassDiff{
		Key:      new.Key(),
		Old:      old,
		New:      new,
		OldShape: oldProg.Shape(old.Key()),
		NewShape: newProg.Shape(new.Key()),
	}

	cd.Fields = diffShape(cd.OldShape, cd.NewShape)
	if !sameShape(cd.OldShape, cd.NewShape) {
		cd.Kinds |= ShapeChanged
	}
	for _, f := range cd.Fields {
		if f.Change == Modified {
			cd.Kinds |= FieldTypeChanged
		}
	}

	if old.Super != new.Super {
		cd.Kinds |= SupertypeChanged
	}
	if !equalKeys(old.Mixins, new.Mixins) {
		cd.Kinds |= MixinsChanged
	}
	cd.Kinds |= flagTransition(old.Abstract, new.Abstract, BecameAbstract, CeasedAbstract)
	cd.Kinds |= flagTransition(old.IsEnum, new.IsEnum, BecameEnum, CeasedEnum)
	cd.Kinds |= flagTransition(old.Const, new.Const, BecameConst, CeasedConst)
	if len(old.TypeParams) != len(new.TypeParams) {
		cd.Kinds |= TypeParamsChanged
	}
	if !equalStrings(oldProg.TypeArgLayout(old.Key()), newProg.TypeArgLayout(new.Key())) ||
		superArgs(old) != superArgs(new) {
		cd.Kinds |= TypeArgsChanged
	}

	cd.EnumMembers = diffEnumMembers(old.EnumMembers, new.EnumMembers)
	for _, e := range cd.EnumMembers {
		if e.Change != Unchanged {
			cd.Kinds |= EnumMembersChanged
			break
		}
	}

	cd.Methods = diffEntries(functionMap(old.Methods), functionMap(new.Methods))
	if anyChanged(cd.Methods) {
		cd.Kinds |= MethodsChanged
	}
	cd.Statics = diffEntries(variableMap(old.Statics), variableMap(new.Statics))
	if anyChanged(cd.Statics) {
		cd.Kinds |= StaticsChanged
	}
	if !equalStrings(old.Constructor, new.Constructor) {
		cd.Kinds |= ConstructorChanged
	}
	if !sameFieldInits(old, new) {
		cd.Kinds |= ConstructorChanged
	}

	if cd.Kinds != 0 {
		cd.Change = Modified
	}
	return cd
}

// diffShape compares flattened layouts by field name. A field whose
// declared type changed is Modified.
func diffShape(old, new []program.ShapeField) []Entry {
	oldByName := map[string]program.ShapeField{}
	for _, f := range old {
		oldByName[f.Name] = f
	}
	newByName := map[string]program.ShapeField{}
	var out []Entry
	for _, f := range new {
		newByName[f.Name] = f
		o, ok := oldByName[f.Name]
		switch {
		case !ok:
			out = append(out, Entry{Name: f.Name, Change: Added})
		case o.Type != f.Type:
			out = append(out, Entry{Name: f.Name, Change: Modified, Detail: fmt.Sprintf("type %s -> %s", typeName(o.Type), typeName(f.Type))})
		default:
			out = append(out, Entry{Name: f.Name, Change: Unchanged})
		}
	}
	for _, f := range old {
		if _, ok := newByName[f.Name]; !ok {
			out = append(out, Entry{Name: f.Name, Change: Removed})
		}
	}
	return out
}

func sameShape(a, b []program.ShapeField) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Type != b[i].Type {
			return false
		}
	}
	return true
}

// sameFieldInits reports whether the own fields of two class versions have
// the same initializers and modifiers.
func sameFieldInits(old, new *program.Class) bool {
	if len(old.Fields) != len(new.Fields) {
		return false
	}
	for i, f := range old.Fields {
		g := new.Fields[i]
		if f.Name != g.Name || f.Final != g.Final || f.Late != g.Late || exprSource(f.Init) != exprSource(g.Init) {
			return false
		}
	}
	return true
}

func diffEnumMembers(old, new []string) []Entry {
	oldIndex := map[string]int{}
	for i, m := range old {
		oldIndex[m] = i
	}
	newSet := map[string]bool{}
	var out []Entry
	for i, m := range new {
		newSet[m] = true
		j, ok := oldIndex[m]
		switch {
		case !ok:
			out = append(out, Entry{Name: m, Change: Added})
		case i != j:
			out = append(out, Entry{Name: m, Change: Modified, Detail: fmt.Sprintf("index %d -> %d", j, i)})
		default:
			out = append(out, Entry{Name: m, Change: Unchanged})
		}
	}
	for _, m := range old {
		if !newSet[m] {
			out = append(out, Entry{Name: m, Change: Removed})
		}
	}
	return out
}

// diffEntries compares two name -> fingerprint maps.
func diffEntries(old, new map[string]string) []Entry {
	var out []Entry
	for _, name := range unionNames(keys(old), keys(new)) {
		o, inOld := old[name]
		n, inNew := new[name]
		switch {
		case !inOld:
			out = append(out, Entry{Name: name, Change: Added})
		case !inNew:
			out = append(out, Entry{Name: name, Change: Removed})
		case o != n:
			out = append(out, Entry{Name: name, Change: Modified})
		default:
			out = append(out, Entry{Name: name, Change: Unchanged})
		}
	}
	return out
}

// transitions reports top-level names whose kind changed.
func transitions(old, new *program.Library) []Entry {
	oldKinds, newKinds := declKinds(old), declKinds(new)
	var out []Entry
	for _, name := range unionNames(keys(oldKinds), keys(newKinds)) {
		o, n := oldKinds[name], newKinds[name]
		if o != "" && n != "" && o != n {
			out = append(out, Entry{Name: name, Change: Modified, Detail: o + " -> " + n})
		}
	}
	return out
}

func declKinds(l *program.Library) map[string]string {
	out := map[string]string{}
	for _, td := range l.Typedefs {
		out[td.Name] = "typedef"
	}
	for _, v := range l.Variables {
		out[v.Name] = "variable"
	}
	for _, f := range l.Functions {
		out[f.Name] = "function"
	}
	for _, c := range l.Classes {
		if c.IsEnum {
			out[c.Name] = "enum"
		} else {
			out[c.Name] = "class"
		}
	}
	return out
}

// --- fingerprints ---

func functionFingerprint(f *program.Function) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s(%s) static=%t getter=%t abstract=%t\n", f.Name, strings.Join(f.Params, ","), f.Static, f.Getter, f.Abstract)
	for _, st := range f.Body {
		fmt.Fprintf(&b, "%s %s %s %s = %s\n", st.Op, st.Name, exprSource(st.Target), st.Field, exprSource(st.Value))
	}
	return b.String()
}

func functionMap(fs []*program.Function) map[string]string {
	out := map[string]string{}
	for _, f := range fs {
		out[f.Name] = functionFingerprint(f)
	}
	return out
}

func variableMap(vs []*program.Variable) map[string]string {
	out := map[string]string{}
	for _, v := range vs {
		out[v.Name] = fmt.Sprintf("%s final=%t const=%t late=%t = %s", v.Type, v.Final, v.Const, v.Late, exprSource(v.Init))
	}
	return out
}

func typedefMap(ts []*program.Typedef) map[string]string {
	out := map[string]string{}
	for _, t := range ts {
		out[t.Name] = fmt.Sprintf("<%s> %s", strings.Join(t.Params, ","), t.Type)
	}
	return out
}

func importMap(is []*program.Import, kind string) map[string]string {
	out := map[string]string{}
	for _, i := range is {
		name := kind + " " + i.URI
		if i.Prefix != "" {
			name += " as " + i.Prefix
		}
		out[name] = fmt.Sprintf("show=%s hide=%s", strings.Join(i.Show, ","), strings.Join(i.Hide, ","))
	}
	return out
}

// --- helpers ---

func exprSource(e *program.Expr) string {
	if e == nil {
		return ""
	}
	return e.Source
}

func typeName(t string) string {
	if t == "" {
		return "dynamic"
	}
	return t
}

// superArgs renders the superclass reference with the class's own type
// parameters replaced by their positions, so Bar<T> and Bar<U> match when T
// and U sit in the same slot.
func superArgs(c *program.Class) string {
	if c.Extends == nil {
		return ""
	}
	return positionalRef(c.Extends, c.TypeParams)
}

func positionalRef(t *program.TypeRef, params []string) string {
	name := t.Name
	if i := slices.Index(params, name); i >= 0 {
		name = "#" + strconv.Itoa(i)
	}
	if len(t.Args) == 0 {
		return name
	}
	args := make([]string, len(t.Args))
	for i, a := range t.Args {
		ref, err := program.ParseTypeRef(a)
		if err != nil {
			args[i] = a
			continue
		}
		args[i] = positionalRef(ref, params)
	}
	return name + "<" + strings.Join(args, ", ") + ">"
}

func flagTransition(old, new bool, became, ceased ClassChange) ClassChange {
	switch {
	case !old && new:
		return became
	case old && !new:
		return ceased
	}
	return 0
}

func anyChanged(es []Entry) bool {
	for _, e := range es {
		if e.Change != Unchanged {
			return true
		}
	}
	return false
}

func classNames(l *program.Library) []string {
	out := make([]string, len(l.Classes))
	for i, c := range l.Classes {
		out[i] = c.Name
	}
	return out
}

// unionNames returns a's names in order followed by the names only in b.
func unionNames(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range [][]string{a, b} {
		for _, n := range list {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalKeys(a, b []program.ClassKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
