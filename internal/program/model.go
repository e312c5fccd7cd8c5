package program

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/funvibe/hotreload/internal/config"
)

// ClassKey names a class across program versions.
type ClassKey struct {
	Library string
	Name    string
}

func (k ClassKey) String() string { return k.Library + "::" + k.Name }

func (k ClassKey) IsZero() bool { return k.Library == "" && k.Name == "" }

// ObjectKey is the root of every class hierarchy.
var ObjectKey = ClassKey{Library: config.CoreLibraryURI, Name: config.ObjectClassName}

// Expr is one CEL expression together with its source line.
type Expr struct {
	Source string
	Line   int
}

type StepOp int

const (
	StepLet StepOp = iota
	StepDo
	StepAssign
	StepSet
	StepReturn
)

func (op StepOp) String() string {
	switch op {
	case StepLet:
		return "let"
	case StepDo:
		return "do"
	case StepAssign:
		return "assign"
	case StepSet:
		return "set"
	case StepReturn:
		return "return"
	}
	return "?"
}

// Step is one statement of a function body.
//
//	let:    Name = Value (new local)
//	do:     Value evaluated for effect
//	assign: Name = Value (local, field of this, static or top-level)
//	set:    Target.Field = Value
//	return: Value
type Step struct {
	Op     StepOp
	Name   string
	Target *Expr
	Field  string
	Value  *Expr
}

type Import struct {
	URI    string
	Prefix string
	Show   []string
	Hide   []string
}

// Admits reports whether name passes the show/hide filters.
func (i *Import) Admits(name string) bool {
	if len(i.Show) > 0 && !contains(i.Show, name) {
		return false
	}
	return !contains(i.Hide, name)
}

// Variable is a top-level binding or a class static.
type Variable struct {
	Name  string
	Type  string
	Final bool
	Const bool
	Late  bool
	Init  *Expr
	Line  int
}

// Function is a top-level function or a class method.
type Function struct {
	Name     string
	Params   []string
	Body     []Step
	Static   bool
	Getter   bool
	Abstract bool
	Line     int
}

type Typedef struct {
	Name   string
	Params []string
	Type   string
}

// IsFunctionType reports whether the typedef aliases a function type.
func (t *Typedef) IsFunctionType() bool {
	return strings.Contains(t.Type, "=>") || strings.HasPrefix(strings.TrimSpace(t.Type), "(")
}

type Field struct {
	Name  string
	Type  string
	Final bool
	Late  bool
	Init  *Expr
}

type Class struct {
	Library     string
	Name        string
	TypeParams  []string
	Extends     *TypeRef
	With        []*TypeRef
	Abstract    bool
	Const       bool
	IsEnum      bool
	EnumMembers []string
	Constructor []string
	Fields      []*Field
	Statics     []*Variable
	Methods     []*Function
	Line        int

	// Resolved by the compiler.
	Super  ClassKey
	Mixins []ClassKey
}

func (c *Class) Key() ClassKey { return ClassKey{Library: c.Library, Name: c.Name} }

func (c *Class) Field(name string) *Field {
	for _, f := range c.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (c *Class) Static(name string) *Variable {
	for _, s := range c.Statics {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Method returns the method declared directly on c, static or instance.
func (c *Class) Method(name string) *Function {
	for _, m := range c.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// EnumIndex returns the declaration position of an enum member or -1.
func (c *Class) EnumIndex(member string) int {
	for i, m := range c.EnumMembers {
		if m == member {
			return i
		}
	}
	return -1
}

type Library struct {
	URI       string
	Imports   []*Import
	Exports   []*Import
	Variables []*Variable
	Functions []*Function
	Typedefs  []*Typedef
	Classes   []*Class
	Source    []byte
	Hash      string
}

func (l *Library) Class(name string) *Class {
	for _, c := range l.Classes {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (l *Library) Function(name string) *Function {
	for _, f := range l.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (l *Library) Variable(name string) *Variable {
	for _, v := range l.Variables {
		if v.Name == name {
			return v
		}
	}
	return nil
}

func (l *Library) Typedef(name string) *Typedef {
	for _, t := range l.Typedefs {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Program is an immutable snapshot of all libraries of an application.
type Program struct {
	Root       string
	Generation uint64
	CompiledAt time.Time

	libs  map[string]*Library
	order []string

	scopes sync.Map // uri -> *Scope
	shapes sync.Map // ClassKey -> []ShapeField
	lin    sync.Map // ClassKey -> []*Class

	namesOnce sync.Once
	names     *Names
}

// New builds a program from its libraries. The core library is added when
// missing. Libraries must not be mutated afterwards.
func New(root string, libs []*Library) *Program {
	p := &Program{Root: root, libs: make(map[string]*Library, len(libs)+1)}
	for _, l := range libs {
		p.libs[l.URI] = l
	}
	if _, ok := p.libs[config.CoreLibraryURI]; !ok {
		p.libs[config.CoreLibraryURI] = Core()
	}
	for uri := range p.libs {
		p.order = append(p.order, uri)
	}
	sort.Slice(p.order, func(i, j int) bool {
		a, b := p.order[i], p.order[j]
		if a == config.CoreLibraryURI || b == config.CoreLibraryURI {
			return a == config.CoreLibraryURI
		}
		return a < b
	})
	return p
}

// Empty returns a program holding only the core library.
func Empty() *Program { return New("", nil) }

func (p *Program) Library(uri string) *Library { return p.libs[uri] }

// Libraries returns all libraries, core first, the rest sorted by URI.
func (p *Program) Libraries() []*Library {
	out := make([]*Library, 0, len(p.order))
	for _, uri := range p.order {
		out = append(out, p.libs[uri])
	}
	return out
}

func (p *Program) Class(key ClassKey) *Class {
	l := p.libs[key.Library]
	if l == nil {
		return nil
	}
	return l.Class(key.Name)
}

// Classes returns every class in library order then declaration order.
func (p *Program) Classes() []*Class {
	var out []*Class
	for _, uri := range p.order {
		out = append(out, p.libs[uri].Classes...)
	}
	return out
}

// Core builds the built-in library present in every program.
func Core() *Library {
	uri := config.CoreLibraryURI
	object := &Class{
		Library: uri,
		Name:    config.ObjectClassName,
	}
	stopwatch := &Class{
		Library: uri,
		Name:    config.StopwatchClassName,
		Super:   ObjectKey,
		Methods: []*Function{
			{Name: "elapsedTicks", Getter: true, Body: []Step{{Op: StepReturn, Value: &Expr{Source: "0"}}}},
		},
	}
	enum := &Class{
		Library:  uri,
		Name:     config.EnumClassName,
		Super:    ObjectKey,
		Abstract: true,
	}
	return &Library{
		URI:     uri,
		Classes: []*Class{object, stopwatch, enum},
		Hash:    "core",
	}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
