package compiler

import (
	"fmt"
	"strings"

	"github.com/funvibe/hotreload/internal/config"
	"github.com/funvibe/hotreload/internal/diagnostics"
	"github.com/funvibe/hotreload/internal/expr"
	"github.com/funvibe/hotreload/internal/program"
)

// buildLibrary converts a decoded source into the program model and checks
// everything that is local to the library.
func buildLibrary(uri string, s *sourceLibrary) (*program.Library, error) {
	l := &program.Library{URI: uri}
	b := &builder{uri: uri, topLevel: map[string]int{}}

	for _, imp := range s.Imports {
		i, err := b.importDecl(imp)
		if err != nil {
			return nil, err
		}
		l.Imports = append(l.Imports, i)
	}
	for _, exp := range s.Exports {
		if exp.As != "" {
			return nil, diagnostics.Compile(uri, 0, "export of %q cannot have a prefix", exp.URI)
		}
		i, err := b.importDecl(exp)
		if err != nil {
			return nil, err
		}
		l.Exports = append(l.Exports, i)
	}

	for i := range s.Typedefs {
		td := &s.Typedefs[i]
		if err := b.declare(td.Name, 0); err != nil {
			return nil, err
		}
		if strings.TrimSpace(td.Type) == "" {
			return nil, diagnostics.Compile(uri, 0, "typedef '%s' has no type", td.Name)
		}
		l.Typedefs = append(l.Typedefs, &program.Typedef{Name: td.Name, Params: td.Params, Type: td.Type})
	}
	for i := range s.Variables {
		v, err := b.variable(&s.Variables[i])
		if err != nil {
			return nil, err
		}
		if err := b.declare(v.Name, v.Line); err != nil {
			return nil, err
		}
		l.Variables = append(l.Variables, v)
	}
	for i := range s.Functions {
		sf := &s.Functions[i]
		if sf.Static || sf.Getter || sf.Abstract {
			return nil, diagnostics.Compile(uri, sf.Line, "top-level function '%s' cannot be static, getter or abstract", sf.Name)
		}
		f, err := b.function(sf)
		if err != nil {
			return nil, err
		}
		if err := b.declare(f.Name, f.Line); err != nil {
			return nil, err
		}
		l.Functions = append(l.Functions, f)
	}
	for i := range s.Classes {
		c, err := b.class(&s.Classes[i])
		if err != nil {
			return nil, err
		}
		if err := b.declare(c.Name, c.Line); err != nil {
			return nil, err
		}
		l.Classes = append(l.Classes, c)
	}
	return l, nil
}

type builder struct {
	uri      string
	topLevel map[string]int
}

func (b *builder) errorf(line int, format string, args ...any) error {
	return diagnostics.Compile(b.uri, line, format, args...)
}

func (b *builder) declare(name string, line int) error {
	if prev, dup := b.topLevel[name]; dup {
		return b.errorf(line, "'%s' is already declared in this library (line %d)", name, prev)
	}
	b.topLevel[name] = line
	return nil
}

func (b *builder) checkName(name string, line int, what string) error {
	if name == "" {
		return b.errorf(line, "%s has no name", what)
	}
	if !isIdentifier(name) {
		return b.errorf(line, "invalid %s name '%s'", what, name)
	}
	if expr.Reserved(name) || name == config.ThisName || name == config.SuperName {
		return b.errorf(line, "'%s' is a reserved word and cannot be used as a %s name", name, what)
	}
	return nil
}

func (b *builder) importDecl(s sourceImport) (*program.Import, error) {
	if s.URI == "" {
		return nil, b.errorf(0, "import without uri")
	}
	if s.As != "" {
		if err := b.checkName(s.As, 0, "prefix"); err != nil {
			return nil, err
		}
	}
	return &program.Import{URI: s.URI, Prefix: s.As, Show: s.Show, Hide: s.Hide}, nil
}

func (b *builder) variable(s *sourceVariable) (*program.Variable, error) {
	if err := b.checkName(s.Name, s.Line, "variable"); err != nil {
		return nil, err
	}
	if s.Const && s.Init == "" {
		return nil, b.errorf(s.Line, "const variable '%s' must be initialized", s.Name)
	}
	v := &program.Variable{
		Name:  s.Name,
		Type:  s.Type,
		Final: s.Final || s.Const,
		Const: s.Const,
		Late:  s.Late,
		Line:  s.Line,
	}
	if s.Init != "" {
		v.Init = &program.Expr{Source: s.Init, Line: s.Line}
	}
	return v, nil
}

func (b *builder) function(s *sourceFunction) (*program.Function, error) {
	if err := b.checkName(s.Name, s.Line, "function"); err != nil {
		return nil, err
	}
	if len(s.Params) > config.MaxCallArity {
		return nil, b.errorf(s.Line, "function '%s' has %d parameters (at most %d allowed)", s.Name, len(s.Params), config.MaxCallArity)
	}
	f := &program.Function{
		Name:     s.Name,
		Params:   s.Params,
		Static:   s.Static,
		Getter:   s.Getter,
		Abstract: s.Abstract,
		Line:     s.Line,
	}
	locals := map[string]bool{}
	for _, p := range s.Params {
		if err := b.checkName(p, s.Line, "parameter"); err != nil {
			return nil, err
		}
		if locals[p] {
			return nil, b.errorf(s.Line, "duplicate parameter '%s' in '%s'", p, s.Name)
		}
		locals[p] = true
	}
	if s.Getter && len(s.Params) > 0 {
		return nil, b.errorf(s.Line, "getter '%s' cannot have parameters", s.Name)
	}
	if s.Abstract {
		if len(s.Body) > 0 || s.Returns != nil {
			return nil, b.errorf(s.Line, "abstract method '%s' cannot have a body", s.Name)
		}
		return f, nil
	}
	if s.Returns != nil {
		if len(s.Body) > 0 {
			return nil, b.errorf(s.Line, "'%s' has both returns and body", s.Name)
		}
		f.Body = []program.Step{{Op: program.StepReturn, Value: &program.Expr{Source: *s.Returns, Line: s.Line}}}
		return f, nil
	}
	for i := range s.Body {
		st, err := b.step(&s.Body[i], locals)
		if err != nil {
			return nil, err
		}
		f.Body = append(f.Body, st)
	}
	return f, nil
}

func (b *builder) step(s *sourceStep, locals map[string]bool) (program.Step, error) {
	kinds := 0
	for _, set := range []bool{s.Let != "", s.Do != "", s.Assign != "", s.Set != "", s.Return != nil} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		return program.Step{}, b.errorf(s.Line, "a step needs exactly one of let, do, assign, set or return")
	}
	value := &program.Expr{Source: s.Expr, Line: s.Line}
	switch {
	case s.Let != "":
		if err := b.checkName(s.Let, s.Line, "local"); err != nil {
			return program.Step{}, err
		}
		if s.Expr == "" {
			return program.Step{}, b.errorf(s.Line, "let '%s' has no expr", s.Let)
		}
		locals[s.Let] = true
		return program.Step{Op: program.StepLet, Name: s.Let, Value: value}, nil
	case s.Do != "":
		return program.Step{Op: program.StepDo, Value: &program.Expr{Source: s.Do, Line: s.Line}}, nil
	case s.Assign != "":
		if !isIdentifier(s.Assign) {
			return program.Step{}, b.errorf(s.Line, "cannot assign to '%s'", s.Assign)
		}
		if s.Expr == "" {
			return program.Step{}, b.errorf(s.Line, "assign '%s' has no expr", s.Assign)
		}
		return program.Step{Op: program.StepAssign, Name: s.Assign, Value: value}, nil
	case s.Set != "":
		if s.Field == "" || !isIdentifier(s.Field) {
			return program.Step{}, b.errorf(s.Line, "set needs a field name")
		}
		if s.Expr == "" {
			return program.Step{}, b.errorf(s.Line, "set '%s' has no expr", s.Field)
		}
		return program.Step{Op: program.StepSet, Target: &program.Expr{Source: s.Set, Line: s.Line}, Field: s.Field, Value: value}, nil
	default:
		src := *s.Return
		if strings.TrimSpace(src) == "" {
			src = "null"
		}
		return program.Step{Op: program.StepReturn, Value: &program.Expr{Source: src, Line: s.Line}}, nil
	}
}

func (b *builder) class(s *sourceClass) (*program.Class, error) {
	if err := b.checkName(s.Name, s.Line, "class"); err != nil {
		return nil, err
	}
	c := &program.Class{
		Library:     b.uri,
		Name:        s.Name,
		TypeParams:  s.TypeParams,
		Abstract:    s.Abstract,
		Const:       s.Const,
		IsEnum:      s.isEnum,
		EnumMembers: s.Enum,
		Constructor: s.Constructor,
		Line:        s.Line,
	}
	if s.Extends != "" {
		ref, err := program.ParseTypeRef(s.Extends)
		if err != nil {
			return nil, b.errorf(s.Line, "class '%s': %v", s.Name, err)
		}
		c.Extends = ref
	}
	for _, w := range s.With {
		ref, err := program.ParseTypeRef(w)
		if err != nil {
			return nil, b.errorf(s.Line, "class '%s': %v", s.Name, err)
		}
		c.With = append(c.With, ref)
	}
	if c.IsEnum {
		if c.Extends != nil || len(c.With) > 0 {
			return nil, b.errorf(s.Line, "enum '%s' cannot extend or mix in classes", s.Name)
		}
		if len(c.Constructor) > 0 || c.Abstract {
			return nil, b.errorf(s.Line, "enum '%s' cannot declare a constructor or be abstract", s.Name)
		}
	}

	members := map[string]string{}
	member := func(name, kind string, line int) error {
		if err := b.checkName(name, line, kind); err != nil {
			return err
		}
		if prev, dup := members[name]; dup {
			return b.errorf(line, "class '%s' declares '%s' as both %s and %s", s.Name, name, prev, kind)
		}
		members[name] = kind
		return nil
	}
	for _, tp := range s.TypeParams {
		if !isIdentifier(tp) {
			return nil, b.errorf(s.Line, "invalid type parameter '%s' on '%s'", tp, s.Name)
		}
	}
	for _, m := range s.Enum {
		if err := member(m, "enum value", s.Line); err != nil {
			return nil, err
		}
	}
	for i := range s.Fields {
		sf := &s.Fields[i]
		if err := member(sf.Name, "field", sf.Line); err != nil {
			return nil, err
		}
		f := &program.Field{Name: sf.Name, Type: sf.Type, Final: sf.Final, Late: sf.Late}
		if sf.Init != "" {
			f.Init = &program.Expr{Source: sf.Init, Line: sf.Line}
		}
		if c.Const && !f.Final {
			return nil, b.errorf(sf.Line, "const class '%s' cannot have non-final field '%s'", s.Name, sf.Name)
		}
		c.Fields = append(c.Fields, f)
	}
	for i := range s.Statics {
		v, err := b.variable(&s.Statics[i])
		if err != nil {
			return nil, err
		}
		if err := member(v.Name, "static", v.Line); err != nil {
			return nil, err
		}
		c.Statics = append(c.Statics, v)
	}
	for i := range s.Methods {
		sm := &s.Methods[i]
		m, err := b.function(sm)
		if err != nil {
			return nil, err
		}
		if err := member(m.Name, "method", m.Line); err != nil {
			return nil, err
		}
		if m.Abstract && m.Static {
			return nil, b.errorf(m.Line, "static method '%s' cannot be abstract", m.Name)
		}
		c.Methods = append(c.Methods, m)
	}
	seen := map[string]bool{}
	for _, formal := range c.Constructor {
		if seen[formal] {
			return nil, b.errorf(s.Line, "duplicate constructor parameter '%s' in '%s'", formal, s.Name)
		}
		seen[formal] = true
	}
	if len(c.Constructor) > config.MaxCallArity {
		return nil, b.errorf(s.Line, "constructor of '%s' has too many parameters", s.Name)
	}
	return c, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func describe(c *program.Class) string {
	return fmt.Sprintf("class '%s'", c.Name)
}
