package compiler

import (
	"sort"
	"strings"

	"github.com/funvibe/hotreload/internal/config"
	"github.com/funvibe/hotreload/internal/diagnostics"
	"github.com/funvibe/hotreload/internal/program"
)

// resolve links imports and class hierarchies of freshly parsed libraries
// and validates what depends on other libraries.
func resolve(p *program.Program, fresh map[string]bool) error {
	var uris []string
	for uri := range fresh {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	for _, uri := range uris {
		l := p.Library(uri)
		for _, imp := range l.Imports {
			if p.Library(imp.URI) == nil {
				return diagnostics.Compile(uri, 0, "Error when reading '%s': library not found", imp.URI)
			}
		}
		for _, exp := range l.Exports {
			if p.Library(exp.URI) == nil {
				return diagnostics.Compile(uri, 0, "Error when reading '%s': library not found", exp.URI)
			}
		}
	}

	for _, uri := range uris {
		l := p.Library(uri)
		scope := p.Scope(uri)
		for _, c := range l.Classes {
			if err := linkClass(p, scope, c); err != nil {
				return err
			}
		}
	}

	for _, uri := range uris {
		for _, c := range p.Library(uri).Classes {
			if err := checkHierarchy(p, c); err != nil {
				return err
			}
		}
	}
	return nil
}

func linkClass(p *program.Program, scope *program.Scope, c *program.Class) error {
	enumKey := program.ClassKey{Library: config.CoreLibraryURI, Name: config.EnumClassName}
	switch {
	case c.IsEnum:
		c.Super = enumKey
	case c.Extends == nil:
		c.Super = program.ObjectKey
	default:
		sup, err := lookupClass(scope, c.Library, c.Extends.Name)
		if err != nil {
			return diagnostics.Compile(c.Library, c.Line, "%s extends %v", describe(c), err)
		}
		if sup.IsEnum {
			return diagnostics.Compile(c.Library, c.Line, "%s cannot extend enum '%s'", describe(c), sup.Name)
		}
		if n := len(c.Extends.Args); n > 0 && n != len(sup.TypeParams) {
			return diagnostics.Compile(c.Library, c.Line,
				"%s: wrong number of type arguments for '%s': %d given, %d expected",
				describe(c), sup.Name, n, len(sup.TypeParams))
		}
		c.Super = sup.Key()
	}
	c.Mixins = nil
	for _, w := range c.With {
		m, err := lookupClass(scope, c.Library, w.Name)
		if err != nil {
			return diagnostics.Compile(c.Library, c.Line, "%s mixes in %v", describe(c), err)
		}
		if m.IsEnum {
			return diagnostics.Compile(c.Library, c.Line, "%s cannot mix in enum '%s'", describe(c), m.Name)
		}
		c.Mixins = append(c.Mixins, m.Key())
	}
	return nil
}

type unknownClass string

func (u unknownClass) Error() string { return "unknown class '" + string(u) + "'" }

func lookupClass(scope *program.Scope, uri, name string) (*program.Class, error) {
	var (
		m  program.Member
		ok bool
	)
	if prefix, rest, qualified := strings.Cut(name, "."); qualified {
		m, ok = scope.LookupPrefixed(prefix, rest)
	} else {
		m, ok = scope.Lookup(name)
	}
	if !ok || m.Kind != program.MemberClass {
		return nil, unknownClass(name)
	}
	return m.Class, nil
}

func checkHierarchy(p *program.Program, c *program.Class) error {
	seen := map[program.ClassKey]bool{}
	for cur := c; cur != nil; cur = p.Superclass(cur) {
		if seen[cur.Key()] {
			return diagnostics.Compile(c.Library, c.Line, "cyclic class hierarchy involving '%s'", c.Name)
		}
		seen[cur.Key()] = true
	}

	for _, formal := range c.Constructor {
		if _, ok := p.ShapeField(c.Key(), formal); !ok {
			return diagnostics.Compile(c.Library, c.Line, "constructor parameter '%s' of %s is not a field", formal, describe(c))
		}
	}
	if c.Const {
		for _, f := range p.Shape(c.Key()) {
			if f.Field != nil && !f.Field.Final {
				return diagnostics.Compile(c.Library, c.Line, "const %s inherits non-final field '%s'", describe(c), f.Name)
			}
		}
	}
	if !c.Abstract && !c.IsEnum {
		for _, m := range c.Methods {
			if m.Abstract {
				return diagnostics.Compile(c.Library, m.Line, "non-abstract %s declares abstract method '%s'", describe(c), m.Name)
			}
		}
	}
	return nil
}
