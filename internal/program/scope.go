package program

import "github.com/funvibe/hotreload/internal/config"

type MemberKind int

const (
	MemberNone MemberKind = iota
	MemberFunction
	MemberVariable
	MemberClass
	MemberTypedef
)

// Member is a top-level declaration visible in some scope.
type Member struct {
	Kind     MemberKind
	Library  string
	Function *Function
	Variable *Variable
	Class    *Class
	Typedef  *Typedef
}

// Scope is the top-level namespace of one library: its own declarations,
// its unprefixed imports and its prefixed imports.
type Scope struct {
	URI      string
	own      map[string]Member
	imported map[string]Member
	prefixes map[string]map[string]Member
}

// Lookup resolves an unqualified top-level name: own declarations first,
// then unprefixed imports, then the core library.
func (s *Scope) Lookup(name string) (Member, bool) {
	if m, ok := s.own[name]; ok {
		return m, true
	}
	m, ok := s.imported[name]
	return m, ok
}

// LookupPrefixed resolves prefix.name through a prefixed import.
func (s *Scope) LookupPrefixed(prefix, name string) (Member, bool) {
	ns, ok := s.prefixes[prefix]
	if !ok {
		return Member{}, false
	}
	m, ok := ns[name]
	return m, ok
}

func (s *Scope) HasPrefix(prefix string) bool {
	_, ok := s.prefixes[prefix]
	return ok
}

// Scope returns the resolved namespace of a library. Resolution always
// reflects this program, so a reload re-resolves show/hide filters.
func (p *Program) Scope(uri string) *Scope {
	if v, ok := p.scopes.Load(uri); ok {
		return v.(*Scope)
	}
	s := &Scope{
		URI:      uri,
		own:      map[string]Member{},
		imported: map[string]Member{},
		prefixes: map[string]map[string]Member{},
	}
	if l := p.libs[uri]; l != nil {
		for name, m := range ownMembers(l) {
			s.own[name] = m
		}
		for _, imp := range l.Imports {
			exported := p.exportedMembers(imp.URI, map[string]bool{})
			target := s.imported
			if imp.Prefix != "" {
				if s.prefixes[imp.Prefix] == nil {
					s.prefixes[imp.Prefix] = map[string]Member{}
				}
				target = s.prefixes[imp.Prefix]
			}
			for name, m := range exported {
				if !imp.Admits(name) {
					continue
				}
				if _, dup := target[name]; !dup {
					target[name] = m
				}
			}
		}
	}
	if uri != config.CoreLibraryURI {
		for name, m := range ownMembers(p.libs[config.CoreLibraryURI]) {
			if _, dup := s.imported[name]; !dup {
				s.imported[name] = m
			}
		}
	}
	actual, _ := p.scopes.LoadOrStore(uri, s)
	return actual.(*Scope)
}

// exportedMembers returns what importing uri makes visible: its own
// declarations plus whatever it re-exports.
func (p *Program) exportedMembers(uri string, visiting map[string]bool) map[string]Member {
	out := map[string]Member{}
	l := p.libs[uri]
	if l == nil || visiting[uri] {
		return out
	}
	visiting[uri] = true
	for name, m := range ownMembers(l) {
		out[name] = m
	}
	for _, exp := range l.Exports {
		for name, m := range p.exportedMembers(exp.URI, visiting) {
			if !exp.Admits(name) {
				continue
			}
			if _, dup := out[name]; !dup {
				out[name] = m
			}
		}
	}
	return out
}

func ownMembers(l *Library) map[string]Member {
	out := map[string]Member{}
	if l == nil {
		return out
	}
	for _, td := range l.Typedefs {
		out[td.Name] = Member{Kind: MemberTypedef, Library: l.URI, Typedef: td}
	}
	for _, v := range l.Variables {
		out[v.Name] = Member{Kind: MemberVariable, Library: l.URI, Variable: v}
	}
	for _, f := range l.Functions {
		out[f.Name] = Member{Kind: MemberFunction, Library: l.URI, Function: f}
	}
	for _, c := range l.Classes {
		out[c.Name] = Member{Kind: MemberClass, Library: l.URI, Class: c}
	}
	return out
}

// Dependents returns, for every library, the libraries that import or
// export it.
func (p *Program) Dependents() map[string][]string {
	out := map[string][]string{}
	for _, l := range p.Libraries() {
		for _, imp := range l.Imports {
			out[imp.URI] = append(out[imp.URI], l.URI)
		}
		for _, exp := range l.Exports {
			out[exp.URI] = append(out[exp.URI], l.URI)
		}
	}
	return out
}
