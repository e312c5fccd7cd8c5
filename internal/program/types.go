package program

import (
	"fmt"
	"strings"
)

// TypeRef is a class reference with optional type arguments, e.g.
// "Map<String, List<int>>".
type TypeRef struct {
	Name string
	Args []string
}

func (t *TypeRef) String() string {
	if t == nil {
		return ""
	}
	if len(t.Args) == 0 {
		return t.Name
	}
	return t.Name + "<" + strings.Join(t.Args, ", ") + ">"
}

// ParseTypeRef parses "Name" or "Name<A, B<C>>".
func ParseTypeRef(s string) (*TypeRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty type")
	}
	open := strings.IndexByte(s, '<')
	if open < 0 {
		if strings.ContainsAny(s, ">, ") {
			return nil, fmt.Errorf("malformed type %q", s)
		}
		return &TypeRef{Name: s}, nil
	}
	if !strings.HasSuffix(s, ">") {
		return nil, fmt.Errorf("malformed type %q", s)
	}
	ref := &TypeRef{Name: strings.TrimSpace(s[:open])}
	if ref.Name == "" {
		return nil, fmt.Errorf("malformed type %q", s)
	}
	args, err := splitTypeArgs(s[open+1 : len(s)-1])
	if err != nil {
		return nil, fmt.Errorf("malformed type %q: %w", s, err)
	}
	ref.Args = args
	return ref, nil
}

func splitTypeArgs(s string) ([]string, error) {
	var (
		args  []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced '>'")
			}
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced '<'")
	}
	last := strings.TrimSpace(s[start:])
	if last == "" {
		return nil, fmt.Errorf("empty type argument")
	}
	args = append(args, last)
	for _, a := range args {
		if a == "" {
			return nil, fmt.Errorf("empty type argument")
		}
	}
	return args, nil
}

// SplitNullable strips a trailing '?' from a declared type.
func SplitNullable(typ string) (base string, nullable bool) {
	typ = strings.TrimSpace(typ)
	if strings.HasSuffix(typ, "?") {
		return strings.TrimSuffix(typ, "?"), true
	}
	return typ, false
}

// BaseTypeName drops nullability and type arguments: "List<int>?" -> "List".
func BaseTypeName(typ string) string {
	base, _ := SplitNullable(typ)
	if i := strings.IndexByte(base, '<'); i >= 0 {
		base = base[:i]
	}
	return strings.TrimSpace(base)
}
