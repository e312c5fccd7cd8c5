package differ

import (
	"math/bits"
	"strings"
)

// Change tags one entry of a diff.
type Change int

const (
	Unchanged Change = iota
	Added
	Removed
	Modified
)

func (c Change) String() string {
	switch c {
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	}
	return "?"
}

// ClassChange is the set of ways a class present in both programs changed.
type ClassChange uint32

const (
	ShapeChanged ClassChange = 1 << iota
	FieldTypeChanged
	SupertypeChanged
	MixinsChanged
	BecameAbstract
	CeasedAbstract
	BecameEnum
	CeasedEnum
	BecameConst
	CeasedConst
	TypeParamsChanged
	TypeArgsChanged
	EnumMembersChanged
	MethodsChanged
	StaticsChanged
	ConstructorChanged
)

var classChangeNames = []string{
	"shape",
	"field-type",
	"supertype",
	"mixins",
	"became-abstract",
	"ceased-abstract",
	"became-enum",
	"ceased-enum",
	"became-const",
	"ceased-const",
	"type-params",
	"type-args",
	"enum-members",
	"methods",
	"statics",
	"constructor",
}

func (c ClassChange) Has(flag ClassChange) bool { return c&flag != 0 }

func (c ClassChange) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for v := uint32(c); v != 0; v &= v - 1 {
		i := bits.TrailingZeros32(v)
		if i < len(classChangeNames) {
			parts = append(parts, classChangeNames[i])
		}
	}
	return strings.Join(parts, ",")
}
