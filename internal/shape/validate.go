// Package shape decides how instances of changed classes are carried over
// to their new layouts, and rejects the class transitions that cannot be.
package shape

import (
	"github.com/funvibe/hotreload/internal/diagnostics"
	"github.com/funvibe/hotreload/internal/differ"
	"github.com/funvibe/hotreload/internal/program"
)

// InstanceOracle answers questions about the live state of the old program.
type InstanceOracle interface {
	// HasInstances reports whether any object or constant of the class is
	// live.
	HasInstances(key program.ClassKey) bool
	// HasConstants reports whether a canonical constant of the class is
	// live.
	HasConstants(key program.ClassKey) bool
}

const (
	reasonCeasedEnum   = "Enum class cannot be redefined to be a non-enum class"
	reasonBecameEnum   = "Class cannot be redefined to be a enum class"
	reasonConstRemoved = "Const class cannot remove fields"
	reasonCeasedConst  = "Const class cannot become non-const"
	limitTypeParams    = "type parameters have changed"
)

// Validate returns the first illegal transition found in r, classes visited
// in library then declaration order. Nothing is mutated.
func Validate(r *differ.Result, oracle InstanceOracle) error {
	for _, cd := range r.Classes() {
		if cd.Change != differ.Modified {
			continue
		}
		if err := validateClass(r, cd, oracle); err != nil {
			return err
		}
	}
	return nil
}

func validateClass(r *differ.Result, cd *differ.ClassDiff, oracle InstanceOracle) error {
	lib, name := cd.Key.Library, cd.Key.Name
	switch {
	case cd.Kinds.Has(differ.CeasedEnum):
		return diagnostics.Illegal(lib, name, reasonCeasedEnum)
	case cd.Kinds.Has(differ.BecameEnum):
		return diagnostics.Illegal(lib, name, reasonBecameEnum)
	}

	if cd.Old.Const && oracle.HasConstants(cd.Key) {
		if removesFields(cd) {
			return diagnostics.Illegal(lib, name, reasonConstRemoved)
		}
		if !cd.New.Const {
			return diagnostics.Illegal(lib, name, reasonCeasedConst)
		}
	}

	if typeArgsChanged(r, cd) && oracle.HasInstances(cd.Key) {
		return diagnostics.IllegalLimitation(lib, name, limitTypeParams)
	}
	return nil
}

// removesFields reports whether any slot of the old layout is gone. A
// rename counts as a removal plus an addition.
func removesFields(cd *differ.ClassDiff) bool {
	for _, f := range cd.Fields {
		if f.Change == differ.Removed {
			return true
		}
	}
	return false
}

// typeArgsChanged reports whether the flattened type-argument vector of the
// class changed in length or layout. Instances carry that vector, so it
// cannot change under them. Parameters compare by position, so renaming one
// is not a change.
func typeArgsChanged(r *differ.Result, cd *differ.ClassDiff) bool {
	if cd.Kinds.Has(differ.TypeParamsChanged) {
		return true
	}
	if !cd.Kinds.Has(differ.TypeArgsChanged) {
		return false
	}
	old := r.Old.TypeArgLayout(cd.Key)
	new := r.New.TypeArgLayout(cd.Key)
	if len(old) != len(new) {
		return true
	}
	for i := range old {
		if old[i] != new[i] {
			return true
		}
	}
	return false
}
