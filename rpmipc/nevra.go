package rpmipc

import (
	"sort"

	version "github.com/knqyf263/go-rpm-version"
)

// nevraVersion builds the comparable version.Version for a RemoveStep's
// Version-Release pair, the same [version]-[release] shape go-rpm-version
// expects (it treats a bare "-" join as "no epoch").
func nevraVersion(s Step) version.Version {
	vr := s.Version
	if s.Release != "" {
		vr += "-" + s.Release
	}
	return version.NewVersion(vr)
}

// SortRemoveStepsOldestFirst orders steps in place so that, for any group
// of RemoveSteps sharing a Name, the lowest version-release sorts first.
// rpm itself is order-insensitive about which same-name erase runs first,
// but ordering oldest-first keeps %preun/%postun scriptlet sequencing
// predictable when a transaction removes more than one build of the same
// package. InstallSteps are left in their original relative order.
func SortRemoveStepsOldestFirst(steps []Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		a, b := steps[i], steps[j]
		if a.Kind != stepRemove || b.Kind != stepRemove || a.Name != b.Name {
			return false
		}
		return nevraVersion(a).Compare(nevraVersion(b)) == version.LESS
	})
}

// ValidateStepOrder reports whether steps already satisfies
// SortRemoveStepsOldestFirst's invariant, without mutating steps. Used to
// assert a precomputed transaction plan hasn't been corrupted before it's
// sent to the helper.
func ValidateStepOrder(steps []Step) bool {
	last := make(map[string]version.Version)
	for _, s := range steps {
		if s.Kind != stepRemove {
			continue
		}
		v := nevraVersion(s)
		if prev, ok := last[s.Name]; ok && v.Compare(prev) == version.LESS {
			return false
		}
		last[s.Name] = v
	}
	return true
}
