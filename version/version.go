package version

import (
	"strconv"
)

// Semantic version of this module. Spec() packs it into the single
// integer sent along with weights as the version key.
const (
	Major = 0
	Minor = 1
	Patch = 0
)

// Spec returns the version as one integer, 1000*major + 100*minor + patch.
func Spec() uint64 {
	return 1000*Major + 100*Minor + Patch
}

func String() string {
	return strconv.Itoa(Major) + "." + strconv.Itoa(Minor) + "." + strconv.Itoa(Patch)
}
