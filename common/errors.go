package common

import "fmt"

type StrError struct {
	E string
}

func (e StrError) Error() string {
	return fmt.Sprintf("%s", e.E)
}

// ErrNotFound marks an empty chain storage read so callers can tell
// "no value" apart from transport or decode failures.
var ErrNotFound = StrError{E: "not found"}
