package supervisor

import (
	"errors"
	"fmt"
)

// Start phases.
const (
	PhaseLaunch = "launch"
	PhaseLoad   = "load"
)

// StartError reports that the backend could not be launched or that the
// model failed to load. Both are fatal to setup.
type StartError struct {
	Phase string
	Bin   string
	Err   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("backend %s (%s): %v", e.Phase, e.Bin, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// IsStartError reports whether err is a StartError, and for which phase.
func IsStartError(err error) (string, bool) {
	var se *StartError
	if errors.As(err, &se) {
		return se.Phase, true
	}
	return "", false
}
