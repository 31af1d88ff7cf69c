package backend

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Setup phases, in execution order.
const (
	PhaseDownload  = "download"
	PhaseLaunch    = "launch"
	PhaseReadiness = "readiness"
	PhaseLoad      = "load"
)

// SetupError wraps the failure of one setup phase.
type SetupError struct {
	Phase string
	Err   error
}

func (e *SetupError) Error() string { return fmt.Sprintf("setup failed during %s: %v", e.Phase, e.Err) }

func (e *SetupError) Unwrap() error { return e.Err }

// PhaseOf returns the failed phase if err wraps a SetupError.
func PhaseOf(err error) (string, bool) {
	var se *SetupError
	if errors.As(err, &se) {
		return se.Phase, true
	}
	return "", false
}

// ReadinessTimeoutError means the backend never answered its liveness URL.
type ReadinessTimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("backend at %s not ready after %s", e.URL, e.Timeout)
}

// IsReadinessTimeout reports whether err wraps a ReadinessTimeoutError.
func IsReadinessTimeout(err error) bool {
	var re *ReadinessTimeoutError
	return errors.As(err, &re)
}

// NotReadyError is returned for predictions made before setup succeeded.
type NotReadyError struct {
	Status string
}

func (e *NotReadyError) Error() string { return "backend not ready: " + e.Status }

// StatusCode maps to 503 for the HTTP layer.
func (e *NotReadyError) StatusCode() int { return http.StatusServiceUnavailable }
