package proxy

import (
	"errors"
	"fmt"
)

// RequestError reports an invalid prediction request.
type RequestError struct {
	Field string
	Msg   string
}

func (e *RequestError) Error() string { return e.Field + ": " + e.Msg }

// StatusCode lets the HTTP layer answer 400.
func (e *RequestError) StatusCode() int { return 400 }

// StreamConnectError means the chat request could not be established: the
// connection failed, no response headers arrived within the connect timeout,
// or the backend answered with a non-2xx status. It is scoped to one call.
type StreamConnectError struct {
	URL    string
	Status int
	Err    error
}

func (e *StreamConnectError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("chat request to %s failed with status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("chat request to %s failed: %v", e.URL, e.Err)
}

func (e *StreamConnectError) Unwrap() error { return e.Err }

// StatusCode maps connect failures to 502.
func (e *StreamConnectError) StatusCode() int { return 502 }

// BackendError carries an error the backend reported mid-stream.
type BackendError struct {
	Msg string
}

func (e *BackendError) Error() string { return "backend error: " + e.Msg }

// StreamReadError means the response body broke after streaming began.
type StreamReadError struct {
	Err error
}

func (e *StreamReadError) Error() string { return "read chat stream: " + e.Err.Error() }

func (e *StreamReadError) Unwrap() error { return e.Err }

// IsConnectError reports whether err is a StreamConnectError.
func IsConnectError(err error) bool {
	var ce *StreamConnectError
	return errors.As(err, &ce)
}

// IsRequestError reports whether err is a RequestError.
func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}
