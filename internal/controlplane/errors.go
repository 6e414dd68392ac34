package controlplane

import (
	"errors"
	"strconv"
	"strings"
)

// ErrMirrorNotFound signals that the control plane has no workflow for a mirror.
var ErrMirrorNotFound = errors.New("mirror not found")

// OperationFailedError captures an unexpected control plane response.
type OperationFailedError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *OperationFailedError) Error() string {
	if e == nil {
		return "control plane operation failed"
	}
	msg := "control plane " + e.Op + " failed"
	if e.StatusCode != 0 {
		msg += " (status " + strconv.Itoa(e.StatusCode) + ")"
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		msg += ": " + body
	}
	return msg
}

// AsOperationFailed extracts an OperationFailedError from an error chain.
func AsOperationFailed(err error) (*OperationFailedError, bool) {
	var failed *OperationFailedError
	if errors.As(err, &failed) {
		return failed, true
	}
	return nil, false
}
