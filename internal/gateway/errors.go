package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors for hub synchronisation.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, gateway.ErrRejected) {
//	    // hub answered with a non-200 status
//	}
var (
	// ErrNoHub is returned when an operation needs a hub but none is configured.
	ErrNoHub = errors.New("gateway: no hub configured")

	// ErrRequestFailed indicates the request never got an HTTP response
	// (connection refused, timeout, DNS).
	ErrRequestFailed = errors.New("gateway: request failed")

	// ErrRejected indicates the remote end answered with a non-200 status.
	ErrRejected = errors.New("gateway: request rejected")

	// ErrEncode indicates a payload could not be marshalled.
	ErrEncode = errors.New("gateway: encoding payload")
)

// StatusError carries the status and body of a rejected request.
// It matches ErrRejected with errors.Is.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway: %s returned %d", e.Path, e.Status)
	}
	return fmt.Sprintf("gateway: %s returned %d: %s", e.Path, e.Status, e.Body)
}

// Is reports ErrRejected so callers need not unwrap the concrete type.
func (e *StatusError) Is(target error) bool {
	return target == ErrRejected
}

func isRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}
