package room

import "errors"

// Domain errors for the room package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, room.ErrInvalidObject) {
//	    // reject the driver
//	}
var (
	// ErrInvalidObject is returned by Attach when the argument does not
	// carry a usable object (nil device, nil embedded object, empty name).
	ErrInvalidObject = errors.New("room: invalid object")

	// ErrInvalidValue is returned when an attribute value is not a
	// JSON-compatible scalar.
	ErrInvalidValue = errors.New("room: invalid value")

	// ErrInvalidKey is returned when an attribute key is empty.
	ErrInvalidKey = errors.New("room: invalid key")

	// ErrNoHandler is returned by RemoteEvent when no callback is
	// registered for the event.
	ErrNoHandler = errors.New("room: no handler for event")

	// ErrHandlerFailed wraps the failures of one or more event handlers.
	ErrHandlerFailed = errors.New("room: event handler failed")
)
