package broker

import "errors"

var (
	// ErrBadCommand is returned for a command message that cannot be decoded
	// or names no event.
	ErrBadCommand = errors.New("broker: invalid command message")

	// ErrUnknownObject is returned for a command addressed to an object the
	// registry does not hold. Commands never create objects.
	ErrUnknownObject = errors.New("broker: unknown object")

	// ErrBadTopic is returned for a message on a topic outside this node's
	// command tree.
	ErrBadTopic = errors.New("broker: unexpected topic")
)
