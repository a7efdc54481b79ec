package gpio

import (
	"errors"
	"fmt"
)

// Direction is the configured direction of a pin.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "out"
	}
	return "in"
}

var (
	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("gpio: unknown backend")

	// ErrPinInUse is returned when a pin is opened twice.
	ErrPinInUse = errors.New("gpio: pin already open")

	// ErrWrongDirection is returned when writing an input pin.
	ErrWrongDirection = errors.New("gpio: write to input pin")

	// ErrClosed is returned by operations on a closed pin.
	ErrClosed = errors.New("gpio: pin closed")
)

// Pin is one opened GPIO line. High is true.
type Pin interface {
	Number() int
	Read() (bool, error)
	Write(high bool) error
	Close() error
}

// Backend opens pins.
type Backend interface {
	Open(pin int, dir Direction) (Pin, error)
}

// Backend names accepted by New.
const (
	BackendSim   = "sim"
	BackendSysfs = "sysfs"
)

// New returns the backend called name. An empty name selects sim and an
// empty sysfsRoot selects DefaultSysfsRoot.
func New(name, sysfsRoot string) (Backend, error) {
	switch name {
	case "", BackendSim:
		return NewSim(), nil
	case BackendSysfs:
		if sysfsRoot == "" {
			sysfsRoot = DefaultSysfsRoot
		}
		return NewSysfs(sysfsRoot), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}
