package driver

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/mitchellh/mapstructure"
	"github.com/nerrad567/roomlink/internal/driver/gpio"
	"github.com/nerrad567/roomlink/internal/infrastructure/config"
	"github.com/nerrad567/roomlink/internal/room"
)

var (
	// ErrUnknownKind is returned by Build for a kind missing from the table.
	ErrUnknownKind = errors.New("driver: unknown kind")

	// ErrInvalidConfig is returned when a driver entry or its params are unusable.
	ErrInvalidConfig = errors.New("driver: invalid config")

	// ErrNoGPIO is returned when a pin driver is built without a GPIO backend.
	ErrNoGPIO = errors.New("driver: no gpio backend")
)

// Logger defines the logging interface used by drivers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Driver owns one or more devices and the loop that keeps them current.
//
// Devices are attached to the registry before Run starts. Run returns nil
// when ctx is cancelled; device faults are reported through object health
// and never end the loop.
type Driver interface {
	Devices() []room.Device
	Run(ctx context.Context) error
	Close() error
}

// Env carries what drivers may need from the node.
type Env struct {
	GPIO   gpio.Backend
	Logger Logger

	// Addresses returns the addresses the node currently advertises.
	Addresses func() []string
}

func (e Env) logger() Logger {
	if e.Logger == nil {
		return noopLogger{}
	}
	return e.Logger
}

// Factory builds a driver instance from its configured name and params.
type Factory func(env Env, name string, params map[string]any) (Driver, error)

// Table maps config kinds to factories.
var Table = map[string]Factory{
	KindRelay:         NewRelay,
	KindPinWatcher:    NewPinWatcher,
	KindEnvironment:   NewEnvironment,
	KindSystemMonitor: NewSystemMonitor,
	KindPresence:      NewPresence,
}

// Kinds returns the registered kinds in sorted order.
func Kinds() []string {
	return slices.Sorted(maps.Keys(Table))
}

// Build creates every configured driver. On error the drivers already
// built are closed.
func Build(env Env, cfgs []config.DriverConfig) ([]Driver, error) {
	out := make([]Driver, 0, len(cfgs))
	fail := func(err error) ([]Driver, error) {
		for _, d := range out {
			_ = d.Close() //nolint:errcheck // best effort on a failed build
		}
		return nil, err
	}

	seen := make(map[string]bool, len(cfgs))
	for i, c := range cfgs {
		factory, ok := Table[c.Kind]
		if !ok {
			return fail(fmt.Errorf("%w: drivers[%d] %q", ErrUnknownKind, i, c.Kind))
		}
		if c.Name == "" {
			return fail(fmt.Errorf("%w: drivers[%d] has no name", ErrInvalidConfig, i))
		}
		if seen[c.Name] {
			return fail(fmt.Errorf("%w: duplicate driver name %q", ErrInvalidConfig, c.Name))
		}
		seen[c.Name] = true

		d, err := factory(env, c.Name, c.Params)
		if err != nil {
			return fail(fmt.Errorf("building %s %q: %w", c.Kind, c.Name, err))
		}
		env.logger().Info("driver built", "kind", c.Kind, "name", c.Name)
		out = append(out, d)
	}
	return out, nil
}

// Attach attaches every device of drivers to reg.
func Attach(reg *room.Registry, drivers []Driver) error {
	for _, d := range drivers {
		for _, dev := range d.Devices() {
			if _, err := reg.Attach(dev); err != nil {
				return fmt.Errorf("attaching %s: %w", dev.Name(), err)
			}
		}
	}
	return nil
}

// decodeParams decodes params into out. Strings are accepted for numbers
// and durations, and unknown keys are rejected.
func decodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// boolArg interprets the first event argument as an on/off request.
func boolArg(args []any) (bool, error) {
	if len(args) == 0 {
		return false, fmt.Errorf("%w: missing state argument", ErrInvalidConfig)
	}
	var v bool
	if err := mapstructure.WeakDecode(args[0], &v); err != nil {
		return false, fmt.Errorf("state argument %v: %w", args[0], err)
	}
	return v, nil
}
