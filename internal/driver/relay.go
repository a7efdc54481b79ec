package driver

import (
	"context"
	"fmt"

	"github.com/nerrad567/roomlink/internal/driver/gpio"
	"github.com/nerrad567/roomlink/internal/room"
)

// KindRelay drives an output pin from the set_on event.
const KindRelay = "relay"

// RelayParams configures a relay.
type RelayParams struct {
	Pin int `mapstructure:"pin"`

	// NormallyOpen boards energise the coil on a low output, so "on"
	// drives the line low.
	NormallyOpen bool `mapstructure:"normally_open"`
	DefaultState bool `mapstructure:"default_state"`
}

// Relay is a single switched output. Its value "on" mirrors the last
// requested state.
type Relay struct {
	*room.Object
	params RelayParams
	pin    gpio.Pin
	logger Logger
}

// NewRelay opens the relay pin, applies the default state and registers
// the set_on handler.
func NewRelay(env Env, name string, params map[string]any) (Driver, error) {
	p := RelayParams{NormallyOpen: true}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if env.GPIO == nil {
		return nil, ErrNoGPIO
	}
	pin, err := env.GPIO.Open(p.Pin, gpio.Output)
	if err != nil {
		return nil, err
	}

	r := &Relay{
		Object: room.NewObject(name, KindRelay),
		params: p,
		pin:    pin,
		logger: env.logger(),
	}
	r.SetHealth(room.Health{Online: true})
	if err := r.Set(p.DefaultState); err != nil {
		r.logger.Warn("relay default state not applied", "relay", name, "error", err)
	}
	r.AttachEventCallback("set_on", r.handleSetOn)
	return r, nil
}

func (r *Relay) handleSetOn(args []any, _ map[string]any) error {
	on, err := boolArg(args)
	if err != nil {
		return err
	}
	r.logger.Info("relay set", "relay", r.Name(), "on", on)
	return r.Set(on)
}

// Set drives the output and publishes the new state.
func (r *Relay) Set(on bool) error {
	level := on
	if r.params.NormallyOpen {
		level = !on
	}
	if err := r.pin.Write(level); err != nil {
		r.SetFault(err.Error())
		return fmt.Errorf("relay %s: %w", r.Name(), err)
	}
	r.ClearFault()
	if err := r.SetValue("on", on); err != nil {
		return err
	}
	r.EmitEvent("on_state_update", []any{on}, nil)
	return nil
}

func (r *Relay) Devices() []room.Device { return []room.Device{r} }

// Run holds the relay until ctx is cancelled. The relay is purely event
// driven.
func (r *Relay) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (r *Relay) Close() error { return r.pin.Close() }
