package driver

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/roomlink/internal/room"
)

// KindPresence tracks which known Bluetooth devices are in range.
const KindPresence = "presence"

// SourceL2Ping pings targets with the BlueZ l2ping tool.
const SourceL2Ping = "l2ping"

const (
	defaultPresenceInterval = 60 * time.Second
	highFrequencyInterval   = 30 * time.Second
	defaultPingTimeout      = 5 * time.Second
	scanLockout             = 5 * time.Second
	faultAdapterOffline     = "Bluetooth Adapter Offline"
)

// ErrAdapterOffline is returned by a Pinger when the local radio cannot
// be reached at all, as opposed to a target being out of range.
var ErrAdapterOffline = errors.New("driver: bluetooth adapter offline")

// Pinger reports whether the device at address answers.
type Pinger interface {
	Ping(ctx context.Context, address string) (bool, error)
}

// PresenceTarget is one tracked device. Name defaults to Address.
type PresenceTarget struct {
	Address string `mapstructure:"address"`
	Name    string `mapstructure:"name"`
}

// PresenceParams configures a presence detector.
type PresenceParams struct {
	Source            string           `mapstructure:"source"`
	Targets           []PresenceTarget `mapstructure:"targets"`
	Interval          time.Duration    `mapstructure:"interval"`
	HighFrequencyScan bool             `mapstructure:"high_frequency_scan"`
	PingTimeout       time.Duration    `mapstructure:"ping_timeout"`
	Enabled           bool             `mapstructure:"enabled"`

	// Command replaces the l2ping binary.
	Command string `mapstructure:"command"`

	// SimPresent lists the addresses the sim source reports in range.
	SimPresent []string `mapstructure:"sim_present"`
}

// Presence scans its targets periodically. Values: on, high_frequency_scan,
// occupied, occupants (comma-joined names in range), occupant_count and
// last_scan. Each change of a target emits presence_change(name, present)
// with address and last_changed kwargs.
//
// set_on enables or disables scanning; a disabled detector reports the
// room unoccupied. scan requests an immediate scan, at most once every
// five seconds.
type Presence struct {
	*room.Object
	params PresenceParams
	pinger Pinger
	logger Logger
	wake   chan struct{}

	mu          sync.Mutex
	enabled     bool
	present     map[string]bool
	lastChanged map[string]time.Time
	lockedUntil time.Time
}

// NewPresence validates the targets and builds the detector.
func NewPresence(env Env, name string, params map[string]any) (Driver, error) {
	p := PresenceParams{
		Source:      SourceSim,
		PingTimeout: defaultPingTimeout,
		Enabled:     true,
		Command:     SourceL2Ping,
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.PingTimeout <= 0 {
		p.PingTimeout = defaultPingTimeout
	}

	seen := make(map[string]bool, len(p.Targets))
	for i, t := range p.Targets {
		if t.Address == "" {
			return nil, fmt.Errorf("%w: targets[%d] has no address", ErrInvalidConfig, i)
		}
		if seen[t.Address] {
			return nil, fmt.Errorf("%w: duplicate target %s", ErrInvalidConfig, t.Address)
		}
		seen[t.Address] = true
		if t.Name == "" {
			p.Targets[i].Name = t.Address
		}
	}

	var pinger Pinger
	switch p.Source {
	case SourceSim:
		sim := NewSimPinger()
		for _, a := range p.SimPresent {
			sim.Set(a, true)
		}
		pinger = sim
	case SourceL2Ping:
		pinger = L2Pinger{Command: p.Command, Timeout: p.PingTimeout}
	default:
		return nil, fmt.Errorf("%w: unknown presence source %q", ErrInvalidConfig, p.Source)
	}
	return newPresence(env, name, p, pinger), nil
}

func newPresence(env Env, name string, p PresenceParams, pinger Pinger) *Presence {
	d := &Presence{
		Object:      room.NewObject(name, KindPresence),
		params:      p,
		pinger:      pinger,
		logger:      env.logger(),
		wake:        make(chan struct{}, 1),
		enabled:     p.Enabled,
		present:     make(map[string]bool, len(p.Targets)),
		lastChanged: make(map[string]time.Time, len(p.Targets)),
	}
	d.SetHealth(room.Health{Online: true})
	_ = d.SetValue("on", p.Enabled)
	_ = d.SetValue("high_frequency_scan", p.HighFrequencyScan)
	_ = d.SetValue("last_scan", 0.0)
	d.publish()

	d.AttachEventCallback("set_on", d.handleSetOn)
	d.AttachEventCallback("scan", d.handleScan)
	return d
}

func (d *Presence) interval() time.Duration {
	switch {
	case d.params.Interval > 0:
		return d.params.Interval
	case d.params.HighFrequencyScan:
		return highFrequencyInterval
	}
	return defaultPresenceInterval
}

func (d *Presence) Devices() []room.Device { return []room.Device{d} }

// Run scans immediately, then every interval and whenever a scan is
// requested, until ctx is cancelled.
func (d *Presence) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval())
	defer ticker.Stop()

	for {
		d.scan(ctx, time.Now())
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

func (d *Presence) handleSetOn(args []any, _ map[string]any) error {
	on, err := boolArg(args)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.enabled = on
	d.mu.Unlock()
	d.logger.Info("presence scanning toggled", "detector", d.Name(), "on", on)
	_ = d.SetValue("on", on)
	d.publish()
	return nil
}

// handleScan queues a scan for Run. Requests while disabled, offline or
// inside the lockout window are dropped with a warning.
func (d *Presence) handleScan([]any, map[string]any) error {
	now := time.Now()
	d.mu.Lock()
	reason := ""
	switch {
	case !d.enabled:
		reason = "scanning disabled"
	case !d.Health().Online:
		reason = "adapter offline"
	case now.Before(d.lockedUntil):
		reason = "scan lockout"
	default:
		d.lockedUntil = now.Add(scanLockout)
	}
	d.mu.Unlock()

	if reason != "" {
		d.logger.Warn("scan request rejected", "detector", d.Name(), "reason", reason)
		return nil
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// scan pings every target concurrently and applies the results.
func (d *Presence) scan(ctx context.Context, now time.Time) {
	d.mu.Lock()
	enabled := d.enabled
	d.mu.Unlock()
	if !enabled {
		return
	}

	results := make([]bool, len(d.params.Targets))
	var offline error
	var offlineOnce sync.Once

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range d.params.Targets {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, d.params.PingTimeout)
			defer cancel()
			in, err := d.pinger.Ping(pctx, t.Address)
			switch {
			case errors.Is(err, ErrAdapterOffline):
				offlineOnce.Do(func() { offline = err })
			case err != nil:
				d.logger.Debug("presence ping failed", "detector", d.Name(), "target", t.Name, "error", err)
			default:
				results[i] = in
			}
			return nil
		})
	}
	_ = g.Wait()

	if offline != nil {
		if d.Health().Online {
			d.logger.Error("bluetooth adapter offline", "detector", d.Name(), "error", offline)
		}
		d.SetHealth(room.Health{Online: false, Fault: true, Reason: faultAdapterOffline})
		return
	}
	if h := d.Health(); !h.Online || h.Fault {
		d.SetHealth(room.Health{Online: true})
	}

	for i, t := range d.params.Targets {
		d.update(t, results[i], now)
	}
	_ = d.SetValue("last_scan", unixSeconds(now))
	d.publish()
}

func (d *Presence) update(t PresenceTarget, in bool, now time.Time) {
	d.mu.Lock()
	was, known := d.present[t.Address]
	changed := !known || was != in
	if changed {
		d.present[t.Address] = in
		d.lastChanged[t.Address] = now
	}
	d.mu.Unlock()

	if changed {
		d.logger.Debug("presence changed", "detector", d.Name(), "target", t.Name, "present", in)
		d.EmitEvent("presence_change", []any{t.Name, in}, map[string]any{
			"address":      t.Address,
			"last_changed": unixSeconds(now),
		})
	}
}

// Occupants returns the names of targets currently in range, sorted.
// A disabled detector has no occupants.
func (d *Presence) Occupants() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled {
		return nil
	}
	var names []string
	for _, t := range d.params.Targets {
		if d.present[t.Address] {
			names = append(names, t.Name)
		}
	}
	slices.Sort(names)
	return names
}

func (d *Presence) publish() {
	names := d.Occupants()
	_ = d.SetValue("occupied", len(names) > 0)
	_ = d.SetValue("occupants", strings.Join(names, ","))
	_ = d.SetValue("occupant_count", len(names))
}

func (d *Presence) Close() error { return nil }

// SimPinger answers from a settable table of addresses.
type SimPinger struct {
	mu      sync.Mutex
	present map[string]bool
	err     error
}

// NewSimPinger returns a pinger with every address out of range.
func NewSimPinger() *SimPinger {
	return &SimPinger{present: make(map[string]bool)}
}

// Set marks address in or out of range.
func (s *SimPinger) Set(address string, present bool) {
	s.mu.Lock()
	s.present[address] = present
	s.mu.Unlock()
}

// Fail makes every ping return err until called with nil.
func (s *SimPinger) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *SimPinger) Ping(_ context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	return s.present[address], nil
}

// L2Pinger sends one L2CAP echo with l2ping. A reply, or a refused
// connection, means the device is in range. "No route to host" and
// "Network is down" mean the local adapter is gone.
type L2Pinger struct {
	Command string
	Timeout time.Duration
}

func (p L2Pinger) Ping(ctx context.Context, address string) (bool, error) {
	secs := max(1, int(p.Timeout/time.Second))
	out, err := exec.CommandContext(ctx, p.Command, "-c", "1", "-t", strconv.Itoa(secs), address).CombinedOutput()
	if err == nil {
		return true, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		// The binary is missing or could not be started.
		return false, fmt.Errorf("%w: %w", ErrAdapterOffline, err)
	}
	msg := string(out)
	switch {
	case strings.Contains(msg, "Connection refused"):
		return true, nil
	case strings.Contains(msg, "No route to host"), strings.Contains(msg, "Network is down"):
		return false, fmt.Errorf("%w: %s", ErrAdapterOffline, strings.TrimSpace(msg))
	}
	return false, nil
}
