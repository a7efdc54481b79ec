package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/roomlink/internal/room"
)

// DefaultInterval is the uplink period when none is configured.
const DefaultInterval = 15 * time.Second

// State is the phase of the uplink cycle.
type State int

// Uplink cycle phases: idle → sending → {acked | failed} → idle.
const (
	StateIdle State = iota
	StateSending
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAcked:
		return "acked"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status describes the uplink loop for health reporting.
type Status struct {
	Hub       string    `json:"hub,omitempty"`
	State     State     `json:"state"`
	Last      State     `json:"last_result"`
	LastAck   time.Time `json:"last_ack,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	Failures  int       `json:"consecutive_failures"`
}

// Uplink periodically pushes the registry snapshot to the hub.
//
// Before every push it binds the forwarder as network hook on every
// registry entry, so objects attached late are wired for event forwarding
// without any registration of their own. A failed push is logged and
// retried on the next tick; there is no backoff and no failure cap.
type Uplink struct {
	registry  *room.Registry
	client    *Client
	forwarder *Forwarder
	id        Identity
	interval  time.Duration
	logger    Logger

	mu     sync.RWMutex
	status Status
}

// UplinkDeps holds the dependencies of an Uplink.
type UplinkDeps struct {
	Registry  *room.Registry
	Client    *Client // nil: bind hooks only, never push
	Forwarder *Forwarder
	Identity  Identity
	Interval  time.Duration
	Logger    Logger
}

// NewUplink creates the uplink loop. Call Run to start it.
func NewUplink(deps UplinkDeps) *Uplink {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	var logger Logger = noopLogger{}
	if deps.Logger != nil {
		logger = deps.Logger
	}
	u := &Uplink{
		registry:  deps.Registry,
		client:    deps.Client,
		forwarder: deps.Forwarder,
		id:        deps.Identity,
		interval:  deps.Interval,
		logger:    logger,
	}
	if deps.Client != nil {
		u.status.Hub = deps.Client.BaseURL()
	}
	return u
}

// Run performs a cycle immediately and then once per interval until ctx
// is cancelled. It always returns nil; failures never stop the loop.
func (u *Uplink) Run(ctx context.Context) error {
	u.logger.Info("uplink loop started", "hub", u.status.Hub, "interval", u.interval)

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		_ = u.Cycle(ctx) //nolint:errcheck // logged and recorded in Status
		select {
		case <-ctx.Done():
			u.logger.Info("uplink loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle runs one bind-and-push pass. Without a client it only binds.
func (u *Uplink) Cycle(ctx context.Context) error {
	if u.forwarder != nil {
		u.forwarder.Bind(u.registry)
	}
	registryObjects.Set(float64(u.registry.Len()))

	if u.client == nil {
		return nil
	}

	u.setState(StateSending)
	payload := BuildPayload(u.registry, u.id)

	start := time.Now()
	err := u.client.PostUplink(ctx, payload)
	uplinkDuration.Observe(time.Since(start).Seconds())
	uplinkCycles.WithLabelValues(resultLabel(err)).Inc()

	u.finish(err)
	if err != nil {
		u.logger.Warn("uplink failed", "objects", len(payload.Objects), "error", err)
		return err
	}
	u.logger.Debug("uplink acked", "objects", len(payload.Objects))
	return nil
}

func (u *Uplink) setState(s State) {
	u.mu.Lock()
	u.status.State = s
	u.mu.Unlock()
}

// finish records the outcome and returns the loop to idle.
func (u *Uplink) finish(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err != nil {
		u.status.State = StateFailed
		u.status.LastError = err.Error()
		u.status.Failures++
	} else {
		u.status.State = StateAcked
		u.status.LastAck = time.Now()
		u.status.LastError = ""
		u.status.Failures = 0
	}
	u.status.Last = u.status.State
	u.status.State = StateIdle
}

// Status returns a copy of the loop's current status.
func (u *Uplink) Status() Status {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.status
}
