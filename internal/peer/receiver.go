package peer

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Receiver is the sink for snapshots pushed to POST /downlink: it stores
// them, optionally mirrors them into the registry, and tells listeners.
type Receiver struct {
	store  Store
	mirror *Mirror
	logger Logger

	mu        sync.RWMutex
	listeners []func(Snapshot)
}

// NewReceiver creates a receiver. mirror may be nil.
func NewReceiver(store Store, mirror *Mirror, logger Logger) *Receiver {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Receiver{store: store, mirror: mirror, logger: logger}
}

// Store returns the underlying store.
func (r *Receiver) Store() Store {
	return r.store
}

// OnSnapshot registers fn to run after every successfully stored snapshot.
func (r *Receiver) OnSnapshot(fn func(Snapshot)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Receive stores s. Mirror failures are logged and do not fail the call:
// the peer's push has been accepted once it is stored.
func (r *Receiver) Receive(ctx context.Context, s Snapshot) error {
	if s.ReceivedAt.IsZero() {
		s.ReceivedAt = time.Now().UTC()
	}
	if err := r.store.Save(ctx, s); err != nil {
		return fmt.Errorf("storing snapshot from %s: %w", s.Node, err)
	}
	r.logger.Info("peer snapshot received", "node", s.Node, "objects", len(s.Objects))

	if r.mirror != nil {
		_ = r.mirror.Apply(s) //nolint:errcheck // logged by Apply
	}

	r.mu.RLock()
	listeners := r.listeners
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(s)
	}
	return nil
}
