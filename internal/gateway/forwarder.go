package gateway

import (
	"context"
	"sync"

	"github.com/nerrad567/roomlink/internal/room"
)

// Default forwarder sizing.
const (
	DefaultQueueSize = 256
	DefaultWorkers   = 2
)

// Observer is told about every event handed to the forwarder, whether or
// not a hub is configured. It runs on the emitting goroutine and must not
// block.
type Observer func(ev room.Event)

// Forwarder is the network hook bound to every registry entry. Forward
// queues the event and returns at once; worker goroutines started by Run
// POST it to the hub. When the queue is full the event is dropped.
//
// Delivery is best effort: no retry, no ordering across workers.
type Forwarder struct {
	client *Client
	id     Identity
	queue  chan OutboundEvent

	workers   int
	observers []Observer
	obsMu     sync.RWMutex
	logger    Logger
}

// ForwarderDeps holds the dependencies of a Forwarder.
type ForwarderDeps struct {
	// Client posts to the hub. Nil keeps the forwarder local-only:
	// observers still run but nothing is queued.
	Client    *Client
	Identity  Identity
	QueueSize int
	Workers   int
	Logger    Logger
}

// NewForwarder creates a forwarder. Call Run to start delivery.
func NewForwarder(deps ForwarderDeps) *Forwarder {
	if deps.QueueSize <= 0 {
		deps.QueueSize = DefaultQueueSize
	}
	if deps.Workers <= 0 {
		deps.Workers = DefaultWorkers
	}
	var logger Logger = noopLogger{}
	if deps.Logger != nil {
		logger = deps.Logger
	}
	return &Forwarder{
		client:  deps.Client,
		id:      deps.Identity,
		queue:   make(chan OutboundEvent, deps.QueueSize),
		workers: deps.Workers,
		logger:  logger,
	}
}

// Observe registers fn to be told about every forwarded event.
func (f *Forwarder) Observe(fn Observer) {
	f.obsMu.Lock()
	f.observers = append(f.observers, fn)
	f.obsMu.Unlock()
}

// Forward implements room.Forwarder.
func (f *Forwarder) Forward(_ *room.Object, ev room.Event) {
	f.notify(ev)

	if f.client == nil {
		return
	}

	select {
	case f.queue <- newOutboundEvent(f.id, ev):
		forwardQueueDepth.Set(float64(len(f.queue)))
	default:
		eventsDropped.Inc()
		f.logger.Warn("forward queue full, event dropped",
			"object", ev.Object,
			"event", ev.Name,
		)
	}
}

func (f *Forwarder) notify(ev room.Event) {
	f.obsMu.RLock()
	observers := f.observers
	f.obsMu.RUnlock()

	for _, fn := range observers {
		fn(ev)
	}
}

// Bind sets the forwarder as network hook on every entry of reg.
func (f *Forwarder) Bind(reg *room.Registry) {
	for ref := range reg.All() {
		if ref.NetworkHook() != f {
			ref.SetNetworkHook(f)
		}
	}
}

// Run drains the queue with the configured number of workers until ctx
// is cancelled. Events still queued at that point are discarded.
func (f *Forwarder) Run(ctx context.Context) error {
	if f.client == nil {
		<-ctx.Done()
		return nil
	}

	var wg sync.WaitGroup
	for range f.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.work(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (f *Forwarder) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-f.queue:
			forwardQueueDepth.Set(float64(len(f.queue)))
			f.send(ctx, ev)
		}
	}
}

func (f *Forwarder) send(ctx context.Context, ev OutboundEvent) {
	err := f.client.PostEvent(ctx, ev)
	eventsForwarded.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		f.logger.Warn("event forward failed",
			"object", ev.Object,
			"event", ev.Event,
			"error", err,
		)
		return
	}
	f.logger.Debug("event forwarded", "object", ev.Object, "event", ev.Event)
}
