package telemetry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nerrad567/roomlink/internal/room"
)

// Measurement names.
const (
	MeasurementValues = "room_values"
	MeasurementHealth = "room_health"
)

// DefaultInterval is the sampling period when none is configured.
const DefaultInterval = 60 * time.Second

// PointWriter is satisfied by *influxdb.Client.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// Logger is satisfied by logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// Recorder samples the registry on a fixed period and writes one point
// per numeric or boolean value plus one health point per object.
//
// Values written with SetValueSilent are sampled like any other, which is
// how high-frequency readings such as load averages reach the
// time-series store without flooding the event path.
type Recorder struct {
	writer   PointWriter
	registry *room.Registry
	node     string
	interval time.Duration
	logger   Logger
}

// Deps holds the dependencies of a Recorder.
type Deps struct {
	Writer   PointWriter
	Registry *room.Registry
	Node     string
	Interval time.Duration
	Logger   Logger
}

// New creates a recorder. Call Run to start sampling.
func New(deps Deps) (*Recorder, error) {
	if deps.Writer == nil {
		return nil, fmt.Errorf("telemetry: writer is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("telemetry: registry is required")
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	var logger Logger = noopLogger{}
	if deps.Logger != nil {
		logger = deps.Logger
	}
	return &Recorder{
		writer:   deps.Writer,
		registry: deps.Registry,
		node:     deps.Node,
		interval: deps.Interval,
		logger:   logger,
	}, nil
}

// Run samples immediately and then on every tick until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("telemetry recorder started", "interval", r.interval)
	for {
		n := r.Record(time.Now())
		r.logger.Debug("telemetry sampled", "points", n)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Record writes one sample of every object stamped ts and returns the
// number of points written. Promises are skipped until resolved.
func (r *Recorder) Record(ts time.Time) int {
	n := 0
	for ref := range r.registry.All() {
		if ref.IsPromise() {
			continue
		}
		snap := ref.Snapshot()
		name := ref.Name()

		keys := make([]string, 0, len(snap.Values))
		for k := range snap.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			v, ok := numeric(snap.Values[key])
			if !ok {
				continue
			}
			r.writer.WritePoint(MeasurementValues, map[string]string{
				"node":   r.node,
				"object": name,
				"type":   snap.Type,
				"key":    key,
			}, map[string]any{"value": v}, ts)
			n++
		}

		r.writer.WritePoint(MeasurementHealth, map[string]string{
			"node":   r.node,
			"object": name,
			"type":   snap.Type,
		}, map[string]any{
			"online": snap.Health.Online,
			"fault":  snap.Health.Fault,
		}, ts)
		n++
	}
	return n
}

// numeric maps stored values onto a float field. Booleans become 0 or 1
// so every value series has one field type. Strings and nil are skipped.
func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
