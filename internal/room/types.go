package room

import (
	"encoding/json"
	"fmt"
	"math"
)

// TypeUnknown is the type of a promise object that has not been resolved.
const TypeUnknown = "unknown"

// Logger defines the logging interface used by objects and the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Health is the liveness record of an object. It is always replaced as a
// whole; there is no partial merge.
type Health struct {
	Online bool   `json:"online"`
	Fault  bool   `json:"fault"`
	Reason string `json:"reason"`
}

// Event is a single emission from an object.
type Event struct {
	Object string         `json:"object"`
	Name   string         `json:"event"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// Handler is an event callback. A returned error is logged by the
// dispatcher and does not stop other handlers.
type Handler func(args []any, kwargs map[string]any) error

// Forwarder receives every event emitted by the objects it is bound to.
//
// Forward is called on the emitting goroutine after local dispatch and
// must not block.
type Forwarder interface {
	Forward(obj *Object, ev Event)
}

// ObjectSnapshot is the wire form of one object: {type, values, health}.
type ObjectSnapshot struct {
	Type   string         `json:"type"`
	Values map[string]any `json:"values"`
	Health Health         `json:"health"`
}

// UnmarshalJSON accepts attribute maps under either "values" or the
// legacy "data" key emitted by older hubs.
func (s *ObjectSnapshot) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type   string         `json:"type"`
		Values map[string]any `json:"values"`
		Data   map[string]any `json:"data"`
		Health *Health        `json:"health"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	s.Type = raw.Type
	s.Values = raw.Values
	if s.Values == nil {
		s.Values = raw.Data
	}
	if raw.Health != nil {
		s.Health = *raw.Health
	}
	return nil
}

// eventForKey is the event emitted when attribute key changes.
func eventForKey(key string) string {
	return "on_" + key + "_update"
}

// normalizeValue folds numeric types onto float64 so that values compare
// the way they do after a JSON round trip, and rejects non-scalars.
func normalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string:
		return x, nil
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidValue, x.String())
		}
		return finite(f)
	default:
		return nil, fmt.Errorf("%w: %T is not a scalar", ErrInvalidValue, v)
	}
}

// finite rejects NaN and infinities, which JSON cannot carry.
func finite(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, f)
	}
	return f, nil
}
