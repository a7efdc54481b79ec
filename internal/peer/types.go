package peer

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/roomlink/internal/room"
)

// ErrNotFound is returned by Store.Get for a node that never pushed.
var ErrNotFound = errors.New("peer: node not found")

// ErrInvalidSnapshot is returned for a snapshot without a node name.
var ErrInvalidSnapshot = errors.New("peer: snapshot has no node name")

// Snapshot is the latest state pushed by one peer node.
type Snapshot struct {
	Node       string                         `json:"name"`
	Addresses  []string                       `json:"current_ip"`
	Objects    map[string]room.ObjectSnapshot `json:"objects"`
	ReceivedAt time.Time                      `json:"received_at"`
}

// Store keeps the most recent snapshot per peer node.
type Store interface {
	// Save replaces the snapshot held for s.Node.
	Save(ctx context.Context, s Snapshot) error

	// Get returns the snapshot for node, or ErrNotFound.
	Get(ctx context.Context, node string) (*Snapshot, error)

	// List returns every stored snapshot ordered by node name.
	List(ctx context.Context) ([]Snapshot, error)
}

// Logger defines the logging interface used by this package.
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
