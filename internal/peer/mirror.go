package peer

import (
	"errors"
	"fmt"

	"github.com/nerrad567/roomlink/internal/room"
)

// Mirror copies a peer's objects into the local registry as
// "<prefix><node>.<object>" entries. Each object is applied with
// room.Object.Update, so local callbacks see mirrored changes as events.
type Mirror struct {
	registry *room.Registry
	prefix   string
	logger   Logger
}

// NewMirror creates a mirror writing into reg.
func NewMirror(reg *room.Registry, prefix string, logger Logger) *Mirror {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Mirror{registry: reg, prefix: prefix, logger: logger}
}

// Name returns the local registry name used for object on node.
func (m *Mirror) Name(node, object string) string {
	return m.prefix + node + "." + object
}

// Apply updates (creating if needed) one local entry per object in s.
// A bad value in one object does not stop the others.
func (m *Mirror) Apply(s Snapshot) error {
	var errs []error
	for name, obj := range s.Objects {
		local := m.Name(s.Node, name)
		if err := m.registry.GetOrCreate(local).Update(obj); err != nil {
			errs = append(errs, fmt.Errorf("mirroring %s: %w", local, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		m.logger.Warn("peer mirror incomplete", "node", s.Node, "error", err)
		return err
	}
	m.logger.Debug("peer mirrored", "node", s.Node, "objects", len(s.Objects))
	return nil
}
