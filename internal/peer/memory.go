package peer

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/nerrad567/roomlink/internal/room"
)

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]Snapshot
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: make(map[string]Snapshot)}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, s Snapshot) error {
	if s.Node == "" {
		return ErrInvalidSnapshot
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[s.Node] = clone(s)
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, node string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.nodes[node]
	if !ok {
		return nil, ErrNotFound
	}
	c := clone(s)
	return &c, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.nodes))
	for _, s := range m.nodes {
		out = append(out, clone(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
	return out, nil
}

// clone copies the maps and slices of s one level deep.
func clone(s Snapshot) Snapshot {
	s.Addresses = slices.Clone(s.Addresses)
	objects := make(map[string]room.ObjectSnapshot, len(s.Objects))
	for name, obj := range s.Objects {
		obj.Values = maps.Clone(obj.Values)
		objects[name] = obj
	}
	s.Objects = objects
	return s
}
