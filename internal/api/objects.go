package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/roomlink/internal/peer"
	"github.com/nerrad567/roomlink/internal/room"
)

// objectView is one registry entry in the JSON API.
type objectView struct {
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Values    map[string]any `json:"values"`
	Health    room.Health    `json:"health"`
	IsPromise bool           `json:"is_promise"`
}

func viewOf(ref *room.Ref) objectView {
	snap := ref.Snapshot()
	return objectView{
		Name:      ref.Name(),
		Type:      snap.Type,
		Values:    snap.Values,
		Health:    snap.Health,
		IsPromise: ref.IsPromise(),
	}
}

// handleListObjects lists registry entries in attach order.
func (s *Server) handleListObjects(w http.ResponseWriter, _ *http.Request) {
	objects := make([]objectView, 0, s.registry.Len())
	for ref := range s.registry.All() {
		objects = append(objects, viewOf(ref))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"objects": objects,
		"count":   len(objects),
	})
}

// handleGetObject returns one entry. Like POST /event it never creates.
func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ref, ok := s.registry.Get(name)
	if !ok {
		errNotFound.write(w, "object not found")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(ref))
}

// handleListPeers lists the latest snapshot of every peer.
func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := s.peers.Store().List(r.Context())
	if err != nil {
		s.logger.Error("listing peers failed", "error", err)
		errInternal.write(w, "failed to list peers")
		return
	}
	if peers == nil {
		peers = []peer.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"peers": peers,
		"count": len(peers),
	})
}

// handleGetPeer returns the latest snapshot from one peer.
func (s *Server) handleGetPeer(w http.ResponseWriter, r *http.Request) {
	snap, err := s.peers.Store().Get(r.Context(), chi.URLParam(r, "name"))
	if errors.Is(err, peer.ErrNotFound) {
		errNotFound.write(w, "peer not found")
		return
	}
	if err != nil {
		s.logger.Error("loading peer failed", "error", err)
		errInternal.write(w, "failed to load peer")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
