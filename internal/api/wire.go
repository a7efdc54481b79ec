package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/roomlink/internal/gateway"
	"github.com/nerrad567/roomlink/internal/peer"
	"github.com/nerrad567/roomlink/internal/room"
)

// handleUplink serves the current snapshot of this node, the pull
// counterpart of the periodic push.
func (s *Server) handleUplink(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, gateway.BuildPayload(s.registry, s.identity))
}

// handleDownlink accepts a snapshot pushed by a peer node.
func (s *Server) handleDownlink(w http.ResponseWriter, r *http.Request) {
	var p gateway.Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		errBadRequest.write(w, "invalid JSON body")
		return
	}
	if p.Name == "" {
		errBadRequest.write(w, "name is required")
		return
	}
	if !s.tokenAccepted(p.Auth) {
		s.logger.Warn("downlink rejected: bad token", "node", p.Name)
		errForbidden.write(w, "invalid auth token")
		return
	}

	snap := peer.Snapshot{
		Node:       p.Name,
		Addresses:  p.CurrentIP,
		Objects:    p.Objects,
		ReceivedAt: time.Now().UTC(),
	}
	if err := s.peers.Receive(r.Context(), snap); err != nil {
		s.logger.Error("downlink store failed", "node", p.Name, "error", err)
		errInternal.write(w, "failed to store snapshot")
		return
	}
	writeOK(w)
}

// handleEvent runs an event sent by the hub on a local object.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req gateway.InboundEvent
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		inboundEvents.WithLabelValues(inboundBadRequest).Inc()
		errBadRequest.write(w, "invalid JSON body")
		return
	}
	if req.Object == "" || req.Event == "" {
		inboundEvents.WithLabelValues(inboundBadRequest).Inc()
		errBadRequest.write(w, "object and event are required")
		return
	}
	if !s.tokenAccepted(req.Auth) {
		inboundEvents.WithLabelValues(inboundForbidden).Inc()
		s.logger.Warn("event rejected: bad token", "object", req.Object, "event", req.Event)
		errForbidden.write(w, "invalid auth token")
		return
	}

	if !s.dispatchRemote(w, req) {
		return
	}
	writeOK(w)
}

// handleObjectEvent is the JSON API form of POST /event, addressed by
// URL instead of body.
func (s *Server) handleObjectEvent(w http.ResponseWriter, r *http.Request) {
	var req gateway.InboundEvent
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		inboundEvents.WithLabelValues(inboundBadRequest).Inc()
		errBadRequest.write(w, "invalid JSON body")
		return
	}
	req.Object = chi.URLParam(r, "name")
	if req.Event == "" {
		inboundEvents.WithLabelValues(inboundBadRequest).Inc()
		errBadRequest.write(w, "event is required")
		return
	}
	if !s.tokenAccepted(req.Auth) {
		inboundEvents.WithLabelValues(inboundForbidden).Inc()
		errForbidden.write(w, "invalid auth token")
		return
	}

	if !s.dispatchRemote(w, req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// dispatchRemote resolves req.Object without creating it and runs the
// event on local handlers. It writes the error response itself and
// reports whether the caller should write success.
func (s *Server) dispatchRemote(w http.ResponseWriter, req gateway.InboundEvent) bool {
	ref, ok := s.registry.Get(req.Object)
	if !ok {
		inboundEvents.WithLabelValues(inboundUnknown).Inc()
		s.logger.Warn("event for unknown object", "object", req.Object, "event", req.Event)
		unknownObject(s.gwCfg.UnknownObjectStatus).write(w, "unknown object: "+req.Object)
		return false
	}

	err := ref.RemoteEvent(req.Event, req.Args, req.Kwargs)
	switch {
	case err == nil:
		inboundEvents.WithLabelValues(inboundOK).Inc()
	case errors.Is(err, room.ErrNoHandler):
		inboundEvents.WithLabelValues(inboundNoHandler).Inc()
		s.logger.Info("remote event has no handler", "object", req.Object, "event", req.Event)
	default:
		inboundEvents.WithLabelValues(inboundFailed).Inc()
		s.logger.Error("remote event failed", "object", req.Object, "event", req.Event, "error", err)
		errHandlerFailed.write(w, "event handler failed")
		return false
	}

	s.hub.Broadcast(ChannelObjectEvent, eventMessage(room.Event{
		Object: req.Object,
		Name:   req.Event,
		Args:   req.Args,
		Kwargs: req.Kwargs,
	}, sourceRemote))
	return true
}
