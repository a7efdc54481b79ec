package api

import (
	"context"
	"net/http"
	"time"

	"github.com/nerrad567/roomlink/internal/gateway"
)

// healthCheckTimeout bounds the dependency checks made by /health.
const healthCheckTimeout = 2 * time.Second

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Node      string          `json:"node"`
	Addresses []string        `json:"addresses"`
	Objects   int             `json:"objects"`
	Uplink    *gateway.Status `json:"uplink,omitempty"`
	MQTT      string          `json:"mqtt,omitempty"`
	Database  string          `json:"database,omitempty"`
}

// handleHealth reports node identity and the state of each optional
// collaborator. A failing dependency marks the node "degraded" but the
// response is still 200 so the node stays reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Version:   s.version,
		Node:      s.identity.Name,
		Addresses: s.identity.Addresses,
		Objects:   s.registry.Len(),
	}
	if resp.Addresses == nil {
		resp.Addresses = []string{}
	}

	if s.uplink != nil {
		st := s.uplink.Status()
		resp.Uplink = &st
		if st.State == gateway.StateFailed {
			resp.Status = "degraded"
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if s.mqtt != nil {
		resp.MQTT = "connected"
		if err := s.mqtt.HealthCheck(ctx); err != nil {
			resp.MQTT = "disconnected"
			resp.Status = "degraded"
		}
	}
	if s.db != nil {
		resp.Database = "ok"
		if err := s.db.HealthCheck(ctx); err != nil {
			resp.Database = "error"
			resp.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
