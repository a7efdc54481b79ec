package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Inbound event outcomes.
const (
	inboundOK         = "ok"
	inboundNoHandler  = "no_handler"
	inboundUnknown    = "unknown_object"
	inboundBadRequest = "bad_request"
	inboundForbidden  = "forbidden"
	inboundFailed     = "handler_failed"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "roomlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	inboundEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomlink",
			Subsystem: "api",
			Name:      "inbound_events_total",
			Help:      "Events received from the hub or the JSON API, by outcome",
		},
		[]string{"result"},
	)

	wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "roomlink",
			Subsystem: "api",
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, inboundEvents, wsClients)
}

// SystemMetrics is the JSON runtime summary served on /api/v1/metrics.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	MQTT          MQTTMetrics      `json:"mqtt"`
	Objects       ObjectMetrics    `json:"objects"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Configured bool `json:"configured"`
	Connected  bool `json:"connected"`
}

// ObjectMetrics summarises the registry.
type ObjectMetrics struct {
	Total    int            `json:"total"`
	Promises int            `json:"promises"`
	Faulted  int            `json:"faulted"`
	ByType   map[string]int `json:"by_type"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Objects: s.objectMetrics(),
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{Configured: true, Connected: s.mqtt.IsConnected()}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) objectMetrics() ObjectMetrics {
	m := ObjectMetrics{ByType: make(map[string]int)}
	for ref := range s.registry.All() {
		m.Total++
		if ref.IsPromise() {
			m.Promises++
		}
		if ref.Health().Fault {
			m.Faulted++
		}
		m.ByType[ref.Type()]++
	}
	return m
}
