package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/roomlink/internal/gateway"
	"github.com/nerrad567/roomlink/internal/infrastructure/config"
	"github.com/nerrad567/roomlink/internal/infrastructure/database"
	"github.com/nerrad567/roomlink/internal/infrastructure/logging"
	"github.com/nerrad567/roomlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/roomlink/internal/peer"
	"github.com/nerrad567/roomlink/internal/room"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Gateway  config.GatewayConfig
	Logger   *logging.Logger
	Registry *room.Registry

	// Identity is what GET /uplink reports about this node.
	Identity gateway.Identity

	// Peers receives POST /downlink payloads. Defaults to an in-memory
	// store without mirroring.
	Peers *peer.Receiver

	// Optional collaborators, reported by health and metrics endpoints.
	Uplink    *gateway.Uplink
	Forwarder *gateway.Forwarder
	MQTT      *mqtt.Client
	DB        *database.DB

	Version string
}

// Server is the HTTP surface of a node: the hub-facing wire endpoints,
// the JSON API and the WebSocket event stream.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	gwCfg     config.GatewayConfig
	logger    *logging.Logger
	registry  *room.Registry
	identity  gateway.Identity
	peers     *peer.Receiver
	uplink    *gateway.Uplink
	mqtt      *mqtt.Client
	db        *database.DB
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc
}

// New creates a new API server. The WebSocket hub is created here so
// events can be broadcast before Start; nothing listens until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("object registry is required")
	}
	if deps.Gateway.UnknownObjectStatus == 0 {
		deps.Gateway.UnknownObjectStatus = http.StatusUnauthorized
	}
	if deps.Peers == nil {
		deps.Peers = peer.NewReceiver(peer.NewMemoryStore(), nil, deps.Logger)
	}

	s := &Server{
		cfg:       deps.Config,
		gwCfg:     deps.Gateway,
		logger:    deps.Logger,
		registry:  deps.Registry,
		identity:  deps.Identity,
		peers:     deps.Peers,
		uplink:    deps.Uplink,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
	}

	// Every locally emitted event reaches the forwarder; relay it live.
	if deps.Forwarder != nil {
		deps.Forwarder.Observe(func(ev room.Event) {
			s.hub.Broadcast(ChannelObjectEvent, eventMessage(ev, sourceLocal))
		})
	}
	s.peers.OnSnapshot(func(snap peer.Snapshot) {
		s.hub.Broadcast(ChannelPeerSnapshot, snap)
	})

	return s, nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds
// for in-flight requests.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
