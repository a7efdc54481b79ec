package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/roomlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/roomlink/internal/room"
)

// DefaultInterval is the state republish period when none is configured.
const DefaultInterval = 15 * time.Second

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Logger is satisfied by logging.Logger.
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

// Command is the body of a message on roomlink/<node>/command/<object>.
type Command struct {
	Event  string         `json:"event"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

var brokerMessages = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "roomlink",
		Subsystem: "broker",
		Name:      "messages_total",
		Help:      "MQTT messages handled by the broker bridge, by direction and result",
	},
	[]string{"direction", "result"},
)

func init() {
	prometheus.MustRegister(brokerMessages)
}

// Bridge mirrors the registry onto an MQTT broker: retained object
// snapshots go out on the state topics, events come in on the command
// topics and run on local handlers exactly like POST /event.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	client   MQTTClient
	topics   mqtt.Topics
	registry *room.Registry
	interval time.Duration
	qos      byte
	logger   Logger
}

// Deps holds the dependencies of a Bridge.
type Deps struct {
	Client   MQTTClient
	Topics   mqtt.Topics
	Registry *room.Registry
	Interval time.Duration
	QoS      byte
	Logger   Logger
}

// New creates a bridge. Call Run to start it.
func New(deps Deps) (*Bridge, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("broker: mqtt client is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("broker: registry is required")
	}
	if deps.Topics.Node == "" {
		return nil, fmt.Errorf("broker: node name is required")
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	var logger Logger = noopLogger{}
	if deps.Logger != nil {
		logger = deps.Logger
	}
	return &Bridge{
		client:   deps.Client,
		topics:   deps.Topics,
		registry: deps.Registry,
		interval: deps.Interval,
		qos:      deps.QoS,
		logger:   logger,
	}, nil
}

// Run subscribes to the command topics, publishes every snapshot at once
// and then on every tick until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	topic := b.topics.AllCommands()
	if err := b.client.Subscribe(topic, b.qos, b.HandleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("broker bridge started", "commands", topic, "interval", b.interval)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		b.PublishAll()
		select {
		case <-ctx.Done():
			b.logger.Info("broker bridge stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// PublishAll publishes the retained snapshot of every registry entry.
// It returns the number of snapshots published. Nothing is attempted
// while the client is disconnected.
func (b *Bridge) PublishAll() int {
	if !b.client.IsConnected() {
		b.logger.Debug("broker disconnected, skipping state publish")
		return 0
	}
	n := 0
	for ref := range b.registry.All() {
		if err := b.PublishObject(ref); err != nil {
			b.logger.Warn("state publish failed", "object", ref.Name(), "error", err)
			continue
		}
		n++
	}
	return n
}

// PublishObject publishes one retained snapshot.
func (b *Bridge) PublishObject(ref *room.Ref) error {
	body, err := json.Marshal(ref.Snapshot())
	if err != nil {
		brokerMessages.WithLabelValues("out", "error").Inc()
		return fmt.Errorf("encoding %s: %w", ref.Name(), err)
	}
	if err := b.client.Publish(b.topics.State(ref.Name()), body, b.qos, true); err != nil {
		brokerMessages.WithLabelValues("out", "error").Inc()
		return err
	}
	brokerMessages.WithLabelValues("out", "ok").Inc()
	return nil
}

// HandleCommand runs one command message. It is the subscription handler
// for the command topics; returned errors are logged by the mqtt client.
func (b *Bridge) HandleCommand(topic string, payload []byte) error {
	err := b.handleCommand(topic, payload)
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownObject):
		result = "unknown_object"
	case errors.Is(err, ErrBadCommand), errors.Is(err, ErrBadTopic):
		result = "bad_request"
	default:
		result = "handler_failed"
	}
	brokerMessages.WithLabelValues("in", result).Inc()
	return err
}

func (b *Bridge) handleCommand(topic string, payload []byte) error {
	name, ok := b.topics.ObjectFromCommand(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBadTopic, topic)
	}

	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrBadCommand, err)
	}
	if cmd.Event == "" {
		return fmt.Errorf("%w: event is required", ErrBadCommand)
	}

	ref, ok := b.registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObject, name)
	}

	b.logger.Debug("mqtt command", "object", name, "event", cmd.Event)
	err := ref.RemoteEvent(cmd.Event, cmd.Args, cmd.Kwargs)
	if errors.Is(err, room.ErrNoHandler) {
		b.logger.Info("mqtt command has no handler", "object", name, "event", cmd.Event)
		return nil
	}
	return err
}
