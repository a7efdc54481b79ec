package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for a RoomLink node.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Downlink  DownlinkConfig  `yaml:"downlink"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	GPIO      GPIOConfig      `yaml:"gpio"`
	Drivers   []DriverConfig  `yaml:"drivers"`
}

// NodeConfig identifies this node to the hub.
type NodeConfig struct {
	// Name is sent as "name" in every uplink and event payload.
	Name string `yaml:"name"`

	// AuthToken is the shared secret echoed as "auth" in outbound payloads.
	AuthToken string `yaml:"auth_token"`
}

// GatewayConfig contains the hub synchronisation settings.
type GatewayConfig struct {
	// Hub is the remote hub address as host:port. Empty disables the uplink
	// loop and event forwarding; the node still serves its own endpoints.
	Hub string `yaml:"hub"`

	// Interval is the uplink period in seconds. Default: 15
	Interval int `yaml:"interval"`

	// RequestTimeout bounds every outbound HTTP call, in seconds. Default: 10
	RequestTimeout int `yaml:"request_timeout"`

	// Advertise overrides the discovered local addresses when non-empty.
	Advertise []string `yaml:"advertise"`

	// IncludePrivateBridges keeps 172.x addresses (docker bridges) during
	// address discovery.
	IncludePrivateBridges bool `yaml:"include_private_bridges"`

	// ForwardQueue is the capacity of the outbound event queue. Default: 256
	ForwardQueue int `yaml:"forward_queue"`

	// ForwardWorkers is the number of goroutines draining the event queue. Default: 2
	ForwardWorkers int `yaml:"forward_workers"`

	// UnknownObjectStatus is the HTTP status returned by POST /event for an
	// object that is not registered. Default: 401 (what existing hubs expect).
	UnknownObjectStatus int `yaml:"unknown_object_status"`

	// EnforceToken rejects inbound /event and /downlink requests whose
	// "auth" does not match node.auth_token.
	EnforceToken bool `yaml:"enforce_token"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// DownlinkConfig controls what happens to snapshots pushed by peers.
type DownlinkConfig struct {
	// Store selects the peer sink: "memory" or "sqlite". Default: memory
	Store string `yaml:"store"`

	// Mirror applies received peer objects onto local registry entries.
	Mirror bool `yaml:"mirror"`

	// MirrorPrefix is prepended to "<peer>.<object>" for mirrored entries.
	MirrorPrefix string `yaml:"mirror_prefix"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// TelemetryConfig controls the periodic value recorder.
type TelemetryConfig struct {
	// Interval is the sampling period in seconds. Default: 60
	Interval int `yaml:"interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// When Path is empty, no log file is written.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// GPIOConfig selects how pin drivers reach hardware.
type GPIOConfig struct {
	// Backend is "sim" or "sysfs". Default: sim
	Backend string `yaml:"backend"`

	// SysfsRoot overrides /sys/class/gpio for the sysfs backend.
	SysfsRoot string `yaml:"sysfs_root"`
}

// DriverConfig declares one device driver instance.
//
// Params is decoded by the driver itself into its typed configuration.
type DriverConfig struct {
	Kind   string         `yaml:"kind"`
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ROOMLINK_SECTION_KEY
// For example: ROOMLINK_GATEWAY_HUB, ROOMLINK_NODE_AUTH_TOKEN
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied. It is used when no config file exists.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "roomlink"
	}

	return &Config{
		Node: NodeConfig{
			Name: hostname,
		},
		Gateway: GatewayConfig{
			Interval:            15,
			RequestTimeout:      10,
			ForwardQueue:        256,
			ForwardWorkers:      2,
			UnknownObjectStatus: 401,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 47670,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Downlink: DownlinkConfig{
			Store:        "memory",
			MirrorPrefix: "",
		},
		Database: DatabaseConfig{
			Path:        "./data/roomlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "roomlink-" + hostname,
			},
			QoS:         1,
			TopicPrefix: "roomlink",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Telemetry: TelemetryConfig{
			Interval: 60,
		},
		GPIO: GPIOConfig{
			Backend: "sim",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     28,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ROOMLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Node
	if v := os.Getenv("ROOMLINK_NODE_NAME"); v != "" {
		cfg.Node.Name = v
	}
	if v := os.Getenv("ROOMLINK_NODE_AUTH_TOKEN"); v != "" {
		cfg.Node.AuthToken = v
	}

	// Gateway
	if v := os.Getenv("ROOMLINK_GATEWAY_HUB"); v != "" {
		cfg.Gateway.Hub = v
	}
	if v := os.Getenv("ROOMLINK_GATEWAY_ADVERTISE"); v != "" {
		cfg.Gateway.Advertise = splitList(v)
	}

	// API
	if v := os.Getenv("ROOMLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("ROOMLINK_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Database
	if v := os.Getenv("ROOMLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("ROOMLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ROOMLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ROOMLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("ROOMLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// GPIO
	if v := os.Getenv("ROOMLINK_GPIO_BACKEND"); v != "" {
		cfg.GPIO.Backend = v
	}

	// Logging
	if v := os.Getenv("ROOMLINK_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// splitList splits a comma-separated environment value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Node.Name == "" {
		errs = append(errs, "node.name is required")
	}

	if c.Gateway.Interval < 1 {
		errs = append(errs, "gateway.interval must be at least 1 second")
	}
	if c.Gateway.RequestTimeout < 1 {
		errs = append(errs, "gateway.request_timeout must be at least 1 second")
	}
	if c.Gateway.ForwardQueue < 1 {
		errs = append(errs, "gateway.forward_queue must be positive")
	}
	if c.Gateway.ForwardWorkers < 1 {
		errs = append(errs, "gateway.forward_workers must be positive")
	}
	if c.Gateway.UnknownObjectStatus < 400 || c.Gateway.UnknownObjectStatus > 499 {
		errs = append(errs, "gateway.unknown_object_status must be a 4xx status")
	}
	if c.Gateway.EnforceToken && c.Node.AuthToken == "" {
		errs = append(errs, "gateway.enforce_token requires node.auth_token (set ROOMLINK_NODE_AUTH_TOKEN)")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	switch c.Downlink.Store {
	case "memory":
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required when downlink.store is sqlite")
		}
	default:
		errs = append(errs, "downlink.store must be memory or sqlite")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Telemetry.Interval < 1 {
		errs = append(errs, "telemetry.interval must be at least 1 second")
	}

	switch c.GPIO.Backend {
	case "sim", "sysfs":
	default:
		errs = append(errs, "gpio.backend must be sim or sysfs")
	}

	seen := make(map[string]bool, len(c.Drivers))
	for i, d := range c.Drivers {
		if d.Kind == "" {
			errs = append(errs, fmt.Sprintf("drivers[%d].kind is required", i))
		}
		if d.Name == "" {
			errs = append(errs, fmt.Sprintf("drivers[%d].name is required", i))
		} else if seen[d.Name] {
			errs = append(errs, fmt.Sprintf("drivers[%d].name %q is duplicated", i, d.Name))
		}
		seen[d.Name] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// UplinkInterval returns the uplink period as a Duration.
func (c *Config) UplinkInterval() time.Duration {
	return time.Duration(c.Gateway.Interval) * time.Second
}

// RequestTimeout returns the outbound HTTP timeout as a Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Gateway.RequestTimeout) * time.Second
}

// TelemetryInterval returns the recorder sampling period as a Duration.
func (c *Config) TelemetryInterval() time.Duration {
	return time.Duration(c.Telemetry.Interval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
