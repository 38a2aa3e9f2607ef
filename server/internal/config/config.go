package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "score < 45", "ph < 6.5",
	// "sensors_connected < 4", "category == critical".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default values for the server configuration.
const (
	DefaultHTTPPort       = 8080
	DefaultLogLevel       = "info"
	DefaultDeviceHeader   = "X-Device-ID"
	DefaultDeviceID       = "esp32-default"
	DefaultEvictAfter     = 5 * time.Minute
	DefaultActiveWithin   = 2 * time.Minute
	DefaultStreamInterval = 5 * time.Second
	DefaultMetricsPath    = "/metrics"
	DefaultMQTTTopic      = "biofloc/+/reading"
	DefaultMQTTClientID   = "biofloc-server"
	DefaultMQTTQueueSize  = 1000
	DefaultMQTTWorkers    = 4
	DefaultKafkaTopic     = "biofloc.readings.scored"
	DefaultKafkaBuffer    = 1000
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, WebSocket hub and metrics listen on.
	HTTPPort int `yaml:"http_port"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// Auth configures how ingestion clients authenticate.
	Auth AuthConfig `yaml:"auth"`

	// Devices controls device identification and the freshness windows.
	Devices DevicesConfig `yaml:"devices"`

	// Stream controls the WebSocket fleet broadcast.
	Stream StreamConfig `yaml:"stream"`

	// Metrics controls the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// MQTT configures the optional MQTT reading receiver.
	MQTT MQTTConfig `yaml:"mqtt"`

	// Kafka configures the optional scored-reading event shipper.
	Kafka KafkaConfig `yaml:"kafka"`

	// Alerts holds rule definitions and webhook delivery targets.
	Alerts AlertsConfig `yaml:"alerts"`
}

// AuthConfig controls client authentication on POST /predict.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name to read the key from.
	// Defaults to "X-API-Key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "X-API-Key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "X-API-Key"
}

// DevicesConfig controls how readings are attributed and how long devices
// are tracked.
type DevicesConfig struct {
	// Header carries the device identifier on POST /predict.
	Header string `yaml:"header"`

	// DefaultID is used when a reading carries no identifier.
	DefaultID string `yaml:"default_id"`

	// EvictAfter is how long a silent device stays in the registry. Default: 5m.
	EvictAfter time.Duration `yaml:"evict_after"`

	// ActiveWithin is how recently a device must have reported to count as
	// active. Must not exceed EvictAfter. Default: 2m.
	ActiveWithin time.Duration `yaml:"active_within"`
}

// StreamConfig controls the WebSocket hub.
type StreamConfig struct {
	// Interval between fleet broadcasts. Default: 5s.
	Interval time.Duration `yaml:"interval"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MQTTConfig configures the MQTT receiver.
type MQTTConfig struct {
	Enabled bool `yaml:"enabled"`

	// Broker is the broker URL, e.g. tcp://mosquitto:1883.
	Broker string `yaml:"broker"`

	// Topic is the subscription filter. The segment matched by the first
	// "+" wildcard is taken as the device id.
	Topic string `yaml:"topic"`

	ClientID string `yaml:"client_id"`

	// QoS is 0, 1 or 2. Default: 1.
	QoS byte `yaml:"qos"`

	// QueueSize bounds the number of messages waiting for a worker.
	QueueSize int `yaml:"queue_size"`

	// Workers is the number of goroutines draining the queue.
	Workers int `yaml:"workers"`

	// UsernameEnv and PasswordEnv name environment variables holding broker
	// credentials. Both optional.
	UsernameEnv string `yaml:"username_env"`
	PasswordEnv string `yaml:"password_env"`
}

// Username returns the broker username resolved from the environment.
func (m MQTTConfig) Username() string {
	if m.UsernameEnv == "" {
		return ""
	}
	return os.Getenv(m.UsernameEnv)
}

// Password returns the broker password resolved from the environment.
func (m MQTTConfig) Password() string {
	if m.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(m.PasswordEnv)
}

// KafkaConfig configures the scored-reading event shipper.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`

	// BufferSize is the maximum number of events held in memory while the
	// brokers are unreachable. The oldest event is dropped on overflow.
	BufferSize int `yaml:"buffer_size"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes into a validated Config with defaults applied.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with default values. The server
// runs on defaults alone when no config file is given.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			LogLevel: DefaultLogLevel,
			Devices: DevicesConfig{
				Header:       DefaultDeviceHeader,
				DefaultID:    DefaultDeviceID,
				EvictAfter:   DefaultEvictAfter,
				ActiveWithin: DefaultActiveWithin,
			},
			Stream: StreamConfig{
				Interval: DefaultStreamInterval,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    DefaultMetricsPath,
			},
			MQTT: MQTTConfig{
				Topic:     DefaultMQTTTopic,
				ClientID:  DefaultMQTTClientID,
				QoS:       1,
				QueueSize: DefaultMQTTQueueSize,
				Workers:   DefaultMQTTWorkers,
			},
			Kafka: KafkaConfig{
				Topic:      DefaultKafkaTopic,
				BufferSize: DefaultKafkaBuffer,
			},
		},
	}
}

// Windows returns the eviction and activity windows the registry will use,
// with a zero value replaced by its default.
func (d DevicesConfig) Windows() (evictAfter, activeWithin time.Duration) {
	evictAfter, activeWithin = d.EvictAfter, d.ActiveWithin
	if evictAfter == 0 {
		evictAfter = DefaultEvictAfter
	}
	if activeWithin == 0 {
		activeWithin = DefaultActiveWithin
	}
	return evictAfter, activeWithin
}

// SlogLevel converts LogLevel to a slog.Level. Unknown values map to info.
func (s ServerConfig) SlogLevel() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Devices.EvictAfter < 0 || s.Devices.ActiveWithin < 0 {
		return fmt.Errorf("server.devices windows must not be negative")
	}
	if evict, active := s.Devices.Windows(); active > evict {
		return fmt.Errorf("server.devices.active_within %s exceeds evict_after %s",
			active, evict)
	}
	if s.Stream.Interval <= 0 {
		return fmt.Errorf("server.stream.interval must be positive")
	}
	if s.Metrics.Enabled && !strings.HasPrefix(s.Metrics.Path, "/") {
		return fmt.Errorf("server.metrics.path %q must start with /", s.Metrics.Path)
	}
	if s.MQTT.Enabled {
		if s.MQTT.Broker == "" {
			return fmt.Errorf("server.mqtt.broker is required when mqtt is enabled")
		}
		if s.MQTT.QoS > 2 {
			return fmt.Errorf("server.mqtt.qos %d is out of range [0, 2]", s.MQTT.QoS)
		}
		if s.MQTT.Workers <= 0 || s.MQTT.QueueSize <= 0 {
			return fmt.Errorf("server.mqtt.workers and queue_size must be positive")
		}
	}
	if s.Kafka.Enabled {
		if len(s.Kafka.Brokers) == 0 {
			return fmt.Errorf("server.kafka.brokers is required when kafka is enabled")
		}
		if strings.TrimSpace(s.Kafka.Topic) == "" {
			return fmt.Errorf("server.kafka.topic must not be empty")
		}
		if s.Kafka.BufferSize <= 0 {
			return fmt.Errorf("server.kafka.buffer_size must be positive")
		}
	}
	for i, r := range s.Alerts.Rules {
		if r.Name == "" || r.Condition == "" {
			return fmt.Errorf("server.alerts.rules[%d]: name and condition are required", i)
		}
	}
	return nil
}
