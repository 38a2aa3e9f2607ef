package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultServerURL    = "http://localhost:8080"
	DefaultDeviceHeader = "X-Device-ID"
	DefaultTimeout      = 10 * time.Second
	DefaultMaxAttempts  = 5
	DefaultRetryDelay   = 200 * time.Millisecond
)

// Config is the top-level configuration file. The agent reads only the
// `agent:` section; the server section is ignored here.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerURL is the base URL of biofloc-server, e.g. http://gateway:8080.
	ServerURL string `yaml:"server_url"`

	// DeviceID is sent in DeviceHeader with every reading. Empty lets the
	// server apply its default id.
	DeviceID     string `yaml:"device_id"`
	DeviceHeader string `yaml:"device_header"`

	// Interval pauses between rows; 0 replays as fast as the server answers.
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts is the number of tries per row for network errors and 5xx.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryDelay is the first backoff delay; it doubles on each retry.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// ServerAuth configures the API key sent on POST /predict.
	ServerAuth AuthConfig `yaml:"server_auth"`

	TLS TLSConfig `yaml:"tls"`
}

// AuthConfig specifies how the agent authenticates to the server.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header name to send the key in. Default: X-API-Key.
	Header string `yaml:"header"`

	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns Header or the default "X-API-Key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "X-API-Key"
}

// TLSConfig holds TLS dial options for an https server URL.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification. Only for
	// gateways with self-signed certificates on a closed farm network.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := cfg.Agent.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			ServerURL:    DefaultServerURL,
			DeviceHeader: DefaultDeviceHeader,
			Timeout:      DefaultTimeout,
			MaxAttempts:  DefaultMaxAttempts,
			RetryDelay:   DefaultRetryDelay,
		},
	}
}

// Validate checks required fields and structural constraints. The agent
// binary calls it again after applying command-line overrides.
func (a AgentConfig) Validate() error {
	if a.ServerURL == "" {
		return fmt.Errorf("agent.server_url is required")
	}
	u, err := url.Parse(a.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("agent.server_url %q must be an absolute http(s) URL", a.ServerURL)
	}
	if a.DeviceHeader == "" {
		return fmt.Errorf("agent.device_header must not be empty")
	}
	if a.Interval < 0 {
		return fmt.Errorf("agent.interval must not be negative")
	}
	if a.Timeout <= 0 {
		return fmt.Errorf("agent.timeout must be positive")
	}
	if a.MaxAttempts <= 0 {
		return fmt.Errorf("agent.max_attempts must be positive")
	}
	if a.RetryDelay < 0 {
		return fmt.Errorf("agent.retry_delay must not be negative")
	}
	switch a.ServerAuth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("agent.server_auth: unknown mode %q", a.ServerAuth.Mode)
	}
	return nil
}
