package config

import "time"

// Backoff policy names accepted in client.backoff.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// ClientConfig configures the stream client.
type ClientConfig struct {
	URL                  string        `yaml:"url"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	Backoff              string        `yaml:"backoff"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval,omitempty"`
	Jitter               float64       `yaml:"jitter,omitempty"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	ReadLimit            int64         `yaml:"read_limit"`
}

// RateLimitConfig bounds POST /notify per client IP.
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// ServerConfig configures the development hub.
type ServerConfig struct {
	Addr      string          `yaml:"addr"`
	Path      string          `yaml:"path"`
	TokenHash string          `yaml:"token_hash,omitempty"`
	SendQueue int             `yaml:"send_queue"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Config represents the .dashfeed/config.yaml file.
type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`

	// Token is the bearer token sent by the client. It comes from the
	// environment, never from config.yaml.
	Token string `yaml:"-"`
}
