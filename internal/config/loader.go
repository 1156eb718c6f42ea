package config

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/melonhq/dashfeed/internal/hub"
	"github.com/melonhq/dashfeed/internal/logging"
	"github.com/melonhq/dashfeed/internal/stream"
)

// DirName is the per-project configuration directory.
const DirName = ".dashfeed"

// TokenEnvVar holds the client bearer token, in .dashfeed/.env or the
// process environment.
const TokenEnvVar = "DASHFEED_TOKEN"

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Client: ClientConfig{
			URL:               stream.DefaultURL,
			ReconnectInterval: stream.DefaultReconnectInterval,
			Backoff:           BackoffFixed,
			HandshakeTimeout:  stream.DefaultHandshakeTimeout,
			ReadLimit:         stream.DefaultReadLimit,
		},
		Server: ServerConfig{
			Addr:      hub.DefaultAddr,
			Path:      hub.DefaultPath,
			SendQueue: hub.DefaultSendQueue,
			RateLimit: RateLimitConfig{
				MaxRequests: hub.DefaultRateLimitConfig().MaxRequests,
				Window:      hub.DefaultRateLimitConfig().Window,
			},
		},
		Log: LogConfig{Level: "warn"},
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// Load reads config.yaml and the bearer token for basePath. The token is
// taken from the process environment when set, otherwise from .dashfeed/.env.
func Load(basePath string) (*Config, error) {
	cfg, err := LoadConfig(basePath)
	if err != nil {
		return nil, err
	}

	env, err := LoadEnvFile(basePath)
	if err != nil {
		return nil, err
	}
	cfg.Token = env[TokenEnvVar]
	if v := os.Getenv(TokenEnvVar); v != "" {
		cfg.Token = v
	}

	return cfg, nil
}

// LoadConfig reads and parses .dashfeed/config.yaml from the given base path.
// If the file doesn't exist, returns default config.
// Applies defaults for any missing fields.
func LoadConfig(basePath string) (*Config, error) {
	configPath := filepath.Join(basePath, DirName, "config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// WriteConfig writes cfg to .dashfeed/config.yaml, creating the directory.
func WriteConfig(basePath string, cfg *Config) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}

	dir := filepath.Join(basePath, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ValidateConfig checks that all config values are valid.
func ValidateConfig(cfg *Config) error {
	if err := ValidateClientConfig(&cfg.Client); err != nil {
		return err
	}
	if err := ValidateServerConfig(&cfg.Server); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return ValidationError{Field: "log.level", Message: "must be one of debug, info, warn, error"}
	}
	return nil
}

// ValidateClientConfig checks that client config values are valid.
func ValidateClientConfig(c *ClientConfig) error {
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return ValidationError{Field: "client.url", Message: "must be a ws:// or wss:// URL"}
	}
	if c.ReconnectInterval <= 0 {
		return ValidationError{Field: "client.reconnect_interval", Message: "must be positive"}
	}
	if c.MaxReconnectAttempts < 0 {
		return ValidationError{Field: "client.max_reconnect_attempts", Message: "must not be negative"}
	}
	switch c.Backoff {
	case BackoffFixed, BackoffExponential:
	default:
		return ValidationError{Field: "client.backoff", Message: "must be fixed or exponential"}
	}
	if c.MaxReconnectInterval < 0 {
		return ValidationError{Field: "client.max_reconnect_interval", Message: "must not be negative"}
	}
	if c.MaxReconnectInterval > 0 && c.MaxReconnectInterval < c.ReconnectInterval {
		return ValidationError{Field: "client.max_reconnect_interval", Message: "must not be less than reconnect_interval"}
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return ValidationError{Field: "client.jitter", Message: "must be between 0 and 1"}
	}
	if c.HandshakeTimeout < 0 {
		return ValidationError{Field: "client.handshake_timeout", Message: "must not be negative"}
	}
	if c.ReadLimit < 0 {
		return ValidationError{Field: "client.read_limit", Message: "must not be negative"}
	}
	return nil
}

// ValidateServerConfig checks that server config values are valid.
func ValidateServerConfig(s *ServerConfig) error {
	if s.Addr == "" {
		return ValidationError{Field: "server.addr", Message: "required field is empty"}
	}
	if !strings.HasPrefix(s.Path, "/") {
		return ValidationError{Field: "server.path", Message: "must start with /"}
	}
	if s.SendQueue < 0 {
		return ValidationError{Field: "server.send_queue", Message: "must not be negative"}
	}
	if s.RateLimit.MaxRequests < 0 {
		return ValidationError{Field: "server.rate_limit.max_requests", Message: "must not be negative"}
	}
	if s.RateLimit.Window < 0 {
		return ValidationError{Field: "server.rate_limit.window", Message: "must not be negative"}
	}
	return nil
}

// ReconnectPolicy returns the stream reconnect policy described by c.
func (c ClientConfig) ReconnectPolicy() stream.ReconnectPolicy {
	if c.Backoff == BackoffExponential {
		return stream.ExponentialBackoff{
			Initial: c.ReconnectInterval,
			Max:     c.MaxReconnectInterval,
			Jitter:  c.Jitter,
		}
	}
	return stream.FixedDelay(c.ReconnectInterval)
}

// ClientOptions maps the config to stream client options.
func (cfg *Config) ClientOptions() []stream.ClientOption {
	return []stream.ClientOption{
		stream.WithReconnectPolicy(cfg.Client.ReconnectPolicy()),
		stream.WithMaxReconnectAttempts(cfg.Client.MaxReconnectAttempts),
		stream.WithHandshakeTimeout(cfg.Client.HandshakeTimeout),
		stream.WithReadLimit(cfg.Client.ReadLimit),
		stream.WithAuthToken(cfg.Token),
	}
}

// HubConfig maps the server section to a hub configuration.
func (cfg *Config) HubConfig() hub.Config {
	rl := hub.DefaultRateLimitConfig()
	if cfg.Server.RateLimit.MaxRequests > 0 {
		rl.MaxRequests = cfg.Server.RateLimit.MaxRequests
	}
	if cfg.Server.RateLimit.Window > 0 {
		rl.Window = cfg.Server.RateLimit.Window
	}
	return hub.Config{
		Addr:      cfg.Server.Addr,
		Path:      cfg.Server.Path,
		TokenHash: cfg.Server.TokenHash,
		SendQueue: cfg.Server.SendQueue,
		RateLimit: rl,
	}
}

// LogLevel returns the configured log level, falling back to warn.
func (cfg *Config) LogLevel() logging.Level {
	level, _ := logging.ParseLevel(cfg.Log.Level)
	return level
}

// LoadEnvFile parses .dashfeed/.env into a map of key-value pairs.
// The file format is KEY=VALUE per line. Lines starting with # are comments.
// Empty lines are ignored.
func LoadEnvFile(basePath string) (map[string]string, error) {
	envPath := filepath.Join(basePath, DirName, ".env")

	file, err := os.Open(envPath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer file.Close()

	env := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid env file line %d: missing '='", lineNum)
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))

		if key == "" {
			return nil, fmt.Errorf("invalid env file line %d: empty key", lineNum)
		}

		env[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	return env, nil
}

// WriteEnvFile writes env to .dashfeed/.env with owner-only permissions.
// Keys are written in sorted order.
func WriteEnvFile(basePath string, env map[string]string) error {
	dir := filepath.Join(basePath, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%s\n", k, env[k])
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(sb.String()), 0o600); err != nil {
		return fmt.Errorf("failed to write env file: %w", err)
	}
	return nil
}

// unquote strips one pair of surrounding single or double quotes.
func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

