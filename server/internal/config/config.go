package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roomcast/roomcast/server/internal/auth"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort        = 8001
	DefaultSendBuffer      = 64
	DefaultMaxMessageBytes = 4096
	DefaultInitTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTTL         = 5 * time.Minute
	DefaultPrivilege       = "static"
	DefaultAdminKeysEnv    = "ROOMCAST_ADMIN_KEYS"
	DefaultOpsKeyEnv       = "ROOMCAST_OPS_KEY"
	DefaultOpsHeader       = "x-api-key"
	DefaultConnsPerMinute  = 60
	DefaultBurst           = 20
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. Other top-level keys are ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort serves /ws/room/{id}, the ops API, /healthz and /metrics.
	HTTPPort int `yaml:"http_port"`

	// HealthPort is the gRPC health service port. 0 disables it.
	HealthPort int `yaml:"health_port"`

	Log       LogConfig       `yaml:"log"`
	WS        WSConfig        `yaml:"ws"`
	Rooms     RoomsConfig     `yaml:"rooms"`
	Auth      AuthConfig      `yaml:"auth"`
	Ops       OpsConfig       `yaml:"ops"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`

	// Format is one of: json | text.
	Format string `yaml:"format"`
}

// SlogLevel returns Level as a slog.Level. Unknown values map to info.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// WSConfig tunes per-connection limits.
type WSConfig struct {
	// SendBuffer is the outbound queue depth per connection. A connection
	// whose queue is full is dropped.
	SendBuffer int `yaml:"send_buffer"`

	// MaxMessageBytes is the largest inbound frame accepted.
	MaxMessageBytes int64 `yaml:"max_message_bytes"`

	// InitTimeout closes connections that have not sent init in time.
	InitTimeout time.Duration `yaml:"init_timeout"`

	// WriteTimeout bounds a single write to a client. A peer that stops
	// reading is cut off once it expires.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// AllowedOrigins restricts browser origins. Empty allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RoomsConfig controls room lifetime.
type RoomsConfig struct {
	// IdleTTL is how long an empty room is kept before it is reaped.
	// 0 keeps rooms for the process lifetime.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// AuthConfig controls role resolution on init.
type AuthConfig struct {
	// Privilege is one of: static | first_joiner.
	Privilege string `yaml:"privilege"`

	// AdminKeysEnv names the environment variable holding a comma-separated
	// list of tokens granted the admin role in static mode.
	AdminKeysEnv string `yaml:"admin_keys_env"`
}

// AdminKeys returns the admin tokens resolved from the environment.
func (a AuthConfig) AdminKeys() []string {
	if a.AdminKeysEnv == "" {
		return nil
	}
	return auth.ParseKeys(os.Getenv(a.AdminKeysEnv))
}

// OpsConfig guards the ops HTTP API and gRPC health service.
type OpsConfig struct {
	// APIKeyEnv names the environment variable holding the ops API key.
	// An unset or empty variable disables the check.
	APIKeyEnv string `yaml:"api_key_env"`

	// Header is the HTTP header (and gRPC metadata key) carrying the key.
	Header string `yaml:"header"`

	// CORSOrigins lists origins allowed to call the ops API from a browser.
	CORSOrigins []string `yaml:"cors_origins"`
}

// Key returns the ops API key resolved from the environment.
func (o OpsConfig) Key() string {
	if o.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(o.APIKeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (o OpsConfig) EffectiveHeader() string {
	if o.Header != "" {
		return strings.ToLower(o.Header)
	}
	return DefaultOpsHeader
}

// RateLimitConfig bounds WebSocket upgrades per client IP.
type RateLimitConfig struct {
	// ConnectionsPerMinute is the sustained rate. 0 disables limiting.
	ConnectionsPerMinute int `yaml:"connections_per_minute"`

	// Burst is the number of upgrades allowed back to back.
	Burst int `yaml:"burst"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with defaults before validation. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			Log: LogConfig{
				Level:  "info",
				Format: "json",
			},
			WS: WSConfig{
				SendBuffer:      DefaultSendBuffer,
				MaxMessageBytes: DefaultMaxMessageBytes,
				InitTimeout:     DefaultInitTimeout,
				WriteTimeout:    DefaultWriteTimeout,
			},
			Rooms: RoomsConfig{
				IdleTTL: DefaultIdleTTL,
			},
			Auth: AuthConfig{
				Privilege:    DefaultPrivilege,
				AdminKeysEnv: DefaultAdminKeysEnv,
			},
			Ops: OpsConfig{
				APIKeyEnv: DefaultOpsKeyEnv,
				Header:    DefaultOpsHeader,
			},
			RateLimit: RateLimitConfig{
				ConnectionsPerMinute: DefaultConnsPerMinute,
				Burst:                DefaultBurst,
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.HealthPort < 0 || s.HealthPort > 65535 {
		return fmt.Errorf("server.health_port %d is out of range [0, 65535]", s.HealthPort)
	}
	if s.HealthPort != 0 && s.HealthPort == s.HTTPPort {
		return fmt.Errorf("server.health_port must differ from server.http_port")
	}
	switch strings.ToLower(s.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log.level %q unknown: want debug|info|warn|error", s.Log.Level)
	}
	switch s.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("server.log.format %q unknown: want json|text", s.Log.Format)
	}
	if s.WS.SendBuffer <= 0 {
		return fmt.Errorf("server.ws.send_buffer must be positive")
	}
	if s.WS.MaxMessageBytes <= 0 {
		return fmt.Errorf("server.ws.max_message_bytes must be positive")
	}
	if s.WS.InitTimeout <= 0 {
		return fmt.Errorf("server.ws.init_timeout must be positive")
	}
	if s.WS.WriteTimeout <= 0 {
		return fmt.Errorf("server.ws.write_timeout must be positive")
	}
	if s.Rooms.IdleTTL < 0 {
		return fmt.Errorf("server.rooms.idle_ttl must not be negative")
	}
	switch s.Auth.Privilege {
	case "static", "first_joiner":
	default:
		return fmt.Errorf("server.auth.privilege %q unknown: want static|first_joiner", s.Auth.Privilege)
	}
	if s.RateLimit.ConnectionsPerMinute < 0 || s.RateLimit.Burst < 0 {
		return fmt.Errorf("server.ratelimit values must not be negative")
	}
	return nil
}
