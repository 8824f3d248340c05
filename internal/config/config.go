package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "LEARNBRIDGE_"

// Config holds the complete server configuration
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	Redis     *RedisConfig     `json:"redis"`
	Log       *LogConfig       `json:"log"`
	RateLimit *RateLimitConfig `json:"rate_limit"`
}

// DatabaseConfig selects the message store backend.
// Driver is "sqlite" (Path) or "postgres" (URL).
type DatabaseConfig struct {
	Driver  string        `json:"driver"`
	Path    string        `json:"path"`
	URL     string        `json:"url"`
	Timeout time.Duration `json:"timeout"`
}

// HTTPConfig configures the listener. An empty AllowedOrigins allows any
// origin.
type HTTPConfig struct {
	Port           int           `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	Host           string        `json:"host"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

// WebSocketConfig contains connection timing settings.
// StrictSessionJoin requires joinSession/sessionUpdate callers to be a
// participant of the session.
type WebSocketConfig struct {
	PingInterval      time.Duration `json:"ping_interval"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	HandshakeTimeout  time.Duration `json:"handshake_timeout"`
	BufferSize        int           `json:"buffer_size"`
	StrictSessionJoin bool          `json:"strict_session_join"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

// RedisConfig enables the cross-instance backplane when URL is set
type RedisConfig struct {
	URL     string `json:"url"`
	Channel string `json:"channel"`
}

type LogConfig struct {
	Level string `json:"level"`
	Env   string `json:"env"`
}

type RateLimitConfig struct {
	MessagesPerMinute int `json:"messages_per_minute"`
}

// DefaultConfig returns development defaults
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Driver:  "sqlite",
			Path:    "./learnbridge.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:     30 * time.Second,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			BufferSize:       100,
		},
		Auth: &AuthConfig{
			JWTSecret: "learn_bridge_secret",
		},
		Redis: &RedisConfig{
			Channel: "learnbridge:deliveries",
		},
		Log: &LogConfig{
			Level: "info",
			Env:   "development",
		},
		RateLimit: &RateLimitConfig{
			MessagesPerMinute: 100,
		},
	}
}

// IsProduction reports whether logs should be JSON and secrets enforced
func (c *Config) IsProduction() bool {
	return c.Log != nil && c.Log.Env == "production"
}

// Validate ensures all configuration values are usable
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path cannot be empty")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database url is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.HandshakeTimeout <= 0 {
		return fmt.Errorf("WebSocket handshake timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Auth == nil || c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret cannot be empty")
	}
	if c.IsProduction() && c.Auth.JWTSecret == DefaultConfig().Auth.JWTSecret {
		return fmt.Errorf("JWT secret must be changed in production")
	}

	if c.Redis == nil {
		return fmt.Errorf("redis configuration is required")
	}
	if c.Redis.URL != "" && c.Redis.Channel == "" {
		return fmt.Errorf("redis channel cannot be empty when redis is enabled")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.Log.Level)
	}

	if c.RateLimit == nil || c.RateLimit.MessagesPerMinute <= 0 {
		return fmt.Errorf("messages per minute must be positive")
	}

	return nil
}

// LoadFromEnv overlays LEARNBRIDGE_* environment variables on the defaults.
// Unparseable values are ignored.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	envString("DATABASE_DRIVER", &config.Database.Driver)
	envString("DATABASE_PATH", &config.Database.Path)
	envString("DATABASE_URL", &config.Database.URL)
	envDuration("DATABASE_TIMEOUT", &config.Database.Timeout)

	envInt("HTTP_PORT", &config.HTTP.Port)
	envString("HTTP_HOST", &config.HTTP.Host)
	envDuration("HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	envList("HTTP_ALLOWED_ORIGINS", &config.HTTP.AllowedOrigins)

	envDuration("WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envDuration("WEBSOCKET_HANDSHAKE_TIMEOUT", &config.WebSocket.HandshakeTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	envBool("WEBSOCKET_STRICT_SESSION_JOIN", &config.WebSocket.StrictSessionJoin)

	envString("JWT_SECRET", &config.Auth.JWTSecret)
	envString("REDIS_URL", &config.Redis.URL)
	envString("REDIS_CHANNEL", &config.Redis.Channel)
	envString("LOG_LEVEL", &config.Log.Level)
	envString("ENV", &config.Log.Env)
	envInt("RATE_LIMIT_MESSAGES_PER_MINUTE", &config.RateLimit.MessagesPerMinute)
}

func envString(key string, dst *string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

// envList reads a comma separated list
func envList(key string, dst *[]string) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return
	}
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) > 0 {
		*dst = items
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// ConfigFile mirrors Config with durations written as strings ("30s")
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Auth      *AuthConfig          `json:"auth"`
	Redis     *RedisConfig         `json:"redis"`
	Log       *LogConfig           `json:"log"`
	RateLimit *RateLimitConfig     `json:"rate_limit"`
}

type DatabaseConfigFile struct {
	Driver  string `json:"driver"`
	Path    string `json:"path"`
	URL     string `json:"url"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port           int      `json:"port"`
	ReadTimeout    string   `json:"read_timeout"`
	WriteTimeout   string   `json:"write_timeout"`
	Host           string   `json:"host"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type WebSocketConfigFile struct {
	PingInterval      string `json:"ping_interval"`
	ReadTimeout       string `json:"read_timeout"`
	WriteTimeout      string `json:"write_timeout"`
	HandshakeTimeout  string `json:"handshake_timeout"`
	BufferSize        int    `json:"buffer_size"`
	StrictSessionJoin *bool  `json:"strict_session_join"`
}

// LoadFromFile reads a JSON config file over the defaults and validates it
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var errs []string
	duration := func(field, value string, dst *time.Duration) {
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", field, err))
			return
		}
		*dst = d
	}
	str := func(value string, dst *string) {
		if value != "" {
			*dst = value
		}
	}
	positive := func(value int, dst *int) {
		if value > 0 {
			*dst = value
		}
	}

	if f := file.Database; f != nil {
		str(f.Driver, &config.Database.Driver)
		str(f.Path, &config.Database.Path)
		str(f.URL, &config.Database.URL)
		duration("database.timeout", f.Timeout, &config.Database.Timeout)
	}
	if f := file.HTTP; f != nil {
		positive(f.Port, &config.HTTP.Port)
		str(f.Host, &config.HTTP.Host)
		duration("http.read_timeout", f.ReadTimeout, &config.HTTP.ReadTimeout)
		duration("http.write_timeout", f.WriteTimeout, &config.HTTP.WriteTimeout)
		if len(f.AllowedOrigins) > 0 {
			config.HTTP.AllowedOrigins = f.AllowedOrigins
		}
	}
	if f := file.WebSocket; f != nil {
		positive(f.BufferSize, &config.WebSocket.BufferSize)
		duration("websocket.ping_interval", f.PingInterval, &config.WebSocket.PingInterval)
		duration("websocket.read_timeout", f.ReadTimeout, &config.WebSocket.ReadTimeout)
		duration("websocket.write_timeout", f.WriteTimeout, &config.WebSocket.WriteTimeout)
		duration("websocket.handshake_timeout", f.HandshakeTimeout, &config.WebSocket.HandshakeTimeout)
		if f.StrictSessionJoin != nil {
			config.WebSocket.StrictSessionJoin = *f.StrictSessionJoin
		}
	}
	if f := file.Auth; f != nil {
		str(f.JWTSecret, &config.Auth.JWTSecret)
	}
	if f := file.Redis; f != nil {
		str(f.URL, &config.Redis.URL)
		str(f.Channel, &config.Redis.Channel)
	}
	if f := file.Log; f != nil {
		str(f.Level, &config.Log.Level)
		str(f.Env, &config.Log.Env)
	}
	if f := file.RateLimit; f != nil {
		positive(f.MessagesPerMinute, &config.RateLimit.MessagesPerMinute)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid durations in %s: %s", path, strings.Join(errs, "; "))
	}
	return nil
}

// LoadConfigWithPrecedence builds the configuration as defaults, then .env
// and process environment, then the JSON file at path (if any).
func LoadConfigWithPrecedence(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := LoadFromEnv()
	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
