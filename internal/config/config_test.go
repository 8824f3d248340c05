package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if err := config.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if config.WebSocket.HandshakeTimeout != 10*time.Second {
		t.Errorf("handshake timeout = %v", config.WebSocket.HandshakeTimeout)
	}
	if config.RateLimit.MessagesPerMinute != 100 {
		t.Errorf("messages per minute = %d", config.RateLimit.MessagesPerMinute)
	}
	if config.WebSocket.StrictSessionJoin {
		t.Error("strict session join should default to false")
	}
	if config.Redis.URL != "" {
		t.Error("redis backplane should be disabled by default")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{"invalid port", func(c *Config) { c.HTTP.Port = -1 }, "port"},
		{"empty sqlite path", func(c *Config) { c.Database.Path = "" }, "database path"},
		{"postgres without url", func(c *Config) { c.Database.Driver = "postgres" }, "url"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mongo" }, "driver"},
		{"read timeout below ping", func(c *Config) { c.WebSocket.ReadTimeout = 10 * time.Second }, "ping interval"},
		{"zero handshake timeout", func(c *Config) { c.WebSocket.HandshakeTimeout = 0 }, "handshake"},
		{"empty secret", func(c *Config) { c.Auth.JWTSecret = "" }, "JWT secret"},
		{"default secret in production", func(c *Config) { c.Log.Env = "production" }, "production"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"zero rate limit", func(c *Config) { c.RateLimit.MessagesPerMinute = 0 }, "per minute"},
		{"redis without channel", func(c *Config) { c.Redis.URL = "redis://localhost:6379"; c.Redis.Channel = "" }, "channel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			err := config.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("LEARNBRIDGE_HTTP_PORT", "9090")
	t.Setenv("LEARNBRIDGE_DATABASE_PATH", "/tmp/env.db")
	t.Setenv("LEARNBRIDGE_WEBSOCKET_PING_INTERVAL", "15s")
	t.Setenv("LEARNBRIDGE_WEBSOCKET_STRICT_SESSION_JOIN", "true")
	t.Setenv("LEARNBRIDGE_JWT_SECRET", "env-secret")
	t.Setenv("LEARNBRIDGE_REDIS_URL", "redis://cache:6379/0")
	t.Setenv("LEARNBRIDGE_RATE_LIMIT_MESSAGES_PER_MINUTE", "not-a-number")
	t.Setenv("LEARNBRIDGE_HTTP_ALLOWED_ORIGINS", "https://app.learnbridge.test, https://admin.learnbridge.test,")

	config := LoadFromEnv()

	if got := config.HTTP.AllowedOrigins; len(got) != 2 || got[0] != "https://app.learnbridge.test" || got[1] != "https://admin.learnbridge.test" {
		t.Errorf("allowed origins = %v", got)
	}

	if config.HTTP.Port != 9090 {
		t.Errorf("port = %d", config.HTTP.Port)
	}
	if config.Database.Path != "/tmp/env.db" {
		t.Errorf("path = %s", config.Database.Path)
	}
	if config.WebSocket.PingInterval != 15*time.Second {
		t.Errorf("ping interval = %v", config.WebSocket.PingInterval)
	}
	if !config.WebSocket.StrictSessionJoin {
		t.Error("strict session join not read from env")
	}
	if config.Auth.JWTSecret != "env-secret" {
		t.Errorf("secret = %s", config.Auth.JWTSecret)
	}
	if config.Redis.URL != "redis://cache:6379/0" {
		t.Errorf("redis url = %s", config.Redis.URL)
	}
	if config.RateLimit.MessagesPerMinute != 100 {
		t.Errorf("unparseable value should keep default, got %d", config.RateLimit.MessagesPerMinute)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfig_LoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `{
		"database": {"driver": "sqlite", "path": "/data/file.db", "timeout": "5s"},
		"http": {"port": 7070, "allowed_origins": ["https://app.learnbridge.test"]},
		"websocket": {"handshake_timeout": "3s", "strict_session_join": true},
		"log": {"level": "debug"},
		"rate_limit": {"messages_per_minute": 20}
	}`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if config.Database.Path != "/data/file.db" || config.Database.Timeout != 5*time.Second {
		t.Errorf("database = %+v", config.Database)
	}
	if config.HTTP.Port != 7070 || config.HTTP.Host != "0.0.0.0" {
		t.Errorf("http = %+v", config.HTTP)
	}
	if got := config.HTTP.AllowedOrigins; len(got) != 1 || got[0] != "https://app.learnbridge.test" {
		t.Errorf("allowed origins = %v", got)
	}
	if config.WebSocket.HandshakeTimeout != 3*time.Second || !config.WebSocket.StrictSessionJoin {
		t.Errorf("websocket = %+v", config.WebSocket)
	}
	if config.Log.Level != "debug" || config.RateLimit.MessagesPerMinute != 20 {
		t.Errorf("log = %+v rate = %+v", config.Log, config.RateLimit)
	}
}

func TestConfig_LoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadFromFile(writeConfigFile(t, `{not json`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if _, err := LoadFromFile(writeConfigFile(t, `{"websocket": {"ping_interval": "soon"}}`)); err == nil {
		t.Error("expected error for bad duration")
	}
	if _, err := LoadFromFile(writeConfigFile(t, `{"database": {"driver": "postgres"}}`)); err == nil {
		t.Error("expected validation error for postgres without url")
	}
}

func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("LEARNBRIDGE_HTTP_PORT", "9090")
	t.Setenv("LEARNBRIDGE_HTTP_HOST", "127.0.0.1")
	path := writeConfigFile(t, `{"http": {"port": 7070}}`)

	config, err := LoadConfigWithPrecedence(path)
	if err != nil {
		t.Fatalf("LoadConfigWithPrecedence() error = %v", err)
	}
	if config.HTTP.Port != 7070 {
		t.Errorf("file should win over env: port = %d", config.HTTP.Port)
	}
	if config.HTTP.Host != "127.0.0.1" {
		t.Errorf("env should win over defaults: host = %s", config.HTTP.Host)
	}

	config, err = LoadConfigWithPrecedence("")
	if err != nil {
		t.Fatalf("LoadConfigWithPrecedence(\"\") error = %v", err)
	}
	if config.HTTP.Port != 9090 {
		t.Errorf("env port = %d", config.HTTP.Port)
	}
}
