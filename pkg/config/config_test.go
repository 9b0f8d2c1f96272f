package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8181", cfg.Signal.Address)
	assert.Equal(t, 30*time.Second, cfg.Signal.PingInterval)
	assert.Equal(t, 4, cfg.Rooms.DefaultMaxParticipants)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
signal:
  address: ":9000"
rooms:
  default_max_participants: 6
  max_participants_limit: 32
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Signal.Address)
	assert.Equal(t, 6, cfg.Rooms.DefaultMaxParticipants)
	assert.Equal(t, 32, cfg.Rooms.MaxParticipantsLimit)
	// Untouched sections keep their defaults.
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL)
}

func TestLoad_InvalidFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
rooms:
  default_max_participants: 10
  max_participants_limit: 4
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_participants_limit")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MESHLINK_SIGNAL_ADDRESS", ":7777")
	t.Setenv("MESHLINK_SHARED_SECRET", "env-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.Signal.Address)
	assert.Equal(t, "env-secret", cfg.Auth.SharedSecret)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"empty address", func(c *Config) { c.Signal.Address = "" }, "signal.address"},
		{"zero ping interval", func(c *Config) { c.Signal.PingInterval = 0 }, "ping_interval"},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, "jwt_secret"},
		{"room minimum too small", func(c *Config) { c.Rooms.DefaultMaxParticipants = 1 }, "default_max_participants"},
		{"redis enabled without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}, "redis.address"},
		{"rate limiting enabled without rps", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.RequestsPerSecond = 0
		}, "requests_per_second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
