package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.CircuitBreaker.RecoveryTimeout)
	assert.Equal(t, 15*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 3, cfg.Heartbeat.FailureThreshold)
	assert.True(t, cfg.Storage.InMemory)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "league.yaml")
	content := `
agent:
  name: referee_1
  listen_addr: ":8701"
retry:
  max_attempts: 5
  base_delay: 500ms
circuit_breaker:
  failure_threshold: 2
servers:
  - name: league_server
    kind: http
    url: http://localhost:8600
  - name: player_even
    kind: stdio
    command: ./league
    args: ["serve-player"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "referee_1", cfg.Agent.Name)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 2, cfg.CircuitBreaker.FailureThreshold)
	require.Len(t, cfg.Servers, 2)
	assert.Equal(t, "league_server", cfg.Servers[0].Name)
	assert.Equal(t, "stdio", cfg.Servers[1].Kind)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "zero retry attempts",
			mutate:  func(c *Config) { c.Retry.MaxAttempts = 0 },
			wantErr: ErrInvalidRetry,
		},
		{
			name:    "max delay below base delay",
			mutate:  func(c *Config) { c.Retry.MaxDelay = c.Retry.BaseDelay / 2 },
			wantErr: ErrInvalidRetry,
		},
		{
			name:    "zero breaker threshold",
			mutate:  func(c *Config) { c.CircuitBreaker.FailureThreshold = 0 },
			wantErr: ErrInvalidBreaker,
		},
		{
			name:    "negative recovery timeout",
			mutate:  func(c *Config) { c.CircuitBreaker.RecoveryTimeout = -time.Second },
			wantErr: ErrInvalidBreaker,
		},
		{
			name:    "heartbeat timeout above interval",
			mutate:  func(c *Config) { c.Heartbeat.Timeout = c.Heartbeat.Interval * 2 },
			wantErr: ErrInvalidHeartbeat,
		},
		{
			name: "server name with dot",
			mutate: func(c *Config) {
				c.Servers = []ServerConfig{{Name: "a.b", Kind: "http", URL: "http://x"}}
			},
			wantErr: ErrInvalidServer,
		},
		{
			name: "http server without url",
			mutate: func(c *Config) {
				c.Servers = []ServerConfig{{Name: "a", Kind: "http"}}
			},
			wantErr: ErrInvalidServer,
		},
		{
			name: "unknown server kind",
			mutate: func(c *Config) {
				c.Servers = []ServerConfig{{Name: "a", Kind: "grpc"}}
			},
			wantErr: ErrInvalidServer,
		},
		{
			name: "postgres without dsn",
			mutate: func(c *Config) {
				c.Storage.InMemory = false
				c.Storage.DSN = ""
			},
			wantErr: ErrInvalidStorage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}
}
