// Package config loads and validates league agent configuration with
// multi-source priority: environment variables override the config file,
// which overrides built-in defaults.
//
// Sections map to the communication core's policy knobs (retry,
// circuit_breaker, heartbeat, call), the set of remote servers an agent
// talks to, storage for the league manager, and ambient concerns (log,
// observability).
//
// Errors are sentinels meant for errors.Is:
//
//	cfg, err := config.Load(path)
//	if errors.Is(err, config.ErrInvalidRetry) { ... }
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidRetry indicates an out-of-range retry setting.
	ErrInvalidRetry = errors.New("invalid retry config")

	// ErrInvalidBreaker indicates an out-of-range circuit breaker setting.
	ErrInvalidBreaker = errors.New("invalid circuit breaker config")

	// ErrInvalidHeartbeat indicates an out-of-range heartbeat setting.
	ErrInvalidHeartbeat = errors.New("invalid heartbeat config")

	// ErrInvalidServer indicates a malformed server entry.
	ErrInvalidServer = errors.New("invalid server config")

	// ErrInvalidStorage indicates a malformed storage section.
	ErrInvalidStorage = errors.New("invalid storage config")
)

// RetryConfig bounds per-call retries of transient failures.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// BreakerConfig controls failure isolation per session.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
	// GivingUpTimeout destroys a session that has spent this long under
	// an open circuit with no successful probe. Zero disables.
	GivingUpTimeout time.Duration `mapstructure:"giving_up_timeout"`
}

// HeartbeatConfig controls session liveness probing.
type HeartbeatConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
}

// CallConfig holds defaults for application calls.
type CallConfig struct {
	// Timeout is the default deadline for a tool call.
	Timeout time.Duration `mapstructure:"timeout"`
	// DispatchRate caps outbound dispatches per second per session.
	// Zero disables throttling.
	DispatchRate float64 `mapstructure:"dispatch_rate"`
	// DispatchBurst is the limiter burst size.
	DispatchBurst int `mapstructure:"dispatch_burst"`
}

// ServerConfig describes one remote agent endpoint.
type ServerConfig struct {
	// Name is the server name used for tool namespacing.
	Name string `mapstructure:"name"`
	// Kind selects the transport: "http" or "stdio".
	Kind string `mapstructure:"kind"`
	// URL is the base URL for http servers.
	URL string `mapstructure:"url"`
	// Command and Args launch a stdio server as a child process.
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// StorageConfig selects the standings store backing.
type StorageConfig struct {
	// InMemory keeps standings in process memory. Used by tests and
	// storage-less runs.
	InMemory bool `mapstructure:"in_memory"`
	// DSN is the postgres connection string when InMemory is false.
	DSN string `mapstructure:"dsn"`
}

// ObservabilityConfig controls trace export.
type ObservabilityConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// AgentConfig identifies this process in the league.
type AgentConfig struct {
	// Name is this agent's server name; peers address its tools as
	// "<name>.<tool>".
	Name string `mapstructure:"name"`
	// ListenAddr is the HTTP listen address when serving over HTTP.
	ListenAddr string `mapstructure:"listen_addr"`
	// LeagueID tags envelopes emitted by this agent.
	LeagueID string `mapstructure:"league_id"`
	// AuthToken is the opaque credential carried in envelopes. The
	// communication layer never interprets it.
	AuthToken string `mapstructure:"auth_token"`
}

// Config is the root configuration for one agent process.
type Config struct {
	Agent          AgentConfig         `mapstructure:"agent"`
	Retry          RetryConfig         `mapstructure:"retry"`
	CircuitBreaker BreakerConfig       `mapstructure:"circuit_breaker"`
	Heartbeat      HeartbeatConfig     `mapstructure:"heartbeat"`
	Call           CallConfig          `mapstructure:"call"`
	Servers        []ServerConfig      `mapstructure:"servers"`
	Storage        StorageConfig       `mapstructure:"storage"`
	Observability  ObservabilityConfig `mapstructure:"observability"`
	Log            LogConfig           `mapstructure:"log"`
}

// Load reads configuration from the optional file at path (YAML), applies
// LEAGUE_* environment overrides, and fills defaults. A missing file is
// not an error; missing required values surface through Validate.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LEAGUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.name", "agent")
	v.SetDefault("agent.listen_addr", ":8600")
	v.SetDefault("agent.league_id", "default")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "30s")

	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.recovery_timeout", "30s")
	v.SetDefault("circuit_breaker.giving_up_timeout", "2m")

	v.SetDefault("heartbeat.interval", "15s")
	v.SetDefault("heartbeat.timeout", "5s")
	v.SetDefault("heartbeat.failure_threshold", 3)

	v.SetDefault("call.timeout", "30s")
	v.SetDefault("call.dispatch_rate", 0)
	v.SetDefault("call.dispatch_burst", 1)

	v.SetDefault("storage.in_memory", true)

	v.SetDefault("observability.enabled", false)
	v.SetDefault("observability.endpoint", "localhost:4318")
	v.SetDefault("observability.service_name", "league")
	v.SetDefault("observability.environment", "dev")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// Validate applies range checks across every section.
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		return fmt.Errorf("%w: max_attempts %d not in [1,10]", ErrInvalidRetry, c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("%w: base_delay must be positive", ErrInvalidRetry)
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("%w: max_delay %s below base_delay %s", ErrInvalidRetry, c.Retry.MaxDelay, c.Retry.BaseDelay)
	}

	if c.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("%w: failure_threshold must be at least 1", ErrInvalidBreaker)
	}
	if c.CircuitBreaker.RecoveryTimeout <= 0 {
		return fmt.Errorf("%w: recovery_timeout must be positive", ErrInvalidBreaker)
	}
	if g := c.CircuitBreaker.GivingUpTimeout; g != 0 && g <= c.CircuitBreaker.RecoveryTimeout {
		return fmt.Errorf("%w: giving_up_timeout %s must exceed recovery_timeout %s",
			ErrInvalidBreaker, g, c.CircuitBreaker.RecoveryTimeout)
	}

	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidHeartbeat)
	}
	if c.Heartbeat.Timeout <= 0 || c.Heartbeat.Timeout >= c.Heartbeat.Interval {
		return fmt.Errorf("%w: timeout %s must be positive and below interval %s",
			ErrInvalidHeartbeat, c.Heartbeat.Timeout, c.Heartbeat.Interval)
	}
	if c.Heartbeat.FailureThreshold < 1 {
		return fmt.Errorf("%w: failure_threshold must be at least 1", ErrInvalidHeartbeat)
	}

	for _, s := range c.Servers {
		if err := s.Validate(); err != nil {
			return err
		}
	}

	if !c.Storage.InMemory && c.Storage.DSN == "" {
		return fmt.Errorf("%w: dsn required unless in_memory", ErrInvalidStorage)
	}
	return nil
}

// Validate checks a single server entry.
func (s ServerConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidServer)
	}
	if strings.Contains(s.Name, ".") {
		return fmt.Errorf("%w: name %q must not contain '.'", ErrInvalidServer, s.Name)
	}
	switch s.Kind {
	case "http":
		if s.URL == "" {
			return fmt.Errorf("%w: %s: url required for http servers", ErrInvalidServer, s.Name)
		}
	case "stdio":
		if s.Command == "" {
			return fmt.Errorf("%w: %s: command required for stdio servers", ErrInvalidServer, s.Name)
		}
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidServer, s.Name, s.Kind)
	}
	return nil
}
