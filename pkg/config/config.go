// Package config provides configuration structures and loading logic
// for the reliability engine and its daemon.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PROM8EUS/reliability/internal/orchestrator"
	"github.com/PROM8EUS/reliability/internal/source"
)

// Duration wraps time.Duration so YAML values like "30s" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the full daemon configuration. Unknown keys are
// rejected at load time.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Engine    EngineConfig    `yaml:"engine"`
	Groups    []GroupConfig   `yaml:"groups"`
}

// ServerConfig holds configuration for the admin HTTP server.
type ServerConfig struct {
	AdminAddress string `yaml:"admin_address"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	Environment  string `yaml:"environment"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// EngineConfig enumerates every recognized engine option.
type EngineConfig struct {
	EnableAutomaticFailover   *bool `yaml:"enable_automatic_failover"`
	EnableLoadBalancing       *bool `yaml:"enable_load_balancing"`
	EnableCircuitBreaker      *bool `yaml:"enable_circuit_breaker"`
	EnableGracefulDegradation bool  `yaml:"enable_graceful_degradation"`

	HealthCheckInterval Duration        `yaml:"health_check_interval"`
	FailureThreshold    int             `yaml:"failure_threshold"`
	Cooldown            Duration        `yaml:"cooldown"`
	MaxRetryAttempts    int             `yaml:"max_retry_attempts"`
	RetryDelay          Duration        `yaml:"retry_delay"`
	Strategy            source.Strategy `yaml:"strategy"`
	CallTimeout         Duration        `yaml:"call_timeout"`
	MetricRetention     Duration        `yaml:"metric_retention"`
	AlertCooldown       Duration        `yaml:"alert_cooldown"`
}

// GroupConfig is the YAML shape of one fallback group.
type GroupConfig struct {
	ID                  string          `yaml:"id"`
	Name                string          `yaml:"name"`
	Strategy            source.Strategy `yaml:"strategy"`
	HealthCheckInterval Duration        `yaml:"health_check_interval"`
	Sources             []SourceConfig  `yaml:"sources"`
}

// SourceConfig is the YAML shape of one source descriptor.
type SourceConfig struct {
	ID               string            `yaml:"id"`
	Name             string            `yaml:"name"`
	Category         source.Category   `yaml:"category"`
	Priority         int               `yaml:"priority"`
	Endpoint         string            `yaml:"endpoint"`
	Timeout          Duration          `yaml:"timeout"`
	RetryCount       int               `yaml:"retry_count"`
	RetryDelay       Duration          `yaml:"retry_delay"`
	FailureThreshold int               `yaml:"failure_threshold"`
	Cooldown         Duration          `yaml:"cooldown"`
	Weight           int               `yaml:"weight"`
	Enabled          *bool             `yaml:"enabled"`
	HealthCheckURL   string            `yaml:"health_check_url"`
	Metadata         map[string]string `yaml:"metadata"`
}

// Load reads configuration from a file, applies environment variable
// overrides, and validates the result. Unknown YAML keys are an error.
func Load(path string) (*Config, error) {
	cfg := &Config{
		// Defaults
		Server:  ServerConfig{AdminAddress: ":19790"},
		Logging: LoggingConfig{Level: "info"},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("RELIABILITY_ADMIN_ADDR"); val != "" {
		cfg.Server.AdminAddress = val
	}
	if val := os.Getenv("RELIABILITY_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("RELIABILITY_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
}

// Validate checks the configuration, including every group definition.
func (c *Config) Validate() error {
	if c.Server.AdminAddress == "" {
		return fmt.Errorf("server.admin_address must not be empty")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q not one of debug, info, warn, error", c.Logging.Level)
	}
	if c.Engine.Strategy != "" && !source.ValidStrategy(c.Engine.Strategy) {
		return fmt.Errorf("engine.strategy %q unknown", c.Engine.Strategy)
	}
	seen := make(map[string]struct{}, len(c.Groups))
	for i := range c.Groups {
		g := c.Groups[i].ToGroup()
		if err := g.Validate(); err != nil {
			return err
		}
		if _, dup := seen[g.ID]; dup {
			return fmt.Errorf("duplicate group id %s", g.ID)
		}
		seen[g.ID] = struct{}{}
	}
	return nil
}

// ToOrchestrator converts the engine section into the orchestrator's
// config, filling defaults for unset values. Enable flags default on.
func (e EngineConfig) ToOrchestrator() orchestrator.Config {
	cfg := orchestrator.Config{
		EnableAutomaticFailover:   boolOrDefault(e.EnableAutomaticFailover, true),
		EnableLoadBalancing:       boolOrDefault(e.EnableLoadBalancing, true),
		EnableCircuitBreaker:      boolOrDefault(e.EnableCircuitBreaker, true),
		EnableGracefulDegradation: e.EnableGracefulDegradation,
		HealthCheckInterval:       e.HealthCheckInterval.Std(),
		FailureThreshold:          e.FailureThreshold,
		Cooldown:                  e.Cooldown.Std(),
		MaxRetryAttempts:          e.MaxRetryAttempts,
		RetryDelay:                e.RetryDelay.Std(),
		Strategy:                  e.Strategy,
		CallTimeout:               e.CallTimeout.Std(),
		MetricRetention:           e.MetricRetention.Std(),
		AlertCooldown:             e.AlertCooldown.Std(),
	}
	return cfg
}

// ToGroup converts a group definition into the engine's data model.
func (g GroupConfig) ToGroup() *source.Group {
	out := &source.Group{
		ID:                  g.ID,
		Name:                g.Name,
		Strategy:            g.Strategy,
		HealthCheckInterval: g.HealthCheckInterval.Std(),
	}
	for _, s := range g.Sources {
		out.Sources = append(out.Sources, &source.Descriptor{
			ID:               s.ID,
			Name:             s.Name,
			Category:         s.Category,
			Priority:         s.Priority,
			Endpoint:         s.Endpoint,
			Timeout:          s.Timeout.Std(),
			RetryCount:       s.RetryCount,
			RetryDelay:       s.RetryDelay.Std(),
			FailureThreshold: s.FailureThreshold,
			Cooldown:         s.Cooldown.Std(),
			Weight:           s.Weight,
			Enabled:          boolOrDefault(s.Enabled, true),
			HealthCheckURL:   s.HealthCheckURL,
			Metadata:         s.Metadata,
		})
	}
	return out
}

func boolOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
