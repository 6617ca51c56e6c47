// Package config loads and validates the edge agent's and the collector's
// configuration (spec.md §6). Precedence, file format, and the env
// override convention are grounded on the teacher's agent_config.go:
// defaults, then an optional YAML file, then environment variables, in
// that order — with a single EDGE_ prefix for every overridable key.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig is the edge agent's complete configuration.
type AgentConfig struct {
	CollectorHost string `yaml:"collector_host"`
	CollectorPort int    `yaml:"collector_port"`

	BatchMax   int           `yaml:"batch_max"`
	BatchMs    time.Duration `yaml:"batch_ms"`
	BatchBytes int           `yaml:"batch_bytes"`

	CompressionLevel int `yaml:"compression_level"`

	DictDir string `yaml:"dict_dir"`

	MaxMessageBytes int `yaml:"max_message_bytes"`
	MaxBatchBytes   int `yaml:"max_batch_bytes"`

	BreakerFailures  int           `yaml:"breaker_failures"`
	BreakerOpenMs    time.Duration `yaml:"breaker_open_ms"`
	BreakerSuccesses int           `yaml:"breaker_successes"`

	ShutdownGraceMs time.Duration `yaml:"shutdown_grace_ms"`

	AuthEnabled bool `yaml:"auth_enabled"`

	SecretsBackend string `yaml:"secrets_backend"`
}

// CollectorConfig is the collector's complete configuration.
type CollectorConfig struct {
	ListenHost string `yaml:"listen_host"`
	ListenPort int    `yaml:"listen_port"`

	DictDir string `yaml:"dict_dir"`
	OutDir  string `yaml:"out_dir"`

	MaxMessageBytes int `yaml:"max_message_bytes"`
	MaxBatchBytes   int `yaml:"max_batch_bytes"`

	ShutdownGraceMs time.Duration `yaml:"shutdown_grace_ms"`

	AuthEnabled bool `yaml:"auth_enabled"`

	SecretsBackend string `yaml:"secrets_backend"`

	// ArchivalDSN, if set, enables the optional Postgres/Timescale
	// archival sink alongside the required out/<topic>.jsonl append.
	ArchivalDSN string `yaml:"archival_dsn,omitempty"`

	// RedisURL, together with ArchivalDSN, enables a Redis-backed intake
	// WAL that queues each frame's decoded records for the archival sink
	// after the synchronous out/<topic>.jsonl append.
	RedisURL string `yaml:"redis_url,omitempty"`
}

// DefaultAgentConfig returns spec.md §6's default agent configuration.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		CollectorHost:    "127.0.0.1",
		CollectorPort:    7000,
		BatchMax:         100,
		BatchMs:          250 * time.Millisecond,
		BatchBytes:       1 << 20,
		CompressionLevel: 7,
		DictDir:          "./dicts",
		MaxMessageBytes:  10 * 1024 * 1024,
		MaxBatchBytes:    100 * 1024 * 1024,
		BreakerFailures:  5,
		BreakerOpenMs:    30000 * time.Millisecond,
		BreakerSuccesses: 2,
		ShutdownGraceMs:  10000 * time.Millisecond,
		SecretsBackend:   "auto",
	}
}

// DefaultCollectorConfig returns spec.md §6's default collector configuration.
func DefaultCollectorConfig() *CollectorConfig {
	return &CollectorConfig{
		ListenHost:      "127.0.0.1",
		ListenPort:      7000,
		DictDir:         "./dicts",
		OutDir:          "./out",
		MaxMessageBytes: 10 * 1024 * 1024,
		MaxBatchBytes:   100 * 1024 * 1024,
		ShutdownGraceMs: 10000 * time.Millisecond,
		SecretsBackend:  "auto",
	}
}

// LoadAgentConfigFromFile loads YAML at path over the defaults.
func LoadAgentConfigFromFile(path string) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agent config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing agent config file: %w", err)
	}
	return cfg, nil
}

// LoadCollectorConfigFromFile loads YAML at path over the defaults.
func LoadCollectorConfigFromFile(path string) (*CollectorConfig, error) {
	cfg := DefaultCollectorConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading collector config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing collector config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies EDGE_-prefixed environment variables.
func (c *AgentConfig) ApplyEnvOverrides() {
	if v := os.Getenv("EDGE_COLLECTOR_HOST"); v != "" {
		c.CollectorHost = v
	}
	envInt("EDGE_COLLECTOR_PORT", &c.CollectorPort)
	envInt("EDGE_BATCH_MAX", &c.BatchMax)
	envDurationMs("EDGE_BATCH_MS", &c.BatchMs)
	envInt("EDGE_BATCH_BYTES", &c.BatchBytes)
	envInt("EDGE_COMPRESSION_LEVEL", &c.CompressionLevel)
	if v := os.Getenv("EDGE_DICT_DIR"); v != "" {
		c.DictDir = v
	}
	envInt("EDGE_MAX_MESSAGE_BYTES", &c.MaxMessageBytes)
	envInt("EDGE_MAX_BATCH_BYTES", &c.MaxBatchBytes)
	envInt("EDGE_BREAKER_FAILURES", &c.BreakerFailures)
	envDurationMs("EDGE_BREAKER_OPEN_MS", &c.BreakerOpenMs)
	envInt("EDGE_BREAKER_SUCCESSES", &c.BreakerSuccesses)
	envDurationMs("EDGE_SHUTDOWN_GRACE_MS", &c.ShutdownGraceMs)
	envBool("EDGE_AUTH_ENABLED", &c.AuthEnabled)
	if v := os.Getenv("EDGE_SECRETS_BACKEND"); v != "" {
		c.SecretsBackend = v
	}
}

// ApplyEnvOverrides applies EDGE_-prefixed environment variables.
func (c *CollectorConfig) ApplyEnvOverrides() {
	if v := os.Getenv("EDGE_LISTEN_HOST"); v != "" {
		c.ListenHost = v
	}
	envInt("EDGE_LISTEN_PORT", &c.ListenPort)
	if v := os.Getenv("EDGE_DICT_DIR"); v != "" {
		c.DictDir = v
	}
	if v := os.Getenv("EDGE_OUT_DIR"); v != "" {
		c.OutDir = v
	}
	envInt("EDGE_MAX_MESSAGE_BYTES", &c.MaxMessageBytes)
	envInt("EDGE_MAX_BATCH_BYTES", &c.MaxBatchBytes)
	envDurationMs("EDGE_SHUTDOWN_GRACE_MS", &c.ShutdownGraceMs)
	envBool("EDGE_AUTH_ENABLED", &c.AuthEnabled)
	if v := os.Getenv("EDGE_SECRETS_BACKEND"); v != "" {
		c.SecretsBackend = v
	}
	if v := os.Getenv("EDGE_ARCHIVAL_DSN"); v != "" {
		c.ArchivalDSN = v
	}
	if v := os.Getenv("EDGE_REDIS_URL"); v != "" {
		c.RedisURL = v
	}
}

// Validate checks the agent config is usable, returning a FatalConfig-class
// error (the caller wraps it with errs.FatalConfig at the cmd/ boundary).
func (c *AgentConfig) Validate() error {
	if c.CollectorHost == "" {
		return fmt.Errorf("collector_host is required")
	}
	if c.CollectorPort <= 0 || c.CollectorPort > 65535 {
		return fmt.Errorf("collector_port %d out of range", c.CollectorPort)
	}
	if c.BatchMax < 1 {
		return fmt.Errorf("batch_max must be >= 1")
	}
	if c.BatchBytes < 1 {
		return fmt.Errorf("batch_bytes must be >= 1")
	}
	return nil
}

// Validate checks the collector config is usable.
func (c *CollectorConfig) Validate() error {
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("listen_port %d out of range", c.ListenPort)
	}
	if c.OutDir == "" {
		return fmt.Errorf("out_dir is required")
	}
	return nil
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
		*dst = n
	}
}

func envDurationMs(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var ms int64
	if _, err := fmt.Sscanf(v, "%d", &ms); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
	}
}

func envBool(key string, dst *bool) {
	v := os.Getenv(key)
	switch v {
	case "true", "1":
		*dst = true
	case "false", "0":
		*dst = false
	}
}
