// Package secrets stores and retrieves the small set of credential
// strings the pipeline needs at runtime — the shipper's auth key
// (internal/auth) and an optional archival database DSN — behind a
// pluggable backend.
//
// Adapted from the teacher's secrets package (secrets_factory.go,
// secrets_local.go, secrets_onepassword.go), which stores SSH key pairs
// for agent enrollment; here the stored values are opaque credential
// strings rather than key pairs, since this pipeline has no SSH
// enrollment step to support.
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Store is the credential-storage contract; both backends implement it.
type Store interface {
	// Get returns the named credential, or ("", false) if unset.
	Get(ctx context.Context, name string) (string, bool, error)
	// Set stores a named credential, creating or overwriting it.
	Set(ctx context.Context, name, value string) error
	Close() error
}

// Well-known credential names.
const (
	ShipperAuthKey = "shipper_auth_key"
	ArchivalDSN    = "archival_dsn"
)

// Config selects and configures a backend.
type Config struct {
	// Backend is "1password", "local", or "auto" (default: 1Password if
	// configured, otherwise local).
	Backend string

	OnePasswordHost    string
	OnePasswordToken   string
	OnePasswordVaultID string

	// LocalDir defaults to ./secrets when empty.
	LocalDir string
}

// ConfigFromEnv builds a Config from the environment, mirroring the
// teacher's ConfigFromEnv in secrets_factory.go.
func ConfigFromEnv() Config {
	return Config{
		Backend:            getEnv("EDGE_SECRETS_BACKEND", "auto"),
		OnePasswordHost:    os.Getenv("OP_CONNECT_HOST"),
		OnePasswordToken:   os.Getenv("OP_CONNECT_TOKEN"),
		OnePasswordVaultID: os.Getenv("OP_VAULT_ID"),
		LocalDir:           os.Getenv("EDGE_SECRETS_DIR"),
	}
}

// NewStore builds a Store from cfg.
func NewStore(cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend := cfg.Backend
	if backend == "" {
		backend = "auto"
	}

	switch backend {
	case "1password":
		if cfg.OnePasswordHost == "" || cfg.OnePasswordToken == "" || cfg.OnePasswordVaultID == "" {
			return nil, fmt.Errorf("1password backend requested but OP_CONNECT_HOST/OP_CONNECT_TOKEN/OP_VAULT_ID incomplete")
		}
		return newOnePasswordStore(cfg.OnePasswordHost, cfg.OnePasswordToken, cfg.OnePasswordVaultID, logger)

	case "local":
		return newLocalStore(cfg.LocalDir, logger)

	case "auto":
		if cfg.OnePasswordToken != "" && cfg.OnePasswordHost != "" && cfg.OnePasswordVaultID != "" {
			st, err := newOnePasswordStore(cfg.OnePasswordHost, cfg.OnePasswordToken, cfg.OnePasswordVaultID, logger)
			if err != nil {
				logger.Warn("failed to initialize 1password secrets backend, falling back to local", "error", err)
				return newLocalStore(cfg.LocalDir, logger)
			}
			return st, nil
		}
		logger.Info("1password not configured, using local secrets store")
		return newLocalStore(cfg.LocalDir, logger)

	default:
		return nil, fmt.Errorf("unknown secrets backend: %s", backend)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
