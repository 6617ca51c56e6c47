// Package auth provides bcrypt-based hashing and verification of the
// shared API key the Shipper presents to the Collector over the wire
// transport. This is a supplemented feature: spec.md's Non-goals say the
// core doesn't provide confidentiality, but checking that a connecting
// shipper holds the one shared key (the same key for every agent and every
// topic) is a distinct, complementary concern —
// grounded on the teacher's AgentAuthMiddleware in middleware.go, which
// hashes and compares agent API keys the same way.
package auth

import (
	"log/slog"
	"net"

	"golang.org/x/crypto/bcrypt"
)

// HashKey bcrypt-hashes a plaintext API key for storage.
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// VerifyKey reports whether key matches hash.
func VerifyKey(hash, key string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

// Config controls whether a connecting shipper's key is enforced.
type Config struct {
	Enabled      bool
	ExpectedHash string // bcrypt hash of the one accepted key; if empty, every connection is rejected when Enabled and accepted otherwise
	Logger       *slog.Logger
}

// CheckConn verifies presentedKey — the connection's first line (a
// newline-terminated key sent once, before the first frame), which the
// caller has already read — against cfg.ExpectedHash. During a grace period
// (Enabled=false) a failed or missing key is logged but not rejected,
// mirroring the teacher's grace-period behavior in AgentAuthMiddleware.
func CheckConn(cfg Config, presentedKey string, remote net.Addr) bool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.ExpectedHash == "" {
		if cfg.Enabled {
			logger.Warn("auth rejected: no key configured", "remote", remote)
			return false
		}
		logger.Debug("auth: no key configured (grace period)", "remote", remote)
		return true
	}

	ok := VerifyKey(cfg.ExpectedHash, presentedKey)
	if !ok {
		if cfg.Enabled {
			logger.Warn("auth rejected: invalid key", "remote", remote)
			return false
		}
		logger.Warn("auth: invalid key (grace period - would reject)", "remote", remote)
		return true
	}
	return true
}
