package shipper

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// BackoffConfig parameterizes the reconnect backoff from spec.md §4.6: base
// 100ms, cap 10s, jitter ±25%.
type BackoffConfig struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64
}

const (
	DefaultBackoffBase   = 100 * time.Millisecond
	DefaultBackoffCap    = 10 * time.Second
	DefaultBackoffJitter = 0.25
)

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Base <= 0 {
		c.Base = DefaultBackoffBase
	}
	if c.Cap <= 0 {
		c.Cap = DefaultBackoffCap
	}
	if c.Jitter <= 0 {
		c.Jitter = DefaultBackoffJitter
	}
	return c
}

// backoff computes reconnect delays and paces reconnect attempts overall
// with a token-bucket limiter, so a misbehaving remote that accepts and
// immediately drops connections can't drive the agent into a tight dial
// loop even if the exponential delay calculation is reset by an
// intervening success.
type backoff struct {
	cfg     BackoffConfig
	attempt int
	limiter *rate.Limiter
}

func newBackoff(cfg BackoffConfig) *backoff {
	cfg = cfg.withDefaults()
	// One reconnect attempt per base interval, bursting to 1: the limiter
	// is a floor under the computed delay, not a replacement for it.
	limiter := rate.NewLimiter(rate.Every(cfg.Base), 1)
	return &backoff{cfg: cfg, limiter: limiter}
}

// next returns the delay to wait before the next reconnect attempt and
// advances the internal attempt counter.
func (b *backoff) next() time.Duration {
	delay := b.cfg.Base << b.attempt
	if delay <= 0 || delay > b.cfg.Cap {
		delay = b.cfg.Cap
	}
	if b.attempt < 32 { // guard against unbounded left-shift
		b.attempt++
	}

	jitterRange := float64(delay) * b.cfg.Jitter
	delta := (rand.Float64()*2 - 1) * jitterRange
	jittered := time.Duration(float64(delay) + delta)
	if jittered < 0 {
		jittered = 0
	}
	return jittered
}

// reset clears the attempt counter after a successful reconnect.
func (b *backoff) reset() {
	b.attempt = 0
}

// pace blocks on the rate limiter floor before the caller sleeps out the
// computed exponential delay, so the limiter's per-attempt floor is always
// paid even if a caller bug ever shortens the sleep after next().
func (b *backoff) pace(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}
