package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	intakeKey = "edgecompress:intake"

	// DefaultArchivalBatch bounds how many envelopes one flush pulls from
	// Redis per round, matching the teacher's COPY-sized batching.
	DefaultArchivalBatch = 20000
	// DefaultArchivalInterval is how often the background flusher drains
	// the WAL into the archival sink.
	DefaultArchivalInterval = 2 * time.Second
)

// envelope is one decoded batch queued for asynchronous archival,
// independent of (and in addition to) the synchronous out/<topic>.jsonl
// append every frame always receives.
type envelope struct {
	Topic     string   `json:"topic"`
	Lines     [][]byte `json:"lines"`
	CompLen   int      `json:"comp_len"`
	ReceivedAt time.Time `json:"received_at"`
}

// IntakeWAL is a Redis-backed write-ahead buffer decoupling frame receipt
// from archival-sink writes, adapted from the teacher's ResultBuffer
// (buffer.go) — there it buffers probe results ahead of a Postgres flush;
// here it buffers decoded record batches ahead of the same kind of flush.
type IntakeWAL struct {
	client *redis.Client
	logger *slog.Logger
}

// NewIntakeWAL connects to redisURL and verifies reachability.
func NewIntakeWAL(redisURL string, logger *slog.Logger) (*IntakeWAL, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &IntakeWAL{client: client, logger: logger}, nil
}

// Push enqueues one decoded batch for later archival.
func (w *IntakeWAL) Push(ctx context.Context, topic string, lines [][]byte, compLen int) error {
	data, err := json.Marshal(envelope{Topic: topic, Lines: lines, CompLen: compLen, ReceivedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}
	return w.client.LPush(ctx, intakeKey, data).Err()
}

// pop removes and returns up to max envelopes in FIFO order.
func (w *IntakeWAL) pop(ctx context.Context, max int) ([]envelope, error) {
	pipe := w.client.Pipeline()
	cmds := make([]*redis.StringCmd, max)
	for i := range cmds {
		cmds[i] = pipe.RPop(ctx, intakeKey)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("popping from wal: %w", err)
	}

	out := make([]envelope, 0, max)
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			continue
		}
		var e envelope
		if err := json.Unmarshal(data, &e); err != nil {
			w.logger.Warn("failed to unmarshal wal envelope", "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Len reports the number of envelopes currently buffered.
func (w *IntakeWAL) Len(ctx context.Context) (int64, error) {
	return w.client.LLen(ctx, intakeKey).Result()
}

// Close closes the Redis connection.
func (w *IntakeWAL) Close() error {
	return w.client.Close()
}
