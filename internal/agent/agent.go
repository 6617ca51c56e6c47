// Package agent wires the edge-side components (spec.md §2's data flow:
// caller → Validator → Normalizer → Topic batcher → Compressor+Framer →
// Shipper → wire) into the single public entry point a cmd/ main uses.
//
// The lifecycle and concurrent-loop shape is grounded on the teacher's
// Agent in agent.go: a constructor that wires collaborators, and a Run
// that starts each concurrent loop and returns on the first error or on
// context cancellation.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pilot-net/edgecompress/internal/batcher"
	"github.com/pilot-net/edgecompress/internal/compress"
	"github.com/pilot-net/edgecompress/internal/dictionary"
	"github.com/pilot-net/edgecompress/internal/metrics"
	"github.com/pilot-net/edgecompress/internal/normalize"
	"github.com/pilot-net/edgecompress/internal/shipper"
	"github.com/pilot-net/edgecompress/internal/types"
	"github.com/pilot-net/edgecompress/internal/validate"
)

// Version is set at build time.
var Version = "dev"

// Config wires every collaborator the edge agent needs.
type Config struct {
	BatcherLimits   batcher.Limits
	ValidateLimits  validate.Limits
	CompressLevel   int
	CompressCacheSz int

	Dicts    *dictionary.Store
	Shipper  shipper.Config
	Metrics  *metrics.Aggregator
	Volatile map[string]normalize.VolatileSet // per-topic volatile-field sets

	Logger *slog.Logger
}

// Agent is the edge agent: the caller-facing Submit API plus the
// background batching, compression and shipping loops.
type Agent struct {
	cfg     Config
	dicts   *dictionary.Store
	codec   *compress.Codec
	batcher *batcher.Batcher
	shipper *shipper.Shipper
	metrics *metrics.Aggregator
	volatile map[string]normalize.VolatileSet
	logger  *slog.Logger
}

// New builds an Agent; call Run to start its background loops.
func New(cfg Config, logger *slog.Logger) (*Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dicts == nil {
		return nil, fmt.Errorf("agent.New: Dicts is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	cfg.Shipper.Metrics = cfg.Metrics
	cfg.Shipper.Logger = logger

	a := &Agent{
		cfg:      cfg,
		dicts:    cfg.Dicts,
		codec:    compress.NewCodec(cfg.CompressCacheSz),
		shipper:  shipper.New(cfg.Shipper),
		metrics:  cfg.Metrics,
		volatile: cfg.Volatile,
		logger:   logger,
	}
	a.batcher = batcher.New(cfg.BatcherLimits, cfg.ValidateLimits, cfg.Dicts, a.onFlush, logger)
	return a, nil
}

// Submit validates, normalizes and batches one message under topic. It
// never blocks on network I/O (spec.md §5 "Suspension points").
func (a *Agent) Submit(topic string, fields map[string]any) error {
	if err := validate.Topic(topic); err != nil {
		return err
	}
	canonical, err := normalize.Canonicalize(fields, a.volatile[topic])
	if err != nil {
		return err
	}
	a.metrics.MessageIn(topic, len(canonical))
	return a.batcher.Submit(topic, canonical)
}

// Run starts the batcher's age ticker and the shipper's send loop, and
// blocks until ctx is cancelled, flushing and draining on the way out.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting edge agent", "version", Version)

	done := make(chan struct{})
	go func() {
		a.batcher.Run(ctx)
		close(done)
	}()

	go a.shipper.Run(ctx)

	<-ctx.Done()
	<-done
	return ctx.Err()
}

// Metrics exposes the shared aggregator for a health/metrics HTTP surface.
func (a *Agent) Metrics() *metrics.Aggregator { return a.metrics }

// onFlush is the batcher's FlushFunc: it compresses the batch against its
// referenced dictionary, frames it, and enqueues it on the Shipper. A
// compressor failure drops the batch and records CompressionError,
// matching spec.md §4.4's stated policy.
func (a *Agent) onFlush(batch *types.Batch) {
	dict, ok := a.dicts.GetByID(batch.Topic, batch.DictID)
	if !ok {
		// The dictionary this batch was built against aged out of the
		// store's retention window before flush. Should not happen with
		// the default keep >= 1, but fail safe rather than compress
		// against the wrong generation.
		a.logger.Error("dropping batch: dictionary no longer resident", "topic", batch.Topic, "dict_id", batch.DictID)
		a.metrics.CompressionError(batch.Topic)
		return
	}

	raw := batch.Join()
	start := time.Now()
	payload, err := a.codec.Compress(batch.Topic, batch.DictID, dict, a.cfg.CompressLevel, raw)
	if err != nil {
		a.logger.Error("dropping batch after compression failure", "topic", batch.Topic, "error", err)
		a.metrics.CompressionError(batch.Topic)
		return
	}
	elapsed := time.Since(start)
	a.metrics.Flush(batch.Topic, len(payload), elapsed)

	header := types.Header{
		V:       types.ProtocolVersion,
		Topic:   batch.Topic,
		DictID:  batch.DictID,
		Count:   batch.Count(),
		RawLen:  batch.RawLen,
		CompLen: len(payload),
		Level:   a.cfg.CompressLevel,
	}
	a.shipper.Enqueue(batch.Topic, header, payload)
}
