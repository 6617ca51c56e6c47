package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ArchivalSink writes decoded records to a Postgres/Timescale table for
// ad-hoc SQL querying, supplementing the required out/<topic>.jsonl append
// (spec.md §4.7 only requires the jsonl path; this is an optional sink a
// complete deployment also wires in).
type ArchivalSink struct {
	pool *pgxpool.Pool
}

// NewArchivalSink connects to dsn and ensures the archival table exists.
func NewArchivalSink(ctx context.Context, dsn string) (*ArchivalSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to archival database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging archival database: %w", err)
	}
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS edge_records (
			id BIGSERIAL PRIMARY KEY,
			topic TEXT NOT NULL,
			received_at TIMESTAMPTZ NOT NULL,
			comp_len INTEGER NOT NULL,
			payload JSONB NOT NULL
		)
	`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating edge_records table: %w", err)
	}
	return &ArchivalSink{pool: pool}, nil
}

// writeEnvelopes bulk-inserts every line of every envelope via a staging
// table and COPY, mirroring the teacher's copyResults in flusher.go.
func (s *ArchivalSink) writeEnvelopes(ctx context.Context, envs []envelope) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		CREATE TEMP TABLE edge_records_staging (
			topic TEXT NOT NULL,
			received_at TIMESTAMPTZ NOT NULL,
			comp_len INTEGER NOT NULL,
			payload JSONB NOT NULL
		) ON COMMIT DROP
	`); err != nil {
		return err
	}

	var rows [][]any
	for _, e := range envs {
		for _, line := range e.Lines {
			rows = append(rows, []any{e.Topic, e.ReceivedAt, e.CompLen, line})
		}
	}
	if len(rows) == 0 {
		return nil
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"edge_records_staging"},
		[]string{"topic", "received_at", "comp_len", "payload"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO edge_records (topic, received_at, comp_len, payload)
		SELECT topic, received_at, comp_len, payload FROM edge_records_staging
	`); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Close closes the underlying pool.
func (s *ArchivalSink) Close() {
	s.pool.Close()
}

// ArchivalFlusher periodically drains an IntakeWAL into an ArchivalSink,
// the same decoupled intake-then-flush shape as the teacher's
// buffer.Flusher (flusher.go).
type ArchivalFlusher struct {
	wal    *IntakeWAL
	sink   *ArchivalSink
	logger *slog.Logger

	interval time.Duration
	batch    int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewArchivalFlusher creates a flusher with the teacher's default interval
// and batch size.
func NewArchivalFlusher(wal *IntakeWAL, sink *ArchivalSink, logger *slog.Logger) *ArchivalFlusher {
	return &ArchivalFlusher{
		wal:      wal,
		sink:     sink,
		logger:   logger.With("component", "archival_flusher"),
		interval: DefaultArchivalInterval,
		batch:    DefaultArchivalBatch,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background flush loop.
func (f *ArchivalFlusher) Start() {
	f.wg.Add(1)
	go f.run()
	f.logger.Info("archival flusher started", "interval", f.interval, "batch_size", f.batch)
}

// Stop stops the flusher, performing one final flush first.
func (f *ArchivalFlusher) Stop() {
	close(f.stopCh)
	f.wg.Wait()
	f.logger.Info("archival flusher stopped")
}

func (f *ArchivalFlusher) run() {
	defer f.wg.Done()
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			f.flush()
			return
		case <-ticker.C:
			f.flush()
		}
	}
}

func (f *ArchivalFlusher) flush() {
	ctx := context.Background()

	size, err := f.wal.Len(ctx)
	if err != nil {
		f.logger.Error("failed to get wal size", "error", err)
		return
	}
	if size == 0 {
		return
	}

	envs, err := f.wal.pop(ctx, f.batch)
	if err != nil {
		f.logger.Error("failed to pop from wal", "error", err)
		return
	}
	if len(envs) == 0 {
		return
	}

	start := time.Now()
	if err := f.sink.writeEnvelopes(ctx, envs); err != nil {
		f.logger.Error("failed to write envelopes to archival sink", "error", err, "count", len(envs))
		return
	}
	f.logger.Info("flushed envelopes to archival sink",
		"count", len(envs),
		"remaining", size-int64(len(envs)),
		"duration", time.Since(start))
}
