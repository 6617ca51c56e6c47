// Package batcher implements the Topic batcher (spec.md §4.3): a per-topic
// bounded queue with a dual flush trigger, size or age, that hands
// completed batches off to a FlushFunc for compression and shipping.
//
// Each topic's buffer is guarded by its own lock so submissions to distinct
// topics never contend (mirrored from the teacher scheduler's per-tier
// goroutine and per-resource-lock design in scheduler.go). Flush swaps the
// buffer out under the lock only long enough to detach it; the FlushFunc
// itself — which compresses and frames the batch — always runs outside the
// lock so producer latency on other submits is never blocked by it.
package batcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pilot-net/edgecompress/internal/dictionary"
	"github.com/pilot-net/edgecompress/internal/types"
	"github.com/pilot-net/edgecompress/internal/validate"
)

// FlushFunc receives a completed Batch, detached from the live buffer. It
// is responsible for compression, framing and shipping (or whatever the
// caller wants done with a finished batch); the Batcher never calls it
// while holding a topic lock.
type FlushFunc func(batch *types.Batch)

// Limits bounds the batcher; zero values fall back to spec.md §6 defaults.
type Limits struct {
	BatchMax   int           // max records per batch, default 100
	BatchAge   time.Duration // max batch age, default 250ms
	BatchBytes int           // flush-before-insert threshold, default 1 MiB
}

const (
	DefaultBatchMax   = 100
	DefaultBatchAge   = 250 * time.Millisecond
	DefaultBatchBytes = 1 << 20
)

// WithDefaults fills zero fields with the spec.md §6 defaults.
func (l Limits) WithDefaults() Limits {
	if l.BatchMax <= 0 {
		l.BatchMax = DefaultBatchMax
	}
	if l.BatchAge <= 0 {
		l.BatchAge = DefaultBatchAge
	}
	if l.BatchBytes <= 0 {
		l.BatchBytes = DefaultBatchBytes
	}
	return l
}

// topicBuffer is one topic's in-progress batch plus its own lock.
type topicBuffer struct {
	mu    sync.Mutex
	batch *types.Batch
}

// Batcher fans submissions out to per-topic buffers and runs a background
// tick that flushes any buffer older than its age limit.
type Batcher struct {
	limits Limits
	dicts  *dictionary.Store
	flush  FlushFunc
	logger *slog.Logger

	mu      sync.RWMutex
	buffers map[string]*topicBuffer

	vlimits validate.Limits
}

// New creates a Batcher. dicts supplies the current (dict_id, dictionary)
// for a topic at submit time; flush is invoked, off the topic lock, every
// time a buffer is flushed for any reason.
func New(limits Limits, vlimits validate.Limits, dicts *dictionary.Store, flush FlushFunc, logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		limits:  limits.WithDefaults(),
		vlimits: vlimits.WithDefaults(),
		dicts:   dicts,
		flush:   flush,
		logger:  logger,
		buffers: make(map[string]*topicBuffer),
	}
}

func (b *Batcher) bufferFor(topic string) *topicBuffer {
	b.mu.RLock()
	tb, ok := b.buffers[topic]
	b.mu.RUnlock()
	if ok {
		return tb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if tb, ok := b.buffers[topic]; ok {
		return tb
	}
	tb = &topicBuffer{}
	b.buffers[topic] = tb
	return tb
}

// Submit appends canonical to topic's buffer. If adding it would exceed
// the batch byte ceiling, the buffer is flushed before insertion; if the
// insertion itself reaches BatchMax records, the buffer is flushed
// immediately after.
func (b *Batcher) Submit(topic string, canonical []byte) error {
	if err := validate.Message(canonical, b.vlimits); err != nil {
		return err
	}

	tb := b.bufferFor(topic)
	tb.mu.Lock()

	dictID, _ := b.dicts.Get(topic)

	if tb.batch != nil && tb.batch.DictID != dictID {
		// A new dictionary generation was installed mid-buffer: flush what
		// we have under the old generation before mixing dict_ids in one
		// batch, which the wire contract forbids.
		done := tb.detachLocked()
		tb.mu.Unlock()
		b.dispatch(done)
		tb.mu.Lock()
	}

	added := len(canonical)
	if tb.batch != nil && len(tb.batch.Records) > 0 {
		sep := 1 // the 0x0A that would join this record to the prior one
		if tb.batch.RawLen+sep+added > b.limits.BatchBytes {
			done := tb.detachLocked()
			tb.mu.Unlock()
			b.dispatch(done)
			tb.mu.Lock()
		}
	}

	if tb.batch == nil {
		tb.batch = &types.Batch{
			Topic:     topic,
			DictID:    dictID,
			FirstSeen: time.Now(),
		}
	}

	if len(tb.batch.Records) > 0 {
		tb.batch.RawLen++ // separator
	}
	tb.batch.RawLen += added
	tb.batch.Records = append(tb.batch.Records, canonical)

	var done *types.Batch
	if len(tb.batch.Records) >= b.limits.BatchMax {
		done = tb.detachLocked()
	} else if len(tb.batch.Records) == 1 && tb.batch.RawLen >= b.limits.BatchBytes {
		// A single record already at or over the byte ceiling: flush it on
		// its own instead of waiting for the age tick.
		done = tb.detachLocked()
	}
	tb.mu.Unlock()

	if done != nil {
		b.dispatch(done)
	}
	return nil
}

// detachLocked removes tb's current batch and returns it, or nil if the
// buffer was empty. Callers must hold tb.mu.
func (tb *topicBuffer) detachLocked() *types.Batch {
	if tb.batch == nil || len(tb.batch.Records) == 0 {
		tb.batch = nil
		return nil
	}
	done := tb.batch
	tb.batch = nil
	return done
}

func (b *Batcher) dispatch(batch *types.Batch) {
	if batch == nil {
		return
	}
	if err := validate.BatchRawLen(batch.RawLen, b.vlimits); err != nil {
		b.logger.Error("dropping oversize batch", "topic", batch.Topic, "raw_len", batch.RawLen, "error", err)
		return
	}
	b.flush(batch)
}

// Flush flushes topic's buffer immediately if non-empty; a no-op otherwise.
func (b *Batcher) Flush(topic string) {
	tb := b.bufferFor(topic)
	tb.mu.Lock()
	done := tb.detachLocked()
	tb.mu.Unlock()
	b.dispatch(done)
}

// FlushAll flushes every topic's buffer; used on shutdown.
func (b *Batcher) FlushAll() {
	b.mu.RLock()
	topics := make([]string, 0, len(b.buffers))
	for t := range b.buffers {
		topics = append(topics, t)
	}
	b.mu.RUnlock()

	for _, t := range topics {
		b.Flush(t)
	}
}

// Run ticks at BatchAge/4 and flushes any buffer whose age has reached
// BatchAge (spec.md §4.3, §9 "explicit scheduler" design note). It blocks
// until ctx is cancelled, then performs one final FlushAll before
// returning.
func (b *Batcher) Run(ctx context.Context) {
	interval := b.limits.BatchAge / 4
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.FlushAll()
			return
		case <-ticker.C:
			b.tick()
		}
	}
}

func (b *Batcher) tick() {
	b.mu.RLock()
	topics := make([]string, 0, len(b.buffers))
	for t := range b.buffers {
		topics = append(topics, t)
	}
	b.mu.RUnlock()

	now := time.Now()
	for _, topic := range topics {
		tb := b.bufferFor(topic)
		tb.mu.Lock()
		var done *types.Batch
		if tb.batch != nil && now.Sub(tb.batch.FirstSeen) >= b.limits.BatchAge {
			done = tb.detachLocked()
		}
		tb.mu.Unlock()
		b.dispatch(done)
	}
}
