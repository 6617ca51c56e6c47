// Package metrics implements the Metrics aggregator (spec.md §4.9):
// thread-safe per-topic counters plus a stable snapshot operation, and the
// supplemental CSV export and process-health reporting that accompany it
// in a complete deployment (spec.md treats the CSV reporter as an external
// collaborator whose interface, not its internals, is in scope).
package metrics

import (
	"sync"
	"time"

	"github.com/pilot-net/edgecompress/internal/types"
)

// topicCounters holds one topic's raw counters behind its own lock, so
// topics never contend with each other (mirrored from the per-resource
// locking used throughout the rest of this pipeline).
type topicCounters struct {
	mu sync.Mutex
	types.TopicMetrics
}

// Aggregator accumulates counters per topic and exposes a combined
// snapshot on demand.
type Aggregator struct {
	mu     sync.RWMutex
	topics map[string]*topicCounters
}

// New creates an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{topics: make(map[string]*topicCounters)}
}

func (a *Aggregator) counters(topic string) *topicCounters {
	a.mu.RLock()
	tc, ok := a.topics[topic]
	a.mu.RUnlock()
	if ok {
		return tc
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if tc, ok := a.topics[topic]; ok {
		return tc
	}
	tc = &topicCounters{}
	a.topics[topic] = tc
	return tc
}

// MessageIn records one message accepted into a topic's batch.
func (a *Aggregator) MessageIn(topic string, rawBytes int) {
	tc := a.counters(topic)
	tc.mu.Lock()
	tc.MessagesIn++
	tc.BytesRawIn += int64(rawBytes)
	tc.mu.Unlock()
}

// Flush records one completed flush: the compressed size it produced and
// how long compression took.
func (a *Aggregator) Flush(topic string, compBytes int, elapsed time.Duration) {
	tc := a.counters(topic)
	tc.mu.Lock()
	tc.Flushes++
	tc.BytesCompOut += int64(compBytes)
	tc.FlushMsSum += elapsed.Milliseconds()
	tc.mu.Unlock()
}

// CompressionError records a dropped batch due to a compressor failure.
func (a *Aggregator) CompressionError(topic string) {
	tc := a.counters(topic)
	tc.mu.Lock()
	tc.CompressionErrors++
	tc.mu.Unlock()
}

// NetworkError records a shipper send failure.
func (a *Aggregator) NetworkError(topic string) {
	tc := a.counters(topic)
	tc.mu.Lock()
	tc.NetworkErrors++
	tc.mu.Unlock()
}

// ShipperDropped records frames abandoned by the shipper's overflow or
// shutdown-grace policy.
func (a *Aggregator) ShipperDropped(topic string, count int64) {
	tc := a.counters(topic)
	tc.mu.Lock()
	tc.ShipperDropped += count
	tc.mu.Unlock()
}

// Snapshot returns a stable, point-in-time view of every topic's counters
// plus their sum, with compression ratios computed at read time.
func (a *Aggregator) Snapshot() types.MetricsSnapshot {
	a.mu.RLock()
	topicNames := make([]string, 0, len(a.topics))
	for t := range a.topics {
		topicNames = append(topicNames, t)
	}
	a.mu.RUnlock()

	snap := types.MetricsSnapshot{
		Topics:     make(map[string]types.TopicMetrics, len(topicNames)),
		CapturedAt: time.Now(),
	}

	var overall types.TopicMetrics
	for _, t := range topicNames {
		tc := a.counters(t)
		tc.mu.Lock()
		m := tc.TopicMetrics
		tc.mu.Unlock()

		m.CompressionRatio = ratio(m.BytesCompOut, m.BytesRawIn)
		snap.Topics[t] = m

		overall.MessagesIn += m.MessagesIn
		overall.BytesRawIn += m.BytesRawIn
		overall.BytesCompOut += m.BytesCompOut
		overall.Flushes += m.Flushes
		overall.FlushMsSum += m.FlushMsSum
		overall.CompressionErrors += m.CompressionErrors
		overall.NetworkErrors += m.NetworkErrors
		overall.ShipperDropped += m.ShipperDropped
	}
	overall.CompressionRatio = ratio(overall.BytesCompOut, overall.BytesRawIn)
	snap.Overall = overall
	return snap
}

func ratio(compOut, rawIn int64) float64 {
	if rawIn == 0 {
		return 0
	}
	return float64(compOut) / float64(rawIn)
}
