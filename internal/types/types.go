// Package types holds the data structures shared across the edge agent,
// the collector, and the dictionary trainer — the in-memory mirror of the
// wire and on-disk formats in spec.md §3 and §6.
package types

import "time"

// Message is an unordered mapping from string keys to JSON-compatible
// values, scoped to a Topic chosen by the caller.
type Message struct {
	Topic  string
	Fields map[string]any
}

// Record is a canonicalized Message ready to be appended to a Batch.
type Record struct {
	Topic     string
	Canonical []byte // deterministic JSON, see internal/normalize
}

// Header is the in-memory mirror of the on-wire frame header (spec.md §6).
// Unlike the wire JSON, unknown fields are rejected rather than preserved
// (DESIGN NOTES §9: "dynamic dict of header fields → tagged record").
type Header struct {
	V       int    `json:"v"`
	Topic   string `json:"topic"`
	DictID  uint32 `json:"dict_id"`
	Count   int    `json:"count"`
	RawLen  int    `json:"raw_len"`
	CompLen int    `json:"comp_len"`
	Level   int    `json:"level"`
}

// ProtocolVersion is the current value of Header.V.
const ProtocolVersion = 1

// Batch is an ordered, single-topic sequence of canonical records destined
// for one Frame, compressed against one (Topic, DictID) pair.
type Batch struct {
	Topic     string
	DictID    uint32
	Records   [][]byte // canonical bytes, one per record, in submit order
	RawLen    int      // exact length of the 0x0A-joined concatenation
	FirstSeen time.Time
}

// Count returns the number of records currently in the batch.
func (b *Batch) Count() int { return len(b.Records) }

// Join concatenates the batch's records with a single 0x0A separator
// between them and no trailing separator, matching spec.md §3.
func (b *Batch) Join() []byte {
	out := make([]byte, 0, b.RawLen)
	for i, r := range b.Records {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, r...)
	}
	return out
}

// MetricsSnapshot is a stable, point-in-time view of the aggregator's
// counters (spec.md §4.9), both per-topic and summed overall.
type MetricsSnapshot struct {
	Topics    map[string]TopicMetrics `json:"topics"`
	Overall   TopicMetrics            `json:"overall"`
	CapturedAt time.Time              `json:"captured_at"`
}

// TopicMetrics is one topic's (or the overall) counters plus their derived
// ratios.
type TopicMetrics struct {
	MessagesIn        int64   `json:"messages_in"`
	BytesRawIn        int64   `json:"bytes_raw_in"`
	BytesCompOut      int64   `json:"bytes_comp_out"`
	Flushes           int64   `json:"flushes"`
	FlushMsSum        int64   `json:"flush_ms_sum"`
	CompressionErrors int64   `json:"compression_errors"`
	NetworkErrors     int64   `json:"network_errors"`
	ShipperDropped    int64   `json:"shipper_dropped"`
	CompressionRatio  float64 `json:"compression_ratio"`
}
