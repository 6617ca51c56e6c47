// Package validate rejects malformed topics, oversized messages/batches,
// and out-of-range frame headers (spec.md §4.10).
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pilot-net/edgecompress/internal/errs"
	"github.com/pilot-net/edgecompress/internal/types"
)

var topicPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// Limits bounds the validator; zero values fall back to spec.md §6 defaults.
type Limits struct {
	MaxMessageBytes int // default 10 MiB
	MaxBatchBytes   int // default 100 MiB
}

const (
	DefaultMaxMessageBytes = 10 * 1024 * 1024
	DefaultMaxBatchBytes   = 100 * 1024 * 1024
	maxDictID              = 1<<31 - 1
)

// WithDefaults fills zero fields with the spec.md §6 defaults.
func (l Limits) WithDefaults() Limits {
	if l.MaxMessageBytes <= 0 {
		l.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if l.MaxBatchBytes <= 0 {
		l.MaxBatchBytes = DefaultMaxBatchBytes
	}
	return l
}

// Topic rejects a topic that doesn't match [A-Za-z0-9._-]{1,128} or that
// contains "..".
func Topic(topic string) error {
	if !topicPattern.MatchString(topic) {
		return errs.New(errs.BadMessage, "validate.Topic", fmt.Errorf("invalid topic %q", topic))
	}
	if strings.Contains(topic, "..") {
		return errs.New(errs.BadMessage, "validate.Topic", fmt.Errorf("topic %q contains '..'", topic))
	}
	return nil
}

// Message rejects a canonical message whose raw length exceeds the limit.
func Message(canonical []byte, limits Limits) error {
	limits = limits.WithDefaults()
	if len(canonical) > limits.MaxMessageBytes {
		return errs.New(errs.BadMessage, "validate.Message",
			fmt.Errorf("message length %d exceeds max %d", len(canonical), limits.MaxMessageBytes))
	}
	return nil
}

// BatchRawLen rejects a batch whose raw length exceeds the limit.
func BatchRawLen(rawLen int, limits Limits) error {
	limits = limits.WithDefaults()
	if rawLen > limits.MaxBatchBytes {
		return errs.New(errs.BadMessage, "validate.BatchRawLen",
			fmt.Errorf("batch raw_len %d exceeds max %d", rawLen, limits.MaxBatchBytes))
	}
	return nil
}

// Header rejects a frame header with an out-of-range dict_id, a missing
// topic, count < 1, or raw_len < count-1 (spec.md §4.10, §3 invariants).
func Header(h types.Header) error {
	if h.Topic == "" {
		return errs.New(errs.FrameProtocol, "validate.Header", fmt.Errorf("header missing topic"))
	}
	if err := Topic(h.Topic); err != nil {
		return errs.New(errs.FrameProtocol, "validate.Header", err)
	}
	if h.DictID > maxDictID {
		return errs.New(errs.FrameProtocol, "validate.Header",
			fmt.Errorf("dict_id %d outside [0, 2^31)", h.DictID))
	}
	if h.Count < 1 {
		return errs.New(errs.FrameProtocol, "validate.Header",
			fmt.Errorf("count %d < 1", h.Count))
	}
	if h.RawLen < h.Count-1 {
		return errs.New(errs.FrameProtocol, "validate.Header",
			fmt.Errorf("raw_len %d < count-1 (%d)", h.RawLen, h.Count-1))
	}
	if h.CompLen < 0 {
		return errs.New(errs.FrameProtocol, "validate.Header",
			fmt.Errorf("comp_len %d negative", h.CompLen))
	}
	return nil
}
