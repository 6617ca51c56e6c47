package agent

import (
	"context"
	"net"
	"testing"

	"github.com/pilot-net/edgecompress/internal/batcher"
	"github.com/pilot-net/edgecompress/internal/dictionary"
	"github.com/pilot-net/edgecompress/internal/shipper"
)

func newTestAgent(t *testing.T) *Agent {
	t.Helper()
	a, err := New(Config{
		BatcherLimits: batcher.Limits{BatchMax: 1},
		Dicts:         dictionary.New(1),
		Shipper: shipper.Config{
			Address: "unused",
			Dial:    func(ctx context.Context, address string) (net.Conn, error) { return nil, context.DeadlineExceeded },
		},
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestSubmitFlushesImmediatelyAtBatchMaxOne(t *testing.T) {
	a := newTestAgent(t)

	if err := a.Submit("icmp", map[string]any{"a": 1}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if depth := a.shipper.QueueDepth(); depth != 1 {
		t.Fatalf("expected one queued frame, got %d", depth)
	}
	snap := a.Metrics().Snapshot()
	tm := snap.Topics["icmp"]
	if tm.MessagesIn != 1 || tm.Flushes != 1 {
		t.Fatalf("unexpected metrics: %+v", tm)
	}
}

func TestSubmitRejectsInvalidTopic(t *testing.T) {
	a := newTestAgent(t)
	if err := a.Submit("bad topic!", map[string]any{}); err == nil {
		t.Fatalf("expected an error for an invalid topic")
	}
}

func TestSubmitRejectsNonJSONField(t *testing.T) {
	a := newTestAgent(t)
	if err := a.Submit("icmp", map[string]any{"ch": make(chan int)}); err == nil {
		t.Fatalf("expected an error for a non-JSON-compatible field")
	}
}
