package metrics

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestSnapshotComputesRatioAndOverall(t *testing.T) {
	a := New()
	a.MessageIn("sensors.temp", 100)
	a.MessageIn("sensors.temp", 100)
	a.Flush("sensors.temp", 40, 5*time.Millisecond)
	a.MessageIn("sensors.humidity", 50)
	a.Flush("sensors.humidity", 25, 2*time.Millisecond)

	snap := a.Snapshot()

	temp := snap.Topics["sensors.temp"]
	if temp.MessagesIn != 2 || temp.BytesRawIn != 200 || temp.BytesCompOut != 40 {
		t.Fatalf("unexpected temp counters: %+v", temp)
	}
	if temp.CompressionRatio != 0.2 {
		t.Fatalf("expected ratio 0.2, got %v", temp.CompressionRatio)
	}

	if snap.Overall.MessagesIn != 3 {
		t.Fatalf("expected overall messages_in 3, got %d", snap.Overall.MessagesIn)
	}
	if snap.Overall.BytesRawIn != 250 || snap.Overall.BytesCompOut != 65 {
		t.Fatalf("unexpected overall bytes: %+v", snap.Overall)
	}
}

func TestSnapshotZeroRawInGivesZeroRatio(t *testing.T) {
	a := New()
	a.CompressionError("t")
	snap := a.Snapshot()
	if snap.Topics["t"].CompressionRatio != 0 {
		t.Fatalf("expected ratio 0 for topic with no bytes in, got %v", snap.Topics["t"].CompressionRatio)
	}
}

func TestWriteCSVIncludesHeaderAndSortedTopics(t *testing.T) {
	a := New()
	a.MessageIn("z", 10)
	a.Flush("z", 5, time.Millisecond)
	a.MessageIn("a", 10)
	a.Flush("a", 5, time.Millisecond)

	var buf bytes.Buffer
	if err := WriteCSV(&buf, a.Snapshot(), func(topic string) uint32 { return 7 }); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines: %q", len(lines), buf.String())
	}
	if lines[0] != "ts,topic,msgs,raw_bytes,comp_bytes,ratio,flush_ms,dict_id" {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	if !strings.Contains(lines[1], ",a,") {
		t.Fatalf("expected topic a before topic z, got %q", lines[1])
	}
}
