package batcher

import (
	"sync"
	"testing"
	"time"

	"github.com/pilot-net/edgecompress/internal/dictionary"
	"github.com/pilot-net/edgecompress/internal/types"
	"github.com/pilot-net/edgecompress/internal/validate"
)

func collectingFlush() (FlushFunc, func() []*types.Batch) {
	var mu sync.Mutex
	var batches []*types.Batch
	return func(b *types.Batch) {
			mu.Lock()
			defer mu.Unlock()
			batches = append(batches, b)
		}, func() []*types.Batch {
			mu.Lock()
			defer mu.Unlock()
			out := make([]*types.Batch, len(batches))
			copy(out, batches)
			return out
		}
}

func TestSubmitFlushesAtBatchMax(t *testing.T) {
	flush, get := collectingFlush()
	b := New(Limits{BatchMax: 3, BatchAge: time.Hour, BatchBytes: 1 << 20}, validate.Limits{}, dictionary.New(1), flush, nil)

	for i := 0; i < 3; i++ {
		if err := b.Submit("t", []byte("x")); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	batches := get()
	if len(batches) != 1 {
		t.Fatalf("expected 1 flushed batch, got %d", len(batches))
	}
	if batches[0].Count() != 3 {
		t.Fatalf("expected count 3, got %d", batches[0].Count())
	}
}

func TestSubmit101MessagesYieldsTwoBatches(t *testing.T) {
	flush, get := collectingFlush()
	b := New(Limits{BatchMax: 100, BatchAge: time.Hour, BatchBytes: 1 << 20}, validate.Limits{}, dictionary.New(1), flush, nil)

	for i := 0; i < 101; i++ {
		if err := b.Submit("t", []byte("x")); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	// BatchMax flushes the first 100; the 101st record waits for the age
	// tick or the shutdown flush, which FlushAll stands in for here.
	b.FlushAll()

	batches := get()
	if len(batches) != 2 {
		t.Fatalf("expected 2 flushed batches, got %d", len(batches))
	}
	if batches[0].Count() != 100 || batches[1].Count() != 1 {
		t.Fatalf("expected counts 100,1 got %d,%d", batches[0].Count(), batches[1].Count())
	}
}

func TestFlushNoopOnEmptyBuffer(t *testing.T) {
	flush, get := collectingFlush()
	b := New(Limits{}, validate.Limits{}, dictionary.New(1), flush, nil)
	b.Flush("never-submitted")
	if len(get()) != 0 {
		t.Fatalf("expected no flush for empty buffer")
	}
}

func TestDistinctTopicsDoNotShareBatches(t *testing.T) {
	flush, get := collectingFlush()
	b := New(Limits{BatchMax: 2, BatchAge: time.Hour}, validate.Limits{}, dictionary.New(1), flush, nil)

	b.Submit("a", []byte("1"))
	b.Submit("b", []byte("1"))
	if len(get()) != 0 {
		t.Fatalf("expected no flush yet")
	}
	b.Submit("a", []byte("2")) // reaches BatchMax for "a" only
	batches := get()
	if len(batches) != 1 || batches[0].Topic != "a" {
		t.Fatalf("expected exactly one flush for topic a, got %+v", batches)
	}
}

func TestBatchByteCeilingFlushesBeforeInsert(t *testing.T) {
	flush, get := collectingFlush()
	b := New(Limits{BatchMax: 1000, BatchAge: time.Hour, BatchBytes: 10}, validate.Limits{}, dictionary.New(1), flush, nil)

	b.Submit("t", []byte("12345")) // 5 bytes, fits
	b.Submit("t", []byte("12345")) // 5+1+5=11 > 10: flush first, then buffer just this one
	batches := get()
	if len(batches) != 1 {
		t.Fatalf("expected 1 flush from ceiling breach, got %d", len(batches))
	}
	if batches[0].Count() != 1 {
		t.Fatalf("expected the flushed batch to hold only the first record, got count %d", batches[0].Count())
	}
}

func TestRunFlushesAgedBuffer(t *testing.T) {
	flush, get := collectingFlush()
	b := New(Limits{BatchMax: 1000, BatchAge: 20 * time.Millisecond, BatchBytes: 1 << 20}, validate.Limits{}, dictionary.New(1), flush, nil)

	done := make(chan struct{})
	go func() {
		b.Submit("t", []byte("x"))
		close(done)
	}()
	<-done

	stop := make(chan struct{})
	go func() {
		// simulate ctx cancellation after enough ticks for the age trigger
		time.Sleep(80 * time.Millisecond)
		close(stop)
	}()

	ctxDone := make(chan struct{})
	go func() {
		runUntil(b, stop)
		close(ctxDone)
	}()
	<-ctxDone

	if len(get()) == 0 {
		t.Fatalf("expected the aged buffer to be flushed by the background tick")
	}
}

// runUntil is a small test harness mirroring Run's tick loop without
// depending on context plumbing in the test itself.
func runUntil(b *Batcher, stop <-chan struct{}) {
	ticker := time.NewTicker(b.limits.BatchAge / 4)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.tick()
		}
	}
}
