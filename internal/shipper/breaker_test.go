package shipper

import (
	"testing"
	"time"
)

func TestBreakerTripsAfterFConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{Failures: 5, OpenFor: 0, Successes: 2})
	for i := 0; i < 4; i++ {
		b.RecordFailure()
		if b.State() != Closed {
			t.Fatalf("expected closed after %d failures, got %v", i+1, b.State())
		}
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("expected open after 5th consecutive failure, got %v", b.State())
	}
}

func TestBreakerHalfOpenClosesAfterSSuccesses(t *testing.T) {
	// OpenFor 0 would fall back to the 30s default, so use 1ns and let it elapse.
	b := NewBreaker(BreakerConfig{Failures: 1, OpenFor: time.Nanosecond, Successes: 2})
	b.RecordFailure()
	time.Sleep(time.Millisecond)
	if b.State() != Open {
		t.Fatalf("expected open, got %v", b.State())
	}
	if !b.Allow() {
		t.Fatalf("expected Allow to transition to half-open once OpenFor elapsed")
	}
	if b.State() != HalfOpen {
		t.Fatalf("expected half_open, got %v", b.State())
	}
	b.RecordSuccess()
	if b.State() != HalfOpen {
		t.Fatalf("expected still half_open after 1 success (need 2), got %v", b.State())
	}
	b.RecordSuccess()
	if b.State() != Closed {
		t.Fatalf("expected closed after 2 successes, got %v", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{Failures: 1, OpenFor: time.Nanosecond, Successes: 2})
	b.RecordFailure()
	time.Sleep(time.Millisecond)
	b.Allow() // transitions to half-open
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("expected reopen on half-open failure, got %v", b.State())
	}
}

func TestBreakerDoesNotAllowWhileOpen(t *testing.T) {
	b := NewBreaker(BreakerConfig{Failures: 1, OpenFor: 1e9 /* ~1s as time.Duration int */})
	b.RecordFailure()
	if b.Allow() {
		t.Fatalf("expected Allow false immediately after tripping open")
	}
}
