package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(16)
	for i := 1; i <= 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}

	if got := tracker.Count(); got != 10 {
		t.Fatalf("expected 10 samples, got %d", got)
	}
	if p0 := tracker.Percentile(0); p0 != time.Millisecond {
		t.Fatalf("expected min 1ms, got %s", p0)
	}
	if p100 := tracker.Percentile(100); p100 != 10*time.Millisecond {
		t.Fatalf("expected max 10ms, got %s", p100)
	}
	if p50 := tracker.Percentile(50); p50 < time.Millisecond || p50 > 10*time.Millisecond {
		t.Fatalf("p50 out of range: %s", p50)
	}
}

func TestLatencyTrackerBoundsSamples(t *testing.T) {
	tracker := NewLatencyTracker(4)
	for i := 0; i < 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if got := tracker.Count(); got != 4 {
		t.Fatalf("expected bounded sample count 4, got %d", got)
	}
	// Oldest samples are evicted first.
	if min := tracker.Percentile(0); min != 6*time.Millisecond {
		t.Fatalf("expected min 6ms after eviction, got %s", min)
	}
}

func TestLatencyTrackerEmpty(t *testing.T) {
	tracker := NewLatencyTracker(4)
	if got := tracker.Percentile(95); got != 0 {
		t.Fatalf("expected zero duration, got %s", got)
	}
}
