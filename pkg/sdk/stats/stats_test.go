package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(reg)

	s.Enqueued("high")
	s.Enqueued("high")
	s.Enqueued("low")
	if got := testutil.ToFloat64(s.enqueued.WithLabelValues("high")); got != 2 {
		t.Fatalf("expected 2 high enqueues, got %f", got)
	}

	s.Delivered(7)
	if got := testutil.ToFloat64(s.delivered); got != 7 {
		t.Fatalf("expected 7 delivered, got %f", got)
	}

	s.Attempt("success")
	s.Attempt("network")
	if got := testutil.ToFloat64(s.attempts.WithLabelValues("network")); got != 1 {
		t.Fatalf("expected 1 network attempt, got %f", got)
	}

	s.QueueLength(42)
	if got := testutil.ToFloat64(s.queueLength); got != 42 {
		t.Fatalf("expected queue length 42, got %f", got)
	}

	s.Evicted(3)
	s.PersistFailed()
	s.Exhausted()
	s.Dropped("missing_credential")
	s.FlushSeconds(0.25)
	if samples := testutil.CollectAndCount(s.flushDuration); samples != 1 {
		t.Fatalf("expected flush histogram to be collected once, got %d", samples)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 9 {
		t.Fatalf("expected 9 registered families, got %d", len(families))
	}
}

func TestNilStatsIsNoop(t *testing.T) {
	var s *Stats
	s.Enqueued("high")
	s.Delivered(1)
	s.Attempt("success")
	s.Exhausted()
	s.Evicted(1)
	s.PersistFailed()
	s.Dropped("x")
	s.QueueLength(1)
	s.FlushSeconds(1)
}

func TestUnregisteredStats(t *testing.T) {
	s := New(nil)
	s.Delivered(1)
	if got := testutil.ToFloat64(s.delivered); got != 1 {
		t.Fatalf("expected 1, got %f", got)
	}
}
