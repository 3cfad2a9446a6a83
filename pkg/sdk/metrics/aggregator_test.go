package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/nicktill/tinymon/pkg/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAggregator() (*Aggregator, *clock.FakeClock) {
	clk := clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	return NewAggregator(clk), clk
}

func TestSnapshot(t *testing.T) {
	a, _ := newAggregator()
	a.RecordCall("summarize", 100*time.Millisecond, true, "")
	a.RecordCall("summarize", 200*time.Millisecond, true, "")
	a.RecordCall("summarize", 300*time.Millisecond, false, "rate limited")
	a.RecordCall("summarize", 400*time.Millisecond, true, "")

	s := a.Snapshot("summarize")
	assert.EqualValues(t, 4, s.TotalCalls)
	assert.InDelta(t, 75, s.SuccessRate, 1e-9)
	assert.InDelta(t, 25, s.ErrorRate, 1e-9)
	assert.InDelta(t, 250, s.AverageDurationMs, 1e-9)
	assert.Equal(t, "rate limited", s.LastError)
	assert.False(t, s.LastErrorTime.IsZero())

	assert.Equal(t, Snapshot{}, a.Snapshot("unknown"))
	assert.Len(t, a.Snapshots(), 1)
}

func TestFailureWithoutMessageKeepsLastError(t *testing.T) {
	a, _ := newAggregator()
	a.RecordCall("f", time.Millisecond, false, "first")
	a.RecordCall("f", time.Millisecond, false, "")
	assert.Equal(t, "first", a.Snapshot("f").LastError)
}

func TestPercentiles(t *testing.T) {
	a, _ := newAggregator()
	for i := 1; i <= 10; i++ {
		a.RecordCall("f", time.Duration(i)*10*time.Millisecond, true, "")
	}

	p := a.Percentiles("f")
	// ceil(p/100*10)-1 over 10..100ms
	assert.Equal(t, map[string]float64{"p50": 50, "p90": 90, "p95": 100, "p99": 100}, p)

	custom := a.Percentiles("f", 0, 10, 99.9)
	assert.Equal(t, 10.0, custom["p0"])
	assert.Equal(t, 10.0, custom["p10"])
	assert.Equal(t, 100.0, custom["p99.9"])

	assert.Empty(t, a.Percentiles("unknown"))
}

func TestHistoryIsBounded(t *testing.T) {
	a, clk := newAggregator()
	for i := 0; i < 150; i++ {
		a.RecordCall("f", time.Duration(i)*time.Millisecond, true, "")
		clk.Advance(time.Second)
	}

	h := a.History("f", 0)
	require.Len(t, h, 100)
	assert.Equal(t, 50.0, h[0].DurationMs, "oldest samples are evicted first")
	assert.Equal(t, 149.0, h[99].DurationMs)
	assert.True(t, h[0].Timestamp.Before(h[99].Timestamp))

	last := a.History("f", 3)
	require.Len(t, last, 3)
	assert.Equal(t, 147.0, last[0].DurationMs)

	// totals are all-time, percentiles cover the history only
	assert.EqualValues(t, 150, a.Snapshot("f").TotalCalls)
	assert.Equal(t, 50.0, a.Percentiles("f", 0)["p0"])

	assert.Nil(t, a.History("unknown", 0))
}

func TestErrorPatterns(t *testing.T) {
	a, _ := newAggregator()
	a.RecordCall("a", time.Millisecond, false, "timeout")
	a.RecordCall("b", time.Millisecond, false, "timeout")
	a.RecordCall("c", time.Millisecond, false, "bad input")
	a.RecordCall("d", time.Millisecond, true, "")

	assert.Equal(t, map[string]int{"timeout": 2, "bad input": 1}, a.ErrorPatterns())
	assert.Equal(t, map[string]int{"bad input": 1}, a.ErrorPatterns("c", "d", "missing"))
}

func TestReset(t *testing.T) {
	a, _ := newAggregator()
	a.RecordCall("a", time.Millisecond, true, "")
	a.RecordCall("b", time.Millisecond, true, "")

	a.Reset("a")
	assert.Zero(t, a.Snapshot("a").TotalCalls)
	assert.EqualValues(t, 1, a.Snapshot("b").TotalCalls)

	a.Reset()
	assert.Empty(t, a.Snapshots())
}

func TestExport(t *testing.T) {
	a, clk := newAggregator()
	a.RecordCall("a", 2*time.Millisecond, false, "boom")

	e := a.Export()
	assert.Equal(t, clk.Now(), e.Timestamp)
	require.Contains(t, e.Metrics, "a")
	assert.EqualValues(t, 1, e.Metrics["a"].FailedCalls)
	assert.Len(t, e.Metrics["a"].CallHistory, 1)
	assert.Equal(t, 100.0, e.Summary["a"].ErrorRate)
}

func TestPrometheusCollector(t *testing.T) {
	a, _ := newAggregator()
	a.RecordCall("summarize", 100*time.Millisecond, true, "")
	a.RecordCall("summarize", 300*time.Millisecond, false, "boom")

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(a))

	expected := `
# HELP tinymon_function_calls_total Monitored calls, by function.
# TYPE tinymon_function_calls_total counter
tinymon_function_calls_total{function="summarize"} 2
# HELP tinymon_function_failures_total Monitored calls that returned an error, by function.
# TYPE tinymon_function_failures_total counter
tinymon_function_failures_total{function="summarize"} 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"tinymon_function_calls_total", "tinymon_function_failures_total")
	assert.NoError(t, err)

	assert.Equal(t, 3, testutil.CollectAndCount(a))
}
