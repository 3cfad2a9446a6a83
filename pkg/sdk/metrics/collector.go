package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	callsDesc = prometheus.NewDesc(
		"tinymon_function_calls_total",
		"Monitored calls, by function.",
		[]string{"function"}, nil,
	)
	failuresDesc = prometheus.NewDesc(
		"tinymon_function_failures_total",
		"Monitored calls that returned an error, by function.",
		[]string{"function"}, nil,
	)
	durationDesc = prometheus.NewDesc(
		"tinymon_function_duration_seconds",
		"Monitored call latency. Quantiles cover the recent call history only.",
		[]string{"function"}, nil,
	)
)

// summaryQuantiles maps Prometheus quantiles to DefaultPercentiles
var summaryQuantiles = map[float64]float64{0.5: 50, 0.9: 90, 0.95: 95, 0.99: 99}

// Describe implements prometheus.Collector
func (a *Aggregator) Describe(ch chan<- *prometheus.Desc) {
	ch <- callsDesc
	ch <- failuresDesc
	ch <- durationDesc
}

// Collect implements prometheus.Collector. Values are computed from the
// live records at scrape time.
func (a *Aggregator) Collect(ch chan<- prometheus.Metric) {
	type row struct {
		name      string
		total     int64
		failures  int64
		sum       float64
		quantiles map[float64]float64
	}

	a.mu.RLock()
	rows := make([]row, 0, len(a.records))
	for name, r := range a.records {
		rows = append(rows, row{
			name:     name,
			total:    r.total,
			failures: r.failures,
			sum:      r.totalDuration.Seconds(),
		})
	}
	a.mu.RUnlock()

	for i := range rows {
		pct := a.Percentiles(rows[i].name, DefaultPercentiles...)
		q := make(map[float64]float64, len(summaryQuantiles))
		for quantile, p := range summaryQuantiles {
			if v, ok := pct[percentileKey(p)]; ok {
				q[quantile] = v / 1000
			}
		}
		rows[i].quantiles = q
	}

	for _, r := range rows {
		ch <- prometheus.MustNewConstMetric(callsDesc, prometheus.CounterValue, float64(r.total), r.name)
		ch <- prometheus.MustNewConstMetric(failuresDesc, prometheus.CounterValue, float64(r.failures), r.name)
		ch <- prometheus.MustNewConstSummary(durationDesc, uint64(r.total), r.sum, r.quantiles, r.name)
	}
}
