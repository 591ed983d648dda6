// Package prometheus exports localization metrics to Prometheus.
package prometheus

import (
	"time"

	"github.com/hupe1980/hloc"
	prom "github.com/prometheus/client_golang/prometheus"
)

// Collector implements hloc.MetricsCollector with Prometheus metrics.
type Collector struct {
	queries  *prom.CounterVec
	latency  *prom.HistogramVec
	stages   *prom.HistogramVec
	failures *prom.CounterVec
}

var _ hloc.MetricsCollector = (*Collector)(nil)

// New creates a Collector and registers its metrics with reg. A nil reg uses
// the default registerer.
func New(reg prom.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	c := &Collector{
		queries: prom.NewCounterVec(prom.CounterOpts{
			Name: "hloc_queries_total",
			Help: "Queries processed, by status",
		}, []string{"status"}),
		latency: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "hloc_query_latency_seconds",
			Help:    "End-to-end latency of one query, excluding batch retrieval",
			Buckets: prom.ExponentialBuckets(0.001, 2, 14),
		}, []string{"status"}),
		stages: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "hloc_stage_latency_seconds",
			Help:    "Latency of a pipeline stage",
			Buckets: prom.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"stage"}),
		failures: prom.NewCounterVec(prom.CounterOpts{
			Name: "hloc_failures_total",
			Help: "Queries that failed to localize, by reason",
		}, []string{"reason"}),
	}

	for _, col := range []prom.Collector{c.queries, c.latency, c.stages, c.failures} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "failed"
	}
	return "localized"
}

// RecordQuery implements hloc.MetricsCollector.
func (c *Collector) RecordQuery(d time.Duration, err error) {
	s := status(err)
	c.queries.WithLabelValues(s).Inc()
	c.latency.WithLabelValues(s).Observe(d.Seconds())
}

// RecordStage implements hloc.MetricsCollector.
func (c *Collector) RecordStage(stage hloc.Stage, d time.Duration) {
	c.stages.WithLabelValues(string(stage)).Observe(d.Seconds())
}

// RecordFailure implements hloc.MetricsCollector.
func (c *Collector) RecordFailure(reason hloc.FailureReason) {
	c.failures.WithLabelValues(string(reason)).Inc()
}
