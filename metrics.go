package hloc

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stage names a step of the per-query pipeline.
type Stage string

const (
	StageRetrieval  Stage = "retrieval"
	StageClustering Stage = "clustering"
	StageMatching   Stage = "matching"
	StagePose       Stage = "pose"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageRetrieval, StageClustering, StageMatching, StagePose}

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; see
// metrics/prometheus for a Prometheus implementation.
type MetricsCollector interface {
	// RecordQuery is called after each query. err is nil if it localized.
	RecordQuery(duration time.Duration, err error)

	// RecordStage is called after each pipeline stage of a query. Retrieval
	// runs once per batch and is recorded once.
	RecordStage(stage Stage, duration time.Duration)

	// RecordFailure is called for each query that failed to localize.
	RecordFailure(reason FailureReason)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordQuery(time.Duration, error) {}
func (NoopMetricsCollector) RecordStage(Stage, time.Duration) {}
func (NoopMetricsCollector) RecordFailure(FailureReason)      {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	QueryCount      atomic.Int64
	QueryErrors     atomic.Int64
	QueryTotalNanos atomic.Int64

	mu         sync.Mutex
	stageNanos map[Stage]int64
	failures   map[FailureReason]int64
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordStage implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStage(stage Stage, duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stageNanos == nil {
		b.stageNanos = make(map[Stage]int64)
	}
	b.stageNanos[stage] += duration.Nanoseconds()
}

// RecordFailure implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFailure(reason FailureReason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures == nil {
		b.failures = make(map[FailureReason]int64)
	}
	b.failures[reason]++
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := BasicMetricsStats{
		QueryCount:  b.QueryCount.Load(),
		QueryErrors: b.QueryErrors.Load(),
		StageNanos:  make(map[Stage]int64, len(b.stageNanos)),
		Failures:    make(map[FailureReason]int64, len(b.failures)),
	}
	if s.QueryCount > 0 {
		s.QueryAvgNanos = b.QueryTotalNanos.Load() / s.QueryCount
	}
	for k, v := range b.stageNanos {
		s.StageNanos[k] = v
	}
	for k, v := range b.failures {
		s.Failures[k] = v
	}
	return s
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	QueryCount    int64
	QueryErrors   int64
	QueryAvgNanos int64
	StageNanos    map[Stage]int64
	Failures      map[FailureReason]int64
}
