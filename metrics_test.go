package hloc

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBasicMetricsCollector(t *testing.T) {
	var mc BasicMetricsCollector

	mc.RecordQuery(10*time.Millisecond, nil)
	mc.RecordQuery(30*time.Millisecond, errors.New("x"))
	mc.RecordStage(StageMatching, 5*time.Millisecond)
	mc.RecordStage(StageMatching, 7*time.Millisecond)
	mc.RecordFailure(ReasonTooFewInliers)

	s := mc.GetStats()
	assert.Equal(t, int64(2), s.QueryCount)
	assert.Equal(t, int64(1), s.QueryErrors)
	assert.Equal(t, (20 * time.Millisecond).Nanoseconds(), s.QueryAvgNanos)
	assert.Equal(t, (12 * time.Millisecond).Nanoseconds(), s.StageNanos[StageMatching])
	assert.Equal(t, int64(1), s.Failures[ReasonTooFewInliers])
}

func TestNoopMetricsCollector(t *testing.T) {
	var mc MetricsCollector = NoopMetricsCollector{}
	assert.NotPanics(t, func() {
		mc.RecordQuery(time.Second, nil)
		mc.RecordStage(StagePose, time.Second)
		mc.RecordFailure(ReasonError)
	})
}
