package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/hloc"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prom.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.RecordQuery(20*time.Millisecond, nil)
	c.RecordQuery(40*time.Millisecond, nil)
	c.RecordQuery(5*time.Millisecond, errors.New("no matches"))
	c.RecordStage(hloc.StageMatching, time.Millisecond)
	c.RecordStage(hloc.StagePose, 2*time.Millisecond)
	c.RecordFailure(hloc.ReasonNoMatches)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.queries.WithLabelValues("localized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.queries.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("no_matches")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.stages))
	assert.Equal(t, 2, testutil.CollectAndCount(c.latency))
}

func TestCollectorDuplicateRegistration(t *testing.T) {
	reg := prom.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}
