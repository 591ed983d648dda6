package evaluation

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/hloc/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
)

func TestTranslationError(t *testing.T) {
	assert.InDelta(t, 5.0, TranslationError([3]float64{0, 0, 0}, [3]float64{3, 4, 0}), 1e-12)
	assert.Zero(t, TranslationError([3]float64{1, 2, 3}, [3]float64{1, 2, 3}))
}

func TestRotationError(t *testing.T) {
	id := quat.Number{Real: 1}
	half := func(deg float64) quat.Number {
		a := deg * math.Pi / 360
		return quat.Number{Real: math.Cos(a), Kmag: math.Sin(a)}
	}

	tests := []struct {
		name   string
		q1, q2 quat.Number
		want   float64
	}{
		{"Same", id, id, 0},
		{"TenDegrees", id, half(10), 10},
		{"SignFlip", half(30), quat.Scale(-1, half(30)), 0},
		{"Unnormalized", quat.Scale(3, id), half(90), 90},
		{"Opposite", id, half(180), 180},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RotationError(tt.q1, tt.q2), 1e-6)
		})
	}

	assert.True(t, math.IsNaN(RotationError(quat.Number{}, id)))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		t, r  float64
		night bool
		want  Tier
	}{
		{"DayHigh", 0.2, 1.0, false, TierHigh},
		{"DayHighBoundary", 0.25, 2.0, false, TierHigh},
		{"DayMedium", 0.3, 1.0, false, TierMedium},
		{"DayMediumByRotation", 0.1, 4.0, false, TierMedium},
		{"DayCoarse", 4.0, 9.0, false, TierCoarse},
		{"DayNone", 5.1, 1.0, false, TierNone},
		{"NightHigh", 0.4, 1.5, true, TierHigh},
		{"NightMedium", 0.9, 4.0, true, TierMedium},
		{"NightCoarse", 2.0, 2.0, true, TierCoarse},
		{"NaN", math.NaN(), 0, false, TierNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.t, tt.r, tt.night))
		})
	}
}

func TestComputePercentages(t *testing.T) {
	records := []Record{
		{Localized: true, TranslationError: 0.2, RotationError: 1},
		{Localized: true, TranslationError: 0.4, RotationError: 1},
		{Localized: true, TranslationError: 3, RotationError: 1},
		{Localized: false},
	}
	p := ComputePercentages(records)
	assert.Equal(t, Percentages{High: 25, Medium: 50, Coarse: 75}, p)
	assert.Equal(t, "25.0 / 50.0 / 75.0", p.String())
	assert.Equal(t, Percentages{}, ComputePercentages(nil))
}

func TestCausePriority(t *testing.T) {
	good := []float64{0, 12.5}
	tests := []struct {
		name string
		rec  Record
		want Cause
	}{
		{"NotFailed", Record{Localized: true, TranslationError: 0.1, RotationError: 1, NeighborMatch: good}, CauseNone},
		{"BadNeighborsWins", Record{NumInliers: 3, InlierRatio: 0.01, NeighborMatch: []float64{0, 0}}, CauseBadNeighbors},
		{"NoNeighbors", Record{}, CauseBadNeighbors},
		{"FewInliers", Record{NumInliers: 11, InlierRatio: 0.01, NeighborMatch: good}, CauseFewInliers},
		{"LowInlierRatio", Record{NumInliers: 12, InlierRatio: 0.09, NeighborMatch: good}, CauseLowInlierRatio},
		{"WronglyLocalizedOther", Record{Localized: true, TranslationError: 6, RotationError: 1, NumInliers: 50, InlierRatio: 0.5, NeighborMatch: good}, CauseOther},
		{"RotationWrong", Record{Localized: true, TranslationError: 0.1, RotationError: 10.5, NumInliers: 50, InlierRatio: 0.5, NeighborMatch: good}, CauseOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.Cause())
		})
	}
}

func sampleRecords() []Record {
	return []Record{
		{Name: "day1", Localized: true, TranslationError: 0.1, RotationError: 0.5, NumInliers: 200, InlierRatio: 0.8, CorrectMatches: 90, IncorrectMatches: 10, NeighborMatch: []float64{40, 0}, Duration: time.Second},
		{Name: "day2", Localized: true, TranslationError: 0.3, RotationError: 3, NumInliers: 100, InlierRatio: 0.5, NeighborMatch: []float64{10, 5}, Duration: 3 * time.Second},
		{Name: "day3", Localized: false, NumInliers: 4, InlierRatio: 0.2, NeighborMatch: []float64{0, 0}, Duration: 2 * time.Second},
		{Name: "night1", Night: true, Localized: true, TranslationError: 20, RotationError: 30, NumInliers: 15, InlierRatio: 0.05, NeighborMatch: []float64{1}, Duration: 4 * time.Second},
		{Name: "night2", Night: true, Localized: false, NumInliers: 8, InlierRatio: 0.3, NeighborMatch: []float64{3}, Duration: 5 * time.Second},
	}
}

func TestNewReport(t *testing.T) {
	rep := NewReport(sampleRecords(), 90*time.Second)

	assert.Equal(t, 5, rep.Queries)
	assert.Equal(t, 3, rep.Failures)
	assert.Equal(t, 3*time.Second, rep.Timing.Mean)
	assert.Equal(t, 3*time.Second, rep.Timing.Median)
	assert.Equal(t, 5*time.Second, rep.Timing.Max)

	var sum int
	got := map[Cause][]string{}
	for _, c := range rep.Causes {
		sum += c.Count
		got[c.Cause] = c.Queries
	}
	assert.Equal(t, rep.Failures, sum)
	assert.Equal(t, []string{"day3"}, got[CauseBadNeighbors])
	assert.Equal(t, []string{"night2"}, got[CauseFewInliers])
	assert.Equal(t, []string{"night1"}, got[CauseLowInlierRatio])
	assert.Empty(t, got[CauseOther])

	all, ok := rep.Group(GroupAll)
	require.True(t, ok)
	assert.Equal(t, 5, all.Queries)
	assert.Equal(t, 3, all.Localized)
	assert.Equal(t, 1, all.Fine)
	assert.Equal(t, 3, all.Failed)
	assert.Equal(t, 3, all.Translation.All.Count)
	assert.InDelta(t, 0.3, all.Translation.All.Median, 1e-12)
	assert.InDelta(t, 20, all.Translation.Incorrect.Max, 1e-12)
	assert.Equal(t, 2, all.Translation.Correct.Count)
	assert.Equal(t, 1, all.CorrectMatchRate.All.Count)
	assert.InDelta(t, 90, all.CorrectMatchRate.All.Mean, 1e-12)
	assert.Equal(t, Percentages{High: 20, Medium: 40, Coarse: 40}, all.Percentages)

	night, ok := rep.Group(GroupNight)
	require.True(t, ok)
	assert.Equal(t, 2, night.Queries)

	bad, ok := rep.Group(GroupBadNeighbors)
	require.True(t, ok)
	assert.Equal(t, 1, bad.Queries)

	_, ok = rep.Group("missing")
	assert.False(t, ok)
}

func TestNewReportEmpty(t *testing.T) {
	rep := NewReport(nil, 0)
	require.Len(t, rep.Groups, 1)
	assert.Equal(t, GroupAll, rep.Groups[0].Name)
	assert.Zero(t, rep.Failures)

	var buf bytes.Buffer
	require.NoError(t, rep.WriteText(&buf))
	require.NoError(t, rep.WriteJSON(&buf))
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewReport(sampleRecords(), 90*time.Second).WriteText(&buf))

	out := buf.String()
	assert.Contains(t, out, "Setup time")
	assert.Contains(t, out, "1 minutes 30.0 seconds")
	assert.Contains(t, out, "Wrongly localized")
	assert.Contains(t, out, "3 total")
	assert.Contains(t, out, "day3")
	assert.Contains(t, out, "20.0 / 40.0 / 40.0")

	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.HasPrefix(line, "\t") {
			assert.Equal(t, ':', rune(line[1+leftColumn]), "misaligned line %q", line)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewReport(sampleRecords(), time.Second).WriteJSON(&buf))

	var decoded struct {
		Queries  int `json:"queries"`
		Failures int `json:"failures"`
		Causes   []struct {
			Cause string `json:"cause"`
			Count int    `json:"count"`
		} `json:"causes"`
	}
	require.NoError(t, codec.Default.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 5, decoded.Queries)
	assert.Equal(t, 3, decoded.Failures)
	require.Len(t, decoded.Causes, len(Causes))
	assert.Equal(t, "bad neighbors", decoded.Causes[0].Cause)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0.0 seconds"},
		{1500 * time.Millisecond, "1.5 seconds"},
		{90 * time.Second, "1 minutes 30.0 seconds"},
		{2*time.Hour + 5*time.Second, "2 hours 5.0 seconds"},
		{50 * time.Hour, "2 days 2 hours 0.0 seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDuration(tt.d))
		})
	}
}
