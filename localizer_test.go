package hloc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hupe1980/hloc/evaluation"
	"github.com/hupe1980/hloc/mapdb"
	"github.com/hupe1980/hloc/match"
	"github.com/hupe1980/hloc/pose"
	"github.com/hupe1980/hloc/retrieval"
	"github.com/hupe1980/hloc/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPoints    = 60
	testImages    = 4
	testLocalDim  = 16
	testGlobalDim = 8
)

var testIntrinsics = mapdb.NewSimpleRadial(1024, 768, 800, 512, 384, 0)

// testMap builds a map of four cameras that all observe the same points.
// Every point has one descriptor shared by all its observations. Augmented
// copies get slightly perturbed global descriptors and no features of their
// own.
func testMap(t *testing.T) *mapdb.Database {
	t.Helper()

	rng := testutil.NewRNG(11)
	cam := pose.NewCamera(testIntrinsics)

	points := make([]mapdb.Point3D, testPoints)
	for i := range points {
		points[i] = mapdb.Point3D{
			ID: mapdb.PointID(i + 1),
			XYZ: [3]float64{
				rng.Float64()*8 - 4,
				rng.Float64()*6 - 3,
				9 + rng.Float64()*4,
			},
		}
	}
	descriptors := rng.UnitVectors(testPoints, testLocalDim)
	globals := rng.GaussianVectors(testImages, testGlobalDim)

	var (
		images     []mapdb.Image
		ids        []mapdb.ImageID
		rows       [][]float32
		features   = mapdb.MemoryFeatures{}
		intrinsics = map[string]mapdb.Intrinsics{}
	)
	for i := range testImages {
		id := mapdb.ImageID(i + 1)
		p := pose.Pose{
			R: pose.RotationMatrix([3]float64{0.02 * float64(i), 0.05*float64(i) - 0.1, 0}),
			T: [3]float64{0.3*float64(i) - 0.6, 0.1 * float64(i), 0},
		}
		img := mapdb.Image{
			ID:          id,
			Name:        fmt.Sprintf("db/%03d.jpg", id),
			Rotation:    p.Quaternion(),
			Translation: p.T,
			HasPose:     true,
		}
		var f mapdb.LocalFeatures
		for j := range points {
			px, ok := cam.Project(p.Apply(points[j].XYZ))
			require.True(t, ok)
			img.Keypoints = append(img.Keypoints, px)
			img.PointIDs = append(img.PointIDs, points[j].ID)
			points[j].ImageIDs = append(points[j].ImageIDs, id)
			f.Keypoints = append(f.Keypoints, px)
			f.Descriptors = append(f.Descriptors, descriptors[j])
		}
		images = append(images, img)
		features[id] = f
		intrinsics[img.Name] = testIntrinsics
		ids = append(ids, id, -id)
		rows = append(rows, globals[i], rng.Perturb(globals[i], 0.01))
	}

	db, err := mapdb.NewBuilder().
		AddImages(images...).
		AddPoints(points...).
		AddIntrinsics(intrinsics).
		SetGlobalDescriptors(ids, rows).
		SetFeatures(features).
		Build()
	require.NoError(t, err)
	return db
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retrieval.Strategy = retrieval.StrategyExact
	cfg.Retrieval.K = 3
	cfg.Matching = match.Strategy{Metric: match.MetricExact, Ratio: 0.8}
	cfg.Pose.MinInliers = 12
	return cfg
}

func TestLocalizeVerification(t *testing.T) {
	tests := []struct {
		name  string
		mode  VerifyMode
		aug   bool
		count int
		night bool
	}{
		{"Day", VerifyDay, false, testImages, false},
		{"Night", VerifyNight, true, testImages, true},
		{"All", VerifyAll, true, 2 * testImages, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			db := testMap(t)
			cfg := testConfig()
			cfg.Verify = tt.mode
			cfg.Augmentation = tt.aug

			var out bytes.Buffer
			metrics := &BasicMetricsCollector{}
			loc, err := New(ctx, db, cfg,
				WithWorkers(2),
				WithRand(testutil.NewRNG(1)),
				WithOutput(&out),
				WithMetricsCollector(metrics),
			)
			require.NoError(t, err)
			defer loc.Close()

			queries, err := VerificationQueries(ctx, db, cfg.Verify)
			require.NoError(t, err)
			require.Len(t, queries, tt.count)

			results, err := loc.Localize(ctx, queries)
			require.NoError(t, err)
			require.Len(t, results, tt.count)

			for i, r := range results {
				require.NoError(t, r.Err, r.Name)
				assert.Equal(t, i, r.Index)
				assert.Equal(t, queries[i].Name, r.Name)
				assert.Len(t, r.Neighbors, cfg.Retrieval.K)
				for _, n := range r.Neighbors {
					assert.NotEqual(t, queries[i].Self.Abs(), n.ImageID.Abs())
				}
				assert.Equal(t, 1, r.Clusters)
				assert.Zero(t, r.Matches.Incorrect)
				assert.Positive(t, r.Matches.Correct)
				assert.False(t, r.IntrinsicsFallback)

				require.NotNil(t, r.Record)
				assert.True(t, r.Record.Localized)
				assert.Less(t, r.Record.TranslationError, 1e-3)
				assert.Less(t, r.Record.RotationError, 0.1)
				assert.Equal(t, evaluation.TierHigh, evaluation.Classify(r.Record.TranslationError, r.Record.RotationError, r.Record.Night))
				if tt.night {
					assert.True(t, r.Record.Night)
					assert.True(t, strings.HasPrefix(r.Name, mapdb.AugmentedPrefix))
				}
				for _, m := range r.Record.NeighborMatch {
					assert.InDelta(t, 100.0, m, 1e-9)
				}
			}

			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			require.Len(t, lines, tt.count)
			for i, line := range lines {
				assert.True(t, strings.HasPrefix(line, queries[i].Name+" "), line)
				assert.Len(t, strings.Fields(line), 8)
			}

			report := loc.Report(results)
			assert.Equal(t, tt.count, report.Queries)
			all, ok := report.Group(evaluation.GroupAll)
			require.True(t, ok)
			assert.InDelta(t, 100.0, all.Percentages.High, 1e-9)

			stats := metrics.GetStats()
			assert.Equal(t, int64(tt.count), stats.QueryCount)
			assert.Zero(t, stats.QueryErrors)
			for _, stage := range Stages {
				assert.Contains(t, stats.StageNanos, stage)
			}
		})
	}
}

func TestLocalizeContinuesAfterFailure(t *testing.T) {
	ctx := context.Background()
	db := testMap(t)

	img, ok := db.Image(2)
	require.True(t, ok)
	f, err := db.LocalFeatures(ctx, 2)
	require.NoError(t, err)
	ids, rows := db.GlobalDescriptors()
	var global []float32
	for i, id := range ids {
		if id == 2 {
			global = rows[i]
		}
	}

	// Every descriptor lies halfway between two map descriptors, so none
	// passes the ratio test.
	var ambiguous mapdb.LocalFeatures
	for j := 0; j+1 < f.Len(); j += 2 {
		mid := make([]float32, len(f.Descriptors[j]))
		for d := range mid {
			mid[d] = (f.Descriptors[j][d] + f.Descriptors[j+1][d]) / 2
		}
		ambiguous.Keypoints = append(ambiguous.Keypoints, f.Keypoints[j])
		ambiguous.Descriptors = append(ambiguous.Descriptors, mid)
	}

	queries := []Query{
		{Name: "empty.jpg", Global: global},
		{Name: "query.jpg", Global: global, Local: f},
		{Name: "ambiguous.jpg", Global: global, Local: ambiguous},
	}

	var out bytes.Buffer
	metrics := &BasicMetricsCollector{}
	loc, err := New(ctx, db, testConfig(), WithRand(testutil.NewRNG(1)), WithOutput(&out), WithMetricsCollector(metrics))
	require.NoError(t, err)
	defer loc.Close()

	results, err := loc.Localize(ctx, queries)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for _, i := range []int{0, 2} {
		assert.ErrorIs(t, results[i].Err, ErrLocalizationFailed, queries[i].Name)
		assert.ErrorIs(t, results[i].Err, match.ErrNoMatches, queries[i].Name)
		assert.Equal(t, ReasonNoMatches, ReasonOf(results[i].Err), queries[i].Name)
		assert.Nil(t, results[i].Record, queries[i].Name)
	}

	require.NoError(t, results[1].Err)
	assert.True(t, results[1].IntrinsicsFallback)
	p := results[1].Estimate.Pose()
	for i := range 3 {
		assert.InDelta(t, img.Translation[i], p.T[i], 1e-3)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "query.jpg "))

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.QueryErrors)
	assert.Equal(t, int64(2), stats.Failures[ReasonNoMatches])
}

func TestLocalizeInvalidInput(t *testing.T) {
	ctx := context.Background()
	db := testMap(t)

	loc, err := New(ctx, db, testConfig())
	require.NoError(t, err)
	defer loc.Close()

	t.Run("NoQueries", func(t *testing.T) {
		_, err := loc.Localize(ctx, nil)
		assert.ErrorIs(t, err, ErrNoQueries)
	})

	t.Run("GlobalDimension", func(t *testing.T) {
		_, err := loc.Localize(ctx, []Query{{Name: "q", Global: make([]float32, testGlobalDim+1)}})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
		var qe *QueryError
		require.True(t, errors.As(err, &qe))
		assert.Equal(t, 0, qe.Index)
		assert.Equal(t, "q", qe.Name)
	})

	t.Run("LocalDimension", func(t *testing.T) {
		local := mapdb.LocalFeatures{
			Keypoints:   [][2]float64{{1, 1}},
			Descriptors: [][]float32{make([]float32, testLocalDim-1)},
		}
		_, err := loc.Localize(ctx, []Query{{Name: "q", Global: make([]float32, testGlobalDim), Local: local}})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("MisalignedLocalFeatures", func(t *testing.T) {
		f, err := db.LocalFeatures(ctx, 1)
		require.NoError(t, err)
		local := mapdb.LocalFeatures{Keypoints: f.Keypoints[:3], Descriptors: f.Descriptors}

		queries := []Query{
			{Name: "ok", Global: make([]float32, testGlobalDim)},
			{Name: "short", Global: make([]float32, testGlobalDim), Local: local},
		}
		results, err := loc.Localize(ctx, queries)
		assert.Nil(t, results)
		assert.ErrorIs(t, err, ErrInvalidQuery)
		var qe *QueryError
		require.True(t, errors.As(err, &qe))
		assert.Equal(t, 1, qe.Index)
		assert.Equal(t, "short", qe.Name)
	})

	t.Run("RaggedDescriptors", func(t *testing.T) {
		local := mapdb.LocalFeatures{
			Keypoints:   [][2]float64{{1, 1}, {2, 2}},
			Descriptors: [][]float32{make([]float32, testLocalDim), make([]float32, testLocalDim-1)},
		}
		_, err := loc.Localize(ctx, []Query{{Name: "q", Global: make([]float32, testGlobalDim), Local: local}})
		assert.ErrorIs(t, err, ErrInvalidQuery)
	})

	t.Run("Canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := loc.Localize(cctx, []Query{{Name: "q", Global: make([]float32, testGlobalDim)}})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	db := testMap(t)
	cfg := testConfig()
	cfg.Augmentation = true

	_, err := New(context.Background(), db, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewExcludesAugmentedRows(t *testing.T) {
	ctx := context.Background()
	db := testMap(t)

	loc, err := New(ctx, db, testConfig())
	require.NoError(t, err)
	defer loc.Close()
	assert.Equal(t, testImages, loc.searcher.Len())

	cfg := testConfig()
	cfg.Verify = VerifyDay
	cfg.Augmentation = true
	aug, err := New(ctx, db, cfg)
	require.NoError(t, err)
	defer aug.Close()
	assert.Equal(t, 2*testImages, aug.searcher.Len())
}
