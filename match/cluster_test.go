package match

import (
	"context"
	"errors"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/hloc/covis"
	"github.com/hupe1980/hloc/mapdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func e(i int) []float32 {
	v := make([]float32, 8)
	v[i] = 1
	return v
}

func kp(i int) [2]float64 { return [2]float64{float64(10 * i), float64(20 * i)} }

type fixture struct {
	db       *mapdb.Database
	features mapdb.MemoryFeatures
}

// Images: 1 sees points 1, 2 (plus an unassociated keypoint), 2 sees 3, 4,
// 3 sees 5 but has no features, 4 sees 6, 5 sees 2 with a descriptor that
// duplicates image 1's first one.
func newFixture(t *testing.T) fixture {
	t.Helper()
	var points []mapdb.Point3D
	for i := 1; i <= 6; i++ {
		points = append(points, mapdb.Point3D{ID: mapdb.PointID(i), XYZ: [3]float64{float64(i), 0, 0}})
	}
	db, err := mapdb.NewBuilder().
		AddImages(
			mapdb.Image{ID: 1, Name: "1", PointIDs: []mapdb.PointID{1, 2, mapdb.NoPoint}},
			mapdb.Image{ID: 2, Name: "2", PointIDs: []mapdb.PointID{3, 4}},
			mapdb.Image{ID: 3, Name: "3", PointIDs: []mapdb.PointID{5}},
			mapdb.Image{ID: 4, Name: "4", PointIDs: []mapdb.PointID{6}},
			mapdb.Image{ID: 5, Name: "5", PointIDs: []mapdb.PointID{2}},
		).
		AddPoints(points...).
		Build()
	require.NoError(t, err)

	features := mapdb.MemoryFeatures{
		1: {Keypoints: [][2]float64{{0, 0}, {1, 1}, {2, 2}}, Descriptors: [][]float32{e(1), e(2), e(7)}},
		2: {Keypoints: [][2]float64{{0, 0}, {1, 1}}, Descriptors: [][]float32{e(3), e(4)}},
		4: {Keypoints: [][2]float64{{0, 0}}, Descriptors: [][]float32{e(6)}},
		5: {Keypoints: [][2]float64{{0, 0}}, Descriptors: [][]float32{e(1)}},
	}
	return fixture{db: db, features: features}
}

func cluster(ids ...mapdb.ImageID) covis.Cluster {
	c := covis.Cluster{Seeds: ids, Images: roaring.New()}
	for _, id := range ids {
		c.Images.Add(uint32(id.Abs()))
	}
	return c
}

func query() Query {
	return Query{
		Features: mapdb.LocalFeatures{
			Keypoints:   [][2]float64{kp(0), kp(1), kp(2), kp(3), kp(4)},
			Descriptors: [][]float32{e(1), e(3), e(6), e(7), e(4)},
		},
		GroundTruth: []mapdb.PointID{1, 4, 6, mapdb.NoPoint, 4},
	}
}

func TestClusterMatcher(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	for _, refilter := range []bool{true, false} {
		name := "PerImage"
		if refilter {
			name = "Refilter"
		}
		t.Run(name, func(t *testing.T) {
			cm, err := NewClusterMatcher(fx.features, fx.db, Strategy{Metric: MetricExact, Ratio: 0.75, Refilter: refilter})
			require.NoError(t, err)

			q := query()
			q.Self = -4
			res, err := cm.Match(ctx, q, []covis.Cluster{cluster(1, 2), cluster(3, 4, 2)})
			require.NoError(t, err)

			assert.Equal(t, []mapdb.PointID{1, 3, 4}, res.PointIDs)
			assert.Equal(t, [][2]float64{kp(0), kp(1), kp(4)}, res.Keypoints)
			assert.Equal(t, [][3]float64{{1, 0, 0}, {3, 0, 0}, {4, 0, 0}}, res.Points)
			assert.Equal(t, 2, res.Correct)
			assert.Equal(t, 1, res.Incorrect)
			assert.InDelta(t, 2.0/3.0, res.CorrectRate(), 1e-12)
			assert.Equal(t, 2, res.MatchedImages)
			assert.Equal(t, 1, res.SkippedImages)
		})
	}
}

func TestClusterMatcherSelfImage(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	cm, err := NewClusterMatcher(fx.features, fx.db, Strategy{Metric: MetricExact, Ratio: 0.75})
	require.NoError(t, err)

	q := Query{Features: mapdb.LocalFeatures{Keypoints: [][2]float64{kp(0)}, Descriptors: [][]float32{e(6)}}}

	res, err := cm.Match(ctx, q, []covis.Cluster{cluster(4)})
	require.NoError(t, err)
	assert.Equal(t, []mapdb.PointID{6}, res.PointIDs)

	q.Self = 4
	res, err = cm.Match(ctx, q, []covis.Cluster{cluster(4)})
	assert.ErrorIs(t, err, ErrNoMatches)
	assert.Zero(t, res.MatchedImages)
}

func TestRefilterRejectsCrossImageAmbiguity(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	q := Query{Features: mapdb.LocalFeatures{Keypoints: [][2]float64{kp(0)}, Descriptors: [][]float32{e(1)}}}
	clusters := []covis.Cluster{cluster(1), cluster(5)}

	perImage, err := NewClusterMatcher(fx.features, fx.db, Strategy{Metric: MetricExact, Ratio: 0.75})
	require.NoError(t, err)
	res, err := perImage.Match(ctx, q, clusters)
	require.NoError(t, err)
	assert.Equal(t, []mapdb.PointID{1, 2}, res.PointIDs)

	refilter, err := NewClusterMatcher(fx.features, fx.db, Strategy{Metric: MetricExact, Ratio: 0.75, Refilter: true})
	require.NoError(t, err)
	_, err = refilter.Match(ctx, q, clusters)
	assert.ErrorIs(t, err, ErrNoMatches)
}

func TestRefilterGroupsObservationsOfOnePoint(t *testing.T) {
	ctx := context.Background()
	db, err := mapdb.NewBuilder().
		AddImages(
			mapdb.Image{ID: 1, Name: "1", PointIDs: []mapdb.PointID{1, 2}},
			mapdb.Image{ID: 2, Name: "2", PointIDs: []mapdb.PointID{1, 2}},
		).
		AddPoints(
			mapdb.Point3D{ID: 1, XYZ: [3]float64{1, 0, 0}, ImageIDs: []mapdb.ImageID{1, 2}},
			mapdb.Point3D{ID: 2, XYZ: [3]float64{2, 0, 0}, ImageIDs: []mapdb.ImageID{1, 2}},
		).
		Build()
	require.NoError(t, err)

	same := mapdb.LocalFeatures{Keypoints: [][2]float64{{0, 0}, {1, 1}}, Descriptors: [][]float32{e(1), e(2)}}
	features := mapdb.MemoryFeatures{1: same, 2: same}
	q := Query{Features: mapdb.LocalFeatures{Keypoints: [][2]float64{kp(0), kp(1)}, Descriptors: [][]float32{e(1), e(2)}}}

	tests := []struct {
		name     string
		refilter bool
		want     []mapdb.PointID
	}{
		{name: "Refilter", refilter: true, want: []mapdb.PointID{1, 2}},
		{name: "PerImage", refilter: false, want: []mapdb.PointID{1, 2, 1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm, err := NewClusterMatcher(features, db, Strategy{Metric: MetricExact, Ratio: 0.75, Refilter: tt.refilter})
			require.NoError(t, err)

			res, err := cm.Match(ctx, q, []covis.Cluster{cluster(1), cluster(2)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.PointIDs)
		})
	}
}

func TestClusterMatcherRejectsMisalignedQuery(t *testing.T) {
	fx := newFixture(t)
	cm, err := NewClusterMatcher(fx.features, fx.db, DefaultStrategy)
	require.NoError(t, err)

	q := query()
	q.Features.Keypoints = q.Features.Keypoints[:2]
	_, err = cm.Match(context.Background(), q, []covis.Cluster{cluster(1, 2)})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoMatches)
}

func TestClusterMatcherNoMatches(t *testing.T) {
	fx := newFixture(t)
	cm, err := NewClusterMatcher(fx.features, fx.db, DefaultStrategy)
	require.NoError(t, err)

	res, err := cm.Match(context.Background(), query(), []covis.Cluster{cluster(3)})
	assert.ErrorIs(t, err, ErrNoMatches)
	assert.Equal(t, 1, res.SkippedImages)
	assert.Zero(t, res.Len())

	_, err = cm.Match(context.Background(), query(), nil)
	assert.ErrorIs(t, err, ErrNoMatches)
}

type failingFeatures struct{}

func (failingFeatures) LocalFeatures(context.Context, mapdb.ImageID) (mapdb.LocalFeatures, error) {
	return mapdb.LocalFeatures{}, errors.New("store offline")
}

func TestClusterMatcherPropagatesLoadErrors(t *testing.T) {
	fx := newFixture(t)
	cm, err := NewClusterMatcher(failingFeatures{}, fx.db, DefaultStrategy)
	require.NoError(t, err)

	_, err = cm.Match(context.Background(), query(), []covis.Cluster{cluster(1)})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoMatches)
}
