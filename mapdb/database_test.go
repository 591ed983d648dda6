package mapdb

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	images, err := ParseImagesText(strings.NewReader(testImagesText))
	require.NoError(t, err)
	points, err := ParsePointsText(strings.NewReader(testPointsText))
	require.NoError(t, err)
	return NewBuilder().AddImages(images...).AddPoints(points...)
}

func TestBuild(t *testing.T) {
	db, err := testBuilder(t).
		SetGlobalDescriptors([]ImageID{1, 2, 3, -1}, [][]float32{{1, 0}, {0, 1}, {1, 1}, {0.9, 0.1}}).
		Build()
	require.NoError(t, err)

	assert.Equal(t, 3, db.NumImages())
	assert.Equal(t, 2, db.NumPoints())

	img, ok := db.Image(-1)
	require.True(t, ok)
	assert.Equal(t, "db/1.jpg", img.Name)

	img, ok = db.ImageByName("db/3.jpg")
	require.True(t, ok)
	assert.Equal(t, ImageID(3), img.ID)

	p, ok := db.Point(101)
	require.True(t, ok)
	assert.Equal(t, []ImageID{1, 3}, p.ImageIDs)

	ids, vecs := db.GlobalDescriptors()
	assert.Len(t, ids, 4)
	assert.Len(t, vecs, 4)
	assert.True(t, db.HasAugmented())

	order := db.Images()
	assert.Equal(t, ImageID(1), order[0].ID)
	assert.Equal(t, ImageID(3), order[2].ID)
}

func TestValidate(t *testing.T) {
	t.Run("DanglingPoint", func(t *testing.T) {
		_, err := NewBuilder().
			AddImages(Image{ID: 1, Name: "a", PointIDs: []PointID{5}}).
			Build()
		assert.ErrorIs(t, err, ErrDanglingPoint)
	})

	t.Run("UnknownImage", func(t *testing.T) {
		_, err := NewBuilder().
			AddImages(Image{ID: 1, Name: "a", PointIDs: []PointID{5}}).
			AddPoints(Point3D{ID: 5, ImageIDs: []ImageID{1, 9}}).
			Build()
		assert.ErrorIs(t, err, ErrUnknownImage)
	})

	t.Run("NoPointIgnored", func(t *testing.T) {
		_, err := NewBuilder().
			AddImages(Image{ID: 1, Name: "a", PointIDs: []PointID{NoPoint, 0}}).
			Build()
		assert.NoError(t, err)
	})

	t.Run("DuplicateImage", func(t *testing.T) {
		_, err := NewBuilder().AddImages(Image{ID: 1}, Image{ID: 1}).Build()
		assert.Error(t, err)
	})

	t.Run("GlobalMismatch", func(t *testing.T) {
		_, err := NewBuilder().SetGlobalDescriptors([]ImageID{1}, nil).Build()
		assert.Error(t, err)
	})
}

func TestMedianIntrinsics(t *testing.T) {
	db, err := NewBuilder().Build()
	require.NoError(t, err)
	_, ok := db.MedianIntrinsics()
	assert.False(t, ok)

	db, err = NewBuilder().AddIntrinsics(map[string]Intrinsics{
		"a": NewSimpleRadial(100, 100, 500, 50, 50, 0.1),
		"b": NewSimpleRadial(200, 200, 700, 100, 100, 0.3),
		"c": NewSimpleRadial(300, 300, 900, 150, 150, 0.2),
	}).Build()
	require.NoError(t, err)

	m, ok := db.MedianIntrinsics()
	require.True(t, ok)
	assert.Equal(t, 700.0, m.K[0][0])
	assert.Equal(t, 700.0, m.K[1][1])
	assert.Equal(t, 100.0, m.K[0][2])
	assert.Equal(t, 1.0, m.K[2][2])
	assert.InDelta(t, 0.2, m.RadialDistortion, 1e-12)
	assert.Equal(t, 200, m.Width)

	db, err = NewBuilder().AddIntrinsics(map[string]Intrinsics{
		"a": NewSimpleRadial(100, 100, 500, 50, 50, 0),
		"b": NewSimpleRadial(100, 100, 700, 50, 50, 0),
	}).Build()
	require.NoError(t, err)
	m, _ = db.MedianIntrinsics()
	assert.Equal(t, 600.0, m.K[0][0])

	in, ok := db.Intrinsics("a")
	require.True(t, ok)
	assert.Equal(t, 500.0, in.K[0][0])

	db, err = NewBuilder().AddIntrinsics(map[string]Intrinsics{
		"a": NewSimpleRadial(100, 80, 900, 50, 40, 0.4),
		"b": NewSimpleRadial(101, 80, 400, 50, 40, 0.1),
		"c": NewSimpleRadial(104, 80, 700, 50, 40, 0.3),
		"d": NewSimpleRadial(103, 80, 500, 50, 40, 0.2),
	}).Build()
	require.NoError(t, err)
	m, _ = db.MedianIntrinsics()
	assert.Equal(t, 600.0, m.K[0][0])
	assert.InDelta(t, 0.25, m.RadialDistortion, 1e-12)
	assert.Equal(t, 102, m.Width)
	assert.Equal(t, 80, m.Height)
}

func TestLocalFeaturesAugmentedFallback(t *testing.T) {
	f := LocalFeatures{Keypoints: [][2]float64{{1, 2}}, Descriptors: [][]float32{{1}}}
	db, err := testBuilder(t).SetFeatures(MemoryFeatures{1: f}).Build()
	require.NoError(t, err)

	got, err := db.LocalFeatures(context.Background(), -1)
	require.NoError(t, err)
	assert.Equal(t, f, got)

	_, err = db.LocalFeatures(context.Background(), 2)
	assert.ErrorIs(t, err, ErrNoFeatures)

	empty, err := NewBuilder().Build()
	require.NoError(t, err)
	_, err = empty.LocalFeatures(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoFeatures)
}
