package covis

import (
	"fmt"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/hloc/mapdb"
	"github.com/hupe1980/hloc/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Images 1-3 share point 10, images 4-5 share point 20, image 6 sees only
// point 30.
func testDB(t *testing.T) *mapdb.Database {
	t.Helper()
	db, err := mapdb.NewBuilder().
		AddImages(
			mapdb.Image{ID: 1, Name: "1", PointIDs: []mapdb.PointID{10, mapdb.NoPoint}},
			mapdb.Image{ID: 2, Name: "2", PointIDs: []mapdb.PointID{10}},
			mapdb.Image{ID: 3, Name: "3", PointIDs: []mapdb.PointID{10, 11}},
			mapdb.Image{ID: 4, Name: "4", PointIDs: []mapdb.PointID{20}},
			mapdb.Image{ID: 5, Name: "5", PointIDs: []mapdb.PointID{20, 11}},
			mapdb.Image{ID: 6, Name: "6", PointIDs: []mapdb.PointID{30}},
		).
		AddPoints(
			mapdb.Point3D{ID: 10, ImageIDs: []mapdb.ImageID{1, 2, 3}},
			mapdb.Point3D{ID: 11, ImageIDs: []mapdb.ImageID{3, 5}},
			mapdb.Point3D{ID: 20, ImageIDs: []mapdb.ImageID{4, 5}},
			mapdb.Point3D{ID: 30, ImageIDs: []mapdb.ImageID{6}},
		).
		Build()
	require.NoError(t, err)
	return db
}

func TestGraph(t *testing.T) {
	g := Build(testDB(t), testDB(t))

	assert.Equal(t, []uint32{1, 2, 3}, g.Set(1).ToArray())
	assert.Equal(t, []uint32{1, 2, 3, 5}, g.Set(3).ToArray())
	assert.Equal(t, []uint32{3, 4, 5}, g.Set(5).ToArray())
	assert.Equal(t, []uint32{6}, g.Set(6).ToArray())
	assert.Equal(t, g.Set(3).ToArray(), g.Set(-3).ToArray())
	assert.Equal(t, []uint32{99}, g.Set(99).ToArray())

	assert.Equal(t, []uint32{10, 11, 20}, g.Points([]mapdb.ImageID{3, 4}).ToArray())
	assert.True(t, g.Points(nil).IsEmpty())

	assert.InDelta(t, 1.0, g.SharedPoints(1, 3), 1e-12)
	assert.InDelta(t, 0.5, g.SharedPoints(3, 5), 1e-12)
	assert.Zero(t, g.SharedPoints(1, 6))
	assert.Zero(t, g.SharedPoints(1, 99))

	assert.InDelta(t, 1.0, g.PointOverlap([]mapdb.PointID{10, mapdb.NoPoint}, 3), 1e-12)
	assert.InDelta(t, 0.5, g.PointOverlap([]mapdb.PointID{11, 30}, 5), 1e-12)
	assert.Zero(t, g.PointOverlap(nil, 1))
}

func TestBuilder(t *testing.T) {
	g := Build(testDB(t), testDB(t))

	tests := []struct {
		name    string
		enabled bool
		ranked  []mapdb.ImageID
		seeds   [][]mapdb.ImageID
		images  [][]uint32
	}{
		{
			name:    "MergeIntoFirst",
			enabled: true,
			ranked:  []mapdb.ImageID{1, 6, 2, 4},
			seeds:   [][]mapdb.ImageID{{1, 2}, {6}, {4}},
			images:  [][]uint32{{1, 2, 3}, {6}, {4, 5}},
		},
		{
			// 5 joins cluster of 3 (not 4's cluster, which comes later).
			name:    "FirstMatchWins",
			enabled: true,
			ranked:  []mapdb.ImageID{3, 4, 5},
			seeds:   [][]mapdb.ImageID{{3, 5}, {4}},
			images:  [][]uint32{{1, 2, 3, 4, 5}, {4, 5}},
		},
		{
			name:    "AugmentedID",
			enabled: true,
			ranked:  []mapdb.ImageID{-1, 2},
			seeds:   [][]mapdb.ImageID{{-1, 2}},
			images:  [][]uint32{{1, 2, 3}},
		},
		{
			name:    "Disabled",
			enabled: false,
			ranked:  []mapdb.ImageID{6, 1, -4},
			seeds:   [][]mapdb.ImageID{{6, 1, -4}},
			images:  [][]uint32{{1, 4, 6}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(g, func(o *Options) { o.Enabled = tt.enabled })
			clusters := b.Build(tt.ranked)
			require.Len(t, clusters, len(tt.seeds))
			for i, c := range clusters {
				assert.Equal(t, tt.seeds[i], c.Seeds)
				assert.Equal(t, tt.images[i], c.Images.ToArray())
			}
		})
	}

	assert.Nil(t, NewBuilder(g).Build(nil))
}

func TestBuilderDoesNotMutateGraph(t *testing.T) {
	g := Build(testDB(t), testDB(t))
	before := g.Set(1).Clone()

	NewBuilder(g).Build([]mapdb.ImageID{1, 3, 5, 4})
	assert.True(t, before.Equals(g.Set(1)))
}

func TestMembers(t *testing.T) {
	c := Cluster{Seeds: []mapdb.ImageID{3, -1}, Images: roaring.BitmapOf(1, 2, 3, 7)}
	assert.Equal(t, []mapdb.ImageID{3, -1, 2, 7}, c.Members())
}

func TestClusterUnionProperty(t *testing.T) {
	rng := testutil.NewRNG(7)

	// Random map: 60 images, 200 points each seen by 2-5 images.
	const numImages, numPoints = 60, 200
	images := make([]mapdb.Image, numImages)
	for i := range images {
		images[i] = mapdb.Image{ID: mapdb.ImageID(i + 1), Name: fmt.Sprintf("db/%d.jpg", i+1)}
	}
	var points []mapdb.Point3D
	for p := 1; p <= numPoints; p++ {
		pt := mapdb.Point3D{ID: mapdb.PointID(p)}
		seen := map[int]bool{}
		for range 2 + rng.Intn(4) {
			i := rng.Intn(numImages)
			if seen[i] {
				continue
			}
			seen[i] = true
			pt.ImageIDs = append(pt.ImageIDs, images[i].ID)
			images[i].PointIDs = append(images[i].PointIDs, pt.ID)
		}
		points = append(points, pt)
	}

	db, err := mapdb.NewBuilder().AddImages(images...).AddPoints(points...).Build()
	require.NoError(t, err)
	g := Build(db, db)
	b := NewBuilder(g)

	for trial := range 20 {
		ranked := make([]mapdb.ImageID, 0, 20)
		used := map[int]bool{}
		for len(ranked) < 20 {
			i := rng.Intn(numImages)
			if !used[i] {
				used[i] = true
				ranked = append(ranked, mapdb.ImageID(i+1))
			}
		}

		want := roaring.New()
		for _, id := range ranked {
			want.Or(g.Set(id))
		}

		clusters := b.Build(ranked)
		assert.True(t, want.Equals(Union(clusters)), "trial %d", trial)

		// Every ranked neighbor is a seed of exactly one cluster.
		var seeds []mapdb.ImageID
		for _, c := range clusters {
			seeds = append(seeds, c.Seeds...)
		}
		assert.ElementsMatch(t, ranked, seeds)
	}
}
