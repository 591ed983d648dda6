// Package covis groups retrieved database images into clusters of images
// that observe common 3D points.
package covis

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/hloc/mapdb"
)

// Graph holds, for every database image, its co-visibility set: the image
// itself plus every image that observes one of its 3D points. Sets are keyed
// and stored by absolute image id. A Graph is immutable after Build.
type Graph struct {
	sets   map[uint32]*roaring.Bitmap
	points map[uint32]*roaring.Bitmap
}

// ImageSource lists images. *mapdb.Database satisfies it.
type ImageSource interface {
	Images() []*mapdb.Image
}

// PointSource looks up 3D points. *mapdb.Database satisfies it.
type PointSource interface {
	Point(id mapdb.PointID) (*mapdb.Point3D, bool)
}

func key(id mapdb.ImageID) uint32 { return uint32(id.Abs()) }

// Build precomputes the co-visibility and point sets of every image.
func Build(images ImageSource, points PointSource) *Graph {
	all := images.Images()
	g := &Graph{
		sets:   make(map[uint32]*roaring.Bitmap, len(all)),
		points: make(map[uint32]*roaring.Bitmap, len(all)),
	}

	for _, img := range all {
		set := roaring.New()
		set.Add(key(img.ID))
		pts := roaring.New()

		for _, pid := range img.PointIDs {
			if !pid.Valid() {
				continue
			}
			pts.Add(uint32(pid))
			p, ok := points.Point(pid)
			if !ok {
				continue
			}
			for _, other := range p.ImageIDs {
				set.Add(key(other))
			}
		}

		set.RunOptimize()
		pts.RunOptimize()
		g.sets[key(img.ID)] = set
		g.points[key(img.ID)] = pts
	}
	return g
}

// Set returns the co-visibility set of an image. The bitmap must not be
// modified. Unknown images yield a set containing only the image.
func (g *Graph) Set(id mapdb.ImageID) *roaring.Bitmap {
	if s, ok := g.sets[key(id)]; ok {
		return s
	}
	return roaring.BitmapOf(key(id))
}

// ImagePoints returns the valid 3D point ids of an image. The bitmap must
// not be modified.
func (g *Graph) ImagePoints(id mapdb.ImageID) *roaring.Bitmap {
	if p, ok := g.points[key(id)]; ok {
		return p
	}
	return roaring.New()
}

// Points returns the union of 3D point ids observed by the given images.
func (g *Graph) Points(ids []mapdb.ImageID) *roaring.Bitmap {
	sets := make([]*roaring.Bitmap, 0, len(ids))
	for _, id := range ids {
		if p, ok := g.points[key(id)]; ok {
			sets = append(sets, p)
		}
	}
	return roaring.FastOr(sets...)
}

// SharedPoints returns the fraction of 3D points two images have in common,
// relative to the smaller of the two point sets. Images without points
// share nothing.
func (g *Graph) SharedPoints(a, b mapdb.ImageID) float64 {
	return overlap(g.ImagePoints(a), g.ImagePoints(b))
}

// PointOverlap is SharedPoints between an arbitrary set of point ids, such
// as the ground-truth observations of an external query, and an image.
func (g *Graph) PointOverlap(points []mapdb.PointID, id mapdb.ImageID) float64 {
	pa := roaring.New()
	for _, p := range points {
		if p.Valid() {
			pa.Add(uint32(p))
		}
	}
	return overlap(pa, g.ImagePoints(id))
}

func overlap(pa, pb *roaring.Bitmap) float64 {
	smaller := min(pa.GetCardinality(), pb.GetCardinality())
	if smaller == 0 {
		return 0
	}
	return float64(pa.AndCardinality(pb)) / float64(smaller)
}
