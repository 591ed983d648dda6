package mapdb

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Database is the in-memory map. It is immutable after Build.
type Database struct {
	images     map[ImageID]*Image
	imageOrder []ImageID
	byName     map[string]ImageID
	points     map[PointID]*Point3D
	intrinsics map[string]Intrinsics
	median     Intrinsics
	hasMedian  bool

	globalIDs []ImageID
	global    [][]float32

	features FeatureSource
}

// Builder accumulates map content for a Database.
type Builder struct {
	images     []Image
	points     []Point3D
	intrinsics map[string]Intrinsics
	globalIDs  []ImageID
	global     [][]float32
	features   FeatureSource
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{intrinsics: make(map[string]Intrinsics)}
}

// AddImages adds database images.
func (b *Builder) AddImages(images ...Image) *Builder {
	b.images = append(b.images, images...)
	return b
}

// AddPoints adds 3D points.
func (b *Builder) AddPoints(points ...Point3D) *Builder {
	b.points = append(b.points, points...)
	return b
}

// AddIntrinsics registers calibration by image name.
func (b *Builder) AddIntrinsics(intrinsics map[string]Intrinsics) *Builder {
	maps.Copy(b.intrinsics, intrinsics)
	return b
}

// SetGlobalDescriptors sets the global descriptor matrix. Row i belongs to
// ids[i]; negative ids denote augmented copies.
func (b *Builder) SetGlobalDescriptors(ids []ImageID, vecs [][]float32) *Builder {
	b.globalIDs = ids
	b.global = vecs
	return b
}

// SetFeatures sets the local feature source.
func (b *Builder) SetFeatures(src FeatureSource) *Builder {
	b.features = src
	return b
}

// Build validates the content and returns the Database.
func (b *Builder) Build() (*Database, error) {
	if len(b.globalIDs) != len(b.global) {
		return nil, fmt.Errorf("mapdb: %d global ids but %d descriptors", len(b.globalIDs), len(b.global))
	}

	db := &Database{
		images:     make(map[ImageID]*Image, len(b.images)),
		byName:     make(map[string]ImageID, len(b.images)),
		points:     make(map[PointID]*Point3D, len(b.points)),
		intrinsics: maps.Clone(b.intrinsics),
		globalIDs:  slices.Clone(b.globalIDs),
		global:     b.global,
		features:   b.features,
	}

	for i := range b.images {
		img := b.images[i]
		if img.ID <= 0 {
			return nil, fmt.Errorf("mapdb: image %q has non-positive id %d", img.Name, img.ID)
		}
		if _, dup := db.images[img.ID]; dup {
			return nil, fmt.Errorf("mapdb: duplicate image id %d", img.ID)
		}
		if len(img.Keypoints) > 0 && len(img.Keypoints) != len(img.PointIDs) {
			return nil, fmt.Errorf("mapdb: image %d has %d keypoints but %d point ids", img.ID, len(img.Keypoints), len(img.PointIDs))
		}
		db.images[img.ID] = &img
		db.byName[img.Name] = img.ID
		db.imageOrder = append(db.imageOrder, img.ID)
	}
	sort.Slice(db.imageOrder, func(i, j int) bool { return db.imageOrder[i] < db.imageOrder[j] })

	for i := range b.points {
		p := b.points[i]
		if _, dup := db.points[p.ID]; dup {
			return nil, fmt.Errorf("mapdb: duplicate point id %d", p.ID)
		}
		db.points[p.ID] = &p
	}

	if len(db.global) > 0 {
		dim := len(db.global[0])
		for i, v := range db.global {
			if len(v) != dim {
				return nil, fmt.Errorf("mapdb: global descriptor %d has dimension %d, want %d", i, len(v), dim)
			}
		}
	}

	db.median, db.hasMedian = medianIntrinsics(db.intrinsics)

	if err := db.Validate(); err != nil {
		return nil, err
	}
	return db, nil
}

// Validate checks referential integrity between images and points.
func (db *Database) Validate() error {
	var errs []error
	for _, id := range db.imageOrder {
		img := db.images[id]
		for _, pid := range img.PointIDs {
			if pid.Valid() {
				if _, ok := db.points[pid]; !ok {
					errs = append(errs, fmt.Errorf("%w: image %d references point %d", ErrDanglingPoint, id, pid))
					break
				}
			}
		}
	}
	for _, p := range db.points {
		for _, iid := range p.ImageIDs {
			if _, ok := db.images[iid.Abs()]; !ok {
				errs = append(errs, fmt.Errorf("%w: point %d references image %d", ErrUnknownImage, p.ID, iid))
				break
			}
		}
	}
	return errors.Join(errs...)
}

// Images returns all images sorted by id.
func (db *Database) Images() []*Image {
	out := make([]*Image, len(db.imageOrder))
	for i, id := range db.imageOrder {
		out[i] = db.images[id]
	}
	return out
}

// NumImages returns the number of database images.
func (db *Database) NumImages() int { return len(db.imageOrder) }

// Image returns the image with id. Augmented (negative) ids resolve to the
// original image.
func (db *Database) Image(id ImageID) (*Image, bool) {
	img, ok := db.images[id.Abs()]
	return img, ok
}

// ImageByName looks an image up by name.
func (db *Database) ImageByName(name string) (*Image, bool) {
	id, ok := db.byName[name]
	if !ok {
		return nil, false
	}
	return db.images[id], true
}

// Points returns all points sorted by id.
func (db *Database) Points() []*Point3D {
	out := make([]*Point3D, 0, len(db.points))
	for _, p := range db.points {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NumPoints returns the number of 3D points.
func (db *Database) NumPoints() int { return len(db.points) }

// Point returns the point with id.
func (db *Database) Point(id PointID) (*Point3D, bool) {
	p, ok := db.points[id]
	return p, ok
}

// Intrinsics returns the calibration registered for an image name.
func (db *Database) Intrinsics(name string) (Intrinsics, bool) {
	in, ok := db.intrinsics[name]
	return in, ok
}

// MedianIntrinsics returns the per-component median of all registered
// calibrations. ok is false when none are registered.
func (db *Database) MedianIntrinsics() (Intrinsics, bool) {
	return db.median, db.hasMedian
}

// GlobalDescriptors returns the ids and rows of the global descriptor
// matrix. The returned slices must not be modified.
func (db *Database) GlobalDescriptors() ([]ImageID, [][]float32) {
	return db.globalIDs, db.global
}

// HasAugmented reports whether the global matrix contains augmented copies.
func (db *Database) HasAugmented() bool {
	for _, id := range db.globalIDs {
		if id < 0 {
			return true
		}
	}
	return false
}

// LocalFeatures loads the local features of an image. Augmented ids without
// their own features fall back to the original image.
func (db *Database) LocalFeatures(ctx context.Context, id ImageID) (LocalFeatures, error) {
	if db.features == nil {
		return LocalFeatures{}, fmt.Errorf("%w: no feature source", ErrNoFeatures)
	}
	f, err := db.features.LocalFeatures(ctx, id)
	if id < 0 && errors.Is(err, ErrNoFeatures) {
		return db.features.LocalFeatures(ctx, id.Abs())
	}
	return f, err
}

func medianIntrinsics(all map[string]Intrinsics) (Intrinsics, bool) {
	if len(all) == 0 {
		return Intrinsics{}, false
	}

	n := len(all)
	column := make([]float64, n)
	median := func(get func(Intrinsics) float64) float64 {
		i := 0
		for _, in := range all {
			column[i] = get(in)
			i++
		}
		sort.Float64s(column)
		// The middle value, or the mean of the two middle values for even n.
		return stat.Mean(column[(n-1)/2:n/2+1], nil)
	}

	var out Intrinsics
	for r := range 3 {
		for c := range 3 {
			out.K[r][c] = median(func(in Intrinsics) float64 { return in.K[r][c] })
		}
	}
	out.RadialDistortion = median(func(in Intrinsics) float64 { return in.RadialDistortion })
	out.Width = int(median(func(in Intrinsics) float64 { return float64(in.Width) }))
	out.Height = int(median(func(in Intrinsics) float64 { return float64(in.Height) }))
	return out, true
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
