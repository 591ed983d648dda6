package mapdb

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/num/quat"
)

// ImageID identifies a database image. Augmented copies of an image are
// registered under the negated id; Abs recovers the original.
type ImageID int64

// Abs returns the id of the original image.
func (id ImageID) Abs() ImageID {
	if id < 0 {
		return -id
	}
	return id
}

// PointID identifies a 3D point.
type PointID int64

// NoPoint marks a keypoint without a 3D point.
const NoPoint PointID = -1

// Valid reports whether id refers to a 3D point.
func (id PointID) Valid() bool { return id > 0 }

var (
	// ErrNoFeatures is returned when an image has no stored local features.
	ErrNoFeatures = errors.New("mapdb: no local features")

	// ErrDanglingPoint is returned by Validate when an image references a
	// point that is not in the point table.
	ErrDanglingPoint = errors.New("mapdb: dangling point reference")

	// ErrUnknownImage is returned by Validate when a point track references
	// an image that is not in the database.
	ErrUnknownImage = errors.New("mapdb: unknown image reference")
)

// Image is a database image.
type Image struct {
	ID   ImageID
	Name string

	// Rotation and Translation are the world-to-camera pose, valid when
	// HasPose is set.
	Rotation    quat.Number
	Translation [3]float64
	HasPose     bool

	// Keypoints and PointIDs are index-aligned. Keypoints may be empty when
	// only the associations are known.
	Keypoints [][2]float64
	PointIDs  []PointID
}

// ValidPoints returns the distinct valid point ids observed by the image.
func (img *Image) ValidPoints() []PointID {
	seen := make(map[PointID]struct{}, len(img.PointIDs))
	out := make([]PointID, 0, len(img.PointIDs))
	for _, id := range img.PointIDs {
		if !id.Valid() {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Point3D is a triangulated map point.
type Point3D struct {
	ID       PointID
	XYZ      [3]float64
	ImageIDs []ImageID
}

// Intrinsics are the calibration of a pinhole camera with one radial
// distortion coefficient.
type Intrinsics struct {
	K                [3][3]float64
	RadialDistortion float64
	Width, Height    int
}

// NewSimpleRadial builds intrinsics from the SIMPLE_RADIAL parameters.
func NewSimpleRadial(width, height int, f, cx, cy, r float64) Intrinsics {
	return Intrinsics{
		K:                [3][3]float64{{f, 0, cx}, {0, f, cy}, {0, 0, 1}},
		RadialDistortion: r,
		Width:            width,
		Height:           height,
	}
}

// LocalFeatures are the keypoints and descriptors of one image, index-aligned.
type LocalFeatures struct {
	Keypoints   [][2]float64
	Descriptors [][]float32
}

// Len returns the number of features.
func (f LocalFeatures) Len() int { return len(f.Descriptors) }

// Dim returns the descriptor dimension, or 0 when empty.
func (f LocalFeatures) Dim() int {
	if len(f.Descriptors) == 0 {
		return 0
	}
	return len(f.Descriptors[0])
}

// SizeBytes returns the approximate in-memory size.
func (f LocalFeatures) SizeBytes() int64 {
	return int64(len(f.Keypoints))*16 + int64(f.Len())*int64(f.Dim())*4 + int64(f.Len())*24
}

// Validate checks that keypoints and descriptors are aligned and that every
// descriptor has the same dimension.
func (f LocalFeatures) Validate() error {
	if len(f.Keypoints) != len(f.Descriptors) {
		return fmt.Errorf("mapdb: %d keypoints but %d descriptors", len(f.Keypoints), len(f.Descriptors))
	}
	dim := f.Dim()
	for i, d := range f.Descriptors {
		if len(d) != dim {
			return fmt.Errorf("mapdb: descriptor %d has dimension %d, want %d", i, len(d), dim)
		}
	}
	return nil
}

// FeatureSource loads local features by image id.
type FeatureSource interface {
	LocalFeatures(ctx context.Context, id ImageID) (LocalFeatures, error)
}

// MemoryFeatures is an in-memory FeatureSource.
type MemoryFeatures map[ImageID]LocalFeatures

// LocalFeatures implements FeatureSource.
func (m MemoryFeatures) LocalFeatures(_ context.Context, id ImageID) (LocalFeatures, error) {
	f, ok := m[id]
	if !ok {
		return LocalFeatures{}, fmt.Errorf("%w: image %d", ErrNoFeatures, id)
	}
	return f, nil
}
