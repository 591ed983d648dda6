package pose

import "github.com/hupe1980/hloc/mapdb"

// undistortIterations bounds the fixed-point iteration in Normalize.
const undistortIterations = 20

// Camera is a pinhole camera with one radial distortion coefficient
// (COLMAP SIMPLE_RADIAL).
type Camera struct {
	K      [3][3]float64
	Radial float64
}

// NewCamera builds a camera from map intrinsics.
func NewCamera(in mapdb.Intrinsics) Camera {
	return Camera{K: in.K, Radial: in.RadialDistortion}
}

// Project maps a point in camera coordinates to pixels. ok is false for
// points at or behind the camera.
func (c Camera) Project(xc [3]float64) (px [2]float64, ok bool) {
	if xc[2] <= 0 {
		return px, false
	}
	x := xc[0] / xc[2]
	y := xc[1] / xc[2]
	d := 1 + c.Radial*(x*x+y*y)
	x *= d
	y *= d
	return [2]float64{
		c.K[0][0]*x + c.K[0][1]*y + c.K[0][2],
		c.K[1][1]*y + c.K[1][2],
	}, true
}

// Normalize maps a pixel to undistorted normalized image coordinates, the
// inverse of Project up to depth.
func (c Camera) Normalize(px [2]float64) [2]float64 {
	yd := (px[1] - c.K[1][2]) / c.K[1][1]
	xd := (px[0] - c.K[0][2] - c.K[0][1]*yd) / c.K[0][0]
	if c.Radial == 0 {
		return [2]float64{xd, yd}
	}

	x, y := xd, yd
	for range undistortIterations {
		d := 1 + c.Radial*(x*x+y*y)
		x = xd / d
		y = yd / d
	}
	return [2]float64{x, y}
}

// Bearing returns the unit ray through px in camera coordinates.
func (c Camera) Bearing(px [2]float64) [3]float64 {
	n := c.Normalize(px)
	return normalize([3]float64{n[0], n[1], 1})
}

// Focal returns the mean focal length in pixels.
func (c Camera) Focal() float64 { return (c.K[0][0] + c.K[1][1]) / 2 }
