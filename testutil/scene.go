package testutil

import "math"

// SceneOptions configures a synthetic scene.
type SceneOptions struct {
	Points int     // number of 3D points
	Focal  float64 // focal length in pixels
	Width  float64 // image width in pixels
	Height float64 // image height in pixels
	Radial float64 // SIMPLE_RADIAL distortion coefficient
	Depth  float64 // mean distance of the points from the camera
}

// Scene holds a camera with a known world→camera pose and points that project
// into its image without noise.
type Scene struct {
	K         [3][3]float64
	Radial    float64
	R         [3][3]float64 // world→camera rotation
	T         [3]float64    // world→camera translation
	Points    [][3]float64
	Keypoints [][2]float64
}

// Scene generates a random scene. Points lie in front of the camera within
// the image bounds.
func (r *RNG) Scene(opts SceneOptions) Scene {
	if opts.Points <= 0 {
		opts.Points = 50
	}
	if opts.Focal == 0 {
		opts.Focal = 800
	}
	if opts.Width == 0 {
		opts.Width = 1024
	}
	if opts.Height == 0 {
		opts.Height = 768
	}
	if opts.Depth == 0 {
		opts.Depth = 10
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := Scene{
		K: [3][3]float64{
			{opts.Focal, 0, opts.Width / 2},
			{0, opts.Focal, opts.Height / 2},
			{0, 0, 1},
		},
		Radial: opts.Radial,
	}

	axis := [3]float64{r.rand.NormFloat64(), r.rand.NormFloat64(), r.rand.NormFloat64()}
	angle := (r.rand.Float64()*2 - 1) * math.Pi / 3
	s.R = axisAngle(axis, angle)
	s.T = [3]float64{r.rand.NormFloat64() * 2, r.rand.NormFloat64() * 2, r.rand.NormFloat64() * 2}

	rt := transpose(s.R)
	for len(s.Points) < opts.Points {
		u := r.rand.Float64()*0.9*opts.Width + 0.05*opts.Width
		v := r.rand.Float64()*0.9*opts.Height + 0.05*opts.Height
		z := opts.Depth * (0.5 + r.rand.Float64())

		xc := [3]float64{
			(u - s.K[0][2]) / opts.Focal * z,
			(v - s.K[1][2]) / opts.Focal * z,
			z,
		}
		// X_world = Rᵀ (X_cam - t)
		d := [3]float64{xc[0] - s.T[0], xc[1] - s.T[1], xc[2] - s.T[2]}
		xw := mulVec(rt, d)

		s.Points = append(s.Points, xw)
		s.Keypoints = append(s.Keypoints, s.Project(xw))
	}

	return s
}

// Project maps a world point into the image.
func (s Scene) Project(xw [3]float64) [2]float64 {
	xc := mulVec(s.R, xw)
	xc[0] += s.T[0]
	xc[1] += s.T[1]
	xc[2] += s.T[2]

	x := xc[0] / xc[2]
	y := xc[1] / xc[2]
	d := 1 + s.Radial*(x*x+y*y)
	return [2]float64{
		s.K[0][0]*x*d + s.K[0][2],
		s.K[1][1]*y*d + s.K[1][2],
	}
}

// Center returns the camera centre in world coordinates, -Rᵀt.
func (s Scene) Center() [3]float64 {
	c := mulVec(transpose(s.R), s.T)
	return [3]float64{-c[0], -c[1], -c[2]}
}

func axisAngle(axis [3]float64, angle float64) [3][3]float64 {
	n := math.Sqrt(axis[0]*axis[0] + axis[1]*axis[1] + axis[2]*axis[2])
	if n == 0 {
		return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}
	x, y, z := axis[0]/n, axis[1]/n, axis[2]/n
	c, s := math.Cos(angle), math.Sin(angle)
	t := 1 - c
	return [3][3]float64{
		{t*x*x + c, t*x*y - s*z, t*x*z + s*y},
		{t*x*y + s*z, t*y*y + c, t*y*z - s*x},
		{t*x*z - s*y, t*y*z + s*x, t*z*z + c},
	}
}

func transpose(m [3][3]float64) [3][3]float64 {
	return [3][3]float64{
		{m[0][0], m[1][0], m[2][0]},
		{m[0][1], m[1][1], m[2][1]},
		{m[0][2], m[1][2], m[2][2]},
	}
}

func mulVec(m [3][3]float64, v [3]float64) [3]float64 {
	return [3]float64{
		m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2],
		m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2],
		m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2],
	}
}
