package pose

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid world→camera transform, x_cam = R x_world + T.
type Pose struct {
	R [3][3]float64
	T [3]float64
}

// Identity is the identity pose.
var Identity = Pose{R: identity()}

// Apply transforms a world point into camera coordinates.
func (p Pose) Apply(xw [3]float64) [3]float64 {
	return add(mulVec(p.R, xw), p.T)
}

// Center returns the camera centre in world coordinates, -Rᵀt.
func (p Pose) Center() [3]float64 {
	return scale(mulVec(transpose(p.R), p.T), -1)
}

// Quaternion returns R as a unit quaternion with non-negative real part.
func (p Pose) Quaternion() quat.Number { return MatrixToQuat(p.R) }

// Inverse returns the camera→world transform.
func (p Pose) Inverse() Pose {
	rt := transpose(p.R)
	return Pose{R: rt, T: scale(mulVec(rt, p.T), -1)}
}

// FromQuaternion builds a pose from a rotation quaternion and translation.
func FromQuaternion(q quat.Number, t [3]float64) Pose {
	return Pose{R: QuatToMatrix(q), T: t}
}

// QuatToMatrix converts a quaternion to a rotation matrix. q is normalized
// first.
func QuatToMatrix(q quat.Number) [3][3]float64 {
	n := quat.Abs(q)
	if n == 0 {
		return identity()
	}
	q = quat.Scale(1/n, q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return [3][3]float64{
		{1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y)},
		{2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x)},
		{2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y)},
	}
}

// MatrixToQuat converts a rotation matrix to a unit quaternion with
// non-negative real part.
func MatrixToQuat(m [3][3]float64) quat.Number {
	var q quat.Number
	tr := m[0][0] + m[1][1] + m[2][2]
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q = quat.Number{Real: s / 4, Imag: (m[2][1] - m[1][2]) / s, Jmag: (m[0][2] - m[2][0]) / s, Kmag: (m[1][0] - m[0][1]) / s}
	case m[0][0] > m[1][1] && m[0][0] > m[2][2]:
		s := math.Sqrt(1+m[0][0]-m[1][1]-m[2][2]) * 2
		q = quat.Number{Real: (m[2][1] - m[1][2]) / s, Imag: s / 4, Jmag: (m[0][1] + m[1][0]) / s, Kmag: (m[0][2] + m[2][0]) / s}
	case m[1][1] > m[2][2]:
		s := math.Sqrt(1+m[1][1]-m[0][0]-m[2][2]) * 2
		q = quat.Number{Real: (m[0][2] - m[2][0]) / s, Imag: (m[0][1] + m[1][0]) / s, Jmag: s / 4, Kmag: (m[1][2] + m[2][1]) / s}
	default:
		s := math.Sqrt(1+m[2][2]-m[0][0]-m[1][1]) * 2
		q = quat.Number{Real: (m[1][0] - m[0][1]) / s, Imag: (m[0][2] + m[2][0]) / s, Jmag: (m[1][2] + m[2][1]) / s, Kmag: s / 4}
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return quat.Scale(1/quat.Abs(q), q)
}

// RotationVector converts a rotation matrix to axis-angle form, the axis
// scaled by the angle in radians.
func RotationVector(m [3][3]float64) [3]float64 {
	q := MatrixToQuat(m)
	v := [3]float64{q.Imag, q.Jmag, q.Kmag}
	s := floats.Norm(v[:], 2)
	if s < 1e-12 {
		return scale(v, 2)
	}
	theta := 2 * math.Atan2(s, q.Real)
	return scale(v, theta/s)
}

// RotationMatrix converts an axis-angle vector to a rotation matrix
// (Rodrigues' formula).
func RotationMatrix(v [3]float64) [3][3]float64 {
	theta := floats.Norm(v[:], 2)
	if theta < 1e-12 {
		return [3][3]float64{
			{1, -v[2], v[1]},
			{v[2], 1, -v[0]},
			{-v[1], v[0], 1},
		}
	}
	k := scale(v, 1/theta)
	s, c := math.Sin(theta), math.Cos(theta)
	t := 1 - c
	x, y, z := k[0], k[1], k[2]
	return [3][3]float64{
		{t*x*x + c, t*x*y - s*z, t*x*z + s*y},
		{t*x*y + s*z, t*y*y + c, t*y*z - s*x},
		{t*x*z - s*y, t*y*z + s*x, t*z*z + c},
	}
}

func identity() [3][3]float64 {
	return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
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

func add(a, b [3]float64) [3]float64 { return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }

func sub(a, b [3]float64) [3]float64 { return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

func scale(a [3]float64, s float64) [3]float64 { return [3]float64{a[0] * s, a[1] * s, a[2] * s} }

func dot(a, b [3]float64) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func normalize(a [3]float64) [3]float64 {
	n := math.Sqrt(dot(a, a))
	if n == 0 {
		return a
	}
	return scale(a, 1/n)
}

func finite(v ...float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
