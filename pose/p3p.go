package pose

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// P3P solves the perspective-three-point problem with Grunert's method.
// points are world coordinates, bearings unit rays in camera coordinates.
// It returns up to four poses; none for degenerate configurations.
func P3P(points, bearings [3][3]float64) []Pose {
	a := math.Sqrt(dist2(points[1], points[2]))
	b := math.Sqrt(dist2(points[0], points[2]))
	c := math.Sqrt(dist2(points[0], points[1]))
	if a < 1e-9 || b < 1e-9 || c < 1e-9 {
		return nil
	}
	// Collinear world points leave the pose undetermined.
	if area := cross(sub(points[1], points[0]), sub(points[2], points[0])); dot(area, area) < 1e-12*b*b*c*c {
		return nil
	}

	cosA := dot(bearings[1], bearings[2])
	cosB := dot(bearings[0], bearings[2])
	cosG := dot(bearings[0], bearings[1])

	a2, b2, c2 := a*a, b*b, c*c
	k := (a2 - c2) / b2

	// u = N(v) / D(v) with u = s2/s1, v = s3/s1.
	num := poly{1 + k, -2 * k * cosB, k - 1}
	den := poly{2 * cosG, -2 * cosA}
	q := poly{1, -2 * cosB, 1} // 1 + v² - 2v cosβ

	quartic := den.mul(den).
		add(num.mul(num)).
		add(num.mul(den).scale(-2 * cosG)).
		add(q.mul(den).mul(den).scale(-c2 / b2))

	var out []Pose
	for _, v := range quartic.realRoots() {
		if v <= 0 {
			continue
		}
		d := den.eval(v)
		if math.Abs(d) < 1e-12 {
			continue
		}
		u := num.eval(v) / d
		if u <= 0 {
			continue
		}
		qv := q.eval(v)
		if qv <= 0 {
			continue
		}
		s1 := math.Sqrt(b2 / qv)
		s := [3]float64{s1, u * s1, v * s1}

		var cam [3][3]float64
		for i := range 3 {
			cam[i] = scale(bearings[i], s[i])
		}
		p, ok := Kabsch(points[:], cam[:])
		if !ok {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Kabsch returns the rigid transform that best maps src onto dst in the
// least-squares sense, dst ≈ R src + T.
func Kabsch(src, dst [][3]float64) (Pose, bool) {
	n := len(src)
	if n < 3 || n != len(dst) {
		return Pose{}, false
	}

	var cs, cd [3]float64
	for i := range n {
		cs = add(cs, src[i])
		cd = add(cd, dst[i])
	}
	cs = scale(cs, 1/float64(n))
	cd = scale(cd, 1/float64(n))

	h := mat.NewDense(3, 3, nil)
	for i := range n {
		p := sub(src[i], cs)
		q := sub(dst[i], cd)
		for r := range 3 {
			for c := range 3 {
				h.Set(r, c, h.At(r, c)+p[r]*q[c])
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return Pose{}, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var vut mat.Dense
	vut.Mul(&v, u.T())
	d := 1.0
	if mat.Det(&vut) < 0 {
		d = -1
	}

	corr := mat.NewDiagDense(3, []float64{1, 1, d})
	var r mat.Dense
	r.Product(&v, corr, u.T())

	var p Pose
	for i := range 3 {
		for j := range 3 {
			p.R[i][j] = r.At(i, j)
		}
	}
	p.T = sub(cd, mulVec(p.R, cs))
	if !finite(p.T[:]...) {
		return Pose{}, false
	}
	return p, true
}

func dist2(a, b [3]float64) float64 {
	d := sub(a, b)
	return dot(d, d)
}

// poly holds polynomial coefficients, lowest degree first.
type poly []float64

func (p poly) add(o poly) poly {
	out := make(poly, max(len(p), len(o)))
	for i, c := range p {
		out[i] += c
	}
	for i, c := range o {
		out[i] += c
	}
	return out
}

func (p poly) mul(o poly) poly {
	out := make(poly, len(p)+len(o)-1)
	for i, a := range p {
		for j, b := range o {
			out[i+j] += a * b
		}
	}
	return out
}

func (p poly) scale(s float64) poly {
	out := make(poly, len(p))
	for i, c := range p {
		out[i] = c * s
	}
	return out
}

func (p poly) eval(x float64) float64 {
	var y float64
	for i := len(p) - 1; i >= 0; i-- {
		y = y*x + p[i]
	}
	return y
}

func (p poly) derivative() poly {
	if len(p) < 2 {
		return poly{0}
	}
	out := make(poly, len(p)-1)
	for i := 1; i < len(p); i++ {
		out[i-1] = float64(i) * p[i]
	}
	return out
}

// realRoots returns the real roots as eigenvalues of the companion matrix,
// polished with a few Newton steps.
func (p poly) realRoots() []float64 {
	var scaleMax float64
	for _, c := range p {
		scaleMax = math.Max(scaleMax, math.Abs(c))
	}
	if scaleMax == 0 {
		return nil
	}
	n := len(p) - 1
	for n > 0 && math.Abs(p[n]) <= 1e-12*scaleMax {
		n--
	}
	if n == 0 {
		return nil
	}

	comp := mat.NewDense(n, n, nil)
	for i := range n {
		comp.Set(0, i, -p[n-1-i]/p[n])
	}
	for i := 1; i < n; i++ {
		comp.Set(i, i-1, 1)
	}

	var eig mat.Eigen
	if !eig.Factorize(comp, mat.EigenNone) {
		return nil
	}

	lead := p[:n+1]
	deriv := lead.derivative()
	var roots []float64
	for _, z := range eig.Values(nil) {
		if math.Abs(imag(z)) > 1e-6*(1+cmplx.Abs(z)) {
			continue
		}
		x := real(z)
		for range 5 {
			d := deriv.eval(x)
			if d == 0 {
				break
			}
			x -= lead.eval(x) / d
		}
		if finite(x) {
			roots = append(roots, x)
		}
	}
	return roots
}
