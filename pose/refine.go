package pose

import (
	"context"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	lmInitialLambda = 1e-3
	lmMaxTries      = 10
	lmTolerance     = 1e-12
)

// Refine minimizes the squared reprojection error of init over points and
// keypoints with Levenberg-Marquardt. The rotation is parameterized as an
// axis-angle update left-multiplied onto init.R.
func Refine(ctx context.Context, init Pose, points [][3]float64, keypoints [][2]float64, cam Camera, maxIter int) (Pose, error) {
	if len(points) != len(keypoints) {
		return Pose{}, &ErrLengthMismatch{Points: len(points), Keypoints: len(keypoints)}
	}
	if len(points) == 0 || maxIter <= 0 {
		return init, nil
	}

	m := 2 * len(points)
	residuals := func(y, x []float64) {
		p := update(init, x)
		for i, xw := range points {
			px := cam.projectRaw(p.Apply(xw))
			y[2*i] = px[0] - keypoints[i][0]
			y[2*i+1] = px[1] - keypoints[i][1]
		}
	}

	x := make([]float64, 6)
	copy(x[3:], init.T[:])
	r := make([]float64, m)
	residuals(r, x)
	cost := floats.Dot(r, r)
	if !finite(cost) {
		return Pose{}, ErrRefinementDiverged
	}

	jac := mat.NewDense(m, 6, nil)
	settings := &fd.JacobianSettings{Formula: fd.Central}
	lambda := lmInitialLambda
	next := make([]float64, 6)
	rn := make([]float64, m)

	for range maxIter {
		if err := ctx.Err(); err != nil {
			return Pose{}, err
		}

		fd.Jacobian(jac, residuals, x, settings)

		var jtj mat.SymDense
		jtj.SymOuterK(1, jac.T())
		var g mat.VecDense
		g.MulVec(jac.T(), mat.NewVecDense(m, r))

		improved := false
		for range lmMaxTries {
			a := mat.NewDense(6, 6, nil)
			a.Copy(&jtj)
			for i := range 6 {
				a.Set(i, i, a.At(i, i)+lambda*math.Max(jtj.At(i, i), 1e-12))
			}

			var step mat.VecDense
			if err := step.SolveVec(a, &g); err != nil {
				lambda *= 10
				continue
			}
			for i := range 6 {
				next[i] = x[i] - step.AtVec(i)
			}
			residuals(rn, next)
			c := floats.Dot(rn, rn)
			if finite(c) && c < cost {
				converged := cost-c <= lmTolerance*(1+cost) || floats.Norm(step.RawVector().Data, 2) <= lmTolerance
				copy(x, next)
				copy(r, rn)
				cost = c
				lambda = math.Max(lambda/10, 1e-12)
				improved = !converged
				break
			}
			lambda *= 10
		}
		if !improved {
			break
		}
	}

	p := update(init, x)
	if !finite(p.T[:]...) || !finite(p.R[0][:]...) || !finite(p.R[1][:]...) || !finite(p.R[2][:]...) {
		return Pose{}, ErrRefinementDiverged
	}
	return p, nil
}

func update(init Pose, x []float64) Pose {
	dr := RotationMatrix([3]float64{x[0], x[1], x[2]})
	return Pose{R: mulMat(dr, init.R), T: [3]float64{x[3], x[4], x[5]}}
}

// projectRaw projects without the depth check so residuals stay smooth.
func (c Camera) projectRaw(xc [3]float64) [2]float64 {
	z := xc[2]
	if math.Abs(z) < 1e-12 {
		z = math.Copysign(1e-12, z)
	}
	x := xc[0] / z
	y := xc[1] / z
	d := 1 + c.Radial*(x*x+y*y)
	x *= d
	y *= d
	return [2]float64{
		c.K[0][0]*x + c.K[0][1]*y + c.K[0][2],
		c.K[1][1]*y + c.K[1][2],
	}
}

func mulMat(a, b [3][3]float64) [3][3]float64 {
	var out [3][3]float64
	for i := range 3 {
		for j := range 3 {
			out[i][j] = a[i][0]*b[0][j] + a[i][1]*b[1][j] + a[i][2]*b[2][j]
		}
	}
	return out
}
