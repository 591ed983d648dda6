package pose

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/num/quat"
)

// MinCorrespondences is the smallest number of correspondences Solve accepts.
const MinCorrespondences = 5

// Source supplies random sample indices. *math/rand.Rand satisfies it.
type Source interface {
	Intn(n int) int
}

// Options contains configuration options for the solver.
type Options struct {
	// Iterations is the RANSAC iteration budget across all workers.
	Iterations int `yaml:"iterations"`
	// ReprojectionError is the inlier threshold in pixels.
	ReprojectionError float64 `yaml:"reprojection_error"`
	// MinInliers is the number of inliers a pose needs to be accepted.
	MinInliers int `yaml:"min_inliers"`
	// Confidence drives the adaptive early exit. Zero disables it.
	Confidence float64 `yaml:"confidence"`
	// Workers is the number of parallel RANSAC workers.
	Workers int `yaml:"workers"`
	// RefineIterations bounds Levenberg-Marquardt refinement. Zero skips it.
	RefineIterations int `yaml:"refine_iterations"`
	// Rand seeds the per-worker sample streams. Nil uses a fixed seed.
	Rand Source `yaml:"-"`
}

// DefaultOptions contains the default configuration options for the solver.
var DefaultOptions = Options{
	Iterations:        5000,
	ReprojectionError: 8.0,
	MinInliers:        5,
	Confidence:        0.99,
	Workers:           1,
	RefineIterations:  100,
}

// Validate checks the options.
func (o Options) Validate() error {
	var errs []error
	if o.Iterations <= 0 {
		errs = append(errs, fmt.Errorf("pose: iterations must be positive, got %d", o.Iterations))
	}
	if !(o.ReprojectionError > 0) {
		errs = append(errs, fmt.Errorf("pose: reprojection error must be positive, got %g", o.ReprojectionError))
	}
	if o.MinInliers < 3 {
		errs = append(errs, fmt.Errorf("pose: min inliers must be at least 3, got %d", o.MinInliers))
	}
	if o.Confidence < 0 || o.Confidence >= 1 {
		errs = append(errs, fmt.Errorf("pose: confidence must be in [0, 1), got %g", o.Confidence))
	}
	if o.Workers < 0 {
		errs = append(errs, fmt.Errorf("pose: workers must not be negative, got %d", o.Workers))
	}
	if o.RefineIterations < 0 {
		errs = append(errs, fmt.Errorf("pose: refine iterations must not be negative, got %d", o.RefineIterations))
	}
	return errors.Join(errs...)
}

// Estimate is the outcome of Solve. On failure the inlier statistics of the
// best hypothesis are still filled in.
type Estimate struct {
	// Rotation and Translation map world to camera coordinates.
	Rotation    quat.Number
	Translation [3]float64
	// Center is the camera centre in world coordinates.
	Center [3]float64
	// Inliers are the indices of the inlier correspondences, ascending.
	Inliers     []int
	NumInliers  int
	InlierRatio float64
	// Iterations is the number of RANSAC samples drawn.
	Iterations int
}

// Pose returns the estimate as a transform.
func (e Estimate) Pose() Pose { return FromQuaternion(e.Rotation, e.Translation) }

// Solver estimates camera poses. It is safe for concurrent use.
type Solver struct {
	opts Options

	mu   sync.Mutex
	rand Source
}

// NewSolver creates a solver.
func NewSolver(optFns ...func(o *Options)) *Solver {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	src := opts.Rand
	if src == nil {
		src = rand.New(rand.NewSource(1))
	}
	return &Solver{opts: opts, rand: src}
}

// Options returns the solver configuration.
func (s *Solver) Options() Options { return s.opts }

// hypothesis is the best pose found by one worker.
type hypothesis struct {
	pose    Pose
	inliers []int
	meanErr float64
	valid   bool
}

func (h hypothesis) better(o hypothesis) bool {
	if !o.valid {
		return h.valid
	}
	if len(h.inliers) != len(o.inliers) {
		return len(h.inliers) > len(o.inliers)
	}
	return h.meanErr < o.meanErr
}

// Solve estimates the world→camera pose from index-aligned world points and
// pixel keypoints.
func (s *Solver) Solve(ctx context.Context, points [][3]float64, keypoints [][2]float64, cam Camera) (Estimate, error) {
	if len(points) != len(keypoints) {
		return Estimate{}, &ErrLengthMismatch{Points: len(points), Keypoints: len(keypoints)}
	}
	n := len(points)
	if n < MinCorrespondences {
		return Estimate{}, fmt.Errorf("%w: got %d, need %d", ErrInsufficientCorrespondences, n, MinCorrespondences)
	}

	bearings := make([][3]float64, n)
	for i, kp := range keypoints {
		bearings[i] = cam.Bearing(kp)
	}
	sc := scorer{points: points, keypoints: keypoints, cam: cam, thr2: s.opts.ReprojectionError * s.opts.ReprojectionError}

	workers := max(1, min(s.opts.Workers, s.opts.Iterations))
	seeds := s.seeds(workers)

	results := make([]hypothesis, workers)
	iterations := make([]int, workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := range workers {
		budget := s.opts.Iterations / workers
		if w < s.opts.Iterations%workers {
			budget++
		}
		g.Go(func() error {
			h, it, err := s.search(gctx, rand.New(rand.NewSource(seeds[w])), sc, bearings, budget, workers)
			results[w] = h
			iterations[w] = it
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Estimate{}, err
	}

	// Workers are compared in index order so ties go to the lower index.
	var best hypothesis
	est := Estimate{}
	for w, h := range results {
		est.Iterations += iterations[w]
		if h.better(best) {
			best = h
		}
	}

	fill := func(h hypothesis) {
		est.Inliers = h.inliers
		est.NumInliers = len(h.inliers)
		est.InlierRatio = float64(len(h.inliers)) / float64(n)
	}
	fill(best)

	if !best.valid || len(best.inliers) < s.opts.MinInliers {
		return est, fmt.Errorf("%w: got %d, need %d", ErrTooFewInliers, est.NumInliers, s.opts.MinInliers)
	}

	final := best
	if s.opts.RefineIterations > 0 {
		in := make([][3]float64, len(best.inliers))
		kp := make([][2]float64, len(best.inliers))
		for i, idx := range best.inliers {
			in[i] = points[idx]
			kp[i] = keypoints[idx]
		}
		refined, err := Refine(ctx, best.pose, in, kp, cam, s.opts.RefineIterations)
		if err != nil {
			return est, err
		}
		inliers, meanErr := sc.score(refined)
		if len(inliers) >= len(best.inliers) {
			final = hypothesis{pose: refined, inliers: inliers, meanErr: meanErr, valid: true}
		}
	}

	fill(final)
	est.Rotation = final.pose.Quaternion()
	est.Translation = final.pose.T
	est.Center = final.pose.Center()
	return est, nil
}

func (s *Solver) seeds(workers int) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	seeds := make([]int64, workers)
	for i := range seeds {
		seeds[i] = int64(s.rand.Intn(math.MaxInt32))
	}
	return seeds
}

// search runs one worker's share of RANSAC.
func (s *Solver) search(ctx context.Context, rng *rand.Rand, sc scorer, bearings [][3]float64, budget, workers int) (hypothesis, int, error) {
	var (
		best hypothesis
		need = budget
		n    = len(sc.points)
		done int
	)

	for done < need {
		if done%64 == 0 {
			if err := ctx.Err(); err != nil {
				return best, done, err
			}
		}
		done++

		i, j, k := sample3(rng, n)
		pts := [3][3]float64{sc.points[i], sc.points[j], sc.points[k]}
		brs := [3][3]float64{bearings[i], bearings[j], bearings[k]}
		for _, p := range P3P(pts, brs) {
			inliers, meanErr := sc.score(p)
			h := hypothesis{pose: p, inliers: inliers, meanErr: meanErr, valid: true}
			if !h.better(best) {
				continue
			}
			best = h
			if s.opts.Confidence > 0 {
				need = min(budget, adaptiveIterations(float64(len(inliers))/float64(n), s.opts.Confidence, workers))
			}
		}
	}
	return best, done, nil
}

// adaptiveIterations is the per-worker number of samples needed to draw an
// all-inlier sample with the given confidence.
func adaptiveIterations(ratio, confidence float64, workers int) int {
	if ratio >= 1 {
		return 1
	}
	p := math.Pow(ratio, 3)
	if p <= 0 {
		return math.MaxInt
	}
	total := math.Ceil(math.Log(1-confidence) / math.Log(1-p))
	if total >= math.MaxInt32 {
		return math.MaxInt
	}
	return max(1, int(math.Ceil(total/float64(workers))))
}

// sample3 draws three distinct indices below n.
func sample3(rng *rand.Rand, n int) (int, int, int) {
	i := rng.Intn(n)
	j := rng.Intn(n - 1)
	if j >= i {
		j++
	}
	lo, hi := min(i, j), max(i, j)
	k := rng.Intn(n - 2)
	if k >= lo {
		k++
	}
	if k >= hi {
		k++
	}
	return i, j, k
}

type scorer struct {
	points    [][3]float64
	keypoints [][2]float64
	cam       Camera
	thr2      float64
}

// score returns the correspondences whose reprojection error is below the
// threshold with positive depth, and their mean error.
func (sc scorer) score(p Pose) ([]int, float64) {
	var (
		inliers []int
		sum     float64
	)
	for i, xw := range sc.points {
		px, ok := sc.cam.Project(p.Apply(xw))
		if !ok {
			continue
		}
		dx := px[0] - sc.keypoints[i][0]
		dy := px[1] - sc.keypoints[i][1]
		if e2 := dx*dx + dy*dy; e2 < sc.thr2 {
			inliers = append(inliers, i)
			sum += math.Sqrt(e2)
		}
	}
	if len(inliers) == 0 {
		return nil, math.Inf(1)
	}
	return inliers, sum / float64(len(inliers))
}
