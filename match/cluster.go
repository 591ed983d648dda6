package match

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/hloc/covis"
	"github.com/hupe1980/hloc/mapdb"
	"golang.org/x/sync/errgroup"
)

// PointSource resolves database images and 3D points. *mapdb.Database
// satisfies it.
type PointSource interface {
	Image(id mapdb.ImageID) (*mapdb.Image, bool)
	Point(id mapdb.PointID) (*mapdb.Point3D, bool)
}

// Query is the input of ClusterMatcher.Match.
type Query struct {
	Features mapdb.LocalFeatures

	// Self is the query's own database id in verification mode, 0 otherwise.
	// That image and its augmented copy are never matched.
	Self mapdb.ImageID

	// GroundTruth optionally holds the true point id of every query keypoint
	// and enables correct/incorrect match accounting.
	GroundTruth []mapdb.PointID
}

// Result holds the 2D-3D correspondences of one query.
type Result struct {
	Points    [][3]float64
	Keypoints [][2]float64
	PointIDs  []mapdb.PointID

	// Correct and Incorrect count matches whose query keypoint has a known
	// ground-truth point.
	Correct, Incorrect int
	// MatchedImages counts images whose features entered matching.
	MatchedImages int
	// SkippedImages counts cluster images without usable features.
	SkippedImages int
}

// Len returns the number of correspondences.
func (r Result) Len() int { return len(r.PointIDs) }

// CorrectRate returns Correct / (Correct + Incorrect), or 0 without
// ground truth.
func (r Result) CorrectRate() float64 {
	if n := r.Correct + r.Incorrect; n > 0 {
		return float64(r.Correct) / float64(n)
	}
	return 0
}

// ClusterMatcherOptions configures a ClusterMatcher.
type ClusterMatcherOptions struct {
	// Prefetch is the number of images whose features are loaded
	// concurrently.
	Prefetch int
}

// DefaultClusterMatcherOptions contains the default options.
var DefaultClusterMatcherOptions = ClusterMatcherOptions{Prefetch: 4}

// ClusterMatcher matches a query against the images of its clusters.
type ClusterMatcher struct {
	matcher  *Matcher
	features mapdb.FeatureSource
	points   PointSource
	opts     ClusterMatcherOptions
}

// NewClusterMatcher creates a ClusterMatcher.
func NewClusterMatcher(features mapdb.FeatureSource, points PointSource, s Strategy, optFns ...func(o *ClusterMatcherOptions)) (*ClusterMatcher, error) {
	m, err := NewMatcher(s)
	if err != nil {
		return nil, err
	}
	opts := DefaultClusterMatcherOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	return &ClusterMatcher{matcher: m, features: features, points: points, opts: opts}, nil
}

// candidates are the 3D-point-bearing descriptors of one image.
type candidates struct {
	descriptors [][]float32
	pointIDs    []mapdb.PointID
}

// Match collects correspondences for q over every member of every cluster.
// Each image is used once even if several clusters contain it. When nothing
// survives, the returned Result carries the statistics and the error is
// ErrNoMatches.
func (cm *ClusterMatcher) Match(ctx context.Context, q Query, clusters []covis.Cluster) (Result, error) {
	if err := q.Features.Validate(); err != nil {
		return Result{}, fmt.Errorf("match: query features: %w", err)
	}

	var (
		res     Result
		members []mapdb.ImageID
		seen    = make(map[mapdb.ImageID]struct{})
	)
	for _, c := range clusters {
		for _, id := range c.Members() {
			if q.Self != 0 && id.Abs() == q.Self.Abs() {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			members = append(members, id)
		}
	}

	loaded, err := cm.load(ctx, members)
	if err != nil {
		return res, err
	}

	var pool candidates
	for _, c := range loaded {
		if c == nil {
			res.SkippedImages++
			continue
		}
		res.MatchedImages++

		if cm.matcher.strategy.Refilter {
			pool.descriptors = append(pool.descriptors, c.descriptors...)
			pool.pointIDs = append(pool.pointIDs, c.pointIDs...)
			continue
		}
		if err := cm.collect(ctx, q, c, &res); err != nil {
			return res, err
		}
	}

	if cm.matcher.strategy.Refilter {
		if err := cm.collect(ctx, q, &pool, &res); err != nil {
			return res, err
		}
	}

	if res.Len() == 0 {
		return res, ErrNoMatches
	}
	return res, nil
}

// load fetches the candidates of every member concurrently. Entries are nil
// for images without usable features.
func (cm *ClusterMatcher) load(ctx context.Context, members []mapdb.ImageID) ([]*candidates, error) {
	out := make([]*candidates, len(members))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cm.opts.Prefetch)
	for i, id := range members {
		g.Go(func() error {
			img, ok := cm.points.Image(id)
			if !ok {
				return nil
			}
			f, err := cm.features.LocalFeatures(gctx, id)
			if err != nil {
				if errors.Is(err, mapdb.ErrNoFeatures) {
					return nil
				}
				return err
			}

			c := &candidates{}
			n := min(f.Len(), len(img.PointIDs))
			for j := range n {
				if pid := img.PointIDs[j]; pid.Valid() {
					c.descriptors = append(c.descriptors, f.Descriptors[j])
					c.pointIDs = append(c.pointIDs, pid)
				}
			}
			if len(c.descriptors) > 0 {
				out[i] = c
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// collect matches q against c. Descriptors of the same 3D point form one
// ratio-test group, so a point seen from several pooled images is not
// ambiguous with itself.
func (cm *ClusterMatcher) collect(ctx context.Context, q Query, c *candidates, res *Result) error {
	groups := make([]int64, len(c.pointIDs))
	for i, pid := range c.pointIDs {
		groups[i] = int64(pid)
	}
	pairs, err := cm.matcher.MatchGroups(ctx, q.Features.Descriptors, c.descriptors, groups)
	if err != nil {
		return err
	}

	for _, p := range pairs {
		pid := c.pointIDs[p.Train]
		pt, ok := cm.points.Point(pid)
		if !ok {
			continue
		}

		res.Points = append(res.Points, pt.XYZ)
		res.Keypoints = append(res.Keypoints, q.Features.Keypoints[p.Query])
		res.PointIDs = append(res.PointIDs, pid)

		if p.Query < len(q.GroundTruth) && q.GroundTruth[p.Query].Valid() {
			if q.GroundTruth[p.Query] == pid {
				res.Correct++
			} else {
				res.Incorrect++
			}
		}
	}
	return nil
}
