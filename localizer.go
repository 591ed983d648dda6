package hloc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/hloc/blobstore"
	"github.com/hupe1980/hloc/covis"
	"github.com/hupe1980/hloc/evaluation"
	"github.com/hupe1980/hloc/internal/workerpool"
	"github.com/hupe1980/hloc/mapdb"
	"github.com/hupe1980/hloc/match"
	"github.com/hupe1980/hloc/pose"
	"github.com/hupe1980/hloc/resource"
	"github.com/hupe1980/hloc/retrieval"
)

// Localizer estimates query poses against one map. It is safe for
// concurrent use; Close releases its workers.
type Localizer struct {
	cfg  Config
	opts options
	db   *mapdb.Database

	searcher *retrieval.Searcher
	graph    *covis.Graph
	clusters *covis.Builder
	matcher  *match.ClusterMatcher
	solver   *pose.Solver
	pool     *workerpool.Pool

	globalDim int
	localDim  int
	setup     time.Duration
}

// OpenMap loads a packed map from store, serving local features through a
// cached DescriptorStore bounded by cfg.
func OpenMap(ctx context.Context, store blobstore.BlobStore, cfg StorageConfig) (*mapdb.Database, mapdb.Manifest, error) {
	rc := resource.NewController(cfg.Resources)
	return mapdb.Open(ctx, store, func(o *mapdb.DescriptorStoreOptions) {
		o.CacheBytes = cfg.CacheBytes
		o.Resources = rc
	})
}

// New validates cfg and builds the retrieval index and co-visibility graph
// over db.
func New(ctx context.Context, db *mapdb.Database, cfg Config, optFns ...Option) (*Localizer, error) {
	start := time.Now()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := applyOptions(optFns)

	ids, vecs := db.GlobalDescriptors()
	if !cfg.Augmentation {
		ids, vecs = withoutAugmented(ids, vecs)
	}
	if len(ids) == 0 {
		return nil, &ConfigError{Field: "map", Reason: "no global descriptors"}
	}

	searcher, err := retrieval.New(ctx, ids, vecs, func(o *retrieval.Options) { *o = cfg.Retrieval })
	if err != nil {
		return nil, err
	}

	matcher, err := match.NewClusterMatcher(db, db, cfg.Matching)
	if err != nil {
		return nil, err
	}

	graph := covis.Build(db, db)
	workers := cfg.Workers
	if opts.workers > 0 {
		workers = opts.workers
	}

	l := &Localizer{
		cfg:      cfg,
		opts:     opts,
		db:       db,
		searcher: searcher,
		graph:    graph,
		clusters: covis.NewBuilder(graph, func(o *covis.Options) { *o = cfg.Clustering }),
		matcher:  matcher,
		solver: pose.NewSolver(func(o *pose.Options) {
			*o = cfg.Pose
			if opts.rand != nil {
				o.Rand = opts.rand
			}
		}),
		pool:      workerpool.New(workers),
		globalDim: len(vecs[0]),
		localDim:  detectLocalDim(ctx, db),
	}
	l.setup = time.Since(start)
	opts.logger.WithK(cfg.Retrieval.K).LogSetup(ctx, db.NumImages(), db.NumPoints(), len(ids), l.setup)
	return l, nil
}

func withoutAugmented(ids []mapdb.ImageID, vecs [][]float32) ([]mapdb.ImageID, [][]float32) {
	outIDs := make([]mapdb.ImageID, 0, len(ids))
	outVecs := make([][]float32, 0, len(vecs))
	for i, id := range ids {
		if id > 0 {
			outIDs = append(outIDs, id)
			outVecs = append(outVecs, vecs[i])
		}
	}
	return outIDs, outVecs
}

// Close stops the worker pool.
func (l *Localizer) Close() error {
	l.pool.Close()
	return nil
}

// Config returns the configuration.
func (l *Localizer) Config() Config { return l.cfg }

// SetupTime returns the time New spent building indexes.
func (l *Localizer) SetupTime() time.Duration { return l.setup }

// Localize runs a batch. Global retrieval runs for the whole batch first,
// then every query is matched and solved on the worker pool. Results are
// index-aligned with queries. A query that fails to localize is recorded in
// its Result and never aborts the batch; the returned error is reserved for
// invalid input, cancellation and output errors.
func (l *Localizer) Localize(ctx context.Context, queries []Query) ([]Result, error) {
	if len(queries) == 0 {
		return nil, ErrNoQueries
	}
	start := time.Now()

	globals := make([][]float32, len(queries))
	self := make([]mapdb.ImageID, len(queries))
	for i, q := range queries {
		if len(q.Global) != l.globalDim {
			return nil, &QueryError{Index: i, Name: q.Name, Err: fmt.Errorf("%w: global descriptor has %d dimensions, map has %d", ErrDimensionMismatch, len(q.Global), l.globalDim)}
		}
		if err := q.Local.Validate(); err != nil {
			return nil, &QueryError{Index: i, Name: q.Name, Err: fmt.Errorf("%w: %w", ErrInvalidQuery, err)}
		}
		if d := q.Local.Dim(); d > 0 && l.localDim > 0 && d != l.localDim {
			return nil, &QueryError{Index: i, Name: q.Name, Err: fmt.Errorf("%w: local descriptors have %d dimensions, map has %d", ErrDimensionMismatch, d, l.localDim)}
		}
		globals[i] = q.Global
		self[i] = q.Self
	}

	neighbors, err := l.searcher.Search(ctx, globals, l.cfg.Retrieval.K, self)
	if err != nil {
		return nil, fmt.Errorf("hloc: global search: %w", err)
	}
	retrievalTime := time.Since(start)
	l.opts.metricsCollector.RecordStage(StageRetrieval, retrievalTime)
	perQuery := retrievalTime / time.Duration(len(queries))

	var rw *ResultWriter
	if l.opts.output != nil {
		rw = NewResultWriter(l.opts.output)
	}

	results := make([]Result, len(queries))
	err = l.pool.ForEach(ctx, len(queries), func(i int) {
		r := l.localizeOne(ctx, i, queries[i], neighbors[i])
		r.Stages.Retrieval = perQuery
		results[i] = r
		if rw != nil {
			rw.Add(r)
		}
	})
	if err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}

	var failed int
	for _, r := range results {
		if !r.Localized() {
			failed++
		}
	}
	l.opts.logger.LogBatch(ctx, len(results), failed, time.Since(start))

	if rw != nil {
		if err := rw.Err(); err != nil {
			return results, err
		}
	}
	return results, nil
}

// detectLocalDim reads the local descriptor dimension of the map from the
// first image with features. 0 means unknown.
func detectLocalDim(ctx context.Context, db *mapdb.Database) int {
	for _, img := range db.Images() {
		f, err := db.LocalFeatures(ctx, img.ID)
		if err == nil && f.Dim() > 0 {
			return f.Dim()
		}
	}
	return 0
}

func (l *Localizer) localizeOne(ctx context.Context, i int, q Query, neighbors []retrieval.Neighbor) (r Result) {
	start := time.Now()
	log := l.opts.logger.WithQuery(i, q.Name)
	r = Result{Index: i, Name: q.Name, Neighbors: neighbors}

	defer func() {
		r.Duration = time.Since(start)
		if q.GroundTruth != nil && q.GroundTruth.HasPose {
			r.Record = l.record(q, r)
		}
		l.opts.metricsCollector.RecordQuery(r.Duration, r.Err)
		if r.Err != nil {
			l.opts.metricsCollector.RecordFailure(ReasonOf(r.Err))
		}
		log.LogQuery(ctx, r)
	}()

	if err := ctx.Err(); err != nil {
		r.Err = err
		return r
	}

	t := time.Now()
	ranked := make([]mapdb.ImageID, len(neighbors))
	for j, n := range neighbors {
		ranked[j] = n.ImageID
	}
	clusters := l.clusters.Build(ranked)
	r.Clusters = len(clusters)
	r.Stages.Clustering = time.Since(t)
	l.opts.metricsCollector.RecordStage(StageClustering, r.Stages.Clustering)

	t = time.Now()
	mq := match.Query{Features: q.Local, Self: q.Self}
	if q.GroundTruth != nil {
		mq.GroundTruth = q.GroundTruth.PointIDs
	}
	matches, err := l.matcher.Match(ctx, mq, clusters)
	r.Matches = matches
	r.Stages.Matching = time.Since(t)
	l.opts.metricsCollector.RecordStage(StageMatching, r.Stages.Matching)
	if err != nil {
		if errors.Is(err, match.ErrNoMatches) {
			err = fmt.Errorf("%w: %w", ErrLocalizationFailed, err)
		}
		r.Err = err
		return r
	}

	cam, fallback, err := l.camera(q)
	if err != nil {
		r.Err = err
		return r
	}
	if fallback {
		r.IntrinsicsFallback = true
		log.WarnContext(ctx, "camera intrinsics unknown, using median map intrinsics")
	}

	t = time.Now()
	est, err := l.solver.Solve(ctx, matches.Points, matches.Keypoints, cam)
	r.Estimate = est
	r.Stages.Pose = time.Since(t)
	l.opts.metricsCollector.RecordStage(StagePose, r.Stages.Pose)
	r.Err = err
	return r
}

// camera resolves the query calibration: explicit, then by name in the map,
// then the median map calibration.
func (l *Localizer) camera(q Query) (pose.Camera, bool, error) {
	if q.Intrinsics != nil {
		return pose.NewCamera(*q.Intrinsics), false, nil
	}
	if in, ok := l.db.Intrinsics(q.Name); ok {
		return pose.NewCamera(in), false, nil
	}
	if in, ok := l.db.MedianIntrinsics(); ok {
		return pose.NewCamera(in), true, nil
	}
	return pose.Camera{}, false, fmt.Errorf("%w for %s", ErrNoIntrinsics, q.Name)
}

func (l *Localizer) record(q Query, r Result) *evaluation.Record {
	rec := &evaluation.Record{
		Name:             q.Name,
		Night:            q.Night,
		Localized:        r.Localized(),
		Correspondences:  r.Matches.Len(),
		NumInliers:       r.Estimate.NumInliers,
		InlierRatio:      r.Estimate.InlierRatio,
		CorrectMatches:   r.Matches.Correct,
		IncorrectMatches: r.Matches.Incorrect,
		Duration:         r.Duration,
	}
	rec.NeighborMatch = make([]float64, len(r.Neighbors))
	for j, n := range r.Neighbors {
		if q.Self != 0 {
			rec.NeighborMatch[j] = 100 * l.graph.SharedPoints(q.Self, n.ImageID)
		} else {
			rec.NeighborMatch[j] = 100 * l.graph.PointOverlap(q.GroundTruth.PointIDs, n.ImageID)
		}
	}

	if rec.Localized {
		gt := q.GroundTruth
		truth := pose.FromQuaternion(gt.Rotation, gt.Translation)
		rec.TranslationError = evaluation.TranslationError(r.Estimate.Center, truth.Center())
		rec.RotationError = evaluation.RotationError(gt.Rotation, r.Estimate.Rotation)
	}
	return rec
}

// Report aggregates the verification records of results.
func (l *Localizer) Report(results []Result) *evaluation.Report {
	records := make([]evaluation.Record, 0, len(results))
	for _, r := range results {
		if r.Record != nil {
			records = append(records, *r.Record)
		}
	}
	return evaluation.NewReport(records, l.setup)
}
