// Package hloc estimates the 6-DoF pose of query images against a prebuilt
// 3D map using hierarchical localization.
//
// Each query is localized in four stages:
//
//  1. Global retrieval ranks the map images by global descriptor distance.
//  2. The ranked neighbors are grouped into co-visibility clusters.
//  3. Local descriptors are matched against every image of every cluster,
//     producing 2D-3D correspondences.
//  4. A P3P RANSAC estimates the pose, which is refined on the inliers.
//
// # Quick Start
//
//	ctx := context.Background()
//	store := blobstore.NewLocalStore("./map")
//	db, _, _ := hloc.OpenMap(ctx, store, cfg.Storage)
//
//	loc, _ := hloc.New(ctx, db, hloc.DefaultConfig(), hloc.WithOutput(os.Stdout))
//	defer loc.Close()
//
//	results, _ := loc.Localize(ctx, queries)
//
// Localized queries are written as one line each:
//
//	name qw qx qy qz tx ty tz
//
// where the quaternion and translation map world to camera coordinates.
//
// # Verification
//
// With Config.Verify set, the map images themselves serve as queries and
// every result carries an evaluation.Record comparing the estimate to the
// stored pose. Localizer.Report aggregates the records into accuracy tiers
// and failure causes.
//
// # Maps
//
// Maps are packed into a blob store by mapdb.Pack and opened with OpenMap.
// The blob store may be a local directory, S3 or MinIO; local features are
// decoded lazily and cached.
package hloc
