// Package testutil provides testing utilities for hloc.
//
// This package is intended for use in tests only. It provides helpers for
// generating random descriptors, computing exact nearest neighbors, verifying
// search recall and building synthetic camera scenes.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	vecs := rng.GaussianVectors(100, 128)
//	blobs, labels := rng.GaussianBlobs(1000, 64, 10, 0.05)
//
// # Exact Search (Ground Truth)
//
//	truth := testutil.BruteForceSearch(vectors, query, k)
//
// # Recall Verification
//
//	recall := testutil.ComputeRecall(truth, approx)
//
// # Synthetic Scenes
//
//	scene := rng.Scene(SceneOptions{Points: 50})
//	// scene.Points[i] projects to scene.Keypoints[i] under scene.R, scene.T, scene.K
package testutil
