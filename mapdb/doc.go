// Package mapdb holds the pre-built 3D map: database images with their
// ground-truth poses and keypoint-to-point associations, the 3D point table
// with co-visibility tracks, per-image camera intrinsics, the global descriptor
// matrix and the precomputed local features.
//
// A Database is immutable after Build and safe for concurrent use. Local
// features are loaded on demand through a FeatureSource; DescriptorStore is the
// blob-backed implementation with an LRU cache in front of it.
//
// # Map layout
//
//	map.json                 Manifest
//	images.txt               COLMAP images
//	points3D.txt             COLMAP points
//	intrinsics.txt           "name SIMPLE_RADIAL w h f cx cy r" lines
//	global.bin               global descriptors (WriteGlobal)
//	features/<image id>.bin  local features (DescriptorStore.Put)
package mapdb
