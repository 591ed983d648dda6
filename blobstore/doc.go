// Package blobstore provides the storage abstraction for map data.
//
// A map is a flat namespace of immutable blobs:
//
//	map.json                 manifest
//	global.bin               global descriptor matrix
//	features/<image id>.bin  local features per database image
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, reads through mmap
//   - MemoryStore: in-memory, for tests and small maps
//   - s3.Store: Amazon S3 with range reads and managed uploads
//   - minio.Store: MinIO and other S3-compatible storage
package blobstore
