// Package index provides the nearest neighbor index interface used for global
// image retrieval, together with three implementations:
//
//   - flat: exact search over all database descriptors
//   - hnsw: approximate search over a Hierarchical Navigable Small World graph
//   - lsh: random hyperplane hashing into 2^b buckets with multi-probe lookup
//
// # Index Selection
//
//   - flat: deterministic, O(N·D) per query, 100% recall
//   - hnsw: sub-linear query time, high but not guaranteed recall
//   - lsh: fewer bits give bigger buckets (slower, more accurate), more bits give
//     smaller buckets
//
// Every index is built once over the database descriptors and is safe for
// concurrent Search calls afterwards.
package index
