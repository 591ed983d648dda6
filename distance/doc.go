// Package distance provides the float32 vector kernels used by retrieval and
// local feature matching.
//
// # Supported Metrics
//
//   - MetricL2: Squared Euclidean distance (default)
//   - MetricCosine: Cosine distance, 1 - cos(a, b)
//
// # Usage
//
//	d := distance.SquaredL2(a, b)
//	sim := distance.Dot(a, b)
//	unit, ok := distance.NormalizeL2Copy(vec)
package distance
