// Package evaluation scores localization results against ground truth poses
// and renders the verification report.
//
// Accuracy is reported in the tiers of the long-term visual localization
// benchmark (high, medium, coarse), with separate thresholds for day and
// night queries. Queries that failed to localize or landed far from their
// ground truth are assigned exactly one failure Cause.
package evaluation
