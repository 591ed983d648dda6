package hloc

import (
	"errors"
	"fmt"

	"github.com/hupe1980/hloc/match"
	"github.com/hupe1980/hloc/pose"
)

var (
	// ErrInvalidConfig is wrapped by every configuration error.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNoQueries is returned when a batch is empty.
	ErrNoQueries = errors.New("no queries")
	// ErrInvalidQuery is returned when a query's local features are malformed,
	// such as keypoints and descriptors of different lengths.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrDimensionMismatch is returned when a query descriptor does not match
	// the map's descriptor dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrNoIntrinsics is returned when neither the query nor the map provide
	// a calibration.
	ErrNoIntrinsics = errors.New("no intrinsics")
	// ErrLocalizationFailed is wrapped by every per-query failure that is not
	// an infrastructure error.
	ErrLocalizationFailed = pose.ErrLocalizationFailed
)

// ConfigError describes an invalid configuration field.
//
// errors.Is(err, ErrInvalidConfig) holds for every ConfigError.
type ConfigError struct {
	Field  string
	Reason string
	cause  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrInvalidConfig, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() []error {
	if e.cause != nil {
		return []error{ErrInvalidConfig, e.cause}
	}
	return []error{ErrInvalidConfig}
}

// QueryError attributes an error to one query of a batch.
//
// The original underlying error can be accessed via errors.Unwrap.
type QueryError struct {
	Index int
	Name  string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// FailureReason is a stable label for a per-query failure, used for metrics.
type FailureReason string

const (
	ReasonNoMatches                   FailureReason = "no_matches"
	ReasonInsufficientCorrespondences FailureReason = "insufficient_correspondences"
	ReasonTooFewInliers               FailureReason = "too_few_inliers"
	ReasonRefinementDiverged          FailureReason = "refinement_diverged"
	ReasonNoIntrinsics                FailureReason = "no_intrinsics"
	ReasonError                       FailureReason = "error"
)

// ReasonOf classifies a per-query error.
func ReasonOf(err error) FailureReason {
	switch {
	case errors.Is(err, match.ErrNoMatches):
		return ReasonNoMatches
	case errors.Is(err, pose.ErrInsufficientCorrespondences):
		return ReasonInsufficientCorrespondences
	case errors.Is(err, pose.ErrTooFewInliers):
		return ReasonTooFewInliers
	case errors.Is(err, pose.ErrRefinementDiverged):
		return ReasonRefinementDiverged
	case errors.Is(err, ErrNoIntrinsics):
		return ReasonNoIntrinsics
	default:
		return ReasonError
	}
}
