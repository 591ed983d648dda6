package pose

import (
	"errors"
	"fmt"
)

// ErrLocalizationFailed is wrapped by every error that means the query could
// not be localized.
var ErrLocalizationFailed = errors.New("localization failed")

var (
	// ErrInsufficientCorrespondences is returned for fewer than five
	// correspondences.
	ErrInsufficientCorrespondences = fmt.Errorf("%w: insufficient correspondences", ErrLocalizationFailed)
	// ErrTooFewInliers is returned when the best hypothesis has fewer than
	// Options.MinInliers inliers.
	ErrTooFewInliers = fmt.Errorf("%w: too few inliers", ErrLocalizationFailed)
	// ErrRefinementDiverged is returned when non-linear refinement produces a
	// non-finite pose.
	ErrRefinementDiverged = fmt.Errorf("%w: refinement diverged", ErrLocalizationFailed)
)

// ErrLengthMismatch indicates points and keypoints of different lengths.
type ErrLengthMismatch struct {
	Points    int
	Keypoints int
}

func (e *ErrLengthMismatch) Error() string {
	return fmt.Sprintf("pose: %d points but %d keypoints", e.Points, e.Keypoints)
}
