package evaluation

import (
	"fmt"
	"math"
	"time"
)

// Failure cause bounds.
const (
	FewInliers     = 12
	LowInlierRatio = 0.10
)

// Record is the verification outcome of one query.
type Record struct {
	Name  string `json:"name"`
	Night bool   `json:"night"`

	// Localized is false when no pose was produced. The errors are then
	// undefined.
	Localized        bool    `json:"localized"`
	TranslationError float64 `json:"translation_error"`
	RotationError    float64 `json:"rotation_error"`

	Correspondences int     `json:"correspondences"`
	NumInliers      int     `json:"inliers"`
	InlierRatio     float64 `json:"inlier_ratio"`

	// CorrectMatches and IncorrectMatches count correspondences whose
	// ground-truth point is known.
	CorrectMatches   int `json:"correct_matches"`
	IncorrectMatches int `json:"incorrect_matches"`

	// NeighborMatch is, per retrieved neighbor, the percentage of 3D points
	// the neighbor shares with the query.
	NeighborMatch []float64 `json:"neighbor_match"`

	Duration time.Duration `json:"duration"`
}

// Failed reports whether the query did not localize or is wrongly localized
// (translation above 5 m or rotation above 10°).
func (r Record) Failed() bool {
	return !r.Localized || !(r.TranslationError <= WrongTranslation && r.RotationError <= WrongRotation)
}

// Fine reports whether the query is within 0.5 m and 2°.
func (r Record) Fine() bool {
	return r.Localized && r.TranslationError < FineTranslation && r.RotationError < FineRotation
}

// NeighborsWithMatch counts neighbors sharing at least one 3D point with the
// query.
func (r Record) NeighborsWithMatch() int {
	var n int
	for _, m := range r.NeighborMatch {
		if m > 0 {
			n++
		}
	}
	return n
}

// GoodNeighbors reports whether any neighbor shares a 3D point with the
// query.
func (r Record) GoodNeighbors() bool { return r.NeighborsWithMatch() > 0 }

// CorrectMatchRate returns the percentage of correct matches among the
// matches with known ground truth, or NaN when there are none.
func (r Record) CorrectMatchRate() float64 {
	n := r.CorrectMatches + r.IncorrectMatches
	if n == 0 {
		return math.NaN()
	}
	return 100 * float64(r.CorrectMatches) / float64(n)
}

// Cause explains a failed query.
type Cause int

const (
	// CauseNone is reported for queries that did not fail.
	CauseNone Cause = iota
	// CauseBadNeighbors means no neighbor shares a 3D point with the query.
	CauseBadNeighbors
	// CauseFewInliers means fewer than 12 inliers.
	CauseFewInliers
	// CauseLowInlierRatio means an inlier ratio below 10 %.
	CauseLowInlierRatio
	// CauseOther covers every remaining failure.
	CauseOther
)

// Causes lists the failure causes in priority order.
var Causes = []Cause{CauseBadNeighbors, CauseFewInliers, CauseLowInlierRatio, CauseOther}

func (c Cause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseBadNeighbors:
		return "bad neighbors"
	case CauseFewInliers:
		return fmt.Sprintf("few inliers (<%d)", FewInliers)
	case CauseLowInlierRatio:
		return fmt.Sprintf("low inlier rate (<%.0f%%)", 100*LowInlierRatio)
	case CauseOther:
		return "other"
	default:
		return fmt.Sprintf("Cause(%d)", int(c))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Cause) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Cause returns the first matching failure cause in priority order, or
// CauseNone for a query that did not fail.
func (r Record) Cause() Cause {
	switch {
	case !r.Failed():
		return CauseNone
	case !r.GoodNeighbors():
		return CauseBadNeighbors
	case r.NumInliers < FewInliers:
		return CauseFewInliers
	case r.InlierRatio < LowInlierRatio:
		return CauseLowInlierRatio
	default:
		return CauseOther
	}
}
