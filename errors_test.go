package hloc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hupe1980/hloc/match"
	"github.com/hupe1980/hloc/pose"
	"github.com/stretchr/testify/assert"
)

func TestReasonOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureReason
	}{
		{"NoMatches", fmt.Errorf("%w: %w", ErrLocalizationFailed, match.ErrNoMatches), ReasonNoMatches},
		{"Insufficient", pose.ErrInsufficientCorrespondences, ReasonInsufficientCorrespondences},
		{"TooFewInliers", fmt.Errorf("solve: %w", pose.ErrTooFewInliers), ReasonTooFewInliers},
		{"Diverged", pose.ErrRefinementDiverged, ReasonRefinementDiverged},
		{"NoIntrinsics", ErrNoIntrinsics, ReasonNoIntrinsics},
		{"Other", errors.New("disk on fire"), ReasonError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReasonOf(tt.err))
		})
	}
}

func TestLocalizationFailuresShareSentinel(t *testing.T) {
	for _, err := range []error{
		pose.ErrInsufficientCorrespondences,
		pose.ErrTooFewInliers,
		pose.ErrRefinementDiverged,
	} {
		assert.ErrorIs(t, err, ErrLocalizationFailed)
	}
}

func TestConfigError(t *testing.T) {
	cause := errors.New("k must be positive")
	err := &ConfigError{Field: "retrieval", Reason: cause.Error(), cause: cause}

	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "invalid configuration: retrieval: k must be positive", err.Error())

	bare := &ConfigError{Field: "workers", Reason: "must not be negative"}
	assert.ErrorIs(t, bare, ErrInvalidConfig)
}

func TestQueryError(t *testing.T) {
	err := &QueryError{Index: 3, Name: "q.jpg", Err: ErrDimensionMismatch}
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, "query 3 (q.jpg): dimension mismatch", err.Error())
}
