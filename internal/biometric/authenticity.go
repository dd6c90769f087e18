// Package biometric scores the proof frame: whether the face is a live
// human face and which emotion it shows.
package biometric

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
)

// Label is the outcome of face authenticity scoring.
type Label string

const (
	LabelReal   Label = "REAL"
	LabelFake   Label = "FAKE"
	LabelNoFace Label = "NO_FACE"
	LabelError  Label = "ERROR"
)

// DefaultThreshold is the minimum score for REAL.
const DefaultThreshold = 0.85

var (
	// ErrNoFace is returned by a classifier when the frame contains no face.
	ErrNoFace = errors.New("biometric: no face detected")
	// ErrClassifierUnavailable is returned when the model cannot be reached or fails.
	ErrClassifierUnavailable = errors.New("biometric: classifier unavailable")
	// ErrInvalidThreshold is returned for thresholds outside [0, 1].
	ErrInvalidThreshold = errors.New("biometric: threshold must be within [0, 1]")
)

// ThresholdPolicy maps a realness score to REAL or FAKE.
type ThresholdPolicy struct {
	Threshold float64
}

// NewThresholdPolicy validates threshold.
func NewThresholdPolicy(threshold float64) (ThresholdPolicy, error) {
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		return ThresholdPolicy{}, fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}
	return ThresholdPolicy{Threshold: threshold}, nil
}

// Classify returns REAL iff score >= Threshold.
func (p ThresholdPolicy) Classify(score float64) Label {
	if score >= p.Threshold {
		return LabelReal
	}
	return LabelFake
}

// AuthenticityClassifier scores how likely img shows a real, live face. Scores are in [0, 1].
type AuthenticityClassifier interface {
	Score(ctx context.Context, img image.Image) (float64, error)
}

// Assessment is the face authenticity result for one frame.
type Assessment struct {
	Label      Label
	Confidence float64
	Err        error
}

// Assess scores img and maps the outcome to a label. It returns when ctx is done even if the
// classifier does not honour cancellation; the classifier's late result is discarded.
func Assess(ctx context.Context, classifier AuthenticityClassifier, policy ThresholdPolicy, img image.Image) Assessment {
	if classifier == nil {
		return Assessment{Label: LabelError, Err: ErrClassifierUnavailable}
	}
	type scored struct {
		score float64
		err   error
	}
	done := make(chan scored, 1)
	go func() {
		s, err := classifier.Score(ctx, img)
		done <- scored{score: s, err: err}
	}()

	var r scored
	select {
	case r = <-done:
	case <-ctx.Done():
		return Assessment{Label: LabelError, Err: fmt.Errorf("%w: %v", ErrClassifierUnavailable, ctx.Err())}
	}

	switch {
	case errors.Is(r.err, ErrNoFace):
		return Assessment{Label: LabelNoFace, Err: r.err}
	case r.err != nil:
		if !errors.Is(r.err, ErrClassifierUnavailable) {
			r.err = fmt.Errorf("%w: %v", ErrClassifierUnavailable, r.err)
		}
		return Assessment{Label: LabelError, Err: r.err}
	case r.score < 0 || r.score > 1 || math.IsNaN(r.score):
		return Assessment{Label: LabelError, Err: fmt.Errorf("%w: score %v out of range", ErrClassifierUnavailable, r.score)}
	}
	return Assessment{Label: policy.Classify(r.score), Confidence: r.score}
}
