package vision

import (
	"time"

	"proof-of-life-gate/internal/challenge/domain"
)

// DefaultHoldDuration is how long the colour must stay continuously visible.
const DefaultHoldDuration = 2 * time.Second

// HoldState tracks continuous presence of the target colour across frames.
// StartInstant is nil whenever the colour was missing from the latest frame.
// Once Satisfied is set the state no longer changes.
type HoldState struct {
	TargetColor  domain.Color
	StartInstant *time.Time
	Elapsed      time.Duration
	Satisfied    bool
}

// NewHoldState returns an empty state for color.
func NewHoldState(color domain.Color) *HoldState {
	return &HoldState{TargetColor: color}
}

// Observe applies one frame's detection at instant now and reports whether the hold is satisfied.
// A frame without the colour resets the timer; there is no credit for brief occlusion.
func (s *HoldState) Observe(detected bool, now time.Time, required time.Duration) bool {
	if s.Satisfied {
		return true
	}
	if !detected {
		s.StartInstant = nil
		s.Elapsed = 0
		return false
	}
	if s.StartInstant == nil {
		start := now
		s.StartInstant = &start
	}
	s.Elapsed = now.Sub(*s.StartInstant)
	if s.Elapsed < 0 {
		s.Elapsed = 0
	}
	if s.Elapsed >= required {
		s.Satisfied = true
	}
	return s.Satisfied
}
