package domain

import "proof-of-life-gate/internal/biometric"

// Outcome is the final verdict of an attempt.
type Outcome string

const (
	Granted Outcome = "GRANTED"
	Denied  Outcome = "DENIED"
)

// Denial reasons, in precedence order.
const (
	ReasonPhysicalFailed        = "physical challenge failed"
	ReasonNoFace                = "NO_FACE"
	ReasonClassifierUnavailable = "face classifier unavailable"
	ReasonFake                  = "FAKE"
	ReasonEmotionMismatch       = "emotion mismatch"
)

// Input is the evidence gathered by one attempt.
type Input struct {
	PhysicalSatisfied bool
	Face              biometric.Label
	Confidence        float64
	EmotionRequired   string
	EmotionObserved   string
	EmotionMatched    bool
}

// Decision is the verdict and, when denied, why.
type Decision struct {
	Outcome Outcome
	Reason  string
}

// Granted reports whether access was granted.
func (d Decision) Granted() bool { return d.Outcome == Granted }

// Grant returns a GRANTED decision.
func Grant() Decision { return Decision{Outcome: Granted} }

// Deny returns a DENIED decision with reason.
func Deny(reason string) Decision { return Decision{Outcome: Denied, Reason: reason} }
