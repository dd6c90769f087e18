package pipeline

import (
	"time"

	attemptdomain "proof-of-life-gate/internal/attempt/domain"
	"proof-of-life-gate/internal/biometric"
	challengedomain "proof-of-life-gate/internal/challenge/domain"
	decisiondomain "proof-of-life-gate/internal/decision/domain"
	"proof-of-life-gate/internal/security"
	"proof-of-life-gate/internal/vision"
)

// Result is the outcome of one attempt. It is built once at the end of RunAttempt.
// Label is empty when the face was never evaluated.
type Result struct {
	AttemptID       string
	Challenge       challengedomain.Challenge
	Hold            vision.Outcome
	HeldFor         time.Duration
	Label           biometric.Label
	Confidence      float64
	EmotionObserved string
	EmotionMatch    bool
	Decision        decisiondomain.Outcome
	DenialReason    string
	Narrative       string
	ProofToken      string
	Steps           []Step
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Granted reports whether access was granted.
func (r *Result) Granted() bool { return r != nil && r.Decision == decisiondomain.Granted }

// Visited reports whether the attempt entered state s.
func (r *Result) Visited(s State) bool {
	for _, st := range r.Steps {
		if st.State == s {
			return true
		}
	}
	return false
}

// Attempt converts r to the persisted ledger row. The proof token is stored hashed.
func (r *Result) Attempt() *attemptdomain.Attempt {
	return &attemptdomain.Attempt{
		ID:              r.AttemptID,
		Decision:        string(r.Decision),
		DenialReason:    r.DenialReason,
		Label:           string(r.Label),
		Confidence:      r.Confidence,
		TargetColor:     string(r.Challenge.TargetColor),
		TargetEmotion:   string(r.Challenge.TargetEmotion),
		ObservedEmotion: r.EmotionObserved,
		Fallback:        r.Challenge.Fallback,
		ProofTokenHash:  security.HashProofToken(r.ProofToken),
		Narrative:       r.Narrative,
		CreatedAt:       r.FinishedAt,
	}
}

// eventMetadata is the attempt_completed telemetry payload. It carries no token or image data.
type eventMetadata struct {
	Decision        string  `json:"decision"`
	DenialReason    string  `json:"denialReason,omitempty"`
	Label           string  `json:"label,omitempty"`
	Confidence      float64 `json:"confidence"`
	TargetColor     string  `json:"targetColor"`
	TargetEmotion   string  `json:"targetEmotion"`
	EmotionObserved string  `json:"emotionObserved,omitempty"`
	Fallback        bool    `json:"fallback"`
	Hold            string  `json:"hold"`
	HeldSeconds     float64 `json:"heldSeconds"`
	TokenIssued     bool    `json:"tokenIssued"`
	DurationMillis  int64   `json:"durationMs"`
}

func (r *Result) metadata() eventMetadata {
	return eventMetadata{
		Decision:        string(r.Decision),
		DenialReason:    r.DenialReason,
		Label:           string(r.Label),
		Confidence:      r.Confidence,
		TargetColor:     string(r.Challenge.TargetColor),
		TargetEmotion:   string(r.Challenge.TargetEmotion),
		EmotionObserved: r.EmotionObserved,
		Fallback:        r.Challenge.Fallback,
		Hold:            string(r.Hold),
		HeldSeconds:     r.HeldFor.Seconds(),
		TokenIssued:     r.ProofToken != "",
		DurationMillis:  r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	}
}
