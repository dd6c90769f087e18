package domain

import "time"

// Attempt is one recorded verification attempt. The proof token itself is never
// stored; ProofTokenHash is its SHA-256 so a presented token can be looked up.
type Attempt struct {
	ID              string
	Decision        string
	DenialReason    string
	Label           string
	Confidence      float64
	TargetColor     string
	TargetEmotion   string
	ObservedEmotion string
	Fallback        bool
	ProofTokenHash  string
	Narrative       string
	CreatedAt       time.Time
}

// Granted reports whether the attempt was granted.
func (a *Attempt) Granted() bool { return a != nil && a.Decision == "GRANTED" }
