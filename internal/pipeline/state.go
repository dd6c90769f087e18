package pipeline

import "time"

// State is a step of the verification state machine.
type State string

const (
	StateIssueChallenge     State = "ISSUE_CHALLENGE"
	StateAwaitPhysicalProof State = "AWAIT_PHYSICAL_PROOF"
	StateScoreFace          State = "SCORE_FACE"
	StateMatchEmotion       State = "MATCH_EMOTION"
	StateDecide             State = "DECIDE"
	StateGranted            State = "GRANTED"
	StateDenied             State = "DENIED"
)

// Terminal reports whether s ends an attempt.
func (s State) Terminal() bool { return s == StateGranted || s == StateDenied }

// Step records entry into a state.
type Step struct {
	State State
	At    time.Time
}
