package pipeline

import (
	"fmt"
	"io"
	"strings"

	challengedomain "proof-of-life-gate/internal/challenge/domain"
	decisiondomain "proof-of-life-gate/internal/decision/domain"
)

// Presenter shows progress lines to the person at the gate.
type Presenter interface {
	Show(line string)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(line string)

// Show calls f(line).
func (f PresenterFunc) Show(line string) { f(line) }

// WriterPresenter writes each line to w followed by a newline.
func WriterPresenter(w io.Writer) Presenter {
	return PresenterFunc(func(line string) { fmt.Fprintln(w, line) })
}

// Banner is printed once when a gate starts.
func Banner() []string {
	rule := strings.Repeat("=", 60)
	return []string{rule, "      [SYSTEM] PROOF OF LIFE: LOCAL AI MODE ACTIVE      ", rule}
}

// Intro is the instruction block for c.
func Intro(c challengedomain.Challenge) []string {
	return []string{
		"--- CHALLENGE ISSUED ---",
		"1. QUESTION: " + c.CognitiveQuestion,
		fmt.Sprintf("2. ACTION: Hold a %s object.", strings.ToUpper(string(c.TargetColor))),
		fmt.Sprintf("3. EMOTION: You must look %s!", strings.ToUpper(string(c.TargetEmotion))),
	}
}

// DeniedNarrative is the audit line recorded for a denied attempt.
func DeniedNarrative(reason string) string {
	return fmt.Sprintf("Verification Log: access denied (%s).", reason)
}

func denialLine(r *Result) string {
	switch r.DenialReason {
	case decisiondomain.ReasonPhysicalFailed:
		return "[ACCESS DENIED] Liveness verification failed (Color check)."
	case decisiondomain.ReasonEmotionMismatch:
		return fmt.Sprintf("[ACCESS DENIED] Emotion mismatch. Expected %s, got %s",
			r.Challenge.TargetEmotion, strings.ToLower(r.EmotionObserved))
	}
	return "[ACCESS DENIED] " + r.DenialReason
}
