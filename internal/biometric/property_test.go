//go:build property
// +build property

package biometric

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestThresholdPolicyProperties checks Classify(s) == REAL exactly when s >= threshold.
func TestThresholdPolicyProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("REAL iff score >= threshold", prop.ForAll(
		func(threshold, score float64) bool {
			p, err := NewThresholdPolicy(threshold)
			if err != nil {
				return false
			}
			return (p.Classify(score) == LabelReal) == (score >= threshold)
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.Property("classification is monotonic in score", prop.ForAll(
		func(a, b float64) bool {
			p := ThresholdPolicy{Threshold: DefaultThreshold}
			lo, hi := a, b
			if lo > hi {
				lo, hi = hi, lo
			}
			return !(p.Classify(lo) == LabelReal && p.Classify(hi) == LabelFake)
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

// TestMatchEmotionProperties checks symmetry and case insensitivity of the matcher.
func TestMatchEmotionProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("matching is symmetric", prop.ForAll(
		func(a, b string) bool {
			return MatchEmotion(a, Detected(b)) == MatchEmotion(b, Detected(a))
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("matching ignores case", prop.ForAll(
		func(a, b string) bool {
			return MatchEmotion(a, Detected(b)) == MatchEmotion(strings.ToUpper(a), Detected(strings.ToLower(b)))
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("every non-empty emotion matches itself", prop.ForAll(
		func(a string) bool {
			return MatchEmotion(a, Detected(a))
		},
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
	))

	properties.Property("an undetected result never matches", prop.ForAll(
		func(a string) bool {
			return !MatchEmotion(a, NotDetected())
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
