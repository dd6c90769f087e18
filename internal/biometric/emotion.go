package biometric

import (
	"context"
	"image"
	"strings"
)

// Undetected is the observed emotion when analysis fails.
const Undetected = "undetected"

// EmotionResult is the dominant emotion of a frame. OK is false when no emotion
// could be determined, in which case Label is Undetected.
type EmotionResult struct {
	Label string
	OK    bool
}

// Detected returns an OK result for label.
func Detected(label string) EmotionResult {
	return EmotionResult{Label: label, OK: true}
}

// NotDetected is the result of a failed analysis.
func NotDetected() EmotionResult {
	return EmotionResult{Label: Undetected}
}

// EmotionClassifier reports the dominant emotion. It never fails; failures yield NotDetected.
type EmotionClassifier interface {
	Classify(ctx context.Context, img image.Image) EmotionResult
}

// AnalyzeEmotion runs classifier with the same cancellation boundary as Assess.
func AnalyzeEmotion(ctx context.Context, classifier EmotionClassifier, img image.Image) EmotionResult {
	if classifier == nil {
		return NotDetected()
	}
	done := make(chan EmotionResult, 1)
	go func() { done <- classifier.Classify(ctx, img) }()
	select {
	case r := <-done:
		if r.OK && strings.TrimSpace(r.Label) == "" {
			return NotDetected()
		}
		return r
	case <-ctx.Done():
		return NotDetected()
	}
}

// MatchEmotion reports whether observed satisfies required: case-insensitive containment
// in either direction. Empty values and failed analyses never match.
func MatchEmotion(required string, observed EmotionResult) bool {
	if !observed.OK {
		return false
	}
	req := strings.ToLower(strings.TrimSpace(required))
	obs := strings.ToLower(strings.TrimSpace(observed.Label))
	if req == "" || obs == "" {
		return false
	}
	return strings.Contains(obs, req) || strings.Contains(req, obs)
}
