package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxQuestionWords is the word limit for a cognitive question.
const MaxQuestionWords = 10

// FallbackPrefix marks a question that came from the pre-authored pool.
const FallbackPrefix = "[FALLBACK] "

var (
	ErrInvalidColor    = errors.New("invalid target color")
	ErrInvalidEmotion  = errors.New("invalid target emotion")
	ErrInvalidQuestion = errors.New("invalid cognitive question")
)

// Color is the object colour the user must hold up to the camera.
type Color string

const (
	ColorRed    Color = "red"
	ColorBlue   Color = "blue"
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
)

// Colors lists every valid Color.
var Colors = []Color{ColorRed, ColorBlue, ColorGreen, ColorYellow}

// Emotion is the facial expression the user must show.
type Emotion string

const (
	EmotionHappy    Emotion = "happy"
	EmotionSurprise Emotion = "surprise"
	EmotionFear     Emotion = "fear"
	EmotionSad      Emotion = "sad"
	EmotionNeutral  Emotion = "neutral"
)

// Emotions lists every valid Emotion.
var Emotions = []Emotion{EmotionHappy, EmotionSurprise, EmotionFear, EmotionSad, EmotionNeutral}

// ParseColor normalizes s and returns the matching Color.
func ParseColor(s string) (Color, error) {
	c := Color(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return c, nil
}

// Valid reports whether c is one of Colors.
func (c Color) Valid() bool {
	for _, v := range Colors {
		if c == v {
			return true
		}
	}
	return false
}

// ParseEmotion normalizes s and returns the matching Emotion.
func ParseEmotion(s string) (Emotion, error) {
	e := Emotion(strings.ToLower(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmotion, s)
	}
	return e, nil
}

// Valid reports whether e is one of Emotions.
func (e Emotion) Valid() bool {
	for _, v := range Emotions {
		if e == v {
			return true
		}
	}
	return false
}

// Challenge is issued once per attempt and consumed by the pipeline.
// It is passed by value and never mutated after issue.
type Challenge struct {
	CognitiveQuestion string
	TargetColor       Color
	TargetEmotion     Emotion
	// Fallback is true when the challenge came from the pre-authored pool.
	Fallback bool
	IssuedAt time.Time
}

// Validate checks enum membership and the question word limit.
func (c Challenge) Validate() error {
	q := strings.TrimSpace(strings.TrimPrefix(c.CognitiveQuestion, FallbackPrefix))
	if q == "" {
		return fmt.Errorf("%w: empty", ErrInvalidQuestion)
	}
	if n := len(strings.Fields(q)); n > MaxQuestionWords {
		return fmt.Errorf("%w: %d words, max %d", ErrInvalidQuestion, n, MaxQuestionWords)
	}
	if !c.TargetColor.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidColor, c.TargetColor)
	}
	if !c.TargetEmotion.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidEmotion, c.TargetEmotion)
	}
	return nil
}
