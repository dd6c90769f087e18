package challenge

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"proof-of-life-gate/internal/challenge/domain"
)

// ErrEmptyPool is returned when a fallback pool has no entries.
var ErrEmptyPool = errors.New("challenge: fallback pool is empty")

// FallbackEntry is one pre-authored (question, color, emotion) triple.
type FallbackEntry struct {
	Question string `yaml:"question"`
	Color    string `yaml:"color"`
	Emotion  string `yaml:"emotion"`
}

// DefaultFallbackPool covers every colour and four of the five emotions.
var DefaultFallbackPool = []FallbackEntry{
	{Question: "What has keys but can't open locks?", Color: "green", Emotion: "surprise"},
	{Question: "What comes down but never goes up?", Color: "red", Emotion: "happy"},
	{Question: "What has a face but no eyes?", Color: "blue", Emotion: "fear"},
	{Question: "I'm tall when young, short when old.", Color: "yellow", Emotion: "sad"},
}

// LoadFallbackPool reads a YAML list of entries from path. An empty path returns DefaultFallbackPool.
func LoadFallbackPool(path string) ([]FallbackEntry, error) {
	if path == "" {
		return DefaultFallbackPool, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("challenge: read fallback pool: %w", err)
	}
	var doc struct {
		Challenges []FallbackEntry `yaml:"challenges"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("challenge: parse fallback pool: %w", err)
	}
	if err := ValidatePool(doc.Challenges); err != nil {
		return nil, err
	}
	return doc.Challenges, nil
}

// ValidatePool checks that pool is non-empty and every entry is a valid challenge.
func ValidatePool(pool []FallbackEntry) error {
	if len(pool) == 0 {
		return ErrEmptyPool
	}
	for i, e := range pool {
		if _, err := e.challenge(); err != nil {
			return fmt.Errorf("challenge: fallback entry %d: %w", i, err)
		}
	}
	return nil
}

func (e FallbackEntry) challenge() (domain.Challenge, error) {
	color, err := domain.ParseColor(e.Color)
	if err != nil {
		return domain.Challenge{}, err
	}
	emotion, err := domain.ParseEmotion(e.Emotion)
	if err != nil {
		return domain.Challenge{}, err
	}
	c := domain.Challenge{
		CognitiveQuestion: domain.FallbackPrefix + e.Question,
		TargetColor:       color,
		TargetEmotion:     emotion,
		Fallback:          true,
	}
	return c, c.Validate()
}
