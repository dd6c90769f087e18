package vision

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"proof-of-life-gate/internal/challenge/domain"
)

// DefaultMinContourArea is the noise floor in square pixels, roughly a fist at webcam distance.
const DefaultMinContourArea = 5000.0

// HSVRange is an inclusive HSV box on the OpenCV scale (H 0-180, S and V 0-255).
type HSVRange struct {
	Lower [3]float64 `yaml:"lower"`
	Upper [3]float64 `yaml:"upper"`
}

// ColorRanges maps a colour to the union of ranges that segment it.
type ColorRanges map[domain.Color][]HSVRange

// PermissiveRange accepts any hue with moderate saturation and value. Used for unknown colours.
var PermissiveRange = HSVRange{Lower: [3]float64{0, 50, 50}, Upper: [3]float64{180, 255, 255}}

// DefaultColorRanges is the built-in segmentation table. Red wraps around hue 0.
func DefaultColorRanges() ColorRanges {
	return ColorRanges{
		domain.ColorRed: {
			{Lower: [3]float64{0, 100, 100}, Upper: [3]float64{10, 255, 255}},
			{Lower: [3]float64{160, 100, 100}, Upper: [3]float64{180, 255, 255}},
		},
		domain.ColorBlue:   {{Lower: [3]float64{100, 150, 0}, Upper: [3]float64{140, 255, 255}}},
		domain.ColorGreen:  {{Lower: [3]float64{40, 80, 50}, Upper: [3]float64{90, 255, 255}}},
		domain.ColorYellow: {{Lower: [3]float64{20, 100, 100}, Upper: [3]float64{30, 255, 255}}},
	}
}

// For returns the ranges for name. Matching is case-insensitive and accepts names containing
// a known colour (e.g. "dark red"); anything else gets PermissiveRange.
func (t ColorRanges) For(name string) []HSVRange {
	n := strings.ToLower(strings.TrimSpace(name))
	if r, ok := t[domain.Color(n)]; ok && len(r) > 0 {
		return r
	}
	for _, c := range domain.Colors {
		if strings.Contains(n, string(c)) {
			if r, ok := t[c]; ok && len(r) > 0 {
				return r
			}
		}
	}
	return []HSVRange{PermissiveRange}
}

// Contains reports whether the HSV triple lies inside r.
func (r HSVRange) Contains(h, s, v float64) bool {
	return h >= r.Lower[0] && h <= r.Upper[0] &&
		s >= r.Lower[1] && s <= r.Upper[1] &&
		v >= r.Lower[2] && v <= r.Upper[2]
}

// LoadColorRanges reads overrides from a YAML file keyed by colour name and merges them over the defaults.
// An empty path returns the defaults.
func LoadColorRanges(path string) (ColorRanges, error) {
	table := DefaultColorRanges()
	if path == "" {
		return table, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vision: read color ranges: %w", err)
	}
	var doc map[string][]HSVRange
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("vision: parse color ranges: %w", err)
	}
	for name, ranges := range doc {
		c, err := domain.ParseColor(name)
		if err != nil {
			return nil, fmt.Errorf("vision: color ranges: %w", err)
		}
		if len(ranges) == 0 {
			return nil, fmt.Errorf("vision: color ranges: %s has no ranges", c)
		}
		for _, r := range ranges {
			if err := r.validate(); err != nil {
				return nil, fmt.Errorf("vision: color ranges: %s: %w", c, err)
			}
		}
		table[c] = ranges
	}
	return table, nil
}

func (r HSVRange) validate() error {
	limits := [3]float64{180, 255, 255}
	for i := 0; i < 3; i++ {
		if r.Lower[i] < 0 || r.Upper[i] > limits[i] || r.Lower[i] > r.Upper[i] {
			return fmt.Errorf("range %v-%v out of bounds", r.Lower, r.Upper)
		}
	}
	return nil
}
