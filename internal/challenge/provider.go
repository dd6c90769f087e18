// Package challenge issues proof-of-life challenges and audit narratives.
// Content comes from an external text generator; every failure degrades to
// pre-authored content so callers always receive a usable value.
package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"proof-of-life-gate/internal/challenge/domain"
)

// ErrGeneratorUnavailable wraps every failure of the text generator. It never leaves this package.
var ErrGeneratorUnavailable = errors.New("challenge: generator unavailable")

// Generator produces text from a prompt. schema, when non-nil, is a JSON schema the reply must follow.
type Generator interface {
	Complete(ctx context.Context, prompt string, schema []byte) (string, error)
}

const challengePrompt = `
Generate a JSON object for a security challenge.
1. cognitive_question: A simple riddle (max 10 words).
2. target_color: red, blue, green, or yellow.
3. target_emotion: happy, surprise, fear, sad, or neutral.
Output ONLY JSON.
`

const narrativePrompt = `
You are a digital notary. Write a ONE-sentence log entry.
Details: %s object, %s face, Time: %s.
Style: Cyberpunk.
`

// ChallengeSchema is the JSON schema sent to the generator and used to validate its reply.
const ChallengeSchema = `{
  "type": "object",
  "properties": {
    "cognitive_question": {"type": "string", "description": "A short riddle.", "pattern": "^\\s*\\S+(\\s+\\S+){0,9}\\s*$"},
    "target_color": {"type": "string", "enum": ["red", "blue", "green", "yellow"]},
    "target_emotion": {"type": "string", "enum": ["happy", "surprise", "fear", "sad", "neutral"]}
  },
  "required": ["cognitive_question", "target_color", "target_emotion"]
}`

const schemaURL = "https://pol.schemas.local/challenge.schema.json"

type generatedChallenge struct {
	CognitiveQuestion string `json:"cognitive_question"`
	TargetColor       string `json:"target_color"`
	TargetEmotion     string `json:"target_emotion"`
}

// Provider issues challenges and narratives.
type Provider struct {
	gen     Generator
	pool    []FallbackEntry
	timeout time.Duration
	schema  *jsonschema.Schema
	logger  *zap.Logger
	intn    func(int) int
	now     func() time.Time
}

// NewProvider returns a Provider. gen may be nil, in which case every challenge comes from pool.
// timeout bounds each generator call; zero means no extra bound beyond the caller's context.
func NewProvider(gen Generator, pool []FallbackEntry, timeout time.Duration, logger *zap.Logger) (*Provider, error) {
	if err := ValidatePool(pool); err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(ChallengeSchema)); err != nil {
		return nil, fmt.Errorf("challenge: schema load failed: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("challenge: schema compile failed: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		gen:     gen,
		pool:    pool,
		timeout: timeout,
		schema:  compiled,
		logger:  logger,
		intn:    rand.IntN,
		now:     time.Now,
	}, nil
}

// GenerateChallenge never fails: a generator error yields a random fallback challenge.
func (p *Provider) GenerateChallenge(ctx context.Context) domain.Challenge {
	c, err := p.generate(ctx)
	if err != nil {
		p.logger.Warn("challenge generation failed, using fallback", zap.Error(err))
		c = p.fallback()
	}
	c.IssuedAt = p.now().UTC()
	return c
}

func (p *Provider) generate(ctx context.Context) (domain.Challenge, error) {
	if p.gen == nil {
		return domain.Challenge{}, fmt.Errorf("%w: no generator configured", ErrGeneratorUnavailable)
	}
	reply, err := p.complete(ctx, challengePrompt, []byte(ChallengeSchema))
	if err != nil {
		return domain.Challenge{}, err
	}
	body := stripFences(reply)

	var doc interface{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return domain.Challenge{}, fmt.Errorf("%w: malformed reply: %v", ErrGeneratorUnavailable, err)
	}
	if err := p.schema.Validate(doc); err != nil {
		return domain.Challenge{}, fmt.Errorf("%w: schema violation: %v", ErrGeneratorUnavailable, err)
	}
	var g generatedChallenge
	if err := json.Unmarshal([]byte(body), &g); err != nil {
		return domain.Challenge{}, fmt.Errorf("%w: malformed reply: %v", ErrGeneratorUnavailable, err)
	}
	c := domain.Challenge{
		CognitiveQuestion: strings.TrimSpace(g.CognitiveQuestion),
		TargetColor:       domain.Color(strings.ToLower(g.TargetColor)),
		TargetEmotion:     domain.Emotion(strings.ToLower(g.TargetEmotion)),
	}
	if err := c.Validate(); err != nil {
		return domain.Challenge{}, fmt.Errorf("%w: %v", ErrGeneratorUnavailable, err)
	}
	return c, nil
}

func (p *Provider) fallback() domain.Challenge {
	e := p.pool[p.intn(len(p.pool))]
	c, _ := e.challenge() // pool validated in NewProvider
	return c
}

// GenerateNarrative returns a one-sentence audit line. It never fails; a generator error yields a templated line.
func (p *Provider) GenerateNarrative(ctx context.Context, color domain.Color, emotion string, ts time.Time) string {
	stamp := ts.Format(time.ANSIC)
	if p.gen != nil {
		reply, err := p.complete(ctx, fmt.Sprintf(narrativePrompt, color, emotion, stamp), nil)
		if err == nil {
			if s := strings.TrimSpace(reply); s != "" {
				return s
			}
			err = fmt.Errorf("%w: empty narrative", ErrGeneratorUnavailable)
		}
		p.logger.Warn("narrative generation failed, using template", zap.Error(err))
	}
	return FallbackNarrative(color, emotion, stamp)
}

// FallbackNarrative is the templated audit line used when the generator is unavailable.
func FallbackNarrative(color domain.Color, emotion, stamp string) string {
	return fmt.Sprintf("Standard Verification Log: %s object / %s face confirmed (%s).", color, emotion, stamp)
}

func (p *Provider) complete(ctx context.Context, prompt string, schema []byte) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	reply, err := p.gen.Complete(ctx, prompt, schema)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneratorUnavailable, err)
	}
	return reply, nil
}

// stripFences removes a Markdown code fence some models wrap around JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
