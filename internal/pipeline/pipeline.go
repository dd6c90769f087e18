// Package pipeline runs one proof-of-life attempt: challenge, colour hold, face
// authenticity, emotion match, decision and token issuance.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"proof-of-life-gate/internal/attempt"
	"proof-of-life-gate/internal/biometric"
	challengedomain "proof-of-life-gate/internal/challenge/domain"
	decisiondomain "proof-of-life-gate/internal/decision/domain"
	"proof-of-life-gate/internal/decision/engine"
	"proof-of-life-gate/internal/telemetry"
	telemetrydomain "proof-of-life-gate/internal/telemetry/domain"
	"proof-of-life-gate/internal/token"
	"proof-of-life-gate/internal/vision"
)

const (
	// DefaultMaxHoldWait bounds the colour-hold loop.
	DefaultMaxHoldWait = 60 * time.Second
	// DefaultClassifierTimeout bounds each face or emotion classifier call.
	DefaultClassifierTimeout = 10 * time.Second
	// DefaultRecordTimeout bounds the attempt ledger write.
	DefaultRecordTimeout = 5 * time.Second

	instrumentationName = "proof-of-life-gate/pipeline"
)

// ChallengeSource issues challenges and audit narratives. Neither call may fail.
type ChallengeSource interface {
	GenerateChallenge(ctx context.Context) challengedomain.Challenge
	GenerateNarrative(ctx context.Context, color challengedomain.Color, emotion string, ts time.Time) string
}

// PhysicalVerifier runs the colour-hold challenge on a camera acquired from opener and
// releases it before returning.
type PhysicalVerifier interface {
	Verify(ctx context.Context, opener vision.CameraOpener, color challengedomain.Color) (vision.HoldResult, error)
}

// Deps are the collaborators of a Pipeline. Challenges, Physical, Camera and Decider are
// required; the rest may be nil.
type Deps struct {
	Challenges   ChallengeSource
	Physical     PhysicalVerifier
	Camera       vision.CameraOpener
	Authenticity biometric.AuthenticityClassifier
	// Threshold nil means biometric.DefaultThreshold.
	Threshold *biometric.ThresholdPolicy
	Emotion   biometric.EmotionClassifier
	Decider   engine.Evaluator
	Issuer    token.Issuer
	Recorder  attempt.Recorder
	Events    telemetry.EventEmitter
	Presenter Presenter
	Tracer    trace.Tracer
	Meter     metric.Meter
	Logger    *zap.Logger
}

// Options tune a Pipeline.
type Options struct {
	MaxHoldWait       time.Duration
	ClassifierTimeout time.Duration
	RecordTimeout     time.Duration
	// Source labels telemetry events (e.g. "gate", "kiosk").
	Source string
}

// Pipeline runs attempts. Attempts are sequential; a Pipeline holds no per-attempt state.
type Pipeline struct {
	deps     Deps
	opts     Options
	logger   *zap.Logger
	tracer   trace.Tracer
	attempts metric.Int64Counter
	held     metric.Float64Histogram
	now      func() time.Time
	newID    func() string
}

// ErrMissingDependency is returned by New when a required collaborator is nil.
var ErrMissingDependency = errors.New("pipeline: missing dependency")

// New validates deps and returns a Pipeline.
func New(deps Deps, opts Options) (*Pipeline, error) {
	switch {
	case deps.Challenges == nil:
		return nil, fmt.Errorf("%w: challenge source", ErrMissingDependency)
	case deps.Physical == nil:
		return nil, fmt.Errorf("%w: physical verifier", ErrMissingDependency)
	case deps.Camera == nil:
		return nil, fmt.Errorf("%w: camera", ErrMissingDependency)
	case deps.Decider == nil:
		return nil, fmt.Errorf("%w: decision evaluator", ErrMissingDependency)
	}
	if opts.MaxHoldWait <= 0 {
		opts.MaxHoldWait = DefaultMaxHoldWait
	}
	if opts.ClassifierTimeout <= 0 {
		opts.ClassifierTimeout = DefaultClassifierTimeout
	}
	if opts.Source == "" {
		opts.Source = "gate"
	}
	if opts.RecordTimeout <= 0 {
		opts.RecordTimeout = DefaultRecordTimeout
	}
	if deps.Threshold == nil {
		deps.Threshold = &biometric.ThresholdPolicy{Threshold: biometric.DefaultThreshold}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	meter := deps.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	attempts, err := meter.Int64Counter("pol.attempts",
		metric.WithDescription("Completed proof-of-life attempts by decision."))
	if err != nil {
		return nil, fmt.Errorf("pipeline: attempts counter: %w", err)
	}
	held, err := meter.Float64Histogram("pol.hold.seconds",
		metric.WithDescription("Continuous colour hold achieved per attempt."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("pipeline: hold histogram: %w", err)
	}
	return &Pipeline{
		deps:     deps,
		opts:     opts,
		logger:   logger,
		tracer:   tracer,
		attempts: attempts,
		held:     held,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}, nil
}

// RunAttempt runs one attempt to completion and returns its result. It never returns nil.
// Cancelling ctx aborts the colour hold, which denies the attempt.
func (p *Pipeline) RunAttempt(ctx context.Context) *Result {
	r := &Result{AttemptID: p.newID(), StartedAt: p.now()}
	ctx, span := p.tracer.Start(ctx, "pol.attempt", trace.WithAttributes(attribute.String("attempt_id", r.AttemptID)))
	defer span.End()
	logger := p.logger.With(zap.String("attempt_id", r.AttemptID))

	r.Challenge = p.issueChallenge(ctx, r, logger)

	hold, proof := p.awaitPhysicalProof(ctx, r, logger)
	if !hold {
		p.deny(r, decisiondomain.ReasonPhysicalFailed)
	} else {
		assessment := p.scoreFace(ctx, r, proof, logger)
		observed := p.matchEmotion(ctx, r, proof, logger)
		d := p.decide(ctx, r, assessment, observed, logger)
		if d.Granted() {
			p.grant(ctx, r, logger)
		} else {
			p.deny(r, d.Reason)
		}
	}

	r.FinishedAt = p.now()
	span.SetAttributes(attribute.String("decision", string(r.Decision)))
	if !r.Granted() {
		span.SetAttributes(attribute.String("denial_reason", r.DenialReason))
	}
	p.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("decision", string(r.Decision)),
		attribute.Bool("fallback", r.Challenge.Fallback)))
	logger.Info("attempt finished",
		zap.String("decision", string(r.Decision)),
		zap.String("denial_reason", r.DenialReason),
		zap.String("label", string(r.Label)),
		zap.Float64("confidence", r.Confidence),
		zap.Bool("token_issued", r.ProofToken != ""))

	p.record(ctx, r)
	return r
}

func (p *Pipeline) enter(r *Result, s State) {
	r.Steps = append(r.Steps, Step{State: s, At: p.now()})
	p.logger.Debug("state", zap.String("attempt_id", r.AttemptID), zap.String("state", string(s)))
}

func (p *Pipeline) say(lines ...string) {
	if p.deps.Presenter == nil {
		return
	}
	for _, l := range lines {
		p.deps.Presenter.Show(l)
	}
}

func (p *Pipeline) issueChallenge(ctx context.Context, r *Result, logger *zap.Logger) challengedomain.Challenge {
	p.enter(r, StateIssueChallenge)
	ctx, span := p.tracer.Start(ctx, "pol.issue_challenge")
	defer span.End()

	c := p.deps.Challenges.GenerateChallenge(ctx)
	span.SetAttributes(
		attribute.String("target_color", string(c.TargetColor)),
		attribute.String("target_emotion", string(c.TargetEmotion)),
		attribute.Bool("fallback", c.Fallback))
	logger.Info("challenge issued",
		zap.String("target_color", string(c.TargetColor)),
		zap.String("target_emotion", string(c.TargetEmotion)),
		zap.Bool("fallback", c.Fallback))
	p.emit(r.AttemptID, telemetrydomain.EventChallengeIssued, map[string]any{
		"targetColor":   c.TargetColor,
		"targetEmotion": c.TargetEmotion,
		"fallback":      c.Fallback,
	})
	p.say(Intro(c)...)
	return c
}

func (p *Pipeline) awaitPhysicalProof(ctx context.Context, r *Result, logger *zap.Logger) (bool, *vision.Frame) {
	p.enter(r, StateAwaitPhysicalProof)
	ctx, span := p.tracer.Start(ctx, "pol.await_physical_proof")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, p.opts.MaxHoldWait)
	defer cancel()

	res, err := p.deps.Physical.Verify(ctx, p.deps.Camera, r.Challenge.TargetColor)
	r.Hold = res.Outcome
	r.HeldFor = res.State.Elapsed
	p.held.Record(ctx, res.State.Elapsed.Seconds(), metric.WithAttributes(attribute.String("outcome", string(res.Outcome))))
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)), attribute.Int("frames", res.Frames))
	if err != nil || !res.Success() {
		if err == nil {
			err = vision.ErrStreamEnded
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(res.Outcome))
		logger.Info("physical challenge failed", zap.String("outcome", string(res.Outcome)), zap.Error(err))
		return false, nil
	}
	p.say("[STEP 1 SUCCESS] Color object verified.")
	return true, res.ProofFrame
}

func (p *Pipeline) scoreFace(ctx context.Context, r *Result, proof *vision.Frame, logger *zap.Logger) biometric.Assessment {
	p.enter(r, StateScoreFace)
	ctx, span := p.tracer.Start(ctx, "pol.score_face")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, p.opts.ClassifierTimeout)
	defer cancel()

	a := biometric.Assess(ctx, p.deps.Authenticity, *p.deps.Threshold, proof.Image)
	r.Label = a.Label
	r.Confidence = a.Confidence
	span.SetAttributes(attribute.String("label", string(a.Label)), attribute.Float64("confidence", a.Confidence))
	if a.Err != nil {
		span.RecordError(a.Err)
		logger.Warn("face authenticity degraded", zap.String("label", string(a.Label)), zap.Error(a.Err))
	}
	return a
}

func (p *Pipeline) matchEmotion(ctx context.Context, r *Result, proof *vision.Frame, logger *zap.Logger) biometric.EmotionResult {
	p.enter(r, StateMatchEmotion)
	ctx, span := p.tracer.Start(ctx, "pol.match_emotion")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, p.opts.ClassifierTimeout)
	defer cancel()

	p.say("[STEP 2] Analyzing facial expression from the captured frame...")
	observed := biometric.AnalyzeEmotion(ctx, p.deps.Emotion, proof.Image)
	r.EmotionObserved = observed.Label
	r.EmotionMatch = biometric.MatchEmotion(string(r.Challenge.TargetEmotion), observed)
	span.SetAttributes(attribute.String("observed", observed.Label), attribute.Bool("matched", r.EmotionMatch))
	if !observed.OK {
		logger.Warn("emotion undetected")
	}
	p.say(" > AI Detected: "+observed.Label, " > Challenge Required: "+string(r.Challenge.TargetEmotion))
	return observed
}

func (p *Pipeline) decide(ctx context.Context, r *Result, a biometric.Assessment, observed biometric.EmotionResult, logger *zap.Logger) decisiondomain.Decision {
	p.enter(r, StateDecide)
	ctx, span := p.tracer.Start(ctx, "pol.decide")
	defer span.End()

	d, err := p.deps.Decider.Decide(ctx, decisiondomain.Input{
		PhysicalSatisfied: true,
		Face:              a.Label,
		Confidence:        a.Confidence,
		EmotionRequired:   string(r.Challenge.TargetEmotion),
		EmotionObserved:   observed.Label,
		EmotionMatched:    r.EmotionMatch,
	})
	if err != nil {
		span.RecordError(err)
		logger.Warn("decision policy failed, used built-in rules", zap.Error(err))
	}
	if d.Outcome != decisiondomain.Granted && d.Outcome != decisiondomain.Denied {
		d = decisiondomain.Deny(d.Reason)
	}
	if !d.Granted() && d.Reason == "" {
		d.Reason = decisiondomain.ReasonEmotionMismatch
	}
	span.SetAttributes(attribute.String("decision", string(d.Outcome)), attribute.String("reason", d.Reason))
	return d
}

func (p *Pipeline) grant(ctx context.Context, r *Result, logger *zap.Logger) {
	p.enter(r, StateGranted)
	r.Decision = decisiondomain.Granted
	p.say("[ACCESS GRANTED] Identity, Liveness, and Emotion confirmed.")

	issuedAt := p.now()
	r.Narrative = p.deps.Challenges.GenerateNarrative(ctx, r.Challenge.TargetColor, r.EmotionObserved, issuedAt)
	p.say("[AI NOTARY LOG]: " + r.Narrative)

	if p.deps.Issuer == nil {
		logger.Warn("no token issuer configured; granted without proof token")
		return
	}
	ctx, span := p.tracer.Start(ctx, "pol.mint_token")
	defer span.End()
	tok, err := p.deps.Issuer.Mint(ctx, token.Payload{
		AttemptID:  r.AttemptID,
		Color:      string(r.Challenge.TargetColor),
		Emotion:    r.EmotionObserved,
		Label:      string(r.Label),
		Confidence: r.Confidence,
		Narrative:  r.Narrative,
		IssuedAt:   issuedAt,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mint failed")
		logger.Warn("proof token issuance failed; decision stands", zap.Error(err))
		return
	}
	r.ProofToken = tok
	p.say("[PROOF TOKEN]: " + tok)
}

func (p *Pipeline) deny(r *Result, reason string) {
	p.enter(r, StateDenied)
	r.Decision = decisiondomain.Denied
	r.DenialReason = reason
	r.Narrative = DeniedNarrative(reason)
	p.say(denialLine(r))
}

func (p *Pipeline) record(ctx context.Context, r *Result) {
	if p.deps.Recorder != nil {
		// Recorded even when the attempt was cancelled, but never unbounded.
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.RecordTimeout)
		p.deps.Recorder.Record(recordCtx, r.Attempt())
		cancel()
	}
	p.emit(r.AttemptID, telemetrydomain.EventAttemptCompleted, r.metadata())
}

func (p *Pipeline) emit(attemptID, eventType string, metadata any) {
	if p.deps.Events == nil {
		return
	}
	telemetry.EmitAsync(p.deps.Events, telemetrydomain.NewEvent(attemptID, eventType, p.opts.Source, metadata, p.now().UTC()), p.logger)
}
