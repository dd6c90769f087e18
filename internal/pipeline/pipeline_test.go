package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	attemptdomain "proof-of-life-gate/internal/attempt/domain"
	"proof-of-life-gate/internal/biometric"
	challengedomain "proof-of-life-gate/internal/challenge/domain"
	decisiondomain "proof-of-life-gate/internal/decision/domain"
	"proof-of-life-gate/internal/decision/engine"
	"proof-of-life-gate/internal/security"
	telemetrydomain "proof-of-life-gate/internal/telemetry/domain"
	"proof-of-life-gate/internal/token"
	"proof-of-life-gate/internal/vision"
)

var base = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fixedChallenges struct {
	challenge  challengedomain.Challenge
	narratives atomic.Int32
}

func (f *fixedChallenges) GenerateChallenge(ctx context.Context) challengedomain.Challenge {
	return f.challenge
}

func (f *fixedChallenges) GenerateNarrative(ctx context.Context, color challengedomain.Color, emotion string, ts time.Time) string {
	f.narratives.Add(1)
	return "Logged " + string(color) + "/" + emotion
}

// frameCamera delivers one frame per 100ms of capture time. present[i] says whether
// frame i shows the target colour. When endless, it keeps delivering absent frames until ctx ends.
type frameCamera struct {
	present []bool
	endless bool
	i       int
	closed  atomic.Int32
}

func (c *frameCamera) Read(ctx context.Context) (vision.Frame, error) {
	if c.i >= len(c.present) {
		if !c.endless {
			return vision.Frame{}, io.EOF
		}
		select {
		case <-ctx.Done():
			return vision.Frame{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	f := vision.Frame{Seq: c.i, CapturedAt: base.Add(time.Duration(c.i) * 100 * time.Millisecond)}
	c.i++
	return f, nil
}

func (c *frameCamera) Close() error {
	c.closed.Add(1)
	return nil
}

func (c *frameCamera) opener() vision.CameraOpener {
	return vision.CameraOpenerFunc(func(ctx context.Context) (vision.Camera, error) { return c, nil })
}

// presenceSegmenter reports the colour according to the camera's script.
type presenceSegmenter struct{ cam *frameCamera }

func (s presenceSegmenter) Detect(f vision.Frame, ranges []vision.HSVRange, minArea float64) (vision.Detection, error) {
	if f.Seq < len(s.cam.present) && s.cam.present[f.Seq] {
		return vision.Detection{Found: true, Area: 9000}, nil
	}
	return vision.Detection{}, nil
}

type stubAuthenticity struct {
	score float64
	err   error
	calls atomic.Int32
}

func (s *stubAuthenticity) Score(ctx context.Context, img image.Image) (float64, error) {
	s.calls.Add(1)
	return s.score, s.err
}

type stubEmotion struct {
	result biometric.EmotionResult
	calls  atomic.Int32
}

func (s *stubEmotion) Classify(ctx context.Context, img image.Image) biometric.EmotionResult {
	s.calls.Add(1)
	return s.result
}

type stubIssuer struct {
	token string
	err   error
	calls int
	last  token.Payload
}

func (s *stubIssuer) Mint(ctx context.Context, p token.Payload) (string, error) {
	s.calls++
	s.last = p
	return s.token, s.err
}

type memRecorder struct {
	mu      sync.Mutex
	records []*attemptdomain.Attempt
}

func (m *memRecorder) Record(ctx context.Context, a *attemptdomain.Attempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, a)
}

type chanEmitter chan *telemetrydomain.Event

func (c chanEmitter) Emit(ctx context.Context, e *telemetrydomain.Event) error {
	c <- e
	return nil
}

func held(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = true
	}
	return out
}

type fixture struct {
	cam       *frameCamera
	challenge *fixedChallenges
	face      *stubAuthenticity
	emotion   *stubEmotion
	issuer    *stubIssuer
	recorder  *memRecorder
	events    chanEmitter
	out       *bytes.Buffer
	deps      Deps
	opts      Options
}

func newFixture(present []bool) *fixture {
	f := &fixture{
		cam: &frameCamera{present: present},
		challenge: &fixedChallenges{challenge: challengedomain.Challenge{
			CognitiveQuestion: "Q", TargetColor: challengedomain.ColorBlue, TargetEmotion: challengedomain.EmotionHappy,
		}},
		face:     &stubAuthenticity{score: 0.91},
		emotion:  &stubEmotion{result: biometric.Detected("happy")},
		issuer:   &stubIssuer{token: "0xfeed"},
		recorder: &memRecorder{},
		events:   make(chanEmitter, 4),
		out:      &bytes.Buffer{},
	}
	f.deps = Deps{
		Challenges:   f.challenge,
		Physical:     vision.NewDetector(presenceSegmenter{cam: f.cam}, vision.Config{}, nil, nil),
		Camera:       f.cam.opener(),
		Authenticity: f.face,
		Emotion:      f.emotion,
		Decider:      engine.RulesEvaluator{},
		Issuer:       f.issuer,
		Recorder:     f.recorder,
		Events:       f.events,
		Presenter:    WriterPresenter(f.out),
	}
	return f
}

func (f *fixture) run(t *testing.T) *Result {
	t.Helper()
	p, err := New(f.deps, f.opts)
	require.NoError(t, err)
	return p.RunAttempt(context.Background())
}

func statesOf(r *Result) []State {
	out := make([]State, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.State
	}
	return out
}

func TestRunAttempt_GrantedWithToken(t *testing.T) {
	f := newFixture(held(22))
	r := f.run(t)

	assert.True(t, r.Granted())
	assert.Equal(t, biometric.LabelReal, r.Label)
	assert.InDelta(t, 0.91, r.Confidence, 1e-9)
	assert.Equal(t, "happy", r.EmotionObserved)
	assert.True(t, r.EmotionMatch)
	assert.Empty(t, r.DenialReason)
	assert.Equal(t, "0xfeed", r.ProofToken)
	assert.Equal(t, "Logged blue/happy", r.Narrative)
	assert.Equal(t, vision.OutcomeSatisfied, r.Hold)
	assert.GreaterOrEqual(t, r.HeldFor, 2*time.Second)
	assert.Equal(t, []State{StateIssueChallenge, StateAwaitPhysicalProof, StateScoreFace, StateMatchEmotion, StateDecide, StateGranted}, statesOf(r))
	assert.Equal(t, int32(1), f.cam.closed.Load(), "camera released exactly once")

	assert.Equal(t, 1, f.issuer.calls)
	assert.Equal(t, r.AttemptID, f.issuer.last.AttemptID)
	assert.Equal(t, "REAL", f.issuer.last.Label)

	out := f.out.String()
	assert.Contains(t, out, "2. ACTION: Hold a BLUE object.")
	assert.Contains(t, out, "3. EMOTION: You must look HAPPY!")
	assert.Contains(t, out, "[ACCESS GRANTED]")
}

func TestRunAttempt_HoldLostShortCircuits(t *testing.T) {
	// 1.5s of colour, then gone until the stream ends.
	present := append(held(16), false, false, false)
	f := newFixture(present)
	r := f.run(t)

	assert.False(t, r.Granted())
	assert.Equal(t, decisiondomain.ReasonPhysicalFailed, r.DenialReason)
	assert.Empty(t, r.Label, "face never evaluated")
	assert.Zero(t, f.face.calls.Load())
	assert.Zero(t, f.emotion.calls.Load())
	assert.Zero(t, f.issuer.calls)
	assert.Empty(t, r.ProofToken)
	assert.Equal(t, vision.OutcomeStreamEnded, r.Hold)
	assert.False(t, r.Visited(StateScoreFace))
	assert.Equal(t, int32(1), f.cam.closed.Load())
	assert.Contains(t, f.out.String(), "Liveness verification failed (Color check)")
}

func TestRunAttempt_NoFaceDenied(t *testing.T) {
	f := newFixture(held(22))
	f.face.err = biometric.ErrNoFace
	r := f.run(t)

	assert.False(t, r.Granted())
	assert.Equal(t, biometric.LabelNoFace, r.Label)
	assert.Equal(t, decisiondomain.ReasonNoFace, r.DenialReason, "NO_FACE takes precedence over the emotion result")
	assert.True(t, r.Visited(StateMatchEmotion), "emotion analysis still runs")
	assert.Equal(t, int32(1), f.emotion.calls.Load())
	assert.True(t, r.EmotionMatch)
	assert.Zero(t, f.issuer.calls)
}

func TestRunAttempt_NoFaceAndUndetectedEmotion(t *testing.T) {
	f := newFixture(held(22))
	f.face.err = biometric.ErrNoFace
	f.emotion.result = biometric.NotDetected()
	r := f.run(t)

	assert.Equal(t, decisiondomain.ReasonNoFace, r.DenialReason)
	assert.Equal(t, biometric.Undetected, r.EmotionObserved)
	assert.False(t, r.EmotionMatch)
}

func TestRunAttempt_FakeFaceInformational(t *testing.T) {
	f := newFixture(held(22))
	f.face.score = 0.40
	r := f.run(t)

	assert.True(t, r.Granted(), "FAKE is informational unless real faces are required")
	assert.Equal(t, biometric.LabelFake, r.Label)
	assert.Equal(t, "0xfeed", r.ProofToken)
}

func TestRunAttempt_FakeDeniedWhenRealFaceRequired(t *testing.T) {
	f := newFixture(held(22))
	f.face.score = 0.40
	f.deps.Decider = engine.RulesEvaluator{Options: engine.Options{RequireRealFace: true}}
	r := f.run(t)

	assert.False(t, r.Granted())
	assert.Equal(t, decisiondomain.ReasonFake, r.DenialReason)
}

func TestRunAttempt_OPAPolicyMatchesRules(t *testing.T) {
	opa, err := engine.NewOPAEvaluator("", engine.Options{}, nil)
	require.NoError(t, err)
	f := newFixture(held(22))
	f.face.score = 0.40
	f.deps.Decider = opa
	r := f.run(t)
	assert.True(t, r.Granted())
	assert.Equal(t, biometric.LabelFake, r.Label)
}

func TestRunAttempt_EmotionMismatch(t *testing.T) {
	f := newFixture(held(22))
	f.emotion.result = biometric.Detected("sad")
	r := f.run(t)

	assert.False(t, r.Granted())
	assert.Equal(t, decisiondomain.ReasonEmotionMismatch, r.DenialReason)
	assert.Equal(t, DeniedNarrative(decisiondomain.ReasonEmotionMismatch), r.Narrative)
	assert.Zero(t, f.challenge.narratives.Load(), "no notary narrative for a denial")
	assert.Contains(t, f.out.String(), "Emotion mismatch. Expected happy, got sad")
}

func TestRunAttempt_ClassifierUnavailable(t *testing.T) {
	f := newFixture(held(22))
	f.face.err = errors.New("model service down")
	r := f.run(t)

	assert.Equal(t, biometric.LabelError, r.Label)
	assert.Equal(t, decisiondomain.ReasonClassifierUnavailable, r.DenialReason)
}

func TestRunAttempt_TokenFailureKeepsGrant(t *testing.T) {
	f := newFixture(held(22))
	f.issuer.err = token.ErrIssuerUnavailable
	r := f.run(t)

	assert.True(t, r.Granted())
	assert.Empty(t, r.ProofToken)
	assert.NotEmpty(t, r.Narrative)
}

func TestRunAttempt_NoIssuer(t *testing.T) {
	f := newFixture(held(22))
	f.deps.Issuer = nil
	r := f.run(t)
	assert.True(t, r.Granted())
	assert.Empty(t, r.ProofToken)
}

func TestRunAttempt_CameraUnavailable(t *testing.T) {
	f := newFixture(nil)
	f.deps.Camera = vision.CameraOpenerFunc(func(ctx context.Context) (vision.Camera, error) {
		return nil, vision.ErrCameraUnavailable
	})
	r := f.run(t)

	assert.False(t, r.Granted())
	assert.Equal(t, decisiondomain.ReasonPhysicalFailed, r.DenialReason)
	assert.Equal(t, vision.OutcomeCameraUnavailable, r.Hold)
	assert.Zero(t, f.face.calls.Load())
}

func TestRunAttempt_HoldTimeout(t *testing.T) {
	f := newFixture(nil)
	f.cam.endless = true
	f.opts.MaxHoldWait = 30 * time.Millisecond
	r := f.run(t)

	assert.Equal(t, vision.OutcomeTimedOut, r.Hold)
	assert.Equal(t, decisiondomain.ReasonPhysicalFailed, r.DenialReason)
	assert.Equal(t, int32(1), f.cam.closed.Load())
}

func TestRunAttempt_CancelledContext(t *testing.T) {
	f := newFixture(nil)
	f.cam.endless = true
	p, err := New(f.deps, f.opts)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	r := p.RunAttempt(ctx)
	assert.Equal(t, vision.OutcomeAborted, r.Hold)
	assert.False(t, r.Granted())
}

func TestRunAttempt_RecordsAndEmits(t *testing.T) {
	f := newFixture(held(22))
	r := f.run(t)

	require.Len(t, f.recorder.records, 1)
	rec := f.recorder.records[0]
	assert.Equal(t, r.AttemptID, rec.ID)
	assert.Equal(t, "GRANTED", rec.Decision)
	assert.Equal(t, security.HashProofToken("0xfeed"), rec.ProofTokenHash)
	assert.NotContains(t, rec.ProofTokenHash, "feed")

	types := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-f.events:
			assert.Equal(t, r.AttemptID, e.AttemptID)
			types[e.EventType] = true
			if e.EventType == telemetrydomain.EventAttemptCompleted {
				assert.Contains(t, string(e.Metadata), `"decision":"GRANTED"`)
				assert.NotContains(t, string(e.Metadata), "0xfeed")
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for telemetry events")
		}
	}
	assert.True(t, types[telemetrydomain.EventChallengeIssued])
	assert.True(t, types[telemetrydomain.EventAttemptCompleted])
}

// blockingRecorder holds Record until its context ends.
type blockingRecorder struct{ done chan error }

func (b *blockingRecorder) Record(ctx context.Context, a *attemptdomain.Attempt) {
	<-ctx.Done()
	b.done <- ctx.Err()
}

func TestRunAttempt_RecordIsBounded(t *testing.T) {
	f := newFixture(held(22))
	rec := &blockingRecorder{done: make(chan error, 1)}
	f.deps.Recorder = rec
	f.opts.RecordTimeout = 50 * time.Millisecond
	p, err := New(f.deps, f.opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	finished := make(chan *Result, 1)
	go func() { finished <- p.RunAttempt(ctx) }()

	select {
	case <-finished:
	case <-time.After(3 * time.Second):
		t.Fatal("RunAttempt blocked on a hung recorder")
	}
	assert.ErrorIs(t, <-rec.done, context.DeadlineExceeded)
}

func TestRunAttempt_ThresholdOverride(t *testing.T) {
	tests := []struct {
		name      string
		threshold *float64
		score     float64
		want      biometric.Label
	}{
		{"default rejects mid score", nil, 0.5, biometric.LabelFake},
		{"zero accepts any score", ptr(0.0), 0.01, biometric.LabelReal},
		{"one requires perfect score", ptr(1.0), 0.99, biometric.LabelFake},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(held(22))
			f.face.score = tt.score
			if tt.threshold != nil {
				policy, err := biometric.NewThresholdPolicy(*tt.threshold)
				require.NoError(t, err)
				f.deps.Threshold = &policy
			}
			r := f.run(t)
			assert.Equal(t, tt.want, r.Label)
		})
	}
}

func ptr(v float64) *float64 { return &v }

func TestRunAttempt_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	f := newFixture(held(22))
	f.deps.Meter = mp.Meter("test")
	f.run(t)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
			if m.Name == "pol.attempts" {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				require.Len(t, sum.DataPoints, 1)
				assert.Equal(t, int64(1), sum.DataPoints[0].Value)
			}
		}
	}
	assert.True(t, found["pol.attempts"])
	assert.True(t, found["pol.hold.seconds"])
}

func TestNew_MissingDependencies(t *testing.T) {
	f := newFixture(nil)
	for name, mutate := range map[string]func(*Deps){
		"challenges": func(d *Deps) { d.Challenges = nil },
		"physical":   func(d *Deps) { d.Physical = nil },
		"camera":     func(d *Deps) { d.Camera = nil },
		"decider":    func(d *Deps) { d.Decider = nil },
	} {
		t.Run(name, func(t *testing.T) {
			deps := f.deps
			mutate(&deps)
			_, err := New(deps, Options{})
			assert.ErrorIs(t, err, ErrMissingDependency)
		})
	}
}

func TestIntro(t *testing.T) {
	lines := Intro(challengedomain.Challenge{CognitiveQuestion: "[FALLBACK] What has keys?", TargetColor: "green", TargetEmotion: "surprise"})
	require.Len(t, lines, 4)
	assert.Equal(t, "1. QUESTION: [FALLBACK] What has keys?", lines[1])
	assert.Equal(t, "2. ACTION: Hold a GREEN object.", lines[2])
	assert.Equal(t, "3. EMOTION: You must look SURPRISE!", lines[3])
	assert.True(t, strings.HasPrefix(Banner()[0], "===="))
}
