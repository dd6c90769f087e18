package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"proof-of-life-gate/internal/challenge/domain"
)

// Detection is the result of segmenting one frame.
type Detection struct {
	Found bool
	Box   image.Rectangle
	Area  float64
}

// Segmenter finds a region of the given colour ranges whose external contour area exceeds minArea.
type Segmenter interface {
	Detect(frame Frame, ranges []HSVRange, minArea float64) (Detection, error)
}

// Status is what the operator overlay renders for a frame.
type Status struct {
	Target    domain.Color
	Detection Detection
	Elapsed   time.Duration
	Satisfied bool
}

// Overlay renders live feedback. Show returns true when the operator asked to abort.
type Overlay interface {
	Show(frame Frame, status Status) (abort bool)
}

// Outcome classifies how a hold attempt ended.
type Outcome string

const (
	OutcomeSatisfied         Outcome = "satisfied"
	OutcomeCameraUnavailable Outcome = "camera_unavailable"
	OutcomeStreamEnded       Outcome = "stream_ended"
	OutcomeTimedOut          Outcome = "timed_out"
	OutcomeAborted           Outcome = "aborted"
)

// HoldResult is returned by Run and Verify.
type HoldResult struct {
	Outcome    Outcome
	ProofFrame *Frame
	State      HoldState
	Frames     int
}

// Success reports whether the hold was satisfied and a proof frame captured.
func (r HoldResult) Success() bool {
	return r.Outcome == OutcomeSatisfied && r.ProofFrame != nil
}

// Config holds detector tuning.
type Config struct {
	Ranges         ColorRanges
	MinContourArea float64
	HoldDuration   time.Duration
}

// Detector runs the colour-hold loop.
type Detector struct {
	seg     Segmenter
	cfg     Config
	overlay Overlay
	logger  *zap.Logger
	now     func() time.Time
}

// NewDetector returns a Detector. Zero config fields take the package defaults. overlay may be nil.
func NewDetector(seg Segmenter, cfg Config, overlay Overlay, logger *zap.Logger) *Detector {
	if cfg.Ranges == nil {
		cfg.Ranges = DefaultColorRanges()
	}
	if cfg.MinContourArea <= 0 {
		cfg.MinContourArea = DefaultMinContourArea
	}
	if cfg.HoldDuration <= 0 {
		cfg.HoldDuration = DefaultHoldDuration
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{seg: seg, cfg: cfg, overlay: overlay, logger: logger, now: time.Now}
}

// Verify acquires a camera from opener, runs the hold loop and releases the camera on every exit path.
func (d *Detector) Verify(ctx context.Context, opener CameraOpener, color domain.Color) (HoldResult, error) {
	cam, err := opener.Open(ctx)
	if err != nil {
		d.logger.Error("no camera found", zap.Error(err))
		if !errors.Is(err, ErrCameraUnavailable) {
			err = fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
		}
		return HoldResult{Outcome: OutcomeCameraUnavailable, State: HoldState{TargetColor: color}}, err
	}
	defer func() {
		if cerr := cam.Close(); cerr != nil {
			d.logger.Warn("camera release failed", zap.Error(cerr))
		}
	}()
	return d.Run(ctx, cam, color)
}

type overlayItem struct {
	frame  Frame
	status Status
}

// Run consumes frames from cam until the colour has been held for the configured duration,
// the stream ends, or ctx is done. The frame that completes the hold is the proof frame.
func (d *Detector) Run(ctx context.Context, cam Camera, color domain.Color) (HoldResult, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	ranges := d.cfg.Ranges.For(string(color))
	state := NewHoldState(color)
	res := HoldResult{}

	var wg sync.WaitGroup
	var frames chan overlayItem
	if d.overlay != nil {
		frames = make(chan overlayItem, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range frames {
				if d.overlay.Show(it.frame, it.status) {
					cancel(ErrAborted)
				}
			}
		}()
		defer func() {
			close(frames)
			wg.Wait()
		}()
	}

	d.logger.Info("looking for colour", zap.String("color", string(color)))
	for {
		if ctx.Err() != nil {
			outcome, cerr := ctxOutcome(ctx)
			return d.finish(res, state, outcome, cerr)
		}
		frame, err := cam.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				outcome, cerr := ctxOutcome(ctx)
				return d.finish(res, state, outcome, cerr)
			}
			if errors.Is(err, io.EOF) {
				return d.finish(res, state, OutcomeStreamEnded, ErrStreamEnded)
			}
			return d.finish(res, state, OutcomeStreamEnded, fmt.Errorf("%w: %v", ErrCameraRead, err))
		}
		res.Frames++

		det, err := d.seg.Detect(frame, ranges, d.cfg.MinContourArea)
		if err != nil {
			d.logger.Warn("segmentation failed, treating frame as empty", zap.Int("seq", frame.Seq), zap.Error(err))
			det = Detection{}
		}
		now := frame.CapturedAt
		if now.IsZero() {
			now = d.now()
		}
		satisfied := state.Observe(det.Found, now, d.cfg.HoldDuration)

		if frames != nil {
			select {
			case frames <- overlayItem{frame: frame, status: Status{Target: color, Detection: det, Elapsed: state.Elapsed, Satisfied: satisfied}}:
			default:
			}
		}

		if satisfied {
			proof := frame
			res.ProofFrame = &proof
			d.logger.Info("physical challenge passed", zap.Duration("held", state.Elapsed), zap.Int("frames", res.Frames))
			return d.finish(res, state, OutcomeSatisfied, nil)
		}
	}
}

func (d *Detector) finish(res HoldResult, state *HoldState, outcome Outcome, err error) (HoldResult, error) {
	res.Outcome = outcome
	res.State = *state
	if err != nil {
		d.logger.Info("physical challenge ended", zap.String("outcome", string(outcome)), zap.Error(err))
	}
	return res, err
}

func ctxOutcome(ctx context.Context) (Outcome, error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return OutcomeTimedOut, ErrHoldTimeout
	}
	return OutcomeAborted, ErrAborted
}
