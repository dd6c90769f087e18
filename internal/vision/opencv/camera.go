// Package opencv binds the vision interfaces to OpenCV through gocv.
package opencv

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"proof-of-life-gate/internal/vision"
)

// DefaultIndices is the device probe order. -1 asks the backend for any available device.
var DefaultIndices = []int{0, 1, -1}

// Opener probes camera indices in order and returns the first one that opens.
type Opener struct {
	Indices []int
	Mirror  bool
	Logger  *zap.Logger
}

// NewOpener returns an Opener. Empty indices fall back to DefaultIndices.
func NewOpener(indices []int, mirror bool, logger *zap.Logger) *Opener {
	if len(indices) == 0 {
		indices = DefaultIndices
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Opener{Indices: indices, Mirror: mirror, Logger: logger}
}

// Open implements vision.CameraOpener.
func (o *Opener) Open(ctx context.Context) (vision.Camera, error) {
	for _, idx := range o.Indices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vc, err := gocv.OpenVideoCapture(idx)
		if err != nil {
			o.Logger.Debug("camera probe failed", zap.Int("index", idx), zap.Error(err))
			continue
		}
		if !vc.IsOpened() {
			_ = vc.Close()
			continue
		}
		o.Logger.Info("camera opened", zap.Int("index", idx))
		return &Camera{vc: vc, mat: gocv.NewMat(), mirror: o.Mirror, index: idx}, nil
	}
	return nil, fmt.Errorf("%w: tried indices %v", vision.ErrCameraUnavailable, o.Indices)
}

// Camera is a vision.Camera over a gocv.VideoCapture. Not safe for concurrent use.
type Camera struct {
	vc     *gocv.VideoCapture
	mat    gocv.Mat
	mirror bool
	index  int
	seq    int
}

// Read grabs the next frame. A failed grab is reported as io.EOF, matching a closed stream.
func (c *Camera) Read(ctx context.Context) (vision.Frame, error) {
	if err := ctx.Err(); err != nil {
		return vision.Frame{}, err
	}
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return vision.Frame{}, io.EOF
	}
	captured := time.Now()
	src := c.mat
	if c.mirror {
		flipped := gocv.NewMat()
		defer flipped.Close()
		gocv.Flip(c.mat, &flipped, 1)
		src = flipped
	}
	img, err := src.ToImage()
	if err != nil {
		return vision.Frame{}, fmt.Errorf("opencv: convert frame: %w", err)
	}
	f := vision.Frame{Seq: c.seq, CapturedAt: captured, Image: img}
	c.seq++
	return f, nil
}

// Close releases the device.
func (c *Camera) Close() error {
	_ = c.mat.Close()
	return c.vc.Close()
}
