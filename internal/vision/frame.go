// Package vision implements the physical challenge: the user must keep an
// object of the target colour in view of the camera for a continuous period.
package vision

import (
	"context"
	"errors"
	"image"
	"time"
)

var (
	// ErrCameraUnavailable is returned when no camera device can be opened.
	ErrCameraUnavailable = errors.New("vision: camera unavailable")
	// ErrCameraRead is returned when an opened camera fails to deliver a frame.
	ErrCameraRead = errors.New("vision: camera read failed")
	// ErrStreamEnded is returned when the frame source is exhausted before the hold completed.
	ErrStreamEnded = errors.New("vision: frame stream ended")
	// ErrHoldTimeout is returned when the hold was not completed before the deadline.
	ErrHoldTimeout = errors.New("vision: hold timed out")
	// ErrAborted is returned when the attempt was cancelled (caller or operator).
	ErrAborted = errors.New("vision: aborted")
)

// Frame is one captured video frame.
type Frame struct {
	Seq        int
	CapturedAt time.Time
	Image      image.Image
}

// Camera delivers frames. Read returns io.EOF when the source is exhausted.
type Camera interface {
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// CameraOpener acquires a Camera. Open returns an error wrapping ErrCameraUnavailable when no device is usable.
type CameraOpener interface {
	Open(ctx context.Context) (Camera, error)
}

// CameraOpenerFunc adapts a function to CameraOpener.
type CameraOpenerFunc func(ctx context.Context) (Camera, error)

// Open calls f(ctx).
func (f CameraOpenerFunc) Open(ctx context.Context) (Camera, error) { return f(ctx) }
