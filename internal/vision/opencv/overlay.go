package opencv

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"proof-of-life-gate/internal/vision"
)

// WindowTitle is the operator window name.
const WindowTitle = "Proof of Life Scanner"

var (
	green = color.RGBA{G: 255, A: 255}
	red   = color.RGBA{R: 255, A: 255}
)

// Window renders detector feedback. Every HighGUI call runs on a dedicated OS thread and
// the native window is created lazily on the first frame. HighGUI on macOS needs the process
// main thread, so the overlay targets Linux and Windows.
type Window struct {
	ui *uiThread

	mu     sync.Mutex
	win    *gocv.Window
	closed bool
}

// NewWindow returns a Window. No native window exists until the first Show.
func NewWindow() *Window {
	return &Window{ui: newUIThread()}
}

// Show implements vision.Overlay. Pressing q aborts the attempt.
func (w *Window) Show(frame vision.Frame, status vision.Status) bool {
	if frame.Image == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	var abort bool
	w.ui.do(func() {
		img, err := gocv.ImageToMatRGB(frame.Image)
		if err != nil {
			return
		}
		defer img.Close()

		if status.Detection.Found {
			gocv.Rectangle(&img, status.Detection.Box, green, 2)
		}
		gocv.PutText(&img, Caption(status), image.Pt(50, 50), gocv.FontHersheySimplex, 1, captionColor(status), 2)
		if w.win == nil {
			w.win = gocv.NewWindow(WindowTitle)
		}
		w.win.IMShow(img)
		abort = w.win.WaitKey(1)&0xFF == 'q'
	})
	return abort
}

// Close destroys the window and stops its thread. Later calls to Show are no-ops.
func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	var err error
	w.ui.do(func() {
		if w.win != nil {
			err = w.win.Close()
		}
	})
	w.ui.stop()
	return err
}

// Caption is the overlay text for status.
func Caption(status vision.Status) string {
	if status.Detection.Found {
		return fmt.Sprintf("HOLD STEADY: %ds", int(status.Elapsed.Seconds()))
	}
	return "SHOW ME " + strings.ToUpper(string(status.Target))
}

func captionColor(status vision.Status) color.RGBA {
	if status.Detection.Found {
		return green
	}
	return red
}
