package opencv

import (
	"runtime"
	"sync"
)

// uiThread runs functions on one goroutine locked to its OS thread. HighGUI windows must be
// created, drawn and destroyed from the same thread.
type uiThread struct {
	calls   chan func()
	done    chan struct{}
	started sync.Once
	stopped sync.Once
}

func newUIThread() *uiThread {
	return &uiThread{calls: make(chan func()), done: make(chan struct{})}
}

func (t *uiThread) start() {
	t.started.Do(func() {
		go func() {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			defer close(t.done)
			for f := range t.calls {
				f()
			}
		}()
	})
}

// do runs f on the thread and waits for it. It must not be called after stop.
func (t *uiThread) do(f func()) {
	t.start()
	finished := make(chan struct{})
	t.calls <- func() {
		defer close(finished)
		f()
	}
	<-finished
}

// stop ends the thread once pending calls have run. Safe to call more than once.
func (t *uiThread) stop() {
	t.start()
	t.stopped.Do(func() { close(t.calls) })
	<-t.done
}
