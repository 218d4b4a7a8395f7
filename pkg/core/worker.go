package core

import (
	"sync"
	"time"
)

// Worker runs f after d, then after each duration returned by f.
// Zero duration or Stop ends the worker.
type Worker struct {
	timer *time.Timer
	done  chan struct{}
	once  sync.Once
}

func NewWorker(d time.Duration, f func() time.Duration) *Worker {
	w := &Worker{timer: time.NewTimer(d), done: make(chan struct{})}
	go w.run(f)
	return w
}

func (w *Worker) run(f func() time.Duration) {
	defer w.timer.Stop()

	for {
		select {
		case <-w.timer.C:
		case <-w.done:
			return
		}

		d := f()
		if d <= 0 {
			return
		}
		w.timer.Reset(d)
	}
}

// Do - instant timer run
func (w *Worker) Do() {
	if w == nil {
		return
	}
	w.timer.Reset(0)
}

func (w *Worker) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		close(w.done)
	})
}
