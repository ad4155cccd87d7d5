package periodic

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStop returned (or wrapped) by a tick ends the task without reporting an error.
var ErrStop = errors.New("periodic: stop")

type Func func(ctx context.Context) error

type Option func(*Task)

// WithCeiling bounds the total lifetime of the task.
func WithCeiling(d time.Duration) Option {
	return func(t *Task) { t.ceiling = d }
}

// WithErrorHandler receives every tick error other than ErrStop. The task keeps running.
func WithErrorHandler(fn func(error)) Option {
	return func(t *Task) { t.onError = fn }
}

// Immediate runs the first tick right away instead of after one interval.
func Immediate() Option {
	return func(t *Task) { t.immediate = true }
}

// Task runs fn on a fixed interval until stopped, cancelled, past its ceiling,
// or until fn returns ErrStop.
type Task struct {
	interval  time.Duration
	ceiling   time.Duration
	immediate bool
	onError   func(error)

	fn     Func
	cancel context.CancelFunc
	done   chan struct{}
}

func Start(parent context.Context, interval time.Duration, fn Func, opts ...Option) *Task {
	t := &Task{
		interval: interval,
		fn:       fn,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.interval <= 0 {
		t.interval = time.Second
	}

	var ctx context.Context
	if t.ceiling > 0 {
		ctx, t.cancel = context.WithTimeout(parent, t.ceiling)
	} else {
		ctx, t.cancel = context.WithCancel(parent)
	}

	go t.loop(ctx)
	return t
}

// Stop cancels the task and waits for the running tick to return.
// Must not be called from inside the task's own tick.
func (t *Task) Stop() {
	t.cancel()
	<-t.done
}

func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) loop(ctx context.Context) {
	defer close(t.done)
	defer t.cancel()

	if t.immediate && !t.tick(ctx) {
		return
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.tick(ctx) {
				return
			}
		}
	}
}

// tick reports whether the loop should continue.
func (t *Task) tick(ctx context.Context) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			t.report(fmt.Errorf("periodic: tick panicked: %v", r))
			cont = true
		}
	}()

	err := t.fn(ctx)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrStop):
		return false
	default:
		t.report(err)
		return true
	}
}

func (t *Task) report(err error) {
	if t.onError != nil {
		t.onError(err)
	}
}
