package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Task is a cancellable unit of scheduled work owned by one flow step.
type Task struct {
	name      string
	cancelled atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc

	mu    sync.Mutex
	timer clockwork.Timer
}

func newTask(name string) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	return &Task{name: name, ctx: ctx, cancel: cancel}
}

func (t *Task) Name() string { return t.name }

// Cancel stops the task. Callbacks already queued observe Cancelled and return
// without effect. Safe to call more than once and from any goroutine.
func (t *Task) Cancel() {
	if t == nil || !t.cancelled.CompareAndSwap(false, true) {
		return
	}
	t.cancel()
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
}

func (t *Task) Cancelled() bool {
	return t == nil || t.cancelled.Load()
}

// Context is cancelled together with the task; in-flight fetches use it.
func (t *Task) Context() context.Context { return t.ctx }

func (t *Task) schedule(l *Loop, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled.Load() {
		return
	}
	t.timer = l.clock.AfterFunc(d, fn)
}

// Poll runs fetch off the loop every interval and hands each result to handle
// on the loop. The next fetch is scheduled only after handle returns true, so
// fetches never overlap. With immediate set the first fetch starts right away.
func Poll[T any](l *Loop, name string, interval time.Duration, immediate bool, fetch func(ctx context.Context) (T, error), handle func(T, error) bool) *Task {
	t := newTask(name)

	var tick func()
	tick = func() {
		if t.Cancelled() {
			return
		}
		go func() {
			v, err := fetch(t.ctx)
			l.Post(func() {
				if t.Cancelled() {
					return
				}
				if handle(v, err) {
					t.schedule(l, interval, tick)
				}
			})
		}()
	}

	if immediate {
		tick()
	} else {
		t.schedule(l, interval, tick)
	}
	return t
}

// Every calls fn on the loop every interval until fn returns false or the
// task is cancelled.
func Every(l *Loop, name string, interval time.Duration, fn func() bool) *Task {
	t := newTask(name)

	var tick func()
	tick = func() {
		l.Post(func() {
			if t.Cancelled() {
				return
			}
			if fn() {
				t.schedule(l, interval, tick)
			}
		})
	}
	t.schedule(l, interval, tick)
	return t
}

// After calls fn on the loop once d has elapsed, unless cancelled first.
func After(l *Loop, name string, d time.Duration, fn func()) *Task {
	t := newTask(name)
	t.schedule(l, d, func() {
		l.Post(func() {
			if t.Cancelled() {
				return
			}
			t.Cancel()
			fn()
		})
	})
	return t
}

// Go runs fetch off the loop once and delivers the result to handle on the
// loop, unless the task is cancelled first.
func Go[T any](l *Loop, name string, fetch func(ctx context.Context) (T, error), handle func(T, error)) *Task {
	return Poll(l, name, 0, true, fetch, func(v T, err error) bool {
		handle(v, err)
		return false
	})
}
