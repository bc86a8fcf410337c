// Package eventloop provides the single-goroutine scheduler the bot runs on,
// an event emitter dispatching through it and futures whose callbacks are
// delivered on it.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/small-frappuccino/soerbot/pkg/metrics"
)

// ErrLoopRunning is returned by Run when another Run call is active.
var ErrLoopRunning = errors.New("event loop already running")

// Scheduler accepts work for the loop goroutine and receives fatal errors.
type Scheduler interface {
	// Post queues fn. It reports false when the scheduler no longer accepts work.
	Post(fn func()) bool
	// Fail reports an error nobody handled. The first failure terminates the loop.
	Fail(err error)
}

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("event loop task panicked: %v", e.Value)
}

// Loop runs posted tasks one at a time, in FIFO order, on the goroutine that
// called Run. It is terminal: after Stop or a failure it never runs again.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
	running bool
	err     error

	metrics *metrics.Metrics
}

// New creates an idle loop. m may be nil.
func New(m *metrics.Metrics) *Loop {
	return &Loop{
		wake:    make(chan struct{}, 1),
		metrics: m,
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Post queues fn for the loop goroutine. Tasks posted before Run starts are
// kept and executed once it does.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
	return true
}

// Stop terminates the loop. Queued tasks are dropped.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()
	l.signal()
}

// Fail terminates the loop and makes Run return err. Only the first error is kept.
func (l *Loop) Fail(err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	if l.err == nil && !l.stopped {
		l.err = err
	}
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()
	l.signal()
}

// Stopped reports whether Stop or Fail has been called.
func (l *Loop) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// Run blocks executing tasks until the loop is stopped, a task fails or
// panics, or ctx is done. A plain Stop returns nil.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrLoopRunning
	}
	l.running = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	for {
		l.mu.Lock()
		if l.stopped {
			err := l.err
			l.mu.Unlock()
			return err
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.wake:
			}
			continue
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		if err := l.execute(fn); err != nil {
			l.Fail(err)
		}
	}
}

func (l *Loop) execute(fn func()) (err error) {
	if l.metrics != nil {
		metrics.Inc(l.metrics.LoopTasks)
	}
	defer func() {
		if r := recover(); r != nil {
			if l.metrics != nil {
				metrics.Inc(l.metrics.LoopPanics)
			}
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	fn()
	return nil
}
