package eventloop

import "sync"

// Future is the pending result of asynchronous work. Its callbacks are always
// delivered on the scheduler it was created with.
type Future struct {
	sched Scheduler

	mu       sync.Mutex
	resolved bool
	err      error
	waiters  []func(error)
}

func newFuture(sched Scheduler) *Future {
	return &Future{sched: sched}
}

// Async runs fn on its own goroutine and settles the returned future with its result.
func Async(sched Scheduler, fn func() error) *Future {
	f := newFuture(sched)
	go func() {
		f.settle(fn())
	}()
	return f
}

// Resolved returns a future already settled successfully.
func Resolved(sched Scheduler) *Future {
	f := newFuture(sched)
	f.settle(nil)
	return f
}

// Rejected returns a future already settled with err.
func Rejected(sched Scheduler, err error) *Future {
	f := newFuture(sched)
	f.settle(err)
	return f
}

func (f *Future) settle(err error) {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return
	}
	f.resolved = true
	f.err = err
	waiters := f.waiters
	f.waiters = nil
	f.mu.Unlock()

	for _, w := range waiters {
		w(err)
	}
}

// Done registers the final observers of the future. When onError is nil a
// failure is handed to the scheduler's Fail, which terminates the loop.
func (f *Future) Done(onSuccess func(), onError func(error)) {
	deliver := func(err error) {
		f.sched.Post(func() {
			switch {
			case err == nil:
				if onSuccess != nil {
					onSuccess()
				}
			case onError != nil:
				onError(err)
			default:
				f.sched.Fail(err)
			}
		})
	}

	f.mu.Lock()
	if !f.resolved {
		f.waiters = append(f.waiters, deliver)
		f.mu.Unlock()
		return
	}
	err := f.err
	f.mu.Unlock()
	deliver(err)
}

// Wait blocks until the future settles and returns its error. It must not be
// called from the loop goroutine.
func (f *Future) Wait() error {
	ch := make(chan error, 1)
	f.mu.Lock()
	if f.resolved {
		err := f.err
		f.mu.Unlock()
		return err
	}
	f.waiters = append(f.waiters, func(err error) { ch <- err })
	f.mu.Unlock()
	return <-ch
}
