package eventloop

import (
	"sync"

	"github.com/small-frappuccino/soerbot/pkg/metrics"
)

// Listener receives the arguments an event was emitted with.
type Listener func(args ...any)

type subscription struct {
	fn   Listener
	once bool
}

// Emitter keeps named listeners and dispatches emitted events through a
// Scheduler, so listeners always run on the loop goroutine.
type Emitter struct {
	sched   Scheduler
	metrics *metrics.Metrics

	mu        sync.Mutex
	listeners map[string][]*subscription
}

// NewEmitter binds an emitter to sched. m may be nil.
func NewEmitter(sched Scheduler, m *metrics.Metrics) *Emitter {
	return &Emitter{
		sched:     sched,
		metrics:   m,
		listeners: make(map[string][]*subscription),
	}
}

// On subscribes fn to every emission of event.
func (e *Emitter) On(event string, fn Listener) {
	e.add(event, fn, false)
}

// Once subscribes fn to the next emission of event only.
func (e *Emitter) Once(event string, fn Listener) {
	e.add(event, fn, true)
}

func (e *Emitter) add(event string, fn Listener, once bool) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.listeners[event] = append(e.listeners[event], &subscription{fn: fn, once: once})
	e.mu.Unlock()
}

// ListenerCount returns the number of listeners currently subscribed to event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}

// RemoveAllListeners drops every listener of event.
func (e *Emitter) RemoveAllListeners(event string) {
	e.mu.Lock()
	delete(e.listeners, event)
	e.mu.Unlock()
}

// Emit queues a dispatch of event on the scheduler. It reports whether the
// dispatch was accepted.
func (e *Emitter) Emit(event string, args ...any) bool {
	if e.metrics != nil {
		metrics.Inc(e.metrics.EventsEmitted, event)
	}
	return e.sched.Post(func() { e.dispatch(event, args) })
}

// dispatch runs on the loop. Once-listeners are consumed here, so a second
// emission can never reach them.
func (e *Emitter) dispatch(event string, args []any) {
	e.mu.Lock()
	subs := e.listeners[event]
	if len(subs) == 0 {
		e.mu.Unlock()
		return
	}
	run := make([]Listener, 0, len(subs))
	kept := subs[:0:0]
	for _, s := range subs {
		run = append(run, s.fn)
		if !s.once {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(e.listeners, event)
	} else {
		e.listeners[event] = kept
	}
	e.mu.Unlock()

	for _, fn := range run {
		fn(args...)
	}
}
