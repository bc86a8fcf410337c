package metrics

import "github.com/prometheus/client_golang/prometheus"

type Observer interface {
	Observe(val float64, labels ...string)

	prometheus.Collector
}

// Metrics groups the collectors updated by the event loop and the command
// dispatcher. A nil *Metrics is valid and records nothing.
type Metrics struct {
	LoopTasks        Observer
	LoopPanics       Observer
	EventsEmitted    Observer
	CommandsExecuted Observer
	CommandsRejected Observer
	CommandPanics    Observer
}

// New builds the default prometheus-backed metrics set.
func New() *Metrics {
	return &Metrics{
		LoopTasks: NewPromCounter(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "soerbot",
			Subsystem: "loop",
			Name:      "tasks",
			Help:      "Number of tasks executed by the event loop.",
		})),
		LoopPanics: NewPromCounter(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "soerbot",
			Subsystem: "loop",
			Name:      "panics",
			Help:      "Number of event loop tasks that panicked.",
		})),
		EventsEmitted: NewPromCounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soerbot",
			Subsystem: "events",
			Name:      "emitted",
			Help:      "Number of client events emitted, by event name.",
		}, []string{"event"})),
		CommandsExecuted: NewPromCounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soerbot",
			Subsystem: "commands",
			Name:      "executed",
			Help:      "Number of command invocations, by command name.",
		}, []string{"command"})),
		CommandsRejected: NewPromCounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soerbot",
			Subsystem: "commands",
			Name:      "rejected",
			Help:      "Number of command invocations refused before execution, by reason.",
		}, []string{"reason"})),
		CommandPanics: NewPromCounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soerbot",
			Subsystem: "commands",
			Name:      "panics",
			Help:      "Number of command handlers that panicked, by command name.",
		}, []string{"command"})),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{
		m.LoopTasks,
		m.LoopPanics,
		m.EventsEmitted,
		m.CommandsExecuted,
		m.CommandsRejected,
		m.CommandPanics,
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Inc adds one to o when both the set and the observer exist.
func Inc(o Observer, labels ...string) {
	if o == nil {
		return
	}
	o.Observe(1, labels...)
}
