package sndrcv

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters exposed for a Coordinator/Sniffer, the
// ambient observability layer this module adds beyond spec.md's
// scope (SPEC_FULL.md §2 "Metrics").
type Metrics struct {
	Sent       prometheus.Counter
	Answered   prometheus.Counter
	Unanswered prometheus.Counter
	Retries    prometheus.Counter
}

// NewMetrics registers a fresh counter set on reg, labeled by name so
// multiple coordinators in one process don't collide.
func NewMetrics(reg prometheus.Registerer, name string) (*Metrics, error) {
	m := &Metrics{
		Sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gosndrcv", Subsystem: name, Name: "sent_total",
			Help: "Total stimuli transmitted.",
		}),
		Answered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gosndrcv", Subsystem: name, Name: "answered_total",
			Help: "Total stimulus/reply pairs matched.",
		}),
		Unanswered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gosndrcv", Subsystem: name, Name: "unanswered_total",
			Help: "Total stimuli that never matched a reply.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gosndrcv", Subsystem: name, Name: "retries_total",
			Help: "Total retry passes performed.",
		}),
	}

	for _, c := range []prometheus.Collector{m.Sent, m.Answered, m.Unanswered, m.Retries} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
