package events

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink exports events as Prometheus collectors under the vuflow namespace.
type PrometheusSink struct {
	mu sync.Mutex

	vusStarted *prometheus.CounterVec
	counters   *prometheus.CounterVec
	rates      *prometheus.CounterVec
	errorsSeen *prometheus.CounterVec
	matches    *prometheus.CounterVec
	responses  *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

func newVUCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vuflow",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewPrometheusSink creates the collectors. A nil registerer uses the default one.
func NewPrometheusSink(registerer prometheus.Registerer) *PrometheusSink {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &PrometheusSink{
		registerer: registerer,
		vusStarted: newVUCounterVec("vus_started_total", "Virtual users started", nil),
		counters:   newVUCounterVec("counter_total", "Named engine counters", []string{"name"}),
		rates:      newVUCounterVec("rate_total", "Named rate ticks", []string{"name"}),
		errorsSeen: newVUCounterVec("errors_total", "Errors reported by virtual users", nil),
		matches:    newVUCounterVec("matches_total", "Evaluated capture and match expressions", []string{"expression", "success"}),
		responses: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "vuflow",
				Name:      "response_seconds",
				Help:      "Latency between publish and acknowledge",
				Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (s *PrometheusSink) Register() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		s.vusStarted,
		s.counters,
		s.rates,
		s.errorsSeen,
		s.matches,
		s.responses,
	}
	for _, c := range collectors {
		if err := s.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	s.registered = true
	return nil
}

func (s *PrometheusSink) Emit(ev Event) {
	switch ev.Kind {
	case KindStarted:
		s.vusStarted.WithLabelValues().Inc()
	case KindCounter:
		s.counters.WithLabelValues(ev.Name).Add(float64(ev.Delta))
	case KindRate:
		s.rates.WithLabelValues(ev.Name).Inc()
	case KindError:
		s.errorsSeen.WithLabelValues().Inc()
	case KindMatch:
		expr := ""
		if ev.Match != nil {
			expr = ev.Match.Expression
		}
		success := "false"
		if ev.Success {
			success = "true"
		}
		s.matches.WithLabelValues(expr, success).Inc()
	case KindResponse:
		s.responses.WithLabelValues(statusLabel(ev.StatusCode)).Observe(ev.Latency.Seconds())
	}
}

func statusLabel(code int) string {
	if code == 0 {
		return "ok"
	}
	return "error"
}
