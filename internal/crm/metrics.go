package crm

import (
	"encoding/json"
	"iter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MikeMC777/crm-edge/internal/upstream"
)

// Metrics for upstream calls and the join. A nil *Metrics records nothing.
type Metrics struct {
	UpstreamCalls    *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	JoinInFlight     prometheus.Gauge
	JoinPairs        prometheus.Counter
	JoinFailures     prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UpstreamCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crm_edge",
				Subsystem: "upstream",
				Name:      "calls_total",
				Help:      "Upstream streamed calls by upstream and outcome",
			},
			[]string{"upstream", "outcome"},
		),
		UpstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "crm_edge",
				Subsystem: "upstream",
				Name:      "call_duration_seconds",
				Help:      "Time from request to end of the upstream stream",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"upstream"},
		),
		JoinInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crm_edge",
			Subsystem: "join",
			Name:      "orders_fetches_in_flight",
			Help:      "Nested orders fetches currently running",
		}),
		JoinPairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crm_edge",
			Subsystem: "join",
			Name:      "pairs_emitted_total",
			Help:      "CustomerOrders pairs emitted",
		}),
		JoinFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crm_edge",
			Subsystem: "join",
			Name:      "failures_total",
			Help:      "Joins terminated by a nested fetch failure",
		}),
	}
	reg.MustRegister(m.UpstreamCalls, m.UpstreamDuration, m.JoinInFlight, m.JoinPairs, m.JoinFailures)
	return m
}

// observe wraps an upstream stream, timing it from first pull to end and
// counting its outcome.
func (m *Metrics) observe(name string, seq iter.Seq2[json.RawMessage, error]) iter.Seq2[json.RawMessage, error] {
	if m == nil {
		return seq
	}
	return func(yield func(json.RawMessage, error) bool) {
		start := time.Now()
		var failure error
		defer func() {
			m.UpstreamDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			m.UpstreamCalls.WithLabelValues(name, upstream.Kind(failure)).Inc()
		}()
		for raw, err := range seq {
			if err != nil {
				failure = err
			}
			if !yield(raw, err) {
				return
			}
		}
	}
}

func (m *Metrics) fetchStarted() {
	if m != nil {
		m.JoinInFlight.Inc()
	}
}

func (m *Metrics) fetchDone() {
	if m != nil {
		m.JoinInFlight.Dec()
	}
}

func (m *Metrics) pairEmitted() {
	if m != nil {
		m.JoinPairs.Inc()
	}
}

func (m *Metrics) joinFailed() {
	if m != nil {
		m.JoinFailures.Inc()
	}
}
