// Package metrics exposes IntakePipe's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/BTreeMap/IntakePipe/internal/flow"
)

const namespace = "intakepipe"

// Recorder implements flow.Observer and the other hooks the service reports through.
type Recorder struct {
	startsTotal         *prometheus.CounterVec
	turnsTotal          *prometheus.CounterVec
	turnDuration        *prometheus.HistogramVec
	persistenceFailures prometheus.Counter
	outboxTotal         *prometheus.CounterVec
	fallbacksTotal      *prometheus.CounterVec
	jobsTotal           *prometheus.CounterVec
	jobDuration         *prometheus.HistogramVec
}

var _ flow.Observer = (*Recorder)(nil)

// NewRecorder registers the instruments with reg. A nil reg uses the default registerer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		startsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "starts_total",
				Help:      "Intake starts by kind (fresh, resumed, duplicate)",
			},
			[]string{"kind"},
		),
		turnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Processed answer turns by outcome",
			},
			[]string{"outcome"},
		),
		turnDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_duration_seconds",
				Help:      "Time spent processing one answer turn",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		persistenceFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persistence_failures_total",
				Help:      "Turns rejected because the checkpoint could not be saved",
			},
		),
		outboxTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_deliveries_total",
				Help:      "Outbox delivery attempts by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		fallbacksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "semantic_fallbacks_total",
				Help:      "Semantic checks answered by the rule-based fallback",
			},
			[]string{"op"},
		),
		jobsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "maintenance_runs_total",
				Help:      "Maintenance job runs by job and status",
			},
			[]string{"job", "status"},
		),
		jobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "maintenance_duration_seconds",
				Help:      "Maintenance job run time",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"job"},
		),
	}
}

func (r *Recorder) StartRecorded(kind string) {
	r.startsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) TurnRecorded(outcome string, elapsed time.Duration) {
	r.turnsTotal.WithLabelValues(outcome).Inc()
	r.turnDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (r *Recorder) PersistenceFailed() {
	r.persistenceFailures.Inc()
}

// OutboxDelivery matches store.OutboxObserver.
func (r *Recorder) OutboxDelivery(kind, outcome string) {
	r.outboxTotal.WithLabelValues(kind, outcome).Inc()
}

// SemanticFallback matches the validate.WithFallbackHook callback.
func (r *Recorder) SemanticFallback(op string, _ error) {
	r.fallbacksTotal.WithLabelValues(op).Inc()
}

// JobFinished matches scheduler.JobObserver.
func (r *Recorder) JobFinished(name string, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.jobsTotal.WithLabelValues(name, status).Inc()
	r.jobDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}
