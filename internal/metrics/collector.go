package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records orchestration and handoff metrics.
type Collector struct {
	// Task metrics
	taskExecutionsTotal   *prometheus.CounterVec
	taskExecutionDuration *prometheus.HistogramVec
	taskRetriesTotal      prometheus.Counter
	replansTotal          *prometheus.CounterVec

	// Handoff metrics
	handoffsTotal   *prometheus.CounterVec
	handoffDuration *prometheus.HistogramVec
	rollbacksTotal  prometheus.Counter

	logger *zap.Logger
}

// NewCollector creates a metrics collector registered against the given
// registerer. Passing nil registers against the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.taskExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_executions_total",
			Help:      "Total number of task execution attempts",
		},
		[]string{"kind", "outcome"},
	)

	c.taskExecutionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_execution_duration_seconds",
			Help:      "Task execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"kind"},
	)

	c.taskRetriesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_retries_total",
			Help:      "Total number of task retries",
		},
	)

	c.replansTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replans_total",
			Help:      "Total number of replanning invocations",
		},
		[]string{"outcome"}, // substituted, exhausted
	)

	c.handoffsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Total number of agent handoffs",
		},
		[]string{"kind", "status"},
	)

	c.handoffDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handoff_duration_seconds",
			Help:      "Handoff protocol duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	c.rollbacksTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoff_rollbacks_total",
			Help:      "Total number of handoff rollbacks",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordTaskExecution records one task execution attempt.
func (c *Collector) RecordTaskExecution(kind, outcome string, duration time.Duration) {
	c.taskExecutionsTotal.WithLabelValues(kind, outcome).Inc()
	c.taskExecutionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordTaskRetry records one task retry.
func (c *Collector) RecordTaskRetry() {
	c.taskRetriesTotal.Inc()
}

// RecordReplan records one replanning invocation.
func (c *Collector) RecordReplan(outcome string) {
	c.replansTotal.WithLabelValues(outcome).Inc()
}

// RecordHandoff records one completed handoff protocol run.
func (c *Collector) RecordHandoff(kind, status string, duration time.Duration) {
	c.handoffsTotal.WithLabelValues(kind, status).Inc()
	c.handoffDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRollback records one handoff rollback.
func (c *Collector) RecordRollback() {
	c.rollbacksTotal.Inc()
}
