package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the pipeline's Prometheus metrics.
type Collector struct {
	RuleExecutions      *prometheus.CounterVec
	ExecutionDuration   *prometheus.HistogramVec
	SourceFailures      *prometheus.CounterVec
	DataQualityScore    *prometheus.HistogramVec
	InstanceTransitions *prometheus.CounterVec
	WorkflowConflicts   prometheus.Counter
	ValidationRuns      prometheus.Counter
}

func NewCollector() *Collector {
	return &Collector{
		RuleExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reporting_rule_executions_total",
			Help: "Automated rule executions by terminal status",
		}, []string{"status"}),

		ExecutionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reporting_execution_duration_seconds",
			Help:    "End to end rule execution duration",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"trigger_type"}),

		SourceFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reporting_source_failures_total",
			Help: "Aggregation source failures by source type",
		}, []string{"source_type"}),

		DataQualityScore: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reporting_data_quality_score",
			Help:    "Data quality score distribution per validation run",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}, []string{"organization_id"}),

		InstanceTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reporting_instance_transitions_total",
			Help: "Report instance status transitions",
		}, []string{"from", "to"}),

		WorkflowConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reporting_workflow_conflicts_total",
			Help: "Rejected status transitions",
		}),

		ValidationRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reporting_validation_runs_total",
			Help: "Validation engine invocations",
		}),
	}
}

// ObserveExecution records one finished rule execution.
func (c *Collector) ObserveExecution(triggerType, status string, duration time.Duration) {
	c.RuleExecutions.WithLabelValues(status).Inc()
	c.ExecutionDuration.WithLabelValues(triggerType).Observe(duration.Seconds())
}

// ObserveQuality records one validation run's score.
func (c *Collector) ObserveQuality(orgID string, score int) {
	c.ValidationRuns.Inc()
	c.DataQualityScore.WithLabelValues(orgID).Observe(float64(score))
}
