package automation

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Trigger types.
const (
	TriggerScheduled   = "scheduled"
	TriggerEventDriven = "event_driven"
	TriggerThreshold   = "threshold"
	TriggerManual      = "manual"
)

// Execution statuses.
const (
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
	ExecutionCancelled = "cancelled"
)

// TriggerConfig carries the trigger-type-specific settings.
// Scheduled rules use Schedule (cron expression); threshold rules
// watch Indicator against Threshold; event-driven rules match
// EventType.
type TriggerConfig struct {
	Schedule   string  `json:"schedule,omitempty"`
	EventType  string  `json:"event_type,omitempty"`
	Indicator  string  `json:"indicator,omitempty"`
	Threshold  float64 `json:"threshold,omitempty"`
	PeriodDays int     `json:"period_days,omitempty"`
}

// NotificationSpec declares where run outcomes are announced and
// whether failures escalate.
type NotificationSpec struct {
	WebhookURL     string   `json:"webhook_url,omitempty"`
	Recipients     []string `json:"recipients,omitempty"`
	NotifyOn       []string `json:"notify_on,omitempty"`
	EscalateOnFail bool     `json:"escalate_on_fail,omitempty"`
	EscalationURL  string   `json:"escalation_url,omitempty"`
}

// Rule is one automated reporting configuration: when to run, which
// template to run, and what to do with the outcome.
type Rule struct {
	ID             string                `db:"id" json:"id"`
	OrganizationID string                `db:"organization_id" json:"organization_id"`
	TemplateID     string                `db:"template_id" json:"template_id"`
	Name           string                `db:"name" json:"name"`
	TriggerType    string                `db:"trigger_type" json:"trigger_type"`
	Trigger        TriggerConfigValue    `db:"trigger_config" json:"trigger_config"`
	AutoSubmit     bool                  `db:"auto_submit" json:"auto_submit"`
	Notification   NotificationSpecValue `db:"notification_config" json:"notification_config"`
	Active         bool                  `db:"active" json:"active"`
	LastExecuted   *time.Time            `db:"last_executed" json:"last_executed,omitempty"`
	NextExecution  *time.Time            `db:"next_execution" json:"next_execution,omitempty"`
	CreatedBy      string                `db:"created_by" json:"created_by"`
	CreatedAt      time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time             `db:"updated_at" json:"updated_at"`
}

// Validate checks the rule definition before persistence.
func (r *Rule) Validate() error {
	if r.OrganizationID == "" {
		return fmt.Errorf("organization_id is required")
	}
	if r.TemplateID == "" {
		return fmt.Errorf("template_id is required")
	}
	switch r.TriggerType {
	case TriggerScheduled:
		if r.Trigger.Schedule == "" {
			return fmt.Errorf("scheduled rules require a schedule expression")
		}
	case TriggerEventDriven:
		if r.Trigger.EventType == "" {
			return fmt.Errorf("event-driven rules require an event type")
		}
	case TriggerThreshold:
		if r.Trigger.Indicator == "" {
			return fmt.Errorf("threshold rules require an indicator name")
		}
	case TriggerManual:
	default:
		return fmt.Errorf("unknown trigger type: %s", r.TriggerType)
	}
	return nil
}

// PerformanceMetrics summarizes one run for the execution record.
type PerformanceMetrics struct {
	AggregationMillis int64   `json:"aggregation_millis"`
	ValidationMillis  int64   `json:"validation_millis"`
	TotalMillis       int64   `json:"total_millis"`
	SourcesSucceeded  int     `json:"sources_succeeded"`
	SourcesFailed     int     `json:"sources_failed"`
	MeanQualityScore  float64 `json:"mean_quality_score"`
}

// ExecutionRecord is one appended entry in a rule's run history.
// Records are never updated after reaching a terminal status and
// never deleted except by retention.
type ExecutionRecord struct {
	ID         string                  `db:"id" json:"id"`
	RuleID     string                  `db:"rule_id" json:"rule_id"`
	Status     string                  `db:"status" json:"status"`
	InstanceID *string                 `db:"instance_id" json:"instance_id,omitempty"`
	Error      string                  `db:"error_detail" json:"error_detail,omitempty"`
	Metrics    PerformanceMetricsValue `db:"metrics" json:"metrics"`
	StartedAt  time.Time               `db:"started_at" json:"started_at"`
	EndedAt    *time.Time              `db:"ended_at" json:"ended_at,omitempty"`
}

// TriggerConfigValue stores TriggerConfig as jsonb.
type TriggerConfigValue TriggerConfig

func (t TriggerConfigValue) Value() (driver.Value, error) { return json.Marshal(t) }

func (t *TriggerConfigValue) Scan(value interface{}) error {
	return scanJSON(value, t, "TriggerConfigValue")
}

// NotificationSpecValue stores NotificationSpec as jsonb.
type NotificationSpecValue NotificationSpec

func (n NotificationSpecValue) Value() (driver.Value, error) { return json.Marshal(n) }

func (n *NotificationSpecValue) Scan(value interface{}) error {
	return scanJSON(value, n, "NotificationSpecValue")
}

// PerformanceMetricsValue stores PerformanceMetrics as jsonb.
type PerformanceMetricsValue PerformanceMetrics

func (p PerformanceMetricsValue) Value() (driver.Value, error) { return json.Marshal(p) }

func (p *PerformanceMetricsValue) Scan(value interface{}) error {
	return scanJSON(value, p, "PerformanceMetricsValue")
}

func scanJSON(value, target interface{}, typeName string) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into %s", value, typeName)
	}
	return json.Unmarshal(bytes, target)
}
