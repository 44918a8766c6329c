package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vantage-grc/reporting-pipeline/internal/config"
	"github.com/vantage-grc/reporting-pipeline/internal/validation"
)

func newTestScheduler(store *fakeRuleStore, workflow *fakeWorkflow) *Scheduler {
	executor, _ := newTestExecutor(store,
		&fakeAggregator{results: healthyResults()},
		&fakeValidator{results: []validation.Result{
			{RuleID: "v1", Severity: validation.SeverityError, Status: validation.StatusPassed},
		}},
		workflow)

	cfg := config.SchedulerConfig{
		PassSchedule:       "0 */5 * * * *",
		RetentionSchedule:  "0 0 3 * * *",
		ExecutionRetention: 90 * 24 * time.Hour,
		RunTimeout:         time.Minute,
	}
	return NewScheduler(cfg, store, executor, zap.NewNop())
}

func TestExecuteScheduledReportsSelectsDueRules(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	due := testRule()
	due.NextExecution = &past

	notDue := testRule()
	notDue.ID = "rule-2"
	notDue.NextExecution = &future

	inactive := testRule()
	inactive.ID = "rule-3"
	inactive.Active = false
	inactive.NextExecution = &past

	store := newFakeRuleStore(due, notDue, inactive)
	workflow := &fakeWorkflow{}
	scheduler := newTestScheduler(store, workflow)

	selectedAt := time.Now().UTC()
	require.NoError(t, scheduler.ExecuteScheduledReports(context.Background()))

	require.Len(t, store.executions, 1, "only the due active rule runs")
	assert.Equal(t, "rule-1", store.executions[0].RuleID)

	require.NotNil(t, due.LastExecuted)
	require.NotNil(t, due.NextExecution)
	assert.True(t, due.NextExecution.After(selectedAt),
		"next execution advances strictly past the selection time")

	assert.Nil(t, notDue.LastExecuted)
	assert.Nil(t, inactive.LastExecuted)
}

func TestExecuteScheduledReportsEmptyPass(t *testing.T) {
	store := newFakeRuleStore()
	scheduler := newTestScheduler(store, &fakeWorkflow{})

	require.NoError(t, scheduler.ExecuteScheduledReports(context.Background()))
	assert.Empty(t, store.executions)
}

func TestTriggerEventMatchesByType(t *testing.T) {
	matching := testRule()
	matching.TriggerType = TriggerEventDriven
	matching.Trigger = TriggerConfigValue{EventType: "incident_closed"}

	other := testRule()
	other.ID = "rule-2"
	other.TriggerType = TriggerEventDriven
	other.Trigger = TriggerConfigValue{EventType: "control_test_completed"}

	store := newFakeRuleStore(matching, other)
	scheduler := newTestScheduler(store, &fakeWorkflow{})

	require.NoError(t, scheduler.TriggerEvent(context.Background(), "incident_closed"))

	require.Len(t, store.executions, 1)
	assert.Equal(t, "rule-1", store.executions[0].RuleID)
}

func TestTriggerThresholdFiresOnBreach(t *testing.T) {
	rule := testRule()
	rule.TriggerType = TriggerThreshold
	rule.Trigger = TriggerConfigValue{Indicator: "fraud_rate", Threshold: 5.0}

	store := newFakeRuleStore(rule)
	scheduler := newTestScheduler(store, &fakeWorkflow{})
	ctx := context.Background()

	require.NoError(t, scheduler.TriggerThreshold(ctx, "fraud_rate", 3.0))
	assert.Empty(t, store.executions, "below threshold does not fire")

	require.NoError(t, scheduler.TriggerThreshold(ctx, "other_indicator", 10.0))
	assert.Empty(t, store.executions, "different indicator does not fire")

	require.NoError(t, scheduler.TriggerThreshold(ctx, "fraud_rate", 6.5))
	require.Len(t, store.executions, 1)
}

func TestGenerateReportRunsManually(t *testing.T) {
	rule := testRule()
	rule.TriggerType = TriggerManual

	store := newFakeRuleStore(rule)
	scheduler := newTestScheduler(store, &fakeWorkflow{})

	record, err := scheduler.GenerateReport(context.Background(), "rule-1")
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, record.Status)
	assert.NotNil(t, rule.LastExecuted)
}

func TestGenerateReportRejectsInactiveRule(t *testing.T) {
	rule := testRule()
	rule.Active = false

	store := newFakeRuleStore(rule)
	scheduler := newTestScheduler(store, &fakeWorkflow{})

	_, err := scheduler.GenerateReport(context.Background(), "rule-1")
	assert.Error(t, err)
}

func TestNextExecutionFollowsSchedule(t *testing.T) {
	rule := testRule()
	rule.Trigger = TriggerConfigValue{Schedule: "0 6 1 * *"}

	after := time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)
	next := NextExecution(rule, after)

	require.NotNil(t, next)
	assert.Equal(t, time.Date(2026, 9, 1, 6, 0, 0, 0, time.UTC), *next)
}

func TestNextExecutionNilForUnscheduledTriggers(t *testing.T) {
	rule := testRule()
	rule.TriggerType = TriggerManual
	assert.Nil(t, NextExecution(rule, time.Now()))
}

func TestRuleValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Rule)
		wantErr bool
	}{
		{"valid scheduled rule", func(r *Rule) {}, false},
		{"scheduled without schedule", func(r *Rule) { r.Trigger.Schedule = "" }, true},
		{"event-driven without event type", func(r *Rule) {
			r.TriggerType = TriggerEventDriven
		}, true},
		{"threshold without indicator", func(r *Rule) {
			r.TriggerType = TriggerThreshold
		}, true},
		{"manual needs no trigger config", func(r *Rule) {
			r.TriggerType = TriggerManual
			r.Trigger = TriggerConfigValue{}
		}, false},
		{"unknown trigger type", func(r *Rule) { r.TriggerType = "webhook" }, true},
		{"missing template", func(r *Rule) { r.TemplateID = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := testRule()
			tt.mutate(rule)
			err := rule.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
