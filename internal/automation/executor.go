package automation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vantage-grc/reporting-pipeline/internal/aggregation"
	"github.com/vantage-grc/reporting-pipeline/internal/database"
	"github.com/vantage-grc/reporting-pipeline/internal/lifecycle"
	"github.com/vantage-grc/reporting-pipeline/internal/metrics"
	"github.com/vantage-grc/reporting-pipeline/internal/registry"
	"github.com/vantage-grc/reporting-pipeline/internal/validation"
)

// RuleStore is the rule and execution persistence the executor
// drives. *Repository implements it.
type RuleStore interface {
	GetRule(ctx context.Context, id string) (*Rule, error)
	ListDueScheduledRules(ctx context.Context, now time.Time) ([]*Rule, error)
	ListActiveByTrigger(ctx context.Context, triggerType string) ([]*Rule, error)
	MarkExecuted(ctx context.Context, ruleID string, executedAt time.Time, next *time.Time) error
	AppendExecution(ctx context.Context, record *ExecutionRecord) error
	FinishExecution(ctx context.Context, record *ExecutionRecord) error
	PruneExecutions(ctx context.Context, cutoff time.Time) (int64, error)
}

// TemplateStore resolves the rule's target template.
type TemplateStore interface {
	GetByID(ctx context.Context, id string) (*registry.Template, error)
}

// Aggregator collects source aggregates for a period.
type Aggregator interface {
	Aggregate(ctx context.Context, orgID string, requirements []aggregation.SourceRequirement, period aggregation.Period) ([]aggregation.Result, error)
}

// Validator evaluates template rules against merged aggregates.
type Validator interface {
	Evaluate(ctx context.Context, instanceID string, rules []validation.Rule, payload map[string]interface{}) []validation.Result
}

// ResultWriter persists an instance's validation result set.
type ResultWriter interface {
	ReplaceForInstance(ctx context.Context, instanceID string, results []validation.Result) error
}

// Workflow creates and advances report instances.
type Workflow interface {
	CreateInstance(ctx context.Context, instance *lifecycle.Instance, steps []lifecycle.ApprovalStep) (*lifecycle.Instance, error)
	Transition(ctx context.Context, id, expected, next, actor string) error
	Submit(ctx context.Context, id, actor, submissionRef string) error
	DeleteInstance(ctx context.Context, id string) error
}

// Notifier announces run outcomes per the rule's notification
// settings.
type Notifier interface {
	NotifyExecution(ctx context.Context, rule *Rule, record *ExecutionRecord)
}

// Locker holds a per-rule run lock so a rule never has two
// executions in flight.
type Locker interface {
	Acquire(ctx context.Context, ruleID string) (bool, error)
	Release(ctx context.Context, ruleID string) error
}

// ErrRuleLocked is returned when a run is already in flight for the
// rule.
var ErrRuleLocked = fmt.Errorf("rule execution already in flight")

const automationActor = "automation"

// Executor runs one automated reporting rule end to end:
// aggregation, validation, instance creation, and the execution
// record bookkeeping around them.
type Executor struct {
	rules     RuleStore
	templates TemplateStore
	engine    Aggregator
	validator Validator
	results   ResultWriter
	workflow  Workflow
	notifier  Notifier
	locker    Locker
	collector *metrics.Collector
	logger    *zap.Logger
}

func NewExecutor(
	rules RuleStore,
	templates TemplateStore,
	engine Aggregator,
	validator Validator,
	results ResultWriter,
	workflow Workflow,
	notifier Notifier,
	locker Locker,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		rules:     rules,
		templates: templates,
		engine:    engine,
		validator: validator,
		results:   results,
		workflow:  workflow,
		notifier:  notifier,
		locker:    locker,
		collector: collector,
		logger:    logger,
	}
}

// Execute runs one rule. The execution record is appended as running
// before any work starts and finished exactly once. A run with no
// usable sources is failed and creates no instance; a cancelled run
// is recorded as cancelled and creates no instance.
func (e *Executor) Execute(ctx context.Context, rule *Rule) (*ExecutionRecord, error) {
	acquired, err := e.locker.Acquire(ctx, rule.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !acquired {
		return nil, ErrRuleLocked
	}
	defer func() {
		if err := e.locker.Release(context.Background(), rule.ID); err != nil {
			e.logger.Warn("Failed to release run lock",
				zap.String("rule_id", rule.ID), zap.Error(err))
		}
	}()

	record := &ExecutionRecord{RuleID: rule.ID}
	if err := e.rules.AppendExecution(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record execution start: %w", err)
	}

	started := time.Now()
	e.run(ctx, rule, record)
	if e.collector != nil {
		e.collector.ObserveExecution(rule.TriggerType, record.Status, time.Since(started))
	}

	// The run context may already be cancelled; the terminal record
	// must still land.
	if err := e.rules.FinishExecution(context.Background(), record); err != nil {
		e.logger.Error("Failed to finish execution record",
			zap.String("execution_id", record.ID), zap.Error(err))
	}
	if e.notifier != nil {
		e.notifier.NotifyExecution(context.Background(), rule, record)
	}

	e.logger.Info("Rule execution finished",
		zap.String("rule_id", rule.ID),
		zap.String("execution_id", record.ID),
		zap.String("status", record.Status))
	return record, nil
}

func (e *Executor) run(ctx context.Context, rule *Rule, record *ExecutionRecord) {
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			record.Status = ExecutionFailed
			record.Error = fmt.Sprintf("execution panic: %v", r)
		}
	}()

	template, err := e.templates.GetByID(ctx, rule.TemplateID)
	if err != nil {
		record.Status = ExecutionFailed
		record.Error = fmt.Sprintf("failed to load template: %v", err)
		return
	}

	period := ComputePeriod(rule, time.Now().UTC())

	aggStart := time.Now()
	results, err := e.engine.Aggregate(ctx, rule.OrganizationID, template.Sources, period)
	aggDuration := time.Since(aggStart)
	if err != nil {
		if ctx.Err() != nil {
			record.Status = ExecutionCancelled
			record.Error = ctx.Err().Error()
		} else {
			record.Status = ExecutionFailed
			record.Error = fmt.Sprintf("aggregation failed: %v", err)
		}
		return
	}

	succeeded, failed := 0, 0
	scoreSum := 0.0
	for _, result := range results {
		if result.Failed {
			failed++
			if e.collector != nil {
				e.collector.SourceFailures.WithLabelValues(result.SourceType).Inc()
			}
			continue
		}
		succeeded++
		scoreSum += float64(result.QualityScore)
	}
	if succeeded == 0 {
		record.Status = ExecutionFailed
		record.Error = "no data sources produced usable data"
		return
	}

	merged := aggregation.MergePayloads(results)
	instanceID := uuid.New().String()

	valStart := time.Now()
	checkResults := e.validator.Evaluate(ctx, instanceID, template.Rules, merged)
	summary := validation.Summarize(checkResults)
	valDuration := time.Since(valStart)
	if e.collector != nil {
		e.collector.ObserveQuality(rule.OrganizationID, summary.DataQualityScore)
	}

	if ctx.Err() != nil {
		record.Status = ExecutionCancelled
		record.Error = ctx.Err().Error()
		return
	}

	autoSubmit := rule.AutoSubmit && summary.OverallStatus == validation.StatusPassed

	instance := &lifecycle.Instance{
		ID:             instanceID,
		TemplateID:     template.ID,
		OrganizationID: rule.OrganizationID,
		PeriodStart:    period.Start,
		PeriodEnd:      period.End,
		DueDate:        dueDate(period, template.Submission.DueDayOfMonth),
		Status:         initialStatus(summary),
		AggregatedData: aggregation.InstancePayload(results, merged),
		ValidationSummary: database.JSONMap{
			"total":              summary.Total,
			"passed":             summary.Passed,
			"failed":             summary.Failed,
			"warnings":           summary.Warnings,
			"error_failures":     summary.ErrorFailures,
			"data_quality_score": summary.DataQualityScore,
			"overall_status":     string(summary.OverallStatus),
		},
		CreatedBy: automationActor,
	}

	var steps []lifecycle.ApprovalStep
	if !autoSubmit {
		steps = approvalSteps(template.Submission.ApprovalRoles)
	}

	if _, err := e.workflow.CreateInstance(ctx, instance, steps); err != nil {
		record.Status = ExecutionFailed
		record.Error = fmt.Sprintf("failed to create report instance: %v", err)
		return
	}
	if err := e.results.ReplaceForInstance(ctx, instanceID, checkResults); err != nil {
		// A run that cannot land its result set leaves no instance
		// behind.
		if deleteErr := e.workflow.DeleteInstance(context.Background(), instanceID); deleteErr != nil {
			e.logger.Error("Failed to discard instance of a failed run",
				zap.String("instance_id", instanceID), zap.Error(deleteErr))
		}
		if ctx.Err() != nil {
			record.Status = ExecutionCancelled
			record.Error = ctx.Err().Error()
		} else {
			record.Status = ExecutionFailed
			record.Error = fmt.Sprintf("failed to persist validation results: %v", err)
		}
		return
	}

	if autoSubmit {
		if err := e.autoAdvance(ctx, instanceID); err != nil {
			e.logger.Warn("Auto-submit halted, instance left for manual handling",
				zap.String("instance_id", instanceID), zap.Error(err))
		}
	}

	mean := scoreSum / float64(succeeded)
	record.Status = ExecutionCompleted
	record.InstanceID = &instanceID
	record.Metrics = PerformanceMetricsValue{
		AggregationMillis: aggDuration.Milliseconds(),
		ValidationMillis:  valDuration.Milliseconds(),
		TotalMillis:       time.Since(started).Milliseconds(),
		SourcesSucceeded:  succeeded,
		SourcesFailed:     failed,
		MeanQualityScore:  math.Round(mean*100) / 100,
	}
}

// autoAdvance walks a fully passing instance through review and
// approval to submission.
func (e *Executor) autoAdvance(ctx context.Context, instanceID string) error {
	if err := e.workflow.Transition(ctx, instanceID, lifecycle.StatusInProgress, lifecycle.StatusReview, automationActor); err != nil {
		return err
	}
	if err := e.workflow.Transition(ctx, instanceID, lifecycle.StatusReview, lifecycle.StatusApproved, automationActor); err != nil {
		return err
	}
	reference := fmt.Sprintf("AUTO-%s", uuid.New().String()[:8])
	return e.workflow.Submit(ctx, instanceID, automationActor, reference)
}

// initialStatus picks where an automation-created instance starts:
// review when any error-severity rule failed, in_progress otherwise.
func initialStatus(summary validation.Summary) string {
	if summary.ErrorFailures > 0 {
		return lifecycle.StatusReview
	}
	return lifecycle.StatusInProgress
}

// ComputePeriod returns the reporting period for a run. Default is
// the prior full calendar month in UTC; rules may override with a
// trailing day count.
func ComputePeriod(rule *Rule, now time.Time) aggregation.Period {
	if days := rule.Trigger.PeriodDays; days > 0 {
		end := now.Truncate(24 * time.Hour)
		return aggregation.Period{Start: end.AddDate(0, 0, -days), End: end}
	}
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return aggregation.Period{Start: monthStart.AddDate(0, -1, 0), End: monthStart}
}

func dueDate(period aggregation.Period, dayOfMonth int) time.Time {
	if dayOfMonth < 1 || dayOfMonth > 28 {
		dayOfMonth = 15
	}
	end := period.End
	return time.Date(end.Year(), end.Month(), dayOfMonth, 0, 0, 0, 0, time.UTC)
}

func approvalSteps(roles []string) []lifecycle.ApprovalStep {
	steps := make([]lifecycle.ApprovalStep, 0, len(roles))
	for i, role := range roles {
		steps = append(steps, lifecycle.ApprovalStep{
			StepNumber: i + 1,
			Name:       role + " approval",
			Assignee:   role,
		})
	}
	return steps
}
