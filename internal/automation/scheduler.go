package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vantage-grc/reporting-pipeline/internal/config"
)

// cronParser accepts the standard five-field cron syntax used in
// rule trigger schedules.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler drives the periodic scheduling passes: selecting due
// rules, executing them, and pruning old execution history.
type Scheduler struct {
	config   config.SchedulerConfig
	rules    RuleStore
	executor *Executor
	logger   *zap.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

func NewScheduler(cfg config.SchedulerConfig, rules RuleStore, executor *Executor, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		config:   cfg,
		rules:    rules,
		executor: executor,
		logger:   logger,
		cron:     cron.New(cron.WithSeconds()),
	}
}

// Start registers the scheduling and retention passes and begins
// running them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already started")
	}

	if _, err := s.cron.AddFunc(s.config.PassSchedule, func() {
		passCtx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
		defer cancel()
		if err := s.ExecuteScheduledReports(passCtx); err != nil {
			s.logger.Error("Scheduling pass failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to register scheduling pass: %w", err)
	}

	if _, err := s.cron.AddFunc(s.config.RetentionSchedule, func() {
		if err := s.pruneHistory(ctx); err != nil {
			s.logger.Error("Execution history pruning failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to register retention pass: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("Scheduler started",
		zap.String("pass_schedule", s.config.PassSchedule),
		zap.String("retention_schedule", s.config.RetentionSchedule))
	return nil
}

// Stop halts the passes and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("Scheduler stopped")
}

// ExecuteScheduledReports is one batch pass: select active scheduled
// rules whose next execution is due, run each, and advance its next
// execution strictly past the selection time. Rules fail
// independently; one rule's failure does not stop the pass.
func (s *Scheduler) ExecuteScheduledReports(ctx context.Context) error {
	selectedAt := time.Now().UTC()

	due, err := s.rules.ListDueScheduledRules(ctx, selectedAt)
	if err != nil {
		return fmt.Errorf("failed to select due rules: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	s.logger.Info("Scheduling pass selected rules", zap.Int("count", len(due)))

	var wg sync.WaitGroup
	for _, rule := range due {
		rule := rule
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runRule(ctx, rule, selectedAt)
		}()
	}
	wg.Wait()
	return nil
}

func (s *Scheduler) runRule(ctx context.Context, rule *Rule, selectedAt time.Time) {
	if _, err := s.executor.Execute(ctx, rule); err != nil {
		if err == ErrRuleLocked {
			s.logger.Debug("Rule skipped, execution in flight",
				zap.String("rule_id", rule.ID))
			return
		}
		s.logger.Error("Rule execution failed to start",
			zap.String("rule_id", rule.ID), zap.Error(err))
		return
	}

	next := NextExecution(rule, selectedAt)
	if err := s.rules.MarkExecuted(ctx, rule.ID, selectedAt, next); err != nil {
		s.logger.Error("Failed to advance rule schedule",
			zap.String("rule_id", rule.ID), zap.Error(err))
	}
}

// TriggerEvent runs every active event-driven rule matching the
// event type.
func (s *Scheduler) TriggerEvent(ctx context.Context, eventType string) error {
	rules, err := s.rules.ListActiveByTrigger(ctx, TriggerEventDriven)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if rule.Trigger.EventType != eventType {
			continue
		}
		s.runRule(ctx, rule, time.Now().UTC())
	}
	return nil
}

// TriggerThreshold runs every active threshold rule whose watched
// indicator is at or above its configured threshold.
func (s *Scheduler) TriggerThreshold(ctx context.Context, indicator string, value float64) error {
	rules, err := s.rules.ListActiveByTrigger(ctx, TriggerThreshold)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if rule.Trigger.Indicator != indicator || value < rule.Trigger.Threshold {
			continue
		}
		s.logger.Info("Threshold breach triggered rule",
			zap.String("rule_id", rule.ID),
			zap.String("indicator", indicator),
			zap.Float64("value", value),
			zap.Float64("threshold", rule.Trigger.Threshold))
		s.runRule(ctx, rule, time.Now().UTC())
	}
	return nil
}

// GenerateReport runs one rule immediately, regardless of trigger
// type.
func (s *Scheduler) GenerateReport(ctx context.Context, ruleID string) (*ExecutionRecord, error) {
	rule, err := s.rules.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if !rule.Active {
		return nil, fmt.Errorf("rule %s is not active", ruleID)
	}

	record, err := s.executor.Execute(ctx, rule)
	if err != nil {
		return nil, err
	}

	executedAt := time.Now().UTC()
	if err := s.rules.MarkExecuted(ctx, rule.ID, executedAt, NextExecution(rule, executedAt)); err != nil {
		s.logger.Error("Failed to record manual execution time",
			zap.String("rule_id", rule.ID), zap.Error(err))
	}
	return record, nil
}

func (s *Scheduler) pruneHistory(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.config.ExecutionRetention)
	pruned, err := s.rules.PruneExecutions(ctx, cutoff)
	if err != nil {
		return err
	}
	if pruned > 0 {
		s.logger.Info("Pruned execution history",
			zap.Int64("records", pruned),
			zap.Time("cutoff", cutoff))
	}
	return nil
}

// NextExecution computes the rule's next run time, always strictly
// after the given reference time. Scheduled rules follow their cron
// expression; other trigger types have no schedule.
func NextExecution(rule *Rule, after time.Time) *time.Time {
	if rule.TriggerType != TriggerScheduled {
		return nil
	}
	schedule, err := cronParser.Parse(rule.Trigger.Schedule)
	if err != nil {
		// Misconfigured schedule falls back to a daily retry.
		next := after.Add(24 * time.Hour)
		return &next
	}
	next := schedule.Next(after)
	return &next
}
