package automation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vantage-grc/reporting-pipeline/internal/aggregation"
	"github.com/vantage-grc/reporting-pipeline/internal/lifecycle"
	"github.com/vantage-grc/reporting-pipeline/internal/registry"
	"github.com/vantage-grc/reporting-pipeline/internal/validation"
)

type fakeRuleStore struct {
	mu         sync.Mutex
	rules      map[string]*Rule
	executions []*ExecutionRecord
	marked     map[string]*time.Time
}

func newFakeRuleStore(rules ...*Rule) *fakeRuleStore {
	store := &fakeRuleStore{
		rules:  make(map[string]*Rule),
		marked: make(map[string]*time.Time),
	}
	for _, rule := range rules {
		store.rules[rule.ID] = rule
	}
	return store
}

func (f *fakeRuleStore) GetRule(ctx context.Context, id string) (*Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rule, ok := f.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return rule, nil
}

func (f *fakeRuleStore) ListDueScheduledRules(ctx context.Context, now time.Time) ([]*Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []*Rule
	for _, rule := range f.rules {
		if rule.Active && rule.TriggerType == TriggerScheduled &&
			rule.NextExecution != nil && !rule.NextExecution.After(now) {
			due = append(due, rule)
		}
	}
	return due, nil
}

func (f *fakeRuleStore) ListActiveByTrigger(ctx context.Context, triggerType string) ([]*Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Rule
	for _, rule := range f.rules {
		if rule.Active && rule.TriggerType == triggerType {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (f *fakeRuleStore) MarkExecuted(ctx context.Context, ruleID string, executedAt time.Time, next *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rule, ok := f.rules[ruleID]; ok {
		rule.LastExecuted = &executedAt
		rule.NextExecution = next
	}
	f.marked[ruleID] = next
	return nil
}

func (f *fakeRuleStore) AppendExecution(ctx context.Context, record *ExecutionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record.ID = fmt.Sprintf("exec-%d", len(f.executions)+1)
	record.Status = ExecutionRunning
	record.StartedAt = time.Now().UTC()
	f.executions = append(f.executions, record)
	return nil
}

func (f *fakeRuleStore) FinishExecution(ctx context.Context, record *ExecutionRecord) error {
	now := time.Now().UTC()
	record.EndedAt = &now
	return nil
}

func (f *fakeRuleStore) PruneExecutions(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.executions[:0]
	var pruned int64
	for _, record := range f.executions {
		if record.StartedAt.Before(cutoff) && record.Status != ExecutionRunning {
			pruned++
			continue
		}
		kept = append(kept, record)
	}
	f.executions = kept
	return pruned, nil
}

type fakeTemplates struct {
	template *registry.Template
}

func (f *fakeTemplates) GetByID(ctx context.Context, id string) (*registry.Template, error) {
	if f.template == nil || f.template.ID != id {
		return nil, registry.ErrTemplateNotFound
	}
	return f.template, nil
}

type fakeAggregator struct {
	results []aggregation.Result
	err     error
	delay   time.Duration
}

func (f *fakeAggregator) Aggregate(ctx context.Context, orgID string, requirements []aggregation.SourceRequirement, period aggregation.Period) ([]aggregation.Result, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.results, f.err
}

type fakeValidator struct {
	results []validation.Result
}

func (f *fakeValidator) Evaluate(ctx context.Context, instanceID string, rules []validation.Rule, payload map[string]interface{}) []validation.Result {
	out := make([]validation.Result, len(f.results))
	copy(out, f.results)
	for i := range out {
		out[i].InstanceID = instanceID
	}
	return out
}

type fakeResultWriter struct {
	mu     sync.Mutex
	stored map[string][]validation.Result
	err    error
}

func (f *fakeResultWriter) ReplaceForInstance(ctx context.Context, instanceID string, results []validation.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.stored == nil {
		f.stored = make(map[string][]validation.Result)
	}
	f.stored[instanceID] = results
	return nil
}

type fakeWorkflow struct {
	mu          sync.Mutex
	created     []*lifecycle.Instance
	transitions []string
	deleted     []string
	submitted   bool
}

func (f *fakeWorkflow) CreateInstance(ctx context.Context, instance *lifecycle.Instance, steps []lifecycle.ApprovalStep) (*lifecycle.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, instance)
	return instance, nil
}

func (f *fakeWorkflow) Transition(ctx context.Context, id, expected, next, actor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, expected+"->"+next)
	return nil
}

func (f *fakeWorkflow) Submit(ctx context.Context, id, actor, submissionRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = true
	return nil
}

func (f *fakeWorkflow) DeleteInstance(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	for i, instance := range f.created {
		if instance.ID == id {
			f.created = append(f.created[:i], f.created[i+1:]...)
			break
		}
	}
	return nil
}

type memoryLocker struct {
	mu    sync.Mutex
	held  map[string]bool
	fails bool
}

func (l *memoryLocker) Acquire(ctx context.Context, ruleID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[ruleID] {
		return false, nil
	}
	l.held[ruleID] = true
	return true, nil
}

func (l *memoryLocker) Release(ctx context.Context, ruleID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, ruleID)
	return nil
}

func testTemplate() *registry.Template {
	return &registry.Template{
		ID:             "tpl-1",
		OrganizationID: "org-1",
		ReportType:     "operational_risk",
		Name:           "Operational Risk Report",
		Frequency:      registry.FrequencyMonthly,
		Sources: registry.SourceList{
			{Name: "indicators", Type: aggregation.SourceIndicators, Required: true},
			{Name: "incidents", Type: aggregation.SourceIncidents, Required: true},
		},
		Submission: registry.SubmissionValue{
			Format:        registry.FormatJSON,
			Regulator:     "FCA",
			DueDayOfMonth: 15,
			ApprovalRoles: []string{"risk officer"},
		},
	}
}

func testRule() *Rule {
	return &Rule{
		ID:             "rule-1",
		OrganizationID: "org-1",
		TemplateID:     "tpl-1",
		Name:           "Monthly operational risk",
		TriggerType:    TriggerScheduled,
		Trigger:        TriggerConfigValue{Schedule: "0 6 1 * *"},
		Active:         true,
	}
}

func healthyResults() []aggregation.Result {
	return []aggregation.Result{
		{Source: "indicators", SourceType: aggregation.SourceIndicators, RecordsProcessed: 5,
			QualityScore: 100, Payload: map[string]interface{}{"total_records": 5}},
		{Source: "incidents", SourceType: aggregation.SourceIncidents, RecordsProcessed: 2,
			QualityScore: 90, Payload: map[string]interface{}{"total_count": 2}},
	}
}

func newTestExecutor(store *fakeRuleStore, aggregator Aggregator, validator Validator, workflow *fakeWorkflow) (*Executor, *fakeResultWriter) {
	writer := &fakeResultWriter{}
	executor := NewExecutor(
		store,
		&fakeTemplates{template: testTemplate()},
		aggregator,
		validator,
		writer,
		workflow,
		nil,
		&memoryLocker{},
		nil,
		zap.NewNop(),
	)
	return executor, writer
}

func TestExecuteCompletesAndCreatesInstance(t *testing.T) {
	store := newFakeRuleStore()
	workflow := &fakeWorkflow{}
	executor, writer := newTestExecutor(store,
		&fakeAggregator{results: healthyResults()},
		&fakeValidator{results: []validation.Result{
			{RuleID: "v1", Severity: validation.SeverityError, Status: validation.StatusPassed},
		}},
		workflow)

	record, err := executor.Execute(context.Background(), testRule())
	require.NoError(t, err)

	assert.Equal(t, ExecutionCompleted, record.Status)
	require.NotNil(t, record.InstanceID)
	require.Len(t, workflow.created, 1)

	instance := workflow.created[0]
	assert.Equal(t, lifecycle.StatusInProgress, instance.Status)
	assert.Equal(t, *record.InstanceID, instance.ID)
	assert.Len(t, writer.stored[instance.ID], 1)

	metrics := PerformanceMetrics(record.Metrics)
	assert.Equal(t, 2, metrics.SourcesSucceeded)
	assert.Equal(t, 0, metrics.SourcesFailed)
	assert.Equal(t, 95.0, metrics.MeanQualityScore)
}

func TestExecutePartialDegradation(t *testing.T) {
	results := healthyResults()
	results[0].Failed = true
	results[0].QualityScore = 0
	results[0].Error = "indicator service unavailable"
	results[0].Payload = nil

	store := newFakeRuleStore()
	workflow := &fakeWorkflow{}
	executor, _ := newTestExecutor(store,
		&fakeAggregator{results: results},
		&fakeValidator{},
		workflow)

	record, err := executor.Execute(context.Background(), testRule())
	require.NoError(t, err)

	assert.Equal(t, ExecutionCompleted, record.Status, "one failing source degrades, never fails the run")
	require.Len(t, workflow.created, 1)

	metrics := PerformanceMetrics(record.Metrics)
	assert.Equal(t, 1, metrics.SourcesSucceeded)
	assert.Equal(t, 1, metrics.SourcesFailed)
}

func TestExecuteFailsWhenNoSourceSucceeds(t *testing.T) {
	results := healthyResults()
	for i := range results {
		results[i].Failed = true
		results[i].QualityScore = 0
	}

	store := newFakeRuleStore()
	workflow := &fakeWorkflow{}
	executor, _ := newTestExecutor(store,
		&fakeAggregator{results: results},
		&fakeValidator{},
		workflow)

	record, err := executor.Execute(context.Background(), testRule())
	require.NoError(t, err)

	assert.Equal(t, ExecutionFailed, record.Status)
	assert.Contains(t, record.Error, "no data sources")
	assert.Nil(t, record.InstanceID)
	assert.Empty(t, workflow.created, "a failed run never creates an instance")
}

func TestExecuteCancellationLeavesNoInstance(t *testing.T) {
	store := newFakeRuleStore()
	workflow := &fakeWorkflow{}
	executor, _ := newTestExecutor(store,
		&fakeAggregator{results: healthyResults(), delay: time.Second},
		&fakeValidator{},
		workflow)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	record, err := executor.Execute(ctx, testRule())
	require.NoError(t, err)

	assert.Equal(t, ExecutionCancelled, record.Status)
	assert.Nil(t, record.InstanceID)
	assert.Empty(t, workflow.created)
}

func TestExecuteValidationFailureStartsInReview(t *testing.T) {
	store := newFakeRuleStore()
	workflow := &fakeWorkflow{}
	executor, _ := newTestExecutor(store,
		&fakeAggregator{results: healthyResults()},
		&fakeValidator{results: []validation.Result{
			{RuleID: "v1", Severity: validation.SeverityError, Status: validation.StatusFailed},
		}},
		workflow)

	record, err := executor.Execute(context.Background(), testRule())
	require.NoError(t, err)

	assert.Equal(t, ExecutionCompleted, record.Status)
	require.Len(t, workflow.created, 1)
	assert.Equal(t, lifecycle.StatusReview, workflow.created[0].Status)
	assert.Empty(t, workflow.transitions, "failing runs never auto-advance")
}

func TestExecuteResultWriteFailureDiscardsInstance(t *testing.T) {
	store := newFakeRuleStore()
	workflow := &fakeWorkflow{}
	executor, writer := newTestExecutor(store,
		&fakeAggregator{results: healthyResults()},
		&fakeValidator{results: []validation.Result{
			{RuleID: "v1", Severity: validation.SeverityError, Status: validation.StatusPassed},
		}},
		workflow)
	writer.err = fmt.Errorf("db connection lost")

	record, err := executor.Execute(context.Background(), testRule())
	require.NoError(t, err)

	assert.Equal(t, ExecutionFailed, record.Status)
	assert.Contains(t, record.Error, "db connection lost")
	assert.Nil(t, record.InstanceID)
	require.Len(t, workflow.deleted, 1)
	assert.Empty(t, workflow.created, "a failed run leaves no instance behind")
}

func TestExecuteAutoSubmitAdvancesPassingInstance(t *testing.T) {
	store := newFakeRuleStore()
	workflow := &fakeWorkflow{}
	executor, _ := newTestExecutor(store,
		&fakeAggregator{results: healthyResults()},
		&fakeValidator{results: []validation.Result{
			{RuleID: "v1", Severity: validation.SeverityError, Status: validation.StatusPassed},
		}},
		workflow)

	rule := testRule()
	rule.AutoSubmit = true

	record, err := executor.Execute(context.Background(), rule)
	require.NoError(t, err)

	assert.Equal(t, ExecutionCompleted, record.Status)
	assert.Equal(t, []string{"in_progress->review", "review->approved"}, workflow.transitions)
	assert.True(t, workflow.submitted)
}

func TestExecuteRejectsConcurrentRun(t *testing.T) {
	store := newFakeRuleStore()
	workflow := &fakeWorkflow{}
	executor, _ := newTestExecutor(store,
		&fakeAggregator{results: healthyResults(), delay: 100 * time.Millisecond},
		&fakeValidator{},
		workflow)

	rule := testRule()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		i := i
		go func() {
			defer wg.Done()
			_, errs[i] = executor.Execute(context.Background(), rule)
		}()
	}
	wg.Wait()

	locked := 0
	for _, err := range errs {
		if err == ErrRuleLocked {
			locked++
		}
	}
	assert.Equal(t, 1, locked, "exactly one of two concurrent runs is rejected")
}

func TestComputePeriodDefaultsToPriorCalendarMonth(t *testing.T) {
	now := time.Date(2026, 8, 14, 9, 30, 0, 0, time.UTC)
	period := ComputePeriod(testRule(), now)

	assert.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), period.Start)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), period.End)
}

func TestComputePeriodTrailingDaysOverride(t *testing.T) {
	rule := testRule()
	rule.Trigger.PeriodDays = 7

	now := time.Date(2026, 8, 14, 9, 30, 0, 0, time.UTC)
	period := ComputePeriod(rule, now)

	assert.Equal(t, 7*24*time.Hour, period.End.Sub(period.Start))
}
