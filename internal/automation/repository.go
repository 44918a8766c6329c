package automation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/vantage-grc/reporting-pipeline/internal/database"
)

// ErrRuleNotFound is returned when no rule matches the id.
var ErrRuleNotFound = fmt.Errorf("automated reporting rule not found")

// Repository persists automated reporting rules and their execution
// history. Execution records are append-only: an in-flight record
// gets exactly one terminal update and is otherwise immutable.
type Repository struct {
	database.BaseRepository
	logger *zap.Logger
}

func NewRepository(db *sqlx.DB, logger *zap.Logger) *Repository {
	return &Repository{
		BaseRepository: database.BaseRepository{DB: db},
		logger:         logger,
	}
}

// CreateRule inserts a new rule.
func (r *Repository) CreateRule(ctx context.Context, rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	query := `
		INSERT INTO automated_rules (
			id, organization_id, template_id, name, trigger_type,
			trigger_config, auto_submit, notification_config, active,
			last_executed, next_execution, created_by, created_at, updated_at
		) VALUES (
			:id, :organization_id, :template_id, :name, :trigger_type,
			:trigger_config, :auto_submit, :notification_config, :active,
			:last_executed, :next_execution, :created_by, :created_at, :updated_at
		)`
	if _, err := r.DB.NamedExecContext(ctx, query, rule); err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	r.logger.Info("Automated rule created",
		zap.String("rule_id", rule.ID),
		zap.String("trigger_type", rule.TriggerType))
	return nil
}

// GetRule fetches one rule.
func (r *Repository) GetRule(ctx context.Context, id string) (*Rule, error) {
	var rule Rule
	err := r.DB.GetContext(ctx, &rule,
		`SELECT * FROM automated_rules WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &rule, nil
}

// ListRulesByOrganization returns an organization's rules.
func (r *Repository) ListRulesByOrganization(ctx context.Context, orgID string) ([]*Rule, error) {
	var rules []*Rule
	err := r.DB.SelectContext(ctx, &rules,
		`SELECT * FROM automated_rules
		 WHERE organization_id = $1
		 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// ListDueScheduledRules returns active scheduled rules whose next
// execution is at or before now.
func (r *Repository) ListDueScheduledRules(ctx context.Context, now time.Time) ([]*Rule, error) {
	var rules []*Rule
	err := r.DB.SelectContext(ctx, &rules,
		`SELECT * FROM automated_rules
		 WHERE active = true
		   AND trigger_type = $1
		   AND next_execution IS NOT NULL
		   AND next_execution <= $2
		 ORDER BY next_execution`, TriggerScheduled, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due rules: %w", err)
	}
	return rules, nil
}

// ListActiveByTrigger returns active rules of one trigger type, for
// event and threshold matching.
func (r *Repository) ListActiveByTrigger(ctx context.Context, triggerType string) ([]*Rule, error) {
	var rules []*Rule
	err := r.DB.SelectContext(ctx, &rules,
		`SELECT * FROM automated_rules
		 WHERE active = true AND trigger_type = $1`, triggerType)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules by trigger: %w", err)
	}
	return rules, nil
}

// MarkExecuted sets last_executed and advances next_execution after
// a run.
func (r *Repository) MarkExecuted(ctx context.Context, ruleID string, executedAt time.Time, next *time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE automated_rules SET
			last_executed = $1,
			next_execution = $2,
			updated_at = $3
		WHERE id = $4`,
		executedAt, next, time.Now().UTC(), ruleID)
	if err != nil {
		return fmt.Errorf("failed to mark rule executed: %w", err)
	}
	return nil
}

// SetActive flips a rule's active flag.
func (r *Repository) SetActive(ctx context.Context, ruleID string, active bool) error {
	result, err := r.DB.ExecContext(ctx, `
		UPDATE automated_rules SET active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now().UTC(), ruleID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// AppendExecution inserts a new execution record in running status.
func (r *Repository) AppendExecution(ctx context.Context, record *ExecutionRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.Status = ExecutionRunning
	record.StartedAt = time.Now().UTC()

	query := `
		INSERT INTO rule_executions (
			id, rule_id, status, instance_id, error_detail, metrics, started_at
		) VALUES (
			:id, :rule_id, :status, :instance_id, :error_detail, :metrics, :started_at
		)`
	if _, err := r.DB.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("failed to append execution record: %w", err)
	}
	return nil
}

// FinishExecution writes the one terminal update a record receives.
// A record already out of running status is left untouched.
func (r *Repository) FinishExecution(ctx context.Context, record *ExecutionRecord) error {
	now := time.Now().UTC()
	record.EndedAt = &now

	result, err := r.DB.ExecContext(ctx, `
		UPDATE rule_executions SET
			status = $1,
			instance_id = $2,
			error_detail = $3,
			metrics = $4,
			ended_at = $5
		WHERE id = $6 AND status = $7`,
		record.Status, record.InstanceID, record.Error, record.Metrics,
		record.EndedAt, record.ID, ExecutionRunning)
	if err != nil {
		return fmt.Errorf("failed to finish execution record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("execution record %s is not running", record.ID)
	}
	return nil
}

// ListExecutions returns a rule's execution history, newest first.
func (r *Repository) ListExecutions(ctx context.Context, ruleID string, limit int) ([]ExecutionRecord, error) {
	var records []ExecutionRecord
	err := r.DB.SelectContext(ctx, &records,
		`SELECT * FROM rule_executions
		 WHERE rule_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2`, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return records, nil
}

// PruneExecutions deletes terminal execution records older than the
// cutoff. Running records are never pruned.
func (r *Repository) PruneExecutions(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.DB.ExecContext(ctx, `
		DELETE FROM rule_executions
		WHERE started_at < $1 AND status != $2`,
		cutoff, ExecutionRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}
	return result.RowsAffected()
}
