package lifecycle

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

// Repository persists report instances and their approval steps.
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

// Create inserts a new instance together with its approval steps.
func (r *Repository) Create(ctx context.Context, instance *Instance, steps []ApprovalStep) error {
	if instance.ID == "" {
		instance.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	instance.CreatedAt = now
	instance.UpdatedAt = now

	return r.Transaction(func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO report_instances (
				id, template_id, organization_id, period_start, period_end,
				due_date, status, aggregated_data, validation_summary,
				submission_ref, created_by, created_at, updated_at
			) VALUES (
				:id, :template_id, :organization_id, :period_start, :period_end,
				:due_date, :status, :aggregated_data, :validation_summary,
				:submission_ref, :created_by, :created_at, :updated_at
			)`
		if _, err := tx.NamedExecContext(ctx, query, instance); err != nil {
			return fmt.Errorf("failed to create instance: %w", err)
		}

		for i := range steps {
			steps[i].ID = uuid.New().String()
			steps[i].InstanceID = instance.ID
			steps[i].Status = StepPending
			steps[i].CreatedAt = now

			stepQuery := `
				INSERT INTO approval_steps (
					id, instance_id, step_number, name, assignee,
					status, comments, created_at
				) VALUES (
					:id, :instance_id, :step_number, :name, :assignee,
					:status, :comments, :created_at
				)`
			if _, err := tx.NamedExecContext(ctx, stepQuery, &steps[i]); err != nil {
				return fmt.Errorf("failed to create approval step: %w", err)
			}
		}
		return nil
	})
}

// GetByID fetches one instance.
func (r *Repository) GetByID(ctx context.Context, id string) (*Instance, error) {
	var instance Instance
	err := r.DB.GetContext(ctx, &instance,
		`SELECT * FROM report_instances WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return &instance, nil
}

// ListByOrganization returns instances for an organization, newest
// first.
func (r *Repository) ListByOrganization(ctx context.Context, orgID string, limit int) ([]*Instance, error) {
	var instances []*Instance
	err := r.DB.SelectContext(ctx, &instances,
		`SELECT * FROM report_instances
		 WHERE organization_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	return instances, nil
}

// CompareAndSwapStatus moves an instance from expected to next in a
// single guarded update. Zero rows affected means the instance was
// not in the expected status.
func (r *Repository) CompareAndSwapStatus(ctx context.Context, id, expected, next string, stamp func(*statusStamp)) error {
	s := statusStamp{now: time.Now().UTC()}
	if stamp != nil {
		stamp(&s)
	}

	result, err := r.DB.ExecContext(ctx, `
		UPDATE report_instances SET
			status = $1,
			updated_at = $2,
			reviewed_by = COALESCE($3, reviewed_by),
			reviewed_at = COALESCE($4, reviewed_at),
			approved_by = COALESCE($5, approved_by),
			approved_at = COALESCE($6, approved_at),
			submitted_by = COALESCE($7, submitted_by),
			submitted_at = COALESCE($8, submitted_at),
			submission_ref = COALESCE($9, submission_ref)
		WHERE id = $10 AND status = $11`,
		next, s.now,
		s.reviewedBy, s.reviewedAt,
		s.approvedBy, s.approvedAt,
		s.submittedBy, s.submittedAt,
		s.submissionRef,
		id, expected)
	if err != nil {
		return fmt.Errorf("failed to update instance status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return &WorkflowConflictError{
			InstanceID: id,
			From:       expected,
			To:         next,
			Reason:     fmt.Sprintf("instance is no longer in status %s", expected),
		}
	}

	r.logger.Info("Instance status changed",
		zap.String("instance_id", id),
		zap.String("from", expected),
		zap.String("to", next))
	return nil
}

// statusStamp carries the optional audit fields written alongside a
// status change.
type statusStamp struct {
	now           time.Time
	reviewedBy    *string
	reviewedAt    *time.Time
	approvedBy    *string
	approvedAt    *time.Time
	submittedBy   *string
	submittedAt   *time.Time
	submissionRef *string
}

// UpdateResults replaces the aggregated data and validation summary
// blobs on an instance.
func (r *Repository) UpdateResults(ctx context.Context, id string, aggregated, summary database.JSONMap) error {
	result, err := r.DB.ExecContext(ctx, `
		UPDATE report_instances SET
			aggregated_data = $1,
			validation_summary = $2,
			updated_at = $3
		WHERE id = $4`,
		aggregated, summary, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update instance results: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

// Delete removes an instance together with its approval steps and
// validation results (cascaded). Used to discard an instance whose
// run could not complete.
func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.DB.ExecContext(ctx,
		`DELETE FROM report_instances WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrInstanceNotFound
	}

	r.logger.Info("Instance deleted", zap.String("instance_id", id))
	return nil
}

// ListSteps returns an instance's approval steps in step order.
func (r *Repository) ListSteps(ctx context.Context, instanceID string) ([]ApprovalStep, error) {
	var steps []ApprovalStep
	err := r.DB.SelectContext(ctx, &steps,
		`SELECT * FROM approval_steps
		 WHERE instance_id = $1
		 ORDER BY step_number`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval steps: %w", err)
	}
	return steps, nil
}

// DecideStep records a decision on a pending step. A decision on a
// non-pending step affects zero rows and is reported as a conflict.
func (r *Repository) DecideStep(ctx context.Context, stepID, status, comments string) error {
	result, err := r.DB.ExecContext(ctx, `
		UPDATE approval_steps SET
			status = $1,
			comments = $2,
			decided_at = $3
		WHERE id = $4 AND status = $5`,
		status, comments, time.Now().UTC(), stepID, StepPending)
	if err != nil {
		return fmt.Errorf("failed to decide approval step: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("approval step %s is not pending", stepID)
	}
	return nil
}
