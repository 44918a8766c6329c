package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/vantage-grc/reporting-pipeline/internal/database"
)

// ResultRepository persists validation results. A run's results replace
// the instance's prior set atomically; results never accumulate across
// runs.
type ResultRepository struct {
	database.BaseRepository
	logger *zap.Logger
}

// NewResultRepository creates a new validation result repository
func NewResultRepository(db *sqlx.DB, logger *zap.Logger) *ResultRepository {
	return &ResultRepository{
		BaseRepository: database.BaseRepository{DB: db},
		logger:         logger,
	}
}

type resultRow struct {
	Result
	Position  int       `db:"position"`
	CreatedAt time.Time `db:"created_at"`
}

// ReplaceForInstance deletes the prior result set for the instance and
// inserts the new one in declared rule order, in a single transaction.
func (r *ResultRepository) ReplaceForInstance(ctx context.Context, instanceID string, results []Result) error {
	err := r.Transaction(func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM validation_results WHERE instance_id = $1`, instanceID); err != nil {
			return fmt.Errorf("failed to clear prior results: %w", err)
		}

		query := `
			INSERT INTO validation_results (
				instance_id, rule_id, rule_name, severity, status,
				observed, expected, message, remediation, position, created_at
			) VALUES (
				:instance_id, :rule_id, :rule_name, :severity, :status,
				:observed, :expected, :message, :remediation, :position, :created_at
			)`

		now := time.Now().UTC()
		for i, result := range results {
			row := resultRow{Result: result, Position: i, CreatedAt: now}
			if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
				return fmt.Errorf("failed to insert result for rule %s: %w", result.RuleID, err)
			}
		}

		return nil
	})
	if err != nil {
		r.logger.Error("Failed to replace validation results",
			zap.String("instance_id", instanceID),
			zap.Error(err))
		return err
	}

	return nil
}

// ListForInstance returns the instance's current result set in declared
// rule order.
func (r *ResultRepository) ListForInstance(ctx context.Context, instanceID string) ([]Result, error) {
	query := `
		SELECT instance_id, rule_id, rule_name, severity, status,
		       observed, expected, message, remediation
		FROM validation_results
		WHERE instance_id = $1
		ORDER BY position ASC`

	var results []Result
	if err := r.DB.SelectContext(ctx, &results, query, instanceID); err != nil {
		r.logger.Error("Failed to list validation results",
			zap.String("instance_id", instanceID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list validation results: %w", err)
	}

	return results, nil
}
