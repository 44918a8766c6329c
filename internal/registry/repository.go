package registry

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

// ErrTemplateNotFound is returned when no template matches the id.
var ErrTemplateNotFound = fmt.Errorf("template not found")

// Repository persists report templates.
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

// Create inserts a new template at version 1.
func (r *Repository) Create(ctx context.Context, template *Template) error {
	if err := template.Validate(); err != nil {
		return err
	}

	if template.ID == "" {
		template.ID = uuid.New().String()
	}
	template.Version = 1
	template.Active = true
	now := time.Now().UTC()
	template.CreatedAt = now
	template.UpdatedAt = now

	query := `
		INSERT INTO report_templates (
			id, organization_id, report_type, name, description, frequency,
			version, active, sources, rules, submission,
			created_by, created_at, updated_at
		) VALUES (
			:id, :organization_id, :report_type, :name, :description, :frequency,
			:version, :active, :sources, :rules, :submission,
			:created_by, :created_at, :updated_at
		)`

	if _, err := r.DB.NamedExecContext(ctx, query, template); err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}

	r.logger.Info("Template created",
		zap.String("template_id", template.ID),
		zap.String("organization_id", template.OrganizationID),
		zap.String("report_type", template.ReportType))
	return nil
}

// GetByID fetches one template version.
func (r *Repository) GetByID(ctx context.Context, id string) (*Template, error) {
	var template Template
	err := r.DB.GetContext(ctx, &template,
		`SELECT * FROM report_templates WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &template, nil
}

// ListActiveByOrganization returns the active template versions for
// an organization.
func (r *Repository) ListActiveByOrganization(ctx context.Context, orgID string) ([]*Template, error) {
	var templates []*Template
	err := r.DB.SelectContext(ctx, &templates,
		`SELECT * FROM report_templates
		 WHERE organization_id = $1 AND active = true
		 ORDER BY report_type, name`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}

// NewVersion deactivates the given template and inserts an edited
// copy at the next version number. The prior version stays readable
// for instances that reference it.
func (r *Repository) NewVersion(ctx context.Context, id string, edit func(*Template)) (*Template, error) {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	next := *current
	edit(&next)
	next.ID = uuid.New().String()
	next.OrganizationID = current.OrganizationID
	next.ReportType = current.ReportType
	next.Version = current.Version + 1
	next.Active = true
	now := time.Now().UTC()
	next.CreatedAt = now
	next.UpdatedAt = now

	if err := next.Validate(); err != nil {
		return nil, err
	}

	err = r.Transaction(func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE report_templates SET active = false, updated_at = $1 WHERE id = $2`,
			now, id); err != nil {
			return fmt.Errorf("failed to deactivate template: %w", err)
		}

		query := `
			INSERT INTO report_templates (
				id, organization_id, report_type, name, description, frequency,
				version, active, sources, rules, submission,
				created_by, created_at, updated_at
			) VALUES (
				:id, :organization_id, :report_type, :name, :description, :frequency,
				:version, :active, :sources, :rules, :submission,
				:created_by, :created_at, :updated_at
			)`
		if _, err := tx.NamedExecContext(ctx, query, &next); err != nil {
			return fmt.Errorf("failed to insert template version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Template version created",
		zap.String("template_id", next.ID),
		zap.String("previous_id", id),
		zap.Int("version", next.Version))
	return &next, nil
}
