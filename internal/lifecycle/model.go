package lifecycle

import (
	"fmt"
	"time"

	"github.com/vantage-grc/reporting-pipeline/internal/database"
)

// Report instance statuses.
const (
	StatusDraft      = "draft"
	StatusInProgress = "in_progress"
	StatusReview     = "review"
	StatusApproved   = "approved"
	StatusSubmitted  = "submitted"
	StatusAccepted   = "accepted"
	StatusRejected   = "rejected"
)

// Approval step statuses.
const (
	StepPending  = "pending"
	StepApproved = "approved"
	StepRejected = "rejected"
	StepSkipped  = "skipped"
)

// validTransitions is the status machine allow-list. Any requested
// transition not listed here is a workflow conflict.
var validTransitions = map[string][]string{
	StatusDraft:      {StatusInProgress, StatusReview},
	StatusInProgress: {StatusReview, StatusDraft},
	StatusReview:     {StatusApproved, StatusDraft},
	StatusApproved:   {StatusSubmitted, StatusReview},
	StatusSubmitted:  {StatusAccepted, StatusRejected},
	StatusRejected:   {StatusDraft},
	StatusAccepted:   {},
}

// CanTransition reports whether from -> to is an allowed move.
func CanTransition(from, to string) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// WorkflowConflictError reports a transition whose precondition did
// not hold. The instance is unchanged; the caller should refetch the
// current status before retrying.
type WorkflowConflictError struct {
	InstanceID string
	From       string
	To         string
	Reason     string
}

func (e *WorkflowConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("workflow conflict on instance %s: %s", e.InstanceID, e.Reason)
	}
	return fmt.Sprintf("workflow conflict on instance %s: cannot transition %s -> %s",
		e.InstanceID, e.From, e.To)
}

// ErrInstanceNotFound is returned when no instance matches the id.
var ErrInstanceNotFound = fmt.Errorf("report instance not found")

// Instance is one dated attempt at producing a report from a
// template. Status moves only through CAS-guarded transitions.
type Instance struct {
	ID                string           `db:"id" json:"id"`
	TemplateID        string           `db:"template_id" json:"template_id"`
	OrganizationID    string           `db:"organization_id" json:"organization_id"`
	PeriodStart       time.Time        `db:"period_start" json:"period_start"`
	PeriodEnd         time.Time        `db:"period_end" json:"period_end"`
	DueDate           time.Time        `db:"due_date" json:"due_date"`
	Status            string           `db:"status" json:"status"`
	AggregatedData    database.JSONMap `db:"aggregated_data" json:"aggregated_data"`
	ValidationSummary database.JSONMap `db:"validation_summary" json:"validation_summary"`
	SubmissionRef     *string          `db:"submission_ref" json:"submission_ref,omitempty"`
	CreatedBy         string           `db:"created_by" json:"created_by"`
	ReviewedBy        *string          `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ApprovedBy        *string          `db:"approved_by" json:"approved_by,omitempty"`
	SubmittedBy       *string          `db:"submitted_by" json:"submitted_by,omitempty"`
	ReviewedAt        *time.Time       `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ApprovedAt        *time.Time       `db:"approved_at" json:"approved_at,omitempty"`
	SubmittedAt       *time.Time       `db:"submitted_at" json:"submitted_at,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}

// ApprovalStep is one ordered sign-off gate on an instance. Steps
// decide in ascending StepNumber order.
type ApprovalStep struct {
	ID         string     `db:"id" json:"id"`
	InstanceID string     `db:"instance_id" json:"instance_id"`
	StepNumber int        `db:"step_number" json:"step_number"`
	Name       string     `db:"name" json:"name"`
	Assignee   string     `db:"assignee" json:"assignee"`
	Status     string     `db:"status" json:"status"`
	Comments   string     `db:"comments" json:"comments"`
	DecidedAt  *time.Time `db:"decided_at" json:"decided_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}
