package registry

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vantage-grc/reporting-pipeline/internal/aggregation"
	"github.com/vantage-grc/reporting-pipeline/internal/validation"
)

// Report frequencies accepted on a template.
const (
	FrequencyMonthly   = "monthly"
	FrequencyQuarterly = "quarterly"
	FrequencyAnnual    = "annual"
	FrequencyAdHoc     = "ad_hoc"
)

// Submission artifact formats.
const (
	FormatPDF   = "pdf"
	FormatExcel = "excel"
	FormatCSV   = "csv"
	FormatJSON  = "json"
	FormatXML   = "xml"
)

// SubmissionSpec declares how a finished report is packaged and
// where it goes.
type SubmissionSpec struct {
	Format         string   `json:"format"`
	Regulator      string   `json:"regulator"`
	DueDayOfMonth  int      `json:"due_day_of_month"`
	ApprovalRoles  []string `json:"approval_roles,omitempty"`
	DeliveryMethod string   `json:"delivery_method,omitempty"`
}

// Template declares what a report draws from, which checks apply,
// and how the result is submitted. Templates referenced by an
// instance are never edited in place; edits produce a new version.
type Template struct {
	ID             string              `db:"id" json:"id"`
	OrganizationID string              `db:"organization_id" json:"organization_id"`
	ReportType     string              `db:"report_type" json:"report_type"`
	Name           string              `db:"name" json:"name"`
	Description    string              `db:"description" json:"description"`
	Frequency      string              `db:"frequency" json:"frequency"`
	Version        int                 `db:"version" json:"version"`
	Active         bool                `db:"active" json:"active"`
	Sources        SourceList          `db:"sources" json:"sources"`
	Rules          validation.RuleList `db:"rules" json:"rules"`
	Submission     SubmissionValue     `db:"submission" json:"submission"`
	CreatedBy      string              `db:"created_by" json:"created_by"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time           `db:"updated_at" json:"updated_at"`
}

// Validate checks the template definition before persistence.
func (t *Template) Validate() error {
	if t.OrganizationID == "" {
		return fmt.Errorf("organization_id is required")
	}
	if t.ReportType == "" {
		return fmt.Errorf("report_type is required")
	}
	switch t.Frequency {
	case FrequencyMonthly, FrequencyQuarterly, FrequencyAnnual, FrequencyAdHoc:
	default:
		return fmt.Errorf("unknown frequency: %s", t.Frequency)
	}
	switch t.Submission.Format {
	case FormatPDF, FormatExcel, FormatCSV, FormatJSON, FormatXML:
	default:
		return fmt.Errorf("unknown submission format: %s", t.Submission.Format)
	}
	if len(t.Sources) == 0 {
		return fmt.Errorf("at least one data source is required")
	}
	seen := make(map[string]bool, len(t.Sources))
	for i, source := range t.Sources {
		if source.Name == "" {
			return fmt.Errorf("source %d: name is required", i)
		}
		if seen[source.Name] {
			return fmt.Errorf("duplicate source name: %s", source.Name)
		}
		seen[source.Name] = true
		switch source.Type {
		case aggregation.SourceIndicators, aggregation.SourceIncidents,
			aggregation.SourceControls, aggregation.SourceThirdParties:
		default:
			return fmt.Errorf("source %s: unknown type %s", source.Name, source.Type)
		}
	}
	ruleIDs := make(map[string]bool, len(t.Rules))
	for i := range t.Rules {
		if err := t.Rules[i].Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
		if ruleIDs[t.Rules[i].ID] {
			return fmt.Errorf("duplicate rule id: %s", t.Rules[i].ID)
		}
		ruleIDs[t.Rules[i].ID] = true
	}
	return nil
}

// SourceList stores the template's data-source requirements as jsonb.
type SourceList []aggregation.SourceRequirement

func (s SourceList) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *SourceList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into SourceList", value)
	}
	return json.Unmarshal(bytes, s)
}

// SubmissionValue stores the submission spec as jsonb.
type SubmissionValue SubmissionSpec

func (s SubmissionValue) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *SubmissionValue) Scan(value interface{}) error {
	if value == nil {
		*s = SubmissionValue{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into SubmissionValue", value)
	}
	return json.Unmarshal(bytes, s)
}
