package validation

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Severity ranks how serious a rule breach is
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Status is the outcome of one rule evaluation
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusWarning Status = "warning"
)

// Kind identifies which evaluator a rule dispatches to
type Kind string

const (
	KindCompleteness  Kind = "completeness"
	KindAccuracy      Kind = "accuracy"
	KindConsistency   Kind = "consistency"
	KindFormat        Kind = "format"
	KindBusinessLogic Kind = "business_logic"
)

// CompletenessParams configures a completeness rule. With no required
// sub-fields the target itself must be present and non-empty; with
// required sub-fields the target must be a collection whose every item
// has those sub-fields populated.
type CompletenessParams struct {
	RequiredSubFields []string `json:"required_sub_fields,omitempty"`
}

// AccuracyParams names one predicate from the closed predicate set.
type AccuracyParams struct {
	Predicate string `json:"predicate"`
}

// ConsistencyParams checks the target against other fields of the
// aggregated payload.
type ConsistencyParams struct {
	SumOfFields []string `json:"sum_of_fields,omitempty"`
	EqualsField string   `json:"equals_field,omitempty"`
	Tolerance   float64  `json:"tolerance,omitempty"`
}

// FormatParams constrains the shape or range of the target value.
type FormatParams struct {
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
}

// BusinessLogicParams expresses a domain ratio threshold such as
// "at least 80% of controls tested in the trailing 12 months".
type BusinessLogicParams struct {
	NumeratorField   string  `json:"numerator_field"`
	DenominatorField string  `json:"denominator_field"`
	MinRatio         float64 `json:"min_ratio"`
}

// Rule is one typed validation rule of a report template. Exactly the
// params struct matching Kind is set; Validate enforces this.
type Rule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Kind        Kind     `json:"kind"`
	Field       string   `json:"field"`
	Severity    Severity `json:"severity"`
	Message     string   `json:"message"`
	Remediation string   `json:"remediation,omitempty"`

	Completeness  *CompletenessParams  `json:"completeness,omitempty"`
	Accuracy      *AccuracyParams      `json:"accuracy,omitempty"`
	Consistency   *ConsistencyParams   `json:"consistency,omitempty"`
	Format        *FormatParams        `json:"format,omitempty"`
	BusinessLogic *BusinessLogicParams `json:"business_logic,omitempty"`
}

// Validate checks that the rule carries the params its kind requires
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule ID is required")
	}
	if r.Field == "" && r.Kind != KindBusinessLogic {
		return fmt.Errorf("rule %s: target field is required", r.ID)
	}

	switch r.Severity {
	case SeverityError, SeverityWarning, SeverityInfo:
	default:
		return fmt.Errorf("rule %s: unknown severity %q", r.ID, r.Severity)
	}

	switch r.Kind {
	case KindCompleteness:
	case KindAccuracy:
		if r.Accuracy == nil || r.Accuracy.Predicate == "" {
			return fmt.Errorf("rule %s: accuracy rule requires a predicate", r.ID)
		}
		if _, ok := predicates[r.Accuracy.Predicate]; !ok {
			return fmt.Errorf("rule %s: unknown predicate %q", r.ID, r.Accuracy.Predicate)
		}
	case KindConsistency:
		if r.Consistency == nil || (len(r.Consistency.SumOfFields) == 0 && r.Consistency.EqualsField == "") {
			return fmt.Errorf("rule %s: consistency rule requires sum_of_fields or equals_field", r.ID)
		}
	case KindFormat:
		if r.Format == nil {
			return fmt.Errorf("rule %s: format rule requires format params", r.ID)
		}
	case KindBusinessLogic:
		if r.BusinessLogic == nil || r.BusinessLogic.NumeratorField == "" || r.BusinessLogic.DenominatorField == "" {
			return fmt.Errorf("rule %s: business logic rule requires numerator and denominator fields", r.ID)
		}
	default:
		return fmt.Errorf("rule %s: unknown kind %q", r.ID, r.Kind)
	}

	return nil
}

// RuleList stores a template's ordered rules in a jsonb column
type RuleList []Rule

// Value implements driver.Valuer
func (l RuleList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner
func (l *RuleList) Scan(src interface{}) error {
	if src == nil {
		*l = RuleList{}
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported scan type for RuleList: %T", src)
	}

	return json.Unmarshal(data, l)
}

// Result is the outcome of evaluating one rule against aggregated data.
// Results carry no timestamps so that re-running validation on unchanged
// input yields identical output; the repository stamps persistence time.
type Result struct {
	RuleID      string   `json:"rule_id" db:"rule_id"`
	InstanceID  string   `json:"instance_id" db:"instance_id"`
	RuleName    string   `json:"rule_name" db:"rule_name"`
	Severity    Severity `json:"severity" db:"severity"`
	Status      Status   `json:"status" db:"status"`
	Observed    string   `json:"observed" db:"observed"`
	Expected    string   `json:"expected" db:"expected"`
	Message     string   `json:"message" db:"message"`
	Remediation string   `json:"remediation" db:"remediation"`
}

// Summary aggregates one validation run
type Summary struct {
	Total            int     `json:"total"`
	Passed           int     `json:"passed"`
	Failed           int     `json:"failed"`
	Warnings         int     `json:"warnings"`
	DataQualityScore int     `json:"data_quality_score"`
	OverallStatus    Status  `json:"overall_status"`
	ErrorFailures    int     `json:"error_failures"`
}
