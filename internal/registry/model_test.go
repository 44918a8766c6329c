package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vantage-grc/reporting-pipeline/internal/aggregation"
	"github.com/vantage-grc/reporting-pipeline/internal/validation"
)

func validTemplate() *Template {
	return &Template{
		OrganizationID: "org-1",
		ReportType:     "operational_risk",
		Name:           "Operational Risk Report",
		Frequency:      FrequencyMonthly,
		Sources: SourceList{
			{Name: "indicators", Type: aggregation.SourceIndicators, Required: true},
			{Name: "controls", Type: aggregation.SourceControls},
		},
		Rules: validation.RuleList{
			{ID: "r1", Kind: validation.KindCompleteness, Field: "indicators.indicators",
				Severity: validation.SeverityError},
		},
		Submission: SubmissionValue{
			Format:        FormatPDF,
			Regulator:     "FCA",
			DueDayOfMonth: 15,
		},
	}
}

func TestTemplateValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Template)
		wantErr string
	}{
		{"valid template", func(t *Template) {}, ""},
		{"missing organization", func(t *Template) { t.OrganizationID = "" }, "organization_id"},
		{"missing report type", func(t *Template) { t.ReportType = "" }, "report_type"},
		{"unknown frequency", func(t *Template) { t.Frequency = "fortnightly" }, "frequency"},
		{"unknown format", func(t *Template) {
			t.Submission.Format = "docx"
		}, "format"},
		{"no sources", func(t *Template) { t.Sources = nil }, "data source"},
		{"duplicate source name", func(t *Template) {
			t.Sources = append(t.Sources, aggregation.SourceRequirement{
				Name: "indicators", Type: aggregation.SourceIncidents})
		}, "duplicate"},
		{"unknown source type", func(t *Template) {
			t.Sources[0].Type = "telemetry"
		}, "unknown type"},
		{"invalid rule rejected", func(t *Template) {
			t.Rules[0].Severity = "fatal"
		}, "severity"},
		{"duplicate rule id", func(t *Template) {
			t.Rules = append(t.Rules, t.Rules[0])
		}, "duplicate rule id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			template := validTemplate()
			tt.mutate(template)
			err := template.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestSourceListRoundTrip(t *testing.T) {
	original := SourceList{
		{Name: "incidents", Type: aggregation.SourceIncidents, Required: true,
			Mapping: map[string]string{"impact": "financial_impact"}},
	}

	value, err := original.Value()
	assert.NoError(t, err)

	var scanned SourceList
	assert.NoError(t, scanned.Scan(value))
	assert.Equal(t, original, scanned)
}
