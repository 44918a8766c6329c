package export

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vantage-grc/reporting-pipeline/internal/config"
	"github.com/vantage-grc/reporting-pipeline/internal/database"
	"github.com/vantage-grc/reporting-pipeline/internal/lifecycle"
	"github.com/vantage-grc/reporting-pipeline/internal/registry"
)

func newTestExporter() *Exporter {
	cfg := config.ExportConfig{
		PDFFontFamily:  "Arial",
		ExcelSheetName: "Report",
		CSVDelimiter:   ",",
	}
	return NewExporter(cfg, zap.NewNop())
}

func fixture(format string) (*registry.Template, *lifecycle.Instance) {
	template := &registry.Template{
		ID:         "tpl-1",
		ReportType: "operational_risk",
		Name:       "Operational Risk Report",
		Version:    2,
		Submission: registry.SubmissionValue{Format: format, Regulator: "FCA"},
	}
	instance := &lifecycle.Instance{
		ID:             "inst-1",
		TemplateID:     "tpl-1",
		OrganizationID: "org-1",
		PeriodStart:    time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Status:         lifecycle.StatusApproved,
		AggregatedData: database.JSONMap{
			"merged": map[string]interface{}{
				"incidents": map[string]interface{}{
					"total_count":            float64(4),
					"total_financial_impact": 1500.5,
				},
			},
		},
		ValidationSummary: database.JSONMap{"overall_status": "passed"},
	}
	return template, instance
}

func TestRenderJSON(t *testing.T) {
	exporter := newTestExporter()
	template, instance := fixture(registry.FormatJSON)

	artifact, err := exporter.Render(template, instance)
	require.NoError(t, err)

	assert.Equal(t, "operational_risk-2026-07.json", artifact.Filename)
	assert.Equal(t, "application/json", artifact.ContentType)

	var document map[string]interface{}
	require.NoError(t, json.Unmarshal(artifact.Data, &document))
	assert.Equal(t, "operational_risk", document["report_type"])
	assert.Equal(t, "approved", document["status"])
}

func TestRenderCSV(t *testing.T) {
	exporter := newTestExporter()
	template, instance := fixture(registry.FormatCSV)

	artifact, err := exporter.Render(template, instance)
	require.NoError(t, err)

	content := string(artifact.Data)
	lines := strings.Split(strings.TrimSpace(content), "\n")
	assert.Equal(t, "field,value", lines[0])
	assert.Contains(t, content, "incidents.total_count,4")
	assert.Contains(t, content, "period_start,2026-07-01")
}

func TestRenderXML(t *testing.T) {
	exporter := newTestExporter()
	template, instance := fixture(registry.FormatXML)

	artifact, err := exporter.Render(template, instance)
	require.NoError(t, err)

	content := string(artifact.Data)
	assert.True(t, strings.HasPrefix(content, "<?xml"))
	assert.Contains(t, content, "<regulator>FCA</regulator>")
	assert.Contains(t, content, `field="incidents.total_financial_impact"`)
}

func TestRenderPDFAndExcelProduceData(t *testing.T) {
	exporter := newTestExporter()

	for _, format := range []string{registry.FormatPDF, registry.FormatExcel} {
		t.Run(format, func(t *testing.T) {
			template, instance := fixture(format)
			artifact, err := exporter.Render(template, instance)
			require.NoError(t, err)
			assert.NotEmpty(t, artifact.Data)
		})
	}
}

func TestRenderUnknownFormat(t *testing.T) {
	exporter := newTestExporter()
	template, instance := fixture("docx")

	_, err := exporter.Render(template, instance)
	assert.Error(t, err)
}
