package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/vantage-grc/reporting-pipeline/internal/config"
	"github.com/vantage-grc/reporting-pipeline/internal/lifecycle"
	"github.com/vantage-grc/reporting-pipeline/internal/registry"
)

// Artifact is one rendered submission document.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Exporter renders a report instance into the submission format its
// template declares.
type Exporter struct {
	config config.ExportConfig
	logger *zap.Logger
}

func NewExporter(cfg config.ExportConfig, logger *zap.Logger) *Exporter {
	return &Exporter{config: cfg, logger: logger}
}

// Render produces the artifact for one instance.
func (e *Exporter) Render(template *registry.Template, instance *lifecycle.Instance) (*Artifact, error) {
	rows := flattenInstance(template, instance)
	base := fmt.Sprintf("%s-%s", template.ReportType, instance.PeriodStart.Format("2006-01"))

	switch template.Submission.Format {
	case registry.FormatPDF:
		data, err := e.renderPDF(template, instance, rows)
		return artifact(base+".pdf", "application/pdf", data), err
	case registry.FormatExcel:
		data, err := e.renderExcel(rows)
		return artifact(base+".xlsx",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data), err
	case registry.FormatCSV:
		data, err := e.renderCSV(rows)
		return artifact(base+".csv", "text/csv", data), err
	case registry.FormatJSON:
		data, err := e.renderJSON(template, instance)
		return artifact(base+".json", "application/json", data), err
	case registry.FormatXML:
		data, err := e.renderXML(template, instance, rows)
		return artifact(base+".xml", "application/xml", data), err
	default:
		return nil, fmt.Errorf("unknown submission format: %s", template.Submission.Format)
	}
}

func artifact(name, contentType string, data []byte) *Artifact {
	return &Artifact{Filename: name, ContentType: contentType, Data: data}
}

// exportRow is one flattened field of the aggregated payload.
type exportRow struct {
	Field string `xml:"field,attr"`
	Value string `xml:",chardata"`
}

// flattenInstance turns the nested aggregate payload into sorted
// field/value rows for tabular formats.
func flattenInstance(template *registry.Template, instance *lifecycle.Instance) []exportRow {
	rows := []exportRow{
		{Field: "report_type", Value: template.ReportType},
		{Field: "organization_id", Value: instance.OrganizationID},
		{Field: "period_start", Value: instance.PeriodStart.Format("2006-01-02")},
		{Field: "period_end", Value: instance.PeriodEnd.Format("2006-01-02")},
		{Field: "status", Value: instance.Status},
	}

	merged, _ := instance.AggregatedData["merged"].(map[string]interface{})
	flat := make(map[string]string)
	flatten("", merged, flat)

	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		rows = append(rows, exportRow{Field: key, Value: flat[key]})
	}
	return rows
}

func flatten(prefix string, value interface{}, out map[string]string) {
	switch typed := value.(type) {
	case map[string]interface{}:
		for key, child := range typed {
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			flatten(path, child, out)
		}
	case []interface{}:
		out[prefix] = fmt.Sprintf("%d items", len(typed))
	case float64:
		out[prefix] = fmt.Sprintf("%g", typed)
	case nil:
	default:
		out[prefix] = fmt.Sprintf("%v", typed)
	}
}

func (e *Exporter) renderPDF(template *registry.Template, instance *lifecycle.Instance, rows []exportRow) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont(e.config.PDFFontFamily, "B", 16)
	pdf.Cell(0, 10, template.Name)
	pdf.Ln(12)

	pdf.SetFont(e.config.PDFFontFamily, "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Regulator: %s", template.Submission.Regulator))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format("2006-01-02 15:04 UTC")))
	pdf.Ln(10)

	pdf.SetFont(e.config.PDFFontFamily, "B", 9)
	pdf.CellFormat(110, 7, "Field", "1", 0, "L", false, 0, "")
	pdf.CellFormat(80, 7, "Value", "1", 1, "L", false, 0, "")

	pdf.SetFont(e.config.PDFFontFamily, "", 9)
	for _, row := range rows {
		pdf.CellFormat(110, 6, row.Field, "1", 0, "L", false, 0, "")
		pdf.CellFormat(80, 6, row.Value, "1", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *Exporter) renderExcel(rows []exportRow) ([]byte, error) {
	file := excelize.NewFile()
	sheet := e.config.ExcelSheetName
	index, err := file.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	file.SetActiveSheet(index)

	file.SetCellValue(sheet, "A1", "Field")
	file.SetCellValue(sheet, "B1", "Value")
	for i, row := range rows {
		file.SetCellValue(sheet, fmt.Sprintf("A%d", i+2), row.Field)
		file.SetCellValue(sheet, fmt.Sprintf("B%d", i+2), row.Value)
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *Exporter) renderCSV(rows []exportRow) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if e.config.CSVDelimiter != "" {
		writer.Comma = rune(e.config.CSVDelimiter[0])
	}

	if err := writer.Write([]string{"field", "value"}); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := writer.Write([]string{row.Field, row.Value}); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	return buf.Bytes(), writer.Error()
}

func (e *Exporter) renderJSON(template *registry.Template, instance *lifecycle.Instance) ([]byte, error) {
	document := map[string]interface{}{
		"report_type":        template.ReportType,
		"template_version":   template.Version,
		"organization_id":    instance.OrganizationID,
		"period_start":       instance.PeriodStart.Format("2006-01-02"),
		"period_end":         instance.PeriodEnd.Format("2006-01-02"),
		"status":             instance.Status,
		"aggregated_data":    instance.AggregatedData,
		"validation_summary": instance.ValidationSummary,
	}
	return json.MarshalIndent(document, "", "  ")
}

type xmlReport struct {
	XMLName     xml.Name    `xml:"report"`
	ReportType  string      `xml:"report_type"`
	Regulator   string      `xml:"regulator"`
	PeriodStart string      `xml:"period_start"`
	PeriodEnd   string      `xml:"period_end"`
	Status      string      `xml:"status"`
	Fields      []exportRow `xml:"fields>field"`
}

func (e *Exporter) renderXML(template *registry.Template, instance *lifecycle.Instance, rows []exportRow) ([]byte, error) {
	report := xmlReport{
		ReportType:  template.ReportType,
		Regulator:   template.Submission.Regulator,
		PeriodStart: instance.PeriodStart.Format("2006-01-02"),
		PeriodEnd:   instance.PeriodEnd.Format("2006-01-02"),
		Status:      instance.Status,
		Fields:      rows,
	}
	data, err := xml.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), data...), nil
}
