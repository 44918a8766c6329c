package aggregation

import (
	"fmt"
	"time"

	"github.com/vantage-grc/reporting-pipeline/internal/database"
	"github.com/vantage-grc/reporting-pipeline/internal/validation"
)

// Period is the half-open [Start, End) date range whose operational
// data feeds a report.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate checks the period is well formed
func (p Period) Validate() error {
	if !p.Start.Before(p.End) {
		return fmt.Errorf("period start %s must be before end %s", p.Start, p.End)
	}
	return nil
}

// Contains reports whether t falls inside the period
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Source type identifiers for template data-source requirements
const (
	SourceIndicators   = "indicators"
	SourceIncidents    = "incidents"
	SourceControls     = "controls"
	SourceThirdParties = "third_parties"
)

// IndicatorRecord is one risk-indicator measurement
type IndicatorRecord struct {
	Indicator  string    `db:"indicator" json:"indicator"`
	Value      float64   `db:"value" json:"value"`
	Threshold  float64   `db:"threshold" json:"threshold"`
	Breached   bool      `db:"breached" json:"breached"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// IncidentRecord is one operational incident
type IncidentRecord struct {
	Category        string    `db:"category" json:"category"`
	Severity        string    `db:"severity" json:"severity"`
	FinancialImpact float64   `db:"financial_impact" json:"financial_impact"`
	OccurredAt      time.Time `db:"occurred_at" json:"occurred_at"`
}

// ControlRecord is one control with its test history summary
type ControlRecord struct {
	Category           string     `db:"category" json:"category"`
	EffectivenessScore float64    `db:"effectiveness_score" json:"effectiveness_score"`
	TestCount          int        `db:"test_count" json:"test_count"`
	LastTestedAt       *time.Time `db:"last_tested_at" json:"last_tested_at,omitempty"`
}

// ThirdPartyRecord is one vendor risk profile
type ThirdPartyRecord struct {
	Name        string  `db:"name" json:"name"`
	RiskRating  string  `db:"risk_rating" json:"risk_rating"`
	AnnualSpend float64 `db:"annual_spend" json:"annual_spend"`
	Critical    bool    `db:"critical" json:"critical"`
}

// Result is the normalized aggregate of one data source for a period
type Result struct {
	Source           string                 `json:"source"`
	SourceType       string                 `json:"source_type"`
	RecordsProcessed int                    `json:"records_processed"`
	QualityScore     int                    `json:"quality_score"`
	Payload          map[string]interface{} `json:"payload"`
	Checks           []validation.Result    `json:"checks,omitempty"`
	Failed           bool                   `json:"failed"`
	Error            string                 `json:"error,omitempty"`
	Duration         time.Duration          `json:"duration"`
}

// MergePayloads keys each source's aggregate payload by source name,
// forming the flat payload validation rules resolve dot-paths into.
// Merge order is irrelevant: sources never share keys.
func MergePayloads(results []Result) map[string]interface{} {
	merged := make(map[string]interface{}, len(results))
	for _, result := range results {
		if result.Failed {
			continue
		}
		merged[result.Source] = result.Payload
	}
	return merged
}

// InstancePayload assembles the aggregated-data document stored on a
// report instance: one outcome entry per source plus the merged
// payload validation resolves against.
func InstancePayload(results []Result, merged map[string]interface{}) database.JSONMap {
	sources := make([]interface{}, 0, len(results))
	for _, result := range results {
		entry := map[string]interface{}{
			"source":            result.Source,
			"source_type":       result.SourceType,
			"records_processed": result.RecordsProcessed,
			"quality_score":     result.QualityScore,
			"failed":            result.Failed,
			"duration_millis":   result.Duration.Milliseconds(),
		}
		if result.Error != "" {
			entry["error"] = result.Error
		}
		sources = append(sources, entry)
	}
	return database.JSONMap{
		"sources": sources,
		"merged":  merged,
	}
}
