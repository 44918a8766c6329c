package aggregation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vantage-grc/reporting-pipeline/internal/config"
)

type fakeStores struct {
	measurements []IndicatorRecord
	incidents    []IncidentRecord
	controls     []ControlRecord
	profiles     []ThirdPartyRecord

	measurementsErr error
	incidentsErr    error
}

func (f *fakeStores) ListMeasurements(ctx context.Context, orgID string, period Period) ([]IndicatorRecord, error) {
	return f.measurements, f.measurementsErr
}

func (f *fakeStores) ListIncidents(ctx context.Context, orgID string, period Period) ([]IncidentRecord, error) {
	return f.incidents, f.incidentsErr
}

func (f *fakeStores) ListControls(ctx context.Context, orgID string, period Period) ([]ControlRecord, error) {
	return f.controls, nil
}

func (f *fakeStores) ListProfiles(ctx context.Context, orgID string, period Period) ([]ThirdPartyRecord, error) {
	return f.profiles, nil
}

func newTestEngine(fake *fakeStores) *Engine {
	stores := Stores{
		Indicators:   fake,
		Incidents:    fake,
		Controls:     fake,
		ThirdParties: fake,
	}
	cfg := config.AggregationConfig{
		SourceTimeout:        5 * time.Second,
		MaxConcurrentSources: 4,
	}
	return NewEngine(cfg, stores, zap.NewNop())
}

func testPeriod() Period {
	return Period{
		Start: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestAggregateEmptySource(t *testing.T) {
	engine := newTestEngine(&fakeStores{})

	requirements := []SourceRequirement{
		{Name: "indicators", Type: SourceIndicators, Required: true},
	}

	results, err := engine.Aggregate(context.Background(), "org-1", requirements, testPeriod())
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	assert.False(t, result.Failed, "empty record set is not an error")
	assert.Equal(t, 0, result.RecordsProcessed)
	assert.Equal(t, 0, result.Payload["total_records"])
	assert.Equal(t, 100, result.QualityScore, "structural checks pass on empty input")
}

func TestAggregateSourceFailureIsIsolated(t *testing.T) {
	period := testPeriod()
	incidents := []IncidentRecord{
		{Category: "fraud", Severity: "high", FinancialImpact: 1200, OccurredAt: period.Start.Add(time.Hour)},
	}

	requirements := []SourceRequirement{
		{Name: "indicators", Type: SourceIndicators, Required: true},
		{Name: "incidents", Type: SourceIncidents, Required: true},
	}

	healthy := newTestEngine(&fakeStores{incidents: incidents})
	baseline, err := healthy.Aggregate(context.Background(), "org-1", requirements, period)
	require.NoError(t, err)

	degraded := newTestEngine(&fakeStores{
		incidents:       incidents,
		measurementsErr: fmt.Errorf("indicator service unavailable"),
	})
	results, err := degraded.Aggregate(context.Background(), "org-1", requirements, period)
	require.NoError(t, err, "a failing source never fails the run")
	require.Len(t, results, 2)

	assert.True(t, results[0].Failed)
	assert.Equal(t, 0, results[0].QualityScore)
	assert.Contains(t, results[0].Error, "unavailable")

	// The incidents result matches the all-healthy run exactly
	assert.False(t, results[1].Failed)
	assert.Equal(t, baseline[1].Payload, results[1].Payload)
	assert.Equal(t, baseline[1].QualityScore, results[1].QualityScore)
}

func TestAggregateIndependenceAcrossRequirements(t *testing.T) {
	period := testPeriod()
	fake := &fakeStores{
		incidents: []IncidentRecord{
			{Category: "ops", Severity: "low", FinancialImpact: 50, OccurredAt: period.Start.Add(time.Hour)},
		},
		profiles: []ThirdPartyRecord{
			{Name: "Acme", RiskRating: "high", AnnualSpend: 90000, Critical: true},
		},
	}
	engine := newTestEngine(fake)

	both := []SourceRequirement{
		{Name: "incidents", Type: SourceIncidents},
		{Name: "third_parties", Type: SourceThirdParties},
	}
	one := []SourceRequirement{
		{Name: "third_parties", Type: SourceThirdParties},
	}

	withBoth, err := engine.Aggregate(context.Background(), "org-1", both, period)
	require.NoError(t, err)
	withOne, err := engine.Aggregate(context.Background(), "org-1", one, period)
	require.NoError(t, err)

	assert.Equal(t, withBoth[1].Payload, withOne[0].Payload,
		"removing one requirement must not change another source's output")
}

func TestAggregateUnknownSourceType(t *testing.T) {
	engine := newTestEngine(&fakeStores{})

	results, err := engine.Aggregate(context.Background(), "org-1",
		[]SourceRequirement{{Name: "mystery", Type: "telemetry"}}, testPeriod())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Failed)
	assert.Contains(t, results[0].Error, "unknown source type")
}

func TestSummarizeIndicators(t *testing.T) {
	period := testPeriod()
	records := []IndicatorRecord{
		{Indicator: "fraud_rate", Value: 2.0, Threshold: 5, RecordedAt: period.Start.Add(time.Hour)},
		{Indicator: "fraud_rate", Value: 6.0, Threshold: 5, Breached: true, RecordedAt: period.Start.Add(2 * time.Hour)},
		{Indicator: "uptime", Value: 99.9, Threshold: 99, RecordedAt: period.Start.Add(3 * time.Hour)},
	}

	payload, checks := summarizeIndicators(records, period)

	indicators := payload["indicators"].(map[string]interface{})
	fraud := indicators["fraud_rate"].(map[string]interface{})
	assert.Equal(t, 2, fraud["count"])
	assert.Equal(t, 4.0, fraud["average"])
	assert.Equal(t, 6.0, fraud["max"])
	assert.Equal(t, 2.0, fraud["min"])
	assert.Equal(t, 1, fraud["breaches"])

	assert.Equal(t, 3, payload["total_records"])
	assert.Equal(t, 1, payload["breach_count"])

	require.Len(t, checks, 1)
	assert.Equal(t, "passed", string(checks[0].Status))
}

func TestSummarizeIncidents(t *testing.T) {
	period := testPeriod()
	records := []IncidentRecord{
		{Category: "fraud", Severity: "high", FinancialImpact: 1000, OccurredAt: period.Start.Add(time.Hour)},
		{Category: "fraud", Severity: "low", FinancialImpact: 200, OccurredAt: period.Start.Add(2 * time.Hour)},
		{Category: "ops", Severity: "high", FinancialImpact: 300, OccurredAt: period.Start.Add(3 * time.Hour)},
	}

	payload, checks := summarizeIncidents(records, period)

	bySeverity := payload["by_severity"].(map[string]interface{})
	assert.Equal(t, 2, bySeverity["high"])
	assert.Equal(t, 1, bySeverity["low"])

	byCategory := payload["by_category"].(map[string]interface{})
	fraud := byCategory["fraud"].(map[string]interface{})
	assert.Equal(t, 2, fraud["count"])
	assert.Equal(t, 1200.0, fraud["financial_impact"])

	assert.Equal(t, 1500.0, payload["total_financial_impact"])

	for _, check := range checks {
		assert.Equal(t, "passed", string(check.Status))
	}
}

func TestSummarizeControlsTrailingWindow(t *testing.T) {
	period := testPeriod()
	recent := period.End.AddDate(0, -2, 0)
	stale := period.End.AddDate(-2, 0, 0)

	records := []ControlRecord{
		{Category: "access", EffectivenessScore: 85, TestCount: 4, LastTestedAt: &recent},
		{Category: "access", EffectivenessScore: 60, TestCount: 1, LastTestedAt: &stale},
		{Category: "change", EffectivenessScore: 90, TestCount: 0},
	}

	payload, _ := summarizeControls(records, period)

	assert.Equal(t, 3, payload["total_controls"])
	assert.Equal(t, 2, payload["effective_controls"])
	assert.Equal(t, 2, payload["tested_controls"])
	assert.Equal(t, 1, payload["tested_trailing_12m"],
		"only tests inside the trailing 12 months from period end count")

	access := payload["by_category"].(map[string]interface{})["access"].(map[string]interface{})
	assert.Equal(t, 2, access["total"])
	assert.Equal(t, 1, access["effective"])
}

func TestSummarizeThirdParties(t *testing.T) {
	records := []ThirdPartyRecord{
		{Name: "Acme", RiskRating: "high", AnnualSpend: 50000, Critical: true},
		{Name: "Globex", RiskRating: "high", AnnualSpend: 30000},
		{Name: "Initech", RiskRating: "low", AnnualSpend: 5000},
	}

	payload, _ := summarizeThirdParties(records, testPeriod())

	byRating := payload["by_rating"].(map[string]interface{})
	high := byRating["high"].(map[string]interface{})
	assert.Equal(t, 2, high["count"])
	assert.Equal(t, 80000.0, high["total_spend"])

	assert.Equal(t, 3, payload["total_entities"])
	assert.Equal(t, 85000.0, payload["total_spend"])
	assert.Equal(t, 1, payload["critical_count"])

	critical := payload["critical_entities"].([]interface{})
	require.Len(t, critical, 1)
	assert.Equal(t, "Acme", critical[0].(map[string]interface{})["name"])
}

func TestMergePayloadsSkipsFailedSources(t *testing.T) {
	results := []Result{
		{Source: "incidents", Payload: map[string]interface{}{"total_count": 3}},
		{Source: "indicators", Failed: true, Error: "unavailable"},
	}

	merged := MergePayloads(results)
	assert.Contains(t, merged, "incidents")
	assert.NotContains(t, merged, "indicators")
}

func TestPeriodValidate(t *testing.T) {
	valid := testPeriod()
	assert.NoError(t, valid.Validate())

	inverted := Period{Start: valid.End, End: valid.Start}
	assert.Error(t, inverted.Validate())

	assert.True(t, valid.Contains(valid.Start))
	assert.False(t, valid.Contains(valid.End), "period end is exclusive")
}

func TestAggregateZeroValueConfig(t *testing.T) {
	fake := &fakeStores{
		measurements: []IndicatorRecord{{Indicator: "uptime", Value: 99.9, Threshold: 99.5}},
	}
	engine := NewEngine(config.AggregationConfig{}, Stores{
		Indicators:   fake,
		Incidents:    fake,
		Controls:     fake,
		ThirdParties: fake,
	}, zap.NewNop())

	requirements := []SourceRequirement{
		{Name: "indicators", Type: SourceIndicators, Required: true},
		{Name: "incidents", Type: SourceIncidents, Required: false},
	}

	done := make(chan struct{})
	var results []Result
	var err error
	go func() {
		results, err = engine.Aggregate(context.Background(), "org-1", requirements, testPeriod())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("aggregation with unset limits did not complete")
	}

	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, result := range results {
		assert.False(t, result.Failed)
	}
}
