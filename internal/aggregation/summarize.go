package aggregation

import (
	"fmt"
	"math"

	"github.com/vantage-grc/reporting-pipeline/internal/validation"
)

// effectivenessThreshold is the score at or above which a control
// counts as effective in control-source aggregates.
const effectivenessThreshold = 70.0

// summarizeIndicators groups measurements by indicator name and
// computes running average, max, min and breach counts per group.
func summarizeIndicators(records []IndicatorRecord, period Period) (map[string]interface{}, []validation.Result) {
	type stats struct {
		count    int
		sum      float64
		max      float64
		min      float64
		breaches int
	}

	groups := make(map[string]*stats)
	totalBreaches := 0
	outOfPeriod := 0

	for _, record := range records {
		if !period.Contains(record.RecordedAt) {
			outOfPeriod++
		}

		group, ok := groups[record.Indicator]
		if !ok {
			group = &stats{max: math.Inf(-1), min: math.Inf(1)}
			groups[record.Indicator] = group
		}

		group.count++
		group.sum += record.Value
		if record.Value > group.max {
			group.max = record.Value
		}
		if record.Value < group.min {
			group.min = record.Value
		}
		if record.Breached {
			group.breaches++
			totalBreaches++
		}
	}

	indicators := make(map[string]interface{}, len(groups))
	for name, group := range groups {
		indicators[name] = map[string]interface{}{
			"count":    group.count,
			"average":  group.sum / float64(group.count),
			"max":      group.max,
			"min":      group.min,
			"breaches": group.breaches,
		}
	}

	payload := map[string]interface{}{
		"indicators":    indicators,
		"total_records": len(records),
		"breach_count":  totalBreaches,
	}

	checks := []validation.Result{
		structuralCheck("records_within_period",
			outOfPeriod == 0,
			fmt.Sprintf("%d records outside period", outOfPeriod)),
	}

	return payload, checks
}

// summarizeIncidents groups incidents by category and severity with
// counts and financial impact sums.
func summarizeIncidents(records []IncidentRecord, period Period) (map[string]interface{}, []validation.Result) {
	bySeverity := make(map[string]interface{})
	byCategory := make(map[string]interface{})
	totalImpact := 0.0
	negativeImpact := 0
	outOfPeriod := 0

	for _, record := range records {
		if !period.Contains(record.OccurredAt) {
			outOfPeriod++
		}
		if record.FinancialImpact < 0 {
			negativeImpact++
		}

		if count, ok := bySeverity[record.Severity].(int); ok {
			bySeverity[record.Severity] = count + 1
		} else {
			bySeverity[record.Severity] = 1
		}

		category, ok := byCategory[record.Category].(map[string]interface{})
		if !ok {
			category = map[string]interface{}{"count": 0, "financial_impact": 0.0}
			byCategory[record.Category] = category
		}
		category["count"] = category["count"].(int) + 1
		category["financial_impact"] = category["financial_impact"].(float64) + record.FinancialImpact

		totalImpact += record.FinancialImpact
	}

	payload := map[string]interface{}{
		"by_severity":            bySeverity,
		"by_category":            byCategory,
		"total_count":            len(records),
		"total_financial_impact": totalImpact,
	}

	checks := []validation.Result{
		structuralCheck("records_within_period",
			outOfPeriod == 0,
			fmt.Sprintf("%d records outside period", outOfPeriod)),
		structuralCheck("non_negative_financial_impact",
			negativeImpact == 0,
			fmt.Sprintf("%d records with negative impact", negativeImpact)),
	}

	return payload, checks
}

// summarizeControls groups controls by category and computes totals,
// effectiveness counts, and tested-in-trailing-12-months counts. The
// trailing window is anchored to the period end.
func summarizeControls(records []ControlRecord, period Period) (map[string]interface{}, []validation.Result) {
	windowStart := period.End.AddDate(-1, 0, 0)

	byCategory := make(map[string]interface{})
	effective := 0
	everTested := 0
	testedInWindow := 0
	invalidScore := 0

	for _, record := range records {
		if record.EffectivenessScore < 0 || record.EffectivenessScore > 100 {
			invalidScore++
		}

		category, ok := byCategory[record.Category].(map[string]interface{})
		if !ok {
			category = map[string]interface{}{"total": 0, "effective": 0, "tested": 0}
			byCategory[record.Category] = category
		}
		category["total"] = category["total"].(int) + 1

		if record.EffectivenessScore >= effectivenessThreshold {
			effective++
			category["effective"] = category["effective"].(int) + 1
		}
		if record.TestCount > 0 {
			everTested++
			category["tested"] = category["tested"].(int) + 1
		}
		if record.LastTestedAt != nil && !record.LastTestedAt.Before(windowStart) && record.LastTestedAt.Before(period.End) {
			testedInWindow++
		}
	}

	payload := map[string]interface{}{
		"by_category":           byCategory,
		"total_controls":        len(records),
		"effective_controls":    effective,
		"tested_controls":       everTested,
		"tested_trailing_12m":   testedInWindow,
	}

	checks := []validation.Result{
		structuralCheck("effectiveness_score_in_range",
			invalidScore == 0,
			fmt.Sprintf("%d controls with out-of-range score", invalidScore)),
	}

	return payload, checks
}

// summarizeThirdParties groups vendor profiles by risk rating with
// entity counts, spend sums, and critical flags.
func summarizeThirdParties(records []ThirdPartyRecord, _ Period) (map[string]interface{}, []validation.Result) {
	byRating := make(map[string]interface{})
	criticalEntities := make([]interface{}, 0)
	totalSpend := 0.0
	critical := 0
	negativeSpend := 0

	for _, record := range records {
		if record.AnnualSpend < 0 {
			negativeSpend++
		}

		rating, ok := byRating[record.RiskRating].(map[string]interface{})
		if !ok {
			rating = map[string]interface{}{"count": 0, "total_spend": 0.0}
			byRating[record.RiskRating] = rating
		}
		rating["count"] = rating["count"].(int) + 1
		rating["total_spend"] = rating["total_spend"].(float64) + record.AnnualSpend

		totalSpend += record.AnnualSpend
		if record.Critical {
			critical++
			criticalEntities = append(criticalEntities, map[string]interface{}{
				"name":        record.Name,
				"risk_rating": record.RiskRating,
			})
		}
	}

	payload := map[string]interface{}{
		"by_rating":         byRating,
		"total_entities":    len(records),
		"total_spend":       totalSpend,
		"critical_count":    critical,
		"critical_entities": criticalEntities,
	}

	checks := []validation.Result{
		structuralCheck("non_negative_spend",
			negativeSpend == 0,
			fmt.Sprintf("%d profiles with negative spend", negativeSpend)),
	}

	return payload, checks
}

func structuralCheck(name string, passed bool, observed string) validation.Result {
	result := validation.Result{
		RuleID:   name,
		RuleName: name,
		Severity: validation.SeverityError,
		Observed: observed,
		Expected: "0 structural violations",
	}
	if passed {
		result.Status = validation.StatusPassed
	} else {
		result.Status = validation.StatusFailed
	}
	return result
}
