package validation

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vantage-grc/reporting-pipeline/internal/config"
)

// Engine evaluates a template's validation rules against aggregated
// report data. Evaluation is pure: identical input yields identical
// results, so a re-run replaces the prior result set without drift.
type Engine struct {
	config config.ValidationConfig
	logger *zap.Logger
}

// NewEngine creates a new validation engine instance
func NewEngine(cfg config.ValidationConfig, logger *zap.Logger) *Engine {
	return &Engine{
		config: cfg,
		logger: logger,
	}
}

// Evaluate runs every rule against the aggregated payload. Rules are
// evaluated concurrently but results come back in declared rule order.
// A rule whose evaluation fails internally is recorded as a failed
// result carrying the diagnostic; it never aborts the remaining rules.
func (e *Engine) Evaluate(ctx context.Context, instanceID string, rules []Rule, payload map[string]interface{}) []Result {
	results := make([]Result, len(rules))

	g, _ := errgroup.WithContext(ctx)
	if e.config.MaxConcurrentRules > 0 {
		g.SetLimit(e.config.MaxConcurrentRules)
	}

	for i, rule := range rules {
		i, rule := i, rule
		g.Go(func() error {
			results[i] = e.evaluateOne(instanceID, rule, payload)
			return nil
		})
	}

	// Workers never return errors; failures become failed results
	_ = g.Wait()

	return results
}

func (e *Engine) evaluateOne(instanceID string, rule Rule, payload map[string]interface{}) (result Result) {
	result = Result{
		RuleID:      rule.ID,
		InstanceID:  instanceID,
		RuleName:    rule.Name,
		Severity:    rule.Severity,
		Message:     rule.Message,
		Remediation: rule.Remediation,
	}

	defer func() {
		if r := recover(); r != nil {
			result.Status = StatusFailed
			result.Message = fmt.Sprintf("rule evaluation panic: %v", r)
			e.logger.Error("Validation rule panicked",
				zap.String("rule_id", rule.ID),
				zap.Any("panic", r),
			)
		}
	}()

	passed, observed, expected, err := evaluateRule(rule, payload)
	if err != nil {
		result.Status = StatusFailed
		result.Message = fmt.Sprintf("rule evaluation error: %v", err)
		return result
	}

	result.Observed = observed
	result.Expected = expected

	if passed {
		result.Status = StatusPassed
		return result
	}

	// A breached rule fails at error severity; lesser severities warn
	if rule.Severity == SeverityError {
		result.Status = StatusFailed
	} else {
		result.Status = StatusWarning
	}

	return result
}

// Summarize computes the run summary. An empty rule set scores 100
// (vacuously satisfied).
func Summarize(results []Result) Summary {
	summary := Summary{Total: len(results)}

	for _, r := range results {
		switch r.Status {
		case StatusPassed:
			summary.Passed++
		case StatusFailed:
			summary.Failed++
			if r.Severity == SeverityError {
				summary.ErrorFailures++
			}
		case StatusWarning:
			summary.Warnings++
		}
	}

	summary.DataQualityScore = QualityScore(summary.Passed, summary.Total)

	switch {
	case summary.ErrorFailures > 0:
		summary.OverallStatus = StatusFailed
	case summary.Warnings > 0 || summary.Failed > 0:
		summary.OverallStatus = StatusWarning
	default:
		summary.OverallStatus = StatusPassed
	}

	return summary
}

// QualityScore is the percentage of passed checks, rounded. A set of
// size zero scores 100.
func QualityScore(passed, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(passed) / float64(total) * 100))
}
