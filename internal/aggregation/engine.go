package aggregation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vantage-grc/reporting-pipeline/internal/config"
	"github.com/vantage-grc/reporting-pipeline/internal/validation"
)

// SourceRequirement names one data source a report template draws
// from. Required sources that fail still produce a Result with
// Failed set, never an engine error.
type SourceRequirement struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Required bool              `json:"required"`
	Mapping  map[string]string `json:"mapping,omitempty"`
}

// Engine collects records from the configured stores and reduces
// them to per-source aggregates. Sources are fetched concurrently
// and fail independently.
type Engine struct {
	config config.AggregationConfig
	stores Stores
	logger *zap.Logger
}

func NewEngine(cfg config.AggregationConfig, stores Stores, logger *zap.Logger) *Engine {
	return &Engine{
		config: cfg,
		stores: stores,
		logger: logger,
	}
}

// Aggregate fans out over the requested sources. The returned slice
// preserves the order of requirements, one Result per requirement.
// A source failure is recorded on its Result; the only error returned
// is the parent context's.
func (e *Engine) Aggregate(ctx context.Context, orgID string, requirements []SourceRequirement, period Period) ([]Result, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}

	results := make([]Result, len(requirements))

	group, groupCtx := errgroup.WithContext(ctx)
	if e.config.MaxConcurrentSources > 0 {
		group.SetLimit(e.config.MaxConcurrentSources)
	}

	for i, requirement := range requirements {
		i, requirement := i, requirement
		group.Go(func() error {
			results[i] = e.collectSource(groupCtx, orgID, requirement, period)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

func (e *Engine) collectSource(ctx context.Context, orgID string, requirement SourceRequirement, period Period) Result {
	started := time.Now()

	sourceCtx := ctx
	if e.config.SourceTimeout > 0 {
		var cancel context.CancelFunc
		sourceCtx, cancel = context.WithTimeout(ctx, e.config.SourceTimeout)
		defer cancel()
	}

	result := Result{
		Source:     requirement.Name,
		SourceType: requirement.Type,
	}

	payload, checks, processed, err := e.fetchAndSummarize(sourceCtx, orgID, requirement.Type, period)
	result.Duration = time.Since(started)

	if err != nil {
		e.logger.Warn("Data source unavailable",
			zap.String("source", requirement.Name),
			zap.String("type", requirement.Type),
			zap.String("organization_id", orgID),
			zap.Error(err))
		result.Failed = true
		result.Error = err.Error()
		result.QualityScore = 0
		return result
	}

	passed := 0
	for _, check := range checks {
		if check.Status == validation.StatusPassed {
			passed++
		}
	}

	result.RecordsProcessed = processed
	result.Payload = payload
	result.Checks = checks
	result.QualityScore = validation.QualityScore(passed, len(checks))

	e.logger.Debug("Source aggregated",
		zap.String("source", requirement.Name),
		zap.Int("records", processed),
		zap.Int("quality_score", result.QualityScore),
		zap.Duration("duration", result.Duration))

	return result
}

func (e *Engine) fetchAndSummarize(ctx context.Context, orgID, sourceType string, period Period) (map[string]interface{}, []validation.Result, int, error) {
	switch sourceType {
	case SourceIndicators:
		records, err := e.stores.Indicators.ListMeasurements(ctx, orgID, period)
		if err != nil {
			return nil, nil, 0, err
		}
		payload, checks := summarizeIndicators(records, period)
		return payload, checks, len(records), nil

	case SourceIncidents:
		records, err := e.stores.Incidents.ListIncidents(ctx, orgID, period)
		if err != nil {
			return nil, nil, 0, err
		}
		payload, checks := summarizeIncidents(records, period)
		return payload, checks, len(records), nil

	case SourceControls:
		records, err := e.stores.Controls.ListControls(ctx, orgID, period)
		if err != nil {
			return nil, nil, 0, err
		}
		payload, checks := summarizeControls(records, period)
		return payload, checks, len(records), nil

	case SourceThirdParties:
		records, err := e.stores.ThirdParties.ListProfiles(ctx, orgID, period)
		if err != nil {
			return nil, nil, 0, err
		}
		payload, checks := summarizeThirdParties(records, period)
		return payload, checks, len(records), nil

	default:
		return nil, nil, 0, fmt.Errorf("unknown source type: %s", sourceType)
	}
}
