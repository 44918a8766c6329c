package aggregation

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SQLStores reads the platform's operational tables. Each query is
// bounded to [period.Start, period.End).
type SQLStores struct {
	db *sqlx.DB
}

func NewSQLStores(db *sqlx.DB) *SQLStores {
	return &SQLStores{db: db}
}

// Stores returns the bundle backed by this database.
func (s *SQLStores) Stores() Stores {
	return Stores{
		Indicators:   s,
		Incidents:    s,
		Controls:     s,
		ThirdParties: s,
	}
}

func (s *SQLStores) ListMeasurements(ctx context.Context, orgID string, period Period) ([]IndicatorRecord, error) {
	var records []IndicatorRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT indicator, value, threshold, breached, recorded_at
		FROM indicator_measurements
		WHERE organization_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		ORDER BY recorded_at`,
		orgID, period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("failed to query indicator measurements: %w", err)
	}
	return records, nil
}

func (s *SQLStores) ListIncidents(ctx context.Context, orgID string, period Period) ([]IncidentRecord, error) {
	var records []IncidentRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT category, severity, financial_impact, occurred_at
		FROM incidents
		WHERE organization_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		ORDER BY occurred_at`,
		orgID, period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	return records, nil
}

func (s *SQLStores) ListControls(ctx context.Context, orgID string, period Period) ([]ControlRecord, error) {
	var records []ControlRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT category, effectiveness_score, test_count, last_tested_at
		FROM controls
		WHERE organization_id = $1 AND active = true
		ORDER BY category`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query controls: %w", err)
	}
	return records, nil
}

func (s *SQLStores) ListProfiles(ctx context.Context, orgID string, period Period) ([]ThirdPartyRecord, error) {
	var records []ThirdPartyRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT name, risk_rating, annual_spend, critical
		FROM third_party_profiles
		WHERE organization_id = $1 AND active = true
		ORDER BY name`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query third party profiles: %w", err)
	}
	return records, nil
}
