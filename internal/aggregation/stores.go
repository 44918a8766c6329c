package aggregation

import "context"

// The raw record stores are external collaborators owned elsewhere in
// the platform; the engine only consumes their period-bounded query
// surfaces.

// IndicatorStore queries risk-indicator measurements
type IndicatorStore interface {
	ListMeasurements(ctx context.Context, orgID string, period Period) ([]IndicatorRecord, error)
}

// IncidentStore queries the incident log
type IncidentStore interface {
	ListIncidents(ctx context.Context, orgID string, period Period) ([]IncidentRecord, error)
}

// ControlStore queries control and control-test records. Controls
// are a registry snapshot, not a period-journaled log: the listing
// returns the active controls regardless of period, and the period
// scopes only the derived summary (trailing-window test coverage).
type ControlStore interface {
	ListControls(ctx context.Context, orgID string, period Period) ([]ControlRecord, error)
}

// ThirdPartyStore queries vendor risk profiles. Like controls,
// profiles are a registry snapshot; the period scopes the derived
// summary, not the listing.
type ThirdPartyStore interface {
	ListProfiles(ctx context.Context, orgID string, period Period) ([]ThirdPartyRecord, error)
}

// Stores bundles the four record stores a pipeline instance is wired with
type Stores struct {
	Indicators   IndicatorStore
	Incidents    IncidentStore
	Controls     ControlStore
	ThirdParties ThirdPartyStore
}
