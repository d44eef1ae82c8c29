package models

import "time"

// StrategyKind names how a run resolves the application URLs it scrapes.
type StrategyKind string

const (
	// DeveloperScoped crawls the links of one developer catalog page.
	DeveloperScoped StrategyKind = "developer"
	// FeaturedFallback crawls the fixed featured-games listing.
	FeaturedFallback StrategyKind = "featured"
)

// Strategy is chosen once at the start of a run from input completeness.
type Strategy struct {
	Kind      StrategyKind
	Developer string
	SeedURL   string
}

// ScrapeRun holds the state of a single catalog run.
type ScrapeRun struct {
	Strategy  Strategy
	URLs      []string
	Records   []GameRecord
	Free      []GameRecord
	Paid      []GameRecord
	Failed    []string
	StartTime time.Time
	EndTime   time.Time
}

// Duration is the wall time between start and end of the run.
func (r *ScrapeRun) Duration() time.Duration {
	if r == nil || r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}
