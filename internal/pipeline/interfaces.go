package pipeline

import (
	"context"

	"newsintel/internal/aggregation"
	"newsintel/internal/extraction"
)

// Tracker receives pipeline analytics. *observability.PostHogClient
// implements it.
type Tracker interface {
	extraction.Tracker
	aggregation.Tracker

	// TrackArticleAdmitted records a submission and its dedup outcome
	TrackArticleAdmitted(ctx context.Context, articleID, source, status, reason string) error

	// TrackTriage records the mention counts of a triaged article
	TrackTriage(ctx context.Context, articleID string, resolved, unresolved, flagged int) error

	// TrackError records a stage failure
	TrackError(ctx context.Context, errorType string, errorMessage string, component string) error
}

type noopTracker struct{}

func (noopTracker) TrackExtraction(context.Context, string, string, string, bool, bool) error {
	return nil
}

func (noopTracker) TrackAggregation(context.Context, string, int, int, int, int, int64) error {
	return nil
}

func (noopTracker) TrackArticleAdmitted(context.Context, string, string, string, string) error {
	return nil
}

func (noopTracker) TrackTriage(context.Context, string, int, int, int) error { return nil }

func (noopTracker) TrackError(context.Context, string, string, string) error { return nil }
