// Package observability sends product analytics for LLM usage and pipeline
// outcomes to PostHog. A disabled client accepts every call and does nothing.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/posthog/posthog-go"

	"newsintel/internal/config"
	"newsintel/internal/logger"
)

const systemID = "system"

// PostHogClient wraps the PostHog SDK for product analytics
type PostHogClient struct {
	client  posthog.Client
	enabled bool
	log     *slog.Logger
}

// EventProperties contains properties for an event
type EventProperties map[string]interface{}

// NewPostHogClient creates a new PostHog analytics client
func NewPostHogClient(cfg config.PostHog) (*PostHogClient, error) {
	if !cfg.Enabled {
		return Disabled(), nil
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("PostHog enabled but missing API key")
	}

	client, err := posthog.NewWithConfig(cfg.APIKey, posthog.Config{
		Endpoint: cfg.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create PostHog client: %w", err)
	}

	return &PostHogClient{
		client:  client,
		enabled: true,
		log:     logger.Get(),
	}, nil
}

// Disabled returns a client that drops every event.
func Disabled() *PostHogClient {
	return &PostHogClient{enabled: false, log: logger.Get()}
}

// IsEnabled returns whether PostHog tracking is enabled
func (p *PostHogClient) IsEnabled() bool {
	return p != nil && p.enabled
}

// Capture sends an event to PostHog
func (p *PostHogClient) Capture(ctx context.Context, distinctID string, event string, properties EventProperties) error {
	if !p.IsEnabled() {
		return nil
	}

	props := posthog.NewProperties()
	for k, v := range properties {
		props.Set(k, v)
	}
	err := p.client.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: props,
	})
	if err != nil {
		p.log.Warn("Failed to enqueue analytics event", "event", event, "error", err)
	}
	return err
}

// TrackLLMCall tracks LLM API calls for cost and performance monitoring
func (p *PostHogClient) TrackLLMCall(ctx context.Context, model string, operation string, inputTokens, outputTokens int, latencyMs int64, callErr error) error {
	props := EventProperties{
		"model":         model,
		"operation":     operation,
		"input_tokens":  inputTokens,
		"output_tokens": outputTokens,
		"latency_ms":    latencyMs,
		"cost":          EstimateCost(model, inputTokens, outputTokens),
		"successful":    callErr == nil,
	}
	if callErr != nil {
		props["error"] = callErr.Error()
	}
	return p.Capture(ctx, systemID, "llm_call", props)
}

// TrackArticleAdmitted tracks a scraper submission and its dedup outcome
func (p *PostHogClient) TrackArticleAdmitted(ctx context.Context, articleID, source, status, reason string) error {
	return p.Capture(ctx, systemID, "article_admitted", EventProperties{
		"article_id": articleID,
		"source":     source,
		"status":     status, // accepted or duplicate
		"reason":     reason, // url or body for duplicates
	})
}

// TrackTriage tracks the mention counts of a triaged article
func (p *PostHogClient) TrackTriage(ctx context.Context, articleID string, resolved, unresolved, flagged int) error {
	return p.Capture(ctx, systemID, "article_triaged", EventProperties{
		"article_id": articleID,
		"resolved":   resolved,
		"unresolved": unresolved,
		"flagged":    flagged,
	})
}

// TrackExtraction tracks one deep extraction
func (p *PostHogClient) TrackExtraction(ctx context.Context, articleID, entityID string, dimension string, cached, degraded bool) error {
	return p.Capture(ctx, systemID, "extraction_completed", EventProperties{
		"article_id": articleID,
		"entity_id":  entityID,
		"dimension":  dimension,
		"cached":     cached,
		"degraded":   degraded,
	})
}

// TrackAggregation tracks a round aggregation pass
func (p *PostHogClient) TrackAggregation(ctx context.Context, roundID string, entities, snapshots, verdicts, failures int, durationMs int64) error {
	return p.Capture(ctx, systemID, "round_aggregated", EventProperties{
		"round_id":    roundID,
		"entities":    entities,
		"snapshots":   snapshots,
		"verdicts":    verdicts,
		"failures":    failures,
		"duration_ms": durationMs,
	})
}

// TrackError tracks when an error occurs
func (p *PostHogClient) TrackError(ctx context.Context, errorType string, errorMessage string, component string) error {
	return p.Capture(ctx, systemID, "error_occurred", EventProperties{
		"error_type":    errorType,
		"error_message": errorMessage,
		"component":     component,
	})
}

// Shutdown flushes pending events and closes the client
func (p *PostHogClient) Shutdown(ctx context.Context) error {
	if !p.IsEnabled() {
		return nil
	}

	return p.client.Close()
}

// EstimateCost estimates the USD cost of an LLM call from token usage.
// Rates are per million tokens.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	var inputPer1M, outputPer1M float64

	switch model {
	case "gemini-flash-lite-latest", "gemini-2.0-flash-lite":
		inputPer1M = 0.075
		outputPer1M = 0.30
	case "gemini-flash-latest", "gemini-2.0-flash":
		inputPer1M = 0.10
		outputPer1M = 0.40
	default:
		inputPer1M = 0.50
		outputPer1M = 1.50
	}

	return float64(inputTokens)/1_000_000.0*inputPer1M + float64(outputTokens)/1_000_000.0*outputPer1M
}
