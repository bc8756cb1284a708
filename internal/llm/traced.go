package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"newsintel/internal/logger"
)

// Tracker receives one record per LLM call.
type Tracker interface {
	TrackLLMCall(ctx context.Context, model string, operation string, inputTokens, outputTokens int, latencyMs int64, callErr error) error
}

// Client wraps a Provider with request pacing and call tracking. It is the
// Provider handed to the extraction stage.
type Client struct {
	provider Provider
	limiter  *rate.Limiter
	tracker  Tracker
	log      *slog.Logger
}

// NewClient wraps provider. requestsPerMinute <= 0 disables pacing and a nil
// tracker disables analytics.
func NewClient(provider Provider, requestsPerMinute int, tracker Tracker) *Client {
	var limiter *rate.Limiter
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
	}
	return &Client{provider: provider, limiter: limiter, tracker: tracker, log: logger.Get()}
}

func (c *Client) Name() string  { return c.provider.Name() }
func (c *Client) Model() string { return c.provider.Model() }

// Complete waits for a rate-limit slot and calls the provider.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.provider.Complete(ctx, req)
	latencyMs := time.Since(start).Milliseconds()

	var usage Usage
	if resp != nil {
		usage = resp.Usage
	}
	if c.tracker != nil {
		_ = c.tracker.TrackLLMCall(ctx, c.provider.Model(), req.Operation, usage.InputTokens, usage.OutputTokens, latencyMs, err)
	}
	if err != nil {
		c.log.Warn("LLM call failed", "provider", c.provider.Name(), "operation", req.Operation, "latency_ms", latencyMs, "error", err)
		return nil, err
	}
	c.log.Debug("LLM call completed", "provider", c.provider.Name(), "input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens, "latency_ms", latencyMs)
	return resp, nil
}
