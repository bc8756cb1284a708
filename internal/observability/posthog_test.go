package observability

import (
	"context"
	"errors"
	"math"
	"testing"

	"newsintel/internal/config"
)

func TestDisabledClientIsNoop(t *testing.T) {
	p, err := NewPostHogClient(config.PostHog{Enabled: false})
	if err != nil {
		t.Fatalf("NewPostHogClient: %v", err)
	}
	if p.IsEnabled() {
		t.Fatal("client should be disabled")
	}
	ctx := context.Background()
	if err := p.TrackLLMCall(ctx, "m", "extraction", 10, 5, 100, errors.New("boom")); err != nil {
		t.Errorf("disabled TrackLLMCall returned %v", err)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Errorf("disabled Shutdown returned %v", err)
	}

	var nilClient *PostHogClient
	if nilClient.IsEnabled() {
		t.Error("nil client should report disabled")
	}
	if err := nilClient.TrackError(ctx, "t", "m", "c"); err != nil {
		t.Errorf("nil client TrackError returned %v", err)
	}
}

func TestEnabledWithoutKey(t *testing.T) {
	if _, err := NewPostHogClient(config.PostHog{Enabled: true}); err == nil {
		t.Error("expected error for enabled client without API key")
	}
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		model         string
		input, output int
		want          float64
	}{
		{"gemini-flash-lite-latest", 1_000_000, 1_000_000, 0.375},
		{"unknown", 1_000_000, 0, 0.5},
		{"gemini-flash-latest", 0, 0, 0},
	}
	for _, tt := range tests {
		if got := EstimateCost(tt.model, tt.input, tt.output); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("EstimateCost(%s) = %v, want %v", tt.model, got, tt.want)
		}
	}
}
