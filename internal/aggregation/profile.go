package aggregation

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"newsintel/internal/core"
)

const (
	DefaultWindowRounds        = 4
	DefaultVolatilityThreshold = 0.5
	DefaultTrendThreshold      = 0.15
)

// ProfileOptions tunes trend classification.
type ProfileOptions struct {
	WindowRounds        int
	VolatilityThreshold float64 // Standard deviation of signed signal
	TrendThreshold      float64 // Regression slope per round
}

func (o ProfileOptions) withDefaults() ProfileOptions {
	if o.WindowRounds <= 0 {
		o.WindowRounds = DefaultWindowRounds
	}
	if o.VolatilityThreshold <= 0 {
		o.VolatilityThreshold = DefaultVolatilityThreshold
	}
	if o.TrendThreshold <= 0 {
		o.TrendThreshold = DefaultTrendThreshold
	}
	return o
}

// RoundSnapshot pairs a snapshot with the round it belongs to.
type RoundSnapshot struct {
	Round    core.Round
	Snapshot core.WeeklySnapshot
}

// ProfileID is the ID of the (entity, dimension) profile.
func ProfileID(entityID string, dim core.DimensionCode) string {
	return derivedID("profile", entityID, string(dim))
}

// BuildProfile classifies the trailing window of an entity-dimension's
// snapshot history, which must be ordered by round start. It returns false
// when history is empty.
func BuildProfile(entityID string, dim core.DimensionCode, history []RoundSnapshot, opts ProfileOptions) (core.RollingProfile, bool) {
	opts = opts.withDefaults()
	if len(history) == 0 {
		return core.RollingProfile{}, false
	}
	if len(history) > opts.WindowRounds {
		history = history[len(history)-opts.WindowRounds:]
	}

	n := len(history)
	xs := make([]float64, n)
	ys := make([]float64, n)
	roundIDs := make([]string, n)
	var sentimentSum, confidenceSum float64
	var positive, negative int
	for i, h := range history {
		xs[i] = float64(i)
		ys[i] = signedSignal(h.Snapshot)
		roundIDs[i] = h.Round.ID
		sentimentSum += h.Snapshot.Features.SentimentScore
		confidenceSum += h.Snapshot.Confidence
		switch h.Snapshot.Sentiment {
		case core.SentimentPositive:
			positive++
		case core.SentimentNegative:
			negative++
		}
	}

	var slope, stddev float64
	if n >= 2 {
		_, slope = stat.LinearRegression(xs, ys, nil, false)
		stddev = math.Sqrt(stat.Variance(ys, nil))
	}
	slope = math.Max(-1, math.Min(1, slope))
	changes := signChanges(ys)

	trend := core.TrendStable
	switch {
	case n >= 3 && stddev >= opts.VolatilityThreshold && changes >= 2:
		trend = core.TrendVolatile
	case slope > opts.TrendThreshold:
		trend = core.TrendImproving
	case slope < -opts.TrendThreshold:
		trend = core.TrendDeclining
	}

	coverage := float64(n) / float64(opts.WindowRounds)
	last := history[n-1]
	return core.RollingProfile{
		ID:              ProfileID(entityID, dim),
		EntityID:        entityID,
		Dimension:       dim,
		Narrative:       narrative(dim, history, trend, positive, negative),
		Trend:           trend,
		TrendConfidence: clamp01(coverage * confidenceSum / float64(n)),
		WeeksCovered:    n,
		RoundIDs:        roundIDs,
		LastRoundID:     last.Round.ID,
		Features: core.ProfileFeatures{
			AvgSentiment:   sentimentSum / float64(n),
			TrendDirection: slope,
			Consistency:    clamp01(1 - stddev),
			WeeksPositive:  positive,
			WeeksNegative:  negative,
		},
		UpdatedAt: last.Snapshot.ComputedAt,
	}, true
}

// signChanges counts flips between positive and negative, skipping zeros.
func signChanges(ys []float64) int {
	changes := 0
	prev := 0.0
	for _, y := range ys {
		if y == 0 {
			continue
		}
		if prev != 0 && (y > 0) != (prev > 0) {
			changes++
		}
		prev = y
	}
	return changes
}

func narrative(dim core.DimensionCode, history []RoundSnapshot, trend core.Trend, positive, negative int) string {
	first, last := history[0].Round, history[len(history)-1].Round
	span := roundLabel(last)
	if len(history) > 1 {
		span = roundLabel(first) + " to " + roundLabel(last)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s over %d round(s) (%s) is %s", titleCase(dimensionName(dim)), len(history), span, trend)
	fmt.Fprintf(&b, ": %d positive, %d negative.", positive, negative)
	if s := history[len(history)-1].Snapshot.Summary; s != "" {
		fmt.Fprintf(&b, " Latest: %s", s)
	}
	return b.String()
}

func roundLabel(r core.Round) string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("Round %d", r.Number)
}
