package aggregation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"newsintel/internal/core"
	"newsintel/internal/extraction"
	"newsintel/internal/sentiment"
)

// idSpace namespaces the deterministic IDs of derived rows so re-runs
// overwrite rather than duplicate.
var idSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("newsintel/aggregation"))

func derivedID(parts ...string) string {
	return uuid.NewSHA1(idSpace, []byte(strings.Join(parts, "|"))).String()
}

// SnapshotID is the ID of the (entity, dimension, round) snapshot.
func SnapshotID(entityID, roundID string, dim core.DimensionCode) string {
	return derivedID("snapshot", entityID, roundID, string(dim))
}

// BuildSnapshot folds one dimension's events for an entity and round. The
// result depends only on the set of events, not their order.
func BuildSnapshot(entityID, roundID string, dim core.DimensionCode, events []core.ExtractionEvent) core.WeeklySnapshot {
	events = sortedEvents(events)

	votes := make([]sentiment.Vote, 0, len(events))
	var confidenceSum, severity float64
	articles := make(map[string]bool)
	models := make(map[string]bool)
	for _, ev := range events {
		votes = append(votes, sentiment.Vote{Sentiment: ev.Sentiment, Weight: ev.Confidence})
		confidenceSum += ev.Confidence
		severity = math.Max(severity, extraction.SeverityScore(extraction.PayloadOf(ev)))
		if ev.ArticleID != "" {
			articles[ev.ArticleID] = true
		}
		if ev.ModelVersion != "" {
			models[ev.ModelVersion] = true
		}
	}

	tally := sentiment.Majority(votes)
	signal := sentiment.Signal(tally.Strength())
	confidence := 0.0
	if len(events) > 0 {
		confidence = clamp01(confidenceSum / float64(len(events)))
	}

	snap := core.WeeklySnapshot{
		ID:             SnapshotID(entityID, roundID, dim),
		EntityID:       entityID,
		Dimension:      dim,
		RoundID:        roundID,
		Summary:        snapshotSummary(events),
		Sentiment:      tally.Winner,
		SignalStrength: signal,
		FantasyImpact:  fantasyImpact(dim, tally.Winner, signal),
		Features: core.SnapshotFeatures{
			Mentioned:          len(events) > 0,
			SentimentScore:     tally.MeanScore,
			SignalScore:        sentiment.SignalScore(signal),
			WeightedConfidence: confidence,
			Dominance:          tally.Dominance,
			SeverityScore:      severity,
			EventCount:         len(events),
		},
		Confidence:       confidence,
		ArticleCount:     len(articles),
		SourceArticleIDs: sortedKeys(articles),
		ModelVersion:     strings.Join(sortedKeys(models), ","),
	}
	if n := len(events); n > 0 {
		snap.ComputedAt = events[n-1].PublishedAt
	}
	return snap
}

// sortedEvents orders events by publication time then fingerprint.
func sortedEvents(events []core.ExtractionEvent) []core.ExtractionEvent {
	out := append([]core.ExtractionEvent(nil), events...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].PublishedAt.Before(out[j].PublishedAt)
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out
}

// snapshotSummary quotes the most confident report, latest first on ties.
func snapshotSummary(events []core.ExtractionEvent) string {
	if len(events) == 0 {
		return ""
	}
	best := events[0]
	for _, ev := range events[1:] {
		if ev.Confidence > best.Confidence || (ev.Confidence == best.Confidence && !ev.PublishedAt.Before(best.PublishedAt)) {
			best = ev
		}
	}
	summary := best.Summary
	if summary == "" {
		summary = best.Headline
	}
	if len(events) > 1 {
		summary = fmt.Sprintf("%s (%d reports)", summary, len(events))
	}
	return summary
}

func fantasyImpact(dim core.DimensionCode, s core.Sentiment, signal core.SignalStrength) string {
	name := dimensionName(dim)
	if signal == core.SignalNone {
		return fmt.Sprintf("No usable %s signal this round.", name)
	}
	switch s {
	case core.SentimentNegative:
		return fmt.Sprintf("%s negative %s news: downgrade expectations.", titleCase(string(signal)), name)
	case core.SentimentPositive:
		return fmt.Sprintf("%s positive %s news: upgrade expectations.", titleCase(string(signal)), name)
	case core.SentimentMixed:
		return fmt.Sprintf("Mixed %s news: monitor before lockout.", name)
	default:
		return fmt.Sprintf("Neutral %s news: no change.", name)
	}
}

func dimensionName(dim core.DimensionCode) string {
	if d, ok := core.LookupDimension(dim); ok {
		return strings.ToLower(d.Name)
	}
	return strings.ReplaceAll(string(dim), "_", " ")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// direction is +1 for positive, -1 for negative and 0 otherwise.
func direction(s core.Sentiment) float64 {
	switch s {
	case core.SentimentPositive:
		return 1
	case core.SentimentNegative:
		return -1
	default:
		return 0
	}
}

// signedSignal places a snapshot on [-1, 1].
func signedSignal(s core.WeeklySnapshot) float64 {
	return direction(s.Sentiment) * sentiment.SignalScore(s.SignalStrength)
}
