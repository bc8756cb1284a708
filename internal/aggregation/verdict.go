package aggregation

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"newsintel/internal/core"
	"newsintel/internal/sentiment"
)

// Weights of each dimension in the verdict composite. They sum to one.
var Weights = map[core.DimensionCode]float64{
	core.DimensionInjury:    0.30,
	core.DimensionSelection: 0.25,
	core.DimensionCaptaincy: 0.15,
	core.DimensionForm:      0.15,
	core.DimensionFitness:   0.05,
	core.DimensionRole:      0.04,
	core.DimensionLoad:      0.04,
	core.DimensionCoaching:  0.02,
}

const (
	neutralCaptainRating = 50
	defaultConfidence    = 0.1
	lowConfidenceBelow   = 0.4
	injuryCaptainCap     = 10
)

// VerdictInput is everything a verdict is computed from.
type VerdictInput struct {
	EntityID      string
	Round         core.Round
	Snapshots     []core.WeeklySnapshot
	Profiles      []core.RollingProfile
	EventCount    int
	DegradedCount int
}

// VerdictID is the ID of the (entity, round) verdict.
func VerdictID(entityID, roundID string) string {
	return derivedID("verdict", entityID, roundID)
}

type contribution struct {
	dim   core.DimensionCode
	value float64 // weight * signed signal
}

// BuildVerdict combines a round's snapshots into captain, risk and trade
// calls. With no snapshots it returns the neutral low-confidence default.
func BuildVerdict(in VerdictInput) core.WeeklyVerdict {
	v := core.WeeklyVerdict{
		ID:         VerdictID(in.EntityID, in.Round.ID),
		EntityID:   in.EntityID,
		RoundID:    in.Round.ID,
		EventCount: in.EventCount,
		ComputedAt: roundClose(in.Round),
	}
	if len(in.Snapshots) == 0 {
		return neutralVerdict(v, in.DegradedCount)
	}

	byDim := make(map[core.DimensionCode]core.WeeklySnapshot, len(in.Snapshots))
	var composite, presentWeight, signalSum, confidenceSum float64
	var contributions []contribution
	for _, s := range in.Snapshots {
		byDim[s.Dimension] = s
		w := Weights[s.Dimension]
		c := w * signedSignal(s)
		composite += c
		presentWeight += w
		signalSum += w * sentiment.SignalScore(s.SignalStrength)
		confidenceSum += w * s.Confidence
		contributions = append(contributions, contribution{dim: s.Dimension, value: c})
		v.DimensionsCovered = append(v.DimensionsCovered, s.Dimension)
		if s.ComputedAt.After(v.ComputedAt) || v.ComputedAt.IsZero() {
			v.ComputedAt = s.ComputedAt
		}
	}
	sort.Slice(v.DimensionsCovered, func(i, j int) bool { return v.DimensionsCovered[i] < v.DimensionsCovered[j] })
	sort.Slice(contributions, func(i, j int) bool {
		ai, aj := math.Abs(contributions[i].value), math.Abs(contributions[j].value)
		if ai != aj {
			return ai > aj
		}
		return contributions[i].dim < contributions[j].dim
	})

	features := verdictFeatures(byDim)
	v.Features = features

	rating := int(math.Round(50 + 50*composite))
	injury, hasInjury := byDim[core.DimensionInjury]
	injuryCapped := hasInjury && injury.Sentiment == core.SentimentNegative && injury.SignalStrength == core.SignalStrong
	if injuryCapped && rating > injuryCaptainCap {
		rating = injuryCaptainCap
	}
	v.CaptainRating = clampInt(rating, 0, 100)

	v.RiskLevel = riskLevel(riskScore(features, byDim))
	v.RiskFactors = riskFactors(byDim, in.Profiles, in.DegradedCount)
	v.TradeSignal = tradeSignal(composite)

	if presentWeight > 0 {
		v.SignalStrength = sentiment.Signal(signalSum / presentWeight)
		v.Confidence = clamp01(confidenceSum / presentWeight)
	} else {
		v.SignalStrength = core.SignalNone
		v.Confidence = defaultConfidence
	}
	v.LowConfidence = v.Confidence < lowConfidenceBelow

	drivers := describe(contributions, byDim)
	v.CaptainReasoning = fmt.Sprintf("Captain rating %d driven by %s.", v.CaptainRating, drivers)
	if injuryCapped {
		v.CaptainReasoning += " Capped by a strong negative injury signal."
	}
	v.TradeReasoning = fmt.Sprintf("%s: composite signal %+.2f from %s.", tradeLabel(v.TradeSignal), composite, drivers)
	return v
}

func neutralVerdict(v core.WeeklyVerdict, degraded int) core.WeeklyVerdict {
	v.CaptainRating = neutralCaptainRating
	v.CaptainReasoning = "No news this round; neutral default rating."
	v.RiskLevel = core.RiskMedium
	v.RiskFactors = []string{"no news coverage this round"}
	if degraded > 0 {
		v.RiskFactors = append(v.RiskFactors, fmt.Sprintf("%d failed extraction(s)", degraded))
	}
	v.TradeSignal = core.TradeHold
	v.TradeReasoning = "Hold: no evidence either way."
	v.SignalStrength = core.SignalNone
	v.Confidence = defaultConfidence
	v.LowConfidence = true
	v.Features = core.VerdictFeatures{
		InjuryRisk:         0.5,
		FormScore:          0.5,
		SelectionCertainty: 0.5,
		UpsidePotential:    0.5,
		FloorSafety:        0.5,
	}
	v.DimensionsCovered = []core.DimensionCode{}
	return v
}

// roundClose is the lockout, or the end of the round's last day.
func roundClose(r core.Round) time.Time {
	if r.Lockout != nil {
		return *r.Lockout
	}
	return r.WindowEnd()
}

func verdictFeatures(byDim map[core.DimensionCode]core.WeeklySnapshot) core.VerdictFeatures {
	signed := func(d core.DimensionCode) float64 {
		if s, ok := byDim[d]; ok {
			return signedSignal(s)
		}
		return 0
	}
	negative := func(d core.DimensionCode) float64 {
		s, ok := byDim[d]
		if !ok {
			return 0
		}
		switch s.Sentiment {
		case core.SentimentNegative:
			return sentiment.SignalScore(s.SignalStrength)
		case core.SentimentMixed:
			return sentiment.SignalScore(s.SignalStrength) / 2
		}
		return 0
	}

	injuryRisk := 0.0
	if s, ok := byDim[core.DimensionInjury]; ok {
		injuryRisk = 0.6*negative(core.DimensionInjury) + 0.4*s.Features.SeverityScore
	}
	injuryRisk = math.Max(injuryRisk, 0.5*negative(core.DimensionFitness))
	injuryRisk = clamp01(injuryRisk)

	selection := clamp01(0.5 + 0.5*signed(core.DimensionSelection))
	return core.VerdictFeatures{
		InjuryRisk:         injuryRisk,
		FormScore:          clamp01(0.5 + 0.5*signed(core.DimensionForm)),
		SelectionCertainty: selection,
		UpsidePotential:    clamp01(0.5 + 0.25*(signed(core.DimensionCaptaincy)+signed(core.DimensionForm))),
		FloorSafety:        clamp01(0.5*(1-injuryRisk) + 0.5*selection),
	}
}

func riskScore(f core.VerdictFeatures, byDim map[core.DimensionCode]core.WeeklySnapshot) float64 {
	score := f.InjuryRisk
	if _, ok := byDim[core.DimensionSelection]; ok {
		score = math.Max(score, 1-f.SelectionCertainty)
	}
	if s, ok := byDim[core.DimensionLoad]; ok && s.Sentiment == core.SentimentNegative {
		score = math.Max(score, 0.6*sentiment.SignalScore(s.SignalStrength))
	}
	return score
}

func riskLevel(score float64) core.RiskLevel {
	switch {
	case score >= 0.85:
		return core.RiskExtreme
	case score >= 0.55:
		return core.RiskHigh
	case score >= 0.25:
		return core.RiskMedium
	default:
		return core.RiskLow
	}
}

func tradeSignal(composite float64) core.TradeSignal {
	switch {
	case composite >= 0.5:
		return core.TradeStrongBuy
	case composite >= 0.2:
		return core.TradeBuy
	case composite <= -0.5:
		return core.TradeStrongSell
	case composite <= -0.2:
		return core.TradeSell
	default:
		return core.TradeHold
	}
}

func tradeLabel(t core.TradeSignal) string {
	return titleCase(strings.ReplaceAll(string(t), "_", " "))
}

func riskFactors(byDim map[core.DimensionCode]core.WeeklySnapshot, profiles []core.RollingProfile, degraded int) []string {
	factors := []string{}
	for _, code := range core.DimensionCodes() {
		s, ok := byDim[code]
		if !ok || s.SignalStrength == core.SignalNone {
			continue
		}
		if s.Sentiment == core.SentimentNegative || s.Sentiment == core.SentimentMixed {
			factors = append(factors, fmt.Sprintf("%s %s (%s)", dimensionName(code), s.Sentiment, s.SignalStrength))
		}
	}
	for _, p := range profiles {
		if p.Trend == core.TrendDeclining || p.Trend == core.TrendVolatile {
			factors = append(factors, fmt.Sprintf("%s trend %s", dimensionName(p.Dimension), p.Trend))
		}
	}
	if degraded > 0 {
		factors = append(factors, fmt.Sprintf("%d failed extraction(s)", degraded))
	}
	return factors
}

// describe names the top three drivers of the composite.
func describe(contributions []contribution, byDim map[core.DimensionCode]core.WeeklySnapshot) string {
	var parts []string
	for _, c := range contributions {
		if len(parts) == 3 {
			break
		}
		s := byDim[c.dim]
		parts = append(parts, fmt.Sprintf("%s %s/%s (%+.2f)", dimensionName(c.dim), s.Sentiment, s.SignalStrength, c.value))
	}
	return strings.Join(parts, ", ")
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
