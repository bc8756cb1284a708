// Package sentiment holds the sentiment and signal-strength vocabularies, the
// confidence-weighted majority vote used to fold events, and a rule-based
// fallback classifier for text the LLM left unlabelled.
package sentiment

import (
	"math"
	"strings"

	"newsintel/internal/core"
)

// Score maps a sentiment to [0,1] for feature export.
func Score(s core.Sentiment) float64 {
	switch s {
	case core.SentimentPositive:
		return 0.75
	case core.SentimentNegative:
		return 0.25
	default:
		return 0.5
	}
}

// SignalScore maps a signal strength to [0,1].
func SignalScore(s core.SignalStrength) float64 {
	switch s {
	case core.SignalStrong:
		return 1.0
	case core.SignalModerate:
		return 0.66
	case core.SignalWeak:
		return 0.33
	default:
		return 0
	}
}

// Signal grades a [0,1] evidence score.
func Signal(score float64) core.SignalStrength {
	switch {
	case score >= 0.7:
		return core.SignalStrong
	case score >= 0.4:
		return core.SignalModerate
	case score > 0:
		return core.SignalWeak
	default:
		return core.SignalNone
	}
}

// Parse normalises a free-text sentiment label. Unknown labels are neutral and
// reported with ok=false.
func Parse(label string) (core.Sentiment, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "positive", "very_positive", "bullish":
		return core.SentimentPositive, true
	case "negative", "very_negative", "bearish":
		return core.SentimentNegative, true
	case "mixed":
		return core.SentimentMixed, true
	case "neutral":
		return core.SentimentNeutral, true
	default:
		return core.SentimentNeutral, false
	}
}

// tieOrder ranks sentiments when weights tie: bad news wins.
var tieOrder = map[core.Sentiment]int{
	core.SentimentNegative: 0,
	core.SentimentMixed:    1,
	core.SentimentNeutral:  2,
	core.SentimentPositive: 3,
}

// Vote is one event's say in a majority.
type Vote struct {
	Sentiment core.Sentiment
	Weight    float64 // Event confidence; zero-weight votes count toward nothing
}

// Tally is the outcome of a weighted majority.
type Tally struct {
	Winner       core.Sentiment `json:"winner"`
	WinnerWeight float64        `json:"winner_weight"`
	Total        float64        `json:"total"`
	Dominance    float64        `json:"dominance"` // WinnerWeight / Total
	MeanScore    float64        `json:"mean_score"`
}

// Majority picks the sentiment with the greatest summed confidence, so one
// confident report outweighs several hesitant ones. With no weight at all the
// result is neutral with zero dominance.
func Majority(votes []Vote) Tally {
	weights := make(map[core.Sentiment]float64)
	var total, weighted float64
	for _, v := range votes {
		if v.Weight <= 0 {
			continue
		}
		s := v.Sentiment
		if _, ok := tieOrder[s]; !ok {
			s = core.SentimentNeutral
		}
		weights[s] += v.Weight
		total += v.Weight
		weighted += v.Weight * Score(s)
	}
	if total == 0 {
		return Tally{Winner: core.SentimentNeutral, MeanScore: 0.5}
	}

	winner := core.SentimentNeutral
	best := -1.0
	for _, s := range []core.Sentiment{core.SentimentNegative, core.SentimentMixed, core.SentimentNeutral, core.SentimentPositive} {
		w := weights[s]
		if w > best+1e-12 {
			winner, best = s, w
		}
	}

	return Tally{
		Winner:       winner,
		WinnerWeight: best,
		Total:        total,
		Dominance:    best / total,
		MeanScore:    weighted / total,
	}
}

// Strength is the evidence score of a tally: total weight capped at one,
// scaled by how one-sided the vote was.
func (t Tally) Strength() float64 {
	if t.Total == 0 {
		return 0
	}
	return math.Min(1, t.WinnerWeight) * t.Dominance
}

// Analyzer is a keyword classifier used when an extraction names no sentiment.
type Analyzer struct {
	positive map[string]float64
	negative map[string]float64
}

// NewAnalyzer creates an analyzer with the football news vocabulary.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		positive: map[string]float64{
			"cleared": 0.8, "fit": 0.6, "returns": 0.6, "return": 0.5, "recalled": 0.7,
			"named": 0.5, "debut": 0.6, "starred": 0.9, "dominant": 0.8, "brilliant": 0.9,
			"career-best": 1.0, "praised": 0.7, "backed": 0.6, "available": 0.6, "promoted": 0.7,
			"ahead": 0.4, "boost": 0.7, "strong": 0.5, "best": 0.6, "recovered": 0.8,
		},
		negative: map[string]float64{
			"ruled": 0.7, "injured": 0.9, "injury": 0.8, "hamstring": 0.7, "concussion": 0.9,
			"surgery": 1.0, "omitted": 0.9, "dropped": 0.9, "axed": 1.0, "suspended": 0.9,
			"sidelined": 0.9, "miss": 0.7, "setback": 0.8, "sore": 0.6, "soreness": 0.6,
			"rested": 0.5, "managed": 0.4, "poor": 0.6, "quiet": 0.4, "criticised": 0.7,
			"blow": 0.8, "scans": 0.5, "tagged": 0.4,
		},
	}
}

// Classify scores text and returns its sentiment with a confidence in [0.3, 1].
func (a *Analyzer) Classify(text string) (core.Sentiment, float64) {
	var pos, neg float64
	words := strings.Fields(strings.ToLower(text))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()")
		pos += a.positive[w]
		neg += a.negative[w]
	}

	var s core.Sentiment
	switch {
	case pos == 0 && neg == 0:
		s = core.SentimentNeutral
	case pos > 0.5 && neg > 0.5 && math.Abs(pos-neg) < 0.5:
		s = core.SentimentMixed
	case neg > pos:
		s = core.SentimentNegative
	case pos > neg:
		s = core.SentimentPositive
	default:
		s = core.SentimentMixed
	}

	confidence := math.Abs(pos-neg) / (pos + neg + 1)
	if confidence < 0.3 {
		confidence = 0.3
	}
	return s, math.Min(confidence, 1)
}
