// Package features flattens snapshots and verdicts into one row per
// (entity, round) for model training.
package features

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"newsintel/internal/core"
	"newsintel/internal/persistence"
	"newsintel/internal/sentiment"
)

// DimensionFeatures are the per-dimension columns of a row.
type DimensionFeatures struct {
	Code      core.DimensionCode `json:"code"`
	Prefix    string             `json:"prefix"`
	Mentioned bool               `json:"mentioned"`
	Sentiment float64            `json:"sentiment"`
	Signal    float64            `json:"signal"`
}

// Row is one flattened (entity, round) record. Every score is in [0,1]
// except CaptainRating.
type Row struct {
	EntityID    string `json:"entity_id"`
	EntityName  string `json:"entity_name"`
	EntityType  string `json:"entity_type"`
	SeasonYear  int    `json:"season_year"`
	RoundID     string `json:"round_id"`
	RoundNumber int    `json:"round_number"`
	RoundName   string `json:"round_name"`

	Dimensions []DimensionFeatures `json:"dimensions"`

	CaptainRating      int     `json:"captain_rating"`
	RiskLevel          string  `json:"risk_level"`
	TradeSignal        string  `json:"trade_signal"`
	InjuryRisk         float64 `json:"injury_risk"`
	FormScore          float64 `json:"form_score"`
	SelectionCertainty float64 `json:"selection_certainty"`
	UpsidePotential    float64 `json:"upside_potential"`
	FloorSafety        float64 `json:"floor_safety"`

	TotalArticleCount int     `json:"total_article_count"`
	OverallSentiment  float64 `json:"overall_sentiment"`
	OverallSignal     float64 `json:"overall_signal_strength"`
	Confidence        float64 `json:"confidence"`
	LowConfidence     bool    `json:"low_confidence"`
}

// Filter narrows an export. Zero values match everything.
type Filter struct {
	RoundID    string
	SeasonYear int
	EntityID   string
}

// BuildRow flattens one verdict with its round snapshots.
func BuildRow(entity core.Entity, round core.Round, season core.Season, snaps []core.WeeklySnapshot, v core.WeeklyVerdict) Row {
	row := Row{
		EntityID:           entity.ID,
		EntityName:         entity.CanonicalName,
		EntityType:         string(entity.Type),
		SeasonYear:         season.Year,
		RoundID:            round.ID,
		RoundNumber:        round.Number,
		RoundName:          round.Name,
		CaptainRating:      v.CaptainRating,
		RiskLevel:          string(v.RiskLevel),
		TradeSignal:        string(v.TradeSignal),
		InjuryRisk:         v.Features.InjuryRisk,
		FormScore:          v.Features.FormScore,
		SelectionCertainty: v.Features.SelectionCertainty,
		UpsidePotential:    v.Features.UpsidePotential,
		FloorSafety:        v.Features.FloorSafety,
		Confidence:         v.Confidence,
		LowConfidence:      v.LowConfidence,
	}

	byDim := make(map[core.DimensionCode]core.WeeklySnapshot, len(snaps))
	for _, s := range snaps {
		byDim[s.Dimension] = s
	}

	codes := core.DimensionCodes()
	var sentimentSum, signalSum float64
	mentioned := 0
	for _, code := range codes {
		dim, _ := core.LookupDimension(code)
		df := DimensionFeatures{Code: code, Prefix: dim.Prefix, Sentiment: sentiment.Score(core.SentimentNeutral)}
		if s, ok := byDim[code]; ok && s.ArticleCount > 0 {
			df.Mentioned = true
			df.Sentiment = sentiment.Score(s.Sentiment)
			df.Signal = sentiment.SignalScore(s.SignalStrength)
			row.TotalArticleCount += s.ArticleCount
			sentimentSum += df.Sentiment
			signalSum += df.Signal
			mentioned++
		}
		row.Dimensions = append(row.Dimensions, df)
	}

	row.OverallSentiment = sentiment.Score(core.SentimentNeutral)
	if mentioned > 0 {
		row.OverallSentiment = sentimentSum / float64(mentioned)
	}
	row.OverallSignal = signalSum / float64(len(codes))
	return row
}

// Exporter reads feature rows from the store.
type Exporter struct {
	db persistence.Database
}

// NewExporter creates an exporter.
func NewExporter(db persistence.Database) *Exporter {
	return &Exporter{db: db}
}

// Rows builds one row per stored verdict matching the filter, ordered by
// season, round number and entity name. Only verdicted (entity, round) pairs
// appear, so a row is never built from a half-finished aggregation.
func (x *Exporter) Rows(ctx context.Context, f Filter) ([]Row, error) {
	verdicts, err := x.db.Verdicts().List(ctx, persistence.VerdictFilter{RoundID: f.RoundID, EntityID: f.EntityID})
	if err != nil {
		return nil, fmt.Errorf("failed to list verdicts: %w", err)
	}

	rounds := make(map[string]*core.Round)
	seasons := make(map[string]*core.Season)
	rows := make([]Row, 0, len(verdicts))
	for _, v := range verdicts {
		round, ok := rounds[v.RoundID]
		if !ok {
			round, err = x.db.Calendar().GetRound(ctx, v.RoundID)
			if err != nil {
				return nil, fmt.Errorf("failed to load round %s: %w", v.RoundID, err)
			}
			rounds[v.RoundID] = round
		}
		season, ok := seasons[round.SeasonID]
		if !ok {
			season, err = x.db.Calendar().GetSeason(ctx, round.SeasonID)
			if err != nil {
				return nil, fmt.Errorf("failed to load season %s: %w", round.SeasonID, err)
			}
			seasons[round.SeasonID] = season
		}
		if f.SeasonYear != 0 && season.Year != f.SeasonYear {
			continue
		}

		entity, err := x.db.Entities().Get(ctx, v.EntityID)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load entity %s: %w", v.EntityID, err)
		}
		snaps, err := x.db.Snapshots().List(ctx, v.EntityID, v.RoundID)
		if err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", err)
		}
		rows = append(rows, BuildRow(*entity, *round, *season, snaps, v))
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.SeasonYear != b.SeasonYear {
			return a.SeasonYear < b.SeasonYear
		}
		if a.RoundNumber != b.RoundNumber {
			return a.RoundNumber < b.RoundNumber
		}
		if a.EntityName != b.EntityName {
			return a.EntityName < b.EntityName
		}
		return a.EntityID < b.EntityID
	})
	return rows, nil
}
