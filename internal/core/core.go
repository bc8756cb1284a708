// Package core holds the domain types shared by every stage of the news
// intelligence pipeline.
package core

import (
	"encoding/json"
	"strings"
	"time"
)

// EntityType classifies what an Entity represents.
type EntityType string

const (
	EntityPlayer EntityType = "player"
	EntityTeam   EntityType = "team"
	EntityAsset  EntityType = "asset"
)

// Entity is a canonical player, team or market asset.
type Entity struct {
	ID            string         `json:"id"`
	Domain        string         `json:"domain"`         // e.g. "afl", "market"
	Type          EntityType     `json:"type"`           // player, team, asset
	CanonicalName string         `json:"canonical_name"` // Unique within (domain, type)
	ExternalID    string         `json:"external_id,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NaturalKey returns the (domain, type, canonical name) identity of the entity.
func (e Entity) NaturalKey() string {
	return EntityKey(e.Domain, e.Type, e.CanonicalName)
}

// EntityKey builds the natural key used for atomic get-or-create.
func EntityKey(domain string, entityType EntityType, canonicalName string) string {
	return strings.ToLower(domain) + "|" + string(entityType) + "|" + NormalizeName(canonicalName)
}

// NormalizeName lowercases and collapses whitespace. Exact alias matching is
// performed on this form.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// AliasProvenance records where an alias came from.
type AliasProvenance string

const (
	AliasManual  AliasProvenance = "manual"
	AliasLearned AliasProvenance = "learned"
)

// Alias is a text variant that resolves to an Entity.
type Alias struct {
	ID         string          `json:"id"`
	EntityID   string          `json:"entity_id"`
	Domain     string          `json:"domain"`
	EntityType EntityType      `json:"entity_type"`
	Text       string          `json:"text"`
	Normalized string          `json:"normalized"`
	Confidence float64         `json:"confidence"` // 0.0 to 1.0
	Provenance AliasProvenance `json:"provenance"`
	CreatedAt  time.Time       `json:"created_at"`
	LastUsedAt time.Time       `json:"last_used_at"`
}

// ProcessingState is the lifecycle state of one article stage.
type ProcessingState string

const (
	StatePending ProcessingState = "pending"
	StateDone    ProcessingState = "done"
)

// Submission is what the scraper hands to the pipeline.
type Submission struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Source      string     `json:"source"`
	Author      string     `json:"author,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Article is an admitted news article.
type Article struct {
	ID              string          `json:"id"`
	URL             string          `json:"url"`
	URLFingerprint  string          `json:"url_fingerprint"`
	BodyFingerprint string          `json:"body_fingerprint"`
	Title           string          `json:"title"`
	Body            string          `json:"body"`
	Source          string          `json:"source"`
	Author          string          `json:"author,omitempty"`
	PublishedAt     *time.Time      `json:"published_at,omitempty"`
	FetchedAt       time.Time       `json:"fetched_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	RoundID         string          `json:"round_id,omitempty"`
	DuplicateOf     string          `json:"duplicate_of,omitempty"` // Set when the body matched an earlier article
	TriageStatus    ProcessingState `json:"triage_status"`
	AnalysisStatus  ProcessingState `json:"analysis_status"`
}

// Expired reports whether the retention window has elapsed.
func (a *Article) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// EffectiveTime is the publication time, falling back to the fetch time.
func (a *Article) EffectiveTime() time.Time {
	if a.PublishedAt != nil && !a.PublishedAt.IsZero() {
		return *a.PublishedAt
	}
	return a.FetchedAt
}

// Mention joins an article with an entity, or with a raw name when the entity
// could not be resolved (EntityID empty).
type Mention struct {
	ID                string     `json:"id"`
	ArticleID         string     `json:"article_id"`
	EntityID          string     `json:"entity_id,omitempty"`
	EntityType        EntityType `json:"entity_type,omitempty"`
	MentionText       string     `json:"mention_text"`
	MentionCount      int        `json:"mention_count"`
	FirstOffset       int        `json:"first_offset"`
	IsPrimary         bool       `json:"is_primary"`
	InHeadline        bool       `json:"in_headline"`
	NeedsDeepAnalysis bool       `json:"needs_deep_analysis"`
	AnalysisCompleted bool       `json:"analysis_completed"`
	Context           string     `json:"context"`    // injury, return, trade, selection, form, general
	MatchText         string     `json:"match_text"` // Surrounding text, capped at 200 chars
	ResolvedBy        string     `json:"resolved_by,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Resolved reports whether the mention points at a known entity.
func (m Mention) Resolved() bool {
	return m.EntityID != ""
}

// TagType distinguishes keyword tags from authoritative dimension tags.
type TagType string

const (
	TagKeyword   TagType = "keyword"
	TagDimension TagType = "dimension"
	TagEntity    TagType = "entity"
)

// ArticleTag is a denormalized lookup record. Unique per (article, tag type, tag value).
type ArticleTag struct {
	ID          string        `json:"id"`
	ArticleID   string        `json:"article_id"`
	TagType     TagType       `json:"tag_type"`
	TagValue    string        `json:"tag_value"`
	Dimension   DimensionCode `json:"dimension,omitempty"`
	MatchedText string        `json:"matched_text"`
	MatchCount  int           `json:"match_count"`
	InHeadline  bool          `json:"in_headline"`
	Superseded  bool          `json:"superseded"` // Keyword guess overridden by an extracted dimension
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Sentiment is the polarity reported for an event or snapshot.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
	SentimentMixed    Sentiment = "mixed"
)

// SignalStrength grades how strongly the evidence supports a sentiment.
type SignalStrength string

const (
	SignalStrong   SignalStrength = "strong"
	SignalModerate SignalStrength = "moderate"
	SignalWeak     SignalStrength = "weak"
	SignalNone     SignalStrength = "none"
)

// EventStatus separates successful extractions from degraded placeholders.
type EventStatus string

const (
	EventOK       EventStatus = "ok"
	EventDegraded EventStatus = "degraded"
)

// ExtractionEvent is an immutable fact extracted from one article about one entity.
type ExtractionEvent struct {
	ID                string          `json:"id"`
	Fingerprint       string          `json:"fingerprint"`
	ArticleID         string          `json:"article_id"`
	MentionID         string          `json:"mention_id"`
	EntityID          string          `json:"entity_id"`
	RelatedEntityIDs  []string        `json:"related_entity_ids,omitempty"`
	Domain            string          `json:"domain"`
	Headline          string          `json:"headline"`
	Source            string          `json:"source"`
	SourceURL         string          `json:"source_url"`
	PublishedAt       time.Time       `json:"published_at"`
	EventType         string          `json:"event_type"`
	Dimension         DimensionCode   `json:"dimension,omitempty"`
	Sentiment         Sentiment       `json:"sentiment"`
	Severity          string          `json:"severity,omitempty"`
	Confidence        float64         `json:"confidence"`
	Summary           string          `json:"summary"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	Status            EventStatus     `json:"status"`
	FailureReason     string          `json:"failure_reason,omitempty"`
	ModelVersion      string          `json:"model_version"`
	PromptFingerprint string          `json:"prompt_fingerprint"`
	InputTokens       int             `json:"input_tokens"`
	OutputTokens      int             `json:"output_tokens"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Degraded reports whether the event records a failed extraction.
func (e ExtractionEvent) Degraded() bool {
	return e.Status == EventDegraded
}

// EntityIDs returns the subject followed by any related entities.
func (e ExtractionEvent) EntityIDs() []string {
	ids := make([]string, 0, 1+len(e.RelatedEntityIDs))
	if e.EntityID != "" {
		ids = append(ids, e.EntityID)
	}
	return append(ids, e.RelatedEntityIDs...)
}

// SnapshotFeatures is the flattened feature vector of a weekly snapshot.
type SnapshotFeatures struct {
	Mentioned          bool    `json:"mentioned"`
	SentimentScore     float64 `json:"sentiment_score"`
	SignalScore        float64 `json:"signal_score"`
	WeightedConfidence float64 `json:"weighted_confidence"`
	Dominance          float64 `json:"dominance"`
	SeverityScore      float64 `json:"severity_score"`
	EventCount         int     `json:"event_count"`
}

// WeeklySnapshot summarises one dimension for one entity over one round.
type WeeklySnapshot struct {
	ID               string           `json:"id"`
	EntityID         string           `json:"entity_id"`
	Dimension        DimensionCode    `json:"dimension"`
	RoundID          string           `json:"round_id"`
	Summary          string           `json:"summary"`
	Sentiment        Sentiment        `json:"sentiment"`
	SignalStrength   SignalStrength   `json:"signal_strength"`
	FantasyImpact    string           `json:"fantasy_impact"`
	Features         SnapshotFeatures `json:"features"`
	Confidence       float64          `json:"confidence"`
	ArticleCount     int              `json:"article_count"`
	SourceArticleIDs []string         `json:"source_article_ids"`
	ModelVersion     string           `json:"model_version"`
	ComputedAt       time.Time        `json:"computed_at"` // Latest contributing event time
}

// Trend classifies the direction of a rolling profile.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
	TrendVolatile  Trend = "volatile"
)

// ProfileFeatures are the aggregate statistics of a rolling profile window.
type ProfileFeatures struct {
	AvgSentiment   float64 `json:"avg_sentiment"`
	TrendDirection float64 `json:"trend_direction"` // Regression slope clamped to [-1, 1]
	Consistency    float64 `json:"consistency"`
	WeeksPositive  int     `json:"weeks_positive"`
	WeeksNegative  int     `json:"weeks_negative"`
}

// RollingProfile is the multi-round narrative for one entity and dimension.
type RollingProfile struct {
	ID              string          `json:"id"`
	EntityID        string          `json:"entity_id"`
	Dimension       DimensionCode   `json:"dimension"`
	Narrative       string          `json:"narrative"`
	Trend           Trend           `json:"trend"`
	TrendConfidence float64         `json:"trend_confidence"`
	WeeksCovered    int             `json:"weeks_covered"`
	RoundIDs        []string        `json:"round_ids"`
	LastRoundID     string          `json:"last_round_id"`
	Features        ProfileFeatures `json:"features"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// RiskLevel grades how likely an entity is to underperform or miss a round.
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskExtreme RiskLevel = "extreme"
)

// TradeSignal is the buy/sell recommendation for a round.
type TradeSignal string

const (
	TradeStrongBuy  TradeSignal = "strong_buy"
	TradeBuy        TradeSignal = "buy"
	TradeHold       TradeSignal = "hold"
	TradeSell       TradeSignal = "sell"
	TradeStrongSell TradeSignal = "strong_sell"
)

// VerdictFeatures are normalised inputs for downstream models.
type VerdictFeatures struct {
	InjuryRisk         float64 `json:"injury_risk"`
	FormScore          float64 `json:"form_score"`
	SelectionCertainty float64 `json:"selection_certainty"`
	UpsidePotential    float64 `json:"upside_potential"`
	FloorSafety        float64 `json:"floor_safety"`
}

// WeeklyVerdict is the final per-entity-per-round recommendation.
type WeeklyVerdict struct {
	ID                string          `json:"id"`
	EntityID          string          `json:"entity_id"`
	RoundID           string          `json:"round_id"`
	CaptainRating     int             `json:"captain_rating"` // 0 to 100
	CaptainReasoning  string          `json:"captain_reasoning"`
	RiskLevel         RiskLevel       `json:"risk_level"`
	RiskFactors       []string        `json:"risk_factors"`
	TradeSignal       TradeSignal     `json:"trade_signal"`
	TradeReasoning    string          `json:"trade_reasoning"`
	SignalStrength    SignalStrength  `json:"signal_strength"`
	Confidence        float64         `json:"confidence"`
	LowConfidence     bool            `json:"low_confidence"`
	Features          VerdictFeatures `json:"features"`
	DimensionsCovered []DimensionCode `json:"dimensions_covered"`
	EventCount        int             `json:"event_count"`
	ComputedAt        time.Time       `json:"computed_at"`
}

// EntityState is a read-side summary of one entity, computed from the event
// log and the latest derived rows.
type EntityState struct {
	EntityID      string         `json:"entity_id"`
	EventCount    int            `json:"event_count"`
	LastMentionAt *time.Time     `json:"last_mention_at,omitempty"`
	InjuryStatus  string         `json:"injury_status,omitempty"` // Latest injury snapshot summary
	InjurySignal  SignalStrength `json:"injury_signal,omitempty"`
	LatestVerdict *WeeklyVerdict `json:"latest_verdict,omitempty"`
}

// Season is a calendar year of competition.
type Season struct {
	ID        string `json:"id"`
	Year      int    `json:"year"`
	Name      string `json:"name"`
	IsCurrent bool   `json:"is_current"`
}

// Round is one scheduling period within a season.
type Round struct {
	ID        string     `json:"id"`
	SeasonID  string     `json:"season_id"`
	Number    int        `json:"number"`
	Name      string     `json:"name"`
	StartDate time.Time  `json:"start_date"` // Midnight at the start of the first day
	EndDate   time.Time  `json:"end_date"`   // Midnight at the start of the last day
	Lockout   *time.Time `json:"lockout,omitempty"`
	IsFinals  bool       `json:"is_finals"`
	IsBye     bool       `json:"is_bye"`
}

// WindowEnd is the exclusive end of the round's date window.
func (r Round) WindowEnd() time.Time {
	return r.EndDate.AddDate(0, 0, 1)
}

// Contains reports whether t falls within the round's dates.
func (r Round) Contains(t time.Time) bool {
	return !t.Before(r.StartDate) && t.Before(r.WindowEnd())
}

// Closed reports whether the round's lockout, or failing that its last day, has passed.
func (r Round) Closed(now time.Time) bool {
	if r.Lockout != nil {
		return !now.Before(*r.Lockout)
	}
	return !now.Before(r.WindowEnd())
}
