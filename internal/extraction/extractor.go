// Package extraction is the deep extraction stage: one LLM call per flagged
// mention, deduplicated by prompt fingerprint, written to the append-only
// event log. Failed extractions are recorded as degraded events.
package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"newsintel/internal/core"
	"newsintel/internal/entities"
	"newsintel/internal/fingerprint"
	"newsintel/internal/llm"
	"newsintel/internal/logger"
	"newsintel/internal/persistence"
	"newsintel/internal/sentiment"
	"newsintel/internal/tags"
)

const (
	DefaultRetryAttempts  = 3
	DefaultRetryBackoff   = 2 * time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultRequestTimeout = 45 * time.Second

	stageName        = "extraction"
	failedEventType  = "extraction_failed"
	maxFailureReason = 500
)

// Tracker receives one record per extracted mention.
type Tracker interface {
	TrackExtraction(ctx context.Context, articleID, entityID string, dimension string, cached, degraded bool) error
}

// Options configures a Stage. Zero values take the package defaults.
type Options struct {
	RetryAttempts  int
	RetryBackoff   time.Duration
	MaxBackoff     time.Duration
	RequestTimeout time.Duration
	ExcerptChars   int
	CacheTTL       time.Duration
	Tracker        Tracker
	Now            func() time.Time
}

// Outcome is the result of extracting one mention.
type Outcome struct {
	MentionID string
	Event     *core.ExtractionEvent
	Appended  bool // False when the fingerprint was already in the log
	Cached    bool // The LLM response came from the cache
}

// ArticleResult summarises one article's extraction pass.
type ArticleResult struct {
	ArticleID string
	Outcomes  []Outcome
	Degraded  int
	Completed bool // Analysis status moved to done
	Errors    []error
}

// Stage runs deep extraction.
type Stage struct {
	db       persistence.Database
	provider llm.Provider
	cache    *Cache
	resolver *entities.Resolver
	tagger   *tags.Engine
	analyzer *sentiment.Analyzer
	opts     Options
	log      *slog.Logger
}

// NewStage creates an extraction stage. cacheRepo stores raw LLM responses; it
// may be the database's own cache table or a separate SQLite store.
func NewStage(db persistence.Database, provider llm.Provider, resolver *entities.Resolver, tagger *tags.Engine, cacheRepo persistence.CacheRepository, opts Options) *Stage {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.ExcerptChars <= 0 {
		opts.ExcerptChars = DefaultExcerptChars
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Stage{
		db:       db,
		provider: provider,
		cache:    NewCache(cacheRepo, opts.CacheTTL, opts.Now),
		resolver: resolver,
		tagger:   tagger,
		analyzer: sentiment.NewAnalyzer(),
		opts:     opts,
		log:      logger.Get(),
	}
}

// Cache exposes the response cache for eviction.
func (s *Stage) Cache() *Cache {
	return s.cache
}

// RunArticle extracts every resolved mention of the article that is flagged
// for deep analysis. One mention failing never stops the others. When no
// flagged mention remains the article's analysis status becomes done.
func (s *Stage) RunArticle(ctx context.Context, articleID string) (*ArticleResult, error) {
	article, err := s.db.Articles().Get(ctx, articleID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.NewStageError(stageName, articleID, core.ErrArticleExpired)
	}
	if err != nil {
		return nil, core.NewStageError(stageName, articleID, err)
	}
	if article.Expired(s.opts.Now()) {
		return nil, core.NewStageError(stageName, articleID, core.ErrArticleExpired)
	}

	mentions, err := s.db.Mentions().ListByArticle(ctx, articleID)
	if err != nil {
		return nil, core.NewStageError(stageName, articleID, fmt.Errorf("failed to list mentions: %w", err))
	}

	result := &ArticleResult{ArticleID: articleID}
	for _, m := range mentions {
		if !pending(m) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, core.NewStageError(stageName, articleID, err)
		}
		out, err := s.ExtractMention(ctx, article, m)
		if err != nil {
			if ctx.Err() != nil {
				return result, core.NewStageError(stageName, articleID, err)
			}
			s.log.Warn("Mention extraction failed", "article_id", articleID, "mention_id", m.ID, "error", err)
			result.Errors = append(result.Errors, core.NewStageError(stageName, m.ID, err))
			continue
		}
		if out.Event.Degraded() {
			result.Degraded++
		}
		result.Outcomes = append(result.Outcomes, *out)
	}

	events, err := s.db.Events().ListByArticle(ctx, articleID)
	if err != nil {
		return result, core.NewStageError(stageName, articleID, fmt.Errorf("failed to list events: %w", err))
	}
	if s.tagger != nil && len(events) > 0 {
		if err := s.tagger.ApplyExtraction(ctx, articleID, events); err != nil {
			result.Errors = append(result.Errors, core.NewStageError("tagging", articleID, err))
		}
	}

	if len(result.Errors) == 0 {
		remaining, err := s.db.Mentions().ListByArticle(ctx, articleID)
		if err != nil {
			return result, core.NewStageError(stageName, articleID, err)
		}
		done := true
		for _, m := range remaining {
			if pending(m) {
				done = false
				break
			}
		}
		if done {
			if err := s.db.Articles().SetStatus(ctx, articleID, persistence.StageAnalysis, core.StateDone); err != nil {
				return result, core.NewStageError(stageName, articleID, fmt.Errorf("failed to update analysis status: %w", err))
			}
			result.Completed = true
		}
	}

	s.log.Info("Article extracted", "article_id", articleID, "events", len(result.Outcomes), "degraded", result.Degraded, "errors", len(result.Errors))
	return result, nil
}

func pending(m core.Mention) bool {
	return m.Resolved() && m.NeedsDeepAnalysis && !m.AnalysisCompleted
}

// ExtractMention produces the event for one mention, calling the LLM at most
// once per distinct prompt. A mention whose claim is already in the log is
// marked analysed without any call.
func (s *Stage) ExtractMention(ctx context.Context, article *core.Article, m core.Mention) (*Outcome, error) {
	if !m.Resolved() {
		return nil, core.ErrUnresolvedEntity
	}
	entity, err := s.db.Entities().Get(ctx, m.EntityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity %s: %w", m.EntityID, err)
	}

	fp := fingerprint.Event(article.Title, article.Source, entity.ID)
	existing, err := s.db.Events().GetByFingerprint(ctx, fp)
	switch {
	case err == nil:
		if err := s.db.Mentions().MarkAnalyzed(ctx, m.ID); err != nil {
			return nil, fmt.Errorf("failed to mark mention analysed: %w", err)
		}
		return &Outcome{MentionID: m.ID, Event: existing}, nil
	case !errors.Is(err, core.ErrNotFound):
		return nil, fmt.Errorf("failed to check event log: %w", err)
	}

	prompt := BuildPrompt(article, entity.CanonicalName, s.dimensions(ctx), s.opts.ExcerptChars)
	key := fingerprint.Prompt(s.provider.Model(), prompt)

	raw, hit, err := s.cache.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		resp, err := s.complete(ctx, prompt)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})

	var event *core.ExtractionEvent
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		s.log.Warn("Extraction exhausted retries, recording degraded event", "article_id", article.ID, "entity", entity.CanonicalName, "error", err)
		event = s.degradedEvent(article, m, entity, fp, key, err)
	} else {
		event, err = s.buildEvent(ctx, article, m, entity, fp, key, raw)
		if err != nil {
			// A cached response that no longer parses is treated like a failed call.
			event = s.degradedEvent(article, m, entity, fp, key, err)
		}
	}

	appended, err := s.db.Events().Append(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}
	if !appended {
		if stored, err := s.db.Events().GetByFingerprint(ctx, fp); err == nil {
			event = stored
		}
	} else {
		s.applyFacts(ctx, entity, event)
	}
	if err := s.db.Mentions().MarkAnalyzed(ctx, m.ID); err != nil {
		return nil, fmt.Errorf("failed to mark mention analysed: %w", err)
	}

	if s.opts.Tracker != nil {
		_ = s.opts.Tracker.TrackExtraction(ctx, article.ID, entity.ID, string(event.Dimension), hit, event.Degraded())
	}
	return &Outcome{MentionID: m.ID, Event: event, Appended: appended, Cached: hit}, nil
}

// complete calls the provider with bounded retries. Timeouts, transport errors
// and unparseable output are all retried; the last error is returned wrapped
// in ErrExtractionPermanent.
func (s *Stage) complete(ctx context.Context, prompt string) (*llm.Response, error) {
	var lastErr error
	for attempt := 0; attempt < s.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.backoff(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
		resp, err := s.provider.Complete(attemptCtx, llm.Request{
			Prompt:    prompt,
			MaxTurns:  llm.DefaultMaxTurns,
			Schema:    ResponseSchema(),
			Operation: stageName,
		})
		cancel()
		if err == nil {
			_, err = parseResult(resp.Text)
		}
		if err == nil {
			return resp, nil
		}

		lastErr = fmt.Errorf("%w: %v", core.ErrExtractionTransient, err)
		s.log.Debug("Extraction attempt failed", "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", core.ErrExtractionPermanent, s.opts.RetryAttempts, lastErr)
}

func (s *Stage) backoff(attempt int) time.Duration {
	d := s.opts.RetryBackoff << (attempt - 1)
	if d <= 0 || d > s.opts.MaxBackoff {
		return s.opts.MaxBackoff
	}
	return d
}

func (s *Stage) dimensions(ctx context.Context) []core.Dimension {
	dims, err := s.db.Dimensions().List(ctx)
	if err != nil || len(dims) == 0 {
		return core.DefaultDimensions()
	}
	return dims
}

// extracted is the JSON object the model is asked to return.
type extracted struct {
	EventType       string          `json:"event_type"`
	Dimension       string          `json:"dimension"`
	Sentiment       string          `json:"sentiment"`
	Severity        string          `json:"severity"`
	Confidence      *float64        `json:"confidence"`
	Summary         string          `json:"summary"`
	Quotes          []Quote         `json:"quotes"`
	RelatedEntities []string        `json:"related_entities"`
	Details         json.RawMessage `json:"details"`
}

func parseResult(text string) (*extracted, error) {
	text = llm.StripFences(text)
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in response", llm.ErrMalformedResponse)
	}
	var x extracted
	if err := json.Unmarshal([]byte(text[start:end+1]), &x); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrMalformedResponse, err)
	}
	if x.Confidence == nil {
		return nil, fmt.Errorf("%w: missing confidence", llm.ErrMalformedResponse)
	}
	if strings.TrimSpace(x.Summary) == "" && strings.TrimSpace(x.EventType) == "" {
		return nil, fmt.Errorf("%w: missing summary and event type", llm.ErrMalformedResponse)
	}
	c := *x.Confidence
	if c < 0 {
		c = 0
	} else if c > 1 {
		c = 1
	}
	x.Confidence = &c
	return &x, nil
}

func (s *Stage) buildEvent(ctx context.Context, article *core.Article, m core.Mention, entity *core.Entity, fp, key string, raw []byte) (*core.ExtractionEvent, error) {
	var resp llm.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: cached response: %v", llm.ErrMalformedResponse, err)
	}
	x, err := parseResult(resp.Text)
	if err != nil {
		return nil, err
	}

	eventType := strings.ToLower(strings.TrimSpace(x.EventType))
	if eventType == "" {
		eventType = "other"
	}
	dim := NormalizeDimension(x.Dimension, eventType)
	payload := DecodePayload(dim, x.Details)

	severity := strings.ToLower(strings.TrimSpace(x.Severity))
	if inj, ok := payload.(InjuryPayload); ok {
		if !ValidSeverity(severity) && ValidSeverity(inj.Severity) {
			severity = inj.Severity
		}
		if inj.Severity == "" && ValidSeverity(severity) {
			inj.Severity = severity
			payload = inj
		}
	}
	if !ValidSeverity(severity) {
		severity = ""
	}

	sent, ok := sentiment.Parse(x.Sentiment)
	if !ok {
		sent, _ = s.analyzer.Classify(x.Summary)
	}

	encoded, err := EncodePayload(payload, x.Quotes)
	if err != nil {
		return nil, err
	}

	var related []string
	if len(x.RelatedEntities) > 0 && s.resolver != nil {
		ids, err := s.resolver.Lookup(ctx, x.RelatedEntities, entities.Hint{Domain: entity.Domain})
		if err != nil {
			s.log.Warn("Failed to resolve related entities", "entity", entity.CanonicalName, "error", err)
		}
		for _, id := range ids {
			if id != entity.ID {
				related = append(related, id)
			}
		}
	}

	model := resp.Model
	if model == "" {
		model = s.provider.Model()
	}
	return &core.ExtractionEvent{
		ID:                uuid.NewString(),
		Fingerprint:       fp,
		ArticleID:         article.ID,
		MentionID:         m.ID,
		EntityID:          entity.ID,
		RelatedEntityIDs:  related,
		Domain:            entity.Domain,
		Headline:          article.Title,
		Source:            article.Source,
		SourceURL:         article.URL,
		PublishedAt:       article.EffectiveTime(),
		EventType:         eventType,
		Dimension:         dim,
		Sentiment:         sent,
		Severity:          severity,
		Confidence:        *x.Confidence,
		Summary:           strings.TrimSpace(x.Summary),
		Payload:           encoded,
		Status:            core.EventOK,
		ModelVersion:      model,
		PromptFingerprint: key,
		InputTokens:       resp.Usage.InputTokens,
		OutputTokens:      resp.Usage.OutputTokens,
		CreatedAt:         s.opts.Now(),
	}, nil
}

func (s *Stage) degradedEvent(article *core.Article, m core.Mention, entity *core.Entity, fp, key string, cause error) *core.ExtractionEvent {
	reason := strings.ToValidUTF8(cause.Error(), "")
	if r := []rune(reason); len(r) > maxFailureReason {
		reason = string(r[:maxFailureReason])
	}
	payload, _ := EncodePayload(UnparsedPayload{Reason: reason}, nil)
	return &core.ExtractionEvent{
		ID:                uuid.NewString(),
		Fingerprint:       fp,
		ArticleID:         article.ID,
		MentionID:         m.ID,
		EntityID:          entity.ID,
		Domain:            entity.Domain,
		Headline:          article.Title,
		Source:            article.Source,
		SourceURL:         article.URL,
		PublishedAt:       article.EffectiveTime(),
		EventType:         failedEventType,
		Sentiment:         core.SentimentNeutral,
		Confidence:        0,
		Payload:           payload,
		Status:            core.EventDegraded,
		FailureReason:     reason,
		ModelVersion:      s.provider.Model(),
		PromptFingerprint: key,
		CreatedAt:         s.opts.Now(),
	}
}
