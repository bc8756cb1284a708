// Package pipeline runs articles through admission, triage, tagging and deep
// extraction, and drives the batch passes and the scheduled daemon.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"newsintel/internal/aggregation"
	"newsintel/internal/calendar"
	"newsintel/internal/core"
	"newsintel/internal/dedup"
	"newsintel/internal/entities"
	"newsintel/internal/extraction"
	"newsintel/internal/llm"
	"newsintel/internal/logger"
	"newsintel/internal/persistence"
	"newsintel/internal/tags"
	"newsintel/internal/triage"
)

// Pipeline orchestrates the per-article stages and the batch passes
type Pipeline struct {
	db          persistence.Database
	resolver    *entities.Resolver
	dedup       *dedup.Store
	calendar    *calendar.Calendar
	triage      *triage.Stage
	tagger      *tags.Engine
	extraction  *extraction.Stage
	aggregation *aggregation.Engine
	provider    llm.Provider
	tracker     Tracker
	config      *Config
	log         *slog.Logger
}

// Config holds pipeline configuration
type Config struct {
	Domain string

	// Processing settings
	Workers          int
	BatchSize        int
	Retention        time.Duration
	MentionThreshold int
	FuzzyThreshold   float64

	Extraction extraction.Options
	Profile    aggregation.ProfileOptions

	Now func() time.Time
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Domain:           "afl",
		Workers:          4,
		BatchSize:        50,
		Retention:        dedup.DefaultRetention,
		MentionThreshold: triage.DefaultMentionThreshold,
		FuzzyThreshold:   entities.DefaultFuzzyThreshold,
		Extraction: extraction.Options{
			RetryAttempts:  extraction.DefaultRetryAttempts,
			RetryBackoff:   extraction.DefaultRetryBackoff,
			MaxBackoff:     extraction.DefaultMaxBackoff,
			RequestTimeout: extraction.DefaultRequestTimeout,
			ExcerptChars:   extraction.DefaultExcerptChars,
			CacheTTL:       extraction.DefaultCacheTTL,
		},
		Now: func() time.Time { return time.Now().UTC() },
	}
}

// Now returns the pipeline clock.
func (p *Pipeline) Now() time.Time {
	return p.config.Now()
}

// DB returns the store the pipeline writes to.
func (p *Pipeline) DB() persistence.Database { return p.db }

// Resolver returns the entity resolver.
func (p *Pipeline) Resolver() *entities.Resolver { return p.resolver }

// Calendar returns the round calendar.
func (p *Pipeline) Calendar() *calendar.Calendar { return p.calendar }

// Aggregation returns the aggregation engine.
func (p *Pipeline) Aggregation() *aggregation.Engine { return p.aggregation }

// Domain returns the entity domain articles are triaged against.
func (p *Pipeline) Domain() string { return p.config.Domain }

// Provider returns the LLM provider used for deep extraction.
func (p *Pipeline) Provider() llm.Provider { return p.provider }

// SubmitResult is the scraper-facing outcome of a submission.
type SubmitResult struct {
	Status      dedup.Status `json:"status"`
	ArticleID   string       `json:"article_id,omitempty"`
	DuplicateOf string       `json:"duplicate_of,omitempty"`
	Reason      dedup.Reason `json:"reason,omitempty"`
	RoundID     string       `json:"round_id,omitempty"`
}

// Submit admits a scraped article and assigns it to its round. Duplicates are
// reported in the result, not as an error.
func (p *Pipeline) Submit(ctx context.Context, sub core.Submission) (*SubmitResult, error) {
	res, err := p.dedup.Admit(ctx, sub)
	if err != nil {
		return nil, err
	}

	out := &SubmitResult{Status: res.Status, Reason: res.Reason}
	if res.Article != nil {
		out.ArticleID = res.Article.ID
	}
	if res.Existing != nil {
		out.DuplicateOf = res.Existing.ID
	}
	_ = p.tracker.TrackArticleAdmitted(ctx, out.ArticleID, sub.Source, string(res.Status), string(res.Reason))
	if res.Duplicate() {
		p.log.Info("Duplicate submission", "url", sub.URL, "reason", res.Reason, "duplicate_of", out.DuplicateOf)
		return out, nil
	}

	roundID, err := p.calendar.AssignArticle(ctx, res.Article)
	if err != nil {
		// Round assignment is metadata; the article is already admitted.
		p.log.Warn("Failed to assign round", "article_id", out.ArticleID, "error", err)
	}
	out.RoundID = roundID
	return out, nil
}

// ArticleReport summarises one article's run through the stages.
type ArticleReport struct {
	ArticleID  string                    `json:"article_id"`
	Triage     *triage.Result            `json:"triage,omitempty"`
	Extraction *extraction.ArticleResult `json:"extraction,omitempty"`
}

// ProcessArticle runs triage (when pending) and deep extraction for one
// article. The run is bounded by the article's expiry; an article that expires
// or is evicted between stages is abandoned with core.ErrArticleExpired, and
// events already appended stay in the log.
func (p *Pipeline) ProcessArticle(ctx context.Context, articleID string) (*ArticleReport, error) {
	article, err := p.loadLive(ctx, articleID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, article.ExpiresAt.Sub(p.Now()))
	defer cancel()

	report := &ArticleReport{ArticleID: article.ID}
	if article.TriageStatus != core.StateDone {
		res, err := p.triageArticle(ctx, article)
		if err != nil {
			return report, p.abandoned(ctx, article.ID, err)
		}
		report.Triage = res

		if _, err := p.loadLive(ctx, articleID); err != nil {
			return report, err
		}
	}

	res, err := p.extraction.RunArticle(ctx, article.ID)
	report.Extraction = res
	if err != nil {
		return report, p.abandoned(ctx, article.ID, err)
	}
	return report, nil
}

// loadLive fetches an article, treating a missing or expired row as expired.
func (p *Pipeline) loadLive(ctx context.Context, articleID string) (*core.Article, error) {
	article, err := p.db.Articles().Get(ctx, articleID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.NewStageError("pipeline", articleID, fmt.Errorf("%w: evicted", core.ErrArticleExpired))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load article %s: %w", articleID, err)
	}
	if article.Expired(p.Now()) {
		return nil, core.NewStageError("pipeline", articleID, core.ErrArticleExpired)
	}
	return article, nil
}

// abandoned maps a deadline hit on the expiry-bound context to ErrArticleExpired.
func (p *Pipeline) abandoned(ctx context.Context, articleID string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, core.ErrArticleExpired) {
		return core.NewStageError("pipeline", articleID, fmt.Errorf("%w: %v", core.ErrArticleExpired, err))
	}
	return err
}

func (p *Pipeline) triageArticle(ctx context.Context, article *core.Article) (*triage.Result, error) {
	res, err := p.triage.Run(ctx, article)
	if err != nil {
		_ = p.tracker.TrackError(ctx, "triage_failed", err.Error(), "triage")
		return nil, err
	}
	if _, err := p.tagger.TagKeywords(ctx, article); err != nil {
		return nil, core.NewStageError("tagging", article.ID, err)
	}
	if err := p.tagger.TagEntities(ctx, article.ID, res.Mentions); err != nil {
		return nil, core.NewStageError("tagging", article.ID, err)
	}
	_ = p.tracker.TrackTriage(ctx, article.ID, res.Resolved, res.Unresolved, res.Flagged)
	return res, nil
}

// BatchResult summarises a pass over many articles.
type BatchResult struct {
	Stage     string        `json:"stage"`
	Articles  int           `json:"articles"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Abandoned int           `json:"abandoned"` // Expired or evicted mid-flight
	Duration  time.Duration `json:"duration"`
	Errors    []error       `json:"-"`
}

// RunTriage triages a batch of pending articles in parallel.
func (p *Pipeline) RunTriage(ctx context.Context) (*BatchResult, error) {
	pending, err := p.db.Articles().ListPending(ctx, persistence.StageTriage, p.Now(), p.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles pending triage: %w", err)
	}
	ids := make([]string, len(pending))
	for i, a := range pending {
		ids[i] = a.ID
	}
	return p.forEach(ctx, "triage", ids, func(ctx context.Context, id string) error {
		article, err := p.loadLive(ctx, id)
		if err != nil {
			return err
		}
		_, err = p.triageArticle(ctx, article)
		return err
	})
}

// RunAnalysis runs deep extraction over articles with pending mentions,
// including mentions re-triage resolved after their article was analysed.
func (p *Pipeline) RunAnalysis(ctx context.Context) (*BatchResult, error) {
	pending, err := p.db.Articles().ListPending(ctx, persistence.StageAnalysis, p.Now(), p.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles pending analysis: %w", err)
	}
	mentions, err := p.db.Mentions().ListPendingAnalysis(ctx, p.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list mentions pending analysis: %w", err)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, a := range pending {
		if !seen[a.ID] {
			seen[a.ID] = true
			ids = append(ids, a.ID)
		}
	}
	for _, m := range mentions {
		if !seen[m.ArticleID] {
			seen[m.ArticleID] = true
			ids = append(ids, m.ArticleID)
		}
	}
	sort.Strings(ids)

	return p.forEach(ctx, "analysis", ids, func(ctx context.Context, id string) error {
		_, err := p.ProcessArticle(ctx, id)
		return err
	})
}

// forEach runs fn over ids on a bounded worker pool. Item failures are
// collected; only cancellation of ctx stops the pass.
func (p *Pipeline) forEach(ctx context.Context, stage string, ids []string, fn func(context.Context, string) error) (*BatchResult, error) {
	start := time.Now()
	res := &BatchResult{Stage: stage, Articles: len(ids)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)
	for _, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := fn(gctx, id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Succeeded++
			case errors.Is(err, core.ErrArticleExpired):
				res.Abandoned++
				p.log.Info("Article abandoned", "stage", stage, "article_id", id, "error", err)
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				res.Failed++
				res.Errors = append(res.Errors, err)
				p.log.Warn("Article failed", "stage", stage, "article_id", id, "error", err)
				_ = p.tracker.TrackError(gctx, stage+"_failed", err.Error(), stage)
			}
			return nil
		})
	}
	err := g.Wait()
	res.Duration = time.Since(start)
	if len(ids) > 0 {
		p.log.Info("Batch complete", "stage", stage, "articles", res.Articles, "succeeded", res.Succeeded,
			"failed", res.Failed, "abandoned", res.Abandoned, "duration_ms", res.Duration.Milliseconds())
	}
	return res, err
}

// Retriage retries resolution of unresolved mentions.
func (p *Pipeline) Retriage(ctx context.Context) (*triage.RetriageResult, error) {
	return p.triage.Retriage(ctx, p.config.BatchSize)
}

// Cleanup evicts expired articles and expired cache entries.
func (p *Pipeline) Cleanup(ctx context.Context) (*dedup.EvictResult, error) {
	return p.dedup.Evict(ctx)
}

// Aggregate runs aggregation for a round, or for the current round when
// roundID is empty.
func (p *Pipeline) Aggregate(ctx context.Context, roundID string, run aggregation.RunOptions) (*aggregation.RoundResult, error) {
	if roundID == "" {
		round, err := p.calendar.CurrentRound(ctx, p.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to resolve current round: %w", err)
		}
		roundID = round.ID
	}
	return p.aggregation.RunRound(ctx, roundID, run)
}
