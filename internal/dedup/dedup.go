// Package dedup admits scraped articles exactly once. The URL fingerprint stops
// the same source being processed twice and the body fingerprint catches
// syndicated copies under different URLs.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"newsintel/internal/core"
	"newsintel/internal/fingerprint"
	"newsintel/internal/keylock"
	"newsintel/internal/logger"
	"newsintel/internal/persistence"
)

// DefaultRetention is how long an admitted article is kept.
const DefaultRetention = 24 * time.Hour

// Status is the outcome of Admit.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusDuplicate Status = "duplicate"
)

// Reason names the fingerprint that detected a duplicate.
type Reason string

const (
	ReasonURL  Reason = "url"
	ReasonBody Reason = "body"
)

// AdmitResult describes what happened to a submission.
type AdmitResult struct {
	Status   Status        `json:"status"`
	Reason   Reason        `json:"reason,omitempty"`
	Article  *core.Article `json:"article,omitempty"`  // The stored row for this submission, if one was written
	Existing *core.Article `json:"existing,omitempty"` // The earlier article this duplicates
}

// Duplicate reports whether the submission must not proceed to triage.
func (r AdmitResult) Duplicate() bool {
	return r.Status == StatusDuplicate
}

// Err returns core.ErrDuplicateInput for duplicates and nil otherwise.
func (r AdmitResult) Err() error {
	if r.Duplicate() {
		return core.ErrDuplicateInput
	}
	return nil
}

// EvictResult counts rows removed by Evict.
type EvictResult struct {
	Articles     int `json:"articles"`
	CacheEntries int `json:"cache_entries"`
}

// Options configures a Store.
type Options struct {
	Retention time.Duration
	Now       func() time.Time
}

// Store is the content dedup store.
type Store struct {
	articles  persistence.ArticleRepository
	cache     persistence.CacheRepository
	retention time.Duration
	locks     *keylock.Striped
	now       func() time.Time
	log       *slog.Logger
}

// NewStore creates a dedup store. cache may be nil when cache eviction is
// handled elsewhere.
func NewStore(articles persistence.ArticleRepository, cache persistence.CacheRepository, opts Options) *Store {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		articles:  articles,
		cache:     cache,
		retention: opts.Retention,
		locks:     keylock.New(keylock.DefaultStripes),
		now:       opts.Now,
		log:       logger.Get(),
	}
}

// Admit checks the URL fingerprint, then the body fingerprint. New articles are
// stored pending triage. A body duplicate is still stored, so its URL is never
// fetched again, but both stages are marked done and it never reaches triage.
func (s *Store) Admit(ctx context.Context, sub core.Submission) (*AdmitResult, error) {
	if strings.TrimSpace(sub.URL) == "" {
		return nil, fmt.Errorf("submission url is required")
	}
	body := ExtractText(sub.Body)
	if body == "" {
		return nil, fmt.Errorf("submission body is required")
	}
	title := strings.TrimSpace(sub.Title)
	if title == "" {
		return nil, fmt.Errorf("submission title is required")
	}

	urlFP := fingerprint.URL(sub.URL)
	bodyFP := fingerprint.Body(body)

	unlock := s.locks.LockAll(urlFP, bodyFP)
	defer unlock()

	existing, err := s.articles.GetByURLFingerprint(ctx, urlFP)
	switch {
	case err == nil:
		return &AdmitResult{Status: StatusDuplicate, Reason: ReasonURL, Existing: existing}, nil
	case !errors.Is(err, core.ErrNotFound):
		return nil, fmt.Errorf("failed to check url fingerprint: %w", err)
	}

	now := s.now()
	article := &core.Article{
		ID:              uuid.NewString(),
		URL:             strings.TrimSpace(sub.URL),
		URLFingerprint:  urlFP,
		BodyFingerprint: bodyFP,
		Title:           title,
		Body:            body,
		Source:          strings.TrimSpace(sub.Source),
		Author:          strings.TrimSpace(sub.Author),
		PublishedAt:     sub.PublishedAt,
		FetchedAt:       now,
		ExpiresAt:       now.Add(s.retention),
		TriageStatus:    core.StatePending,
		AnalysisStatus:  core.StatePending,
	}

	original, err := s.articles.GetByBodyFingerprint(ctx, bodyFP)
	switch {
	case err == nil:
		article.DuplicateOf = original.ID
		article.TriageStatus = core.StateDone
		article.AnalysisStatus = core.StateDone
	case !errors.Is(err, core.ErrNotFound):
		return nil, fmt.Errorf("failed to check body fingerprint: %w", err)
	}

	if err := s.articles.Insert(ctx, article); err != nil {
		if errors.Is(err, core.ErrConflict) {
			// Another process admitted the URL between our check and insert.
			existing, getErr := s.articles.GetByURLFingerprint(ctx, urlFP)
			if getErr != nil {
				return nil, fmt.Errorf("failed to load conflicting article: %w", getErr)
			}
			return &AdmitResult{Status: StatusDuplicate, Reason: ReasonURL, Existing: existing}, nil
		}
		return nil, fmt.Errorf("failed to store article: %w", err)
	}

	if original != nil {
		s.log.Info("Syndicated duplicate admitted as audit row", "article_id", article.ID, "duplicate_of", original.ID)
		return &AdmitResult{Status: StatusDuplicate, Reason: ReasonBody, Article: article, Existing: original}, nil
	}

	s.log.Debug("Article accepted", "article_id", article.ID, "url", article.URL)
	return &AdmitResult{Status: StatusAccepted, Article: article}, nil
}

// Evict removes expired articles regardless of processing state, and expired
// extraction cache entries. The event log is never touched.
func (s *Store) Evict(ctx context.Context) (*EvictResult, error) {
	now := s.now()
	res := &EvictResult{}

	n, err := s.articles.DeleteExpired(ctx, now)
	if err != nil {
		return res, fmt.Errorf("failed to evict articles: %w", err)
	}
	res.Articles = n

	if s.cache != nil {
		n, err := s.cache.DeleteExpired(ctx, now)
		if err != nil {
			return res, fmt.Errorf("failed to evict cache entries: %w", err)
		}
		res.CacheEntries = n
	}

	if res.Articles > 0 || res.CacheEntries > 0 {
		s.log.Info("Evicted expired content", "articles", res.Articles, "cache_entries", res.CacheEntries)
	}
	return res, nil
}
