package core

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateInput is the expected outcome of admitting an already-seen article.
	ErrDuplicateInput = errors.New("duplicate input")
	// ErrUnresolvedEntity means no entity matched a mention; resolution is deferred.
	ErrUnresolvedEntity = errors.New("unresolved entity")
	// ErrExtractionTransient marks a retryable LLM failure (timeout, transport, malformed output).
	ErrExtractionTransient = errors.New("transient extraction failure")
	// ErrExtractionPermanent marks an extraction that exhausted its retries.
	ErrExtractionPermanent = errors.New("permanent extraction failure")
	// ErrAggregationInconsistency means reference data needed by aggregation is missing.
	ErrAggregationInconsistency = errors.New("aggregation inconsistency")
	// ErrCacheExpired is returned by caches for entries past their TTL.
	ErrCacheExpired = errors.New("cache entry expired")
	// ErrArticleExpired means the source article left its retention window mid-processing.
	ErrArticleExpired = errors.New("article expired")

	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// StageError attaches the failing stage and key to an underlying error.
type StageError struct {
	Stage string
	Key   string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Key, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with stage context. A nil err stays nil.
func NewStageError(stage, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Key: key, Err: err}
}
