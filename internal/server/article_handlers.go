package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"newsintel/internal/core"
	"newsintel/internal/dedup"
	"newsintel/internal/pipeline"
)

// SubmitArticleResponse is returned by POST /api/articles
type SubmitArticleResponse struct {
	*pipeline.SubmitResult
	Report *pipeline.ArticleReport `json:"report,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

// ArticleResponse is an article with everything the pipeline derived from it
type ArticleResponse struct {
	core.Article
	Mentions []core.Mention         `json:"mentions"`
	Tags     []core.ArticleTag      `json:"tags"`
	Events   []core.ExtractionEvent `json:"events"`
}

// handleSubmitArticle handles POST /api/articles
func (s *Server) handleSubmitArticle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var sub core.Submission
	if err := decodeJSON(r, &sub); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch {
	case strings.TrimSpace(sub.URL) == "":
		s.respondError(w, http.StatusBadRequest, "url is required")
		return
	case strings.TrimSpace(sub.Title) == "":
		s.respondError(w, http.StatusBadRequest, "title is required")
		return
	case strings.TrimSpace(sub.Body) == "":
		s.respondError(w, http.StatusBadRequest, "body is required")
		return
	}

	res, err := s.pipeline.Submit(ctx, sub)
	if err != nil {
		s.log.Error("Failed to admit article", "url", sub.URL, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to admit article")
		return
	}

	resp := SubmitArticleResponse{SubmitResult: res}
	if res.Status == dedup.StatusDuplicate {
		s.respondJSON(w, http.StatusOK, resp)
		return
	}

	if r.URL.Query().Get("process") == "true" {
		report, err := s.pipeline.ProcessArticle(ctx, res.ArticleID)
		resp.Report = report
		if err != nil {
			// The article is admitted either way; the batch passes pick it up again.
			s.log.Warn("Synchronous processing failed", "article_id", res.ArticleID, "error", err)
			resp.Error = err.Error()
		}
	}
	s.respondJSON(w, http.StatusCreated, resp)
}

// handleGetArticle handles GET /api/articles/{id}
func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	article, err := s.db.Articles().Get(ctx, id)
	if err != nil {
		s.respondStoreError(w, err, "article")
		return
	}

	resp := ArticleResponse{Article: *article}
	if resp.Mentions, err = s.db.Mentions().ListByArticle(ctx, id); err != nil {
		s.respondStoreError(w, err, "mentions")
		return
	}
	if resp.Tags, err = s.db.Tags().ListByArticle(ctx, id); err != nil {
		s.respondStoreError(w, err, "tags")
		return
	}
	resp.Events, err = s.db.Events().ListByArticle(ctx, id)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		s.respondStoreError(w, err, "events")
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}
