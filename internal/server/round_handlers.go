package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"newsintel/internal/aggregation"
	"newsintel/internal/core"
	"newsintel/internal/features"
	"newsintel/internal/persistence"
)

// AggregateRequest selects what POST /api/rounds/{id}/aggregate recomputes
type AggregateRequest struct {
	EntityIDs []string `json:"entity_ids"`
	Force     bool     `json:"force"`
}

// AggregateResponse reports an aggregation run
type AggregateResponse struct {
	*aggregation.RoundResult
	Errors []string `json:"errors"`
}

// handleListDimensions handles GET /api/dimensions
func (s *Server) handleListDimensions(w http.ResponseWriter, r *http.Request) {
	dims, err := s.db.Dimensions().List(r.Context())
	if err != nil {
		s.respondStoreError(w, err, "dimensions")
		return
	}
	if dims == nil {
		dims = []core.Dimension{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"dimensions": dims})
}

// handleListRounds handles GET /api/rounds. ?season_id= selects a season
// other than the current one.
func (s *Server) handleListRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.pipeline.Calendar().Rounds(r.Context(), r.URL.Query().Get("season_id"))
	if err != nil {
		s.respondStoreError(w, err, "rounds")
		return
	}
	if rounds == nil {
		rounds = []core.Round{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"rounds": rounds,
		"total":  len(rounds),
	})
}

// handleCurrentRound handles GET /api/rounds/current
func (s *Server) handleCurrentRound(w http.ResponseWriter, r *http.Request) {
	round, err := s.pipeline.Calendar().CurrentRound(r.Context(), s.pipeline.Now())
	if err != nil {
		s.respondStoreError(w, err, "current round")
		return
	}
	s.respondJSON(w, http.StatusOK, round)
}

// handleAggregateRound handles POST /api/rounds/{id}/aggregate
func (s *Server) handleAggregateRound(w http.ResponseWriter, r *http.Request) {
	var req AggregateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	roundID := chi.URLParam(r, "id")
	if roundID == "current" {
		roundID = ""
	}
	res, err := s.pipeline.Aggregate(r.Context(), roundID, aggregation.RunOptions{
		EntityIDs: req.EntityIDs,
		Force:     req.Force,
	})
	if err != nil {
		s.respondStoreError(w, err, "round")
		return
	}

	resp := AggregateResponse{RoundResult: res, Errors: []string{}}
	for _, e := range res.Errors {
		resp.Errors = append(resp.Errors, e.Error())
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleListVerdicts handles GET /api/verdicts
func (s *Server) handleListVerdicts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	verdicts, err := s.db.Verdicts().List(r.Context(), persistence.VerdictFilter{
		RoundID:  q.Get("round_id"),
		EntityID: q.Get("entity_id"),
		Limit:    limit,
	})
	if err != nil {
		s.respondStoreError(w, err, "verdicts")
		return
	}
	if verdicts == nil {
		verdicts = []core.WeeklyVerdict{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"verdicts": verdicts,
		"total":    len(verdicts),
	})
}

// handleFeatures handles GET /api/features
func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format, err := features.ParseFormat(strings.ToLower(q.Get("format")))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	season, err := queryInt(r, "season", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := s.exporter.Rows(r.Context(), features.Filter{
		RoundID:    q.Get("round_id"),
		SeasonYear: season,
		EntityID:   q.Get("entity_id"),
	})
	if err != nil {
		s.respondStoreError(w, err, "features")
		return
	}

	switch format {
	case features.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="features.csv"`)
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	if err := features.Write(w, format, rows); err != nil {
		s.log.Error("Failed to write features", "format", format, "error", err)
	}
}
