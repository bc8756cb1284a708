package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"newsintel/internal/core"
	"newsintel/internal/entities"
	"newsintel/internal/persistence"
)

// CreateEntityRequest registers an entity with optional manual aliases
type CreateEntityRequest struct {
	Domain        string          `json:"domain"`
	Type          core.EntityType `json:"type"`
	CanonicalName string          `json:"canonical_name"`
	ExternalID    string          `json:"external_id"`
	Attributes    map[string]any  `json:"attributes"`
	Aliases       []string        `json:"aliases"`
}

// EntityResponse is an entity with its aliases
type EntityResponse struct {
	core.Entity
	Aliases []core.Alias      `json:"aliases"`
	State   *core.EntityState `json:"state,omitempty"`
	Created bool              `json:"created,omitempty"`
}

// AddAliasRequest adds one alias to an entity
type AddAliasRequest struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ResolveResponse is the outcome of GET /api/resolve
type ResolveResponse struct {
	Mention string          `json:"mention"`
	Entity  *core.Entity    `json:"entity"`
	Matched string          `json:"matched"`
	Score   float64         `json:"score"`
	Method  entities.Method `json:"method"`
}

const defaultListLimit = 100

// handleListEntities handles GET /api/entities
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := persistence.EntityFilter{
		Domain: q.Get("domain"),
		Type:   core.EntityType(q.Get("type")),
		Query:  q.Get("q"),
		Limit:  limit,
	}
	if filter.Domain == "" {
		filter.Domain = s.pipeline.Domain()
	}

	list, err := s.db.Entities().List(r.Context(), filter)
	if err != nil {
		s.respondStoreError(w, err, "entities")
		return
	}
	if list == nil {
		list = []core.Entity{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entities": list,
		"total":    len(list),
	})
}

// handleCreateEntity handles POST /api/entities
func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateEntityRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.CanonicalName) == "" {
		s.respondError(w, http.StatusBadRequest, "canonical_name is required")
		return
	}
	if req.Domain == "" {
		req.Domain = s.pipeline.Domain()
	}
	if req.Type == "" {
		req.Type = core.EntityPlayer
	}

	resolver := s.pipeline.Resolver()
	entity, created, err := resolver.GetOrCreate(ctx, core.Entity{
		Domain:        req.Domain,
		Type:          req.Type,
		CanonicalName: strings.TrimSpace(req.CanonicalName),
		ExternalID:    req.ExternalID,
		Attributes:    req.Attributes,
	})
	if err != nil {
		s.respondStoreError(w, err, "entity")
		return
	}
	for _, alias := range req.Aliases {
		if _, err := resolver.AddAlias(ctx, entity.ID, alias, 1, core.AliasManual); err != nil {
			s.respondStoreError(w, err, "alias")
			return
		}
	}

	resp, err := s.entityResponse(r, entity)
	if err != nil {
		s.respondStoreError(w, err, "aliases")
		return
	}
	resp.Created = created
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.respondJSON(w, status, resp)
}

// handleGetEntity handles GET /api/entities/{id}
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	entity, err := s.db.Entities().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, err, "entity")
		return
	}
	resp, err := s.entityResponse(r, entity)
	if err != nil {
		s.respondStoreError(w, err, "aliases")
		return
	}
	state, err := s.pipeline.Aggregation().CurrentState(r.Context(), entity.ID)
	if err != nil {
		s.respondStoreError(w, err, "entity state")
		return
	}
	resp.State = state
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) entityResponse(r *http.Request, entity *core.Entity) (*EntityResponse, error) {
	aliases, err := s.db.Aliases().ListByEntity(r.Context(), entity.ID)
	if err != nil {
		return nil, err
	}
	if aliases == nil {
		aliases = []core.Alias{}
	}
	return &EntityResponse{Entity: *entity, Aliases: aliases}, nil
}

// handleAddAlias handles POST /api/entities/{id}/aliases
func (s *Server) handleAddAlias(w http.ResponseWriter, r *http.Request) {
	var req AddAliasRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.respondError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.Confidence == 0 {
		req.Confidence = 1
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		s.respondError(w, http.StatusBadRequest, "confidence must be between 0 and 1")
		return
	}

	id := chi.URLParam(r, "id")
	written, err := s.pipeline.Resolver().AddAlias(r.Context(), id, req.Text, req.Confidence, core.AliasManual)
	if err != nil {
		s.respondStoreError(w, err, "entity")
		return
	}
	status := http.StatusOK
	if written {
		status = http.StatusCreated
	}
	s.respondJSON(w, status, map[string]interface{}{
		"entity_id": id,
		"text":      req.Text,
		"created":   written,
	})
}

// handleResolve handles GET /api/resolve
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mention := strings.TrimSpace(q.Get("mention"))
	if mention == "" {
		s.respondError(w, http.StatusBadRequest, "mention is required")
		return
	}
	hint := entities.Hint{Domain: q.Get("domain"), Type: core.EntityType(q.Get("type"))}
	if hint.Domain == "" {
		hint.Domain = s.pipeline.Domain()
	}

	res, err := s.pipeline.Resolver().Resolve(r.Context(), mention, hint)
	if errors.Is(err, core.ErrUnresolvedEntity) {
		s.respondError(w, http.StatusNotFound, "no entity matches "+mention)
		return
	}
	if err != nil {
		s.respondStoreError(w, err, "entity")
		return
	}
	s.respondJSON(w, http.StatusOK, ResolveResponse{
		Mention: mention,
		Entity:  res.Entity,
		Matched: res.Matched,
		Score:   res.Score,
		Method:  res.Method,
	})
}

// handleEntityProfiles handles GET /api/entities/{id}/profiles
func (s *Server) handleEntityProfiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, err := s.db.Entities().Get(ctx, id); err != nil {
		s.respondStoreError(w, err, "entity")
		return
	}
	profiles, err := s.db.Profiles().ListByEntity(ctx, id)
	if err != nil {
		s.respondStoreError(w, err, "profiles")
		return
	}
	if profiles == nil {
		profiles = []core.RollingProfile{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entity_id": id,
		"profiles":  profiles,
	})
}
