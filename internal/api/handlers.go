package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LeeSinLiang/Janus-sub000/internal/models"
	"github.com/LeeSinLiang/Janus-sub000/internal/publish"
	"github.com/LeeSinLiang/Janus-sub000/internal/repository"
	"github.com/LeeSinLiang/Janus-sub000/internal/retry"
	"github.com/LeeSinLiang/Janus-sub000/internal/strategy"
	"github.com/LeeSinLiang/Janus-sub000/internal/tasks"
	"github.com/LeeSinLiang/Janus-sub000/internal/trigger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Uptime  string       `json:"uptime"`
	Tasks   *tasks.Stats `json:"tasks,omitempty"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// CampaignResponse is the response for GET /campaigns/{id}
type CampaignResponse struct {
	Campaign *models.Campaign `json:"campaign"`
	Posts    []models.Post    `json:"posts"`
	Links    []models.Link    `json:"links"`
}

// RegenerateStrategyRequest is the request body for POST /campaigns/{id}/regenerate
type RegenerateStrategyRequest struct {
	Phase     int    `json:"phase"`
	Direction string `json:"direction"`
}

// PostResponse is the response for GET /posts/{id}
type PostResponse struct {
	Post     *models.Post                                `json:"post"`
	Variants []models.ContentVariant                     `json:"variants"`
	Metrics  map[models.VariantLabel]*models.PostMetrics `json:"metrics"`
}

// SelectRequest is the request body for POST /posts/{id}/select
type SelectRequest struct {
	Variant models.VariantLabel `json:"variant"`
}

// TriggerRequest is the request body for PUT /posts/{id}/trigger
type TriggerRequest struct {
	Condition string `json:"condition"`
	Prompt    string `json:"prompt"`
}

// TriggerResponse is the response for PUT /posts/{id}/trigger
type TriggerResponse struct {
	PostID  string          `json:"post_id"`
	Trigger *models.Trigger `json:"trigger"`
}

// PublishErrorResponse is returned when no variant could be published
type PublishErrorResponse struct {
	Error    string                  `json:"error"`
	Variants []publish.VariantResult `json:"variants,omitempty"`
}

// TasksResponse is the response for GET /tasks
type TasksResponse struct {
	Stats *tasks.Stats  `json:"stats"`
	Tasks []*tasks.Task `json:"tasks"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.deps.Tasks != nil {
		stats, err := s.deps.Tasks.Stats(r.Context())
		if err != nil {
			s.logger.Error("failed to get task stats", "error", err)
			resp.Status = "degraded"
		}
		resp.Tasks = stats
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	campaigns, err := s.deps.Store.Campaigns.List(r.Context(), limit, offset)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	if campaigns == nil {
		campaigns = []models.Campaign{}
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"campaigns": campaigns})
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req strategy.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.deps.Strategies.Create(r.Context(), req)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, res)
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	campaign, err := s.deps.Store.Campaigns.GetByID(ctx, id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	posts, err := s.deps.Store.Posts.ListByCampaign(ctx, id, r.URL.Query().Get("archived") == "true")
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	links, err := s.deps.Store.Posts.ListLinks(ctx, id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	if posts == nil {
		posts = []models.Post{}
	}
	if links == nil {
		links = []models.Link{}
	}
	s.sendJSON(w, http.StatusOK, CampaignResponse{Campaign: campaign, Posts: posts, Links: links})
}

// handleRegenerateStrategy handles POST /api/v1/campaigns/{id}/regenerate
func (s *Server) handleRegenerateStrategy(w http.ResponseWriter, r *http.Request) {
	var req RegenerateStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.deps.Strategies.Regenerate(r.Context(), strategy.RegenerateRequest{
		CampaignID: chi.URLParam(r, "id"),
		FromPhase:  req.Phase,
		Direction:  req.Direction,
	})
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, res)
}

// handleGetPost handles GET /api/v1/posts/{id}
func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	post, err := s.deps.Store.Posts.GetByID(ctx, id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	variants, err := s.deps.Store.Variants.ListByPost(ctx, id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	slots, err := s.deps.Store.Metrics.ListByPost(ctx, id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	if variants == nil {
		variants = []models.ContentVariant{}
	}
	s.sendJSON(w, http.StatusOK, PostResponse{Post: post, Variants: variants, Metrics: slots})
}

// handleSelectVariant handles POST /api/v1/posts/{id}/select
func (s *Server) handleSelectVariant(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Variant.Valid() {
		s.sendError(w, http.StatusBadRequest, "variant must be A or B")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.deps.Store.Posts.SelectVariant(r.Context(), id, req.Variant); err != nil {
		s.sendServiceError(w, err)
		return
	}

	post, err := s.deps.Store.Posts.GetByID(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, post)
}

// handlePublish handles POST /api/v1/posts/{id}/publish
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Publisher.Publish(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, publish.ErrPublishFailed) {
		resp := PublishErrorResponse{Error: err.Error()}
		if res != nil {
			resp.Variants = res.Variants
		}
		s.sendJSON(w, http.StatusBadGateway, resp)
		return
	}
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, res)
}

// handleSetTrigger handles PUT /api/v1/posts/{id}/trigger
func (s *Server) handleSetTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	t, err := s.deps.Triggers.Configure(r.Context(), id, req.Condition, req.Prompt)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, TriggerResponse{PostID: id, Trigger: t})
}

// handleClearTrigger handles DELETE /api/v1/posts/{id}/trigger
func (s *Server) handleClearTrigger(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Triggers.Clear(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCheckTriggers handles POST /api/v1/triggers/check
func (s *Server) handleCheckTriggers(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Triggers.Check(r.Context())
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	if res.Fired == nil {
		res.Fired = []trigger.Dispatched{}
	}
	s.sendJSON(w, http.StatusOK, res)
}

// handleRefreshMetrics handles POST /api/v1/metrics/refresh
func (s *Server) handleRefreshMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		s.sendError(w, http.StatusServiceUnavailable, "metrics polling is not configured")
		return
	}
	res, err := s.deps.Metrics.RefreshMetrics(r.Context())
	if err != nil {
		s.logger.Error("metrics refresh failed", "error", err)
		s.sendError(w, http.StatusBadGateway, "metrics refresh failed: "+err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, res)
}

// handleListTasks handles GET /api/v1/tasks
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	filter := tasks.ListFilter{
		Status: tasks.Status(r.URL.Query().Get("status")),
		Kind:   tasks.Kind(r.URL.Query().Get("kind")),
		Limit:  limit,
		Offset: offset,
	}

	stats, err := s.deps.Tasks.Stats(r.Context())
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	list, err := s.deps.Tasks.List(r.Context(), filter)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	if list == nil {
		list = []*tasks.Task{}
	}
	s.sendJSON(w, http.StatusOK, TasksResponse{Stats: stats, Tasks: list})
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, strategy.ErrCampaignNotFound):
		return http.StatusNotFound
	case errors.Is(err, strategy.ErrInvalidPhase),
		errors.Is(err, strategy.ErrNoPriorPosts),
		errors.Is(err, strategy.ErrInvalidRequest),
		errors.Is(err, trigger.ErrInvalidPrompt),
		errors.Is(err, trigger.ErrUnknownMetric),
		errors.Is(err, publish.ErrNoVariants):
		return http.StatusBadRequest
	case errors.Is(err, strategy.ErrStaleContext),
		errors.Is(err, repository.ErrRegenerating),
		errors.Is(err, publish.ErrArchived):
		return http.StatusConflict
	case errors.Is(err, strategy.ErrGenerationFailed),
		errors.Is(err, strategy.ErrInvalidGraph),
		errors.Is(err, publish.ErrPublishFailed):
		return http.StatusBadGateway
	case errors.Is(err, tasks.ErrQueueFull),
		errors.Is(err, retry.ErrAttemptsExhausted):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// sendServiceError reports err with the matching status. Internal errors
// are logged and hidden from the client.
func (s *Server) sendServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		s.sendError(w, status, "internal error")
		return
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	s.sendError(w, status, err.Error())
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultListLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxListLimit)
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
