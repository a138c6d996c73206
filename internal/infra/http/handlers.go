package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"tg-insight-collector/internal/domain"
)

// CollectionTriggers ставит задачи сбора.
type CollectionTriggers interface {
	TriggerPosts(ctx context.Context, req domain.DispatchRequest) (domain.Task, error)
	TriggerComments(ctx context.Context, postID int64, rescan bool) (domain.Task, error)
	TriggerBulkComments(ctx context.Context, postIDs []int64, rescan bool) ([]domain.Task, error)
	TriggerStats(ctx context.Context, postID int64) (domain.Task, error)
}

// ChannelRegistry управляет отслеживаемыми каналами.
type ChannelRegistry interface {
	Register(ctx context.Context, identifier string) (domain.Channel, error)
	SetActive(ctx context.Context, id int64, active bool) error
	SetSchedule(ctx context.Context, id int64, spec string) error
}

// AnalysisRequests ставит анализ поста через outbox.
type AnalysisRequests interface {
	RequestAnalysis(ctx context.Context, postID int64) error
}

// Handlers реализует trigger API.
type Handlers struct {
	collection CollectionTriggers
	channels   ChannelRegistry
	analysis   AnalysisRequests
	validate   *validator.Validate
	log        zerolog.Logger
}

// NewHandlers создаёт обработчики API.
func NewHandlers(collection CollectionTriggers, channels ChannelRegistry, analysis AnalysisRequests, log zerolog.Logger) *Handlers {
	return &Handlers{
		collection: collection,
		channels:   channels,
		analysis:   analysis,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		log:        log,
	}
}

// Mount регистрирует маршруты /api/v1.
func (h *Handlers) Mount(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/channels", h.registerChannel)
		r.Patch("/channels/{id}", h.updateChannel)
		r.Post("/channels/{id}/collect", h.collectPosts)
		r.Post("/posts/comments/bulk", h.collectBulkComments)
		r.Post("/posts/{id}/comments", h.collectComments)
		r.Post("/posts/{id}/stats", h.updateStats)
		r.Post("/posts/{id}/analysis", h.requestAnalysis)
	})
}

type registerChannelRequest struct {
	Identifier string `json:"identifier" validate:"required"`
}

type updateChannelRequest struct {
	IsActive           *bool   `json:"is_active"`
	CollectionSchedule *string `json:"collection_schedule"`
}

type collectPostsRequest struct {
	Mode     domain.DispatchMode `json:"mode" validate:"required"`
	DateFrom string              `json:"date_from"`
	DateTo   string              `json:"date_to"`
	Limit    int                 `json:"limit" validate:"gte=0"`
}

type collectCommentsRequest struct {
	Rescan bool `json:"rescan"`
}

type bulkCommentsRequest struct {
	PostIDs []int64 `json:"post_ids" validate:"required,min=1,dive,gt=0"`
	Rescan  bool    `json:"rescan"`
}

type channelResponse struct {
	ID                 int64  `json:"id"`
	ExternalID         int64  `json:"external_id"`
	Name               string `json:"name"`
	Title              string `json:"title"`
	IsActive           bool   `json:"is_active"`
	CollectionSchedule string `json:"collection_schedule"`
}

func (h *Handlers) registerChannel(w http.ResponseWriter, r *http.Request) {
	var req registerChannelRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	ch, err := h.channels.Register(r.Context(), req.Identifier)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, channelResponse{
		ID:                 ch.ID,
		ExternalID:         ch.ExternalID,
		Name:               ch.Name,
		Title:              ch.Title,
		IsActive:           ch.IsActive,
		CollectionSchedule: ch.CollectionSchedule,
	})
}

func (h *Handlers) updateChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateChannelRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	if req.IsActive == nil && req.CollectionSchedule == nil {
		writeError(w, http.StatusBadRequest, "nothing to update", nil)
		return
	}
	if req.CollectionSchedule != nil {
		if err := h.channels.SetSchedule(r.Context(), id, *req.CollectionSchedule); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if req.IsActive != nil {
		if err := h.channels.SetActive(r.Context(), id, *req.IsActive); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) collectPosts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req collectPostsRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	dispatch := domain.DispatchRequest{ChannelID: id, Mode: req.Mode, Limit: req.Limit}
	var err error
	if dispatch.DateFrom, err = parseDate(req.DateFrom); err != nil {
		writeError(w, http.StatusBadRequest, "invalid date_from", nil)
		return
	}
	if dispatch.DateTo, err = parseDate(req.DateTo); err != nil {
		writeError(w, http.StatusBadRequest, "invalid date_to", nil)
		return
	}
	task, err := h.collection.TriggerPosts(r.Context(), dispatch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeAccepted(w, task)
}

func (h *Handlers) collectComments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req collectCommentsRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	task, err := h.collection.TriggerComments(r.Context(), id, req.Rescan)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeAccepted(w, task)
}

func (h *Handlers) collectBulkComments(w http.ResponseWriter, r *http.Request) {
	var req bulkCommentsRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	tasks, err := h.collection.TriggerBulkComments(r.Context(), req.PostIDs, req.Rescan)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"task_ids": ids})
}

func (h *Handlers) updateStats(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	task, err := h.collection.TriggerStats(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeAccepted(w, task)
}

func (h *Handlers) requestAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.analysis.RequestAnalysis(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// decode читает JSON-тело и валидирует его. При optional пустое тело допустимо.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) && optional {
		err = nil
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return false
	}
	return true
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("http: ошибка обработки запроса")
		writeError(w, status, "internal error", nil)
		return
	}
	var extra map[string]any
	var missing *domain.MissingPostsError
	if errors.As(err, &missing) {
		extra = map[string]any{"missing_post_ids": missing.IDs}
	}
	writeError(w, status, err.Error(), extra)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotEligible), errors.Is(err, domain.ErrChannelInactive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id", nil)
		return 0, false
	}
	return id, true
}

// parseDate принимает дату YYYY-MM-DD или RFC3339.
func parseDate(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("дата %q", value)
}

func writeAccepted(w http.ResponseWriter, task domain.Task) {
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": task.ID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, extra map[string]any) {
	body := map[string]any{"error": msg}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}
