package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/callbridge/callbridge/internal/api/models"
	"github.com/callbridge/callbridge/internal/api/response"
	"github.com/callbridge/callbridge/internal/callhistory"
)

// HistorySource lists finished calls.
type HistorySource interface {
	List(ctx context.Context, opts callhistory.ListOptions) (*callhistory.ListResult, error)
	Get(ctx context.Context, id string) (*callhistory.Entry, error)
}

// HistoryHandler serves call history.
type HistoryHandler struct {
	history HistorySource
	logger  zerolog.Logger
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(history HistorySource, logger zerolog.Logger) *HistoryHandler {
	return &HistoryHandler{
		history: history,
		logger:  logger,
	}
}

// ListCalls handles GET /v1/calls/history?limit=&cursor=.
func (h *HistoryHandler) ListCalls(w http.ResponseWriter, r *http.Request) {
	opts := callhistory.ListOptions{Cursor: r.URL.Query().Get("cursor")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			response.BadRequest(w, r, "invalid query", []models.FieldError{
				{Field: "limit", Message: "must be a positive integer", Code: "OUT_OF_RANGE"},
			})
			return
		}
		opts.Limit = limit
	}

	result, err := h.history.List(r.Context(), opts)
	if err != nil {
		if errors.Is(err, callhistory.ErrInvalidCursor) {
			response.BadRequest(w, r, "invalid query", []models.FieldError{
				{Field: "cursor", Message: "unrecognized cursor", Code: "INVALID"},
			})
			return
		}
		h.logger.Error().Err(err).Msg("failed to list call history")
		response.InternalError(w, r, "failed to list call history")
		return
	}

	page := models.CallHistoryPage{
		Items: make([]models.CallHistoryEntry, 0, len(result.Items)),
		Meta:  models.PagedResponseMeta{Limit: len(result.Items)},
	}
	if opts.Limit > 0 {
		page.Meta.Limit = opts.Limit
	}
	for _, e := range result.Items {
		page.Items = append(page.Items, historyEntry(e))
	}
	if result.NextCursor != "" {
		next := result.NextCursor
		page.Meta.NextCursor = &next
	}
	response.JSON(w, r, http.StatusOK, page)
}

// GetCall handles GET /v1/calls/history/{sessionId}.
func (h *HistoryHandler) GetCall(w http.ResponseWriter, r *http.Request) {
	entry, err := h.history.Get(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		if errors.Is(err, callhistory.ErrEntryNotFound) {
			response.NotFound(w, r, "call not found")
			return
		}
		h.logger.Error().Err(err).Msg("failed to read call history")
		response.InternalError(w, r, "failed to read call history")
		return
	}
	response.JSON(w, r, http.StatusOK, historyEntry(entry))
}

func historyEntry(e *callhistory.Entry) models.CallHistoryEntry {
	return models.CallHistoryEntry{
		SessionID:       e.ID.String(),
		CallID:          e.CallID,
		CallerName:      e.CallerName,
		Outcome:         string(e.Outcome),
		Reason:          string(e.Reason),
		StartedAt:       models.Timestamp(e.StartedAt),
		AnsweredAt:      models.TimestampPtr(e.AnsweredAt),
		EndedAt:         models.Timestamp(e.EndedAt),
		DurationSeconds: e.DurationSeconds,
	}
}
