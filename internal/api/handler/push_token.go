package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/callbridge/callbridge/internal/api/models"
	"github.com/callbridge/callbridge/internal/api/response"
	"github.com/callbridge/callbridge/internal/pushtoken"
)

// TokenObserver records wake-tokens and drives their registration.
type TokenObserver interface {
	ObserveToken(ctx context.Context, token []byte) (bool, error)
	InvalidateToken(ctx context.Context) error
}

// TokenReader reads the stored wake-token record.
type TokenReader interface {
	Current(ctx context.Context) (*pushtoken.Record, error)
}

// PushTokenHandler handles wake-token endpoints.
type PushTokenHandler struct {
	observer TokenObserver
	reader   TokenReader
	logger   zerolog.Logger
}

// NewPushTokenHandler creates a new PushTokenHandler.
func NewPushTokenHandler(observer TokenObserver, reader TokenReader, logger zerolog.Logger) *PushTokenHandler {
	return &PushTokenHandler{
		observer: observer,
		reader:   reader,
		logger:   logger,
	}
}

// GetToken handles GET /v1/push-token.
func (h *PushTokenHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	record, err := h.reader.Current(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read push token")
		response.InternalError(w, r, "failed to read push token")
		return
	}
	if record == nil {
		response.NotFound(w, r, "no push token stored")
		return
	}
	response.JSON(w, r, http.StatusOK, tokenResponse(record))
}

// PutToken handles PUT /v1/push-token. It answers 200 once the backend has
// acknowledged the token and 202 while registration is pending.
func (h *PushTokenHandler) PutToken(w http.ResponseWriter, r *http.Request) {
	var req models.PushTokenRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}

	token, err := req.Decode()
	if err != nil {
		response.BadRequest(w, r, "invalid push token", []models.FieldError{
			{Field: "token", Message: err.Error(), Code: "INVALID"},
		})
		return
	}

	pending, err := h.observer.ObserveToken(r.Context(), token)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to observe push token")
		response.InternalError(w, r, "failed to store push token")
		return
	}
	h.logger.Info().
		Str("subject", GetSubject(r.Context())).
		Bool("pending", pending).
		Msg("push token observed")

	record, err := h.reader.Current(r.Context())
	if err != nil || record == nil {
		// The token was stored; report what the observer said.
		resp := models.PushTokenResponse{Pending: pending, UpdatedAt: models.Timestamp(time.Now())}
		response.Accepted(w, r, resp)
		return
	}

	resp := tokenResponse(record)
	resp.Pending = pending
	if pending {
		response.Accepted(w, r, resp)
		return
	}
	response.JSON(w, r, http.StatusOK, resp)
}

// DeleteToken handles DELETE /v1/push-token.
func (h *PushTokenHandler) DeleteToken(w http.ResponseWriter, r *http.Request) {
	if err := h.observer.InvalidateToken(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("failed to invalidate push token")
		response.InternalError(w, r, "failed to invalidate push token")
		return
	}
	h.logger.Info().Str("subject", GetSubject(r.Context())).Msg("push token invalidated by operator")
	response.NoContent(w, r)
}

func tokenResponse(record *pushtoken.Record) models.PushTokenResponse {
	return models.PushTokenResponse{
		TokenLast4:   record.TokenLast4(),
		Pending:      !record.Acknowledged,
		Acknowledged: record.Acknowledged,
		UpdatedAt:    models.Timestamp(record.UpdatedAt),
	}
}
