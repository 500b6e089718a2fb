package handler

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/callbridge/callbridge/internal/api/models"
	"github.com/callbridge/callbridge/internal/api/response"
	"github.com/callbridge/callbridge/internal/callsession"
	"github.com/callbridge/callbridge/internal/status"
)

// SessionSource exposes the current call session.
type SessionSource interface {
	Snapshot() callsession.Session
}

// ConnectionSource exposes the backend connection state.
type ConnectionSource interface {
	ConnectionState() status.ConnectionState
}

// BridgeSource reports whether a host shell is attached.
type BridgeSource interface {
	Connected() bool
}

// CallHandler serves the call session snapshot.
type CallHandler struct {
	sessions   SessionSource
	connection ConnectionSource
	bridge     BridgeSource
}

// NewCallHandler creates a new CallHandler.
func NewCallHandler(sessions SessionSource, connection ConnectionSource, bridge BridgeSource) *CallHandler {
	return &CallHandler{
		sessions:   sessions,
		connection: connection,
		bridge:     bridge,
	}
}

// GetCall handles GET /v1/call.
func (h *CallHandler) GetCall(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.snapshot())
}

func (h *CallHandler) snapshot() models.CallSnapshot {
	s := h.sessions.Snapshot()

	out := models.CallSnapshot{
		State:        string(s.State),
		HasHandle:    s.HasHandle,
		AudioActive:  s.AudioActive,
		Connection:   string(status.ConnectionUnknown),
		BridgeOnline: h.bridge != nil && h.bridge.Connected(),
	}
	if h.connection != nil {
		out.Connection = string(h.connection.ConnectionState())
	}

	if s.ID == uuid.Nil {
		return out
	}

	id := s.ID.String()
	out.SessionID = &id
	if s.CallID != "" {
		callID := s.CallID
		out.CallID = &callID
	}
	caller := s.CallerName
	out.CallerName = &caller
	if s.PendingAction != "" {
		pending := string(s.PendingAction)
		out.PendingAction = &pending
	}
	out.CreatedAt = models.TimestampPtr(&s.CreatedAt)
	return out
}
