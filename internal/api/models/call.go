package models

import (
	"encoding/base64"
	"errors"
)

// CallSnapshot is the observable state of the call session.
type CallSnapshot struct {
	State         string     `json:"state"`
	SessionID     *string    `json:"sessionId,omitempty"`
	CallID        *string    `json:"callId,omitempty"`
	CallerName    *string    `json:"callerName,omitempty"`
	HasHandle     bool       `json:"hasHandle"`
	AudioActive   bool       `json:"audioActive"`
	PendingAction *string    `json:"pendingAction,omitempty"`
	CreatedAt     *Timestamp `json:"createdAt,omitempty"`
	Connection    string     `json:"connection"`
	BridgeOnline  bool       `json:"bridgeOnline"`
}

// PushTokenRequest carries a wake-token issued by the OS, base64 encoded.
type PushTokenRequest struct {
	Token string `json:"token"`
}

// Decode returns the raw token bytes.
func (r PushTokenRequest) Decode() ([]byte, error) {
	if r.Token == "" {
		return nil, errors.New("token is required")
	}
	raw, err := base64.StdEncoding.DecodeString(r.Token)
	if err != nil {
		return nil, errors.New("token must be base64 encoded")
	}
	if len(raw) == 0 {
		return nil, errors.New("token is required")
	}
	return raw, nil
}

// PushTokenResponse reports the stored token state.
type PushTokenResponse struct {
	TokenLast4   string    `json:"tokenLast4"`
	Pending      bool      `json:"pending"`
	Acknowledged bool      `json:"acknowledged"`
	UpdatedAt    Timestamp `json:"updatedAt"`
}

// CallHistoryEntry is one finished call.
type CallHistoryEntry struct {
	SessionID       string     `json:"sessionId"`
	CallID          string     `json:"callId,omitempty"`
	CallerName      string     `json:"callerName"`
	Outcome         string     `json:"outcome"`
	Reason          string     `json:"reason"`
	StartedAt       Timestamp  `json:"startedAt"`
	AnsweredAt      *Timestamp `json:"answeredAt,omitempty"`
	EndedAt         Timestamp  `json:"endedAt"`
	DurationSeconds int        `json:"durationSeconds"`
}

// CallHistoryPage is one page of call history, newest first.
type CallHistoryPage struct {
	Items []CallHistoryEntry `json:"items"`
	Meta  PagedResponseMeta  `json:"meta"`
}
