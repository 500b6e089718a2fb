// Package callsession reconciles wake pushes, backend call handles, native
// call UI actions and audio session events into a single call lifecycle.
//
// The Coordinator is the only owner of the current Session. Every entry point
// enqueues an event and returns immediately; one goroutine applies events in
// the order they were enqueued and issues commands back to the native UI and
// the backend handle.
package callsession

import (
	"time"

	"github.com/google/uuid"
)

// State is a Session's position in the call lifecycle.
type State string

const (
	StateIdle           State = "idle"
	StatePushPending    State = "push_pending"
	StateReported       State = "reported"
	StateAnswerDeferred State = "answer_deferred"
	StateActive         State = "active"
	StateEnding         State = "ending"
	StateFailed         State = "failed"
)

// ActionKind is the kind of native UI action.
type ActionKind string

const (
	ActionAnswer ActionKind = "answer"
	ActionEnd    ActionKind = "end"
)

// Action is a native UI action awaiting completion or failure. ID is the
// native side's token for the action; SessionID is the id the call was
// reported under.
type Action struct {
	ID        string     `json:"id"`
	SessionID uuid.UUID  `json:"session_id"`
	Kind      ActionKind `json:"kind"`
}

// EndReason says why the backend considers a call over.
type EndReason string

const (
	ReasonRemoteHangup      EndReason = "remote_hangup"
	ReasonCanceled          EndReason = "canceled"
	ReasonFailed            EndReason = "failed"
	ReasonTimeout           EndReason = "timeout"
	ReasonRejected          EndReason = "rejected"
	ReasonCompleted         EndReason = "completed"
	ReasonLocalHangup       EndReason = "local_hangup"
	ReasonAudioDeactivated  EndReason = "audio_deactivated"
	ReasonProviderReset     EndReason = "provider_reset"
	ReasonReportFailed      EndReason = "report_failed"
	ReasonCoordinatorClosed EndReason = "shutdown"
)

// ParseEndReason maps a backend terminal status onto an EndReason. Unknown
// statuses are treated as a remote hang-up.
func ParseEndReason(s string) EndReason {
	switch EndReason(s) {
	case ReasonCanceled, ReasonFailed, ReasonTimeout, ReasonRejected, ReasonCompleted, ReasonRemoteHangup:
		return EndReason(s)
	default:
		return ReasonRemoteHangup
	}
}

// Outcome is how a session ended, as recorded in call history.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeMissed    Outcome = "missed"
	OutcomeFailed    Outcome = "failed"
	OutcomeReset     Outcome = "reset"
)

// DefaultCallerName is shown when a push or handle carries no caller name.
const DefaultCallerName = "Unknown caller"

// Session is a read-only copy of the tracked call.
type Session struct {
	ID            uuid.UUID  `json:"id"`
	CallID        string     `json:"call_id,omitempty"`
	State         State      `json:"state"`
	CallerName    string     `json:"caller_name,omitempty"`
	HasHandle     bool       `json:"has_handle"`
	AudioActive   bool       `json:"audio_active"`
	PendingAction ActionKind `json:"pending_action,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Summary describes a finished session.
type Summary struct {
	SessionID  uuid.UUID
	CallID     string
	CallerName string
	Outcome    Outcome
	Reason     EndReason
	StartedAt  time.Time
	AnsweredAt *time.Time
	EndedAt    time.Time
}

// Duration returns the connected duration, zero if the call was never answered.
func (s Summary) Duration() time.Duration {
	if s.AnsweredAt == nil {
		return 0
	}
	return s.EndedAt.Sub(*s.AnsweredAt)
}
