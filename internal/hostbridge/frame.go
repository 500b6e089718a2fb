// Package hostbridge connects the call core to the native shell over a
// websocket. The shell owns the system call UI and the vendor calling SDK;
// the bridge exposes them as callsession.NativeUI, backend.Client and
// callsession.CallHandle, and turns their callbacks into coordinator and
// backend manager events.
package hostbridge

import "encoding/json"

// Frame types sent by the shell.
const (
	FramePush                 = "push"
	FramePushToken            = "push_token"
	FramePushTokenInvalidated = "push_token_invalidated"
	FrameConnectionStatus     = "connection_status"
	FrameClientError          = "client_error"
	FrameIncomingCall         = "incoming_call"
	FrameCallEnded            = "call_ended"
	FrameAnswerAction         = "answer_action"
	FrameEndAction            = "end_action"
	FrameAudioActivated       = "audio_activated"
	FrameAudioDeactivated     = "audio_deactivated"
	FrameProviderReset        = "provider_reset"
	FrameAnsweredInApp        = "answered_in_app"
	FrameResult               = "result"
)

// Frame types sent to the shell.
const (
	FrameReportIncomingCall = "report_incoming_call"
	FrameRequestEndCall     = "request_end_call"
	FrameCompleteAction     = "complete_action"
	FrameFailAction         = "fail_action"
	FrameRetireCall         = "retire_call"
	FrameCallAnswer         = "call_answer"
	FrameCallReject         = "call_reject"
	FrameCallHangUp         = "call_hangup"
	FrameLogin              = "login"
	FrameProcessPush        = "process_push"
	FrameRegisterToken      = "register_token"
	FrameUnregisterToken    = "unregister_token"
	FramePushComplete       = "push_complete"
	FrameStatus             = "status"
)

// Frame is one JSON message on the bridge. Requests carry an ID that the
// matching result frame echoes.
type Frame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Caller    string          `json:"caller,omitempty"`
	ActionID  string          `json:"action_id,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	State     string          `json:"state,omitempty"`
	Token     []byte          `json:"token,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Result    string          `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Text      string          `json:"text,omitempty"`
}
