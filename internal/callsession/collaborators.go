package callsession

import (
	"context"

	"github.com/google/uuid"
)

// NativeUI is the system call UI.
//
// ReportIncomingCall and RequestEndCall may block and are always called off
// the coordinator goroutine. The action and retire methods are called inline
// and must not block.
type NativeUI interface {
	ReportIncomingCall(ctx context.Context, id uuid.UUID, callerName string) error
	RequestEndCall(ctx context.Context, id uuid.UUID) error
	CompleteAnswerAction(action Action)
	FailAnswerAction(action Action)
	CompleteEndAction(action Action)
	FailEndAction(action Action)
	RetireCall(id uuid.UUID)
}

// CallHandle is a live backend call object. Commands may block and are
// always called off the coordinator goroutine.
type CallHandle interface {
	CallID() string
	CallerName() string
	Answer(ctx context.Context) error
	Reject(ctx context.Context) error
	HangUp(ctx context.Context) error
}

// PushForwarder hands a wake payload to the backend client so it can produce
// the call handle. ForwardPush must not block.
type PushForwarder interface {
	ForwardPush(payload []byte)
}

// Advisor receives advisory status text for failures that do not change the
// call state.
type Advisor interface {
	Advise(text string)
}

// Recorder stores finished sessions.
type Recorder interface {
	RecordCall(ctx context.Context, summary Summary) error
}
