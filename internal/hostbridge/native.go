package hostbridge

import (
	"context"

	"github.com/google/uuid"

	"github.com/callbridge/callbridge/internal/callsession"
)

// ReportIncomingCall asks the shell to show an incoming call.
func (b *Bridge) ReportIncomingCall(ctx context.Context, id uuid.UUID, callerName string) error {
	_, err := b.request(ctx, Frame{Type: FrameReportIncomingCall, SessionID: id.String(), Caller: callerName})
	return err
}

// RequestEndCall asks the shell to end the call in the system UI.
func (b *Bridge) RequestEndCall(ctx context.Context, id uuid.UUID) error {
	_, err := b.request(ctx, Frame{Type: FrameRequestEndCall, SessionID: id.String()})
	return err
}

func (b *Bridge) CompleteAnswerAction(action callsession.Action) {
	b.notify(actionFrame(FrameCompleteAction, action))
}

func (b *Bridge) FailAnswerAction(action callsession.Action) {
	b.notify(actionFrame(FrameFailAction, action))
}

func (b *Bridge) CompleteEndAction(action callsession.Action) {
	b.notify(actionFrame(FrameCompleteAction, action))
}

func (b *Bridge) FailEndAction(action callsession.Action) {
	b.notify(actionFrame(FrameFailAction, action))
}

// RetireCall removes the call from the system UI without ending it.
func (b *Bridge) RetireCall(id uuid.UUID) {
	b.notify(Frame{Type: FrameRetireCall, SessionID: id.String()})
}

func actionFrame(frameType string, action callsession.Action) Frame {
	return Frame{
		Type:      frameType,
		ActionID:  action.ID,
		SessionID: action.SessionID.String(),
		Kind:      string(action.Kind),
	}
}
