package hostbridge

import (
	"context"

	"github.com/callbridge/callbridge/internal/backend"
	"github.com/callbridge/callbridge/internal/callsession"
	"github.com/callbridge/callbridge/internal/resilience"
)

// Login logs the shell's calling SDK in.
func (b *Bridge) Login(ctx context.Context, creds backend.Credentials) error {
	_, err := b.request(ctx, Frame{Type: FrameLogin, Token: []byte(creds.Token)})
	return err
}

// IsConnected reports the SDK connection state last reported by the shell.
func (b *Bridge) IsConnected() bool {
	return b.backendConnected.Load()
}

// ProcessIncomingPushPayload hands payload to the SDK. When the shell answers
// with a call id the handle is returned right away.
func (b *Bridge) ProcessIncomingPushPayload(ctx context.Context, payload []byte) (callsession.CallHandle, error) {
	reply, err := b.request(ctx, Frame{Type: FrameProcessPush, Payload: payload})
	if err != nil {
		return nil, err
	}
	if reply.CallID == "" {
		return nil, nil
	}
	return b.handleFor(reply.CallID, reply.Caller), nil
}

func (b *Bridge) RegisterToken(ctx context.Context, token []byte) error {
	_, err := b.request(ctx, Frame{Type: FrameRegisterToken, Token: token})
	return err
}

func (b *Bridge) UnregisterToken(ctx context.Context, token []byte) error {
	_, err := b.request(ctx, Frame{Type: FrameUnregisterToken, Token: token})
	return err
}

// callHandle is a backend call owned by the shell's SDK.
type callHandle struct {
	bridge *Bridge
	callID string
	caller string
}

func (h *callHandle) CallID() string     { return h.callID }
func (h *callHandle) CallerName() string { return h.caller }

func (h *callHandle) Answer(ctx context.Context) error {
	return h.command(ctx, FrameCallAnswer)
}

func (h *callHandle) Reject(ctx context.Context) error {
	return h.command(ctx, FrameCallReject)
}

func (h *callHandle) HangUp(ctx context.Context) error {
	return h.command(ctx, FrameCallHangUp)
}

func (h *callHandle) command(ctx context.Context, frameType string) error {
	send := func(ctx context.Context) error {
		_, err := h.bridge.request(ctx, Frame{Type: frameType, CallID: h.callID})
		return err
	}
	if h.bridge.callExec == nil {
		return send(ctx)
	}
	return h.bridge.callExec.Do(ctx, func(ctx context.Context) error {
		// A timed-out answer or hangup may already have reached the shell,
		// so call commands are sent at most once.
		if err := send(ctx); err != nil {
			return resilience.Permanent(err)
		}
		return nil
	})
}
