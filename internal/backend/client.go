// Package backend manages the calling backend client's connection: login,
// wake-token registration, push forwarding and call delegate routing.
package backend

import (
	"context"

	"github.com/callbridge/callbridge/internal/callsession"
)

// Credentials authenticate the backend client.
type Credentials struct {
	// Token is the JWT issued by the calling backend for this device user.
	Token string
}

// Client is the calling backend SDK.
type Client interface {
	Login(ctx context.Context, creds Credentials) error
	IsConnected() bool
	// ProcessIncomingPushPayload hands a wake payload to the SDK. It may
	// return the call handle directly; a nil handle means the SDK delivers
	// it later through the incoming-call delegate.
	ProcessIncomingPushPayload(ctx context.Context, payload []byte) (callsession.CallHandle, error)
	RegisterToken(ctx context.Context, token []byte) error
	UnregisterToken(ctx context.Context, token []byte) error
}

// CallRouter receives backend call delegate events. The coordinator is the
// only consumer.
type CallRouter interface {
	HandleIncomingCall(handle callsession.CallHandle)
	HandleCallEnded(handle callsession.CallHandle, reason callsession.EndReason)
}
