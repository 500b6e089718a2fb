package backend

import (
	"context"

	"github.com/callbridge/callbridge/internal/pushtoken"
	"github.com/callbridge/callbridge/internal/resilience"
)

// Registrar registers wake-tokens through the client with retries and a
// circuit breaker.
type Registrar struct {
	client   Client
	executor *resilience.Executor
}

var _ pushtoken.Registrar = (*Registrar)(nil)

// NewRegistrar creates a Registrar.
func NewRegistrar(client Client, executor *resilience.Executor) *Registrar {
	return &Registrar{client: client, executor: executor}
}

// RegisterToken registers token with the backend.
func (r *Registrar) RegisterToken(ctx context.Context, token []byte) error {
	return r.executor.Do(ctx, func(ctx context.Context) error {
		return r.client.RegisterToken(ctx, token)
	})
}

// UnregisterToken removes token from the backend.
func (r *Registrar) UnregisterToken(ctx context.Context, token []byte) error {
	return r.executor.Do(ctx, func(ctx context.Context) error {
		return r.client.UnregisterToken(ctx, token)
	})
}
