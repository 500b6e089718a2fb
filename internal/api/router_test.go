package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callbridge/callbridge/internal/api"
	"github.com/callbridge/callbridge/internal/api/handler"
	"github.com/callbridge/callbridge/internal/api/models"
	"github.com/callbridge/callbridge/internal/auth"
	"github.com/callbridge/callbridge/internal/callhistory"
	"github.com/callbridge/callbridge/internal/callsession"
	"github.com/callbridge/callbridge/internal/pushtoken"
	"github.com/callbridge/callbridge/internal/resilience"
	"github.com/callbridge/callbridge/internal/status"
)

const testSigningKey = "test-secret-key-for-testing-only"

type fakeSessions struct {
	session callsession.Session
}

func (f *fakeSessions) Snapshot() callsession.Session { return f.session }

type fakeConnection struct{}

func (fakeConnection) ConnectionState() status.ConnectionState { return status.ConnectionConnected }

type fakeBridge struct {
	served int
}

func (b *fakeBridge) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	b.served++
	w.WriteHeader(http.StatusOK)
}

func (b *fakeBridge) Connected() bool { return true }

// fakeTokens couples an observer with an in-memory tracker store.
type fakeTokens struct {
	mu          sync.Mutex
	record      *pushtoken.Record
	pending     bool
	invalidated int
}

func (f *fakeTokens) ObserveToken(_ context.Context, token []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record = &pushtoken.Record{Token: token, Acknowledged: !f.pending, UpdatedAt: time.Now()}
	return f.pending, nil
}

func (f *fakeTokens) InvalidateToken(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record = nil
	f.invalidated++
	return nil
}

func (f *fakeTokens) Current(context.Context) (*pushtoken.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record, nil
}

type testEnv struct {
	router   http.Handler
	tokens   *auth.TokenService
	sessions *fakeSessions
	bridge   *fakeBridge
	push     *fakeTokens
	history  *callhistory.Service
}

func newTestEnv(t *testing.T, mutate func(cfg *api.RouterConfig)) *testEnv {
	t.Helper()

	tokens, err := auth.NewTokenService(auth.DefaultTokenConfig(testSigningKey))
	require.NoError(t, err)

	env := &testEnv{
		tokens:   tokens,
		sessions: &fakeSessions{session: callsession.Session{State: callsession.StateIdle}},
		bridge:   &fakeBridge{},
		push:     &fakeTokens{},
		history:  callhistory.NewService(callhistory.NewInMemoryRepository(), zerolog.Nop()),
	}

	cfg := api.RouterConfig{
		Version:    "test",
		BuildTime:  "2026-01-01T00:00:00Z",
		Logger:     zerolog.New(io.Discard),
		Tokens:     tokens,
		Sessions:   env.sessions,
		Connection: fakeConnection{},
		Bridge:     env.bridge,
		PushTokens: env.push,
		TokenStore: env.push,
		History:    env.history,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	env.router = api.NewRouter(cfg)
	return env
}

func (e *testEnv) token(t *testing.T, role auth.Role) string {
	t.Helper()
	token, _, err := e.tokens.Issue("test-"+string(role), role, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, role auth.Role) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, role))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthCheck(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/v1/ops/health", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_ReadinessCheck(t *testing.T) {
	env := newTestEnv(t, func(cfg *api.RouterConfig) {
		cfg.Checks = map[string]handler.CheckFunc{
			"bridge": func(context.Context) error { return nil },
		}
	})

	w := env.do(t, http.MethodGet, "/v1/ops/ready", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	var ready models.Readiness
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ready))
	assert.Equal(t, models.HealthStatusOK, ready.Status)
	require.Len(t, ready.Checks, 1)
	assert.Equal(t, "bridge", ready.Checks[0].Name)
}

func TestRouter_ReadinessCheckFailing(t *testing.T) {
	env := newTestEnv(t, func(cfg *api.RouterConfig) {
		cfg.Checks = map[string]handler.CheckFunc{
			"database": func(context.Context) error { return errors.New("refused") },
			"bridge":   func(context.Context) error { return nil },
		}
	})

	w := env.do(t, http.MethodGet, "/v1/ops/ready", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var ready models.Readiness
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ready))
	assert.Equal(t, models.HealthStatusFail, ready.Status)
	require.Len(t, ready.Checks, 2)
	assert.Equal(t, "bridge", ready.Checks[0].Name)
	assert.Equal(t, "database", ready.Checks[1].Name)
	require.NotNil(t, ready.Checks[1].Detail)
	assert.Equal(t, "refused", *ready.Checks[1].Detail)
}

func TestRouter_ReadinessReportsCommands(t *testing.T) {
	registry := resilience.NewRegistry()
	cfg := resilience.DefaultExecutorConfig("backend.session")
	cfg.Registry = registry
	resilience.NewExecutor(cfg)

	env := newTestEnv(t, func(rc *api.RouterConfig) { rc.Commands = registry })

	w := env.do(t, http.MethodGet, "/v1/ops/ready", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	var ready models.Readiness
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ready))
	require.Len(t, ready.Commands, 1)
	assert.Equal(t, "backend.session", ready.Commands[0].Name)
	assert.Equal(t, models.HealthStatusOK, ready.Commands[0].Status)
}

func TestRouter_ProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/v1/call", "/v1/push-token", "/v1/calls/history", "/v1/bridge"} {
		t.Run(path, func(t *testing.T) {
			w := env.do(t, http.MethodGet, path, nil, "")
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		})
	}
}

func TestRouter_ShellTokenCannotReadCall(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/v1/call", nil, auth.RoleShell)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRouter_BridgeAcceptsShellToken(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/v1/bridge", nil, auth.RoleShell)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.bridge.served)
}

func TestRouter_BridgeQueryTokenOnlyForUpgrade(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.token(t, auth.RoleShell)

	req := httptest.NewRequest(http.MethodGet, "/v1/bridge?access_token="+token, http.NoBody)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/bridge?access_token="+token, http.NoBody)
	req.Header.Set("Upgrade", "websocket")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_GetCallIdle(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/v1/call", nil, auth.RoleOperator)
	require.Equal(t, http.StatusOK, w.Code)

	var snap models.CallSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "idle", snap.State)
	assert.Nil(t, snap.SessionID)
	assert.Equal(t, "connected", snap.Connection)
	assert.True(t, snap.BridgeOnline)
}

func TestRouter_GetCallActive(t *testing.T) {
	env := newTestEnv(t, nil)
	id := uuid.New()
	env.sessions.session = callsession.Session{
		ID:            id,
		CallID:        "call-1",
		State:         callsession.StateAnswerDeferred,
		CallerName:    "Jane",
		PendingAction: callsession.ActionAnswer,
		CreatedAt:     time.Now(),
	}

	w := env.do(t, http.MethodGet, "/v1/call", nil, auth.RoleOperator)
	require.Equal(t, http.StatusOK, w.Code)

	var snap models.CallSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "answer_deferred", snap.State)
	require.NotNil(t, snap.SessionID)
	assert.Equal(t, id.String(), *snap.SessionID)
	require.NotNil(t, snap.CallID)
	assert.Equal(t, "call-1", *snap.CallID)
	require.NotNil(t, snap.PendingAction)
	assert.Equal(t, "answer", *snap.PendingAction)
}

func TestRouter_PushTokenLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/v1/push-token", nil, auth.RoleOperator)
	assert.Equal(t, http.StatusNotFound, w.Code)

	env.push.pending = true
	w = env.do(t, http.MethodPut, "/v1/push-token", []byte(`{"token":"3q2+7w=="}`), auth.RoleOperator)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp models.PushTokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Pending)
	assert.Equal(t, "beef", resp.TokenLast4)

	env.push.pending = false
	w = env.do(t, http.MethodPut, "/v1/push-token", []byte(`{"token":"3q2+7w=="}`), auth.RoleOperator)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Acknowledged)

	w = env.do(t, http.MethodDelete, "/v1/push-token", nil, auth.RoleOperator)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, env.push.invalidated)
}

func TestRouter_PushTokenValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"missing token", `{}`},
		{"not base64", `{"token":"%%%"}`},
		{"unknown field", `{"token":"3q2+7w==","platform":"ios"}`},
		{"malformed", `{"token":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPut, "/v1/push-token", []byte(tt.body), auth.RoleOperator)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestRouter_PushTokenRequiresJSON(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPut, "/v1/push-token", bytes.NewReader([]byte("token=abc")))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+env.token(t, auth.RoleOperator))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestRouter_CallHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id := uuid.New()
		ids = append(ids, id)
		answered := base.Add(time.Duration(i)*time.Hour + 5*time.Second)
		require.NoError(t, env.history.RecordCall(ctx, callsession.Summary{
			SessionID:  id,
			CallID:     "call",
			CallerName: "Jane",
			Outcome:    callsession.OutcomeCompleted,
			Reason:     callsession.ReasonLocalHangup,
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			AnsweredAt: &answered,
			EndedAt:    answered.Add(time.Minute),
		}))
	}

	w := env.do(t, http.MethodGet, "/v1/calls/history?limit=2", nil, auth.RoleOperator)
	require.Equal(t, http.StatusOK, w.Code)

	var page models.CallHistoryPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	assert.Equal(t, ids[2].String(), page.Items[0].SessionID)
	assert.Equal(t, 60, page.Items[0].DurationSeconds)
	require.NotNil(t, page.Meta.NextCursor)

	w = env.do(t, http.MethodGet, "/v1/calls/history/"+ids[0].String(), nil, auth.RoleOperator)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/v1/calls/history/"+uuid.NewString(), nil, auth.RoleOperator)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_CallHistoryBadQuery(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, query := range []string{"?limit=0", "?limit=abc", "?cursor=yesterday"} {
		t.Run(query, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/v1/calls/history"+query, nil, auth.RoleOperator)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestRouter_WithoutTokensOnlyOps(t *testing.T) {
	env := newTestEnv(t, func(cfg *api.RouterConfig) { cfg.Tokens = nil })

	w := env.do(t, http.MethodGet, "/v1/ops/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/v1/call", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_RequestID_Generated(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/v1/ops/health", nil, "")

	requestID := w.Header().Get("X-Request-Id")
	assert.NotEmpty(t, requestID)
	assert.Contains(t, requestID, "req_")
}

func TestRouter_RequestID_Preserved(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	req.Header.Set("X-Request-Id", "custom_request_id")
	w := httptest.NewRecorder()

	env.router.ServeHTTP(w, req)

	assert.Equal(t, "custom_request_id", w.Header().Get("X-Request-Id"))
}

func TestRouter_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/v1/nonexistent", nil, "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}
