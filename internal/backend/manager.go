package backend

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/callbridge/callbridge/internal/callsession"
	"github.com/callbridge/callbridge/internal/pushtoken"
	"github.com/callbridge/callbridge/internal/resilience"
	"github.com/callbridge/callbridge/internal/status"
)

// ErrNoClient is returned when the manager has no backend client yet.
var ErrNoClient = errors.New("backend client not available")

// StatusSink receives connection labels and advisory text.
type StatusSink interface {
	PublishConnection(state status.ConnectionState)
	Advise(text string)
}

// ManagerConfig holds configuration for the Manager.
type ManagerConfig struct {
	Client      Client
	Tracker     *pushtoken.Tracker
	Status      StatusSink
	Credentials Credentials

	// Executor wraps login and push processing. If nil, a default executor
	// named "backend.session" is used.
	Executor *resilience.Executor

	// CommandTimeout bounds background work started by delegate callbacks.
	// Default: 15 seconds
	CommandTimeout time.Duration

	Logger zerolog.Logger
}

// Manager owns the backend client's connection lifecycle. It logs in when a
// push arrives while disconnected and replays that push once connected.
type Manager struct {
	client         Client
	tracker        *pushtoken.Tracker
	status         StatusSink
	creds          Credentials
	executor       *resilience.Executor
	commandTimeout time.Duration
	logger         zerolog.Logger

	mu      sync.Mutex
	router  CallRouter
	stashed []byte
	state   status.ConnectionState

	wg sync.WaitGroup
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Executor == nil {
		cfg.Executor = resilience.NewExecutor(resilience.DefaultExecutorConfig("backend.session"))
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 15 * time.Second
	}
	return &Manager{
		client:         cfg.Client,
		tracker:        cfg.Tracker,
		status:         cfg.Status,
		creds:          cfg.Credentials,
		executor:       cfg.Executor,
		commandTimeout: cfg.CommandTimeout,
		logger:         cfg.Logger,
		state:          status.ConnectionUnknown,
	}
}

// Attach sets the consumer of incoming-call and call-ended events.
func (m *Manager) Attach(router CallRouter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.router = router
}

// ConnectionState returns the last reported connection state.
func (m *Manager) ConnectionState() status.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Login logs the client in unless it is already connected.
func (m *Manager) Login(ctx context.Context) error {
	if m.client == nil {
		return ErrNoClient
	}
	if m.client.IsConnected() {
		return nil
	}
	err := m.executor.Do(ctx, func(ctx context.Context) error {
		return m.client.Login(ctx, m.creds)
	})
	if err != nil {
		m.logger.Warn().Err(err).Msg("backend login failed")
		m.advise("Login failed: " + err.Error())
		return err
	}
	return nil
}

// ForwardPush hands payload to the backend client without blocking.
func (m *Manager) ForwardPush(payload []byte) {
	m.background(func(ctx context.Context) {
		m.processPush(ctx, payload)
	})
}

func (m *Manager) processPush(ctx context.Context, payload []byte) {
	if m.client == nil || !m.client.IsConnected() {
		if m.stash(payload) {
			m.logger.Info().Msg("backend not connected, holding push until login completes")
			if m.client != nil {
				_ = m.Login(ctx) //nolint:errcheck // logged and advised in Login
			}
			return
		}
		m.logger.Debug().Msg("backend connected while holding push, processing now")
	}

	var handle callsession.CallHandle
	err := m.executor.Do(ctx, func(ctx context.Context) error {
		var err error
		handle, err = m.client.ProcessIncomingPushPayload(ctx, payload)
		return err
	})
	if err != nil {
		m.logger.Warn().Err(err).Msg("backend rejected push payload")
		m.advise("Push processing failed: " + err.Error())
		return
	}
	if handle != nil {
		m.OnIncomingCall(handle)
	}
}

// stash holds payload for the next connected transition. It returns false
// without stashing when that transition has already flushed, so the caller
// must process payload itself.
func (m *Manager) stash(payload []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.state == status.ConnectionConnected {
		return false
	}
	m.stashed = payload
	return true
}

// OnConnectionStatus handles a connection state change from the client.
func (m *Manager) OnConnectionStatus(state status.ConnectionState) {
	m.mu.Lock()
	m.state = state
	var stashed []byte
	if state == status.ConnectionConnected {
		stashed = m.stashed
		m.stashed = nil
	}
	m.mu.Unlock()

	m.logger.Info().Str("state", string(state)).Msg("backend connection status")
	if m.status != nil {
		m.status.PublishConnection(state)
	}
	if state != status.ConnectionConnected {
		return
	}

	if m.tracker != nil {
		m.tracker.ConnectionEstablished()
	}
	m.background(func(ctx context.Context) {
		m.registerPendingToken(ctx)
		if stashed != nil {
			m.processPush(ctx, stashed)
		}
	})
}

// OnError forwards a client error as advisory status.
func (m *Manager) OnError(err error) {
	if err == nil {
		return
	}
	m.logger.Warn().Err(err).Msg("backend client error")
	m.advise(err.Error())
}

// OnIncomingCall routes a call handle to the attached router.
func (m *Manager) OnIncomingCall(handle callsession.CallHandle) {
	if r := m.currentRouter(); r != nil {
		r.HandleIncomingCall(handle)
		return
	}
	m.logger.Warn().Str("call_id", handle.CallID()).Msg("incoming call with no router attached")
}

// OnCallEnded routes a call termination to the attached router.
func (m *Manager) OnCallEnded(handle callsession.CallHandle, reason callsession.EndReason) {
	if r := m.currentRouter(); r != nil {
		r.HandleCallEnded(handle, reason)
	}
}

// ObserveToken records a token issued by the OS and registers it right away
// when connected.
func (m *Manager) ObserveToken(ctx context.Context, token []byte) (bool, error) {
	pending, err := m.tracker.ObserveToken(ctx, token)
	if err != nil {
		return false, err
	}
	if !pending || m.client == nil || !m.client.IsConnected() {
		return pending, nil
	}
	registered, err := m.tracker.RegisterIfNeeded(ctx)
	if err != nil {
		m.advise("Push token registration failed: " + err.Error())
		return true, nil
	}
	return !registered, nil
}

// InvalidateToken clears the stored token, deregistering it best effort.
func (m *Manager) InvalidateToken(ctx context.Context) error {
	return m.tracker.Invalidate(ctx)
}

// Wait blocks until background work started by the manager finishes.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) registerPendingToken(ctx context.Context) {
	if m.tracker == nil {
		return
	}
	if _, err := m.tracker.RegisterIfNeeded(ctx); err != nil {
		m.advise("Push token registration failed: " + err.Error())
	}
}

func (m *Manager) currentRouter() CallRouter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.router
}

func (m *Manager) background(fn func(ctx context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.commandTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (m *Manager) advise(text string) {
	if m.status != nil {
		m.status.Advise(text)
	}
}
