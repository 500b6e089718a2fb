package hostbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/callbridge/callbridge/internal/backend"
	"github.com/callbridge/callbridge/internal/callsession"
	"github.com/callbridge/callbridge/internal/resilience"
	"github.com/callbridge/callbridge/internal/status"
)

// ErrNotConnected is returned when no shell is connected.
var ErrNotConnected = errors.New("native shell not connected")

// RemoteError is an error reported by the shell in a result frame.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// CallEvents is the coordinator side of the bridge.
type CallEvents interface {
	HandlePush(payload []byte, completion *callsession.Completion)
	HandleAction(action callsession.Action)
	HandleAudioActivated()
	HandleAudioDeactivated()
	HandleProviderReset()
	HandleAnsweredInApp()
}

// BackendEvents is the backend manager side of the bridge.
type BackendEvents interface {
	OnConnectionStatus(state status.ConnectionState)
	OnError(err error)
	OnIncomingCall(handle callsession.CallHandle)
	OnCallEnded(handle callsession.CallHandle, reason callsession.EndReason)
	ObserveToken(ctx context.Context, token []byte) (bool, error)
	InvalidateToken(ctx context.Context) error
}

// Config holds configuration for the Bridge.
type Config struct {
	Logger zerolog.Logger

	// TokenTimeout bounds push-token work triggered by the shell.
	// Default: 15 seconds
	TokenTimeout time.Duration

	// CheckOrigin validates the upgrade request origin. If nil, all origins
	// are accepted; the bridge is expected behind bearer auth.
	CheckOrigin func(r *http.Request) bool

	// CallExecutor wraps answer, reject and hangup on backend call handles.
	// If nil, commands are sent once.
	CallExecutor *resilience.Executor
}

// Bridge serves one shell connection at a time. A new connection replaces
// the previous one.
type Bridge struct {
	logger       zerolog.Logger
	tokenTimeout time.Duration
	upgrader     websocket.Upgrader
	callExec     *resilience.Executor

	mu      sync.Mutex
	current *conn
	pending map[string]chan Frame
	handles map[string]*callHandle
	calls   CallEvents
	backend BackendEvents

	backendConnected atomic.Bool
}

var (
	_ callsession.NativeUI = (*Bridge)(nil)
	_ backend.Client       = (*Bridge)(nil)
)

// New creates a Bridge.
func New(cfg Config) *Bridge {
	if cfg.TokenTimeout <= 0 {
		cfg.TokenTimeout = 15 * time.Second
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Bridge{
		logger:       cfg.Logger,
		tokenTimeout: cfg.TokenTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		callExec: cfg.CallExecutor,
		pending:  make(map[string]chan Frame),
		handles:  make(map[string]*callHandle),
	}
}

// Attach sets the consumers of shell events.
func (b *Bridge) Attach(calls CallEvents, backend BackendEvents) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = calls
	b.backend = backend
}

// Connected reports whether a shell is connected.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current != nil
}

// ServeHTTP upgrades the request and serves the shell until it disconnects.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Msg("bridge upgrade failed")
		return
	}
	b.Serve(ws)
}

// Serve runs the pumps for ws and blocks until the connection ends.
func (b *Bridge) Serve(ws *websocket.Conn) {
	c := newConn(ws, b.logger)

	b.mu.Lock()
	previous := b.current
	b.current = c
	b.mu.Unlock()

	if previous != nil {
		b.logger.Info().Str("conn_id", previous.id).Msg("replacing shell connection")
		previous.close()
	}
	c.logger.Info().Msg("shell connected")

	go c.writePump()
	c.readPump(func(data []byte) { b.handleFrame(c, data) })

	b.disconnected(c)
}

func (b *Bridge) disconnected(c *conn) {
	b.mu.Lock()
	if b.current != c {
		b.mu.Unlock()
		return
	}
	b.current = nil
	pending := b.pending
	b.pending = make(map[string]chan Frame)
	events := b.backend
	b.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	c.logger.Info().Int("pending", len(pending)).Msg("shell disconnected")

	// Without the shell the backend client is unreachable.
	if b.backendConnected.Swap(false) && events != nil {
		events.OnConnectionStatus(status.ConnectionDisconnected)
	}
}

// Close drops the current shell connection.
func (b *Bridge) Close() {
	b.mu.Lock()
	c := b.current
	b.mu.Unlock()
	if c != nil {
		c.close()
	}
}

func (b *Bridge) handleFrame(c *conn, data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Warn().Err(err).Msg("malformed bridge frame")
		return
	}

	if f.Type == FrameResult {
		b.resolve(f)
		return
	}

	b.mu.Lock()
	calls, events := b.calls, b.backend
	b.mu.Unlock()
	if calls == nil || events == nil {
		c.logger.Warn().Str("type", f.Type).Msg("bridge frame before attach")
		return
	}

	switch f.Type {
	case FramePush:
		id := f.ID
		calls.HandlePush(f.Payload, callsession.NewCompletion(func(r callsession.PushResult) {
			b.notify(Frame{Type: FramePushComplete, ID: id, Result: string(r)})
		}))
	case FramePushToken:
		b.tokenWork(f, func(ctx context.Context) (string, error) {
			pending, err := events.ObserveToken(ctx, f.Token)
			if pending {
				return "pending", err
			}
			return "registered", err
		})
	case FramePushTokenInvalidated:
		b.tokenWork(f, func(ctx context.Context) (string, error) {
			return "cleared", events.InvalidateToken(ctx)
		})
	case FrameConnectionStatus:
		state := status.ParseConnectionState(f.State)
		b.backendConnected.Store(state == status.ConnectionConnected)
		events.OnConnectionStatus(state)
	case FrameClientError:
		events.OnError(errors.New(f.Error))
	case FrameIncomingCall:
		events.OnIncomingCall(b.handleFor(f.CallID, f.Caller))
	case FrameCallEnded:
		handle := b.handleFor(f.CallID, f.Caller)
		b.dropHandle(f.CallID)
		events.OnCallEnded(handle, callsession.ParseEndReason(f.Reason))
	case FrameAnswerAction, FrameEndAction:
		sessionID, err := uuid.Parse(f.SessionID)
		if err != nil {
			c.logger.Warn().Err(err).Str("type", f.Type).Msg("action frame with bad session id")
			return
		}
		kind := callsession.ActionAnswer
		if f.Type == FrameEndAction {
			kind = callsession.ActionEnd
		}
		calls.HandleAction(callsession.Action{ID: f.ActionID, SessionID: sessionID, Kind: kind})
	case FrameAudioActivated:
		calls.HandleAudioActivated()
	case FrameAudioDeactivated:
		calls.HandleAudioDeactivated()
	case FrameProviderReset:
		calls.HandleProviderReset()
	case FrameAnsweredInApp:
		calls.HandleAnsweredInApp()
	default:
		c.logger.Warn().Str("type", f.Type).Msg("unknown bridge frame type")
	}
}

// tokenWork runs fn off the read pump and answers the shell with its result.
func (b *Bridge) tokenWork(f Frame, fn func(ctx context.Context) (string, error)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.tokenTimeout)
		defer cancel()
		result, err := fn(ctx)
		reply := Frame{Type: FrameResult, ID: f.ID, Result: result}
		if err != nil {
			b.logger.Warn().Err(err).Str("type", f.Type).Msg("push token update failed")
			reply.Error = err.Error()
		}
		if f.ID != "" {
			b.notify(reply)
		}
	}()
}

// request sends f and waits for the matching result frame.
func (b *Bridge) request(ctx context.Context, f Frame) (Frame, error) {
	f.ID = uuid.NewString()
	data, err := json.Marshal(f)
	if err != nil {
		return Frame{}, err
	}

	ch := make(chan Frame, 1)
	b.mu.Lock()
	c := b.current
	if c == nil {
		b.mu.Unlock()
		return Frame{}, ErrNotConnected
	}
	b.pending[f.ID] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, f.ID)
		b.mu.Unlock()
	}()

	if err := c.enqueue(data); err != nil {
		return Frame{}, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return Frame{}, ErrNotConnected
		}
		if reply.Error != "" {
			return reply, &RemoteError{Op: f.Type, Message: reply.Error}
		}
		return reply, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (b *Bridge) resolve(f Frame) {
	b.mu.Lock()
	ch, ok := b.pending[f.ID]
	if ok {
		delete(b.pending, f.ID)
	}
	b.mu.Unlock()

	if !ok {
		b.logger.Debug().Str("id", f.ID).Msg("result for unknown request")
		return
	}
	ch <- f
}

// notify sends f without waiting for a reply. Frames are dropped when no
// shell is connected.
func (b *Bridge) notify(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		b.logger.Error().Err(err).Str("type", f.Type).Msg("marshal bridge frame failed")
		return
	}

	b.mu.Lock()
	c := b.current
	b.mu.Unlock()
	if c == nil {
		b.logger.Warn().Str("type", f.Type).Msg("no shell connected, dropping frame")
		return
	}
	if err := c.enqueue(data); err != nil {
		c.logger.Warn().Err(err).Str("type", f.Type).Msg("dropping bridge frame")
	}
}

// ForwardStatus sends every status signal from ch to the shell until ch is
// closed or ctx is done.
func (b *Bridge) ForwardStatus(ctx context.Context, ch <-chan status.Status) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-ch:
			if !ok {
				return
			}
			b.notify(Frame{Type: FrameStatus, Kind: string(s.Kind), Text: s.Text})
		}
	}
}

func (b *Bridge) handleFor(callID, caller string) *callHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.handles[callID]; ok {
		return h
	}
	h := &callHandle{bridge: b, callID: callID, caller: caller}
	b.handles[callID] = h
	return h
}

func (b *Bridge) dropHandle(callID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handles, callID)
}
