package callsession

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

// Config holds configuration for the Coordinator.
type Config struct {
	// Native is the system call UI. Required.
	Native NativeUI

	// Forwarder hands wake payloads to the backend client. Optional.
	Forwarder PushForwarder

	// Status receives advisory text for failed commands. Optional.
	Status Advisor

	// Recorder stores finished sessions. Optional.
	Recorder Recorder

	// Metrics records coordinator counters. Optional.
	Metrics *Metrics

	// Parser extracts invites from push payloads.
	// Default: DefaultPayloadParser()
	Parser PayloadParser

	Logger zerolog.Logger

	// RequireAudioActivation defers answering until the audio session is
	// active as well as the backend handle present.
	RequireAudioActivation bool

	// EndTimeout bounds the wait for the native UI to acknowledge an end
	// request before the session returns to idle anyway.
	// Default: 5 seconds
	EndTimeout time.Duration

	// CommandTimeout bounds every native UI and backend command.
	// Default: 10 seconds
	CommandTimeout time.Duration

	// TombstoneTTL is how long a call declined before its backend handle
	// arrived stays rejected.
	// Default: 2 minutes
	TombstoneTTL time.Duration

	// TombstoneSize caps the number of remembered declined calls.
	// Default: 64
	TombstoneSize int
}

// DefaultConfig returns a Config with default timeouts. Native must still be set.
func DefaultConfig() Config {
	return Config{
		Parser:         DefaultPayloadParser(),
		Logger:         zerolog.Nop(),
		EndTimeout:     5 * time.Second,
		CommandTimeout: 10 * time.Second,
		TombstoneTTL:   2 * time.Minute,
		TombstoneSize:  64,
	}
}

type eventKind int

const (
	evPush eventKind = iota
	evIncomingCall
	evCallEnded
	evAnswerRequested
	evEndRequested
	evAudioActivated
	evAudioDeactivated
	evProviderReset
	evAnsweredInApp
	evReportResult
	evEndAck
	evEndTimeout
)

var eventNames = [...]string{
	evPush:             "push",
	evIncomingCall:     "incoming_call",
	evCallEnded:        "call_ended",
	evAnswerRequested:  "answer_requested",
	evEndRequested:     "end_requested",
	evAudioActivated:   "audio_activated",
	evAudioDeactivated: "audio_deactivated",
	evProviderReset:    "provider_reset",
	evAnsweredInApp:    "answered_in_app",
	evReportResult:     "report_result",
	evEndAck:           "end_ack",
	evEndTimeout:       "end_timeout",
}

func (k eventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

type event struct {
	kind       eventKind
	payload    []byte
	completion *Completion
	handle     CallHandle
	reason     EndReason
	action     Action
	sessionID  uuid.UUID
	err        error
}

// session is the tracked call. Only the run goroutine touches it.
type session struct {
	id          uuid.UUID
	callID      string
	state       State
	callerName  string
	handle      CallHandle
	audioActive bool
	pending     *Action
	push        *Completion
	reason      EndReason
	createdAt   time.Time
	answeredAt  *time.Time
	endTimer    *time.Timer

	// wantBackendAnswer is set once the call is answered locally;
	// backendAnswered once Answer was issued on the handle.
	wantBackendAnswer bool
	backendAnswered   bool
	// backendTerminal is set when the backend reported the call over or a
	// reject or hang-up was already issued.
	backendTerminal bool
	// nativeRetired is set when the call was answered outside the system
	// call UI and its native entry was retired.
	nativeRetired bool

	// reportAcked is set once the native UI acknowledged the report. Until
	// then native end and retire commands are held in endQueued and
	// retireQueued so they never overtake the report.
	reportAcked  bool
	endQueued    bool
	retireQueued bool
}

// Coordinator owns the current call session.
type Coordinator struct {
	native         NativeUI
	forwarder      PushForwarder
	status         Advisor
	recorder       Recorder
	metrics        *Metrics
	parser         PayloadParser
	logger         zerolog.Logger
	requireAudio   bool
	endTimeout     time.Duration
	commandTimeout time.Duration
	now            func() time.Time

	mb        *mailbox
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	inflight  sync.WaitGroup

	snapshot atomic.Pointer[Session]

	session    *session
	tombstones *expirable.LRU[string, struct{}]
}

// New creates a Coordinator and starts its event loop.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Native == nil {
		return nil, errors.New("callsession: native UI is required")
	}

	defaults := DefaultConfig()
	if cfg.Parser.MarkerKey == "" {
		cfg.Parser = defaults.Parser
	}
	if cfg.EndTimeout <= 0 {
		cfg.EndTimeout = defaults.EndTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaults.CommandTimeout
	}
	if cfg.TombstoneTTL <= 0 {
		cfg.TombstoneTTL = defaults.TombstoneTTL
	}
	if cfg.TombstoneSize <= 0 {
		cfg.TombstoneSize = defaults.TombstoneSize
	}

	c := &Coordinator{
		native:         cfg.Native,
		forwarder:      cfg.Forwarder,
		status:         cfg.Status,
		recorder:       cfg.Recorder,
		metrics:        cfg.Metrics,
		parser:         cfg.Parser,
		logger:         cfg.Logger,
		requireAudio:   cfg.RequireAudioActivation,
		endTimeout:     cfg.EndTimeout,
		commandTimeout: cfg.CommandTimeout,
		now:            time.Now,
		mb:             newMailbox(),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		tombstones:     expirable.NewLRU[string, struct{}](cfg.TombstoneSize, nil, cfg.TombstoneTTL),
	}
	go c.run()
	return c, nil
}

// HandlePush accepts a wake push. completion is invoked exactly once on
// every path.
func (c *Coordinator) HandlePush(payload []byte, completion *Completion) {
	c.post(event{kind: evPush, payload: payload, completion: completion})
}

// HandleIncomingCall accepts a live call handle from the backend client.
func (c *Coordinator) HandleIncomingCall(handle CallHandle) {
	c.post(event{kind: evIncomingCall, handle: handle})
}

// HandleCallEnded accepts a terminal status for a backend call.
func (c *Coordinator) HandleCallEnded(handle CallHandle, reason EndReason) {
	c.post(event{kind: evCallEnded, handle: handle, reason: reason})
}

// HandleAnswerRequested accepts an answer action from the native UI.
func (c *Coordinator) HandleAnswerRequested(action Action) {
	action.Kind = ActionAnswer
	c.post(event{kind: evAnswerRequested, action: action})
}

// HandleEndRequested accepts an end action from the native UI.
func (c *Coordinator) HandleEndRequested(action Action) {
	action.Kind = ActionEnd
	c.post(event{kind: evEndRequested, action: action})
}

// HandleAction routes action by its kind.
func (c *Coordinator) HandleAction(action Action) {
	switch action.Kind {
	case ActionAnswer:
		c.HandleAnswerRequested(action)
	case ActionEnd:
		c.HandleEndRequested(action)
	default:
		c.logger.Warn().Str("kind", string(action.Kind)).Msg("ignoring native action of unknown kind")
	}
}

// HandleAudioActivated signals that the device audio session became active.
func (c *Coordinator) HandleAudioActivated() {
	c.post(event{kind: evAudioActivated})
}

// HandleAudioDeactivated signals that the device audio session was deactivated.
func (c *Coordinator) HandleAudioDeactivated() {
	c.post(event{kind: evAudioDeactivated})
}

// HandleProviderReset signals that the native UI invalidated all its calls.
func (c *Coordinator) HandleProviderReset() {
	c.post(event{kind: evProviderReset})
}

// HandleAnsweredInApp signals that the call was answered outside the system
// call UI. The native entry is retired; the call continues.
func (c *Coordinator) HandleAnsweredInApp() {
	c.post(event{kind: evAnsweredInApp})
}

// Snapshot returns a copy of the tracked session. With no session the
// returned value has State StateIdle.
func (c *Coordinator) Snapshot() Session {
	if s := c.snapshot.Load(); s != nil {
		return *s
	}
	return Session{State: StateIdle}
}

// Close stops the event loop. Queued pushes are completed, queued answer
// actions failed and end actions completed; the tracked session is torn
// down. Close waits for in-flight commands.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
	<-c.done
	c.inflight.Wait()
}

func (c *Coordinator) post(ev event) {
	if !c.mb.post(ev) {
		c.abandon(ev)
	}
}

func (c *Coordinator) run() {
	defer close(c.done)
	for {
		select {
		case <-c.mb.notify:
			for _, ev := range c.mb.drain() {
				c.dispatch(ev)
			}
		case <-c.stop:
			for _, ev := range c.mb.close() {
				c.abandon(ev)
			}
			c.shutdownSession()
			c.publishSnapshot()
			return
		}
	}
}

func (c *Coordinator) dispatch(ev event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Interface("panic", r).
				Str("event", ev.kind.String()).
				Msg("call session event handler panicked")
			c.completePush(ev.completion, PushFailed)
		}
		c.publishSnapshot()
	}()

	switch ev.kind {
	case evPush:
		c.handlePush(ev)
	case evIncomingCall:
		c.handleIncomingCall(ev)
	case evCallEnded:
		c.handleCallEnded(ev)
	case evAnswerRequested:
		c.handleAnswerRequested(ev)
	case evEndRequested:
		c.handleEndRequested(ev)
	case evAudioActivated:
		c.handleAudioActivated()
	case evAudioDeactivated:
		c.handleAudioDeactivated()
	case evProviderReset:
		c.handleProviderReset()
	case evAnsweredInApp:
		c.handleAnsweredInApp()
	case evReportResult:
		c.handleReportResult(ev)
	case evEndAck:
		c.handleEndAck(ev)
	case evEndTimeout:
		c.handleEndTimeout(ev)
	}
}

// abandon resolves an event that will never be dispatched.
func (c *Coordinator) abandon(ev event) {
	switch ev.kind {
	case evPush:
		c.completePush(ev.completion, PushShutdown)
	case evIncomingCall:
		handle := ev.handle
		timeout := c.commandTimeout
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			_ = handle.Reject(ctx) //nolint:errcheck // best effort after shutdown
		}()
	case evAnswerRequested:
		c.native.FailAnswerAction(ev.action)
	case evEndRequested:
		c.native.CompleteEndAction(ev.action)
	}
}

func (c *Coordinator) publishSnapshot() {
	s := c.session
	if s == nil {
		c.snapshot.Store(nil)
		return
	}
	snap := &Session{
		ID:          s.id,
		CallID:      s.callID,
		State:       s.state,
		CallerName:  s.callerName,
		HasHandle:   s.handle != nil,
		AudioActive: s.audioActive,
		CreatedAt:   s.createdAt,
	}
	if s.pending != nil {
		snap.PendingAction = s.pending.Kind
	}
	c.snapshot.Store(snap)
}

// command runs fn off the coordinator goroutine, bounded by CommandTimeout.
func (c *Coordinator) command(fn func(ctx context.Context)) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.commandTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// backendCommand issues op against handle. Failures are advisory only.
func (c *Coordinator) backendCommand(sessionID uuid.UUID, op string, fn func(ctx context.Context) error) {
	c.command(func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			c.commandFailed(TargetBackend, op, err, sessionID)
		}
	})
}

func (c *Coordinator) commandFailed(target, op string, err error, sessionID uuid.UUID) {
	cmdErr := &CommandError{Target: target, Op: op, Err: err}
	c.logger.Warn().
		Err(cmdErr).
		Str("session_id", sessionID.String()).
		Msg("call command failed")
	c.metrics.commandFailed(target, op)
	if c.status != nil {
		c.status.Advise(cmdErr.Error())
	}
}

func (c *Coordinator) completePush(completion *Completion, result PushResult) {
	if completion.Complete(result) {
		c.metrics.pushCompleted(result)
	}
}
