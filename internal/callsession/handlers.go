package callsession

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func (c *Coordinator) sessionLog(level zerolog.Level, s *session) *zerolog.Event {
	e := c.logger.WithLevel(level)
	if s != nil {
		e = e.Str("session_id", s.id.String()).
			Str("call_id", s.callID).
			Str("state", string(s.state))
	}
	return e
}

func (c *Coordinator) handlePush(ev event) {
	invite, err := c.parser.Parse(ev.payload)
	if errors.Is(err, ErrUnrecognizedPayload) {
		c.logger.Info().Err(err).Msg("push is not a call invite")
		c.completePush(ev.completion, PushUnrecognized)
		return
	}

	if s := c.session; s != nil {
		if err == nil && invite.CallID == s.callID {
			c.sessionLog(zerolog.DebugLevel, s).Msg("duplicate push for tracked call")
			c.completePush(ev.completion, PushDuplicate)
			return
		}
		c.sessionLog(zerolog.WarnLevel, s).
			Err(ErrCallAlreadyActive).
			Str("push_call_id", invite.CallID).
			Msg("rejecting push while another call is tracked")
		c.completePush(ev.completion, PushRejected)
		return
	}

	if err != nil {
		c.reportPlaceholder(ev.completion)
		return
	}

	if c.tombstones.Contains(invite.CallID) {
		c.logger.Info().Str("call_id", invite.CallID).Msg("push for a call that was already declined")
		c.completePush(ev.completion, PushRejected)
		return
	}

	c.startSession(invite.CallID, invite.CallerName, ev.completion, nil)
	if c.forwarder != nil {
		c.forwarder.ForwardPush(ev.payload)
	}
}

// reportPlaceholder reports and immediately ends a call for a push that
// carried no usable invite, so the OS still sees a call for the push.
func (c *Coordinator) reportPlaceholder(completion *Completion) {
	id := uuid.New()
	c.logger.Warn().
		Err(ErrInvalidInvite).
		Str("session_id", id.String()).
		Msg("reporting placeholder call for invalid invite")

	c.command(func(ctx context.Context) {
		if err := c.native.ReportIncomingCall(ctx, id, DefaultCallerName); err != nil {
			c.commandFailed(TargetNative, "report_call", err, id)
			c.completePush(completion, PushFailed)
			return
		}
		c.completePush(completion, PushInvalid)
		if err := c.native.RequestEndCall(ctx, id); err != nil {
			c.commandFailed(TargetNative, "end_call", err, id)
		}
	})
}

func (c *Coordinator) startSession(callID, callerName string, push *Completion, handle CallHandle) {
	s := &session{
		id:         uuid.New(),
		callID:     callID,
		state:      StatePushPending,
		callerName: callerName,
		handle:     handle,
		push:       push,
		createdAt:  c.now(),
	}
	c.session = s
	c.metrics.sessionStarted()
	c.sessionLog(zerolog.InfoLevel, s).
		Str("caller", callerName).
		Bool("has_handle", handle != nil).
		Msg("call session started")

	id := s.id
	c.command(func(ctx context.Context) {
		err := c.native.ReportIncomingCall(ctx, id, callerName)
		c.post(event{kind: evReportResult, sessionID: id, err: err})
	})
}

func (c *Coordinator) handleReportResult(ev event) {
	s := c.session
	if s == nil || s.id != ev.sessionID {
		c.logger.Debug().Str("session_id", ev.sessionID.String()).Msg("report result for a finished session")
		return
	}

	if ev.err != nil {
		c.commandFailed(TargetNative, "report_call", ev.err, s.id)
		switch {
		case s.endQueued:
			// The call never reached the native UI; there is nothing to end there.
			c.finish(c.outcomeFor(s), PushFailed)
		case s.state != StatePushPending:
			c.completePush(s.push, PushFailed)
		default:
			s.state = StateFailed
			s.reason = ReasonReportFailed
			c.rejectBackend(s)
			c.finish(OutcomeFailed, PushFailed)
		}
		return
	}

	s.reportAcked = true
	if s.state == StatePushPending {
		s.state = StateReported
	}
	c.completePush(s.push, PushReported)
	c.sessionLog(zerolog.InfoLevel, s).Msg("call reported to native UI")

	if s.retireQueued {
		s.retireQueued = false
		c.native.RetireCall(s.id)
	}
	if s.endQueued {
		s.endQueued = false
		if s.nativeRetired {
			c.finish(c.outcomeFor(s), PushReported)
		} else {
			c.requestNativeEnd(s)
		}
		return
	}
	c.checkAnswerReady()
}

func (c *Coordinator) handleIncomingCall(ev event) {
	handle := ev.handle
	callID := handle.CallID()

	if c.tombstones.Contains(callID) {
		c.logger.Info().Str("call_id", callID).Msg("rejecting backend call that was already declined")
		c.backendCommand(uuid.Nil, "reject", handle.Reject)
		return
	}

	s := c.session
	if s == nil {
		caller := handle.CallerName()
		if strings.TrimSpace(caller) == "" {
			caller = DefaultCallerName
		}
		c.startSession(callID, caller, nil, handle)
		return
	}

	if s.callID != callID {
		c.sessionLog(zerolog.WarnLevel, s).
			Err(ErrCallAlreadyActive).
			Str("incoming_call_id", callID).
			Msg("rejecting backend call while another call is tracked")
		c.backendCommand(s.id, "reject", handle.Reject)
		return
	}

	if s.handle != nil {
		c.sessionLog(zerolog.DebugLevel, s).Msg("duplicate backend call delivery")
		return
	}

	s.handle = handle
	if s.callerName == DefaultCallerName {
		if name := strings.TrimSpace(handle.CallerName()); name != "" {
			s.callerName = name
		}
	}
	c.sessionLog(zerolog.InfoLevel, s).Msg("backend call attached")

	if s.state == StateEnding {
		c.hangUp(s)
		return
	}
	c.checkAnswerReady()
}

func (c *Coordinator) handleCallEnded(ev event) {
	s := c.session
	callID := ev.handle.CallID()
	if s == nil || s.callID != callID {
		c.logger.Debug().
			Str("call_id", callID).
			Str("reason", string(ev.reason)).
			Msg("ignoring end of untracked call")
		return
	}

	s.backendTerminal = true
	if s.reason == "" {
		s.reason = ev.reason
	}
	c.failPending(s)
	c.sessionLog(zerolog.InfoLevel, s).Str("reason", string(ev.reason)).Msg("backend ended call")

	if s.state == StateEnding {
		return
	}
	c.beginEnding(s, ev.reason)
}

func (c *Coordinator) handleAnswerRequested(ev event) {
	action := ev.action
	s := c.session
	if s == nil || s.id != action.SessionID {
		c.logger.Warn().
			Err(ErrNoSession).
			Str("session_id", action.SessionID.String()).
			Msg("failing answer action")
		c.native.FailAnswerAction(action)
		return
	}

	switch s.state {
	case StatePushPending, StateReported, StateAnswerDeferred:
	default:
		c.sessionLog(zerolog.WarnLevel, s).Msg("answer action for a call that is no longer ringing")
		c.native.FailAnswerAction(action)
		return
	}

	if s.pending != nil {
		c.sessionLog(zerolog.WarnLevel, s).Msg("answer action while another action is pending")
		c.native.FailAnswerAction(action)
		return
	}

	s.pending = &action
	if !c.answerReady(s) {
		s.state = StateAnswerDeferred
		c.sessionLog(zerolog.InfoLevel, s).
			Bool("has_handle", s.handle != nil).
			Bool("audio_active", s.audioActive).
			Msg("answer deferred")
	}
	c.checkAnswerReady()
}

func (c *Coordinator) answerReady(s *session) bool {
	if s.handle == nil {
		return false
	}
	return !c.requireAudio || s.audioActive
}

// checkAnswerReady completes a pending answer once every precondition holds
// and issues the backend answer once. It is safe to call from any handler.
func (c *Coordinator) checkAnswerReady() {
	s := c.session
	if s == nil {
		return
	}

	if s.pending != nil && s.pending.Kind == ActionAnswer && c.answerReady(s) {
		action := *s.pending
		s.pending = nil
		now := c.now()
		s.answeredAt = &now
		s.wantBackendAnswer = true
		s.state = StateActive
		c.native.CompleteAnswerAction(action)
		c.sessionLog(zerolog.InfoLevel, s).Msg("call answered")
	}

	if s.wantBackendAnswer && !s.backendAnswered && !s.backendTerminal && s.handle != nil {
		s.backendAnswered = true
		c.backendCommand(s.id, "answer", s.handle.Answer)
	}
}

func (c *Coordinator) handleEndRequested(ev event) {
	action := ev.action
	s := c.session
	if s == nil || s.id != action.SessionID {
		c.logger.Debug().
			Str("session_id", action.SessionID.String()).
			Msg("end action for untracked call")
		c.native.CompleteEndAction(action)
		return
	}

	if s.nativeRetired {
		c.sessionLog(zerolog.DebugLevel, s).Msg("end action for retired native call")
		c.native.CompleteEndAction(action)
		return
	}

	switch s.state {
	case StateActive:
		s.state = StateEnding
		if s.reason == "" {
			s.reason = ReasonLocalHangup
		}
		c.hangUp(s)
		c.native.CompleteEndAction(action)
		c.finish(OutcomeCompleted, PushReported)
	case StateEnding:
		c.native.CompleteEndAction(action)
		c.finish(c.outcomeFor(s), PushReported)
	default:
		s.state = StateEnding
		s.reason = ReasonRejected
		c.rejectBackend(s)
		c.failPending(s)
		c.native.CompleteEndAction(action)
		c.finish(OutcomeRejected, PushRejected)
	}
}

func (c *Coordinator) handleAudioActivated() {
	s := c.session
	if s == nil {
		c.logger.Debug().Msg("audio session activated with no call")
		return
	}
	s.audioActive = true
	c.checkAnswerReady()
}

func (c *Coordinator) handleAudioDeactivated() {
	s := c.session
	if s == nil {
		return
	}
	s.audioActive = false
	if s.state == StateActive && !s.nativeRetired {
		c.beginEnding(s, ReasonAudioDeactivated)
	}
}

func (c *Coordinator) handleAnsweredInApp() {
	s := c.session
	if s == nil {
		c.logger.Warn().Err(ErrNoSession).Msg("in-app answer with no call")
		return
	}
	if s.nativeRetired || s.state == StateEnding {
		return
	}

	s.nativeRetired = true
	if s.reportAcked {
		c.native.RetireCall(s.id)
	} else {
		s.retireQueued = true
	}
	c.failPending(s)
	if s.answeredAt == nil {
		now := c.now()
		s.answeredAt = &now
	}
	s.wantBackendAnswer = true
	s.state = StateActive
	c.completePush(s.push, PushReported)
	c.sessionLog(zerolog.InfoLevel, s).Msg("call answered in app, native entry retired")
	c.checkAnswerReady()
}

// handleProviderReset drops the session. Native actions were invalidated by
// the reset, so nothing is completed or failed on the native side.
func (c *Coordinator) handleProviderReset() {
	s := c.session
	if s == nil {
		c.logger.Info().Msg("native provider reset with no call")
		return
	}
	s.pending = nil
	s.reason = ReasonProviderReset
	if s.answeredAt != nil {
		c.hangUp(s)
	} else {
		c.rejectBackend(s)
	}
	c.finish(OutcomeReset, PushFailed)
}

func (c *Coordinator) beginEnding(s *session, reason EndReason) {
	s.state = StateEnding
	if s.reason == "" {
		s.reason = reason
	}
	c.hangUp(s)

	if !s.reportAcked {
		s.endQueued = true
		c.sessionLog(zerolog.DebugLevel, s).Msg("native end held until the report is acknowledged")
		return
	}
	if s.nativeRetired {
		c.finish(c.outcomeFor(s), PushReported)
		return
	}
	c.requestNativeEnd(s)
}

// requestNativeEnd asks the native UI to end the call and bounds the wait
// for its acknowledgement by EndTimeout.
func (c *Coordinator) requestNativeEnd(s *session) {
	id := s.id
	c.command(func(ctx context.Context) {
		err := c.native.RequestEndCall(ctx, id)
		c.post(event{kind: evEndAck, sessionID: id, err: err})
	})
	s.endTimer = time.AfterFunc(c.endTimeout, func() {
		c.post(event{kind: evEndTimeout, sessionID: id})
	})
}

func (c *Coordinator) handleEndAck(ev event) {
	s := c.session
	if s == nil || s.id != ev.sessionID || s.state != StateEnding {
		return
	}
	if ev.err != nil {
		c.commandFailed(TargetNative, "end_call", ev.err, s.id)
	}
	c.finish(c.outcomeFor(s), PushReported)
}

func (c *Coordinator) handleEndTimeout(ev event) {
	s := c.session
	if s == nil || s.id != ev.sessionID || s.state != StateEnding {
		return
	}
	c.sessionLog(zerolog.WarnLevel, s).
		Dur("timeout", c.endTimeout).
		Msg("native UI did not acknowledge call end in time")
	c.finish(c.outcomeFor(s), PushReported)
}

// hangUp issues a best-effort backend hang-up unless the call is already over.
func (c *Coordinator) hangUp(s *session) {
	if s.handle == nil || s.backendTerminal {
		return
	}
	s.backendTerminal = true
	c.backendCommand(s.id, "hangup", s.handle.HangUp)
}

// rejectBackend rejects the handle, or remembers the call id so a handle
// that arrives later is rejected on delivery.
func (c *Coordinator) rejectBackend(s *session) {
	if s.handle == nil {
		if s.callID != "" {
			c.tombstones.Add(s.callID, struct{}{})
		}
		return
	}
	if s.backendTerminal {
		return
	}
	s.backendTerminal = true
	c.backendCommand(s.id, "reject", s.handle.Reject)
}

func (c *Coordinator) failPending(s *session) {
	if s.pending == nil {
		return
	}
	action := *s.pending
	s.pending = nil
	switch action.Kind {
	case ActionAnswer:
		c.native.FailAnswerAction(action)
	case ActionEnd:
		c.native.FailEndAction(action)
	}
}

func (c *Coordinator) outcomeFor(s *session) Outcome {
	if s.answeredAt != nil {
		return OutcomeCompleted
	}
	if s.reason == ReasonRejected {
		return OutcomeRejected
	}
	return OutcomeMissed
}

// finish returns the coordinator to idle. The push completion and any
// pending action are resolved here if nothing resolved them earlier.
func (c *Coordinator) finish(outcome Outcome, pushResult PushResult) {
	s := c.session
	if s == nil {
		return
	}
	if s.endTimer != nil {
		s.endTimer.Stop()
	}
	c.completePush(s.push, pushResult)
	c.failPending(s)

	c.session = nil
	c.metrics.sessionEnded(outcome)
	c.sessionLog(zerolog.InfoLevel, s).
		Str("outcome", string(outcome)).
		Str("reason", string(s.reason)).
		Msg("call session ended")

	if c.recorder == nil {
		return
	}
	summary := Summary{
		SessionID:  s.id,
		CallID:     s.callID,
		CallerName: s.callerName,
		Outcome:    outcome,
		Reason:     s.reason,
		StartedAt:  s.createdAt,
		AnsweredAt: s.answeredAt,
		EndedAt:    c.now(),
	}
	c.command(func(ctx context.Context) {
		if err := c.recorder.RecordCall(ctx, summary); err != nil {
			c.logger.Warn().
				Err(err).
				Str("session_id", summary.SessionID.String()).
				Msg("failed to record call history")
		}
	})
}

func (c *Coordinator) shutdownSession() {
	s := c.session
	if s == nil {
		return
	}
	s.reason = ReasonCoordinatorClosed
	if s.answeredAt != nil {
		c.hangUp(s)
	} else {
		c.rejectBackend(s)
	}
	c.finish(c.outcomeFor(s), PushShutdown)
}
