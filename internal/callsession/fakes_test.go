package callsession_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/callbridge/callbridge/internal/callsession"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type reportCall struct {
	id     uuid.UUID
	caller string
}

type fakeNative struct {
	mu               sync.Mutex
	reports          []reportCall
	endRequests      []uuid.UUID
	completedAnswers []callsession.Action
	failedAnswers    []callsession.Action
	completedEnds    []callsession.Action
	failedEnds       []callsession.Action
	retired          []uuid.UUID

	reportErr error
	endErr    error
	// endGate, when set, holds RequestEndCall until closed or ctx is done.
	endGate chan struct{}
	// reportGate, when set, holds ReportIncomingCall until closed or ctx is done.
	reportGate chan struct{}
	// order logs when a report was acknowledged and when an end was requested.
	order []string
}

func (f *fakeNative) ReportIncomingCall(ctx context.Context, id uuid.UUID, callerName string) error {
	f.mu.Lock()
	f.reports = append(f.reports, reportCall{id: id, caller: callerName})
	gate := f.reportGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, "reported")
	return f.reportErr
}

func (f *fakeNative) RequestEndCall(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	f.endRequests = append(f.endRequests, id)
	f.order = append(f.order, "end_requested")
	gate, err := f.endGate, f.endErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeNative) CompleteAnswerAction(a callsession.Action) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completedAnswers = append(f.completedAnswers, a)
}

func (f *fakeNative) FailAnswerAction(a callsession.Action) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedAnswers = append(f.failedAnswers, a)
}

func (f *fakeNative) CompleteEndAction(a callsession.Action) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completedEnds = append(f.completedEnds, a)
}

func (f *fakeNative) FailEndAction(a callsession.Action) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedEnds = append(f.failedEnds, a)
}

func (f *fakeNative) RetireCall(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retired = append(f.retired, id)
}

func (f *fakeNative) reportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

func (f *fakeNative) lastReport() reportCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reports) == 0 {
		return reportCall{}
	}
	return f.reports[len(f.reports)-1]
}

func (f *fakeNative) endRequestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.endRequests)
}

func (f *fakeNative) counts() (completedAnswers, failedAnswers, completedEnds, failedEnds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.completedAnswers), len(f.failedAnswers), len(f.completedEnds), len(f.failedEnds)
}

func (f *fakeNative) commandOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func (f *fakeNative) retiredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.retired)
}

type fakeHandle struct {
	callID  string
	caller  string
	answers atomic.Int32
	rejects atomic.Int32
	hangups atomic.Int32

	answerErr error
}

func newHandle(callID, caller string) *fakeHandle {
	return &fakeHandle{callID: callID, caller: caller}
}

func (h *fakeHandle) CallID() string     { return h.callID }
func (h *fakeHandle) CallerName() string { return h.caller }

func (h *fakeHandle) Answer(context.Context) error {
	h.answers.Add(1)
	return h.answerErr
}

func (h *fakeHandle) Reject(context.Context) error {
	h.rejects.Add(1)
	return nil
}

func (h *fakeHandle) HangUp(context.Context) error {
	h.hangups.Add(1)
	return nil
}

type pushSpy struct {
	mu      sync.Mutex
	results []callsession.PushResult
}

func (p *pushSpy) completion() *callsession.Completion {
	return callsession.NewCompletion(func(r callsession.PushResult) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.results = append(p.results, r)
	})
}

func (p *pushSpy) snapshot() []callsession.PushResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]callsession.PushResult(nil), p.results...)
}

type fakeAdvisor struct {
	mu    sync.Mutex
	texts []string
}

func (a *fakeAdvisor) Advise(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
}

func (a *fakeAdvisor) snapshot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.texts...)
}

type fakeRecorder struct {
	mu        sync.Mutex
	summaries []callsession.Summary
}

func (r *fakeRecorder) RecordCall(_ context.Context, s callsession.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
	return nil
}

func (r *fakeRecorder) snapshot() []callsession.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]callsession.Summary(nil), r.summaries...)
}

type fakeForwarder struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (f *fakeForwarder) ForwardPush(payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
}

func (f *fakeForwarder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

type harness struct {
	coord     *callsession.Coordinator
	native    *fakeNative
	advisor   *fakeAdvisor
	recorder  *fakeRecorder
	forwarder *fakeForwarder
}

func newHarness(t *testing.T, mutate func(cfg *callsession.Config, native *fakeNative)) *harness {
	t.Helper()

	h := &harness{
		native:    &fakeNative{},
		advisor:   &fakeAdvisor{},
		recorder:  &fakeRecorder{},
		forwarder: &fakeForwarder{},
	}

	cfg := callsession.DefaultConfig()
	cfg.Native = h.native
	cfg.Status = h.advisor
	cfg.Recorder = h.recorder
	cfg.Forwarder = h.forwarder
	cfg.Logger = zerolog.Nop()
	cfg.EndTimeout = time.Second
	if mutate != nil {
		mutate(&cfg, h.native)
	}

	coord, err := callsession.New(cfg)
	require.NoError(t, err)
	t.Cleanup(coord.Close)
	h.coord = coord
	return h
}

func (h *harness) waitState(t *testing.T, state callsession.State) callsession.Session {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.coord.Snapshot().State == state
	}, waitFor, tick, "expected state %s, got %s", state, h.coord.Snapshot().State)
	return h.coord.Snapshot()
}

// waitSession waits until a session exists and returns its id.
func (h *harness) waitSession(t *testing.T) uuid.UUID {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.coord.Snapshot().ID != uuid.Nil
	}, waitFor, tick)
	return h.coord.Snapshot().ID
}

func pushPayload(t *testing.T, callID, caller string) []byte {
	t.Helper()
	info := map[string]any{"call_id": callID}
	if caller != "" {
		info["from_user"] = map[string]any{"name": caller}
	}
	payload, err := json.Marshal(map[string]any{"nexmo": map[string]any{"push_info": info}})
	require.NoError(t, err)
	return payload
}

func answer(id uuid.UUID) callsession.Action {
	return callsession.Action{ID: uuid.NewString(), SessionID: id, Kind: callsession.ActionAnswer}
}

func end(id uuid.UUID) callsession.Action {
	return callsession.Action{ID: uuid.NewString(), SessionID: id, Kind: callsession.ActionEnd}
}
