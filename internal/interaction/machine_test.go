package interaction

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sauti-health/sauti/internal/crisis"
	"github.com/sauti-health/sauti/internal/playback"
	"github.com/sauti-health/sauti/internal/session"
	"github.com/sauti-health/sauti/internal/transfer"
	"github.com/sauti-health/sauti/pkg/audio"
	"github.com/sauti-health/sauti/pkg/audio/mock"
	"github.com/sauti-health/sauti/pkg/voice"
)

// stubManager is an in-memory transfer.Manager recording every request. When
// release is non-nil, Send blocks until it is closed or the context is
// cancelled, letting tests hold a turn in flight.
type stubManager struct {
	mu       sync.Mutex
	requests []transfer.Request

	result  *voice.TurnResult
	err     error
	release chan struct{}

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (s *stubManager) Send(ctx context.Context, req transfer.Request) (*voice.TurnResult, error) {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		max := s.maxInflight.Load()
		if n <= max || s.maxInflight.CompareAndSwap(max, n) {
			break
		}
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	release := s.release
	s.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, voice.ErrCancelled
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if req.OnTransportComplete != nil {
		req.OnTransportComplete()
	}
	r := *s.result
	return &r, nil
}

func (s *stubManager) request(t *testing.T, n int) transfer.Request {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= len(s.requests) {
		t.Fatalf("only %d requests recorded, want at least %d", len(s.requests), n+1)
	}
	return s.requests[n]
}

func testBuffer() audio.Buffer {
	return audio.Buffer{
		PCM:        []byte{0x01, 0x02, 0x03, 0x04},
		SampleRate: 16000,
		Channels:   1,
		Duration:   3 * time.Second,
	}
}

func resultWithAudio() *voice.TurnResult {
	return &voice.TurnResult{
		Transcript: voice.Transcript{Text: "nimechoka sana", Language: "sw"},
		Emotion:    voice.Emotion{Primary: "tired", Confidence: 0.9},
		Reply:      voice.Reply{Text: "Pole sana. Ungependa kupumzika kidogo?"},
		Audio:      voice.SynthesizedAudio{Data: []byte{0xAA}, Format: "opus", Duration: 2 * time.Second},
		Session:    voice.SessionEcho{ConversationID: "abc", Timestamp: time.Now()},
	}
}

func resultWithoutAudio() *voice.TurnResult {
	r := resultWithAudio()
	r.Audio = voice.SynthesizedAudio{}
	return r
}

// newTestMachine wires a machine from mocks. The sink auto-completes so
// playback finishes immediately unless a test overrides it.
func newTestMachine(mgr transfer.Manager, opts ...Option) (*Machine, *mock.Capture, *mock.Sink) {
	capt := &mock.Capture{}
	sink := &mock.Sink{AutoComplete: true}
	m := New(capt, mgr, playback.New(sink), session.New(), opts...)
	return m, capt, sink
}

// ─── Capture ──────────────────────────────────────────────────────────────────

func TestStart_TransitionsToRecording(t *testing.T) {
	m, capt, _ := newTestMachine(&stubManager{})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if got := m.State(); got != StateRecording {
		t.Errorf("state = %v, want recording", got)
	}
	if capt.CallCountStart != 1 {
		t.Errorf("capture started %d times, want 1", capt.CallCountStart)
	}
}

func TestStart_IdempotentWhileRecording(t *testing.T) {
	m, capt, _ := newTestMachine(&stubManager{})

	m.Start(context.Background())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("second Start returned error: %v", err)
	}
	if capt.CallCountStart != 1 {
		t.Errorf("capture started %d times, want 1", capt.CallCountStart)
	}
}

func TestStart_CaptureDeniedParksInError(t *testing.T) {
	var errKind voice.ErrorKind
	var errCount int
	m, capt, _ := newTestMachine(&stubManager{}, WithHooks(Hooks{
		OnError: func(kind voice.ErrorKind, _ error) {
			errKind = kind
			errCount++
		},
	}))
	capt.StartError = errors.New("permission denied")

	err := m.Start(context.Background())
	if kind, ok := voice.KindOf(err); !ok || kind != voice.KindCaptureUnavailable {
		t.Errorf("error kind = %v (classified %v), want KindCaptureUnavailable", kind, ok)
	}
	if got := m.State(); got != StateError {
		t.Errorf("state = %v, want error", got)
	}
	if errCount != 1 || errKind != voice.KindCaptureUnavailable {
		t.Errorf("OnError fired %d times with kind %v, want once with KindCaptureUnavailable", errCount, errKind)
	}
}

func TestStop_ReturnsBufferAndIdles(t *testing.T) {
	m, capt, _ := newTestMachine(&stubManager{})
	capt.StopResult = testBuffer()

	m.Start(context.Background())
	buf, err := m.Stop()
	if err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if buf.Empty() {
		t.Error("Stop returned empty buffer")
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestStop_NoOpWhileIdle(t *testing.T) {
	m, capt, _ := newTestMachine(&stubManager{})
	buf, err := m.Stop()
	if err != nil || !buf.Empty() {
		t.Errorf("Stop while idle = (%v, %v), want empty buffer and nil", buf, err)
	}
	if capt.CallCountStop != 0 {
		t.Errorf("capture stopped %d times, want 0", capt.CallCountStop)
	}
}

// ─── Turn lifecycle ───────────────────────────────────────────────────────────

func TestProcessAudio_FullTurnWithPlayback(t *testing.T) {
	var states []State
	var completed int
	mgr := &stubManager{result: resultWithAudio()}
	m, _, sink := newTestMachine(mgr, WithHooks(Hooks{
		OnComplete:    func(*voice.TurnResult) { completed++ },
		OnStateChange: func(s State) { states = append(states, s) },
	}))

	if err := m.ProcessAudio(context.Background(), testBuffer()); err != nil {
		t.Fatalf("ProcessAudio returned error: %v", err)
	}

	want := []State{StateUploading, StateProcessing, StatePlaying, StateIdle}
	if len(states) != len(want) {
		t.Fatalf("state sequence = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("state sequence = %v, want %v", states, want)
		}
	}
	if completed != 1 {
		t.Errorf("OnComplete fired %d times, want 1", completed)
	}
	if len(sink.Sources) != 1 {
		t.Errorf("sink played %d sources, want 1", len(sink.Sources))
	}
	if got := m.LastResult(); got == nil || got.Reply.Text == "" {
		t.Error("LastResult not recorded")
	}
	if got := len(m.History()); got != 1 {
		t.Errorf("history holds %d turns, want 1", got)
	}
}

func TestProcessAudio_NoAudioSkipsPlayback(t *testing.T) {
	var states []State
	mgr := &stubManager{result: resultWithoutAudio()}
	m, _, sink := newTestMachine(mgr, WithHooks(Hooks{
		OnStateChange: func(s State) { states = append(states, s) },
	}))

	if err := m.ProcessAudio(context.Background(), testBuffer()); err != nil {
		t.Fatalf("ProcessAudio returned error: %v", err)
	}
	for _, s := range states {
		if s == StatePlaying {
			t.Errorf("state sequence %v entered playing without audio", states)
		}
	}
	if len(sink.Sources) != 0 {
		t.Errorf("sink played %d sources, want 0", len(sink.Sources))
	}
}

func TestProcessAudio_AutoPlayDisabledSkipsPlayback(t *testing.T) {
	mgr := &stubManager{result: resultWithAudio()}
	m, _, sink := newTestMachine(mgr, WithAutoPlay(false))

	if err := m.ProcessAudio(context.Background(), testBuffer()); err != nil {
		t.Fatalf("ProcessAudio returned error: %v", err)
	}
	if len(sink.Sources) != 0 {
		t.Errorf("sink played %d sources with auto-play off, want 0", len(sink.Sources))
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestProcessAudio_RejectsInvalidBuffer(t *testing.T) {
	m, _, _ := newTestMachine(&stubManager{result: resultWithoutAudio()})

	if err := m.ProcessAudio(context.Background(), audio.Buffer{}); err == nil {
		t.Error("empty buffer accepted")
	}
	buf := testBuffer()
	buf.Duration = 0
	if err := m.ProcessAudio(context.Background(), buf); err == nil {
		t.Error("zero duration accepted")
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("state = %v after rejected input, want idle", got)
	}
}

func TestProcessAudio_BusyMachineNeverDoubleSubmits(t *testing.T) {
	release := make(chan struct{})
	mgr := &stubManager{result: resultWithoutAudio(), release: release}
	m, _, _ := newTestMachine(mgr)

	done := make(chan error, 1)
	go func() { done <- m.ProcessAudio(context.Background(), testBuffer()) }()
	waitForState(t, m, StateUploading)

	if err := m.ProcessAudio(context.Background(), testBuffer()); !errors.Is(err, ErrBusy) {
		t.Errorf("second ProcessAudio returned %v, want ErrBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	if got := mgr.maxInflight.Load(); got != 1 {
		t.Errorf("max concurrent sends = %d, want 1", got)
	}
	if len(mgr.requests) != 1 {
		t.Errorf("%d submissions reached the manager, want 1", len(mgr.requests))
	}
}

// ─── Session continuity ───────────────────────────────────────────────────────

func TestProcessAudio_CarriesConversationIDForward(t *testing.T) {
	mgr := &stubManager{result: resultWithAudio()}
	m, _, _ := newTestMachine(mgr, WithAutoPlay(false))

	m.ProcessAudio(context.Background(), testBuffer())
	m.ProcessAudio(context.Background(), testBuffer())

	first := mgr.request(t, 0)
	second := mgr.request(t, 1)
	if first.ConversationID != "" {
		t.Errorf("first turn submitted conversation ID %q, want none", first.ConversationID)
	}
	if second.ConversationID != "abc" {
		t.Errorf("second turn submitted conversation ID %q, want %q", second.ConversationID, "abc")
	}
	if first.SessionID == "" || first.SessionID != second.SessionID {
		t.Errorf("session ID not stable across turns: %q then %q", first.SessionID, second.SessionID)
	}
}

func TestResetSession_FreshIdentityNextTurn(t *testing.T) {
	mgr := &stubManager{result: resultWithAudio()}
	m, _, _ := newTestMachine(mgr, WithAutoPlay(false))

	m.ProcessAudio(context.Background(), testBuffer())
	m.ResetSession()
	m.ProcessAudio(context.Background(), testBuffer())

	first := mgr.request(t, 0)
	second := mgr.request(t, 1)
	if second.SessionID == first.SessionID {
		t.Error("session ID survived reset")
	}
	if second.ConversationID != "" {
		t.Errorf("conversation ID %q survived reset", second.ConversationID)
	}
	if got := len(m.History()); got != 1 {
		t.Errorf("history holds %d turns after reset, want 1 (the post-reset turn)", got)
	}
	if m.LastResult() == nil {
		t.Error("post-reset turn did not record a result")
	}
}

func TestResetSession_CancelsInFlightTurn(t *testing.T) {
	mgr := &stubManager{result: resultWithoutAudio(), release: make(chan struct{})}
	m, _, _ := newTestMachine(mgr)

	done := make(chan error, 1)
	go func() { done <- m.ProcessAudio(context.Background(), testBuffer()) }()
	waitForState(t, m, StateUploading)

	m.ResetSession()
	if err := <-done; !errors.Is(err, voice.ErrCancelled) {
		t.Errorf("in-flight turn returned %v, want ErrCancelled", err)
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("state = %v after reset, want idle", got)
	}
}

// ─── Cancellation ─────────────────────────────────────────────────────────────

func TestCancelCurrent_NoOpFromIdle(t *testing.T) {
	var errCount int
	m, _, _ := newTestMachine(&stubManager{}, WithHooks(Hooks{
		OnError: func(voice.ErrorKind, error) { errCount++ },
	}))

	m.CancelCurrent()
	m.CancelCurrent()
	if got := m.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
	if errCount != 0 {
		t.Errorf("OnError fired %d times on idle cancel, want 0", errCount)
	}
}

func TestCancelCurrent_AbortsTransferSilently(t *testing.T) {
	var errCount int
	mgr := &stubManager{result: resultWithoutAudio(), release: make(chan struct{})}
	m, _, _ := newTestMachine(mgr, WithHooks(Hooks{
		OnError: func(voice.ErrorKind, error) { errCount++ },
	}))

	done := make(chan error, 1)
	go func() { done <- m.ProcessAudio(context.Background(), testBuffer()) }()
	waitForState(t, m, StateUploading)

	m.CancelCurrent()
	if err := <-done; !errors.Is(err, voice.ErrCancelled) {
		t.Errorf("ProcessAudio returned %v, want ErrCancelled", err)
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("state = %v after cancel, want idle", got)
	}
	if errCount != 0 {
		t.Errorf("OnError fired %d times for a cancellation, want 0", errCount)
	}
}

func TestCancelCurrent_AbortsPlayback(t *testing.T) {
	mgr := &stubManager{result: resultWithAudio()}
	capt := &mock.Capture{}
	sink := &mock.Sink{} // playback stays open until stopped
	m := New(capt, mgr, playback.New(sink), session.New())

	done := make(chan error, 1)
	go func() { done <- m.ProcessAudio(context.Background(), testBuffer()) }()
	waitForState(t, m, StatePlaying)

	m.CancelCurrent()
	if err := <-done; err != nil {
		t.Errorf("ProcessAudio returned %v, want nil (result was delivered)", err)
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("state = %v after cancel, want idle", got)
	}
	if got := sink.ActiveCount(); got != 0 {
		t.Errorf("%d playbacks still active after cancel, want 0", got)
	}
}

// ─── Failure handling ─────────────────────────────────────────────────────────

func TestProcessAudio_FailurePreservesSessionData(t *testing.T) {
	mgr := &stubManager{result: resultWithAudio()}
	m, _, _ := newTestMachine(mgr, WithAutoPlay(false))

	// First turn succeeds and establishes identity.
	if err := m.ProcessAudio(context.Background(), testBuffer()); err != nil {
		t.Fatalf("first turn failed: %v", err)
	}

	mgr.err = voice.NewServiceError(http.StatusServiceUnavailable, "overloaded")
	err := m.ProcessAudio(context.Background(), testBuffer())
	if kind, ok := voice.KindOf(err); !ok || kind != voice.KindServiceFailure {
		t.Fatalf("error kind = %v (classified %v), want KindServiceFailure", kind, ok)
	}
	if got := m.State(); got != StateError {
		t.Errorf("state = %v, want error", got)
	}

	// A single failed turn never costs the session.
	if got := len(m.History()); got != 1 {
		t.Errorf("history holds %d turns, want 1", got)
	}
	m.ClearError()
	if got := m.State(); got != StateIdle {
		t.Errorf("state = %v after ClearError, want idle", got)
	}

	mgr.err = nil
	if err := m.ProcessAudio(context.Background(), testBuffer()); err != nil {
		t.Fatalf("post-recovery turn failed: %v", err)
	}
	third := mgr.request(t, 2)
	if third.ConversationID != "abc" {
		t.Errorf("conversation ID %q after recovery, want %q", third.ConversationID, "abc")
	}
}

func TestProcessAudio_NewOperationClearsError(t *testing.T) {
	mgr := &stubManager{err: voice.NewServiceError(http.StatusInternalServerError, "boom")}
	m, _, _ := newTestMachine(mgr)

	m.ProcessAudio(context.Background(), testBuffer())
	if got := m.State(); got != StateError {
		t.Fatalf("state = %v, want error", got)
	}

	mgr.err = nil
	mgr.result = resultWithoutAudio()
	if err := m.ProcessAudio(context.Background(), testBuffer()); err != nil {
		t.Fatalf("submission from error state failed: %v", err)
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestProcessAudio_PlaybackFailureParksInError(t *testing.T) {
	mgr := &stubManager{result: resultWithAudio()}
	capt := &mock.Capture{}
	sink := &mock.Sink{PlayError: errors.New("no output device")}
	var completed, failed int
	m := New(capt, mgr, playback.New(sink), session.New(), WithHooks(Hooks{
		OnComplete: func(*voice.TurnResult) { completed++ },
		OnError:    func(voice.ErrorKind, error) { failed++ },
	}))

	err := m.ProcessAudio(context.Background(), testBuffer())
	if kind, ok := voice.KindOf(err); !ok || kind != voice.KindPlaybackFailure {
		t.Errorf("error kind = %v (classified %v), want KindPlaybackFailure", kind, ok)
	}
	if completed != 1 {
		t.Errorf("OnComplete fired %d times, want 1 (result was delivered before playback)", completed)
	}
	if failed != 1 {
		t.Errorf("OnError fired %d times, want 1", failed)
	}
	// The result survived even though playback did not.
	if m.LastResult() == nil {
		t.Error("result discarded on playback failure")
	}
}

func TestProcessAudio_TimeoutReachesErrorWithinMargin(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	mgr, err := transfer.NewHTTP(srv.URL, transfer.WithTimeout(200*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	m, _, _ := newTestMachine(mgr)

	start := time.Now()
	perr := m.ProcessAudio(context.Background(), testBuffer())
	elapsed := time.Since(start)

	if kind, ok := voice.KindOf(perr); !ok || kind != voice.KindTransferTimeout {
		t.Fatalf("error kind = %v (classified %v), want KindTransferTimeout", kind, ok)
	}
	if got := m.State(); got != StateError {
		t.Errorf("state = %v, want error", got)
	}
	if elapsed > time.Second {
		t.Errorf("turn settled after %v, want within a small margin of 200ms", elapsed)
	}
}

// ─── Crisis relay ─────────────────────────────────────────────────────────────

func TestProcessAudio_CrisisAlertAboveThreshold(t *testing.T) {
	var alerts []crisis.Alert
	relay := crisis.New(0.7, func(a crisis.Alert) { alerts = append(alerts, a) })

	res := resultWithoutAudio()
	res.Reply.RiskScore = 0.75
	mgr := &stubManager{result: res}
	m, _, _ := newTestMachine(mgr, WithCrisisRelay(relay))

	if err := m.ProcessAudio(context.Background(), testBuffer()); err != nil {
		t.Fatalf("ProcessAudio returned error: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("%d alerts fired for risk score 0.75, want 1", len(alerts))
	}
	if alerts[0].Score != 0.75 {
		t.Errorf("alert score = %v, want 0.75", alerts[0].Score)
	}

	res2 := resultWithoutAudio()
	res2.Reply.RiskScore = 0.69
	mgr.result = res2
	if err := m.ProcessAudio(context.Background(), testBuffer()); err != nil {
		t.Fatalf("ProcessAudio returned error: %v", err)
	}
	if len(alerts) != 1 {
		t.Errorf("%d alerts after risk score 0.69, want still 1", len(alerts))
	}
}

// ─── Options ──────────────────────────────────────────────────────────────────

func TestWithHistory_DisabledKeepsHistoryEmpty(t *testing.T) {
	mgr := &stubManager{result: resultWithoutAudio()}
	m, _, _ := newTestMachine(mgr, WithHistory(false))

	m.ProcessAudio(context.Background(), testBuffer())
	if got := len(m.History()); got != 0 {
		t.Errorf("history holds %d turns with persistence off, want 0", got)
	}
	if m.LastResult() == nil {
		t.Error("LastResult should be recorded even without history")
	}
}

func TestWithCulturalContext_ForwardedOnEveryRequest(t *testing.T) {
	cc := &voice.CulturalContext{Language: "sw", Region: "east-africa"}
	mgr := &stubManager{result: resultWithoutAudio()}
	m, _, _ := newTestMachine(mgr, WithCulturalContext(cc))

	m.ProcessAudio(context.Background(), testBuffer())
	req := mgr.request(t, 0)
	if req.Cultural == nil || req.Cultural.Language != "sw" {
		t.Errorf("cultural context not forwarded: %+v", req.Cultural)
	}
}

// waitForState polls until the machine reaches want.
func waitForState(t *testing.T, m *Machine, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if m.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %v, machine is %v", want, m.State())
		case <-time.After(time.Millisecond):
		}
	}
}
