// Package interaction implements the state machine coordinating one voice
// turn: capture, transfer to the processing service, result handling, and
// synthesized-reply playback.
//
// The machine owns the interaction state exclusively and exposes a blocking
// control surface: ProcessAudio runs the full turn on the caller's goroutine
// and settles exactly once, with success or a classified error. Cancellation
// is cooperative — CancelCurrent signals the turn's context and returns only
// after both the transfer manager and the playback controller have released
// their resources. A cancelled turn resolves silently to idle and is never
// reported through the error hook.
//
// A failed turn parks the machine in the error state until ClearError or a
// new operation; session identity and history survive the failure, so a
// single bad turn never costs the conversation.
package interaction

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sauti-health/sauti/internal/crisis"
	"github.com/sauti-health/sauti/internal/observe"
	"github.com/sauti-health/sauti/internal/playback"
	"github.com/sauti-health/sauti/internal/session"
	"github.com/sauti-health/sauti/internal/transfer"
	"github.com/sauti-health/sauti/pkg/audio"
	"github.com/sauti-health/sauti/pkg/voice"
)

// ErrBusy is returned when an operation requires the idle state while a turn
// is in progress. The caller should cancel or wait for the turn to settle.
var ErrBusy = errors.New("interaction: a turn is already in progress")

// Hooks are the host's observers. All hooks are optional and are invoked
// synchronously on the turn's goroutine; they must not block.
type Hooks struct {
	// OnComplete fires once per successful turn, after the result has been
	// applied to the session and history but before playback starts.
	OnComplete func(res *voice.TurnResult)

	// OnError fires once per failed turn with the classified kind.
	// Cancellations never reach this hook.
	OnError func(kind voice.ErrorKind, err error)

	// OnStateChange fires on every state transition, in order. Intended for
	// UI updates.
	OnStateChange func(s State)
}

// Machine coordinates capture, transfer, playback, session identity, and
// crisis relay for one interaction stream. All methods are safe for
// concurrent use; submission is gated on the idle state, so at most one turn
// is ever in flight.
type Machine struct {
	capture  audio.Capture
	transfer transfer.Manager
	player   *playback.Controller
	sess     *session.Context
	relay    *crisis.Relay
	metrics  *observe.Metrics
	hooks    Hooks
	cultural *voice.CulturalContext

	autoPlay       bool
	persistHistory bool

	mu         sync.Mutex
	state      State
	lastResult *voice.TurnResult
	lastErr    error

	// turnCancel aborts the in-flight turn; turnDone closes once the turn
	// has settled and every resource is released. Both are nil while idle.
	turnCancel context.CancelFunc
	turnDone   chan struct{}

	history history
}

// Option configures a [Machine].
type Option func(*Machine)

// WithHooks installs the host's observers.
func WithHooks(h Hooks) Option {
	return func(m *Machine) { m.hooks = h }
}

// WithAutoPlay controls whether a result's synthesized audio is played
// automatically. Default true.
func WithAutoPlay(enabled bool) Option {
	return func(m *Machine) { m.autoPlay = enabled }
}

// WithHistory controls whether successful results are appended to the
// in-memory history. Default true.
func WithHistory(enabled bool) Option {
	return func(m *Machine) { m.persistHistory = enabled }
}

// WithCrisisRelay installs a crisis relay evaluated on every successful
// result.
func WithCrisisRelay(r *crisis.Relay) Option {
	return func(m *Machine) { m.relay = r }
}

// WithMetrics records turn outcomes and durations on the given instruments.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Machine) { m.metrics = met }
}

// WithCulturalContext attaches a cultural framing to every request.
func WithCulturalContext(cc *voice.CulturalContext) Option {
	return func(m *Machine) { m.cultural = cc }
}

// New creates an idle Machine composing the given collaborators.
func New(capt audio.Capture, mgr transfer.Manager, player *playback.Controller,
	sess *session.Context, opts ...Option) *Machine {
	m := &Machine{
		capture:        capt,
		transfer:       mgr,
		player:         player,
		sess:           sess,
		autoPlay:       true,
		persistHistory: true,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ─── Control surface ──────────────────────────────────────────────────────────

// Start begins microphone capture. Idempotent while already recording.
// Starting from the error state clears it first. Fails with a
// CaptureUnavailable error when the platform denies capture; the machine then
// parks in the error state.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateRecording:
		m.mu.Unlock()
		return nil
	case StateIdle:
	case StateError:
		m.state = StateIdle
		m.lastErr = nil
	default:
		m.mu.Unlock()
		return ErrBusy
	}

	if err := m.capture.Start(ctx); err != nil {
		cerr := voice.NewError(voice.KindCaptureUnavailable, "start capture", err)
		m.state = StateError
		m.lastErr = cerr
		m.mu.Unlock()
		m.notify(StateError)
		m.metrics.RecordError(ctx, voice.KindCaptureUnavailable.String())
		if m.hooks.OnError != nil {
			m.hooks.OnError(voice.KindCaptureUnavailable, cerr)
		}
		return cerr
	}
	m.state = StateRecording
	m.mu.Unlock()
	m.notify(StateRecording)
	return nil
}

// Stop ends capture and returns the recorded buffer without submitting it.
// The machine returns to idle; the host decides whether to call
// [Machine.ProcessAudio] with the buffer. A no-op returning an empty buffer
// when not recording.
func (m *Machine) Stop() (audio.Buffer, error) {
	m.mu.Lock()
	if m.state != StateRecording {
		m.mu.Unlock()
		return audio.Buffer{}, nil
	}
	buf, err := m.capture.Stop()
	m.state = StateIdle
	m.mu.Unlock()
	m.notify(StateIdle)
	if err != nil {
		return audio.Buffer{}, voice.NewError(voice.KindCaptureUnavailable, "stop capture", err)
	}
	return buf, nil
}

// ProcessAudio runs one full turn with the recorded buffer: attach session
// identity, send to the processing service, apply the result, and (when
// auto-play is on and the result carries audio) play the synthesized reply.
// It blocks until the turn settles and settles exactly once.
//
// Preconditions: buf non-empty with positive duration, machine idle (or in
// the error state, which a new submission clears). A busy machine returns
// [ErrBusy] without touching the in-flight turn.
//
// Returns nil on success, voice.ErrCancelled when the turn was cancelled
// (silently, without the error hook), or the classified error otherwise.
func (m *Machine) ProcessAudio(ctx context.Context, buf audio.Buffer) error {
	if buf.Empty() {
		return errors.New("interaction: audio buffer is empty")
	}
	if buf.Duration <= 0 {
		return errors.New("interaction: audio duration must be positive")
	}

	ctx, span := observe.StartSpan(ctx, "turn")
	defer span.End()

	m.mu.Lock()
	if m.state == StateError {
		m.state = StateIdle
		m.lastErr = nil
	}
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrBusy
	}
	turnCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.turnCancel, m.turnDone = cancel, done
	m.state = StateUploading
	m.mu.Unlock()
	m.notify(StateUploading)

	// The turn settles exactly once; done closes only after Send and Play
	// have both returned, which is what CancelCurrent waits on.
	defer func() {
		cancel()
		m.mu.Lock()
		if m.turnDone == done {
			m.turnCancel, m.turnDone = nil, nil
		}
		m.mu.Unlock()
		close(done)
	}()

	start := time.Now()
	m.metrics.TurnStarted(ctx)
	defer m.metrics.TurnSettled(ctx)

	sessionID := m.sess.GetOrCreateSessionID()
	conversationID, _ := m.sess.ConversationID()
	observe.Logger(ctx).Debug("submitting turn",
		"session_id", sessionID,
		"conversation_id", conversationID,
		"duration", buf.Duration,
	)

	res, err := m.transfer.Send(turnCtx, transfer.Request{
		SessionID:      sessionID,
		ConversationID: conversationID,
		Audio:          buf,
		Cultural:       m.cultural,
		// Transport completion is the single observable boundary between
		// uploading and processing.
		OnTransportComplete: func() { m.transition(StateProcessing) },
	})
	if err != nil {
		if errors.Is(err, voice.ErrCancelled) {
			return m.settleCancelled(ctx, start)
		}
		return m.fail(ctx, start, err)
	}

	// Result applied before the next turn may begin: conversation identity,
	// last result, history, crisis evaluation, completion hook — in order.
	m.sess.UpdateConversationID(res.Session.ConversationID)
	m.mu.Lock()
	m.lastResult = res
	m.mu.Unlock()
	if m.persistHistory {
		m.history.append(*res)
	}
	if m.relay != nil {
		if alert := m.relay.Evaluate(res); alert != nil {
			m.metrics.RecordCrisisAlert(ctx)
		}
	}
	if m.hooks.OnComplete != nil {
		m.hooks.OnComplete(res)
	}

	if m.autoPlay && res.Audio.Present() {
		m.transition(StatePlaying)
		perr := m.player.Play(turnCtx, audio.Source{
			Locator:  res.Audio.Locator,
			Data:     res.Audio.Data,
			Format:   res.Audio.Format,
			Duration: res.Audio.Duration,
		})
		switch {
		case errors.Is(perr, voice.ErrCancelled):
			// The result was already delivered; a cancelled playback does
			// not fail the turn.
			m.transition(StateIdle)
			m.metrics.RecordTurn(ctx, time.Since(start), "ok")
			return nil
		case perr != nil:
			return m.fail(ctx, start, perr)
		}
	}

	m.transition(StateIdle)
	m.metrics.RecordTurn(ctx, time.Since(start), "ok")
	return nil
}

// CancelCurrent aborts the in-flight turn, if any, and blocks until the
// transfer and playback resources are released and the machine is settled.
// Safe from any state; a no-op while idle or recording.
func (m *Machine) CancelCurrent() {
	m.mu.Lock()
	cancel, done := m.turnCancel, m.turnDone
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// ResetSession cancels any in-flight turn, then clears the session identity,
// conversation identity, history, and last result. The next turn generates a
// fresh session ID and submits without a conversation ID.
func (m *Machine) ResetSession() {
	m.CancelCurrent()

	m.mu.Lock()
	if m.state == StateRecording {
		m.capture.Stop()
	}
	settled := m.state != StateIdle
	m.state = StateIdle
	m.lastErr = nil
	m.lastResult = nil
	m.mu.Unlock()

	m.sess.Reset()
	m.history.clear()
	if settled {
		m.notify(StateIdle)
	}
	slog.Info("session reset")
}

// ClearError returns the machine from the error state to idle. Session
// identity and history are untouched. A no-op in any other state.
func (m *Machine) ClearError() {
	m.mu.Lock()
	if m.state != StateError {
		m.mu.Unlock()
		return
	}
	m.state = StateIdle
	m.lastErr = nil
	m.mu.Unlock()
	m.notify(StateIdle)
}

// ─── Introspection ────────────────────────────────────────────────────────────

// State returns the current interaction state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastResult returns the most recent successful turn result, or nil.
func (m *Machine) LastResult() *voice.TurnResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastResult
}

// LastError returns the classified error that parked the machine in the
// error state, or nil.
func (m *Machine) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// History returns a copy of the completed turns, oldest first. Empty when
// history persistence is disabled.
func (m *Machine) History() []voice.TurnResult {
	return m.history.all()
}

// ─── Internal ─────────────────────────────────────────────────────────────────

// settleCancelled resolves a cancelled turn silently to idle.
func (m *Machine) settleCancelled(ctx context.Context, start time.Time) error {
	m.transition(StateIdle)
	m.metrics.RecordTurn(ctx, time.Since(start), "cancelled")
	slog.Debug("turn cancelled")
	return voice.ErrCancelled
}

// fail classifies err, parks the machine in the error state, and notifies the
// host. An error outside the taxonomy is folded into NetworkFailure so the
// host always receives a classified kind.
func (m *Machine) fail(ctx context.Context, start time.Time, err error) error {
	kind, ok := voice.KindOf(err)
	if !ok {
		err = voice.NewError(voice.KindNetworkFailure, "transfer failed", err)
		kind = voice.KindNetworkFailure
	}

	m.mu.Lock()
	m.state = StateError
	m.lastErr = err
	m.mu.Unlock()
	m.notify(StateError)

	slog.Error("turn failed", "kind", kind, "err", err)
	m.metrics.RecordError(ctx, kind.String())
	m.metrics.RecordTurn(ctx, time.Since(start), "error")
	if m.hooks.OnError != nil {
		m.hooks.OnError(kind, err)
	}
	return err
}

// transition moves to the given state if the edge is defined and notifies the
// observer. Undefined edges are dropped; they occur only when a cancellation
// races a transport callback.
func (m *Machine) transition(to State) {
	m.mu.Lock()
	from := m.state
	if from == to || !canTransition(from, to) {
		m.mu.Unlock()
		return
	}
	m.state = to
	m.mu.Unlock()
	m.notify(to)
}

func (m *Machine) notify(s State) {
	if m.hooks.OnStateChange != nil {
		m.hooks.OnStateChange(s)
	}
}
