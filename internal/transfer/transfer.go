// Package transfer packages a recorded utterance plus session metadata into
// one request to the remote processing service and decodes the multi-part
// result.
//
// The upload and remote-processing budgets are collapsed into a single
// watchdog: one context deadline covers the full round trip, and its expiry
// aborts the transport and surfaces as a TransferTimeout. The effective
// timeout is the minimum of this watchdog and any lower-level transport
// timeout configured on the client.
//
// Two implementations are provided: [HTTP] (multipart POST, the default)
// and [WS] (single-shot WebSocket exchange). Both enforce single-flight as
// a defensive invariant — the interaction machine's Idle gating already
// prevents concurrent sends in normal operation.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sauti-health/sauti/pkg/audio"
	"github.com/sauti-health/sauti/pkg/voice"
)

// Default combined watchdog budget (upload + processing).
const DefaultTimeout = 30 * time.Second

// Request carries one utterance and its session identity to the service.
type Request struct {
	// SessionID is the process-lifetime session identifier. Required.
	SessionID string

	// ConversationID is the server-assigned conversation identifier from a
	// previous successful turn. Empty on the first turn of a conversation.
	ConversationID string

	// Audio is the recorded utterance. Must be non-empty with a positive
	// duration.
	Audio audio.Buffer

	// Cultural is the optional cultural framing forwarded to the service.
	Cultural *voice.CulturalContext

	// OnTransportComplete, when non-nil, is invoked exactly once when the
	// service's response has been received but not yet decoded. The
	// interaction machine uses it to surface the Uploading→Processing
	// transition; the single network call is the only observable completion.
	OnTransportComplete func()
}

// validate checks the request preconditions shared by all implementations.
func (r Request) validate() error {
	if r.SessionID == "" {
		return errors.New("transfer: session ID is required")
	}
	if r.Audio.Empty() {
		return errors.New("transfer: audio buffer is empty")
	}
	if r.Audio.Duration <= 0 {
		return errors.New("transfer: audio duration must be positive")
	}
	return nil
}

// Manager sends one utterance and returns the decoded turn result.
//
// Send blocks until the turn settles: a result, a classified *voice.Error
// (TransferTimeout, NetworkFailure, ServiceFailure, MalformedResponse), or
// voice.ErrCancelled when ctx is cancelled. Implementations guarantee that
// all transport handles and timers are released on every settle path, and
// reject a second concurrent Send with voice.ErrSendInFlight.
type Manager interface {
	Send(ctx context.Context, req Request) (*voice.TurnResult, error)
}

// ─── Wire format ──────────────────────────────────────────────────────────────

// wireAudio is the synthesized-audio descriptor as the service encodes it.
// Data arrives base64-encoded; encoding/json handles the decode.
type wireAudio struct {
	Locator         string  `json:"locator,omitempty"`
	Data            []byte  `json:"data,omitempty"`
	Format          string  `json:"format"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// wireResult is the service's response envelope.
type wireResult struct {
	Transcript voice.Transcript  `json:"transcript"`
	Emotion    voice.Emotion     `json:"emotion"`
	Reply      voice.Reply       `json:"reply"`
	Audio      wireAudio         `json:"audio"`
	Session    voice.SessionEcho `json:"session"`
}

// decodeResult parses a response body into a [voice.TurnResult], returning a
// MalformedResponse error when the body cannot be decoded or lacks the
// fields every valid result carries.
func decodeResult(body []byte) (*voice.TurnResult, error) {
	var wr wireResult
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, voice.NewError(voice.KindMalformedResponse, "decode response", err)
	}
	if wr.Reply.Text == "" && wr.Transcript.Text == "" {
		return nil, voice.NewError(voice.KindMalformedResponse,
			"response carries neither transcript nor reply", nil)
	}
	return &voice.TurnResult{
		Transcript: wr.Transcript,
		Emotion:    wr.Emotion,
		Reply:      wr.Reply,
		Audio: voice.SynthesizedAudio{
			Locator:  wr.Audio.Locator,
			Data:     wr.Audio.Data,
			Format:   wr.Audio.Format,
			Duration: time.Duration(wr.Audio.DurationSeconds * float64(time.Second)),
		},
		Session: wr.Session,
	}, nil
}

// wireMetadata is the request metadata sent alongside the audio payload.
// The HTTP manager spreads these over multipart form fields; the WebSocket
// manager sends the struct as one JSON frame.
type wireMetadata struct {
	SessionID       string                 `json:"session_id"`
	ConversationID  string                 `json:"conversation_id,omitempty"`
	DurationSeconds float64                `json:"duration_seconds"`
	SampleRate      int                    `json:"sample_rate"`
	Channels        int                    `json:"channels"`
	Cultural        *voice.CulturalContext `json:"cultural_context,omitempty"`
}

func metadataFor(req Request) wireMetadata {
	return wireMetadata{
		SessionID:       req.SessionID,
		ConversationID:  req.ConversationID,
		DurationSeconds: req.Audio.Duration.Seconds(),
		SampleRate:      req.Audio.SampleRate,
		Channels:        req.Audio.Channels,
		Cultural:        req.Cultural,
	}
}

// ─── Error classification ─────────────────────────────────────────────────────

// classifyTransport maps a transport-level failure to the error taxonomy.
// The watchdog deadline wins over the transport's own error text; a
// caller-cancelled context resolves to the silent ErrCancelled sentinel.
func classifyTransport(ctx context.Context, err error, stage string) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return voice.NewError(voice.KindTransferTimeout,
			fmt.Sprintf("watchdog expired during %s", stage), err)
	case errors.Is(ctx.Err(), context.Canceled):
		return voice.ErrCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return voice.NewError(voice.KindTransferTimeout,
			fmt.Sprintf("deadline exceeded during %s", stage), err)
	case errors.Is(err, context.Canceled):
		return voice.ErrCancelled
	default:
		return voice.NewError(voice.KindNetworkFailure, stage, err)
	}
}
