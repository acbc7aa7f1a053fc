// Package voice defines the shared types used across all Sauti packages.
//
// These types form the lingua franca between the interaction machine, the
// transfer manager, playback, and the crisis relay. Each package defines its
// own domain types; cross-cutting data structures live here to avoid
// circular imports.
package voice

import "time"

// Transcript is the speech-to-text portion of a turn result.
type Transcript struct {
	// Text is the transcribed utterance.
	Text string `json:"text"`

	// Language is the BCP 47 tag detected or assumed by the service
	// (e.g., "en-KE", "sw").
	Language string `json:"language"`

	// Confidence is the overall recognition confidence (0.0–1.0). May be
	// zero if the service does not report confidence.
	Confidence float64 `json:"confidence"`
}

// Emotion is the emotion classification attached to a turn result.
type Emotion struct {
	// Primary is the dominant emotion label (e.g., "anxious", "calm").
	Primary string `json:"primary"`

	// Confidence is the classifier's confidence in the primary label (0.0–1.0).
	Confidence float64 `json:"confidence"`

	// Scores holds per-label probabilities when the service reports them.
	// May be nil.
	Scores map[string]float64 `json:"scores,omitempty"`
}

// Reply is the generated response portion of a turn result.
type Reply struct {
	// Text is the companion's reply in plain text.
	Text string `json:"text"`

	// RiskScore is the service's crisis risk assessment for this turn
	// (0.0–1.0). Evaluated against the configured crisis threshold.
	RiskScore float64 `json:"risk_score"`

	// CulturalAdaptations lists the adaptations the service applied when
	// composing the reply (e.g., "honorific address", "proverb reference").
	CulturalAdaptations []string `json:"cultural_adaptations,omitempty"`

	// SuggestedActions lists follow-up actions the service recommends to the
	// host application (e.g., "offer breathing exercise").
	SuggestedActions []string `json:"suggested_actions,omitempty"`
}

// SynthesizedAudio describes the spoken form of the reply. The service
// returns either a locator to fetch the audio from or the payload inline,
// never both.
type SynthesizedAudio struct {
	// Locator is a URL or platform-specific handle for the synthesized
	// speech. Empty when the payload is inline.
	Locator string `json:"locator,omitempty"`

	// Data is the inline audio payload. Nil when a locator is provided.
	Data []byte `json:"data,omitempty"`

	// Format identifies the container/codec (e.g., "audio/mpeg", "pcm_16000").
	Format string `json:"format"`

	// Duration is the length of the synthesized speech.
	Duration time.Duration `json:"-"`
}

// Present reports whether the result carries playable audio in any form.
func (a SynthesizedAudio) Present() bool {
	return a.Locator != "" || len(a.Data) > 0
}

// SessionEcho is the session identity echoed back by the service on every
// successful turn. ConversationID is authoritative: the client adopts it for
// subsequent turns.
type SessionEcho struct {
	SessionID      string    `json:"session_id"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// TurnResult is the complete multi-part result of one voice turn. It is
// immutable once received from the transfer manager; the interaction machine
// appends it to the in-memory history when persistence is enabled.
type TurnResult struct {
	Transcript Transcript       `json:"transcript"`
	Emotion    Emotion          `json:"emotion"`
	Reply      Reply            `json:"reply"`
	Audio      SynthesizedAudio `json:"audio"`
	Session    SessionEcho      `json:"session"`
}

// CulturalContext carries the optional cultural framing sent with each
// request so the service can adapt its reply. All fields are optional.
type CulturalContext struct {
	// Language is the caller's preferred reply language (BCP 47).
	Language string `json:"language,omitempty" yaml:"language"`

	// Region is a coarse region hint (e.g., "east-africa").
	Region string `json:"region,omitempty" yaml:"region"`

	// Tags are free-form adaptation hints forwarded verbatim.
	Tags []string `json:"tags,omitempty" yaml:"tags"`
}
