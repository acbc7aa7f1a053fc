// Package crisis inspects turn results for elevated risk scores and raises
// an alert to a host-supplied callback when the configured threshold is
// exceeded. Escalation (notification dispatch, human handoff) is delegated
// to the host; the relay only signals.
package crisis

import (
	"log/slog"
	"time"

	"github.com/sauti-health/sauti/pkg/voice"
)

// DefaultThreshold is the risk-score cutoff used when none is configured.
const DefaultThreshold = 0.7

// Alert describes one crossing of the crisis threshold.
type Alert struct {
	// Score is the risk score that triggered the alert.
	Score float64

	// SuggestedActions is copied from the reply so the host can act without
	// holding the full turn result.
	SuggestedActions []string

	// Timestamp is when the relay evaluated the result.
	Timestamp time.Time
}

// Relay evaluates turn results against a fixed threshold. It is safe for
// concurrent use; the handler is invoked synchronously on the evaluating
// goroutine and must not block.
type Relay struct {
	threshold float64
	handler   func(Alert)
	now       func() time.Time
}

// Option configures a [Relay].
type Option func(*Relay)

// WithClock overrides the timestamp source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// New creates a Relay firing handler for every result whose risk score
// exceeds threshold. A zero or negative threshold selects
// [DefaultThreshold]. handler may be nil, in which case alerts are only
// returned to the caller.
func New(threshold float64, handler func(Alert), opts ...Option) *Relay {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	r := &Relay{
		threshold: threshold,
		handler:   handler,
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Threshold returns the effective risk-score cutoff.
func (r *Relay) Threshold() float64 { return r.threshold }

// Evaluate checks the reply's risk score. It returns nil when the score does
// not exceed the threshold; otherwise it builds exactly one [Alert], invokes
// the handler, and returns the alert.
func (r *Relay) Evaluate(res *voice.TurnResult) *Alert {
	if res == nil {
		return nil
	}
	score := res.Reply.RiskScore
	if score <= r.threshold {
		return nil
	}

	alert := &Alert{
		Score:            score,
		SuggestedActions: append([]string(nil), res.Reply.SuggestedActions...),
		Timestamp:        r.now(),
	}
	slog.Warn("crisis threshold exceeded",
		"score", score,
		"threshold", r.threshold,
		"conversation_id", res.Session.ConversationID,
	)
	if r.handler != nil {
		r.handler(*alert)
	}
	return alert
}
