// Package session owns the session and conversation identity shared by all
// turns of a voice interaction.
//
// The session ID correlates turns server-side for the lifetime of the
// process; it is generated lazily on first use from time plus random entropy
// (it is not a security boundary, so cryptographic strength is unnecessary).
// The conversation ID groups an ordered sequence of turns for server-side
// context retrieval; it is assigned only from a successful remote response,
// never invented client-side.
//
// The original design kept these identifiers in ambient global state; here
// they live in an explicitly owned [Context] injected into the interaction
// machine, with an explicit init/reset lifecycle.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Context holds the process-lifetime session identifier and the
// server-assigned conversation identifier. All methods are safe for
// concurrent use.
type Context struct {
	mu             sync.Mutex
	sessionID      string
	conversationID string

	// now is swappable in tests.
	now func() time.Time
}

// Option configures a [Context] during construction.
type Option func(*Context)

// WithConversationID seeds a known conversation identifier, resuming a
// conversation the host persisted from an earlier run. Later updates still
// only come from successful remote responses.
func WithConversationID(id string) Option {
	return func(c *Context) { c.conversationID = id }
}

// WithClock overrides the time source used for session ID generation.
// Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Context) { c.now = now }
}

// New creates an empty session context. The session ID is not generated
// until the first call to [Context.GetOrCreateSessionID].
func New(opts ...Option) *Context {
	c := &Context{now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// GetOrCreateSessionID returns the runtime-stable session identifier,
// generating it on first use. The identifier combines a millisecond
// timestamp with random entropy so concurrent clients never collide.
func (c *Context) GetOrCreateSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == "" {
		c.sessionID = fmt.Sprintf("sess-%d-%s", c.now().UnixMilli(), uuid.NewString()[:8])
	}
	return c.sessionID
}

// ConversationID returns the current conversation identifier. ok is false
// when no conversation has been established yet.
func (c *Context) ConversationID() (id string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID, c.conversationID != ""
}

// UpdateConversationID records the conversation identifier echoed by a
// successful remote response. Empty ids are ignored so a service that omits
// the echo cannot clear an established conversation. Callers must only pass
// server-assigned values; this is the single client-side write path.
func (c *Context) UpdateConversationID(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = id
}

// Reset clears both identifiers. The next turn generates a fresh session ID
// and submits without a conversation ID.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = ""
	c.conversationID = ""
}
