package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/sauti-health/sauti/internal/observe"
	"github.com/sauti-health/sauti/pkg/voice"
)

// Compile-time assertion that WS satisfies the Manager interface.
var _ Manager = (*WS)(nil)

// WSOption is a functional option for configuring a [WS] manager.
type WSOption func(*WS)

// WithWSTimeout sets the combined upload+processing watchdog budget.
// Default is [DefaultTimeout].
func WithWSTimeout(d time.Duration) WSOption {
	return func(m *WS) { m.timeout = d }
}

// WithWSAuthToken sets a Bearer token sent on the dial handshake.
func WithWSAuthToken(token string) WSOption {
	return func(m *WS) { m.authToken = token }
}

// WithWSMetrics records transfer durations on the given instruments.
func WithWSMetrics(met *observe.Metrics) WSOption {
	return func(m *WS) { m.metrics = met }
}

// WS implements [Manager] as a single-shot WebSocket exchange: dial, send a
// JSON metadata frame followed by one binary audio frame, read one JSON
// result frame, close. Deployments that terminate uploads and processing
// behind the same socket avoid a second TLS handshake per turn this way.
//
// Like [HTTP], a second concurrent Send is rejected with
// voice.ErrSendInFlight.
type WS struct {
	endpoint  string
	authToken string
	timeout   time.Duration
	metrics   *observe.Metrics

	inflight atomic.Bool
}

// NewWS creates a WebSocket transfer manager dialing endpoint
// (a ws:// or wss:// URL).
func NewWS(endpoint string, opts ...WSOption) (*WS, error) {
	if endpoint == "" {
		return nil, errors.New("transfer: endpoint must not be empty")
	}
	m := &WS{
		endpoint: endpoint,
		timeout:  DefaultTimeout,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Send implements [Manager]. Dial, both writes, and the result read all run
// under one watchdog deadline; the connection is closed on every path.
func (m *WS) Send(ctx context.Context, req Request) (*voice.TurnResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if !m.inflight.CompareAndSwap(false, true) {
		return nil, voice.ErrSendInFlight
	}
	defer m.inflight.Store(false)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var dialOpts *websocket.DialOptions
	if m.authToken != "" {
		dialOpts = &websocket.DialOptions{
			HTTPHeader: http.Header{
				"Authorization": []string{"Bearer " + m.authToken},
			},
		}
	}

	start := time.Now()
	conn, _, err := websocket.Dial(ctx, m.endpoint, dialOpts)
	if err != nil {
		return nil, classifyTransport(ctx, err, "dial")
	}
	defer conn.Close(websocket.StatusNormalClosure, "turn complete")

	// Metadata frame first so the service can validate before the payload.
	meta, err := json.Marshal(metadataFor(req))
	if err != nil {
		return nil, fmt.Errorf("transfer: encode metadata: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, meta); err != nil {
		return nil, classifyTransport(ctx, err, "metadata write")
	}
	if err := conn.Write(ctx, websocket.MessageBinary, req.Audio.PCM); err != nil {
		return nil, classifyTransport(ctx, err, "audio write")
	}

	// One frame back: the complete result.
	_, raw, err := conn.Read(ctx)
	if err != nil {
		if status := websocket.CloseStatus(err); status != -1 &&
			status != websocket.StatusNormalClosure {
			// The service refused the turn with a close frame.
			return nil, voice.NewServiceError(0,
				fmt.Sprintf("connection closed with status %d", status))
		}
		return nil, classifyTransport(ctx, err, "result read")
	}

	if req.OnTransportComplete != nil {
		req.OnTransportComplete()
	}

	result, err := decodeResult(raw)
	if err != nil {
		return nil, err
	}

	m.metrics.RecordTransfer(ctx, time.Since(start))
	return result, nil
}
