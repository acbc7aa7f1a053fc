package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sauti-health/sauti/internal/observe"
	"github.com/sauti-health/sauti/pkg/voice"
)

// maxErrorBody bounds how much of a non-2xx response body is read for the
// error message.
const maxErrorBody = 4 << 10

// Compile-time assertion that HTTP satisfies the Manager interface.
var _ Manager = (*HTTP)(nil)

// HTTPOption is a functional option for configuring an [HTTP] manager.
type HTTPOption func(*HTTP)

// WithHTTPClient overrides the underlying client. A client-level Timeout,
// if set, composes with the watchdog: whichever expires first aborts the
// request.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(m *HTTP) { m.client = c }
}

// WithTimeout sets the combined upload+processing watchdog budget.
// Default is [DefaultTimeout].
func WithTimeout(d time.Duration) HTTPOption {
	return func(m *HTTP) { m.timeout = d }
}

// WithAuthToken sets a Bearer token sent with every request.
func WithAuthToken(token string) HTTPOption {
	return func(m *HTTP) { m.authToken = token }
}

// WithMetrics records transfer durations on the given instruments.
func WithMetrics(met *observe.Metrics) HTTPOption {
	return func(m *HTTP) { m.metrics = met }
}

// HTTP implements [Manager] with a single multipart POST to the processing
// endpoint. It is safe for concurrent use, though a second Send while one
// is outstanding is rejected with voice.ErrSendInFlight.
type HTTP struct {
	endpoint  string
	authToken string
	client    *http.Client
	timeout   time.Duration
	metrics   *observe.Metrics

	inflight atomic.Bool
}

// NewHTTP creates an HTTP transfer manager posting to endpoint.
func NewHTTP(endpoint string, opts ...HTTPOption) (*HTTP, error) {
	if endpoint == "" {
		return nil, errors.New("transfer: endpoint must not be empty")
	}
	m := &HTTP{
		endpoint: endpoint,
		client:   &http.Client{},
		timeout:  DefaultTimeout,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Send implements [Manager]. The full round trip — request write, remote
// processing, response read — runs under one watchdog deadline.
func (m *HTTP) Send(ctx context.Context, req Request) (*voice.TurnResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if !m.inflight.CompareAndSwap(false, true) {
		return nil, voice.ErrSendInFlight
	}
	defer m.inflight.Store(false)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	body, contentType, err := buildMultipart(req)
	if err != nil {
		return nil, fmt.Errorf("transfer: build request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("transfer: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	if m.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.authToken)
	}

	start := time.Now()
	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(ctx, err, "round trip")
	}
	defer resp.Body.Close()

	// Transport completed; the result is pending decode.
	if req.OnTransportComplete != nil {
		req.OnTransportComplete()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		slog.Warn("processing endpoint returned error status",
			"status", resp.StatusCode,
			"session_id", req.SessionID,
		)
		return nil, voice.NewServiceError(resp.StatusCode,
			fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(detail)))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		// The watchdog can expire mid-body; classify before blaming the wire.
		return nil, classifyTransport(ctx, err, "response read")
	}
	result, err := decodeResult(raw)
	if err != nil {
		return nil, err
	}

	m.metrics.RecordTransfer(ctx, time.Since(start))
	return result, nil
}

// buildMultipart encodes the utterance and its metadata as a multipart form:
// one file part for the PCM payload plus a field per metadata value, with
// the cultural context as an embedded JSON field.
func buildMultipart(req Request) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("audio", "utterance.pcm")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Audio.PCM); err != nil {
		return nil, "", err
	}

	meta := metadataFor(req)
	fields := map[string]string{
		"session_id":       meta.SessionID,
		"duration_seconds": strconv.FormatFloat(meta.DurationSeconds, 'f', -1, 64),
		"sample_rate":      strconv.Itoa(meta.SampleRate),
		"channels":         strconv.Itoa(meta.Channels),
	}
	if meta.ConversationID != "" {
		fields["conversation_id"] = meta.ConversationID
	}
	if meta.Cultural != nil {
		cc, err := json.Marshal(meta.Cultural)
		if err != nil {
			return nil, "", err
		}
		fields["cultural_context"] = string(cc)
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
