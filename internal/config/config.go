// Package config provides the configuration schema and loader for the Sauti
// voice companion client.
package config

import (
	"log/slog"
	"time"

	"github.com/sauti-health/sauti/pkg/voice"
)

// LogLevel controls log verbosity for the client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to the slog level, defaulting to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Transport selects how utterances reach the processing service.
type Transport string

const (
	// TransportHTTP sends each turn as one multipart POST.
	TransportHTTP Transport = "http"

	// TransportWebSocket sends each turn as one WebSocket exchange.
	TransportWebSocket Transport = "websocket"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportHTTP || t == TransportWebSocket
}

// Config is the root configuration structure for the client. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Client      ClientConfig      `yaml:"client"`
	Service     ServiceConfig     `yaml:"service"`
	Interaction InteractionConfig `yaml:"interaction"`
	Crisis      CrisisConfig      `yaml:"crisis"`
	Discord     *DiscordConfig    `yaml:"discord"`
}

// ClientConfig holds logging and observability settings.
type ClientConfig struct {
	// LogLevel controls verbosity. Defaults to info.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address serving the Prometheus /metrics
	// endpoint (e.g., ":9091"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ServiceConfig describes the remote processing endpoint.
type ServiceConfig struct {
	// URL is the processing endpoint. http(s):// for the HTTP transport,
	// ws(s):// for the WebSocket transport.
	URL string `yaml:"url"`

	// Transport selects the wire mechanism. Defaults to http.
	Transport Transport `yaml:"transport"`

	// AuthToken is a Bearer token sent with every request, if set.
	AuthToken string `yaml:"auth_token"`

	// UploadTimeoutMs is the budget for transmitting the utterance.
	// ProcessingTimeoutMs is the budget for the remote inference. The two
	// collapse into a single watchdog covering the full round trip; either
	// left at zero contributes the default share.
	UploadTimeoutMs     int `yaml:"upload_timeout_ms"`
	ProcessingTimeoutMs int `yaml:"processing_timeout_ms"`
}

// Default budget shares when a timeout is unset.
const (
	defaultUploadTimeout     = 10 * time.Second
	defaultProcessingTimeout = 20 * time.Second
)

// Timeout returns the combined watchdog budget for one turn.
func (s ServiceConfig) Timeout() time.Duration {
	upload := time.Duration(s.UploadTimeoutMs) * time.Millisecond
	if upload <= 0 {
		upload = defaultUploadTimeout
	}
	processing := time.Duration(s.ProcessingTimeoutMs) * time.Millisecond
	if processing <= 0 {
		processing = defaultProcessingTimeout
	}
	return upload + processing
}

// InteractionConfig tunes the turn lifecycle.
type InteractionConfig struct {
	// AutoPlay controls whether synthesized replies play automatically.
	// Defaults to true when omitted.
	AutoPlay *bool `yaml:"auto_play"`

	// PersistHistory controls whether completed turns are kept in the
	// in-memory history. Defaults to true when omitted.
	PersistHistory *bool `yaml:"persist_history"`

	// InitialConversationID resumes a conversation the host persisted from
	// an earlier run. Leave empty to start fresh.
	InitialConversationID string `yaml:"initial_conversation_id"`

	// Cultural is the cultural framing forwarded with every request.
	Cultural *voice.CulturalContext `yaml:"cultural"`
}

// AutoPlayEnabled resolves the auto-play flag with its default.
func (i InteractionConfig) AutoPlayEnabled() bool {
	return i.AutoPlay == nil || *i.AutoPlay
}

// HistoryEnabled resolves the history flag with its default.
func (i InteractionConfig) HistoryEnabled() bool {
	return i.PersistHistory == nil || *i.PersistHistory
}

// CrisisConfig tunes the crisis signal relay.
type CrisisConfig struct {
	// Threshold is the risk-score cutoff in (0, 1]. Zero selects the
	// built-in default of 0.7.
	Threshold float64 `yaml:"threshold"`
}

// DiscordConfig enables the Discord voice platform. When nil, the client
// runs with whatever platform the host wires in.
type DiscordConfig struct {
	// BotToken authenticates the gateway session.
	BotToken string `yaml:"bot_token"`

	// GuildID and ChannelID identify the voice channel to join.
	GuildID   string `yaml:"guild_id"`
	ChannelID string `yaml:"channel_id"`
}
