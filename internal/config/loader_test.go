package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
client:
  log_level: debug
  metrics_addr: ":9091"
service:
  url: https://api.sauti.example/v1/turns
  transport: http
  auth_token: secret
  upload_timeout_ms: 5000
  processing_timeout_ms: 15000
interaction:
  auto_play: false
  initial_conversation_id: conv-42
  cultural:
    language: sw
    region: east-africa
    tags: [formal]
crisis:
  threshold: 0.8
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader returned error: %v", err)
	}

	if cfg.Client.LogLevel != LogDebug {
		t.Errorf("log level = %q, want debug", cfg.Client.LogLevel)
	}
	if cfg.Service.URL != "https://api.sauti.example/v1/turns" {
		t.Errorf("service url = %q", cfg.Service.URL)
	}
	if got := cfg.Service.Timeout(); got != 20*time.Second {
		t.Errorf("combined timeout = %v, want 20s", got)
	}
	if cfg.Interaction.AutoPlayEnabled() {
		t.Error("auto_play: false not honoured")
	}
	if !cfg.Interaction.HistoryEnabled() {
		t.Error("persist_history should default to true")
	}
	if cfg.Interaction.Cultural == nil || cfg.Interaction.Cultural.Language != "sw" {
		t.Errorf("cultural context not decoded: %+v", cfg.Interaction.Cultural)
	}
	if cfg.Crisis.Threshold != 0.8 {
		t.Errorf("crisis threshold = %v, want 0.8", cfg.Crisis.Threshold)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	yaml := `
service:
  url: https://api.sauti.example
  endpont: typo
`
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Error("unknown field accepted")
	}
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	cfg := &Config{
		Client:  ClientConfig{LogLevel: "loud"},
		Service: ServiceConfig{URL: "", UploadTimeoutMs: -1},
		Crisis:  CrisisConfig{Threshold: 1.5},
		Discord: &DiscordConfig{},
	}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate returned nil for invalid config")
	}
	for _, want := range []string{
		"client.log_level",
		"service.url is required",
		"upload_timeout_ms",
		"crisis.threshold",
		"discord.bot_token",
		"discord.guild_id",
		"discord.channel_id",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q:\n%v", want, err)
		}
	}
}

func TestValidate_TransportURLSchemeMismatch(t *testing.T) {
	cfg := &Config{Service: ServiceConfig{
		URL:       "https://api.sauti.example",
		Transport: TransportWebSocket,
	}}
	if err := Validate(cfg); err == nil {
		t.Error("https URL accepted for websocket transport")
	}

	cfg = &Config{Service: ServiceConfig{
		URL:       "wss://api.sauti.example",
		Transport: TransportHTTP,
	}}
	if err := Validate(cfg); err == nil {
		t.Error("wss URL accepted for http transport")
	}
}

func TestServiceTimeout_Defaults(t *testing.T) {
	var s ServiceConfig
	if got := s.Timeout(); got != 30*time.Second {
		t.Errorf("default combined timeout = %v, want 30s", got)
	}
	s.UploadTimeoutMs = 2000
	if got := s.Timeout(); got != 22*time.Second {
		t.Errorf("combined timeout = %v, want 22s", got)
	}
}

func TestLogLevel_Level(t *testing.T) {
	cases := map[LogLevel]string{
		LogDebug: "DEBUG",
		LogInfo:  "INFO",
		LogWarn:  "WARN",
		LogError: "ERROR",
		"":       "INFO",
	}
	for l, want := range cases {
		if got := l.Level().String(); got != want {
			t.Errorf("LogLevel(%q).Level() = %v, want %v", l, got, want)
		}
	}
}
