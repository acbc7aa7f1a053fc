package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown fields are rejected so typos fail loudly. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Client.LogLevel != "" && !cfg.Client.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("client.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Client.LogLevel))
	}

	if cfg.Service.URL == "" {
		errs = append(errs, errors.New("service.url is required"))
	}
	if cfg.Service.Transport != "" && !cfg.Service.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("service.transport %q is invalid; valid values: http, websocket", cfg.Service.Transport))
	}
	switch cfg.Service.Transport {
	case TransportWebSocket:
		if cfg.Service.URL != "" && !strings.HasPrefix(cfg.Service.URL, "ws://") && !strings.HasPrefix(cfg.Service.URL, "wss://") {
			errs = append(errs, fmt.Errorf("service.url %q must be a ws:// or wss:// URL for the websocket transport", cfg.Service.URL))
		}
	case TransportHTTP, "":
		if cfg.Service.URL != "" && !strings.HasPrefix(cfg.Service.URL, "http://") && !strings.HasPrefix(cfg.Service.URL, "https://") {
			errs = append(errs, fmt.Errorf("service.url %q must be an http:// or https:// URL for the http transport", cfg.Service.URL))
		}
	}
	if cfg.Service.UploadTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("service.upload_timeout_ms %d must not be negative", cfg.Service.UploadTimeoutMs))
	}
	if cfg.Service.ProcessingTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("service.processing_timeout_ms %d must not be negative", cfg.Service.ProcessingTimeoutMs))
	}

	if t := cfg.Crisis.Threshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("crisis.threshold %.2f is out of range [0, 1]", t))
	}

	if d := cfg.Discord; d != nil {
		if d.BotToken == "" {
			errs = append(errs, errors.New("discord.bot_token is required when the discord block is present"))
		}
		if d.GuildID == "" {
			errs = append(errs, errors.New("discord.guild_id is required when the discord block is present"))
		}
		if d.ChannelID == "" {
			errs = append(errs, errors.New("discord.channel_id is required when the discord block is present"))
		}
	}

	return errors.Join(errs...)
}
