package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidVoices lists the prebuilt voices known to the live endpoint.
// Used by [Validate] to warn about unrecognised names.
var ValidVoices = []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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
// Useful in tests where configs are constructed from string literals.
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

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Live
	if cfg.Live.APIKey == "" && cfg.Live.TokenURL == "" {
		errs = append(errs, errors.New("live: one of api_key or token_url is required"))
	}
	if cfg.Live.Voice != "" && !slices.Contains(ValidVoices, cfg.Live.Voice) {
		slog.Warn("unknown voice name, may be a typo or newly added voice",
			"voice", cfg.Live.Voice,
			"known", ValidVoices,
		)
	}
	if cfg.Live.DialTimeout < 0 {
		errs = append(errs, errors.New("live.dial_timeout must not be negative"))
	}
	if cfg.Live.AckTimeout < 0 {
		errs = append(errs, errors.New("live.ack_timeout must not be negative"))
	}

	// Audio
	if cfg.Audio.InputFrameSize < 0 {
		errs = append(errs, errors.New("audio.input_frame_size must not be negative"))
	}
	if cfg.Audio.VADThreshold < 0 || cfg.Audio.VADThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.vad_threshold %.3f is out of range [0, 1]", cfg.Audio.VADThreshold))
	}
	if cfg.Audio.VADSilenceWindow < 0 {
		errs = append(errs, errors.New("audio.vad_silence_window must not be negative"))
	}

	// Booking
	if cfg.Booking.PostgresDSN == "" {
		slog.Warn("booking.postgres_dsn is empty; reservations will be kept in memory only")
	}
	openH, closeH := cfg.Booking.OpenHour, cfg.Booking.CloseHour
	if openH < 0 || openH > 23 {
		errs = append(errs, fmt.Errorf("booking.open_hour %d is out of range [0, 23]", openH))
	}
	if closeH < 0 || closeH > 24 {
		errs = append(errs, fmt.Errorf("booking.close_hour %d is out of range [0, 24]", closeH))
	}
	if openH != 0 && closeH != 0 && openH >= closeH {
		errs = append(errs, fmt.Errorf("booking.open_hour %d must be before close_hour %d", openH, closeH))
	}

	return errors.Join(errs...)
}
