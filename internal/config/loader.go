package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// apiKeyEnv is consulted when azure.api_key is absent from the file, so the
// key can be kept out of configs checked into version control.
const apiKeyEnv = "AZURE_OPENAI_API_KEY"

// ValidVoices lists the synthesised voices known to the realtime API.
// Used by [Validate] to warn about unrecognised voice names.
var ValidVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
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
	if cfg.Azure.APIKey == "" {
		cfg.Azure.APIKey = os.Getenv(apiKeyEnv)
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = "portaudio"
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

	// Azure
	if cfg.Azure.Endpoint == "" {
		errs = append(errs, errors.New("azure.endpoint is required"))
	} else if u, err := url.Parse(cfg.Azure.Endpoint); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("azure.endpoint %q is not a valid URL", cfg.Azure.Endpoint))
	}
	if cfg.Azure.APIKey == "" {
		errs = append(errs, fmt.Errorf("azure.api_key is required (or set %s)", apiKeyEnv))
	}
	if cfg.Azure.Deployment == "" {
		errs = append(errs, errors.New("azure.deployment is required"))
	}

	// Translation
	if cfg.Translation.TargetLanguage == "" {
		errs = append(errs, errors.New("translation.target_language is required"))
	}
	if t := cfg.Translation.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("translation.temperature %.2f is out of range [0, 2]", t))
	}
	if cfg.Translation.MaxResponseTokens < 0 {
		errs = append(errs, fmt.Errorf("translation.max_response_tokens %d must not be negative", cfg.Translation.MaxResponseTokens))
	}
	if v := cfg.Translation.Voice; v != "" && !slices.Contains(ValidVoices, v) {
		slog.Warn("unknown voice name — may be a typo or a newly added voice",
			"voice", v,
			"known", strings.Join(ValidVoices, ", "),
		)
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [0, 2]", cfg.Audio.Channels))
	}
	if cfg.Audio.ChunkDuration < 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_duration %v must not be negative", cfg.Audio.ChunkDuration.Std()))
	}
	if m := cfg.Audio.CaptureMode; m != "" && !m.IsValid() {
		errs = append(errs, fmt.Errorf("audio.capture_mode %q is invalid; valid values: device, loopback", m))
	}
	if sr := cfg.Audio.SampleRate; sr > 0 && sr != 16000 && sr != 24000 && sr != 48000 {
		slog.Warn("unusual sample rate — the realtime API expects 24kHz PCM16",
			"sample_rate", sr,
		)
	}

	// Scheduler interval coherence. Zero values mean "use defaults" and are
	// skipped; only explicitly configured values are cross-checked.
	s := cfg.Scheduler
	if s.MinCommitInterval < 0 || s.MaxCommitInterval < 0 || s.InitialCommitInterval < 0 ||
		s.IntervalAdjustment < 0 || s.MinCommitAudio < 0 || s.SilenceThreshold < 0 {
		errs = append(errs, errors.New("scheduler durations must not be negative"))
	}
	if s.MinCommitInterval > 0 && s.MaxCommitInterval > 0 && s.MinCommitInterval > s.MaxCommitInterval {
		errs = append(errs, fmt.Errorf("scheduler.min_commit_interval %v exceeds scheduler.max_commit_interval %v",
			s.MinCommitInterval.Std(), s.MaxCommitInterval.Std()))
	}
	if s.InitialCommitInterval > 0 {
		if s.MinCommitInterval > 0 && s.InitialCommitInterval < s.MinCommitInterval {
			errs = append(errs, fmt.Errorf("scheduler.initial_commit_interval %v is below scheduler.min_commit_interval %v",
				s.InitialCommitInterval.Std(), s.MinCommitInterval.Std()))
		}
		if s.MaxCommitInterval > 0 && s.InitialCommitInterval > s.MaxCommitInterval {
			errs = append(errs, fmt.Errorf("scheduler.initial_commit_interval %v exceeds scheduler.max_commit_interval %v",
				s.InitialCommitInterval.Std(), s.MaxCommitInterval.Std()))
		}
	}
	if s.MaxPendingResponses < 0 {
		errs = append(errs, fmt.Errorf("scheduler.max_pending_responses %d must not be negative", s.MaxPendingResponses))
	}

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		slog.Warn("server.listen_addr is empty; health and metrics endpoints are disabled")
	}

	return errors.Join(errs...)
}
