// Package config provides the configuration schema, loader, and audio backend
// registry for the lingostream translation engine.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crcostac/lingostream/pkg/audio"
)

// LogLevel controls log verbosity.
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

// CaptureMode selects where input audio is captured from.
type CaptureMode string

const (
	// CaptureDevice records from the default input device (microphone).
	CaptureDevice CaptureMode = "device"

	// CaptureLoopback records what the machine is playing back.
	CaptureLoopback CaptureMode = "loopback"
)

// IsValid reports whether m is a recognised capture mode.
func (m CaptureMode) IsValid() bool {
	return m == CaptureDevice || m == CaptureLoopback
}

// Mode converts m to the audio-layer capture mode. Unrecognised values map to
// device capture.
func (m CaptureMode) Mode() audio.CaptureMode {
	if m == CaptureLoopback {
		return audio.ModeLoopback
	}
	return audio.ModeDevice
}

// Duration is a [time.Duration] that unmarshals from YAML strings such as
// "100ms" or "2s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a standard [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for lingostream.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Azure       AzureConfig       `yaml:"azure"`
	Translation TranslationConfig `yaml:"translation"`
	Audio       AudioConfig       `yaml:"audio"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Server      ServerConfig      `yaml:"server"`
}

// AzureConfig identifies the Azure OpenAI realtime deployment to stream
// against.
type AzureConfig struct {
	// Endpoint is the resource endpoint, e.g. "https://myres.openai.azure.com".
	Endpoint string `yaml:"endpoint"`

	// APIKey authenticates against the resource. When empty, the loader falls
	// back to the AZURE_OPENAI_API_KEY environment variable.
	APIKey string `yaml:"api_key"`

	// Deployment is the realtime model deployment name.
	Deployment string `yaml:"deployment"`

	// APIVersion overrides the realtime API version. Leave empty to use the
	// client's built-in default.
	APIVersion string `yaml:"api_version"`
}

// TranslationConfig describes what the remote model should do with the audio.
type TranslationConfig struct {
	// SourceLanguage is the language spoken in the captured audio. Leave empty
	// to let the model auto-detect.
	SourceLanguage string `yaml:"source_language"`

	// TargetLanguage is the language translations are produced in.
	TargetLanguage string `yaml:"target_language"`

	// Voice selects the synthesised output voice (e.g. "alloy").
	Voice string `yaml:"voice"`

	// MaxResponseTokens caps the length of one translation response.
	// Zero means no explicit cap.
	MaxResponseTokens int `yaml:"max_response_tokens"`

	// Temperature is the model sampling temperature. Zero means the model
	// default.
	Temperature float64 `yaml:"temperature"`
}

// AudioConfig holds capture and playback settings.
type AudioConfig struct {
	// Backend selects the registered audio backend (e.g. "portaudio").
	Backend string `yaml:"backend"`

	// SampleRate is the capture and playback sample rate in Hz. Default 24000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the channel count. Default 1 (mono).
	Channels int `yaml:"channels"`

	// ChunkDuration is how much audio one capture callback delivers.
	// Default 100ms.
	ChunkDuration Duration `yaml:"chunk_duration"`

	// CaptureMode selects microphone or loopback capture. Default "device".
	CaptureMode CaptureMode `yaml:"capture_mode"`
}

// Format returns the audio format described by c, with defaults applied.
func (c AudioConfig) Format() audio.Format {
	f := audio.Format{SampleRate: c.SampleRate, Channels: c.Channels}
	if f.SampleRate <= 0 {
		f.SampleRate = 24000
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	return f
}

// SchedulerConfig tunes the adaptive commit scheduler. Zero-valued fields use
// the scheduler's built-in defaults.
type SchedulerConfig struct {
	// MinCommitInterval and MaxCommitInterval bound the adaptive interval.
	MinCommitInterval Duration `yaml:"min_commit_interval"`
	MaxCommitInterval Duration `yaml:"max_commit_interval"`

	// InitialCommitInterval is the interval before any latency feedback.
	InitialCommitInterval Duration `yaml:"initial_commit_interval"`

	// IntervalAdjustment is the step applied per latency observation.
	IntervalAdjustment Duration `yaml:"interval_adjustment"`

	// MaxPendingResponses is the outstanding-translation ceiling.
	MaxPendingResponses int `yaml:"max_pending_responses"`

	// MinCommitAudio is the minimum accumulated audio worth committing.
	MinCommitAudio Duration `yaml:"min_commit_audio"`

	// SilenceThreshold is how long after the last audio a tick counts as silent.
	SilenceThreshold Duration `yaml:"silence_threshold"`
}

// ServerConfig holds settings for the operational HTTP server and logging.
type ServerConfig struct {
	// ListenAddr is the TCP address the ops server (health, metrics) listens
	// on, e.g. ":8080". Leave empty to disable the ops server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}
