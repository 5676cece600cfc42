package config_test

import (
	"testing"
	"time"

	"github.com/crcostac/lingostream/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Azure: config.AzureConfig{
			Endpoint:   "https://myres.openai.azure.com",
			APIKey:     "k",
			Deployment: "rt",
		},
		Translation: config.TranslationConfig{
			TargetLanguage: "English",
			Voice:          "alloy",
		},
		Audio: config.AudioConfig{Backend: "portaudio"},
		Server: config.ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   config.LogInfo,
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("diff of identical configs = %+v; want empty", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel: got %q, want debug", d.NewLogLevel)
	}
	if d.RestartRequired {
		t.Error("log level change must not require a restart")
	}
}

func TestDiff_SchedulerTuningChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Scheduler.MaxPendingResponses = 4

	d := config.Diff(old, new)
	if !d.SchedulerChanged {
		t.Error("expected SchedulerChanged=true")
	}
	if d.RestartRequired {
		t.Error("scheduler tuning change must not flag RestartRequired")
	}
}

func TestDiff_SessionSettingsRequireRestart(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"deployment", func(c *config.Config) { c.Azure.Deployment = "other" }},
		{"target language", func(c *config.Config) { c.Translation.TargetLanguage = "French" }},
		{"voice", func(c *config.Config) { c.Translation.Voice = "echo" }},
		{"sample rate", func(c *config.Config) { c.Audio.SampleRate = 16000 }},
		{"chunk duration", func(c *config.Config) { c.Audio.ChunkDuration = config.Duration(50 * time.Millisecond) }},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tc.mutate(new)
			if d := config.Diff(old, new); !d.RestartRequired {
				t.Errorf("diff = %+v; want RestartRequired", d)
			}
		})
	}
}
