package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/hearken/internal/config"
)

func baseConfig() *config.Config {
	return (&config.Config{
		VAD:        config.VADConfig{Provider: "energy"},
		Recognizer: config.RecognizerConfig{Provider: config.ProviderEntry{Name: "mock"}},
	}).Defaults()
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, cur := baseConfig(), baseConfig()
	cur.Server.LogLevel = config.LogDebug

	d := config.Diff(old, cur)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("got %+v, want log level change to debug", d)
	}
}

func TestDiff_VADHysteresisChanged(t *testing.T) {
	t.Parallel()
	old, cur := baseConfig(), baseConfig()
	cur.VAD.StopSecs = 0.5

	d := config.Diff(old, cur)
	if !d.VADChanged {
		t.Error("expected VADChanged")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("hysteresis changes should not need a restart, got %v", d.RestartRequired)
	}
}

func TestDiff_VADModelNeedsRestart(t *testing.T) {
	t.Parallel()
	old, cur := baseConfig(), baseConfig()
	cur.VAD.Provider = "silero"

	d := config.Diff(old, cur)
	if !slices.Contains(d.RestartRequired, "vad") {
		t.Errorf("RestartRequired = %v, want vad", d.RestartRequired)
	}
}

func TestDiff_SessionChanged(t *testing.T) {
	t.Parallel()
	old, cur := baseConfig(), baseConfig()
	cur.Session.EchoWindowMs = 200

	if d := config.Diff(old, cur); !d.SessionChanged {
		t.Errorf("expected SessionChanged, got %+v", d)
	}
}

func TestDiff_FilterChanged(t *testing.T) {
	t.Parallel()
	old, cur := baseConfig(), baseConfig()
	cur.Filter.AlwaysFilter = []string{"bye"}

	if d := config.Diff(old, cur); !d.FilterChanged {
		t.Errorf("expected FilterChanged, got %+v", d)
	}
}

func TestDiff_RecognizerNeedsRestart(t *testing.T) {
	t.Parallel()
	old, cur := baseConfig(), baseConfig()
	cur.Recognizer.Fallbacks = []config.ProviderEntry{{Name: "openai"}}

	d := config.Diff(old, cur)
	if !slices.Contains(d.RestartRequired, "recognizer") {
		t.Errorf("RestartRequired = %v, want recognizer", d.RestartRequired)
	}
	if d.Empty() {
		t.Error("diff should not be empty")
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old, cur := baseConfig(), baseConfig()
	cur.Server.LogLevel = config.LogWarn
	cur.Filter.Mode = config.FilterDisabled
	cur.Server.ListenAddr = ":9999"

	d := config.Diff(old, cur)
	if !d.LogLevelChanged || !d.FilterChanged {
		t.Errorf("got %+v", d)
	}
	if !slices.Contains(d.RestartRequired, "server") {
		t.Errorf("RestartRequired = %v, want server", d.RestartRequired)
	}
}
