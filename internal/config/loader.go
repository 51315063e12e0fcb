package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram", "whisper", "whisper-native", "openai", "mock"},
	"vad": {"silero", "energy"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.Defaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. Call it after
// [Config.Defaults]. It returns a joined error listing all validation failures
// found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if p := cfg.Server.WSPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("server.ws_path %q must start with /", p))
	}

	// VAD
	v := cfg.VAD
	validateProviderName("vad", v.Provider)
	if v.SampleRate != 8000 && v.SampleRate != 16000 {
		errs = append(errs, fmt.Errorf("vad.sample_rate %d is invalid; valid values: 8000, 16000", v.SampleRate))
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		errs = append(errs, fmt.Errorf("vad.confidence %.3f is out of range [0, 1]", v.Confidence))
	}
	if v.StartSecs < 0 {
		errs = append(errs, fmt.Errorf("vad.start_secs %.3f must not be negative", v.StartSecs))
	}
	if v.StopSecs < 0 {
		errs = append(errs, fmt.Errorf("vad.stop_secs %.3f must not be negative", v.StopSecs))
	}
	if v.MinVolume >= 1 {
		errs = append(errs, fmt.Errorf("vad.min_volume %.4f must be below 1", v.MinVolume))
	}
	if v.Provider == "silero" && v.ModelPath == "" {
		errs = append(errs, errors.New("vad.model_path is required for the silero provider"))
	}

	// Session
	if cfg.Session.PreRollSecs < 0 {
		errs = append(errs, fmt.Errorf("session.pre_roll_secs %.3f must not be negative", cfg.Session.PreRollSecs))
	}
	if cfg.Session.FrameDurationMs < 0 || cfg.Session.FrameDurationMs > 120 {
		errs = append(errs, fmt.Errorf("session.frame_duration_ms %d is out of range (0, 120]", cfg.Session.FrameDurationMs))
	}
	if cfg.Session.EchoWindowMs > 300 {
		slog.Warn("session.echo_window_ms is unusually long; onsets right after playback will be missed",
			"echo_window_ms", cfg.Session.EchoWindowMs)
	}

	// Recognizer
	rc := cfg.Recognizer
	if rc.Provider.Name == "" {
		errs = append(errs, errors.New("recognizer.provider.name is required"))
	}
	validateProviderName("stt", rc.Provider.Name)
	for i, fb := range rc.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("recognizer.fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	if rc.StartTimeoutSecs < 0 {
		errs = append(errs, fmt.Errorf("recognizer.start_timeout_secs %.3f must not be negative", rc.StartTimeoutSecs))
	}
	if rc.EndTimeoutSecs < 0 {
		errs = append(errs, fmt.Errorf("recognizer.end_timeout_secs %.3f must not be negative", rc.EndTimeoutSecs))
	}
	for i, kw := range rc.Keywords {
		if strings.TrimSpace(kw.Keyword) == "" {
			errs = append(errs, fmt.Errorf("recognizer.keywords[%d].keyword is empty", i))
		}
	}

	// Filter
	f := cfg.Filter
	if f.Mode != "" && !f.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("filter.mode %q is invalid; valid values: smart, strict, disabled", f.Mode))
	}
	if f.FuzzyThreshold < 0 || f.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("filter.fuzzy_threshold %.3f is out of range [0, 1]", f.FuzzyThreshold))
	}
	if f.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("filter.history_size %d must not be negative", f.HistorySize))
	}
	for i, h := range f.HallucinationSet {
		if strings.TrimSpace(h) == "" {
			errs = append(errs, fmt.Errorf("filter.hallucination_set[%d] is empty", i))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
