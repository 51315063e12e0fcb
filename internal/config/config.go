// Package config provides the configuration schema, loader, and provider
// registry for the hearken ingestion server.
//
// Durations are expressed in the units their YAML keys name (secs or ms) so
// that the file reads the same way the operator thinks about the audio
// timeline. [Config.Defaults] fills every unset value; conversion into the
// component configs happens in internal/app.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the hearken server.
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

// Level returns the slog level for l. Unknown values map to info.
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

// FilterMode selects how aggressively the transcript filter rejects input.
type FilterMode string

const (
	// FilterSmart applies every rule but lets short answers through when the
	// assistant asked a question.
	FilterSmart FilterMode = "smart"

	// FilterStrict additionally rejects single words and very short residues.
	FilterStrict FilterMode = "strict"

	// FilterDisabled only rejects empty transcripts.
	FilterDisabled FilterMode = "disabled"
)

// IsValid reports whether m is a recognised filter mode.
func (m FilterMode) IsValid() bool {
	switch m {
	case FilterSmart, FilterStrict, FilterDisabled:
		return true
	}
	return false
}

// Config is the root configuration structure for hearken.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	VAD           VADConfig           `yaml:"vad"`
	Session       SessionConfig       `yaml:"session"`
	Recognizer    RecognizerConfig    `yaml:"recognizer"`
	Filter        FilterConfig        `yaml:"filter"`
	TranscriptLog TranscriptLogConfig `yaml:"transcript_log"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// WSPath is the HTTP path devices connect to. Default: "/xiaozhi/v1/".
	WSPath string `yaml:"ws_path"`

	// AuthToken, when set, must be presented by devices as a bearer token.
	AuthToken string `yaml:"auth_token"`

	// IdleTimeoutSecs closes connections on which nobody spoke for this long.
	// Zero selects the default of 120 s; a negative value disables the timeout.
	IdleTimeoutSecs float64 `yaml:"idle_timeout_secs"`

	// MaxUtteranceSecs ends an utterance that has been open this long.
	// Zero selects the default of 30 s; a negative value disables the guard.
	MaxUtteranceSecs float64 `yaml:"max_utterance_secs"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// VADConfig selects the VAD model and the hysteresis parameters.
type VADConfig struct {
	// Provider selects the registered VAD engine ("silero" or "energy").
	Provider string `yaml:"provider"`

	// ModelPath is the filesystem path to the model weights.
	ModelPath string `yaml:"model_path"`

	// SampleRate is the analysis rate in Hz, 8000 or 16000.
	SampleRate int `yaml:"sample_rate"`

	// Confidence is the per-window voicing threshold in [0, 1].
	Confidence float64 `yaml:"confidence"`

	// StartSecs is the contiguous voiced time required to confirm onset.
	StartSecs float64 `yaml:"start_secs"`

	// StopSecs is the contiguous silence required to confirm offset.
	StopSecs float64 `yaml:"stop_secs"`

	// MinVolume is the normalised RMS below which a window counts as silent
	// without consulting the model. Negative disables the gate.
	MinVolume float64 `yaml:"min_volume"`

	// ModelResetPeriodSecs is the wall-clock period of model state resets.
	// Negative disables periodic resets.
	ModelResetPeriodSecs float64 `yaml:"model_reset_period_secs"`

	// Options holds engine-specific settings (e.g. "library_path" for silero,
	// "floor" and "ceiling" for energy).
	Options map[string]any `yaml:"options"`
}

// SessionConfig holds per-connection buffering parameters.
type SessionConfig struct {
	// PreRollSecs is the amount of pre-onset audio replayed to the recognizer.
	PreRollSecs float64 `yaml:"pre_roll_secs"`

	// EchoWindowMs is how long VAD is forced quiet after the device starts
	// listening. Zero selects the default; a negative value disables gating.
	EchoWindowMs int `yaml:"echo_window_ms"`

	// FrameDurationMs is the nominal packet length sent by devices.
	FrameDurationMs int `yaml:"frame_duration_ms"`

	// DiscardOnForceEnd drops the transcript of an utterance cut short by the
	// device (abort, listen stop) instead of dispatching it.
	DiscardOnForceEnd bool `yaml:"discard_on_force_end"`
}

// RecognizerConfig selects the streaming recognizer and its timeouts.
type RecognizerConfig struct {
	// Provider is the primary recognizer.
	Provider ProviderEntry `yaml:"provider"`

	// Fallbacks are tried in order when the primary cannot open a session.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Language is the BCP-47 recognition language. Empty lets the backend pick.
	Language string `yaml:"language"`

	// StartTimeoutSecs bounds how long opening a session may take.
	StartTimeoutSecs float64 `yaml:"start_timeout_secs"`

	// EndTimeoutSecs bounds how long flushing the final transcript may take.
	EndTimeoutSecs float64 `yaml:"end_timeout_secs"`

	// Keywords are vocabulary hints passed to every recognizer session.
	Keywords []KeywordConfig `yaml:"keywords"`
}

// KeywordConfig is one vocabulary hint.
type KeywordConfig struct {
	Keyword string  `yaml:"keyword"`
	Boost   float64 `yaml:"boost"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// FilterConfig configures the transcript filter.
type FilterConfig struct {
	// Mode selects the rule set. Default: smart.
	Mode FilterMode `yaml:"mode"`

	// HallucinationSet lists residues the recognizer commonly emits on
	// silence. Matching is case-insensitive after punctuation stripping.
	HallucinationSet []string `yaml:"hallucination_set"`

	// AlwaysFilter lists residues rejected in every enabled mode, regardless
	// of conversational context.
	AlwaysFilter []string `yaml:"always_filter"`

	// HistorySize is how many rejected residues are remembered per session.
	HistorySize int `yaml:"history_size"`

	// BotUtteranceDelayMs rejects transcripts arriving this soon after the
	// assistant finished speaking. Zero disables the rule.
	BotUtteranceDelayMs int `yaml:"bot_utterance_delay_ms"`

	// FuzzyThreshold enables phonetic matching against the hallucination set
	// when > 0 (Jaro-Winkler similarity, 0..1).
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`

	// MinCharLength is the shortest residue strict mode accepts.
	MinCharLength int `yaml:"min_char_length"`
}

// TranscriptLogConfig configures the optional transcript log.
type TranscriptLogConfig struct {
	// PostgresDSN enables logging accepted transcripts to PostgreSQL.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Default values applied by [Config.Defaults].
const (
	DefaultListenAddr       = ":8000"
	DefaultWSPath           = "/xiaozhi/v1/"
	DefaultIdleTimeoutSecs  = 120
	DefaultMaxUtteranceSecs = 30
	DefaultVADProvider      = "silero"
	DefaultSampleRate       = 16000
	DefaultConfidence       = 0.5
	DefaultStartSecs        = 0.2
	DefaultStopSecs         = 0.8
	DefaultMinVolume        = 0.001
	DefaultModelResetSecs   = 5
	DefaultPreRollSecs      = 0.3
	DefaultEchoWindowMs     = 100
	DefaultFrameDurationMs  = 60
	DefaultStartTimeoutSecs = 10
	DefaultEndTimeoutSecs   = 3
	DefaultHistorySize      = 8
	DefaultMinCharLength    = 3
)

// DefaultHallucinationSet is used when filter.hallucination_set is empty.
var DefaultHallucinationSet = []string{"yeah", "uh", "um", "hmm", "mhm", "thank you", "thanks for watching"}

// Defaults fills every unset field with its default value and returns c.
func (c *Config) Defaults() *Config {
	s := &c.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.WSPath == "" {
		s.WSPath = DefaultWSPath
	}
	if s.IdleTimeoutSecs == 0 {
		s.IdleTimeoutSecs = DefaultIdleTimeoutSecs
	}
	if s.MaxUtteranceSecs == 0 {
		s.MaxUtteranceSecs = DefaultMaxUtteranceSecs
	}

	v := &c.VAD
	if v.Provider == "" {
		v.Provider = DefaultVADProvider
	}
	if v.SampleRate == 0 {
		v.SampleRate = DefaultSampleRate
	}
	if v.Confidence == 0 {
		v.Confidence = DefaultConfidence
	}
	if v.StartSecs == 0 {
		v.StartSecs = DefaultStartSecs
	}
	if v.StopSecs == 0 {
		v.StopSecs = DefaultStopSecs
	}
	if v.MinVolume == 0 {
		v.MinVolume = DefaultMinVolume
	}
	if v.ModelResetPeriodSecs == 0 {
		v.ModelResetPeriodSecs = DefaultModelResetSecs
	}

	se := &c.Session
	if se.PreRollSecs == 0 {
		se.PreRollSecs = DefaultPreRollSecs
	}
	if se.EchoWindowMs == 0 {
		se.EchoWindowMs = DefaultEchoWindowMs
	}
	if se.FrameDurationMs == 0 {
		se.FrameDurationMs = DefaultFrameDurationMs
	}

	r := &c.Recognizer
	if r.StartTimeoutSecs == 0 {
		r.StartTimeoutSecs = DefaultStartTimeoutSecs
	}
	if r.EndTimeoutSecs == 0 {
		r.EndTimeoutSecs = DefaultEndTimeoutSecs
	}

	f := &c.Filter
	if f.Mode == "" {
		f.Mode = FilterSmart
	}
	if len(f.HallucinationSet) == 0 {
		f.HallucinationSet = append([]string(nil), DefaultHallucinationSet...)
	}
	if f.HistorySize == 0 {
		f.HistorySize = DefaultHistorySize
	}
	if f.MinCharLength == 0 {
		f.MinCharLength = DefaultMinCharLength
	}
	return c
}

// Secs converts a float seconds value into a [time.Duration]. Negative values
// yield zero, which the consumers treat as "disabled".
func Secs(v float64) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}

// Millis converts an integer milliseconds value into a [time.Duration].
func Millis(v int) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Millisecond
}
