package config

import "slices"

// ConfigDiff describes what changed between two configs.
//
// Changes to the VAD, session, and filter sections are applied to sessions
// opened after the reload; live sessions keep the parameters they started
// with. Recognizer, server address, and transcript log changes need a restart
// and are only reported.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VADChanged     bool // hysteresis or model parameters changed
	SessionChanged bool // pre-roll, echo window, or frame duration changed
	FilterChanged  bool // filter rules changed

	// RestartRequired lists the sections whose changes are ignored until the
	// process restarts.
	RestartRequired []string
}

// Empty reports whether d contains no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VADChanged && !d.SessionChanged &&
		!d.FilterChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ov, nv := old.VAD, new.VAD
	if ov.Confidence != nv.Confidence || ov.StartSecs != nv.StartSecs ||
		ov.StopSecs != nv.StopSecs || ov.MinVolume != nv.MinVolume ||
		ov.ModelResetPeriodSecs != nv.ModelResetPeriodSecs {
		d.VADChanged = true
	}
	if ov.Provider != nv.Provider || ov.ModelPath != nv.ModelPath || ov.SampleRate != nv.SampleRate {
		d.RestartRequired = append(d.RestartRequired, "vad")
	}

	if old.Session != new.Session {
		d.SessionChanged = true
	}

	if diffFilter(old.Filter, new.Filter) {
		d.FilterChanged = true
	}

	if diffRecognizer(old.Recognizer, new.Recognizer) {
		d.RestartRequired = append(d.RestartRequired, "recognizer")
	}
	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.WSPath != new.Server.WSPath {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.TranscriptLog != new.TranscriptLog {
		d.RestartRequired = append(d.RestartRequired, "transcript_log")
	}

	return d
}

func diffFilter(old, new FilterConfig) bool {
	return old.Mode != new.Mode ||
		old.HistorySize != new.HistorySize ||
		old.BotUtteranceDelayMs != new.BotUtteranceDelayMs ||
		old.FuzzyThreshold != new.FuzzyThreshold ||
		old.MinCharLength != new.MinCharLength ||
		!slices.Equal(old.HallucinationSet, new.HallucinationSet) ||
		!slices.Equal(old.AlwaysFilter, new.AlwaysFilter)
}

func diffRecognizer(old, new RecognizerConfig) bool {
	if old.Language != new.Language ||
		old.StartTimeoutSecs != new.StartTimeoutSecs ||
		old.EndTimeoutSecs != new.EndTimeoutSecs ||
		!slices.Equal(old.Keywords, new.Keywords) ||
		len(old.Fallbacks) != len(new.Fallbacks) {
		return true
	}
	if !sameEntry(old.Provider, new.Provider) {
		return true
	}
	for i := range old.Fallbacks {
		if !sameEntry(old.Fallbacks[i], new.Fallbacks[i]) {
			return true
		}
	}
	return false
}

// sameEntry compares the scalar fields of two provider entries. Options maps
// are not compared; changing only options is not detected.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
