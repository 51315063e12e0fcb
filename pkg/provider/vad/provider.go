// Package vad defines the contract for Voice Activity Detection models.
//
// A VAD model scores fixed-length PCM windows with a speech probability. The
// hysteresis that turns those scores into speech onset and offset decisions
// lives in internal/vad; models here are pure scorers with recurrent state.
//
// The split between Engine and SessionHandle mirrors how the weights and the
// recurrent state are owned: an Engine holds read-only weights shared by every
// connection, while each SessionHandle carries the mutable model state of
// exactly one audio stream.
package vad

import (
	"errors"
	"fmt"
)

// Window sizes accepted by the supported sample rates. Silero-family models
// are trained on exactly these lengths.
const (
	WindowSize8k  = 256
	WindowSize16k = 512
)

// ErrWindowSize is returned by SessionHandle.ProcessWindow when the input does
// not contain exactly WindowSize samples.
var ErrWindowSize = errors.New("vad: wrong window size")

// WindowSize returns the model window length in samples for sampleRate, or an
// error if the rate is not supported.
func WindowSize(sampleRate int) (int, error) {
	switch sampleRate {
	case 8000:
		return WindowSize8k, nil
	case 16000:
		return WindowSize16k, nil
	default:
		return 0, fmt.Errorf("vad: unsupported sample rate %d (want 8000 or 16000)", sampleRate)
	}
}

// Config holds the parameters for a new VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must be 8000 or 16000.
	SampleRate int
}

// SessionHandle scores PCM windows for one audio stream. It owns the model's
// recurrent state and is not safe for concurrent use; the ingest controller
// calls it from a single goroutine per connection.
type SessionHandle interface {
	// ProcessWindow returns the speech probability in [0, 1] for one window of
	// PCM16 little-endian mono samples. The window must be exactly
	// WindowSize(SampleRate) samples long.
	ProcessWindow(window []byte) (float64, error)

	// Reset clears the recurrent model state. It does not touch any
	// higher-level speech state kept by the caller.
	Reset()

	// Close releases all resources held by the session.
	Close() error
}

// Engine creates VAD sessions. Implementations must be safe for concurrent
// use: sessions for different connections are created from many goroutines.
type Engine interface {
	// NewSession creates a session with freshly reset model state.
	NewSession(cfg Config) (SessionHandle, error)
}
