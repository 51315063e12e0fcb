// Package energy provides a weightless VAD model that maps window RMS energy
// onto a speech probability.
//
// It is intended for tests, constrained deployments without ONNX Runtime, and
// as a fallback engine. The mapping is a clamped linear ramp between a floor
// (probability 0) and a ceiling (probability 1); the hysteresis in
// internal/vad does the rest.
package energy

import (
	"fmt"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/vad"
)

const (
	defaultFloor   = 0.005
	defaultCeiling = 0.05
)

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithFloor sets the normalised RMS at or below which confidence is 0.
func WithFloor(floor float64) Option {
	return func(e *Engine) { e.floor = floor }
}

// WithCeiling sets the normalised RMS at or above which confidence is 1.
func WithCeiling(ceiling float64) Option {
	return func(e *Engine) { e.ceiling = ceiling }
}

// Engine implements vad.Engine. It holds no weights and is safe for
// concurrent use.
type Engine struct {
	floor   float64
	ceiling float64
}

// New creates an energy Engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{floor: defaultFloor, ceiling: defaultCeiling}
	for _, o := range opts {
		o(e)
	}
	if e.floor < 0 || e.ceiling <= e.floor {
		return nil, fmt.Errorf("energy: invalid ramp floor=%g ceiling=%g", e.floor, e.ceiling)
	}
	return e, nil
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	size, err := vad.WindowSize(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	return &session{floor: e.floor, ceiling: e.ceiling, windowBytes: size * audio.BytesPerSample}, nil
}

type session struct {
	floor       float64
	ceiling     float64
	windowBytes int
}

func (s *session) ProcessWindow(window []byte) (float64, error) {
	if len(window) != s.windowBytes {
		return 0, fmt.Errorf("%w: got %d bytes, want %d", vad.ErrWindowSize, len(window), s.windowBytes)
	}
	rms := audio.RMS(window)
	switch {
	case rms <= s.floor:
		return 0, nil
	case rms >= s.ceiling:
		return 1, nil
	default:
		return (rms - s.floor) / (s.ceiling - s.floor), nil
	}
}

func (s *session) Reset()       {}
func (s *session) Close() error { return nil }

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)
