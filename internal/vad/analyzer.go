// Package vad turns per-window speech probabilities into speech onset and
// offset decisions.
//
// An [Analyzer] slices decoded PCM chunks into model windows, skips windows
// below the volume floor, asks a [vad.SessionHandle] for a confidence, and
// runs the four-state hysteresis:
//
//	Quiet → Starting → Speaking → Stopping → Quiet
//	Starting → Quiet (voicing too short)
//	Stopping → Speaking (speech resumed)
//
// Voiced time and silence are counted in samples, so decisions are a pure
// function of the audio timeline and independent of how the audio was
// chunked. The only wall-clock input is the periodic model state reset.
package vad

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/vad"
)

// Params are the hysteresis parameters of an [Analyzer].
type Params struct {
	// SampleRate of the analyzed PCM, 8000 or 16000.
	SampleRate int

	// Confidence is the minimum model probability for a voiced window.
	Confidence float64

	// Start is the contiguous voiced time required to confirm onset.
	Start time.Duration

	// Stop is the contiguous silence required to confirm offset.
	Stop time.Duration

	// MinVolume is the normalised RMS below which a window is silent without
	// running the model. Zero disables the gate.
	MinVolume float64

	// ModelResetPeriod is the wall-clock period of model state resets.
	// Zero disables periodic resets.
	ModelResetPeriod time.Duration
}

// DefaultParams returns the default parameters for sampleRate.
func DefaultParams(sampleRate int) Params {
	return Params{
		SampleRate:       sampleRate,
		Confidence:       0.5,
		Start:            200 * time.Millisecond,
		Stop:             800 * time.Millisecond,
		MinVolume:        0.001,
		ModelResetPeriod: 5 * time.Second,
	}
}

// Result describes the outcome of analyzing one chunk.
type Result struct {
	// Confidence is the highest window confidence seen in the chunk. Windows
	// below the volume floor count as zero.
	Confidence float64

	// State is the hysteresis state after the last window of the chunk.
	State State

	// Onset is true if speech onset was confirmed inside the chunk.
	Onset bool

	// Offset is true if speech offset was confirmed inside the chunk.
	Offset bool

	// Windows is the number of model windows completed by the chunk.
	Windows int
}

// Option configures an [Analyzer].
type Option func(*Analyzer)

// WithClock overrides the wall clock used for periodic model resets.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.log = l
		}
	}
}

// WithMetrics sets the metrics sink used to count inference failures.
// Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) {
		if m != nil {
			a.metrics = m
		}
	}
}

// Analyzer is the per-session speech detector. It is not safe for concurrent
// use; each session drives its own Analyzer from one goroutine.
type Analyzer struct {
	model   vad.SessionHandle
	params  Params
	now     func() time.Time
	log     *slog.Logger
	metrics *observe.Metrics

	window      int // samples per model window
	windowBytes int
	startLen    int // samples of voicing needed for onset
	stopLen     int // samples of silence needed for offset

	residue   []byte // partial window carried to the next chunk
	state     State
	voiced    int // contiguous voiced samples while Starting
	silence   int // contiguous silent samples while Stopping
	lastReset time.Time
}

// NewAnalyzer returns an analyzer driving model with params. The model state
// is reset before the first window.
func NewAnalyzer(model vad.SessionHandle, params Params, opts ...Option) (*Analyzer, error) {
	if model == nil {
		return nil, errors.New("vad: nil model session")
	}
	window, err := vad.WindowSize(params.SampleRate)
	if err != nil {
		return nil, err
	}
	if params.Confidence < 0 || params.Confidence > 1 {
		return nil, fmt.Errorf("vad: confidence %.3f out of range [0, 1]", params.Confidence)
	}
	if params.Start < 0 || params.Stop < 0 {
		return nil, fmt.Errorf("vad: negative start (%s) or stop (%s)", params.Start, params.Stop)
	}

	a := &Analyzer{
		model:       model,
		params:      params,
		now:         time.Now,
		log:         slog.Default(),
		window:      window,
		windowBytes: window * audio.BytesPerSample,
		startLen:    audio.Samples(params.SampleRate, params.Start),
		stopLen:     audio.Samples(params.SampleRate, params.Stop),
		residue:     make([]byte, 0, window*audio.BytesPerSample),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.Reset()
	return a, nil
}

// Params returns the parameters the analyzer was built with.
func (a *Analyzer) Params() Params { return a.params }

// State returns the current hysteresis state.
func (a *Analyzer) State() State { return a.state }

// Reset clears the hysteresis, the carried residue, and the model state.
func (a *Analyzer) Reset() {
	a.state = Quiet
	a.voiced = 0
	a.silence = 0
	a.residue = a.residue[:0]
	a.model.Reset()
	a.lastReset = a.now()
}

// Analyze feeds one PCM16 chunk through the detector. When gated is true
// every window counts as unvoiced regardless of its confidence, which keeps
// the detector from leaving Quiet during echo or playback.
func (a *Analyzer) Analyze(pcm []byte, gated bool) Result {
	a.maybeResetModel()

	var res Result
	buf := pcm
	if len(a.residue) > 0 {
		need := a.windowBytes - len(a.residue)
		if len(buf) < need {
			a.residue = append(a.residue, buf...)
			res.State = a.state
			return res
		}
		a.residue = append(a.residue, buf[:need]...)
		buf = buf[need:]
		a.step(a.residue, gated, &res)
		a.residue = a.residue[:0]
	}
	for len(buf) >= a.windowBytes {
		a.step(buf[:a.windowBytes], gated, &res)
		buf = buf[a.windowBytes:]
	}
	a.residue = append(a.residue, buf...)

	res.State = a.state
	return res
}

// step scores one window and advances the hysteresis.
func (a *Analyzer) step(window []byte, gated bool, res *Result) {
	res.Windows++

	conf := a.confidence(window)
	if conf > res.Confidence {
		res.Confidence = conf
	}
	voiced := !gated && conf >= a.params.Confidence

	prev := a.state
	if voiced {
		switch a.state {
		case Quiet:
			a.state = Starting
			a.voiced = a.window
		case Starting:
			a.voiced += a.window
		case Stopping:
			a.state = Speaking
			a.silence = 0
		}
	} else {
		switch a.state {
		case Starting:
			a.state = Quiet
			a.voiced = 0
		case Speaking:
			a.state = Stopping
			a.silence = a.window
		case Stopping:
			a.silence += a.window
		}
	}

	if a.state == Starting && a.voiced >= a.startLen {
		a.state = Speaking
		a.voiced = 0
		res.Onset = true
	}
	if a.state == Stopping && a.silence >= a.stopLen {
		a.state = Quiet
		a.silence = 0
		res.Offset = true
	}

	if a.state != prev {
		a.log.Debug("vad: state change", "from", prev, "to", a.state, "confidence", conf, "gated", gated)
	}
}

// confidence returns the model probability for window, or zero if the window
// is below the volume floor or inference failed.
func (a *Analyzer) confidence(window []byte) float64 {
	if audio.RMS(window) < a.params.MinVolume {
		return 0
	}
	conf, err := a.model.ProcessWindow(window)
	if err != nil {
		a.log.Warn("vad: inference failed", "err", err)
		a.metrics.RecordError(context.Background(), observe.KindVADInference)
		return 0
	}
	return conf
}

func (a *Analyzer) maybeResetModel() {
	if a.params.ModelResetPeriod <= 0 {
		return
	}
	now := a.now()
	if now.Sub(a.lastReset) < a.params.ModelResetPeriod {
		return
	}
	a.model.Reset()
	a.lastReset = now
}
