// Package silero provides a vad.Engine backed by the Silero VAD v5 ONNX model
// running on ONNX Runtime.
//
// One Engine holds one ONNX Runtime session, which carries the read-only model
// weights and is shared by every connection. The recurrent state tensor, the
// rolling context, and the input/output buffers belong to the per-connection
// SessionHandle. ONNX Runtime sessions are safe for concurrent Run calls, so
// sessions never contend on anything but the runtime's own thread pool.
//
// The ONNX Runtime shared library must be available. Set its path with
// WithLibraryPath or the ONNXRUNTIME_LIB environment variable.
package silero

import (
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/vad"
)

const (
	// stateSize is the flattened size of the model's 2x1x128 recurrent state.
	stateSize = 2 * 1 * 128

	contextSize8k  = 32
	contextSize16k = 64
)

var (
	inputNames  = []string{"input", "state", "sr"}
	outputNames = []string{"output", "stateN"}
)

// envOnce guards the process-wide ONNX Runtime environment.
var (
	envOnce sync.Once
	envErr  error
)

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithLibraryPath sets the path of the ONNX Runtime shared library.
func WithLibraryPath(path string) Option {
	return func(e *Engine) { e.libPath = path }
}

// WithThreads sets the intra-op thread count of the shared runtime session.
func WithThreads(n int) Option {
	return func(e *Engine) { e.threads = n }
}

// Engine implements vad.Engine using the Silero VAD ONNX model.
type Engine struct {
	libPath string
	threads int
	sess    *ort.DynamicAdvancedSession
}

// New loads the model at modelPath and initialises the ONNX Runtime
// environment on first use. The Engine must be closed with Close.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("silero: model path must not be empty")
	}
	e := &Engine{libPath: os.Getenv("ONNXRUNTIME_LIB"), threads: 1}
	for _, o := range opts {
		o(e)
	}

	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("silero: read model: %w", err)
	}

	envOnce.Do(func() {
		if e.libPath != "" {
			ort.SetSharedLibraryPath(e.libPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	if envErr != nil {
		return nil, fmt.Errorf("silero: init onnxruntime: %w", envErr)
	}

	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("silero: session options: %w", err)
	}
	defer so.Destroy()
	if err := so.SetIntraOpNumThreads(e.threads); err != nil {
		return nil, fmt.Errorf("silero: set intra-op threads: %w", err)
	}
	if err := so.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("silero: set inter-op threads: %w", err)
	}

	e.sess, err = ort.NewDynamicAdvancedSessionWithONNXData(data, inputNames, outputNames, so)
	if err != nil {
		return nil, fmt.Errorf("silero: create session: %w", err)
	}
	return e, nil
}

// Close destroys the shared runtime session. Sessions created from this
// Engine must not be used afterwards.
func (e *Engine) Close() error {
	if e.sess == nil {
		return nil
	}
	err := e.sess.Destroy()
	e.sess = nil
	return err
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if e.sess == nil {
		return nil, errors.New("silero: engine is closed")
	}
	window, err := vad.WindowSize(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	ctxSize := contextSize16k
	if cfg.SampleRate == 8000 {
		ctxSize = contextSize8k
	}

	s := &session{
		rt:      e.sess,
		window:  window,
		ctxSize: ctxSize,
	}
	if err := s.allocate(int64(cfg.SampleRate)); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// session owns the per-stream tensors. Its state tensor is the recurrent
// state fed back on every window.
type session struct {
	rt      *ort.DynamicAdvancedSession
	window  int
	ctxSize int

	input  *ort.Tensor[float32]
	state  *ort.Tensor[float32]
	sr     *ort.Tensor[int64]
	output *ort.Tensor[float32]
	stateN *ort.Tensor[float32]
}

func (s *session) allocate(rate int64) error {
	var err error
	if s.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(s.ctxSize+s.window))); err != nil {
		return fmt.Errorf("silero: input tensor: %w", err)
	}
	if s.state, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128)); err != nil {
		return fmt.Errorf("silero: state tensor: %w", err)
	}
	if s.sr, err = ort.NewTensor(ort.NewShape(1), []int64{rate}); err != nil {
		return fmt.Errorf("silero: sr tensor: %w", err)
	}
	if s.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		return fmt.Errorf("silero: output tensor: %w", err)
	}
	if s.stateN, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128)); err != nil {
		return fmt.Errorf("silero: stateN tensor: %w", err)
	}
	return nil
}

// ProcessWindow implements vad.SessionHandle. The model input is the last
// ctxSize samples of the previous window followed by the new window.
func (s *session) ProcessWindow(window []byte) (float64, error) {
	if len(window) != s.window*audio.BytesPerSample {
		return 0, fmt.Errorf("%w: got %d bytes, want %d", vad.ErrWindowSize, len(window), s.window*audio.BytesPerSample)
	}

	in := s.input.GetData()
	copy(in[:s.ctxSize], in[s.window:])
	copy(in[s.ctxSize:], audio.ToFloat32(window))

	if err := s.rt.Run(
		[]ort.Value{s.input, s.state, s.sr},
		[]ort.Value{s.output, s.stateN},
	); err != nil {
		return 0, fmt.Errorf("silero: inference: %w", err)
	}

	copy(s.state.GetData(), s.stateN.GetData())
	return float64(s.output.GetData()[0]), nil
}

// Reset implements vad.SessionHandle. It zeroes the recurrent state and the
// rolling context.
func (s *session) Reset() {
	clear(s.state.GetData())
	clear(s.input.GetData())
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	errs := []error{
		destroy(s.input),
		destroy(s.state),
		destroy(s.output),
		destroy(s.stateN),
	}
	if s.sr != nil {
		errs = append(errs, s.sr.Destroy())
	}
	s.input, s.state, s.sr, s.output, s.stateN = nil, nil, nil, nil, nil
	return errors.Join(errs...)
}

func destroy(t *ort.Tensor[float32]) error {
	if t == nil {
		return nil
	}
	return t.Destroy()
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)
