// Package mock provides test doubles for the vad package interfaces.
//
// Session scores windows through ConfidenceFunc, or returns Confidence when no
// func is set. Every scored window is recorded so tests can assert on what the
// analyzer actually fed the model.
//
// Example:
//
//	eng := &mock.Engine{NewSessionFunc: func(vad.Config) vad.SessionHandle {
//	    return &mock.Session{ConfidenceFunc: func(w []byte) float64 { ... }}
//	}}
package mock

import (
	"sync"

	"github.com/MrWong99/hearken/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// NewSessionFunc, if set, builds the handle returned by NewSession.
	NewSessionFunc func(cfg vad.Config) vad.SessionHandle

	// Session is returned by NewSession when NewSessionFunc is nil. If both are
	// nil a default Session is returned.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns a handle or NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.NewSessionFunc != nil {
		return e.NewSessionFunc(cfg), nil
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Calls returns a copy of the recorded NewSession calls. Thread-safe.
func (e *Engine) Calls() []NewSessionCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]NewSessionCall(nil), e.NewSessionCalls...)
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// ConfidenceFunc, if set, scores each window.
	ConfidenceFunc func(window []byte) float64

	// Confidence is returned when ConfidenceFunc is nil.
	Confidence float64

	// ProcessErr, if non-nil, is returned by every ProcessWindow call.
	ProcessErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// Windows records a copy of every window passed to ProcessWindow.
	Windows [][]byte

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// ProcessWindow records the window and returns the scripted confidence.
func (s *Session) ProcessWindow(window []byte) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(window))
	copy(cp, window)
	s.Windows = append(s.Windows, cp)
	if s.ProcessErr != nil {
		return 0, s.ProcessErr
	}
	if s.ConfidenceFunc != nil {
		return s.ConfidenceFunc(window), nil
	}
	return s.Confidence, nil
}

// Reset records the call by incrementing ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// WindowCount returns the number of windows scored so far. Thread-safe.
func (s *Session) WindowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Windows)
}

// Resets returns the number of Reset calls so far. Thread-safe.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ResetCallCount
}

// Ensure Session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*Session)(nil)
