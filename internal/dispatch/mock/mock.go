// Package mock provides a recording [dispatch.Sink] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hearken/internal/dispatch"
)

// Call is one recorded transcript.
type Call struct {
	SessionID string
	Text      string
}

// Sink records every final and partial transcript it receives.
type Sink struct {
	mu       sync.Mutex
	finals   []Call
	partials []Call

	// Err, if non-nil, is returned by OnFinalTranscript after recording.
	Err error
}

var (
	_ dispatch.Sink        = (*Sink)(nil)
	_ dispatch.PartialSink = (*Sink)(nil)
)

// OnFinalTranscript records the call and returns Err.
func (s *Sink) OnFinalTranscript(_ context.Context, sessionID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finals = append(s.finals, Call{SessionID: sessionID, Text: text})
	return s.Err
}

// OnPartialTranscript records the call.
func (s *Sink) OnPartialTranscript(_ context.Context, sessionID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partials = append(s.partials, Call{SessionID: sessionID, Text: text})
}

// Finals returns a copy of the recorded final transcripts. Thread-safe.
func (s *Sink) Finals() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.finals...)
}

// Partials returns a copy of the recorded partial transcripts. Thread-safe.
func (s *Sink) Partials() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.partials...)
}
