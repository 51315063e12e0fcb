package stt

import (
	"context"
	"fmt"
	"sync"
)

// TranscribeFunc transcribes one complete PCM16LE recording.
type TranscribeFunc func(ctx context.Context, pcm []byte) (string, error)

// BufferedSession adapts a batch transcription backend to [SessionHandle].
// Feed accumulates audio without producing partials; End transcribes the
// whole recording once. An utterance with no audio ends with "" without
// calling the backend.
type BufferedSession struct {
	transcribe TranscribeFunc

	mu     sync.Mutex
	pcm    []byte
	closed bool
}

// NewBufferedSession returns a session that calls transcribe at End.
func NewBufferedSession(transcribe TranscribeFunc) *BufferedSession {
	return &BufferedSession{transcribe: transcribe}
}

// Feed appends pcm to the recording.
func (s *BufferedSession) Feed(_ context.Context, pcm []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	s.pcm = append(s.pcm, pcm...)
	return "", nil
}

// End transcribes the recording. The session is closed afterwards.
func (s *BufferedSession) End(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	s.closed = true
	pcm := s.pcm
	s.pcm = nil
	s.mu.Unlock()

	if len(pcm) == 0 {
		return "", nil
	}
	text, err := s.transcribe(ctx, pcm)
	if err != nil {
		return "", fmt.Errorf("stt: transcribe: %w", err)
	}
	return cleanSegment(text), nil
}

// Close drops the recording.
func (s *BufferedSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pcm = nil
	return nil
}

// Len returns the number of buffered bytes.
func (s *BufferedSession) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pcm)
}

var _ SessionHandle = (*BufferedSession)(nil)
