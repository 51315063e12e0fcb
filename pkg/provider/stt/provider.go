// Package stt defines the Provider interface for streaming speech recognizers.
//
// A recognizer session covers exactly one utterance. The ingest controller
// opens it on confirmed speech onset, feeds it PCM chunks in arrival order,
// and ends it after the silence hangover to obtain the final transcript:
//
//	h, _ := p.StartStream(ctx, cfg)
//	partial, _ := h.Feed(ctx, pcm) // zero or more times
//	final, _ := h.End(ctx)
//
// Close releases a session without producing a transcript; it is used when an
// utterance is abandoned (feed failure, orphaned start) and after End.
//
// Backends that only transcribe complete recordings (HTTP Whisper, OpenAI)
// buffer the fed audio and do their work in End. Streaming backends
// (Deepgram) forward audio as it is fed and collect the committed segments.
package stt

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by optional capabilities a backend lacks.
var ErrNotSupported = errors.New("stt: not supported")

// ErrSessionClosed is returned by Feed and End after Close or End.
var ErrSessionClosed = errors.New("stt: session closed")

// StreamConfig describes the audio format and recognition hints for a new
// recognizer session.
type StreamConfig struct {
	// SessionID identifies the device session the utterance belongs to. It is
	// used for logging and request tagging only.
	SessionID string

	// SampleRate is the audio sample rate in Hz (8000 or 16000).
	SampleRate int

	// Channels is the number of audio channels. Always 1 for ingest.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Keywords are vocabulary hints that raise the recognition probability of
	// uncommon words.
	Keywords []KeywordBoost
}

// SessionHandle is an open recognizer session for one utterance.
//
// Feed and End are never called concurrently for the same handle; Close may be
// called from another goroutine (for example when an End timed out) and must
// be idempotent.
type SessionHandle interface {
	// Feed delivers one PCM16LE chunk. It may return the latest partial
	// transcript; an empty string means no new partial is available.
	Feed(ctx context.Context, pcm []byte) (partial string, err error)

	// End flushes the session and returns the final transcript, which may be
	// empty. After End the handle only accepts Close.
	End(ctx context.Context) (final string, err error)

	// Close releases all resources without producing a transcript. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any recognizer backend.
//
// Implementations must be safe for concurrent use: sessions of different
// devices are opened concurrently.
type Provider interface {
	// StartStream opens a new recognizer session. The returned handle is
	// ready to accept audio immediately. The caller owns the handle and must
	// call End or Close.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
