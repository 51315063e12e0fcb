// Package dispatch defines where accepted transcripts go.
//
// The ingest core emits exactly one call to [Sink.OnFinalTranscript] per
// accepted utterance and nothing else through that path. Consumers (a device
// connection replying with the recognised text, a log, a database) implement
// [Sink] and are combined with [Fanout].
package dispatch

import (
	"context"
	"errors"
	"log/slog"
)

// Sink receives final transcripts that passed the transcript filter.
//
// Implementations must be safe for concurrent use: sessions dispatch from
// their own goroutines.
type Sink interface {
	OnFinalTranscript(ctx context.Context, sessionID, text string) error
}

// PartialSink is implemented by sinks that also want interim transcripts.
// Partials are unfiltered and may be revised by later partials or the final.
type PartialSink interface {
	OnPartialTranscript(ctx context.Context, sessionID, text string)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, sessionID, text string) error

// OnFinalTranscript calls f.
func (f SinkFunc) OnFinalTranscript(ctx context.Context, sessionID, text string) error {
	return f(ctx, sessionID, text)
}

// Fanout delivers to every sink in order. A failing sink does not stop
// delivery to the rest; the errors are joined.
type Fanout []Sink

var (
	_ Sink        = Fanout(nil)
	_ PartialSink = Fanout(nil)
)

// OnFinalTranscript implements [Sink].
func (f Fanout) OnFinalTranscript(ctx context.Context, sessionID, text string) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.OnFinalTranscript(ctx, sessionID, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnPartialTranscript forwards to every member implementing [PartialSink].
func (f Fanout) OnPartialTranscript(ctx context.Context, sessionID, text string) {
	for _, s := range f {
		if ps, ok := s.(PartialSink); ok {
			ps.OnPartialTranscript(ctx, sessionID, text)
		}
	}
}

// LogSink writes every final transcript to a structured logger at info level
// and partials at debug level.
type LogSink struct {
	Logger *slog.Logger
}

var (
	_ Sink        = (*LogSink)(nil)
	_ PartialSink = (*LogSink)(nil)
)

func (l *LogSink) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// OnFinalTranscript implements [Sink]. It never fails.
func (l *LogSink) OnFinalTranscript(ctx context.Context, sessionID, text string) error {
	l.logger().InfoContext(ctx, "final transcript", "session_id", sessionID, "text", text)
	return nil
}

// OnPartialTranscript implements [PartialSink].
func (l *LogSink) OnPartialTranscript(ctx context.Context, sessionID, text string) {
	l.logger().DebugContext(ctx, "partial transcript", "session_id", sessionID, "text", text)
}
