package dispatch_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/MrWong99/hearken/internal/dispatch"
	"github.com/MrWong99/hearken/internal/dispatch/mock"
)

func TestFanout_DeliversToAllDespiteErrors(t *testing.T) {
	t.Parallel()

	errA := errors.New("a failed")
	a := &mock.Sink{Err: errA}
	b := &mock.Sink{}
	var fnCalls int
	fn := dispatch.SinkFunc(func(_ context.Context, _, _ string) error {
		fnCalls++
		return nil
	})

	f := dispatch.Fanout{a, nil, b, fn}
	err := f.OnFinalTranscript(context.Background(), "s1", "hello world")
	if !errors.Is(err, errA) {
		t.Fatalf("err = %v, want to wrap %v", err, errA)
	}
	for i, s := range []*mock.Sink{a, b} {
		got := s.Finals()
		if len(got) != 1 || got[0] != (mock.Call{SessionID: "s1", Text: "hello world"}) {
			t.Errorf("sink %d finals = %v", i, got)
		}
	}
	if fnCalls != 1 {
		t.Errorf("SinkFunc called %d times, want 1", fnCalls)
	}
}

func TestFanout_PartialsOnlyToPartialSinks(t *testing.T) {
	t.Parallel()

	a := &mock.Sink{}
	f := dispatch.Fanout{a, dispatch.SinkFunc(func(context.Context, string, string) error { return nil })}
	f.OnPartialTranscript(context.Background(), "s1", "hel")

	if got := a.Partials(); len(got) != 1 || got[0].Text != "hel" {
		t.Fatalf("partials = %v", got)
	}
	if len(a.Finals()) != 0 {
		t.Fatal("partial must not be recorded as final")
	}
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := &dispatch.LogSink{Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	if err := l.OnFinalTranscript(context.Background(), "dev-1", "lights on"); err != nil {
		t.Fatalf("OnFinalTranscript: %v", err)
	}
	l.OnPartialTranscript(context.Background(), "dev-1", "lights")

	out := buf.String()
	for _, want := range []string{`msg="final transcript"`, "session_id=dev-1", `text="lights on"`, `msg="partial transcript"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}
