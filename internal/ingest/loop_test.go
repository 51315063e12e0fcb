package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/hearken/internal/transcript"
	sttmock "github.com/MrWong99/hearken/pkg/provider/stt/mock"
)

// utterance returns the records of quiet lead-in followed by enough voiced
// audio to open a recognizer session.
func utterance(start int) []Record {
	var recs []Record
	for i := range 5 {
		recs = append(recs, Frame(quietChunk(start+i)))
	}
	for i := range 20 {
		recs = append(recs, Frame(voicedChunk(start+5+i)))
	}
	return recs
}

func runAsync(ctx context.Context, h *harness, in <-chan Record, opts ...RunOption) <-chan error {
	done := make(chan error, 1)
	go func() { done <- Run(ctx, h.c, h.s, in, opts...) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestRun_ClosedQueueForceEnds(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), &sttmock.Provider{Finals: []string{"good night"}}, transcript.FilterConfig{})

	in := make(chan Record, 64)
	for _, r := range utterance(0) {
		in <- r
	}
	close(in)

	if err := waitRun(t, runAsync(context.Background(), h, in)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.s.Active() {
		t.Error("utterance left open")
	}
	if finals := h.finals(); len(finals) != 1 || finals[0] != "good night" {
		t.Errorf("dispatched %q", finals)
	}
	if got := h.s.Stats().Frames; got != 25 {
		t.Errorf("frames = %d, want 25", got)
	}
}

func TestRun_CancelledContextStillDispatches(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), &sttmock.Provider{Finals: []string{"interrupted"}}, transcript.FilterConfig{})

	in := make(chan Record)
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, h, in)
	for _, r := range utterance(0) {
		in <- r
	}
	cancel()

	if err := waitRun(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if finals := h.finals(); len(finals) != 1 || finals[0] != "interrupted" {
		t.Errorf("dispatched %q", finals)
	}
}

func TestRun_ControlRecords(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil, transcript.FilterConfig{})

	in := make(chan Record, 128)
	in <- Record{Control: ControlSpeakStart}
	for i := range 20 {
		in <- Frame(voicedChunk(i))
	}
	in <- Record{Control: ControlSpeakStop}
	in <- Record{Control: ControlExpectResponse, Flag: true}
	in <- Record{Control: ControlListenStart}
	close(in)

	if err := waitRun(t, runAsync(context.Background(), h, in)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.stt.StartCount() != 0 {
		t.Error("recognizer opened during playback")
	}
	if h.s.Speaking() {
		t.Error("still speaking after speak stop")
	}
	if h.s.echo.ArmedAt().IsZero() {
		t.Error("echo gate not armed")
	}
	if !h.s.expectingResponse {
		t.Error("expect-response flag not applied")
	}
}

func TestRun_ListenStopEndsUtterance(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), &sttmock.Provider{Finals: []string{"switch off", "never"}}, transcript.FilterConfig{})

	in := make(chan Record, 64)
	for _, r := range utterance(0) {
		in <- r
	}
	in <- Record{Control: ControlListenStop}
	close(in)

	if err := waitRun(t, runAsync(context.Background(), h, in)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := h.countOps(sttmock.OpEnd); got != 1 {
		t.Errorf("ends = %d, want 1", got)
	}
	if finals := h.finals(); len(finals) != 1 || finals[0] != "switch off" {
		t.Errorf("dispatched %q", finals)
	}
}

func TestRun_IdleTimeout(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil, transcript.FilterConfig{})

	idle := make(chan struct{}, 1)
	in := make(chan Record)
	done := runAsync(context.Background(), h, in, WithIdleTimeout(20*time.Millisecond, func() {
		select {
		case idle <- struct{}{}:
		default:
		}
	}))

	// Background noise does not count as activity.
	in <- Frame(quietChunk(0))
	select {
	case <-idle:
	case <-time.After(2 * time.Second):
		t.Fatal("idle hook not called")
	}
	close(in)
	if err := waitRun(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestControl_String(t *testing.T) {
	t.Parallel()
	if ControlListenStart.String() != "listen_start" || Control(99).String() != "unknown" {
		t.Errorf("unexpected names %q, %q", ControlListenStart, Control(99))
	}
}
