package ingest

import "time"

// EchoGate suppresses speech onset for a short window after the device
// starts listening, while the tail of its own playback may still be picked
// up by the microphone.
type EchoGate struct {
	window  time.Duration
	now     func() time.Time
	armedAt time.Time
}

// NewEchoGate returns a gate that reports [EchoGate.Gated] for window after
// each [EchoGate.Arm]. A non-positive window never gates. now defaults to
// [time.Now].
func NewEchoGate(window time.Duration, now func() time.Time) *EchoGate {
	if now == nil {
		now = time.Now
	}
	return &EchoGate{window: window, now: now}
}

// Arm records the listen start time.
func (g *EchoGate) Arm() { g.armedAt = g.now() }

// ArmedAt returns the last listen start time, or the zero time.
func (g *EchoGate) ArmedAt() time.Time { return g.armedAt }

// Gated reports whether the current time is inside the echo window.
func (g *EchoGate) Gated() bool {
	if g.window <= 0 || g.armedAt.IsZero() {
		return false
	}
	return g.now().Sub(g.armedAt) < g.window
}
