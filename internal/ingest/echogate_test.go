package ingest

import (
	"testing"
	"time"
)

func TestEchoGate(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	g := NewEchoGate(100*time.Millisecond, clk.Now)

	if g.Gated() {
		t.Fatal("gate closed before the first Arm")
	}
	g.Arm()
	if !g.ArmedAt().Equal(clk.Now()) {
		t.Errorf("ArmedAt = %v, want %v", g.ArmedAt(), clk.Now())
	}
	if !g.Gated() {
		t.Error("not gated right after Arm")
	}
	clk.Advance(99 * time.Millisecond)
	if !g.Gated() {
		t.Error("not gated inside the window")
	}
	clk.Advance(time.Millisecond)
	if g.Gated() {
		t.Error("still gated at the window boundary")
	}

	// Re-arming restarts the window.
	g.Arm()
	if !g.Gated() {
		t.Error("not gated after re-arm")
	}
}

func TestEchoGate_Disabled(t *testing.T) {
	t.Parallel()
	for _, w := range []time.Duration{0, -time.Second} {
		g := NewEchoGate(w, nil)
		g.Arm()
		if g.Gated() {
			t.Errorf("window %s: gated", w)
		}
	}
}
