package ingest

import (
	"testing"
	"time"
)

func TestPreRollCapacity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		d    time.Duration
		rate int
		spc  int
		want int
	}{
		{"default 16k frames", 300 * time.Millisecond, 16000, 960, 5},
		{"default 16k windows", 300 * time.Millisecond, 16000, 512, 10},
		{"8k windows", 300 * time.Millisecond, 8000, 256, 10},
		{"partial chunk rounds up", 100 * time.Millisecond, 16000, 960, 2},
		{"zero duration", 0, 16000, 960, 0},
		{"negative duration", -time.Second, 16000, 960, 0},
		{"zero chunk", time.Second, 16000, 0, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := PreRollCapacity(tc.d, tc.rate, tc.spc); got != tc.want {
				t.Errorf("PreRollCapacity(%s, %d, %d) = %d, want %d", tc.d, tc.rate, tc.spc, got, tc.want)
			}
		})
	}
}

func TestPreRoll_EvictsOldest(t *testing.T) {
	t.Parallel()
	p := NewPreRoll(3)
	for i := range 5 {
		p.Push([]byte{byte(i)})
		if p.Len() > p.Cap() {
			t.Fatalf("len %d exceeds cap %d", p.Len(), p.Cap())
		}
	}
	got := p.Snapshot()
	want := []byte{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("snapshot len = %d, want %d", len(got), len(want))
	}
	for i, c := range got {
		if c[0] != want[i] {
			t.Errorf("snapshot[%d] = %d, want %d", i, c[0], want[i])
		}
	}
}

func TestPreRoll_PartiallyFilled(t *testing.T) {
	t.Parallel()
	p := NewPreRoll(4)
	p.Push([]byte{7})
	p.Push([]byte{8})
	got := p.Snapshot()
	if len(got) != 2 || got[0][0] != 7 || got[1][0] != 8 {
		t.Errorf("snapshot = %v, want [[7] [8]]", got)
	}
}

func TestPreRoll_ZeroCapacity(t *testing.T) {
	t.Parallel()
	p := NewPreRoll(0)
	p.Push([]byte{1})
	if p.Len() != 0 || len(p.Snapshot()) != 0 {
		t.Errorf("zero-capacity ring stored %d chunks", p.Len())
	}
}

func TestPreRoll_SnapshotIsIndependent(t *testing.T) {
	t.Parallel()
	p := NewPreRoll(2)
	p.Push([]byte{1})
	snap := p.Snapshot()
	p.Push([]byte{2})
	p.Push([]byte{3})
	if len(snap) != 1 || snap[0][0] != 1 {
		t.Errorf("snapshot changed after push: %v", snap)
	}
}
