package transcript_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/hearken/internal/transcript"
)

func TestHistory_BoundedOldestEvicted(t *testing.T) {
	t.Parallel()

	h := transcript.NewHistory(3)
	for _, s := range []string{"a", "b", "c", "d"} {
		h.Add(s)
	}
	if got, want := h.Items(), []string{"b", "c", "d"}; !slices.Equal(got, want) {
		t.Fatalf("Items() = %v, want %v", got, want)
	}
	if h.Contains("a") {
		t.Error("evicted entry still reported")
	}
}

func TestHistory_CaseInsensitiveAndDeduplicated(t *testing.T) {
	t.Parallel()

	h := transcript.NewHistory(3)
	h.Add("Yeah")
	h.Add("hmm")
	h.Add("YEAH")

	if !h.Contains("yeah") {
		t.Fatal("Contains should be case-insensitive")
	}
	if got, want := h.Items(), []string{"hmm", "YEAH"}; !slices.Equal(got, want) {
		t.Fatalf("Items() = %v, want %v", got, want)
	}
}

func TestHistory_IgnoresBlank(t *testing.T) {
	t.Parallel()

	h := transcript.NewHistory(0)
	h.Add("   ")
	if h.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", h.Len())
	}
	for i := range transcript.DefaultHistorySize + 2 {
		h.Add(string(rune('a' + i)))
	}
	if h.Len() != transcript.DefaultHistorySize {
		t.Fatalf("Len() = %d, want %d", h.Len(), transcript.DefaultHistorySize)
	}
}
