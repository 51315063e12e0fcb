package transcript

import (
	"strings"
	"sync"
)

// DefaultHistorySize is the number of rejected residues a [History] keeps
// when constructed with a non-positive size.
const DefaultHistorySize = 8

// History is the bounded, case-insensitive list of recently rejected
// transcripts of one session. The oldest entry is evicted when full.
//
// The filter only reads it in [Filter.Check]; [Filter.Apply] and
// upstream repudiation are the writers. History is safe for concurrent use.
type History struct {
	mu    sync.Mutex
	size  int
	items []string
}

// NewHistory returns an empty History holding at most size entries.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size, items: make([]string, 0, size)}
}

// Add records text as the most recent entry. Re-adding an entry that is
// already present moves it to the front instead of storing a duplicate.
// Blank text is ignored.
func (h *History) Add(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if i := h.index(text); i >= 0 {
		h.items = append(h.items[:i], h.items[i+1:]...)
	}
	if len(h.items) == h.size {
		h.items = append(h.items[:0], h.items[1:]...)
	}
	h.items = append(h.items, text)
}

// Contains reports whether text equals (case-insensitively) a stored entry.
func (h *History) Contains(text string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.index(strings.TrimSpace(text)) >= 0
}

// Items returns a copy of the entries, oldest first.
func (h *History) Items() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.items...)
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

func (h *History) index(text string) int {
	for i, it := range h.items {
		if strings.EqualFold(it, text) {
			return i
		}
	}
	return -1
}
