package ingest

import (
	"math"
	"time"
)

// PreRoll is a fixed-capacity ring of the most recent decoded chunks. Every
// chunk is pushed, speech or not, so that the audio preceding a confirmed
// onset can be replayed to the recognizer.
//
// PreRoll is owned by one session goroutine and is not safe for concurrent
// use.
type PreRoll struct {
	buf   [][]byte
	start int
	n     int
}

// PreRollCapacity returns the number of chunks covering d:
// ceil(d · sampleRate / samplesPerChunk). Non-positive inputs yield zero.
func PreRollCapacity(d time.Duration, sampleRate, samplesPerChunk int) int {
	if d <= 0 || sampleRate <= 0 || samplesPerChunk <= 0 {
		return 0
	}
	samples := d.Seconds() * float64(sampleRate)
	// Round before taking the ceiling so 0.3 s · 16000 / 960 is 5, not 6.
	return int(math.Ceil(math.Round(samples) / float64(samplesPerChunk)))
}

// NewPreRoll returns an empty ring holding at most capacity chunks. A zero
// capacity ring stores nothing.
func NewPreRoll(capacity int) *PreRoll {
	if capacity < 0 {
		capacity = 0
	}
	return &PreRoll{buf: make([][]byte, capacity)}
}

// Push appends chunk, evicting the oldest entry when full. The ring keeps a
// reference to chunk; callers must not modify it afterwards.
func (p *PreRoll) Push(chunk []byte) {
	c := len(p.buf)
	if c == 0 {
		return
	}
	if p.n < c {
		p.buf[(p.start+p.n)%c] = chunk
		p.n++
		return
	}
	p.buf[p.start] = chunk
	p.start = (p.start + 1) % c
}

// Snapshot returns the stored chunks, oldest first. The returned slice is
// new; the chunks themselves are shared.
func (p *PreRoll) Snapshot() [][]byte {
	out := make([][]byte, p.n)
	for i := range p.n {
		out[i] = p.buf[(p.start+i)%len(p.buf)]
	}
	return out
}

// Len returns the number of stored chunks.
func (p *PreRoll) Len() int { return p.n }

// Cap returns the capacity in chunks.
func (p *PreRoll) Cap() int { return len(p.buf) }
