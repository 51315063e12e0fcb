package stt

import "strings"

// KeywordBoost represents a keyword to boost in recognition.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "Hearken").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// Segments assembles the final transcript of a streaming session from the
// committed segments and the trailing interim hypothesis. Segments that merely
// extend or repeat the previous one replace it instead of duplicating text.
//
// The zero value is ready to use. Segments is not safe for concurrent use.
type Segments struct {
	committed []string
	interim   string
}

// Commit appends a final segment and clears the interim hypothesis.
func (s *Segments) Commit(text string) {
	s.committed = appendSegment(s.committed, text)
	s.interim = ""
}

// Interim replaces the trailing interim hypothesis.
func (s *Segments) Interim(text string) {
	s.interim = cleanSegment(text)
}

// Text joins the committed segments and any trailing interim hypothesis with
// single spaces.
func (s *Segments) Text() string {
	segs := append([]string(nil), s.committed...)
	if s.interim != "" {
		segs = appendSegment(segs, s.interim)
	}
	return strings.Join(segs, " ")
}

// Reset discards all segments.
func (s *Segments) Reset() {
	s.committed = s.committed[:0]
	s.interim = ""
}

func appendSegment(segments []string, text string) []string {
	text = cleanSegment(text)
	if text == "" {
		return segments
	}
	if len(segments) == 0 {
		return append(segments, text)
	}
	last := segments[len(segments)-1]
	switch {
	case text == last:
		return segments
	case strings.HasPrefix(text, last):
		segments[len(segments)-1] = text
		return segments
	case strings.HasPrefix(last, text):
		return segments
	default:
		return append(segments, text)
	}
}

// cleanSegment trims text and collapses internal whitespace.
func cleanSegment(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}
