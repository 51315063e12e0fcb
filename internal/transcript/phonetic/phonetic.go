// Package phonetic matches recognizer output against a fixed list of known
// phrases by pronunciation.
//
// An [Index] precomputes Double Metaphone codes for every entry. A query
// word is matched in two passes:
//
//  1. Entries whose codes overlap the query's codes are ranked by
//     Jaro-Winkler similarity and accepted above the phonetic threshold.
//  2. With no phonetic candidate, plain Jaro-Winkler similarity is tested
//     against every entry using the stricter fuzzy threshold.
//
// The transcript filter uses it to catch near-miss spellings of the phrases a
// recognizer emits on silence ("hm" for "hmm", "thanks for watchin").
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures an [Index].
type Option func(*Index)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for an entry that
// shares a phonetic code with the query. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(ix *Index) {
		ix.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for an entry that
// shares no phonetic code with the query. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(ix *Index) {
		ix.fuzzyThreshold = threshold
	}
}

type entry struct {
	text   string
	lower  string
	tokens []string
	codes  map[string]struct{}
}

// Index is an immutable phrase list prepared for phonetic lookups. It is safe
// for concurrent use.
type Index struct {
	entries           []entry
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewIndex prepares phrases for matching. Blank phrases are skipped.
func NewIndex(phrases []string, opts ...Option) *Index {
	ix := &Index{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(ix)
	}
	for _, p := range phrases {
		lower := strings.ToLower(strings.TrimSpace(p))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		ix.entries = append(ix.entries, entry{
			text:   p,
			lower:  lower,
			tokens: tokens,
			codes:  codesForTokens(tokens),
		})
	}
	return ix
}

// Len returns the number of indexed phrases.
func (ix *Index) Len() int { return len(ix.entries) }

// Match returns the indexed phrase most similar to word. When matched is
// false, phrase is empty and score is 0.
func (ix *Index) Match(word string) (phrase string, score float64, matched bool) {
	wordLower := strings.ToLower(strings.TrimSpace(word))
	if wordLower == "" || len(ix.entries) == 0 {
		return "", 0, false
	}
	wordTokens := strings.Fields(wordLower)
	inputCodes := codesForTokens(wordTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, e := range ix.entries {
		jw := bestJWScore(wordTokens, e.tokens, wordLower, e.lower)
		if codesOverlap(inputCodes, e.codes) {
			if jw >= ix.phoneticThreshold && (!bestPhonetic || jw > bestScore) {
				best, bestScore, bestPhonetic = e.text, jw, true
			}
			continue
		}
		if !bestPhonetic && jw >= ix.fuzzyThreshold && jw > bestScore {
			best, bestScore = e.text, jw
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, bestScore, true
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
// Empty codes (words without consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity of the full strings,
// the space-stripped strings, and, for multi-word phrases, the full query
// against the full phrase only. Pairwise token scores are not used: a single
// shared word ("thank" in "thank you") must not mark a longer transcript.
func bestJWScore(inputTokens, entryTokens []string, inputFull, entryFull string) float64 {
	score := matchr.JaroWinkler(inputFull, entryFull, false)
	if len(inputTokens) > 1 || len(entryTokens) > 1 {
		a := strings.Join(inputTokens, "")
		b := strings.Join(entryTokens, "")
		if s := matchr.JaroWinkler(a, b, false); s > score {
			score = s
		}
	}
	return score
}
