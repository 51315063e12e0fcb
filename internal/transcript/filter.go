// Package transcript decides whether a final transcript reaches upstream
// dispatch.
//
// Recognizers hallucinate on silence and background noise: a lone "yeah",
// "thank you", or the same rejected word again and again. [Filter] rejects
// those using a configurable rule set and a per-session [History] of recent
// rejections. [Filter.Check] is a pure function of its inputs;
// [Filter.Apply] additionally records the rejection.
package transcript

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/transcript/phonetic"
)

// Mode selects how aggressively the filter rejects input.
type Mode string

const (
	// ModeSmart applies every rule but lets short answers through when a
	// response is expected.
	ModeSmart Mode = "smart"

	// ModeStrict additionally rejects single words and very short residues.
	ModeStrict Mode = "strict"

	// ModeDisabled only rejects empty transcripts.
	ModeDisabled Mode = "disabled"
)

// Reason explains a [Decision]. It is used as the reason label of the
// filter decision counter.
type Reason string

const (
	// Accepting reasons.
	ReasonPassed           Reason = "passed"
	ReasonExpectedResponse Reason = "expected_response"
	ReasonFilterDisabled   Reason = "filter_disabled"

	// Rejecting reasons.
	ReasonEmpty         Reason = "empty"
	ReasonAlwaysFilter  Reason = "always_filter"
	ReasonHallucination Reason = "hallucination"
	ReasonRepeated      Reason = "repeated"
	ReasonAfterBot      Reason = "after_bot"
	ReasonRepeatedWords Reason = "repeated_words"
	ReasonTooShort      Reason = "too_short"
	ReasonTooFewWords   Reason = "too_few_words"
)

// shortAnswers are accepted when the assistant is waiting for a reply.
var shortAnswers = map[string]struct{}{
	"yes": {}, "no": {}, "yeah": {}, "nope": {}, "okay": {}, "sure": {},
}

// FilterConfig holds the rule parameters of a [Filter].
type FilterConfig struct {
	// Mode selects the rule set. Empty means [ModeSmart].
	Mode Mode

	// HallucinationSet lists residues rejected in smart and strict mode.
	HallucinationSet []string

	// AlwaysFilter lists phrases whose presence anywhere in the residue
	// rejects it in smart and strict mode.
	AlwaysFilter []string

	// BotUtteranceDelay rejects transcripts that arrive this soon after the
	// assistant finished speaking, unless a response is expected. Zero
	// disables the rule.
	BotUtteranceDelay time.Duration

	// FuzzyThreshold enables phonetic matching of single-word residues
	// against HallucinationSet when > 0.
	FuzzyThreshold float64

	// MinCharLength is the shortest residue strict mode accepts.
	MinCharLength int
}

// Context is the conversational state a decision depends on.
type Context struct {
	// ExpectingResponse is set when the assistant asked the user something.
	ExpectingResponse bool

	// BotFinishedAt is when the assistant last stopped speaking. Zero if it
	// has not spoken.
	BotFinishedAt time.Time

	// Now is the time the transcript was produced.
	Now time.Time
}

// Decision is the outcome of a filter check.
type Decision struct {
	Accept bool
	Reason Reason

	// Residue is the transcript with punctuation removed and whitespace
	// collapsed, in its original case. Rejected residues are what [History]
	// stores.
	Residue string
}

// Option configures a [Filter].
type Option func(*Filter)

// WithLogger sets the logger used for rejection logs. A nil logger keeps the
// default.
func WithLogger(l *slog.Logger) Option {
	return func(f *Filter) {
		if l != nil {
			f.log = l
		}
	}
}

// WithMetrics sets the metrics sink for filter decisions.
func WithMetrics(m *observe.Metrics) Option {
	return func(f *Filter) { f.metrics = m }
}

// Filter rejects hallucinated or repeated transcripts. It is immutable after
// construction and safe for concurrent use; per-session state lives in the
// [History] passed to each call.
type Filter struct {
	mode           Mode
	hallucinations map[string]struct{}
	always         []string
	fuzzy          *phonetic.Index
	botDelay       time.Duration
	minChars       int

	log     *slog.Logger
	metrics *observe.Metrics
}

// NewFilter builds a [Filter] from cfg. Set entries are normalised the same
// way transcripts are, so "Thank you." and "thank you" are equivalent.
func NewFilter(cfg FilterConfig, opts ...Option) *Filter {
	f := &Filter{
		mode:           cfg.Mode,
		hallucinations: make(map[string]struct{}, len(cfg.HallucinationSet)),
		botDelay:       cfg.BotUtteranceDelay,
		minChars:       cfg.MinCharLength,
		log:            slog.Default(),
		metrics:        observe.DefaultMetrics(),
	}
	if f.mode == "" {
		f.mode = ModeSmart
	}
	var phrases []string
	for _, h := range cfg.HallucinationSet {
		n := strings.ToLower(Residue(h))
		if n == "" {
			continue
		}
		f.hallucinations[n] = struct{}{}
		phrases = append(phrases, n)
	}
	for _, a := range cfg.AlwaysFilter {
		if n := strings.ToLower(Residue(a)); n != "" {
			f.always = append(f.always, n)
		}
	}
	if cfg.FuzzyThreshold > 0 && len(phrases) > 0 {
		f.fuzzy = phonetic.NewIndex(phrases,
			phonetic.WithPhoneticThreshold(cfg.FuzzyThreshold),
			phonetic.WithFuzzyThreshold(max(cfg.FuzzyThreshold, 0.85)),
		)
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Mode returns the active rule set.
func (f *Filter) Mode() Mode { return f.mode }

// Check decides whether text should be dispatched. It reads hist but never
// modifies it, so equal inputs always produce equal decisions. hist may be
// nil.
//
// Rules, first match wins:
//  1. empty residue
//  2. an always-filter phrase occurs in the residue
//  3. residue is in the hallucination set (or sounds like a single-word entry)
//  4. residue equals a recently rejected one
//  5. transcript arrived within the bot delay and no response is expected
//  6. a short answer while a response is expected is accepted
//  7. the same word three or more times
//  8. strict only: too short or a single word
func (f *Filter) Check(text string, hist *History, c Context) Decision {
	res := Residue(text)
	if res == "" {
		return Decision{Reason: ReasonEmpty}
	}
	reject := func(r Reason) Decision { return Decision{Reason: r, Residue: res} }
	if f.mode == ModeDisabled {
		return Decision{Accept: true, Reason: ReasonFilterDisabled, Residue: res}
	}

	norm := strings.ToLower(res)
	for _, a := range f.always {
		if containsPhrase(norm, a) {
			return reject(ReasonAlwaysFilter)
		}
	}
	if f.isHallucination(norm) {
		return reject(ReasonHallucination)
	}
	if hist != nil && hist.Contains(res) {
		return reject(ReasonRepeated)
	}
	if f.botDelay > 0 && !c.ExpectingResponse && !c.BotFinishedAt.IsZero() {
		if since := c.Now.Sub(c.BotFinishedAt); since >= 0 && since < f.botDelay {
			return reject(ReasonAfterBot)
		}
	}

	words := strings.Fields(norm)
	if c.ExpectingResponse && len(words) == 1 {
		if _, ok := shortAnswers[norm]; ok {
			return Decision{Accept: true, Reason: ReasonExpectedResponse, Residue: res}
		}
	}
	if len(words) > 2 && allSame(words) {
		return reject(ReasonRepeatedWords)
	}
	if f.mode == ModeStrict {
		if len([]rune(norm)) < f.minChars {
			return reject(ReasonTooShort)
		}
		if len(words) < 2 {
			return reject(ReasonTooFewWords)
		}
	}
	return Decision{Accept: true, Reason: ReasonPassed, Residue: res}
}

// Apply runs [Filter.Check], stores a rejected residue in hist, and records
// the decision. Empty residues are not stored.
func (f *Filter) Apply(ctx context.Context, text string, hist *History, c Context) Decision {
	d := f.Check(text, hist, c)
	if !d.Accept && hist != nil {
		hist.Add(d.Residue)
	}
	if f.metrics != nil {
		f.metrics.RecordFilterDecision(ctx, d.Accept, string(d.Reason))
	}
	if !d.Accept {
		f.log.DebugContext(ctx, "transcript rejected", "text", text, "reason", d.Reason)
	}
	return d
}

func (f *Filter) isHallucination(norm string) bool {
	if _, ok := f.hallucinations[norm]; ok {
		return true
	}
	if f.fuzzy == nil || strings.ContainsRune(norm, ' ') {
		return false
	}
	_, _, ok := f.fuzzy.Match(norm)
	return ok
}

// Residue strips everything but letters, digits and spaces from text and
// collapses whitespace. Case is preserved. It is the form in which
// transcripts are compared and stored in a [History].
func Residue(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// containsPhrase reports whether phrase occurs in s on word boundaries.
func containsPhrase(s, phrase string) bool {
	return strings.Contains(" "+s+" ", " "+phrase+" ")
}

func allSame(words []string) bool {
	for _, w := range words[1:] {
		if w != words[0] {
			return false
		}
	}
	return true
}
