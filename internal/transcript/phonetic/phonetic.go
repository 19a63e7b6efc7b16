// Package phonetic implements the [transcript.Matcher] interface using
// Double Metaphone encoding combined with Jaro-Winkler similarity.
//
// A word is compared with every known name in two stages:
//
//  1. Phonetic candidates: when any Double Metaphone code of the word equals
//     any code of the name, the name is a candidate if its Jaro-Winkler score
//     reaches the phonetic threshold (default 0.80).
//
//  2. Fuzzy fallback: without a phonetic candidate, a name whose score
//     reaches the much stricter fuzzy threshold (default 0.94) is accepted.
//
// Spoken transcripts are full of short everyday words that resemble names
// ("can" and "Candy"), so words shorter than the minimum length (default 3)
// never match.
package phonetic

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/ventriloquist/internal/transcript"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.94
	defaultMinLength         = 3
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a name whose
// pronunciation code matches the word.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a name that
// does not sound like the word.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// WithMinLength sets the minimum word length in runes considered for
// matching.
func WithMinLength(n int) Option {
	return func(m *Matcher) { m.minLength = n }
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	minLength         int
}

var _ transcript.Matcher = (*Matcher)(nil)

// New returns a [Matcher] configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minLength:         defaultMinLength,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// spelling is a word or name prepared for comparison.
type spelling struct {
	lower  string
	tokens []string
	codes  map[string]struct{}
}

func prepare(s string) spelling {
	lower := strings.ToLower(strings.TrimSpace(s))
	tokens := strings.Fields(lower)
	return spelling{lower: lower, tokens: tokens, codes: metaphoneCodes(tokens)}
}

// Match returns the name from names that word most likely is. word may be
// a phrase when a name has several words. When matched is false, corrected
// is word and confidence is 0.
func (m *Matcher) Match(word string, names []string) (corrected string, confidence float64, matched bool) {
	in := prepare(word)
	if len(names) == 0 || utf8.RuneCountInString(strings.Join(in.tokens, "")) < m.minLength {
		return word, 0, false
	}

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, name := range names {
		cand := prepare(name)
		if len(cand.tokens) == 0 {
			continue
		}
		if cand.lower == in.lower {
			return name, 1, true
		}

		score := similarity(in, cand)
		switch {
		case sharesCode(in.codes, cand.codes) && score >= m.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				best, bestScore, bestPhonetic = name, score, true
			}
		case !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore:
			best, bestScore = name, score
		}
	}
	if best == "" {
		return word, 0, false
	}
	return best, bestScore, true
}

// metaphoneCodes returns the union of primary and alternate Double
// Metaphone codes of tokens. Words without consonants produce no code.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		primary, alternate := matchr.DoubleMetaphone(t)
		for _, c := range [...]string{primary, alternate} {
			if c != "" {
				codes[c] = struct{}{}
			}
		}
	}
	return codes
}

func sharesCode(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score of the full strings and, for
// phrases, of the strings with spaces removed ("mark o wits" against
// "markowitz"). Single tokens of a phrase are never compared on their own,
// so "the" does not match "Robby the Robot".
func similarity(in, cand spelling) float64 {
	score := matchr.JaroWinkler(in.lower, cand.lower, false)
	if len(in.tokens) > 1 || len(cand.tokens) > 1 {
		joined := matchr.JaroWinkler(strings.Join(in.tokens, ""), strings.Join(cand.tokens, ""), false)
		score = max(score, joined)
	}
	return score
}
