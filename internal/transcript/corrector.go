// Package transcript fixes speech-to-text errors in the names of the people
// the character talks to.
//
// Recognisers reliably mangle proper nouns ("Marco Wits" for "Markowitz",
// "Nikeeta" for "Nikita"). A mangled name in the user line makes the model
// answer about someone who is not in the room, so the server runs every
// transcript through a [Corrector] before building the prompt.
package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Correction records one substitution.
type Correction struct {
	// Original is the text as produced by the recogniser, without
	// surrounding punctuation.
	Original string

	// Corrected is the known name that replaced it.
	Corrected string

	// Confidence is the matcher score in [0, 1].
	Confidence float64
}

// Matcher resolves a word or phrase to one of names. When matched is false,
// corrected must equal word and confidence must be 0.
//
// Implementations must be safe for concurrent use.
type Matcher interface {
	Match(word string, names []string) (corrected string, confidence float64, matched bool)
}

// Corrector replaces misrecognised names in transcripts. It is safe for
// concurrent use.
type Corrector struct {
	matcher  Matcher
	names    []string
	maxWords int
}

// NewCorrector creates a corrector for names. Blank names are ignored.
func NewCorrector(m Matcher, names []string) *Corrector {
	c := &Corrector{matcher: m, maxWords: 1}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		c.names = append(c.names, n)
		c.maxWords = max(c.maxWords, len(strings.Fields(n)))
	}
	return c
}

// Names returns the names the corrector knows.
func (c *Corrector) Names() []string {
	return append([]string(nil), c.names...)
}

// Correct returns text with misrecognised names replaced, and the list of
// replacements in order. Punctuation around a word and a possessive "'s"
// are preserved. Words that already spell a name (in any case) are left
// untouched, so "I will" does not become "I Will".
func (c *Corrector) Correct(text string) (string, []Correction) {
	if c == nil || c.matcher == nil || len(c.names) == 0 {
		return text, nil
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return text, nil
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(words); {
		n, replaced, corr, ok := c.matchAt(words[i:])
		if ok {
			out = append(out, replaced)
			if corr.Original != "" {
				corrections = append(corrections, corr)
			}
			i += n
			continue
		}
		out = append(out, words[i])
		i++
	}
	return strings.Join(out, " "), corrections
}

// matchAt tries the longest phrase first. It returns the number of words
// consumed and their replacement. A zero Correction means the words already
// spell the name.
func (c *Corrector) matchAt(words []string) (int, string, Correction, bool) {
	for n := min(c.maxWords, len(words)); n >= 1; n-- {
		window := words[:n]
		prefix, _, _ := splitAffixes(window[0])
		_, _, suffix := splitAffixes(window[n-1])

		cores := make([]string, 0, n)
		for j, w := range window {
			_, core, sfx := splitAffixes(w)
			// Inner punctuation ends a phrase: "Dale, Scott" is two names.
			if j < n-1 && sfx != "" {
				cores = nil
				break
			}
			if core == "" {
				cores = nil
				break
			}
			cores = append(cores, core)
		}
		if cores == nil {
			continue
		}

		phrase := strings.Join(cores, " ")
		name, conf, ok := c.matcher.Match(phrase, c.names)
		if !ok {
			continue
		}
		if strings.EqualFold(phrase, name) {
			return n, strings.Join(window, " "), Correction{}, true
		}
		return n, prefix + name + suffix, Correction{Original: phrase, Corrected: name, Confidence: conf}, true
	}
	return 0, "", Correction{}, false
}

// splitAffixes splits a whitespace-free token into leading punctuation, the
// word itself and trailing punctuation including a possessive "'s".
func splitAffixes(token string) (prefix, core, suffix string) {
	isWord := func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

	start := strings.IndexFunc(token, isWord)
	if start < 0 {
		return token, "", ""
	}
	end := strings.LastIndexFunc(token, isWord)
	_, size := utf8.DecodeRuneInString(token[end:])
	end += size

	prefix, core, suffix = token[:start], token[start:end], token[end:]
	for _, poss := range [...]string{"'s", "'S", "’s", "’S"} {
		if strings.HasSuffix(core, poss) && len(core) > len(poss) {
			core, suffix = core[:len(core)-len(poss)], core[len(core)-len(poss):]+suffix
			break
		}
	}
	return prefix, core, suffix
}
