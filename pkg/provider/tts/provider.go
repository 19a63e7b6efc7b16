// Package tts defines the Provider interface for Text-to-Speech backends.
//
// The conversation server needs the whole reply as one playable clip, so the
// central call is Synthesize. Providers are free to stream internally
// (ElevenLabs over a WebSocket, Coqui with concurrent per-sentence requests)
// as long as the returned clip plays the full text in order.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/MrWong99/ventriloquist/pkg/audio"
	"github.com/MrWong99/ventriloquist/pkg/types"
)

// ErrEmptyText is returned when there is nothing to synthesise.
var ErrEmptyText = errors.New("tts: empty text")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text in voice and returns the encoded audio with
	// its media type set. It returns promptly when ctx is cancelled.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (audio.Clip, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}

// SplitSentences cuts text at sentence-ending punctuation ('.', '!', '?')
// that is followed by whitespace or the end of the text. Abbreviations such
// as "Dr.Who" and numbers like "3.14" are not split. Empty pieces are dropped.
func SplitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	emit := func(s string) {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 >= len(text) || unicode.IsSpace(rune(text[i+1])) {
			emit(text[start : i+1])
			start = i + 1
		}
	}
	emit(text[start:])
	return out
}
