// Package stt defines the Provider interface for Speech-to-Text backends.
//
// The conversation server receives one complete recording per exchange, so
// providers transcribe a whole [audio.Clip] in a single call. Streaming
// services (Deepgram) are driven the same way: the clip is sent in full and
// the committed results are joined.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/ventriloquist/pkg/audio"
	"github.com/MrWong99/ventriloquist/pkg/types"
)

// ErrUnsupportedAudio is returned when a provider cannot accept the clip's
// media type.
var ErrUnsupportedAudio = errors.New("stt: unsupported audio media type")

// Request describes one transcription.
type Request struct {
	// Audio is the recorded utterance. Raw PCM clips must carry their format
	// in the media type (see [audio.PCMMediaType]).
	Audio audio.Clip

	// Language is the BCP-47 language tag for recognition (e.g., "en").
	// Empty selects the provider default.
	Language string

	// Prompt is optional preceding text that biases recognition toward the
	// ongoing dialogue. Providers without prompt support ignore it.
	Prompt string

	// Keywords boosts recognition of uncommon words such as cast names.
	Keywords []KeywordBoost
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts req.Audio to text. An utterance with no recognised
	// speech yields an empty Text and a nil error.
	Transcribe(ctx context.Context, req Request) (types.Transcript, error)
}

// Keywords builds boosts of equal weight for words.
func Keywords(boost float64, words ...string) []KeywordBoost {
	out := make([]KeywordBoost, 0, len(words))
	for _, w := range words {
		if w != "" {
			out = append(out, KeywordBoost{Keyword: w, Boost: boost})
		}
	}
	return out
}
