// Package types defines the shared types used across the ventriloquist packages.
//
// These types are the common vocabulary between the speech providers, the
// conversation backend and the performer client. Each package defines its own
// domain types; only cross-cutting structures live here to avoid import cycles.
package types

import "time"

// Message is a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string
}

// Transcript is the result of transcribing one recorded utterance.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the language detected or requested for recognition. May be
	// empty when the provider does not report it.
	Language string

	// Duration is the length of the transcribed audio, if known.
	Duration time.Duration
}

// VoiceProfile describes the TTS voice a character speaks with.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Stability and SimilarityBoost are forwarded to providers that expose
	// them (ElevenLabs). Zero means provider default.
	Stability       float64
	SimilarityBoost float64

	// Metadata holds provider-specific voice attributes (gender, accent, ...).
	Metadata map[string]string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int
}
