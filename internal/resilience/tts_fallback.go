package resilience

import (
	"context"

	"github.com/MrWong99/ventriloquist/pkg/audio"
	"github.com/MrWong99/ventriloquist/pkg/provider/tts"
	"github.com/MrWong99/ventriloquist/pkg/types"
)

// voiced pairs a TTS backend with the voice it speaks with. A nil voice
// means "use the voice passed to Synthesize".
type voiced struct {
	provider tts.Provider
	voice    *types.VoiceProfile
}

// TTSFallback implements [tts.Provider] with automatic failover across
// multiple TTS backends. Each backend has its own circuit breaker.
//
// Voices are provider specific, so every fallback carries its own voice.
// The voice passed to Synthesize is only used for the primary.
type TTSFallback struct {
	group *FallbackGroup[voiced]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(voiced{provider: primary}, primaryName, cfg)}
}

// AddFallback registers an additional TTS provider that speaks with voice.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider, voice types.VoiceProfile) {
	f.group.AddFallback(name, voiced{provider: provider, voice: &voice})
}

// Synthesize renders text with the first healthy provider.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (audio.Clip, error) {
	clip, _, err := ExecuteWithResult(ctx, f.group, func(v voiced) (audio.Clip, error) {
		if v.voice != nil {
			return v.provider.Synthesize(ctx, text, *v.voice)
		}
		return v.provider.Synthesize(ctx, text, voice)
	})
	return clip, err
}

// ListVoices returns available voices from the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	voices, _, err := ExecuteWithResult(ctx, f.group, func(v voiced) ([]types.VoiceProfile, error) {
		return v.provider.ListVoices(ctx)
	})
	return voices, err
}

// Available reports whether any backend of f can currently serve requests.
func (f *TTSFallback) Available() error {
	return f.group.Available()
}
