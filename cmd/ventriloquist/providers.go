package main

import (
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/ventriloquist/internal/config"
	"github.com/MrWong99/ventriloquist/internal/resilience"
	"github.com/MrWong99/ventriloquist/pkg/provider/llm"
	"github.com/MrWong99/ventriloquist/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/ventriloquist/pkg/provider/llm/openai"
	"github.com/MrWong99/ventriloquist/pkg/provider/stt"
	"github.com/MrWong99/ventriloquist/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/ventriloquist/pkg/provider/stt/openai"
	"github.com/MrWong99/ventriloquist/pkg/provider/stt/whisper"
	"github.com/MrWong99/ventriloquist/pkg/provider/tts"
	"github.com/MrWong99/ventriloquist/pkg/provider/tts/coqui"
	"github.com/MrWong99/ventriloquist/pkg/provider/tts/elevenlabs"
)

// providers are the resilient pipeline stages the server runs on.
type providers struct {
	stt *resilience.STTFallback
	llm *resilience.LLMFallback
	tts *resilience.TTSFallback
}

// anyLLMProviders share the same pattern: optional APIKey + optional BaseURL.
// openai is served by the dedicated client instead.
var anyLLMProviders = []string{
	"anthropic", "ollama", "gemini",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// language is the recognition language used when an STT entry does not set
// its own.
func registerBuiltinProviders(reg *config.Registry, language string) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaillm.WithTimeout(d))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyLLMProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	sttLanguage := func(entry config.ProviderEntry) string {
		if lang := optString(entry.Options, "language"); lang != "" {
			return lang
		}
		return language
	}

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := sttLanguage(entry); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaistt.WithTimeout(d))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := sttLanguage(entry); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := sttLanguage(entry); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	slog.Debug("registered providers",
		"llm", append([]string{"openai"}, anyLLMProviders...),
		"stt", []string{"openai", "whisper", "deepgram"},
		"tts", []string{"elevenlabs", "coqui"},
	)
}

// buildProviders instantiates the three pipeline stages named in cfg, each
// wrapped with its fallbacks and circuit breakers.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providers, error) {
	cb := cfg.Providers.CircuitBreaker

	s, err := reg.BuildSTT(cfg.Providers.STT, cb)
	if err != nil {
		return nil, err
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name, "fallbacks", len(cfg.Providers.STT.Fallbacks))

	l, err := reg.BuildLLM(cfg.Providers.LLM, cb)
	if err != nil {
		return nil, err
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "fallbacks", len(cfg.Providers.LLM.Fallbacks))

	t, err := reg.BuildTTS(cfg.Providers.TTS, cb)
	if err != nil {
		return nil, err
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name, "fallbacks", len(cfg.Providers.TTS.Fallbacks))

	return &providers{stt: s, llm: l, tts: t}, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration reads a duration option written either as a Go duration string
// ("30s") or as a number of seconds.
func optDuration(opts map[string]any, key string) time.Duration {
	switch v := opts[key].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0
		}
		return d
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return 0
}
