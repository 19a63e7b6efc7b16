package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/ventriloquist/internal/resilience"
	"github.com/MrWong99/ventriloquist/pkg/provider/llm"
	"github.com/MrWong99/ventriloquist/pkg/provider/stt"
	"github.com/MrWong99/ventriloquist/pkg/provider/tts"
	"github.com/MrWong99/ventriloquist/pkg/types"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]func(ProviderEntry) (llm.Provider, error)
	stt map[string]func(ProviderEntry) (stt.Provider, error)
	tts map[string]func(ProviderEntry) (tts.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: make(map[string]func(ProviderEntry) (llm.Provider, error)),
		stt: make(map[string]func(ProviderEntry) (stt.Provider, error)),
		tts: make(map[string]func(ProviderEntry) (tts.Provider, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, "llm", entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, "tts", entry)
}

func create[P any](r *Registry, factories map[string]func(ProviderEntry) (P, error), kind string, entry ProviderEntry) (P, error) {
	r.mu.RLock()
	factory, ok := factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}

// BuildLLM creates the provider named by entry and its fallbacks, grouped
// behind per-provider circuit breakers.
func (r *Registry) BuildLLM(entry ProviderEntry, cb BreakerConfig) (*resilience.LLMFallback, error) {
	primary, err := r.CreateLLM(entry)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
	}
	group := resilience.NewLLMFallback(primary, entry.Name, fallbackConfig(cb))
	for i, fb := range entry.Fallbacks {
		p, err := r.CreateLLM(fb)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %d %q: %w", i, fb.Name, err)
		}
		group.AddFallback(fallbackName(fb, i), p)
	}
	return group, nil
}

// BuildSTT creates the provider named by entry and its fallbacks.
func (r *Registry) BuildSTT(entry ProviderEntry, cb BreakerConfig) (*resilience.STTFallback, error) {
	primary, err := r.CreateSTT(entry)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
	}
	group := resilience.NewSTTFallback(primary, entry.Name, fallbackConfig(cb))
	for i, fb := range entry.Fallbacks {
		p, err := r.CreateSTT(fb)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %d %q: %w", i, fb.Name, err)
		}
		group.AddFallback(fallbackName(fb, i), p)
	}
	return group, nil
}

// BuildTTS creates the provider named by entry and its fallbacks. Each
// fallback speaks with its own VoiceID.
func (r *Registry) BuildTTS(entry ProviderEntry, cb BreakerConfig) (*resilience.TTSFallback, error) {
	primary, err := r.CreateTTS(entry)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
	}
	group := resilience.NewTTSFallback(primary, entry.Name, fallbackConfig(cb))
	for i, fb := range entry.Fallbacks {
		p, err := r.CreateTTS(fb)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %d %q: %w", i, fb.Name, err)
		}
		group.AddFallback(fallbackName(fb, i), p, types.VoiceProfile{ID: fb.VoiceID, Provider: fb.Name})
	}
	return group, nil
}

func fallbackConfig(cb BreakerConfig) resilience.FallbackConfig {
	return resilience.FallbackConfig{CircuitBreaker: cb.Resilience("")}
}

// fallbackName keeps breaker names unique when the same provider appears
// twice, e.g. two OpenAI models.
func fallbackName(e ProviderEntry, i int) string {
	if e.Model != "" {
		return e.Name + "/" + e.Model
	}
	return fmt.Sprintf("%s#%d", e.Name, i+1)
}
