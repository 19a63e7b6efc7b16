// Package config provides the configuration schema, loader, and provider
// registry shared by the conversation server and the performer console.
//
// One YAML file configures both binaries. The server reads the server,
// character, providers and observability sections; the console reads the
// client and character sections.
package config

import (
	"time"

	"github.com/MrWong99/ventriloquist/internal/conversation"
	"github.com/MrWong99/ventriloquist/internal/resilience"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults filled in by [ApplyDefaults].
const (
	DefaultListenAddr     = ":3000"
	DefaultBackendURL     = "http://localhost:3000"
	DefaultStageTimeout   = 20 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultServiceName    = "ventriloquist"
)

// Config is the root configuration structure. It is typically loaded with
// [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Client        ClientConfig        `yaml:"client"`
	Character     CharacterConfig     `yaml:"character"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds network and logging settings for the conversation
// server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":3000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity of both binaries.
	LogLevel LogLevel `yaml:"log_level"`

	// StageTimeout bounds each provider call (STT, LLM, TTS).
	StageTimeout time.Duration `yaml:"stage_timeout"`

	// ShutdownTimeout bounds the graceful drain on SIGINT/SIGTERM.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS enables HTTPS. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ClientConfig configures the performer console.
type ClientConfig struct {
	// BackendURL is the base URL of the conversation server.
	BackendURL string `yaml:"backend_url"`

	// RequestTimeout bounds one conversation round trip.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// WarmupAudio is the path of the clip looped while waiting for a
	// reply. Empty disables warm-up audio.
	WarmupAudio string `yaml:"warmup_audio"`

	// InputDevice and OutputDevice select audio devices. Empty selects the
	// system default.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	// Recorder is the capture program and its arguments. It must write raw
	// 16 kHz mono 16-bit PCM to stdout. Empty selects arecord.
	Recorder []string `yaml:"recorder"`

	// Player is the playback program and its arguments; the clip path is
	// appended. Empty selects ffplay.
	Player []string `yaml:"player"`

	// LoopArgs makes the player repeat a clip until stopped.
	LoopArgs []string `yaml:"loop_args"`

	// WaitForPlayback makes a cycle end only after the reply has finished
	// playing. Defaults to true.
	WaitForPlayback *bool `yaml:"wait_for_playback"`

	// MaxRecording caps the length of a single capture. Zero is unlimited.
	MaxRecording time.Duration `yaml:"max_recording"`

	// CircuitBreaker guards the backend. Zero values select defaults.
	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
}

// WaitsForPlayback resolves [ClientConfig.WaitForPlayback].
func (c ClientConfig) WaitsForPlayback() bool {
	return c.WaitForPlayback == nil || *c.WaitForPlayback
}

// CharacterConfig describes the character the server voices.
type CharacterConfig struct {
	// SystemPrompt replaces the built-in persona and scene description.
	SystemPrompt string `yaml:"system_prompt"`

	// Opening replaces the scripted opening exchange. An explicit empty
	// list starts the routine without one.
	Opening []conversation.Turn `yaml:"opening"`

	// Names are the cast names transcripts are corrected towards. Empty
	// selects the built-in audience.
	Names []string `yaml:"names"`

	// Voice is the TTS voice of the character.
	Voice VoiceConfig `yaml:"voice"`

	// Language is the recognition language (e.g., "en").
	Language string `yaml:"language"`

	// Temperature and MaxTokens tune the completion. Zero selects the
	// provider defaults.
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// StartingContext returns the seed history for a new routine.
func (c CharacterConfig) StartingContext() []conversation.Turn {
	return conversation.StartingContext(c.SystemPrompt, c.Opening)
}

// CastNames returns the configured names or the built-in audience.
func (c CharacterConfig) CastNames() []string {
	if len(c.Names) == 0 {
		return conversation.AudienceNames
	}
	return c.Names
}

// VoiceConfig specifies the TTS voice parameters.
type VoiceConfig struct {
	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// Name is a human-readable label used in logs.
	Name string `yaml:"name"`

	// Stability and SimilarityBoost are in [0, 1]. Zero selects the
	// provider default.
	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost"`
}

// ProvidersConfig declares the provider for each pipeline stage. Each entry
// may list fallbacks that are tried when it fails.
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`

	// CircuitBreaker configures the breaker guarding every provider.
	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. Name selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai").
	Name string `yaml:"name"`

	// APIKey authenticates with the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider (e.g., "gpt-3.5-turbo").
	Model string `yaml:"model"`

	// VoiceID is the voice a TTS fallback speaks with. Voices are provider
	// specific, so the character voice only applies to the primary.
	VoiceID string `yaml:"voice_id"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails or its circuit
	// breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// Resilience converts c into a breaker configuration named name.
func (c BreakerConfig) Resilience(name string) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  c.MaxFailures,
		ResetTimeout: c.ResetTimeout,
	}
}

// ObservabilityConfig configures telemetry.
type ObservabilityConfig struct {
	// ServiceName is reported in traces and metrics.
	ServiceName string `yaml:"service_name"`

	// TraceSampleRatio is the fraction of new traces sampled, in [0, 1].
	// Zero samples every trace.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}
