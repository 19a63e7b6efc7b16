package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai", "whisper", "deepgram"},
	"tts": {"elevenlabs", "coqui"},
}

// envRef matches ${NAME} references. Bare $NAME is left alone so that
// prompts may contain dollar signs.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${ENV} references,
// applies defaults and validates the result. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	raw = ExpandEnv(raw)

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandEnv replaces every ${NAME} in raw with the value of the environment
// variable NAME. Unset variables expand to the empty string.
func ExpandEnv(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		return []byte(os.Getenv(string(m[2 : len(m)-1])))
	})
}

// ApplyDefaults fills in zero values that have a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.StageTimeout == 0 {
		cfg.Server.StageTimeout = DefaultStageTimeout
	}
	if cfg.Client.BackendURL == "" {
		cfg.Client.BackendURL = DefaultBackendURL
	}
	if cfg.Client.RequestTimeout == 0 {
		cfg.Client.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.StageTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.stage_timeout %s must not be negative", cfg.Server.StageTimeout))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Client
	if u, err := url.Parse(cfg.Client.BackendURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("client.backend_url %q must be an absolute http(s) URL", cfg.Client.BackendURL))
	}
	if cfg.Client.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("client.request_timeout %s must not be negative", cfg.Client.RequestTimeout))
	}
	if cfg.Client.MaxRecording < 0 {
		errs = append(errs, fmt.Errorf("client.max_recording %s must not be negative", cfg.Client.MaxRecording))
	}
	errs = append(errs, validateBreaker("client.circuit_breaker", cfg.Client.CircuitBreaker)...)

	// Character
	ch := cfg.Character
	for i, t := range ch.Opening {
		if err := t.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("character.opening[%d]: %w", i, err))
		}
	}
	if ch.Voice.Stability < 0 || ch.Voice.Stability > 1 {
		errs = append(errs, fmt.Errorf("character.voice.stability %.2f is out of range [0, 1]", ch.Voice.Stability))
	}
	if ch.Voice.SimilarityBoost < 0 || ch.Voice.SimilarityBoost > 1 {
		errs = append(errs, fmt.Errorf("character.voice.similarity_boost %.2f is out of range [0, 1]", ch.Voice.SimilarityBoost))
	}
	if ch.Temperature < 0 || ch.Temperature > 2 {
		errs = append(errs, fmt.Errorf("character.temperature %.2f is out of range [0, 2]", ch.Temperature))
	}
	if ch.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("character.max_tokens %d must not be negative", ch.MaxTokens))
	}

	// Providers
	errs = append(errs, validateEntry("providers.llm", "llm", cfg.Providers.LLM)...)
	errs = append(errs, validateEntry("providers.stt", "stt", cfg.Providers.STT)...)
	errs = append(errs, validateEntry("providers.tts", "tts", cfg.Providers.TTS)...)
	errs = append(errs, validateBreaker("providers.circuit_breaker", cfg.Providers.CircuitBreaker)...)

	if r := cfg.Observability.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observability.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

// ValidateServer checks the settings only the conversation server needs on
// top of [Validate]: every pipeline stage must have a provider.
func ValidateServer(cfg *Config) error {
	var errs []error
	for _, s := range []struct {
		path string
		name string
	}{
		{"providers.stt", cfg.Providers.STT.Name},
		{"providers.llm", cfg.Providers.LLM.Name},
		{"providers.tts", cfg.Providers.TTS.Name},
	} {
		if s.name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required to run the server", s.path))
		}
	}
	return errors.Join(errs...)
}

func validateEntry(path, kind string, e ProviderEntry) []error {
	var errs []error
	if e.Name == "" && len(e.Fallbacks) > 0 {
		errs = append(errs, fmt.Errorf("%s: fallbacks require a primary provider name", path))
	}
	validateProviderName(kind, e.Name)
	for i, fb := range e.Fallbacks {
		fbPath := fmt.Sprintf("%s.fallbacks[%d]", path, i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", fbPath))
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s: nested fallbacks are not supported", fbPath))
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

func validateBreaker(path string, b BreakerConfig) []error {
	var errs []error
	if b.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("%s.max_failures %d must not be negative", path, b.MaxFailures))
	}
	if b.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s.reset_timeout %s must not be negative", path, b.ResetTimeout))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("config: unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
