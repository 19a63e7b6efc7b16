package main

import (
	"testing"
	"time"

	"github.com/MrWong99/ventriloquist/internal/config"
	"github.com/MrWong99/ventriloquist/internal/server"
)

func testConfig() *config.Config {
	return &config.Config{
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "openai", APIKey: "sk-test"},
			LLM: config.ProviderEntry{Name: "openai", APIKey: "sk-test", Model: "gpt-3.5-turbo"},
			TTS: config.ProviderEntry{
				Name:   "elevenlabs",
				APIKey: "el-test",
				Fallbacks: []config.ProviderEntry{
					{Name: "coqui", BaseURL: "http://localhost:5002", VoiceID: "p225"},
				},
			},
		},
	}
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg, "en")

	ps, err := buildProviders(testConfig(), reg)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.stt == nil || ps.llm == nil || ps.tts == nil {
		t.Fatalf("providers = %+v, want all stages", ps)
	}
	for name, a := range map[string]interface{ Available() error }{"stt": ps.stt, "llm": ps.llm, "tts": ps.tts} {
		if err := a.Available(); err != nil {
			t.Errorf("%s not available: %v", name, err)
		}
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "unknown stt", mutate: func(c *config.Config) { c.Providers.STT.Name = "nope" }},
		{name: "llm without key", mutate: func(c *config.Config) { c.Providers.LLM.APIKey = "" }},
		{name: "whisper without url", mutate: func(c *config.Config) { c.Providers.STT = config.ProviderEntry{Name: "whisper"} }},
		{name: "bad tts fallback", mutate: func(c *config.Config) { c.Providers.TTS.Fallbacks[0].BaseURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reg := config.NewRegistry()
			registerBuiltinProviders(reg, "")
			cfg := testConfig()
			tt.mutate(cfg)
			if _, err := buildProviders(cfg, reg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestOptDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value any
		want  time.Duration
	}{
		{"45s", 45 * time.Second},
		{"soon", 0},
		{10, 10 * time.Second},
		{1.5, 1500 * time.Millisecond},
		{true, 0},
		{nil, 0},
	}
	for _, tt := range tests {
		opts := map[string]any{"timeout": tt.value}
		if got := optDuration(opts, "timeout"); got != tt.want {
			t.Errorf("optDuration(%v) = %v, want %v", tt.value, got, tt.want)
		}
	}
	if got := optDuration(nil, "timeout"); got != 0 {
		t.Errorf("optDuration(nil map) = %v", got)
	}
}

func TestOptString(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"language": "de", "count": 3}
	if got := optString(opts, "language"); got != "de" {
		t.Errorf("language = %q", got)
	}
	if got := optString(opts, "count"); got != "" {
		t.Errorf("non-string = %q, want empty", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("nil map = %q", got)
	}
}

func TestVoiceProfile(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	if got := voiceProfile(cfg); got.ID != server.DefaultVoice.ID || got.Name != server.DefaultVoice.Name {
		t.Errorf("unset voice = %+v, want default", got)
	}

	cfg.Character.Voice = config.VoiceConfig{VoiceID: "abc", Name: "Robo", Stability: 0.3, SimilarityBoost: 0.8}
	got := voiceProfile(cfg)
	if got.ID != "abc" || got.Name != "Robo" || got.Provider != "elevenlabs" || got.Stability != 0.3 || got.SimilarityBoost != 0.8 {
		t.Errorf("voice = %+v", got)
	}
}
