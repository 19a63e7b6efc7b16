package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("ROBBY_KEY", "secret")

	tests := []struct {
		in, want string
	}{
		{"api_key: ${ROBBY_KEY}", "api_key: secret"},
		{"api_key: ${ROBBY_UNSET_VARIABLE}", "api_key: "},
		{"price: $ROBBY_KEY", "price: $ROBBY_KEY"},
		{"price: $5", "price: $5"},
		{"${ROBBY_KEY}/${ROBBY_KEY}", "secret/secret"},
	}
	for _, tt := range tests {
		if got := string(ExpandEnv([]byte(tt.in))); got != tt.want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  listen_addr: \":4000\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":4000" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file err = %v", err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(bad)
	if err == nil || !strings.Contains(err.Error(), "bad.yaml") {
		t.Errorf("bad yaml err = %v, want path in message", err)
	}
}

func TestValidProviderNames_Warns(t *testing.T) {
	t.Parallel()

	cfg := &Config{Providers: ProvidersConfig{LLM: ProviderEntry{Name: "my-custom-llm"}}}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		t.Errorf("unknown provider names must only warn, got %v", err)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load(example.yaml): %v", err)
	}
	if err := ValidateServer(cfg); err != nil {
		t.Errorf("ValidateServer: %v", err)
	}
	if cfg.Character.Voice.VoiceID != "VR6AewLTigWG4xSOukaG" {
		t.Errorf("voice id = %q", cfg.Character.Voice.VoiceID)
	}
	if len(cfg.Providers.TTS.Fallbacks) != 1 || cfg.Providers.TTS.Fallbacks[0].VoiceID == "" {
		t.Errorf("tts fallbacks = %+v", cfg.Providers.TTS.Fallbacks)
	}
	if cfg.Character.Opening != nil {
		t.Errorf("opening = %v, want nil (built-in opening)", cfg.Character.Opening)
	}
}
