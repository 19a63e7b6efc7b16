package anyllm

import (
	"context"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/ventriloquist/pkg/provider/llm"
	"github.com/MrWong99/ventriloquist/pkg/types"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider string
		model    string
		wantErr  string
	}{
		{name: "empty provider", provider: "", model: "m", wantErr: "providerName"},
		{name: "empty model", provider: "ollama", model: "", wantErr: "model"},
		{name: "unknown provider", provider: "hal9000", model: "m", wantErr: "unsupported provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.provider, tt.model)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{name: "ollama", model: "llama3.2"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are Robby.",
		Messages: []types.Message{
			{Role: "user", Content: "Will: hi Robby", Name: "will"},
			{Role: "assistant", Content: "Robby: Hi Will."},
		},
		Temperature: 0.7,
		MaxTokens:   120,
	})

	if params.Model != "llama3.2" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("len(Messages) = %d, want 3", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %q, want system", params.Messages[0].Role)
	}
	if got := params.Messages[1].ContentString(); got != "Will: hi Robby" {
		t.Errorf("user content = %q", got)
	}
	if params.Messages[1].Name != "will" {
		t.Errorf("Name = %q, want will", params.Messages[1].Name)
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("Temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 120 {
		t.Errorf("MaxTokens = %v", params.MaxTokens)
	}
}

func TestBuildParams_DefaultsOmitted(t *testing.T) {
	t.Parallel()

	p := &Provider{name: "ollama", model: "llama3.2"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "hi"}},
	})
	if len(params.Messages) != 1 {
		t.Errorf("len(Messages) = %d, want 1", len(params.Messages))
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero Temperature/MaxTokens should leave params unset")
	}
}

func TestComplete_NoMessages(t *testing.T) {
	t.Parallel()

	p := &Provider{name: "ollama", model: "llama3.2"}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error for empty request")
	}
}

func TestModelCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model   string
		context int
		output  int
	}{
		{"gpt-3.5-turbo", 16_385, 4_096},
		{"gpt-4o-mini", 128_000, 16_384},
		{"gpt-4", 8_192, 4_096},
		{"claude-3-opus-20240229", 200_000, 4_096},
		{"claude-3-5-haiku-latest", 200_000, 8_192},
		{"gemini-1.5-pro", 2_097_152, 8_192},
		{"gemini-2.0-flash", 1_048_576, 8_192},
		{"llama3.2", 8_192, 2_048},
		{"mistral-small", 32_768, 4_096},
	}
	for _, tt := range tests {
		got := modelCapabilities(tt.model)
		if got.ContextWindow != tt.context || got.MaxOutputTokens != tt.output {
			t.Errorf("%s: got %+v, want context %d output %d", tt.model, got, tt.context, tt.output)
		}
	}
}

func TestCountTokens(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3.2"}
	n, err := p.CountTokens([]types.Message{{Role: "user", Content: "12345678"}})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if n != 6 {
		t.Errorf("CountTokens = %d, want 6", n)
	}
}
