package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/ventriloquist/pkg/provider/llm"
	llmmock "github.com/MrWong99/ventriloquist/pkg/provider/llm/mock"
	"github.com/MrWong99/ventriloquist/pkg/types"
)

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		primaryErr   error
		secondaryErr error
		want         string
		wantAllFail  bool
	}{
		{name: "primary serves", want: "from primary"},
		{name: "failover", primaryErr: errors.New("primary down"), want: "from secondary"},
		{name: "all fail", primaryErr: errors.New("primary down"), secondaryErr: errors.New("secondary down"), wantAllFail: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			primary := &llmmock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: "from primary"},
				CompleteErr:      tt.primaryErr,
			}
			secondary := &llmmock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: "from secondary"},
				CompleteErr:      tt.secondaryErr,
			}
			fb := NewLLMFallback(primary, "primary", FallbackConfig{
				CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
			})
			fb.AddFallback("secondary", secondary)

			resp, err := fb.Complete(context.Background(), llm.CompletionRequest{
				Messages: []types.Message{{Role: "user", Content: "Will: hi"}},
			})
			if tt.wantAllFail {
				if !errors.Is(err, ErrAllFailed) {
					t.Fatalf("err = %v, want ErrAllFailed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if resp.Content != tt.want {
				t.Errorf("content = %q, want %q", resp.Content, tt.want)
			}
			if tt.primaryErr == nil && len(secondary.Calls()) != 0 {
				t.Error("secondary called although primary succeeded")
			}
		})
	}
}

func TestLLMFallback_CountTokensUsesPrimary(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{TokenCount: 42}
	secondary := &llmmock.Provider{TokenCount: 7}
	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	n, err := fb.CountTokens([]types.Message{{Role: "user", Content: "x"}})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if n != 42 {
		t.Errorf("CountTokens = %d, want 42", n)
	}
}

func TestLLMFallback_CapabilitiesTakesSmallestWindow(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{ModelCapabilities: types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4096}}
	small := &llmmock.Provider{ModelCapabilities: types.ModelCapabilities{ContextWindow: 8192, MaxOutputTokens: 2048}}
	unknown := &llmmock.Provider{}
	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("small", small)
	fb.AddFallback("unknown", unknown)

	caps := fb.Capabilities()
	if caps.ContextWindow != 8192 || caps.MaxOutputTokens != 2048 {
		t.Errorf("Capabilities = %+v, want 8192/2048", caps)
	}
}
