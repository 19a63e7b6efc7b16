package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/ventriloquist/pkg/audio"
	"github.com/MrWong99/ventriloquist/pkg/provider/stt"
	sttmock "github.com/MrWong99/ventriloquist/pkg/provider/stt/mock"
	"github.com/MrWong99/ventriloquist/pkg/types"
)

func TestSTTFallback_Transcribe(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{Err: errors.New("whisper server down")}
	secondary := &sttmock.Provider{Transcript: types.Transcript{Text: "testing"}}

	fb := NewSTTFallback(primary, "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("openai", secondary)

	req := stt.Request{Audio: audio.Clip{Data: []byte{0, 0}, MediaType: audio.MediaTypeWAV}}
	for range 2 {
		tr, err := fb.Transcribe(context.Background(), req)
		if err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
		if tr.Text != "testing" {
			t.Errorf("Text = %q, want testing", tr.Text)
		}
	}
	if primary.CallCount() != 1 {
		t.Errorf("primary called %d times, want 1 (breaker should open)", primary.CallCount())
	}
	if secondary.CallCount() != 2 {
		t.Errorf("secondary called %d times, want 2", secondary.CallCount())
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	t.Parallel()

	fb := NewSTTFallback(&sttmock.Provider{Err: errTest}, "a", FallbackConfig{})
	fb.AddFallback("b", &sttmock.Provider{Err: errTest})

	_, err := fb.Transcribe(context.Background(), stt.Request{})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
		t.Errorf("err = %v, want ErrAllFailed wrapping errTest", err)
	}
}
