package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/ventriloquist/internal/conversation"
	"github.com/MrWong99/ventriloquist/internal/resilience"
	"github.com/MrWong99/ventriloquist/pkg/audio"
)

func pcmClip(n int) audio.Clip {
	return audio.Clip{Data: make([]byte, n), MediaType: audio.PCMMediaType(audio.SpeechFormat)}
}

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/", opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestConverse_Success(t *testing.T) {
	t.Parallel()

	history := []conversation.Turn{
		{Role: conversation.RoleSystem, Content: "You are Robby."},
		{Role: conversation.RoleUser, Content: "Will: hi Robby"},
	}

	var (
		gotHistory []conversation.Turn
		gotSpeaker string
		gotType    string
		gotAudio   []byte
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+Path, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		_ = json.Unmarshal([]byte(r.FormValue(FieldContext)), &gotHistory)
		gotSpeaker = r.FormValue(FieldSpeaker)
		f, fh, err := r.FormFile(FieldAudio)
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		gotType = fh.Header.Get("Content-Type")
		gotAudio, _ = io.ReadAll(f)

		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set(HeaderUserTranscript, EncodeHeader("testing, Müller"))
		w.Header().Set(HeaderAssistantTranscript, EncodeHeader("Oh great, more testing."))
		_, _ = w.Write([]byte("ID3-mp3-bytes"))
	})
	c := newTestClient(t, mux)

	resp, err := c.Converse(context.Background(), Request{History: history, Speaker: "Will", Audio: pcmClip(3200)})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}

	if len(gotHistory) != 2 || gotHistory[1] != history[1] {
		t.Errorf("server got history %+v", gotHistory)
	}
	if gotSpeaker != "Will" {
		t.Errorf("speaker = %q", gotSpeaker)
	}
	if gotType != audio.MediaTypeWAV {
		t.Errorf("audio part type = %q, want audio/wav", gotType)
	}
	if len(gotAudio) != 44+3200 {
		t.Errorf("audio part = %d bytes, want WAV header + 3200", len(gotAudio))
	}

	if resp.Transcript != "testing, Müller" || resp.Reply != "Oh great, more testing." {
		t.Errorf("texts = %q / %q", resp.Transcript, resp.Reply)
	}
	if string(resp.Audio.Data) != "ID3-mp3-bytes" || resp.Audio.MediaType != "audio/mpeg" {
		t.Errorf("audio = %+v", resp.Audio)
	}
}

func TestConverse_NilHistorySendsEmptyArray(t *testing.T) {
	t.Parallel()

	var raw string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw = r.FormValue(FieldContext)
		_, _ = w.Write([]byte("x"))
	}))
	if _, err := c.Converse(context.Background(), Request{Speaker: "Audience", Audio: pcmClip(2)}); err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if raw != "[]" {
		t.Errorf("context = %q, want []", raw)
	}
}

func TestConverse_StatusError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"audio must be audio/webm or audio/wav"}`))
	}))

	_, err := c.Converse(context.Background(), Request{Speaker: "Will", Audio: pcmClip(2)})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusBadRequest || se.Message != "audio must be audio/webm or audio/wav" {
		t.Errorf("status error = %+v", se)
	}
	if se.Temporary() {
		t.Error("400 reported as temporary")
	}
}

func TestConverse_BreakerIgnoresClientErrors(t *testing.T) {
	t.Parallel()

	var status atomic.Int32
	status.Store(http.StatusBadRequest)
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(int(status.Load()))
	}), WithCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}))

	req := Request{Speaker: "Will", Audio: pcmClip(2)}
	for range 3 {
		_, _ = c.Converse(context.Background(), req)
	}
	if hits.Load() != 3 {
		t.Fatalf("hits = %d, want 3 (400s must not open the breaker)", hits.Load())
	}

	status.Store(http.StatusBadGateway)
	for range 2 {
		_, _ = c.Converse(context.Background(), req)
	}
	_, err := c.Converse(context.Background(), req)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen after repeated 502s", err)
	}
	if hits.Load() != 5 {
		t.Errorf("hits = %d, want 5", hits.Load())
	}
}

func TestConverse_Timeout(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}), WithTimeout(20*time.Millisecond))

	_, err := c.Converse(context.Background(), Request{Speaker: "Will", Audio: pcmClip(2)})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestConverse_SniffsUntypedAudio(t *testing.T) {
	t.Parallel()

	wav, err := audio.EncodeWAV(make([]byte, 4), audio.SpeechFormat)
	if err != nil {
		t.Fatal(err)
	}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(wav)
	}))
	resp, err := c.Converse(context.Background(), Request{Speaker: "Will", Audio: pcmClip(2)})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if resp.Audio.MediaType != audio.MediaTypeWAV {
		t.Errorf("media type = %q, want audio/wav", resp.Audio.MediaType)
	}
}

func TestConverse_ReplySizeLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{name: "at limit", size: 64},
		{name: "one byte over", size: 65, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", audio.MediaTypeMPEG)
				_, _ = w.Write(bytes.Repeat([]byte{0xFF}, tt.size))
			}), WithMaxReplyBytes(64))

			resp, err := c.Converse(context.Background(), Request{Speaker: "Will", Audio: pcmClip(2)})
			if tt.wantErr {
				if !errors.Is(err, ErrReplyTooLarge) {
					t.Fatalf("err = %v, want ErrReplyTooLarge", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Converse: %v", err)
			}
			if resp.Audio.Len() != tt.size {
				t.Errorf("audio length = %d, want %d", resp.Audio.Len(), tt.size)
			}
		})
	}
}

func TestConverse_InvalidRequest(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))

	tests := []struct {
		name string
		req  Request
	}{
		{name: "no speaker", req: Request{Speaker: " ", Audio: pcmClip(2)}},
		{name: "no audio", req: Request{Speaker: "Will", Audio: audio.Clip{MediaType: audio.MediaTypeWAV}}},
		{name: "unsupported type", req: Request{Speaker: "Will", Audio: audio.Clip{Data: []byte("ID3"), MediaType: audio.MediaTypeMPEG}}},
		{name: "odd pcm", req: Request{Speaker: "Will", Audio: pcmClip(3)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Converse(context.Background(), tt.req); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if hits.Load() != 0 {
		t.Errorf("invalid requests reached the server %d times", hits.Load())
	}
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url     string
		wantErr bool
	}{
		{url: "http://localhost:3000"},
		{url: "https://robby.example.com/"},
		{url: "ftp://localhost", wantErr: true},
		{url: "localhost:3000", wantErr: true},
		{url: "://bad", wantErr: true},
	}
	for _, tt := range tests {
		c, err := NewClient(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewClient(%q): err = %v, wantErr %v", tt.url, err, tt.wantErr)
			continue
		}
		if err == nil && c.endpoint[len(c.endpoint)-len(Path):] != Path {
			t.Errorf("endpoint = %q", c.endpoint)
		}
	}
}

func TestHeaderEncoding(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "plain", "Will: ¿qué tal?", "line\nbreak", "100% sure"} {
		enc := EncodeHeader(s)
		for _, r := range enc {
			if r < 0x20 || r > 0x7e {
				t.Errorf("EncodeHeader(%q) = %q contains non-printable ASCII", s, enc)
				break
			}
		}
		if got := DecodeHeader(enc); got != s {
			t.Errorf("round trip of %q = %q", s, got)
		}
	}
	if got := DecodeHeader("%zz"); got != "%zz" {
		t.Errorf("DecodeHeader(invalid) = %q, want input unchanged", got)
	}
}

func TestSupportedAudio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mediaType string
		want      bool
	}{
		{"audio/wav", true},
		{"audio/x-wav", true},
		{"audio/webm", true},
		{"audio/webm;codecs=opus", true},
		{"AUDIO/WAV", true},
		{"audio/mpeg", false},
		{"audio/ogg", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := SupportedAudio(tt.mediaType); got != tt.want {
			t.Errorf("SupportedAudio(%q) = %v, want %v", tt.mediaType, got, tt.want)
		}
	}
}
