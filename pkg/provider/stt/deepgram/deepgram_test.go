package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/ventriloquist/pkg/audio"
	"github.com/MrWong99/ventriloquist/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_PCM(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.Request{
		Audio: audio.Clip{MediaType: audio.PCMMediaType(audio.Format{SampleRate: 48000, Channels: 2})},
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
	assertEqual(t, "channels", "2", q.Get("channels"))
}

func TestBuildURL_ContainerOmitsEncoding(t *testing.T) {
	p, _ := New("key", WithModel("base"), WithLanguage("de-DE"))

	rawURL, err := p.buildURL(stt.Request{Audio: audio.Clip{MediaType: audio.MediaTypeWAV}})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	q, _ := url.ParseQuery(rawURL[strings.Index(rawURL, "?")+1:])
	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	if q.Has("encoding") || q.Has("sample_rate") {
		t.Errorf("container upload should not set encoding params: %v", q)
	}
}

func TestBuildURL_LanguageOverriddenByRequest(t *testing.T) {
	p, _ := New("key", WithLanguage("en"))

	rawURL, err := p.buildURL(stt.Request{Language: "fr-FR"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fr-FR", u.Query().Get("language"))
}

func TestBuildURL_Keywords(t *testing.T) {
	p, _ := New("key")

	rawURL, err := p.buildURL(stt.Request{
		Keywords: []stt.KeywordBoost{
			{Keyword: "Markowitz", Boost: 5},
			{Keyword: "Antonelli", Boost: 3.5},
		},
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	kws := u.Query()["keywords"]
	if len(kws) != 2 {
		t.Fatalf("expected 2 keywords, got %d: %v", len(kws), kws)
	}
	found := map[string]bool{}
	for _, kw := range kws {
		found[kw] = true
	}
	if !found["Markowitz:5"] || !found["Antonelli:3.5"] {
		t.Errorf("unexpected keywords %v", kws)
	}
}

// ---- JSON parsing tests ----

func TestParseDeepgramResponse(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantOK    bool
		wantText  string
		wantFinal bool
	}{
		{
			name:      "final",
			raw:       `{"type":"Results","is_final":true,"start":1.0,"duration":0.5,"channel":{"alternatives":[{"transcript":" Hello world ","confidence":0.95}]}}`,
			wantOK:    true,
			wantText:  "Hello world",
			wantFinal: true,
		},
		{
			name:     "partial",
			raw:      `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"Hello"}]}}`,
			wantOK:   true,
			wantText: "Hello",
		},
		{name: "metadata", raw: `{"type":"Metadata","request_id":"abc"}`},
		{name: "empty alternatives", raw: `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`},
		{name: "invalid json", raw: `{invalid`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := parseDeepgramResponse([]byte(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			assertEqual(t, "text", tt.wantText, res.text)
			if res.final != tt.wantFinal {
				t.Errorf("final = %v, want %v", res.final, tt.wantFinal)
			}
		})
	}

	res, _ := parseDeepgramResponse([]byte(tests[0].raw))
	if res.end != 1500*time.Millisecond {
		t.Errorf("end = %v, want 1.5s", res.end)
	}
}

// ---- websocket round trip ----

func TestTranscribe_RoundTrip(t *testing.T) {
	var (
		mu       sync.Mutex
		received int
		auth     string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = r.Header.Get("Authorization")
		mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				mu.Lock()
				received += len(data)
				mu.Unlock()
				continue
			}
			if strings.Contains(string(data), "CloseStream") {
				break
			}
		}
		msgs := []string{
			`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"test"}]}}`,
			`{"type":"Results","is_final":true,"start":0,"duration":0.8,"channel":{"alternatives":[{"transcript":"testing"}]}}`,
			`{"type":"Results","is_final":true,"start":0.8,"duration":0.4,"channel":{"alternatives":[{"transcript":"one two"}]}}`,
			`{"type":"Metadata","request_id":"r1"}`,
		}
		for _, m := range msgs {
			if err := conn.Write(ctx, websocket.MessageText, []byte(m)); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	p, _ := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	pcm := make([]byte, 20_000)
	tr, err := p.Transcribe(context.Background(), stt.Request{
		Audio: audio.Clip{Data: pcm, MediaType: audio.PCMMediaType(audio.SpeechFormat)},
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "text", "testing one two", tr.Text)
	if tr.Duration != 1200*time.Millisecond {
		t.Errorf("Duration = %v, want 1.2s", tr.Duration)
	}

	mu.Lock()
	defer mu.Unlock()
	if received != len(pcm) {
		t.Errorf("server received %d bytes, want %d", received, len(pcm))
	}
	assertEqual(t, "auth", "Token secret", auth)
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
	assertEqual(t, "endpoint", deepgramEndpoint, p.endpoint)
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
