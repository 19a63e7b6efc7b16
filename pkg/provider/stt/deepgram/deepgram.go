// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// A recording is streamed to Deepgram in full, followed by a CloseStream
// message; the final results Deepgram commits before closing the socket are
// joined into one transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/ventriloquist/pkg/audio"
	"github.com/MrWong99/ventriloquist/pkg/provider/stt"
	"github.com/MrWong99/ventriloquist/pkg/types"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// sendChunk is the size of each binary frame written to the socket.
	sendChunk = 8 << 10
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the streaming endpoint. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	if req.Audio.Len() == 0 {
		return types.Transcript{}, errors.New("deepgram: empty audio")
	}
	wsURL, err := p.buildURL(req)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- p.send(ctx, conn, req.Audio.Data)
	}()

	var (
		parts    []string
		duration time.Duration
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return types.Transcript{}, fmt.Errorf("deepgram: %w", ctxErr)
			}
			return types.Transcript{}, fmt.Errorf("deepgram: read: %w", err)
		}

		res, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		if res.end > duration {
			duration = res.end
		}
		if res.final && res.text != "" {
			parts = append(parts, res.text)
		}
	}

	if err := <-writeErr; err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: write: %w", err)
	}
	return types.Transcript{
		Text:     strings.Join(parts, " "),
		Language: p.languageFor(req),
		Duration: duration,
	}, nil
}

// send writes the recording in binary frames and asks Deepgram to flush.
func (p *Provider) send(ctx context.Context, conn *websocket.Conn, data []byte) error {
	for off := 0; off < len(data); off += sendChunk {
		end := min(off+sendChunk, len(data))
		if err := conn.Write(ctx, websocket.MessageBinary, data[off:end]); err != nil {
			return err
		}
	}
	return conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
}

// buildURL constructs the Deepgram streaming endpoint URL for the given request.
func (p *Provider) buildURL(req stt.Request) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.languageFor(req))
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")

	// Containers describe themselves; raw PCM needs its format spelled out.
	if f, ok := audio.ParsePCMMediaType(req.Audio.MediaType); ok {
		q.Set("encoding", "linear16")
		q.Set("sample_rate", strconv.Itoa(f.SampleRate))
		q.Set("channels", strconv.Itoa(f.Channels))
	}

	for _, kw := range req.Keywords {
		// Deepgram keyword format: word:boost (e.g., "Markowitz:5")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *Provider) languageFor(req stt.Request) string {
	if req.Language != "" {
		return req.Language
	}
	return p.language
}

// ---- response parsing ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type result struct {
	text  string
	final bool
	end   time.Duration
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message. It returns
// false for messages that carry no transcript (Metadata, SpeechStarted, ...).
func parseDeepgramResponse(data []byte) (result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	if resp.Type != "Results" {
		return result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}

	return result{
		text:  strings.TrimSpace(resp.Channel.Alternatives[0].Transcript),
		final: resp.IsFinal,
		end:   time.Duration((resp.Start + resp.Duration) * float64(time.Second)),
	}, true
}

var _ stt.Provider = (*Provider)(nil)
