package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/MrWong99/ventriloquist/internal/conversation"
	"github.com/MrWong99/ventriloquist/internal/observe"
	"github.com/MrWong99/ventriloquist/internal/resilience"
	"github.com/MrWong99/ventriloquist/pkg/audio"
)

const defaultTimeout = 30 * time.Second

// DefaultMaxReplyBytes bounds the audio body read from the backend.
const DefaultMaxReplyBytes = 16 << 20

// ErrReplyTooLarge is returned by [Client.Converse] when the reply audio
// exceeds the configured limit.
var ErrReplyTooLarge = errors.New("backend: reply audio too large")

// Client talks to the conversation endpoint over HTTP.
//
// Client is safe for concurrent use.
type Client struct {
	endpoint string
	http     *http.Client
	timeout  time.Duration
	breaker  *resilience.CircuitBreaker
	format   audio.Format
	maxReply int64
}

// Option is a functional option for [NewClient].
type Option func(*Client)

// WithHTTPClient replaces the underlying [http.Client].
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds each request, including reading the audio body.
// Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCircuitBreaker overrides the breaker configuration. Client errors
// (4xx other than 429) never trip the breaker.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *Client) {
		if cfg.Name == "" {
			cfg.Name = "backend"
		}
		cfg.IsFailure = isBreakerFailure
		c.breaker = resilience.NewCircuitBreaker(cfg)
	}
}

// WithUploadFormat sets the format raw PCM captures are converted to before
// upload. Defaults to [audio.SpeechFormat].
func WithUploadFormat(f audio.Format) Option {
	return func(c *Client) { c.format = f }
}

// WithMaxReplyBytes sets the largest reply body accepted. Defaults to
// [DefaultMaxReplyBytes].
func WithMaxReplyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxReply = n
		}
	}
}

// NewClient creates a client for the backend at baseURL (e.g.
// "http://localhost:3000").
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend: base url %q must use http or https", baseURL)
	}
	c := &Client{
		endpoint: strings.TrimSuffix(u.String(), "/") + Path,
		http:     &http.Client{},
		timeout:  defaultTimeout,
		format:   audio.SpeechFormat,
		maxReply: DefaultMaxReplyBytes,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:      "backend",
			IsFailure: isBreakerFailure,
		}),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func isBreakerFailure(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}

// Converse submits req and returns the synthesised reply. Raw PCM audio is
// wrapped into WAV first. The call is bounded by the client timeout in
// addition to ctx.
func (c *Client) Converse(ctx context.Context, req Request) (*Response, error) {
	ctx, span := observe.StartSpan(ctx, "backend.converse")
	defer span.End()
	span.SetAttributes(
		attribute.String("speaker", req.Speaker),
		attribute.Int("history.turns", len(req.History)),
	)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, contentType, err := c.encode(req)
	if err != nil {
		observe.Fail(span, err)
		return nil, err
	}

	var resp *Response
	err = c.breaker.Execute(func() error {
		var rerr error
		resp, rerr = c.do(ctx, body, contentType)
		return rerr
	})
	if err != nil {
		observe.Fail(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("response.bytes", resp.Audio.Len()))
	return resp, nil
}

func (c *Client) encode(req Request) ([]byte, string, error) {
	if strings.TrimSpace(req.Speaker) == "" {
		return nil, "", errors.New("backend: speaker is required")
	}
	clip, err := audio.ToWAV(req.Audio, c.format)
	if err != nil {
		return nil, "", fmt.Errorf("backend: prepare audio: %w", err)
	}
	if clip.Len() == 0 {
		return nil, "", errors.New("backend: audio is empty")
	}
	if !SupportedAudio(clip.MediaType) {
		return nil, "", fmt.Errorf("backend: unsupported audio type %q", clip.MediaType)
	}

	history := req.History
	if history == nil {
		history = []conversation.Turn{}
	}
	ctxJSON, err := json.Marshal(history)
	if err != nil {
		return nil, "", fmt.Errorf("backend: encode history: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField(FieldContext, string(ctxJSON)); err != nil {
		return nil, "", fmt.Errorf("backend: write context: %w", err)
	}
	if err := mw.WriteField(FieldSpeaker, req.Speaker); err != nil {
		return nil, "", fmt.Errorf("backend: write speaker: %w", err)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FieldAudio, fileName(clip.MediaType)))
	h.Set("Content-Type", clip.MediaType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("backend: create audio part: %w", err)
	}
	if _, err := part.Write(clip.Data); err != nil {
		return nil, "", fmt.Errorf("backend: write audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("backend: close multipart writer: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func (c *Client) do(ctx context.Context, body []byte, contentType string) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "audio/mpeg")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("backend: request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, readStatusError(httpResp)
	}

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxReply+1))
	if err != nil {
		return nil, fmt.Errorf("backend: read audio: %w", err)
	}
	if int64(len(data)) > c.maxReply {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrReplyTooLarge, c.maxReply)
	}
	mediaType := httpResp.Header.Get("Content-Type")
	if mediaType == "" || audio.BaseMediaType(mediaType) == "application/octet-stream" {
		mediaType = audio.DetectMediaType(data)
	}

	return &Response{
		Audio:      audio.Clip{Data: data, MediaType: mediaType},
		Transcript: DecodeHeader(httpResp.Header.Get(HeaderUserTranscript)),
		Reply:      DecodeHeader(httpResp.Header.Get(HeaderAssistantTranscript)),
	}, nil
}

func readStatusError(resp *http.Response) error {
	se := &StatusError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var eb ErrorBody
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Message != "" {
		se.Message = eb.Message
	} else {
		se.Message = strings.TrimSpace(string(raw))
	}
	return se
}
