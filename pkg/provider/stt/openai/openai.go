// Package openai provides an STT provider backed by the OpenAI audio
// transcription API (whisper-1).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/ventriloquist/pkg/audio"
	"github.com/MrWong99/ventriloquist/pkg/provider/stt"
	"github.com/MrWong99/ventriloquist/pkg/types"
)

// DefaultModel is the hosted Whisper model.
const DefaultModel = "whisper-1"

// Provider implements [stt.Provider] using the OpenAI API.
type Provider struct {
	client   oai.Client
	model    oai.AudioModel
	language string
}

type config struct {
	baseURL    string
	language   string
	timeout    time.Duration
	httpClient *http.Client
}

// Option is a functional option for [New].
type Option func(*config)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithLanguage sets the default ISO-639-1 language hint.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithHTTPClient replaces the HTTP client. Takes precedence over
// [WithTimeout].
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// New constructs an OpenAI STT provider. An empty model selects
// [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    oai.AudioModel(model),
		language: cfg.language,
	}, nil
}

// Transcribe implements [stt.Provider]. Raw PCM is wrapped in WAV; the
// hosted API accepts WAV, WebM, Ogg and MP3 uploads as they are.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	if req.Audio.Len() == 0 {
		return types.Transcript{}, errors.New("openai stt: empty audio")
	}
	clip, err := audio.ToWAV(req.Audio, audio.SpeechFormat)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("openai stt: convert: %w", err)
	}
	mt := audio.BaseMediaType(clip.MediaType)
	if mt == "" {
		mt = audio.DetectMediaType(clip.Data)
	}
	name, ok := uploadNames[mt]
	if !ok {
		return types.Transcript{}, fmt.Errorf("openai stt: %w: %q", stt.ErrUnsupportedAudio, clip.MediaType)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(clip.Data), name, mt),
		Model: p.model,
	}
	if lang != "" {
		// The API takes ISO-639-1, so "en-US" is reduced to "en".
		lang, _, _ = strings.Cut(lang, "-")
		params.Language = oai.String(lang)
	}
	if prompt := prompt(req); prompt != "" {
		params.Prompt = oai.String(prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("openai stt: transcription: %w", err)
	}

	tr := types.Transcript{Text: strings.TrimSpace(resp.Text), Language: lang}
	if mt == audio.MediaTypeWAV {
		if f, pcm, err := audio.DecodeWAV(clip.Data); err == nil {
			tr.Duration = audio.PCMDuration(len(pcm), f)
		}
	}
	return tr, nil
}

var uploadNames = map[string]string{
	audio.MediaTypeWAV:  "audio.wav",
	"audio/x-wav":       "audio.wav",
	audio.MediaTypeWebM: "audio.webm",
	audio.MediaTypeOgg:  "audio.ogg",
	audio.MediaTypeMPEG: "audio.mp3",
}

func prompt(req stt.Request) string {
	if len(req.Keywords) == 0 {
		return req.Prompt
	}
	words := make([]string, len(req.Keywords))
	for i, kw := range req.Keywords {
		words[i] = kw.Keyword
	}
	return strings.TrimSpace(req.Prompt + " " + strings.Join(words, ", ") + ".")
}

var _ stt.Provider = (*Provider)(nil)
