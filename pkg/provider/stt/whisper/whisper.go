// Package whisper provides a local whisper.cpp-backed STT provider.
//
// It talks to a running whisper-server binary, which exposes a REST API at
// POST /inference. Uncompressed recordings are normalised to 16 kHz mono WAV
// and trimmed of leading and trailing silence before upload; a recording
// that is silent throughout is answered locally with an empty transcript.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	)
//	tr, err := p.Transcribe(ctx, stt.Request{Audio: clip})
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/ventriloquist/pkg/audio"
	"github.com/MrWong99/ventriloquist/pkg/provider/stt"
	"github.com/MrWong99/ventriloquist/pkg/types"
)

const (
	// defaultRMSThreshold is the root-mean-square energy level (in 16-bit PCM
	// units) below which audio is considered silent. The maximum possible value
	// for 16-bit audio is 32 767; 300 corresponds to near-silence.
	defaultRMSThreshold = 300.0

	// windowMs is the analysis window used when trimming silence.
	windowMs = 20

	// keepMs is how much silence is kept around the detected speech so word
	// onsets are not clipped.
	keepMs = 200

	defaultLanguage = "en"
	maxResponseSize = 1 << 20
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with, which is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "en", "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSilenceThreshold sets the RMS level below which a window counts as
// silence. Zero disables trimming.
func WithSilenceThreshold(rms float64) Option {
	return func(p *Provider) {
		p.rmsThreshold = rms
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = hc
	}
}

// Provider implements stt.Provider backed by a local whisper.cpp HTTP server.
type Provider struct {
	serverURL    string
	model        string
	language     string
	rmsThreshold float64
	httpClient   *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:    strings.TrimRight(serverURL, "/"),
		language:     defaultLanguage,
		rmsThreshold: defaultRMSThreshold,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	if req.Audio.Len() == 0 {
		return types.Transcript{}, errors.New("whisper: empty audio")
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	clip, dur, silent, err := p.prepare(req.Audio)
	if err != nil {
		return types.Transcript{}, err
	}
	if silent {
		return types.Transcript{Language: lang, Duration: dur}, nil
	}

	text, err := p.infer(ctx, clip, lang, buildPrompt(req))
	if err != nil {
		return types.Transcript{}, err
	}
	return types.Transcript{Text: strings.TrimSpace(text), Language: lang, Duration: dur}, nil
}

// prepare normalises uncompressed audio to 16 kHz mono WAV and trims
// silence. Compressed containers pass through untouched.
func (p *Provider) prepare(clip audio.Clip) (audio.Clip, time.Duration, bool, error) {
	wav, err := audio.ToWAV(clip, audio.SpeechFormat)
	if err != nil {
		return audio.Clip{}, 0, false, fmt.Errorf("whisper: convert: %w", err)
	}
	mt := audio.BaseMediaType(wav.MediaType)
	if mt == "" {
		mt = audio.DetectMediaType(wav.Data)
		wav.MediaType = mt
	}
	switch mt {
	case audio.MediaTypeWAV, "audio/x-wav", "audio/wave":
	case audio.MediaTypeWebM, audio.MediaTypeOgg, audio.MediaTypeMPEG:
		return wav, 0, false, nil
	default:
		return audio.Clip{}, 0, false, fmt.Errorf("whisper: %w: %q", stt.ErrUnsupportedAudio, wav.MediaType)
	}

	f, pcm, err := audio.DecodeWAV(wav.Data)
	if err != nil {
		return audio.Clip{}, 0, false, fmt.Errorf("whisper: %w", err)
	}
	dur := audio.PCMDuration(len(pcm), f)
	if p.rmsThreshold <= 0 {
		return wav, dur, false, nil
	}

	trimmed := trimSilence(pcm, f, p.rmsThreshold)
	if len(trimmed) == 0 {
		return audio.Clip{}, dur, true, nil
	}
	if len(trimmed) == len(pcm) {
		return wav, dur, false, nil
	}
	data, err := audio.EncodeWAV(trimmed, f)
	if err != nil {
		return audio.Clip{}, 0, false, fmt.Errorf("whisper: %w", err)
	}
	return audio.Clip{Data: data, MediaType: audio.MediaTypeWAV}, dur, false, nil
}

// buildPrompt folds the keyword list into the prompt, since whisper.cpp has
// no keyword boosting API but does condition on preceding text.
func buildPrompt(req stt.Request) string {
	parts := make([]string, 0, 2)
	if req.Prompt != "" {
		parts = append(parts, req.Prompt)
	}
	if len(req.Keywords) > 0 {
		words := make([]string, len(req.Keywords))
		for i, kw := range req.Keywords {
			words[i] = kw.Keyword
		}
		parts = append(parts, strings.Join(words, ", ")+".")
	}
	return strings.Join(parts, " ")
}

// infer POSTs the clip to the whisper.cpp /inference endpoint as
// multipart/form-data and returns the transcribed text.
func (p *Provider) infer(ctx context.Context, clip audio.Clip, lang, prompt string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", fileName(clip))
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(clip.Data); err != nil {
		return "", fmt.Errorf("whisper: write audio data: %w", err)
	}

	fields := [][2]string{
		{"response_format", "json"},
		{"language", lang},
		{"model", p.model},
		{"prompt", prompt},
	}
	for _, kv := range fields {
		if kv[1] == "" {
			continue
		}
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", kv[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var result struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("whisper: server error: %s", result.Error)
	}
	return result.Text, nil
}

func fileName(clip audio.Clip) string {
	switch audio.BaseMediaType(clip.MediaType) {
	case audio.MediaTypeWebM:
		return "audio.webm"
	case audio.MediaTypeOgg:
		return "audio.ogg"
	case audio.MediaTypeMPEG:
		return "audio.mp3"
	default:
		return "audio.wav"
	}
}

// ---- helpers ----------------------------------------------------------------

// trimSilence cuts leading and trailing windows whose energy is below
// threshold, keeping keepMs of padding on each side. It returns nil when no
// window exceeds the threshold.
func trimSilence(pcm []byte, f audio.Format, threshold float64) []byte {
	frame := 2 * f.Channels
	window := f.SampleRate * windowMs / 1000 * frame
	if window <= 0 || len(pcm) < frame {
		return pcm
	}

	first, last := -1, -1
	for off := 0; off < len(pcm); off += window {
		end := min(off+window, len(pcm))
		if computeRMS(pcm[off:end]) >= threshold {
			if first < 0 {
				first = off
			}
			last = end
		}
	}
	if first < 0 {
		return nil
	}

	pad := f.SampleRate * keepMs / 1000 * frame
	start := max(first-pad, 0)
	stop := min(last+pad, len(pcm))
	return pcm[start:stop]
}

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer. Returns 0 for buffers shorter than one sample.
// The result is expressed in the same units as PCM sample values (0-32 767).
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
