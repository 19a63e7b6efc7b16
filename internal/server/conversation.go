// Package server implements the conversation backend: the HTTP endpoint that
// turns one recorded utterance plus the dialogue so far into the character's
// spoken reply.
//
// A request flows through three provider stages, each bounded by its own
// timeout:
//
//	audio ──► STT ──► name correction ──► LLM ──► dialogue extraction ──► TTS ──► audio/mpeg
//
// The transcript and the extracted reply travel back as percent-encoded
// headers so the client can append both turns to its history.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/ventriloquist/internal/backend"
	"github.com/MrWong99/ventriloquist/internal/conversation"
	"github.com/MrWong99/ventriloquist/internal/observe"
	"github.com/MrWong99/ventriloquist/internal/transcript"
	"github.com/MrWong99/ventriloquist/internal/transcript/phonetic"
	"github.com/MrWong99/ventriloquist/pkg/audio"
	"github.com/MrWong99/ventriloquist/pkg/provider/llm"
	"github.com/MrWong99/ventriloquist/pkg/provider/stt"
	"github.com/MrWong99/ventriloquist/pkg/provider/tts"
	"github.com/MrWong99/ventriloquist/pkg/types"
)

// Defaults applied by [NewConversationHandler].
const (
	DefaultStageTimeout = 20 * time.Second
	DefaultVoiceID      = "VR6AewLTigWG4xSOukaG"

	// multipartMemory is the part of a request kept in memory while
	// parsing. Larger uploads spill to temporary files.
	multipartMemory = 8 << 20

	// keywordBoost weights cast names for providers that support keyword
	// boosting.
	keywordBoost = 2.0
)

// Messages returned in the JSON error body.
const (
	msgMethodNotAllowed = "Method not allowed"
	msgMissingFields    = "Missing one of required fields - context, speaker, audio"
	msgUnsupportedAudio = "audio must be audio/webm or audio/wav"
	msgTooLarge         = "request body too large"
	msgTranscription    = "error during audio transcription"
	msgCompletion       = "error during reply generation"
	msgSynthesis        = "error during audio generation"
)

// DefaultVoice is the character's voice: ElevenLabs "Arnold" with the
// stability and similarity used on stage.
var DefaultVoice = types.VoiceProfile{
	ID:              DefaultVoiceID,
	Name:            "Arnold",
	Provider:        "elevenlabs",
	Stability:       0.5,
	SimilarityBoost: 0.5,
}

// Option configures a [ConversationHandler].
type Option func(*ConversationHandler)

// WithStageTimeout bounds each provider call. Non-positive values are
// ignored.
func WithStageTimeout(d time.Duration) Option {
	return func(h *ConversationHandler) {
		if d > 0 {
			h.stageTimeout = d
		}
	}
}

// WithVoice sets the voice replies are synthesised with.
func WithVoice(v types.VoiceProfile) Option {
	return func(h *ConversationHandler) { h.voice = v }
}

// WithNames sets the cast names that transcripts are corrected towards.
// Nil disables correction. Defaults to [conversation.AudienceNames].
func WithNames(names []string) Option {
	return func(h *ConversationHandler) { h.names = names }
}

// WithLanguage sets the recognition language passed to the STT provider.
func WithLanguage(lang string) Option {
	return func(h *ConversationHandler) { h.language = lang }
}

// WithCompletion sets the sampling temperature and reply token cap. Zero
// values select the provider defaults.
func WithCompletion(temperature float64, maxTokens int) Option {
	return func(h *ConversationHandler) {
		h.temperature = temperature
		h.maxTokens = maxTokens
	}
}

// WithProviderNames sets the provider labels used in metrics and logs.
func WithProviderNames(sttName, llmName, ttsName string) Option {
	return func(h *ConversationHandler) {
		h.sttName, h.llmName, h.ttsName = sttName, llmName, ttsName
	}
}

// WithMetrics sets the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *ConversationHandler) { h.metrics = m }
}

// ConversationHandler serves [backend.Path]. It keeps no per-conversation
// state; the client owns the history.
type ConversationHandler struct {
	stt stt.Provider
	llm llm.Provider
	tts tts.Provider

	corrector *transcript.Corrector
	names     []string

	stageTimeout time.Duration
	voice        types.VoiceProfile
	language     string
	temperature  float64
	maxTokens    int

	sttName, llmName, ttsName string
	metrics                   *observe.Metrics
}

// NewConversationHandler creates the handler. All three providers are
// required.
func NewConversationHandler(s stt.Provider, l llm.Provider, t tts.Provider, opts ...Option) (*ConversationHandler, error) {
	if s == nil || l == nil || t == nil {
		return nil, errors.New("server: stt, llm and tts providers are required")
	}
	h := &ConversationHandler{
		stt:          s,
		llm:          l,
		tts:          t,
		names:        conversation.AudienceNames,
		stageTimeout: DefaultStageTimeout,
		voice:        DefaultVoice,
		sttName:      "stt",
		llmName:      "llm",
		ttsName:      "tts",
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	h.corrector = transcript.NewCorrector(phonetic.New(), h.names)
	return h, nil
}

// turnRequest is a validated conversation request.
type turnRequest struct {
	history []conversation.Turn
	speaker string
	audio   audio.Clip
}

// ServeHTTP implements [http.Handler].
func (h *ConversationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, msgMethodNotAllowed)
		return
	}

	ctx := r.Context()
	h.metrics.ActiveConversations.Add(ctx, 1)
	defer h.metrics.ActiveConversations.Add(ctx, -1)

	req, status, msg := parseRequest(w, r)
	if status != http.StatusOK {
		observe.Logger(ctx).Info("server: rejected conversation request", "status", status, "reason", msg)
		writeError(w, status, msg)
		return
	}

	res, status, err := h.converse(ctx, req)
	if err != nil {
		observe.Logger(ctx).Error("server: conversation failed", "speaker", req.speaker, "err", err)
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", res.Audio.MediaType)
	w.Header().Set("Content-Length", strconv.Itoa(res.Audio.Len()))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", audioFileName(res.Audio.MediaType)))
	w.Header().Set(backend.HeaderUserTranscript, backend.EncodeHeader(res.Transcript))
	w.Header().Set(backend.HeaderAssistantTranscript, backend.EncodeHeader(res.Reply))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Audio.Data); err != nil {
		observe.Logger(ctx).Warn("server: write reply audio", "err", err)
	}
}

// parseRequest reads and validates the multipart form. It returns
// http.StatusOK on success, or the status and message to reject with.
func parseRequest(w http.ResponseWriter, r *http.Request) (turnRequest, int, string) {
	if r.ContentLength > backend.MaxRequestBytes {
		return turnRequest{}, http.StatusRequestEntityTooLarge, msgTooLarge
	}
	r.Body = http.MaxBytesReader(w, r.Body, backend.MaxRequestBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return turnRequest{}, http.StatusRequestEntityTooLarge, msgTooLarge
		}
		return turnRequest{}, http.StatusBadRequest, "error parsing form data: " + err.Error()
	}
	defer r.MultipartForm.RemoveAll()

	rawContext := r.MultipartForm.Value[backend.FieldContext]
	speaker := strings.TrimSpace(r.FormValue(backend.FieldSpeaker))
	files := r.MultipartForm.File[backend.FieldAudio]
	if len(rawContext) == 0 || speaker == "" || len(files) == 0 {
		return turnRequest{}, http.StatusBadRequest, msgMissingFields
	}

	history, err := conversation.DecodeTurns([]byte(rawContext[0]))
	if err != nil {
		return turnRequest{}, http.StatusBadRequest, "invalid context: " + err.Error()
	}

	fh := files[0]
	mediaType := fh.Header.Get("Content-Type")
	if !backend.SupportedAudio(mediaType) {
		return turnRequest{}, http.StatusBadRequest, msgUnsupportedAudio
	}
	f, err := fh.Open()
	if err != nil {
		return turnRequest{}, http.StatusBadRequest, "read audio: " + err.Error()
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return turnRequest{}, http.StatusBadRequest, "read audio: " + err.Error()
	}
	if len(data) == 0 {
		return turnRequest{}, http.StatusBadRequest, msgMissingFields
	}

	return turnRequest{
		history: history,
		speaker: speaker,
		audio:   audio.Clip{Data: data, MediaType: audio.BaseMediaType(strings.ToLower(mediaType))},
	}, http.StatusOK, ""
}

// converse runs the provider pipeline. On failure it returns the HTTP
// status to answer with and an error whose message is safe to return to the
// client.
func (h *ConversationHandler) converse(ctx context.Context, req turnRequest) (*backend.Response, int, error) {
	ctx, span := observe.StartSpan(ctx, "server.converse",
		trace.WithAttributes(
			attribute.String("speaker", req.speaker),
			attribute.Int("history.turns", len(req.history)),
			attribute.Int("audio.bytes", req.audio.Len()),
		),
	)
	defer span.End()
	ctx = observe.WithSpeaker(ctx, req.speaker)
	log := observe.Logger(ctx)

	heard, err := h.transcribe(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, "stt")
		log.Error("server: transcription failed", "provider", h.sttName, "err", err)
		return nil, http.StatusInternalServerError, errors.New(msgTranscription)
	}
	corrected, fixes := h.corrector.Correct(heard)
	if len(fixes) > 0 {
		log.Debug("server: corrected transcript", "heard", heard, "corrected", corrected, "corrections", len(fixes))
	}

	raw, err := h.complete(ctx, req, corrected)
	if err != nil {
		span.SetStatus(codes.Error, "llm")
		log.Error("server: completion failed", "provider", h.llmName, "err", err)
		return nil, http.StatusInternalServerError, errors.New(msgCompletion)
	}
	reply := conversation.Sanitize(raw)
	if reply == "" {
		log.Warn("server: no dialogue in model reply, using fallback line", "raw", raw)
		h.metrics.RecordFallbackLine(ctx)
		reply = conversation.FallbackLine
	}

	clip, err := h.synthesize(ctx, reply)
	if err != nil {
		span.SetStatus(codes.Error, "tts")
		log.Error("server: synthesis failed", "provider", h.ttsName, "err", err)
		return nil, http.StatusInternalServerError, errors.New(msgSynthesis)
	}

	log.Info("server: exchange",
		"transcript", corrected,
		"reply", reply,
		"audio_bytes", clip.Len(),
	)
	return &backend.Response{Audio: clip, Transcript: corrected, Reply: reply}, http.StatusOK, nil
}

func (h *ConversationHandler) transcribe(ctx context.Context, req turnRequest) (text string, err error) {
	ctx, cancel := context.WithTimeout(ctx, h.stageTimeout)
	defer cancel()
	ctx, span := observe.StartStage(ctx, observe.StageSTT, h.sttName)
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	tr, err := h.stt.Transcribe(ctx, stt.Request{
		Audio:    req.audio,
		Language: h.language,
		Prompt:   lastLine(req.history),
		Keywords: stt.Keywords(keywordBoost, h.names...),
	})
	h.metrics.RecordStage(ctx, observe.StageSTT, h.sttName, time.Since(start), err)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(tr.Text), nil
}

func (h *ConversationHandler) complete(ctx context.Context, req turnRequest, heard string) (reply string, err error) {
	ctx, cancel := context.WithTimeout(ctx, h.stageTimeout)
	defer cancel()
	ctx, span := observe.StartStage(ctx, observe.StageLLM, h.llmName)
	defer func() { observe.EndSpan(span, err) }()

	messages := make([]types.Message, 0, len(req.history)+1)
	for _, t := range req.history {
		messages = append(messages, types.Message{Role: string(t.Role), Content: t.Content})
	}
	messages = append(messages, types.Message{
		Role:    string(conversation.RoleUser),
		Content: conversation.UserLine(req.speaker, heard),
	})
	messages = fitContext(ctx, h.llm, messages, h.maxTokens)

	start := time.Now()
	resp, err := h.llm.Complete(ctx, llm.CompletionRequest{
		Messages:    messages,
		Temperature: h.temperature,
		MaxTokens:   h.maxTokens,
	})
	if err == nil && resp == nil {
		err = errors.New("empty completion response")
	}
	h.metrics.RecordStage(ctx, observe.StageLLM, h.llmName, time.Since(start), err)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (h *ConversationHandler) synthesize(ctx context.Context, text string) (clip audio.Clip, err error) {
	ctx, cancel := context.WithTimeout(ctx, h.stageTimeout)
	defer cancel()
	ctx, span := observe.StartStage(ctx, observe.StageTTS, h.ttsName)
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	clip, err = h.tts.Synthesize(ctx, text, h.voice)
	if err == nil && clip.Len() == 0 {
		err = errors.New("empty audio")
	}
	h.metrics.RecordStage(ctx, observe.StageTTS, h.ttsName, time.Since(start), err)
	if err != nil {
		return audio.Clip{}, err
	}
	if clip.MediaType == "" {
		clip.MediaType = audio.DetectMediaType(clip.Data)
	}
	if clip.MediaType == "" {
		clip.MediaType = audio.MediaTypeMPEG
	}
	return clip, nil
}

// fitContext drops the oldest non-system messages until the conversation
// fits the model's context window, leaving room for the reply. The final
// message is never dropped. Without a known window, or when counting fails,
// messages is returned unchanged.
func fitContext(ctx context.Context, p llm.Provider, messages []types.Message, maxTokens int) []types.Message {
	caps := p.Capabilities()
	if caps.ContextWindow <= 0 {
		return messages
	}
	reserve := maxTokens
	if reserve <= 0 {
		reserve = caps.MaxOutputTokens
	}
	budget := caps.ContextWindow - reserve

	dropped := 0
	for {
		n, err := p.CountTokens(messages)
		if err != nil {
			observe.Logger(ctx).Warn("server: count tokens", "err", err)
			return messages
		}
		if n <= budget {
			break
		}
		i := oldestDroppable(messages)
		if i < 0 {
			break
		}
		messages = append(messages[:i:i], messages[i+1:]...)
		dropped++
	}
	if dropped > 0 {
		observe.Logger(ctx).Info("server: trimmed history to fit context window", "dropped", dropped, "window", caps.ContextWindow)
	}
	return messages
}

// oldestDroppable returns the index of the first non-system message that is
// not the last one, or -1.
func oldestDroppable(messages []types.Message) int {
	for i, m := range messages[:len(messages)-1] {
		if m.Role != string(conversation.RoleSystem) {
			return i
		}
	}
	return -1
}

// lastLine returns the most recent non-system turn, used to prime
// recognition with the ongoing dialogue.
func lastLine(history []conversation.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != conversation.RoleSystem {
			return history[i].Content
		}
	}
	return ""
}

func audioFileName(mediaType string) string {
	switch audio.BaseMediaType(mediaType) {
	case audio.MediaTypeWAV:
		return "audio.wav"
	case audio.MediaTypeOgg:
		return "audio.ogg"
	default:
		return "audio.mp3"
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(backend.ErrorBody{Message: msg})
}

var _ http.Handler = (*ConversationHandler)(nil)
