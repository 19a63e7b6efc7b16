// Package backend defines the conversation endpoint shared by the performer
// client and the server, and provides the HTTP client the client uses.
//
// One request carries the conversation history, the speaker label and the
// captured audio as multipart/form-data. A successful response carries the
// synthesised reply audio as its body and the transcript and reply text as
// percent-encoded headers. Failures carry a JSON body {"message": "..."}.
package backend

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/MrWong99/ventriloquist/internal/conversation"
	"github.com/MrWong99/ventriloquist/pkg/audio"
)

// Path is the conversation endpoint.
const Path = "/api/conversation"

// Multipart field names.
const (
	FieldContext = "context"
	FieldSpeaker = "speaker"
	FieldAudio   = "audio"
)

// Response headers carrying the texts needed for the two new history turns.
const (
	HeaderUserTranscript      = "X-User-Transcript"
	HeaderAssistantTranscript = "X-Assistant-Transcript"
)

// MaxRequestBytes bounds the size of a conversation request body.
const MaxRequestBytes = 32 << 20

// Request is one conversation turn submitted to the backend.
type Request struct {
	// History is the full conversation so far, in order.
	History []conversation.Turn

	// Speaker labels who is talking, e.g. "Will" or "Audience".
	Speaker string

	// Audio is the captured recording.
	Audio audio.Clip
}

// Response is the result of a successful conversation request.
type Response struct {
	// Audio is the synthesised reply, typically audio/mpeg.
	Audio audio.Clip

	// Transcript is what the backend recognised in the submitted audio.
	Transcript string

	// Reply is the character's sanitised line.
	Reply string
}

// ErrorBody is the JSON body of every non-success response.
type ErrorBody struct {
	Message string `json:"message"`
}

// StatusError is returned by [Client.Converse] for non-success responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend: status %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// SupportedAudio reports whether the backend accepts audio of mediaType.
func SupportedAudio(mediaType string) bool {
	switch audio.BaseMediaType(strings.ToLower(mediaType)) {
	case audio.MediaTypeWAV, "audio/x-wav", "audio/wave", audio.MediaTypeWebM:
		return true
	}
	return false
}

// EncodeHeader percent-encodes s so that any text survives as an HTTP
// header value.
func EncodeHeader(s string) string {
	return url.PathEscape(s)
}

// DecodeHeader reverses [EncodeHeader]. Values that are not valid
// percent-encoding are returned unchanged.
func DecodeHeader(s string) string {
	v, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return v
}

// fileName returns the multipart file name for an audio media type.
func fileName(mediaType string) string {
	switch audio.BaseMediaType(mediaType) {
	case audio.MediaTypeWebM:
		return "audio.webm"
	default:
		return "audio.wav"
	}
}
