// Package recording captures microphone audio for one conversation turn.
//
// A [Session] owns exactly one [audio.CaptureStream] from [Open] until
// [Session.Finalize] or [Session.Abort]. The stream is released on every exit
// path, including failed starts. Chunks are buffered in memory in arrival
// order and concatenated into a single [audio.Clip] on Finalize.
package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/ventriloquist/pkg/audio"
)

var (
	// ErrDeviceUnavailable is returned when the input device cannot be
	// acquired or started, e.g. because permission was denied or no device
	// matches the requested identifier.
	ErrDeviceUnavailable = errors.New("recording: input device unavailable")

	// ErrNoActiveCapture is returned by Finalize when Begin was never called
	// or the session has already ended.
	ErrNoActiveCapture = errors.New("recording: no active capture")

	// ErrEmptyCapture is returned by Finalize when no audio was captured.
	ErrEmptyCapture = errors.New("recording: capture is empty")

	// ErrSessionActive is returned when a second session is requested while
	// one is still open.
	ErrSessionActive = errors.New("recording: a session is already active")
)

type state int

const (
	stateOpen state = iota
	stateCapturing
	stateEnded
)

// Session is a single microphone capture. It is safe to call Abort
// concurrently with the other methods.
type Session struct {
	deviceID    string
	stream      audio.CaptureStream
	maxChunks   int
	maxDuration time.Duration

	mu         sync.Mutex
	state      state
	chunks     []audio.Chunk
	length     time.Duration
	dropped    int
	readerDone chan struct{}
}

// Option is a functional option for [Open].
type Option func(*Session)

// WithMaxChunks caps the number of buffered chunks. Chunks beyond the cap are
// discarded and counted. Zero (the default) means unbounded.
func WithMaxChunks(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxChunks = n
		}
	}
}

// WithMaxDuration caps the buffered audio by playback length. Raw PCM chunks
// are measured from their format; other encodings by their capture
// timestamp. Zero (the default) means unbounded.
func WithMaxDuration(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.maxDuration = d
		}
	}
}

// Open acquires the input device identified by deviceID (empty selects the
// system default). Any device error is wrapped together with
// [ErrDeviceUnavailable].
func Open(ctx context.Context, dev audio.InputDevice, deviceID string, opts ...Option) (*Session, error) {
	stream, err := dev.Open(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	s := &Session{
		deviceID:   deviceID,
		stream:     stream,
		readerDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// DeviceID returns the identifier the session was opened with.
func (s *Session) DeviceID() string { return s.deviceID }

// Begin starts continuous capture. A failed start releases the stream and
// ends the session.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateCapturing:
		return errors.New("recording: capture already started")
	case stateEnded:
		return ErrNoActiveCapture
	}

	if err := s.stream.Start(); err != nil {
		s.state = stateEnded
		if cerr := s.stream.Close(); cerr != nil {
			slog.Warn("recording: release input after failed start", "err", cerr)
		}
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	s.state = stateCapturing
	go s.collect()

	slog.Debug("recording: capture started", "device", s.deviceID)
	return nil
}

func (s *Session) collect() {
	defer close(s.readerDone)
	for c := range s.stream.Chunks() {
		s.mu.Lock()
		d := chunkDuration(c)
		if s.full(c, d) {
			s.dropped++
		} else {
			s.chunks = append(s.chunks, c)
			s.length += d
		}
		s.mu.Unlock()
	}
}

// full reports whether c, lasting d, would exceed a cap. s.mu is held.
func (s *Session) full(c audio.Chunk, d time.Duration) bool {
	if s.maxChunks > 0 && len(s.chunks) >= s.maxChunks {
		return true
	}
	if s.maxDuration <= 0 {
		return false
	}
	if d > 0 {
		return s.length+d > s.maxDuration
	}
	return c.Timestamp >= s.maxDuration
}

// chunkDuration is the playback length of a raw PCM chunk, or 0 for other
// encodings.
func chunkDuration(c audio.Chunk) time.Duration {
	f, ok := audio.ParsePCMMediaType(c.MediaType)
	if !ok {
		return 0
	}
	return audio.PCMDuration(len(c.Data), f)
}

// Captured returns the number of chunks buffered so far.
func (s *Session) Captured() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// Finalize stops capture, waits until the device has delivered its last
// chunk and returns the concatenated recording. The stream and the chunk
// buffer are released regardless of the outcome.
func (s *Session) Finalize(ctx context.Context) (audio.Clip, error) {
	s.mu.Lock()
	prev := s.state
	s.state = stateEnded
	s.mu.Unlock()

	switch prev {
	case stateOpen:
		s.release()
		return audio.Clip{}, ErrNoActiveCapture
	case stateEnded:
		return audio.Clip{}, ErrNoActiveCapture
	}

	if err := s.stream.Stop(); err != nil {
		slog.Warn("recording: stop capture", "err", err)
	}

	select {
	case <-s.readerDone:
	case <-ctx.Done():
		s.release()
		return audio.Clip{}, fmt.Errorf("recording: wait for capture to stop: %w", ctx.Err())
	}
	s.release()

	s.mu.Lock()
	chunks := s.chunks
	dropped := s.dropped
	s.chunks = nil
	s.mu.Unlock()

	if dropped > 0 {
		slog.Warn("recording: chunk limit reached, audio truncated", "kept", len(chunks), "dropped", dropped)
	}

	var buf bytes.Buffer
	for _, c := range chunks {
		buf.Write(c.Data)
	}
	if buf.Len() == 0 {
		return audio.Clip{}, ErrEmptyCapture
	}

	clip := audio.Clip{Data: buf.Bytes(), MediaType: chunks[0].MediaType}
	slog.Debug("recording: capture finalized",
		"device", s.deviceID,
		"chunks", len(chunks),
		"bytes", clip.Len(),
		"media_type", clip.MediaType,
	)
	return clip, nil
}

// Abort stops capture and releases the stream without producing a clip. It
// never fails and is idempotent.
func (s *Session) Abort() {
	s.mu.Lock()
	if s.state == stateEnded {
		s.mu.Unlock()
		return
	}
	s.state = stateEnded
	s.chunks = nil
	s.mu.Unlock()

	if err := s.stream.Stop(); err != nil {
		slog.Debug("recording: stop on abort", "err", err)
	}
	s.release()
}

func (s *Session) release() {
	if err := s.stream.Close(); err != nil {
		slog.Warn("recording: release input", "device", s.deviceID, "err", err)
	}
}
