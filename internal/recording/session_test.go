package recording_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/ventriloquist/internal/recording"
	"github.com/MrWong99/ventriloquist/pkg/audio"
	"github.com/MrWong99/ventriloquist/pkg/audio/mock"
)

func TestOpen_DeviceUnavailable(t *testing.T) {
	t.Parallel()

	dev := &mock.InputDevice{OpenErr: audio.ErrPermissionDenied}
	_, err := recording.Open(context.Background(), dev, "usb-mic")
	if !errors.Is(err, recording.ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Errorf("device error not wrapped: %v", err)
	}
	if len(dev.OpenCalls) != 1 || dev.OpenCalls[0] != "usb-mic" {
		t.Errorf("OpenCalls = %v", dev.OpenCalls)
	}
}

func TestFinalize_ConcatenatesInOrder(t *testing.T) {
	t.Parallel()

	chunks := []audio.Chunk{
		{Data: []byte("one-"), MediaType: "audio/webm;codecs=opus"},
		{Data: []byte("two-"), MediaType: "audio/webm;codecs=opus"},
		{Data: []byte("three"), MediaType: "audio/webm;codecs=opus"},
	}
	dev := &mock.InputDevice{Chunks: chunks}
	s, err := recording.Open(context.Background(), dev, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	clip, err := s.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !bytes.Equal(clip.Data, []byte("one-two-three")) {
		t.Errorf("Data = %q", clip.Data)
	}
	if clip.MediaType != "audio/webm;codecs=opus" {
		t.Errorf("MediaType = %q", clip.MediaType)
	}

	stream := dev.LastStream()
	if !stream.Released() {
		t.Error("stream not released after Finalize")
	}
	if stream.CallCountStop == 0 {
		t.Error("Stop not called before release")
	}

	if _, err := s.Finalize(context.Background()); !errors.Is(err, recording.ErrNoActiveCapture) {
		t.Errorf("second Finalize err = %v, want ErrNoActiveCapture", err)
	}
}

func TestFinalize_WithoutBegin(t *testing.T) {
	t.Parallel()

	dev := &mock.InputDevice{Chunks: mock.PCMChunks(1)}
	s, err := recording.Open(context.Background(), dev, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Finalize(context.Background()); !errors.Is(err, recording.ErrNoActiveCapture) {
		t.Fatalf("err = %v, want ErrNoActiveCapture", err)
	}
	if !dev.LastStream().Released() {
		t.Error("stream leaked after Finalize without Begin")
	}
}

func TestFinalize_EmptyCapture(t *testing.T) {
	t.Parallel()

	dev := &mock.InputDevice{}
	s, _ := recording.Open(context.Background(), dev, "")
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := s.Finalize(context.Background()); !errors.Is(err, recording.ErrEmptyCapture) {
		t.Fatalf("err = %v, want ErrEmptyCapture", err)
	}
	if !dev.LastStream().Released() {
		t.Error("stream leaked after empty capture")
	}
}

func TestBegin_StartFailureReleasesStream(t *testing.T) {
	t.Parallel()

	dev := &mock.InputDevice{StartErr: audio.ErrDeviceNotFound}
	s, _ := recording.Open(context.Background(), dev, "")
	err := s.Begin()
	if !errors.Is(err, recording.ErrDeviceUnavailable) || !errors.Is(err, audio.ErrDeviceNotFound) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable wrapping ErrDeviceNotFound", err)
	}
	if !dev.LastStream().Released() {
		t.Error("stream leaked after failed start")
	}
	// Abort after a failed start must be harmless.
	s.Abort()
}

func TestAbort_IdempotentAndReleases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		begin bool
	}{
		{"after begin", true},
		{"before begin", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dev := &mock.InputDevice{Chunks: mock.PCMChunks(2)}
			s, _ := recording.Open(context.Background(), dev, "")
			if tt.begin {
				if err := s.Begin(); err != nil {
					t.Fatalf("Begin: %v", err)
				}
			}
			s.Abort()
			s.Abort()

			stream := dev.LastStream()
			if !stream.Released() {
				t.Error("stream not released")
			}
			if _, err := s.Finalize(context.Background()); !errors.Is(err, recording.ErrNoActiveCapture) {
				t.Errorf("Finalize after Abort err = %v, want ErrNoActiveCapture", err)
			}
		})
	}
}

func TestWithMaxChunks(t *testing.T) {
	t.Parallel()

	dev := &mock.InputDevice{Chunks: mock.PCMChunks(5)}
	s, _ := recording.Open(context.Background(), dev, "", recording.WithMaxChunks(2))
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	clip, err := s.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if clip.Len() != 2*320 {
		t.Errorf("Len = %d, want %d", clip.Len(), 2*320)
	}
}

func TestWithMaxDuration(t *testing.T) {
	t.Parallel()

	stereo := audio.Format{SampleRate: 48000, Channels: 2}
	chunks := func(n, size int, mediaType string, step time.Duration) []audio.Chunk {
		out := make([]audio.Chunk, n)
		for i := range out {
			out[i] = audio.Chunk{Data: make([]byte, size), MediaType: mediaType, Timestamp: time.Duration(i) * step}
		}
		return out
	}

	tests := []struct {
		name    string
		chunks  []audio.Chunk
		max     time.Duration
		wantLen int
	}{
		// 10 ms per chunk.
		{name: "speech pcm", chunks: mock.PCMChunks(5), max: 25 * time.Millisecond, wantLen: 2 * 320},
		{name: "exact fit", chunks: mock.PCMChunks(5), max: 30 * time.Millisecond, wantLen: 3 * 320},
		// 3840 bytes of 48 kHz stereo is 20 ms.
		{name: "custom pcm format", chunks: chunks(5, 3840, audio.PCMMediaType(stereo), 0), max: 50 * time.Millisecond, wantLen: 2 * 3840},
		{name: "encoded by timestamp", chunks: chunks(4, 100, audio.MediaTypeWebM, 100*time.Millisecond), max: 150 * time.Millisecond, wantLen: 2 * 100},
		{name: "unbounded", chunks: mock.PCMChunks(5), wantLen: 5 * 320},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dev := &mock.InputDevice{Chunks: tt.chunks}
			s, err := recording.Open(context.Background(), dev, "", recording.WithMaxDuration(tt.max))
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if err := s.Begin(); err != nil {
				t.Fatalf("Begin: %v", err)
			}
			clip, err := s.Finalize(context.Background())
			if err != nil {
				t.Fatalf("Finalize: %v", err)
			}
			if clip.Len() != tt.wantLen {
				t.Errorf("Len = %d, want %d", clip.Len(), tt.wantLen)
			}
		})
	}
}

// hangingStream never closes its chunk channel.
type hangingStream struct {
	ch     chan audio.Chunk
	closed bool
}

func (h *hangingStream) Start() error               { return nil }
func (h *hangingStream) Chunks() <-chan audio.Chunk { return h.ch }
func (h *hangingStream) Stop() error                { return nil }
func (h *hangingStream) Close() error               { h.closed = true; return nil }

type hangingDevice struct{ stream *hangingStream }

func (d *hangingDevice) Open(context.Context, string) (audio.CaptureStream, error) {
	return d.stream, nil
}

func TestFinalize_ContextBoundsWait(t *testing.T) {
	t.Parallel()

	dev := &hangingDevice{stream: &hangingStream{ch: make(chan audio.Chunk)}}
	s, _ := recording.Open(context.Background(), dev, "")
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Finalize(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if !dev.stream.closed {
		t.Error("stream not released after timed-out Finalize")
	}
}
