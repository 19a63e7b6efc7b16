// Package audio defines the device abstractions and audio value types used by
// the performer client.
//
// The two device abstractions are:
//
//   - [InputDevice] opens a microphone and returns a [CaptureStream] that
//     delivers captured audio as a sequence of [Chunk] values.
//   - [OutputDevice] decodes encoded audio into a playable [Buffer] and
//     plays it, returning a [Playback] handle that can be stopped or awaited.
//
// Device callbacks (the capture "stop" event, the playback "ended" event) are
// surfaced as blocking calls and channels so that callers can sequence them
// linearly instead of registering nested callbacks.
//
// Implementations are provided by adapter packages (e.g., audio/command) and
// by audio/mock for tests.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrDeviceNotFound is returned by device implementations when the requested
// device identifier does not match any available device.
var ErrDeviceNotFound = errors.New("audio: device not found")

// ErrPermissionDenied is returned by device implementations when the operating
// system refuses access to the device.
var ErrPermissionDenied = errors.New("audio: permission denied")

// Clip is a complete piece of encoded audio together with its media type
// (e.g., "audio/wav", "audio/mpeg", or a raw PCM type built by [PCMMediaType]).
type Clip struct {
	Data      []byte
	MediaType string
}

// Len returns the payload size in bytes.
func (c Clip) Len() int { return len(c.Data) }

// Chunk is one piece of captured audio as delivered by a [CaptureStream].
// Chunks arrive in capture order; concatenating their Data in order yields the
// complete recording.
type Chunk struct {
	// Data is the raw captured payload.
	Data []byte

	// MediaType describes the encoding of Data. All chunks of one stream share
	// the same media type.
	MediaType string

	// Timestamp marks when this chunk was captured, relative to stream start.
	Timestamp time.Duration
}

// CaptureStream is a live, exclusively owned handle on an input device.
//
// The lifecycle is Start → Stop → Close. Chunks are delivered on the channel
// returned by Chunks; the channel is closed once capture has fully ceased after
// Stop (or after the device fails). Close releases the underlying hardware and
// must be called on every exit path. Stop and Close are idempotent.
type CaptureStream interface {
	// Start begins continuous capture.
	Start() error

	// Chunks returns the channel carrying captured audio in arrival order.
	Chunks() <-chan Chunk

	// Stop signals the device to stop capturing. It does not wait for the
	// Chunks channel to drain; callers wait for the channel to close.
	Stop() error

	// Close releases the device. Calling Close before Stop is allowed and
	// implies Stop.
	Close() error
}

// InputDevice opens capture streams.
type InputDevice interface {
	// Open acquires the device identified by deviceID. An empty deviceID
	// selects the system default. Implementations should wrap
	// [ErrDeviceNotFound] or [ErrPermissionDenied] where applicable.
	Open(ctx context.Context, deviceID string) (CaptureStream, error)
}

// Buffer is decoded audio ready for playback on the device that decoded it.
type Buffer struct {
	// Clip is the source audio.
	Clip Clip

	// Duration is the playback length when the decoder could determine it.
	Duration time.Duration
}

// Playback is a handle on a currently playing sound.
type Playback interface {
	// Stop halts playback. It returns only once the sound is no longer
	// audible. Calling Stop on a finished playback is a no-op.
	Stop() error

	// Done returns a channel that is closed when playback has ended, either
	// naturally or because Stop was called.
	Done() <-chan struct{}

	// Err reports the error that ended playback early, if any. Only
	// meaningful after Done is closed.
	Err() error
}

// PlayOptions controls a single [OutputDevice.Play] call.
type PlayOptions struct {
	// Loop repeats the buffer until Stop is called.
	Loop bool
}

// OutputDevice is an exclusively owned audio output context.
type OutputDevice interface {
	// Decode validates and decodes clip into a playable buffer.
	Decode(ctx context.Context, clip Clip) (Buffer, error)

	// Play starts playback of buf and returns immediately.
	Play(ctx context.Context, buf Buffer, opts PlayOptions) (Playback, error)

	// Close releases the output context. Playbacks still running are stopped.
	Close() error
}

// Wait blocks until pb has finished or ctx is done. When ctx ends first the
// playback is stopped and the context error returned.
func Wait(ctx context.Context, pb Playback) error {
	select {
	case <-pb.Done():
		return pb.Err()
	case <-ctx.Done():
		_ = pb.Stop()
		return ctx.Err()
	}
}
