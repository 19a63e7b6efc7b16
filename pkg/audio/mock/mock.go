// Package mock provides in-memory mock implementations of the [audio.InputDevice],
// [audio.CaptureStream], [audio.OutputDevice] and [audio.Playback] interfaces
// for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values. An optional shared [EventLog]
// captures the relative order of device events across mocks (e.g., that the
// warm-up loop stopped before the response started).
//
// Typical usage:
//
//	log := &mock.EventLog{}
//	in := &mock.InputDevice{Chunks: mock.PCMChunks(3), Log: log}
//	out := &mock.OutputDevice{Log: log}
//	stream, _ := in.Open(ctx, "")
//	_ = stream.Start()
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/ventriloquist/pkg/audio"
)

// ─── EventLog ─────────────────────────────────────────────────────────────────

// EventLog records device events in the order they happen.
type EventLog struct {
	mu     sync.Mutex
	events []string
}

// Add appends ev to the log.
func (l *EventLog) Add(ev string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

// Events returns a copy of all recorded events.
func (l *EventLog) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

// Index returns the position of the first occurrence of ev, or -1.
func (l *EventLog) Index(ev string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Index(l.events, ev)
}

// PCMChunks returns n chunks of 320 bytes (10 ms of 16 kHz mono PCM each).
func PCMChunks(n int) []audio.Chunk {
	mt := audio.PCMMediaType(audio.SpeechFormat)
	chunks := make([]audio.Chunk, n)
	for i := range chunks {
		data := make([]byte, 320)
		for j := range data {
			data[j] = byte(i + 1)
		}
		chunks[i] = audio.Chunk{Data: data, MediaType: mt}
	}
	return chunks
}

// ─── InputDevice / CaptureStream ──────────────────────────────────────────────

// InputDevice is a mock implementation of [audio.InputDevice].
type InputDevice struct {
	mu sync.Mutex

	// Chunks is delivered, in order, by every stream after Start.
	Chunks []audio.Chunk

	// OpenErr is returned by Open.
	OpenErr error

	// StartErr is returned by the Start method of opened streams.
	StartErr error

	// OpenGate, when non-nil, holds every Open call until it is closed or
	// ctx is done. It simulates a slow device (e.g. a permission prompt).
	OpenGate chan struct{}

	// Log receives "input:open", "input:start", "input:stop" and "input:close".
	Log *EventLog

	// OpenCalls records the deviceID of every Open invocation.
	OpenCalls []string

	// Streams holds every stream returned by Open, in order.
	Streams []*CaptureStream
}

// Open implements [audio.InputDevice].
func (d *InputDevice) Open(ctx context.Context, deviceID string) (audio.CaptureStream, error) {
	d.mu.Lock()
	d.OpenCalls = append(d.OpenCalls, deviceID)
	gate := d.OpenGate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	s := &CaptureStream{
		pending:  slices.Clone(d.Chunks),
		startErr: d.StartErr,
		log:      d.Log,
		ch:       make(chan audio.Chunk, len(d.Chunks)),
		stopCh:   make(chan struct{}),
	}
	d.Streams = append(d.Streams, s)
	d.Log.Add("input:open")
	return s, nil
}

// OpenCount returns the number of Open calls so far, including calls still
// held by OpenGate.
func (d *InputDevice) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

// LastStream returns the most recently opened stream, or nil.
func (d *InputDevice) LastStream() *CaptureStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Streams) == 0 {
		return nil
	}
	return d.Streams[len(d.Streams)-1]
}

// CaptureStream is a mock implementation of [audio.CaptureStream]. After Start
// it delivers its chunks immediately and closes the Chunks channel once Stop
// or Close is called.
type CaptureStream struct {
	mu       sync.Mutex
	pending  []audio.Chunk
	startErr error
	log      *EventLog
	ch       chan audio.Chunk
	stopCh   chan struct{}
	stopOnce sync.Once

	started bool
	closed  bool

	// CallCountStart, CallCountStop and CallCountClose count invocations.
	CallCountStart int
	CallCountStop  int
	CallCountClose int
}

// Start implements [audio.CaptureStream].
func (s *CaptureStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.startErr != nil {
		return s.startErr
	}
	if s.started {
		return nil
	}
	s.started = true
	s.log.Add("input:start")
	chunks := s.pending
	go func() {
		defer close(s.ch)
		for _, c := range chunks {
			s.ch <- c
		}
		<-s.stopCh
	}()
	return nil
}

// Chunks implements [audio.CaptureStream].
func (s *CaptureStream) Chunks() <-chan audio.Chunk { return s.ch }

// Stop implements [audio.CaptureStream].
func (s *CaptureStream) Stop() error {
	s.mu.Lock()
	s.CallCountStop++
	s.mu.Unlock()
	s.stopOnce.Do(func() {
		s.log.Add("input:stop")
		close(s.stopCh)
	})
	return nil
}

// Close implements [audio.CaptureStream].
func (s *CaptureStream) Close() error {
	_ = s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		s.log.Add("input:close")
	}
	return nil
}

// Released reports whether Close has been called.
func (s *CaptureStream) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── OutputDevice / Playback ──────────────────────────────────────────────────

// OutputDevice is a mock implementation of [audio.OutputDevice]. Clips are
// identified by their payload interpreted as a string, so tests typically use
// payloads such as "warmup" and "response".
type OutputDevice struct {
	mu sync.Mutex

	// DecodeErr maps a clip label to the error Decode returns for it.
	DecodeErr map[string]error

	// PlayErr maps a clip label to the error Play returns for it.
	PlayErr map[string]error

	// HoldOneShot keeps non-looping playbacks running until Stop or
	// [Playback.Finish] is called. By default they finish immediately.
	HoldOneShot bool

	// Log receives "decode:<label>", "play:<label>", "stop:<label>" and
	// "end:<label>".
	Log *EventLog

	// DecodeCalls records every decoded clip.
	DecodeCalls []audio.Clip

	// Playbacks holds every playback started, in order.
	Playbacks []*Playback

	// CallCountClose counts Close invocations.
	CallCountClose int
}

// Label returns the identifier the mock uses for clip.
func Label(clip audio.Clip) string {
	if len(clip.Data) > 32 {
		return string(clip.Data[:32])
	}
	return string(clip.Data)
}

// Decode implements [audio.OutputDevice].
func (d *OutputDevice) Decode(_ context.Context, clip audio.Clip) (audio.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DecodeCalls = append(d.DecodeCalls, clip)
	label := Label(clip)
	d.Log.Add("decode:" + label)
	if err := d.DecodeErr[label]; err != nil {
		return audio.Buffer{}, err
	}
	return audio.Buffer{Clip: clip}, nil
}

// Play implements [audio.OutputDevice].
func (d *OutputDevice) Play(_ context.Context, buf audio.Buffer, opts audio.PlayOptions) (audio.Playback, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	label := Label(buf.Clip)
	if err := d.PlayErr[label]; err != nil {
		return nil, err
	}
	pb := &Playback{Label: label, Loop: opts.Loop, log: d.Log, done: make(chan struct{})}
	d.Playbacks = append(d.Playbacks, pb)
	d.Log.Add("play:" + label)
	if !opts.Loop && !d.HoldOneShot {
		pb.Finish()
	}
	return pb, nil
}

// Close implements [audio.OutputDevice].
func (d *OutputDevice) Close() error {
	d.mu.Lock()
	pbs := slices.Clone(d.Playbacks)
	d.CallCountClose++
	d.mu.Unlock()
	for _, pb := range pbs {
		_ = pb.Stop()
	}
	return nil
}

// PlaybacksFor returns all playbacks started for clips with the given label.
func (d *OutputDevice) PlaybacksFor(label string) []*Playback {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*Playback
	for _, pb := range d.Playbacks {
		if pb.Label == label {
			out = append(out, pb)
		}
	}
	return out
}

// Playback is a mock implementation of [audio.Playback].
type Playback struct {
	// Label identifies the clip being played.
	Label string

	// Loop reports whether playback was started in loop mode.
	Loop bool

	log  *EventLog
	mu   sync.Mutex
	done chan struct{}
	over bool

	// Stopped reports whether playback ended through Stop.
	Stopped bool
}

// Stop implements [audio.Playback].
func (p *Playback) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.over {
		return nil
	}
	p.over = true
	p.Stopped = true
	p.log.Add("stop:" + p.Label)
	close(p.done)
	return nil
}

// Finish ends playback as if the clip had played to completion.
func (p *Playback) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.over {
		return
	}
	p.over = true
	p.log.Add("end:" + p.Label)
	close(p.done)
}

// Done implements [audio.Playback].
func (p *Playback) Done() <-chan struct{} { return p.done }

// Err implements [audio.Playback].
func (p *Playback) Err() error { return nil }

// IsStopped reports whether Stop ended the playback.
func (p *Playback) IsStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Stopped
}

// Compile-time interface assertions.
var (
	_ audio.InputDevice   = (*InputDevice)(nil)
	_ audio.CaptureStream = (*CaptureStream)(nil)
	_ audio.OutputDevice  = (*OutputDevice)(nil)
	_ audio.Playback      = (*Playback)(nil)
)
