// Package orchestrator drives one performer console through its
// conversation cycles.
//
// A cycle starts when the performer begins talking ([Orchestrator.Start]),
// and ends either with [Orchestrator.Cancel] or with [Orchestrator.Finish],
// which submits the recording to the conversation backend, hands over from
// the looping warm-up sound to the reply and folds the exchange into the
// conversation history.
//
// The orchestrator owns the only recording slot and the output device.
// Exactly one cycle may be in flight; Start and Finish are rejected while
// another cycle is active.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/ventriloquist/internal/backend"
	"github.com/MrWong99/ventriloquist/internal/conversation"
	"github.com/MrWong99/ventriloquist/internal/observe"
	"github.com/MrWong99/ventriloquist/internal/recording"
	"github.com/MrWong99/ventriloquist/pkg/audio"
)

const defaultRequestTimeout = 30 * time.Second

// Cycle outcomes reported to metrics.
const (
	outcomeOK            = "ok"
	outcomeCaptureError  = "capture_error"
	outcomeBackendError  = "backend_error"
	outcomePlaybackError = "playback_error"
)

// Backend submits one recorded turn. [*backend.Client] implements it.
type Backend interface {
	Converse(ctx context.Context, req backend.Request) (*backend.Response, error)
}

// Exchange is the result of a completed cycle.
type Exchange struct {
	Speaker    string
	Transcript string
	Reply      string

	// User and Assistant are the turns appended to the history.
	User      conversation.Turn
	Assistant conversation.Turn

	// Warmup is set when the warm-up loop could not be started and the
	// backend wait was silent.
	Warmup error
}

// Orchestrator is the conversation state machine. All exported methods are
// safe for concurrent use; the cycle itself is strictly sequential.
type Orchestrator struct {
	in      audio.InputDevice
	out     audio.OutputDevice
	backend Backend
	history *conversation.History

	inputDevice    string
	warmupClip     audio.Clip
	requestTimeout time.Duration
	waitPlayback   bool
	maxChunks      int
	maxRecording   time.Duration
	metrics        *observe.Metrics
	onStateChange  func(Status)

	warmup    audio.Buffer
	hasWarmup bool

	mu      sync.Mutex
	state   State
	phase   Phase
	speaker string
	session *recording.Session
	gen     uint64 // bumped whenever a cycle ends
	closed  bool
}

// Option configures an [Orchestrator] during construction.
type Option func(*Orchestrator)

// WithHistory sets the conversation history. The default is a history seeded
// with [conversation.StartingContext] defaults.
func WithHistory(h *conversation.History) Option {
	return func(o *Orchestrator) { o.history = h }
}

// WithWarmup sets the sound looped while the backend is working. It is
// decoded once by [New]. Without it the wait is silent.
func WithWarmup(clip audio.Clip) Option {
	return func(o *Orchestrator) { o.warmupClip = clip }
}

// WithInputDevice selects the microphone. Empty selects the system default.
func WithInputDevice(id string) Option {
	return func(o *Orchestrator) { o.inputDevice = id }
}

// WithRequestTimeout bounds the backend round trip. Expiry is reported as
// [ErrBackendFailure]. Default: 30s.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

// WithWaitForPlayback controls whether Finish returns only after the reply
// has been heard in full. Default: true.
func WithWaitForPlayback(wait bool) Option {
	return func(o *Orchestrator) { o.waitPlayback = wait }
}

// WithMaxChunks caps the chunks buffered per recording.
func WithMaxChunks(n int) Option {
	return func(o *Orchestrator) { o.maxChunks = n }
}

// WithMaxRecording caps the length of one recording. Audio captured beyond
// it is discarded.
func WithMaxRecording(d time.Duration) Option {
	return func(o *Orchestrator) { o.maxRecording = d }
}

// WithMetrics records cycle metrics to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithStateChange registers fn to be called after every state or phase
// transition. fn runs outside the orchestrator lock and must not block.
func WithStateChange(fn func(Status)) Option {
	return func(o *Orchestrator) { o.onStateChange = fn }
}

// New creates an orchestrator that records from in, plays on out and talks
// to b. The orchestrator takes ownership of out and closes it in
// [Orchestrator.Close].
func New(ctx context.Context, in audio.InputDevice, out audio.OutputDevice, b Backend, opts ...Option) (*Orchestrator, error) {
	if in == nil || out == nil || b == nil {
		return nil, errors.New("orchestrator: input, output and backend are required")
	}
	o := &Orchestrator{
		in:             in,
		out:            out,
		backend:        b,
		requestTimeout: defaultRequestTimeout,
		waitPlayback:   true,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.history == nil {
		o.history = conversation.NewHistory(conversation.StartingContext("", nil)...)
	}
	if o.warmupClip.Len() > 0 {
		buf, err := out.Decode(ctx, o.warmupClip)
		if err != nil {
			return nil, fmt.Errorf("%w: decode warm-up: %w", ErrPlaybackFailure, err)
		}
		o.warmup, o.hasWarmup = buf, true
	}
	return o, nil
}

// Status returns a snapshot of the current state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked()
}

// State returns the current top-level state.
func (o *Orchestrator) State() State { return o.Status().State }

// Phase returns the current sending phase.
func (o *Orchestrator) Phase() Phase { return o.Status().Phase }

// History returns a copy of the conversation so far.
func (o *Orchestrator) History() []conversation.Turn { return o.history.Turns() }

func (o *Orchestrator) statusLocked() Status {
	return Status{State: o.state, Phase: o.phase, Speaker: o.speaker}
}

// setLocked changes state and returns the snapshot to publish.
func (o *Orchestrator) setLocked(s State, p Phase) Status {
	o.state, o.phase = s, p
	if s == StateIdle {
		o.speaker = ""
		o.session = nil
		o.gen++
	}
	return o.statusLocked()
}

func (o *Orchestrator) publish(s Status) {
	slog.Debug("orchestrator: state changed", "status", s.String(), "speaker", s.Speaker)
	if o.onStateChange != nil {
		o.onStateChange(s)
	}
}

func (o *Orchestrator) transition(s State, p Phase) {
	o.mu.Lock()
	st := o.setLocked(s, p)
	o.mu.Unlock()
	o.publish(st)
}

// Start opens the microphone and begins recording speaker. It fails with
// [ErrCycleActive] (wrapping [recording.ErrSessionActive]) unless the
// orchestrator is idle, and with an [ErrDeviceUnavailable]-wrapped error when
// the device cannot be acquired; the orchestrator is idle again in that case.
func (o *Orchestrator) Start(ctx context.Context, speaker string) error {
	speaker = strings.TrimSpace(speaker)
	if speaker == "" {
		return errors.New("orchestrator: speaker is required")
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.state != StateIdle {
		o.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrCycleActive, recording.ErrSessionActive)
	}
	o.state, o.phase, o.speaker = StateRecording, PhaseNone, speaker
	gen := o.gen
	st := o.statusLocked()
	o.mu.Unlock()
	o.publish(st)

	session, err := recording.Open(ctx, o.in, o.inputDevice,
		recording.WithMaxChunks(o.maxChunks),
		recording.WithMaxDuration(o.maxRecording),
	)
	if err != nil {
		o.endIfCurrent(gen)
		return err
	}

	o.mu.Lock()
	if o.gen != gen {
		// Cancel or Finish ended the cycle while the device was opening.
		o.mu.Unlock()
		session.Abort()
		return ErrStartAborted
	}
	if err := session.Begin(); err != nil {
		st := o.setLocked(StateIdle, PhaseNone)
		o.mu.Unlock()
		o.publish(st)
		return err
	}
	o.session = session
	o.mu.Unlock()

	slog.Info("orchestrator: recording", "speaker", speaker, "device", o.inputDevice)
	return nil
}

// endIfCurrent returns to idle unless the cycle identified by gen has
// already ended.
func (o *Orchestrator) endIfCurrent(gen uint64) {
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	st := o.setLocked(StateIdle, PhaseNone)
	o.mu.Unlock()
	o.publish(st)
}

// Cancel discards the current recording. It is a no-op when idle, and fails
// with [ErrCancelNotAllowed] once Finish has been called.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	switch o.state {
	case StateIdle:
		o.mu.Unlock()
		return nil
	case StateSending:
		o.mu.Unlock()
		return ErrCancelNotAllowed
	}
	session, speaker := o.session, o.speaker
	st := o.setLocked(StateIdle, PhaseNone)
	o.mu.Unlock()

	if session != nil {
		session.Abort()
	}
	o.publish(st)
	slog.Info("orchestrator: recording cancelled", "speaker", speaker)
	return nil
}

// Finish submits the current recording and plays the reply.
//
// On success the exchange has been appended to the history. When the reply
// could not be played, the exchange is still appended and returned together
// with an [ErrPlaybackFailure]-wrapped error. Every other failure leaves the
// history untouched. The orchestrator is idle when Finish returns.
func (o *Orchestrator) Finish(ctx context.Context) (*Exchange, error) {
	o.mu.Lock()
	switch o.state {
	case StateIdle:
		o.mu.Unlock()
		return nil, ErrNoActiveCapture
	case StateSending:
		o.mu.Unlock()
		return nil, ErrCycleActive
	}
	session, speaker := o.session, o.speaker
	if session == nil {
		// Start is still opening the device.
		st := o.setLocked(StateIdle, PhaseNone)
		o.mu.Unlock()
		o.publish(st)
		return nil, ErrNoActiveCapture
	}
	o.session = nil
	st := o.setLocked(StateSending, PhaseWarmupPlaying)
	o.mu.Unlock()
	o.publish(st)

	started := time.Now()
	ctx = observe.WithSpeaker(ctx, speaker)
	ctx, span := observe.StartSpan(ctx, "orchestrator.finish")
	defer span.End()
	span.SetAttributes(attribute.String("speaker", speaker))

	ex, outcome, err := o.runCycle(ctx, session, speaker)

	o.transition(StateIdle, PhaseNone)
	if o.metrics != nil {
		o.metrics.RecordCycle(ctx, outcome, time.Since(started))
		if ex != nil {
			o.metrics.RecordExchange(ctx, speaker)
		}
	}
	if err != nil {
		observe.Fail(span, err)
		observe.Logger(ctx).Warn("orchestrator: cycle failed", "outcome", outcome, "err", err)
	}
	return ex, err
}

// runCycle performs everything between Recording and Idle.
func (o *Orchestrator) runCycle(ctx context.Context, session *recording.Session, speaker string) (*Exchange, string, error) {
	clip, warmup, warmupErr, err := o.finalizeWithWarmup(ctx, session)
	if err != nil {
		o.stopWarmup(warmup)
		return nil, outcomeCaptureError, err
	}

	o.transition(StateSending, PhaseAwaitingResponse)
	resp, err := o.converse(ctx, speaker, clip)

	// The warm-up must be silent before anything else is played.
	o.stopWarmup(warmup)
	if err != nil {
		return nil, outcomeBackendError, fmt.Errorf("%w: %w", ErrBackendFailure, err)
	}

	o.transition(StateSending, PhaseResponsePlaying)
	pb, playErr := o.play(ctx, resp.Audio)

	// The server already extracted the spoken line; store it as played.
	reply := strings.TrimSpace(resp.Reply)
	if reply == "" {
		reply = conversation.FallbackLine
	}
	user, assistant, err := o.history.AppendExchange(speaker, strings.TrimSpace(resp.Transcript), reply)
	if err != nil {
		if pb != nil {
			_ = pb.Stop()
		}
		return nil, outcomeBackendError, fmt.Errorf("%w: append exchange: %w", ErrBackendFailure, err)
	}
	ex := &Exchange{
		Speaker:    speaker,
		Transcript: resp.Transcript,
		Reply:      reply,
		User:       user,
		Assistant:  assistant,
		Warmup:     warmupErr,
	}
	slog.Info("orchestrator: exchange", "user", user.Content, "assistant", assistant.Content)

	if playErr == nil && o.waitPlayback {
		if err := audio.Wait(ctx, pb); err != nil {
			playErr = err
		}
	}
	if playErr != nil {
		return ex, outcomePlaybackError, fmt.Errorf("%w: %w", ErrPlaybackFailure, playErr)
	}
	return ex, outcomeOK, nil
}

// finalizeWithWarmup finalizes the recording while the warm-up loop starts.
// The returned playback is nil when there is no warm-up or it failed to
// start. A warm-up that fails to start is reported in warmupErr and never
// fails the cycle.
func (o *Orchestrator) finalizeWithWarmup(ctx context.Context, session *recording.Session) (clip audio.Clip, warmup audio.Playback, warmupErr, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		clip, err = session.Finalize(gctx)
		return err
	})
	if o.hasWarmup {
		g.Go(func() error {
			pb, err := o.out.Play(ctx, o.warmup, audio.PlayOptions{Loop: true})
			if err != nil {
				slog.Warn("orchestrator: warm-up did not start", "err", err)
				warmupErr = err
				return nil
			}
			warmup = pb
			return nil
		})
	}
	err = g.Wait()
	return clip, warmup, warmupErr, err
}

func (o *Orchestrator) stopWarmup(pb audio.Playback) {
	if pb == nil {
		return
	}
	if err := pb.Stop(); err != nil {
		slog.Warn("orchestrator: stop warm-up", "err", err)
	}
}

func (o *Orchestrator) converse(ctx context.Context, speaker string, clip audio.Clip) (*backend.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, o.requestTimeout)
	defer cancel()

	started := time.Now()
	resp, err := o.backend.Converse(ctx, backend.Request{
		History: o.history.Turns(),
		Speaker: speaker,
		Audio:   clip,
	})
	if o.metrics != nil {
		o.metrics.BackendDuration.Record(ctx, time.Since(started).Seconds())
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("empty response")
	}
	return resp, nil
}

// play decodes clip and starts one-shot playback.
func (o *Orchestrator) play(ctx context.Context, clip audio.Clip) (audio.Playback, error) {
	buf, err := o.out.Decode(ctx, clip)
	if err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	pb, err := o.out.Play(ctx, buf, audio.PlayOptions{})
	if err != nil {
		return nil, fmt.Errorf("play reply: %w", err)
	}
	return pb, nil
}

// Close aborts a recording in progress and releases the output device. A
// cycle that is already sending is not waited for; closing the device stops
// its playback. Start fails with [ErrClosed] afterwards.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	session := o.session
	var st Status
	changed := false
	if o.state == StateRecording {
		st = o.setLocked(StateIdle, PhaseNone)
		changed = true
	}
	o.mu.Unlock()

	if session != nil {
		session.Abort()
	}
	if changed {
		o.publish(st)
	}
	return o.out.Close()
}
