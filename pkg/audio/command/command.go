// Package command implements [audio.InputDevice] and [audio.OutputDevice] on
// top of external recorder and player programs.
//
// Capture runs a recorder that writes raw 16-bit little-endian PCM to stdout
// (arecord by default) and slices the stream into chunks. Playback writes each
// clip to a temporary file and hands it to a player program (ffplay by
// default). Stopping a capture interrupts the recorder so that it flushes its
// last buffer; stopping a playback kills the player and waits for it to exit.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/ventriloquist/pkg/audio"
)

const (
	defaultRecorder  = "arecord"
	defaultPlayer    = "ffplay"
	defaultChunkSize = 3200 // 100 ms of 16 kHz mono

	// stopGrace bounds how long Close waits for an interrupted recorder
	// before killing it.
	stopGrace = 1200 * time.Millisecond
)

// ─── Input ────────────────────────────────────────────────────────────────────

// Input is an [audio.InputDevice] backed by a recorder program.
type Input struct {
	program    string
	args       []string
	deviceFlag string
	format     audio.Format
	chunkSize  int
}

// InputOption is a functional option for [NewInput].
type InputOption func(*Input)

// WithRecorder replaces the recorder program and its arguments. The program
// must write raw 16-bit little-endian PCM in the capture format to stdout.
func WithRecorder(program string, args ...string) InputOption {
	return func(i *Input) {
		i.program = program
		i.args = args
	}
}

// WithDeviceFlag sets the flag used to pass a device identifier to the
// recorder. Defaults to "-D". An empty flag disables device selection.
func WithDeviceFlag(flag string) InputOption {
	return func(i *Input) { i.deviceFlag = flag }
}

// WithCaptureFormat sets the PCM format the recorder produces. Defaults to
// [audio.SpeechFormat].
func WithCaptureFormat(f audio.Format) InputOption {
	return func(i *Input) { i.format = f }
}

// WithChunkSize sets the number of bytes per delivered chunk.
func WithChunkSize(n int) InputOption {
	return func(i *Input) {
		if n > 0 {
			i.chunkSize = n
		}
	}
}

// NewInput creates a recorder-backed input device.
func NewInput(opts ...InputOption) *Input {
	i := &Input{
		program:    defaultRecorder,
		deviceFlag: "-D",
		format:     audio.SpeechFormat,
		chunkSize:  defaultChunkSize,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Open implements [audio.InputDevice]. It resolves the recorder program but
// does not start it; capture begins with [audio.CaptureStream.Start].
func (i *Input) Open(ctx context.Context, deviceID string) (audio.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := exec.LookPath(i.program)
	if err != nil {
		return nil, fmt.Errorf("command: recorder %q: %w: %w", i.program, audio.ErrDeviceNotFound, err)
	}

	args := i.args
	if args == nil {
		args = []string{
			"-q", "-f", "S16_LE",
			"-r", strconv.Itoa(i.format.SampleRate),
			"-c", strconv.Itoa(i.format.Channels),
			"-t", "raw",
		}
	}
	args = append([]string(nil), args...)
	if deviceID != "" && i.deviceFlag != "" {
		args = append(args, i.deviceFlag, deviceID)
	}

	return &captureStream{
		path:      path,
		args:      args,
		format:    i.format,
		mediaType: audio.PCMMediaType(i.format),
		chunkSize: i.chunkSize,
		ch:        make(chan audio.Chunk, 16),
		done:      make(chan struct{}),
	}, nil
}

type captureStream struct {
	path      string
	args      []string
	format    audio.Format
	mediaType string
	chunkSize int

	ch   chan audio.Chunk
	done chan struct{}

	mu      sync.Mutex
	cmd     *exec.Cmd
	stderr  bytes.Buffer
	stopped bool
	closed  bool
}

func (s *captureStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return nil
	}
	if s.stopped {
		return errors.New("command: capture already stopped")
	}

	cmd := exec.Command(s.path, s.args...)
	cmd.Stderr = &s.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("command: recorder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("command: start recorder: %w: %w", audio.ErrPermissionDenied, err)
		}
		return fmt.Errorf("command: start recorder: %w", err)
	}
	s.cmd = cmd

	go s.read(stdout)
	return nil
}

func (s *captureStream) read(stdout io.Reader) {
	defer close(s.done)
	defer close(s.ch)

	var offset int
	buf := make([]byte, s.chunkSize)
	for {
		n, err := io.ReadFull(stdout, buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.ch <- audio.Chunk{
				Data:      data,
				MediaType: s.mediaType,
				Timestamp: audio.PCMDuration(offset, s.format),
			}
			offset += n
		}
		if err != nil {
			break
		}
	}

	if err := s.cmd.Wait(); err != nil {
		s.mu.Lock()
		stopped := s.stopped
		stderr := s.stderr.String()
		s.mu.Unlock()
		// An interrupted recorder exits non-zero; only report unexpected exits.
		if !stopped {
			slog.Warn("command: recorder exited", "err", err, "stderr", stderr)
		}
	}
}

func (s *captureStream) Chunks() <-chan audio.Chunk { return s.ch }

func (s *captureStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	if err := s.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("command: interrupt recorder: %w", err)
	}
	return nil
}

func (s *captureStream) Close() error {
	_ = s.Stop()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cmd := s.cmd
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}

	// Nobody may be reading any more; drain so the reader can finish.
	go func() {
		for range s.ch {
		}
	}()

	select {
	case <-s.done:
	case <-time.After(stopGrace):
		_ = cmd.Process.Kill()
		<-s.done
	}
	return nil
}

// ─── Output ───────────────────────────────────────────────────────────────────

// Output is an [audio.OutputDevice] backed by a player program.
type Output struct {
	program  string
	args     []string
	loopArgs []string
	deviceID string
	tempDir  string

	mu     sync.Mutex
	active map[*playback]struct{}
	closed bool
}

// OutputOption is a functional option for [NewOutput].
type OutputOption func(*Output)

// WithPlayer replaces the player program and its arguments. The path of the
// clip to play is appended as the last argument.
func WithPlayer(program string, args ...string) OutputOption {
	return func(o *Output) {
		o.program = program
		o.args = args
	}
}

// WithLoopArgs sets the extra arguments that make the player repeat the clip
// until killed. Defaults to "-loop 0".
func WithLoopArgs(args ...string) OutputOption {
	return func(o *Output) { o.loopArgs = args }
}

// WithOutputDevice selects the output device. The player receives it in the
// AUDIODEV environment variable. Empty means the system default.
func WithOutputDevice(id string) OutputOption {
	return func(o *Output) { o.deviceID = id }
}

// WithTempDir sets the directory playback files are written to.
func WithTempDir(dir string) OutputOption {
	return func(o *Output) { o.tempDir = dir }
}

// NewOutput creates a player-backed output device.
func NewOutput(opts ...OutputOption) *Output {
	o := &Output{
		program:  defaultPlayer,
		args:     []string{"-nodisp", "-autoexit", "-loglevel", "quiet"},
		loopArgs: []string{"-loop", "0"},
		active:   make(map[*playback]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Decode implements [audio.OutputDevice]. Encoded clips are validated by
// sniffing their container; raw PCM clips are wrapped into WAV.
func (o *Output) Decode(_ context.Context, clip audio.Clip) (audio.Buffer, error) {
	if clip.Len() == 0 {
		return audio.Buffer{}, errors.New("command: cannot decode empty clip")
	}

	if src, ok := audio.ParsePCMMediaType(clip.MediaType); ok {
		wav, err := audio.ToWAV(clip, src)
		if err != nil {
			return audio.Buffer{}, fmt.Errorf("command: decode: %w", err)
		}
		return audio.Buffer{Clip: wav, Duration: audio.PCMDuration(clip.Len(), src)}, nil
	}

	sniffed := audio.DetectMediaType(clip.Data)
	if sniffed == "" {
		return audio.Buffer{}, fmt.Errorf("command: decode: unrecognised audio container (declared %q)", clip.MediaType)
	}
	if clip.MediaType == "" {
		clip.MediaType = sniffed
	}

	buf := audio.Buffer{Clip: clip}
	if sniffed == audio.MediaTypeWAV {
		if f, pcm, err := audio.DecodeWAV(clip.Data); err == nil {
			buf.Duration = audio.PCMDuration(len(pcm), f)
		}
	}
	return buf, nil
}

// Play implements [audio.OutputDevice].
func (o *Output) Play(ctx context.Context, buf audio.Buffer, opts audio.PlayOptions) (audio.Playback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return nil, errors.New("command: output device closed")
	}

	path, err := exec.LookPath(o.program)
	if err != nil {
		return nil, fmt.Errorf("command: player %q: %w: %w", o.program, audio.ErrDeviceNotFound, err)
	}

	f, err := os.CreateTemp(o.tempDir, "ventriloquist-*.audio")
	if err != nil {
		return nil, fmt.Errorf("command: create playback file: %w", err)
	}
	file := f.Name()
	if _, err := f.Write(buf.Clip.Data); err != nil {
		f.Close()
		os.Remove(file)
		return nil, fmt.Errorf("command: write playback file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(file)
		return nil, fmt.Errorf("command: write playback file: %w", err)
	}

	args := append([]string(nil), o.args...)
	if opts.Loop {
		args = append(args, o.loopArgs...)
	}
	args = append(args, file)

	cmd := exec.Command(path, args...)
	if o.deviceID != "" {
		cmd.Env = append(os.Environ(), "AUDIODEV="+o.deviceID)
	}
	if err := cmd.Start(); err != nil {
		os.Remove(file)
		return nil, fmt.Errorf("command: start player: %w", err)
	}

	pb := &playback{cmd: cmd, done: make(chan struct{})}
	o.mu.Lock()
	o.active[pb] = struct{}{}
	o.mu.Unlock()

	go func() {
		err := cmd.Wait()
		os.Remove(file)
		pb.mu.Lock()
		if !pb.stopped && err != nil {
			pb.err = fmt.Errorf("command: player exited: %w", err)
		}
		pb.mu.Unlock()
		o.mu.Lock()
		delete(o.active, pb)
		o.mu.Unlock()
		close(pb.done)
	}()
	return pb, nil
}

// Close implements [audio.OutputDevice]. Running playbacks are stopped.
func (o *Output) Close() error {
	o.mu.Lock()
	o.closed = true
	pbs := make([]*playback, 0, len(o.active))
	for pb := range o.active {
		pbs = append(pbs, pb)
	}
	o.mu.Unlock()

	var errs []error
	for _, pb := range pbs {
		if err := pb.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type playback struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	stopped bool
	err     error
}

func (p *playback) Stop() error {
	p.mu.Lock()
	select {
	case <-p.done:
		p.mu.Unlock()
		return nil
	default:
	}
	p.stopped = true
	p.mu.Unlock()

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("command: kill player: %w", err)
	}
	<-p.done
	return nil
}

func (p *playback) Done() <-chan struct{} { return p.done }

func (p *playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

var (
	_ audio.InputDevice  = (*Input)(nil)
	_ audio.OutputDevice = (*Output)(nil)
)
