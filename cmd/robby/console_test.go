package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/ventriloquist/internal/conversation"
	"github.com/MrWong99/ventriloquist/internal/orchestrator"
	"github.com/MrWong99/ventriloquist/pkg/audio"
)

// fakeController records console calls and follows the orchestrator's
// idle/recording transitions.
type fakeController struct {
	mu        sync.Mutex
	calls     []string
	recording bool
	speaker   string

	startErr  error
	finishErr error
	cancelErr error
	exchange  *orchestrator.Exchange
	history   []conversation.Turn
}

func (f *fakeController) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeController) Start(_ context.Context, speaker string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start:" + speaker)
	if f.startErr != nil {
		return f.startErr
	}
	f.recording, f.speaker = true, speaker
	return nil
}

func (f *fakeController) Finish(context.Context) (*orchestrator.Exchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("finish")
	f.recording = false
	return f.exchange, f.finishErr
}

func (f *fakeController) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("cancel")
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.recording = false
	return nil
}

func (f *fakeController) History() []conversation.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("history")
	return f.history
}

func (f *fakeController) Status() orchestrator.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recording {
		return orchestrator.Status{State: orchestrator.StateRecording, Speaker: f.speaker}
	}
	return orchestrator.Status{State: orchestrator.StateIdle}
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func runConsole(t *testing.T, ctl *fakeController, input string) string {
	t.Helper()
	var out bytes.Buffer
	if err := newConsole(ctl, &out).Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String()
}

func TestConsole_Commands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "will then finish", input: "w\n\n", want: []string{"start:Will", "finish"}},
		{name: "audience then finish", input: "a\n\n", want: []string{"start:Audience", "finish"}},
		{name: "cancel", input: "w\nc\n", want: []string{"start:Will", "cancel"}},
		{name: "enter while idle is ignored", input: "\n\n", want: nil},
		{name: "history", input: "h\n", want: []string{"history"}},
		{name: "uppercase", input: "W\n\n", want: []string{"start:Will", "finish"}},
		{name: "quit stops reading", input: "q\nw\n", want: nil},
		{name: "quit while recording cancels", input: "w\nq\n", want: []string{"start:Will", "cancel"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctl := &fakeController{}
			runConsole(t, ctl, tt.input)
			got := ctl.Calls()
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("calls = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConsole_PrintsExchange(t *testing.T) {
	t.Parallel()

	ctl := &fakeController{exchange: &orchestrator.Exchange{
		Speaker:    "Will",
		Transcript: "Say hello Robby",
		Reply:      "Hello, meatbags.",
	}}
	out := runConsole(t, ctl, "w\n\n")
	for _, want := range []string{"recording Will", "Will: Say hello Robby", "Robby: Hello, meatbags."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConsole_ReportsSilentWarmup(t *testing.T) {
	t.Parallel()

	ctl := &fakeController{exchange: &orchestrator.Exchange{
		Speaker:    "Audience",
		Transcript: "hello",
		Reply:      "Greetings.",
		Warmup:     errors.New("ffplay not found"),
	}}
	out := runConsole(t, ctl, "a\n\n")
	if !strings.Contains(out, "warm-up sound unavailable: ffplay not found") {
		t.Errorf("warm-up failure not shown:\n%s", out)
	}
	if !strings.Contains(out, "Robby: Greetings.") {
		t.Errorf("exchange not shown:\n%s", out)
	}
}

func TestConsole_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		ctl   *fakeController
		input string
		want  string
	}{
		{
			name:  "busy",
			ctl:   &fakeController{startErr: orchestrator.ErrCycleActive},
			input: "w\n",
			want:  "busy",
		},
		{
			name:  "no microphone",
			ctl:   &fakeController{startErr: fmt.Errorf("%w: arecord missing", orchestrator.ErrDeviceUnavailable)},
			input: "a\n",
			want:  "microphone unavailable",
		},
		{
			name:  "empty capture",
			ctl:   &fakeController{finishErr: orchestrator.ErrEmptyCapture},
			input: "w\n\n",
			want:  "nothing was recorded",
		},
		{
			name:  "backend down",
			ctl:   &fakeController{finishErr: fmt.Errorf("%w: 500", orchestrator.ErrBackendFailure)},
			input: "w\n\n",
			want:  "Robby did not answer",
		},
		{
			name: "playback failure still prints exchange",
			ctl: &fakeController{
				exchange:  &orchestrator.Exchange{Speaker: "Audience", Transcript: "hi", Reply: "beep"},
				finishErr: fmt.Errorf("%w: player crashed", orchestrator.ErrPlaybackFailure),
			},
			input: "a\n\n",
			want:  "Robby: beep\nreply could not be played",
		},
		{
			name:  "cancel too late",
			ctl:   &fakeController{cancelErr: orchestrator.ErrCancelNotAllowed},
			input: "w\nc\n",
			want:  "too late to cancel",
		},
		{
			name:  "unknown command",
			ctl:   &fakeController{},
			input: "x\n",
			want:  `unknown command "x"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if out := runConsole(t, tt.ctl, tt.input); !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
		})
	}
}

func TestConsole_History(t *testing.T) {
	t.Parallel()

	ctl := &fakeController{history: []conversation.Turn{
		{Role: conversation.RoleSystem, Content: "You are Robby the Robot.\nMore scene."},
		{Role: conversation.RoleUser, Content: "Will: hi"},
		{Role: conversation.RoleAssistant, Content: "Robby: ..."},
	}}
	out := runConsole(t, ctl, "h\n")
	if strings.Contains(out, "More scene.") {
		t.Errorf("system prompt printed in full:\n%s", out)
	}
	for _, want := range []string{"You are Robby the Robot. [...]", "Will: hi", "Robby: ..."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConsole_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer pw.Close()
	defer pr.Close()

	if err := newConsole(&fakeController{}, &bytes.Buffer{}).Run(ctx, pr); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}

func TestLoadClip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	wav, err := audio.EncodeWAV(make([]byte, 320), audio.SpeechFormat)
	if err != nil {
		t.Fatal(err)
	}
	wavPath := filepath.Join(dir, "warmup.wav")
	if err := os.WriteFile(wavPath, wav, 0o600); err != nil {
		t.Fatal(err)
	}
	clip, err := loadClip(wavPath)
	if err != nil {
		t.Fatalf("loadClip: %v", err)
	}
	if clip.MediaType != audio.MediaTypeWAV || clip.Len() != len(wav) {
		t.Errorf("clip = %s, %d bytes", clip.MediaType, clip.Len())
	}

	junk := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(junk, []byte("not audio"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadClip(junk); err == nil {
		t.Error("loadClip(text file) succeeded")
	}
	if _, err := loadClip(filepath.Join(dir, "missing.mp3")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("loadClip(missing) = %v, want ErrNotExist", err)
	}
}
