// Command robby is the performer console for the Robby the Robot routine. It
// records the performer or the audience, sends each line to the conversation
// server and plays Robby's reply.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/ventriloquist/internal/backend"
	"github.com/MrWong99/ventriloquist/internal/config"
	"github.com/MrWong99/ventriloquist/internal/conversation"
	"github.com/MrWong99/ventriloquist/internal/observe"
	"github.com/MrWong99/ventriloquist/internal/orchestrator"
	"github.com/MrWong99/ventriloquist/pkg/audio"
	"github.com/MrWong99/ventriloquist/pkg/audio/command"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	backendURL := flag.String("backend", "", "conversation server URL (overrides client.backend_url)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "robby: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "robby: %v\n", err)
		}
		return 1
	}
	if *backendURL != "" {
		cfg.Client.BackendURL = *backendURL
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: cfg.Observability.ServiceName + "-console",
		SampleRatio: cfg.Observability.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	client, err := backend.NewClient(cfg.Client.BackendURL,
		backend.WithTimeout(cfg.Client.RequestTimeout),
		backend.WithCircuitBreaker(cfg.Client.CircuitBreaker.Resilience("backend")),
	)
	if err != nil {
		slog.Error("failed to create backend client", "err", err)
		return 1
	}

	orch, err := newOrchestrator(ctx, cfg, client, os.Stdout)
	if err != nil {
		slog.Error("failed to create orchestrator", "err", err)
		return 1
	}
	defer orch.Close()

	slog.Info("robby ready", "backend", cfg.Client.BackendURL, "warmup", cfg.Client.WarmupAudio != "")
	if err := newConsole(orch, os.Stdout).Run(ctx, os.Stdin); err != nil {
		slog.Error("console error", "err", err)
		return 1
	}
	return 0
}

// newOrchestrator wires the command-backed audio devices, the warm-up clip
// and the starting context into an orchestrator. State changes are echoed
// to status.
func newOrchestrator(ctx context.Context, cfg *config.Config, b orchestrator.Backend, status io.Writer) (*orchestrator.Orchestrator, error) {
	var inOpts []command.InputOption
	if rec := cfg.Client.Recorder; len(rec) > 0 {
		inOpts = append(inOpts, command.WithRecorder(rec[0], rec[1:]...))
	}
	var outOpts []command.OutputOption
	if p := cfg.Client.Player; len(p) > 0 {
		outOpts = append(outOpts, command.WithPlayer(p[0], p[1:]...))
	}
	if len(cfg.Client.LoopArgs) > 0 {
		outOpts = append(outOpts, command.WithLoopArgs(cfg.Client.LoopArgs...))
	}
	if cfg.Client.OutputDevice != "" {
		outOpts = append(outOpts, command.WithOutputDevice(cfg.Client.OutputDevice))
	}

	opts := []orchestrator.Option{
		orchestrator.WithHistory(conversation.NewHistory(cfg.Character.StartingContext()...)),
		orchestrator.WithInputDevice(cfg.Client.InputDevice),
		orchestrator.WithRequestTimeout(cfg.Client.RequestTimeout),
		orchestrator.WithWaitForPlayback(cfg.Client.WaitsForPlayback()),
		orchestrator.WithMetrics(observe.DefaultMetrics()),
		orchestrator.WithStateChange(func(s orchestrator.Status) {
			fmt.Fprintf(status, "[%s]\n", s)
		}),
	}
	if cfg.Client.MaxRecording > 0 {
		opts = append(opts, orchestrator.WithMaxRecording(cfg.Client.MaxRecording))
	}
	if path := cfg.Client.WarmupAudio; path != "" {
		clip, err := loadClip(path)
		if err != nil {
			return nil, err
		}
		opts = append(opts, orchestrator.WithWarmup(clip))
	}

	return orchestrator.New(ctx, command.NewInput(inOpts...), command.NewOutput(outOpts...), b, opts...)
}

// loadClip reads an encoded audio file and sniffs its media type.
func loadClip(path string) (audio.Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("read warm-up audio: %w", err)
	}
	mt := audio.DetectMediaType(data)
	if mt == "" {
		return audio.Clip{}, fmt.Errorf("warm-up audio %q: unrecognised format", path)
	}
	return audio.Clip{Data: data, MediaType: mt}, nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
