// Command ventriloquist is the conversation server that voices Robby the
// Robot. It accepts one recorded line per request, transcribes it, asks the
// language model for Robby's reply and returns the synthesised audio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/ventriloquist/internal/config"
	"github.com/MrWong99/ventriloquist/internal/health"
	"github.com/MrWong99/ventriloquist/internal/observe"
	"github.com/MrWong99/ventriloquist/internal/server"
	"github.com/MrWong99/ventriloquist/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err == nil {
		err = config.ValidateServer(cfg)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "ventriloquist: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "ventriloquist: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("ventriloquist starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: cfg.Observability.ServiceName,
		SampleRatio: cfg.Observability.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Character.Language)

	ps, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	conv, err := server.NewConversationHandler(ps.stt, ps.llm, ps.tts,
		server.WithStageTimeout(cfg.Server.StageTimeout),
		server.WithVoice(voiceProfile(cfg)),
		server.WithNames(cfg.Character.CastNames()),
		server.WithLanguage(cfg.Character.Language),
		server.WithCompletion(cfg.Character.Temperature, cfg.Character.MaxTokens),
		server.WithProviderNames(cfg.Providers.STT.Name, cfg.Providers.LLM.Name, cfg.Providers.TTS.Name),
		server.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to create conversation handler", "err", err)
		return 1
	}

	checks := health.New(
		health.ProviderCheck("stt", ps.stt),
		health.ProviderCheck("llm", ps.llm),
		health.ProviderCheck("tts", ps.tts),
	)

	srvCfg := server.Config{
		Addr:            cfg.Server.ListenAddr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	if cfg.Server.TLS != nil {
		srvCfg.CertFile = cfg.Server.TLS.CertFile
		srvCfg.KeyFile = cfg.Server.TLS.KeyFile
	}
	srv := server.New(srvCfg, conv, checks, metrics)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	slog.Info("server ready, press Ctrl+C to shut down")
	if err := srv.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// voiceProfile resolves the character voice, falling back to Robby's
// default voice when none is configured.
func voiceProfile(cfg *config.Config) types.VoiceProfile {
	v := cfg.Character.Voice
	if v.VoiceID == "" {
		return server.DefaultVoice
	}
	return types.VoiceProfile{
		ID:              v.VoiceID,
		Name:            v.Name,
		Provider:        cfg.Providers.TTS.Name,
		Stability:       v.Stability,
		SimilarityBoost: v.SimilarityBoost,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      Ventriloquist startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM)
	printProvider("STT", cfg.Providers.STT)
	printProvider("TTS", cfg.Providers.TTS)
	voice := cfg.Character.Voice.Name
	if voice == "" {
		voice = cfg.Character.Voice.VoiceID
	}
	if voice == "" {
		voice = server.DefaultVoice.Name
	}
	fmt.Printf("║  Voice           : %-19s ║\n", clip(voice))
	fmt.Printf("║  Cast names      : %-19d ║\n", len(cfg.Character.CastNames()))
	fmt.Printf("║  Stage timeout   : %-19s ║\n", cfg.Server.StageTimeout)
	fmt.Printf("║  Listen addr     : %-19s ║\n", clip(cfg.Server.ListenAddr))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind string, e config.ProviderEntry) {
	value := e.Name
	if e.Model != "" {
		value = e.Name + " / " + e.Model
	}
	if n := len(e.Fallbacks); n > 0 {
		value = fmt.Sprintf("%s (+%d)", value, n)
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, clip(value))
}

func clip(s string) string {
	if len(s) > 19 {
		return s[:16] + "…"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

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
