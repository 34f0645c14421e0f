// Command voxlog captures microphone audio, segments it into utterances, and
// logs the transcribed text to the configured sinks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxlog/voxlog/internal/config"
	"github.com/voxlog/voxlog/internal/observe"
	"github.com/voxlog/voxlog/internal/session"
	"github.com/voxlog/voxlog/internal/sink"
	"github.com/voxlog/voxlog/internal/sink/integration"
	"github.com/voxlog/voxlog/internal/textproc"
	"github.com/voxlog/voxlog/pkg/audio/portaudio"
	"github.com/voxlog/voxlog/pkg/provider/stt"
	"github.com/voxlog/voxlog/pkg/provider/stt/elevenlabs"
	"github.com/voxlog/voxlog/pkg/provider/stt/openai"
	"github.com/voxlog/voxlog/pkg/provider/stt/whisper"
	"github.com/voxlog/voxlog/pkg/segment/energy"
	"github.com/voxlog/voxlog/pkg/segment/vad"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	listDevices := flag.Bool("list-devices", false, "print available input devices and exit")
	flag.Parse()

	// ── List devices (no config needed) ───────────────────────────────────────
	if *listDevices {
		return printDevices()
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxlog: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxlog: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxlog starting",
		"config", *configPath,
		"mode", cfg.Mode,
		"sample_rate", cfg.Audio.SampleRate,
		"vad", cfg.VAD.Enabled,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxlog"})
		if err != nil {
			slog.Error("failed to initialise metrics provider", "err", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Warn("metrics provider shutdown error", "err", err)
			}
		}()

		mux := http.NewServeMux()
		mux.Handle("/metrics", observe.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			slog.Info("metrics endpoint listening", "addr", cfg.Metrics.ListenAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "err", err)
			}
		}()
	}

	// ── Transcription backend ─────────────────────────────────────────────────
	reg := stt.NewRegistry()
	registerBackends(reg)
	defer reg.Close()

	backend, err := reg.Initialize(ctx, stt.InitParams{
		Mode:     cfg.Mode,
		APIKey:   apiKeyFor(cfg),
		Model:    modelFor(cfg),
		Language: cfg.Backends.Language,
	})
	if err != nil {
		slog.Error("failed to initialise transcription backend", "err", err)
		return 1
	}

	// ── Text post-processing rules ────────────────────────────────────────────
	replacements, patterns, err := loadTextRules(cfg)
	if err != nil {
		slog.Error("failed to load text rules", "err", err)
		return 1
	}

	// ── Audio capture ─────────────────────────────────────────────────────────
	if err := portaudio.Initialize(); err != nil {
		slog.Error("failed to initialise audio host", "err", err)
		return 1
	}
	defer func() {
		if err := portaudio.Terminate(); err != nil {
			slog.Warn("audio host termination error", "err", err)
		}
	}()

	source, err := portaudio.Open(portaudio.Config{
		DeviceIndex: cfg.Audio.Device,
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
	})
	if err != nil {
		slog.Error("failed to open capture device", "err", err)
		return 1
	}

	// ── Sinks ─────────────────────────────────────────────────────────────────
	file, err := sink.NewFileSink(cfg.Output.File, cfg.Output.Format)
	if err != nil {
		slog.Error("failed to create transcript file sink", "err", err)
		return 1
	}
	events := sink.NewEvents(64)

	var sessionOpts []session.Option
	var queue *sink.IntegrationQueue
	if cfg.Integration.Enabled {
		queue = sink.NewIntegrationQueue(cfg.Integration.QueueSize)
		sessionOpts = append(sessionOpts, session.WithIntegration(queue))
	}

	// ── Session ───────────────────────────────────────────────────────────────
	sessionCfg := session.Config{
		Mode:              cfg.Mode,
		SampleRate:        cfg.Audio.SampleRate,
		Language:          cfg.Backends.Language,
		Prompt:            languagePrompt(cfg),
		UseVAD:            cfg.VAD.Enabled,
		VAD:               vadConfig(cfg),
		Energy:            energyConfig(cfg),
		Replacements:      replacements,
		FilterPatterns:    patterns,
		FilterParentheses: cfg.Text.FilterParentheses,
		IntegrationPrefix: cfg.Integration.Prefix,
	}
	orch := session.New(sessionCfg, backend, source.Frames(), source.Errors(), source.Close,
		events, file, sessionOpts...)

	slog.Info("recording — press Ctrl+C to stop")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(gctx)
	})
	if queue != nil {
		client := integration.New(cfg.Integration.URL, queue.C())
		g.Go(func() error {
			return client.Run(gctx)
		})
	}
	g.Go(func() error {
		consumeEvents(events)
		return nil
	})

	runErr := g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown error", "err", err)
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("session error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBackends wires all built-in transcription engine factories into reg.
func registerBackends(reg *stt.Registry) {
	reg.Register(stt.ModeLocal, func(ctx context.Context, p stt.InitParams) (stt.Backend, error) {
		var opts []whisper.Option
		if p.Language != "" {
			opts = append(opts, whisper.WithLanguage(p.Language))
		}
		return whisper.New(p.Model, opts...)
	})

	reg.Register(stt.ModeOpenAI, func(ctx context.Context, p stt.InitParams) (stt.Backend, error) {
		return openai.New(p.APIKey, p.Model)
	})

	reg.Register(stt.ModeElevenLabs, func(ctx context.Context, p stt.InitParams) (stt.Backend, error) {
		var opts []elevenlabs.Option
		if p.Model != "" {
			opts = append(opts, elevenlabs.WithModel(p.Model))
		}
		return elevenlabs.New(p.APIKey, opts...)
	})
}

// apiKeyFor returns the credential for the active mode.
func apiKeyFor(cfg *config.Config) string {
	switch cfg.Mode {
	case stt.ModeOpenAI:
		return cfg.Backends.OpenAI.APIKey
	case stt.ModeElevenLabs:
		return cfg.Backends.ElevenLabs.APIKey
	default:
		return ""
	}
}

// modelFor returns the model identifier for the active mode. For the local
// engine this is the ggml model path.
func modelFor(cfg *config.Config) string {
	switch cfg.Mode {
	case stt.ModeOpenAI:
		return cfg.Backends.OpenAI.Model
	case stt.ModeElevenLabs:
		return cfg.Backends.ElevenLabs.ModelID
	default:
		return cfg.Backends.Local.ModelPath
	}
}

// languagePrompt builds the recognition hint sent to the OpenAI engine. The
// other engines take the language code directly and need no prompt.
func languagePrompt(cfg *config.Config) string {
	if cfg.Mode != stt.ModeOpenAI || cfg.Backends.Language == "" {
		return ""
	}
	return fmt.Sprintf("The following transcription is in %s.", cfg.Backends.Language)
}

// ── Segmentation wiring ───────────────────────────────────────────────────────

func vadConfig(cfg *config.Config) vad.Config {
	return vad.Config{
		Threshold:         cfg.VAD.Threshold,
		MinSilence:        cfg.VAD.MinSilence(),
		MinSpeech:         cfg.VAD.MinSpeech(),
		SampleRate:        cfg.Audio.SampleRate,
		AdaptiveThreshold: cfg.VAD.AdaptiveThreshold,
		Padding:           cfg.VAD.Padding,
		PaddingDuration:   cfg.VAD.PaddingDuration(),
		Debug:             cfg.VAD.Debug,
	}
}

func energyConfig(cfg *config.Config) energy.Config {
	return energy.Config{
		Threshold:  cfg.Segmenter.EnergyThreshold,
		MinBuffer:  cfg.Segmenter.MinBuffer(),
		Silence:    cfg.Segmenter.Silence(),
		SampleRate: cfg.Audio.SampleRate,
	}
}

// ── Text rules ────────────────────────────────────────────────────────────────

// loadTextRules reads the replacement and filter rule files, creating them
// with defaults when missing.
func loadTextRules(cfg *config.Config) ([]textproc.Replacement, []*regexp.Regexp, error) {
	rules, err := textproc.LoadReplacements(cfg.Text.ReplacementsFile)
	if err != nil {
		return nil, nil, err
	}
	raw, err := textproc.LoadPatterns(cfg.Text.FilterFile)
	if err != nil {
		return nil, nil, err
	}
	return textproc.CompileReplacements(rules), textproc.CompilePatterns(raw), nil
}

// ── Event display ─────────────────────────────────────────────────────────────

// consumeEvents prints session events to stdout until the terminal finished
// event arrives.
func consumeEvents(events *sink.Events) {
	for ev := range events.C() {
		switch ev.Kind {
		case sink.EventTranscription:
			fmt.Println(ev.Text)
		case sink.EventError:
			fmt.Fprintf(os.Stderr, "error: %s\n", ev.Text)
		case sink.EventWarning:
			fmt.Fprintf(os.Stderr, "warning: %s\n", ev.Text)
		case sink.EventFinished:
			return
		default:
			slog.Debug("session status", "text", ev.Text)
		}
	}
}

// ── Device listing ────────────────────────────────────────────────────────────

func printDevices() int {
	if err := portaudio.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "voxlog: %v\n", err)
		return 1
	}
	defer portaudio.Terminate()

	devices, err := portaudio.ListDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxlog: %v\n", err)
		return 1
	}
	fmt.Println("Available input devices:")
	for _, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Printf("%s %3d: %s (%d ch, %.0f Hz)\n", marker, d.Index, d.Name, d.MaxChannels, d.DefaultRate)
	}
	return 0
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
