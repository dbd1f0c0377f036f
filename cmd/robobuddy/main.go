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
	"syscall"

	"robobuddy/config"
	"robobuddy/internal/application"
	"robobuddy/internal/domain"
	"robobuddy/internal/infra"
	"robobuddy/internal/infra/anthropic"
	"robobuddy/internal/infra/audio"
	"robobuddy/internal/infra/control"
	"robobuddy/internal/infra/credentials"
	"robobuddy/internal/infra/gemini"
	"robobuddy/internal/infra/media"
	"robobuddy/internal/infra/metrics"
	"robobuddy/internal/infra/profile"
	"robobuddy/internal/infra/pushover"
)

func main() {
	configPath := flag.String("config", "", "path to config file (built-in defaults when empty)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := setupLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("robobuddy error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	template := application.DefaultInstructionTemplate
	if cfg.Persona.InstructionFile != "" {
		data, err := os.ReadFile(cfg.Persona.InstructionFile)
		if err != nil {
			return fmt.Errorf("reading instruction file: %w", err)
		}
		template = string(data)
	}

	creds := credentials.NewProvider(cfg.Gemini.APIKeyEnv, cfg.Gemini.DotenvPath, cfg.Gemini.APIKey)
	profiles := profile.NewFileStore(cfg.Profile.Path)

	operator, err := profiles.Load(ctx)
	if err != nil {
		logger.Warn("loading profile, using defaults", "error", err)
	}
	persona := application.NewPersona(template, operator.PreferredMode, domain.VibeNeutral)

	output, closeOutput := createOutput(cfg.Audio, logger)
	defer func() {
		if err := closeOutput(); err != nil {
			logger.Warn("closing audio output", "error", err)
		}
	}()

	board := control.NewBoard(0, logger)
	launcher := media.NewLauncher(cfg.Media.Command, logger)
	defer launcher.Close()

	var collector application.Metrics = application.NoopMetrics{}
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		c := metrics.NewCollector(cfg.Metrics.Namespace)
		collector = c
		metricsHandler = c.Handler()
	}

	var notifier application.Notifier
	if cfg.Pushover.Enabled {
		notifier = pushover.NewClient(cfg.Pushover.Token, cfg.Pushover.UserKey)
	} else {
		notifier = &application.NoopNotifier{}
	}

	var summarizer application.Summarizer
	if cfg.Summary.Enabled {
		switch cfg.Summary.Provider {
		case "anthropic":
			summarizer = anthropic.NewSummarizer(cfg.Summary.AnthropicAPIKey, cfg.Summary.AnthropicModel)
		default:
			summarizer = gemini.NewSummarizerWithURL(creds, cfg.Summary.Model, cfg.Gemini.BaseURL)
		}
	}

	ctrl := application.NewController(application.ControllerDeps{
		Dialer:      gemini.NewLiveDialer(cfg.Gemini.LiveURL, logger),
		Capture:     createCapture(cfg.Audio, logger),
		Output:      output,
		Credentials: creds,
		Profiles:    profiles,
		Media:       launcher,
		Display:     board,
		Transcript:  board,
		Notifier:    notifier,
		Summarizer:  summarizer,
		Metrics:     collector,
		Logger:      logger,
	}, persona, application.ControllerOptions{
		Model:         cfg.Gemini.Model,
		Voice:         cfg.Gemini.Voice,
		Transcription: !cfg.Gemini.DisableTranscription,
		Capture: application.CaptureOptions{
			BlockSize: cfg.Audio.BlockSize,
			Threshold: cfg.Audio.SilenceThreshold,
		},
		SummaryTimeout: config.Duration(cfg.Summary.Timeout),
	})
	board.ShowMode(persona.Mode())

	srv := control.NewServer(control.ServerOptions{
		Addr:       cfg.Control.Addr,
		AuthToken:  cfg.Control.AuthToken,
		RateLimit:  cfg.Control.RateLimit,
		RateWindow: config.Duration(cfg.Control.RateWindow),
		Metrics:    metricsHandler,
	}, ctrl, board, logger)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting control server: %w", err)
	}

	go supervise(ctx, ctrl, cfg.Reconnect, logger)

	if cfg.Control.AutoStart {
		go func() {
			if err := ctrl.Start(ctx); err != nil {
				logger.Warn("auto start failed", "error", err)
			}
		}()
	}

	logger.Info("robobuddy ready",
		"control_addr", cfg.Control.Addr,
		"input", cfg.Audio.Input,
		"output", cfg.Audio.Output,
		"model", cfg.Gemini.Model,
	)

	<-ctx.Done()

	if err := ctrl.Stop(); err != nil {
		logger.Warn("stopping session", "error", err)
	}
	if err := srv.Stop(); err != nil {
		logger.Warn("stopping control server", "error", err)
	}
	srv.Wait()
	return nil
}

// supervise reconnects after a live session drops with a link fault. Connect
// failures and rejected credentials are left to the operator.
func supervise(ctx context.Context, ctrl *application.Controller, rc config.ReconnectConfig, logger *slog.Logger) {
	retry := infra.RetryConfig{
		MaxAttempts:  rc.MaxAttempts,
		InitialDelay: config.Duration(rc.InitialDelay),
		MaxDelay:     config.Duration(rc.MaxDelay),
		Multiplier:   2.0,
	}

	for {
		var outcome application.Outcome
		select {
		case <-ctx.Done():
			return
		case outcome = <-ctrl.Ended():
		}

		var runtimeErr *domain.TransportRuntimeError
		if rc.MaxAttempts == 0 || outcome.NeedsCredential || !errors.As(outcome.Err, &runtimeErr) {
			continue
		}

		logger.Info("link dropped, reconnecting", "session_id", outcome.SessionID, "max_attempts", rc.MaxAttempts)
		err := infra.WithRetry(ctx, retry, func() error {
			err := ctrl.Start(ctx)
			if errors.Is(err, domain.ErrNeedsCredential) {
				return infra.Permanent(err)
			}
			return err
		})
		if err != nil && ctx.Err() == nil {
			logger.Error("reconnect gave up", "error", err)
		}
	}
}

func createCapture(cfg config.AudioConfig, logger *slog.Logger) application.CaptureDevice {
	switch cfg.Input {
	case "file":
		return audio.NewFileCapture(cfg.InputFile, cfg.LoopFile)
	default:
		return audio.NewMicrophone(logger)
	}
}

func createOutput(cfg config.AudioConfig, logger *slog.Logger) (application.AudioOutput, func() error) {
	if cfg.Output == "speaker" {
		speaker, err := audio.OpenSpeaker(domain.PlaybackSampleRate, logger)
		if err == nil {
			return speaker, speaker.Close
		}
		logger.Warn("speaker unavailable, using virtual output", "error", err)
	}
	return audio.NewVirtualOutput(domain.PlaybackSampleRate), func() error { return nil }
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
