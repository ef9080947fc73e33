package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"drivemail/internal/audio"
	"drivemail/internal/auth"
	"drivemail/internal/config"
	"drivemail/internal/observe"
	"drivemail/internal/playback"
	"drivemail/internal/ports"
	"drivemail/internal/providers/backend"
	"drivemail/internal/providers/deepgram"
	"drivemail/internal/providers/gmail"
	"drivemail/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Orchestrator *usecase.Orchestrator
	Handoff      *auth.Handoff
	Speaker      ports.Speaker
	Config       config.Config
	Logger       *slog.Logger

	// Telemetry owns the meter provider; shut it down on exit.
	Telemetry *observe.Provider
}

// Build loads configuration and wires all dependencies for the current runtime.
func Build(events ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return Assemble(cfg, events)
}

// Assemble wires an already loaded configuration.
func Assemble(cfg config.Config, events ports.EventSink) (Services, error) {
	logger := observe.NewLogger(cfg.Log.Level, cfg.Log.Format)

	telemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		Exporter:   cfg.Metrics.Exporter,
		ListenAddr: cfg.Metrics.ListenAddr,
	})
	if err != nil {
		return Services{}, fmt.Errorf("init telemetry: %w", err)
	}
	services, err := assemble(cfg, events, logger, telemetry)
	if err != nil {
		_ = telemetry.Shutdown(context.Background())
		return Services{}, err
	}
	if addr := telemetry.Addr(); addr != "" {
		logger.Info("serving metrics", "addr", "http://"+addr+"/metrics")
	}
	return services, nil
}

func assemble(cfg config.Config, events ports.EventSink, logger *slog.Logger, telemetry *observe.Provider) (Services, error) {
	metrics, err := observe.NewMetrics(telemetry.MeterProvider())
	if err != nil {
		return Services{}, fmt.Errorf("create metrics: %w", err)
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
	}, logger)
	if err != nil {
		return Services{}, err
	}

	capture, err := audio.New(cfg.Audio.Mode, audio.Config{
		Command:     cfg.Audio.RecorderCommand,
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}, cfg.Audio.ChunkSize, logger)
	if err != nil {
		return Services{}, err
	}

	var transcriber ports.Transcriber = client
	if cfg.Transcription.Provider == config.TranscriptionDeepgram {
		dg := cfg.Transcription.Deepgram
		transcriber = deepgram.NewTranscriber(deepgram.Config{
			APIKey:      dg.APIKey,
			APIBaseURL:  dg.APIBaseURL,
			Model:       dg.Model,
			Language:    dg.Language,
			SmartFormat: dg.SmartFormat,
		}, logger)
	}

	speaker, err := newSpeaker(cfg.Playback, logger)
	if err != nil {
		return Services{}, err
	}

	tokens := gmail.NewTokenStore()
	sender := gmail.NewSender(gmail.Config{
		APIBaseURL: cfg.Gmail.APIBaseURL,
		Timeout:    cfg.Gmail.Timeout,
	}, tokens, logger)
	handoff := auth.NewHandoff(auth.Config{
		UserInfoURL: cfg.Auth.UserInfoURL,
		Timeout:     cfg.Auth.Timeout,
	}, client, tokens, logger)

	orchestrator := usecase.NewOrchestrator(
		capture,
		transcriber,
		client,
		speaker,
		sender,
		events,
		metrics,
		logger,
		usecase.Config{SuccessDisplay: cfg.Session.SuccessDisplay},
	)

	logger.Info("services assembled",
		"transcription", cfg.Transcription.Provider,
		"playback", cfg.Playback.Provider,
		"capture", cfg.Audio.Mode,
		"backend", cfg.Backend.BaseURL,
		"metrics", cfg.Metrics.Exporter,
	)

	return Services{
		Orchestrator: orchestrator,
		Handoff:      handoff,
		Speaker:      speaker,
		Config:       cfg,
		Logger:       logger,
		Telemetry:    telemetry,
	}, nil
}

func newSpeaker(cfg config.PlaybackConfig, logger *slog.Logger) (ports.Speaker, error) {
	switch cfg.Provider {
	case config.PlaybackOpenAI:
		speaker, err := playback.NewOpenAISpeaker(playback.OpenAIConfig{
			APIKey:        cfg.OpenAI.APIKey,
			BaseURL:       cfg.OpenAI.BaseURL,
			Model:         cfg.OpenAI.Model,
			Voice:         cfg.OpenAI.Voice,
			PlayerCommand: cfg.OpenAI.PlayerCommand,
		}, logger)
		if err != nil {
			return nil, err
		}
		return speaker, nil
	case config.PlaybackCommand, "":
		return playback.NewCommandSpeaker(playback.CommandConfig{
			Command: cfg.Command,
			Voice:   cfg.Voice,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown playback provider %q", cfg.Provider)
	}
}
