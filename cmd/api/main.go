package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/medai-health/medai/backend/internal/auth"
	"github.com/medai-health/medai/backend/internal/config"
	"github.com/medai-health/medai/backend/internal/handler"
	"github.com/medai-health/medai/backend/internal/handler/transcription"
	"github.com/medai-health/medai/backend/internal/logging"
	"github.com/medai-health/medai/backend/internal/observe"
	"github.com/medai-health/medai/backend/internal/service/ai"
	"github.com/medai-health/medai/backend/internal/service/session"
	"github.com/medai-health/medai/backend/internal/service/speech"
	"github.com/medai-health/medai/backend/internal/service/speech/mock"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(cfg.Log, os.Stderr)
	zlog.Logger = logger
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, using process environment only")
	}

	providerCfg := observe.ProviderConfig{ServiceVersion: version, SampleRate: cfg.Trace.SampleRate}
	if cfg.Trace.Enabled() {
		providerCfg.TraceExporter, err = observe.NewTraceExporter(ctx, cfg.Trace.Endpoint, cfg.Trace.Insecure)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create trace exporter")
		}
		logger.Info().Str("endpoint", cfg.Trace.Endpoint).Msg("exporting traces")
	}
	shutdownTelemetry, err := observe.InitProvider(ctx, providerCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create metrics")
	}

	engine, whisper := newSpeechEngine(cfg, logger)
	invoker := speech.NewInvoker(engine, speech.InvokerConfig{
		MaxAudioBytes: cfg.Audio.MaxAudioBytes(),
		Concurrency:   cfg.Whisper.Concurrency,
		Timeout:       cfg.Whisper.Timeout,
	}, metrics, logger)

	// AI summaries are optional.
	var summarizer transcription.Summarizer
	if cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err == nil {
			var svc *ai.Service
			svc, err = ai.NewService(ctx, chatModel, logger)
			if err == nil {
				summarizer = svc
			}
		}
		if err != nil {
			logger.Warn().Err(err).Msg("AI summary disabled")
		} else {
			logger.Info().Str("model", cfg.AI.Model).Msg("AI summary enabled")
		}
	} else {
		logger.Info().Msg("Ark credentials not configured, AI summary disabled")
	}

	manager := session.NewManager(session.NewStore(), session.NewRegistry(logger), logger)

	router := handler.NewRouter(handler.RouterDeps{
		Transcription: transcription.New(transcription.Deps{
			Manager:        manager,
			Invoker:        invoker,
			Summarizer:     summarizer,
			Auth:           auth.NewResolver(cfg.Auth),
			Metrics:        metrics,
			MaxAudioBytes:  cfg.Audio.MaxAudioBytes(),
			AllowedOrigins: cfg.Server.CORSOrigins,
			Logger:         logger,
		}),
		Metrics:     metrics,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	if whisper != nil {
		g.Go(func() error {
			if err := whisper.Load(gctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("whisper engine failed to load")
			}
			return nil
		})
	}
	g.Go(func() error {
		return startServer(gctx, cfg.Server, router, manager, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	logger.Info().Msg("shutdown complete")
}

// newSpeechEngine builds the backend chosen by SPEECH_ENGINE. whisper is
// non-nil when the engine needs a background Load. A nil engine makes every
// transcription fail with model_unavailable.
func newSpeechEngine(cfg *config.Config, logger zerolog.Logger) (engine speech.Engine, whisper *speech.WhisperEngine) {
	switch cfg.Speech.Engine {
	case config.EngineMock:
		logger.Warn().Msg("using mock speech engine")
		return &mock.Engine{}, nil
	case config.EngineVolcengine:
		v := cfg.Speech.Volcengine
		volc, err := speech.NewVolcengineEngine(speech.VolcengineConfig{
			URL:         v.URL,
			AppID:       v.AppID,
			AccessToken: v.AccessToken,
			ResourceID:  v.ResourceID,
			Format:      v.Format,
			Language:    v.Language,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid volcengine configuration")
		}
		logger.Info().Str("resource", v.ResourceID).Msg("using volcengine speech engine")
		return volc, nil
	}

	if !cfg.Whisper.Enabled() {
		logger.Warn().Msg("WHISPER_SERVER_URL not set, transcription disabled")
		return nil, nil
	}
	whisper, err := speech.NewWhisperEngine(cfg.Whisper.ServerURL, logger,
		speech.WithWhisperModel(cfg.Whisper.ModelSize),
		speech.WithWhisperLanguage(cfg.Whisper.Language),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid whisper configuration")
	}
	// Loads in the background; until then sessions get model_unavailable.
	return whisper, whisper
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, manager *session.Manager, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Hijacked WebSocket connections are not tracked by Shutdown.
	srv.RegisterOnShutdown(manager.Shutdown)

	logger.Info().Str("addr", serverCfg.Addr).Str("version", version).Msg("MedAI backend listening")
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
