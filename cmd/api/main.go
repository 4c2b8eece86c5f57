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
	"golang.org/x/oauth2/google"

	"server/internal/gate"
	"server/internal/http/handlers"
	"server/internal/http/httpapi"
	"server/internal/httpx"
	"server/internal/infra"
	"server/internal/providers/prompt"
	"server/internal/providers/veo"
	"server/internal/video"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		bootLogger := infra.NewLogger("production")
		bootLogger.Fatal().Err(err).Msg("config: load failed")
	}
	logger := infra.NewLogger(cfg.AppEnv)

	// One gate per process: every generation call in flight holds a slot, and
	// upstream 429s arm its shared cooldown through the client hook below.
	slots := gate.New(cfg.MaxSlots)

	veoHTTP := httpx.NewClient(httpx.Options{
		Logger:      logger,
		OnRateLimit: slots.ArmCooldown,
	})

	var caller veo.Caller
	switch cfg.Provider {
	case infra.ProviderVertex:
		tokens, err := google.DefaultTokenSource(context.Background(), "https://www.googleapis.com/auth/cloud-platform")
		if err != nil {
			logger.Fatal().Err(err).Msg("vertex: cloud credentials unavailable")
		}
		caller = veo.NewVertexClient(cfg.VertexProject, cfg.VertexLocation, cfg.VertexOutputGCS,
			tokens, veoHTTP, logger, []string{cfg.VeoModel, cfg.VeoFastModel})
	default:
		caller = veo.NewGeminiClient(cfg.GeminiBaseURL, cfg.GeminiAPIKey, veoHTTP, logger)
	}

	// Scene analysis rides the Gemini API only; in vertex mode the compiler
	// falls back to its static template.
	var vision *prompt.VisionClient
	if cfg.Provider == infra.ProviderGemini {
		visionHTTP := httpx.NewClient(httpx.Options{Logger: logger})
		vision = prompt.NewVisionClient(cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.VisionModel, visionHTTP)
	}

	orch := video.NewOrchestrator(video.Options{
		Gate:         slots,
		Caller:       caller,
		Poller:       veo.NewPoller(cfg.PollInterval, cfg.MaxPolls, logger),
		Compiler:     prompt.NewCompiler(vision, prompt.DefaultPolicy(), cfg.ClipSeconds, logger),
		Model:        cfg.VeoModel,
		FastModel:    cfg.VeoFastModel,
		AttachMode:   veo.ParseAttachMode(cfg.ImageMode),
		RequireImage: cfg.RequireImage,
		Logger:       logger,
	})

	app := handlers.NewApp(cfg, logger, orch, caller)
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(cfg, logger, app))

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("provider", cfg.Provider).
			Str("model", cfg.VeoModel).
			Int("max_concurrent", cfg.MaxSlots).
			Msg("server: listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server: listener failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("server: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server: shutdown failed")
	}
	logger.Info().Msg("server: stopped")
}
