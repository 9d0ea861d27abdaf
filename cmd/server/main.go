package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eduvox/viva-gateway/internal/backend"
	"github.com/eduvox/viva-gateway/internal/config"
	"github.com/eduvox/viva-gateway/internal/handler"
	"github.com/eduvox/viva-gateway/internal/logger"
	"github.com/eduvox/viva-gateway/internal/router"
	"github.com/eduvox/viva-gateway/internal/session"
	"github.com/eduvox/viva-gateway/internal/validator"
	"github.com/rs/zerolog"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("backend", cfg.BackendBaseURL).
		Msg("Starting Viva Gateway")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	// ─── Backend Client & Session Registry ─────────────────────────────
	client := backend.NewClient(cfg, log)
	registry := session.NewRegistry(cfg, client, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Viva: handler.NewVivaHandler(registry, client, log),
		WS:   handler.NewWSHandler(registry, log, cfg.AllowedOrigins),
	}

	// ─── Start Session Reaper ─────────────────────────────────────────
	reaperCtx, reaperCancel := context.WithCancel(context.Background())
	go registry.Reap(reaperCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the reaper and give in-flight cleanup calls a moment.
	reaperCancel()
	time.Sleep(time.Second)

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
