package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/echonote/echo-note/internal/api"
	"github.com/echonote/echo-note/internal/asr"
	"github.com/echonote/echo-note/internal/auth"
	"github.com/echonote/echo-note/internal/chat"
	"github.com/echonote/echo-note/internal/config"
	"github.com/echonote/echo-note/internal/ingest"
	"github.com/echonote/echo-note/internal/meetingbot"
	"github.com/echonote/echo-note/internal/observability"
	"github.com/echonote/echo-note/internal/reconcile"
	"github.com/echonote/echo-note/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("db_path", cfg.DBPath).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Echo Note service starting")

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open store")
	}
	defer st.Close()

	// One-time import of the legacy JSON data files, if any are present
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := st.ImportLegacyData(ctx, cfg.DataDir); err != nil {
		logger.Fatal().Err(err).Msg("Legacy data import failed")
	}

	authMgr := auth.NewManager(cfg.JWTSecret, time.Duration(cfg.TokenTTLHours)*time.Hour)
	recognizer := asr.NewClient(cfg)
	botClient := meetingbot.NewClient(cfg)
	chatClient := chat.NewClient(cfg)
	uploader := ingest.NewService(cfg, st, recognizer)
	engine := reconcile.NewEngine(cfg, st, botClient)

	if botClient.Configured() {
		go engine.Run(ctx)
	} else {
		logger.Warn().Msg("Bot service not configured, reconcile loop disabled")
	}

	srv := api.NewServer(cfg, st, authMgr, uploader, botClient, chatClient, engine)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 180 * time.Second, // Uploads wait on recognition
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
