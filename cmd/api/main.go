// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bunlongheng/cube-ai-be/internal/config"
	"github.com/bunlongheng/cube-ai-be/internal/cube"
	"github.com/bunlongheng/cube-ai-be/internal/handler"
	natsclient "github.com/bunlongheng/cube-ai-be/internal/nats"
	"github.com/bunlongheng/cube-ai-be/internal/service"
	"github.com/bunlongheng/cube-ai-be/pkg/logger"
	"github.com/bunlongheng/cube-ai-be/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.NewWithFile(cfg.LogLevel, logger.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting API server",
		zap.String("session_base", cfg.Cube.SessionBase),
		zap.String("chat_url", cfg.Cube.ChatURL),
		zap.String("api_key", logger.Redact(cfg.Cube.APIKey)),
		zap.Bool("deep_search", cfg.DeepSearch))

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "cube-ai-be", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = tracing.Shutdown(ctx, tp) }()
		}
	}

	// The exchange journal is optional.
	var (
		natsClient *natsclient.Client
		journal    service.Journal
	)
	if cfg.NATSURL != "" {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		j := natsclient.NewJournal(natsClient)
		if err := j.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		journal = j
	}

	// Cube clients share one HTTP client; per-call deadlines come from cube.Config.
	httpClient := &http.Client{}
	broker := cube.NewBroker(cfg.Cube, httpClient, log)
	gateway := cube.NewGateway(cfg.Cube, httpClient, log)
	rest := cube.NewRESTClient(cfg.Cube, httpClient, log)

	chatSvc := service.NewChatService(broker, gateway, journal, log, service.Options{
		DeepSearch:        cfg.DeepSearch,
		DefaultExternalID: cfg.DefaultExternalID,
	})

	router := handler.NewRouter(handler.RouterConfig{
		Chat:               handler.NewChatHandler(chatSvc, log),
		Load:               handler.NewLoadHandler(rest, log),
		Health:             handler.NewHealthHandler(natsClient),
		Logger:             log,
		AuthJWTSecret:      cfg.AuthJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRequests:  cfg.RateLimitRequests,
		RateLimitWindow:    cfg.RateLimitWindow,
		StaticDir:          cfg.StaticDir,
	})

	// WriteTimeout stays 0 by default so streamed replies are not cut off.
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
