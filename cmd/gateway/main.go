package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirogateway/gateway/internal/domain/entity"
	"github.com/kirogateway/gateway/internal/infrastructure/auth"
	"github.com/kirogateway/gateway/internal/infrastructure/config"
	"github.com/kirogateway/gateway/internal/infrastructure/convert"
	"github.com/kirogateway/gateway/internal/infrastructure/eventstream"
	"github.com/kirogateway/gateway/internal/infrastructure/logger"
	"github.com/kirogateway/gateway/internal/infrastructure/models"
	"github.com/kirogateway/gateway/internal/infrastructure/synth"
	"github.com/kirogateway/gateway/internal/infrastructure/upstream"
	httpiface "github.com/kirogateway/gateway/internal/interfaces/http"
	"github.com/kirogateway/gateway/internal/interfaces/http/handlers"
	"github.com/kirogateway/gateway/internal/domain/service"
	"go.uber.org/zap"
)

const appName = "kiro-openai-gateway"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			fmt.Printf("%s\n", appName)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting gateway", zap.String("name", appName), zap.String("region", cfg.Region))

	authMgr, err := auth.New(
		entity.Credentials{RefreshToken: cfg.RefreshToken, ProfileARN: cfg.ProfileARN, Region: cfg.Region},
		cfg.Region,
		cfg.RefreshThreshold,
		log,
		auth.WithCredentialsFile(cfg.CredsFile),
	)
	if err != nil {
		log.Fatal("failed to initialize auth manager", zap.Error(err))
	}

	upstreamClient := upstream.New(authMgr, cfg.Region, cfg.MaxRetries, log)
	catalog := models.New(authMgr, upstreamClient, cfg.ModelCacheTTL, log)
	converter := convert.New(log)
	synthesizer := synth.New(log)

	newParser := func(body io.ReadCloser, parserLogger *zap.Logger) service.EventParser {
		return eventstream.New(body, parserLogger)
	}

	chatHandler := handlers.NewChatHandler(authMgr, catalog, converter, upstreamClient, synthesizer, newParser, cfg.ProfileARN, log)
	modelsHandler := handlers.NewModelsHandler(catalog, log)
	healthHandler := handlers.NewHealthHandler()

	mode := "debug"
	if cfg.LogFormat == "json" {
		mode = "release"
	}
	server := httpiface.NewServer(
		httpiface.Config{Host: cfg.Host, Port: cfg.Port, Mode: mode},
		cfg.ProxyAPIKey,
		chatHandler,
		modelsHandler,
		healthHandler,
		log,
	)

	if err := server.Start(); err != nil {
		log.Fatal("failed to start HTTP server", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}
	log.Info("gateway stopped")
}

func printUsage() {
	fmt.Printf(`%s

Usage:
  gateway           start the OpenAI-compatible gateway server
  gateway version   show version
  gateway help      show this help

Configuration is read from the environment. Recognized variables:
PROXY_API_KEY, REFRESH_TOKEN, KIRO_REGION, KIRO_CREDS_FILE,
PROFILE_ARN, TOKEN_REFRESH_THRESHOLD, MAX_RETRIES, MODEL_CACHE_TTL,
HOST, PORT, LOG_LEVEL, LOG_FORMAT, and KIRO_CONFIG_FILE (an optional
YAML file read underneath the environment).
`, appName)
}
