package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pdords-ai/beacon/internal/identity"
	"github.com/pdords-ai/beacon/internal/server"
	"github.com/pdords-ai/beacon/pkg/config"
	"github.com/pdords-ai/beacon/pkg/logging"
)

func main() {
	logger := logging.New(logging.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger = logging.New(logging.Parse(cfg.Log.Level))
	slog.SetDefault(logger)

	directory := identity.NewHTTPDirectory(logger, cfg.Server.Auth.DirectoryURL)
	verifier := identity.NewTokenVerifier(logger, cfg.Server.Auth.JWTSecret, directory, cfg.Server.Auth.VerifyTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := server.NewApp(logger, ctx, cfg, verifier)
	if err := app.Run(); err != nil {
		logger.Error("application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("application shut down successfully.")
}
