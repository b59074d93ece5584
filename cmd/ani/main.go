package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/RipMyLoven/ani/internal/server"
	"github.com/RipMyLoven/ani/internal/store/sqlite"
	"github.com/RipMyLoven/ani/pkg/config"
	"github.com/RipMyLoven/ani/pkg/logging"
)

func main() {
	logger := logging.New(logging.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger = logging.New(logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	st, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		logger.Error("Failed to open store", slog.String("path", cfg.Store.Path), slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := server.NewApp(logger, ctx, cfg, st)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
