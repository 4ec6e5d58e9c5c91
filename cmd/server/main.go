package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
)

func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	logger.Info("starting roomchat server")

	verifier, err := auth.NewJWTVerifier(cfg.SecretKey, cfg.Algorithm)
	if err != nil {
		logger.Error("invalid credential configuration", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := store.Open(cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Error("failed to open database", slog.String("dsn", cfg.DatabaseDSN), slog.Any("error", err))
		os.Exit(1)
	}

	srv := server.New(cfg, server.Deps{
		Verifier:  verifier,
		Directory: db,
		Messages:  db,
		Sessions:  db,
		Logger:    logger,
	})
	httpServer := server.CreateServer(cfg.Port, srv.SetupRoutes())

	go func() {
		if err := server.StartServer(httpServer, logger); err != nil {
			logger.Error("HTTP server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"chat-server": func(ctx context.Context) error {
				if err := srv.Shutdown(ctx, httpServer); err != nil {
					return err
				}
				return db.Close()
			},
		},
	)

	exitCode := <-wait
	logger.Info("server exited", slog.Int("code", exitCode))
	os.Exit(exitCode)
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
