package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/existflow/irondesk/internal/logger"
	"github.com/existflow/irondesk/server"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logCfg := logger.DefaultConfig()
	logCfg.Console = true
	logCfg.FilePath = os.Getenv("IRONDESK_SERVER_LOG")
	if lvl := os.Getenv("IRONDESK_LOG_LEVEL"); lvl != "" {
		logCfg.Level = logger.ParseLevel(lvl)
	}
	if err := logger.Init(logCfg); err != nil {
		os.Stderr.WriteString("failed to init logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		logger.Error("Failed to open store", logger.F("error", err.Error()))
		os.Exit(1)
	}

	srv := server.New(store, server.Options{APIToken: os.Getenv("IRONDESK_API_TOKEN")})
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Error("Error closing server", logger.F("error", err.Error()))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("irondesk server starting", logger.F("port", port))
		errCh <- srv.Start(":" + port)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", logger.F("error", err.Error()))
		}
		return
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", logger.F("error", err.Error()))
	}
}

// openStore uses Postgres when dbURL is set and an in-memory store otherwise
func openStore(ctx context.Context, dbURL string) (server.Store, error) {
	if dbURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return server.NewMemoryStore(), nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return server.OpenPostgres(connectCtx, dbURL)
}
