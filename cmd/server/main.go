package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"log/slog"
	app "realtime-chat/internal/app"
	httpx "realtime-chat/internal/http"
	store "realtime-chat/internal/store"
	ws "realtime-chat/internal/ws"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg := app.LoadConfig()
	logger := app.NewLogger(cfg.Env)

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, cfg, logger); err != nil {
		logger.Error("server.fatal", "err", err)
		os.Exit(1)
	}
}

// run holds the deferred cleanup so it fires on startup errors too.
func run(ctx context.Context, cancel context.CancelFunc, cfg app.Config, logger *slog.Logger) error {
	// Postgres connection + migrations
	pg, err := store.NewPostgres(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	defer pg.Close()
	if err := store.RunMigrations(ctx, pg, logger); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Redis broker for cross-instance fan-out
	broker, err := ws.NewRedisBroker(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer broker.Close()

	// Relay: registry + room router over the broker
	registry := ws.NewRegistry(logger)
	rooms := ws.NewRouter(logger, broker, registry)
	registry.BindRouter(rooms)
	relay := ws.NewRelay(logger, registry, rooms)

	// HTTP + WS router
	router := httpx.NewRouter(cfg, logger, relay, broker, pg)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("server.listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server.crash", "err", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("server.shutdown.start")

	// shutdown
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)

	logger.Info("server.shutdown.complete")
	return nil
}
