package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"badma/internal/config"
	"badma/internal/coordinator"
	"badma/internal/game"
	"badma/internal/handlers"
	"badma/internal/logging"
	"badma/internal/storage"
	"badma/internal/storage/memory"
)

func main() {
	configPath := flag.String("config", "", "path to config yaml file")
	envFile := flag.String("env-file", ".env", "optional dotenv file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("cannot read %s: %s", *envFile, err)
	}
	cfg := config.MustLoad(*configPath)
	if *debug {
		cfg.Debug = true
	}

	logger, err := logging.New(cfg.Env, cfg.Debug)
	if err != nil {
		log.Fatalf("cannot build logger: %s", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

type backend interface {
	coordinator.Backend
	handlers.StatsSource
}

func openBackend(cfg config.Storage) (backend, func() error, error) {
	if cfg.Driver == "memory" {
		return memory.New(), func() error { return nil }, nil
	}
	db, err := storage.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	store := storage.NewStore(db)
	return store, store.Close, nil
}

func run(cfg *config.Config, logger *zap.Logger) error {
	store, closeStore, err := openBackend(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Storage.Driver, err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close backend", zap.Error(err))
		}
	}()

	hub := game.NewHub(logger.Named("hub"))
	coord := coordinator.New(store,
		coordinator.WithPublisher(hub),
		coordinator.WithLogger(logger.Named("coordinator")))

	h := handlers.NewHandler(coord, hub, logger.Named("http"))
	h.AutoRegister = cfg.AutoRegister
	h.Stats = store
	h.Build = buildInfo()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go hub.Run(ctx, cfg.Hub.CleanupEvery, cfg.Hub.IdleAfter)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      h.Routes(),
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("badma listening",
			zap.String("address", srv.Addr),
			zap.String("storage", cfg.Storage.Driver),
			zap.String("commit", h.Build.Commit))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
