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

	"github.com/joho/godotenv"

	"github.com/tabletop-sync/lifesync/internal/api"
	"github.com/tabletop-sync/lifesync/internal/config"
	"github.com/tabletop-sync/lifesync/internal/service"
	"github.com/tabletop-sync/lifesync/internal/storage"
	"github.com/tabletop-sync/lifesync/internal/storage/cassandra"
	"github.com/tabletop-sync/lifesync/internal/storage/sqlite"
	"github.com/tabletop-sync/lifesync/internal/telemetry"
	"github.com/tabletop-sync/lifesync/pkg/logger"
)

func main() {
	log := logger.New()
	if err := run(log); err != nil {
		log.Error("Server failed", logger.Err(err))
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	// A missing .env is fine; the environment alone is enough.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.SetDebug(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, "lifesync-server")
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("Telemetry shutdown failed", logger.Err(err))
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var archive storage.Archiver = storage.NewMemoryArchive()
	if cfg.Cassandra.Enabled {
		client, err := cassandra.NewClient(cfg.Cassandra, log)
		if err != nil {
			return fmt.Errorf("connect archive: %w", err)
		}
		defer client.Close()
		archive = cassandra.NewRepository(client, log, cfg.Cassandra.Timeout)
		log.Info("Archiving ended sessions to Cassandra", logger.F("keyspace", cfg.Cassandra.Keyspace))
	} else {
		log.Info("Archiving ended sessions in memory")
	}

	sessions := service.NewSessionService(store, log, service.WithArchiver(archive))
	handler := api.NewHandler(sessions, log, api.WithAllowedOrigins(cfg.AllowedOrigins))
	router := api.NewRouter(handler, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting", logger.F("addr", cfg.Address()), logger.F("store", cfg.StoreBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("Server exited")
	return nil
}

// openStore builds the session store selected by STORE_BACKEND.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (storage.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		store, err := storage.NewRedisStore(ctx, storage.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.SessionTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info("Connected to Redis", logger.F("addr", cfg.Redis.Addr))
		return store, func() { _ = store.Close() }, nil
	case config.BackendSQLite:
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info("Opened SQLite store", logger.F("path", cfg.SQLite.Path))
		return store, func() { _ = store.Close() }, nil
	default:
		log.Info("Using in-memory store")
		return storage.NewMemoryStorage(), func() {}, nil
	}
}
