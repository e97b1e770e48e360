package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/assetledger/internal/config"
	"github.com/congo-pay/assetledger/internal/events"
	"github.com/congo-pay/assetledger/internal/infra"
	"github.com/congo-pay/assetledger/internal/ledger"
	"github.com/congo-pay/assetledger/internal/logging"
	"github.com/congo-pay/assetledger/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("ledger store ready", "driver", cfg.StoreDriver)

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	publishers := events.Multi{events.NewLoggerPublisher(logger)}
	if cache != nil {
		publishers = append(publishers, events.NewRedisPublisher(cache, cfg.EventStream))
	}
	if cfg.AMQPURL != "" {
		broker, err := infra.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			return fmt.Errorf("connect amqp: %w", err)
		}
		defer func() {
			if err := broker.Close(); err != nil {
				logger.Warn("close amqp", "error", err)
			}
		}()
		pub, err := events.NewAMQPPublisher(broker.Channel, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		publishers = append(publishers, pub)
	}

	srv, err := server.New(cfg, store, publishers, cache, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openStore builds the ledger store selected by STORE_DRIVER and returns a
// func releasing it.
func openStore(ctx context.Context, cfg config.Config) (ledger.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := ledger.NewPostgresStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil
	case config.DriverLevelDB:
		db, err := infra.NewLevelDB(cfg.LevelDBPath)
		if err != nil {
			return nil, nil, err
		}
		store := ledger.NewLevelDBStore(db)
		return store, func() { store.Close() }, nil
	default:
		store := ledger.NewInMemory()
		return store, func() { store.Close() }, nil
	}
}
