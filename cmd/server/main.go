package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/avdeyev/holst/internal/auth"
	"github.com/avdeyev/holst/internal/bus"
	"github.com/avdeyev/holst/internal/persist"
	"github.com/avdeyev/holst/internal/room"
	"github.com/avdeyev/holst/internal/server"
	"github.com/avdeyev/holst/internal/server/handlers"
	"github.com/avdeyev/holst/internal/session"
	"github.com/avdeyev/holst/internal/storage"
	"github.com/avdeyev/holst/internal/storage/bolt"
	"github.com/avdeyev/holst/internal/storage/postgres"
	"github.com/avdeyev/holst/internal/storage/sqlite"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	addr := flag.String("addr", envOr("HOLST_ADDR", ":8080"), "HTTP listen address")
	backend := flag.String("storage", envOr("HOLST_STORAGE", "sqlite"), "Storage backend: sqlite, bolt or postgres")
	dsn := flag.String("dsn", envOr("HOLST_DSN", "holst.db"), "Database path (sqlite/bolt) or DSN (postgres)")
	redisAddr := flag.String("redis", envOr("HOLST_REDIS", ""), "Redis address for cross-process fan-out (empty = in-process bus)")
	jwtSecret := flag.String("jwt-secret", envOr("HOLST_JWT_SECRET", ""), "HMAC secret of the identity service")
	jwtIssuer := flag.String("jwt-issuer", envOr("HOLST_JWT_ISSUER", "holst"), "Expected JWT issuer")
	logJSON := flag.Bool("log-json", false, "Log in JSON format")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	logger := newLogger(*logJSON)

	if err := run(logger, *addr, *backend, *dsn, *redisAddr, *jwtSecret, *jwtIssuer); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, addr, backend, dsn, redisAddr, jwtSecret, jwtIssuer string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if jwtSecret == "" {
		return fmt.Errorf("jwt secret is required (-jwt-secret or HOLST_JWT_SECRET)")
	}

	// Durable-хранилище: снапшоты и журнал операций.
	store, err := openStorage(ctx, backend, dsn)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()
	logger.Info("storage opened", "backend", backend)

	// Межпроцессная шина: Redis, либо внутрипроцессная для одного инстанса.
	probes := map[string]handlers.Pinger{"storage": store}

	var fanout bus.Bus
	if redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		redisBus, err := bus.NewRedis(ctx, client, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", redisAddr, err)
		}
		fanout = redisBus
		probes["bus"] = redisPinger{client: client}
		logger.Info("fan-out bus connected", "redis", redisAddr)
	} else {
		fanout = bus.NewMemory()
		logger.Info("fan-out bus running in-process")
	}
	defer func() {
		if err := fanout.Close(); err != nil {
			logger.Error("failed to close bus", "error", err)
		}
	}()

	// Публикации переживают недоступность шины через очередь с повторами.
	publisher := bus.NewQueuedPublisher(fanout, bus.DefaultQueueConfig(), logger)
	defer publisher.Stop()

	persistSvc := persist.NewService(store, store, persist.DefaultConfig(), logger)

	origin := uuid.NewString()
	registry := room.NewRegistry(persistSvc, store, fanout, publisher, origin, room.DefaultRegistryConfig(), logger)

	authorizer := auth.NewJWT(auth.JWTConfig{
		Issuer: jwtIssuer,
		Secret: []byte(jwtSecret),
	})

	manager := session.NewManager(registry, authorizer, session.DefaultConfig(), logger)

	health := handlers.NewHealthHandler(logger, Version, probes)
	audit := handlers.NewAuditHandler(logger, store, persistSvc)

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = addr
	srvCfg.Version = Version
	srv := server.New(srvCfg, manager, authorizer, health, audit, logger)

	logger.Info("starting holst sync engine",
		"version", Version,
		"addr", addr,
		"origin", origin,
	)

	err = srv.Run(ctx)

	// Комнаты закрываются с финальным снапшотом: после этой точки
	// все принятые операции долговечны.
	registry.Shutdown()

	return err
}

// openStorage открывает выбранный бэкенд хранения.
func openStorage(ctx context.Context, backend, dsn string) (storage.Store, error) {
	switch backend {
	case "sqlite":
		return sqlite.New(ctx, dsn)
	case "bolt":
		return bolt.New(dsn)
	case "postgres":
		return postgres.New(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// redisPinger адаптирует redis-клиент под health-пробу.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func newLogger(jsonFormat bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// envOr возвращает значение переменной окружения либо значение по умолчанию.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printVersion() {
	fmt.Printf("Holst Sync Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
