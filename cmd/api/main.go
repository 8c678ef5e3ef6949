// Package main is the entrypoint for the entitlements API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/talentgrid/entitlements/internal/auth"
	"github.com/talentgrid/entitlements/internal/cache"
	"github.com/talentgrid/entitlements/internal/config"
	"github.com/talentgrid/entitlements/internal/expiry"
	"github.com/talentgrid/entitlements/internal/handler"
	"github.com/talentgrid/entitlements/internal/ledger"
	"github.com/talentgrid/entitlements/internal/metrics"
	"github.com/talentgrid/entitlements/internal/middleware"
	"github.com/talentgrid/entitlements/internal/notification"
	"github.com/talentgrid/entitlements/internal/push"
	"github.com/talentgrid/entitlements/internal/repository"
	"github.com/talentgrid/entitlements/internal/repository/memory"
	"github.com/talentgrid/entitlements/internal/server"
)

// store is what the ledger and the notification counter persist to.
type store interface {
	ledger.Store
	notification.Store
	handler.HealthChecker
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Initialize storage
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Initialize cache (optional unless the redis bus needs it)
	var cacheClient *cache.Cache
	if cfg.RedisURL != "" {
		cacheClient, err = cache.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			return errors.New("redis unavailable")
		}
		defer cacheClient.Close()
		logger.Info("connected to Redis")
	}

	// Metrics
	recorder, metricsHandler := newMetrics(cfg)

	// Push fan-out
	bus, err := openBus(cfg, cacheClient, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	gateway := push.NewGateway(bus, push.NewHub(recorder, logger), push.Options{
		SendBuffer:   cfg.PushSendBuffer,
		WriteTimeout: cfg.PushWriteTimeout,
		PingInterval: cfg.PushPingInterval,
		CheckOrigin:  middleware.OriginChecker(cfg.GetCORSAllowedOrigins()),
	}, recorder, logger)

	// Domain services
	credits := ledger.New(st, gateway, recorder, logger, cfg.PlanDefaultDuration)
	counter := notification.NewCounter(st, gateway, recorder, logger)
	sweeper := expiry.NewSweeper(credits, cfg.ExpirySweepInterval, cfg.ExpiryBatchSize, logger, recorder)

	keys, err := auth.NewKeySet(cfg.ServiceKeyHashes)
	if err != nil {
		return fmt.Errorf("invalid SERVICE_KEY_HASHES: %w", err)
	}
	if !keys.Enabled() {
		logger.Warn("service key check disabled, collaborator endpoints are open")
	}

	checks := []handler.DependencyCheck{{Name: "store", Checker: st}}
	limitCfg := middleware.RateLimitConfig{
		Logger:    logger,
		Enabled:   cfg.RateLimitConnectEnabled,
		PerMinute: cfg.RateLimitConnectPerMinute,
		Burst:     cfg.RateLimitConnectBurst,
	}
	if cacheClient != nil {
		checks = append(checks, handler.DependencyCheck{Name: "redis", Checker: cacheClient})
		limitCfg.Limiter = cacheClient
	}
	if pinger, ok := bus.(handler.HealthChecker); ok {
		checks = append(checks, handler.DependencyCheck{Name: "push_bus", Checker: pinger})
	}

	r := handler.NewRouter(handler.RouterConfig{
		Logger:             logger,
		Credits:            handler.NewCreditHandler(credits, logger),
		Notifications:      handler.NewNotificationHandler(counter, logger),
		Push:               handler.NewPushHandler(gateway, logger),
		Health:             handler.NewHealthHandler(checks...),
		Metrics:            metricsHandler,
		ServiceKeys:        keys,
		ConnectLimit:       limitCfg,
		CORSAllowedOrigins: cfg.GetCORSAllowedOrigins(),
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		IsDevelopment:      cfg.IsDevelopment(),
	})

	// Create server
	srv := server.New(
		r,
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)
	// Hijacked websocket connections outlive http.Server.Shutdown.
	srv.OnShutdown("push gateway", gateway.Shutdown)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"store", cfg.StoreDriver,
		"push_bus", cfg.PushBus,
		"metrics", cfg.MetricsBackend,
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return gateway.Run(ctx)
	})
	group.Go(func() error {
		return sweeper.Run(ctx)
	})
	group.Go(func() error {
		return srv.Run(ctx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openStore connects the configured store and returns its close func.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using the in-memory store, state is lost on restart")
		return memory.New(), func() {}, nil
	}

	repo, err := repository.New(ctx, cfg.DatabaseURL, repository.PoolOptions{
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: cfg.DBMaxConnLifetime,
		MaxConnIdleTime: cfg.DBMaxConnIdleTime,
	})
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		return nil, nil, errors.New("database unavailable")
	}
	logger.Info("connected to database")

	if err := repo.Migrate(ctx); err != nil {
		repo.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return repo, repo.Close, nil
}

// openBus selects the cross-instance fan-out for push events.
func openBus(cfg *config.Config, cacheClient *cache.Cache, logger *slog.Logger) (push.Bus, error) {
	switch cfg.PushBus {
	case config.PushBusRedis:
		return push.NewRedisBus(cacheClient.Client(), cfg.PushChannel, logger), nil
	case config.PushBusNATS:
		bus, err := push.NewNATSBus(cfg.NATSURL, cfg.PushChannel, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", redactURL(cfg.NATSURL), err)
		}
		return bus, nil
	default:
		return push.NewLocalBus(), nil
	}
}

func newMetrics(cfg *config.Config) (metrics.Recorder, http.Handler) {
	if cfg.MetricsBackend == config.MetricsMemory {
		recorder := metrics.NewInMemory()
		return recorder, http.HandlerFunc(handler.NewMetricsHandler(recorder).Metrics)
	}
	recorder := metrics.NewPrometheus()
	return recorder, recorder.Handler()
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With("service", "entitlements")
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
