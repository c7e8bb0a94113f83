package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"gopkg.in/natefinch/lumberjack.v2"

	"feed_relay/internal/config"
	"feed_relay/internal/control"
	"feed_relay/internal/domain"
	"feed_relay/internal/publisher"
	"feed_relay/internal/scheduler"
	"feed_relay/internal/service"
	"feed_relay/internal/source/rss"
	"feed_relay/internal/storage/file"
	"feed_relay/internal/storage/postgres"
	"feed_relay/internal/storage/redis"
)

// dedupStore is what the relay needs from any dedup backend.
type dedupStore interface {
	service.DedupStore
	Retain(ctx context.Context, keep []string) (int, error)
}

type stateStore interface {
	service.StateStore
	All(ctx context.Context) (map[string]domain.FeedState, error)
	Retain(ctx context.Context, keep []string) (int, error)
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger, _ := setupLogger("info", config.LogConfig{})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, closeLog := setupLogger(cfg.LogLevel, cfg.Log)

	if err := run(cfg, logger); err != nil {
		logger.Error("relay stopped with error", "error", err)
		closeLog()
		os.Exit(1)
	}
	closeLog()
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	var (
		db *sqlx.DB
		tm *postgres.TransactionManager
	)
	if cfg.UsesPostgres() {
		var err error
		db, err = sqlx.Connect("postgres", cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		tm = postgres.NewTransactionManager(db)
		logger.Info("connected to database")
	}

	feeds := file.NewFeedStore(
		cfg.FeedsFile,
		cfg.Sync.DefaultPollInterval,
		cfg.Sync.MinPollInterval,
		logger,
	)

	dedup, closeDedup, err := openDedupStore(ctx, cfg, db, tm, feeds, logger)
	if err != nil {
		return err
	}
	defer closeDedup()

	state, err := openStateStore(cfg, db, tm, logger)
	if err != nil {
		return err
	}

	// Left as an untyped nil when disabled so the checker skips publishing.
	var events service.EventPublisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		defer rabbitMQ.Close()
		events = rabbitMQ
	}

	source := rss.New(rss.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTP.FetchTimeout,
	}, logger)

	webhook := publisher.NewWebhook(publisher.WebhookConfig{
		Timeout:   cfg.HTTP.WebhookTimeout,
		UserAgent: cfg.HTTP.UserAgent,
	}, logger)

	checker := service.NewChecker(source, dedup, state, webhook, events, logger)

	sched := scheduler.NewScheduler(feeds, state, dedup, checker, scheduler.Config{
		TickInterval: cfg.Sync.TickInterval,
		FeedPause:    cfg.Sync.FeedPause,
		CheckTimeout: cfg.Sync.CheckTimeout,
		PruneOrphans: cfg.Sync.Prune(),
	}, logger)

	serverErr := make(chan error, 1)
	if cfg.Control.Enabled {
		if cfg.LogLevel != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		server := control.NewServer(feeds, state, checker, control.Config{
			Addr:           cfg.Control.Addr,
			AllowedOrigins: cfg.Control.AllowedOrigins,
			CheckTimeout:   cfg.Sync.CheckTimeout,
		}, logger)
		go func() {
			serverErr <- server.Run(ctx)
		}()
	}

	logger.Info("starting feed relay",
		"feeds_file", cfg.FeedsFile,
		"dedup_store", cfg.Storage.Dedup,
		"state_store", cfg.Storage.State,
		"tick_interval", cfg.Sync.TickInterval,
		"control", cfg.Control.Enabled,
	)

	err = sched.Run(ctx)
	cancel()

	if cfg.Control.Enabled {
		if serr := <-serverErr; serr != nil {
			logger.Error("control server error", "error", serr)
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("scheduler: %w", err)
	}
	logger.Info("feed relay stopped")
	return nil
}

func openDedupStore(
	ctx context.Context,
	cfg *config.Config,
	db *sqlx.DB,
	tm *postgres.TransactionManager,
	feeds *file.FeedStore,
	logger *slog.Logger,
) (dedupStore, func(), error) {
	switch cfg.Storage.Dedup {
	case config.DriverPostgres:
		return postgres.NewDedupStore(db, tm, cfg.Storage.MaxIDs), func() {}, nil

	case config.DriverRedis:
		client, err := redis.NewClient(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
		store := redis.NewDedupStore(client, cfg.Redis.KeyPrefix, cfg.Storage.MaxIDs)
		return store, func() { client.Close() }, nil

	default:
		store, err := file.NewDedupStore(
			filepath.Join(cfg.Storage.DataDir, cfg.Storage.DedupFile),
			cfg.Storage.MaxIDs,
			cfg.Storage.LockTimeout,
			logger,
		)
		if err != nil {
			return nil, nil, err
		}
		if err := migrateLegacyDedup(ctx, store, feeds, logger); err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

// migrateLegacyDedup converts the old global sent list before the first
// tick so existing destinations are not flooded.
func migrateLegacyDedup(ctx context.Context, store *file.DedupStore, feeds *file.FeedStore, logger *slog.Logger) error {
	configured, err := feeds.List(ctx)
	if err != nil {
		logger.Warn("feeds unreadable, legacy dedup migration skipped", "error", err)
		return nil
	}

	var destinations []string
	for _, f := range configured {
		for _, d := range f.Targets() {
			destinations = append(destinations, d.URL)
		}
	}

	if _, err := store.MigrateLegacy(ctx, destinations); err != nil {
		return err
	}
	return nil
}

func openStateStore(
	cfg *config.Config,
	db *sqlx.DB,
	tm *postgres.TransactionManager,
	logger *slog.Logger,
) (stateStore, error) {
	if cfg.Storage.State == config.DriverPostgres {
		return postgres.NewStateStore(db, tm), nil
	}
	return file.NewStateStore(
		filepath.Join(cfg.Storage.DataDir, cfg.Storage.StateFile),
		cfg.Storage.LockTimeout,
		logger,
	)
}

func setupLogger(level string, logCfg config.LogConfig) (*slog.Logger, func()) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if logCfg.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   logCfg.File,
			MaxSize:    logCfg.MaxSizeMB,
			MaxBackups: logCfg.MaxBackups,
			MaxAge:     logCfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, fileWriter)
		closeFn = func() { _ = fileWriter.Close() }
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(out, opts)
	return slog.New(handler), closeFn
}
