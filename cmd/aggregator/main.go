package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/tronwatch/delegation-aggregator/aggregator"
	"github.com/tronwatch/delegation-aggregator/aggregator/config"
	aggstore "github.com/tronwatch/delegation-aggregator/aggregator/store/pgxstore"
	"github.com/tronwatch/delegation-aggregator/broadcast"
	"github.com/tronwatch/delegation-aggregator/pkg/logger"
	"github.com/tronwatch/delegation-aggregator/pkg/pgxdb"
	"github.com/tronwatch/delegation-aggregator/pools"
	poolstore "github.com/tronwatch/delegation-aggregator/pools/store/pgxstore"
)

func main() {
	// Load configuration
	cfg := config.New()

	// Initialize logger and set as default
	log := logger.NewFromConfig(logger.Config{
		LogLevel:         cfg.LogLevel,
		LogHumanFriendly: cfg.LogHumanFriendly,
	})
	slog.SetDefault(log)

	// Prepare context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database connection
	db, err := pgxdb.NewConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		log.ErrorContext(ctx, "Failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Apply migrations
	log.InfoContext(ctx, "Applying database migrations")
	if err := pgxdb.ApplyMigrations(db, cfg.MigrationsDir); err != nil {
		log.ErrorContext(ctx, "Failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize stores; the pool is closed once via the deferred db.Close above
	engineStore, _ := aggstore.New(db)
	poolStore, _ := poolstore.New(db)

	// Redis publisher for completed windows and pool snapshots
	publisher, publisherCloser, err := broadcast.NewRedisPublisher(ctx, broadcast.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to connect to Redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer publisherCloser()

	// Create the windowed aggregation service
	opts := []aggregator.Option{
		aggregator.WithMaxTranches(cfg.MaxTranches),
		aggregator.WithTopic(cfg.WindowTopic),
	}
	if cfg.HasInitialCursorBlock() {
		opts = append(opts, aggregator.WithInitialCursorBlock(cfg.InitialCursorBlock))
	}
	service := aggregator.NewService(engineStore, engineStore, engineStore, engineStore, publisher, opts...)

	// Subscribe to engine events for logging
	subCloser := setupEventLogging(ctx, service.Events(), log)
	defer subCloser()
	defer service.Close()

	// Create the live pool aggregator
	poolAggregator := pools.NewAggregator(
		poolStore,
		poolStore,
		poolStore,
		pools.WithLookback(cfg.PoolLookback),
		pools.WithLimit(cfg.PoolLimit),
	)

	// Schedule both jobs. SkipIfStillRunning provides the single-flight
	// guarantee the engine requires from its trigger: overlapping firings
	// are skipped, never queued.
	scheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger{ctx: ctx, log: log}),
	))

	_, err = scheduler.AddFunc(cfg.WindowSchedule, func() {
		if err := service.Run(ctx); err != nil {
			log.ErrorContext(ctx, "Windowed aggregation invocation failed", slog.Any("error", err))
		}
	})
	if err != nil {
		log.ErrorContext(ctx, "Invalid window schedule", slog.String("schedule", cfg.WindowSchedule), slog.Any("error", err))
		os.Exit(1)
	}

	_, err = scheduler.AddFunc(cfg.PoolSchedule, func() {
		snapshot, err := poolAggregator.Aggregate(ctx)
		if err != nil {
			log.ErrorContext(ctx, "Pool aggregation failed", slog.Any("error", err))
			return
		}
		if err := publisher.Publish(ctx, cfg.PoolTopic, "pools.snapshot", snapshot); err != nil {
			log.WarnContext(ctx, "Pool snapshot publish failed", slog.Any("error", err))
		}
	})
	if err != nil {
		log.ErrorContext(ctx, "Invalid pool schedule", slog.String("schedule", cfg.PoolSchedule), slog.Any("error", err))
		os.Exit(1)
	}

	log.InfoContext(ctx, "Starting delegation aggregation engine",
		slog.String("windowSchedule", cfg.WindowSchedule),
		slog.String("poolSchedule", cfg.PoolSchedule),
		slog.Int("maxTranches", cfg.MaxTranches),
	)
	scheduler.Start()

	// Wait for shutdown; let an in-flight invocation finish
	<-ctx.Done()
	<-scheduler.Stop().Done()
	log.Info("Aggregation engine stopped gracefully")
}

// setupEventLogging maps engine events to the log levels they warrant:
// deferrals are expected under normal sync lag, empty complete windows are a
// data-quality warning, broadcast failures are never fatal.
func setupEventLogging(ctx context.Context, events <-chan aggregator.Event, log *slog.Logger) func() {
	return aggregator.NewSubscriber(events,
		aggregator.OnBootstrapDeferred(func(aggregator.BootstrapDeferred) {
			log.InfoContext(ctx, "Bootstrap deferred, transaction log is still empty")
		}),
		aggregator.OnBootstrapCompleted(func(event aggregator.BootstrapCompleted) {
			log.InfoContext(ctx, "Cursor bootstrapped",
				slog.Int64("seededBlock", event.SeededBlock),
			)
		}),
		aggregator.OnConfigMissing(func(aggregator.ConfigMissing) {
			log.InfoContext(ctx, "Aggregation deferred, window size not provisioned yet")
		}),
		aggregator.OnWindowDeferred(func(event aggregator.WindowDeferred) {
			log.InfoContext(ctx, "Window deferred, log has not indexed past it",
				slog.Int64("startBlock", event.Window.StartBlock),
				slog.Int64("endBlock", event.Window.EndBlock),
				slog.Int64("highestIndexed", event.HighestBlock),
			)
		}),
		aggregator.OnEmptyWindow(func(event aggregator.EmptyWindow) {
			log.WarnContext(ctx, "Complete window contains no transactions, writing zero record",
				slog.Int64("startBlock", event.Window.StartBlock),
				slog.Int64("endBlock", event.Window.EndBlock),
			)
		}),
		aggregator.OnWindowAggregated(func(event aggregator.WindowAggregated) {
			log.InfoContext(ctx, "Window aggregated",
				slog.Int64("startBlock", event.Window.StartBlock),
				slog.Int64("endBlock", event.Window.EndBlock),
				slog.Int("transactions", event.Transactions),
				slog.Int64("netEnergySun", event.Counters.NetEnergySun()),
				slog.Int64("netBandwidthSun", event.Counters.NetBandwidthSun()),
			)
		}),
		aggregator.OnBroadcastFailed(func(event aggregator.BroadcastFailed) {
			log.ErrorContext(ctx, "Window broadcast failed",
				slog.Int64("startBlock", event.Window.StartBlock),
				slog.Int64("endBlock", event.Window.EndBlock),
				slog.Any("error", event.Err),
			)
		}),
		aggregator.OnInvocationDone(func(event aggregator.InvocationDone) {
			if event.Windows > 0 {
				log.InfoContext(ctx, "Invocation completed",
					slog.Int("windows", event.Windows),
					slog.Duration("duration", event.Duration),
				)
			}
		}),
	)
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	ctx context.Context
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.InfoContext(l.ctx, msg, slog.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.ErrorContext(l.ctx, msg, slog.Any("error", err), slog.Any("details", keysAndValues))
}
