// Package main is the entry point of the gamification engine worker.
//
// The worker applies learning events from the Redis stream, keeps leaderboard
// snapshots warm on a schedule and serves health, readiness and metrics on
// the ops port.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/microlearn/gamification-engine/config"
	"github.com/microlearn/gamification-engine/internal/application/command"
	"github.com/microlearn/gamification-engine/internal/application/eventhandler"
	"github.com/microlearn/gamification-engine/internal/application/query"
	"github.com/microlearn/gamification-engine/internal/domain/content"
	"github.com/microlearn/gamification-engine/internal/domain/gamestate"
	"github.com/microlearn/gamification-engine/internal/domain/leaderboard"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
	"github.com/microlearn/gamification-engine/internal/domain/uow"
	"github.com/microlearn/gamification-engine/internal/infrastructure/external/directory"
	"github.com/microlearn/gamification-engine/internal/infrastructure/messaging"
	"github.com/microlearn/gamification-engine/internal/infrastructure/metrics"
	"github.com/microlearn/gamification-engine/internal/infrastructure/persistence/memory"
	"github.com/microlearn/gamification-engine/internal/infrastructure/persistence/postgres"
	"github.com/microlearn/gamification-engine/internal/infrastructure/persistence/redis"
	"github.com/microlearn/gamification-engine/internal/infrastructure/scheduler"
	"github.com/microlearn/gamification-engine/internal/infrastructure/scheduler/jobs"
	opshttp "github.com/microlearn/gamification-engine/internal/interface/http"
	"github.com/microlearn/gamification-engine/internal/interface/http/handlers"
	"github.com/microlearn/gamification-engine/pkg/circuitbreaker"
	"github.com/microlearn/gamification-engine/pkg/logger"
	"github.com/microlearn/gamification-engine/pkg/retry"
	"github.com/microlearn/gamification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// storage is the backend-specific half of the wiring.
type storage struct {
	unitOfWork uow.UnitOfWork
	catalog    content.Catalog
	ranking    leaderboard.RankingIndex
	health     handlers.HealthCheckFunc
	close      func()
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING AND METRICS
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	defer func() { _ = log.Sync() }()

	log.Info("starting gamification engine worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("store", cfg.Engine.Store),
		logger.String("timezone", cfg.App.Timezone),
	)

	m := metrics.New()
	calendar := timeutil.NewCalendar(cfg.App.Location)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. STORAGE (PostgreSQL or in-memory)
	// ─────────────────────────────────────────────────────────────────────────
	store, err := setupStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.close()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisClient *goredis.Client
		redisCache  *redis.Cache
		snapshots   leaderboard.SnapshotCache = memory.NewSnapshotCache()
		locker      jobs.Locker
	)
	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisClient, err = redis.NewClient(ctx, redisCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer func() {
			log.Info("closing Redis connection...")
			_ = redisClient.Close()
		}()

		redisCache = redis.NewCache(redisClient)
		snapshots = redis.NewSnapshotCache(redisCache)
		locker = redis.NewLocker(redisCache)
		log.Info("Redis connection established")
	} else {
		log.Warn("Redis disabled: snapshots are process-local and the learning-event stream is off")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. USER DIRECTORY
	// ─────────────────────────────────────────────────────────────────────────
	var (
		userDirectory leaderboard.UserDirectory = memory.NewDirectory()
		breaker       *circuitbreaker.CircuitBreaker
	)
	if cfg.Directory.BaseURL != "" {
		client := directory.NewClient(directory.ClientConfig{
			BaseURL:           cfg.Directory.BaseURL,
			APIKey:            cfg.Directory.APIKey,
			Timeout:           cfg.Directory.Timeout,
			MaxAttempts:       cfg.Directory.MaxAttempts,
			RequestsPerSecond: cfg.Directory.RequestsPerSecond,
			Burst:             cfg.Directory.Burst,
			BreakerThreshold:  cfg.Directory.BreakerThreshold,
			BreakerTimeout:    cfg.Directory.BreakerTimeout,
			Logger:            log,
		})
		breaker = client.Breaker()
		userDirectory = client
		if redisCache != nil {
			userDirectory = redis.NewProfileCache(redisCache, client, cfg.Directory.ProfileTTL, log)
		}
	} else {
		log.Warn("DIRECTORY_BASE_URL not set: leaderboard names use the placeholder")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	eventBus, err := setupEventBus(ctx, redisClient, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	if err := eventhandler.NewProgressEventLogger(log).Register(eventBus); err != nil {
		return fmt.Errorf("failed to subscribe progress event logger: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. APPLICATION SERVICES
	// ─────────────────────────────────────────────────────────────────────────
	deps := command.Dependencies{
		UnitOfWork: store.unitOfWork,
		Catalog:    store.catalog,
		Publisher:  eventBus,
		Snapshots:  snapshots,
		Retrier:    command.ConflictRetrier(log, m),
		Calculator: gamestate.NewCalculator(cfg.Engine.LessonXP),
		Calendar:   calendar,
		Logger:     log,
		Metrics:    m,
	}
	applyProgress := command.NewApplyProgressHandler(deps)
	recordCheckin := command.NewRecordCheckinHandler(deps)

	leaderboards := query.NewLeaderboardQueryService(store.ranking,
		query.LeaderboardConfig{
			WindowBound:      cfg.Engine.WindowBound,
			DefaultLimit:     cfg.Engine.DefaultLimit,
			MaxLimit:         cfg.Engine.MaxLimit,
			DefaultRadius:    cfg.Engine.DefaultRadius,
			SnapshotTTL:      cfg.Engine.SnapshotTTL,
			DirectoryTimeout: cfg.Directory.Timeout,
			PlaceholderName:  cfg.Engine.PlaceholderName,
		},
		query.WithSnapshotCache(snapshots),
		query.WithUserDirectory(userDirectory),
		query.WithLogger(log),
		query.WithMetrics(m),
	)
	learningEvents := eventhandler.NewLearningEventHandler(applyProgress, recordCheckin, log, m)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:       log,
		Metrics:      m,
		Timezone:     cfg.App.Location,
		TickInterval: cfg.Scheduler.TickInterval,
	})
	warm := jobs.NewWarmLeaderboardJob(leaderboards, locker, jobs.WarmLeaderboardConfig{
		Topics:  cfg.Engine.HotTopics,
		Timeout: cfg.Scheduler.RefreshTimeout,
		LockTTL: cfg.Scheduler.LockTTL,
	}, log)

	schedule, err := warmSchedule(cfg)
	if err != nil {
		return err
	}
	if err := sched.Register(warm, schedule); err != nil {
		return fmt.Errorf("failed to register %s: %w", warm.Name(), err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. OPS HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("store", store.health)
	if redisCache != nil {
		health.AddCheck("redis", handlers.NewPingCheck(redisCache))
	}
	if breaker != nil {
		health.AddOptionalCheck("directory", func(context.Context) error {
			if breaker.State() == circuitbreaker.StateOpen {
				return circuitbreaker.ErrCircuitOpen
			}
			return nil
		})
	}

	var opsServer *opshttp.Server
	if cfg.Observability.MetricsEnabled {
		httpCfg := opshttp.DefaultConfig()
		httpCfg.Port = cfg.Observability.MetricsPort
		opsServer = opshttp.NewServer(httpCfg, opshttp.Dependencies{
			Health:  health,
			Metrics: m.Handler(),
			Jobs:    sched.ListJobs,
			Logger:  log,
		})
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. RUN
	// ─────────────────────────────────────────────────────────────────────────
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)

	if opsServer != nil {
		g.Go(opsServer.Start)
	}

	if cfg.Scheduler.Enabled {
		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	if cfg.Stream.Enabled && redisClient != nil {
		consumer := messaging.NewStreamConsumer(redisClient,
			messaging.StreamConfig{
				Stream:         cfg.Stream.Key,
				DeadLetter:     cfg.Stream.DeadLetter,
				Group:          cfg.Stream.Group,
				Consumer:       cfg.Stream.Consumer,
				BatchSize:      cfg.Stream.BatchSize,
				Block:          cfg.Stream.Block,
				HandlerTimeout: cfg.Stream.HandlerTimeout,
			},
			learningEvents.Handle,
			retry.New(
				retry.WithMaxAttempts(cfg.Stream.MaxAttempts),
				// the handler settles permanent failures itself
				retry.WithRetryIf(func(error) bool { return true }),
			),
			log,
		)
		g.Go(func() error {
			err := consumer.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	log.Info("gamification engine worker is running",
		logger.Bool("scheduler", cfg.Scheduler.Enabled),
		logger.Bool("stream", cfg.Stream.Enabled && redisClient != nil),
		logger.Bool("ops_http", opsServer != nil),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 11. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-gctx.Done()
	log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if sched.IsRunning() {
		if err := sched.Stop(); err != nil {
			log.Warn("scheduler stop failed", logger.Err(err))
		}
	}
	if opsServer != nil {
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("ops server shutdown failed", logger.Err(err))
		}
	}

	if err := g.Wait(); err != nil {
		log.Error("worker stopped with error", logger.Err(err))
		return err
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func setupLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = cfg.Observability.LogFormat
	if cfg.Observability.LogFile != "" {
		opts.File = &logger.FileOptions{
			Path:       cfg.Observability.LogFile,
			MaxSizeMB:  cfg.Observability.LogMaxSizeMB,
			MaxBackups: cfg.Observability.LogMaxBackups,
			MaxAgeDays: cfg.Observability.LogMaxAgeDays,
			Compress:   true,
		}
	}
	return logger.New(opts).With(logger.String("app", cfg.App.Name))
}

func setupStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (*storage, error) {
	if cfg.Engine.Store == config.StoreMemory {
		log.Warn("using the in-memory store: state is lost on restart")
		s := memory.NewStore()
		return &storage{
			unitOfWork: s,
			catalog:    s,
			ranking:    s.Ranking(),
			health:     func(context.Context) error { return nil },
			close:      func() {},
		}, nil
	}

	log.Info("connecting to database...")
	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.Database.URL
	pgCfg.MaxConns = int32(cfg.Database.MaxConns)
	pgCfg.MinConns = int32(cfg.Database.MinConns)
	pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")

	if cfg.Database.AutoMigrate {
		log.Info("checking database migrations...")
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date")
	}

	return &storage{
		unitOfWork: postgres.NewUnitOfWork(conn),
		catalog:    postgres.NewCatalog(conn),
		ranking:    postgres.NewRankingIndex(conn),
		health:     handlers.NewPingCheck(conn),
		close: func() {
			log.Info("closing database connection...")
			conn.Close()
		},
	}, nil
}

// eventBus is what the worker needs from either bus implementation.
type eventBus interface {
	shared.EventPublisher
	shared.EventSubscriber
	Close() error
}

// setupEventBus fans domain events out through Redis when it is available,
// so every instance's subscribers see them.
func setupEventBus(ctx context.Context, client *goredis.Client, log *logger.Logger) (eventBus, error) {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = log

	if client == nil {
		return messaging.NewInMemoryEventBus(local), nil
	}
	bus, err := messaging.NewRedisEventBus(ctx, messaging.RedisEventBusConfig{
		Client:         client,
		LocalBusConfig: local,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start event bus: %w", err)
	}
	return bus, nil
}

func warmSchedule(cfg *config.Config) (scheduler.Schedule, error) {
	if cfg.Scheduler.LeaderboardCron != "" {
		expr, err := scheduler.ParseCronExpression(cfg.Scheduler.LeaderboardCron)
		if err != nil {
			return nil, fmt.Errorf("SCHEDULER_LEADERBOARD_CRON: %w", err)
		}
		return expr, nil
	}
	return scheduler.NewIntervalSchedule(cfg.Scheduler.LeaderboardInterval), nil
}
