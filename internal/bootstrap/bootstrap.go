// Package bootstrap assembles the engine from configuration. It is shared
// by the server and worker binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lifeloop/progression/config"
	"github.com/lifeloop/progression/internal/application"
	"github.com/lifeloop/progression/internal/application/eventhandler"
	"github.com/lifeloop/progression/internal/infrastructure/messaging"
	"github.com/lifeloop/progression/internal/infrastructure/persistence/memory"
	"github.com/lifeloop/progression/internal/infrastructure/persistence/postgres"
	"github.com/lifeloop/progression/internal/infrastructure/persistence/redis"
	"github.com/lifeloop/progression/internal/infrastructure/scheduler"
	"github.com/lifeloop/progression/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/lifeloop/progression/internal/interface/http"
	"github.com/lifeloop/progression/pkg/timeutil"
)

// notificationChannel is the Redis channel read by the delivery service.
const notificationChannel = "progression:pubsub:notifications"

// Runtime holds the assembled engine and the resources it owns.
type Runtime struct {
	Config  *config.Config
	Service *application.Service
	Health  *httpapi.CompositeHealthChecker
	Logger  *zap.Logger

	// Migrator is nil on the in-memory backend.
	Migrator *postgres.Migrator

	closers []func() error
}

// New connects the configured backends and builds the service.
// On error every resource opened so far is released.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *Runtime, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	rt := &Runtime{
		Config: cfg,
		Health: httpapi.NewCompositeHealthChecker(cfg.App.Version),
		Logger: log,
	}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	rules, err := config.LoadRules(cfg.Progression.RulesFile)
	if err != nil {
		return nil, err
	}
	engine, err := rules.Engine()
	if err != nil {
		return nil, err
	}

	repos, err := rt.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	opts := application.Options{
		Engine:                 engine,
		LockWait:               cfg.Progression.LockWait,
		Clock:                  timeutil.SystemClock{Location: cfg.App.Location},
		Logger:                 log,
		Location:               cfg.App.Location,
		AtRiskWindow:           cfg.Progression.AtRiskWindow,
		RefreshOnComplete:      cfg.Progression.RefreshOnComplete,
		LeaderboardConcurrency: cfg.Progression.LeaderboardConcurrency,
		MemberTimeout:          cfg.Progression.MemberTimeout,
	}

	if cfg.Redis.Disabled {
		bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
			AsyncMode:      true,
			WorkerPoolSize: 10,
			Logger:         log,
			EnableMetrics:  true,
		})
		rt.closers = append(rt.closers, bus.Close)
		opts.Bus = bus
		log.Info("redis disabled: in-process locks and event bus")
	} else {
		if err := rt.openRedis(cfg, &repos, &opts); err != nil {
			return nil, err
		}
	}

	svc, err := application.NewService(repos, opts)
	if err != nil {
		return nil, err
	}
	rt.Service = svc
	return rt, nil
}

// openStorage selects PostgreSQL when a database URL is configured and
// the in-memory store otherwise.
func (rt *Runtime) openStorage(ctx context.Context) (application.Repositories, error) {
	cfg := rt.Config
	if !cfg.UsesPostgres() {
		db := memory.NewDB()
		rt.Health.AddCheck("memory", func(context.Context) error { return db.Ping() })
		rt.Logger.Warn("DATABASE_URL not set: using the in-memory store")
		return application.MemoryRepositories(db), nil
	}

	pgConfig := postgres.DefaultConfig()
	pgConfig.URL = cfg.Database.URL
	pgConfig.MaxConns = int32(cfg.Database.MaxConns)
	pgConfig.MinConns = int32(cfg.Database.MinConns)
	pgConfig.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pgConfig.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	conn, err := postgres.NewConnection(ctx, pgConfig)
	if err != nil {
		return application.Repositories{}, err
	}
	rt.closers = append(rt.closers, func() error {
		conn.Close()
		return nil
	})
	rt.Health.AddCheck("postgres", conn.Ping)
	rt.Migrator = postgres.NewMigrator(conn)

	if cfg.Database.AutoMigrate {
		applied, err := rt.Migrator.Migrate(ctx)
		if err != nil {
			return application.Repositories{}, fmt.Errorf("migrate: %w", err)
		}
		rt.Logger.Info("migrations applied", zap.Int("count", applied))
	}

	rt.Logger.Info("connected to PostgreSQL")
	return application.Repositories{
		Events:  postgres.NewEventStore(conn),
		States:  postgres.NewProgressRepository(conn),
		Ledger:  postgres.NewLedgerRepository(conn),
		Streaks: postgres.NewStreakRepository(conn),
		Users:   postgres.NewUserRepository(conn),
		Tasks:   postgres.NewTaskRepository(conn),
		Scopes:  postgres.NewScopeRepository(conn),
	}, nil
}

// openRedis switches locks, baselines, events and notifications to Redis.
func (rt *Runtime) openRedis(cfg *config.Config, repos *application.Repositories, opts *application.Options) error {
	redisConfig := redis.DefaultConfig()
	redisConfig.URL = cfg.Redis.URL
	redisConfig.Host = cfg.Redis.Host
	redisConfig.Port = cfg.Redis.Port
	redisConfig.Password = cfg.Redis.Password
	redisConfig.DB = cfg.Redis.DB
	redisConfig.PoolSize = cfg.Redis.PoolSize
	redisConfig.MinIdleConns = cfg.Redis.MinIdleConns
	redisConfig.DialTimeout = cfg.Redis.DialTimeout
	redisConfig.ReadTimeout = cfg.Redis.ReadTimeout
	redisConfig.WriteTimeout = cfg.Redis.WriteTimeout

	cache, err := redis.NewCache(redisConfig)
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, cache.Close)
	rt.Health.AddCheck("redis", cache.Ping)

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         cache.Client(),
		LocalBusConfig: messaging.DefaultInMemoryEventBusConfig(),
		Logger:         rt.Logger,
	})
	if err != nil {
		return err
	}
	// Closed before the cache so the subscriber stops first.
	rt.closers = append(rt.closers, bus.Close)

	opts.Locker = redis.NewUserLock(cache, cfg.Progression.LockTTL, rt.Logger)
	opts.Notifier = eventhandler.NewBreakerNotifier(
		messaging.NewRedisNotifier(cache.Client(), notificationChannel), nil, rt.Logger,
	)
	opts.Bus = bus
	repos.Baselines = redis.NewSnapshotCache(cache, 0)

	rt.Logger.Info("connected to Redis")
	return nil
}

// NewScheduler registers the maintenance jobs on their configured schedules.
func (rt *Runtime) NewScheduler() (*scheduler.Scheduler, error) {
	cfg := rt.Config.Progression

	refreshSchedule, err := scheduler.ParseSchedule(cfg.LeaderboardRefreshSchedule)
	if err != nil {
		return nil, fmt.Errorf("leaderboard refresh schedule: %w", err)
	}
	sweepSchedule, err := scheduler.ParseSchedule(cfg.MissedSweepSchedule)
	if err != nil {
		return nil, fmt.Errorf("missed sweep schedule: %w", err)
	}

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:   rt.Logger,
		Timezone: rt.Config.App.Location,
	})

	refresh := jobs.NewRefreshLeaderboardsJob(rt.Service.LeaderboardRefresher(), cfg.JobTimeout, rt.Logger)
	if err := sched.Register(refresh, refreshSchedule); err != nil {
		return nil, err
	}
	sweep := jobs.NewSweepMissedTasksJob(rt.Service.TaskSweeper(), cfg.SweepBatchSize, rt.Logger)
	if err := sched.Register(sweep, sweepSchedule); err != nil {
		return nil, err
	}
	return sched, nil
}

// Close releases resources in reverse order of opening.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
