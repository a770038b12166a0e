// Package main - точка входа фонового процесса движка прогрессии.
//
// Worker выполняет периодические задачи:
//   - ротация базовых снимков лидербордов (движение в рейтинге)
//   - пометка просроченных задач как пропущенных
//
// и служебные команды:
//
//	worker -migrate              применить миграции и выйти
//	worker -replay alice         пересобрать пользователя из журнала и сравнить
//	worker -replay alice -repair то же, с исправлением расхождений
//	worker -run sweep_missed_tasks  выполнить одну задачу и выйти
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lifeloop/progression/config"
	"github.com/lifeloop/progression/internal/application/command"
	"github.com/lifeloop/progression/internal/bootstrap"
	"github.com/lifeloop/progression/pkg/logger"
)

// options - флаги командной строки.
type options struct {
	migrate bool
	replay  string
	repair  bool
	runJob  string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.BoolVar(&opts.migrate, "migrate", false, "apply database migrations and exit")
	fs.StringVar(&opts.replay, "replay", "", "rebuild the given user from the event log and report drift")
	fs.BoolVar(&opts.repair, "repair", false, "with -replay: write the rebuilt state back")
	fs.StringVar(&opts.runJob, "run", "", "run one job by name and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.repair && opts.replay == "" {
		return options{}, errors.New("-repair requires -replay")
	}
	return opts, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(string(cfg.App.Environment), cfg.Observability.LogLevel)
	defer func() { _ = log.Sync() }()

	// Миграции применяет только явный -migrate.
	if opts.migrate {
		cfg.Database.AutoMigrate = false
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ХРАНИЛИЩА И СЕРВИС
	// ─────────────────────────────────────────────────────────────────────────
	rt, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn("close resources", zap.Error(err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. СЛУЖЕБНЫЕ КОМАНДЫ
	// ─────────────────────────────────────────────────────────────────────────
	switch {
	case opts.migrate:
		return migrate(ctx, rt, log)
	case opts.replay != "":
		return replay(ctx, rt, opts)
	}

	sched, err := rt.NewScheduler()
	if err != nil {
		return err
	}

	if opts.runJob != "" {
		result, err := sched.RunNow(ctx, opts.runJob)
		if result != nil {
			log.Info("job finished",
				zap.String("job", result.JobName),
				zap.Duration("duration", result.Duration),
				zap.Bool("success", result.Success),
			)
		}
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	if err := sched.Start(ctx); err != nil {
		return err
	}
	for _, job := range sched.ListJobs() {
		log.Info("job scheduled",
			zap.String("job", job.Name),
			zap.String("schedule", job.Schedule),
			zap.Time("next_run", job.NextRun),
		)
	}

	<-ctx.Done()
	log.Info("received shutdown signal, stopping scheduler")
	if err := sched.Stop(); err != nil {
		return err
	}

	metrics := sched.Metrics()
	log.Info("worker stopped",
		zap.Int64("executions", metrics.TotalExecutions),
		zap.Int64("failures", metrics.TotalFailures),
	)
	return nil
}

// migrate применяет миграции PostgreSQL.
func migrate(ctx context.Context, rt *bootstrap.Runtime, log *zap.Logger) error {
	if rt.Migrator == nil {
		return errors.New("-migrate requires DATABASE_URL")
	}
	applied, err := rt.Migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database schema is up to date", zap.Int("applied", applied))
	return nil
}

// replay печатает отчёт о сверке в stdout. Расхождение без -repair
// завершает процесс с ошибкой.
func replay(ctx context.Context, rt *bootstrap.Runtime, opts options) error {
	report, err := rt.Service.Replay(ctx, command.ReplayUserCommand{
		UserID: opts.replay,
		Repair: opts.repair,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}

	if !report.Consistent() && !report.Repaired {
		return fmt.Errorf("user %s: %d fields drifted", opts.replay, len(report.Drift))
	}
	return nil
}
