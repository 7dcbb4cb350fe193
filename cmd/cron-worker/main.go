package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fisiohub/clinic-backend/internal/audit"
	"github.com/fisiohub/clinic-backend/internal/auth"
	"github.com/fisiohub/clinic-backend/internal/backups"
	"github.com/fisiohub/clinic-backend/internal/cron"
	"github.com/fisiohub/clinic-backend/internal/events"
	"github.com/fisiohub/clinic-backend/internal/notifications"
	"github.com/fisiohub/clinic-backend/pkg/config"
	"github.com/fisiohub/clinic-backend/pkg/db"
	"github.com/fisiohub/clinic-backend/pkg/logger"
	"github.com/fisiohub/clinic-backend/pkg/metrics"
	"github.com/fisiohub/clinic-backend/pkg/migrate"
	"github.com/fisiohub/clinic-backend/pkg/outbox"
	"github.com/fisiohub/clinic-backend/pkg/redis"
)


func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gormDB := dbClient.DB()
	eventMetrics := metrics.NewEventMetrics(prometheus.DefaultRegisterer)
	outboxService := outbox.NewService(outbox.NewRepository(gormDB), logg)

	bus, err := events.NewBus(events.NewRepository(gormDB), dbClient, outboxService, logg, eventMetrics, cfg.Eventing)
	if err != nil {
		logg.Error(context.Background(), "failed to create event bus", err)
		os.Exit(1)
	}
	defer bus.Close()

	auditService, err := audit.NewService(audit.NewRepository(gormDB), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create audit service", err)
		os.Exit(1)
	}

	backupsService, err := backups.NewService(
		backups.NewRepository(gormDB),
		backups.NewSnapshotSource(gormDB),
		bus,
		auditService,
		logg,
		cfg.Backups,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create backups service", err)
		os.Exit(1)
	}

	jobs := []cron.Job{}

	notificationCleanup, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		Repository: notifications.NewRepository(gormDB),
		Retention:  cfg.Notifications.RetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification cleanup job", err)
		os.Exit(1)
	}
	jobs = append(jobs, notificationCleanup)

	auditRetention, err := cron.NewAuditRetentionJob(cron.AuditRetentionJobParams{
		Logger:    logg,
		Audit:     audit.NewRepository(gormDB),
		Retention: cfg.Audit.RetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create audit retention job", err)
		os.Exit(1)
	}
	jobs = append(jobs, auditRetention)

	nightlyBackup, err := cron.NewBackupJob(cron.BackupJobParams{
		Logger:  logg,
		Clinics: auth.NewClinicRepository(gormDB),
		Backups: backupsService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create nightly backup job", err)
		os.Exit(1)
	}
	jobs = append(jobs, nightlyBackup)

	backupRetention, err := cron.NewBackupRetentionJob(cron.BackupRetentionJobParams{
		Logger:    logg,
		Backups:   backups.NewRepository(gormDB),
		Retention: cfg.Backups.RetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create backup retention job", err)
		os.Exit(1)
	}
	jobs = append(jobs, backupRetention)

	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:    logg,
		Outbox:    outbox.NewRepository(gormDB),
		Retention: cfg.Notifications.RetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}
	jobs = append(jobs, outboxRetention)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(jobs...),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf("cron-worker:%s", env)
}
