package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fisiohub/clinic-backend/api/routes"
	"github.com/fisiohub/clinic-backend/internal/appointments"
	"github.com/fisiohub/clinic-backend/internal/audit"
	"github.com/fisiohub/clinic-backend/internal/auth"
	"github.com/fisiohub/clinic-backend/internal/backups"
	"github.com/fisiohub/clinic-backend/internal/events"
	"github.com/fisiohub/clinic-backend/internal/exercises"
	"github.com/fisiohub/clinic-backend/internal/notifications"
	"github.com/fisiohub/clinic-backend/internal/patients"
	"github.com/fisiohub/clinic-backend/internal/subscriptions"
	stripewebhook "github.com/fisiohub/clinic-backend/internal/webhooks/stripe"
	"github.com/fisiohub/clinic-backend/pkg/auth/session"
	"github.com/fisiohub/clinic-backend/pkg/config"
	"github.com/fisiohub/clinic-backend/pkg/db"
	"github.com/fisiohub/clinic-backend/pkg/logger"
	"github.com/fisiohub/clinic-backend/pkg/metrics"
	"github.com/fisiohub/clinic-backend/pkg/migrate"
	"github.com/fisiohub/clinic-backend/pkg/outbox"
	"github.com/fisiohub/clinic-backend/pkg/outbox/idempotency"
	"github.com/fisiohub/clinic-backend/pkg/redis"
	"github.com/fisiohub/clinic-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

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

	notificationRules := notifications.NewRuleRepository(gormDB)
	notificationsService, err := notifications.NewService(
		notifications.NewRepository(gormDB),
		notificationRules,
		notifications.NewSubscriberRegistry(),
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	engine, err := notifications.NewEngine(notificationsService, notificationRules, logg, eventMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification engine", err)
		os.Exit(1)
	}
	idempotencyManager, err := idempotency.NewManager(redisClient, cfg.Eventing.IdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency manager", err)
		os.Exit(1)
	}
	if err := engine.Attach(bus, idempotencyManager); err != nil {
		logg.Error(context.Background(), "failed to attach notification engine", err)
		os.Exit(1)
	}
	if err := engine.Start(context.Background()); err != nil {
		logg.Error(context.Background(), "failed to start notification engine", err)
		os.Exit(1)
	}
	if replayed, err := bus.DispatchUnprocessed(context.Background(), 0); err != nil {
		logg.Error(context.Background(), "failed to replay unprocessed events", err)
	} else if replayed > 0 {
		logg.Info(logg.WithField(context.Background(), "count", replayed), "replayed unprocessed events")
	}

	authService, err := auth.NewService(auth.ServiceParams{
		Users:          auth.NewUserRepository(gormDB),
		Clinics:        auth.NewClinicRepository(gormDB),
		Sessions:       sessionManager,
		Seeder:         notificationsService,
		Tx:             dbClient,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
		Logger:         logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auth service", err)
		os.Exit(1)
	}

	patientsRepo := patients.NewRepository(gormDB)
	patientsService, err := patients.NewService(patientsRepo, bus, auditService, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create patients service", err)
		os.Exit(1)
	}

	appointmentsService, err := appointments.NewService(appointments.NewRepository(gormDB), patientsRepo, bus, auditService, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create appointments service", err)
		os.Exit(1)
	}

	exercisesService, err := exercises.NewService(exercises.NewRepository(gormDB), patientsRepo, bus, auditService, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create exercises service", err)
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

	subscriptionsService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptions.NewRepository(gormDB),
		StripeClient:      subscriptions.NewStripeClient(stripeClient),
		TransactionRunner: dbClient,
		Emitter:           outboxService,
		Bus:               bus,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscriptions service", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Eventing.IdempotencyTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
		os.Exit(1)
	}
	stripeWebhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Subscriptions: subscriptionsService,
		StripeClient:  subscriptions.NewStripeClient(stripeClient),
		Guard:         webhookGuard,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:        cfg,
			Logger:        logg,
			DB:            dbClient,
			Redis:         redisClient,
			Sessions:      sessionManager,
			Auth:          authService,
			Patients:      patientsService,
			Appointments:  appointmentsService,
			Exercises:     exercisesService,
			Notifications: notificationsService,
			Audit:         auditService,
			Backups:       backupsService,
			Subscriptions: subscriptionsService,
			StripeClient:  stripeClient,
			StripeWebhook: stripeWebhookService,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
