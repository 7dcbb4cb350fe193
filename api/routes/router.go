package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fisiohub/clinic-backend/api/controllers"
	webhookcontrollers "github.com/fisiohub/clinic-backend/api/controllers/webhooks"
	"github.com/fisiohub/clinic-backend/api/middleware"
	"github.com/fisiohub/clinic-backend/internal/appointments"
	"github.com/fisiohub/clinic-backend/internal/audit"
	authsvc "github.com/fisiohub/clinic-backend/internal/auth"
	"github.com/fisiohub/clinic-backend/internal/backups"
	"github.com/fisiohub/clinic-backend/internal/exercises"
	"github.com/fisiohub/clinic-backend/internal/notifications"
	"github.com/fisiohub/clinic-backend/internal/patients"
	subscriptionsvc "github.com/fisiohub/clinic-backend/internal/subscriptions"
	"github.com/fisiohub/clinic-backend/pkg/auth/session"
	"github.com/fisiohub/clinic-backend/pkg/config"
	"github.com/fisiohub/clinic-backend/pkg/db"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	"github.com/fisiohub/clinic-backend/pkg/logger"
	"github.com/fisiohub/clinic-backend/pkg/redis"
	"github.com/fisiohub/clinic-backend/pkg/stripe"
)

// RouterParams bundles everything the HTTP surface needs.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       db.Pinger
	Redis    *redis.Client
	Sessions session.AccessSessionChecker

	Auth          authsvc.Service
	Patients      patients.Service
	Appointments  appointments.Service
	Exercises     exercises.Service
	Notifications notifications.Service
	Audit         audit.Service
	Backups       backups.Service
	Subscriptions subscriptionsvc.Service

	StripeClient  *stripe.Client
	StripeWebhook webhookcontrollers.StripeWebhookService
}

// NewRouter assembles the chi router with the full middleware stack.
func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DB, p.Redis))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.StripeWebhook, p.StripeClient, logg))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(loginPolicy, p.Redis, logg)).Post("/login", controllers.AuthLogin(p.Auth, logg))
		r.With(middleware.AuthRateLimit(registerPolicy, p.Redis, logg)).Post("/register", controllers.AuthRegister(p.Auth, logg))
		r.Post("/refresh", controllers.AuthRefresh(p.Auth, logg))
		r.Post("/logout", controllers.AuthLogout(p.Auth, cfg.JWT, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, p.Sessions, logg))
		r.Use(middleware.RequireClinic(logg))

		r.Route("/patients", func(r chi.Router) {
			r.Get("/", controllers.PatientList(p.Patients, logg))
			r.Post("/", controllers.PatientCreate(p.Patients, logg))
			r.Get("/{patientId}", controllers.PatientGet(p.Patients, logg))
			r.Patch("/{patientId}", controllers.PatientUpdate(p.Patients, logg))
			r.Post("/{patientId}/archive", controllers.PatientArchive(p.Patients, logg))
			r.Get("/{patientId}/prescriptions", controllers.PrescriptionList(p.Exercises, logg))
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Get("/", controllers.AppointmentList(p.Appointments, logg))
			r.Post("/", controllers.AppointmentSchedule(p.Appointments, logg))
			r.Get("/{appointmentId}", controllers.AppointmentGet(p.Appointments, logg))
			r.Post("/{appointmentId}/reschedule", controllers.AppointmentReschedule(p.Appointments, logg))
			r.Post("/{appointmentId}/cancel", controllers.AppointmentCancel(p.Appointments, logg))
			r.Post("/{appointmentId}/complete", controllers.AppointmentComplete(p.Appointments, logg))
			r.Post("/{appointmentId}/no-show", controllers.AppointmentNoShow(p.Appointments, logg))
		})

		r.Route("/exercises", func(r chi.Router) {
			r.Get("/", controllers.ExerciseList(p.Exercises, logg))
			r.Post("/", controllers.ExerciseCreate(p.Exercises, logg))
			r.Get("/{exerciseId}", controllers.ExerciseGet(p.Exercises, logg))
			r.Put("/{exerciseId}", controllers.ExerciseUpdate(p.Exercises, logg))
		})

		r.Route("/prescriptions", func(r chi.Router) {
			r.Post("/", controllers.PrescriptionCreate(p.Exercises, logg))
			r.Post("/{prescriptionId}/end", controllers.PrescriptionEnd(p.Exercises, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(p.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(p.Notifications, logg))
			r.Post("/{notificationId}/acknowledge", controllers.AcknowledgeNotification(p.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(p.Notifications, logg))
			r.Route("/rules", func(r chi.Router) {
				r.Use(middleware.RequireRole(string(enums.RoleAdmin), logg))
				r.Get("/", controllers.RuleList(p.Notifications, logg))
				r.Post("/", controllers.RuleCreate(p.Notifications, logg))
				r.Get("/{ruleId}", controllers.RuleGet(p.Notifications, logg))
				r.Put("/{ruleId}", controllers.RuleUpdate(p.Notifications, logg))
				r.Delete("/{ruleId}", controllers.RuleDelete(p.Notifications, logg))
			})
		})

		r.Route("/audit", func(r chi.Router) {
			r.Use(middleware.RequireRole(string(enums.RoleAdmin), logg))
			r.Get("/", controllers.AuditList(p.Audit, logg))
		})

		r.Route("/backups", func(r chi.Router) {
			r.Use(middleware.RequireRole(string(enums.RoleAdmin), logg))
			r.Get("/", controllers.BackupList(p.Backups, logg))
			r.Post("/", controllers.BackupRun(p.Backups, logg))
			r.Get("/{backupId}", controllers.BackupGet(p.Backups, logg))
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/plans", controllers.PlanList(p.Subscriptions, logg))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(string(enums.RoleAdmin), logg))
				r.Get("/", controllers.SubscriptionFetch(p.Subscriptions, logg))
				r.Post("/", controllers.SubscriptionCreate(p.Subscriptions, logg))
				r.Post("/cancel", controllers.SubscriptionCancel(p.Subscriptions, logg))
			})
		})
	})

	return r
}
