package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	Eventing      EventingConfig
	Notifications NotificationsConfig
	Backups       BackupsConfig
	Audit         AuditConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	Stripe        StripeConfig
	GCP           GCPConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FISIOHUB_APP_ENV" required:"true"`
	Port         string `envconfig:"FISIOHUB_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"FISIOHUB_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FISIOHUB_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"FISIOHUB_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FISIOHUB_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"FISIOHUB_DB_DSN"`
	Driver string `envconfig:"FISIOHUB_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"FISIOHUB_DB_HOST"`
	Port     int    `envconfig:"FISIOHUB_DB_PORT" default:"5432"`
	User     string `envconfig:"FISIOHUB_DB_USER"`
	Password string `envconfig:"FISIOHUB_DB_PASSWORD"`
	Name     string `envconfig:"FISIOHUB_DB_NAME"`
	SSLMode  string `envconfig:"FISIOHUB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FISIOHUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FISIOHUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FISIOHUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FISIOHUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FISIOHUB_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FISIOHUB_REDIS_ADDR"`
	Password     string        `envconfig:"FISIOHUB_REDIS_PASSWORD"`
	DB           int           `envconfig:"FISIOHUB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FISIOHUB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FISIOHUB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FISIOHUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FISIOHUB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FISIOHUB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"FISIOHUB_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"FISIOHUB_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"FISIOHUB_JWT_EXPIRATION_MINUTES" default:"60"`
	SessionTTLMinutes int    `envconfig:"FISIOHUB_SESSION_TTL_MINUTES" default:"43200"`
}

// SessionTTL returns the session TTL configured in minutes.
func (j JWTConfig) SessionTTL() time.Duration {
	if j.SessionTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.SessionTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"FISIOHUB_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"FISIOHUB_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"FISIOHUB_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"FISIOHUB_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"FISIOHUB_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"FISIOHUB_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"FISIOHUB_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"FISIOHUB_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"FISIOHUB_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"FISIOHUB_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"FISIOHUB_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
}

type EventingConfig struct {
	IdempotencyTTL  time.Duration `envconfig:"FISIOHUB_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	ProcessedDelay  time.Duration `envconfig:"FISIOHUB_EVENTING_PROCESSED_DELAY" default:"100ms"`
	DispatchWorkers int           `envconfig:"FISIOHUB_EVENTING_DISPATCH_WORKERS" default:"4"`
}

type NotificationsConfig struct {
	RetentionDays int `envconfig:"FISIOHUB_NOTIFICATION_RETENTION_DAYS" default:"30"`
}

type BackupsConfig struct {
	Timeout       time.Duration `envconfig:"FISIOHUB_BACKUP_TIMEOUT" default:"5m"`
	RetentionDays int           `envconfig:"FISIOHUB_BACKUP_RETENTION_DAYS" default:"90"`
}

type AuditConfig struct {
	RetentionDays int `envconfig:"FISIOHUB_AUDIT_RETENTION_DAYS" default:"365"`
}

type PubSubConfig struct {
	EventsTopic        string `envconfig:"FISIOHUB_PUBSUB_EVENTS_TOPIC" default:"fh-system-events"`
	EventsSubscription string `envconfig:"FISIOHUB_PUBSUB_EVENTS_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"FISIOHUB_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"FISIOHUB_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"FISIOHUB_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type StripeConfig struct {
	APIKey  string `envconfig:"FISIOHUB_STRIPE_API_KEY"`
	Secret  string `envconfig:"FISIOHUB_STRIPE_SECRET"`
	Env     string `envconfig:"FISIOHUB_STRIPE_ENV" default:"test"`
	PriceID string `envconfig:"FISIOHUB_STRIPE_SUBSCRIPTION_PRICE_ID"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type GCPConfig struct {
	ProjectID       string `envconfig:"FISIOHUB_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"FISIOHUB_GCP_CREDENTIALS_JSON"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	for _, pair := range []struct{ name, value string }{
		{"FISIOHUB_DB_HOST", db.Host},
		{"FISIOHUB_DB_USER", db.User},
		{"FISIOHUB_DB_NAME", db.Name},
	} {
		if pair.value == "" {
			missing = append(missing, pair.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either FISIOHUB_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
