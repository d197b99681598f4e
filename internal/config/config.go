package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Gateway      GatewayConfig
	Pipeline     PipelineConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	// Clients maps API client IDs to their bcrypt secret hash and role.
	Clients []ClientCredential
}

// ClientCredential is one entry of AUTH_CLIENTS ("id:role:bcrypt-hash").
type ClientCredential struct {
	ID         string
	Role       string
	SecretHash string
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// GatewayConfig controls capability calls and the reference mock providers.
type GatewayConfig struct {
	TimeoutMs      int
	MaxRetries     int
	RetryBackoffMs int
	// GeneralURL and SpecialistURL switch the matching provider from the mock
	// to the HTTP provider when set.
	GeneralURL    string
	SpecialistURL string

	MockDecisionScore int
	MockClarification string
	MockAnswer        string
	MockKBResults     []string
}

// PipelineConfig controls run orchestration.
type PipelineConfig struct {
	SuspendAtWait      bool
	CheckpointTTLHours int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	clients, err := parseClients(os.Getenv("AUTH_CLIENTS"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_CLIENTS: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-agent"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			Clients:               clients,
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
		Gateway: GatewayConfig{
			TimeoutMs:         getEnvAsInt("GATEWAY_TIMEOUT_MS", 5000),
			MaxRetries:        getEnvAsInt("GATEWAY_MAX_RETRIES", 0),
			RetryBackoffMs:    getEnvAsInt("GATEWAY_RETRY_BACKOFF_MS", 200),
			GeneralURL:        os.Getenv("GATEWAY_GENERAL_URL"),
			SpecialistURL:     os.Getenv("GATEWAY_SPECIALIST_URL"),
			MockDecisionScore: getEnvAsInt("GATEWAY_MOCK_DECISION_SCORE", 82),
			MockClarification: getEnv("GATEWAY_MOCK_CLARIFICATION", "Could you provide your Order ID?"),
			MockAnswer:        getEnv("GATEWAY_MOCK_ANSWER", "Order ID: 12345"),
			MockKBResults:     getEnvAsList("GATEWAY_MOCK_KB_RESULTS", []string{"FAQ: Orders may be delayed 5-7 days."}),
		},
		Pipeline: PipelineConfig{
			SuspendAtWait:      getEnvAsBool("PIPELINE_SUSPEND_AT_WAIT", false),
			CheckpointTTLHours: getEnvAsInt("PIPELINE_CHECKPOINT_TTL_HOURS", 72),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Timeout returns the per-call capability deadline.
func (g GatewayConfig) Timeout() time.Duration {
	if g.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(g.TimeoutMs) * time.Millisecond
}

// RetryBackoff returns the delay between retries of read-only abilities.
func (g GatewayConfig) RetryBackoff() time.Duration {
	if g.RetryBackoffMs <= 0 {
		return 0
	}
	return time.Duration(g.RetryBackoffMs) * time.Millisecond
}

// CheckpointTTL returns how long a parked run is kept.
func (p PipelineConfig) CheckpointTTL() time.Duration {
	if p.CheckpointTTLHours <= 0 {
		return 0
	}
	return time.Duration(p.CheckpointTTLHours) * time.Hour
}

func parseClients(raw string) ([]ClientCredential, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var clients []ClientCredential
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		// bcrypt hashes contain '$' but never ':', so three parts are unambiguous.
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
			return nil, fmt.Errorf("malformed client entry %q", entry)
		}
		clients = append(clients, ClientCredential{
			ID:         parts[0],
			Role:       strings.ToLower(parts[1]),
			SecretHash: parts[2],
		})
	}
	return clients, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvAsList splits a '|' separated value; kb snippets commonly contain commas.
func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, "|") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
