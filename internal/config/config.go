// Package config loads the daemon configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/callbridge/callbridge/internal/database"
	"github.com/callbridge/callbridge/internal/telemetry"
)

// ServiceName identifies the daemon in logs and telemetry.
const ServiceName = "callbridged"

// devSigningKey is used for bridge tokens outside production when
// BRIDGE_JWT_SECRET is unset.
const devSigningKey = "local-dev-signing-key-change-in-production"

// History store kinds.
const (
	HistoryStoreMemory   = "memory"
	HistoryStorePostgres = "postgres"
)

// Config holds all daemon configuration.
type Config struct {
	App       AppConfig
	Auth      AuthConfig
	Backend   BackendConfig
	Call      CallConfig
	Token     TokenConfig
	Push      PushConfig
	History   HistoryConfig
	Database  database.Config
	Telemetry telemetry.Config
}

// AppConfig configures the HTTP server.
type AppConfig struct {
	Env             string
	Port            string
	RequireTLS      bool
	ShutdownTimeout time.Duration
}

// IsProduction reports whether the daemon runs in production.
func (c AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// AuthConfig configures bridge token signing.
type AuthConfig struct {
	SigningKey string
	TokenTTL   time.Duration
	// UsingDevKey is set when SigningKey fell back to the development key.
	UsingDevKey bool
}

// BackendConfig configures the calling backend session.
type BackendConfig struct {
	// JWT is the credential the backend client logs in with.
	JWT            string
	CommandTimeout time.Duration
}

// CallConfig configures the call session coordinator.
type CallConfig struct {
	RequireAudioActivation bool
	EndTimeout             time.Duration
	ReportTimeout          time.Duration
	TombstoneTTL           time.Duration
	// CallerNamePath is the dot-separated payload path to the caller name.
	CallerNamePath         string
}

// TokenConfig configures the local push token store.
type TokenConfig struct {
	DBPath string
}

// PushConfig configures Pub/Sub push delivery. Delivery is disabled unless
// both ProjectID and Subscription are set.
type PushConfig struct {
	ProjectID    string
	Subscription string
	MaxAge       time.Duration
}

// Enabled reports whether push delivery is configured.
func (c PushConfig) Enabled() bool {
	return c.ProjectID != "" && c.Subscription != ""
}

// HistoryConfig selects the call history store.
type HistoryConfig struct {
	Store string
}

// Load reads the configuration from the environment. Every malformed value
// is reported in the returned error.
func Load() (Config, error) {
	l := &loader{}

	c := Config{
		App: AppConfig{
			Env:             getEnvOrDefault("APP_ENV", "development"),
			Port:            getEnvOrDefault("APP_PORT", "8080"),
			RequireTLS:      l.boolVar("REQUIRE_TLS", false),
			ShutdownTimeout: l.durationVar("APP_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			SigningKey: os.Getenv("BRIDGE_JWT_SECRET"),
			TokenTTL:   l.durationVar("BRIDGE_TOKEN_TTL", 24*time.Hour),
		},
		Backend: BackendConfig{
			JWT:            os.Getenv("BACKEND_JWT"),
			CommandTimeout: l.durationVar("BACKEND_COMMAND_TIMEOUT", 15*time.Second),
		},
		Call: CallConfig{
			RequireAudioActivation: l.boolVar("CALL_REQUIRE_AUDIO_ACTIVATION", false),
			EndTimeout:             l.durationVar("CALL_END_TIMEOUT", 5*time.Second),
			ReportTimeout:          l.durationVar("CALL_REPORT_TIMEOUT", 10*time.Second),
			TombstoneTTL:           l.durationVar("CALL_TOMBSTONE_TTL", 2*time.Minute),
			CallerNamePath:         getEnvOrDefault("CALL_CALLER_NAME_PATH", "nexmo.push_info.from_user.name"),
		},
		Token: TokenConfig{
			DBPath: getEnvOrDefault("TOKEN_DB_PATH", "callbridge-token.db"),
		},
		Push: PushConfig{
			ProjectID:    os.Getenv("PUSH_PROJECT_ID"),
			Subscription: os.Getenv("PUSH_SUBSCRIPTION"),
			MaxAge:       l.durationVar("PUSH_MAX_AGE", 30*time.Second),
		},
		Database:  databaseConfig(l),
		Telemetry: telemetryConfig(l),
	}

	c.History.Store = getEnvOrDefault("HISTORY_STORE", "")
	if c.History.Store == "" {
		c.History.Store = HistoryStoreMemory
		if os.Getenv("DB_HOST") != "" {
			c.History.Store = HistoryStorePostgres
		}
	}
	if c.History.Store != HistoryStoreMemory && c.History.Store != HistoryStorePostgres {
		l.errs = append(l.errs, fmt.Errorf("HISTORY_STORE: unknown store %q", c.History.Store))
	}

	if c.Auth.SigningKey == "" {
		if c.App.IsProduction() {
			l.errs = append(l.errs, errors.New("BRIDGE_JWT_SECRET: required in production"))
		}
		c.Auth.SigningKey = devSigningKey
		c.Auth.UsingDevKey = true
	}

	if strings.HasPrefix(c.Call.CallerNamePath, ".") || strings.HasSuffix(c.Call.CallerNamePath, ".") {
		l.errs = append(l.errs, fmt.Errorf("CALL_CALLER_NAME_PATH: malformed path %q", c.Call.CallerNamePath))
	}

	c.Telemetry.Environment = c.App.Env

	if err := errors.Join(l.errs...); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

func databaseConfig(l *loader) database.Config {
	def := database.DefaultConfig()
	return database.Config{
		Host:            getEnvOrDefault("DB_HOST", def.Host),
		Port:            l.intVar("DB_PORT", def.Port),
		User:            getEnvOrDefault("DB_USER", def.User),
		Password:        getEnvOrDefault("DB_PASSWORD", def.Password),
		Database:        getEnvOrDefault("DB_NAME", def.Database),
		SSLMode:         getEnvOrDefault("DB_SSL_MODE", def.SSLMode),
		MaxOpenConns:    l.intVar("DB_MAX_OPEN_CONNS", def.MaxOpenConns),
		MaxIdleConns:    l.intVar("DB_MAX_IDLE_CONNS", def.MaxIdleConns),
		ConnMaxLifetime: l.durationVar("DB_CONN_MAX_LIFETIME", def.ConnMaxLifetime),
		ConnectTimeout:  l.durationVar("DB_CONNECT_TIMEOUT", def.ConnectTimeout),
	}
}

func telemetryConfig(l *loader) telemetry.Config {
	cfg := telemetry.DefaultConfig(ServiceName)
	cfg.Enabled = l.boolVar("OTEL_ENABLED", false)
	cfg.OTLPEndpoint = getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	cfg.Insecure = l.boolVar("OTEL_EXPORTER_OTLP_INSECURE", cfg.Insecure)
	cfg.SampleRatio = l.floatVar("OTEL_TRACES_SAMPLER_ARG", cfg.SampleRatio)
	cfg.ExportInterval = l.durationVar("OTEL_METRIC_EXPORT_INTERVAL", cfg.ExportInterval)
	return cfg
}

// loader parses typed values and collects every parse failure.
type loader struct {
	errs []error
}

func (l *loader) intVar(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (l *loader) boolVar(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (l *loader) floatVar(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (l *loader) durationVar(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	if d <= 0 {
		l.errs = append(l.errs, fmt.Errorf("%s: must be positive", key))
		return def
	}
	return d
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}
