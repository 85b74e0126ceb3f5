package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Structure StructureConfig
	Engine    EngineConfig
	RateLimit RateLimitConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string

	// WriteTimeout bounds a request, including a synchronous batch run
	WriteTimeout time.Duration
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration

	// ConnectTimeout bounds dialing; StatementTimeout bounds one report query
	ConnectTimeout   time.Duration
	StatementTimeout time.Duration
}

// RedisConfig holds Redis settings for live status feedback
type RedisConfig struct {
	Enabled         bool
	Host            string
	Port            int
	Password        string
	DB              int
	FeedbackChannel string
	StatusTTL       time.Duration
}

// StructureConfig points at the structure bridge that owns the 3-D model
type StructureConfig struct {
	URL            string
	Timeout        time.Duration
	LookupCacheTTL time.Duration
}

// EngineConfig holds deployment-wide run defaults
type EngineConfig struct {
	BatchOnFailure      string
	IndividualOnFailure string
	StepOnFailure       string
	Refinement          string
	SculptCycles        int
}

// RateLimitConfig holds Redis-backed request limits. Limits only apply when
// Redis is reachable.
type RateLimitConfig struct {
	Enabled       bool
	GlobalLimit   int64
	OwnerLimit    int64
	WindowSeconds int
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
	MetricsPort   int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),

			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Minute),
		},
		Database: DatabaseConfig{
			Enabled:     getEnvBool("DATABASE_ENABLED", true),
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "mutwizard"),
			User:        getEnv("POSTGRES_USER", "mutwizard"),
			Password:    getEnv("POSTGRES_PASSWORD", "mutwizard"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 10),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),

			ConnectTimeout:   getEnvDuration("POSTGRES_CONNECT_TIMEOUT", 5*time.Second),
			StatementTimeout: getEnvDuration("POSTGRES_STATEMENT_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Enabled:         getEnvBool("REDIS_ENABLED", true),
			Host:            getEnv("REDIS_HOST", "localhost"),
			Port:            getEnvInt("REDIS_PORT", 6379),
			Password:        getEnv("REDIS_PASSWORD", ""),
			DB:              getEnvInt("REDIS_DB", 0),
			FeedbackChannel: getEnv("FEEDBACK_CHANNEL", "mutwizard:status"),
			StatusTTL:       getEnvDuration("REDIS_STATUS_TTL", 24*time.Hour),
		},
		Structure: StructureConfig{
			URL:            getEnv("STRUCTURE_URL", "http://localhost:9800"),
			Timeout:        getEnvDuration("STRUCTURE_TIMEOUT", 2*time.Minute),
			LookupCacheTTL: getEnvDuration("LOOKUP_CACHE_TTL", 30*time.Second),
		},
		Engine: EngineConfig{
			BatchOnFailure:      getEnv("BATCH_ON_FAILURE", "skip_and_continue"),
			IndividualOnFailure: getEnv("INDIVIDUAL_ON_FAILURE", "skip_and_continue"),
			StepOnFailure:       getEnv("STEP_ON_FAILURE", "stop_run"),
			Refinement:          getEnv("REFINEMENT", "default"),
			SculptCycles:        getEnvInt("SCULPT_CYCLES", 10),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getEnvBool("RATE_LIMIT_ENABLED", true),
			GlobalLimit:   int64(getEnvInt("RATE_LIMIT_GLOBAL", 600)),
			OwnerLimit:    int64(getEnvInt("RATE_LIMIT_PER_OWNER", 300)),
			WindowSeconds: getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   getEnvBool("ENABLE_PPROF", true),
			PprofPort:     getEnvInt("PPROF_PORT", 6060),
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			MetricsPort:   getEnvInt("METRICS_PORT", 9090),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns must be >= min_conns")
		}
		if c.Database.StatementTimeout < 0 {
			return fmt.Errorf("statement timeout must not be negative")
		}
	}

	if c.Structure.URL == "" {
		return fmt.Errorf("structure bridge URL is required")
	}
	if !strings.HasPrefix(c.Structure.URL, "http://") && !strings.HasPrefix(c.Structure.URL, "https://") {
		return fmt.Errorf("structure bridge URL must be http(s): %s", c.Structure.URL)
	}

	for name, policy := range map[string]string{
		"BATCH_ON_FAILURE":      c.Engine.BatchOnFailure,
		"INDIVIDUAL_ON_FAILURE": c.Engine.IndividualOnFailure,
		"STEP_ON_FAILURE":       c.Engine.StepOnFailure,
	} {
		if policy != "stop_run" && policy != "skip_and_continue" {
			return fmt.Errorf("%s must be stop_run or skip_and_continue, got %q", name, policy)
		}
	}

	switch c.Engine.Refinement {
	case "default":
	case "sculpt":
		if c.Engine.SculptCycles < 1 || c.Engine.SculptCycles > 1000 {
			return fmt.Errorf("sculpt cycles must be in [1, 1000], got %d", c.Engine.SculptCycles)
		}
	default:
		return fmt.Errorf("unknown refinement %q", c.Engine.Refinement)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.GlobalLimit < 1 || c.RateLimit.OwnerLimit < 1 {
			return fmt.Errorf("rate limits must be positive")
		}
		if c.RateLimit.WindowSeconds < 1 {
			return fmt.Errorf("rate limit window must be positive, got %d", c.RateLimit.WindowSeconds)
		}
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns host:port for the Redis client
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
