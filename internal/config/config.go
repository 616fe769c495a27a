package config

import (
	"fmt"
	"time"

	"github.com/utafrali/identity/pkg/config"
	"github.com/utafrali/identity/pkg/database"
	"github.com/utafrali/identity/pkg/tracing"
)

// Config holds all runtime configuration for the identity service. Values
// come from the environment; defaults suit local development.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8080"`

	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"identity"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"identity"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"identity"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`

	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`

	// SessionStalenessMinutes is how long an unused session stays valid.
	SessionStalenessMinutes int `env:"SESSION_STALENESS_MINUTES" envDefault:"30"`
	// SweepIntervalMinutes is how often the background sweeper runs.
	SweepIntervalMinutes int `env:"SWEEP_INTERVAL_MINUTES" envDefault:"5"`

	FacebookUserInfoURL string `env:"FACEBOOK_USERINFO_URL" envDefault:"https://graph.facebook.com/v19.0/me?fields=email,first_name,last_name"`
	GoogleUserInfoURL   string `env:"GOOGLE_USERINFO_URL" envDefault:"https://openidconnect.googleapis.com/v1/userinfo"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.SessionStalenessMinutes <= 0 {
		return fmt.Errorf("SESSION_STALENESS_MINUTES must be positive, got %d", c.SessionStalenessMinutes)
	}
	if c.SweepIntervalMinutes <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_MINUTES must be positive, got %d", c.SweepIntervalMinutes)
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	return nil
}

// Postgres returns the database connection configuration.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPassword,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSLMode,
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// Tracing returns the OpenTelemetry configuration.
func (c *Config) Tracing(version string) tracing.Config {
	return tracing.Config{
		ServiceName:    "identity-service",
		ServiceVersion: version,
		Environment:    c.Environment,
		OTLPEndpoint:   c.OTELEndpoint,
		SampleRate:     c.OTELSampleRate,
		Enabled:        c.OTELEnabled,
	}
}

// SessionStaleness returns the session staleness window as a duration.
func (c *Config) SessionStaleness() time.Duration {
	return time.Duration(c.SessionStalenessMinutes) * time.Minute
}

// SweepInterval returns the sweeper tick period as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}
