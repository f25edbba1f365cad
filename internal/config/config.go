package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
)

// Config holds all configuration for the application
type Config struct {
	// Solana node configuration used when no explicit data sources are given
	Solana SolanaConfig

	// Ingestion pipeline configuration
	Ingestion IngestionConfig

	// Health monitor configuration
	Health HealthConfig

	// Storage backend selection
	Storage StorageConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// API server configuration
	API APIConfig

	// Logging configuration
	Log LogConfig
}

// SolanaConfig holds the default Solana node connection settings
type SolanaConfig struct {
	RPCURL         string        `envconfig:"SOLANA_RPC_URL" default:"https://api.mainnet-beta.solana.com"`
	WSURL          string        `envconfig:"SOLANA_WS_URL" default:""`
	RequestTimeout time.Duration `envconfig:"SOLANA_REQUEST_TIMEOUT" default:"30s"`
	MaxRetries     int           `envconfig:"SOLANA_MAX_RETRIES" default:"3"`
	RetryDelay     time.Duration `envconfig:"SOLANA_RETRY_DELAY" default:"1s"`
	RateLimitRPS   int           `envconfig:"SOLANA_RATE_LIMIT_RPS" default:"10"`
}

// IngestionConfig holds ingestion-specific settings
type IngestionConfig struct {
	Mode                string        `envconfig:"INGESTION_MODE" default:"live"`
	PollInterval        time.Duration `envconfig:"INGESTION_POLL_INTERVAL" default:"10s"`
	StartSlot           uint64        `envconfig:"INGESTION_START_SLOT" default:"0"`
	EndSlot             uint64        `envconfig:"INGESTION_END_SLOT" default:"0"`
	FallbackStrategy    string        `envconfig:"INGESTION_FALLBACK_STRATEGY" default:"sequential"`
	SubscriptionSources int           `envconfig:"INGESTION_SUBSCRIPTION_SOURCES" default:"2"`

	// JSON array of data source descriptors
	DataSources DataSourceList `envconfig:"INGESTION_DATA_SOURCES"`
}

// HealthConfig holds health monitor settings
type HealthConfig struct {
	CheckInterval      time.Duration `envconfig:"HEALTH_CHECK_INTERVAL" default:"30s"`
	CheckTimeout       time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"10s"`
	DegradedThreshold  int           `envconfig:"HEALTH_DEGRADED_THRESHOLD" default:"1"`
	UnhealthyThreshold int           `envconfig:"HEALTH_UNHEALTHY_THRESHOLD" default:"2"`
}

// StorageConfig selects the hybrid storage backend
type StorageConfig struct {
	Backend string `envconfig:"STORAGE_BACKEND" default:"memory"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `envconfig:"DB_HOST" default:"localhost"`
	Port            int           `envconfig:"DB_PORT" default:"5432"`
	User            string        `envconfig:"DB_USER" default:"ingestor"`
	Password        string        `envconfig:"DB_PASSWORD" default:"ingestor"`
	Name            string        `envconfig:"DB_NAME" default:"solana_ingestor"`
	SSLMode         string        `envconfig:"DB_SSL_MODE" default:"disable"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
}

// RedisConfig holds Redis connection settings. An empty host disables the checkpoint store.
type RedisConfig struct {
	Host          string `envconfig:"REDIS_HOST" default:""`
	Port          int    `envconfig:"REDIS_PORT" default:"6379"`
	Password      string `envconfig:"REDIS_PASSWORD" default:""`
	DB            int    `envconfig:"REDIS_DB" default:"0"`
	CheckpointKey string `envconfig:"REDIS_CHECKPOINT_KEY" default:"ingestor:checkpoint"`
}

// APIConfig holds API server settings
type APIConfig struct {
	Host            string        `envconfig:"API_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"API_PORT" default:"8081"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"10s"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"30s"`
	RateLimitRPS    int           `envconfig:"API_RATE_LIMIT_RPS" default:"100"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

// DataSourceList decodes a JSON array of data source descriptors
type DataSourceList []entities.DataSourceDescriptor

// Decode implements envconfig.Decoder
func (l *DataSourceList) Decode(value string) error {
	if value == "" {
		return nil
	}
	var list []entities.DataSourceDescriptor
	if err := json.Unmarshal([]byte(value), &list); err != nil {
		return fmt.Errorf("failed to decode data sources: %w", err)
	}
	*l = list
	return nil
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Enabled reports whether a Redis host is configured
func (c *RedisConfig) Enabled() bool {
	return c.Host != ""
}

// DataSources returns the configured descriptors, or a single RPC source built
// from the Solana section when none are configured.
func (c *Config) DataSources() []entities.DataSourceDescriptor {
	if len(c.Ingestion.DataSources) > 0 {
		return c.Ingestion.DataSources
	}
	desc := entities.DataSourceDescriptor{
		ID:         "primary",
		Type:       entities.DataSourceRPC,
		Priority:   10,
		Endpoint:   c.Solana.RPCURL,
		WSEndpoint: c.Solana.WSURL,
		Enabled:    true,
		Timeout:    c.Solana.RequestTimeout,
		RetryPolicy: &entities.RetryPolicy{
			MaxRetries:        c.Solana.MaxRetries,
			InitialDelay:      c.Solana.RetryDelay,
			BackoffMultiplier: 2,
		},
	}
	if c.Solana.RateLimitRPS > 0 {
		desc.RateLimit = &entities.RateLimit{RequestsPerSecond: c.Solana.RateLimitRPS}
	}
	return []entities.DataSourceDescriptor{desc}
}

// IngestionSettings converts the environment settings into the ingestion service configuration
func (c *Config) IngestionSettings() (entities.IngestionConfig, error) {
	ic := entities.IngestionConfig{
		Mode:                entities.IngestionMode(c.Ingestion.Mode),
		DataSources:         c.DataSources(),
		FallbackStrategy:    entities.FallbackStrategy(c.Ingestion.FallbackStrategy),
		PollingInterval:     c.Ingestion.PollInterval,
		SubscriptionSources: c.Ingestion.SubscriptionSources,
	}
	if ic.Mode != entities.ModeLive {
		start, end := c.Ingestion.StartSlot, c.Ingestion.EndSlot
		ic.StartSlot = &start
		ic.EndSlot = &end
	}
	if err := ic.Validate(); err != nil {
		return entities.IngestionConfig{}, fmt.Errorf("invalid ingestion config: %w", err)
	}
	return ic, nil
}
