package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// Config holds all configuration for a service
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Pool       PoolConfig       `mapstructure:"pool"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Migrations MigrationsConfig `mapstructure:"migrations"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Version    string           `mapstructure:"version"`
}

// ServiceConfig holds service-specific configuration
type ServiceConfig struct {
	Name        string `mapstructure:"name" envconfig:"SERVICE_NAME"`
	Environment string `mapstructure:"environment" envconfig:"ENVIRONMENT" default:"development"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port         int           `mapstructure:"port" envconfig:"HTTP_PORT" default:"8080"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" envconfig:"HTTP_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" envconfig:"HTTP_IDLE_TIMEOUT" default:"120s"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver" envconfig:"DB_DRIVER" default:"postgres"`
	Host     string `mapstructure:"host" envconfig:"DB_HOST" default:"localhost"`
	Port     int    `mapstructure:"port" envconfig:"DB_PORT" default:"5432"`
	User     string `mapstructure:"user" envconfig:"DB_USER" default:"postgres"`
	Password string `mapstructure:"password" envconfig:"DB_PASSWORD" default:"postgres"`
	Database string `mapstructure:"database" envconfig:"DB_NAME" default:"dbplane"`
	SSLMode  string `mapstructure:"ssl_mode" envconfig:"DB_SSL_MODE" default:"disable"`
}

// PoolConfig holds connection pool configuration
type PoolConfig struct {
	MaxConnections int           `mapstructure:"max_connections" envconfig:"POOL_MAX_CONNECTIONS" default:"25"`
	MinConnections int           `mapstructure:"min_connections" envconfig:"POOL_MIN_CONNECTIONS" default:"5"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" envconfig:"POOL_ACQUIRE_TIMEOUT" default:"5s"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime" envconfig:"POOL_MAX_LIFETIME" default:"30m"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" envconfig:"POOL_IDLE_TIMEOUT" default:"10m"`
	TestOnCheckout bool          `mapstructure:"test_on_checkout" envconfig:"POOL_TEST_ON_CHECKOUT"`
	TestOnIdle     bool          `mapstructure:"test_on_idle" envconfig:"POOL_TEST_ON_IDLE"`

	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
}

// HealthCheckConfig holds pool health monitor configuration
type HealthCheckConfig struct {
	Enabled     bool          `mapstructure:"enabled" envconfig:"POOL_HEALTH_ENABLED" default:"true"`
	Interval    time.Duration `mapstructure:"interval" envconfig:"POOL_HEALTH_INTERVAL" default:"30s"`
	Timeout     time.Duration `mapstructure:"timeout" envconfig:"POOL_HEALTH_TIMEOUT" default:"5s"`
	MaxFailures int           `mapstructure:"max_failures" envconfig:"POOL_HEALTH_MAX_FAILURES" default:"3"`
	Query       string        `mapstructure:"query" envconfig:"POOL_HEALTH_QUERY" default:"SELECT 1"`
}

// RedisConfig holds Redis configuration for the migration advisory lock
type RedisConfig struct {
	Host        string        `mapstructure:"host" envconfig:"REDIS_HOST" default:"localhost"`
	Port        int           `mapstructure:"port" envconfig:"REDIS_PORT" default:"6379"`
	Password    string        `mapstructure:"password" envconfig:"REDIS_PASSWORD"`
	DB          int           `mapstructure:"db" envconfig:"REDIS_DB" default:"0"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
}

// MigrationsConfig holds migration runner configuration
type MigrationsConfig struct {
	Table          string        `mapstructure:"table" envconfig:"MIGRATIONS_TABLE" default:"schema_migrations"`
	Environment    string        `mapstructure:"environment" envconfig:"MIGRATIONS_ENVIRONMENT"`
	RecordFailures bool          `mapstructure:"record_failures" envconfig:"MIGRATIONS_RECORD_FAILURES" default:"true"`
	LockEnabled    bool          `mapstructure:"lock_enabled" envconfig:"MIGRATIONS_LOCK_ENABLED"`
	LockKey        string        `mapstructure:"lock_key" envconfig:"MIGRATIONS_LOCK_KEY" default:"dbplane:migrations:lock"`
	LockTTL        time.Duration `mapstructure:"lock_ttl" envconfig:"MIGRATIONS_LOCK_TTL" default:"5m"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level" envconfig:"LOG_LEVEL" default:"info"`
	Format     string `mapstructure:"format" envconfig:"LOG_FORMAT" default:"json"`
	OutputPath string `mapstructure:"output_path" envconfig:"LOG_OUTPUT_PATH" default:"stdout"`
}

// MonitorConfig holds dbmonitor service configuration
type MonitorConfig struct {
	SweepSchedule string `mapstructure:"sweep_schedule" envconfig:"MONITOR_SWEEP_SCHEDULE" default:"@every 1m"`
	SystemMetrics bool   `mapstructure:"system_metrics" envconfig:"MONITOR_SYSTEM_METRICS" default:"true"`
}

// Load loads configuration from files and environment
func Load(serviceName string) (*Config, error) {
	var cfg Config

	cfg.Service.Name = serviceName

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("./configs/services/" + serviceName)
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; continue with env vars
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Override with environment variables
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env vars: %w", err)
	}

	if cfg.Migrations.Environment == "" {
		cfg.Migrations.Environment = cfg.Service.Environment
	}

	if version := os.Getenv("VERSION"); version != "" {
		cfg.Version = version
	} else {
		cfg.Version = "dev"
	}

	return &cfg, nil
}

// DSN returns the connection string in the configured driver's format
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "mysql" {
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Database)
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
