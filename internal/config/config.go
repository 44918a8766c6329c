package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Notification NotificationConfig `mapstructure:"notification"`
	Export       ExportConfig       `mapstructure:"export"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	HTTPPort int           `mapstructure:"http_port"`
	Host     string        `mapstructure:"host"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig contains Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	Database int    `mapstructure:"database"`
	PoolSize int    `mapstructure:"pool_size"`
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Brokers        []string      `mapstructure:"brokers"`
	GroupID        string        `mapstructure:"group_id"`
	EventTopic     string        `mapstructure:"event_topic"`
	ReportTopic    string        `mapstructure:"report_topic"`
	CommitInterval time.Duration `mapstructure:"commit_interval"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// PipelineConfig contains aggregation and validation settings
type PipelineConfig struct {
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Validation  ValidationConfig  `mapstructure:"validation"`
}

// AggregationConfig contains aggregation engine settings
type AggregationConfig struct {
	SourceTimeout        time.Duration `mapstructure:"source_timeout"`
	MaxConcurrentSources int           `mapstructure:"max_concurrent_sources"`
}

// ValidationConfig contains validation engine settings
type ValidationConfig struct {
	MaxConcurrentRules int `mapstructure:"max_concurrent_rules"`
}

// SchedulerConfig contains automation scheduler settings
type SchedulerConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	PassSchedule       string        `mapstructure:"pass_schedule"`
	RetentionSchedule  string        `mapstructure:"retention_schedule"`
	ExecutionRetention time.Duration `mapstructure:"execution_retention"`
	RunLockTTL         time.Duration `mapstructure:"run_lock_ttl"`
	RunTimeout         time.Duration `mapstructure:"run_timeout"`
}

// NotificationConfig contains notification dispatch settings
type NotificationConfig struct {
	WebhookTimeout  time.Duration `mapstructure:"webhook_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryWait       time.Duration `mapstructure:"retry_wait"`
	EscalationDelay time.Duration `mapstructure:"escalation_delay"`
}

// ExportConfig contains submission artifact settings
type ExportConfig struct {
	PDFFontFamily  string `mapstructure:"pdf_font_family"`
	ExcelSheetName string `mapstructure:"excel_sheet_name"`
	CSVDelimiter   string `mapstructure:"csv_delimiter"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	EnableMetrics bool   `mapstructure:"enable_metrics"`
	MetricsPath   string `mapstructure:"metrics_path"`
	HealthPath    string `mapstructure:"health_path"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/reporting-pipeline")
	}
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.timeout", "30s")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "30m")
	viper.SetDefault("database.migrations_path", "file://migrations")

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.database", 0)
	viper.SetDefault("redis.pool_size", 10)

	// Kafka defaults
	viper.SetDefault("kafka.enabled", true)
	viper.SetDefault("kafka.group_id", "reporting-pipeline")
	viper.SetDefault("kafka.event_topic", "platform.events")
	viper.SetDefault("kafka.report_topic", "reporting.lifecycle")
	viper.SetDefault("kafka.commit_interval", "1s")
	viper.SetDefault("kafka.write_timeout", "10s")

	// Pipeline defaults
	viper.SetDefault("pipeline.aggregation.source_timeout", "60s")
	viper.SetDefault("pipeline.aggregation.max_concurrent_sources", 4)
	viper.SetDefault("pipeline.validation.max_concurrent_rules", 8)

	// Scheduler defaults
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.pass_schedule", "0 */5 * * * *")
	viper.SetDefault("scheduler.retention_schedule", "0 0 3 * * *")
	viper.SetDefault("scheduler.execution_retention", "2160h")
	viper.SetDefault("scheduler.run_lock_ttl", "30m")
	viper.SetDefault("scheduler.run_timeout", "15m")

	// Notification defaults
	viper.SetDefault("notification.webhook_timeout", "10s")
	viper.SetDefault("notification.max_retries", 3)
	viper.SetDefault("notification.retry_wait", "2s")
	viper.SetDefault("notification.escalation_delay", "15m")

	// Export defaults
	viper.SetDefault("export.pdf_font_family", "Arial")
	viper.SetDefault("export.excel_sheet_name", "Report")
	viper.SetDefault("export.csv_delimiter", ",")

	// Monitoring defaults
	viper.SetDefault("monitoring.enable_metrics", true)
	viper.SetDefault("monitoring.metrics_path", "/metrics")
	viper.SetDefault("monitoring.health_path", "/health")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("Kafka brokers are required when Kafka is enabled")
	}

	if c.Scheduler.Enabled && c.Scheduler.PassSchedule == "" {
		return fmt.Errorf("scheduler pass schedule is required when the scheduler is enabled")
	}

	return nil
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.Username,
		c.Database.Password,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetRedisAddr returns the Redis connection address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// InitLogger initializes the logger based on configuration
func (c *Config) InitLogger() (*zap.Logger, error) {
	var config zap.Config

	if c.Server.Host == "0.0.0.0" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger, nil
}
