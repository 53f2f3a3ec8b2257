package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CAREFLOW_DATABASE_HOST.
const EnvPrefix = "careflow"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Mail     MailConfig     `mapstructure:"mail"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" split_words:"true"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst" split_words:"true"`
	HealthPort      int           `mapstructure:"health_port" split_words:"true"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode" envconfig:"SSLMODE"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" split_words:"true"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" split_words:"true"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" split_words:"true"`
	MaxTxRetries    int           `mapstructure:"max_tx_retries" split_words:"true"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Channel      string        `mapstructure:"channel"`
	PoolSize     int           `mapstructure:"pool_size" split_words:"true"`
	MinIdleConns int           `mapstructure:"min_idle_conns" split_words:"true"`
	MaxRetries   int           `mapstructure:"max_retries" split_words:"true"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" split_words:"true"`
}

type StorageConfig struct {
	Endpoint         string        `mapstructure:"endpoint"`
	AccessKey        string        `mapstructure:"access_key" split_words:"true"`
	SecretKey        string        `mapstructure:"secret_key" split_words:"true"`
	Bucket           string        `mapstructure:"bucket"`
	Region           string        `mapstructure:"region"`
	UseSSL           bool          `mapstructure:"use_ssl" envconfig:"USE_SSL"`
	PresignTTL       time.Duration `mapstructure:"presign_ttl" envconfig:"PRESIGN_TTL"`
	MaxUploadBytes   int64         `mapstructure:"max_upload_bytes" split_words:"true"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" split_words:"true"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type OutboxConfig struct {
	BatchSize    int           `mapstructure:"batch_size" split_words:"true"`
	PollInterval time.Duration `mapstructure:"poll_interval" split_words:"true"`
	MaxRetries   int           `mapstructure:"max_retries" split_words:"true"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" split_words:"true"`
	// Retention is how long PROCESSED events are kept before the sweeper
	// deletes them.
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" split_words:"true"`
}

type MailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	Enabled  bool   `mapstructure:"enabled"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" envconfig:"OTLP_ENDPOINT"`
	SampleRate   float64 `mapstructure:"sample_rate" split_words:"true"`
	ServiceName  string  `mapstructure:"service_name" split_words:"true"`
	Environment  string  `mapstructure:"environment"`
}

type WorkflowConfig struct {
	PrescriptionValidity           time.Duration `mapstructure:"prescription_validity" split_words:"true"`
	AllowInitialPrescriptionStatus bool          `mapstructure:"allow_initial_prescription_status" split_words:"true"`
	UnitTimeout                    time.Duration `mapstructure:"unit_timeout" split_words:"true"`
	CompensationTimeout            time.Duration `mapstructure:"compensation_timeout" split_words:"true"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.rate_limit_rps", 100)
	v.SetDefault("server.rate_limit_burst", 200)
	v.SetDefault("server.health_port", 8081)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "careflow")
	v.SetDefault("database.name", "careflow")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.max_tx_retries", 3)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.channel", "careflow.events")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", 5*time.Second)

	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.bucket", "careflow")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.presign_ttl", 600*time.Second)
	v.SetDefault("storage.max_upload_bytes", 20<<20)
	v.SetDefault("storage.operation_timeout", 15*time.Second)

	v.SetDefault("jwt.issuer", "careflow-identity")

	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.poll_interval", 2*time.Second)
	v.SetDefault("outbox.max_retries", 5)
	v.SetDefault("outbox.retry_backoff", 500*time.Millisecond)
	v.SetDefault("outbox.retention", 7*24*time.Hour)
	v.SetDefault("outbox.sweep_interval", time.Hour)

	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.from", "no-reply@careflow.local")

	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "careflow-api")
	v.SetDefault("tracing.environment", "development")

	v.SetDefault("workflow.prescription_validity", 30*24*time.Hour)
	v.SetDefault("workflow.allow_initial_prescription_status", false)
	v.SetDefault("workflow.unit_timeout", 10*time.Second)
	v.SetDefault("workflow.compensation_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml from the working directory or ./config, falls
// back to defaults when no file exists, then applies CAREFLOW_* overrides.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return &cfg, nil
}
