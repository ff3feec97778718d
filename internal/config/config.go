package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Push      PushConfig      `mapstructure:"push"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Security  SecurityConfig  `mapstructure:"security"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MiddlewareTimeout time.Duration `mapstructure:"middleware_timeout"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
}

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

// Realtime brokers
const (
	BrokerLocal = "local"
	BrokerRedis = "redis"
)

type RealtimeConfig struct {
	Broker         string        `mapstructure:"broker"`
	Channel        string        `mapstructure:"channel"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// Push providers
const (
	PushFCM  = "fcm"
	PushLog  = "log"
	PushNone = "none"
)

type PushConfig struct {
	Provider        string        `mapstructure:"provider"`
	ProjectID       string        `mapstructure:"project_id"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	TopicPrefix     string        `mapstructure:"topic_prefix"`
	UseQueue        bool          `mapstructure:"use_queue"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type QueueConfig struct {
	RunWorker   bool           `mapstructure:"run_worker"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
	PushQueue   string         `mapstructure:"push_queue"`
	MaxRetry    int            `mapstructure:"max_retry"`
	TaskTimeout time.Duration  `mapstructure:"task_timeout"`
}

type LifecycleConfig struct {
	LockTerminalSession   bool `mapstructure:"lock_terminal_session"`
	LockTerminalTopic     bool `mapstructure:"lock_terminal_topic"`
	SingleDiscussingTopic bool `mapstructure:"single_discussing_topic"`
}

type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type CacheConfig struct {
	BoardTTL time.Duration `mapstructure:"board_ttl"`
}

// LoggingConfig controls the global logger. A non-empty File adds a
// rotating log file next to the console output.
type LoggingConfig struct {
	Level        string        `mapstructure:"level"`
	Format       string        `mapstructure:"format"`
	File         string        `mapstructure:"file"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects combinations the server cannot start with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	switch c.Realtime.Broker {
	case BrokerLocal:
	case BrokerRedis:
		if !c.Redis.Enabled {
			return errors.New("realtime broker redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("unknown realtime broker %q", c.Realtime.Broker)
	}

	switch c.Push.Provider {
	case PushFCM, PushLog, PushNone:
	default:
		return fmt.Errorf("unknown push provider %q", c.Push.Provider)
	}
	if c.Push.UseQueue && !c.Redis.Enabled {
		return errors.New("push.use_queue requires redis.enabled")
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.middleware_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	// Database
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "leancoffee")
	v.SetDefault("database.database", "leancoffee")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)

	// Redis
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Auth
	v.SetDefault("auth.issuer", "lean-coffee")
	v.SetDefault("auth.access_token_ttl", "15m")

	// Realtime
	v.SetDefault("realtime.broker", BrokerLocal)
	v.SetDefault("realtime.channel", "leancoffee:events")
	v.SetDefault("realtime.send_buffer", 128)
	v.SetDefault("realtime.read_limit", 65536)
	v.SetDefault("realtime.ping_period", "30s")
	v.SetDefault("realtime.write_wait", "10s")
	v.SetDefault("realtime.command_timeout", "5s")

	// Push
	v.SetDefault("push.provider", PushLog)
	v.SetDefault("push.use_queue", false)
	v.SetDefault("push.timeout", "5s")

	// Queue
	v.SetDefault("queue.run_worker", true)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.queues", map[string]int{"push": 1})
	v.SetDefault("queue.push_queue", "push")
	v.SetDefault("queue.max_retry", 3)
	v.SetDefault("queue.task_timeout", "30s")

	// Lifecycle
	v.SetDefault("lifecycle.lock_terminal_session", false)
	v.SetDefault("lifecycle.lock_terminal_topic", true)
	v.SetDefault("lifecycle.single_discussing_topic", true)

	// Security
	v.SetDefault("security.rate_limit.enabled", true)
	v.SetDefault("security.rate_limit.requests_per_minute", 120)
	v.SetDefault("security.rate_limit.burst", 20)

	// Cache
	v.SetDefault("cache.board_ttl", "30s")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_age", "168h") // 7 days
	v.SetDefault("logging.rotation_time", "24h")
}

func bindEnvVars(v *viper.Viper) {
	// Database
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "POSTGRES_HOST")
	v.BindEnv("database.password", "POSTGRES_PASSWORD")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.port", "SERVER_PORT")

	// Auth
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")

	// Push
	v.BindEnv("push.provider", "PUSH_PROVIDER")
	v.BindEnv("push.credentials_file", "FIREBASE_CREDENTIALS_FILE")
	v.BindEnv("push.project_id", "FIREBASE_PROJECT_ID")
}
