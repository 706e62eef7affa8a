package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Gmail     GmailConfig     `mapstructure:"gmail"`
	Security  SecurityConfig  `mapstructure:"security"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Drafting  DraftingConfig  `mapstructure:"drafting"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"`
}

// GmailConfig holds Google OAuth and Gmail API configuration
type GmailConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	APIEndpoint  string   `mapstructure:"api_endpoint"`
	Scopes       []string `mapstructure:"scopes"`
}

// SecurityConfig holds secrets for credential sealing and request identity
type SecurityConfig struct {
	EncryptionKey string        `mapstructure:"encryption_key"`
	JWTSecret     string        `mapstructure:"jwt_secret"`
	StateTTL      time.Duration `mapstructure:"state_ttl"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
}

// ReconcileConfig tunes the reply reconciliation job
type ReconcileConfig struct {
	UserConcurrency int           `mapstructure:"user_concurrency"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
}

// RedisConfig holds the run-lock backend configuration
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockKey  string        `mapstructure:"lock_key"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// DraftingConfig holds the generative drafting service configuration
type DraftingConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
}

// LoadConfig loads configuration from .env, environment variables and config file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")

	v.SetDefault("log.level", "info")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "cold-outreach.db")

	v.SetDefault("gmail.auth_url", "https://accounts.google.com/o/oauth2/auth")
	v.SetDefault("gmail.token_url", "https://oauth2.googleapis.com/token")
	v.SetDefault("gmail.api_endpoint", "https://gmail.googleapis.com/")
	v.SetDefault("gmail.scopes", []string{
		"https://www.googleapis.com/auth/gmail.readonly",
		"https://www.googleapis.com/auth/gmail.send",
	})

	v.SetDefault("security.state_ttl", "10m")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval_minutes", 5)

	v.SetDefault("reconcile.user_concurrency", 1)
	v.SetDefault("reconcile.call_timeout", "30s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.lock_key", "cold-outreach:reconcile:lock")
	v.SetDefault("redis.lock_ttl", "10m")

	v.SetDefault("drafting.model", "gpt-4")
	v.SetDefault("drafting.base_url", "https://api.openai.com/v1")
	v.SetDefault("drafting.timeout", "60s")
	v.SetDefault("drafting.temperature", 0.7)
	v.SetDefault("drafting.max_tokens", 500)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"server.port":          "SERVER_PORT",
		"server.read_timeout":  "SERVER_READ_TIMEOUT",
		"server.write_timeout": "SERVER_WRITE_TIMEOUT",

		"log.level": "LOG_LEVEL",

		"database.driver":   "DB_DRIVER",
		"database.host":     "DB_HOST",
		"database.port":     "DB_PORT",
		"database.user":     "DB_USER",
		"database.password": "DB_PASSWORD",
		"database.dbname":   "DB_NAME",
		"database.sslmode":  "DB_SSLMODE",
		"database.path":     "DB_PATH",

		"gmail.client_id":     "GOOGLE_CLIENT_ID",
		"gmail.client_secret": "GOOGLE_CLIENT_SECRET",
		"gmail.redirect_url":  "GOOGLE_REDIRECT_URL",
		"gmail.auth_url":      "GOOGLE_AUTH_URL",
		"gmail.token_url":     "GOOGLE_TOKEN_URL",
		"gmail.api_endpoint":  "GMAIL_API_ENDPOINT",

		"security.encryption_key": "ENCRYPTION_KEY",
		"security.jwt_secret":     "JWT_SECRET",
		"security.state_ttl":      "OAUTH_STATE_TTL",

		"scheduler.enabled":          "SCHEDULER_ENABLED",
		"scheduler.interval_minutes": "SCHEDULER_INTERVAL_MINUTES",

		"reconcile.user_concurrency": "RECONCILE_USER_CONCURRENCY",
		"reconcile.call_timeout":     "RECONCILE_CALL_TIMEOUT",

		"redis.enabled":  "REDIS_ENABLED",
		"redis.addr":     "REDIS_ADDR",
		"redis.password": "REDIS_PASSWORD",
		"redis.db":       "REDIS_DB",
		"redis.lock_key": "REDIS_LOCK_KEY",
		"redis.lock_ttl": "REDIS_LOCK_TTL",

		"drafting.api_key":     "OPENAI_API_KEY",
		"drafting.model":       "DRAFTING_MODEL",
		"drafting.base_url":    "DRAFTING_BASE_URL",
		"drafting.timeout":     "DRAFTING_TIMEOUT",
		"drafting.temperature": "DRAFTING_TEMPERATURE",
		"drafting.max_tokens":  "DRAFTING_MAX_TOKENS",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	return nil
}

// GetDSN returns the database connection string for the configured driver
func (c *DatabaseConfig) GetDSN() string {
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	case "sqlite":
		return c.Path
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	}
}

// Validate validates the structural configuration needed at startup.
// OAuth and encryption secrets are checked by the operation that uses them.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "mysql", "postgres":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	if c.Reconcile.UserConcurrency <= 0 {
		return fmt.Errorf("reconcile user concurrency must be greater than 0")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when redis is enabled")
	}

	return nil
}
