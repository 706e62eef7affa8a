package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		Database: DatabaseConfig{
			Driver: "mysql",
			Host:   "localhost",
			User:   "test",
			DBName: "test",
		},
		Scheduler: SchedulerConfig{IntervalMinutes: 5},
		Reconcile: ReconcileConfig{UserConcurrency: 1, CallTimeout: 30 * time.Second},
	}
}

func TestConfigValidation(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing port", func(c *Config) { c.Server.Port = "" }},
		{"missing db host", func(c *Config) { c.Database.Host = "" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"sqlite without path", func(c *Config) { c.Database = DatabaseConfig{Driver: "sqlite"} }},
		{"zero interval", func(c *Config) { c.Scheduler.IntervalMinutes = 0 }},
		{"zero concurrency", func(c *Config) { c.Reconcile.UserConcurrency = 0 }},
		{"redis without addr", func(c *Config) { c.Redis = RedisConfig{Enabled: true} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSecretsAreNotRequiredAtStartup(t *testing.T) {
	cfg := validConfig()
	cfg.Gmail = GmailConfig{}
	cfg.Security = SecurityConfig{}

	assert.NoError(t, cfg.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	mysql := DatabaseConfig{
		Driver:   "mysql",
		Host:     "localhost",
		Port:     3306,
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
	}
	assert.Equal(t, "testuser:testpass@tcp(localhost:3306)/testdb?charset=utf8mb4&parseTime=True&loc=Local", mysql.GetDSN())

	pg := mysql
	pg.Driver = "postgres"
	pg.Port = 5432
	pg.SSLMode = "disable"
	assert.Equal(t, "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable", pg.GetDSN())

	sqlite := DatabaseConfig{Driver: "sqlite", Path: "/tmp/outreach.db"}
	assert.Equal(t, "/tmp/outreach.db", sqlite.GetDSN())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("GOOGLE_CLIENT_ID", "client-id")
	t.Setenv("ENCRYPTION_KEY", "secret")
	t.Setenv("RECONCILE_CALL_TIMEOUT", "5s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "client-id", cfg.Gmail.ClientID)
	assert.Equal(t, "secret", cfg.Security.EncryptionKey)
	assert.Equal(t, 5*time.Second, cfg.Reconcile.CallTimeout)
	assert.Equal(t, 5, cfg.Scheduler.IntervalMinutes)
	assert.Equal(t, "https://oauth2.googleapis.com/token", cfg.Gmail.TokenURL)
	assert.Len(t, cfg.Gmail.Scopes, 2)
	assert.NoError(t, cfg.Validate())
}
