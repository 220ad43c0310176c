package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/rpattn/fieldsync/internal/db"
)

// Storage drivers accepted by database.driver.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Client   ClientConfig
	Log      LogConfig
}

// ServerConfig configures the REST backend.
type ServerConfig struct {
	Addr            string
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig selects and configures persistence.
type DatabaseConfig struct {
	Driver     string
	Postgres   db.Config
	Migrations bool
}

// ClientConfig configures the REST client and the reconciliation engine used
// by the panel CLI.
type ClientConfig struct {
	BaseURL     string
	Token       string
	User        string
	Timeout     time.Duration
	StatusDelay time.Duration
	PageSize    int
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string
	Format string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8000",
			AllowedOrigins:  []string{"http://localhost:3000"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:     DriverMemory,
			Postgres:   db.DefaultConfig(),
			Migrations: true,
		},
		Client: ClientConfig{
			BaseURL:     "http://localhost:8000/api",
			Timeout:     10 * time.Second,
			StatusDelay: 2 * time.Second,
			PageSize:    25,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads config.yaml from configPath (optional), .env files and
// FIELDSYNC_* environment variables, in increasing order of precedence.
// Keys are dotted (database.host); the matching variable is
// FIELDSYNC_DATABASE_HOST.
func Load(configPath string) (Config, error) {
	loadEnvFiles()

	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix("FIELDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for _, key := range knownKeys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		log.Debug().Msg("no config.yaml found, using defaults and env vars")
	} else {
		log.Debug().Str("file", v.ConfigFileUsed()).Msg("loaded config file")
	}

	// Override defaults if values exist
	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = splitList(v.GetStringSlice("server.allowed_origins"))
	}
	if v.IsSet("server.read_timeout") {
		cfg.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	}
	if v.IsSet("server.write_timeout") {
		cfg.Server.WriteTimeout = v.GetDuration("server.write_timeout")
	}
	if v.IsSet("server.idle_timeout") {
		cfg.Server.IdleTimeout = v.GetDuration("server.idle_timeout")
	}
	if v.IsSet("server.shutdown_timeout") {
		cfg.Server.ShutdownTimeout = v.GetDuration("server.shutdown_timeout")
	}

	if v.IsSet("database.driver") {
		cfg.Database.Driver = strings.ToLower(v.GetString("database.driver"))
	}
	if v.IsSet("database.migrations") {
		cfg.Database.Migrations = v.GetBool("database.migrations")
	}
	if v.IsSet("database.host") {
		cfg.Database.Postgres.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Postgres.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.Postgres.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Postgres.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.Postgres.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.Postgres.SSLMode = v.GetString("database.sslmode")
	}

	if v.IsSet("client.base_url") {
		cfg.Client.BaseURL = strings.TrimRight(v.GetString("client.base_url"), "/")
	}
	if v.IsSet("client.token") {
		cfg.Client.Token = v.GetString("client.token")
	}
	if v.IsSet("client.user") {
		cfg.Client.User = v.GetString("client.user")
	}
	if v.IsSet("client.timeout") {
		cfg.Client.Timeout = v.GetDuration("client.timeout")
	}
	if v.IsSet("client.status_delay") {
		cfg.Client.StatusDelay = v.GetDuration("client.status_delay")
	}
	if v.IsSet("client.page_size") {
		cfg.Client.PageSize = v.GetInt("client.page_size")
	}

	if v.IsSet("log.level") {
		cfg.Log.Level = v.GetString("log.level")
	}
	if v.IsSet("log.format") {
		cfg.Log.Format = v.GetString("log.format")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var knownKeys = []string{
	"server.addr", "server.allowed_origins", "server.read_timeout", "server.write_timeout",
	"server.idle_timeout", "server.shutdown_timeout",
	"database.driver", "database.migrations", "database.host", "database.port",
	"database.user", "database.password", "database.dbname", "database.sslmode",
	"client.base_url", "client.token", "client.user", "client.timeout",
	"client.status_delay", "client.page_size",
	"log.level", "log.format",
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory, DriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Client.Timeout <= 0 {
		return fmt.Errorf("client.timeout must be positive")
	}
	if c.Client.StatusDelay <= 0 {
		return fmt.Errorf("client.status_delay must be positive")
	}
	if c.Client.PageSize <= 0 {
		return fmt.Errorf("client.page_size must be positive")
	}
	return nil
}

// loadEnvFiles loads .env then .env.local. Existing variables win.
func loadEnvFiles() {
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Load(envFile)
	}
}

// splitList accepts both YAML lists and a comma separated env value.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
