package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	// .env is optional; environment variables win either way.
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like DATABASE_POSTGRES_PASSWORD.
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = viper.MergeInConfig() // environment overlay is optional

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "popup-events"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Database.Postgres.Host == "" {
		cfg.Database.Postgres.Host = "localhost"
	}
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 10
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Postgres.MigrationsPath == "" {
		cfg.Database.Postgres.MigrationsPath = "migrations"
	}
	if cfg.Database.Redis.Address == "" {
		cfg.Database.Redis.Address = "localhost:6379"
	}
	if cfg.Events.Timezone == "" {
		cfg.Events.Timezone = "America/New_York"
	}
	if cfg.Events.TickInterval == "" {
		cfg.Events.TickInterval = "@every 5m"
	}
	if cfg.Events.DisplayWindowDays == 0 {
		cfg.Events.DisplayWindowDays = 90
	}
	if cfg.Events.AnnounceTitle == "" {
		cfg.Events.AnnounceTitle = "3 Strands Pop-Up Market!"
	}
	if cfg.Push.APNs.Timeout == 0 {
		cfg.Push.APNs.Timeout = 10000
	}
	if cfg.Push.FCM.Timeout == 0 {
		cfg.Push.FCM.Timeout = 10000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}
	if cfg.Push.APNs.Enabled {
		if cfg.Push.APNs.KeyPath == "" || cfg.Push.APNs.KeyID == "" || cfg.Push.APNs.TeamID == "" {
			return fmt.Errorf("push.apns requires key_path, key_id and team_id when enabled")
		}
	}
	if cfg.Push.FCM.Enabled && cfg.Push.FCM.CredentialsPath == "" {
		return fmt.Errorf("push.fcm.credentials_path is required when enabled")
	}
	return nil
}
