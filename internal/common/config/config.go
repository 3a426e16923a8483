package config

import (
	"fmt"
	"net/url"
)

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Events   EventsConfig   `mapstructure:"events"`
	Push     PushConfig     `mapstructure:"push"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address    string `mapstructure:"address"`
	AdminToken string `mapstructure:"admin_token"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

// GetDSN returns the PostgreSQL connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// GetURL returns the PostgreSQL connection URL (used by golang-migrate).
func (p PostgresConfig) GetURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(p.User), url.QueryEscape(p.Password), p.Host, p.Port, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EventsConfig holds settings for the notification scheduler and the
// public event listing.
type EventsConfig struct {
	// Timezone is the reference civil time zone for the morning trigger.
	Timezone string `mapstructure:"timezone"`
	// TickInterval is the cron spec for the periodic notification check.
	TickInterval string `mapstructure:"tick_interval"`
	// DisplayWindowDays bounds recurring-event expansion on the public
	// listing (default 90).
	DisplayWindowDays int `mapstructure:"display_window_days"`
	// AnnounceTitle is the push title used when a new pop-up event is created.
	AnnounceTitle string `mapstructure:"announce_title"`
}

// PushConfig holds APNs and FCM transport settings.
type PushConfig struct {
	APNs APNsConfig `mapstructure:"apns"`
	FCM  FCMConfig  `mapstructure:"fcm"`
}

type APNsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	KeyPath  string `mapstructure:"key_path"`
	KeyID    string `mapstructure:"key_id"`
	TeamID   string `mapstructure:"team_id"`
	BundleID string `mapstructure:"bundle_id"`
	Timeout  int    `mapstructure:"timeout"` // milliseconds
}

type FCMConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	CredentialsPath string `mapstructure:"credentials_path"`
	ProjectID       string `mapstructure:"project_id"`
	Timeout         int    `mapstructure:"timeout"` // milliseconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
