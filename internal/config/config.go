package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "fleet.cfg.json"

// ErrNoConfigFile is returned by Load when the directory has no config file.
// Defaults and environment overrides are still in effect.
var ErrNoConfigFile = errors.New("config file not found")

// SimulationConfig holds the update loop and content settings.
type SimulationConfig struct {
	ContentDir      string        `json:"contentDir" mapstructure:"contentDir"`
	RouteFile       string        `json:"routeFile" mapstructure:"routeFile"`
	SessionFile     string        `json:"sessionFile" mapstructure:"sessionFile"`
	TickInterval    time.Duration `json:"tickInterval" mapstructure:"tickInterval"`
	SpeedMultiplier float64       `json:"speedMultiplier" mapstructure:"speedMultiplier"`
	Timetable       bool          `json:"timetable" mapstructure:"timetable"`
}

// MultiplayerConfig holds replication settings.
type MultiplayerConfig struct {
	// Role is none, server or client.
	Role    string `json:"role" mapstructure:"role"`
	Address string `json:"address" mapstructure:"address"`
	User    string `json:"user" mapstructure:"user"`
	Secret  string `json:"secret" mapstructure:"secret"`
}

// SQLiteConfig holds SQLite save catalog settings
type SQLiteConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// StorageConfig holds save catalog settings
type StorageConfig struct {
	Type     string         `json:"type" mapstructure:"type"`
	Slot     string         `json:"slot" mapstructure:"slot"`
	SQLite   SQLiteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig `json:"postgres" mapstructure:"postgres"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// InfluxConfig holds fleet telemetry settings
type InfluxConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Host     string        `json:"host" mapstructure:"host"`
	Port     string        `json:"port" mapstructure:"port"`
	Protocol string        `json:"protocol" mapstructure:"protocol"`
	Token    string        `json:"token" mapstructure:"token"`
	Org      string        `json:"org" mapstructure:"org"`
	Bucket   string        `json:"bucket" mapstructure:"bucket"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

// TelemetryConfig groups everything that reports out of the process.
type TelemetryConfig struct {
	OTel           OTelConfig
	Influx         InfluxConfig
	GraylogEnabled bool
	GraylogAddress string
	SentryDSN      string
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./fleetlogs")

	viper.SetDefault("simulation.contentDir", "./content")
	viper.SetDefault("simulation.routeFile", "route.yaml")
	viper.SetDefault("simulation.sessionFile", "session.yaml")
	viper.SetDefault("simulation.tickInterval", "50ms")
	viper.SetDefault("simulation.speedMultiplier", 1.0)
	viper.SetDefault("simulation.timetable", false)

	viper.SetDefault("multiplayer.role", "none")
	viper.SetDefault("multiplayer.address", "ws://localhost:8090/replicate")
	viper.SetDefault("multiplayer.user", "player")
	viper.SetDefault("multiplayer.secret", "")

	viper.SetDefault("api.listen", ":8090")
	viper.SetDefault("api.allowedOrigins", []string{"*"})

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.slot", "autosave")
	viper.SetDefault("storage.sqlite.path", "./fleet.db")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "fleet")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "fleet")
	viper.SetDefault("influx.bucket", "fleet")
	viper.SetDefault("influx.interval", "10s")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "fleetsim")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("sentry.dsn", "")
}

// Load sets defaults, loads an optional .env file from configDir, enables
// FLEET_ environment overrides and reads fleet.cfg.json from configDir.
func Load(configDir string) error {
	setDefaults()

	envFile := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error reading %s: %w", envFile, err)
	}

	viper.SetEnvPrefix("FLEET")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return ErrNoConfigFile
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetStringSlice returns a string slice config value.
func GetStringSlice(key string) []string {
	return viper.GetStringSlice(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// GetSimulationConfig returns the simulation section.
func GetSimulationConfig() SimulationConfig {
	return SimulationConfig{
		ContentDir:      viper.GetString("simulation.contentDir"),
		RouteFile:       viper.GetString("simulation.routeFile"),
		SessionFile:     viper.GetString("simulation.sessionFile"),
		TickInterval:    viper.GetDuration("simulation.tickInterval"),
		SpeedMultiplier: viper.GetFloat64("simulation.speedMultiplier"),
		Timetable:       viper.GetBool("simulation.timetable"),
	}
}

// GetMultiplayerConfig returns the multiplayer section.
func GetMultiplayerConfig() MultiplayerConfig {
	return MultiplayerConfig{
		Role:    strings.ToLower(viper.GetString("multiplayer.role")),
		Address: viper.GetString("multiplayer.address"),
		User:    viper.GetString("multiplayer.user"),
		Secret:  viper.GetString("multiplayer.secret"),
	}
}

// GetStorageConfig returns the save catalog section.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Slot: viper.GetString("storage.slot"),
		SQLite: SQLiteConfig{
			Path: viper.GetString("storage.sqlite.path"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("storage.postgres.host"),
			Port:     viper.GetString("storage.postgres.port"),
			Username: viper.GetString("storage.postgres.username"),
			Password: viper.GetString("storage.postgres.password"),
			Database: viper.GetString("storage.postgres.database"),
		},
	}
}

// GetTelemetryConfig returns OTel, Influx, Graylog and Sentry settings.
func GetTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		OTel: OTelConfig{
			Enabled:      viper.GetBool("otel.enabled"),
			ServiceName:  viper.GetString("otel.serviceName"),
			BatchTimeout: viper.GetDuration("otel.batchTimeout"),
			Endpoint:     viper.GetString("otel.endpoint"),
			Insecure:     viper.GetBool("otel.insecure"),
		},
		Influx: InfluxConfig{
			Enabled:  viper.GetBool("influx.enabled"),
			Host:     viper.GetString("influx.host"),
			Port:     viper.GetString("influx.port"),
			Protocol: viper.GetString("influx.protocol"),
			Token:    viper.GetString("influx.token"),
			Org:      viper.GetString("influx.org"),
			Bucket:   viper.GetString("influx.bucket"),
			Interval: viper.GetDuration("influx.interval"),
		},
		GraylogEnabled: viper.GetBool("graylog.enabled"),
		GraylogAddress: viper.GetString("graylog.address"),
		SentryDSN:      viper.GetString("sentry.dsn"),
	}
}
