package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"possync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Backup       BackupConfig       `yaml:"backup"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Logging      LoggingConfig      `yaml:"logging"`
	API          APIConfig          `yaml:"api"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Sync         SyncConfig         `yaml:"sync"`
	Exports      ExportConfig       `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	// StatusTTLSeconds bounds how long a mirrored status survives without updates.
	StatusTTLSeconds int `yaml:"status_ttl_seconds"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type HousekeepingConfig struct {
	PurgeSchedule  string `yaml:"purge_schedule"`
	PurgeAfterDays int    `yaml:"purge_after_days"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool `yaml:"enabled"`
	Port       int  `yaml:"port"`
	Reflection bool `yaml:"reflection"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// GatewayConfig points at the restaurant backend REST API.
type GatewayConfig struct {
	BaseURL        string  `yaml:"base_url"`
	Token          string  `yaml:"token"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RPS            float64 `yaml:"rps"`
	Burst          int     `yaml:"burst"`
}

func (g GatewayConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// SyncConfig is the scheduler configuration surface.
type SyncConfig struct {
	Name                    string `yaml:"name"`
	IntervalSeconds         int    `yaml:"interval_seconds"`
	MinBackoffMillis        int64  `yaml:"min_backoff_ms"`
	MaxBackoffMillis        int64  `yaml:"max_backoff_ms"`
	RequiredNetwork         string `yaml:"required_network"`
	PreconditionPollSeconds int    `yaml:"precondition_poll_seconds"`
	MaxAttempts             int    `yaml:"max_attempts"`
	RefreshCatalog          bool   `yaml:"refresh_catalog"`
	// ProbeAddress is dialed to decide connectivity; defaults to the gateway host.
	ProbeAddress string `yaml:"probe_address"`
}

func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

func (s SyncConfig) MinBackoff() time.Duration {
	return time.Duration(s.MinBackoffMillis) * time.Millisecond
}

func (s SyncConfig) MaxBackoff() time.Duration {
	return time.Duration(s.MaxBackoffMillis) * time.Millisecond
}

func (s SyncConfig) PreconditionPoll() time.Duration {
	return time.Duration(s.PreconditionPollSeconds) * time.Second
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

const (
	defaultIntervalSeconds  = 900
	defaultMinBackoffMillis = 10_000
	defaultMaxBackoffMillis = 5 * 60 * 60 * 1000
	defaultPollSeconds      = 30
	defaultGatewayTimeout   = 30
)

func Load(configPath string) (*Config, error) {
	// .env is optional on terminals provisioned without one.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if strings.TrimSpace(c.Gateway.BaseURL) == "" {
		return errors.New("gateway base_url is required")
	}

	switch c.Sync.RequiredNetwork {
	case models.NetworkConnected, models.NetworkNotRequired:
	default:
		return fmt.Errorf("sync.required_network must be %q or %q, got %q",
			models.NetworkConnected, models.NetworkNotRequired, c.Sync.RequiredNetwork)
	}

	if c.Sync.IntervalSeconds <= 0 {
		return errors.New("sync.interval_seconds must be positive")
	}
	if c.Sync.MaxBackoffMillis < c.Sync.MinBackoffMillis {
		return errors.New("sync.max_backoff_ms must not be lower than sync.min_backoff_ms")
	}
	if c.Sync.MaxAttempts < 0 {
		return errors.New("sync.max_attempts must not be negative")
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "possync"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Redis.StatusTTLSeconds == 0 {
		c.Redis.StatusTTLSeconds = 24 * 60 * 60
	}

	if c.Gateway.TimeoutSeconds == 0 {
		c.Gateway.TimeoutSeconds = defaultGatewayTimeout
	}

	// Sync defaults: every 15 minutes, 10s exponential backoff floor.
	if c.Sync.Name == "" {
		c.Sync.Name = models.DefaultScheduleName
	}
	if c.Sync.IntervalSeconds == 0 {
		c.Sync.IntervalSeconds = defaultIntervalSeconds
	}
	if c.Sync.MinBackoffMillis == 0 {
		c.Sync.MinBackoffMillis = defaultMinBackoffMillis
	}
	if c.Sync.MaxBackoffMillis == 0 {
		c.Sync.MaxBackoffMillis = defaultMaxBackoffMillis
	}
	if c.Sync.RequiredNetwork == "" {
		c.Sync.RequiredNetwork = models.NetworkConnected
	}
	if c.Sync.PreconditionPollSeconds == 0 {
		c.Sync.PreconditionPollSeconds = defaultPollSeconds
	}

	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "@daily"
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
	if c.Housekeeping.PurgeSchedule == "" {
		c.Housekeeping.PurgeSchedule = "@daily"
	}
	if c.Housekeeping.PurgeAfterDays == 0 {
		c.Housekeeping.PurgeAfterDays = models.DefaultPurgeAfterDays
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
