package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/amrwatch/internal/logger"
)

// EnvPrefix prefixes environment overrides, e.g. AMRWATCH_STORE_DSN.
const EnvPrefix = "AMRWATCH"

// Config represents the complete application configuration
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Server   ServerConfig   `mapstructure:"server"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Export   ExportConfig   `mapstructure:"export"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// StoreConfig holds the external test-record store connection and layout
type StoreConfig struct {
	Driver       string        `mapstructure:"driver"`
	DSN          string        `mapstructure:"dsn"`
	Table        string        `mapstructure:"table"`
	Columns      ColumnsConfig `mapstructure:"columns"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
}

// ColumnsConfig names the columns of the store table. Location is optional.
type ColumnsConfig struct {
	Timestamp string `mapstructure:"timestamp"`
	Ward      string `mapstructure:"ward"`
	Organism  string `mapstructure:"organism"`
	Outcome   string `mapstructure:"outcome"`
	Location  string `mapstructure:"location"`
}

// AnalysisConfig holds the anomaly detection defaults
type AnalysisConfig struct {
	WindowDays      int     `mapstructure:"window_days"`
	ZThreshold      float64 `mapstructure:"z_threshold"`
	WindowMode      string  `mapstructure:"window_mode"`
	CountMinSupport int     `mapstructure:"count_min_support"`
	RateDirection   string  `mapstructure:"rate_direction"`
	Concurrency     int     `mapstructure:"concurrency"`
	TopOrganisms    int     `mapstructure:"top_organisms"`
}

// ServerConfig holds HTTP API configuration
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	MaxAlerts      int           `mapstructure:"max_alerts"`
}

// ExportConfig holds Excel export configuration
type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

// ArchiveConfig holds DynamoDB alert archive configuration
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Region  string `mapstructure:"region"`
	Table   string `mapstructure:"table"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. An empty path
// skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Store defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "./data/micro.db")
	v.SetDefault("store.table", "micro_test")
	v.SetDefault("store.columns.timestamp", "datetime")
	v.SetDefault("store.columns.ward", "inpatient_ward_name")
	v.SetDefault("store.columns.organism", "micro_test_name")
	v.SetDefault("store.columns.outcome", "test_result_other")
	v.SetDefault("store.columns.location", "")
	v.SetDefault("store.max_open_conns", 4)

	// Analysis defaults
	v.SetDefault("analysis.window_days", 7)
	v.SetDefault("analysis.z_threshold", 2.5)
	v.SetDefault("analysis.window_mode", "exclusive")
	v.SetDefault("analysis.count_min_support", 2)
	v.SetDefault("analysis.rate_direction", "up")
	v.SetDefault("analysis.concurrency", 1)
	v.SetDefault("analysis.top_organisms", 10)

	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "10m")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.max_alerts", 20)

	// Export defaults
	v.SetDefault("export.dir", "./exports")

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.region", "eu-west-1")
	v.SetDefault("archive.table", "AmrAlerts")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Store config
	validDrivers := map[string]bool{"sqlite": true, "sqlite3": true, "postgres": true}
	if !validDrivers[c.Store.Driver] {
		return fmt.Errorf("store.driver must be one of: sqlite, sqlite3, postgres")
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if c.Store.Table == "" {
		return fmt.Errorf("store.table is required")
	}
	if c.Store.Columns.Timestamp == "" || c.Store.Columns.Organism == "" || c.Store.Columns.Outcome == "" {
		return fmt.Errorf("store.columns.timestamp, organism and outcome are required")
	}
	if c.Store.Columns.Ward == "" && c.Store.Columns.Location == "" {
		return fmt.Errorf("store.columns.ward is required unless store.columns.location is set")
	}
	if c.Store.MaxOpenConns < 1 {
		return fmt.Errorf("store.max_open_conns must be at least 1")
	}

	// Validate Analysis config
	if c.Analysis.WindowDays < 1 {
		return fmt.Errorf("analysis.window_days must be at least 1")
	}
	if c.Analysis.ZThreshold <= 0 {
		return fmt.Errorf("analysis.z_threshold must be positive")
	}
	validModes := map[string]bool{"exclusive": true, "inclusive": true}
	if !validModes[c.Analysis.WindowMode] {
		return fmt.Errorf("analysis.window_mode must be one of: exclusive, inclusive")
	}
	if c.Analysis.CountMinSupport < 0 {
		return fmt.Errorf("analysis.count_min_support must not be negative")
	}
	validDirections := map[string]bool{"up": true, "both": true}
	if !validDirections[c.Analysis.RateDirection] {
		return fmt.Errorf("analysis.rate_direction must be one of: up, both")
	}
	if c.Analysis.Concurrency < 1 {
		return fmt.Errorf("analysis.concurrency must be at least 1")
	}

	// Validate Server config
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.MaxRetries < 1 {
			return fmt.Errorf("telegram.max_retries must be at least 1")
		}
	}

	// Validate Archive config
	if c.Archive.Enabled {
		if c.Archive.Region == "" {
			return fmt.Errorf("archive.region is required when archive is enabled")
		}
		if c.Archive.Table == "" {
			return fmt.Errorf("archive.table is required when archive is enabled")
		}
	}

	// Validate Logging config
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
