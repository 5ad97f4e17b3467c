package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the review pipeline service
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	Business   BusinessConfig   `mapstructure:"business"`
	Platforms  PlatformsConfig  `mapstructure:"platforms"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Analytics  AnalyticsConfig  `mapstructure:"analytics"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("server.address is required")
	}
	return nil
}

// BusinessConfig identifies the business whose reviews are tracked
type BusinessConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

func (b BusinessConfig) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("business.id is required")
	}
	return nil
}

// PlatformsConfig maps each review platform to its credentials and endpoint
type PlatformsConfig struct {
	Enabled []string            `mapstructure:"enabled"`
	Google  PlatformCredentials `mapstructure:"google"`
	Yelp    PlatformCredentials `mapstructure:"yelp"`
	Fetch   PlatformFetchConfig `mapstructure:"fetch"`
}

// PlatformCredentials contains per-platform API access settings
type PlatformCredentials struct {
	Endpoint    string `mapstructure:"endpoint"`
	Token       string `mapstructure:"token"`
	RatingScale int    `mapstructure:"rating_scale"`
}

// PlatformFetchConfig bounds outbound fetch behaviour shared by all adapters
type PlatformFetchConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	Backoff    time.Duration `mapstructure:"backoff"`
}

func (p PlatformsConfig) Validate() error {
	if len(p.Enabled) == 0 {
		return fmt.Errorf("platforms.enabled must list at least one platform")
	}
	for _, name := range p.Enabled {
		switch name {
		case "google":
			if strings.TrimSpace(p.Google.Endpoint) == "" {
				return fmt.Errorf("platforms.google.endpoint required when google is enabled")
			}
		case "yelp":
			if strings.TrimSpace(p.Yelp.Endpoint) == "" {
				return fmt.Errorf("platforms.yelp.endpoint required when yelp is enabled")
			}
		default:
			return fmt.Errorf("platforms.enabled contains unknown platform %q", name)
		}
	}
	return nil
}

// LLMConfig contains the extraction model provider settings
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.APIKey) == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model is required")
	}
	return nil
}

// ExtractionConfig bounds the signal extraction workers
type ExtractionConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	RateLimitPerSec float64       `mapstructure:"rate_limit_per_sec"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	Backoff         time.Duration `mapstructure:"backoff"`
}

func (e ExtractionConfig) Validate() error {
	if e.Concurrency <= 0 {
		return fmt.Errorf("extraction.concurrency must be > 0")
	}
	if e.RateLimitPerSec <= 0 {
		return fmt.Errorf("extraction.rate_limit_per_sec must be > 0")
	}
	return nil
}

// StorageConfig contains review database and report persistence settings
type StorageConfig struct {
	DataDir         string        `mapstructure:"data_dir"`
	DatabaseFile    string        `mapstructure:"database_file"`
	ReportFile      string        `mapstructure:"report_file"`
	BackupDir       string        `mapstructure:"backup_dir"`
	BackupRetention time.Duration `mapstructure:"backup_retention"`
	BackupMaxCount  int           `mapstructure:"backup_max_count"`
}

func (s StorageConfig) Validate() error {
	if strings.TrimSpace(s.DataDir) == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if s.BackupMaxCount < 0 {
		return fmt.Errorf("storage.backup_max_count cannot be negative")
	}
	return nil
}

// DatabasePath returns the path of the review database file.
func (s StorageConfig) DatabasePath() string {
	return filepath.Join(s.DataDir, s.DatabaseFile)
}

// ReportPath returns the path of the persisted report file.
func (s StorageConfig) ReportPath() string {
	return filepath.Join(s.DataDir, s.ReportFile)
}

// BackupPath returns the directory holding database backup snapshots.
func (s StorageConfig) BackupPath() string {
	return filepath.Join(s.DataDir, s.BackupDir)
}

// SchedulerConfig controls the background refresh loop
type SchedulerConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Spec    string        `mapstructure:"spec"` // @daily, @hourly or 5-field cron
	Tick    time.Duration `mapstructure:"tick"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig contains optional run-lock settings for multi-replica deployments
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

func (r RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("scheduler.redis.host required when the run lock is enabled")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("scheduler.redis.port required when the run lock is enabled")
	}
	return nil
}

// AnalyticsConfig tunes report generation thresholds
type AnalyticsConfig struct {
	TrendMinDelta       float64 `mapstructure:"trend_min_delta"`
	TopPhrases          int     `mapstructure:"top_phrases"`
	MinPhraseOccurrence int     `mapstructure:"min_phrase_occurrence"`
	MaxFeedbackPhrases  int     `mapstructure:"max_feedback_phrases"`
	MaxPhraseLength     int     `mapstructure:"max_phrase_length"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PeriodicLogs bool          `mapstructure:"periodic_logs"`
	LogInterval  time.Duration `mapstructure:"log_interval"`
}

// StepCeiling returns the wall-clock bound after which a pipeline step is
// reported as stalled.
func (c *Config) StepCeiling() time.Duration {
	if c.General.DefaultTimeout > 0 {
		return c.General.DefaultTimeout
	}
	return 10 * time.Minute
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "10m")
	viper.SetDefault("server.address", ":10001")
	viper.SetDefault("platforms.enabled", []string{"google", "yelp"})
	viper.SetDefault("platforms.google.rating_scale", 5)
	viper.SetDefault("platforms.yelp.rating_scale", 5)
	viper.SetDefault("platforms.fetch.timeout", "30s")
	viper.SetDefault("platforms.fetch.max_retries", 3)
	viper.SetDefault("platforms.fetch.backoff", "500ms")
	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")
	viper.SetDefault("llm.temperature", 0.1)
	viper.SetDefault("llm.max_tokens", 1500)
	viper.SetDefault("llm.timeout", "60s")
	viper.SetDefault("extraction.concurrency", 4)
	viper.SetDefault("extraction.rate_limit_per_sec", 2.0)
	viper.SetDefault("extraction.max_retries", 3)
	viper.SetDefault("extraction.max_attempts", 3)
	viper.SetDefault("extraction.backoff", "500ms")
	viper.SetDefault("storage.data_dir", "./data")
	viper.SetDefault("storage.database_file", "reviews.json")
	viper.SetDefault("storage.report_file", "report.json")
	viper.SetDefault("storage.backup_dir", "backups")
	viper.SetDefault("storage.backup_retention", "720h")
	viper.SetDefault("storage.backup_max_count", 30)
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.spec", "@daily")
	viper.SetDefault("scheduler.tick", "1m")
	viper.SetDefault("scheduler.redis.lock_ttl", "30m")
	viper.SetDefault("analytics.trend_min_delta", 0.2)
	viper.SetDefault("analytics.top_phrases", 10)
	viper.SetDefault("analytics.min_phrase_occurrence", 2)
	viper.SetDefault("analytics.max_feedback_phrases", 5)
	viper.SetDefault("analytics.max_phrase_length", 80)
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.log_interval", "5m")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("REPUTE")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (REPUTE_*)

	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config

	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Server.Validate(); err != nil {
		panic(err)
	}
	if err := config.Business.Validate(); err != nil {
		panic(err)
	}
	if err := config.Platforms.Validate(); err != nil {
		panic(err)
	}
	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Extraction.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Validate(); err != nil {
		panic(err)
	}
	if err := config.Scheduler.Redis.Validate(); err != nil {
		panic(err)
	}
	return &config
}
