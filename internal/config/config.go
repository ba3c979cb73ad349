package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/rewired-gh/flipwatch/internal/monitor"
	"github.com/rewired-gh/flipwatch/internal/reliability"
)

// Config represents the complete application configuration
type Config struct {
	Feed        FeedConfig        `mapstructure:"feed"`
	Signal      SignalConfig      `mapstructure:"signal"`
	Popularity  PopularityConfig  `mapstructure:"popularity"`
	Reliability ReliabilityConfig `mapstructure:"reliability"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Discord     DiscordConfig     `mapstructure:"discord"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// FeedConfig holds the listing feed configuration
type FeedConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	MinRating      int           `mapstructure:"min_rating"`
	Limit          int           `mapstructure:"limit"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// SignalConfig holds the gap thresholds
type SignalConfig struct {
	MinimumCardPrice     int64   `mapstructure:"minimum_card_price"`
	MinimumGapCoins      int64   `mapstructure:"minimum_gap_coins"`
	MinimumGapPercentage float64 `mapstructure:"minimum_gap_percentage"`
	TaxRate              float64 `mapstructure:"tax_rate"`
	SanityFloor          int64   `mapstructure:"sanity_floor"` // lowest believable buy price
}

type PopularityConfig struct {
	Window          time.Duration `mapstructure:"window"`
	ImmediateRating int           `mapstructure:"immediate_rating"`
	SpecialKeywords []string      `mapstructure:"special_keywords"`
}

type ReliabilityConfig struct {
	BlacklistScore            float64 `mapstructure:"blacklist_score"`
	BlacklistMinOutcomes      int     `mapstructure:"blacklist_min_outcomes"`
	LowReliabilityScore       float64 `mapstructure:"low_reliability_score"`
	LowReliabilityMinOutcomes int     `mapstructure:"low_reliability_min_outcomes"`
}

// MonitorConfig holds monitoring behavior configuration
type MonitorConfig struct {
	AlertCooldown            time.Duration `mapstructure:"alert_cooldown"`
	ExtinctCooldown          time.Duration `mapstructure:"extinct_cooldown"`
	CandidateCooldown        time.Duration `mapstructure:"candidate_cooldown"`
	SuspiciousCandidateCount int           `mapstructure:"suspicious_candidate_count"`
	Workers                  int           `mapstructure:"workers"`
	RequestsPerSecond        float64       `mapstructure:"requests_per_second"`
	SendCycleSummaries       bool          `mapstructure:"send_cycle_summaries"`
	StartupNoticeWindow      time.Duration `mapstructure:"startup_notice_window"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	SendsPerSecond float64       `mapstructure:"sends_per_second"`
}

// DiscordConfig holds the optional webhook channel. An empty WebhookURL
// disables it.
type DiscordConfig struct {
	WebhookURL     string        `mapstructure:"webhook_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds storage and retention configuration
type StorageConfig struct {
	DBPath        string        `mapstructure:"db_path"`
	PruneSchedule string        `mapstructure:"prune_schedule"`
	Retention     time.Duration `mapstructure:"retention"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. Variables in
// envFiles (default ".env") are exported first; missing env files are ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("FLIPWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The bot and webhook credentials are also accepted under their conventional names.
	_ = v.BindEnv("telegram.bot_token", "FLIPWATCH_TELEGRAM_BOT_TOKEN", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("telegram.chat_id", "FLIPWATCH_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID")
	_ = v.BindEnv("discord.webhook_url", "FLIPWATCH_DISCORD_WEBHOOK_URL", "DISCORD_WEBHOOK_URL")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("feed.base_url", "http://localhost:8080")
	v.SetDefault("feed.min_rating", 82)
	v.SetDefault("feed.limit", 200)
	v.SetDefault("feed.poll_interval", "5m")
	v.SetDefault("feed.timeout", "30s")
	v.SetDefault("feed.max_retries", 3)
	v.SetDefault("feed.retry_delay_base", "1s")

	v.SetDefault("signal.minimum_card_price", 5000)
	v.SetDefault("signal.minimum_gap_coins", 1000)
	v.SetDefault("signal.minimum_gap_percentage", 5.0)
	v.SetDefault("signal.tax_rate", 0.05)
	v.SetDefault("signal.sanity_floor", 500)

	v.SetDefault("popularity.window", "168h")
	v.SetDefault("popularity.immediate_rating", 84)
	v.SetDefault("popularity.special_keywords",
		[]string{"toty", "tots", "motm", "if", "sbc", "icon", "hero", "rttk", "fof"})

	v.SetDefault("reliability.blacklist_score", 20.0)
	v.SetDefault("reliability.blacklist_min_outcomes", 3)
	v.SetDefault("reliability.low_reliability_score", 30.0)
	v.SetDefault("reliability.low_reliability_min_outcomes", 5)

	v.SetDefault("monitor.alert_cooldown", "6h")
	v.SetDefault("monitor.extinct_cooldown", "6h")
	v.SetDefault("monitor.candidate_cooldown", "24h")
	v.SetDefault("monitor.suspicious_candidate_count", 3)
	v.SetDefault("monitor.workers", 4)
	v.SetDefault("monitor.requests_per_second", 2.0)
	v.SetDefault("monitor.send_cycle_summaries", false)
	v.SetDefault("monitor.startup_notice_window", "5m")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.sends_per_second", 1.0)

	v.SetDefault("discord.webhook_url", "")
	v.SetDefault("discord.timeout", "10s")
	v.SetDefault("discord.max_retries", 3)
	v.SetDefault("discord.retry_delay_base", "1s")

	v.SetDefault("storage.db_path", "./data/flipwatch.db")
	v.SetDefault("storage.prune_schedule", "@daily")
	v.SetDefault("storage.retention", "720h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Feed.BaseURL == "" {
		return fmt.Errorf("feed.base_url is required")
	}
	if c.Feed.PollInterval < 1*time.Minute {
		return fmt.Errorf("feed.poll_interval must be at least 1 minute")
	}
	if c.Feed.MinRating < 0 || c.Feed.MinRating > 99 {
		return fmt.Errorf("feed.min_rating must be between 0 and 99")
	}
	if c.Feed.Limit < 1 || c.Feed.Limit > 1000 {
		return fmt.Errorf("feed.limit must be between 1 and 1000")
	}
	if c.Feed.Timeout <= 0 {
		return fmt.Errorf("feed.timeout must be positive")
	}

	if c.Signal.MinimumCardPrice < 0 {
		return fmt.Errorf("signal.minimum_card_price must not be negative")
	}
	if c.Signal.MinimumGapCoins < 0 {
		return fmt.Errorf("signal.minimum_gap_coins must not be negative")
	}
	if c.Signal.MinimumGapPercentage < 0 {
		return fmt.Errorf("signal.minimum_gap_percentage must not be negative")
	}
	if c.Signal.TaxRate < 0 || c.Signal.TaxRate >= 1 {
		return fmt.Errorf("signal.tax_rate must be in [0, 1)")
	}

	if c.Popularity.Window < 1*time.Hour {
		return fmt.Errorf("popularity.window must be at least 1 hour")
	}

	if c.Reliability.BlacklistScore < 0 || c.Reliability.BlacklistScore > 100 {
		return fmt.Errorf("reliability.blacklist_score must be between 0 and 100")
	}
	if c.Reliability.LowReliabilityScore < 0 || c.Reliability.LowReliabilityScore > 100 {
		return fmt.Errorf("reliability.low_reliability_score must be between 0 and 100")
	}

	if c.Monitor.AlertCooldown < 0 || c.Monitor.ExtinctCooldown < 0 || c.Monitor.CandidateCooldown < 0 {
		return fmt.Errorf("monitor cooldowns must not be negative")
	}
	if c.Monitor.Workers < 1 {
		return fmt.Errorf("monitor.workers must be at least 1")
	}
	if c.Monitor.RequestsPerSecond <= 0 {
		return fmt.Errorf("monitor.requests_per_second must be positive")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Discord.WebhookURL != "" {
		u, err := url.Parse(c.Discord.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("discord.webhook_url must be an http(s) URL")
		}
		if c.Discord.Timeout <= 0 {
			return fmt.Errorf("discord.timeout must be positive")
		}
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.PruneSchedule != "" {
		if _, err := cron.ParseStandard(c.Storage.PruneSchedule); err != nil {
			return fmt.Errorf("storage.prune_schedule is invalid: %w", err)
		}
		if c.Storage.Retention < 24*time.Hour {
			return fmt.Errorf("storage.retention must be at least 24h")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// MonitorSettings builds the engine configuration, keeping built-in anomaly
// and popularity weights for everything the file does not expose.
func (c *Config) MonitorSettings() monitor.Config {
	mc := monitor.DefaultConfig()

	mc.Gap.MinimumCardPrice = c.Signal.MinimumCardPrice
	mc.Gap.MinimumGapCoins = c.Signal.MinimumGapCoins
	mc.Gap.MinimumGapPercentage = c.Signal.MinimumGapPercentage
	mc.Gap.TaxRate = c.Signal.TaxRate
	mc.Gap.SanityFloor = c.Signal.SanityFloor

	mc.Popularity.Window = c.Popularity.Window
	mc.Popularity.ImmediateRating = c.Popularity.ImmediateRating
	if len(c.Popularity.SpecialKeywords) > 0 {
		mc.Popularity.SpecialKeywords = c.Popularity.SpecialKeywords
	}

	mc.AlertCooldown = c.Monitor.AlertCooldown
	mc.ExtinctCooldown = c.Monitor.ExtinctCooldown
	mc.CandidateCooldown = c.Monitor.CandidateCooldown
	mc.SuspiciousCandidateCount = c.Monitor.SuspiciousCandidateCount
	mc.Workers = c.Monitor.Workers
	mc.RequestsPerSecond = c.Monitor.RequestsPerSecond
	mc.FetchTimeout = c.Feed.Timeout
	return mc
}

func (c *Config) ReliabilitySettings() reliability.Config {
	return reliability.Config{
		BlacklistScore:            c.Reliability.BlacklistScore,
		BlacklistMinOutcomes:      c.Reliability.BlacklistMinOutcomes,
		LowReliabilityScore:       c.Reliability.LowReliabilityScore,
		LowReliabilityMinOutcomes: c.Reliability.LowReliabilityMinOutcomes,
	}
}
