package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// NotifierConfig tunes the Telegram delivery channel.
type NotifierConfig struct {
	MinDelaySeconds float64 `yaml:"min_delay"`
	MaxRetries      int     `yaml:"max_retries"`
	BackoffFactor   float64 `yaml:"backoff_factor"`
}

// MinDelay returns the minimum inter-send interval.
func (n NotifierConfig) MinDelay() time.Duration {
	return time.Duration(n.MinDelaySeconds * float64(time.Second))
}

// ArchiveConfig selects an optional archive backend for notified listings.
// Both fields empty means archiving is disabled.
type ArchiveConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	CSVPath     string `yaml:"csv_path"`
}

// KeywordConfig is one named search specification.
type KeywordConfig struct {
	Name     string   `yaml:"name"`
	Terms    []string `yaml:"terms"`
	MinPrice int      `yaml:"min_price"`
	MaxPrice int      `yaml:"max_price"`
	Include  []string `yaml:"include"`
	Exclude  []string `yaml:"exclude"`
}

// DisplayName returns the name used in notifications and daily counts,
// falling back to the first search term.
func (k KeywordConfig) DisplayName() string {
	if k.Name != "" {
		return k.Name
	}
	return k.Terms[0]
}

// Config holds all application configuration: Telegram credentials from the
// environment plus bot behaviour from the YAML config file.
type Config struct {
	BotToken string `yaml:"-"`
	ChatID   string `yaml:"-"`

	SeenFile            string `yaml:"seen_file"`
	MaxSeenItems        int    `yaml:"max_seen_items"`
	DailySummaryTime    string `yaml:"daily_summary_time"`
	KeywordBatchDelay   int    `yaml:"keyword_batch_delay"`
	FullCycleDelay      int    `yaml:"full_cycle_delay"`
	MaxItemsPerBatch    int    `yaml:"max_items_per_batch"`
	CyclesBeforeRestart int    `yaml:"cycles_before_restart"`
	ConvertToYen        bool   `yaml:"convert_to_yen"`
	Verbose             bool   `yaml:"verbose"`

	Notifier NotifierConfig  `yaml:"notifier"`
	Archive  ArchiveConfig   `yaml:"archive"`
	Keywords []KeywordConfig `yaml:"keywords"`
}

// BatchDelay is the pause between keyword batches.
func (c *Config) BatchDelay() time.Duration {
	return time.Duration(c.KeywordBatchDelay) * time.Second
}

// CycleDelay is the pause between full search cycles.
func (c *Config) CycleDelay() time.Duration {
	return time.Duration(c.FullCycleDelay) * time.Second
}

// SummaryClock parses the configured daily summary time of day.
func (c *Config) SummaryClock() (hour, minute int, err error) {
	if _, err := fmt.Sscanf(c.DailySummaryTime, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid daily_summary_time %q: %w", c.DailySummaryTime, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("daily_summary_time %q out of range", c.DailySummaryTime)
	}
	return hour, minute, nil
}

func defaults() *Config {
	return &Config{
		SeenFile:            "seen_items.json",
		MaxSeenItems:        6000,
		DailySummaryTime:    "12:30",
		KeywordBatchDelay:   10,
		FullCycleDelay:      60,
		MaxItemsPerBatch:    10,
		CyclesBeforeRestart: 10,
		Notifier: NotifierConfig{
			MinDelaySeconds: 1.2,
			MaxRetries:      5,
			BackoffFactor:   2.0,
		},
	}
}

// Load reads Telegram credentials from key.env (falling back to the process
// environment) and bot behaviour from the YAML file at path.
func Load(path string) (*Config, error) {
	// key.env is optional; credentials may come from the process env instead.
	_ = godotenv.Load("key.env")

	cfg := defaults()
	cfg.BotToken = getEnv("BOT_TOKEN", "")
	cfg.ChatID = getEnv("CHAT_ID", "")
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("missing Telegram credentials: BOT_TOKEN and CHAT_ID are required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Keywords) == 0 {
		return fmt.Errorf("no keywords configured")
	}
	for i, kw := range c.Keywords {
		if len(kw.Terms) == 0 {
			return fmt.Errorf("keyword #%d (%s): at least one search term is required", i+1, kw.Name)
		}
		if kw.MinPrice < 0 || kw.MaxPrice < 0 {
			return fmt.Errorf("keyword %q: price bounds must be non-negative", kw.DisplayName())
		}
		if kw.MinPrice > 0 && kw.MaxPrice > 0 && kw.MinPrice > kw.MaxPrice {
			return fmt.Errorf("keyword %q: min_price %d exceeds max_price %d",
				kw.DisplayName(), kw.MinPrice, kw.MaxPrice)
		}
	}
	if c.MaxSeenItems <= 0 {
		return fmt.Errorf("max_seen_items must be positive, got %d", c.MaxSeenItems)
	}
	if c.Notifier.BackoffFactor < 1 {
		return fmt.Errorf("notifier backoff_factor must be ≥ 1, got %v", c.Notifier.BackoffFactor)
	}
	if _, _, err := c.SummaryClock(); err != nil {
		return err
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
