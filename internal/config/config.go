// Package config provides YAML-based configuration loading for Waybill.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Waybill configuration, loaded from waybill.yaml.
// Secrets (tokens, API keys) are never stored here; they come from the
// environment, optionally via a .env file.
type Config struct {
	GuildID   string          `yaml:"guild_id"`
	Store     StoreConfig     `yaml:"store"`
	Discord   DiscordConfig   `yaml:"discord"`
	Brain     BrainConfig     `yaml:"brain"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Notify    NotifyConfig    `yaml:"notify"`
	Issues    IssuesConfig    `yaml:"issues"`
	LockFile  string          `yaml:"lock_file"`
}

// StoreConfig selects and parameterizes the ticket store backend.
type StoreConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" (default) or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// DiscordConfig holds the guild-side layout the bot maintains.
type DiscordConfig struct {
	IntakeChannelID string     `yaml:"intake_channel_id"`
	StaffRoleIDs    []string   `yaml:"staff_role_ids"`
	Categories      Categories `yaml:"categories"`
	PanelCheckCron  string     `yaml:"panel_check_cron"`
}

// Categories names the channel groupings tickets move through.
type Categories struct {
	Inbox     string `yaml:"inbox"`
	Active    string `yaml:"active"`
	Escalated string `yaml:"escalated"`
	Archives  string `yaml:"archives"`
}

// All returns the category names in ensure-order.
func (c Categories) All() []string {
	return []string{c.Inbox, c.Active, c.Escalated, c.Archives}
}

// BrainConfig parameterizes the draft proposal engine.
type BrainConfig struct {
	Model          string `yaml:"model"`
	MaxRetries     int    `yaml:"max_retries"`
	BaseBackoffSec int    `yaml:"base_backoff_sec"`
	HistoryLimit   int    `yaml:"history_limit"`
}

// ArchiveConfig parameterizes the retention sweep and bundle storage.
type ArchiveConfig struct {
	Root       string `yaml:"root"`
	KeepCount  int    `yaml:"keep_count"`
	MaxAgeDays int    `yaml:"max_age_days"`
	SweepCron  string `yaml:"sweep_cron"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Prefix   string `yaml:"s3_prefix"`
	S3Region   string `yaml:"s3_region"`
}

// DashboardConfig parameterizes the staff web dashboard.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// NotifyConfig parameterizes the optional Slack staff notifier.
type NotifyConfig struct {
	SlackChannel string `yaml:"slack_channel"`
}

// IssuesConfig parameterizes the optional GitHub escalation flow.
type IssuesConfig struct {
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = "data/waybill.db"
	}
	if c.Store.Driver == "mysql" {
		if c.Store.Host == "" {
			c.Store.Host = "127.0.0.1"
		}
		if c.Store.Port == 0 {
			c.Store.Port = 3306
		}
		if c.Store.Database == "" {
			c.Store.Database = "waybill"
		}
	}
	if c.Discord.Categories.Inbox == "" {
		c.Discord.Categories.Inbox = "Tickets Inbox"
	}
	if c.Discord.Categories.Active == "" {
		c.Discord.Categories.Active = "Active Tickets"
	}
	if c.Discord.Categories.Escalated == "" {
		c.Discord.Categories.Escalated = "Blocked / Escalated"
	}
	if c.Discord.Categories.Archives == "" {
		c.Discord.Categories.Archives = "Closed Archives"
	}
	if c.Discord.PanelCheckCron == "" {
		c.Discord.PanelCheckCron = "*/15 * * * *"
	}
	if c.Brain.Model == "" {
		c.Brain.Model = "gemini-2.0-flash"
	}
	if c.Brain.MaxRetries == 0 {
		c.Brain.MaxRetries = 3
	}
	if c.Brain.BaseBackoffSec == 0 {
		c.Brain.BaseBackoffSec = 2
	}
	if c.Brain.HistoryLimit == 0 {
		c.Brain.HistoryLimit = 20
	}
	if c.Archive.Root == "" {
		c.Archive.Root = "data/archives"
	}
	if c.Archive.KeepCount == 0 {
		c.Archive.KeepCount = 50
	}
	if c.Archive.MaxAgeDays == 0 {
		c.Archive.MaxAgeDays = 7
	}
	if c.Archive.SweepCron == "" {
		c.Archive.SweepCron = "0 4 * * *"
	}
	if c.Archive.S3Region == "" {
		c.Archive.S3Region = "us-east-1"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.LockFile == "" {
		c.LockFile = "data/waybill.lock"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.GuildID == "" {
		errs = append(errs, "guild_id is required")
	}
	if c.Store.Driver != "" && c.Store.Driver != "sqlite" && c.Store.Driver != "mysql" {
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of sqlite, mysql", c.Store.Driver))
	}
	if c.Store.Driver == "mysql" && c.Store.User == "" {
		errs = append(errs, "store.user is required for the mysql driver")
	}
	if c.Archive.KeepCount < 0 {
		errs = append(errs, "archive.keep_count must not be negative")
	}
	if c.Archive.MaxAgeDays < 0 {
		errs = append(errs, "archive.max_age_days must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
