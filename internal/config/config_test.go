package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fullYAML = `
guild_id: "123456789012345678"

store:
  driver: sqlite
  path: /var/lib/waybill/tickets.db

discord:
  intake_channel_id: "222333444555666777"
  staff_role_ids: ["111", "222"]
  categories:
    inbox: Manager Inbox
    active: Active Tickets
    escalated: Blocked-Escalated
    archives: Closed Archives
  panel_check_cron: "*/5 * * * *"

brain:
  model: gemini-2.5-pro
  max_retries: 5
  base_backoff_sec: 1
  history_limit: 40

archive:
  root: /var/lib/waybill/archives
  keep_count: 100
  max_age_days: 14
  sweep_cron: "30 3 * * *"
  s3_bucket: waybill-archives
  s3_prefix: prod
  s3_region: eu-west-1

dashboard:
  port: 9090

notify:
  slack_channel: "#support-team"

issues:
  owner: acme
  repo: support
`

const minimalYAML = `
guild_id: "123456789012345678"
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.GuildID != "123456789012345678" {
		t.Errorf("GuildID = %q, want %q", cfg.GuildID, "123456789012345678")
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("Store.Driver = %q, want %q", cfg.Store.Driver, "sqlite")
	}
	if cfg.Store.Path != "/var/lib/waybill/tickets.db" {
		t.Errorf("Store.Path = %q, want /var/lib/waybill/tickets.db", cfg.Store.Path)
	}
	if cfg.Discord.IntakeChannelID != "222333444555666777" {
		t.Errorf("Discord.IntakeChannelID = %q, want %q", cfg.Discord.IntakeChannelID, "222333444555666777")
	}
	if len(cfg.Discord.StaffRoleIDs) != 2 {
		t.Errorf("len(Discord.StaffRoleIDs) = %d, want 2", len(cfg.Discord.StaffRoleIDs))
	}
	if cfg.Discord.Categories.Inbox != "Manager Inbox" {
		t.Errorf("Categories.Inbox = %q, want %q", cfg.Discord.Categories.Inbox, "Manager Inbox")
	}
	if cfg.Discord.Categories.Escalated != "Blocked-Escalated" {
		t.Errorf("Categories.Escalated = %q, want %q", cfg.Discord.Categories.Escalated, "Blocked-Escalated")
	}
	if cfg.Brain.Model != "gemini-2.5-pro" {
		t.Errorf("Brain.Model = %q, want %q", cfg.Brain.Model, "gemini-2.5-pro")
	}
	if cfg.Brain.MaxRetries != 5 {
		t.Errorf("Brain.MaxRetries = %d, want 5", cfg.Brain.MaxRetries)
	}
	if cfg.Brain.HistoryLimit != 40 {
		t.Errorf("Brain.HistoryLimit = %d, want 40", cfg.Brain.HistoryLimit)
	}
	if cfg.Archive.KeepCount != 100 {
		t.Errorf("Archive.KeepCount = %d, want 100", cfg.Archive.KeepCount)
	}
	if cfg.Archive.MaxAgeDays != 14 {
		t.Errorf("Archive.MaxAgeDays = %d, want 14", cfg.Archive.MaxAgeDays)
	}
	if cfg.Archive.S3Bucket != "waybill-archives" {
		t.Errorf("Archive.S3Bucket = %q, want %q", cfg.Archive.S3Bucket, "waybill-archives")
	}
	if cfg.Archive.S3Region != "eu-west-1" {
		t.Errorf("Archive.S3Region = %q, want %q", cfg.Archive.S3Region, "eu-west-1")
	}
	if cfg.Dashboard.Port != 9090 {
		t.Errorf("Dashboard.Port = %d, want 9090", cfg.Dashboard.Port)
	}
	if cfg.Notify.SlackChannel != "#support-team" {
		t.Errorf("Notify.SlackChannel = %q, want %q", cfg.Notify.SlackChannel, "#support-team")
	}
	if cfg.Issues.Owner != "acme" || cfg.Issues.Repo != "support" {
		t.Errorf("Issues = %s/%s, want acme/support", cfg.Issues.Owner, cfg.Issues.Repo)
	}
}

func TestParse_MinimalConfig_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.Path != "data/waybill.db" {
		t.Errorf("Store.Path = %q, want %q (default)", cfg.Store.Path, "data/waybill.db")
	}
	if cfg.Discord.Categories.Inbox != "Tickets Inbox" {
		t.Errorf("Categories.Inbox = %q, want %q (default)", cfg.Discord.Categories.Inbox, "Tickets Inbox")
	}
	if cfg.Discord.Categories.Archives != "Closed Archives" {
		t.Errorf("Categories.Archives = %q, want %q (default)", cfg.Discord.Categories.Archives, "Closed Archives")
	}
	if cfg.Discord.PanelCheckCron != "*/15 * * * *" {
		t.Errorf("PanelCheckCron = %q, want %q (default)", cfg.Discord.PanelCheckCron, "*/15 * * * *")
	}
	if cfg.Brain.MaxRetries != 3 {
		t.Errorf("Brain.MaxRetries = %d, want 3 (default)", cfg.Brain.MaxRetries)
	}
	if cfg.Brain.BaseBackoffSec != 2 {
		t.Errorf("Brain.BaseBackoffSec = %d, want 2 (default)", cfg.Brain.BaseBackoffSec)
	}
	if cfg.Archive.KeepCount != 50 {
		t.Errorf("Archive.KeepCount = %d, want 50 (default)", cfg.Archive.KeepCount)
	}
	if cfg.Archive.MaxAgeDays != 7 {
		t.Errorf("Archive.MaxAgeDays = %d, want 7 (default)", cfg.Archive.MaxAgeDays)
	}
	if cfg.Archive.SweepCron != "0 4 * * *" {
		t.Errorf("Archive.SweepCron = %q, want %q (default)", cfg.Archive.SweepCron, "0 4 * * *")
	}
	if cfg.Dashboard.Port != 8080 {
		t.Errorf("Dashboard.Port = %d, want 8080 (default)", cfg.Dashboard.Port)
	}
	if cfg.LockFile != "data/waybill.lock" {
		t.Errorf("LockFile = %q, want %q (default)", cfg.LockFile, "data/waybill.lock")
	}
}

func TestParse_MySQLDefaults(t *testing.T) {
	yaml := `
guild_id: "123"
store:
  driver: mysql
  user: waybill
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Host != "127.0.0.1" {
		t.Errorf("Store.Host = %q, want %q (default)", cfg.Store.Host, "127.0.0.1")
	}
	if cfg.Store.Port != 3306 {
		t.Errorf("Store.Port = %d, want %d (default)", cfg.Store.Port, 3306)
	}
	if cfg.Store.Database != "waybill" {
		t.Errorf("Store.Database = %q, want %q (default)", cfg.Store.Database, "waybill")
	}
}

func TestParse_MySQLMissingUser(t *testing.T) {
	yaml := `
guild_id: "123"
store:
  driver: mysql
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected error for mysql driver without user")
	}
	if !strings.Contains(err.Error(), "store.user is required") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "store.user is required")
	}
}

func TestParse_UnknownDriver(t *testing.T) {
	yaml := `
guild_id: "123"
store:
  driver: postgres
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if !strings.Contains(err.Error(), "store.driver") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "store.driver")
	}
}

func TestParse_MissingGuildID(t *testing.T) {
	_, err := Parse([]byte(`store: {driver: sqlite}`))
	if err == nil {
		t.Fatal("expected error for missing guild_id")
	}
	if !strings.Contains(err.Error(), "guild_id is required") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "guild_id is required")
	}
}

func TestParse_NegativeRetention(t *testing.T) {
	yaml := `
guild_id: "123"
archive:
  keep_count: -1
  max_age_days: -2
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "archive.keep_count must not be negative") {
		t.Errorf("error missing keep_count complaint: %s", msg)
	}
	if !strings.Contains(msg, "archive.max_age_days must not be negative") {
		t.Errorf("error missing max_age_days complaint: %s", msg)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte(":::invalid"))
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "config: parse:") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: parse:")
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "waybill.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GuildID != "123456789012345678" {
		t.Errorf("GuildID = %q, want %q", cfg.GuildID, "123456789012345678")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/waybill.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: read")
	}
}

func TestCategories_All(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all := cfg.Discord.Categories.All()
	want := []string{"Tickets Inbox", "Active Tickets", "Blocked / Escalated", "Closed Archives"}
	if len(all) != len(want) {
		t.Fatalf("len(All()) = %d, want %d", len(all), len(want))
	}
	for i := range want {
		if all[i] != want[i] {
			t.Errorf("All()[%d] = %q, want %q", i, all[i], want[i])
		}
	}
}
