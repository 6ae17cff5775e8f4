package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("DATA_PATH", dataDir)
	t.Setenv("JIRA_URL", "https://example.atlassian.net/")

	cfg, err := FromEnv("")
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.Jira.BaseURL != "https://example.atlassian.net" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Jira.BaseURL)
	}
	if cfg.Jira.EstimateField != "customfield_11020" {
		t.Errorf("unexpected estimate field %s", cfg.Jira.EstimateField)
	}
	if cfg.BatchSize != 10000 || cfg.PageSize != 100 || cfg.ScanOffsetDays != 1 {
		t.Errorf("unexpected sizes: batch=%d page=%d offset=%d", cfg.BatchSize, cfg.PageSize, cfg.ScanOffsetDays)
	}
	if cfg.Warehouse.Dir != filepath.Join(dataDir, "warehouse") {
		t.Errorf("unexpected warehouse dir %s", cfg.Warehouse.Dir)
	}
	if cfg.Forecast.Location != time.UTC || cfg.Forecast.TerminalStatus != "Done" || cfg.Forecast.MaxDays != 3650 {
		t.Errorf("unexpected forecast config %+v", cfg.Forecast)
	}
	if len(cfg.IssueTypes) != 4 {
		t.Errorf("expected 4 default issue types, got %v", cfg.IssueTypes)
	}

	p := cfg.RetryPolicy()
	if p.MaxAttempts != 5 || p.Backoff != 5*time.Second {
		t.Errorf("unexpected retry policy %+v", p)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("DATA_PATH", t.TempDir())
	t.Setenv("JIRA_ISSUE_TYPES", "bug, story ,,")
	t.Setenv("WAREHOUSE_BATCH_SIZE", "500")
	t.Setenv("JIRA_RETRY_DELAY_SECONDS", "0")
	t.Setenv("FORECAST_TIMEZONE", "America/Chicago")
	t.Setenv("EVENTS_TABLE", "events")

	cfg, err := FromEnv("")
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if len(cfg.IssueTypes) != 2 || cfg.IssueTypes[1] != "story" {
		t.Errorf("unexpected issue types %v", cfg.IssueTypes)
	}
	if cfg.Forecast.Location.String() != "America/Chicago" {
		t.Errorf("unexpected location %s", cfg.Forecast.Location)
	}
	rc := cfg.Reconcile()
	if rc.BatchSize != 500 || rc.EventsTable != "events" {
		t.Errorf("unexpected reconcile config %+v", rc)
	}
	if cfg.RetryPolicy().Backoff != 0 {
		t.Errorf("expected zero backoff")
	}
}

func TestFromEnv_InvalidTimezone(t *testing.T) {
	t.Setenv("FORECAST_TIMEZONE", "Mars/Olympus")
	if _, err := FromEnv(""); err == nil {
		t.Errorf("expected error for unknown timezone")
	}
}

func TestRequireJira(t *testing.T) {
	cfg := &AppConfig{}
	if err := cfg.RequireJira(); err == nil {
		t.Errorf("expected error without JIRA_URL")
	}
	cfg.Jira.BaseURL = "https://example.atlassian.net"
	cfg.Jira.Token = "pat"
	if err := cfg.RequireJira(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
