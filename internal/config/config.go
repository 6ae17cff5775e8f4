package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"flowcast/internal/jira"
	"flowcast/internal/reconcile"
	"flowcast/internal/retry"
	"flowcast/internal/warehouse"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Jira      jira.Config
	Warehouse warehouse.Config

	IssueTypes     []string
	PageSize       int
	BatchSize      int
	ScanOffsetDays int
	RetryAttempts  int
	RetryDelay     time.Duration

	SyncSchedule string
	MetricsAddr  string

	Forecast ForecastConfig

	DataPath            string
	LogDir              string
	EnableMermaidCharts bool
}

// ForecastConfig holds the settings used to build throughput and run simulations.
type ForecastConfig struct {
	TerminalStatus string
	Location       *time.Location
	MaxDays        int
	Workers        int
}

// Load loads the configuration from .env files and environment variables.
func Load() (*AppConfig, error) {
	// 1. The executable's directory takes priority
	exeDir := ""
	if exePath, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exePath)
		envPath := filepath.Join(exeDir, ".env")
		if err := godotenv.Load(envPath); err == nil {
			log.Debug().Str("path", envPath).Msg("Loaded configuration from binary directory")
		}
	}

	// 2. Fallback to current working directory
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found in working directory, relying on environment variables or binary-relative .env")
	}

	return FromEnv(exeDir)
}

// FromEnv builds the configuration from the process environment alone.
func FromEnv(exeDir string) (*AppConfig, error) {
	dataPath := os.Getenv("DATA_PATH")
	if dataPath == "" {
		if exeDir != "" {
			dataPath = exeDir
		} else {
			dataPath = "."
		}
	}
	logDir := getEnv("LOGS_FOLDER", filepath.Join(dataPath, "logs"))

	zone := getEnv("FORECAST_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("invalid FORECAST_TIMEZONE %q: %w", zone, err)
	}

	cfg := &AppConfig{
		Jira: jira.Config{
			BaseURL:       strings.TrimRight(getEnv("JIRA_URL", ""), "/"),
			Username:      getEnv("JIRA_USERNAME", ""),
			APIToken:      getEnv("JIRA_API_TOKEN", ""),
			Token:         getEnv("JIRA_TOKEN", ""),
			EstimateField: getEnv("JIRA_ESTIMATE_FIELD", "customfield_11020"),
			RequestDelay:  time.Duration(getEnvInt("JIRA_REQUEST_DELAY_MS", 0)) * time.Millisecond,
		},
		Warehouse: warehouse.Config{
			Driver:      getEnv("WAREHOUSE_DRIVER", warehouse.DriverPostgres),
			DSN:         getEnv("WAREHOUSE_DSN", ""),
			Dir:         getEnv("WAREHOUSE_DIR", filepath.Join(dataPath, "warehouse")),
			EventsTable: getEnv("EVENTS_TABLE", "jira_events"),
			IssuesTable: getEnv("ISSUES_TABLE", "jira_issues"),
		},
		IssueTypes:     getEnvList("JIRA_ISSUE_TYPES", reconcile.DefaultIssueTypes),
		PageSize:       getEnvInt("JIRA_PAGE_SIZE", 100),
		BatchSize:      getEnvInt("WAREHOUSE_BATCH_SIZE", warehouse.DefaultBatchSize),
		ScanOffsetDays: getEnvInt("JIRA_SCAN_OFFSET", 1),
		RetryAttempts:  getEnvInt("JIRA_RETRY_ATTEMPTS", 5),
		RetryDelay:     time.Duration(getEnvInt("JIRA_RETRY_DELAY_SECONDS", 5)) * time.Second,
		SyncSchedule:   getEnv("SYNC_SCHEDULE", ""),
		MetricsAddr:    getEnv("METRICS_ADDR", ""),
		Forecast: ForecastConfig{
			TerminalStatus: getEnv("FORECAST_TERMINAL_STATUS", "Done"),
			Location:       loc,
			MaxDays:        getEnvInt("FORECAST_MAX_DAYS", 3650),
			Workers:        getEnvInt("FORECAST_WORKERS", runtime.NumCPU()),
		},
		DataPath:            dataPath,
		LogDir:              logDir,
		EnableMermaidCharts: getEnvBool("ENABLE_MERMAID_CHARTS", false),
	}

	return cfg, nil
}

// RetryPolicy returns the policy wrapped around every tracker call.
func (c *AppConfig) RetryPolicy() retry.Policy {
	p := retry.Default()
	if c.RetryAttempts > 0 {
		p.MaxAttempts = c.RetryAttempts
	}
	if c.RetryDelay >= 0 {
		p.Backoff = c.RetryDelay
	}
	return p
}

// Reconcile returns the engine settings.
func (c *AppConfig) Reconcile() reconcile.Config {
	return reconcile.Config{
		EventsTable:   c.Warehouse.EventsTable,
		IssuesTable:   c.Warehouse.IssuesTable,
		IssueTypes:    c.IssueTypes,
		PageSize:      c.PageSize,
		BatchSize:     c.BatchSize,
		EstimateField: c.Jira.EstimateField,
	}
}

// RequireJira reports a missing tracker URL before any command talks to it.
func (c *AppConfig) RequireJira() error {
	if c.Jira.BaseURL == "" {
		return fmt.Errorf("JIRA_URL is not set")
	}
	if c.Jira.Token == "" && (c.Jira.Username == "" || c.Jira.APIToken == "") {
		return fmt.Errorf("set JIRA_TOKEN or both JIRA_USERNAME and JIRA_API_TOKEN")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Ignoring non-integer setting")
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
