// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	Planning PlanningConfig
	Backup   BackupConfig
}

// PlanningConfig holds the tunable thresholds of the planning engine.
// All values are validated at load time - the planning components assume
// well-formed inputs (configuration errors are rejected here, not coerced).
type PlanningConfig struct {
	Schedule            string  // cron expression for the planning tick
	MinDeviation        float64 // minimum |current - target| group deviation to act on
	GroupTolerance      float64 // allowed overshoot beyond a group target
	MinTradeValueEUR    float64 // steps below this value are dropped
	CooldownDays        int
	TriggerThreshold    float64 // recent return that starts a win cooldown
	AggressionReduction float64 // fraction removed from aggression while cooling down
	BaseAggression      float64
}

// BackupConfig holds S3-compatible (Cloudflare R2) backup settings.
// Backups are disabled unless all credentials are present.
type BackupConfig struct {
	Enabled         bool
	Schedule        string // cron expression for the backup job
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("HELMSMAN_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	port, err := strconv.Atoi(getEnv("PORT", "8090"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	planning := PlanningConfig{
		Schedule:            getEnv("PLANNING_SCHEDULE", "0 */15 * * * *"),
		MinDeviation:        getEnvFloat("PLANNING_MIN_DEVIATION", 0.05),
		GroupTolerance:      getEnvFloat("PLANNING_GROUP_TOLERANCE", 0.02),
		MinTradeValueEUR:    getEnvFloat("PLANNING_MIN_TRADE_VALUE", 50.0),
		CooldownDays:        getEnvInt("COOLDOWN_DAYS", 30),
		TriggerThreshold:    getEnvFloat("COOLDOWN_TRIGGER_THRESHOLD", 0.20),
		AggressionReduction: getEnvFloat("COOLDOWN_AGGRESSION_REDUCTION", 0.25),
		BaseAggression:      getEnvFloat("PLANNING_BASE_AGGRESSION", 1.0),
	}
	if err := planning.Validate(); err != nil {
		return nil, fmt.Errorf("invalid planning configuration: %w", err)
	}

	backup := BackupConfig{
		Schedule:        getEnv("BACKUP_SCHEDULE", "0 0 3 * * *"),
		AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		Bucket:          getEnv("R2_BUCKET", ""),
	}
	backup.Enabled = backup.AccountID != "" && backup.AccessKeyID != "" &&
		backup.SecretAccessKey != "" && backup.Bucket != ""

	return &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     port,
		DevMode:  getEnv("DEV_MODE", "false") == "true",
		Planning: planning,
		Backup:   backup,
	}, nil
}

// Validate rejects malformed planning thresholds. The cooldown tracker and
// detector are pure functions and do not re-validate these values.
func (p PlanningConfig) Validate() error {
	if !isFinite(p.MinDeviation) || p.MinDeviation <= 0 || p.MinDeviation >= 1 {
		return fmt.Errorf("min deviation must be in (0, 1), got %v", p.MinDeviation)
	}
	if !isFinite(p.GroupTolerance) || p.GroupTolerance < 0 || p.GroupTolerance >= 1 {
		return fmt.Errorf("group tolerance must be in [0, 1), got %v", p.GroupTolerance)
	}
	if !isFinite(p.MinTradeValueEUR) || p.MinTradeValueEUR < 0 {
		return fmt.Errorf("min trade value must be >= 0, got %v", p.MinTradeValueEUR)
	}
	if p.CooldownDays <= 0 {
		return fmt.Errorf("cooldown days must be positive, got %d", p.CooldownDays)
	}
	if !isFinite(p.TriggerThreshold) || p.TriggerThreshold <= 0 {
		return fmt.Errorf("trigger threshold must be positive, got %v", p.TriggerThreshold)
	}
	if !isFinite(p.AggressionReduction) || p.AggressionReduction <= 0 || p.AggressionReduction > 1 {
		return fmt.Errorf("aggression reduction must be in (0, 1], got %v", p.AggressionReduction)
	}
	if !isFinite(p.BaseAggression) || p.BaseAggression <= 0 || p.BaseAggression > 1 {
		return fmt.Errorf("base aggression must be in (0, 1], got %v", p.BaseAggression)
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}
