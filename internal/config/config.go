// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir       string // Base directory for local data (always absolute)
	HistoryDBPath string // Daily price history database
	HistoryDriver string // sqlite (modernc) or sqlite3 (mattn)
	LogLevel      string
	Port          int
	DevMode       bool

	// Engine defaults applied when a request leaves them unset
	RiskFreeRate   float64
	FrontierPoints int
	SolverTimeout  time.Duration
	MaxAssets      int

	// MaxFrontierPoints caps the points a single request may ask for
	MaxFrontierPoints int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	absDataDir, err := filepath.Abs(getEnv("FRONTIER_DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:        absDataDir,
		HistoryDBPath:  getEnv("HISTORY_DB_PATH", filepath.Join(absDataDir, "history.db")),
		HistoryDriver:  getEnv("HISTORY_DB_DRIVER", "sqlite"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Port:           getEnvAsInt("FRONTIER_PORT", 8002),
		DevMode:        getEnvAsBool("DEV_MODE", false),
		RiskFreeRate:   getEnvAsFloat("RISK_FREE_RATE", 0.02),
		FrontierPoints: getEnvAsInt("FRONTIER_POINTS", 100),
		SolverTimeout:  getEnvAsDuration("SOLVER_TIMEOUT", 30*time.Second),
		MaxAssets:      getEnvAsInt("MAX_ASSETS", 50),

		MaxFrontierPoints: getEnvAsInt("MAX_FRONTIER_POINTS", 1000),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configured values are usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("FRONTIER_PORT must be in 1-65535, got %d", c.Port)
	}
	if c.FrontierPoints <= 0 {
		return fmt.Errorf("FRONTIER_POINTS must be positive, got %d", c.FrontierPoints)
	}
	if c.MaxFrontierPoints <= 0 {
		return fmt.Errorf("MAX_FRONTIER_POINTS must be positive, got %d", c.MaxFrontierPoints)
	}
	if c.FrontierPoints > c.MaxFrontierPoints {
		return fmt.Errorf("FRONTIER_POINTS (%d) exceeds MAX_FRONTIER_POINTS (%d)", c.FrontierPoints, c.MaxFrontierPoints)
	}
	if c.SolverTimeout <= 0 {
		return fmt.Errorf("SOLVER_TIMEOUT must be positive, got %s", c.SolverTimeout)
	}
	if c.MaxAssets < 0 {
		return fmt.Errorf("MAX_ASSETS must not be negative, got %d", c.MaxAssets)
	}
	if math.IsNaN(c.RiskFreeRate) || math.IsInf(c.RiskFreeRate, 0) {
		return fmt.Errorf("RISK_FREE_RATE must be finite")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
