// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the database, cache snapshots and outputs/
	Port     int
	LogLevel string
	DevMode  bool

	// Market data upstream
	FinancialDatasetsAPIKey  string
	FinancialDatasetsBaseURL string

	// Cloud LLM providers (any subset may be configured)
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GroqAPIKey      string
	DeepSeekAPIKey  string

	// Local model server
	OllamaBaseURL string

	// Optional S3 mirror for saved artifacts; archiving is disabled when the
	// bucket is empty.
	S3ArchiveBucket string
	S3Region        string
}

// Load reads configuration from environment variables.
// A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("HEDGED_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:                  absDataDir,
		Port:                     getEnvAsInt("HEDGED_PORT", 8000),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		DevMode:                  getEnvAsBool("DEV_MODE", false),
		FinancialDatasetsAPIKey:  getEnv("FINANCIAL_DATASETS_API_KEY", ""),
		FinancialDatasetsBaseURL: getEnv("FINANCIAL_DATASETS_BASE_URL", "https://api.financialdatasets.ai"),
		OpenAIAPIKey:             getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:          getEnv("ANTHROPIC_API_KEY", ""),
		GroqAPIKey:               getEnv("GROQ_API_KEY", ""),
		DeepSeekAPIKey:           getEnv("DEEPSEEK_API_KEY", ""),
		OllamaBaseURL:            getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		S3ArchiveBucket:          getEnv("S3_ARCHIVE_BUCKET", ""),
		S3Region:                 getEnv("S3_REGION", "us-east-1"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present.
// API keys are optional: the data provider and cloud LLMs fail per-call when
// unconfigured, and local models need no key at all.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

// OutputsDir returns the directory saved JSON artifacts are written to.
func (c *Config) OutputsDir() string {
	return filepath.Join(c.DataDir, "outputs")
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
