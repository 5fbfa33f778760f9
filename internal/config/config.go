/**
 * Configuration for the Report Scan Worker
 *
 * Loads configuration from environment variables, optionally seeded from .env.reportscan
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFile is loaded by Load when present.
const EnvFile = ".env.reportscan"

// Recognition engine backends
const (
	EngineTesseract = "tesseract"
	EngineVision    = "vision"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration (asynq queue + result hashes)
	RedisURL  string
	QueueName string

	// PostgreSQL configuration
	DatabaseURL string

	// Qdrant vector database configuration
	QdrantURL        string
	QdrantCollection string

	// Recognition engine
	OCREngine         string
	TesseractLanguage string
	VisionOCRURL      string

	// Worker configuration
	WorkerConcurrency int
	MaxFileSize       int64
	ProcessingTimeout int // milliseconds
	MinParameters     int
	RangesFile        string // optional YAML normal-range overrides

	// Status server; 0 disables it
	StatusPort int

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads EnvFile if it exists and then loads configuration from the environment.
// A missing env file is not an error.
func Load() (*Config, bool, error) {
	loaded := godotenv.Load(EnvFile) == nil
	cfg, err := LoadConfig()
	return cfg, loaded, err
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		QueueName:         getEnvOrDefault("QUEUE_NAME", "reportscan"),
		DatabaseURL:       getEnvOrDefault("DATABASE_URL", ""),
		QdrantURL:         getEnvOrDefault("QDRANT_URL", ""),
		QdrantCollection:  getEnvOrDefault("QDRANT_COLLECTION", "report_features"),
		OCREngine:         strings.ToLower(getEnvOrDefault("OCR_ENGINE", EngineTesseract)),
		TesseractLanguage: getEnvOrDefault("TESSERACT_LANGUAGE", "eng"),
		VisionOCRURL:      getEnvOrDefault("VISION_OCR_URL", ""),
		WorkerConcurrency: getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		MaxFileSize:       getEnvAsInt64OrDefault("MAX_FILE_SIZE", 20971520),  // 20MB
		ProcessingTimeout: getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 120000), // 2 minutes
		MinParameters:     getEnvAsIntOrDefault("MIN_PARAMETERS", 5),
		RangesFile:        getEnvOrDefault("RANGES_FILE", ""),
		StatusPort:        getEnvAsIntOrDefault("STATUS_PORT", 9110),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         getEnvOrDefault("LOG_FORMAT", "json"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	switch c.OCREngine {
	case EngineTesseract:
	case EngineVision:
		if c.VisionOCRURL == "" {
			return fmt.Errorf("VISION_OCR_URL is required when OCR_ENGINE=%s", EngineVision)
		}
	default:
		return fmt.Errorf("OCR_ENGINE must be %q or %q, got %q", EngineTesseract, EngineVision, c.OCREngine)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 104857600 { // 1KB to 100MB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 100MB, got %d", c.MaxFileSize)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if c.StatusPort < 0 || c.StatusPort > 65535 {
		return fmt.Errorf("STATUS_PORT must be between 0 and 65535, got %d", c.StatusPort)
	}

	if c.MinParameters < 0 || c.MinParameters > 13 {
		return fmt.Errorf("MIN_PARAMETERS must be between 0 and 13, got %d", c.MinParameters)
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
