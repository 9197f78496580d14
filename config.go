package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jpcarrera/go-coverage-unifier/handlers"
)

// Config carries the service configuration.
type Config struct {
	Paths    PathsConfig
	Pipeline PipelineConfig
	HTTP     HTTPConfig
	S3       S3Config
	Service  ServiceConfig
}

// PathsConfig holds the data directories.
type PathsConfig struct {
	BoundaryDir string
	CoverageDir string
	OutputDir   string
	TempDir     string
}

// PipelineConfig tunes the analysis pipeline. CorridorWidth is in the
// coordinate units of the datasets, degrees for the Ecuador data.
type PipelineConfig struct {
	CorridorWidth  float64
	LevelColumn    string
	NameColumn     string
	OrderStrategy  string
	NeighborMeters float64
}

// HTTPConfig holds the web front end settings.
type HTTPConfig struct {
	Addr string
}

// S3Config holds the optional artifact publisher settings. Publishing stays
// disabled until credentials and a bucket are set.
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	BucketPath      string
}

// Enabled reports whether the publisher is configured.
func (s S3Config) Enabled() bool {
	return s.AccessKeyID != "" && s.SecretAccessKey != "" && s.Bucket != ""
}

// ServiceConfig holds service-level settings.
type ServiceConfig struct {
	Workers int
}

// LoadConfig loads configuration from environment variables and an env
// file. A .env.local next to envPath wins over the plain .env, so local
// development settings can override deployed ones.
func LoadConfig(envPath string) (*Config, error) {
	localEnvPath := strings.TrimSuffix(envPath, ".env") + ".env.local"
	if _, err := os.Stat(localEnvPath); err == nil {
		if err := loadEnvFile(localEnvPath); err != nil {
			return nil, fmt.Errorf("failed to load local env file: %w", err)
		}
	} else if _, err := os.Stat(envPath); err == nil {
		if err := loadEnvFile(envPath); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	cfg := &Config{
		Paths: PathsConfig{
			BoundaryDir: getEnv("BOUNDARY_DIR", "./geojson_provincias"),
			CoverageDir: getEnv("COVERAGE_DIR", "./coberturas"),
			OutputDir:   getEnv("OUTPUT_DIR", "./output"),
			TempDir:     getEnv("TEMP_DIR", os.TempDir()),
		},
		Pipeline: PipelineConfig{
			CorridorWidth:  getEnvFloat("CORRIDOR_WIDTH", handlers.DefaultCorridorWidth),
			LevelColumn:    getEnv("LEVEL_COLUMN", handlers.DefaultLevelColumn),
			NameColumn:     getEnv("NAME_COLUMN", "DPA_DESPAR"),
			OrderStrategy:  getEnv("ORDER_STRATEGY", "centroid-x"),
			NeighborMeters: getEnvFloat("NEIGHBOR_METERS", 500),
		},
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
		S3: S3Config{
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			Region:          getEnv("S3_REGION", "auto"),
			Bucket:          getEnv("S3_BUCKET", ""),
			BucketPath:      getEnv("S3_BUCKET_PATH", "coverage"),
		},
		Service: ServiceConfig{
			Workers: getEnvInt("WORKERS", 3),
		},
	}

	if _, err := handlers.OrderStrategyByName(cfg.Pipeline.OrderStrategy); err != nil {
		return nil, err
	}
	if cfg.Pipeline.CorridorWidth <= 0 {
		return nil, fmt.Errorf("CORRIDOR_WIDTH must be positive, got %v", cfg.Pipeline.CorridorWidth)
	}

	return cfg, nil
}

// NewPipeline builds the analysis pipeline from the configuration.
func (c *Config) NewPipeline(metrics handlers.MetricsRecorder) *handlers.Pipeline {
	order, err := handlers.OrderStrategyByName(c.Pipeline.OrderStrategy)
	if err != nil {
		order = handlers.CentroidXOrder{}
	}
	return &handlers.Pipeline{
		BoundaryDir:       c.Paths.BoundaryDir,
		LevelColumn:       c.Pipeline.LevelColumn,
		PrimaryNameColumn: c.Pipeline.NameColumn,
		CorridorWidth:     c.Pipeline.CorridorWidth,
		Order:             order,
		NeighborMeters:    c.Pipeline.NeighborMeters,
		Metrics:           metrics,
	}
}

// loadEnvFile loads environment variables from a .env style file.
func loadEnvFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	lines := strings.Split(string(content), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			os.Setenv(key, value)
		}
	}

	return nil
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

// getEnvInt gets an environment variable as integer with a default value.
func getEnvInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// getEnvFloat gets an environment variable as float with a default value.
func getEnvFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}
