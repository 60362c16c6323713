// Package config loads the gateway's process configuration: environment
// variables (optionally from a .env file) for secrets and connection
// settings, plus a YAML file supplying the static model descriptor table,
// grounded on the teacher's pkg/config/config.go env-loading pattern and
// internal/config/routing.go's YAML-loaded routing table.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"github.com/sora-gateway/gateway/internal/orchestrator"
)

// Config holds every environment-derived setting the gateway needs to boot.
type Config struct {
	Port    string
	GinMode string

	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int

	LogLevel  string
	LogFormat string

	CORSAllowedOrigins []string

	UpstreamBaseURL   string
	UpstreamTimeout   time.Duration
	PoWWorkerPoolSize int
	TokenLockTimeout  time.Duration
	CacheDir          string
	CacheTTLSeconds   int
	PublicBaseURL     string

	ModelsFilePath string
	Models         map[string]orchestrator.ModelDescriptor

	ServerShutdownTimeoutSeconds int
}

// Load reads environment variables (via godotenv, falling back to the
// process environment when no .env file is present) and the YAML model
// descriptor table, returning a ready-to-use Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg := &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		DatabaseURL:    getEnvOrDefault("DATABASE_URL", "postgres://localhost/sora_gateway?sslmode=disable"),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 15),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),

		CORSAllowedOrigins: splitCSV(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*")),

		UpstreamBaseURL:   getEnvOrDefault("UPSTREAM_BASE_URL", "https://sora.chatgpt.com/backend"),
		UpstreamTimeout:   time.Duration(getEnvAsInt("UPSTREAM_TIMEOUT_SECONDS", 60)) * time.Second,
		PoWWorkerPoolSize: getEnvAsInt("POW_WORKER_POOL_SIZE", 4),
		TokenLockTimeout:  time.Duration(getEnvAsInt("TOKEN_LOCK_TIMEOUT_SECONDS", 300)) * time.Second,

		CacheDir:        getEnvOrDefault("CACHE_DIR", "./tmp"),
		CacheTTLSeconds: getEnvAsInt("CACHE_TTL_SECONDS", 86400),
		PublicBaseURL:   getEnvOrDefault("PUBLIC_BASE_URL", "http://localhost:8080"),

		ModelsFilePath: getEnvOrDefault("MODELS_FILE", "models.yaml"),

		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),
	}

	models, err := loadModelsFile(cfg.ModelsFilePath)
	if err != nil {
		log.Printf("no model descriptor file loaded (%v), falling back to the built-in table", err)
		models = orchestrator.DefaultModelTable()
	}
	cfg.Models = models

	return cfg, nil
}

// modelsFile is the on-disk shape of the YAML model descriptor table; a
// missing or invalid file is not fatal, since orchestrator.DefaultModelTable
// provides a working fallback.
type modelsFile struct {
	Models []orchestrator.ModelDescriptor `yaml:"models"`
}

func loadModelsFile(path string) (map[string]orchestrator.ModelDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open models file: %w", err)
	}
	defer f.Close()

	var doc modelsFile
	if err := yaml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode models file: %w", err)
	}

	out := make(map[string]orchestrator.ModelDescriptor, len(doc.Models))
	for _, m := range doc.Models {
		out[m.Name] = m
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("models file %s declared no models", path)
	}
	return out, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
		log.Printf("warning: failed to parse %s=%q as int, using default %d", key, v, defaultValue)
	}
	return defaultValue
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, trim(s[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

func trim(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}
