package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Token store backends.
const (
	TokenStoreFile   = "file"
	TokenStoreMemory = "memory"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	LogLevel string

	// CRM API
	APIURL string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	DetailCacheTTL time.Duration
	UrgentAfter    time.Duration

	// Token store
	TokenStore  string // file | memory
	TokenDir    string
	TokenOrigin string

	// Observability
	OTLPEndpoint string

	// Local facade
	ListenAddr  string
	CORSOrigins []string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),

		APIURL: strings.TrimRight(getEnv("CRM_API_URL", "https://crm-api-5vso.onrender.com"), "/"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 15*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 2),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 200*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 4),

		DetailCacheTTL: getEnvDuration("DETAIL_CACHE_TTL", time.Minute),
		UrgentAfter:    getEnvDuration("URGENT_AFTER", 24*time.Hour),

		TokenStore:  strings.ToLower(getEnv("TOKEN_STORE", TokenStoreFile)),
		TokenDir:    getEnv("TOKEN_DIR", defaultTokenDir()),
		TokenOrigin: getEnv("TOKEN_ORIGIN", "default"),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		ListenAddr:  getEnv("LISTEN_ADDR", "127.0.0.1:8080"),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),
	}
}

// LoadDotEnv reads a .env file into the environment.
// Variables already set in the environment take precedence.
func LoadDotEnv(path string) error {
	return godotenv.Load(path)
}

func defaultTokenDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "crm-leads")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
