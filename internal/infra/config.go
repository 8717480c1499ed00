package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	StoragePath        string
	StorageBaseURL     string
	ProviderBaseURL    string
	ProviderAPIKey     string
	CallbackBaseURL    string
	CORSOrigins        []string
	DBMaxConns         int
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	SubmitMaxAttempts  int
	WorkerPollInterval time.Duration
	StuckJobAge        time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. DATABASE_URL and REDIS_URL are optional: without a
// database the service runs on the in-memory job store, without Redis
// progress events stay in-process.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		StoragePath:        getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:     "",
		ProviderBaseURL:    getEnv("PROVIDER_BASE_URL", "https://queue.fal.run"),
		ProviderAPIKey:     os.Getenv("PROVIDER_API_KEY"),
		CallbackBaseURL:    os.Getenv("CALLBACK_BASE_URL"),
		CORSOrigins:        splitCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),
		DBMaxConns:         getEnvInt("DB_MAX_CONNS", 10),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		SubmitMaxAttempts:  getEnvInt("SUBMIT_MAX_ATTEMPTS", 5),
		WorkerPollInterval: time.Second * time.Duration(getEnvInt("WORKER_POLL_INTERVAL_SECONDS", 2)),
		StuckJobAge:        time.Minute * time.Duration(getEnvInt("STUCK_JOB_AGE_MINUTES", 10)),
	}

	cfg.StorageBaseURL = getEnv("STORAGE_BASE_URL", "http://localhost:"+cfg.Port+"/static")

	if cfg.SubmitMaxAttempts < 1 {
		return nil, fmt.Errorf("SUBMIT_MAX_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
