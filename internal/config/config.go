package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	Environment string
	CORSOrigins string
	// Logging
	LogDir      string
	LogMaxFiles int
	// Persistence
	StoreBackend   string // memory, postgres or redis
	DatabaseURL    string
	TablePrefix    string
	RedisAddr      string
	StoreKeyPrefix string
	// LLM Configuration
	AnthropicAPIKey string
	DefaultProvider string
	DefaultVariant  string
	// Turn pacing
	StreamIdleTimeout  time.Duration // 0 disables the idle-chunk timeout
	RevealInterval     time.Duration // 0 disables character-reveal pacing
	HistoryTokenBudget int
	// Sandbox runtime
	PreviewDebounce time.Duration
	PythonBin       string
	RunTimeout      time.Duration
	// Debug flags
	Debug bool // Enables DEBUG features like SSE event IDs
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: env,
		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000"),
		LogDir:      getEnv("LOG_DIR", ""),
		LogMaxFiles: getEnvInt("LOG_MAX_FILES", 10),
		// Persistence
		StoreBackend:   getEnv("STORE_BACKEND", "memory"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		TablePrefix:    getTablePrefix(env),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		StoreKeyPrefix: getEnv("STORE_KEY_PREFIX", ""),
		// LLM Configuration
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		DefaultProvider: getEnv("DEFAULT_PROVIDER", "anthropic"),
		DefaultVariant:  getEnv("DEFAULT_VARIANT", "fast"),
		// Turn pacing
		StreamIdleTimeout:  getEnvDuration("STREAM_IDLE_TIMEOUT", 90*time.Second),
		RevealInterval:     getEnvDuration("REVEAL_INTERVAL", 0),
		HistoryTokenBudget: getEnvInt("HISTORY_TOKEN_BUDGET", 32000),
		// Sandbox runtime
		PreviewDebounce: getEnvDuration("PREVIEW_DEBOUNCE", 250*time.Millisecond),
		PythonBin:       getEnv("PYTHON_BIN", "python3"),
		RunTimeout:      getEnvDuration("RUN_TIMEOUT", 30*time.Second),
		// Debug flags - default to true in dev/test, false in production
		Debug: getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true" // Enable DEBUG in dev/test by default
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	// Auto-generate based on environment
	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("250ms") or plain milliseconds ("250")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
