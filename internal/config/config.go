package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Env
	Env string // "dev" | "prod"

	// Storage
	DBPath  string // e.g. "./data/clavis.db"
	KeyPath string // e.g. "./data/secret.key"

	// Engine time guards
	CheckoutWindow time.Duration
	CheckinMinAge  time.Duration

	// Registration write-then-verify
	WriteAttempts int
	WriteBackoff  time.Duration

	// Kiosk loop
	Debounce time.Duration

	// Logging
	LogLevel string
	LogJSON  bool
}

func FromEnv() Config {
	env := strings.ToLower(getenvDefault("CLAVIS_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	dbPath := getenvDefault("CLAVIS_DB_PATH", "./data/clavis.db")
	keyPath := getenvDefault("CLAVIS_KEY_PATH", "./data/secret.key")

	window := getenvInt("CLAVIS_CHECKOUT_WINDOW_S", 20)
	minAge := getenvInt("CLAVIS_CHECKIN_MIN_AGE_S", 120)

	attempts := getenvInt("CLAVIS_WRITE_RETRIES", 5)
	backoffMs := getenvInt("CLAVIS_WRITE_RETRY_BACKOFF_MS", 500)

	debounceMs := getenvInt("CLAVIS_DEBOUNCE_MS", 1000)

	logLevel := getenvDefault("CLAVIS_LOG_LEVEL", "info")
	logJSON := strings.EqualFold(os.Getenv("CLAVIS_LOG_JSON"), "true") ||
		os.Getenv("CLAVIS_LOG_JSON") == "1"

	return Config{
		Env: env,

		DBPath:  dbPath,
		KeyPath: keyPath,

		CheckoutWindow: time.Duration(window) * time.Second,
		CheckinMinAge:  time.Duration(minAge) * time.Second,

		WriteAttempts: attempts,
		WriteBackoff:  time.Duration(backoffMs) * time.Millisecond,

		Debounce: time.Duration(debounceMs) * time.Millisecond,

		LogLevel: logLevel,
		LogJSON:  logJSON,
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
