package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Runtime holds the process-level (not per-session) settings loaded from
// the environment: log level, data directory, default exchange group, and
// the listen port for the status/health surface.
type Runtime struct {
	LogLevel      string
	DataDir       string
	ExchangeGroup string
	Port          int
}

// LoadRuntime loads a .env file if present (local dev convenience, silently
// ignored if absent) and then reads typed settings from the environment,
// applying defaults for anything unset.
func LoadRuntime() (Runtime, error) {
	_ = godotenv.Load()

	port, err := parseIntEnv("SESSIOND_PORT", 8090)
	if err != nil {
		return Runtime{}, err
	}

	return Runtime{
		LogLevel:      getEnv("SESSIOND_LOG_LEVEL", "info"),
		DataDir:       getEnv("SESSIOND_DATA_DIR", "./data"),
		ExchangeGroup: getEnv("SESSIOND_EXCHANGE_GROUP", "NASDAQ"),
		Port:          port,
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseIntEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", key, v, err)
	}
	return n, nil
}
