package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	TelegramToken string
	DatabaseURL   string

	APIBaseURL        string
	APIRequestTimeout time.Duration

	Timezone            string // IANA zone of the institution, lesson times live here
	NotifyOffsetsMin    []int  // lead times in minutes, e.g. 15 and 1
	SweepFaultBudget    int    // upstream faults tolerated per sweep
	NotifyRatePerSec    int    // outbound message rate limit
	CallScheduleRetries int    // startup attempts to load the bell schedule
	RefreshCronSpec     string // daily call-schedule refresh

	MetricsListenAddr string // empty disables the /metrics endpoint

	LogLevel    string
	Environment string
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.APIBaseURL = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL is not set")
	}

	var err error
	cfg.APIRequestTimeout, err = durationEnv("API_REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.Timezone = os.Getenv("TIMEZONE")
	if cfg.Timezone == "" {
		cfg.Timezone = "Europe/Kyiv"
	}

	cfg.NotifyOffsetsMin, err = intListEnv("NOTIFY_OFFSETS_MIN", []int{15, 1})
	if err != nil {
		return nil, err
	}

	cfg.SweepFaultBudget, err = intEnv("SWEEP_FAULT_BUDGET", 5)
	if err != nil {
		return nil, err
	}

	cfg.NotifyRatePerSec, err = intEnv("NOTIFY_RATE_PER_SEC", 20)
	if err != nil {
		return nil, err
	}

	cfg.CallScheduleRetries, err = intEnv("CALL_SCHEDULE_RETRIES", 5)
	if err != nil {
		return nil, err
	}

	cfg.RefreshCronSpec = os.Getenv("REFRESH_CRON_SPEC")
	if cfg.RefreshCronSpec == "" {
		cfg.RefreshCronSpec = "0 4 * * *" // 04:00 daily, institution timezone
	}

	cfg.MetricsListenAddr = os.Getenv("METRICS_LISTEN_ADDR")

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	return cfg, nil
}

func intEnv(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

func intListEnv(name string, def []int) ([]int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	var out []int
	for _, part := range strings.Split(raw, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid %s entry %q", name, part)
		}
		out = append(out, v)
	}
	return out, nil
}
