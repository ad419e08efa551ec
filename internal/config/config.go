package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the handoff service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	DatabaseURL string

	EngineAdapterMode  string
	EngineHTTPURL      string
	EngineTimeout      time.Duration
	EngineMaxRetries   int
	EngineFallbackText string
	DefaultLocale      string

	AnonymousMessageLimit  int
	AnonymousMessageWindow time.Duration
}

const defaultFallbackText = "I'm having trouble reaching my reply service right now, " +
	"but I'm still here. Could you say that again in a moment?"

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:               envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:       envOrDefault("APP_METRICS_NAMESPACE", "haven"),
		DatabaseURL:            trimmedEnv("DATABASE_URL"),
		EngineAdapterMode:      envOrDefault("ENGINE_ADAPTER_MODE", "auto"),
		EngineHTTPURL:          trimmedEnv("ENGINE_HTTP_URL"),
		EngineFallbackText:     envOrDefault("ENGINE_FALLBACK_TEXT", defaultFallbackText),
		DefaultLocale:          envOrDefault("APP_DEFAULT_LOCALE", "en"),
		ShutdownTimeout:        15 * time.Second,
		EngineTimeout:          30 * time.Second,
		EngineMaxRetries:       2,
		AnonymousMessageLimit:  30,
		AnonymousMessageWindow: time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EngineTimeout, err = durationFromEnv("ENGINE_TIMEOUT", cfg.EngineTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EngineMaxRetries, err = intFromEnv("ENGINE_MAX_RETRIES", cfg.EngineMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.AnonymousMessageLimit, err = intFromEnv("ANON_MESSAGE_LIMIT", cfg.AnonymousMessageLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.AnonymousMessageWindow, err = durationFromEnv("ANON_MESSAGE_WINDOW", cfg.AnonymousMessageWindow)
	if err != nil {
		return Config{}, err
	}

	if cfg.EngineTimeout <= 0 {
		return Config{}, fmt.Errorf("ENGINE_TIMEOUT must be positive")
	}
	if cfg.EngineMaxRetries < 0 {
		return Config{}, fmt.Errorf("ENGINE_MAX_RETRIES must be >= 0")
	}
	if cfg.AnonymousMessageLimit <= 0 {
		return Config{}, fmt.Errorf("ANON_MESSAGE_LIMIT must be positive")
	}
	if cfg.AnonymousMessageWindow < time.Second {
		return Config{}, fmt.Errorf("ANON_MESSAGE_WINDOW must be at least 1s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
