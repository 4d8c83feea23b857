// Package config provides environment-aware configuration for the flow
// engine process.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds the flow engine's runtime configuration.
type Config struct {
	Env Environment

	// Durable Store
	StoreDSN string

	// Retry Service (spec §4.9)
	RetrySweepInterval time.Duration
	RetryMaxConcurrent int

	// Scheduler / branching (spec §9 open question)
	MaxBranchDepth int

	// Snapshot event tail (spec §3)
	MaxEventsTail int

	// Live Update Channel (spec §4.6)
	LiveChannelBufferSize int
	LiveListenAddr        string

	// Logging
	LogLevel  string
	LogFormat string

	// Tracing (optional; empty endpoint disables export)
	OTLPEndpoint string
	OTLPInsecure bool
}

// Load reads FLOWENGINE_ENV and an optional config/<env>.env file, then
// overlays individual FLOWENGINE_* environment variables.
func Load() (*Config, error) {
	envStr := os.Getenv("FLOWENGINE_ENV")
	if envStr == "" {
		envStr = string(Development)
	}
	env := Environment(envStr)
	switch env {
	case Development, Testing, Production:
	default:
		return nil, fmt.Errorf("invalid FLOWENGINE_ENV: %s (must be development, testing, or production)", envStr)
	}

	envFile := fmt.Sprintf("config/%s.env", env)
	if err := godotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	cfg.Env = env

	if v := os.Getenv("FLOWENGINE_STORE_DSN"); v != "" {
		cfg.StoreDSN = v
	}
	if v := os.Getenv("FLOWENGINE_RETRY_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid FLOWENGINE_RETRY_SWEEP_INTERVAL: %w", err)
		}
		cfg.RetrySweepInterval = d
	}
	if v := os.Getenv("FLOWENGINE_RETRY_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid FLOWENGINE_RETRY_MAX_CONCURRENT: %w", err)
		}
		cfg.RetryMaxConcurrent = n
	}
	if v := os.Getenv("FLOWENGINE_MAX_BRANCH_DEPTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid FLOWENGINE_MAX_BRANCH_DEPTH: %w", err)
		}
		cfg.MaxBranchDepth = n
	}
	if v := os.Getenv("FLOWENGINE_MAX_EVENTS_TAIL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid FLOWENGINE_MAX_EVENTS_TAIL: %w", err)
		}
		cfg.MaxEventsTail = n
	}
	if v := os.Getenv("FLOWENGINE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWENGINE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("FLOWENGINE_LIVE_LISTEN_ADDR"); v != "" {
		cfg.LiveListenAddr = v
	}
	if v := os.Getenv("FLOWENGINE_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := os.Getenv("FLOWENGINE_OTLP_INSECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid FLOWENGINE_OTLP_INSECURE: %w", err)
		}
		cfg.OTLPInsecure = b
	}

	return &cfg, nil
}

// Default returns sane defaults for local development and tests.
func Default() Config {
	return Config{
		Env:                   Development,
		StoreDSN:              "",
		RetrySweepInterval:    60 * time.Second,
		RetryMaxConcurrent:    10,
		MaxBranchDepth:        4,
		MaxEventsTail:         200,
		LiveChannelBufferSize: 64,
		LiveListenAddr:        ":8089",
		LogLevel:              "info",
		LogFormat:             "text",
	}
}
