// Package config provides configuration for the phase controller.
package config

import (
	"os"
	"strconv"
	"time"
)

const (
	// MinTurnLimit and MaxTurnLimit bound the number of role-play turns per run.
	MinTurnLimit = 1
	MaxTurnLimit = 100

	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config holds the phase controller configuration.
type Config struct {
	// Server settings
	HTTPPort int
	RPCPort  int // 0 disables the JSON-RPC listener

	// Database
	DatabaseURL string

	// LLM settings
	LiteLLMURL    string
	LiteLLMAPIKey string
	LLMModel      string
	LLMTimeout    time.Duration

	// Worker settings
	TurnLimit         int
	StepDelay         time.Duration
	WorkerStopTimeout time.Duration
	AssistantRole     string
	UserRole          string

	// Admission policy
	MaxPromptLength int
	PolicyFile      string

	// WebSocket settings
	PingInterval time.Duration
	WriteTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:          getEnvInt("HTTP_PORT", 8000),
		RPCPort:           getEnvInt("RPC_PORT", 0),
		DatabaseURL:       getEnv("DATABASE_URL", "file:phasectl.db?cache=shared&mode=rwc"),
		LiteLLMURL:        getEnv("LITELLM_URL", "http://localhost:4000"),
		LiteLLMAPIKey:     getEnv("LITELLM_API_KEY", ""),
		LLMModel:          getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:        time.Duration(getEnvInt("LLM_TIMEOUT_MS", 120000)) * time.Millisecond,
		TurnLimit:         clampTurnLimit(getEnvInt("TURN_LIMIT", 10)),
		StepDelay:         time.Duration(getEnvInt("STEP_DELAY_MS", 500)) * time.Millisecond,
		WorkerStopTimeout: time.Duration(getEnvInt("WORKER_STOP_TIMEOUT_MS", 5000)) * time.Millisecond,
		AssistantRole:     getEnv("ASSISTANT_ROLE", "Programmer"),
		UserRole:          getEnv("USER_ROLE", "Chief Technology Officer"),
		MaxPromptLength:   getEnvInt("MAX_PROMPT_LENGTH", 4000),
		PolicyFile:        getEnv("POLICY_FILE", ""),
		PingInterval:      time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:      time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", LogFormatText),
	}
	return cfg
}

func clampTurnLimit(n int) int {
	if n < MinTurnLimit {
		return MinTurnLimit
	}
	if n > MaxTurnLimit {
		return MaxTurnLimit
	}
	return n
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
