package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	LLM        LLMConfig
	Repository RepositoryConfig
	Execution  ExecutionConfig
	Session    SessionConfig
	Log        LogConfig
}

type LLMConfig struct {
	Provider    string // "openai", "anthropic", or any other gollm provider
	APIKey      string
	BaseURL     string // Optional: OpenAI-compatible endpoint
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
}

type RepositoryConfig struct {
	Path        string
	URL         string // Optional: cloned into Path when set
	Remote      string
	Token       string
	AuthorName  string
	AuthorEmail string
}

type ExecutionConfig struct {
	Python         string
	PythonTimeout  time.Duration
	PythonMemoryMB int // 0 disables the cap
	CommandTimeout time.Duration
	TerminalShell  bool
}

type SessionConfig struct {
	MaxCommandRounds    int
	CommandOrder        string // "kind" or "position"
	Compaction          string // "model", "truncate" or "off"
	CompactionThreshold int
}

type LogConfig struct {
	Level string
	File  string
}

// Load reads configuration from the environment after loading envFiles
// (default ".env") into it. Variables already set in the environment win
// over file values. A missing file is not an error.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	provider := strings.ToLower(getEnv("GITPILOT_PROVIDER", "openai"))
	cfg := Config{
		LLM: LLMConfig{
			Provider:    provider,
			APIKey:      getEnv(apiKeyVar(provider), ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", ""),
			Model:       getEnv("GITPILOT_MODEL", "gpt-3.5-turbo"),
			Temperature: getEnvFloat("GITPILOT_TEMPERATURE", 0),
			TopP:        getEnvFloat("GITPILOT_TOP_P", 1),
			MaxTokens:   getEnvInt("GITPILOT_MAX_TOKENS", 1024),
		},
		Repository: RepositoryConfig{
			Path:        getEnv("GITPILOT_REPO_PATH", "."),
			URL:         getEnv("GITPILOT_REPO_URL", ""),
			Remote:      getEnv("GITPILOT_GIT_REMOTE", "origin"),
			Token:       getEnv("GITPILOT_GIT_TOKEN", ""),
			AuthorName:  getEnv("GIT_AUTHOR_NAME", "gitpilot"),
			AuthorEmail: getEnv("GIT_AUTHOR_EMAIL", "gitpilot@localhost"),
		},
		Execution: ExecutionConfig{
			Python:         getEnv("GITPILOT_PYTHON", "python3"),
			PythonTimeout:  getEnvDuration("GITPILOT_PYTHON_TIMEOUT", 30*time.Second),
			PythonMemoryMB: getEnvInt("GITPILOT_PYTHON_MEMORY_MB", 512),
			CommandTimeout: getEnvDuration("GITPILOT_COMMAND_TIMEOUT", 60*time.Second),
			TerminalShell:  getEnvBool("GITPILOT_TERMINAL_SHELL", true),
		},
		Session: SessionConfig{
			MaxCommandRounds:    getEnvInt("GITPILOT_MAX_COMMAND_ROUNDS", 10),
			CommandOrder:        getEnv("GITPILOT_COMMAND_ORDER", "kind"),
			Compaction:          getEnv("GITPILOT_COMPACTION", "model"),
			CompactionThreshold: getEnvInt("GITPILOT_COMPACTION_THRESHOLD", 100),
		},
		Log: LogConfig{
			Level: getEnv("GITPILOT_LOG_LEVEL", "warn"),
			File:  getEnv("GITPILOT_LOG_FILE", "stderr"),
		},
	}

	if cfg.LLM.APIKey == "" {
		return Config{}, fmt.Errorf("%s is required for provider %q", apiKeyVar(provider), provider)
	}
	if cfg.LLM.Model == "" {
		return Config{}, fmt.Errorf("GITPILOT_MODEL must not be empty")
	}
	if cfg.Session.MaxCommandRounds <= 0 {
		return Config{}, fmt.Errorf("GITPILOT_MAX_COMMAND_ROUNDS must be positive, got %d", cfg.Session.MaxCommandRounds)
	}

	return cfg, nil
}

// apiKeyVar names the variable holding the key for provider, for example
// OPENAI_API_KEY or ANTHROPIC_API_KEY.
func apiKeyVar(provider string) string {
	return strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEY"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("45s", "2m") or a bare number of
// seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}
