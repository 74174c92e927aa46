package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const configFileEnv = "HELIX_CONFIG_FILE"

type Config struct {
	Port              string `yaml:"port"`
	StoreDriver       string `yaml:"store_driver"`
	PostgresURL       string `yaml:"postgres_url"`
	TemporalAddress   string `yaml:"temporal_address"`
	TemporalTaskQueue string `yaml:"temporal_task_queue"`

	LLMProvider      string  `yaml:"llm_provider"`
	LLMModel         string  `yaml:"llm_model"`
	LLMBaseURL       string  `yaml:"llm_base_url"`
	GeminiAPIKey     string  `yaml:"gemini_api_key"`
	OpenAIAPIKey     string  `yaml:"openai_api_key"`
	OpenRouterAPIKey string  `yaml:"openrouter_api_key"`
	ImageModel       string  `yaml:"image_model"`
	ThinkingBudget   int     `yaml:"thinking_budget"`
	MaxOutputTokens  int     `yaml:"max_output_tokens"`
	Temperature      float64 `yaml:"temperature"`
	TopP             float64 `yaml:"top_p"`
	TopK             float64 `yaml:"top_k"`
	PersonaPath      string  `yaml:"persona_path"`

	ReaderBaseURL         string        `yaml:"reader_base_url"`
	ReaderAPIKey          string        `yaml:"reader_api_key"`
	ReaderTimeout         time.Duration `yaml:"reader_timeout"`
	ReaderMaxDepth        int           `yaml:"reader_max_depth"`
	ReaderMinContentChars int           `yaml:"reader_min_content_chars"`
	FetchBatchSize        int           `yaml:"fetch_batch_size"`

	ResearchBaseURL      string        `yaml:"research_base_url"`
	ResearchAPIKey       string        `yaml:"research_api_key"`
	ResearchMaxRetries   int           `yaml:"research_max_retries"`
	ResearchRetryDelay   time.Duration `yaml:"research_retry_delay"`
	ResearchPollInterval time.Duration `yaml:"research_poll_interval"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Defaults() Config {
	return Config{
		Port:                  "8080",
		StoreDriver:           "memory",
		PostgresURL:           "",
		TemporalAddress:       "",
		TemporalTaskQueue:     "helix-research",
		LLMProvider:           "gemini",
		LLMModel:              "gemini-2.5-flash",
		ImageModel:            "imagen-3.0-generate-002",
		ThinkingBudget:        8192,
		MaxOutputTokens:       8192,
		Temperature:           0.7,
		TopP:                  0.95,
		TopK:                  40,
		ReaderBaseURL:         "https://r.jina.ai",
		ReaderTimeout:         30 * time.Second,
		ReaderMaxDepth:        1,
		ReaderMinContentChars: 100,
		FetchBatchSize:        5,
		ResearchBaseURL:       "https://api.firecrawl.dev/v1/deep-research",
		ResearchMaxRetries:    3,
		ResearchRetryDelay:    2 * time.Second,
		ResearchPollInterval:  2 * time.Second,
		LogLevel:              "info",
		LogFormat:             "json",
	}
}

// Load resolves configuration from defaults, then the optional YAML file named
// by HELIX_CONFIG_FILE, then environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := getEnv(configFileEnv, ""); path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if cfg.PostgresURL == "" && strings.EqualFold(cfg.StoreDriver, "postgres") {
		cfg.PostgresURL = buildPostgresURL()
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("HELIX_PORT", cfg.Port)
	cfg.StoreDriver = getEnv("HELIX_STORE", cfg.StoreDriver)
	cfg.PostgresURL = getEnv("POSTGRES_URL", cfg.PostgresURL)
	cfg.TemporalAddress = getEnv("TEMPORAL_ADDRESS", cfg.TemporalAddress)
	cfg.TemporalTaskQueue = getEnv("TEMPORAL_TASK_QUEUE", cfg.TemporalTaskQueue)

	cfg.LLMProvider = getEnv("LLM_PROVIDER", cfg.LLMProvider)
	cfg.LLMModel = getEnv("LLM_MODEL", cfg.LLMModel)
	cfg.LLMBaseURL = getEnv("LLM_BASE_URL", cfg.LLMBaseURL)
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenRouterAPIKey = getEnv("OPENROUTER_API_KEY", cfg.OpenRouterAPIKey)
	cfg.ImageModel = getEnv("IMAGE_MODEL", cfg.ImageModel)
	cfg.ThinkingBudget = getEnvInt("THINKING_BUDGET", cfg.ThinkingBudget)
	cfg.MaxOutputTokens = getEnvInt("LLM_MAX_OUTPUT_TOKENS", cfg.MaxOutputTokens)
	cfg.Temperature = getEnvFloat("LLM_TEMPERATURE", cfg.Temperature)
	cfg.TopP = getEnvFloat("LLM_TOP_P", cfg.TopP)
	cfg.TopK = getEnvFloat("LLM_TOP_K", cfg.TopK)
	cfg.PersonaPath = getEnv("HELIX_PERSONA_PATH", cfg.PersonaPath)

	cfg.ReaderBaseURL = getEnv("READER_BASE_URL", cfg.ReaderBaseURL)
	cfg.ReaderAPIKey = getEnv("JINA_API_KEY", cfg.ReaderAPIKey)
	cfg.ReaderTimeout = getEnvDuration("READER_TIMEOUT", cfg.ReaderTimeout)
	cfg.ReaderMaxDepth = getEnvInt("READER_MAX_DEPTH", cfg.ReaderMaxDepth)
	cfg.ReaderMinContentChars = getEnvInt("READER_MIN_CONTENT_CHARS", cfg.ReaderMinContentChars)
	cfg.FetchBatchSize = getEnvInt("FETCH_BATCH_SIZE", cfg.FetchBatchSize)

	cfg.ResearchBaseURL = getEnv("RESEARCH_BASE_URL", cfg.ResearchBaseURL)
	cfg.ResearchAPIKey = getEnv("FIRECRAWL_API_KEY", cfg.ResearchAPIKey)
	cfg.ResearchMaxRetries = getEnvInt("RESEARCH_MAX_RETRIES", cfg.ResearchMaxRetries)
	cfg.ResearchRetryDelay = getEnvDuration("RESEARCH_RETRY_DELAY", cfg.ResearchRetryDelay)
	cfg.ResearchPollInterval = getEnvDuration("RESEARCH_POLL_INTERVAL", cfg.ResearchPollInterval)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

func buildPostgresURL() string {
	user := getEnv("POSTGRES_USER", "helix")
	password := getEnv("POSTGRES_PASSWORD", "helix")
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	database := getEnv("POSTGRES_DB", "helix")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, database)
}
