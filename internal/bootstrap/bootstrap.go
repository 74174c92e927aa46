// Package bootstrap turns a loaded config into the chat pipeline and its
// outbound clients. The server, the worker and helixctl share it.
package bootstrap

import (
	"context"

	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-helix/internal/chat"
	"github.com/Keyring-Network/keyring-helix/internal/config"
	"github.com/Keyring-Network/keyring-helix/internal/llm"
	"github.com/Keyring-Network/keyring-helix/internal/persona"
	"github.com/Keyring-Network/keyring-helix/internal/reader"
	"github.com/Keyring-Network/keyring-helix/internal/research"
)

type Factories struct {
	NewProvider       func(ctx context.Context, cfg llm.Config) (llm.Provider, error)
	NewImageGenerator func(ctx context.Context, cfg llm.GeminiConfig) (llm.ImageGenerator, error)
	LoadPersona       func(path string) (string, error)
}

func DefaultFactories() Factories {
	return Factories{
		NewProvider: llm.NewProvider,
		NewImageGenerator: func(ctx context.Context, cfg llm.GeminiConfig) (llm.ImageGenerator, error) {
			return llm.NewGeminiImageGenerator(ctx, cfg)
		},
		LoadPersona: persona.Load,
	}
}

func Reader(cfg config.Config, logger *zap.Logger) *reader.Client {
	return reader.New(reader.Config{
		BaseURL:         cfg.ReaderBaseURL,
		APIKey:          cfg.ReaderAPIKey,
		Timeout:         cfg.ReaderTimeout,
		MaxDepth:        cfg.ReaderMaxDepth,
		MinContentChars: cfg.ReaderMinContentChars,
	}, logger)
}

func Researcher(cfg config.Config, logger *zap.Logger) *research.Client {
	return research.New(research.Config{
		BaseURL:      cfg.ResearchBaseURL,
		APIKey:       cfg.ResearchAPIKey,
		MaxRetries:   cfg.ResearchMaxRetries,
		RetryDelay:   cfg.ResearchRetryDelay,
		PollInterval: cfg.ResearchPollInterval,
	}, logger)
}

// Pipeline builds the chat pipeline. A failing image generator only disables
// image requests; provider and persona failures are fatal.
func Pipeline(ctx context.Context, cfg config.Config, logger *zap.Logger, f Factories) (*chat.Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultFactories()
	if f.NewProvider == nil {
		f.NewProvider = defaults.NewProvider
	}
	if f.NewImageGenerator == nil {
		f.NewImageGenerator = defaults.NewImageGenerator
	}
	if f.LoadPersona == nil {
		f.LoadPersona = defaults.LoadPersona
	}

	provider, err := f.NewProvider(ctx, llm.Config{
		Provider:         cfg.LLMProvider,
		Model:            cfg.LLMModel,
		BaseURL:          cfg.LLMBaseURL,
		GeminiAPIKey:     cfg.GeminiAPIKey,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenRouterAPIKey: cfg.OpenRouterAPIKey,
	})
	if err != nil {
		return nil, err
	}

	var images llm.ImageGenerator
	if cfg.ImageModel != "" && cfg.GeminiAPIKey != "" {
		generator, err := f.NewImageGenerator(ctx, llm.GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.ImageModel,
			BaseURL: cfg.LLMBaseURL,
		})
		if err != nil {
			logger.Warn("image generation disabled", zap.Error(err))
		} else {
			images = generator
		}
	}

	personaText, err := f.LoadPersona(cfg.PersonaPath)
	if err != nil {
		return nil, err
	}

	deps := chat.Deps{
		Provider:   provider,
		Fetcher:    Reader(cfg, logger),
		Researcher: Researcher(cfg, logger),
		Images:     images,
	}
	return chat.NewPipeline(deps, chat.Config{
		Persona:        personaText,
		ThinkingBudget: cfg.ThinkingBudget,
		MaxTokens:      cfg.MaxOutputTokens,
		Temperature:    cfg.Temperature,
		TopP:           cfg.TopP,
		TopK:           cfg.TopK,
		BatchSize:      cfg.FetchBatchSize,
	}, logger), nil
}
