package llm

import (
	"context"
	"strings"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamRequest carries one model call. A zero ThinkingBudget disables thinking.
type StreamRequest struct {
	Messages       []Message
	ThinkingBudget int
	MaxTokens      int
	Temperature    float64
	TopP           float64
	TopK           float64
}

// StreamEvent is either a text delta or a terminal error.
type StreamEvent struct {
	Delta string
	Err   error
}

// Provider streams model output. Implementations close the returned channel
// when the response ends, fails, or ctx is cancelled.
type Provider interface {
	Stream(ctx context.Context, req StreamRequest) (<-chan StreamEvent, error)
}

type Config struct {
	Provider         string
	Model            string
	BaseURL          string
	GeminiAPIKey     string
	OpenAIAPIKey     string
	OpenRouterAPIKey string
}

func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "local":
		return LocalProvider{}, nil
	case "gemini", "":
		return NewGeminiProvider(ctx, GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		}), nil
	case "openrouter":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.OpenRouterAPIKey,
			Model:   cfg.Model,
			BaseURL: defaultIfEmpty(cfg.BaseURL, "https://openrouter.ai/api/v1"),
		}), nil
	default:
		return nil, ErrUnsupportedProvider{Provider: cfg.Provider}
	}
}

// Generate drains a stream into a single string.
func Generate(ctx context.Context, provider Provider, req StreamRequest) (string, error) {
	events, err := provider.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for event := range events {
		if event.Err != nil {
			return out.String(), event.Err
		}
		out.WriteString(event.Delta)
	}
	return out.String(), ctx.Err()
}

// IsModelRole reports whether a history role is authored by the model.
func IsModelRole(role string) bool {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleModel, "assistant":
		return true
	default:
		return false
	}
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func send(ctx context.Context, events chan<- StreamEvent, event StreamEvent) bool {
	select {
	case events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}
