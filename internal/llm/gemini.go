package llm

import (
	"context"
	"fmt"
	"iter"

	"google.golang.org/genai"
)

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type contentStreamer func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

type GeminiProvider struct {
	model  string
	stream contentStreamer
}

func newGeminiClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	config := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		config.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return client, nil
}

func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.Model == "" {
		return nil, ErrMissingModel
	}
	client, err := newGeminiClient(ctx, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{
		model:  cfg.Model,
		stream: client.Models.GenerateContentStream,
	}, nil
}

func (p *GeminiProvider) Stream(ctx context.Context, req StreamRequest) (<-chan StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("gemini stream: no messages")
	}
	contents := toGeminiContents(req.Messages)
	config := geminiConfig(req)

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		for resp, err := range p.stream(ctx, p.model, contents, config) {
			if err != nil {
				send(ctx, events, StreamEvent{Err: fmt.Errorf("gemini stream: %w", err)})
				return
			}
			if resp == nil {
				continue
			}
			for _, candidate := range resp.Candidates {
				if candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part == nil || part.Thought || part.Text == "" {
						continue
					}
					if !send(ctx, events, StreamEvent{Delta: part.Text}) {
						return
					}
				}
			}
		}
	}()
	return events, nil
}

func toGeminiContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, message := range messages {
		role := genai.Role(genai.RoleUser)
		if IsModelRole(message.Role) {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(message.Content, role))
	}
	return contents
}

func geminiConfig(req StreamRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		temperature := float32(req.Temperature)
		config.Temperature = &temperature
	}
	if req.TopP > 0 {
		topP := float32(req.TopP)
		config.TopP = &topP
	}
	if req.TopK > 0 {
		topK := float32(req.TopK)
		config.TopK = &topK
	}
	budget := int32(max(req.ThinkingBudget, 0))
	config.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &budget}
	return config
}
