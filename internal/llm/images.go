package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type Image struct {
	MIMEType string
	Data     []byte
}

type ImageGenerator interface {
	GenerateImages(ctx context.Context, prompt string) ([]Image, error)
}

type imageGenerateFunc func(ctx context.Context, model string, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)

type GeminiImageGenerator struct {
	model    string
	count    int32
	generate imageGenerateFunc
}

func NewGeminiImageGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiImageGenerator, error) {
	if cfg.Model == "" {
		return nil, ErrMissingModel
	}
	client, err := newGeminiClient(ctx, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return &GeminiImageGenerator{
		model:    cfg.Model,
		count:    1,
		generate: client.Models.GenerateImages,
	}, nil
}

func (g *GeminiImageGenerator) GenerateImages(ctx context.Context, prompt string) ([]Image, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	resp, err := g.generate(ctx, g.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: g.count,
		OutputMIMEType: "image/png",
	})
	if err != nil {
		return nil, fmt.Errorf("generate images: %w", err)
	}
	images := make([]Image, 0, len(resp.GeneratedImages))
	for _, generated := range resp.GeneratedImages {
		if generated == nil || generated.Image == nil || len(generated.Image.ImageBytes) == 0 {
			continue
		}
		mimeType := generated.Image.MIMEType
		if mimeType == "" {
			mimeType = "image/png"
		}
		images = append(images, Image{MIMEType: mimeType, Data: generated.Image.ImageBytes})
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("generate images: response contained no images")
	}
	return images, nil
}
