package llm

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"
)

func TestGeminiImageGenerator_ReturnsImages(t *testing.T) {
	var gotPrompt string
	generator := &GeminiImageGenerator{
		model: "imagen-test",
		count: 1,
		generate: func(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error) {
			gotPrompt = prompt
			return &genai.GenerateImagesResponse{GeneratedImages: []*genai.GeneratedImage{
				{Image: &genai.Image{ImageBytes: []byte{0x89, 0x50}, MIMEType: "image/png"}},
				{Image: nil},
				{Image: &genai.Image{ImageBytes: []byte{0xff}}},
			}}, nil
		},
	}

	images, err := generator.GenerateImages(context.Background(), "  a DNA helix  ")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if gotPrompt != "a DNA helix" {
		t.Errorf("expected trimmed prompt, got %q", gotPrompt)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(images))
	}
	if images[1].MIMEType != "image/png" {
		t.Errorf("expected default mime type, got %s", images[1].MIMEType)
	}
}

func TestGeminiImageGenerator_Errors(t *testing.T) {
	generator := &GeminiImageGenerator{
		model: "imagen-test",
		generate: func(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error) {
			return nil, errors.New("blocked")
		},
	}
	if _, err := generator.GenerateImages(context.Background(), " "); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
	if _, err := generator.GenerateImages(context.Background(), "a cell"); err == nil {
		t.Fatal("expected upstream error")
	}

	generator.generate = func(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error) {
		return &genai.GenerateImagesResponse{}, nil
	}
	if _, err := generator.GenerateImages(context.Background(), "a cell"); err == nil {
		t.Fatal("expected error for empty response")
	}
}
