package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewOpenAIProvider_DefaultBaseURL(t *testing.T) {
	provider := NewOpenAIProvider(OpenAIConfig{APIKey: "test-api-key", Model: "gpt-4"})
	if provider.baseURL != "https://api.openai.com/v1" {
		t.Errorf("expected default baseURL to be 'https://api.openai.com/v1', got %s", provider.baseURL)
	}
	if provider.client == nil {
		t.Error("expected client to not be nil")
	}
}

func TestNewOpenAIProvider_TrimTrailingSlash(t *testing.T) {
	provider := NewOpenAIProvider(OpenAIConfig{APIKey: "k", Model: "gpt-4", BaseURL: "https://api.openai.com/v1/"})
	if provider.baseURL != "https://api.openai.com/v1" {
		t.Errorf("expected baseURL to have trailing slash trimmed, got %s", provider.baseURL)
	}
}

func TestOpenAIProvider_MissingKeyOrModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called")
	}))
	defer server.Close()

	_, err := NewOpenAIProvider(OpenAIConfig{Model: "gpt-4", BaseURL: server.URL}).Stream(context.Background(), StreamRequest{})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	_, err = NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: server.URL}).Stream(context.Background(), StreamRequest{})
	if !errors.Is(err, ErrMissingModel) {
		t.Fatalf("expected ErrMissingModel, got %v", err)
	}
}

func TestOpenAIProvider_Stream_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected path '/chat/completions', got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-api-key" {
			t.Errorf("unexpected Authorization header %s", got)
		}
		var reqBody struct {
			Model    string          `json:"model"`
			Stream   bool            `json:"stream"`
			Messages []openAIMessage `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		if !reqBody.Stream {
			t.Error("expected stream=true")
		}
		if len(reqBody.Messages) != 2 || reqBody.Messages[1].Role != "assistant" {
			t.Errorf("expected model role mapped to assistant, got %+v", reqBody.Messages)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"See \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"https://example.com\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	provider := NewOpenAIProvider(OpenAIConfig{APIKey: "test-api-key", Model: "gpt-4", BaseURL: server.URL})
	out, err := Generate(context.Background(), provider, StreamRequest{
		Messages: []Message{{Role: "user", Content: "Hello"}, {Role: "model", Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "See https://example.com" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestOpenAIProvider_Stream_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "Invalid API key"}`))
	}))
	defer server.Close()

	provider := NewOpenAIProvider(OpenAIConfig{APIKey: "invalid-key", Model: "gpt-4", BaseURL: server.URL})
	_, err := provider.Stream(context.Background(), StreamRequest{Messages: []Message{{Role: "user", Content: "Hello"}}})
	if err == nil {
		t.Fatal("expected error for HTTP error, got nil")
	}
	if err.Error() != "LLM request failed: 401 Unauthorized" {
		t.Errorf("expected HTTP error message, got: %s", err.Error())
	}
}

func TestOpenAIProvider_Stream_InvalidChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n")
		fmt.Fprint(w, "data: {invalid json\n\n")
	}))
	defer server.Close()

	provider := NewOpenAIProvider(OpenAIConfig{APIKey: "k", Model: "gpt-4", BaseURL: server.URL})
	out, err := Generate(context.Background(), provider, StreamRequest{Messages: []Message{{Role: "user", Content: "Hello"}}})
	if err == nil {
		t.Fatal("expected error for invalid chunk, got nil")
	}
	if out != "ok" {
		t.Errorf("expected partial output 'ok', got %q", out)
	}
}

func TestOpenAIProvider_Stream_ErrorPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"overloaded\"}}\n\n")
	}))
	defer server.Close()

	provider := NewOpenAIProvider(OpenAIConfig{APIKey: "k", Model: "gpt-4", BaseURL: server.URL})
	_, err := Generate(context.Background(), provider, StreamRequest{Messages: []Message{{Role: "user", Content: "Hello"}}})
	if err == nil || err.Error() != "LLM stream error: overloaded" {
		t.Fatalf("expected overloaded stream error, got %v", err)
	}
}

func TestOpenAIProvider_Stream_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	provider := NewOpenAIProvider(OpenAIConfig{APIKey: "k", Model: "gpt-4", BaseURL: server.URL})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := provider.Stream(ctx, StreamRequest{Messages: []Message{{Role: "user", Content: "Hello"}}}); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}

func TestOpenAIProvider_Stream_NetworkError(t *testing.T) {
	provider := NewOpenAIProvider(OpenAIConfig{APIKey: "k", Model: "gpt-4", BaseURL: "http://localhost:1"})
	if _, err := provider.Stream(context.Background(), StreamRequest{Messages: []Message{{Role: "user", Content: "Hello"}}}); err == nil {
		t.Fatal("expected error for network failure, got nil")
	}
}
