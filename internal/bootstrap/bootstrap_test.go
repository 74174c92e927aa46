package bootstrap

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Keyring-Network/keyring-helix/internal/chat"
	"github.com/Keyring-Network/keyring-helix/internal/config"
	"github.com/Keyring-Network/keyring-helix/internal/llm"
)

func TestPipeline_LocalProviderStreams(t *testing.T) {
	cfg := config.Defaults()
	cfg.LLMProvider = "local"

	pipeline, err := Pipeline(context.Background(), cfg, nil, Factories{
		LoadPersona: func(string) (string, error) { return "persona", nil },
	})
	require.NoError(t, err)

	turn, err := pipeline.Chat(context.Background(), chat.Request{
		History: []chat.Message{{Role: "user", Content: "hello there"}},
	})
	require.NoError(t, err)
	body, err := io.ReadAll(turn.Stream)
	require.NoError(t, err)
	require.Equal(t, "You said: hello there", string(body))
}

func TestPipeline_ProviderError(t *testing.T) {
	cfg := config.Defaults()
	cfg.LLMProvider = "unknown"

	_, err := Pipeline(context.Background(), cfg, nil, Factories{})
	require.ErrorAs(t, err, &llm.ErrUnsupportedProvider{})
}

func TestPipeline_PersonaError(t *testing.T) {
	cfg := config.Defaults()
	cfg.LLMProvider = "local"

	_, err := Pipeline(context.Background(), cfg, nil, Factories{
		LoadPersona: func(string) (string, error) { return "", errors.New("missing persona") },
	})
	require.EqualError(t, err, "missing persona")
}

func TestPipeline_ImageGeneratorOnlyWithKey(t *testing.T) {
	cfg := config.Defaults()
	cfg.LLMProvider = "local"
	calls := 0
	factories := Factories{
		NewImageGenerator: func(ctx context.Context, gc llm.GeminiConfig) (llm.ImageGenerator, error) {
			calls++
			require.Equal(t, cfg.ImageModel, gc.Model)
			return nil, errors.New("quota exceeded")
		},
		LoadPersona: func(string) (string, error) { return "persona", nil },
	}

	_, err := Pipeline(context.Background(), cfg, nil, factories)
	require.NoError(t, err)
	require.Zero(t, calls)

	cfg.GeminiAPIKey = "key"
	_, err = Pipeline(context.Background(), cfg, nil, factories)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestClientsFromConfig(t *testing.T) {
	cfg := config.Defaults()
	require.NotNil(t, Reader(cfg, nil))
	require.NotNil(t, Researcher(cfg, nil))
}
