package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-helix/internal/chat"
	"github.com/Keyring-Network/keyring-helix/internal/config"
	"github.com/Keyring-Network/keyring-helix/internal/intent"
	"github.com/Keyring-Network/keyring-helix/internal/llm"
	"github.com/Keyring-Network/keyring-helix/internal/reader"
	"github.com/Keyring-Network/keyring-helix/internal/research"
)

type staticFetcher struct{}

func (staticFetcher) FetchAll(ctx context.Context, urls []string) reader.Batch {
	batch := reader.Batch{}
	for _, url := range urls {
		batch.URLs = append(batch.URLs, url)
		batch.Markdowns = append(batch.Markdowns, "# Gene page")
	}
	return batch
}

func (f staticFetcher) FetchChunked(ctx context.Context, urls []string, size int) reader.Batch {
	return f.FetchAll(ctx, urls)
}

type stubResearcher struct {
	urls    []string
	query   string
	profile research.Profile
}

func (s *stubResearcher) Research(ctx context.Context, query string, profile research.Profile) []string {
	s.query = query
	s.profile = profile
	return s.urls
}

type capturingChat struct {
	req chat.Request
	svc chatService
}

func (c *capturingChat) Chat(ctx context.Context, req chat.Request) (*chat.Turn, error) {
	c.req = req
	return c.svc.Chat(ctx, req)
}

func captureCLIDeps() func() {
	origLoadConfig := loadConfig
	origNewLogger := newLogger
	origNewPipeline := newPipeline
	origNewResearcher := newResearcher
	return func() {
		loadConfig = origLoadConfig
		newLogger = origNewLogger
		newPipeline = origNewPipeline
		newResearcher = origNewResearcher
	}
}

func stubCLI(t *testing.T) *capturingChat {
	t.Helper()
	restore := captureCLIDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Defaults(), nil
	}
	newLogger = func(_ string, _ string) (*zap.Logger, error) {
		return zap.NewNop(), nil
	}
	pipeline := chat.NewPipeline(chat.Deps{
		Provider: llm.LocalProvider{},
		Fetcher:  staticFetcher{},
	}, chat.DefaultConfig(), nil)
	captured := &capturingChat{svc: pipeline}
	newPipeline = func(_ context.Context, _ config.Config, _ *zap.Logger) (chatService, error) {
		return captured, nil
	}
	return captured
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAskStreamsAnswer(t *testing.T) {
	captured := stubCLI(t)

	out, err := execute(t, "ask", "what", "is", "a", "SNP?", "--thinking")
	require.NoError(t, err)
	require.Equal(t, "You said: what is a SNP?\n", out)
	require.True(t, captured.req.EnableThinkingBudget)
	require.False(t, captured.req.DeepResearch)
}

func TestAskPrintsSources(t *testing.T) {
	stubCLI(t)

	out, err := execute(t, "ask", "summarize https://example.org/gene")
	require.NoError(t, err)
	require.Contains(t, out, "Sources:\n- https://example.org/gene\n")
}

func TestAskReadsDocument(t *testing.T) {
	captured := stubCLI(t)
	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("BRCA1 c.68_69delAG"), 0o600))

	_, err := execute(t, "ask", "explain my report", "--document", path)
	require.NoError(t, err)
	require.Equal(t, "BRCA1 c.68_69delAG", captured.req.DocumentContext)
}

func TestAskMissingDocument(t *testing.T) {
	stubCLI(t)

	_, err := execute(t, "ask", "explain", "--document", filepath.Join(t.TempDir(), "missing.txt"))
	require.ErrorContains(t, err, "read document")
}

func TestAskRequiresMessage(t *testing.T) {
	stubCLI(t)

	_, err := execute(t, "ask")
	require.Error(t, err)
}

func TestAskPipelineError(t *testing.T) {
	stubCLI(t)
	newPipeline = func(_ context.Context, _ config.Config, _ *zap.Logger) (chatService, error) {
		return nil, errors.New("unsupported LLM provider: x")
	}

	_, err := execute(t, "ask", "hi")
	require.EqualError(t, err, "unsupported LLM provider: x")
}

func TestAskConfigError(t *testing.T) {
	stubCLI(t)
	loadConfig = func() (config.Config, error) {
		return config.Config{}, errors.New("bad config file")
	}

	_, err := execute(t, "ask", "hi")
	require.EqualError(t, err, "bad config file")
}

func TestClassifyPrintsDecision(t *testing.T) {
	stubCLI(t)

	out, err := execute(t, "classify", "read https://example.org/page")
	require.NoError(t, err)

	var decision intent.Decision
	require.NoError(t, json.Unmarshal([]byte(out), &decision))
	require.Equal(t, intent.URLFetch, decision.Kind)
	require.Equal(t, []string{"https://example.org/page"}, decision.URLs)
}

func TestResearchPrintsURLs(t *testing.T) {
	stubCLI(t)
	stub := &stubResearcher{urls: []string{"https://a.example", "https://b.example"}}
	newResearcher = func(_ config.Config, _ *zap.Logger) researcher {
		return stub
	}

	out, err := execute(t, "research", "APOE", "e4", "--enhanced")
	require.NoError(t, err)
	require.Equal(t, "https://a.example\nhttps://b.example\n", out)
	require.Equal(t, "APOE e4", stub.query)
	require.Equal(t, research.EnhancedProfile.Name, stub.profile.Name)
}

func TestResearchNoSources(t *testing.T) {
	stubCLI(t)
	newResearcher = func(_ config.Config, _ *zap.Logger) researcher {
		return &stubResearcher{}
	}

	_, err := execute(t, "research", "APOE")
	require.ErrorIs(t, err, errNoSources)
}
