package chat

import (
	"context"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-helix/internal/intent"
	"github.com/Keyring-Network/keyring-helix/internal/llm"
	"github.com/Keyring-Network/keyring-helix/internal/persona"
	"github.com/Keyring-Network/keyring-helix/internal/reader"
	"github.com/Keyring-Network/keyring-helix/internal/research"
)

type Fetcher interface {
	FetchAll(ctx context.Context, urls []string) reader.Batch
	FetchChunked(ctx context.Context, urls []string, size int) reader.Batch
}

type Researcher interface {
	Research(ctx context.Context, query string, profile research.Profile) []string
}

type Deps struct {
	Provider   llm.Provider
	Fetcher    Fetcher
	Researcher Researcher
	// Images is optional; without it image requests are answered as plain chat.
	Images llm.ImageGenerator
}

type Config struct {
	Persona        string
	ThinkingBudget int
	MaxTokens      int
	Temperature    float64
	TopP           float64
	TopK           float64
	BatchSize      int
}

func DefaultConfig() Config {
	return Config{
		Persona:        persona.Default,
		ThinkingBudget: 8192,
		MaxTokens:      8192,
		Temperature:    0.7,
		TopP:           0.95,
		TopK:           40,
		BatchSize:      reader.DefaultBatchSize,
	}
}

type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

func NewPipeline(deps Deps, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = reader.DefaultBatchSize
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger.Named("chat")}
}

type Request struct {
	History              []Message
	EnableThinkingBudget bool
	DeepResearch         bool
	DocumentContext      string
	Observer             Observer
}

// Turn is the result of Chat. Sources and Activity are captured when the
// stream opens; State gives the live values. Stream must be read to the end
// or closed.
type Turn struct {
	Messages []Message
	Stream   io.ReadCloser
	Sources  []SourceURL
	Activity ActivityState
	Decision intent.Decision
	state    *TurnState
}

func (t *Turn) State() *TurnState {
	return t.state
}

// Chat validates the request, acquires web content when the classifier allows
// it and opens the model stream. Acquisition failures only drop the content;
// model failures surface as the stream's read error.
func (p *Pipeline) Chat(ctx context.Context, req Request) (*Turn, error) {
	latest, err := latestUserMessage(req.History)
	if err != nil {
		return nil, err
	}

	state := newTurnState(req.Observer)
	decision := intent.Classify(intent.Input{
		Text:         latest,
		HasDocument:  strings.TrimSpace(req.DocumentContext) != "",
		DeepResearch: req.DeepResearch,
	})
	logger := p.logger.With(zap.String("intent", string(decision.Kind)))
	logger.Debug("classified turn",
		zap.Bool("contains_url", decision.ContainsURL),
		zap.Bool("wants_no_search", decision.WantsNoSearch),
		zap.Bool("wants_search", decision.WantsSearch),
	)

	if decision.Kind == intent.ImageGeneration && p.deps.Images != nil {
		return p.imageTurn(ctx, req, decision, state, logger), nil
	}

	batch := p.acquire(ctx, decision, latest, req.DeepResearch, state, logger)

	state.setActivity(ActivityThinking)
	messages := Assemble(req.History, persona.SystemPrompt(p.cfg.Persona, req.DocumentContext), batch)
	streamReq := llm.StreamRequest{
		Messages:    messages,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
		TopP:        p.cfg.TopP,
		TopK:        p.cfg.TopK,
	}
	if req.EnableThinkingBudget {
		streamReq.ThinkingBudget = p.cfg.ThinkingBudget
	}

	streamCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	turn := &Turn{
		Messages: req.History,
		Stream:   &turnStream{PipeReader: pr, cancel: cancel},
		Sources:  state.Sources(),
		Activity: state.Activity(),
		Decision: decision,
		state:    state,
	}

	events, err := p.deps.Provider.Stream(streamCtx, streamReq)
	if err != nil {
		logger.Error("model stream failed to open", zap.Error(err))
		go func() {
			defer cancel()
			state.finish("", err)
			pw.CloseWithError(err)
		}()
		return turn, nil
	}
	go p.pump(streamCtx, cancel, events, pw, state, logger)
	return turn, nil
}

func (p *Pipeline) acquire(ctx context.Context, decision intent.Decision, query string, deepResearch bool, state *TurnState, logger *zap.Logger) reader.Batch {
	var batch reader.Batch
	switch decision.Kind {
	case intent.URLFetch:
		if p.deps.Fetcher == nil {
			logger.Warn("url fetch skipped, no fetcher configured")
			break
		}
		state.setActivity(ActivitySearching)
		batch = p.deps.Fetcher.FetchAll(ctx, decision.URLs)
		logger.Info("fetched linked pages", zap.Int("requested", len(decision.URLs)), zap.Int("usable", batch.Len()))
	case intent.DeepResearch:
		if p.deps.Researcher == nil {
			logger.Warn("deep search skipped, no researcher configured")
			break
		}
		state.setActivity(ActivityResearching)
		profile := research.ProfileFor(deepResearch)
		urls := p.deps.Researcher.Research(ctx, query, profile)
		if len(urls) > 0 && p.deps.Fetcher != nil {
			batch = p.deps.Fetcher.FetchChunked(ctx, urls, p.cfg.BatchSize)
		}
		logger.Info("deep research finished",
			zap.String("profile", profile.Name),
			zap.Int("urls", len(urls)),
			zap.Int("usable", batch.Len()),
		)
	}
	state.addSources(batch.URLs)
	return batch
}

func (p *Pipeline) pump(ctx context.Context, cancel context.CancelFunc, events <-chan llm.StreamEvent, pw *io.PipeWriter, state *TurnState, logger *zap.Logger) {
	defer cancel()

	var output strings.Builder
	var err error
	for event := range events {
		if event.Err != nil {
			err = event.Err
			break
		}
		if event.Delta == "" {
			continue
		}
		output.WriteString(event.Delta)
		if strings.Contains(output.String(), "http") {
			state.addSources(settledURLs(output.String()))
		}
		if _, werr := pw.Write([]byte(event.Delta)); werr != nil {
			err = werr
			break
		}
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	state.addSources(intent.ExtractURLs(output.String()))

	switch {
	case err == nil:
	case errors.Is(err, io.ErrClosedPipe), errors.Is(err, context.Canceled):
		logger.Debug("turn stream closed early", zap.Error(err))
	default:
		logger.Error("model stream failed", zap.Error(err))
	}
	state.finish(output.String(), err)
	if err != nil {
		pw.CloseWithError(err)
		return
	}
	pw.Close()
}

// settledURLs drops a trailing URL that runs to the end of text, since the
// next delta may still extend it.
func settledURLs(text string) []string {
	urls := intent.ExtractURLs(text)
	if n := len(urls); n > 0 && strings.HasSuffix(strings.TrimRight(text, ".,;:!?"), urls[n-1]) {
		urls = urls[:n-1]
	}
	return urls
}

func latestUserMessage(history []Message) (string, error) {
	if len(history) == 0 {
		return "", ErrEmptyHistory
	}
	last := history[len(history)-1]
	if llm.IsModelRole(last.Role) || strings.TrimSpace(last.Content) == "" {
		return "", ErrEmptyMessage
	}
	return last.Content, nil
}

type turnStream struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (s *turnStream) Close() error {
	s.cancel()
	return s.PipeReader.Close()
}
