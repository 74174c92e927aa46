package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-helix/internal/api"
	"github.com/Keyring-Network/keyring-helix/internal/bootstrap"
	"github.com/Keyring-Network/keyring-helix/internal/chat"
	"github.com/Keyring-Network/keyring-helix/internal/config"
	"github.com/Keyring-Network/keyring-helix/internal/events"
	"github.com/Keyring-Network/keyring-helix/internal/llm"
	"github.com/Keyring-Network/keyring-helix/internal/logging"
	"github.com/Keyring-Network/keyring-helix/internal/persona"
	"github.com/Keyring-Network/keyring-helix/internal/store"
	"github.com/Keyring-Network/keyring-helix/internal/store/memory"
	"github.com/Keyring-Network/keyring-helix/internal/store/postgres"
	"github.com/Keyring-Network/keyring-helix/internal/workflows"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadConfig       = config.Load
	newLogger        = logging.New
	newBroker        = events.NewBroker
	newPostgresStore = func(conn string) (store.Store, error) {
		return postgres.New(conn)
	}
	dialTemporal       = client.Dial
	newWorkflowService = workflows.NewService
	newProvider        = llm.NewProvider
	newImageGenerator  = bootstrap.DefaultFactories().NewImageGenerator
	loadPersona        = persona.Load
	newServer          = func(st store.Store, broker *events.Broker, chatService api.ChatService, research api.ResearchService, cfg config.Config, logger *zap.Logger) server {
		return api.NewServer(st, broker, chatService, research, cfg, logger)
	}
	notifyContext = signal.NotifyContext
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	var researchService api.ResearchService
	if cfg.TemporalAddress != "" {
		workflowClient, err := dialTemporal(client.Options{HostPort: cfg.TemporalAddress})
		if err != nil {
			return err
		}
		if workflowClient != nil {
			defer workflowClient.Close()
		}
		if service := newWorkflowService(workflowClient, cfg.TemporalTaskQueue); service != nil {
			researchService = service
		}
	} else {
		logger.Info("temporal address not set, research reports disabled")
	}

	pipeline, err := newPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := newServer(st, newBroker(), pipeline, researchService, cfg, logger)

	addr := fmt.Sprintf(":%s", cfg.Port)
	logger.Info("helix listening", zap.String("addr", addr), zap.String("store", cfg.StoreDriver), zap.String("llm_provider", cfg.LLMProvider))
	return srv.Start(ctx, addr)
}

func openStore(cfg config.Config) (store.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StoreDriver)) {
	case "", "memory":
		return memory.New(), nil
	case "postgres":
		return newPostgresStore(cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func newPipeline(ctx context.Context, cfg config.Config, logger *zap.Logger) (*chat.Pipeline, error) {
	return bootstrap.Pipeline(ctx, cfg, logger, bootstrap.Factories{
		NewProvider:       newProvider,
		NewImageGenerator: newImageGenerator,
		LoadPersona:       loadPersona,
	})
}
