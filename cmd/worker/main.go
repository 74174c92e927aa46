package main

import (
	"log"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-helix/internal/bootstrap"
	"github.com/Keyring-Network/keyring-helix/internal/config"
	"github.com/Keyring-Network/keyring-helix/internal/logging"
	"github.com/Keyring-Network/keyring-helix/internal/store"
	"github.com/Keyring-Network/keyring-helix/internal/store/postgres"
	"github.com/Keyring-Network/keyring-helix/internal/workflows"
)

var (
	loadConfig   = config.Load
	newLogger    = logging.New
	dialTemporal = client.Dial
	newStore     = func(conn string) (store.Store, error) {
		return postgres.New(conn)
	}
	newActivities = func(st store.Store, cfg config.Config, logger *zap.Logger) *workflows.ResearchActivities {
		return workflows.NewResearchActivities(st, bootstrap.Researcher(cfg, logger), bootstrap.Reader(cfg, logger), cfg.FetchBatchSize, logger)
	}
	newWorker       = worker.New
	workerInterrupt = worker.InterruptCh
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

	temporalClient, err := dialTemporal(client.Options{
		HostPort: cfg.TemporalAddress,
	})
	if err != nil {
		return err
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	st, err := newStore(cfg.PostgresURL)
	if err != nil {
		return err
	}

	activities := newActivities(st, cfg, logger)

	w := newWorker(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.ResearchReportWorkflow)
	w.RegisterActivityWithOptions(activities.CollectResearchSources, activity.RegisterOptions{Name: "CollectResearchSources"})
	w.RegisterActivityWithOptions(activities.FetchResearchContent, activity.RegisterOptions{Name: "FetchResearchContent"})
	w.RegisterActivityWithOptions(activities.CompleteResearchReport, activity.RegisterOptions{Name: "CompleteResearchReport"})
	w.RegisterActivityWithOptions(activities.HandleResearchFailure, activity.RegisterOptions{Name: "HandleResearchFailure"})

	logger.Info("helix worker started", zap.String("task_queue", cfg.TemporalTaskQueue))
	return w.Run(workerInterrupt())
}
