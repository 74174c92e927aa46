package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-helix/internal/reader"
	"github.com/Keyring-Network/keyring-helix/internal/research"
	"github.com/Keyring-Network/keyring-helix/internal/store"
)

var errNoSources = errors.New("research returned no sources")

type CollectSourcesInput struct {
	ReportID string
	Query    string
	Enhanced bool
}

type CollectSourcesOutput struct {
	URLs []string
}

type FetchContentInput struct {
	ReportID string
	URLs     []string
}

type FetchContentOutput struct {
	FetchedURLs []string
	Chars       int
}

type CompleteReportInput struct {
	ReportID    string
	URLs        []string
	FetchedURLs []string
}

type ResearchFailureInput struct {
	ReportID string
	Status   string
	Error    string
}

type Researcher interface {
	Research(ctx context.Context, query string, profile research.Profile) []string
}

type Fetcher interface {
	FetchChunked(ctx context.Context, urls []string, size int) reader.Batch
}

type ResearchActivities struct {
	store      store.Store
	researcher Researcher
	fetcher    Fetcher
	batchSize  int
	logger     *zap.Logger
	now        func() time.Time
}

func NewResearchActivities(st store.Store, researcher Researcher, fetcher Fetcher, batchSize int, logger *zap.Logger) *ResearchActivities {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = reader.DefaultBatchSize
	}
	return &ResearchActivities{
		store:      st,
		researcher: researcher,
		fetcher:    fetcher,
		batchSize:  batchSize,
		logger:     logger.Named("research_report"),
		now:        time.Now,
	}
}

func (a *ResearchActivities) CollectResearchSources(ctx context.Context, input CollectSourcesInput) (CollectSourcesOutput, error) {
	report, err := a.loadReport(ctx, input.ReportID)
	if err != nil {
		return CollectSourcesOutput{}, err
	}
	report.Status = store.ReportRunning
	report.UpdatedAt = a.timestamp()
	if err := a.store.UpdateResearchReport(ctx, *report); err != nil {
		return CollectSourcesOutput{}, err
	}

	profile := research.ProfileFor(input.Enhanced)
	urls := a.researcher.Research(ctx, input.Query, profile)
	if err := ctx.Err(); err != nil {
		return CollectSourcesOutput{}, err
	}
	a.logger.Info("research sources collected",
		zap.String("report_id", input.ReportID),
		zap.String("profile", profile.Name),
		zap.Int("urls", len(urls)),
	)
	if urls == nil {
		urls = []string{}
	}
	return CollectSourcesOutput{URLs: urls}, nil
}

// FetchResearchContent reads the collected URLs and reports which were usable.
// Reports keep the source list only, so the markdown is measured and dropped.
func (a *ResearchActivities) FetchResearchContent(ctx context.Context, input FetchContentInput) (FetchContentOutput, error) {
	batch := a.fetcher.FetchChunked(ctx, input.URLs, a.batchSize)
	if err := ctx.Err(); err != nil {
		return FetchContentOutput{}, err
	}
	chars := 0
	for _, markdown := range batch.Markdowns {
		chars += len(markdown)
	}
	a.logger.Info("research content fetched",
		zap.String("report_id", input.ReportID),
		zap.Int("requested", len(input.URLs)),
		zap.Int("usable", batch.Len()),
		zap.Int("chars", chars),
	)
	fetched := batch.URLs
	if fetched == nil {
		fetched = []string{}
	}
	return FetchContentOutput{FetchedURLs: fetched, Chars: chars}, nil
}

func (a *ResearchActivities) CompleteResearchReport(ctx context.Context, input CompleteReportInput) error {
	report, err := a.loadReport(ctx, input.ReportID)
	if err != nil {
		return err
	}
	report.Status = store.ReportCompleted
	report.URLs = input.URLs
	report.FetchedURLs = input.FetchedURLs
	report.Error = ""
	report.UpdatedAt = a.timestamp()
	return a.store.UpdateResearchReport(ctx, *report)
}

func (a *ResearchActivities) HandleResearchFailure(ctx context.Context, input ResearchFailureInput) error {
	report, err := a.loadReport(ctx, input.ReportID)
	if err != nil {
		return err
	}
	status := input.Status
	if status == "" {
		status = store.ReportFailed
	}
	report.Status = status
	report.Error = input.Error
	report.UpdatedAt = a.timestamp()
	return a.store.UpdateResearchReport(ctx, *report)
}

func (a *ResearchActivities) loadReport(ctx context.Context, reportID string) (*store.ResearchReport, error) {
	report, err := a.store.GetResearchReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, fmt.Errorf("research report %s not found", reportID)
	}
	return report, nil
}

func (a *ResearchActivities) timestamp() string {
	return a.now().UTC().Format(time.RFC3339Nano)
}
