package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tests "go.temporal.io/sdk/testsuite"

	"github.com/Keyring-Network/keyring-helix/internal/reader"
	"github.com/Keyring-Network/keyring-helix/internal/research"
	"github.com/Keyring-Network/keyring-helix/internal/store"
	"github.com/Keyring-Network/keyring-helix/internal/store/memory"
)

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

type stubFetcher struct {
	batch reader.Batch
	urls  []string
	size  int
}

func (s *stubFetcher) FetchChunked(ctx context.Context, urls []string, size int) reader.Batch {
	s.urls = urls
	s.size = size
	return s.batch
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestActivities(t *testing.T, researcher Researcher, fetcher Fetcher) (*ResearchActivities, *memory.MemoryStore) {
	t.Helper()
	st := memory.New()
	created := fixedNow.Add(-time.Minute).Format(time.RFC3339Nano)
	require.NoError(t, st.CreateResearchReport(context.Background(), store.ResearchReport{
		ID:        "report-1",
		Query:     "BRCA1",
		Profile:   "standard",
		Status:    store.ReportPending,
		CreatedAt: created,
		UpdatedAt: created,
	}))
	activities := NewResearchActivities(st, researcher, fetcher, 0, nil)
	activities.now = func() time.Time { return fixedNow }
	return activities, st
}

func TestNewResearchActivities_Defaults(t *testing.T) {
	activities := NewResearchActivities(memory.New(), &stubResearcher{}, &stubFetcher{}, -1, nil)
	require.Equal(t, reader.DefaultBatchSize, activities.batchSize)
	require.NotNil(t, activities.logger)
}

func TestCollectResearchSources_MarksRunning(t *testing.T) {
	researcher := &stubResearcher{urls: []string{"https://a.example", "https://b.example"}}
	activities, st := newTestActivities(t, researcher, &stubFetcher{})

	out, err := activities.CollectResearchSources(context.Background(), CollectSourcesInput{
		ReportID: "report-1",
		Query:    "BRCA1",
		Enhanced: true,
	})
	require.NoError(t, err)
	require.Equal(t, researcher.urls, out.URLs)
	require.Equal(t, "BRCA1", researcher.query)
	require.Equal(t, research.EnhancedProfile.Name, researcher.profile.Name)

	report, err := st.GetResearchReport(context.Background(), "report-1")
	require.NoError(t, err)
	require.Equal(t, store.ReportRunning, report.Status)
	require.Equal(t, fixedNow.Format(time.RFC3339Nano), report.UpdatedAt)
}

func TestCollectResearchSources_EmptyResultIsNotNil(t *testing.T) {
	activities, _ := newTestActivities(t, &stubResearcher{}, &stubFetcher{})

	out, err := activities.CollectResearchSources(context.Background(), CollectSourcesInput{ReportID: "report-1", Query: "BRCA1"})
	require.NoError(t, err)
	require.NotNil(t, out.URLs)
	require.Empty(t, out.URLs)
}

func TestCollectResearchSources_MissingReport(t *testing.T) {
	activities, _ := newTestActivities(t, &stubResearcher{}, &stubFetcher{})

	_, err := activities.CollectResearchSources(context.Background(), CollectSourcesInput{ReportID: "missing"})
	require.ErrorContains(t, err, "research report missing not found")
}

func TestCollectResearchSources_Cancelled(t *testing.T) {
	activities, _ := newTestActivities(t, &stubResearcher{urls: []string{"https://a.example"}}, &stubFetcher{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := activities.CollectResearchSources(ctx, CollectSourcesInput{ReportID: "report-1", Query: "BRCA1"})
	require.True(t, errors.Is(err, context.Canceled))
}

func TestFetchResearchContent_UsesBatchSize(t *testing.T) {
	fetcher := &stubFetcher{batch: reader.Batch{
		Markdowns: []string{"alpha", "beta"},
		URLs:      []string{"https://a.example", "https://c.example"},
	}}
	activities, _ := newTestActivities(t, &stubResearcher{}, fetcher)
	urls := []string{"https://a.example", "https://b.example", "https://c.example"}

	out, err := activities.FetchResearchContent(context.Background(), FetchContentInput{ReportID: "report-1", URLs: urls})
	require.NoError(t, err)
	require.Equal(t, urls, fetcher.urls)
	require.Equal(t, reader.DefaultBatchSize, fetcher.size)
	require.Equal(t, []string{"https://a.example", "https://c.example"}, out.FetchedURLs)
	require.Equal(t, 9, out.Chars)
}

func TestFetchResearchContent_NothingUsable(t *testing.T) {
	activities, _ := newTestActivities(t, &stubResearcher{}, &stubFetcher{})

	out, err := activities.FetchResearchContent(context.Background(), FetchContentInput{ReportID: "report-1", URLs: []string{"https://a.example"}})
	require.NoError(t, err)
	require.NotNil(t, out.FetchedURLs)
	require.Zero(t, out.Chars)
}

func TestFetchResearchContent_LeavesReportUntouched(t *testing.T) {
	fetcher := &stubFetcher{batch: reader.Batch{
		Markdowns: []string{"# BRCA1\nlong extracted body"},
		URLs:      []string{"https://a.example"},
	}}
	activities, st := newTestActivities(t, &stubResearcher{}, fetcher)
	before, err := st.GetResearchReport(context.Background(), "report-1")
	require.NoError(t, err)

	_, err = activities.FetchResearchContent(context.Background(), FetchContentInput{ReportID: "report-1", URLs: []string{"https://a.example"}})
	require.NoError(t, err)

	after, err := st.GetResearchReport(context.Background(), "report-1")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestCompleteResearchReport(t *testing.T) {
	activities, st := newTestActivities(t, &stubResearcher{}, &stubFetcher{})

	var suite tests.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(activities)

	_, err := env.ExecuteActivity(activities.CompleteResearchReport, CompleteReportInput{
		ReportID:    "report-1",
		URLs:        []string{"https://a.example", "https://b.example"},
		FetchedURLs: []string{"https://b.example"},
	})
	require.NoError(t, err)

	report, err := st.GetResearchReport(context.Background(), "report-1")
	require.NoError(t, err)
	require.Equal(t, store.ReportCompleted, report.Status)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, report.URLs)
	require.Equal(t, []string{"https://b.example"}, report.FetchedURLs)
	require.Equal(t, "BRCA1", report.Query)
	require.Empty(t, report.Error)
}

func TestHandleResearchFailure(t *testing.T) {
	activities, st := newTestActivities(t, &stubResearcher{}, &stubFetcher{})

	require.NoError(t, activities.HandleResearchFailure(context.Background(), ResearchFailureInput{
		ReportID: "report-1",
		Error:    "collect: boom",
	}))
	report, err := st.GetResearchReport(context.Background(), "report-1")
	require.NoError(t, err)
	require.Equal(t, store.ReportFailed, report.Status)
	require.Equal(t, "collect: boom", report.Error)

	require.NoError(t, activities.HandleResearchFailure(context.Background(), ResearchFailureInput{
		ReportID: "report-1",
		Status:   store.ReportCancelled,
		Error:    "canceled",
	}))
	report, err = st.GetResearchReport(context.Background(), "report-1")
	require.NoError(t, err)
	require.Equal(t, store.ReportCancelled, report.Status)
}

func TestHandleResearchFailure_MissingReport(t *testing.T) {
	activities, _ := newTestActivities(t, &stubResearcher{}, &stubFetcher{})

	err := activities.HandleResearchFailure(context.Background(), ResearchFailureInput{ReportID: "missing", Error: "x"})
	require.Error(t, err)
}
