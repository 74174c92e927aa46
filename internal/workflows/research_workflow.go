package workflows

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Keyring-Network/keyring-helix/internal/store"
)

type ResearchReportInput struct {
	ReportID string
	Query    string
	Enhanced bool
}

type ResearchReportResult struct {
	Status      string
	URLs        []string
	FetchedURLs []string
}

// ResearchReportWorkflow runs a deep research job outside of a chat turn:
// collect source URLs, read them, then persist the report. Every failure
// path, cancellation included, ends with the report marked.
func ResearchReportWorkflow(ctx workflow.Context, input ResearchReportInput) (ResearchReportResult, error) {
	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 20 * time.Minute,
		// The research client retries internally.
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)
	logger := workflow.GetLogger(ctx)

	fail := func(status string, cause error) (ResearchReportResult, error) {
		logger.Error("research report failed", "report_id", input.ReportID, "status", status, "error", cause)
		failCtx, _ := workflow.NewDisconnectedContext(ctx)
		failureInput := ResearchFailureInput{
			ReportID: input.ReportID,
			Status:   status,
			Error:    cause.Error(),
		}
		if err := workflow.ExecuteActivity(failCtx, "HandleResearchFailure", failureInput).Get(failCtx, nil); err != nil {
			logger.Error("failed to persist research failure", "error", err)
		}
		return ResearchReportResult{Status: status}, nil
	}
	statusFor := func(err error) string {
		var canceled *temporal.CanceledError
		if errors.As(err, &canceled) || ctx.Err() != nil {
			return store.ReportCancelled
		}
		return store.ReportFailed
	}

	var collected CollectSourcesOutput
	if err := workflow.ExecuteActivity(ctx, "CollectResearchSources", CollectSourcesInput{
		ReportID: input.ReportID,
		Query:    input.Query,
		Enhanced: input.Enhanced,
	}).Get(ctx, &collected); err != nil {
		return fail(statusFor(err), fmt.Errorf("collect: %w", err))
	}
	if len(collected.URLs) == 0 {
		return fail(store.ReportFailed, errNoSources)
	}

	var fetched FetchContentOutput
	if err := workflow.ExecuteActivity(ctx, "FetchResearchContent", FetchContentInput{
		ReportID: input.ReportID,
		URLs:     collected.URLs,
	}).Get(ctx, &fetched); err != nil {
		return fail(statusFor(err), fmt.Errorf("fetch: %w", err))
	}

	if err := workflow.ExecuteActivity(ctx, "CompleteResearchReport", CompleteReportInput{
		ReportID:    input.ReportID,
		URLs:        collected.URLs,
		FetchedURLs: fetched.FetchedURLs,
	}).Get(ctx, nil); err != nil {
		return fail(statusFor(err), fmt.Errorf("complete: %w", err))
	}

	return ResearchReportResult{
		Status:      store.ReportCompleted,
		URLs:        collected.URLs,
		FetchedURLs: fetched.FetchedURLs,
	}, nil
}
