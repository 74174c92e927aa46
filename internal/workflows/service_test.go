package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
)

func TestNewService_DefaultTaskQueue(t *testing.T) {
	mockClient := mocks.NewClient(t)
	service := NewService(mockClient, "")
	require.NotNil(t, service)
	require.Equal(t, DefaultTaskQueue, service.taskQueue)
}

func TestStartResearch_Success(t *testing.T) {
	mockClient := mocks.NewClient(t)
	workflowRun := mocks.NewWorkflowRun(t)
	reportID := "report-123"
	taskQueue := "helix-research-test"

	mockClient.On(
		"ExecuteWorkflow",
		mock.Anything,
		mock.MatchedBy(func(opts client.StartWorkflowOptions) bool {
			return opts.ID == workflowID(reportID) && opts.TaskQueue == taskQueue
		}),
		mock.Anything,
		ResearchReportInput{ReportID: reportID, Query: "BRCA1 variants", Enhanced: true},
	).Return(workflowRun, nil)

	service := NewService(mockClient, taskQueue)
	err := service.StartResearch(context.Background(), reportID, "  BRCA1 variants ", true)
	require.NoError(t, err)
}

func TestStartResearch_Error(t *testing.T) {
	mockClient := mocks.NewClient(t)
	reportID := "report-err"
	expectedErr := errors.New("start failed")
	taskQueue := "helix-research-test"

	mockClient.On(
		"ExecuteWorkflow",
		mock.Anything,
		mock.MatchedBy(func(opts client.StartWorkflowOptions) bool {
			return opts.ID == workflowID(reportID) && opts.TaskQueue == taskQueue
		}),
		mock.Anything,
		ResearchReportInput{ReportID: reportID, Query: "TP53"},
	).Return((*mocks.WorkflowRun)(nil), expectedErr)

	service := NewService(mockClient, taskQueue)
	err := service.StartResearch(context.Background(), reportID, "TP53", false)
	require.ErrorIs(t, err, expectedErr)
}

func TestCancelResearch_Success(t *testing.T) {
	mockClient := mocks.NewClient(t)
	reportID := "report-2"

	mockClient.On("CancelWorkflow", mock.Anything, workflowID(reportID), "").Return(nil)

	service := NewService(mockClient, DefaultTaskQueue)
	err := service.CancelResearch(context.Background(), reportID)
	require.NoError(t, err)
}

func TestCancelResearch_NotFound(t *testing.T) {
	mockClient := mocks.NewClient(t)
	reportID := "missing"
	expectedErr := errors.New("not found")

	mockClient.On("CancelWorkflow", mock.Anything, workflowID(reportID), "").Return(expectedErr)

	service := NewService(mockClient, DefaultTaskQueue)
	err := service.CancelResearch(context.Background(), reportID)
	require.ErrorIs(t, err, expectedErr)
}

func TestWorkflowID(t *testing.T) {
	require.Equal(t, "research:abc", workflowID("abc"))
}
