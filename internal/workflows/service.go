package workflows

import (
	"context"
	"fmt"
	"strings"

	"go.temporal.io/sdk/client"
)

const DefaultTaskQueue = "helix-research"

type Service struct {
	client    client.Client
	taskQueue string
}

func NewService(client client.Client, taskQueue string) *Service {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Service{client: client, taskQueue: taskQueue}
}

func (s *Service) StartResearch(ctx context.Context, reportID string, query string, enhanced bool) error {
	options := client.StartWorkflowOptions{
		ID:        workflowID(reportID),
		TaskQueue: s.taskQueue,
	}
	input := ResearchReportInput{
		ReportID: reportID,
		Query:    strings.TrimSpace(query),
		Enhanced: enhanced,
	}
	_, err := s.client.ExecuteWorkflow(ctx, options, ResearchReportWorkflow, input)
	return err
}

func (s *Service) CancelResearch(ctx context.Context, reportID string) error {
	return s.client.CancelWorkflow(ctx, workflowID(reportID), "")
}

func workflowID(reportID string) string {
	return fmt.Sprintf("research:%s", reportID)
}
