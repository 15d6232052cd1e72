package agerun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Workflow wraps one age-progression run. The workflow ID carries the scan
// ID. Whole-job retries live on the workflow's retry policy; the activity
// itself handles per-variant retries and must not be retried by the server.
func Workflow(ctx workflow.Context) error {
	workflowID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if !strings.HasPrefix(workflowID, WorkflowIDPrefix) {
		return fmt.Errorf("agerun: workflow id %q missing scan id", workflowID)
	}
	scanID := strings.TrimPrefix(workflowID, WorkflowIDPrefix)
	if scanID == "" {
		return fmt.Errorf("agerun: workflow id %q missing scan id", workflowID)
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		// Variant retries happen inside the activity; a nil policy would
		// leave the server's unlimited default in place.
		RetryPolicy: &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	return workflow.ExecuteActivity(ctx, ActivityRun, scanID).Get(ctx, nil)
}
