package agerun

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"
)

func newWorkflowEnv(t *testing.T, workflowID string, act interface{}) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.SetStartWorkflowOptions(temporalsdkclient.StartWorkflowOptions{ID: workflowID})
	env.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})
	env.RegisterActivityWithOptions(act, activity.RegisterOptions{Name: ActivityRun})
	return env
}

func TestWorkflowPassesScanIDToActivity(t *testing.T) {
	const scanID = "11111111-2222-3333-4444-555555555555"
	var got string
	act := func(ctx context.Context, id string) error {
		got = id
		return nil
	}
	env := newWorkflowEnv(t, WorkflowIDPrefix+scanID, act)

	env.ExecuteWorkflow(WorkflowName)
	if !env.IsWorkflowCompleted() || env.GetWorkflowError() != nil {
		t.Fatalf("workflow error: %v", env.GetWorkflowError())
	}
	if got != scanID {
		t.Fatalf("activity scan id = %q, want %q", got, scanID)
	}
}

func TestWorkflowRunsFailingActivityOnce(t *testing.T) {
	// The job persists its own terminal state before returning an error;
	// server-side activity retries would replay a finished run.
	calls := 0
	act := func(ctx context.Context, id string) error {
		calls++
		return errors.New("render failed")
	}
	env := newWorkflowEnv(t, WorkflowIDPrefix+"11111111-2222-3333-4444-555555555555", act)

	env.ExecuteWorkflow(WorkflowName)
	if env.GetWorkflowError() == nil {
		t.Fatal("expected workflow error from failing activity")
	}
	if calls != 1 {
		t.Fatalf("activity ran %d times, want 1", calls)
	}
}

func TestWorkflowRejectsForeignWorkflowID(t *testing.T) {
	act := func(ctx context.Context, id string) error { return nil }
	env := newWorkflowEnv(t, "unrelated-workflow-id", act)

	env.ExecuteWorkflow(WorkflowName)
	err := env.GetWorkflowError()
	if err == nil || !strings.Contains(err.Error(), "missing scan id") {
		t.Fatalf("workflow error = %v, want missing scan id", err)
	}
}
