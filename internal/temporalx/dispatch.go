package temporalx

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"github.com/pupscan/pupscan-backend/internal/platform/envutil"
	"github.com/pupscan/pupscan-backend/internal/platform/logger"
	"github.com/pupscan/pupscan-backend/internal/temporalx/agerun"
)

// Dispatcher starts the age-progression workflow for a scan. The workflow ID
// is derived from the scan ID and a regenerate terminates any run still in
// flight, so the newest request always wins.
type Dispatcher struct {
	log       *logger.Logger
	tc        temporalsdkclient.Client
	taskQueue string
	wallClock time.Duration
}

func NewDispatcher(log *logger.Logger, tc temporalsdkclient.Client) *Dispatcher {
	cfg := LoadConfig()
	return &Dispatcher{
		log:       log.With("service", "TemporalDispatcher"),
		tc:        tc,
		taskQueue: cfg.TaskQueue,
		wallClock: envutil.DurationSeconds("AGE_PROGRESSION_WALL_CLOCK_SECONDS", 600),
	}
}

func (d *Dispatcher) DispatchAgeProgression(ctx context.Context, scanID uuid.UUID) error {
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                       agerun.WorkflowIDPrefix + scanID.String(),
		TaskQueue:                d.taskQueue,
		WorkflowExecutionTimeout: d.wallClock,
		WorkflowIDReusePolicy:    enums.WORKFLOW_ID_REUSE_POLICY_TERMINATE_IF_RUNNING,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 1.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	run, err := d.tc.ExecuteWorkflow(ctx, opts, agerun.WorkflowName)
	if err != nil {
		return err
	}
	d.log.Info("age progression workflow started",
		"scan_id", scanID.String(), "workflow_id", opts.ID, "run_id", run.GetRunID())
	return nil
}
