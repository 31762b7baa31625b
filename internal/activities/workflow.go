package activities

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/nucleus/ucl-sync/internal/orchestration"
)

// SyncWorkflowName is the registered name of SyncWorkflow.
const SyncWorkflowName = "uclSyncWorkflow"

var syncActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 6 * time.Hour,
	HeartbeatTimeout:    2 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    5 * time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    5 * time.Minute,
		MaximumAttempts:    3,
		NonRetryableErrorTypes: []string{
			orchestration.CodeConfiguration,
			orchestration.CodeNegotiation,
			orchestration.CodeStateInconsistent,
		},
	},
}

// SyncWorkflow runs one RunSync activity under the sync retry policy.
func SyncWorkflow(ctx workflow.Context, req RunSyncRequest) (*RunSyncResult, error) {
	if req.RunID == "" {
		req.RunID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	ctx = workflow.WithActivityOptions(ctx, syncActivityOptions)

	var a *Activities
	var out RunSyncResult
	if err := workflow.ExecuteActivity(ctx, a.RunSync, req).Get(ctx, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
