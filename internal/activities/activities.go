// Package activities exposes sync runs as Temporal activities and the
// workflow that schedules them.
package activities

import (
	"context"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/nucleus/ucl-sync/internal/config"
	"github.com/nucleus/ucl-sync/internal/endpoint"
	"github.com/nucleus/ucl-sync/internal/logger"
	"github.com/nucleus/ucl-sync/internal/orchestration"
)

// Activities holds the sync activities.
type Activities struct {
	registry *endpoint.Registry
	manager  *orchestration.Manager
}

// NewActivities builds activities over a registry (nil selects the default
// one) and a synchronizer configured from cfg.
func NewActivities(reg *endpoint.Registry, cfg *config.Config) *Activities {
	if reg == nil {
		reg = endpoint.DefaultRegistry()
	}
	if cfg == nil {
		cfg = config.Load()
	}
	s := orchestration.NewSynchronizer(
		orchestration.WithBatchSize(cfg.BatchSize),
		orchestration.WithProgressInterval(cfg.ProgressInterval),
		orchestration.WithStallWarningAfter(cfg.StallWarningAfter),
		orchestration.WithLogger(logger.Component("synchronizer")),
	)
	return &Activities{registry: reg, manager: orchestration.NewManager(s)}
}

// RunSync prepares and executes one job. Progress is recorded as heartbeat
// details so a stalled run is detected by the heartbeat timeout.
func (a *Activities) RunSync(ctx context.Context, req RunSyncRequest) (*RunSyncResult, error) {
	log := activity.GetLogger(ctx)

	job := req.Job
	if job == nil {
		if req.JobPath == "" {
			return nil, temporal.NewNonRetryableApplicationError("job or jobPath is required", orchestration.CodeConfiguration, nil)
		}
		var err error
		if job, err = config.LoadJob(req.JobPath); err != nil {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), orchestration.CodeConfiguration, err)
		}
	} else if err := job.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), orchestration.CodeConfiguration, err)
	}

	runID := req.RunID
	if runID == "" {
		runID = activity.GetInfo(ctx).WorkflowExecution.RunID
	}
	if runID == "" {
		runID = "run-" + uuid.NewString()
	}
	log.Info("starting sync", "runId", runID, "job", job.Name, "source", job.Source.Template, "sink", job.Sink.Template)

	fetch, cleanup, err := orchestration.Prepare(ctx, a.registry, job, logger.Component("sync").With("runId", runID))
	if err != nil {
		return nil, applicationError(err)
	}
	defer cleanup()

	fetch.RunID = runID
	fetch.Callbacks.Progress = func(status orchestration.FetchStreamStatus) {
		activity.RecordHeartbeat(ctx, Heartbeat{
			RecordsRead:     status.RecordsRead,
			RecordsWritten:  status.RecordsWritten,
			BytesRead:       status.BytesRead,
			PercentComplete: status.PercentComplete,
		})
	}

	res, err := a.manager.Run(ctx, runID, fetch)
	op, _ := a.manager.Get(context.WithoutCancel(ctx), runID)
	if err != nil {
		if op != nil && op.Error != nil {
			log.Error("sync failed", "runId", runID, "code", op.Error.Code, "retryable", op.Error.Retryable)
		}
		return nil, applicationError(err)
	}

	out := &RunSyncResult{
		RunID:          runID,
		Status:         string(op.Status),
		RecordsTotal:   res.RecordsTotal,
		RecordsWritten: res.RecordsWritten,
		BytesTotal:     res.BytesTotal,
		UpdateMethod:   res.UpdateMethod,
		UpToDate:       res.UpToDate,
		StoppedEarly:   res.StoppedEarly,
	}
	log.Info("sync complete", "runId", runID, "records", out.RecordsWritten, "method", out.UpdateMethod, "status", out.Status)
	return out, nil
}

// applicationError maps coded errors onto Temporal application errors so
// the retry policy only repeats retryable failures.
func applicationError(err error) error {
	code, retryable := orchestration.Classify(err)
	if retryable {
		return temporal.NewApplicationErrorWithCause(err.Error(), code, err)
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), code, err)
}
