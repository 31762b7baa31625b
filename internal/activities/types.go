package activities

import (
	"github.com/nucleus/ucl-sync/internal/config"
	"github.com/nucleus/ucl-sync/internal/endpoint"
)

// RunSyncRequest starts one sync. Exactly one of Job or JobPath is set.
type RunSyncRequest struct {
	RunID   string      `json:"runId,omitempty"`
	JobPath string      `json:"jobPath,omitempty"`
	Job     *config.Job `json:"job,omitempty"`
}

// RunSyncResult summarizes a finished run.
type RunSyncResult struct {
	RunID          string                `json:"runId"`
	Status         string                `json:"status"`
	RecordsTotal   int64                 `json:"recordsTotal"`
	RecordsWritten int64                 `json:"recordsWritten"`
	BytesTotal     int64                 `json:"bytesTotal"`
	UpdateMethod   endpoint.UpdateMethod `json:"updateMethod,omitempty"`
	UpToDate       bool                  `json:"upToDate,omitempty"`
	StoppedEarly   bool                  `json:"stoppedEarly,omitempty"`
}

// Heartbeat is the progress detail recorded with each activity heartbeat.
type Heartbeat struct {
	RecordsRead     int64   `json:"recordsRead"`
	RecordsWritten  int64   `json:"recordsWritten"`
	BytesRead       int64   `json:"bytesRead"`
	PercentComplete float64 `json:"percentComplete"`
}
