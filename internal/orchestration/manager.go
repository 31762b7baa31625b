package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OperationStatus is the lifecycle of a managed run.
type OperationStatus string

const (
	OperationQueued    OperationStatus = "QUEUED"
	OperationRunning   OperationStatus = "RUNNING"
	OperationSucceeded OperationStatus = "SUCCEEDED"
	OperationFailed    OperationStatus = "FAILED"
	OperationCancelled OperationStatus = "CANCELLED"
)

// ErrorDetail is the failure recorded on an operation.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// OperationState is a point-in-time view of a managed run.
type OperationState struct {
	OperationID string            `json:"operationId"`
	Status      OperationStatus   `json:"status"`
	StartedAt   int64             `json:"startedAt"`
	CompletedAt int64             `json:"completedAt,omitempty"`
	Retryable   bool              `json:"retryable"`
	Stats       map[string]string `json:"stats,omitempty"`
	Error       *ErrorDetail      `json:"error,omitempty"`
}

// Manager owns in-process operation state for sync runs.
type Manager struct {
	sync *Synchronizer

	mu      sync.Mutex
	ops     map[string]*OperationState
	cancels map[string]context.CancelFunc
}

// NewManager creates a manager that executes runs with s.
func NewManager(s *Synchronizer) *Manager {
	if s == nil {
		s = NewSynchronizer()
	}
	return &Manager{
		sync:    s,
		ops:     make(map[string]*OperationState),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Run executes req synchronously under opID and returns the result. The
// operation state stays queryable through Get afterwards.
func (m *Manager) Run(ctx context.Context, opID string, req *FetchRequest) (*FetchResult, error) {
	opID = m.enqueue(opID, req)
	return m.execute(ctx, opID, req)
}

// Start executes req in the background and returns the operation ID.
// Cancel stops it early.
func (m *Manager) Start(ctx context.Context, opID string, req *FetchRequest) string {
	opID = m.enqueue(opID, req)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Lock()
	m.cancels[opID] = cancel
	m.mu.Unlock()

	go func() {
		defer cancel()
		_, _ = m.execute(runCtx, opID, req)
	}()
	return opID
}

// Cancel asks a running operation to stop early. The run still finalizes.
func (m *Manager) Cancel(opID string) bool {
	m.mu.Lock()
	cancel, ok := m.cancels[opID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Get returns the latest operation state.
func (m *Manager) Get(ctx context.Context, opID string) (*OperationState, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	state := m.cloneState(opID)
	if state == nil {
		return &OperationState{
			OperationID: opID,
			Status:      OperationFailed,
			Error: &ErrorDetail{
				Code:      CodeOperationNotFound,
				Message:   "operation not found",
				Retryable: false,
			},
		}, nil
	}
	return state, nil
}

func (m *Manager) enqueue(opID string, req *FetchRequest) string {
	if opID == "" {
		opID = "op-" + uuid.NewString()
	}
	if req != nil && req.RunID == "" {
		req.RunID = opID
	}
	m.saveState(&OperationState{
		OperationID: opID,
		Status:      OperationQueued,
		StartedAt:   time.Now().UnixMilli(),
		Retryable:   true,
		Stats:       map[string]string{},
	})
	return opID
}

func (m *Manager) execute(ctx context.Context, opID string, req *FetchRequest) (*FetchResult, error) {
	m.updateState(opID, func(state *OperationState) {
		state.Status = OperationRunning
		state.StartedAt = time.Now().UnixMilli()
		setStat(state, "recordsRead", 0)
		setStat(state, "recordsWritten", 0)
	})

	if req != nil {
		progress := req.Callbacks.Progress
		req.Callbacks.Progress = func(status FetchStreamStatus) {
			m.updateState(opID, func(state *OperationState) {
				setStat(state, "recordsRead", status.RecordsRead)
				setStat(state, "recordsWritten", status.RecordsWritten)
				setStat(state, "bytesRead", status.BytesRead)
				if status.PercentComplete >= 0 {
					setStat(state, "percentComplete", fmt.Sprintf("%.1f", status.PercentComplete))
				}
			})
			if progress != nil {
				progress(status)
			}
		}
	}

	res, err := m.sync.Fetch(ctx, req)

	m.mu.Lock()
	delete(m.cancels, opID)
	m.mu.Unlock()

	if err != nil {
		code, retryable := Classify(err)
		m.failOperation(opID, code, err, retryable)
		return res, err
	}

	m.updateState(opID, func(state *OperationState) {
		state.Status = OperationSucceeded
		if res.StoppedEarly {
			state.Status = OperationCancelled
		}
		state.CompletedAt = time.Now().UnixMilli()
		state.Retryable = false
		setStat(state, "recordsRead", res.RecordsTotal)
		setStat(state, "recordsWritten", res.RecordsWritten)
		setStat(state, "bytesRead", res.BytesTotal)
		setStat(state, "updateMethod", res.UpdateMethod)
		setStat(state, "commitKeys", len(res.CommitKeys))
		if res.UpToDate {
			setStat(state, "upToDate", true)
		}
	})
	return res, nil
}

func (m *Manager) failOperation(opID, code string, err error, retryable bool) {
	m.updateState(opID, func(state *OperationState) {
		state.Status = OperationFailed
		state.CompletedAt = time.Now().UnixMilli()
		state.Retryable = retryable
		state.Error = &ErrorDetail{
			Code:      code,
			Message:   err.Error(),
			Retryable: retryable,
		}
		var se *Error
		if errors.As(err, &se) && se.Inconsistent {
			setStat(state, "inconsistent", true)
		}
	})
}

func (m *Manager) saveState(state *OperationState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[state.OperationID] = clone(state)
}

func (m *Manager) updateState(id string, mutate func(*OperationState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.ops[id]
	if !ok {
		return
	}
	mutate(state)
}

func (m *Manager) cloneState(id string) *OperationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.ops[id]
	if !ok {
		return nil
	}
	return clone(state)
}

func setStat(state *OperationState, key string, value any) {
	if state.Stats == nil {
		state.Stats = map[string]string{}
	}
	state.Stats[key] = fmt.Sprint(value)
}

func clone(state *OperationState) *OperationState {
	if state == nil {
		return nil
	}
	cloned := *state
	if state.Stats != nil {
		cloned.Stats = make(map[string]string, len(state.Stats))
		for k, v := range state.Stats {
			cloned.Stats[k] = v
		}
	}
	if state.Error != nil {
		e := *state.Error
		cloned.Error = &e
	}
	return &cloned
}
