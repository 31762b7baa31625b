package orchestration

import (
	"context"
	"sync"
	"time"
)

// JobState is the observable phase of a sync run.
type JobState string

const (
	StatePlanning             JobState = "PLANNING_OPERATIONS"
	StateOpeningStream        JobState = "OPENING_STREAM"
	StateReadingStream        JobState = "READING_STREAM"
	StateReadingStreamWarning JobState = "READING_STREAM_WARNING"
	StateFlushing             JobState = "FLUSHING_FINAL_RECORDS"
	StateClosing              JobState = "CLOSING"
	StateCompleted            JobState = "COMPLETED"
	StateError                JobState = "ERROR"
)

// ResourceStatus is passed to the State callback on every transition.
type ResourceStatus struct {
	State      JobState
	Message    string
	StreamName string
	At         time.Time
}

// FetchStreamStatus is a progress snapshot.
type FetchStreamStatus struct {
	BytesRead      int64
	RecordsRead    int64
	RecordsWritten int64

	// Zero means unknown.
	ExpectedBytes   int64
	ExpectedRecords int64

	// PercentComplete is -1 when no expectation is known.
	PercentComplete  float64
	BytesPerSecond   float64
	RecordsPerSecond float64
	Elapsed          time.Duration

	// ETA is zero when it cannot be estimated.
	ETA time.Duration
}

// Outcome is how a run finished.
type Outcome string

const (
	OutcomeSuccess      Outcome = "SUCCESS"
	OutcomeStoppedEarly Outcome = "STOPPED_EARLY"
	OutcomeUpToDate     Outcome = "UP_TO_DATE"
	OutcomeFailed       Outcome = "FAILED"
)

// Parameter is one question asked through the Prompt callback.
type Parameter struct {
	Name    string
	Message string
	Options []string
	Default string
}

// Callbacks are optional hooks supplied by the caller. Calls of the
// same callback never overlap. Finish fires once for every executed run,
// with OutcomeFailed and the error text when the run fails.
type Callbacks struct {
	State    func(ResourceStatus)
	Progress func(FetchStreamStatus)
	Finish   func(message string, records int64, outcome Outcome)

	// Prompt answers deconfliction questions. Missing answers fall back to
	// the parameter default.
	Prompt func(ctx context.Context, params []Parameter) (map[string]string, error)
}

// reporter serializes state callbacks coming from the reader, the router
// and the progress ticker.
type reporter struct {
	mu       sync.Mutex
	current  JobState
	callback func(ResourceStatus)
	onChange func(JobState)
}

func (r *reporter) set(state JobState, stream, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state == r.current && stream == "" && message == "" {
		return
	}
	r.current = state
	if r.onChange != nil {
		r.onChange(state)
	}
	if r.callback != nil {
		r.callback(ResourceStatus{State: state, StreamName: stream, Message: message, At: time.Now()})
	}
}

// swap moves from one state to another only if still in from.
func (r *reporter) swap(from, to JobState, message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != from {
		return false
	}
	r.current = to
	if r.onChange != nil {
		r.onChange(to)
	}
	if r.callback != nil {
		r.callback(ResourceStatus{State: to, Message: message, At: time.Now()})
	}
	return true
}

func (r *reporter) state() JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
