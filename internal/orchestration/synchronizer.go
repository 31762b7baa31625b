// Package orchestration runs source to sink synchronizations: update method
// negotiation, schema deconfliction, schema-routed writes with backpressure
// and the all-or-nothing finalize that ends every run.
package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nucleus/ucl-sync/internal/endpoint"
	"github.com/nucleus/ucl-sync/internal/logger"
	"github.com/nucleus/ucl-sync/internal/metrics"
)

const (
	DefaultBatchSize         = 100
	DefaultProgressInterval  = 500 * time.Millisecond
	DefaultStallWarningAfter = 30 * time.Second
)

// Synchronizer executes sync runs. It is safe for concurrent use; every
// Fetch owns its own state.
type Synchronizer struct {
	batchSize         int
	progressInterval  time.Duration
	stallWarningAfter time.Duration
	logger            *slog.Logger
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithBatchSize sets how many records the reader groups per batch.
func WithBatchSize(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithProgressInterval sets the progress tick. Zero disables ticks.
func WithProgressInterval(d time.Duration) Option {
	return func(s *Synchronizer) { s.progressInterval = d }
}

// WithStallWarningAfter sets how long reads may idle before a warning.
func WithStallWarningAfter(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.stallWarningAfter = d
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSynchronizer returns a synchronizer with defaults applied.
func NewSynchronizer(opts ...Option) *Synchronizer {
	s := &Synchronizer{
		batchSize:         DefaultBatchSize,
		progressInterval:  DefaultProgressInterval,
		stallWarningAfter: DefaultStallWarningAfter,
		logger:            logger.Component("synchronizer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BatchSize is the batch size used when a request does not set one.
func (s *Synchronizer) BatchSize() int { return s.batchSize }

// FetchRequest is everything one run needs.
type FetchRequest struct {
	RunID string

	Package      *endpoint.PackageFile
	Source       endpoint.Source
	SourceConfig *endpoint.ConnectorConfig
	Preview      *endpoint.StreamSetPreview

	Sink       endpoint.Sink
	SinkConfig *endpoint.ConnectorConfig
	StateKey   endpoint.SinkStateKey

	// PriorState is the state read before the run, nil when none exists.
	PriorState *endpoint.SinkState

	Callbacks Callbacks

	// BatchSize overrides the synchronizer default when positive.
	BatchSize int

	// SkipIfUpToDate finishes without reading when every stream's update
	// hash matches the prior run.
	SkipIfUpToDate bool
}

// FetchResult reports a run. It is returned on failure too, carrying the
// partial counters.
type FetchResult struct {
	RunID          string
	RecordsTotal   int64
	RecordsWritten int64
	BytesTotal     int64
	StoppedEarly   bool
	UpToDate       bool
	UpdateMethod   endpoint.UpdateMethod
	CommitKeys     []endpoint.CommitKey

	// State is the snapshot saved at the end of the run.
	State  *endpoint.SinkState
	Status FetchStreamStatus
}

// run is the state of one Fetch.
type run struct {
	sync   *Synchronizer
	req    *FetchRequest
	logger *slog.Logger

	tracker  *tracker
	reporter *reporter

	method      endpoint.UpdateMethod
	schemas     map[string]*endpoint.Schema
	casts       map[string]endpoint.Transform
	snapshot    *endpoint.SinkState
	accumulator *endpoint.StreamSetState
}

// Fetch moves the preview's records into the sink. Cancelling ctx stops
// reading early; the records already read are still written, committed
// and recorded, and the run resolves with StoppedEarly set.
func (s *Synchronizer) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if err := validateRequest(req); err != nil {
		return &FetchResult{RunID: req.runID()}, err
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	r := &run{
		sync:   s,
		req:    req,
		logger: s.logger.With("runId", req.RunID, "source", req.Source.ID(), "sink", req.Sink.ID(), "streamSet", req.Preview.Slug),
	}
	r.reporter = &reporter{callback: req.Callbacks.State}
	r.tracker = newTracker(expectedTotals(req.Preview))

	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	res, err := r.execute(ctx)
	res.RunID = req.RunID
	res.Status = r.tracker.snapshot(time.Now())
	res.RecordsTotal = res.Status.RecordsRead
	res.RecordsWritten = res.Status.RecordsWritten
	res.BytesTotal = res.Status.BytesRead
	metrics.BytesRead.WithLabelValues(req.Source.ID(), req.Preview.Slug).Add(float64(res.BytesTotal))

	outcome := OutcomeSuccess
	switch {
	case err != nil:
		outcome = OutcomeFailed
		r.reporter.set(StateError, "", err.Error())
		r.logger.Error("sync failed", "error", err, "records", res.RecordsTotal)
	case res.UpToDate:
		outcome = OutcomeUpToDate
	case res.StoppedEarly:
		outcome = OutcomeStoppedEarly
	}
	metrics.RunsTotal.WithLabelValues(req.Sink.ID(), string(outcome)).Inc()
	if err != nil {
		if req.Callbacks.Finish != nil {
			req.Callbacks.Finish(err.Error(), res.RecordsTotal, outcome)
		}
		return res, err
	}

	r.reporter.set(StateCompleted, "", "")
	if req.Callbacks.Finish != nil {
		req.Callbacks.Finish(finishMessage(res), res.RecordsTotal, outcome)
	}
	r.logger.Info("sync finished", "outcome", outcome, "records", res.RecordsTotal, "method", res.UpdateMethod)
	return res, nil
}

func (r *run) execute(ctx context.Context) (*FetchResult, error) {
	res := &FetchResult{}
	req := r.req
	r.reporter.set(StatePlanning, "", "")

	priorSet := req.PriorState.Lookup(req.Preview.Slug)
	if req.SkipIfUpToDate && !endpoint.NewRecordsAvailable(req.Preview, priorSet) {
		res.UpToDate = true
		res.State = req.PriorState.Clone()
		return res, nil
	}

	schemas, casts, err := r.deconflict(ctx)
	if err != nil {
		return res, err
	}
	r.schemas, r.casts = schemas, casts

	opts := req.Sink.GetSupportedStreamOptions(req.SinkConfig, req.PriorState)
	var sinkMethods []endpoint.UpdateMethod
	if opts != nil {
		sinkMethods = opts.UpdateMethods
	}
	method, err := Negotiate(req.Preview.SupportedUpdateMethods, sinkMethods, priorSet != nil)
	if err != nil {
		return res, err
	}
	r.method = method
	res.UpdateMethod = method
	r.logger.Info("negotiated update method", "method", method)

	// The accumulator is a private copy; the prior state is never mutated.
	r.snapshot = req.PriorState.Clone()
	if r.snapshot == nil {
		r.snapshot = endpoint.NewSinkState(req.Package.Version)
	}
	r.snapshot.PackageVersion = req.Package.Version
	if method == endpoint.UpdateMethodBatchFullSet {
		delete(r.snapshot.StreamSets, req.Preview.Slug)
	}
	r.accumulator = r.snapshot.StreamSet(req.Preview.Slug)

	stoppedEarly, keys, err := r.transfer(ctx)
	res.StoppedEarly = stoppedEarly
	if err != nil {
		return res, err
	}
	res.CommitKeys = keys

	if stoppedEarly {
		r.accumulator.ClearUpdateHashes()
	}
	r.snapshot.Timestamp = time.Now().UTC()
	res.State = r.snapshot

	// Saving must finish even when the caller has cancelled.
	saveCtx := context.WithoutCancel(ctx)
	if err := req.Sink.SaveSinkState(saveCtx, req.SinkConfig, req.StateKey, r.snapshot.Clone()); err != nil {
		se := &Error{
			Kind: KindStatePersistence,
			Code: CodeStatePersistence,
			Err:  fmt.Errorf("save sink state %s: %w", req.StateKey, err),
		}
		// Only a commit that actually landed leaves the sink ahead of its state.
		if len(keys) > 0 || r.tracker.recordsWritten.Load() > 0 {
			se.Code = CodeStateInconsistent
			se.Inconsistent = true
		}
		return res, se
	}
	return res, nil
}

// transfer runs the reader, the router and the finalize step.
func (r *run) transfer(ctx context.Context) (bool, []endpoint.CommitKey, error) {
	batchSize := r.sync.batchSize
	if r.req.BatchSize > 0 {
		batchSize = r.req.BatchSize
	}

	// Sink work outlives cancellation so finalize can complete.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	batches := make(chan batch, 1)
	routed := make(chan struct{})
	readDone := make(chan readResult, 1)

	reader := &recordReader{
		preview:   r.req.Preview,
		method:    r.method,
		prior:     r.req.PriorState.Lookup(r.req.Preview.Slug),
		batchSize: batchSize,
		tracker:   r.tracker,
		reporter:  r.reporter,
		logger:    r.logger,
		sourceID:  r.req.Source.ID(),
	}
	go func() {
		readDone <- reader.run(readCtx, batches, routed)
	}()

	stopProgress := r.startProgress(workCtx)
	defer stopProgress()

	rt := newRouter(r)
	var writeErr error
	for b := range batches {
		if err := rt.write(workCtx, b); err != nil {
			writeErr = err
			break
		}
	}
	close(routed)
	cancelRead()
	read := <-readDone

	if writeErr == nil && read.err != nil {
		writeErr = read.err
	}
	if writeErr != nil {
		rt.abort(workCtx)
		return false, nil, writeErr
	}

	stoppedEarly := read.stoppedEarly
	stopProgress()
	r.observeProgress(r.tracker.snapshot(time.Now()))

	r.reporter.set(StateFlushing, "", "")
	r.reporter.set(StateClosing, "", "")
	keys, err := rt.final(workCtx)
	if err != nil {
		rt.abort(workCtx)
		return stoppedEarly, nil, err
	}
	return stoppedEarly, keys, nil
}

func validateRequest(req *FetchRequest) error {
	if req == nil {
		return configurationError("fetch request is required")
	}
	switch {
	case req.Package == nil:
		return configurationError("package is required")
	case req.Source == nil:
		return configurationError("source is required")
	case req.Sink == nil:
		return configurationError("sink is required")
	case req.Preview == nil:
		return configurationError("stream set preview is required")
	}
	if req.SinkConfig == nil {
		req.SinkConfig = &endpoint.ConnectorConfig{}
	}
	if req.SourceConfig == nil {
		req.SourceConfig = &endpoint.ConnectorConfig{}
	}
	if d, ok := req.Sink.(endpoint.Describer); ok {
		if err := d.Descriptor().Validate(req.SinkConfig); err != nil {
			return &Error{Kind: KindConfiguration, Code: CodeConfiguration, Err: err}
		}
	}
	if d, ok := req.Source.(endpoint.Describer); ok {
		if err := d.Descriptor().Validate(req.SourceConfig); err != nil {
			return &Error{Kind: KindConfiguration, Code: CodeConfiguration, Err: err}
		}
	}
	return nil
}

func (req *FetchRequest) runID() string {
	if req == nil {
		return ""
	}
	return req.RunID
}

// expectedTotals sums the stream hints, falling back to the preview totals
// when no stream reports any.
func expectedTotals(p *endpoint.StreamSetPreview) (int64, int64) {
	var bytes, records int64
	for _, s := range p.StreamSummaries {
		bytes += s.ExpectedBytesTotal
		records += s.ExpectedRecordsTotal
	}
	if bytes == 0 {
		bytes = p.ExpectedBytesTotal
	}
	if records == 0 {
		records = p.ExpectedRecordsTotal
	}
	return bytes, records
}

func finishMessage(res *FetchResult) string {
	switch {
	case res.UpToDate:
		return "Already up to date"
	case res.StoppedEarly:
		return fmt.Sprintf("Stopped early after %d records", res.RecordsTotal)
	}
	return fmt.Sprintf("Synced %d records", res.RecordsTotal)
}
