// Package endpoint defines the capability contracts the sync engine consumes:
// sources that enumerate and open record streams, sinks that accept
// per-schema writes and persist sync state, and parsers that turn bytes
// into records.
package endpoint

import (
	"context"
	"io"
	"log/slog"
)

// =============================================================================
// SOURCE
// =============================================================================

// Source enumerates stream sets for a set of URIs.
type Source interface {
	// ID returns the template ID (e.g. "file", "jdbc.postgres").
	ID() string

	// InspectURIs resolves the configuration into stream set previews.
	InspectURIs(ctx context.Context, cfg *ConnectorConfig, job *JobContext) (*InspectionResults, error)
}

// JobContext carries run-scoped collaborators into connectors.
type JobContext struct {
	RunID  string
	Logger *slog.Logger
}

// Log returns the job logger or the default logger.
func (j *JobContext) Log() *slog.Logger {
	if j == nil || j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

// InspectionResults is returned by Source.InspectURIs.
type InspectionResults struct {
	DefaultDisplayName string
	Configuration      map[string]any
	StreamSetPreviews  []*StreamSetPreview
}

// StreamSet returns the preview with the given slug, or nil.
func (r *InspectionResults) StreamSet(slug string) *StreamSetPreview {
	if r == nil {
		return nil
	}
	for _, p := range r.StreamSetPreviews {
		if p.Slug == slug {
			return p
		}
	}
	return nil
}

// StreamSetPreview is a named group of streams sharing one update method
// negotiation. Exactly one of StreamSummaries or MoveToNextStream is set.
type StreamSetPreview struct {
	Slug                   string
	Configuration          map[string]any
	SupportedUpdateMethods []UpdateMethod
	UpdateHash             string

	// Zero means unknown.
	ExpectedBytesTotal   int64
	ExpectedRecordsTotal int64

	StreamSummaries []*StreamSummary

	// MoveToNextStream yields streams one at a time and returns nil, nil
	// once exhausted.
	MoveToNextStream func(ctx context.Context) (*StreamSummary, error)
}

// StreamSummary describes one underlying stream.
type StreamSummary struct {
	Name                 string
	ExpectedBytesTotal   int64
	ExpectedRecordsTotal int64
	UpdateHash           string

	// OpenStream opens the stream. prior is nil unless the run appends.
	OpenStream func(ctx context.Context, prior *StreamState) (*StreamAndTransforms, error)
}

// StreamAndTransforms is an opened stream. Either Records is set, or Reader
// is set together with a Parser that turns the bytes into records.
type StreamAndTransforms struct {
	Records Iterator[RecordContext]

	Reader     io.ReadCloser
	Parser     Parser
	SchemaSlug string

	Transforms []Transform
}

// Transform maps one record to zero or more records.
type Transform func(RecordContext) ([]RecordContext, error)

// =============================================================================
// PARSER
// =============================================================================

// Parser turns raw bytes into schema-tagged records.
type Parser interface {
	ID() string
	MimeTypes() []string
	Parse(ctx context.Context, r io.Reader, schemaSlug string) (Iterator[RecordContext], error)
}

// =============================================================================
// SINK
// =============================================================================

// Sink accepts per-schema writes and persists sync state.
type Sink interface {
	ID() string

	// IsStronglyTyped reports whether every field must resolve to a single
	// type before writing.
	IsStronglyTyped(cfg *ConnectorConfig) bool

	GetSupportedStreamOptions(cfg *ConnectorConfig, prior *SinkState) *SupportedStreamOptions

	// GetWriteable returns the write chain for one schema. The engine calls
	// it at most once per schema per run.
	GetWriteable(ctx context.Context, schema *Schema, cfg *ConnectorConfig, method UpdateMethod) (*WritableWithContext, error)

	// CommitAfterWrites atomically publishes everything the closed writables
	// produced. Called at most once per run.
	CommitAfterWrites(ctx context.Context, keys []CommitKey, cfg *ConnectorConfig) error

	SaveSinkState(ctx context.Context, cfg *ConnectorConfig, key SinkStateKey, state *SinkState) error

	// GetSinkState returns nil, nil when no state exists.
	GetSinkState(ctx context.Context, cfg *ConnectorConfig, key SinkStateKey) (*SinkState, error)
}

// Writable is the terminal stage of a schema chain.
type Writable interface {
	// Write blocks until the sink has accepted the batch. Returning is the
	// drain signal.
	Write(ctx context.Context, records []RecordContext) error

	// Close ends the writable. Commit keys are valid afterwards.
	Close(ctx context.Context) error
}

// Aborter is implemented by writables that hold resources which must be
// released when the run fails before commit.
type Aborter interface {
	Abort(ctx context.Context) error
}

// CommitKey is an opaque token describing a closed writable's output.
type CommitKey map[string]any

// WritableWithContext is a schema's write chain as returned by a sink.
type WritableWithContext struct {
	Writable       Writable
	Transforms     []Transform
	OutputLocation string

	// LastOffset is the highest offset the sink already holds, if known.
	LastOffset *int64

	GetCommitKeys func() []CommitKey
}

// Closer is implemented by connectors holding pooled resources.
type Closer interface {
	Close() error
}

// Describer is implemented by connectors that publish a descriptor.
type Describer interface {
	Descriptor() *Descriptor
}

// SkipThroughOffset returns a transform dropping records whose offset is
// at or below offset. Sources use it to resume an append from prior state.
func SkipThroughOffset(offset int64) Transform {
	return func(rc RecordContext) ([]RecordContext, error) {
		if rc.Offset != nil && *rc.Offset <= offset {
			return nil, nil
		}
		return []RecordContext{rc}, nil
	}
}
