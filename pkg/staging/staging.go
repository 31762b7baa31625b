// Package staging buffers written records between a sink's writables and
// its commit step.
package staging

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	ProviderMemory      = "memory"
	ProviderObjectStore = "object"
	ProviderMinIO       = "object.minio"

	// DefaultLargeRunThresholdBytes determines when object-store staging is required.
	DefaultLargeRunThresholdBytes int64 = 64 * 1024 * 1024
	// DefaultMemoryCapBytes is the max bytes allowed for the in-memory provider.
	DefaultMemoryCapBytes int64 = 64 * 1024 * 1024
)

// ErrorCode represents a structured staging error code.
type ErrorCode string

const (
	CodeStagingUnavailable ErrorCode = "E_STAGING_UNAVAILABLE"
	CodeStageTooLarge      ErrorCode = "E_STAGE_TOO_LARGE"
	CodeStageNotFound      ErrorCode = "E_STAGE_NOT_FOUND"
)

// Error carries a staging error code and retryability hint.
type Error struct {
	Code      ErrorCode
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeValue returns the string error code for integration with operation state.
func (e *Error) CodeValue() string { return string(e.Code) }

// RetryableStatus indicates if the operation can be retried.
func (e *Error) RetryableStatus() bool { return e.Retryable }

// CodedError exposes staging error metadata.
type CodedError interface {
	error
	CodeValue() string
	RetryableStatus() bool
}

// RecordEnvelope is one staged record with the stream it came from.
type RecordEnvelope struct {
	SchemaSlug    string         `json:"schemaSlug"`
	StreamSetSlug string         `json:"streamSetSlug,omitempty"`
	StreamName    string         `json:"streamName,omitempty"`
	Offset        *int64         `json:"offset,omitempty"`
	Payload       map[string]any `json:"payload"`
	ObservedAt    string         `json:"observedAt,omitempty"`
}

// BatchStats summarizes a staged batch.
type BatchStats struct {
	Records int   `json:"records"`
	Bytes   int64 `json:"bytes"`
}

// PutBatchRequest is the staging provider input. SliceID groups batches
// inside a stage; sinks use the schema slug.
type PutBatchRequest struct {
	StageRef string
	StageID  string
	SliceID  string
	BatchSeq int
	Records  []RecordEnvelope
}

// PutBatchResult is returned by providers after staging a batch.
type PutBatchResult struct {
	StageRef string
	BatchRef string
	Stats    BatchStats
}

// Provider is a pluggable staging backend (memory, object store, etc.).
type Provider interface {
	ID() string
	PutBatch(ctx context.Context, req *PutBatchRequest) (*PutBatchResult, error)
	ListBatches(ctx context.Context, stageRef string, sliceID string) ([]string, error)
	GetBatch(ctx context.Context, stageRef string, batchRef string) ([]RecordEnvelope, error)

	// FinalizeStage drops everything staged under stageRef.
	FinalizeStage(ctx context.Context, stageRef string) error
}

// Registry holds available staging providers for selection.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry builds a registry with optional initial providers.
func NewRegistry(providers ...Provider) *Registry {
	reg := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		if p != nil {
			reg.Register(p)
		}
	}
	return reg
}

// Register adds or replaces a provider by ID.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get returns a provider by ID.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ProviderIDs returns registered provider IDs, sorted.
func (r *Registry) ProviderIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SelectProvider chooses a provider based on size hints and preference.
// Runs above the threshold always go to an object store.
func (r *Registry) SelectProvider(preferred string, estimatedBytes int64, threshold int64) (Provider, error) {
	if threshold <= 0 {
		threshold = DefaultLargeRunThresholdBytes
	}

	if estimatedBytes > threshold {
		if p, ok := r.Get(ProviderMinIO); ok {
			return p, nil
		}
		if p, ok := r.Get(ProviderObjectStore); ok {
			return p, nil
		}
		return nil, &Error{Code: CodeStagingUnavailable, Retryable: true, Err: fmt.Errorf("object-store staging required for %d bytes", estimatedBytes)}
	}

	if preferred != "" {
		if p, ok := r.Get(preferred); ok {
			return p, nil
		}
	}

	for _, id := range []string{ProviderMemory, ProviderObjectStore, ProviderMinIO} {
		if p, ok := r.Get(id); ok {
			return p, nil
		}
	}
	return nil, &Error{Code: CodeStagingUnavailable, Retryable: true, Err: fmt.Errorf("no staging providers available")}
}

// NewStageID creates a new opaque stage identifier.
func NewStageID() string {
	return "stage-" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// MakeStageRef encodes provider + stage ID into a compact ref.
func MakeStageRef(providerID, stageID string) string {
	if providerID == "" {
		providerID = ProviderMemory
	}
	return providerID + ":" + stageID
}

// ParseStageRef splits a stageRef into provider and stage ID.
func ParseStageRef(stageRef string) (providerID, stageID string) {
	parts := strings.SplitN(stageRef, ":", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", stageRef
}

// resolveStageID picks the stage ID from a ref or explicit field.
func resolveStageID(stageRef, stageID string) string {
	if stageRef != "" {
		if _, id := ParseStageRef(stageRef); id != "" {
			return id
		}
	}
	return stageID
}

// batchKey creates a deterministic batch ref within a stage.
func batchKey(sliceID string, seq int) string {
	if sliceID == "" {
		sliceID = "slice"
	}
	return fmt.Sprintf("%s-%06d", sliceID, seq)
}

// Drain hands every batch of a slice to fn in write order.
func Drain(ctx context.Context, p Provider, stageRef, sliceID string, fn func([]RecordEnvelope) error) error {
	refs, err := p.ListBatches(ctx, stageRef, sliceID)
	if err != nil {
		return fmt.Errorf("list batches of %s: %w", stageRef, err)
	}
	for _, ref := range refs {
		records, err := p.GetBatch(ctx, stageRef, ref)
		if err != nil {
			return fmt.Errorf("read batch %s: %w", ref, err)
		}
		if err := fn(records); err != nil {
			return err
		}
	}
	return nil
}
