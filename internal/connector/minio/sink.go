package minio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nucleus/ucl-sync/internal/endpoint"
	"github.com/nucleus/ucl-sync/internal/logger"
	"github.com/nucleus/ucl-sync/pkg/staging"
)

// Sink writes each schema's records to objects under <basePrefix>/<schema>/
// and publishes them by replacing the schema manifest on commit. Writes are
// staged first so nothing becomes visible before CommitAfterWrites.
type Sink struct {
	once    sync.Once
	initErr error

	cfg      *Config
	store    ObjectStore
	provider staging.Provider
	logger   *slog.Logger

	mu      sync.Mutex
	schemas map[string]*endpoint.Schema
}

// NewSink creates an unconfigured sink. The store is resolved from the
// first configuration it receives.
func NewSink() *Sink {
	return &Sink{schemas: map[string]*endpoint.Schema{}, logger: logger.Component("minio-sink")}
}

// NewSinkWithStore binds the sink to an existing store.
func NewSinkWithStore(cfg *Config, store ObjectStore) *Sink {
	s := NewSink()
	s.once.Do(func() { s.initErr = s.bind(cfg, store) })
	return s
}

func (s *Sink) ID() string { return TemplateID }

func (s *Sink) init(cc *endpoint.ConnectorConfig) error {
	s.once.Do(func() {
		cfg := ParseConfig(cc)
		if err := cfg.Validate(); err != nil {
			s.initErr = err
			return
		}
		store, err := newStore(cfg)
		if err != nil {
			s.initErr = err
			return
		}
		s.initErr = s.bind(cfg, store)
	})
	return s.initErr
}

func (s *Sink) bind(cfg *Config, store ObjectStore) error {
	reg := staging.NewRegistry(
		staging.NewMemoryProvider(cfg.MemoryCapBytes),
		NewStagingProvider(cfg, store),
	)
	provider, ok := reg.Get(cfg.Staging)
	if !ok {
		return wrapError(CodeStagingWriteFailed, false, fmt.Errorf("unknown staging provider %q, have %v", cfg.Staging, reg.ProviderIDs()))
	}
	s.cfg, s.store, s.provider = cfg, store, provider
	return nil
}

// IsStronglyTyped is true for parquet output, which needs one type per column.
func (s *Sink) IsStronglyTyped(cc *endpoint.ConnectorConfig) bool {
	return ParseConfig(cc).Format == FormatParquet
}

func (s *Sink) GetSupportedStreamOptions(*endpoint.ConnectorConfig, *endpoint.SinkState) *endpoint.SupportedStreamOptions {
	return &endpoint.SupportedStreamOptions{
		UpdateMethods:              []endpoint.UpdateMethod{endpoint.UpdateMethodBatchFullSet, endpoint.UpdateMethodAppendOnly},
		StreamSetProcessingMethods: []endpoint.StreamSetProcessingMethod{endpoint.ProcessPerStreamSet},
	}
}

func (s *Sink) GetWriteable(ctx context.Context, schema *endpoint.Schema, cc *endpoint.ConnectorConfig, method endpoint.UpdateMethod) (*endpoint.WritableWithContext, error) {
	if err := s.init(cc); err != nil {
		return nil, err
	}
	if err := s.store.EnsureBucket(ctx, s.cfg.Bucket); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.schemas[schema.Slug] = schema
	s.mu.Unlock()

	w := &stagedWritable{
		provider: s.provider,
		stageRef: staging.MakeStageRef(s.provider.ID(), staging.NewStageID()),
		slug:     schema.Slug,
	}
	return &endpoint.WritableWithContext{
		Writable:       w,
		OutputLocation: fmt.Sprintf("minio://%s/%s", s.cfg.Bucket, joinPath(s.cfg.BasePrefix, schema.Slug)),
		GetCommitKeys: func() []endpoint.CommitKey {
			return []endpoint.CommitKey{{
				"schema":   schema.Slug,
				"stageRef": w.stageRef,
				"method":   string(method),
				"records":  w.count(),
			}}
		},
	}, nil
}

type pendingCommit struct {
	next     *manifest
	replaced []part
	stageRef string
}

// CommitAfterWrites promotes staged batches. All part objects are written
// before any manifest is replaced, then replaced parts and stages are
// removed. Cleanup failures are logged, not returned.
func (s *Sink) CommitAfterWrites(ctx context.Context, keys []endpoint.CommitKey, cc *endpoint.ConnectorConfig) error {
	if err := s.init(cc); err != nil {
		return err
	}
	version := time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]

	pending := make([]pendingCommit, 0, len(keys))
	for _, key := range keys {
		p, err := s.promote(ctx, key, version)
		if err != nil {
			return err
		}
		pending = append(pending, p)
	}

	for _, p := range pending {
		if err := writeJSON(ctx, s.store, s.cfg.Bucket, manifestKey(s.cfg.BasePrefix, p.next.Schema), p.next); err != nil {
			return err
		}
	}

	for _, p := range pending {
		for _, old := range p.replaced {
			if err := s.store.DeleteObject(ctx, s.cfg.Bucket, old.Key); err != nil {
				s.logger.Warn("delete replaced part", "key", old.Key, "error", err)
			}
		}
		if err := s.provider.FinalizeStage(ctx, p.stageRef); err != nil {
			s.logger.Warn("finalize stage", "stageRef", p.stageRef, "error", err)
		}
	}
	return nil
}

func (s *Sink) promote(ctx context.Context, key endpoint.CommitKey, version string) (pendingCommit, error) {
	slug, _ := key["schema"].(string)
	stageRef, _ := key["stageRef"].(string)
	method := endpoint.UpdateMethod(fmt.Sprint(key["method"]))
	if slug == "" || stageRef == "" {
		return pendingCommit{}, wrapError(CodeSinkWriteFailed, false, fmt.Errorf("malformed commit key %v", key))
	}

	s.mu.Lock()
	schema := s.schemas[slug]
	s.mu.Unlock()

	prev, err := readManifest(ctx, s.store, s.cfg.Bucket, manifestKey(s.cfg.BasePrefix, slug))
	if err != nil {
		return pendingCommit{}, err
	}

	enc, err := newPartEncoder(s.cfg.Format, schema)
	if err != nil {
		return pendingCommit{}, err
	}
	var records int64
	err = staging.Drain(ctx, s.provider, stageRef, slug, func(batch []staging.RecordEnvelope) error {
		records += int64(len(batch))
		return enc.add(batch)
	})
	if err != nil {
		return pendingCommit{}, err
	}
	data, err := enc.finish()
	if err != nil {
		return pendingCommit{}, err
	}

	next := &manifest{
		Schema:      slug,
		Format:      s.cfg.Format,
		Method:      method,
		Version:     version,
		CommittedAt: time.Now().UTC(),
	}
	out := pendingCommit{next: next, stageRef: stageRef}
	if prev != nil {
		if method == endpoint.UpdateMethodAppendOnly && prev.Format == s.cfg.Format {
			next.Parts = append(next.Parts, prev.Parts...)
			next.Records = prev.Records
		} else {
			out.replaced = prev.Parts
		}
	}

	if records > 0 {
		partKey := joinPath(s.cfg.BasePrefix, slug, "part-"+version+enc.ext())
		if err := s.store.PutObject(ctx, s.cfg.Bucket, partKey, data); err != nil {
			return pendingCommit{}, err
		}
		next.Parts = append(next.Parts, part{Key: partKey, Records: records, Bytes: int64(len(data))})
		next.Records += records
	}
	return out, nil
}

func (s *Sink) SaveSinkState(ctx context.Context, cc *endpoint.ConnectorConfig, key endpoint.SinkStateKey, state *endpoint.SinkState) error {
	if err := s.init(cc); err != nil {
		return err
	}
	if err := s.store.EnsureBucket(ctx, s.cfg.Bucket); err != nil {
		return err
	}
	return writeJSON(ctx, s.store, s.cfg.Bucket, stateKey(s.cfg.BasePrefix, key), state)
}

func (s *Sink) GetSinkState(ctx context.Context, cc *endpoint.ConnectorConfig, key endpoint.SinkStateKey) (*endpoint.SinkState, error) {
	if err := s.init(cc); err != nil {
		return nil, err
	}
	data, err := s.store.GetObject(ctx, s.cfg.Bucket, stateKey(s.cfg.BasePrefix, key))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var state endpoint.SinkState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, wrapError(CodeManifestInvalid, false, fmt.Errorf("decode sink state: %w", err))
	}
	return &state, nil
}

// stagedWritable puts every batch into the staging provider under the
// schema's slice.
type stagedWritable struct {
	provider staging.Provider
	stageRef string
	slug     string

	mu      sync.Mutex
	records int64
}

func (w *stagedWritable) Write(ctx context.Context, records []endpoint.RecordContext) error {
	envelopes := make([]staging.RecordEnvelope, 0, len(records))
	observed := time.Now().UTC().Format(time.RFC3339Nano)
	for _, rc := range records {
		envelopes = append(envelopes, staging.RecordEnvelope{
			SchemaSlug:    w.slug,
			StreamSetSlug: rc.StreamSetSlug,
			StreamName:    rc.StreamName,
			Offset:        rc.Offset,
			Payload:       rc.Record,
			ObservedAt:    observed,
		})
	}
	if _, err := w.provider.PutBatch(ctx, &staging.PutBatchRequest{
		StageRef: w.stageRef,
		SliceID:  w.slug,
		Records:  envelopes,
	}); err != nil {
		return err
	}
	w.mu.Lock()
	w.records += int64(len(records))
	w.mu.Unlock()
	return nil
}

func (w *stagedWritable) Close(context.Context) error { return nil }

// Abort drops everything staged for the schema.
func (w *stagedWritable) Abort(ctx context.Context) error {
	return w.provider.FinalizeStage(ctx, w.stageRef)
}

func (w *stagedWritable) count() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records
}
