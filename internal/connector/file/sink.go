package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/nucleus/ucl-sync/internal/endpoint"
	"github.com/nucleus/ucl-sync/pkg/staging"
)

// Sink writes <dir>/<schema>.jsonl. Batches are staged under <dir>/.staging
// and only land in the output file on commit: BATCH replaces it through a
// rename, APPEND appends to it. State lives in <dir>/.state.
type Sink struct {
	mu       sync.Mutex
	provider *staging.DirProvider
}

func NewSink() *Sink { return &Sink{} }

func (s *Sink) ID() string { return TemplateID }

func (s *Sink) Descriptor() *endpoint.Descriptor {
	return &endpoint.Descriptor{
		ID:     TemplateID,
		Family: "file",
		Title:  "Local JSON Lines files",
		Fields: []*endpoint.FieldDescriptor{
			{Key: "dir", Label: "Output directory", ValueType: "string", Required: true},
		},
	}
}

func (s *Sink) IsStronglyTyped(*endpoint.ConnectorConfig) bool { return false }

func (s *Sink) GetSupportedStreamOptions(*endpoint.ConnectorConfig, *endpoint.SinkState) *endpoint.SupportedStreamOptions {
	return &endpoint.SupportedStreamOptions{
		UpdateMethods:              []endpoint.UpdateMethod{endpoint.UpdateMethodBatchFullSet, endpoint.UpdateMethodAppendOnly},
		StreamSetProcessingMethods: []endpoint.StreamSetProcessingMethod{endpoint.ProcessPerStreamSet},
	}
}

func (s *Sink) dir(cc *endpoint.ConnectorConfig) (string, error) {
	dir := lookupString(cc, "dir")
	if dir == "" {
		return "", fmt.Errorf("file sink: dir is required")
	}
	return dir, nil
}

func (s *Sink) stage(cc *endpoint.ConnectorConfig) (*staging.DirProvider, error) {
	dir, err := s.dir(cc)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provider == nil {
		s.provider = staging.NewDirProvider(filepath.Join(dir, ".staging"))
	}
	return s.provider, nil
}

func (s *Sink) GetWriteable(_ context.Context, schema *endpoint.Schema, cc *endpoint.ConnectorConfig, method endpoint.UpdateMethod) (*endpoint.WritableWithContext, error) {
	provider, err := s.stage(cc)
	if err != nil {
		return nil, err
	}
	dir, _ := s.dir(cc)
	w := &writable{provider: provider, stageRef: staging.MakeStageRef(provider.ID(), staging.NewStageID()), slug: schema.Slug}
	return &endpoint.WritableWithContext{
		Writable:       w,
		OutputLocation: filepath.Join(dir, schema.Slug+".jsonl"),
		GetCommitKeys: func() []endpoint.CommitKey {
			return []endpoint.CommitKey{{"schema": schema.Slug, "stageRef": w.stageRef, "method": string(method)}}
		},
	}, nil
}

// CommitAfterWrites builds every output in a temp file first, then renames
// or appends them in one pass.
func (s *Sink) CommitAfterWrites(ctx context.Context, keys []endpoint.CommitKey, cc *endpoint.ConnectorConfig) error {
	provider, err := s.stage(cc)
	if err != nil {
		return err
	}
	dir, _ := s.dir(cc)

	type built struct {
		tmp, final string
		appendOnly bool
		stageRef   string
	}
	var outputs []built
	cleanup := func() {
		for _, b := range outputs {
			_ = os.Remove(b.tmp)
		}
	}

	for _, key := range keys {
		slug, _ := key["schema"].(string)
		stageRef, _ := key["stageRef"].(string)
		if slug == "" || stageRef == "" {
			cleanup()
			return fmt.Errorf("file sink: malformed commit key %v", key)
		}
		b := built{
			tmp:        filepath.Join(dir, "."+slug+".jsonl.tmp"),
			final:      filepath.Join(dir, slug+".jsonl"),
			appendOnly: key["method"] == string(endpoint.UpdateMethodAppendOnly),
			stageRef:   stageRef,
		}
		outputs = append(outputs, b)
		if err := writeStage(ctx, provider, stageRef, slug, b.tmp); err != nil {
			cleanup()
			return err
		}
	}

	for _, b := range outputs {
		if b.appendOnly {
			if err := appendFile(b.tmp, b.final); err != nil {
				return err
			}
			_ = os.Remove(b.tmp)
		} else if err := os.Rename(b.tmp, b.final); err != nil {
			return fmt.Errorf("publish %s: %w", b.final, err)
		}
		if err := provider.FinalizeStage(ctx, b.stageRef); err != nil {
			return err
		}
	}
	return nil
}

func writeStage(ctx context.Context, provider staging.Provider, stageRef, slug, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	err = staging.Drain(ctx, provider, stageRef, slug, func(batch []staging.RecordEnvelope) error {
		for _, rec := range batch {
			if err := enc.Encode(rec.Payload); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		err = w.Flush()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}

func appendFile(from, to string) error {
	data, err := os.ReadFile(from)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(to, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func statePath(dir string, key endpoint.SinkStateKey) string {
	return filepath.Join(dir, ".state", filepath.FromSlash(key.String())+".json")
}

func (s *Sink) SaveSinkState(_ context.Context, cc *endpoint.ConnectorConfig, key endpoint.SinkStateKey, state *endpoint.SinkState) error {
	dir, err := s.dir(cc)
	if err != nil {
		return err
	}
	path := statePath(dir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path+".tmp", data, 0o644); err != nil {
		return err
	}
	return os.Rename(path+".tmp", path)
}

func (s *Sink) GetSinkState(_ context.Context, cc *endpoint.ConnectorConfig, key endpoint.SinkStateKey) (*endpoint.SinkState, error) {
	dir, err := s.dir(cc)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(statePath(dir, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state endpoint.SinkState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode %s: %w", statePath(dir, key), err)
	}
	return &state, nil
}

type writable struct {
	provider staging.Provider
	stageRef string
	slug     string
}

func (w *writable) Write(ctx context.Context, records []endpoint.RecordContext) error {
	envelopes := make([]staging.RecordEnvelope, len(records))
	for i, rc := range records {
		envelopes[i] = staging.RecordEnvelope{
			SchemaSlug:    w.slug,
			StreamSetSlug: rc.StreamSetSlug,
			StreamName:    rc.StreamName,
			Offset:        rc.Offset,
			Payload:       rc.Record,
		}
	}
	_, err := w.provider.PutBatch(ctx, &staging.PutBatchRequest{StageRef: w.stageRef, SliceID: w.slug, Records: envelopes})
	return err
}

func (w *writable) Close(context.Context) error { return nil }

func (w *writable) Abort(ctx context.Context) error {
	return w.provider.FinalizeStage(ctx, w.stageRef)
}
