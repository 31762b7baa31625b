package orchestration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

// memSink keeps everything in memory so tests can inspect the run.
type memSink struct {
	mu sync.Mutex

	methods   []endpoint.UpdateMethod
	strong    bool
	writeErr  map[string]error
	saveErr   error
	gate      chan struct{}
	writables map[string]*memWritable
	schemas   map[string]*endpoint.Schema
	commits   [][]endpoint.CommitKey
	saved     *endpoint.SinkState
}

func newMemSink(methods ...endpoint.UpdateMethod) *memSink {
	return &memSink{
		methods:   methods,
		writeErr:  map[string]error{},
		writables: map[string]*memWritable{},
		schemas:   map[string]*endpoint.Schema{},
	}
}

func (s *memSink) ID() string { return "memory" }

func (s *memSink) IsStronglyTyped(*endpoint.ConnectorConfig) bool { return s.strong }

func (s *memSink) GetSupportedStreamOptions(*endpoint.ConnectorConfig, *endpoint.SinkState) *endpoint.SupportedStreamOptions {
	return &endpoint.SupportedStreamOptions{
		UpdateMethods:              s.methods,
		StreamSetProcessingMethods: []endpoint.StreamSetProcessingMethod{endpoint.ProcessPerStreamSet},
	}
}

func (s *memSink) GetWriteable(_ context.Context, schema *endpoint.Schema, _ *endpoint.ConnectorConfig, method endpoint.UpdateMethod) (*endpoint.WritableWithContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.writables[schema.Slug]; ok {
		return nil, fmt.Errorf("writable for %s requested twice", schema.Slug)
	}
	w := &memWritable{slug: schema.Slug, err: s.writeErr[schema.Slug], gate: s.gate}
	s.writables[schema.Slug] = w
	s.schemas[schema.Slug] = schema
	return &endpoint.WritableWithContext{
		Writable:       w,
		OutputLocation: "memory://" + schema.Slug,
		GetCommitKeys: func() []endpoint.CommitKey {
			return []endpoint.CommitKey{{"schema": schema.Slug, "method": string(method)}}
		},
	}, nil
}

func (s *memSink) CommitAfterWrites(_ context.Context, keys []endpoint.CommitKey, _ *endpoint.ConnectorConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, keys)
	return nil
}

func (s *memSink) SaveSinkState(_ context.Context, _ *endpoint.ConnectorConfig, _ endpoint.SinkStateKey, state *endpoint.SinkState) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = state.Clone()
	return nil
}

func (s *memSink) GetSinkState(context.Context, *endpoint.ConnectorConfig, endpoint.SinkStateKey) (*endpoint.SinkState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved.Clone(), nil
}

func (s *memSink) writable(slug string) *memWritable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writables[slug]
}

type memWritable struct {
	mu      sync.Mutex
	slug    string
	err     error
	gate    chan struct{}
	records []endpoint.RecordContext
	closed  bool
	aborted bool
}

func (w *memWritable) Write(ctx context.Context, records []endpoint.RecordContext) error {
	if w.gate != nil {
		select {
		case <-w.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if w.err != nil {
		return w.err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, records...)
	return nil
}

func (w *memWritable) Close(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *memWritable) Abort(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.aborted = true
	return nil
}

func (w *memWritable) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

// stubSource only carries an ID; previews are built directly in tests.
type stubSource struct{}

func (stubSource) ID() string { return "stub" }

func (stubSource) InspectURIs(context.Context, *endpoint.ConnectorConfig, *endpoint.JobContext) (*endpoint.InspectionResults, error) {
	return &endpoint.InspectionResults{}, nil
}

// countingIterator yields generated records and counts pulls. hook runs
// before record i is produced and may end the stream with an error.
type countingIterator struct {
	n       int
	i       int
	slug    string
	pulled  *atomic.Int64
	hook    func(i int) error
	current endpoint.RecordContext
	err     error
}

func (it *countingIterator) Next() bool {
	if it.err != nil || it.i >= it.n {
		return false
	}
	if it.hook != nil {
		if err := it.hook(it.i); err != nil {
			it.err = err
			return false
		}
	}
	it.i++
	if it.pulled != nil {
		it.pulled.Add(1)
	}
	it.current = endpoint.RecordContext{
		Record:     endpoint.Record{"id": int64(it.i)},
		SchemaSlug: it.slug,
		Offset:     endpoint.Int64(int64(it.i)),
	}
	return true
}

func (it *countingIterator) Value() endpoint.RecordContext { return it.current }
func (it *countingIterator) Err() error                    { return it.err }
func (it *countingIterator) Close() error                  { return nil }

// stream builds a summary over fixed records.
func stream(name, hash string, records ...endpoint.RecordContext) *endpoint.StreamSummary {
	return &endpoint.StreamSummary{
		Name:                 name,
		UpdateHash:           hash,
		ExpectedRecordsTotal: int64(len(records)),
		OpenStream: func(context.Context, *endpoint.StreamState) (*endpoint.StreamAndTransforms, error) {
			return &endpoint.StreamAndTransforms{Records: endpoint.NewSliceIterator(records)}, nil
		},
	}
}

func record(slug string, offset int64, kv ...any) endpoint.RecordContext {
	rec := endpoint.Record{}
	for i := 0; i+1 < len(kv); i += 2 {
		rec[kv[i].(string)] = kv[i+1]
	}
	return endpoint.RecordContext{Record: rec, SchemaSlug: slug, Offset: endpoint.Int64(offset)}
}

func testPackage(slugs ...string) *endpoint.PackageFile {
	pkg := &endpoint.PackageFile{CatalogSlug: "acme", PackageSlug: "crm", Version: "1.0.0"}
	for _, s := range slugs {
		pkg.Schemas = append(pkg.Schemas, &endpoint.Schema{
			Slug:   s,
			Fields: []*endpoint.FieldDefinition{{Name: "id", Types: []endpoint.ValueType{endpoint.ValueInteger}}},
		})
	}
	return pkg
}

func newRequest(pkg *endpoint.PackageFile, preview *endpoint.StreamSetPreview, sink endpoint.Sink) *FetchRequest {
	return &FetchRequest{
		Package:  pkg,
		Source:   stubSource{},
		Preview:  preview,
		Sink:     sink,
		StateKey: pkg.StateKey(),
	}
}
