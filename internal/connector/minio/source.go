package minio

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"

	"github.com/nucleus/ucl-sync/internal/endpoint"
	"github.com/nucleus/ucl-sync/internal/parser"
)

// Source reads what the sink committed: one stream per schema manifest,
// in one stream set. The manifest version is the stream's update hash.
type Source struct {
	store ObjectStore
}

// NewSource creates a source that resolves its store from configuration.
func NewSource() *Source { return &Source{} }

// NewSourceWithStore binds the source to an existing store.
func NewSourceWithStore(store ObjectStore) *Source { return &Source{store: store} }

func (s *Source) ID() string { return TemplateID }

func (s *Source) InspectURIs(ctx context.Context, cc *endpoint.ConnectorConfig, job *endpoint.JobContext) (*endpoint.InspectionResults, error) {
	cfg := ParseConfig(cc)
	store := s.store
	if store == nil {
		var err error
		if store, err = newStore(cfg); err != nil {
			return nil, err
		}
	}

	keys, err := store.ListPrefix(ctx, cfg.Bucket, cfg.BasePrefix+"/")
	if err != nil {
		return nil, err
	}

	slug := firstString(merged(cc), "streamSet")
	if slug == "" {
		slug = cfg.Bucket
	}
	preview := &endpoint.StreamSetPreview{
		Slug:                   slug,
		SupportedUpdateMethods: []endpoint.UpdateMethod{endpoint.UpdateMethodBatchFullSet, endpoint.UpdateMethodAppendOnly},
		StreamSummaries:        []*endpoint.StreamSummary{},
	}
	for _, key := range keys {
		if !isManifestKey(cfg.BasePrefix, key) {
			continue
		}
		m, err := readManifest(ctx, store, cfg.Bucket, key)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		job.Log().Debug("found manifest", "schema", m.Schema, "version", m.Version, "parts", len(m.Parts))
		preview.StreamSummaries = append(preview.StreamSummaries, s.summary(store, cfg.Bucket, m))
		preview.ExpectedRecordsTotal += m.Records
		preview.ExpectedBytesTotal += m.bytes()
	}

	return &endpoint.InspectionResults{
		DefaultDisplayName: fmt.Sprintf("minio://%s/%s", cfg.Bucket, cfg.BasePrefix),
		StreamSetPreviews:  []*endpoint.StreamSetPreview{preview},
	}, nil
}

func (s *Source) summary(store ObjectStore, bucket string, m *manifest) *endpoint.StreamSummary {
	return &endpoint.StreamSummary{
		Name:                 m.Schema,
		UpdateHash:           m.Version,
		ExpectedRecordsTotal: m.Records,
		ExpectedBytesTotal:   m.bytes(),
		OpenStream: func(ctx context.Context, prior *endpoint.StreamState) (*endpoint.StreamAndTransforms, error) {
			if m.Format != FormatJSONL {
				return nil, wrapError(CodeUnsupportedFormat, false, fmt.Errorf("cannot read %s parts of %s", m.Format, m.Schema))
			}
			keys := make([]string, 0, len(m.Parts))
			for _, p := range m.Parts {
				keys = append(keys, p.Key)
			}
			out := &endpoint.StreamAndTransforms{
				Reader:     &partsReader{ctx: ctx, store: store, bucket: bucket, keys: keys},
				Parser:     parser.JSONL{},
				SchemaSlug: m.Schema,
			}
			if last := prior.LastOffset(m.Schema); last != nil {
				out.Transforms = append(out.Transforms, endpoint.SkipThroughOffset(*last))
			}
			return out, nil
		},
	}
}

// partsReader concatenates gzip parts, fetching each one when the previous
// is exhausted.
type partsReader struct {
	ctx    context.Context
	store  ObjectStore
	bucket string
	keys   []string
	cur    *gzip.Reader
}

func (r *partsReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if len(r.keys) == 0 {
				return 0, io.EOF
			}
			data, err := r.store.GetObject(r.ctx, r.bucket, r.keys[0])
			if err != nil {
				return 0, err
			}
			gz, err := gzip.NewReader(bytes.NewReader(data))
			if err != nil {
				return 0, fmt.Errorf("%s: %w", r.keys[0], err)
			}
			r.keys = r.keys[1:]
			r.cur = gz
		}
		n, err := r.cur.Read(p)
		if err == io.EOF {
			_ = r.cur.Close()
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *partsReader) Close() error {
	if r.cur != nil {
		return r.cur.Close()
	}
	return nil
}
