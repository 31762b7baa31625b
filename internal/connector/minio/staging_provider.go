package minio

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nucleus/ucl-sync/pkg/staging"
)

const stageRoot = "_staging"

// StagingProvider writes staged JSONL.GZ batches into the bucket under
// <basePrefix>/_staging/<stage>/<slice>/.
type StagingProvider struct {
	store  ObjectStore
	bucket string
	prefix string

	mu  sync.Mutex
	seq map[string]int
}

// NewStagingProvider constructs a bucket-backed staging provider.
func NewStagingProvider(cfg *Config, store ObjectStore) *StagingProvider {
	return &StagingProvider{
		store:  store,
		bucket: cfg.Bucket,
		prefix: joinPath(cfg.BasePrefix, stageRoot),
		seq:    make(map[string]int),
	}
}

func (p *StagingProvider) ID() string { return staging.ProviderMinIO }

func (p *StagingProvider) PutBatch(ctx context.Context, req *staging.PutBatchRequest) (*staging.PutBatchResult, error) {
	if req == nil {
		return nil, wrapError(CodeStagingWriteFailed, false, fmt.Errorf("request is required"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stageID := req.StageID
	if req.StageRef != "" {
		_, stageID = staging.ParseStageRef(req.StageRef)
	}
	if stageID == "" {
		stageID = staging.NewStageID()
	}
	sliceID := req.SliceID
	if sliceID == "" {
		sliceID = "slice"
	}

	p.mu.Lock()
	batchSeq := req.BatchSeq
	if batchSeq <= 0 {
		batchSeq = p.seq[stageID+"/"+sliceID]
	}
	p.seq[stageID+"/"+sliceID] = batchSeq + 1
	p.mu.Unlock()

	buf := &bytes.Buffer{}
	if err := staging.EncodeJSONLines(buf, req.Records, true); err != nil {
		return nil, wrapError(CodeStagingWriteFailed, false, err)
	}

	batchRef := joinPath(sliceID, fmt.Sprintf("%06d.jsonl.gz", batchSeq))
	if err := p.store.PutObject(ctx, p.bucket, joinPath(p.prefix, stageID, batchRef), buf.Bytes()); err != nil {
		return nil, err
	}

	return &staging.PutBatchResult{
		StageRef: staging.MakeStageRef(p.ID(), stageID),
		BatchRef: batchRef,
		Stats: staging.BatchStats{
			Records: len(req.Records),
			Bytes:   int64(buf.Len()),
		},
	}, nil
}

func (p *StagingProvider) ListBatches(ctx context.Context, stageRef string, sliceID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, stageID := staging.ParseStageRef(stageRef)
	stagePrefix := joinPath(p.prefix, stageID) + "/"
	listPrefix := stagePrefix
	if sliceID != "" {
		listPrefix = stagePrefix + sliceID + "/"
	}

	keys, err := p.store.ListPrefix(ctx, p.bucket, listPrefix)
	if err != nil {
		return nil, err
	}
	refs := make([]string, 0, len(keys))
	for _, key := range keys {
		refs = append(refs, strings.TrimPrefix(key, stagePrefix))
	}
	sort.Strings(refs)
	return refs, nil
}

func (p *StagingProvider) GetBatch(ctx context.Context, stageRef string, batchRef string) ([]staging.RecordEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, stageID := staging.ParseStageRef(stageRef)
	data, err := p.store.GetObject(ctx, p.bucket, joinPath(p.prefix, stageID, batchRef))
	if err != nil {
		return nil, err
	}
	return staging.DecodeJSONLines(bytes.NewReader(data))
}

// FinalizeStage deletes every staged object of the stage.
func (p *StagingProvider) FinalizeStage(ctx context.Context, stageRef string) error {
	refs, err := p.ListBatches(ctx, stageRef, "")
	if err != nil {
		return err
	}
	_, stageID := staging.ParseStageRef(stageRef)
	for _, ref := range refs {
		if err := p.store.DeleteObject(ctx, p.bucket, joinPath(p.prefix, stageID, ref)); err != nil {
			return err
		}
	}
	return nil
}
