package staging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// DirProvider stores batches as gzip JSONL files under a root directory,
// laid out like an object store prefix: <root>/<stage>/<slice>/<seq>.jsonl.gz.
type DirProvider struct {
	root string

	mu  sync.Mutex
	seq map[string]int
}

// NewDirProvider creates a directory-backed staging provider.
func NewDirProvider(root string) *DirProvider {
	if root == "" {
		root = filepath.Join(os.TempDir(), "ucl-staging")
	}
	return &DirProvider{root: root, seq: make(map[string]int)}
}

func (p *DirProvider) ID() string { return ProviderObjectStore }

// Root returns the directory batches are written under.
func (p *DirProvider) Root() string { return p.root }

func (p *DirProvider) PutBatch(ctx context.Context, req *PutBatchRequest) (*PutBatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stageID := resolveStageID(req.StageRef, req.StageID)
	if stageID == "" {
		stageID = NewStageID()
	}
	sliceID := req.SliceID
	if sliceID == "" {
		sliceID = "slice"
	}

	p.mu.Lock()
	seqKey := stageID + "/" + sliceID
	batchSeq := req.BatchSeq
	if batchSeq <= 0 {
		batchSeq = p.seq[seqKey]
	}
	p.seq[seqKey] = batchSeq + 1
	p.mu.Unlock()

	dir := filepath.Join(p.root, stageID, sliceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &Error{Code: CodeStagingUnavailable, Retryable: true, Err: fmt.Errorf("create stage dir: %w", err)}
	}

	batchRef := sliceID + "/" + fmt.Sprintf("%06d.jsonl.gz", batchSeq)
	buf := &bytes.Buffer{}
	if err := EncodeJSONLines(buf, req.Records, true); err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	if err := os.WriteFile(filepath.Join(p.root, stageID, filepath.FromSlash(batchRef)), buf.Bytes(), 0o644); err != nil {
		return nil, &Error{Code: CodeStagingUnavailable, Retryable: true, Err: fmt.Errorf("write batch: %w", err)}
	}

	return &PutBatchResult{
		StageRef: MakeStageRef(p.ID(), stageID),
		BatchRef: batchRef,
		Stats: BatchStats{
			Records: len(req.Records),
			Bytes:   int64(buf.Len()),
		},
	}, nil
}

func (p *DirProvider) ListBatches(ctx context.Context, stageRef string, sliceID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, stageID := ParseStageRef(stageRef)
	stageRoot := filepath.Join(p.root, stageID)
	walkRoot := stageRoot
	if sliceID != "" {
		walkRoot = filepath.Join(stageRoot, sliceID)
	}

	batches := []string{}
	err := filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(stageRoot, path)
		if relErr != nil {
			return relErr
		}
		batches = append(batches, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	sort.Strings(batches)
	return batches, nil
}

func (p *DirProvider) GetBatch(ctx context.Context, stageRef string, batchRef string) ([]RecordEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, stageID := ParseStageRef(stageRef)

	file, err := os.Open(filepath.Join(p.root, stageID, filepath.FromSlash(batchRef)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Code: CodeStageNotFound, Err: err}
		}
		return nil, fmt.Errorf("open batch: %w", err)
	}
	defer file.Close()
	return DecodeJSONLines(file)
}

// FinalizeStage removes the stage directory.
func (p *DirProvider) FinalizeStage(ctx context.Context, stageRef string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, stageID := ParseStageRef(stageRef)
	if stageID == "" {
		return nil
	}

	p.mu.Lock()
	for key := range p.seq {
		if filepath.Dir(key) == stageID {
			delete(p.seq, key)
		}
	}
	p.mu.Unlock()
	return os.RemoveAll(filepath.Join(p.root, stageID))
}
