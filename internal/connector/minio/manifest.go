package minio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

const (
	manifestName = "_current.json"
	stateRoot    = "_state"
)

// manifest is the per-schema publish point. Readers only trust parts it
// lists, so replacing it is the commit.
type manifest struct {
	Schema      string                `json:"schema"`
	Format      string                `json:"format"`
	Method      endpoint.UpdateMethod `json:"method"`
	Version     string                `json:"version"`
	CommittedAt time.Time             `json:"committedAt"`
	Records     int64                 `json:"records"`
	Parts       []part                `json:"parts"`
}

type part struct {
	Key     string `json:"key"`
	Records int64  `json:"records"`
	Bytes   int64  `json:"bytes"`
}

func (m *manifest) bytes() int64 {
	var n int64
	for _, p := range m.Parts {
		n += p.Bytes
	}
	return n
}

func manifestKey(base, schema string) string {
	return joinPath(base, schema, manifestName)
}

func stateKey(base string, key endpoint.SinkStateKey) string {
	return joinPath(base, stateRoot, key.String()+".json")
}

// isManifestKey reports whether key is a schema manifest rather than
// staging or state bookkeeping.
func isManifestKey(base, key string) bool {
	if !strings.HasSuffix(key, "/"+manifestName) {
		return false
	}
	rel := strings.TrimPrefix(key, base+"/")
	return !strings.HasPrefix(rel, stateRoot+"/") && !strings.HasPrefix(rel, stageRoot+"/")
}

func readManifest(ctx context.Context, store ObjectStore, bucket, key string) (*manifest, error) {
	data, err := store.GetObject(ctx, bucket, key)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, wrapError(CodeManifestInvalid, false, fmt.Errorf("%s: %w", key, err))
	}
	return &m, nil
}

func writeJSON(ctx context.Context, store ObjectStore, bucket, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return store.PutObject(ctx, bucket, key, data)
}

func isNotFound(err error) bool {
	var coded *Error
	return errors.As(err, &coded) && coded.Code == CodeObjectNotFound
}
