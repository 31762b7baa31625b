package minio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

func readStream(t *testing.T, summary *endpoint.StreamSummary, prior *endpoint.StreamState) []endpoint.RecordContext {
	t.Helper()
	ctx := context.Background()
	st, err := summary.OpenStream(ctx, prior)
	require.NoError(t, err)
	defer st.Reader.Close()

	it, err := st.Parser.Parse(ctx, st.Reader, st.SchemaSlug)
	require.NoError(t, err)
	defer it.Close()

	var out []endpoint.RecordContext
	for it.Next() {
		rc := it.Value()
		keep := []endpoint.RecordContext{rc}
		for _, tr := range st.Transforms {
			keep, err = tr(rc)
			require.NoError(t, err)
		}
		out = append(out, keep...)
	}
	require.NoError(t, it.Err())
	return out
}

func TestSource_ReadsCommittedParts(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	cc := testConfig(root, nil)

	writeRun(t, NewSink(), cc, endpoint.UpdateMethodAppendOnly, userRecords(1, 3))
	writeRun(t, NewSink(), cc, endpoint.UpdateMethodAppendOnly, userRecords(4, 5))

	res, err := NewSource().InspectURIs(ctx, cc, nil)
	require.NoError(t, err)
	require.Len(t, res.StreamSetPreviews, 1)
	preview := res.StreamSetPreviews[0]
	assert.Equal(t, "lake", preview.Slug)
	assert.Equal(t, int64(5), preview.ExpectedRecordsTotal)
	require.Len(t, preview.StreamSummaries, 1, "state and staging objects are not streams")

	summary := preview.StreamSummaries[0]
	assert.Equal(t, "users", summary.Name)
	assert.NotEmpty(t, summary.UpdateHash)

	records := readStream(t, summary, nil)
	require.Len(t, records, 5)
	assert.Equal(t, int64(5), records[4].Record["id"])
	assert.Equal(t, "users", records[0].SchemaSlug)

	prior := &endpoint.StreamState{}
	prior.Schema("users").LastOffset = endpoint.Int64(3)
	assert.Len(t, readStream(t, summary, prior), 2)
}

func TestSource_ParquetPartsAreNotReadable(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	cc := testConfig(root, map[string]any{"format": "parquet"})
	writeRun(t, NewSink(), cc, endpoint.UpdateMethodBatchFullSet, userRecords(1, 2))

	res, err := NewSource().InspectURIs(ctx, cc, nil)
	require.NoError(t, err)
	_, err = res.StreamSetPreviews[0].StreamSummaries[0].OpenStream(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, CodeUnsupportedFormat, err.(*Error).Code)
}
