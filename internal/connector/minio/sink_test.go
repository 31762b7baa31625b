package minio

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/ucl-sync/internal/endpoint"
	"github.com/nucleus/ucl-sync/pkg/staging"
)

func testConfig(root string, extra map[string]any) *endpoint.ConnectorConfig {
	cc := &endpoint.ConnectorConfig{
		Connection:    map[string]any{"rootPath": root, "bucket": "lake", "basePrefix": "crm"},
		Configuration: map[string]any{},
	}
	for k, v := range extra {
		cc.Configuration[k] = v
	}
	return cc
}

var users = &endpoint.Schema{
	Slug: "users",
	Fields: []*endpoint.FieldDefinition{
		{Name: "id", Types: []endpoint.ValueType{endpoint.ValueInteger}},
		{Name: "name", Types: []endpoint.ValueType{endpoint.ValueString, endpoint.ValueNull}},
	},
}

func userRecords(from, to int) []endpoint.RecordContext {
	var out []endpoint.RecordContext
	for i := from; i <= to; i++ {
		out = append(out, endpoint.RecordContext{
			Record:     endpoint.Record{"id": int64(i), "name": "user"},
			SchemaSlug: "users",
			Offset:     endpoint.Int64(int64(i)),
			StreamName: "users.jsonl",
		})
	}
	return out
}

// writeRun drives one schema chain the way the engine does.
func writeRun(t *testing.T, s *Sink, cc *endpoint.ConnectorConfig, method endpoint.UpdateMethod, records []endpoint.RecordContext) []endpoint.CommitKey {
	t.Helper()
	ctx := context.Background()
	wc, err := s.GetWriteable(ctx, users, cc, method)
	require.NoError(t, err)
	require.NoError(t, wc.Writable.Write(ctx, records))
	require.NoError(t, wc.Writable.Close(ctx))
	keys := wc.GetCommitKeys()
	require.NoError(t, s.CommitAfterWrites(ctx, keys, cc))
	return keys
}

func TestSink_BatchReplacesPreviousParts(t *testing.T) {
	for _, provider := range []string{staging.ProviderMinIO, staging.ProviderMemory} {
		t.Run(provider, func(t *testing.T) {
			ctx := context.Background()
			root := t.TempDir()
			cc := testConfig(root, map[string]any{"staging": provider})
			store := NewLocalStore(root)

			keys := writeRun(t, NewSink(), cc, endpoint.UpdateMethodBatchFullSet, userRecords(1, 3))
			assert.Equal(t, int64(3), keys[0]["records"])

			first, err := readManifest(ctx, store, "lake", manifestKey("crm", "users"))
			require.NoError(t, err)
			require.NotNil(t, first)
			require.Len(t, first.Parts, 1)
			assert.Equal(t, int64(3), first.Records)
			assert.True(t, strings.HasSuffix(first.Parts[0].Key, ".jsonl.gz"))

			writeRun(t, NewSink(), cc, endpoint.UpdateMethodBatchFullSet, userRecords(1, 2))
			second, err := readManifest(ctx, store, "lake", manifestKey("crm", "users"))
			require.NoError(t, err)
			require.Len(t, second.Parts, 1)
			assert.Equal(t, int64(2), second.Records)
			assert.NotEqual(t, first.Version, second.Version)

			_, err = store.GetObject(ctx, "lake", first.Parts[0].Key)
			assert.True(t, isNotFound(err), "replaced part is removed")

			staged, err := store.ListPrefix(ctx, "lake", "crm/_staging/")
			require.NoError(t, err)
			assert.Empty(t, staged)
		})
	}
}

func TestSink_AppendKeepsPreviousParts(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	cc := testConfig(root, nil)

	writeRun(t, NewSink(), cc, endpoint.UpdateMethodAppendOnly, userRecords(1, 3))
	writeRun(t, NewSink(), cc, endpoint.UpdateMethodAppendOnly, userRecords(4, 5))

	m, err := readManifest(ctx, NewLocalStore(root), "lake", manifestKey("crm", "users"))
	require.NoError(t, err)
	assert.Len(t, m.Parts, 2)
	assert.Equal(t, int64(5), m.Records)
	assert.Equal(t, endpoint.UpdateMethodAppendOnly, m.Method)
}

func TestSink_AbortLeavesNothingVisible(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	cc := testConfig(root, nil)
	store := NewLocalStore(root)

	s := NewSink()
	wc, err := s.GetWriteable(ctx, users, cc, endpoint.UpdateMethodBatchFullSet)
	require.NoError(t, err)
	require.NoError(t, wc.Writable.Write(ctx, userRecords(1, 4)))

	staged, err := store.ListPrefix(ctx, "lake", "crm/_staging/")
	require.NoError(t, err)
	assert.Len(t, staged, 1)

	require.NoError(t, wc.Writable.(endpoint.Aborter).Abort(ctx))
	staged, err = store.ListPrefix(ctx, "lake", "crm/_staging/")
	require.NoError(t, err)
	assert.Empty(t, staged)

	m, err := readManifest(ctx, store, "lake", manifestKey("crm", "users"))
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestSink_StateRoundTrip(t *testing.T) {
	ctx := context.Background()
	cc := testConfig(t.TempDir(), nil)
	s := NewSink()
	key := endpoint.SinkStateKey{CatalogSlug: "acme", PackageSlug: "crm", PackageMajorVersion: 2}

	got, err := s.GetSinkState(ctx, cc, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	state := endpoint.NewSinkState("2.0.0")
	st := state.StreamSet("exports").Stream("users.jsonl")
	st.UpdateHash = "h1"
	st.Schema("users").LastOffset = endpoint.Int64(7)
	require.NoError(t, s.SaveSinkState(ctx, cc, key, state))

	got, err = s.GetSinkState(ctx, cc, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "h1", got.StreamSets["exports"].StreamStates["users.jsonl"].UpdateHash)
	assert.Equal(t, int64(7), *got.StreamSets["exports"].StreamStates["users.jsonl"].LastOffset("users"))
}

func TestSink_Parquet(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	cc := testConfig(root, map[string]any{"format": "parquet"})

	s := NewSink()
	assert.True(t, s.IsStronglyTyped(cc))
	assert.False(t, s.IsStronglyTyped(testConfig(root, nil)))

	writeRun(t, s, cc, endpoint.UpdateMethodBatchFullSet, userRecords(1, 3))
	m, err := readManifest(ctx, NewLocalStore(root), "lake", manifestKey("crm", "users"))
	require.NoError(t, err)
	require.Len(t, m.Parts, 1)
	assert.True(t, strings.HasSuffix(m.Parts[0].Key, ".parquet"))

	data, err := NewLocalStore(root).GetObject(ctx, "lake", m.Parts[0].Key)
	require.NoError(t, err)
	assert.Equal(t, "PAR1", string(data[:4]))
}

func TestSink_UnknownStagingProvider(t *testing.T) {
	_, err := NewSink().GetWriteable(context.Background(), users, testConfig(t.TempDir(), map[string]any{"staging": "tape"}), endpoint.UpdateMethodBatchFullSet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tape")
}

func TestBuildParquetSchema(t *testing.T) {
	got := buildParquetSchema(users)
	assert.Contains(t, got, "name=id, type=INT64")
	assert.Contains(t, got, "name=name, type=BYTE_ARRAY, convertedtype=UTF8")
}

func TestConfig_Validate(t *testing.T) {
	cfg := ParseConfig(&endpoint.ConnectorConfig{Connection: map[string]any{"endpointUrl": "http://localhost:9000"}})
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, CodeAuthInvalid, err.(*Error).CodeValue())

	cfg = ParseConfig(&endpoint.ConnectorConfig{Configuration: map[string]any{"format": "avro"}})
	err = cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, CodeUnsupportedFormat, err.(*Error).Code)

	cfg = ParseConfig(nil)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, defaultBucket, cfg.Bucket)
	assert.Equal(t, staging.ProviderMinIO, cfg.Staging)
}
