package parser

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

func collect(t *testing.T, it endpoint.Iterator[endpoint.RecordContext]) []endpoint.RecordContext {
	t.Helper()
	defer it.Close()
	var out []endpoint.RecordContext
	for it.Next() {
		out = append(out, it.Value())
	}
	require.NoError(t, it.Err())
	return out
}

func TestJSONL_Parse(t *testing.T) {
	input := `{"id": 1, "score": 2.5, "tags": ["a"], "big": 9007199254740993}

{"id": 2, "nested": {"n": 3}}
`
	it, err := JSONL{}.Parse(context.Background(), strings.NewReader(input), "users")
	require.NoError(t, err)
	records := collect(t, it)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "users", first.SchemaSlug)
	assert.Equal(t, int64(1), *first.Offset)
	assert.Equal(t, int64(1), first.Record["id"])
	assert.Equal(t, 2.5, first.Record["score"])
	assert.Equal(t, int64(9007199254740993), first.Record["big"])

	second := records[1]
	assert.Equal(t, int64(3), *second.Offset)
	assert.Equal(t, map[string]any{"n": int64(3)}, second.Record["nested"])
}

func TestJSONL_ReportsBadLine(t *testing.T) {
	it, err := JSONL{}.Parse(context.Background(), strings.NewReader("{\"id\":1}\n[1,2]\n"), "users")
	require.NoError(t, err)
	assert.True(t, it.Next())
	assert.False(t, it.Next())
	require.Error(t, it.Err())
	assert.Contains(t, it.Err().Error(), "line 2")
}

func TestJSONL_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	it, err := JSONL{}.Parse(ctx, strings.NewReader("{\"id\":1}\n"), "users")
	require.NoError(t, err)
	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), context.Canceled)
}

func TestCSV_Parse(t *testing.T) {
	input := "\ufeffid,name,email\n1,Ada,\n2,\"Lovelace, Ada\",ada@example.com\n"
	it, err := CSV{}.Parse(context.Background(), strings.NewReader(input), "people")
	require.NoError(t, err)
	records := collect(t, it)
	require.Len(t, records, 2)

	assert.Equal(t, "1", records[0].Record["id"])
	assert.Nil(t, records[0].Record["email"])
	assert.Equal(t, "Lovelace, Ada", records[1].Record["name"])
	assert.Equal(t, int64(2), *records[1].Offset)
}

func TestCSV_EmptyInput(t *testing.T) {
	it, err := CSV{}.Parse(context.Background(), strings.NewReader(""), "people")
	require.NoError(t, err)
	assert.Empty(t, collect(t, it))
}

func TestRegisteredParsers(t *testing.T) {
	reg := endpoint.DefaultRegistry()
	for _, id := range []string{"jsonl", "csv", "tsv"} {
		p, err := reg.CreateParser(id)
		require.NoError(t, err, id)
		assert.Equal(t, id, p.ID())
	}
	p, err := reg.ParserForMimeType("text/csv")
	require.NoError(t, err)
	assert.Equal(t, "csv", p.ID())
}

func TestForPath(t *testing.T) {
	tests := map[string]string{
		"data/users.jsonl":  "jsonl",
		"data/USERS.NDJSON": "jsonl",
		"orders.csv.gz":     "csv",
		"events.tsv":        "tsv",
	}
	for path, want := range tests {
		got, ok := ForPath(path)
		if !ok || got != want {
			t.Errorf("ForPath(%q) = %q, %v; want %q", path, got, ok, want)
		}
	}
	if _, ok := ForPath("image.png"); ok {
		t.Error("ForPath(image.png) should not match")
	}
}
