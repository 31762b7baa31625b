package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

func skipIfNoDatabase(t *testing.T) string {
	t.Helper()
	url := os.Getenv("UCL_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("Skipping integration test: UCL_TEST_POSTGRES_URL not set")
	}
	return url
}

func usersSchema() *endpoint.Schema {
	return &endpoint.Schema{
		Slug: "users",
		Fields: []*endpoint.FieldDefinition{
			{Name: "id", Types: []endpoint.ValueType{endpoint.ValueInteger}},
			{Name: "score", Types: []endpoint.ValueType{endpoint.ValueNull, endpoint.ValueNumber}},
			{Name: "tags", Types: []endpoint.ValueType{endpoint.ValueArray}},
			{Name: "seen", Types: []endpoint.ValueType{endpoint.ValueDateTime}},
		},
	}
}

func TestParseConfig(t *testing.T) {
	cfg := ParseConfig(&endpoint.ConnectorConfig{
		Connection:    map[string]any{"dsn": " postgres://db/crm "},
		Configuration: map[string]any{"tablePrefix": "crm_", "schema": "lake"},
	})
	assert.Equal(t, "postgres://db/crm", cfg.URL)
	assert.Equal(t, "lake", cfg.Schema)
	assert.Equal(t, "crm_", cfg.TablePrefix)
	assert.Equal(t, defaultStateTable, cfg.StateTable)

	err := ParseConfig(nil).Validate()
	var coded *Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, CodeConfig, coded.Code)
}

func TestColumnsFor_UsesFirstNonNullType(t *testing.T) {
	cols := columnsFor(usersSchema())
	require.Len(t, cols, 4)
	assert.Equal(t, endpoint.ValueNumber, cols[1].valueType)

	ddl := createTableSQL(pgx.Identifier{"public", "users"}, cols)
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "public"."users" ("id" bigint, "score" double precision, "tags" jsonb, "seen" timestamptz)`, ddl)
	assert.Equal(t, `"id", "score", "tags", "seen"`, quotedList(cols))
}

func TestStageName(t *testing.T) {
	assert.Equal(t, "_ucl_stage_order_lines_ab12", stageName("Order-Lines", "ab12"))
	long := stageName("x_very_long_schema_slug_that_keeps_going_and_going_forever", "abcd1234")
	assert.LessOrEqual(t, len(long), 63)
}

func TestRowValues(t *testing.T) {
	cols := columnsFor(usersSchema())
	row, err := rowValues(cols, endpoint.Record{
		"id":    json.Number("42"),
		"score": nil,
		"tags":  []any{"a"},
		"seen":  "2024-05-01T10:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), row[0])
	assert.Nil(t, row[1])
	assert.Equal(t, json.RawMessage(`["a"]`), row[2])
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), row[3])

	_, err = rowValues(cols, endpoint.Record{"id": 1.5})
	var coded *Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, CodeValue, coded.Code)
}

func TestConvert_StringFallbacks(t *testing.T) {
	v, err := convert(endpoint.ValueString, map[string]any{"k": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"k":1}`, v)

	v, err = convert(endpoint.ValueBoolean, "true")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	_, err = convert(endpoint.ValueBoolean, 3)
	assert.Error(t, err)
}

func TestCommitStatements(t *testing.T) {
	key := endpoint.CommitKey{
		"schema":  "users",
		"target":  []string{"public", "users"},
		"stage":   []string{"public", "_ucl_stage_users_1"},
		"columns": []string{"id"},
		"method":  string(endpoint.UpdateMethodBatchFullSet),
	}
	stmts, err := commitStatements(key)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`TRUNCATE "public"."users"`,
		`INSERT INTO "public"."users" ("id") SELECT "id" FROM "public"."_ucl_stage_users_1"`,
		`DROP TABLE "public"."_ucl_stage_users_1"`,
	}, stmts)

	key["method"] = string(endpoint.UpdateMethodAppendOnly)
	stmts, err = commitStatements(key)
	require.NoError(t, err)
	assert.Len(t, stmts, 2)

	_, err = commitStatements(endpoint.CommitKey{"schema": "users"})
	assert.Error(t, err)
}

func TestSink_Integration(t *testing.T) {
	url := skipIfNoDatabase(t)
	ctx := context.Background()

	prefix := fmt.Sprintf("t%d_", time.Now().UnixNano())
	cc := &endpoint.ConnectorConfig{
		Connection:    map[string]any{"url": url},
		Configuration: map[string]any{"tablePrefix": prefix, "stateTable": prefix + "state"},
	}
	sink := NewSink()
	defer sink.Close()

	write := func(method endpoint.UpdateMethod, ids ...int64) {
		w, err := sink.GetWriteable(ctx, usersSchema(), cc, method)
		require.NoError(t, err)
		batch := make([]endpoint.RecordContext, len(ids))
		for i, id := range ids {
			batch[i] = endpoint.RecordContext{Record: endpoint.Record{"id": id, "tags": []any{}, "seen": "2024-01-01T00:00:00Z"}}
		}
		require.NoError(t, w.Writable.Write(ctx, batch))
		require.NoError(t, w.Writable.Close(ctx))
		require.NoError(t, sink.CommitAfterWrites(ctx, w.GetCommitKeys(), cc))
	}

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	defer pool.Close()
	table := pgx.Identifier{"public", prefix + "users"}.Sanitize()
	defer pool.Exec(ctx, "DROP TABLE IF EXISTS "+table)
	defer pool.Exec(ctx, "DROP TABLE IF EXISTS "+pgx.Identifier{"public", prefix + "state"}.Sanitize())

	count := func() int {
		var n int
		require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM "+table).Scan(&n))
		return n
	}

	write(endpoint.UpdateMethodBatchFullSet, 1, 2, 3)
	assert.Equal(t, 3, count())
	write(endpoint.UpdateMethodAppendOnly, 4)
	assert.Equal(t, 4, count())
	write(endpoint.UpdateMethodBatchFullSet, 9)
	assert.Equal(t, 1, count())

	key := endpoint.SinkStateKey{CatalogSlug: "acme", PackageSlug: "crm", PackageMajorVersion: 1}
	prior, err := sink.GetSinkState(ctx, cc, key)
	require.NoError(t, err)
	assert.Nil(t, prior)

	state := &endpoint.SinkState{StreamSets: map[string]*endpoint.StreamSetState{}}
	require.NoError(t, sink.SaveSinkState(ctx, cc, key, state))
	require.NoError(t, sink.SaveSinkState(ctx, cc, key, state))

	// A second sink that read an older version loses the race.
	other := NewSink()
	defer other.Close()
	_, err = other.GetSinkState(ctx, cc, key)
	require.NoError(t, err)
	require.NoError(t, sink.SaveSinkState(ctx, cc, key, state))
	err = other.SaveSinkState(ctx, cc, key, state)
	var coded *Error
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, CodeStateConflict, coded.Code)

	// A sink that never read the key saves against the stored version.
	fresh := NewSink()
	defer fresh.Close()
	require.NoError(t, fresh.SaveSinkState(ctx, cc, key, state))
	require.NoError(t, fresh.SaveSinkState(ctx, cc, key, state))
	saved, err := sink.GetSinkState(ctx, cc, key)
	require.NoError(t, err)
	assert.NotNil(t, saved)
}
