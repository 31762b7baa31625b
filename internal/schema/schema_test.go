package schema_test

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/ucl-sync/internal/endpoint"
	"github.com/nucleus/ucl-sync/internal/schema"
)

func types(ts ...endpoint.ValueType) []endpoint.ValueType { return ts }

func TestInfer_WidensTypesAndNulls(t *testing.T) {
	s := schema.Infer("users", []endpoint.Record{
		{"id": 1.0, "name": "a"},
		{"id": 2.5, "name": "b", "email": "b@x"},
		{"id": "3", "name": nil},
	})

	require.Len(t, s.Fields, 3)
	assert.ElementsMatch(t, types(endpoint.ValueInteger, endpoint.ValueNumber, endpoint.ValueString), s.Field("id").Types)
	assert.ElementsMatch(t, types(endpoint.ValueString, endpoint.ValueNull), s.Field("name").Types)
	assert.ElementsMatch(t, types(endpoint.ValueNull, endpoint.ValueString), s.Field("email").Types)
}

func TestFindConflicts(t *testing.T) {
	schemas := []*endpoint.Schema{
		{Slug: "users", Fields: []*endpoint.FieldDefinition{
			{Name: "id", Types: types(endpoint.ValueInteger, endpoint.ValueNumber)},
			{Name: "zip", Types: types(endpoint.ValueInteger, endpoint.ValueString, endpoint.ValueNull)},
			{Name: "seen", Types: types(endpoint.ValueDate, endpoint.ValueDateTime)},
		}},
		{Slug: "orders", Fields: []*endpoint.FieldDefinition{
			{Name: "paid", Types: types(endpoint.ValueBoolean, endpoint.ValueInteger)},
		}},
	}

	conflicts := schema.FindConflicts(schemas)
	require.Len(t, conflicts, 2)

	assert.Equal(t, "users.zip", conflicts[0].ParameterName())
	assert.Equal(t, types(endpoint.ValueInteger, endpoint.ValueString), conflicts[0].Types)
	assert.Equal(t, schema.CastToString, conflicts[0].Suggested)
	assert.Contains(t, conflicts[0].Options, schema.CastToNumber)

	assert.Equal(t, "orders.paid", conflicts[1].ParameterName())
	assert.Equal(t, schema.CastToNumber, conflicts[1].Suggested)
	assert.NotContains(t, conflicts[1].Options, schema.CastToDate)
}

func TestApply_CastRewritesSchemaAndRecords(t *testing.T) {
	s := &endpoint.Schema{Slug: "users", Fields: []*endpoint.FieldDefinition{
		{Name: "id", Types: types(endpoint.ValueInteger)},
		{Name: "zip", Types: types(endpoint.ValueInteger, endpoint.ValueString)},
		{Name: "junk", Types: types(endpoint.ValueObject, endpoint.ValueString)},
	}}

	out, transform, err := schema.Apply(s, map[string]schema.DeconflictOption{
		"zip":  schema.CastToString,
		"junk": schema.Skip,
	})
	require.NoError(t, err)
	require.NotNil(t, transform)

	require.Len(t, out.Fields, 2)
	assert.Equal(t, types(endpoint.ValueString, endpoint.ValueNull), out.Field("zip").Types)
	assert.Nil(t, out.Field("junk"))
	// original left untouched
	assert.Len(t, s.Fields, 3)

	res, err := transform(endpoint.RecordContext{
		SchemaSlug: "users",
		Record:     endpoint.Record{"id": 1, "zip": 90210, "junk": map[string]any{"a": 1}},
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, endpoint.Record{"id": 1, "zip": "90210"}, res[0].Record)
}

func TestApply_SplitColumns(t *testing.T) {
	s := &endpoint.Schema{Slug: "events", Fields: []*endpoint.FieldDefinition{
		{Name: "value", Types: types(endpoint.ValueInteger, endpoint.ValueNumber, endpoint.ValueString)},
	}}

	out, transform, err := schema.Apply(s, map[string]schema.DeconflictOption{"value": schema.SplitColumns})
	require.NoError(t, err)
	require.Len(t, out.Fields, 2)
	assert.Equal(t, "value_number", out.Fields[0].Name)
	assert.Equal(t, "value_string", out.Fields[1].Name)

	res, err := transform(endpoint.RecordContext{Record: endpoint.Record{"value": 3}})
	require.NoError(t, err)
	assert.Equal(t, endpoint.Record{"value_number": 3}, res[0].Record)

	res, err = transform(endpoint.RecordContext{Record: endpoint.Record{"value": "n/a"}})
	require.NoError(t, err)
	assert.Equal(t, endpoint.Record{"value_string": "n/a"}, res[0].Record)
}

func TestApply_UnknownOption(t *testing.T) {
	s := &endpoint.Schema{Slug: "x", Fields: []*endpoint.FieldDefinition{{Name: "a"}}}
	_, _, err := schema.Apply(s, map[string]schema.DeconflictOption{"a": "CAST_TO_BLOB"})
	assert.Error(t, err)
}

func TestCast(t *testing.T) {
	day := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		option schema.DeconflictOption
		in     any
		want   any
	}{
		{schema.CastToString, 1.5, "1.5"},
		{schema.CastToString, map[string]any{"a": 1.0}, `{"a":1}`},
		{schema.CastToNumber, "1,200.5", 1200.5},
		{schema.CastToNumber, "abc", nil},
		{schema.CastToInteger, 7.9, int64(7)},
		{schema.CastToInteger, true, int64(1)},
		{schema.CastToInteger, "-12.7", int64(-12)},
		{schema.CastToInteger, json.Number("9007199254740993"), int64(9007199254740993)},
		{schema.CastToInteger, "9223372036854775807", int64(math.MaxInt64)},
		{schema.CastToInteger, uint64(math.MaxUint64), nil},
		{schema.CastToInteger, 1e20, nil},
		{schema.CastToInteger, "-1e30", nil},
		{schema.CastToInteger, math.NaN(), nil},
		{schema.CastToBoolean, "yes", true},
		{schema.CastToBoolean, 0, false},
		{schema.CastToBoolean, "maybe", nil},
		{schema.CastToDate, "2024-03-09T17:30:00Z", day},
		{schema.CastToDateTime, "not a date", nil},
		{schema.CastToNull, "anything", nil},
	}
	for _, tt := range tests {
		got, err := schema.Cast(tt.option, tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s(%v)", tt.option, tt.in)
	}
}

func TestChoicesFromConfig(t *testing.T) {
	choices, err := schema.ChoicesFromConfig(map[string]any{
		schema.ConfigKey: map[string]any{
			"users": map[string]any{"zip": "CAST_TO_STRING"},
		},
	})
	require.NoError(t, err)
	o, ok := choices.Get("users", "zip")
	assert.True(t, ok)
	assert.Equal(t, schema.CastToString, o)

	roundTrip, err := schema.ChoicesFromConfig(map[string]any{schema.ConfigKey: choices.ToConfig()})
	require.NoError(t, err)
	assert.Equal(t, choices, roundTrip)

	_, err = schema.ChoicesFromConfig(map[string]any{
		schema.ConfigKey: map[string]any{"users": map[string]any{"zip": "NOPE"}},
	})
	assert.Error(t, err)
}
