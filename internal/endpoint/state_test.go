package endpoint_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

func TestNewRecordsAvailable(t *testing.T) {
	summaries := func(hashes ...string) []*endpoint.StreamSummary {
		out := make([]*endpoint.StreamSummary, 0, len(hashes))
		for i, h := range hashes {
			out = append(out, &endpoint.StreamSummary{Name: string(rune('a' + i)), UpdateHash: h})
		}
		return out
	}
	prior := &endpoint.StreamSetState{StreamStates: map[string]*endpoint.StreamState{
		"a": {UpdateHash: "h1"},
		"b": {UpdateHash: "h2"},
	}}

	tests := []struct {
		name    string
		preview *endpoint.StreamSetPreview
		prior   *endpoint.StreamSetState
		want    bool
	}{
		{"no prior state", &endpoint.StreamSetPreview{StreamSummaries: summaries("h1", "h2")}, nil, true},
		{"all hashes equal", &endpoint.StreamSetPreview{StreamSummaries: summaries("h1", "h2")}, prior, false},
		{"one hash changed", &endpoint.StreamSetPreview{StreamSummaries: summaries("h1", "h9")}, prior, true},
		{"hash missing on stream", &endpoint.StreamSetPreview{StreamSummaries: summaries("h1", "")}, prior, true},
		{"new stream", &endpoint.StreamSetPreview{StreamSummaries: summaries("h1", "h2", "h3")}, prior, true},
		{"prior hash cleared", &endpoint.StreamSetPreview{StreamSummaries: summaries("h1")},
			&endpoint.StreamSetState{StreamStates: map[string]*endpoint.StreamState{"a": {}}}, true},
		{"iterator preview", &endpoint.StreamSetPreview{
			MoveToNextStream: func(context.Context) (*endpoint.StreamSummary, error) { return nil, nil },
		}, prior, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, endpoint.NewRecordsAvailable(tt.preview, tt.prior))
		})
	}
}

func TestSinkState_CloneIsDeep(t *testing.T) {
	state := endpoint.NewSinkState("1.0.0")
	st := state.StreamSet("set").Stream("users.jsonl")
	st.UpdateHash = "abc"
	st.Schema("users").LastOffset = endpoint.Int64(7)

	clone := state.Clone()
	clone.StreamSet("set").Stream("users.jsonl").UpdateHash = "changed"
	*clone.StreamSet("set").Stream("users.jsonl").Schema("users").LastOffset = 99

	assert.Equal(t, "abc", st.UpdateHash)
	assert.Equal(t, int64(7), *st.Schema("users").LastOffset)
}

func TestSinkState_JSONLayout(t *testing.T) {
	state := endpoint.NewSinkState("2.1.0")
	state.Timestamp = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	state.StreamSet("default").Stream("s1").Schema("orders").LastOffset = endpoint.Int64(3)

	data, err := json.Marshal(state)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "2.1.0", raw["packageVersion"])
	sets := raw["streamSets"].(map[string]any)
	streams := sets["default"].(map[string]any)["streamStates"].(map[string]any)
	schemas := streams["s1"].(map[string]any)["schemaStates"].(map[string]any)
	assert.EqualValues(t, 3, schemas["orders"].(map[string]any)["lastOffset"])
}

func TestStreamSetState_ClearUpdateHashes(t *testing.T) {
	set := &endpoint.StreamSetState{}
	set.Stream("a").UpdateHash = "1"
	set.Stream("b").UpdateHash = "2"
	set.Stream("b").Schema("x").LastOffset = endpoint.Int64(5)

	set.ClearUpdateHashes()

	assert.Empty(t, set.Stream("a").UpdateHash)
	assert.Empty(t, set.Stream("b").UpdateHash)
	assert.Equal(t, int64(5), *set.Stream("b").LastOffset("x"))
}

func TestSkipThroughOffset(t *testing.T) {
	skip := endpoint.SkipThroughOffset(2)
	for _, tc := range []struct {
		offset *int64
		kept   int
	}{
		{endpoint.Int64(1), 0},
		{endpoint.Int64(2), 0},
		{endpoint.Int64(3), 1},
		{nil, 1},
	} {
		out, err := skip(endpoint.RecordContext{Offset: tc.offset})
		require.NoError(t, err)
		assert.Len(t, out, tc.kept)
	}
}
