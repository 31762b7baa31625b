package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/ucl-sync/internal/config"
	"github.com/nucleus/ucl-sync/internal/logger"
	"github.com/nucleus/ucl-sync/internal/orchestration"
)

func writeJob(t *testing.T) (string, string) {
	t.Helper()
	in, out := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(in, "users.jsonl"), []byte("{\"id\":1}\n{\"id\":2}\n"), 0o600))
	job := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(job, []byte(`
name: users
package:
  catalog: acme
  slug: crm
  version: 1.0.0
  schemas:
    - slug: users
source:
  template: file
  connection:
    path: `+filepath.Join(in, "*.jsonl")+`
sink:
  template: file
  connection:
    dir: `+out+`
`), 0o600))
	return job, out
}

func run(t *testing.T, cfg *config.Config, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	app := newApp(cfg)
	app.Writer = &buf
	require.NoError(t, app.Run(context.Background(), append([]string{"ucl-sync"}, args...)))
	return buf.String()
}

func TestCLI_RunThenStatusAndState(t *testing.T) {
	cfg := &config.Config{BatchSize: 10, LogLevel: "error", StateDir: t.TempDir()}
	job, out := writeJob(t)

	var res struct {
		RecordsWritten int64
		UpdateMethod   string
	}
	require.NoError(t, json.Unmarshal([]byte(run(t, cfg, "run", "--run-id", "r1", job)), &res))
	assert.Equal(t, int64(2), res.RecordsWritten)
	assert.FileExists(t, filepath.Join(out, "users.jsonl"))

	var op struct {
		OperationID string `json:"operationId"`
		Status      string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(run(t, cfg, "status", "r1")), &op))
	assert.Equal(t, "r1", op.OperationID)
	assert.Equal(t, "SUCCEEDED", op.Status)

	state := run(t, cfg, "state", job)
	assert.Contains(t, state, `"packageVersion": "1.0.0"`)
}

func TestNewSynchronizer_UsesConfiguredBatchSize(t *testing.T) {
	s := newSynchronizer(&config.Config{BatchSize: 250}, logger.Component("test"))
	assert.Equal(t, 250, s.BatchSize())

	s = newSynchronizer(&config.Config{}, logger.Component("test"))
	assert.Equal(t, orchestration.DefaultBatchSize, s.BatchSize())
}

func TestCLI_InspectAndConnectors(t *testing.T) {
	cfg := &config.Config{LogLevel: "error"}
	job, _ := writeJob(t)

	var sets []streamSetView
	require.NoError(t, json.Unmarshal([]byte(run(t, cfg, "inspect", job)), &sets))
	require.Len(t, sets, 1)
	assert.Equal(t, "files", sets[0].Slug)
	require.Len(t, sets[0].Streams, 1)
	assert.Equal(t, "users.jsonl", sets[0].Streams[0].Name)

	listing := run(t, cfg, "connectors")
	for _, id := range []string{"file", "object.minio", "jdbc.postgres", "http.rest", "jsonl", "csv"} {
		assert.Contains(t, listing, `"`+id+`"`)
	}
}

func TestCLI_RequiresJobArgument(t *testing.T) {
	app := newApp(&config.Config{})
	app.Writer = &bytes.Buffer{}
	err := app.Run(context.Background(), []string{"ucl-sync", "run"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "job file argument is required"))
}

func TestStdinPrompt(t *testing.T) {
	var out bytes.Buffer
	ask := stdinPrompt(strings.NewReader("cast\n\n"), &out)
	answers, err := ask(context.Background(), []orchestration.Parameter{
		{Name: "users.age", Message: "age changed type", Options: []string{"cast", "skip"}, Default: "skip"},
		{Name: "users.name", Message: "name changed type", Options: []string{"cast", "skip"}, Default: "skip"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"users.age": "cast"}, answers)
	assert.Contains(t, out.String(), "age changed type [cast/skip] (default skip)")
}
