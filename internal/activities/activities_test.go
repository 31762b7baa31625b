package activities

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/nucleus/ucl-sync/internal/config"
	_ "github.com/nucleus/ucl-sync/internal/connector/all"
	"github.com/nucleus/ucl-sync/internal/endpoint"
	"github.com/nucleus/ucl-sync/internal/orchestration"
)

func fileJob(t *testing.T) (*config.Job, string) {
	t.Helper()
	in, out := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(in, "users.jsonl"), []byte("{\"id\":1}\n{\"id\":2}\n{\"id\":3}\n"), 0o600))
	return &config.Job{
		Name: "users",
		Package: config.PackageSpec{
			Catalog: "acme",
			Slug:    "crm",
			Version: "1.0.0",
			Schemas: []config.SchemaSpec{{Slug: "users", Fields: []config.FieldSpec{{Name: "id", Types: []string{"integer"}}}}},
		},
		Source:         config.EndpointSpec{Template: "file", Connection: map[string]any{"path": filepath.Join(in, "*.jsonl")}},
		Sink:           config.EndpointSpec{Template: "file", Connection: map[string]any{"dir": out}},
		SkipIfUpToDate: true,
	}, out
}

func testConfig() *config.Config {
	return &config.Config{BatchSize: 2}
}

func TestRunSync_Activity(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	acts := NewActivities(nil, testConfig())
	env.RegisterActivity(acts)

	job, out := fileJob(t)
	val, err := env.ExecuteActivity(acts.RunSync, RunSyncRequest{RunID: "run-1", Job: job})
	require.NoError(t, err)

	var res RunSyncResult
	require.NoError(t, val.Get(&res))
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, string(orchestration.OperationSucceeded), res.Status)
	assert.Equal(t, int64(3), res.RecordsWritten)
	assert.Equal(t, endpoint.UpdateMethodBatchFullSet, res.UpdateMethod)
	assert.FileExists(t, filepath.Join(out, "users.jsonl"))

	val, err = env.ExecuteActivity(acts.RunSync, RunSyncRequest{RunID: "run-2", Job: job})
	require.NoError(t, err)
	require.NoError(t, val.Get(&res))
	assert.True(t, res.UpToDate)
	assert.Zero(t, res.RecordsWritten)
}

func TestRunSync_ConfigurationErrorsAreNotRetried(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	acts := NewActivities(nil, testConfig())
	env.RegisterActivity(acts)

	job, _ := fileJob(t)
	job.Source.Template = "no-such-template"

	_, err := env.ExecuteActivity(acts.RunSync, RunSyncRequest{Job: job})
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, orchestration.CodeConfiguration, appErr.Type())
	assert.True(t, appErr.NonRetryable())

	_, err = env.ExecuteActivity(acts.RunSync, RunSyncRequest{})
	require.True(t, errors.As(err, &appErr))
	assert.True(t, appErr.NonRetryable())
}

func TestRunSync_LoadsJobFile(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	acts := NewActivities(nil, testConfig())
	env.RegisterActivity(acts)

	in, out := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(in, "orders.csv"), []byte("id,total\n1,9.5\n2,3\n"), 0o600))
	jobPath := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(jobPath, []byte(`
name: orders
package:
  catalog: acme
  slug: sales
  version: 1.0.0
  schemas:
    - slug: orders
source:
  template: file
  connection:
    path: `+filepath.Join(in, "*.csv")+`
sink:
  template: file
  connection:
    dir: `+out+`
`), 0o600))

	val, err := env.ExecuteActivity(acts.RunSync, RunSyncRequest{RunID: "run-file", JobPath: jobPath})
	require.NoError(t, err)
	var res RunSyncResult
	require.NoError(t, val.Get(&res))
	assert.Equal(t, int64(2), res.RecordsWritten)
}

func TestSyncWorkflow(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	acts := NewActivities(nil, testConfig())
	env.RegisterActivity(acts)

	job, _ := fileJob(t)
	env.ExecuteWorkflow(SyncWorkflow, RunSyncRequest{Job: job})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var res RunSyncResult
	require.NoError(t, env.GetWorkflowResult(&res))
	assert.Equal(t, int64(3), res.RecordsWritten)
	assert.NotEmpty(t, res.RunID)
}
