package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"go.temporal.io/sdk/client"

	"github.com/nucleus/ucl-sync/internal/activities"
	"github.com/nucleus/ucl-sync/internal/config"
	"github.com/nucleus/ucl-sync/internal/endpoint"
	"github.com/nucleus/ucl-sync/internal/logger"
	"github.com/nucleus/ucl-sync/internal/orchestration"
)

func newSynchronizer(cfg *config.Config, log *slog.Logger) *orchestration.Synchronizer {
	return orchestration.NewSynchronizer(
		orchestration.WithBatchSize(cfg.BatchSize),
		orchestration.WithProgressInterval(cfg.ProgressInterval),
		orchestration.WithStallWarningAfter(cfg.StallWarningAfter),
		orchestration.WithLogger(log),
	)
}

func loadJob(cmd *cli.Command) (*config.Job, error) {
	path := cmd.Args().First()
	if path == "" {
		return nil, fmt.Errorf("%s: job file argument is required", cmd.Name)
	}
	return config.LoadJob(path)
}

func runCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "run a job to completion; Ctrl-C stops early and still commits",
		ArgsUsage: "<job.yaml>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "batch-size", Usage: "records per writable batch", Value: int64(cfg.BatchSize)},
			&cli.BoolFlag{Name: "skip-if-up-to-date", Usage: "finish without reading when nothing changed"},
			&cli.BoolFlag{Name: "interactive", Usage: "ask before resolving schema conflicts"},
			&cli.StringFlag{Name: "run-id", Usage: "operation ID; generated when empty"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			job, err := loadJob(cmd)
			if err != nil {
				return err
			}
			if cmd.IsSet("skip-if-up-to-date") {
				job.SkipIfUpToDate = cmd.Bool("skip-if-up-to-date")
			}
			if job.BatchSize == 0 || cmd.IsSet("batch-size") {
				job.BatchSize = int(cmd.Int("batch-size"))
			}
			runID := cmd.String("run-id")
			if runID == "" {
				runID = "run-" + uuid.NewString()
			}
			log := logger.Component("cli").With("runId", runID, "job", job.Name)

			req, cleanup, err := orchestration.Prepare(ctx, nil, job, log)
			if err != nil {
				return err
			}
			defer cleanup()

			req.Callbacks.Progress = func(s orchestration.FetchStreamStatus) {
				log.Info("progress", "records", s.RecordsRead, "written", s.RecordsWritten, "bytes", s.BytesRead, "percent", s.PercentComplete)
			}
			req.Callbacks.Finish = func(message string, records int64, outcome orchestration.Outcome) {
				log.Info(message, "records", records, "outcome", outcome)
			}
			if cmd.Bool("interactive") {
				req.Callbacks.Prompt = stdinPrompt(os.Stdin, cmd.Root().Writer)
			}

			mgr := orchestration.NewManager(newSynchronizer(cfg, log))
			res, runErr := mgr.Run(ctx, runID, req)

			op, _ := mgr.Get(context.WithoutCancel(ctx), runID)
			if err := saveOperation(cfg.StateDir, op); err != nil {
				log.Warn("could not record operation", "error", err)
			}
			if runErr != nil {
				return runErr
			}
			return printJSON(cmd.Root().Writer, res)
		},
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "list the stream sets and streams a job's source exposes",
		ArgsUsage: "<job.yaml>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			job, err := loadJob(cmd)
			if err != nil {
				return err
			}
			src, err := endpoint.DefaultRegistry().CreateSource(job.Source.Template)
			if err != nil {
				return err
			}
			if c, ok := src.(endpoint.Closer); ok {
				defer c.Close()
			}
			res, err := src.InspectURIs(ctx, job.Source.ConnectorConfig(), &endpoint.JobContext{Logger: logger.Component("cli")})
			if err != nil {
				return err
			}
			return printJSON(cmd.Root().Writer, summarize(res))
		},
	}
}

type streamView struct {
	Name            string `json:"name"`
	UpdateHash      string `json:"updateHash,omitempty"`
	ExpectedBytes   int64  `json:"expectedBytes,omitempty"`
	ExpectedRecords int64  `json:"expectedRecords,omitempty"`
}

type streamSetView struct {
	Slug          string                  `json:"slug"`
	UpdateMethods []endpoint.UpdateMethod `json:"updateMethods"`
	Lazy          bool                    `json:"lazy,omitempty"`
	Streams       []streamView            `json:"streams,omitempty"`
}

// summarize lists eager stream summaries only; lazy stream sets are not
// advanced because that would open their streams.
func summarize(res *endpoint.InspectionResults) []streamSetView {
	var out []streamSetView
	for _, p := range res.StreamSetPreviews {
		view := streamSetView{Slug: p.Slug, UpdateMethods: p.SupportedUpdateMethods, Lazy: p.StreamSummaries == nil}
		for _, s := range p.StreamSummaries {
			view.Streams = append(view.Streams, streamView{
				Name:            s.Name,
				UpdateHash:      s.UpdateHash,
				ExpectedBytes:   s.ExpectedBytesTotal,
				ExpectedRecords: s.ExpectedRecordsTotal,
			})
		}
		out = append(out, view)
	}
	return out
}

func stateCommand() *cli.Command {
	return &cli.Command{
		Name:      "state",
		Usage:     "print the sink state recorded for a job's package",
		ArgsUsage: "<job.yaml>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			job, err := loadJob(cmd)
			if err != nil {
				return err
			}
			sink, err := endpoint.DefaultRegistry().CreateSink(job.Sink.Template)
			if err != nil {
				return err
			}
			if c, ok := sink.(endpoint.Closer); ok {
				defer c.Close()
			}
			state, err := sink.GetSinkState(ctx, job.Sink.ConnectorConfig(), job.PackageFile().StateKey())
			if err != nil {
				return err
			}
			if state == nil {
				_, err = fmt.Fprintln(cmd.Root().Writer, "no state recorded")
				return err
			}
			return printJSON(cmd.Root().Writer, state)
		},
	}
}

func statusCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "show the recorded outcome of a previous run",
		ArgsUsage: "<run-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return errors.New("status: run id is required")
			}
			raw, err := os.ReadFile(operationPath(cfg.StateDir, id))
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("run %s not found in %s", id, cfg.StateDir)
			}
			if err != nil {
				return err
			}
			_, err = cmd.Root().Writer.Write(raw)
			return err
		},
	}
}

func connectorsCommand() *cli.Command {
	return &cli.Command{
		Name:  "connectors",
		Usage: "list registered sources, sinks and parsers",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			reg := endpoint.DefaultRegistry()
			return printJSON(cmd.Root().Writer, map[string][]string{
				"sources": reg.Sources(),
				"sinks":   reg.Sinks(),
				"parsers": reg.Parsers(),
			})
		},
	}
}

func submitCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "start the job as a Temporal workflow on the worker task queue",
		ArgsUsage: "<job.yaml>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "wait", Usage: "block until the workflow completes"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			job, err := loadJob(cmd)
			if err != nil {
				return err
			}
			c, err := client.Dial(client.Options{
				HostPort:  cfg.TemporalAddress,
				Namespace: cfg.TemporalNamespace,
				Logger:    logger.NewTemporalLogger(),
			})
			if err != nil {
				return fmt.Errorf("connect to temporal: %w", err)
			}
			defer c.Close()

			id := "ucl-sync-" + job.Name + "-" + uuid.NewString()[:8]
			run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
				ID:        id,
				TaskQueue: cfg.TaskQueue,
			}, activities.SyncWorkflowName, activities.RunSyncRequest{RunID: id, Job: job})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.Root().Writer, "started workflow %s (run %s)\n", run.GetID(), run.GetRunID())
			if !cmd.Bool("wait") {
				return nil
			}
			var res activities.RunSyncResult
			if err := run.Get(ctx, &res); err != nil {
				return err
			}
			return printJSON(cmd.Root().Writer, res)
		},
	}
}

// stdinPrompt asks each question on w and reads answers from r. An empty
// answer keeps the default.
func stdinPrompt(r io.Reader, w io.Writer) func(context.Context, []orchestration.Parameter) (map[string]string, error) {
	scanner := bufio.NewScanner(r)
	return func(ctx context.Context, params []orchestration.Parameter) (map[string]string, error) {
		answers := make(map[string]string, len(params))
		for _, p := range params {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			fmt.Fprintf(w, "%s [%s] (default %s): ", p.Message, strings.Join(p.Options, "/"), p.Default)
			if !scanner.Scan() {
				break
			}
			if answer := strings.TrimSpace(scanner.Text()); answer != "" {
				answers[p.Name] = answer
			}
		}
		return answers, scanner.Err()
	}
}

func operationPath(dir, id string) string {
	return filepath.Join(dir, "runs", filepath.Base(id)+".json")
}

func saveOperation(dir string, op *orchestration.OperationState) error {
	if op == nil || dir == "" {
		return nil
	}
	path := operationPath(dir, op.OperationID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(struct {
		*orchestration.OperationState
		RecordedAt time.Time `json:"recordedAt"`
	}{op, time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
