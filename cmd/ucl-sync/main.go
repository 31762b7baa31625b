// Command ucl-sync runs, inspects and schedules sync jobs described in YAML
// job files.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/nucleus/ucl-sync/internal/config"
	_ "github.com/nucleus/ucl-sync/internal/connector/all"
	"github.com/nucleus/ucl-sync/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(config.Load()).Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ucl-sync:", err)
		os.Exit(1)
	}
}

func newApp(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "ucl-sync",
		Usage: "move records from a source endpoint into a sink endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   cfg.LogLevel,
				Usage:   "debug, info, warn or error",
				Sources: cli.EnvVars("UCL_LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logger.SetLevel(cmd.String("log-level"))
			return ctx, nil
		},
		Commands: []*cli.Command{
			runCommand(cfg),
			inspectCommand(),
			stateCommand(),
			statusCommand(cfg),
			connectorsCommand(),
			submitCommand(cfg),
		},
	}
}
