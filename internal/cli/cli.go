// Package cli wires the stepci commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dkoosis/stepci/internal/config"
	"github.com/dkoosis/stepci/internal/logging"
	"github.com/dkoosis/stepci/internal/runner"
	"github.com/dkoosis/stepci/internal/version"
)

// app holds what every command shares once the root Before hook has run.
type app struct {
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string

	configPath string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *slog.Logger
}

// Run executes the CLI and returns the process exit code. A failed job
// returns the exit code of its failing step.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return run(ctx, args, stdout, stderr, os.Getenv)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	a := &app{stdout: stdout, stderr: stderr, getenv: getenv}
	root := a.command()

	err := root.Run(ctx, args)
	if err == nil {
		return 0
	}
	code := exitCode(err)
	var coder cli.ExitCoder
	if errors.As(err, &coder) && err.Error() == "" {
		return code
	}
	var jerr *runner.JobError
	if errors.As(err, &jerr) {
		// The summary already names the failing step.
		return code
	}
	if a.logger != nil {
		a.logger.Error("command failed", "error", err)
	} else {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return code
}

func exitCode(err error) int {
	var jerr *runner.JobError
	if errors.As(err, &jerr) {
		return jerr.Code
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 1
}

func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:      "stepci",
		Usage:     "run a CI workflow's steps locally or from GitHub webhooks",
		Version:   version.Version,
		Writer:    a.stdout,
		ErrWriter: a.stderr,
		// Exit codes are mapped by run; never let the library call os.Exit.
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "config file (default: ./" + config.FileName + ", then the user config dir)",
				Destination: &a.configPath,
				Sources:     cli.EnvVars("STEPCI_CONFIG"),
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Destination: &a.logLevel,
				Sources:     cli.EnvVars("STEPCI_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "log format (console, json)",
				Destination: &a.logFormat,
				Sources:     cli.EnvVars("STEPCI_LOG_FORMAT"),
			},
		},
		Before: a.before,
		Commands: []*cli.Command{
			a.cmdRun(),
			a.cmdValidate(),
			a.cmdMatch(),
			a.cmdCoverage(),
			a.cmdLintFiles(),
			a.cmdServe(),
		},
	}
}

func (a *app) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return ctx, err
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if cmd.IsSet("log-format") {
		cfg.LogFormat = a.logFormat
	}

	logger, err := logging.New(a.stderr, logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return ctx, err
	}
	a.cfg = cfg
	a.logger = logger
	if cfg.Path != "" {
		logger.Debug("config loaded", "path", cfg.Path)
	}
	return logging.With(ctx, logger), nil
}

// workflowFlag is shared by the commands that read a workflow file.
func workflowFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "workflow",
		Aliases: []string{"w"},
		Usage:   "workflow file (default: " + config.DefaultWorkflow + ")",
		Sources: cli.EnvVars("STEPCI_WORKFLOW"),
	}
}

func (a *app) workflowPath(cmd *cli.Command) string {
	if cmd.IsSet("workflow") {
		return cmd.String("workflow")
	}
	return a.cfg.Workflow
}
