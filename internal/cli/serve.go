package cli

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/dkoosis/stepci/internal/actions"
	"github.com/dkoosis/stepci/internal/runner"
	"github.com/dkoosis/stepci/internal/server"
)

func (a *app) cmdServe() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "run the workflow for GitHub webhook deliveries",
		Flags: []cli.Flag{
			workflowFlag(),
			&cli.StringFlag{Name: "addr", Usage: "listen address", Sources: cli.EnvVars("STEPCI_ADDR")},
			&cli.StringFlag{Name: "secret", Usage: "webhook secret for X-Hub-Signature-256", Sources: cli.EnvVars("STEPCI_WEBHOOK_SECRET")},
			&cli.IntFlag{Name: "queue-size", Usage: "runs waiting for the worker before deliveries are refused", Sources: cli.EnvVars("STEPCI_QUEUE_SIZE")},
			&cli.StringFlag{Name: "source", Usage: "directory or repository checked out into the workspace", Sources: cli.EnvVars("STEPCI_SOURCE")},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := a.cfg
			if cmd.IsSet("addr") {
				cfg.Server.Addr = cmd.String("addr")
			}
			if cmd.IsSet("queue-size") {
				cfg.Server.QueueSize = int(cmd.Int("queue-size"))
			}
			if cmd.IsSet("source") {
				cfg.Source = cmd.String("source")
			}

			wf, err := loadWorkflow(a.workflowPath(cmd))
			if err != nil {
				return err
			}
			r := runner.New(
				runner.WithStdout(a.stdout),
				runner.WithShell(cfg.Shell),
				runner.WithWorkspaceRoot(cfg.WorkspaceRoot),
				runner.WithKeepWorkspace(cfg.KeepWorkspace),
				runner.WithMaxTailLines(cfg.MaxTailLines),
				runner.WithLogger(a.logger),
				runner.WithActions(actions.Builtin()),
				runner.WithSource(cfg.Source),
				runner.WithToolCache(cfg.ToolCache),
			)
			if err := r.Check(wf); err != nil {
				return err
			}

			a.logger.Info("Starting stepci server", "addr", cfg.Server.Addr, "workflow", wf.Name)
			srv := server.New(wf, r.Run,
				server.WithWebhookSecret(cmd.String("secret")),
				server.WithQueueSize(cfg.Server.QueueSize),
				server.WithLogger(a.logger),
			)
			return srv.Serve(ctx, cfg.Server.Addr)
		},
	}
}
