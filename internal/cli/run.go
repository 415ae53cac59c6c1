package cli

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/dkoosis/stepci/internal/actions"
	"github.com/dkoosis/stepci/internal/render"
	"github.com/dkoosis/stepci/internal/runner"
	"github.com/dkoosis/stepci/internal/tui"
	"github.com/dkoosis/stepci/pkg/trigger"
	"github.com/dkoosis/stepci/pkg/workflow"
)

func (a *app) cmdRun() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run the workflow for an event",
		Flags: []cli.Flag{
			workflowFlag(),
			&cli.StringFlag{Name: "event", Usage: "event name (push, pull_request)"},
			&cli.StringFlag{Name: "branch", Usage: "pushed branch, or the base branch of a pull request"},
			&cli.StringFlag{Name: "sha", Usage: "commit to check out"},
			&cli.StringFlag{Name: "event-path", Usage: "GitHub webhook payload to read the event from"},
			&cli.StringFlag{Name: "source", Usage: "directory or repository checked out into the workspace", Sources: cli.EnvVars("STEPCI_SOURCE")},
			&cli.StringFlag{Name: "workspace-root", Usage: "directory run workspaces are created in", Sources: cli.EnvVars("STEPCI_WORKSPACE_ROOT")},
			&cli.BoolFlag{Name: "keep-workspace", Usage: "leave the workspace on disk after the run"},
			&cli.StringFlag{Name: "shell", Usage: "default shell for run steps", Sources: cli.EnvVars("STEPCI_SHELL")},
			&cli.StringFlag{Name: "tool-cache", Usage: "directory runtimes are looked up in", Sources: cli.EnvVars("STEPCI_TOOL_CACHE")},
			&cli.BoolFlag{Name: "tui", Usage: "show live progress in a terminal UI"},
			&cli.StringFlag{Name: "report", Usage: "write the run result as JSON to this file"},
		},
		Action: a.runAction,
	}
}

func (a *app) runAction(ctx context.Context, cmd *cli.Command) error {
	cfg := a.cfg
	if cmd.IsSet("source") {
		cfg.Source = cmd.String("source")
	}
	if cmd.IsSet("workspace-root") {
		cfg.WorkspaceRoot = cmd.String("workspace-root")
	}
	if cmd.IsSet("keep-workspace") {
		cfg.KeepWorkspace = cmd.Bool("keep-workspace")
	}
	if cmd.IsSet("shell") {
		cfg.Shell = cmd.String("shell")
	}
	if cmd.IsSet("tool-cache") {
		cfg.ToolCache = cmd.String("tool-cache")
	}

	wf, err := loadWorkflow(a.workflowPath(cmd))
	if err != nil {
		return err
	}
	ev, err := a.resolveEvent(cmd, wf)
	if err != nil {
		return err
	}
	a.logger.Debug("event resolved", "event", ev.Name, "branch", ev.Branch(), "sha", ev.SHA)

	opts := []runner.Option{
		runner.WithShell(cfg.Shell),
		runner.WithWorkspaceRoot(cfg.WorkspaceRoot),
		runner.WithKeepWorkspace(cfg.KeepWorkspace),
		runner.WithMaxTailLines(cfg.MaxTailLines),
		runner.WithLogger(a.logger),
		runner.WithActions(actions.Builtin()),
		runner.WithSource(cfg.Source),
		runner.WithToolCache(cfg.ToolCache),
	}

	var res runner.Result
	if cmd.Bool("tui") {
		res, err = tui.Run(ctx, wf, func(ctx context.Context, onEvent func(runner.Event)) (runner.Result, error) {
			r := runner.New(append(opts, runner.WithStdout(nil), runner.WithOnEvent(onEvent))...)
			return r.Run(ctx, wf, ev)
		})
	} else {
		res, err = runner.New(append(opts, runner.WithStdout(a.stdout))...).Run(ctx, wf, ev)
	}

	render.WriteSummary(a.stdout, res)
	if path := cmd.String("report"); path != "" {
		if werr := writeReport(path, res); werr != nil {
			a.logger.Warn("failed to write report", "path", path, "error", werr)
		}
	}
	return err
}

func loadWorkflow(path string) (*workflow.Workflow, error) {
	wf, err := workflow.ParseFile(path)
	if err != nil {
		return nil, err
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}

// resolveEvent picks the trigger event: a payload file, then explicit flags,
// then the CI environment, then a push to the workflow's first push branch.
func (a *app) resolveEvent(cmd *cli.Command, wf *workflow.Workflow) (trigger.Event, error) {
	name := cmd.String("event")
	if path := cmd.String("event-path"); path != "" {
		if name == "" {
			name = workflow.EventPush
		}
		payload, err := os.ReadFile(path)
		if err != nil {
			return trigger.Event{}, goerr.Wrap(err, "read event payload", goerr.V("path", path))
		}
		ev, err := trigger.FromPayload(name, payload, "")
		if errors.Is(err, trigger.ErrUnsupportedEvent) {
			return trigger.Event{Name: name}, nil
		}
		return ev, err
	}

	if name != "" || cmd.IsSet("branch") || cmd.IsSet("sha") {
		if name == "" {
			name = workflow.EventPush
		}
		if name != workflow.EventPush && name != workflow.EventPullRequest {
			return trigger.Event{}, goerr.New("unsupported event", goerr.V("event", name))
		}
		branch := cmd.String("branch")
		if branch == "" {
			branch = defaultBranch(wf)
		}
		return trigger.Manual(name, branch, cmd.String("sha")), nil
	}

	ev, ok, err := trigger.FromEnv(a.getenv)
	if err != nil {
		return trigger.Event{}, err
	}
	if ok {
		return ev, nil
	}
	return trigger.Manual(workflow.EventPush, defaultBranch(wf), ""), nil
}

// defaultBranch is the first literal branch of the push filter, else "main".
func defaultBranch(wf *workflow.Workflow) string {
	if f := wf.On.Push; f != nil {
		for _, b := range f.Branches {
			if b != "" && !containsMeta(b) {
				return b
			}
		}
	}
	return "main"
}

func containsMeta(s string) bool {
	for _, r := range s {
		switch r {
		case '*', '?', '[', '!', '+':
			return true
		}
	}
	return false
}

func writeReport(path string, res runner.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "encode report")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return goerr.Wrap(err, "create report dir", goerr.V("dir", dir))
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return goerr.Wrap(err, "write report", goerr.V("path", path))
	}
	return nil
}
