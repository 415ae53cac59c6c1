package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/dkoosis/stepci/internal/actions"
	"github.com/dkoosis/stepci/internal/runner"
	"github.com/dkoosis/stepci/pkg/trigger"
	"github.com/dkoosis/stepci/pkg/workflow"
)

func (a *app) cmdValidate() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "check a workflow file without running it",
		Flags: []cli.Flag{workflowFlag()},
		Action: func(_ context.Context, cmd *cli.Command) error {
			path := a.workflowPath(cmd)
			wf, err := loadWorkflow(path)
			if err != nil {
				return err
			}
			if err := runner.New(runner.WithActions(actions.Builtin())).Check(wf); err != nil {
				return err
			}
			for _, w := range wf.Warnings() {
				fmt.Fprintf(a.stderr, "warning: %s\n", w)
			}

			steps := 0
			for _, job := range wf.Jobs {
				steps += len(job.Steps)
			}
			fmt.Fprintf(a.stdout, "%s: ok (%d job(s), %d step(s))\n", path, len(wf.Jobs), steps)
			return nil
		},
	}
}

func (a *app) cmdMatch() *cli.Command {
	return &cli.Command{
		Name:  "match",
		Usage: "report whether an event would trigger the workflow (exit 1 when not)",
		Flags: []cli.Flag{
			workflowFlag(),
			&cli.StringFlag{Name: "event", Value: workflow.EventPush, Usage: "event name (push, pull_request)"},
			&cli.StringFlag{Name: "branch", Usage: "pushed branch, or the base branch of a pull request", Required: true},
			&cli.StringFlag{Name: "action", Usage: "pull request activity type (default opened)"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			wf, err := loadWorkflow(a.workflowPath(cmd))
			if err != nil {
				return err
			}
			ev := trigger.Manual(cmd.String("event"), cmd.String("branch"), "")
			if cmd.IsSet("action") {
				ev.Action = cmd.String("action")
			}
			ok, reason := trigger.Match(wf.On, ev)
			if !ok {
				fmt.Fprintf(a.stdout, "not triggered: %s\n", reason)
				return cli.Exit("", 1)
			}
			fmt.Fprintf(a.stdout, "triggered: %s to %s\n", ev.Name, ev.Branch())
			return nil
		},
	}
}
