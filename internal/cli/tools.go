package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/dkoosis/stepci/internal/actions"
	"github.com/dkoosis/stepci/pkg/coverage"
	"github.com/dkoosis/stepci/pkg/lint"
)

func (a *app) cmdCoverage() *cli.Command {
	return &cli.Command{
		Name:  "coverage",
		Usage: "gate a coverage report against a threshold",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "report", Value: "coverage.json", Usage: "coverage report (coverage.py JSON or Go coverprofile)"},
			&cli.StringFlag{Name: "format", Value: coverage.FormatAuto, Usage: "report format (auto, coverprofile, coveragepy)"},
			&cli.StringFlag{Name: "threshold", Value: "100", Usage: "minimum total coverage in percent"},
			&cli.StringFlag{Name: "html", Usage: "also write an HTML report to this directory"},
			&cli.BoolFlag{Name: "skip-covered", Value: true, Usage: "leave fully covered files out of the HTML report"},
			&cli.BoolFlag{Name: "skip-empty", Value: true, Usage: "leave files without statements out of the HTML report"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			report := cmd.String("report")
			p, err := coverage.ReadFile(report, cmd.String("format"))
			if err != nil {
				return err
			}
			threshold, err := coverage.ParseThreshold(cmd.String("threshold"))
			if err != nil {
				return goerr.Wrap(err, "invalid --threshold")
			}
			if err := coverage.WriteTable(a.stdout, p); err != nil {
				return err
			}

			if dir := cmd.String("html"); dir != "" {
				written, err := coverage.WriteHTML(dir, p, coverage.HTMLOptions{
					SkipCovered: cmd.Bool("skip-covered"),
					SkipEmpty:   cmd.Bool("skip-empty"),
					SourceRoot:  filepath.Dir(report),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "Wrote HTML report to %s (%d file(s))\n", dir, len(written))
			}

			res := coverage.Gate(p, threshold)
			if !res.Passed {
				return cli.Exit(fmt.Sprintf("coverage %s is below threshold %s", res.Percent(), res.ThresholdString()), actions.ExitCoverageBelow)
			}
			fmt.Fprintf(a.stdout, "Coverage %s meets threshold %s\n", res.Percent(), res.ThresholdString())
			return nil
		},
	}
}

func (a *app) cmdLintFiles() *cli.Command {
	return &cli.Command{
		Name:  "lint-files",
		Usage: "print the files the lint action would check",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Value: ".", Usage: "directory to walk"},
			&cli.StringSliceFlag{Name: "include", Usage: "include pattern (default **/*.py)"},
			&cli.StringSliceFlag{Name: "exclude", Usage: "exclude pattern, e.g. **/migrations/**"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			files, err := lint.Collect(cmd.String("root"), cmd.StringSlice("include"), cmd.StringSlice("exclude"))
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(a.stdout, f)
			}
			return nil
		},
	}
}
