package actions

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dkoosis/stepci/internal/runner"
	"github.com/dkoosis/stepci/pkg/lint"
)

// DefaultSettingsFlag passes the settings input to pylint-django.
const DefaultSettingsFlag = "--django-settings-module"

// Lint runs a static linter over the selected source files only.
//
// Inputs: command (default pylint), args (whitespace separated, or one
// argument per line), settings, settings-flag, root, include, exclude, sarif.
type Lint struct{}

func (l *Lint) Run(ctx context.Context, sc *runner.StepContext) error {
	root := sc.Path(sc.Input("root", "."))
	sel, err := lint.NewSelector(sc.ListInput("include"), sc.ListInput("exclude"))
	if err != nil {
		return err
	}
	files, err := sel.Collect(root)
	if err != nil {
		return err
	}
	sc.SetOutput("files", fmt.Sprint(len(files)))
	if len(files) == 0 {
		sc.Printf("No files to lint under %s", root)
		return nil
	}

	argv := lintArgv(
		sc.Input("command", "pylint"),
		sc.Input("args", ""),
		sc.Input("settings-flag", DefaultSettingsFlag),
		sc.Input("settings", ""),
		files,
	)
	sc.Printf("Linting %d file(s)", len(files))

	var lines []string
	code, runErr := sc.Exec(ctx, root, argv, func(line string) { lines = append(lines, line) })

	sum := lint.Summarize(lines, sel)
	if sum.Total > 0 {
		sc.Printf("%d finding(s) in %d file(s)", sum.Total, len(sum.ByFile))
		for _, fc := range sum.TopFiles(5) {
			sc.Printf("  %4d  %s", fc.Count, fc.File)
		}
	}
	if out := sc.Input("sarif", ""); out != "" {
		if err := writeSARIF(sc.Path(out), argv[0], sum); err != nil {
			return err
		}
	}

	if runErr != nil {
		return runner.Exit(code, goerr.Wrap(runErr, "linter failed", goerr.V("command", argv[0]), goerr.V("exit_code", code)))
	}
	return nil
}

// lintArgv builds command, args, the settings flag and the files.
func lintArgv(command, args, settingsFlag, settings string, files []string) []string {
	argv := strings.Fields(command)
	argv = append(argv, splitArgs(args)...)
	if settings != "" {
		argv = append(argv, settingsFlag+"="+settings)
	}
	return append(argv, files...)
}

// splitArgs splits a single-line args input on whitespace. A multi-line input
// holds one argument per line, taken verbatim, so values containing spaces
// such as --msg-template={path}: {msg} survive.
func splitArgs(args string) []string {
	if !strings.Contains(args, "\n") {
		return strings.Fields(args)
	}
	var out []string
	for _, line := range strings.Split(args, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func writeSARIF(path, tool string, sum lint.Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return goerr.Wrap(err, "create sarif file", goerr.V("path", path))
	}
	if err := lint.WriteSARIF(f, tool, sum); err != nil {
		_ = f.Close()
		return goerr.Wrap(err, "write sarif", goerr.V("path", path))
	}
	return f.Close()
}
