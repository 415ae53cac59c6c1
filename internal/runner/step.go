package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/dkoosis/stepci/pkg/trigger"
	"github.com/dkoosis/stepci/pkg/workflow"
)

// Action is a built-in step referenced by `uses`.
type Action interface {
	Run(ctx context.Context, sc *StepContext) error
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, sc *StepContext) error

// Run calls f.
func (f ActionFunc) Run(ctx context.Context, sc *StepContext) error { return f(ctx, sc) }

// Resolver looks up the action a `uses` value names.
type Resolver interface {
	Resolve(uses string) (Action, error)
}

// StepContext is what an action sees of its step and job.
type StepContext struct {
	RunID string
	JobID string
	Step  workflow.Step
	// Inputs are the step's `with` values after expression expansion.
	Inputs map[string]string
	// Env is the environment the step runs with, PATH included.
	Env map[string]string
	// Workspace is the job's checkout directory.
	Workspace string
	// Dir is the step's working directory.
	Dir       string
	Temp      string
	ToolCache string
	// Source is the directory or repository checkout copies from.
	Source string
	Event  trigger.Event
	Logger *slog.Logger

	out   *stepOutput
	state *jobState
}

// Input returns the named input, or def when it is unset or blank.
func (sc *StepContext) Input(name, def string) string {
	if v := strings.TrimSpace(sc.Inputs[name]); v != "" {
		return v
	}
	return def
}

// BoolInput parses the named input as a boolean, returning def when unset.
func (sc *StepContext) BoolInput(name string, def bool) (bool, error) {
	switch strings.ToLower(sc.Input(name, "")) {
	case "":
		return def, nil
	case "true", "yes", "1", "on":
		return true, nil
	case "false", "no", "0", "off":
		return false, nil
	}
	return def, fmt.Errorf("input %q: not a boolean: %q", name, sc.Inputs[name])
}

// ListInput splits the named input on newlines and commas, dropping blanks.
func (sc *StepContext) ListInput(name string) []string {
	var out []string
	for _, l := range strings.FieldsFunc(sc.Inputs[name], func(r rune) bool { return r == '\n' || r == ',' }) {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Path resolves p against the step's working directory.
func (sc *StepContext) Path(p string) string {
	if p == "" {
		return sc.Dir
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(sc.Dir, p)
}

// Printf writes formatted output to the step log, one event per line.
func (sc *StepContext) Printf(format string, args ...any) {
	for _, l := range strings.Split(strings.TrimRight(fmt.Sprintf(format, args...), "\n"), "\n") {
		sc.out.line(l)
	}
}

// Output returns a writer feeding the step log. Call the returned flush once
// done writing.
func (sc *StepContext) Output() (w io.Writer, flush func()) {
	lw := &lineWriter{out: sc.out}
	return lw, lw.Flush
}

// SetEnv exports a variable to later steps of the job.
func (sc *StepContext) SetEnv(key, value string) {
	sc.state.env[key] = value
	sc.Env[key] = value
}

// AddPath prepends dir to PATH for later steps of the job.
func (sc *StepContext) AddPath(dir string) {
	sc.state.prependPath(dir)
}

// SetOutput records a `steps.<id>.outputs.<key>` value.
func (sc *StepContext) SetOutput(key, value string) {
	if sc.Step.ID == "" {
		return
	}
	sc.state.setOutput(sc.Step.ID, key, value)
}

// Exec runs argv in dir (the working directory when empty) with the step
// environment and streams its output to the step log. onLine, when set, also
// receives each line. The returned error is nil only for exit code zero.
func (sc *StepContext) Exec(ctx context.Context, dir string, argv []string, onLine func(string)) (int, error) {
	if dir == "" {
		dir = sc.Dir
	}
	if len(argv) > 0 {
		if p, ok := lookPath(argv[0], sc.Env["PATH"]); ok {
			argv = append([]string{p}, argv[1:]...)
		}
	}
	sc.Logger.Debug("exec", "argv", argv, "dir", dir)
	return execute(ctx, procSpec{
		Argv: argv,
		Dir:  dir,
		Env:  environ(sc.Env),
		OnLine: func(l string) {
			sc.out.line(l)
			if onLine != nil {
				onLine(l)
			}
		},
	})
}
