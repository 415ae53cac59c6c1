// Package runner executes workflow jobs. Steps run strictly in order inside
// an ephemeral workspace, each seeing the environment earlier steps exported.
// The first failing step fails the run and every later step is skipped;
// nothing is retried.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/dkoosis/stepci/pkg/trigger"
	"github.com/dkoosis/stepci/pkg/workflow"
)

// Option configures a Runner.
type Option func(*config)

// WithStdout sets where step output is streamed as "step | line". nil
// disables streaming.
func WithStdout(w io.Writer) Option {
	return func(cfg *config) { cfg.stdout = w }
}

// WithOnEvent registers a callback for emitted events.
func WithOnEvent(fn func(Event)) Option {
	return func(cfg *config) { cfg.onEvent = fn }
}

// WithShell sets the shell for run steps that do not name one.
func WithShell(shell string) Option {
	return func(cfg *config) { cfg.shell = shell }
}

// WithWorkspaceRoot sets the directory run workspaces are created in. Empty
// means the system temp directory.
func WithWorkspaceRoot(dir string) Option {
	return func(cfg *config) { cfg.workspaceRoot = dir }
}

// WithKeepWorkspace leaves the workspace on disk after the run.
func WithKeepWorkspace(keep bool) Option {
	return func(cfg *config) { cfg.keepWorkspace = keep }
}

// WithMaxTailLines sets the maximum number of output lines kept per step.
func WithMaxTailLines(n int) Option {
	return func(cfg *config) { cfg.maxTail = n }
}

// WithLogger sets the logger for run lifecycle records.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithActions sets the resolver for `uses` steps.
func WithActions(res Resolver) Option {
	return func(cfg *config) { cfg.actions = res }
}

// WithBaseEnv replaces the inherited process environment.
func WithBaseEnv(env []string) Option {
	return func(cfg *config) { cfg.baseEnv = append([]string(nil), env...) }
}

// WithSource sets the directory or repository checkout copies from.
func WithSource(src string) Option {
	return func(cfg *config) { cfg.source = src }
}

// WithToolCache sets the directory runtimes are looked up in.
func WithToolCache(dir string) Option {
	return func(cfg *config) { cfg.toolCache = dir }
}

type config struct {
	stdout        io.Writer
	onEvent       func(Event)
	shell         string
	workspaceRoot string
	keepWorkspace bool
	maxTail       int
	logger        *slog.Logger
	actions       Resolver
	baseEnv       []string
	source        string
	toolCache     string
}

func defaultConfig() config {
	return config{
		stdout:  os.Stdout,
		shell:   "bash",
		maxTail: 200,
		logger:  slog.Default(),
		source:  ".",
	}
}

// Runner executes workflows.
type Runner struct {
	cfg      config
	writerMu sync.Mutex
}

// New constructs a runner.
func New(opts ...Option) *Runner {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.baseEnv == nil {
		cfg.baseEnv = os.Environ()
	}
	return &Runner{cfg: cfg}
}

// Check resolves every action and shell the workflow uses without running
// anything.
func (r *Runner) Check(wf *workflow.Workflow) error {
	_, err := r.resolve(wf)
	return err
}

func (r *Runner) resolve(wf *workflow.Workflow) ([][]Action, error) {
	var errs []error
	acts := make([][]Action, len(wf.Jobs))
	for j, job := range wf.Jobs {
		acts[j] = make([]Action, len(job.Steps))
		for i, step := range job.Steps {
			label := fmt.Sprintf("%s#%d", job.ID, i+1)
			if step.Uses != "" {
				if r.cfg.actions == nil {
					errs = append(errs, goerr.New("no actions available", goerr.V("step", label), goerr.V("uses", step.Uses)))
					continue
				}
				act, err := r.cfg.actions.Resolve(step.Uses)
				if err != nil {
					errs = append(errs, goerr.Wrap(err, "resolve action", goerr.V("step", label)))
					continue
				}
				acts[j][i] = act
				continue
			}
			if _, _, err := shellCommand(r.shellFor(step), "script"); err != nil {
				errs = append(errs, goerr.Wrap(err, "resolve shell", goerr.V("step", label)))
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return acts, nil
}

func (r *Runner) shellFor(step workflow.Step) string {
	if step.Shell != "" {
		return step.Shell
	}
	return r.cfg.shell
}

// runContext is the per-run state shared by every job.
type runContext struct {
	id        string
	wf        *workflow.Workflow
	event     trigger.Event
	workspace string
	baseEnv   map[string]string
	logger    *slog.Logger
	res       *Result
}

// Run executes wf for ev. A non-matching event returns a NotTriggered result
// and no error. A failed step returns the result and a *JobError carrying the
// step's exit code.
func (r *Runner) Run(ctx context.Context, wf *workflow.Workflow, ev trigger.Event) (Result, error) {
	res := Result{
		RunID:     uuid.NewString(),
		Workflow:  wf.Name,
		Event:     ev,
		StartedAt: time.Now(),
	}
	logger := r.cfg.logger.With("run_id", res.RunID)

	if ok, reason := trigger.Match(wf.On, ev); !ok {
		res.Status = NotTriggered
		res.Reason = reason
		res.FinishedAt = time.Now()
		logger.Info("workflow not triggered", "event", ev.Name, "branch", ev.Branch(), "reason", reason)
		return res, nil
	}

	acts, err := r.resolve(wf)
	if err != nil {
		res.Status = Failed
		res.ExitCode = 1
		res.FinishedAt = time.Now()
		return res, err
	}

	ws, err := os.MkdirTemp(r.cfg.workspaceRoot, "stepci-")
	if err != nil {
		res.Status = Failed
		res.ExitCode = 1
		res.FinishedAt = time.Now()
		return res, goerr.Wrap(err, "create workspace", goerr.V("root", r.cfg.workspaceRoot))
	}
	if r.cfg.keepWorkspace {
		res.Workspace = ws
	} else {
		defer func() {
			if err := os.RemoveAll(ws); err != nil {
				logger.Warn("remove workspace", "path", ws, "error", err)
			}
		}()
	}

	logger.Info("run started", "workflow", wf.Name, "event", ev.Name, "branch", ev.Branch(), "workspace", ws)

	rc := &runContext{
		id:        res.RunID,
		wf:        wf,
		event:     ev,
		workspace: ws,
		baseEnv:   envMap(r.cfg.baseEnv),
		logger:    logger,
		res:       &res,
	}

	var failed *JobError
	for j, job := range wf.Jobs {
		jerr := r.runJob(ctx, rc, job, acts[j], failed != nil)
		if failed == nil && jerr != nil {
			failed = jerr
		}
	}

	res.FinishedAt = time.Now()
	if failed != nil {
		res.Status = Failed
		res.ExitCode = failed.Code
		logger.Error("run failed", "job", failed.JobID, "step", failed.Step, "exit_code", failed.Code,
			"duration", res.FinishedAt.Sub(res.StartedAt))
		return res, failed
	}
	res.Status = Success
	logger.Info("run succeeded", "duration", res.FinishedAt.Sub(res.StartedAt))
	return res, nil
}

func (r *Runner) runJob(ctx context.Context, rc *runContext, job *workflow.Job, acts []Action, skip bool) *JobError {
	finish := func(status Status, code int) {
		r.emit(Event{Type: EventJobFinished, RunID: rc.id, JobID: job.ID, Status: status, ExitCode: code, When: time.Now()})
	}

	if skip {
		for i, step := range job.Steps {
			r.skipStep(rc, job, i, step)
		}
		finish(Skipped, 0)
		return nil
	}

	work := filepath.Join(rc.workspace, safeName(job.ID), "work")
	temp := filepath.Join(rc.workspace, safeName(job.ID), "tmp")
	for _, d := range []string{work, temp} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			jerr := &JobError{JobID: job.ID, Step: "setup", Code: 1, Err: goerr.Wrap(err, "create job directory", goerr.V("path", d))}
			for i, step := range job.Steps {
				r.skipStep(rc, job, i, step)
			}
			finish(Failed, 1)
			return jerr
		}
	}

	jobCtx := ctx
	if d := job.Timeout(); d > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	state := newJobState()
	var failed *JobError
	for i, step := range job.Steps {
		if failed != nil {
			r.skipStep(rc, job, i, step)
			continue
		}
		sr := r.runStep(jobCtx, rc, job, i, step, acts[i], state, work, temp)
		rc.res.Steps = append(rc.res.Steps, sr)
		if sr.Status == Failed {
			failed = &JobError{JobID: job.ID, Step: sr.Name, Code: sr.ExitCode, Err: sr.Err}
		}
	}

	if failed != nil {
		finish(Failed, failed.Code)
		return failed
	}
	finish(Success, 0)
	return nil
}

func (r *Runner) skipStep(rc *runContext, job *workflow.Job, idx int, step workflow.Step) {
	sr := StepResult{JobID: job.ID, Index: idx, ID: step.ID, Name: step.DisplayName(), Status: Skipped}
	rc.res.Steps = append(rc.res.Steps, sr)
	r.emit(Event{Type: EventStepFinished, RunID: rc.id, JobID: job.ID, StepIndex: idx, StepName: sr.Name, Status: Skipped, When: time.Now()})
}

func (r *Runner) runStep(ctx context.Context, rc *runContext, job *workflow.Job, idx int, step workflow.Step,
	act Action, state *jobState, work, temp string,
) StepResult {
	name := step.DisplayName()
	sr := StepResult{JobID: job.ID, Index: idx, ID: step.ID, Name: name}
	base := Event{RunID: rc.id, JobID: job.ID, StepIndex: idx, StepName: name}
	out := &stepOutput{r: r, base: base, tail: newTailBuffer(r.cfg.maxTail), label: name}
	logger := rc.logger.With("job", job.ID, "step", name)

	start := time.Now()
	started := base
	started.Type = EventStepStarted
	started.Status = Running
	started.When = start
	r.emit(started)

	code, err := r.execStep(ctx, rc, job, idx, step, act, state, work, temp, out, logger)
	if err != nil && code == 0 {
		code = 1
	}

	sr.Duration = time.Since(start)
	sr.ExitCode = code
	sr.OutputTail = out.lines()
	if code == 0 {
		sr.Status = Success
		logger.Info("step succeeded", "duration", sr.Duration)
	} else {
		sr.Status = Failed
		sr.Err = err
		if err != nil {
			sr.Error = err.Error()
		}
		logger.Warn("step failed", "exit_code", code, "duration", sr.Duration, "error", err)
	}

	finished := base
	finished.Type = EventStepFinished
	finished.Status = sr.Status
	finished.ExitCode = code
	finished.When = time.Now()
	r.emit(finished)
	return sr
}

func (r *Runner) execStep(ctx context.Context, rc *runContext, job *workflow.Job, idx int, step workflow.Step,
	act Action, state *jobState, work, temp string, out *stepOutput, logger *slog.Logger,
) (int, error) {
	if err := ctx.Err(); err != nil {
		return contextExitCode(err), err
	}
	if d := step.Timeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	envFile := filepath.Join(temp, fmt.Sprintf("env-%d", idx))
	pathFile := filepath.Join(temp, fmt.Sprintf("path-%d", idx))
	outputFile := filepath.Join(temp, fmt.Sprintf("output-%d", idx))
	for _, f := range []string{envFile, pathFile, outputFile} {
		if err := os.WriteFile(f, nil, 0o600); err != nil {
			return 1, goerr.Wrap(err, "create step file", goerr.V("path", f))
		}
	}

	ec := &exprContext{
		github:  rc.githubContext(job, work),
		runner:  r.runnerContext(temp),
		outputs: state.outputs,
	}
	env := mergeEnv(rc.baseEnv, r.defaultEnv(rc, job, work, temp))
	ec.env = env
	env = mergeEnv(env, ec.expandMap(rc.wf.Env))
	ec.env = env
	env = mergeEnv(env, ec.expandMap(job.Env), state.env)
	ec.env = env
	env = mergeEnv(env, ec.expandMap(step.Env))
	env["PATH"] = state.pathValue(env["PATH"])
	for _, k := range []string{"GITHUB_ENV", "STEPCI_ENV"} {
		env[k] = envFile
	}
	for _, k := range []string{"GITHUB_PATH", "STEPCI_PATH"} {
		env[k] = pathFile
	}
	for _, k := range []string{"GITHUB_OUTPUT", "STEPCI_OUTPUT"} {
		env[k] = outputFile
	}
	ec.env = env

	dir := work
	if wd := ec.expand(step.WorkingDirectory); wd != "" {
		if filepath.IsAbs(wd) {
			dir = wd
		} else {
			dir = filepath.Join(work, wd)
		}
	}
	env["PWD"] = dir

	var code int
	var err error
	if act != nil {
		inputs := ec.expandMap(step.With)
		if inputs == nil {
			inputs = map[string]string{}
		}
		sc := &StepContext{
			RunID:     rc.id,
			JobID:     job.ID,
			Step:      step,
			Inputs:    inputs,
			Env:       env,
			Workspace: work,
			Dir:       dir,
			Temp:      temp,
			ToolCache: r.cfg.toolCache,
			Source:    r.cfg.source,
			Event:     rc.event,
			Logger:    logger,
			out:       out,
			state:     state,
		}
		logger.Debug("action started", "uses", step.Uses, "inputs", inputs)
		code, err = runAction(ctx, act, sc)
		if err != nil {
			out.line("Error: " + err.Error())
		}
	} else {
		code, err = r.runScript(ctx, step, ec.expand(step.Run), dir, env, temp, idx, out)
	}

	if ferr := collectFiles(state, step, envFile, pathFile, outputFile); ferr != nil {
		logger.Warn("step files", "error", ferr)
		if code == 0 && err == nil {
			return 1, ferr
		}
	}
	return code, err
}

func runAction(ctx context.Context, act Action, sc *StepContext) (code int, err error) {
	defer func() {
		if p := recover(); p != nil {
			code, err = 1, fmt.Errorf("action panicked: %v", p)
		}
	}()
	err = act.Run(ctx, sc)
	if err == nil {
		return 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return contextExitCode(ctxErr), err
	}
	var ee *ExitError
	if errors.As(err, &ee) && ee.Code != 0 {
		return ee.Code, err
	}
	return 1, err
}

func (r *Runner) runScript(ctx context.Context, step workflow.Step, script, dir string, env map[string]string,
	temp string, idx int, out *stepOutput,
) (int, error) {
	shell := r.shellFor(step)
	scriptPath := filepath.Join(temp, fmt.Sprintf("step-%d%s", idx, scriptExt(shell)))
	argv, _, err := shellCommand(shell, scriptPath)
	if err != nil {
		return 1, err
	}
	if !strings.HasSuffix(script, "\n") {
		script += "\n"
	}
	if err := os.WriteFile(scriptPath, []byte(script), 0o700); err != nil {
		return 1, goerr.Wrap(err, "write step script", goerr.V("path", scriptPath))
	}
	if p, ok := lookPath(argv[0], env["PATH"]); ok {
		argv[0] = p
	}
	return execute(ctx, procSpec{Argv: argv, Dir: dir, Env: environ(env), OnLine: out.line})
}

// collectFiles applies what a step wrote to its env, path and output files.
func collectFiles(state *jobState, step workflow.Step, envFile, pathFile, outputFile string) error {
	kvs, err := readEnvFile(envFile)
	if err != nil {
		return err
	}
	for _, kv := range kvs {
		state.env[kv.Key] = kv.Value
	}

	dirs, err := readPathFile(pathFile)
	if err != nil {
		return err
	}
	for _, d := range dirs {
		state.prependPath(d)
	}

	outs, err := readEnvFile(outputFile)
	if err != nil {
		return err
	}
	if step.ID != "" {
		for _, kv := range outs {
			state.setOutput(step.ID, kv.Key, kv.Value)
		}
	}
	return nil
}

func (r *Runner) defaultEnv(rc *runContext, job *workflow.Job, work, temp string) map[string]string {
	ev := rc.event
	return map[string]string{
		"CI":                "true",
		"STEPCI":            "true",
		"STEPCI_RUN_ID":     rc.id,
		"STEPCI_WORKSPACE":  work,
		"GITHUB_WORKSPACE":  work,
		"GITHUB_RUN_ID":     rc.id,
		"GITHUB_JOB":        job.ID,
		"GITHUB_WORKFLOW":   rc.wf.Name,
		"GITHUB_EVENT_NAME": ev.Name,
		"GITHUB_REF":        ev.Ref,
		"GITHUB_REF_NAME":   ev.Branch(),
		"GITHUB_SHA":        ev.SHA,
		"GITHUB_BASE_REF":   ev.BaseRef,
		"GITHUB_HEAD_REF":   ev.HeadRef,
		"RUNNER_TEMP":       temp,
		"RUNNER_TOOL_CACHE": r.cfg.toolCache,
		"RUNNER_OS":         runnerOS(),
		"RUNNER_ARCH":       runnerArch(),
	}
}

func (rc *runContext) githubContext(job *workflow.Job, work string) map[string]string {
	ev := rc.event
	return map[string]string{
		"event_name": ev.Name,
		"ref":        ev.Ref,
		"ref_name":   ev.Branch(),
		"sha":        ev.SHA,
		"base_ref":   ev.BaseRef,
		"head_ref":   ev.HeadRef,
		"workspace":  work,
		"run_id":     rc.id,
		"job":        job.ID,
		"workflow":   rc.wf.Name,
	}
}

func (r *Runner) runnerContext(temp string) map[string]string {
	return map[string]string{
		"os":         runnerOS(),
		"arch":       runnerArch(),
		"temp":       temp,
		"tool_cache": r.cfg.toolCache,
		"name":       "stepci",
	}
}

// safeName maps a job id onto a single path element.
func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return "job"
	}
	return s
}
