package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoosis/stepci/pkg/trigger"
	"github.com/dkoosis/stepci/pkg/workflow"
)

func parse(t *testing.T, src string) *workflow.Workflow {
	t.Helper()
	wf, err := workflow.Parse([]byte(src))
	require.NoError(t, err)
	require.NoError(t, wf.Validate())
	return wf
}

func pushToMain() trigger.Event { return trigger.Manual(workflow.EventPush, "main", "abc123") }

func newTestRunner(t *testing.T, opts ...Option) (*Runner, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	base := []Option{
		WithStdout(&out),
		WithWorkspaceRoot(t.TempDir()),
		WithLogger(nil),
	}
	return New(append(base, opts...)...), &out
}

// pipelineYAML mirrors the reference pipeline; each step records that it ran
// by touching a marker, and FAIL_AT names the step that exits non-zero.
func pipelineYAML(markers, failAt string, code int) string {
	step := func(name string) string {
		return fmt.Sprintf(`      - name: %s
        run: |
          touch "%s/%s"
          if [ "%s" = "%s" ]; then exit %d; fi
`, name, markers, name, failAt, name, code)
	}
	return `name: webapp
on:
  push:
    branches: [main]
  pull_request:
    branches: [main]
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
` + step("checkout") + step("setup") + step("install") + step("migrate") + step("test") + step("report") + step("lint")
}

func markerNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRun_AllStepsSucceed(t *testing.T) {
	markers := t.TempDir()
	r, _ := newTestRunner(t)

	res, err := r.Run(context.Background(), parse(t, pipelineYAML(markers, "", 0)), pushToMain())
	require.NoError(t, err)
	assert.Equal(t, Success, res.Status)
	assert.Equal(t, 0, res.ExitCode)
	require.Len(t, res.Steps, 7)
	for _, s := range res.Steps {
		assert.Equal(t, Success, s.Status, s.Name)
	}
	assert.ElementsMatch(t, []string{"checkout", "setup", "install", "migrate", "test", "report", "lint"}, markerNames(t, markers))
	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, res.Workspace)
}

func TestRun_InstallFailureSkipsLaterSteps(t *testing.T) {
	markers := t.TempDir()
	r, _ := newTestRunner(t)

	res, err := r.Run(context.Background(), parse(t, pipelineYAML(markers, "install", 3)), pushToMain())
	require.Error(t, err)

	var jerr *JobError
	require.True(t, errors.As(err, &jerr))
	assert.Equal(t, 3, jerr.Code)
	assert.Equal(t, "install", jerr.Step)

	assert.Equal(t, Failed, res.Status)
	assert.Equal(t, 3, res.ExitCode)
	assert.ElementsMatch(t, []string{"checkout", "setup", "install"}, markerNames(t, markers))

	statuses := map[string]Status{}
	for _, s := range res.Steps {
		statuses[s.Name] = s.Status
	}
	assert.Equal(t, Failed, statuses["install"])
	for _, name := range []string{"migrate", "test", "report", "lint"} {
		assert.Equal(t, Skipped, statuses[name], name)
	}
	failed, ok := res.FailedStep()
	require.True(t, ok)
	assert.Equal(t, "install", failed.Name)
	assert.Len(t, res.Ran(), 3)
}

func TestRun_MigrationFailureSkipsTests(t *testing.T) {
	markers := t.TempDir()
	r, _ := newTestRunner(t)

	res, err := r.Run(context.Background(), parse(t, pipelineYAML(markers, "migrate", 1)), pushToMain())
	require.Error(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.NotContains(t, markerNames(t, markers), "test")
	assert.NoFileExists(t, filepath.Join(markers, "test"))
}

func TestRun_ExitCodeMirrorsFirstFailure(t *testing.T) {
	for _, code := range []int{1, 2, 42, 255} {
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			r, _ := newTestRunner(t)
			res, err := r.Run(context.Background(), parse(t, pipelineYAML(t.TempDir(), "test", code)), pushToMain())
			require.Error(t, err)
			assert.Equal(t, code, res.ExitCode)
		})
	}
}

func TestRun_NotTriggered(t *testing.T) {
	markers := t.TempDir()
	r, _ := newTestRunner(t)
	wf := parse(t, pipelineYAML(markers, "", 0))

	for _, ev := range []trigger.Event{
		trigger.Manual(workflow.EventPush, "feature/x", "abc"),
		trigger.Manual(workflow.EventPullRequest, "develop", "abc"),
		{Name: "release", Ref: "refs/heads/main"},
	} {
		res, err := r.Run(context.Background(), wf, ev)
		require.NoError(t, err)
		assert.Equal(t, NotTriggered, res.Status)
		assert.NotEmpty(t, res.Reason)
		assert.Empty(t, res.Steps)
	}
	assert.Empty(t, markerNames(t, markers))
}

func TestRun_PullRequestToTrunk(t *testing.T) {
	r, _ := newTestRunner(t)
	res, err := r.Run(context.Background(), parse(t, pipelineYAML(t.TempDir(), "", 0)),
		trigger.Manual(workflow.EventPullRequest, "main", "abc"))
	require.NoError(t, err)
	assert.Equal(t, Success, res.Status)
}

func TestRun_StepsInheritEnvironment(t *testing.T) {
	bin := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bin, "hello-tool"), []byte("#!/bin/sh\necho hello from tool\n"), 0o755))

	wf := parse(t, fmt.Sprintf(`on: push
env:
  LEVEL: workflow
jobs:
  build:
    env:
      JOB_VAR: job-${{ env.LEVEL }}
    steps:
      - id: first
        run: |
          echo "EXPORTED=from-first" >> "$GITHUB_ENV"
          {
            echo "MULTI<<EOF"
            echo "line one"
            echo "line two"
            echo "EOF"
          } >> "$GITHUB_ENV"
          echo "%s" >> "$GITHUB_PATH"
          echo "answer=42" >> "$GITHUB_OUTPUT"
      - name: check
        env:
          ANSWER: ${{ steps.first.outputs.answer }}
        run: |
          test "$EXPORTED" = from-first
          test "$MULTI" = "$(printf 'line one\nline two')"
          test "$JOB_VAR" = job-workflow
          test "$ANSWER" = 42
          test "$CI" = true
          test "$GITHUB_EVENT_NAME" = push
          test "$GITHUB_SHA" = abc123
          test "${{ github.ref }}" = refs/heads/main
          test "$(pwd)" = "$GITHUB_WORKSPACE"
          hello-tool
`, bin))

	r, out := newTestRunner(t)
	res, err := r.Run(context.Background(), wf, pushToMain())
	require.NoError(t, err, out.String())
	assert.Equal(t, Success, res.Status)
	assert.Contains(t, res.Steps[1].OutputTail, "hello from tool")
	assert.Contains(t, out.String(), "check | hello from tool")
}

func TestRun_WorkingDirectoryAndShell(t *testing.T) {
	wf := parse(t, `on: push
jobs:
  build:
    steps:
      - run: mkdir -p app/sub
      - working-directory: app/sub
        shell: sh
        run: basename "$(pwd)"
`)
	r, _ := newTestRunner(t)
	res, err := r.Run(context.Background(), wf, pushToMain())
	require.NoError(t, err)
	assert.Equal(t, []string{"sub"}, res.Steps[1].OutputTail)
}

func TestRun_PipefailByDefault(t *testing.T) {
	wf := parse(t, `on: push
jobs:
  build:
    steps:
      - run: |
          false | true
          echo unreachable
`)
	r, _ := newTestRunner(t)
	res, err := r.Run(context.Background(), wf, pushToMain())
	require.Error(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.NotContains(t, res.Steps[0].OutputTail, "unreachable")
}

func TestRun_CommandNotFound(t *testing.T) {
	wf := parse(t, `on: push
jobs:
  build:
    steps:
      - shell: definitely-not-a-shell-xyz {0}
        run: echo hi
      - run: echo never
`)
	r, _ := newTestRunner(t)
	res, err := r.Run(context.Background(), wf, pushToMain())
	require.Error(t, err)
	assert.Equal(t, ExitNotFound, res.ExitCode)
	assert.Equal(t, Skipped, res.Steps[1].Status)
}

func TestRun_Timeout(t *testing.T) {
	wf := parse(t, `on: push
jobs:
  build:
    steps:
      - run: sleep 30
      - run: echo never
`)
	r, _ := newTestRunner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := r.Run(ctx, wf, pushToMain())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 20*time.Second)
	assert.Equal(t, ExitTimeout, res.ExitCode)
	assert.Equal(t, Skipped, res.Steps[1].Status)
}

func TestRun_Cancelled(t *testing.T) {
	wf := parse(t, `on: push
jobs:
  build:
    steps:
      - run: sleep 30
`)
	ctx, cancel := context.WithCancel(context.Background())
	r, _ := newTestRunner(t, WithOnEvent(func(e Event) {
		if e.Type == EventStepStarted {
			time.AfterFunc(100*time.Millisecond, cancel)
		}
	}))
	res, err := r.Run(ctx, wf, pushToMain())
	require.Error(t, err)
	assert.Equal(t, ExitCancelled, res.ExitCode)
}

func TestRun_LaterJobsSkippedAfterFailure(t *testing.T) {
	wf := parse(t, `on: push
jobs:
  first:
    steps:
      - run: exit 5
  second:
    steps:
      - run: echo never
`)
	r, _ := newTestRunner(t)
	res, err := r.Run(context.Background(), wf, pushToMain())
	require.Error(t, err)
	assert.Equal(t, 5, res.ExitCode)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, "second", res.Steps[1].JobID)
	assert.Equal(t, Skipped, res.Steps[1].Status)
}

type stubResolver map[string]Action

func (s stubResolver) Resolve(uses string) (Action, error) {
	name, _, _ := strings.Cut(uses, "@")
	if a, ok := s[name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("unknown action %q", uses)
}

func TestRun_Actions(t *testing.T) {
	var seen map[string]string
	res := stubResolver{
		"gate": ActionFunc(func(_ context.Context, sc *StepContext) error {
			seen = sc.Inputs
			sc.Printf("checking %s", sc.Input("report", "coverage.json"))
			sc.SetEnv("GATE", "ran")
			sc.SetOutput("percent", "100")
			return nil
		}),
		"fail": ActionFunc(func(context.Context, *StepContext) error {
			return Exit(2, errors.New("coverage below threshold"))
		}),
	}
	wf := parse(t, `on: push
env:
  REPORT: cov.json
jobs:
  build:
    steps:
      - id: g
        uses: gate@v1
        with:
          report: ${{ env.REPORT }}
      - run: |
          test "$GATE" = ran
          test "${{ steps.g.outputs.percent }}" = 100
      - uses: fail
      - run: echo never
`)
	r, out := newTestRunner(t, WithActions(res))
	result, err := r.Run(context.Background(), wf, pushToMain())
	require.Error(t, err)
	assert.Equal(t, map[string]string{"report": "cov.json"}, seen)
	assert.Contains(t, out.String(), "checking cov.json")
	assert.Equal(t, Success, result.Steps[1].Status)
	assert.Equal(t, 2, result.ExitCode)
	assert.Contains(t, result.Steps[2].OutputTail, "Error: coverage below threshold")
	assert.Equal(t, Skipped, result.Steps[3].Status)
}

func TestRun_UnknownActionRunsNothing(t *testing.T) {
	markers := t.TempDir()
	wf := parse(t, fmt.Sprintf(`on: push
jobs:
  build:
    steps:
      - run: touch "%s/ran"
      - uses: nope/missing@v2
`, markers))
	r, _ := newTestRunner(t, WithActions(stubResolver{}))
	res, err := r.Run(context.Background(), wf, pushToMain())
	require.Error(t, err)
	assert.Equal(t, Failed, res.Status)
	assert.Empty(t, res.Steps)
	assert.Empty(t, markerNames(t, markers))

	assert.Error(t, r.Check(wf))
}

func TestRun_ActionPanicFailsStep(t *testing.T) {
	wf := parse(t, `on: push
jobs:
  build:
    steps:
      - uses: boom
`)
	r, _ := newTestRunner(t, WithActions(stubResolver{"boom": ActionFunc(func(context.Context, *StepContext) error {
		panic("kaboom")
	})}))
	res, err := r.Run(context.Background(), wf, pushToMain())
	require.Error(t, err)
	assert.Equal(t, 1, res.ExitCode)
}

func TestRun_WorkspaceLifecycle(t *testing.T) {
	wf := parse(t, `on: push
jobs:
  build:
    steps:
      - run: echo "$GITHUB_WORKSPACE"
`)
	root := t.TempDir()

	r := New(WithStdout(nil), WithWorkspaceRoot(root))
	_, err := r.Run(context.Background(), wf, pushToMain())
	require.NoError(t, err)
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace removed after the run")

	keep := New(WithStdout(nil), WithWorkspaceRoot(root), WithKeepWorkspace(true))
	res, err := keep.Run(context.Background(), wf, pushToMain())
	require.NoError(t, err)
	assert.DirExists(t, res.Workspace)
	assert.True(t, strings.HasPrefix(res.Workspace, root))
}

func TestRun_EmitsEventsInOrder(t *testing.T) {
	wf := parse(t, `on: push
jobs:
  build:
    steps:
      - name: one
        run: echo a
      - name: two
        run: exit 1
      - name: three
        run: echo c
`)
	var mu sync.Mutex
	var got []string
	r, _ := newTestRunner(t, WithOnEvent(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		switch e.Type {
		case EventStepStarted:
			got = append(got, "start:"+e.StepName)
		case EventStepOutput:
			got = append(got, "out:"+e.Line)
		case EventStepFinished:
			got = append(got, fmt.Sprintf("finish:%s:%s", e.StepName, e.Status))
		case EventJobFinished:
			got = append(got, "job:"+e.Status.String())
		}
	}))
	_, err := r.Run(context.Background(), wf, pushToMain())
	require.Error(t, err)
	assert.Equal(t, []string{
		"start:one", "out:a", "finish:one:success",
		"start:two", "finish:two:failed",
		"finish:three:skipped",
		"job:failed",
	}, got)
}

func TestRun_TailIsBounded(t *testing.T) {
	wf := parse(t, `on: push
jobs:
  build:
    steps:
      - run: for i in 1 2 3 4 5; do echo "line $i"; done
`)
	r, _ := newTestRunner(t, WithMaxTailLines(2))
	res, err := r.Run(context.Background(), wf, pushToMain())
	require.NoError(t, err)
	assert.Equal(t, []string{"line 4", "line 5"}, res.Steps[0].OutputTail)
}

func TestRun_BaseEnv(t *testing.T) {
	wf := parse(t, `on: push
jobs:
  build:
    steps:
      - run: test "$ONLY_HERE" = yes && test -z "$HOME_SENTINEL"
`)
	r, _ := newTestRunner(t, WithBaseEnv([]string{"PATH=" + os.Getenv("PATH"), "ONLY_HERE=yes"}))
	t.Setenv("HOME_SENTINEL", "leak")
	_, err := r.Run(context.Background(), wf, pushToMain())
	require.NoError(t, err)
}
