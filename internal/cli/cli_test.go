package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okWorkflow = `name: webapp
on:
  push:
    branches: [main]
  pull_request:
    branches: [main]
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - name: Say hello
        run: echo "hello from $GITHUB_EVENT_NAME"
      - name: Run tests
        run: exit ${FAIL_CODE:-0}
        env:
          FAIL_CODE: "0"
`

type harness struct {
	dir      string
	config   string
	workflow string
	env      map[string]string
}

func newHarness(t *testing.T, workflowYAML string) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		dir:      dir,
		config:   filepath.Join(dir, "stepci.yaml"),
		workflow: filepath.Join(dir, "ci.yml"),
		env:      map[string]string{},
	}
	cfg := "log_level: error\nworkspace_root: " + filepath.Join(dir, "ws") + "\nsource: " + dir + "\n"
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ws"), 0o755))
	require.NoError(t, os.WriteFile(h.config, []byte(cfg), 0o600))
	require.NoError(t, os.WriteFile(h.workflow, []byte(workflowYAML), 0o600))
	return h
}

func (h *harness) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"stepci", "--config", h.config}, args...)
	code := run(context.Background(), full, &stdout, &stderr, func(k string) string { return h.env[k] })
	return code, stdout.String(), stderr.String()
}

func TestRun_Succeeds(t *testing.T) {
	h := newHarness(t, okWorkflow)
	code, out, _ := h.run(t, "run", "--workflow", h.workflow, "--event", "push", "--branch", "main")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "hello from push")
	assert.Contains(t, out, "Run succeeded")
}

func TestRun_ExitCodeMirrorsFailingStep(t *testing.T) {
	h := newHarness(t, strings.Replace(okWorkflow, `FAIL_CODE: "0"`, `FAIL_CODE: "3"`, 1))
	code, out, _ := h.run(t, "run", "--workflow", h.workflow, "--branch", "main")
	assert.Equal(t, 3, code)
	assert.Contains(t, out, `Run failed at "Run tests" (exit code 3)`)
}

func TestRun_NotTriggered(t *testing.T) {
	h := newHarness(t, okWorkflow)
	code, out, _ := h.run(t, "run", "--workflow", h.workflow, "--event", "push", "--branch", "feature")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "not triggered")
	assert.NotContains(t, out, "hello from")
}

func TestRun_PullRequestFromEnvironment(t *testing.T) {
	h := newHarness(t, okWorkflow)
	h.env["STEPCI_EVENT"] = "pull_request"
	h.env["STEPCI_BASE_REF"] = "main"
	code, out, _ := h.run(t, "run", "--workflow", h.workflow)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "hello from pull_request")
}

func TestRun_EventPayload(t *testing.T) {
	h := newHarness(t, okWorkflow)
	payload := filepath.Join(h.dir, "event.json")
	require.NoError(t, os.WriteFile(payload, []byte(`{"ref":"refs/heads/develop","after":"abc"}`), 0o600))

	code, out, _ := h.run(t, "run", "--workflow", h.workflow, "--event-path", payload)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "not triggered")
}

func TestRun_UnsupportedEventPayloadNotTriggered(t *testing.T) {
	h := newHarness(t, okWorkflow)
	payload := filepath.Join(h.dir, "dispatch.json")
	require.NoError(t, os.WriteFile(payload, []byte(`{"ref":"refs/heads/main","inputs":{}}`), 0o600))
	h.env["GITHUB_EVENT_NAME"] = "workflow_dispatch"
	h.env["GITHUB_EVENT_PATH"] = payload

	code, out, _ := h.run(t, "run", "--workflow", h.workflow)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "not triggered")
	assert.NotContains(t, out, "hello from")

	code, out, _ = h.run(t, "run", "--workflow", h.workflow, "--event", "workflow_dispatch", "--event-path", payload)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "not triggered")
}

func TestRun_WritesReport(t *testing.T) {
	h := newHarness(t, okWorkflow)
	report := filepath.Join(h.dir, "out", "report.json")
	code, _, _ := h.run(t, "run", "--workflow", h.workflow, "--branch", "main", "--report", report)
	require.Equal(t, 0, code)

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "success", doc["status"])
	assert.Len(t, doc["steps"], 2)
}

func TestRun_UnknownEvent(t *testing.T) {
	h := newHarness(t, okWorkflow)
	code, _, _ := h.run(t, "run", "--workflow", h.workflow, "--event", "release")
	assert.Equal(t, 1, code)
}

func TestRun_MissingWorkflow(t *testing.T) {
	h := newHarness(t, okWorkflow)
	code, _, errOut := h.run(t, "run", "--workflow", filepath.Join(h.dir, "nope.yml"))
	assert.Equal(t, 1, code)
	assert.NotEmpty(t, errOut)
}

func TestValidate(t *testing.T) {
	h := newHarness(t, okWorkflow)
	code, out, _ := h.run(t, "validate", "--workflow", h.workflow)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "ok (1 job(s), 2 step(s))")
}

func TestValidate_UnknownAction(t *testing.T) {
	h := newHarness(t, strings.Replace(okWorkflow, `run: echo "hello from $GITHUB_EVENT_NAME"`, "uses: acme/deploy@v1", 1))
	code, out, _ := h.run(t, "validate", "--workflow", h.workflow)
	assert.Equal(t, 1, code)
	assert.NotContains(t, out, "ok (")
}

func TestMatch(t *testing.T) {
	h := newHarness(t, okWorkflow)

	code, out, _ := h.run(t, "match", "--workflow", h.workflow, "--event", "pull_request", "--branch", "main")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "triggered: pull_request to main")

	code, out, _ = h.run(t, "match", "--workflow", h.workflow, "--branch", "feature")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "not triggered")
}

const coverageJSON = `{
  "meta": {"version": "7.4.0"},
  "files": {
    "country/views.py": {
      "executed_lines": [1, 2, 3],
      "missing_lines": [4],
      "excluded_lines": [],
      "summary": {"num_statements": 4, "covered_lines": 3, "missing_lines": 1}
    }
  },
  "totals": {"num_statements": 4, "covered_lines": 3, "missing_lines": 1}
}`

func TestCoverage(t *testing.T) {
	h := newHarness(t, okWorkflow)
	report := filepath.Join(h.dir, "coverage.json")
	require.NoError(t, os.WriteFile(report, []byte(coverageJSON), 0o600))

	code, out, _ := h.run(t, "coverage", "--report", report)
	assert.Equal(t, 2, code)
	assert.Contains(t, out, "country/views.py")

	html := filepath.Join(h.dir, "htmlcov")
	code, out, _ = h.run(t, "coverage", "--report", report, "--threshold", "75", "--html", html)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "meets threshold")
	assert.FileExists(t, filepath.Join(html, "index.html"))
}

func TestLintFiles(t *testing.T) {
	h := newHarness(t, okWorkflow)
	root := filepath.Join(h.dir, "app")
	for _, f := range []string{"manage.py", "country/views.py", "country/migrations/0001_initial.py"} {
		p := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, nil, 0o600))
	}

	code, out, _ := h.run(t, "lint-files", "--root", root, "--exclude", "**/migrations/**")
	assert.Equal(t, 0, code)
	assert.Equal(t, "country/views.py\nmanage.py\n", out)
}

func TestBadLogLevel(t *testing.T) {
	h := newHarness(t, okWorkflow)
	code, _, errOut := h.run(t, "--log-level", "loud", "validate", "--workflow", h.workflow)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown log level")
}
