package render

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dkoosis/stepci/internal/runner"
)

func TestWriteSummary_Failure(t *testing.T) {
	start := time.Now()
	res := runner.Result{
		Workflow:   "webapp",
		Status:     runner.Failed,
		ExitCode:   3,
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		Steps: []runner.StepResult{
			{JobID: "build", Name: "Checkout", Status: runner.Success, Duration: 20 * time.Millisecond},
			{JobID: "build", Name: "Install dependencies", Status: runner.Failed, ExitCode: 3, Error: "exit status 3"},
			{JobID: "build", Name: "Run migrations", Status: runner.Skipped},
		},
	}
	var buf bytes.Buffer
	WriteSummary(&buf, res)
	out := buf.String()

	assert.Contains(t, out, "== webapp ==")
	assert.Contains(t, out, "✓ build  Checkout")
	assert.Contains(t, out, "✗ build  Install dependencies  failed")
	assert.Contains(t, out, "○ build  Run migrations")
	assert.Contains(t, out, `Run failed at "Install dependencies" (exit code 3) after 2.0s`)
	assert.NotContains(t, out, "\x1b[", "no color when not writing to a terminal")
}

func TestWriteSummary_NotTriggered(t *testing.T) {
	var buf bytes.Buffer
	WriteSummary(&buf, runner.Result{Status: runner.NotTriggered, Reason: `branch "dev" not selected`})
	assert.Contains(t, buf.String(), `not triggered: branch "dev" not selected`)
}

func TestWriteSummary_Success(t *testing.T) {
	var buf bytes.Buffer
	WriteSummary(&buf, runner.Result{Workflow: "ci", Status: runner.Success,
		Steps: []runner.StepResult{{JobID: "b", Name: "x", Status: runner.Success}}})
	assert.Contains(t, buf.String(), "Run succeeded")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "1.3s", FormatDuration(1260*time.Millisecond))
}
