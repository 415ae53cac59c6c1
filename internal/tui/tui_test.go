package tui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoosis/stepci/internal/runner"
	"github.com/dkoosis/stepci/pkg/workflow"
)

const twoJobs = `name: webapp
on: push
jobs:
  build:
    steps:
      - name: Install
        run: pip install -r requirements.txt
      - name: Test
        run: coverage run manage.py test
  lint:
    steps:
      - name: Lint
        run: pylint app
`

func testModel(t *testing.T) model {
	t.Helper()
	wf, err := workflow.Parse([]byte(twoJobs))
	require.NoError(t, err)
	m := newModel(wf, make(chan runner.Event), func() {})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	return next.(model)
}

func send(m model, evt runner.Event) model {
	next, _ := m.Update(eventMsg(evt))
	return next.(model)
}

func TestModel_AppliesEvents(t *testing.T) {
	m := testModel(t)
	require.Len(t, m.steps, 3)

	now := time.Now()
	m = send(m, runner.Event{Type: runner.EventStepStarted, JobID: "build", StepIndex: 1, When: now})
	assert.Equal(t, 1, m.selected, "follows the running step")
	m = send(m, runner.Event{Type: runner.EventStepOutput, JobID: "build", StepIndex: 1, Line: "Ran 12 tests"})
	m = send(m, runner.Event{Type: runner.EventStepFinished, JobID: "build", StepIndex: 1, Status: runner.Failed, ExitCode: 1, When: now.Add(time.Second)})
	m = send(m, runner.Event{Type: runner.EventStepFinished, JobID: "lint", StepIndex: 0, Status: runner.Skipped})

	assert.Equal(t, runner.Failed, m.steps[1].status)
	assert.Equal(t, []string{"Ran 12 tests"}, m.steps[1].lines)
	assert.Equal(t, runner.Skipped, m.steps[2].status)

	view := m.View()
	assert.Contains(t, view, "build / Test")
	assert.Contains(t, view, "exit 1")
	assert.Contains(t, view, "Ran 12 tests")
}

func TestModel_IgnoresUnknownSteps(t *testing.T) {
	m := testModel(t)
	m = send(m, runner.Event{Type: runner.EventStepStarted, JobID: "deploy", StepIndex: 0})
	m = send(m, runner.Event{Type: runner.EventStepStarted, JobID: "build", StepIndex: 9})
	for _, s := range m.steps {
		assert.Equal(t, runner.Pending, s.status)
	}
}

func TestModel_QuitOnlyWhenDone(t *testing.T) {
	m := testModel(t)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd != nil {
		_, isQuit := cmd().(tea.QuitMsg)
		assert.False(t, isQuit)
	}

	next, _ := m.Update(doneMsg{})
	m = next.(model)
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModel_CtrlCCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	wf, err := workflow.Parse([]byte(twoJobs))
	require.NoError(t, err)
	m := newModel(wf, make(chan runner.Event), cancel)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Error(t, ctx.Err())
}

func TestStepView_LineCap(t *testing.T) {
	s := &stepView{}
	for i := 0; i < maxLines+10; i++ {
		s.appendLine("x")
	}
	assert.Len(t, s.lines, maxLines)
}
