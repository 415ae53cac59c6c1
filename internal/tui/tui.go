// Package tui shows a run live: the step list on the left, the selected
// step's output on the right.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dkoosis/stepci/internal/render"
	"github.com/dkoosis/stepci/internal/runner"
	"github.com/dkoosis/stepci/pkg/workflow"
)

const maxLines = 2000

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#0077B6")).Padding(0, 1)
	listStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#626262")).Padding(0, 1)
	detailStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#0077B6")).Padding(0, 1)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#264F78"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F56"))
)

type stepView struct {
	job      string
	name     string
	status   runner.Status
	exitCode int
	started  time.Time
	finished time.Time
	lines    []string
}

func (s *stepView) duration() time.Duration {
	switch {
	case s.started.IsZero():
		return 0
	case s.finished.IsZero():
		return time.Since(s.started)
	default:
		return s.finished.Sub(s.started)
	}
}

func (s *stepView) appendLine(l string) {
	s.lines = append(s.lines, l)
	if len(s.lines) > maxLines {
		s.lines = s.lines[len(s.lines)-maxLines:]
	}
}

type eventMsg runner.Event
type doneMsg struct{}

type model struct {
	title    string
	steps    []*stepView
	offsets  map[string]int
	updates  <-chan runner.Event
	cancel   context.CancelFunc
	selected int
	follow   bool
	viewport viewport.Model
	spinner  spinner.Model
	ready    bool
	done     bool
	width    int
	height   int
}

func newModel(wf *workflow.Workflow, updates <-chan runner.Event, cancel context.CancelFunc) model {
	m := model{
		title:    wf.Name,
		offsets:  map[string]int{},
		updates:  updates,
		cancel:   cancel,
		follow:   true,
		viewport: viewport.New(0, 0),
		spinner:  spinner.New(spinner.WithSpinner(spinner.MiniDot)),
	}
	for _, job := range wf.Jobs {
		m.offsets[job.ID] = len(m.steps)
		for _, st := range job.Steps {
			m.steps = append(m.steps, &stepView{job: job.ID, name: st.DisplayName()})
		}
	}
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.listen(), m.spinner.Tick)
}

func (m model) listen() tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-m.updates
		if !ok {
			return doneMsg{}
		}
		return eventMsg(evt)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.cancel()
			return m, tea.Quit
		case "q":
			if m.done {
				return m, tea.Quit
			}
		case "up", "k":
			if m.selected > 0 {
				m.selected--
				m.follow = false
				m.refresh()
			}
		case "down", "j":
			if m.selected < len(m.steps)-1 {
				m.selected++
				m.follow = false
				m.refresh()
			}
		case "f":
			m.follow = true
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = max(m.width-m.listWidth()-8, 10)
		m.viewport.Height = max(m.height-6, 3)
		m.ready = true
		m.refresh()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case eventMsg:
		m.apply(runner.Event(msg))
		return m, m.listen()
	case doneMsg:
		m.done = true
		return m, nil
	}
	return m, nil
}

func (m *model) apply(evt runner.Event) {
	off, ok := m.offsets[evt.JobID]
	if !ok || evt.Type == runner.EventJobFinished {
		return
	}
	i := off + evt.StepIndex
	if i < 0 || i >= len(m.steps) {
		return
	}
	s := m.steps[i]
	switch evt.Type {
	case runner.EventStepStarted:
		s.status = runner.Running
		s.started = evt.When
		if m.follow {
			m.selected = i
		}
	case runner.EventStepOutput:
		s.appendLine(evt.Line)
	case runner.EventStepFinished:
		s.status = evt.Status
		s.exitCode = evt.ExitCode
		s.finished = evt.When
	}
	if i == m.selected {
		m.refresh()
	}
}

func (m *model) refresh() {
	if m.selected < 0 || m.selected >= len(m.steps) {
		return
	}
	m.viewport.SetContent(strings.Join(m.steps[m.selected].lines, "\n"))
	m.viewport.GotoBottom()
}

func (m model) listWidth() int {
	w := 20
	for _, s := range m.steps {
		w = max(w, lipgloss.Width(s.name)+12)
	}
	if m.width > 0 {
		w = min(w, m.width/2)
	}
	return w
}

func (m model) icon(s *stepView) string {
	switch s.status {
	case runner.Running:
		return m.spinner.View()
	case runner.Success:
		return successStyle.Render(render.Icon(s.status))
	case runner.Failed:
		return errorStyle.Render(render.Icon(s.status))
	default:
		return mutedStyle.Render(render.Icon(s.status))
	}
}

func (m model) View() string {
	if !m.ready {
		return "Starting run..."
	}

	var rows []string
	for i, s := range m.steps {
		dur := ""
		if !s.started.IsZero() {
			dur = " " + render.FormatDuration(s.duration())
		}
		if i == m.selected {
			rows = append(rows, selectedStyle.Render(fmt.Sprintf("▶ %s %s%s", render.Icon(s.status), s.name, dur)))
			continue
		}
		rows = append(rows, fmt.Sprintf("  %s %s%s", m.icon(s), s.name, mutedStyle.Render(dur)))
	}
	list := listStyle.Width(m.listWidth()).Height(m.viewport.Height + 2).Render(strings.Join(rows, "\n"))

	header := ""
	if m.selected < len(m.steps) {
		s := m.steps[m.selected]
		header = fmt.Sprintf("%s / %s", s.job, s.name)
		if s.status == runner.Failed {
			header += errorStyle.Render(fmt.Sprintf("  exit %d", s.exitCode))
		}
	}
	detail := detailStyle.Width(m.viewport.Width + 2).Render(header + "\n\n" + m.viewport.View())

	help := "↑/↓ select • f follow • ctrl+c cancel"
	if m.done {
		help = "↑/↓ select • q quit"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("stepci · "+m.title),
		lipgloss.JoinHorizontal(lipgloss.Top, list, detail),
		mutedStyle.Render(help),
	)
}

// RunFunc starts a run that reports progress through onEvent.
type RunFunc func(ctx context.Context, onEvent func(runner.Event)) (runner.Result, error)

// Run shows wf's progress while start executes it. Cancelling from the UI
// cancels the context passed to start. The run's result and error are
// returned once both the run and the UI have finished.
func Run(ctx context.Context, wf *workflow.Workflow, start RunFunc) (runner.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan runner.Event, 256)
	type outcome struct {
		res runner.Result
		err error
	}
	finished := make(chan outcome, 1)
	go func() {
		res, err := start(ctx, func(e runner.Event) { updates <- e })
		close(updates)
		finished <- outcome{res, err}
	}()

	program := tea.NewProgram(newModel(wf, updates, cancel), tea.WithAltScreen())
	_, uiErr := program.Run()
	if uiErr != nil {
		cancel()
	}
	// The UI may quit before the run ends; keep draining so the run never
	// blocks on a full channel.
	go func() {
		for range updates {
		}
	}()
	out := <-finished
	if uiErr != nil {
		return out.res, uiErr
	}
	return out.res, out.err
}
