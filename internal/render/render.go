// Package render prints run results for people.
package render

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/dkoosis/stepci/internal/runner"
)

// Styles holds the lipgloss styles used for summaries.
type Styles struct {
	Success lipgloss.Style
	Error   lipgloss.Style
	Warn    lipgloss.Style
	Header  lipgloss.Style
	Muted   lipgloss.Style
}

// NewStyles returns styles whose color profile is detected from w.
func NewStyles(w io.Writer) Styles {
	r := lipgloss.NewRenderer(w)
	return Styles{
		Success: r.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true),
		Error:   r.NewStyle().Foreground(lipgloss.Color("#FF5F56")).Bold(true),
		Warn:    r.NewStyle().Foreground(lipgloss.Color("#FFBD2E")).Bold(true),
		Header:  r.NewStyle().Foreground(lipgloss.Color("#0077B6")).Bold(true),
		Muted:   r.NewStyle().Foreground(lipgloss.Color("#626262")),
	}
}

// Icon returns the status marker for s.
func Icon(s runner.Status) string {
	switch s {
	case runner.Success:
		return "✓"
	case runner.Failed:
		return "✗"
	case runner.Skipped:
		return "○"
	case runner.Running:
		return "▶"
	case runner.NotTriggered:
		return "–"
	default:
		return "·"
	}
}

func (st Styles) status(s runner.Status, text string) string {
	switch s {
	case runner.Success:
		return st.Success.Render(text)
	case runner.Failed:
		return st.Error.Render(text)
	case runner.Skipped, runner.NotTriggered:
		return st.Muted.Render(text)
	default:
		return st.Warn.Render(text)
	}
}

// WriteSummary prints one aligned row per step followed by the run outcome.
func WriteSummary(w io.Writer, res runner.Result) {
	st := NewStyles(w)
	title := res.Workflow
	if title == "" {
		title = "workflow"
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, st.Header.Render("== "+title+" =="))

	if res.Status == runner.NotTriggered {
		fmt.Fprintf(w, "%s not triggered: %s\n", st.status(res.Status, Icon(res.Status)), res.Reason)
		return
	}

	nameWidth, jobWidth := 0, 0
	for _, s := range res.Steps {
		nameWidth = max(nameWidth, runewidth.StringWidth(s.Name))
		jobWidth = max(jobWidth, runewidth.StringWidth(s.JobID))
	}
	for _, s := range res.Steps {
		line := fmt.Sprintf("  %s %s  %s  %-8s",
			st.status(s.Status, Icon(s.Status)),
			runewidth.FillRight(s.JobID, jobWidth),
			runewidth.FillRight(s.Name, nameWidth),
			s.Status)
		if s.Status == runner.Success || s.Status == runner.Failed {
			line += st.Muted.Render(fmt.Sprintf(" exit=%d %s", s.ExitCode, FormatDuration(s.Duration)))
		}
		fmt.Fprintln(w, line)
	}

	elapsed := FormatDuration(res.FinishedAt.Sub(res.StartedAt))
	if failed, ok := res.FailedStep(); ok {
		fmt.Fprintln(w)
		fmt.Fprintln(w, st.Error.Render(fmt.Sprintf("Run failed at %q (exit code %d) after %s", failed.Name, failed.ExitCode, elapsed)))
		if failed.Error != "" {
			fmt.Fprintln(w, st.Muted.Render("  "+failed.Error))
		}
		return
	}
	if res.Status == runner.Failed {
		fmt.Fprintln(w, st.Error.Render(fmt.Sprintf("Run failed (exit code %d)", res.ExitCode)))
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, st.Success.Render(fmt.Sprintf("Run succeeded in %s", elapsed)))
}

// FormatDuration renders milliseconds below a second and tenths above.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Round(100*time.Millisecond).Seconds())
}
