package actions

import (
	"context"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dkoosis/stepci/internal/runner"
	"github.com/dkoosis/stepci/pkg/coverage"
)

// ExitCoverageBelow is the exit code of a failed coverage gate.
const ExitCoverageBelow = 2

// CoverageGate fails the step when total coverage is below a threshold.
//
// Inputs: report (default coverage.json), format (auto, coverprofile,
// coveragepy), threshold (default 100).
type CoverageGate struct{}

func (g *CoverageGate) Run(_ context.Context, sc *runner.StepContext) error {
	p, err := coverage.ReadFile(sc.Path(sc.Input("report", "coverage.json")), sc.Input("format", coverage.FormatAuto))
	if err != nil {
		return err
	}
	threshold, err := coverage.ParseThreshold(sc.Input("threshold", "100"))
	if err != nil {
		return goerr.Wrap(err, "threshold input")
	}

	w, flush := sc.Output()
	err = coverage.WriteTable(w, p)
	flush()
	if err != nil {
		return err
	}

	res := coverage.Gate(p, threshold)
	sc.SetOutput("percent", res.Percent())
	if !res.Passed {
		return runner.Exit(ExitCoverageBelow, goerr.New("coverage below threshold",
			goerr.V("coverage", res.Percent()), goerr.V("threshold", res.ThresholdString())))
	}
	sc.Printf("Coverage %s meets threshold %s", res.Percent(), res.ThresholdString())
	return nil
}

// CoverageHTML renders an HTML coverage report.
//
// Inputs: report, format, output (default htmlcov), title, skip-covered and
// skip-empty (default true), source-root (default the working directory).
type CoverageHTML struct{}

func (h *CoverageHTML) Run(_ context.Context, sc *runner.StepContext) error {
	p, err := coverage.ReadFile(sc.Path(sc.Input("report", "coverage.json")), sc.Input("format", coverage.FormatAuto))
	if err != nil {
		return err
	}
	skipCovered, err := sc.BoolInput("skip-covered", true)
	if err != nil {
		return err
	}
	skipEmpty, err := sc.BoolInput("skip-empty", true)
	if err != nil {
		return err
	}

	out := sc.Path(sc.Input("output", "htmlcov"))
	written, err := coverage.WriteHTML(out, p, coverage.HTMLOptions{
		Title:       sc.Input("title", "Coverage report"),
		SkipCovered: skipCovered,
		SkipEmpty:   skipEmpty,
		SourceRoot:  sc.Path(sc.Input("source-root", "")),
	})
	if err != nil {
		return err
	}
	sc.Printf("Wrote HTML report to %s (%d file(s))", out, len(written))
	sc.SetOutput("index", filepath.Join(out, "index.html"))
	return nil
}
