package magetasks

import (
	"fmt"
	"os"

	"github.com/magefile/mage/sh"

	"github.com/dkoosis/stepci/pkg/coverage"
)

// TestAll runs all tests.
func TestAll() error {
	PrintH2Header("Tests")
	if err := sh.RunV("go", "test", "./..."); err != nil {
		PrintError("Tests failed")
		return err
	}
	PrintSuccess("All tests passed")
	return nil
}

// TestCoverage runs the tests with a cover profile, prints per-file coverage
// and writes an HTML report of the files that are not fully covered. When
// STEPCI_MIN_COVERAGE is set, total coverage below it fails the task.
func TestCoverage() error {
	PrintH2Header("Test Coverage")
	if err := sh.RunV("go", "test", "-coverprofile="+CoverProfile, "./..."); err != nil {
		PrintError("Tests failed")
		return err
	}

	p, err := coverage.ReadFile(CoverProfile, coverage.FormatCoverprofile)
	if err != nil {
		return err
	}
	if err := coverage.WriteTable(out, p); err != nil {
		return err
	}
	written, err := coverage.WriteHTML("htmlcov", p, coverage.HTMLOptions{
		Title:       "stepci coverage",
		SkipCovered: true,
		SkipEmpty:   true,
	})
	if err != nil {
		return err
	}
	PrintSuccess(fmt.Sprintf("HTML report: htmlcov/index.html (%d file(s))", len(written)))

	return checkCoverage(p, os.Getenv("STEPCI_MIN_COVERAGE"))
}

func checkCoverage(p *coverage.Profile, minimum string) error {
	if minimum == "" {
		return nil
	}
	threshold, err := coverage.ParseThreshold(minimum)
	if err != nil {
		return err
	}
	res := coverage.Gate(p, threshold)
	if !res.Passed {
		PrintError(fmt.Sprintf("Coverage %s is below %s", res.Percent(), res.ThresholdString()))
		return fmt.Errorf("coverage %s below %s", res.Percent(), res.ThresholdString())
	}
	PrintSuccess(fmt.Sprintf("Coverage %s meets %s", res.Percent(), res.ThresholdString()))
	return nil
}

// TestRace runs tests with the race detector.
func TestRace() error {
	PrintH2Header("Race Detector")
	if err := sh.RunV("go", "test", "-race", "./..."); err != nil {
		PrintError("Race detector found issues")
		return err
	}
	PrintSuccess("No race conditions detected")
	return nil
}
