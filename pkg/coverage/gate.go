package coverage

import (
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/mattn/go-runewidth"
)

// ParseThreshold parses a percentage such as "100" or "97.5" exactly.
func ParseThreshold(s string) (*big.Rat, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" {
		return nil, fmt.Errorf("empty threshold")
	}
	t, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("threshold %q is not a number", s)
	}
	if t.Sign() < 0 || t.Cmp(big.NewRat(100, 1)) > 0 {
		return nil, fmt.Errorf("threshold %q is outside 0..100", s)
	}
	return t, nil
}

// GateResult is the outcome of a coverage gate.
type GateResult struct {
	Passed     bool
	Statements int
	Covered    int
	Ratio      *big.Rat
	Threshold  *big.Rat
}

// Percent renders the measured coverage, truncated to two decimals.
func (g GateResult) Percent() string {
	return FormatPercent(g.Ratio, 2)
}

// ThresholdString renders the threshold as written in percent.
func (g GateResult) ThresholdString() string {
	return g.Threshold.FloatString(2) + "%"
}

// Gate compares total coverage against a threshold percentage. The boundary is
// inclusive: coverage equal to the threshold passes.
func Gate(p *Profile, threshold *big.Rat) GateResult {
	statements, covered := p.Totals()
	r := p.Ratio()
	percent := new(big.Rat).Mul(r, big.NewRat(100, 1))
	return GateResult{
		Passed:     percent.Cmp(threshold) >= 0,
		Statements: statements,
		Covered:    covered,
		Ratio:      r,
		Threshold:  threshold,
	}
}

// WriteTable prints a per-file text report followed by a TOTAL row, in the
// spirit of `coverage report -m`.
func WriteTable(w io.Writer, p *Profile) error {
	nameWidth := runewidth.StringWidth("TOTAL")
	for _, f := range p.Files {
		if n := runewidth.StringWidth(f.Name); n > nameWidth {
			nameWidth = n
		}
	}

	row := func(name string, stmts, miss int, cover, missing string) error {
		_, err := fmt.Fprintf(w, "%s  %6v  %6v  %8s  %s\n",
			runewidth.FillRight(name, nameWidth), stmts, miss, cover, missing)
		return err
	}

	if _, err := fmt.Fprintf(w, "%s  %6s  %6s  %8s  %s\n",
		runewidth.FillRight("Name", nameWidth), "Stmts", "Miss", "Cover", "Missing"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, strings.Repeat("-", nameWidth+34)); err != nil {
		return err
	}
	for _, f := range p.Files {
		if err := row(f.Name, f.Statements, f.Statements-f.Covered, FormatPercent(f.Ratio(), 0), compressLines(f.Missing)); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w, strings.Repeat("-", nameWidth+34)); err != nil {
		return err
	}
	s, c := p.Totals()
	return row("TOTAL", s, s-c, FormatPercent(p.Ratio(), 2), "")
}

// compressLines renders sorted line numbers as ranges: 3-5, 9.
func compressLines(lines []int) string {
	if len(lines) == 0 {
		return ""
	}
	var parts []string
	start, prev := lines[0], lines[0]
	flush := func() {
		if start == prev {
			parts = append(parts, fmt.Sprint(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}
	for _, l := range lines[1:] {
		if l == prev+1 {
			prev = l
			continue
		}
		flush()
		start, prev = l, l
	}
	flush()
	return strings.Join(parts, ", ")
}
