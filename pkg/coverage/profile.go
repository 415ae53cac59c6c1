// Package coverage reads line-coverage reports, enforces coverage thresholds
// exactly and renders HTML reports.
//
// Two report formats are understood:
//   - Go cover profiles (`go test -coverprofile`)
//   - coverage.py JSON reports (`coverage json`)
//
// Percentages are kept as rational numbers so a gate at 100 fails for
// 99999/100000 covered statements, where a float comparison could round up.
package coverage

import (
	"math/big"
	"sort"
	"strings"
)

// FileCoverage is the line coverage of one source file.
type FileCoverage struct {
	Name       string `json:"name"`
	Statements int    `json:"statements"`
	Covered    int    `json:"covered"`
	Missing    []int  `json:"missing,omitempty"`
}

// Ratio returns covered/statements. A file without statements counts as fully
// covered.
func (f FileCoverage) Ratio() *big.Rat {
	return ratio(f.Covered, f.Statements)
}

// FullyCovered reports whether every statement is covered.
func (f FileCoverage) FullyCovered() bool {
	return f.Covered >= f.Statements
}

// Empty reports whether the file has no statements.
func (f FileCoverage) Empty() bool {
	return f.Statements == 0
}

// Profile is a parsed coverage report.
type Profile struct {
	Format string         `json:"format"`
	Files  []FileCoverage `json:"files"`
}

// Totals sums statements and covered statements over all files.
func (p *Profile) Totals() (statements, covered int) {
	for _, f := range p.Files {
		statements += f.Statements
		covered += f.Covered
	}
	return statements, covered
}

// Ratio returns the total covered/statements ratio.
func (p *Profile) Ratio() *big.Rat {
	s, c := p.Totals()
	return ratio(c, s)
}

// Percent is the total coverage as a float, for display only.
func (p *Profile) Percent() float64 {
	f, _ := new(big.Rat).Mul(p.Ratio(), big.NewRat(100, 1)).Float64()
	return f
}

func (p *Profile) sortFiles() {
	sort.Slice(p.Files, func(i, j int) bool { return p.Files[i].Name < p.Files[j].Name })
}

func ratio(covered, statements int) *big.Rat {
	if statements == 0 {
		return big.NewRat(1, 1)
	}
	return big.NewRat(int64(covered), int64(statements))
}

// FormatPercent renders r (a 0..1 ratio) as a percentage with the given number
// of decimals, truncating instead of rounding so that anything short of full
// coverage never prints as 100.
func FormatPercent(r *big.Rat, decimals int) string {
	scale := big.NewInt(1)
	for i := 0; i < decimals; i++ {
		scale.Mul(scale, big.NewInt(10))
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(new(big.Int).Mul(scale, big.NewInt(100))))
	truncated := new(big.Int).Quo(scaled.Num(), scaled.Denom())

	digits := truncated.String()
	if decimals == 0 {
		return digits + "%"
	}
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	cut := len(digits) - decimals
	return digits[:cut] + "." + digits[cut:] + "%"
}
