package coverage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Report formats.
const (
	FormatAuto         = "auto"
	FormatCoverprofile = "coverprofile"
	FormatCoveragePy   = "coveragepy"
)

// ErrUnknownFormat is returned when a report format cannot be determined.
var ErrUnknownFormat = errors.New("unknown coverage report format")

// ReadFile reads a report from disk. format may be FormatAuto.
func ReadFile(path, format string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "read coverage report", goerr.V("path", path))
	}
	p, err := ReadBytes(data, format)
	if err != nil {
		return nil, goerr.Wrap(err, "parse coverage report", goerr.V("path", path))
	}
	return p, nil
}

// ReadBytes parses a report held in memory.
func ReadBytes(data []byte, format string) (*Profile, error) {
	if format == "" || format == FormatAuto {
		format = Detect(data)
	}
	switch format {
	case FormatCoverprofile:
		return ParseCoverprofile(bytes.NewReader(data))
	case FormatCoveragePy:
		return ParseCoveragePy(bytes.NewReader(data))
	default:
		return nil, goerr.Wrap(ErrUnknownFormat, "cannot parse report", goerr.V("format", format))
	}
}

// Detect sniffs the report format from its first bytes.
func Detect(data []byte) string {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.HasPrefix(trimmed, []byte("mode:")):
		return FormatCoverprofile
	case bytes.HasPrefix(trimmed, []byte("{")) && bytes.Contains(trimmed, []byte(`"files"`)):
		return FormatCoveragePy
	default:
		return ""
	}
}

type blockKey struct {
	file string
	pos  string
}

type block struct {
	startLine, endLine int
	statements         int
	covered            bool
}

// ParseCoverprofile parses a Go cover profile. Blocks repeated across packages
// or profile merges are counted once; a block is covered if any record says so.
func ParseCoverprofile(r io.Reader) (*Profile, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	blocks := make(map[blockKey]*block)
	var order []blockKey
	lineNo := 0
	sawMode := false
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "mode:") {
			sawMode = true
			continue
		}
		key, b, err := parseProfileLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if existing, ok := blocks[key]; ok {
			existing.covered = existing.covered || b.covered
			continue
		}
		blocks[key] = &b
		order = append(order, key)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning cover profile: %w", err)
	}
	if !sawMode {
		return nil, fmt.Errorf("missing mode line")
	}

	byFile := make(map[string]*FileCoverage)
	missing := make(map[string]map[int]bool)
	for _, key := range order {
		b := blocks[key]
		fc, ok := byFile[key.file]
		if !ok {
			fc = &FileCoverage{Name: key.file}
			byFile[key.file] = fc
			missing[key.file] = make(map[int]bool)
		}
		fc.Statements += b.statements
		if b.covered {
			fc.Covered += b.statements
			continue
		}
		for l := b.startLine; l <= b.endLine; l++ {
			missing[key.file][l] = true
		}
	}

	p := &Profile{Format: FormatCoverprofile}
	for name, fc := range byFile {
		fc.Missing = sortedLines(missing[name])
		p.Files = append(p.Files, *fc)
	}
	p.sortFiles()
	return p, nil
}

// parseProfileLine parses "file.go:10.2,12.3 2 1".
func parseProfileLine(line string) (blockKey, block, error) {
	colon := strings.LastIndex(line, ":")
	if colon < 0 {
		return blockKey{}, block{}, fmt.Errorf("malformed record %q", line)
	}
	file, rest := line[:colon], line[colon+1:]
	fields := strings.Fields(rest)
	if len(fields) != 3 {
		return blockKey{}, block{}, fmt.Errorf("malformed record %q", line)
	}

	start, end, ok := strings.Cut(fields[0], ",")
	if !ok {
		return blockKey{}, block{}, fmt.Errorf("malformed position %q", fields[0])
	}
	startLine, err := positionLine(start)
	if err != nil {
		return blockKey{}, block{}, err
	}
	endLine, err := positionLine(end)
	if err != nil {
		return blockKey{}, block{}, err
	}
	stmts, err := strconv.Atoi(fields[1])
	if err != nil || stmts < 0 {
		return blockKey{}, block{}, fmt.Errorf("bad statement count %q", fields[1])
	}
	count, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || count < 0 {
		return blockKey{}, block{}, fmt.Errorf("bad hit count %q", fields[2])
	}

	return blockKey{file: file, pos: fields[0]},
		block{startLine: startLine, endLine: endLine, statements: stmts, covered: count > 0},
		nil
}

func positionLine(pos string) (int, error) {
	line, _, _ := strings.Cut(pos, ".")
	n, err := strconv.Atoi(line)
	if err != nil {
		return 0, fmt.Errorf("bad position %q", pos)
	}
	return n, nil
}

type pyReport struct {
	Files map[string]struct {
		Summary struct {
			CoveredLines  int `json:"covered_lines"`
			NumStatements int `json:"num_statements"`
		} `json:"summary"`
		MissingLines []int `json:"missing_lines"`
	} `json:"files"`
}

// ParseCoveragePy parses the output of `coverage json`. Only line coverage is
// read; branch data is ignored.
func ParseCoveragePy(r io.Reader) (*Profile, error) {
	var report pyReport
	if err := json.NewDecoder(r).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode coverage.py report: %w", err)
	}
	if report.Files == nil {
		return nil, fmt.Errorf("coverage.py report has no files section")
	}

	p := &Profile{Format: FormatCoveragePy}
	for name, f := range report.Files {
		if f.Summary.CoveredLines > f.Summary.NumStatements {
			return nil, fmt.Errorf("%s: covered lines exceed statements", name)
		}
		missing := append([]int(nil), f.MissingLines...)
		sort.Ints(missing)
		p.Files = append(p.Files, FileCoverage{
			Name:       name,
			Statements: f.Summary.NumStatements,
			Covered:    f.Summary.CoveredLines,
			Missing:    missing,
		})
	}
	p.sortFiles()
	return p, nil
}

func sortedLines(set map[int]bool) []int {
	if len(set) == 0 {
		return nil
	}
	out := make([]int, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}
