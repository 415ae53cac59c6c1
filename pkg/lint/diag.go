package lint

import (
	"fmt"
	"sort"
	"strings"
)

// Diagnostic is one finding printed by a linter.
type Diagnostic struct {
	File    string
	Line    int
	Col     int
	Message string
}

// ParseDiagLine parses the common diagnostic layouts:
//  1. file:line:col: message
//  2. file:line: message
//
// Windows drive-letter prefixes (C:\path\file.py:10:5: msg) are kept on the
// file. ok is false for lines in neither layout.
func ParseDiagLine(line string) (Diagnostic, bool) {
	rest := line
	var prefix string

	if len(rest) >= 3 && rest[1] == ':' && (rest[2] == '\\' || rest[2] == '/') {
		prefix = rest[:2]
		rest = rest[2:]
	}

	parts := strings.SplitN(rest, ":", 4)
	if len(parts) >= 4 {
		var l, c int
		if _, err := fmt.Sscanf(parts[1], "%d", &l); err == nil {
			if _, err := fmt.Sscanf(parts[2], "%d", &c); err == nil {
				return Diagnostic{File: prefix + parts[0], Line: l, Col: c, Message: strings.TrimSpace(parts[3])}, validFile(parts[0])
			}
		}
	}
	if len(parts) >= 3 {
		var l int
		if _, err := fmt.Sscanf(parts[1], "%d", &l); err == nil {
			return Diagnostic{File: prefix + parts[0], Line: l, Message: strings.TrimSpace(strings.Join(parts[2:], ":"))}, validFile(parts[0])
		}
	}
	return Diagnostic{}, false
}

func validFile(name string) bool {
	return name != "" && !strings.ContainsAny(name, " \t")
}

// Summary tallies diagnostics per file.
type Summary struct {
	Total       int
	ByFile      map[string]int
	Diagnostics []Diagnostic
	// Dropped counts diagnostics discarded because their file is excluded.
	Dropped int
}

// Summarize parses linter output lines. Diagnostics reported against excluded
// files are dropped; sel may be nil.
func Summarize(lines []string, sel *Selector) Summary {
	s := Summary{ByFile: make(map[string]int)}
	for _, line := range lines {
		d, ok := ParseDiagLine(line)
		if !ok {
			continue
		}
		if sel != nil && sel.Excluded(strings.TrimPrefix(d.File, "./")) {
			s.Dropped++
			continue
		}
		s.Total++
		s.ByFile[d.File]++
		s.Diagnostics = append(s.Diagnostics, d)
	}
	return s
}

// FileCount is a file and its number of findings.
type FileCount struct {
	File  string
	Count int
}

// TopFiles returns files sorted by finding count, highest first. limit <= 0
// returns all.
func (s Summary) TopFiles(limit int) []FileCount {
	files := make([]FileCount, 0, len(s.ByFile))
	for f, n := range s.ByFile {
		files = append(files, FileCount{File: f, Count: n})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].Count != files[j].Count {
			return files[i].Count > files[j].Count
		}
		return files[i].File < files[j].File
	})
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files
}
