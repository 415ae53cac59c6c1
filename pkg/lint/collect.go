// Package lint selects the source files a static linter checks and summarizes
// the diagnostics it prints.
package lint

import (
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dkoosis/stepci/pkg/glob"
)

// DefaultInclude selects Python sources, the language of the reference pipeline.
var DefaultInclude = []string{"**/*.py"}

// skipDirs are never walked.
var skipDirs = map[string]bool{".git": true, ".hg": true, ".svn": true}

// Selector decides which files under a root are linted.
type Selector struct {
	include []*glob.Pattern
	exclude []excludeRule
}

// excludeRule is an exclude pattern. A pattern without a slash matches a path
// component at any depth, so "migrations" excludes every migrations directory.
type excludeRule struct {
	pattern  *glob.Pattern
	basename bool
}

// NewSelector compiles include and exclude patterns. Patterns containing a
// slash are matched against slash-separated paths relative to the walk root.
func NewSelector(include, exclude []string) (*Selector, error) {
	if len(include) == 0 {
		include = DefaultInclude
	}
	s := &Selector{}
	for _, p := range include {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, goerr.Wrap(err, "include pattern", goerr.V("pattern", p))
		}
		s.include = append(s.include, g)
	}
	for _, p := range exclude {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, goerr.Wrap(err, "exclude pattern", goerr.V("pattern", p))
		}
		s.exclude = append(s.exclude, excludeRule{pattern: g, basename: !strings.Contains(p, "/")})
	}
	return s, nil
}

// Excluded reports whether rel, or any directory above it, is excluded.
func (s *Selector) Excluded(rel string) bool {
	rel = filepath.ToSlash(rel)
	for {
		for _, r := range s.exclude {
			if r.basename {
				if r.pattern.Match(path.Base(rel)) {
					return true
				}
				continue
			}
			if r.pattern.Match(rel) || r.pattern.Match(rel+"/") {
				return true
			}
		}
		i := strings.LastIndex(rel, "/")
		if i < 0 {
			return false
		}
		rel = rel[:i]
	}
}

// Included reports whether rel is selected for linting.
func (s *Selector) Included(rel string) bool {
	rel = filepath.ToSlash(rel)
	if s.Excluded(rel) {
		return false
	}
	for _, g := range s.include {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// Collect walks root and returns the sorted relative paths of the selected
// files. Excluded directories are pruned, so nothing beneath them is visited.
func (s *Selector) Collect(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(walked string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, walked)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if skipDirs[d.Name()] || s.Excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && s.Included(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "collect lint files", goerr.V("root", root))
	}
	sort.Strings(files)
	return files, nil
}

// Collect is NewSelector followed by Selector.Collect.
func Collect(root string, include, exclude []string) ([]string, error) {
	s, err := NewSelector(include, exclude)
	if err != nil {
		return nil, err
	}
	return s.Collect(root)
}
