package runner

import (
	"os"
	"path/filepath"
	"strings"
)

// jobState carries what earlier steps of a job hand to later ones.
type jobState struct {
	env     map[string]string
	path    []string
	outputs map[string]map[string]string
}

func newJobState() *jobState {
	return &jobState{env: map[string]string{}, outputs: map[string]map[string]string{}}
}

// prependPath puts dir first on PATH, dropping an earlier copy.
func (s *jobState) prependPath(dir string) {
	out := []string{dir}
	for _, d := range s.path {
		if d != dir {
			out = append(out, d)
		}
	}
	s.path = out
}

func (s *jobState) setOutput(stepID, key, value string) {
	m := s.outputs[stepID]
	if m == nil {
		m = map[string]string{}
		s.outputs[stepID] = m
	}
	m[key] = value
}

// pathValue returns PATH with the job's added directories in front of base.
func (s *jobState) pathValue(base string) string {
	if len(s.path) == 0 {
		return base
	}
	parts := append([]string(nil), s.path...)
	if base != "" {
		parts = append(parts, base)
	}
	return strings.Join(parts, string(os.PathListSeparator))
}

// lookPath finds an executable on pathEnv rather than on this process's PATH.
func lookPath(name, pathEnv string) (string, bool) {
	if strings.ContainsRune(name, filepath.Separator) {
		return name, true
	}
	for _, dir := range filepath.SplitList(pathEnv) {
		if dir == "" {
			dir = "."
		}
		p := filepath.Join(dir, name)
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() && fi.Mode()&0o111 != 0 {
			return p, true
		}
	}
	return "", false
}
