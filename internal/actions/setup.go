package actions

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dkoosis/stepci/internal/runner"
)

// runtimeSpec describes how to find and probe one language runtime.
type runtimeSpec struct {
	// cacheNames are the tool cache directory names, e.g. "Python".
	cacheNames   []string
	executables  []string
	versionArgs  []string
	versionInput string
}

var runtimes = map[string]runtimeSpec{
	"python": {
		cacheNames:   []string{"Python", "python"},
		executables:  []string{"python3", "python"},
		versionArgs:  []string{"--version"},
		versionInput: "python-version",
	},
	"go": {
		cacheNames:   []string{"go", "Go"},
		executables:  []string{"go"},
		versionArgs:  []string{"version"},
		versionInput: "go-version",
	},
	"node": {
		cacheNames:   []string{"node", "Node"},
		executables:  []string{"node"},
		versionArgs:  []string{"--version"},
		versionInput: "node-version",
	},
}

var versionPattern = regexp.MustCompile(`\d+(?:\.\d+)+`)

// SetupRuntime puts a pinned runtime version first on the job PATH.
//
// Inputs: runtime (unless fixed by the alias), version or the runtime's
// <runtime>-version input.
type SetupRuntime struct {
	Runtime string
}

func (s *SetupRuntime) Run(ctx context.Context, sc *runner.StepContext) error {
	name := s.Runtime
	if name == "" {
		name = strings.ToLower(sc.Input("runtime", ""))
	}
	spec, ok := runtimes[name]
	if !ok {
		return goerr.New("unsupported runtime", goerr.V("runtime", name))
	}
	want := sc.Input(spec.versionInput, sc.Input("version", ""))
	if want == "" {
		return goerr.New("no version requested", goerr.V("runtime", name), goerr.V("input", spec.versionInput))
	}

	var probed []string
	for _, dir := range candidateDirs(spec, sc.ToolCache, sc.Env["PATH"]) {
		for _, exe := range spec.executables {
			path := filepath.Join(dir, exe)
			if !isExecutable(path) {
				continue
			}
			got := probeVersion(ctx, sc, path, spec.versionArgs)
			probed = append(probed, path+"="+got)
			if got == "" || !versionMatches(want, got) {
				continue
			}
			sc.AddPath(dir)
			root := dir
			if filepath.Base(dir) == "bin" {
				root = filepath.Dir(dir)
			}
			sc.SetEnv(name+"Location", root)
			sc.SetOutput("version", got)
			sc.SetOutput(name+"-path", path)
			sc.Printf("Using %s %s from %s", name, got, path)
			return nil
		}
	}
	return goerr.New("requested runtime version not found",
		goerr.V("runtime", name), goerr.V("version", want), goerr.V("probed", probed))
}

// candidateDirs lists tool cache bin directories, newest version first, then
// the PATH entries.
func candidateDirs(spec runtimeSpec, toolCache, pathEnv string) []string {
	var dirs []string
	seen := map[string]bool{}
	add := func(d string) {
		if d != "" && !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}

	if toolCache != "" {
		var cached []string
		for _, n := range spec.cacheNames {
			for _, pattern := range []string{
				filepath.Join(toolCache, n, "*", "bin"),
				filepath.Join(toolCache, n, "*", "*", "bin"),
			} {
				matches, _ := filepath.Glob(pattern)
				cached = append(cached, matches...)
			}
		}
		sort.SliceStable(cached, func(i, j int) bool {
			return compareVersions(cacheVersion(toolCache, cached[i]), cacheVersion(toolCache, cached[j])) > 0
		})
		for _, d := range cached {
			add(d)
		}
	}
	for _, d := range filepath.SplitList(pathEnv) {
		add(d)
	}
	return dirs
}

// cacheVersion extracts the version directory from <cache>/<name>/<version>/...
func cacheVersion(toolCache, dir string) string {
	rel, err := filepath.Rel(toolCache, dir)
	if err != nil {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func probeVersion(ctx context.Context, sc *runner.StepContext, exe string, args []string) string {
	var found string
	code, err := sc.Exec(ctx, "", append([]string{exe}, args...), func(line string) {
		if found == "" {
			found = versionPattern.FindString(line)
		}
	})
	if err != nil || code != 0 {
		return ""
	}
	return found
}

// versionMatches reports whether got satisfies the requested version. Each
// dotted component of want must equal the same component of got, so "3.8"
// matches "3.8.10" but not "3.80.1". An "x" or "*" component matches anything.
func versionMatches(want, got string) bool {
	want = strings.TrimPrefix(strings.TrimSpace(want), "v")
	got = strings.TrimPrefix(strings.TrimSpace(got), "v")
	w := strings.Split(want, ".")
	g := strings.Split(got, ".")
	if len(w) > len(g) {
		return false
	}
	for i := range w {
		if w[i] == "x" || w[i] == "*" {
			continue
		}
		if w[i] != g[i] {
			return false
		}
	}
	return true
}

// compareVersions orders dotted versions numerically. Non-numeric components
// compare as strings.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y string
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		xi, errX := strconv.Atoi(x)
		yi, errY := strconv.Atoi(y)
		switch {
		case errX == nil && errY == nil:
			if xi != yi {
				if xi < yi {
					return -1
				}
				return 1
			}
		case x != y:
			return strings.Compare(x, y)
		}
	}
	return 0
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir() && fi.Mode()&0o111 != 0
}
