package runner

import (
	"regexp"
	"runtime"
	"strings"
)

var exprPattern = regexp.MustCompile(`\$\{\{\s*(.*?)\s*\}\}`)

// exprContext holds the values `${{ ... }}` expressions can read.
type exprContext struct {
	env     map[string]string
	github  map[string]string
	runner  map[string]string
	outputs map[string]map[string]string
}

// expand replaces every `${{ ctx.key }}` expression in s. Unknown contexts and
// missing keys expand to the empty string.
func (c *exprContext) expand(s string) string {
	if !strings.Contains(s, "${{") {
		return s
	}
	return exprPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := exprPattern.FindStringSubmatch(m)
		return c.lookup(sub[1])
	})
}

func (c *exprContext) expandMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = c.expand(v)
	}
	return out
}

func (c *exprContext) lookup(expr string) string {
	scope, rest, ok := strings.Cut(expr, ".")
	if !ok {
		return ""
	}
	switch scope {
	case "env":
		return c.env[rest]
	case "github":
		return c.github[rest]
	case "runner":
		return c.runner[rest]
	case "steps":
		// steps.<id>.outputs.<key>
		id, tail, ok := strings.Cut(rest, ".outputs.")
		if !ok {
			return ""
		}
		return c.outputs[id][tail]
	}
	return ""
}

func runnerOS() string {
	switch runtime.GOOS {
	case "linux":
		return "Linux"
	case "darwin":
		return "macOS"
	case "windows":
		return "Windows"
	}
	return runtime.GOOS
}

func runnerArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "X64"
	case "386":
		return "X86"
	case "arm64":
		return "ARM64"
	case "arm":
		return "ARM"
	}
	return strings.ToUpper(runtime.GOARCH)
}
