package runner

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// shellCommand returns the argv that runs the script at path under shell.
func shellCommand(shell, path string) ([]string, string, error) {
	var tmpl string
	switch shell {
	case "", "bash":
		tmpl = "bash --noprofile --norc -eo pipefail {0}"
	case "sh":
		tmpl = "sh -e {0}"
	case "python":
		tmpl = "python {0}"
	default:
		if !strings.Contains(shell, "{0}") {
			return nil, "", goerr.New("unsupported shell; a custom shell needs a {0} placeholder", goerr.V("shell", shell))
		}
		tmpl = shell
	}
	fields := strings.Fields(tmpl)
	for i, f := range fields {
		fields[i] = strings.ReplaceAll(f, "{0}", path)
	}
	return fields, tmpl, nil
}

func scriptExt(shell string) string {
	if shell == "python" {
		return ".py"
	}
	return ".sh"
}
