package runner

import (
	"bufio"
	"bytes"
	"os"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

type keyValue struct {
	Key   string
	Value string
}

// parseEnvFile reads `KEY=value` lines and `KEY<<DELIM` heredocs, the format
// steps append to $GITHUB_ENV and $GITHUB_OUTPUT.
func parseEnvFile(data []byte) ([]keyValue, error) {
	var out []keyValue
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSuffix(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		eq := strings.Index(line, "=")
		hd := strings.Index(line, "<<")
		if hd > 0 && (eq < 0 || hd < eq) {
			key, delim := line[:hd], line[hd+2:]
			if delim == "" {
				return nil, goerr.New("empty heredoc delimiter", goerr.V("line", lineNo))
			}
			var body []string
			closed := false
			for sc.Scan() {
				lineNo++
				l := strings.TrimSuffix(sc.Text(), "\r")
				if l == delim {
					closed = true
					break
				}
				body = append(body, l)
			}
			if !closed {
				return nil, goerr.New("unterminated heredoc", goerr.V("key", key), goerr.V("delimiter", delim))
			}
			out = append(out, keyValue{Key: key, Value: strings.Join(body, "\n")})
			continue
		}
		if eq <= 0 {
			return nil, goerr.New("malformed line", goerr.V("line", lineNo), goerr.V("text", line))
		}
		out = append(out, keyValue{Key: line[:eq], Value: line[eq+1:]})
	}
	if err := sc.Err(); err != nil {
		return nil, goerr.Wrap(err, "scan env file")
	}
	return out, nil
}

// readEnvFile parses the file at path. A missing or empty file yields nothing.
func readEnvFile(path string) ([]keyValue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "read env file", goerr.V("path", path))
	}
	kvs, err := parseEnvFile(data)
	if err != nil {
		return nil, goerr.Wrap(err, "parse env file", goerr.V("path", path))
	}
	return kvs, nil
}

// readPathFile returns the non-empty lines of the file at path.
func readPathFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "read path file", goerr.V("path", path))
	}
	var dirs []string
	for _, l := range strings.Split(string(data), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			dirs = append(dirs, l)
		}
	}
	return dirs, nil
}

// envMap turns KEY=value entries into a map. Later entries win.
func envMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}

// mergeEnv layers the given maps over base. Later layers win.
func mergeEnv(base map[string]string, layers ...map[string]string) map[string]string {
	out := make(map[string]string, len(base))
	for k, v := range base {
		out[k] = v
	}
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}

// environ renders m as sorted KEY=value entries.
func environ(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}
