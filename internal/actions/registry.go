// Package actions holds the built-in steps a workflow can reference with
// `uses`. Names resolve by the part before "@", so "actions/checkout@v4" and
// "checkout" name the same action.
package actions

import (
	"errors"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dkoosis/stepci/internal/runner"
)

// ErrUnknownAction is returned by Resolve for names nothing is registered under.
var ErrUnknownAction = errors.New("unknown action")

// Registry maps action names to implementations.
type Registry struct {
	actions map[string]runner.Action
}

var _ runner.Resolver = (*Registry)(nil)

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]runner.Action)}
}

// Builtin returns a registry holding every built-in action and its aliases.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register(&Checkout{}, "checkout", "actions/checkout")
	r.Register(&SetupRuntime{}, "setup-runtime")
	r.Register(&SetupRuntime{Runtime: "python"}, "setup-python", "actions/setup-python")
	r.Register(&SetupRuntime{Runtime: "go"}, "setup-go", "actions/setup-go")
	r.Register(&SetupRuntime{Runtime: "node"}, "setup-node", "actions/setup-node")
	r.Register(&CoverageGate{}, "coverage-gate")
	r.Register(&CoverageHTML{}, "coverage-html")
	r.Register(&Lint{}, "lint")
	return r
}

// Register adds a under every given name. Later registrations win.
func (r *Registry) Register(a runner.Action, names ...string) {
	for _, n := range names {
		r.actions[strings.ToLower(n)] = a
	}
}

// Resolve returns the action named by a `uses` value.
func (r *Registry) Resolve(uses string) (runner.Action, error) {
	name, _, _ := strings.Cut(strings.TrimSpace(uses), "@")
	if a, ok := r.actions[strings.ToLower(name)]; ok {
		return a, nil
	}
	return nil, goerr.Wrap(ErrUnknownAction, "resolve", goerr.V("uses", uses))
}

// Names lists the registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.actions))
	for n := range r.actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
