package trigger

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dkoosis/stepci/pkg/glob"
	"github.com/dkoosis/stepci/pkg/workflow"
)

// defaultPullRequestTypes are the activity types that trigger when a
// pull_request filter lists none.
var defaultPullRequestTypes = []string{"opened", "synchronize", "reopened"}

// Match reports whether the event triggers a workflow with the given triggers.
// When it does not, reason says why.
func Match(on workflow.Triggers, ev Event) (bool, string) {
	var filter *workflow.BranchFilter
	switch ev.Name {
	case workflow.EventPush:
		filter = on.Push
		if ev.Deleted {
			return false, "push deletes the branch"
		}
	case workflow.EventPullRequest:
		filter = on.PullRequest
		if filter != nil {
			types := filter.Types
			if len(types) == 0 {
				types = defaultPullRequestTypes
			}
			if !slices.Contains(types, ev.Action) {
				return false, fmt.Sprintf("pull_request action %q is not in %v", ev.Action, types)
			}
		}
	default:
		return false, fmt.Sprintf("event %q is not supported", ev.Name)
	}
	if filter == nil {
		return false, fmt.Sprintf("workflow has no %s trigger", ev.Name)
	}

	branch := ev.Branch()
	if branch == "" {
		if len(filter.Branches) == 0 && len(filter.BranchesIgnore) == 0 && ev.Name == workflow.EventPush {
			return true, ""
		}
		return false, "event has no branch to filter on"
	}
	if !branchAllowed(filter, branch) {
		return false, fmt.Sprintf("branch %q is filtered out", branch)
	}
	return true, ""
}

func branchAllowed(f *workflow.BranchFilter, branch string) bool {
	if len(f.BranchesIgnore) > 0 {
		for _, p := range f.BranchesIgnore {
			if glob.Match(p, branch) {
				return false
			}
		}
		return true
	}
	if len(f.Branches) == 0 {
		return true
	}
	// Patterns apply in order; a later negation overrides an earlier match.
	allowed := false
	for _, p := range f.Branches {
		if neg, ok := strings.CutPrefix(p, "!"); ok {
			if glob.Match(neg, branch) {
				allowed = false
			}
			continue
		}
		if glob.Match(p, branch) {
			allowed = true
		}
	}
	return allowed
}
