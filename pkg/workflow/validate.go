package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dkoosis/stepci/pkg/glob"
)

// ErrInvalid marks every parse or validation failure.
var ErrInvalid = errors.New("invalid workflow")

// Validate checks structural rules. All problems are reported at once, each
// wrapping ErrInvalid.
func (w *Workflow) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	if w.On.Push == nil && w.On.PullRequest == nil {
		add("no push or pull_request trigger configured")
	}
	filters := []struct {
		name   string
		filter *BranchFilter
	}{{EventPush, w.On.Push}, {EventPullRequest, w.On.PullRequest}}
	for _, ef := range filters {
		name, f := ef.name, ef.filter
		if f == nil {
			continue
		}
		if len(f.Branches) > 0 && len(f.BranchesIgnore) > 0 {
			add("%s: branches and branches-ignore cannot both be set", name)
		}
		for _, p := range append(append([]string{}, f.Branches...), f.BranchesIgnore...) {
			if _, err := glob.Compile(strings.TrimPrefix(p, "!")); err != nil {
				add("%s: branch pattern %q: %v", name, p, err)
			}
		}
		if name == EventPush && len(f.Types) > 0 {
			add("push: types filter is only valid for pull_request")
		}
	}

	if len(w.Jobs) == 0 {
		add("no jobs defined")
	}
	for _, job := range w.Jobs {
		if len(job.Steps) == 0 {
			add("job %q has no steps", job.ID)
		}
		if job.TimeoutMinutes < 0 {
			add("job %q: timeout-minutes must not be negative", job.ID)
		}
		ids := make(map[string]bool)
		for i, step := range job.Steps {
			label := stepLabel(job, i)
			switch {
			case step.Uses == "" && step.Run == "":
				add("step %s: one of uses or run is required", label)
			case step.Uses != "" && step.Run != "":
				add("step %s: uses and run are mutually exclusive", label)
			}
			if step.Uses != "" && step.Shell != "" {
				add("step %s: shell only applies to run steps", label)
			}
			if step.TimeoutMinutes < 0 {
				add("step %s: timeout-minutes must not be negative", label)
			}
			if step.ID != "" {
				if ids[step.ID] {
					add("step %s: duplicate id %q", label, step.ID)
				}
				ids[step.ID] = true
			}
		}
	}

	return errors.Join(errs...)
}

// Warnings lists non-fatal issues: triggers that are accepted by the format but
// never fire here.
func (w *Workflow) Warnings() []string {
	var out []string
	for _, ev := range w.Unsupported {
		out = append(out, fmt.Sprintf("trigger %q is ignored (only push and pull_request fire)", ev))
	}
	return out
}
