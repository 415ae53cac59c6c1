// Package trigger decides whether a source-control event starts a workflow.
package trigger

import (
	"strings"

	"github.com/dkoosis/stepci/pkg/workflow"
)

// Event is the read-only trigger input of a run.
type Event struct {
	// Name is the event type: "push" or "pull_request".
	Name string `json:"name"`

	// Action is the pull request activity type, e.g. "opened".
	Action string `json:"action,omitempty"`

	// Ref is the pushed ref for push events, e.g. "refs/heads/main".
	Ref string `json:"ref,omitempty"`

	// BaseRef and HeadRef are the target and source branches of a pull request.
	BaseRef string `json:"base_ref,omitempty"`
	HeadRef string `json:"head_ref,omitempty"`

	// SHA is the commit to build.
	SHA string `json:"sha,omitempty"`

	// DeliveryID uniquely identifies a webhook delivery.
	DeliveryID string `json:"delivery_id,omitempty"`

	// Deleted is set for pushes that delete the ref.
	Deleted bool `json:"deleted,omitempty"`
}

// Branch returns the branch judged by branch filters: the base branch of a pull
// request, or the pushed branch. Tag pushes have no branch.
func (e Event) Branch() string {
	switch e.Name {
	case workflow.EventPullRequest:
		return strings.TrimPrefix(e.BaseRef, "refs/heads/")
	case workflow.EventPush:
		if strings.HasPrefix(e.Ref, "refs/heads/") {
			return strings.TrimPrefix(e.Ref, "refs/heads/")
		}
		if strings.HasPrefix(e.Ref, "refs/") {
			return ""
		}
		return e.Ref
	default:
		return ""
	}
}

// Manual builds an event for CLI-driven runs.
func Manual(name, branch, sha string) Event {
	e := Event{Name: name, SHA: sha}
	switch name {
	case workflow.EventPullRequest:
		e.Action = "opened"
		e.BaseRef = branch
	default:
		e.Ref = qualifyBranch(branch)
	}
	return e
}

func qualifyBranch(branch string) string {
	if branch == "" || strings.HasPrefix(branch, "refs/") {
		return branch
	}
	return "refs/heads/" + branch
}
