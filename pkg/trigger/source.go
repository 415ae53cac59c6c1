package trigger

import (
	"errors"
	"os"

	"github.com/google/go-github/v68/github"
	"github.com/m-mizutani/goerr/v2"

	"github.com/dkoosis/stepci/pkg/workflow"
)

// ErrUnsupportedEvent is returned for payloads of event types that never trigger.
var ErrUnsupportedEvent = errors.New("unsupported event type")

// FromPayload decodes a GitHub webhook payload into an Event.
func FromPayload(name string, payload []byte, deliveryID string) (Event, error) {
	if name != workflow.EventPush && name != workflow.EventPullRequest {
		return Event{}, goerr.Wrap(ErrUnsupportedEvent, "cannot build trigger", goerr.V("event", name))
	}
	parsed, err := github.ParseWebHook(name, payload)
	if err != nil {
		return Event{}, goerr.Wrap(err, "parse webhook payload", goerr.V("event", name))
	}

	ev := Event{Name: name, DeliveryID: deliveryID}
	switch e := parsed.(type) {
	case *github.PushEvent:
		ev.Ref = e.GetRef()
		ev.SHA = e.GetAfter()
		ev.Deleted = e.GetDeleted()
	case *github.PullRequestEvent:
		pr := e.GetPullRequest()
		ev.Action = e.GetAction()
		ev.BaseRef = pr.GetBase().GetRef()
		ev.HeadRef = pr.GetHead().GetRef()
		ev.SHA = pr.GetHead().GetSHA()
	default:
		return Event{}, goerr.Wrap(ErrUnsupportedEvent, "cannot build trigger", goerr.V("event", name))
	}
	return ev, nil
}

// FromEnv resolves the event from the environment of a hosted CI runner.
// GITHUB_EVENT_NAME with GITHUB_EVENT_PATH is preferred; STEPCI_EVENT with
// STEPCI_REF / STEPCI_BASE_REF / STEPCI_SHA is the plain fallback. ok is false
// when neither is present.
func FromEnv(getenv func(string) string) (ev Event, ok bool, err error) {
	if name := getenv("GITHUB_EVENT_NAME"); name != "" {
		if path := getenv("GITHUB_EVENT_PATH"); path != "" {
			payload, err := os.ReadFile(path)
			if err != nil {
				return Event{}, false, goerr.Wrap(err, "read event payload", goerr.V("path", path))
			}
			ev, err := FromPayload(name, payload, "")
			if errors.Is(err, ErrUnsupportedEvent) {
				// Carried as a bare event so matching reports it as not triggered.
				return Event{Name: name, SHA: getenv("GITHUB_SHA")}, true, nil
			}
			if err != nil {
				return Event{}, false, err
			}
			return ev, true, nil
		}
		ev := Event{Name: name, SHA: getenv("GITHUB_SHA")}
		if name == workflow.EventPullRequest {
			ev.Action = "opened"
			ev.BaseRef = getenv("GITHUB_BASE_REF")
			ev.HeadRef = getenv("GITHUB_HEAD_REF")
		} else {
			ev.Ref = getenv("GITHUB_REF")
		}
		return ev, true, nil
	}

	name := getenv("STEPCI_EVENT")
	if name == "" {
		return Event{}, false, nil
	}
	branch := getenv("STEPCI_REF")
	if name == workflow.EventPullRequest {
		branch = getenv("STEPCI_BASE_REF")
	}
	return Manual(name, branch, getenv("STEPCI_SHA")), true, nil
}

// ValidateSignature checks an X-Hub-Signature-256 header against the payload.
func ValidateSignature(signature string, payload []byte, secret string) error {
	if err := github.ValidateSignature(signature, payload, []byte(secret)); err != nil {
		return goerr.Wrap(err, "invalid webhook signature")
	}
	return nil
}
