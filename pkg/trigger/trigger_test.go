package trigger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoosis/stepci/pkg/workflow"
)

func trunkOnly() workflow.Triggers {
	return workflow.Triggers{
		Push:        &workflow.BranchFilter{Branches: []string{"main"}},
		PullRequest: &workflow.BranchFilter{Branches: []string{"main"}},
	}
}

func TestMatch_TrunkFilter(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want bool
	}{
		{"push to main", Manual("push", "main", ""), true},
		{"push to feature", Manual("push", "feature/x", ""), false},
		{"pr into main", Manual("pull_request", "main", ""), true},
		{"pr into develop", Manual("pull_request", "develop", ""), false},
		{"pr closed", Event{Name: "pull_request", Action: "closed", BaseRef: "main"}, false},
		{"pr synchronize", Event{Name: "pull_request", Action: "synchronize", BaseRef: "main"}, true},
		{"tag push", Event{Name: "push", Ref: "refs/tags/v1.0.0"}, false},
		{"branch deletion", Event{Name: "push", Ref: "refs/heads/main", Deleted: true}, false},
		{"other event", Event{Name: "release", Ref: "refs/heads/main"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := Match(trunkOnly(), tt.ev)
			assert.Equal(t, tt.want, got, reason)
			if !got {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestMatch_UnconfiguredEvent(t *testing.T) {
	on := workflow.Triggers{Push: &workflow.BranchFilter{}}
	ok, reason := Match(on, Manual("pull_request", "main", ""))
	assert.False(t, ok)
	assert.Contains(t, reason, "no pull_request trigger")

	ok, _ = Match(on, Event{Name: "push", Ref: "refs/tags/v2"})
	assert.True(t, ok, "unfiltered push also fires for tags")
}

func TestMatch_Patterns(t *testing.T) {
	tests := []struct {
		name   string
		filter workflow.BranchFilter
		branch string
		want   bool
	}{
		{"star stops at slash", workflow.BranchFilter{Branches: []string{"release/*"}}, "release/1.0", true},
		{"star no nested", workflow.BranchFilter{Branches: []string{"release/*"}}, "release/1.0/hotfix", false},
		{"double star nested", workflow.BranchFilter{Branches: []string{"release/**"}}, "release/1.0/hotfix", true},
		{"negation wins later", workflow.BranchFilter{Branches: []string{"release/**", "!release/**-alpha"}}, "release/2-alpha", false},
		{"re-include after negation", workflow.BranchFilter{Branches: []string{"!main", "main"}}, "main", true},
		{"ignore list", workflow.BranchFilter{BranchesIgnore: []string{"dependabot/**"}}, "dependabot/pip/x", false},
		{"ignore list passes others", workflow.BranchFilter{BranchesIgnore: []string{"dependabot/**"}}, "main", true},
		{"empty filter", workflow.BranchFilter{}, "anything", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.filter
			got, _ := Match(workflow.Triggers{Push: &f}, Manual("push", tt.branch, ""))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatch_PullRequestTypes(t *testing.T) {
	on := workflow.Triggers{PullRequest: &workflow.BranchFilter{Types: []string{"closed"}}}
	ok, _ := Match(on, Event{Name: "pull_request", Action: "closed", BaseRef: "main"})
	assert.True(t, ok)
	ok, _ = Match(on, Event{Name: "pull_request", Action: "opened", BaseRef: "main"})
	assert.False(t, ok)
}

func TestEvent_Branch(t *testing.T) {
	assert.Equal(t, "main", Event{Name: "push", Ref: "refs/heads/main"}.Branch())
	assert.Equal(t, "main", Event{Name: "push", Ref: "main"}.Branch())
	assert.Equal(t, "", Event{Name: "push", Ref: "refs/tags/v1"}.Branch())
	assert.Equal(t, "main", Event{Name: "pull_request", BaseRef: "main", HeadRef: "feature"}.Branch())
}

const pushPayload = `{"ref":"refs/heads/main","after":"0123abcd","deleted":false,"repository":{"full_name":"acme/travel"}}`

const prPayload = `{"action":"synchronize","pull_request":{"number":7,"base":{"ref":"main"},"head":{"ref":"feature/maps","sha":"fedc9876"}}}`

func TestFromPayload(t *testing.T) {
	ev, err := FromPayload("push", []byte(pushPayload), "d-1")
	require.NoError(t, err)
	assert.Equal(t, Event{Name: "push", Ref: "refs/heads/main", SHA: "0123abcd", DeliveryID: "d-1"}, ev)

	ev, err = FromPayload("pull_request", []byte(prPayload), "d-2")
	require.NoError(t, err)
	assert.Equal(t, "synchronize", ev.Action)
	assert.Equal(t, "main", ev.BaseRef)
	assert.Equal(t, "feature/maps", ev.HeadRef)
	assert.Equal(t, "fedc9876", ev.SHA)

	_, err = FromPayload("issues", []byte(`{"action":"opened"}`), "d-3")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedEvent)

	_, err = FromPayload("push", []byte(`{not json`), "d-4")
	require.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	t.Run("github payload", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "event.json")
		require.NoError(t, os.WriteFile(path, []byte(prPayload), 0o600))
		env := map[string]string{"GITHUB_EVENT_NAME": "pull_request", "GITHUB_EVENT_PATH": path}

		ev, ok, err := FromEnv(func(k string) string { return env[k] })
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "main", ev.Branch())
	})

	t.Run("github refs without payload", func(t *testing.T) {
		env := map[string]string{"GITHUB_EVENT_NAME": "push", "GITHUB_REF": "refs/heads/main", "GITHUB_SHA": "abc"}
		ev, ok, err := FromEnv(func(k string) string { return env[k] })
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "main", ev.Branch())
		assert.Equal(t, "abc", ev.SHA)
	})

	t.Run("stepci fallback", func(t *testing.T) {
		env := map[string]string{"STEPCI_EVENT": "pull_request", "STEPCI_BASE_REF": "main"}
		ev, ok, err := FromEnv(func(k string) string { return env[k] })
		require.NoError(t, err)
		require.True(t, ok)
		matched, _ := Match(trunkOnly(), ev)
		assert.True(t, matched)
	})

	t.Run("unsupported event with payload", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "event.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"ref":"refs/heads/main","inputs":{}}`), 0o600))
		env := map[string]string{"GITHUB_EVENT_NAME": "workflow_dispatch", "GITHUB_EVENT_PATH": path}
		ev, ok, err := FromEnv(func(k string) string { return env[k] })
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "workflow_dispatch", ev.Name)
		matched, reason := Match(trunkOnly(), ev)
		assert.False(t, matched)
		assert.Contains(t, reason, "not supported")
	})

	t.Run("absent", func(t *testing.T) {
		_, ok, err := FromEnv(func(string) string { return "" })
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestDeduper_OncePerDelivery(t *testing.T) {
	d := NewDeduper(8)
	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !d.Seen("delivery-1") {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fresh)
	assert.False(t, d.Seen(""), "empty ids are never deduplicated")
}

func TestDeduper_Eviction(t *testing.T) {
	d := NewDeduper(3)
	for i := 0; i < 4; i++ {
		assert.False(t, d.Seen(fmt.Sprintf("id-%d", i)))
	}
	assert.False(t, d.Seen("id-0"), "oldest id was evicted")
	assert.True(t, d.Seen("id-3"))

	d.Forget("id-3")
	assert.False(t, d.Seen("id-3"))
}
