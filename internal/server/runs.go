package server

import (
	"sync"
	"time"

	"github.com/dkoosis/stepci/internal/runner"
	"github.com/dkoosis/stepci/pkg/trigger"
)

// Run states reported by GET /runs/{id}.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusFinished  = "finished"
	StatusCancelled = "cancelled"
)

// Run is one queued or executed run.
type Run struct {
	ID         string         `json:"id"`
	DeliveryID string         `json:"delivery_id,omitempty"`
	Event      trigger.Event  `json:"event"`
	Status     string         `json:"status"`
	ExitCode   int            `json:"exit_code"`
	Error      string         `json:"error,omitempty"`
	QueuedAt   time.Time      `json:"queued_at"`
	StartedAt  time.Time      `json:"started_at,omitzero"`
	FinishedAt time.Time      `json:"finished_at,omitzero"`
	Result     *runner.Result `json:"result,omitempty"`
}

func (r *Run) terminal() bool {
	return r.Status == StatusFinished || r.Status == StatusCancelled
}

// registry keeps the most recent runs in memory. Once over capacity the
// oldest finished runs are dropped.
type registry struct {
	mu    sync.Mutex
	max   int
	order []string
	runs  map[string]*Run
}

func newRegistry(max int) *registry {
	return &registry{max: max, runs: map[string]*Run{}}
}

func (g *registry) add(r *Run) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runs[r.ID] = r
	g.order = append(g.order, r.ID)
	for len(g.order) > g.max {
		if !g.evictOne() {
			break
		}
	}
}

func (g *registry) evictOne() bool {
	for i, id := range g.order {
		if g.runs[id].terminal() {
			delete(g.runs, id)
			g.order = append(g.order[:i], g.order[i+1:]...)
			return true
		}
	}
	return false
}

func (g *registry) remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.runs, id)
	for i, v := range g.order {
		if v == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

func (g *registry) update(id string, fn func(*Run)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.runs[id]; ok {
		fn(r)
	}
}

func (g *registry) get(id string) (Run, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.runs[id]
	if !ok {
		return Run{}, false
	}
	return *r, true
}

// list returns the runs newest first.
func (g *registry) list() []Run {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Run, 0, len(g.order))
	for i := len(g.order) - 1; i >= 0; i-- {
		r := *g.runs[g.order[i]]
		r.Result = nil
		out = append(out, r)
	}
	return out
}
