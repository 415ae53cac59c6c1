package runner

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dkoosis/stepci/pkg/trigger"
)

// Status is the lifecycle state of a step, a job or a whole run.
type Status int

const (
	// Pending indicates the step has not started yet.
	Pending Status = iota
	// Running indicates the step is executing.
	Running
	// Success indicates a zero exit code.
	Success
	// Failed indicates the step failed to start or exited non-zero.
	Failed
	// Skipped indicates the step never started because an earlier one failed.
	Skipped
	// NotTriggered indicates the event did not match the workflow triggers.
	NotTriggered
)

var statusNames = [...]string{"pending", "running", "success", "failed", "skipped", "not-triggered"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalJSON writes the status name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON reads a status name written by MarshalJSON.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range statusNames {
		if n == name {
			*s = Status(i)
			return nil
		}
	}
	return goerr.New("unknown status", goerr.V("status", name))
}

// EventType distinguishes emitted runner events.
type EventType int

const (
	EventStepStarted EventType = iota
	EventStepOutput
	EventStepFinished
	EventJobFinished
)

// Event captures step lifecycle milestones and output lines.
type Event struct {
	Type      EventType
	RunID     string
	JobID     string
	StepIndex int
	StepName  string
	Line      string
	Status    Status
	ExitCode  int
	When      time.Time
}

// StepResult is the outcome of one step.
type StepResult struct {
	JobID      string        `json:"job"`
	Index      int           `json:"index"`
	ID         string        `json:"id,omitempty"`
	Name       string        `json:"name"`
	Status     Status        `json:"status"`
	ExitCode   int           `json:"exit_code"`
	Duration   time.Duration `json:"duration_ns"`
	OutputTail []string      `json:"output_tail,omitempty"`
	Err        error         `json:"-"`
	Error      string        `json:"error,omitempty"`
}

// Result aggregates a run.
type Result struct {
	RunID      string        `json:"run_id"`
	Workflow   string        `json:"workflow"`
	Event      trigger.Event `json:"event"`
	Status     Status        `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	ExitCode   int           `json:"exit_code"`
	Workspace  string        `json:"workspace,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Steps      []StepResult  `json:"steps"`
}

// FailedStep returns the first failed step, if any.
func (r Result) FailedStep() (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Status == Failed {
			return s, true
		}
	}
	return StepResult{}, false
}

// Ran returns the steps that were started.
func (r Result) Ran() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Status == Success || s.Status == Failed {
			out = append(out, s)
		}
	}
	return out
}

// JobError reports a failed run. Code mirrors the first failing step.
type JobError struct {
	JobID string
	Step  string
	Code  int
	Err   error
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("job %s: step %q failed with exit code %d: %v", e.JobID, e.Step, e.Code, e.Err)
	}
	return fmt.Sprintf("job %s: step %q failed with exit code %d", e.JobID, e.Step, e.Code)
}

func (e *JobError) Unwrap() error { return e.Err }

// ExitError lets an action fail its step with a specific exit code.
type ExitError struct {
	Code int
	Err  error
}

// Exit returns an error that fails the step with code.
func Exit(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Exit codes assigned by the runner rather than by a process.
const (
	ExitTimeout   = 124
	ExitNotFound  = 127
	ExitCancelled = 130
)
