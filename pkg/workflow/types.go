// Package workflow parses and validates declarative pipeline definitions.
//
// The file format follows the GitHub Actions workflow layout closely enough that an
// existing `.github/workflows/*.yml` with push/pull_request triggers and a single
// job runs unchanged:
//
//	name: CI
//	on:
//	  push:
//	    branches: [main]
//	  pull_request:
//	    branches: [main]
//	jobs:
//	  build:
//	    steps:
//	      - uses: actions/checkout@v4
//	      - run: make test
package workflow

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Event names a workflow can be triggered by.
const (
	EventPush        = "push"
	EventPullRequest = "pull_request"
)

// Workflow is a parsed pipeline definition.
type Workflow struct {
	Name string
	On   Triggers
	Env  map[string]string
	Jobs []*Job

	// Unsupported lists trigger events present in the file that stepci never fires.
	Unsupported []string
}

// Triggers holds the per-event branch filters. A nil filter means the event is
// not configured and never triggers the workflow.
type Triggers struct {
	Push        *BranchFilter
	PullRequest *BranchFilter
}

// BranchFilter restricts an event to a set of branches.
type BranchFilter struct {
	Branches       []string `yaml:"branches"`
	BranchesIgnore []string `yaml:"branches-ignore"`
	Types          []string `yaml:"types"`
}

// Job is an ordered list of steps sharing one workspace.
type Job struct {
	ID             string
	Name           string
	RunsOn         string
	Env            map[string]string
	TimeoutMinutes int
	Steps          []Step
}

// Step is a single unit of work: either a shell script (Run) or a built-in
// action (Uses).
type Step struct {
	ID               string
	Name             string
	Uses             string
	With             map[string]string
	Run              string
	Shell            string
	Env              map[string]string
	WorkingDirectory string
	TimeoutMinutes   int
}

// Timeout returns the job timeout, zero when unset.
func (j *Job) Timeout() time.Duration {
	return time.Duration(j.TimeoutMinutes) * time.Minute
}

// DisplayName returns the job name, falling back to its ID.
func (j *Job) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}
	return j.ID
}

// Timeout returns the step timeout, zero when unset.
func (s Step) Timeout() time.Duration {
	return time.Duration(s.TimeoutMinutes) * time.Minute
}

// ActionName returns the action reference without its version suffix.
func (s Step) ActionName() string {
	name, _, _ := strings.Cut(s.Uses, "@")
	return name
}

// DisplayName is the label shown for the step in output and summaries.
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Run != "" {
		line, _, _ := strings.Cut(strings.TrimSpace(s.Run), "\n")
		return "Run " + line
	}
	name := s.ActionName()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	return cases.Title(language.English).String(name)
}
