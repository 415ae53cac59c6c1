package workflow

import (
	"fmt"
	"os"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// rawWorkflow mirrors the file layout. Jobs and `on` stay as nodes so that job
// order and the polymorphic trigger forms survive decoding.
type rawWorkflow struct {
	Name string    `yaml:"name"`
	On   yaml.Node `yaml:"on"`
	Env  stringMap `yaml:"env"`
	Jobs yaml.Node `yaml:"jobs"`
}

type rawJob struct {
	Name           string    `yaml:"name"`
	RunsOn         string    `yaml:"runs-on"`
	Env            stringMap `yaml:"env"`
	TimeoutMinutes int       `yaml:"timeout-minutes"`
	Steps          []rawStep `yaml:"steps"`
}

type rawStep struct {
	ID               string    `yaml:"id"`
	Name             string    `yaml:"name"`
	Uses             string    `yaml:"uses"`
	With             stringMap `yaml:"with"`
	Run              string    `yaml:"run"`
	Shell            string    `yaml:"shell"`
	Env              stringMap `yaml:"env"`
	WorkingDirectory string    `yaml:"working-directory"`
	TimeoutMinutes   int       `yaml:"timeout-minutes"`
}

// stringMap keeps scalar values as written. Decoding `python-version: 3.10`
// into a float would silently turn it into 3.1.
type stringMap map[string]string

func (m *stringMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	out := make(stringMap, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: value of %q must be a scalar", val.Line, key.Value)
		}
		out[key.Value] = val.Value
	}
	*m = out
	return nil
}

// ParseFile reads and parses a workflow file.
func ParseFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "read workflow", goerr.V("path", path))
	}
	wf, err := Parse(data)
	if err != nil {
		return nil, goerr.Wrap(err, "parse workflow", goerr.V("path", path))
	}
	return wf, nil
}

// Parse decodes a workflow document. It does not validate it; call Validate.
func Parse(data []byte) (*Workflow, error) {
	var raw rawWorkflow
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, goerr.Wrap(ErrInvalid, err.Error())
	}

	wf := &Workflow{Name: raw.Name, Env: raw.Env}
	if err := parseTriggers(&raw.On, wf); err != nil {
		return nil, err
	}
	jobs, err := parseJobs(&raw.Jobs)
	if err != nil {
		return nil, err
	}
	wf.Jobs = jobs
	return wf, nil
}

func parseTriggers(node *yaml.Node, wf *Workflow) error {
	enable := func(event string, filter *BranchFilter) {
		if filter == nil {
			filter = &BranchFilter{}
		}
		switch event {
		case EventPush:
			wf.On.Push = filter
		case EventPullRequest:
			wf.On.PullRequest = filter
		default:
			wf.Unsupported = append(wf.Unsupported, event)
		}
	}

	switch node.Kind {
	case 0:
		return nil
	case yaml.ScalarNode:
		enable(node.Value, nil)
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return goerr.Wrap(ErrInvalid, "trigger list entries must be event names", goerr.V("line", item.Line))
			}
			enable(item.Value, nil)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			var filter BranchFilter
			// `push:` with no body decodes as a null scalar.
			if val.Kind == yaml.MappingNode {
				if err := val.Decode(&filter); err != nil {
					return goerr.Wrap(ErrInvalid, err.Error(), goerr.V("event", key.Value))
				}
			}
			enable(key.Value, &filter)
		}
	default:
		return goerr.Wrap(ErrInvalid, "unsupported `on` form", goerr.V("line", node.Line))
	}
	return nil
}

func parseJobs(node *yaml.Node) ([]*Job, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, goerr.Wrap(ErrInvalid, "`jobs` must be a mapping", goerr.V("line", node.Line))
	}

	jobs := make([]*Job, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		var raw rawJob
		if err := val.Decode(&raw); err != nil {
			return nil, goerr.Wrap(ErrInvalid, err.Error(), goerr.V("job", key.Value))
		}
		job := &Job{
			ID:             key.Value,
			Name:           raw.Name,
			RunsOn:         raw.RunsOn,
			Env:            raw.Env,
			TimeoutMinutes: raw.TimeoutMinutes,
		}
		for _, rs := range raw.Steps {
			job.Steps = append(job.Steps, Step{
				ID:               rs.ID,
				Name:             rs.Name,
				Uses:             rs.Uses,
				With:             rs.With,
				Run:              rs.Run,
				Shell:            rs.Shell,
				Env:              rs.Env,
				WorkingDirectory: rs.WorkingDirectory,
				TimeoutMinutes:   rs.TimeoutMinutes,
			})
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// stepLabel identifies a step in error messages.
func stepLabel(job *Job, index int) string {
	return job.ID + "#" + strconv.Itoa(index+1)
}
