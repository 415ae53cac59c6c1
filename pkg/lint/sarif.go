package lint

import (
	"encoding/json"
	"io"
)

// SARIF 2.1.0 subset used to hand lint findings to code-scanning tools.
// See: https://docs.oasis-open.org/sarif/sarif/v2.1.0/sarif-v2.1.0.html
type sarifDocument struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema,omitempty"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver struct {
		Name    string `json:"name"`
		Version string `json:"version,omitempty"`
	} `json:"driver"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation struct {
		ArtifactLocation struct {
			URI string `json:"uri"`
		} `json:"artifactLocation"`
		Region struct {
			StartLine   int `json:"startLine,omitempty"`
			StartColumn int `json:"startColumn,omitempty"`
		} `json:"region,omitempty"`
	} `json:"physicalLocation"`
}

// WriteSARIF writes the summary's diagnostics as a SARIF document attributed
// to tool.
func WriteSARIF(w io.Writer, tool string, s Summary) error {
	run := sarifRun{Results: []sarifResult{}}
	run.Tool.Driver.Name = tool
	for _, d := range s.Diagnostics {
		r := sarifResult{RuleID: ruleID(d.Message), Level: "warning", Message: sarifMessage{Text: d.Message}}
		var loc sarifLocation
		loc.PhysicalLocation.ArtifactLocation.URI = d.File
		loc.PhysicalLocation.Region.StartLine = d.Line
		loc.PhysicalLocation.Region.StartColumn = d.Col
		r.Locations = []sarifLocation{loc}
		run.Results = append(run.Results, r)
	}
	doc := sarifDocument{
		Version: "2.1.0",
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/main/sarif-2.1/schema/sarif-schema-2.1.0.json",
		Runs:    []sarifRun{run},
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// ruleID extracts a leading "C0114:" or "E501" style code from a message.
func ruleID(msg string) string {
	end := 0
	for end < len(msg) && end < 12 {
		c := msg[end]
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' {
			end++
			continue
		}
		break
	}
	if end >= 2 && end < len(msg) && (msg[end] == ':' || msg[end] == ' ') {
		return msg[:end]
	}
	return "finding"
}
