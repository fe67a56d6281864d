package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Parse turns raw generator output into a validated Workflow.
// The text may wrap the JSON object in prose or a code fence.
func Parse(raw string) (*Workflow, error) {
	obj, err := extractObject(raw)
	if err != nil {
		return nil, &ParseError{What: "workflow", Msg: "no valid JSON object found", Err: err}
	}
	return fromObject(obj)
}

// FromJSON validates a workflow that is already a standalone JSON value,
// such as a reviewer's nextWorkflow.
func FromJSON(data []byte) (*Workflow, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		if err == nil {
			err = fmt.Errorf("not an object")
		}
		return nil, &ParseError{What: "workflow", Msg: "not a JSON object", Err: err}
	}
	return fromObject(obj)
}

// extractObject decodes the whole text as a JSON object, falling back to the
// slice between the first '{' and the last '}'.
func extractObject(raw string) (map[string]json.RawMessage, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("empty input")
	}
	var obj map[string]json.RawMessage
	firstErr := json.Unmarshal([]byte(text), &obj)
	if firstErr == nil && obj != nil {
		return obj, nil
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		if firstErr == nil {
			firstErr = fmt.Errorf("not an object")
		}
		return nil, firstErr
	}
	obj = nil
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("not an object")
	}
	return obj, nil
}

func fromObject(obj map[string]json.RawMessage) (*Workflow, error) {
	fail := func(format string, args ...any) error {
		return &ParseError{What: "workflow", Msg: fmt.Sprintf(format, args...)}
	}

	var version float64
	if v, ok := obj["version"]; !ok || json.Unmarshal(v, &version) != nil || version != Version {
		got := "missing"
		if ok {
			got = string(bytes.TrimSpace(v))
		}
		return nil, fail("version must be 1 (got %s)", got)
	}

	wf := &Workflow{Version: Version}
	if v, ok := obj["id"]; ok {
		_ = json.Unmarshal(v, &wf.ID)
	}
	wf.ID = strings.TrimSpace(wf.ID)
	if wf.ID == "" {
		return nil, fail("missing id")
	}
	if v, ok := obj["name"]; ok {
		_ = json.Unmarshal(v, &wf.Name)
	}
	if v, ok := obj["description"]; ok {
		_ = json.Unmarshal(v, &wf.Description)
	}
	if v, ok := obj["concurrency"]; ok && !isNull(v) {
		var n float64
		if err := json.Unmarshal(v, &n); err != nil {
			return nil, fail("concurrency must be a number")
		}
		c := int(max(math.MinInt32, min(n, math.MaxInt32)))
		wf.Concurrency = &c
	}
	if v, ok := obj["defaults"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &wf.Defaults); err != nil {
			return nil, fail("defaults must be an object")
		}
	}

	rawSteps, ok := obj["steps"]
	var items []json.RawMessage
	if !ok || json.Unmarshal(rawSteps, &items) != nil || items == nil {
		return nil, fail("steps must be an array")
	}

	seen := make(map[string]bool, len(items))
	wf.Steps = make([]Step, 0, len(items))
	for i, item := range items {
		step, err := parseStep(i, item)
		if err != nil {
			return nil, err
		}
		if seen[step.ID] {
			return nil, fail("duplicate step id %q", step.ID)
		}
		seen[step.ID] = true
		wf.Steps = append(wf.Steps, step)
	}
	return wf, nil
}

func parseStep(i int, item json.RawMessage) (Step, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
		return Step{}, &ParseError{What: "workflow", Msg: fmt.Sprintf("step %d is not an object", i+1)}
	}

	var s Step
	if v, ok := fields["id"]; ok {
		_ = json.Unmarshal(v, &s.ID)
	}
	s.ID = strings.TrimSpace(s.ID)
	if s.ID == "" {
		s.ID = fmt.Sprintf("step-%d", i+1)
	}
	label := stepLabel(i, s.ID)
	fail := func(format string, args ...any) error {
		return &ParseError{What: "workflow", Msg: label + ": " + fmt.Sprintf(format, args...)}
	}

	s.Type = StepTypeAgentRun
	if v, ok := fields["type"]; ok && !isNull(v) {
		var typ string
		if err := json.Unmarshal(v, &typ); err != nil || typ != StepTypeAgentRun {
			return Step{}, fail("unsupported type %s (must be %q)", bytes.TrimSpace(v), StepTypeAgentRun)
		}
	}

	if v, ok := fields["goal"]; ok {
		_ = json.Unmarshal(v, &s.Goal)
	}
	if strings.TrimSpace(s.Goal) == "" {
		return Step{}, fail("missing goal")
	}

	if v, ok := fields["dependsOn"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &s.DependsOn); err != nil {
			return Step{}, fail("dependsOn must be an array of step ids")
		}
	}
	if v, ok := fields["context"]; ok && !isNull(v) {
		s.Context = append(json.RawMessage(nil), v...)
	}
	if v, ok := fields["adapterRequest"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &s.AdapterRequest); err != nil {
			return Step{}, fail("adapterRequest must be an object")
		}
	}

	for k, v := range fields {
		if knownStepKeys[k] {
			continue
		}
		if s.Extra == nil {
			s.Extra = make(map[string]json.RawMessage)
		}
		s.Extra[k] = v
	}
	return s, nil
}

func isNull(v json.RawMessage) bool {
	return string(bytes.TrimSpace(v)) == "null"
}
