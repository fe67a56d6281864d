package workflow

import (
	"encoding/json"
)

// CompletionCheck is the reviewer's verdict for an iteration.
// When Done is true, Summary is set. Otherwise Reason explains what is
// missing, and NextWorkflow, if non-nil, replaces generation for the next
// iteration.
type CompletionCheck struct {
	Done         bool      `json:"done"`
	Summary      string    `json:"summary,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	NextWorkflow *Workflow `json:"nextWorkflow,omitempty"`
}

// ParseCompletionCheck decodes the reviewer's JSON answer. A nextWorkflow is
// validated with the same rules as a generated workflow.
func ParseCompletionCheck(raw string) (*CompletionCheck, error) {
	obj, err := extractObject(raw)
	if err != nil {
		return nil, &ParseError{What: "completion check", Msg: "no valid JSON object found", Err: err}
	}

	var check CompletionCheck
	v, ok := obj["done"]
	if !ok || json.Unmarshal(v, &check.Done) != nil {
		return nil, &ParseError{What: "completion check", Msg: "done must be a boolean"}
	}
	if v, ok := obj["summary"]; ok {
		_ = json.Unmarshal(v, &check.Summary)
	}
	if v, ok := obj["reason"]; ok {
		_ = json.Unmarshal(v, &check.Reason)
	}
	if check.Done {
		return &check, nil
	}

	if v, ok := obj["nextWorkflow"]; ok && !isNull(v) {
		wf, err := FromJSON(v)
		if err != nil {
			return nil, &ParseError{What: "completion check", Msg: "nextWorkflow", Err: err}
		}
		check.NextWorkflow = wf
	}
	return &check, nil
}
