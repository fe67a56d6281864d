// Package workflow holds the workflow model produced by the generator agent,
// the parser that validates it, and the dependency resolver that orders its steps.
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Version is the only workflow schema version accepted.
const Version = 1

// StepTypeAgentRun is the only step type this runner executes.
const StepTypeAgentRun = "agent.run"

// Workflow is a small DAG of agent steps for one iteration.
type Workflow struct {
	Version     int            `json:"version"`
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Concurrency *int           `json:"concurrency,omitempty"`
	Defaults    map[string]any `json:"defaults,omitempty"`
	Steps       []Step         `json:"steps"`
}

// Step is a single agent invocation in a workflow.
// Fields the runner does not know about are kept in Extra and written back
// out unchanged when the step is marshaled.
type Step struct {
	ID             string                     `json:"id"`
	Type           string                     `json:"type"`
	Goal           string                     `json:"goal"`
	DependsOn      []string                   `json:"dependsOn,omitempty"`
	Context        json.RawMessage            `json:"context,omitempty"`
	AdapterRequest map[string]any             `json:"adapterRequest,omitempty"`
	Extra          map[string]json.RawMessage `json:"-"`
}

var knownStepKeys = map[string]bool{
	"id": true, "type": true, "goal": true, "dependsOn": true,
	"context": true, "adapterRequest": true,
}

// MarshalJSON writes the known fields plus any passthrough fields.
func (s Step) MarshalJSON() ([]byte, error) {
	type plain Step
	base, err := json.Marshal(plain(s))
	if err != nil {
		return nil, err
	}
	if len(s.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if !knownStepKeys[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// ContextText renders the step context for a prompt. String contexts are
// returned as-is; any other JSON value is returned compacted.
func (s Step) ContextText() string {
	raw := bytes.TrimSpace(s.Context)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// Request returns the adapter request for the step with the workflow
// defaults underneath. Step keys win.
func (w *Workflow) Request(s Step) map[string]any {
	if len(w.Defaults) == 0 && len(s.AdapterRequest) == 0 {
		return nil
	}
	out := make(map[string]any, len(w.Defaults)+len(s.AdapterRequest))
	for k, v := range w.Defaults {
		out[k] = v
	}
	for k, v := range s.AdapterRequest {
		out[k] = v
	}
	return out
}

// StepIDs returns the step ids in declaration order.
func (w *Workflow) StepIDs() []string {
	ids := make([]string, len(w.Steps))
	for i, s := range w.Steps {
		ids[i] = s.ID
	}
	return ids
}

// EffectiveConcurrency returns the workflow's own concurrency if set,
// otherwise fallback, floored at 1.
func (w *Workflow) EffectiveConcurrency(fallback int) int {
	n := fallback
	if w.Concurrency != nil {
		n = *w.Concurrency
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Status values for a StepResult.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Usage is the token accounting reported by the agent, if any.
type Usage struct {
	InputTokens       int64 `json:"inputTokens"`
	CachedInputTokens int64 `json:"cachedInputTokens,omitempty"`
	OutputTokens      int64 `json:"outputTokens"`
}

// StepResult is the outcome of one step execution attempt.
type StepResult struct {
	StepID     string `json:"stepId"`
	ExecID     string `json:"execId"`
	Status     string `json:"status"`
	SessionID  string `json:"sessionId"`
	OutputText string `json:"outputText"`
	Usage      *Usage `json:"usage,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Failed reports whether the step did not succeed.
func (r StepResult) Failed() bool {
	return r.Status != StatusSucceeded
}

// SortedResults returns results ordered by the workflow's step order.
// Results for unknown step ids are appended in id order.
func SortedResults(w *Workflow, results map[string]StepResult) []StepResult {
	out := make([]StepResult, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, s := range w.Steps {
		if r, ok := results[s.ID]; ok && !seen[s.ID] {
			out = append(out, r)
			seen[s.ID] = true
		}
	}
	var rest []string
	for id := range results {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		out = append(out, results[id])
	}
	return out
}

// ParseError reports malformed generator or reviewer output.
type ParseError struct {
	What string // "workflow" or "completion check"
	Msg  string
	Err  error
}

func (e *ParseError) Error() string {
	what := e.What
	if what == "" {
		what = "workflow"
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %s: %v", what, e.Msg, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", what, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

func stepLabel(i int, id string) string {
	if strings.TrimSpace(id) == "" {
		return fmt.Sprintf("step %d", i+1)
	}
	return fmt.Sprintf("step %d (%q)", i+1, id)
}
