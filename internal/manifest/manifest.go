// Package manifest persists a run: the per-execution artifact directories
// and manifest.json, the canonical index every reader starts from.
package manifest

import (
	"time"

	"github.com/jorge-barreto/weave/internal/provenance"
	"github.com/jorge-barreto/weave/internal/workflow"
)

// FileName is the manifest's name inside a run directory.
const FileName = "manifest.json"

// Run statuses.
const (
	StatusRunning       = "running"
	StatusCompleted     = "completed"
	StatusMaxIterations = "max-iterations"
	StatusError         = "error"
)

// Exec statuses.
const (
	ExecCompleted = "completed"
	ExecFailed    = "failed"
)

// Exec kinds.
const (
	KindGenerate = "workflow-gen"
	KindStep     = "step"
	KindCheck    = "completion-check"
	KindDoctor   = "doctor"
)

// Options are the effective run options recorded in the manifest.
type Options struct {
	MaxIterations  int    `json:"maxIterations"`
	Concurrency    int    `json:"concurrency"`
	Model          string `json:"model,omitempty"`
	Sandbox        string `json:"sandbox,omitempty"`
	AgentBin       string `json:"agentBin,omitempty"`
	ProjectContext bool   `json:"projectContext"`
}

// Artifacts are the files of one execution, relative to the run directory.
type Artifacts struct {
	Dir         string `json:"dir"`
	Prompt      string `json:"prompt"`
	Output      string `json:"output,omitempty"`
	LastMessage string `json:"lastMessage,omitempty"`
	Metadata    string `json:"metadata,omitempty"`
	Events      string `json:"events,omitempty"`
	Stderr      string `json:"stderr,omitempty"`
}

// Paths returns the non-empty artifact paths keyed by name.
func (a Artifacts) Paths() map[string]string {
	out := make(map[string]string, 7)
	for k, v := range map[string]string{
		"dir":         a.Dir,
		"prompt":      a.Prompt,
		"output":      a.Output,
		"lastMessage": a.LastMessage,
		"metadata":    a.Metadata,
		"events":      a.Events,
		"stderr":      a.Stderr,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Metadata is written to metadata.json next to an execution's artifacts.
type Metadata struct {
	ExecID          string          `json:"execId"`
	Label           string          `json:"label"`
	Kind            string          `json:"kind"`
	Iteration       int             `json:"iteration,omitempty"`
	StepID          string          `json:"stepId,omitempty"`
	ThreadID        string          `json:"threadId,omitempty"`
	ResumedThreadID string          `json:"resumedThreadId,omitempty"`
	Status          string          `json:"status"`
	ExitCode        *int            `json:"exitCode,omitempty"`
	StartedAt       time.Time       `json:"startedAt"`
	FinishedAt      time.Time       `json:"finishedAt"`
	Usage           *workflow.Usage `json:"usage,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// ExecEntry is one execution in the manifest's append-only exec log.
type ExecEntry struct {
	ExecID          string          `json:"execId"`
	Label           string          `json:"label"`
	Kind            string          `json:"kind"`
	Iteration       int             `json:"iteration,omitempty"`
	StepID          string          `json:"stepId,omitempty"`
	ThreadID        string          `json:"threadId,omitempty"`
	ResumedThreadID string          `json:"resumedThreadId,omitempty"`
	Status          string          `json:"status"`
	ExitCode        *int            `json:"exitCode,omitempty"`
	StartedAt       time.Time       `json:"startedAt"`
	FinishedAt      time.Time       `json:"finishedAt"`
	Usage           *workflow.Usage `json:"usage,omitempty"`
	Error           string          `json:"error,omitempty"`
	Artifacts       Artifacts       `json:"artifacts"`
}

// Entry converts metadata plus artifact paths into a manifest entry.
func (m Metadata) Entry(a Artifacts) ExecEntry {
	return ExecEntry{
		ExecID:          m.ExecID,
		Label:           m.Label,
		Kind:            m.Kind,
		Iteration:       m.Iteration,
		StepID:          m.StepID,
		ThreadID:        m.ThreadID,
		ResumedThreadID: m.ResumedThreadID,
		Status:          m.Status,
		ExitCode:        m.ExitCode,
		StartedAt:       m.StartedAt,
		FinishedAt:      m.FinishedAt,
		Usage:           m.Usage,
		Error:           m.Error,
		Artifacts:       a,
	}
}

// Manifest is the durable root record of a run.
type Manifest struct {
	RunID      string           `json:"runId"`
	Task       string           `json:"task"`
	Cwd        string           `json:"cwd"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt *time.Time       `json:"finishedAt,omitempty"`
	Status     string           `json:"status"`
	Summary    string           `json:"summary,omitempty"`
	Error      string           `json:"error,omitempty"`
	Iterations int              `json:"iterations"`
	Options    Options          `json:"options"`
	Execs      []ExecEntry      `json:"execs"`
	Graph      provenance.Graph `json:"graph"`
}

// Exec returns the entry for execID.
func (m *Manifest) Exec(execID string) (ExecEntry, bool) {
	for _, e := range m.Execs {
		if e.ExecID == execID {
			return e, true
		}
	}
	return ExecEntry{}, false
}

// FailedExecs returns the entries that did not complete.
func (m *Manifest) FailedExecs() []ExecEntry {
	var out []ExecEntry
	for _, e := range m.Execs {
		if e.Status != ExecCompleted {
			out = append(out, e)
		}
	}
	return out
}

// Finished reports whether the run reached a terminal status.
func (m *Manifest) Finished() bool {
	return m.FinishedAt != nil && m.Status != StatusRunning
}
