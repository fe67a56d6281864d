// Package agent runs prompts through the external coding-agent CLI.
package agent

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/jorge-barreto/weave/internal/workflow"
)

// Result statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Request is one prompt to execute.
type Request struct {
	Prompt  string
	Cwd     string
	Model   string
	Options map[string]any // rendered as config overrides

	RunID  string
	ExecID string

	Events io.Writer // raw event lines, as received
	Stderr io.Writer
}

// Result is what the agent produced. A failed agent run is reported through
// Status and Error; only failures to run the agent at all are errors.
type Result struct {
	SessionID  string
	OutputText string
	Messages   []string // every agent message, in order
	Status     string
	ExitCode   int
	Usage      *workflow.Usage
	Error      string
}

// Failed reports whether the agent did not complete.
func (r *Result) Failed() bool {
	return r.Status != StatusCompleted
}

// Transcript joins all agent messages.
func (r *Result) Transcript() string {
	return strings.Join(r.Messages, "\n\n")
}

// Adapter executes prompts. Tests substitute a scripted implementation.
type Adapter interface {
	Execute(ctx context.Context, req Request) (*Result, error)
	Resume(ctx context.Context, sessionID string, req Request) (*Result, error)
}

// BuildEnv returns the child environment: the current environment minus
// any inherited WEAVE_ variables, plus the run and exec ids.
func BuildEnv(runID, execID string) []string {
	var env []string
	for _, e := range os.Environ() {
		key, _, _ := strings.Cut(e, "=")
		if strings.HasPrefix(key, "WEAVE_") {
			continue
		}
		env = append(env, e)
	}
	if runID != "" {
		env = append(env, "WEAVE_RUN_ID="+runID)
	}
	if execID != "" {
		env = append(env, "WEAVE_EXEC_ID="+execID)
	}
	return env
}
