package doctor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jorge-barreto/weave/internal/agent"
	"github.com/jorge-barreto/weave/internal/manifest"
	"github.com/jorge-barreto/weave/internal/metrics"
	"github.com/jorge-barreto/weave/internal/prompt"
	"github.com/jorge-barreto/weave/internal/ux"
)

const (
	maxLogLines      = 200
	maxFailedExecs   = 5
	maxPromptExcerpt = 2000
)

const diagPrompt = `You are diagnosing a weave run that did not complete. Analyze the context below and provide a concise diagnosis.

## Run
%s
%s
## Failed Executions
%s
%s
Instructions:
1. Identify what went wrong from the errors and stderr output.
2. Classify this as a WORKFLOW problem (generated plan, dependencies, reviewer output), an AGENT problem (binary, sandbox, model, authentication) or a CODE problem (the task the agent was working on).
3. Suggest specific fixes.
4. Recommend the next command to run, for example re-running the task with ` + "`weave run`" + ` and adjusted --max-iterations, --concurrency or --model.

Be direct and concise. Focus on actionable advice.`

// Input is what a diagnosis needs besides the adapter.
type Input struct {
	RunDir   string
	Manifest *manifest.Manifest
	Cwd      string
	Model    string
}

// Run gathers failure context from the run's manifest and artifacts and
// asks the agent for a diagnosis, printing it to out. The agent's raw
// output is kept under <runDir>/doctor/.
func Run(ctx context.Context, ad agent.Adapter, in Input, out io.Writer) error {
	m := in.Manifest
	if m.Status == manifest.StatusCompleted {
		fmt.Fprintln(out, "Run completed; nothing to diagnose.")
		return nil
	}

	text := BuildPrompt(in.RunDir, m)

	dir := filepath.Join(in.RunDir, manifest.KindDoctor)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating doctor dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "prompt.txt"), []byte(text), 0644); err != nil {
		return err
	}
	events, err := os.Create(filepath.Join(dir, "events.jsonl"))
	if err != nil {
		return err
	}
	defer events.Close()
	stderr, err := os.Create(filepath.Join(dir, "stderr.txt"))
	if err != nil {
		return err
	}
	defer stderr.Close()

	fmt.Fprintf(out, "\n%s%s══ Doctor: diagnosing %s (%s) ══%s\n\n", ux.Bold, ux.Cyan, m.RunID, m.Status, ux.Reset)

	res, err := ad.Execute(ctx, agent.Request{
		Prompt: text,
		Cwd:    in.Cwd,
		Model:  in.Model,
		RunID:  m.RunID,
		ExecID: manifest.KindDoctor,
		Events: events,
		Stderr: io.MultiWriter(stderr, os.Stderr),
	})
	if err != nil {
		metrics.ExecsTotal.WithLabelValues(manifest.KindDoctor, manifest.ExecFailed).Inc()
		return fmt.Errorf("running diagnosis: %w", err)
	}
	if res.Failed() {
		metrics.ExecsTotal.WithLabelValues(manifest.KindDoctor, manifest.ExecFailed).Inc()
		return fmt.Errorf("diagnosis failed: %s", res.Error)
	}
	metrics.ExecsTotal.WithLabelValues(manifest.KindDoctor, manifest.ExecCompleted).Inc()
	if err := os.WriteFile(filepath.Join(dir, "last_message.txt"), []byte(res.OutputText), 0644); err != nil {
		return err
	}

	fmt.Fprintln(out, strings.TrimSpace(res.OutputText))
	fmt.Fprintln(out)
	return nil
}

// BuildPrompt renders the diagnosis prompt for m.
func BuildPrompt(runDir string, m *manifest.Manifest) string {
	var logSection string
	if tail := tailFile(filepath.Join(runDir, "weave.log"), maxLogLines); tail != "" {
		logSection = fmt.Sprintf("\n## Run Log (last lines)\n%s\n", tail)
	}
	return fmt.Sprintf(diagPrompt, gatherOverview(m), gatherGraphWarnings(m), gatherFailedExecs(runDir, m), logSection)
}

func gatherOverview(m *manifest.Manifest) string {
	parts := []string{
		fmt.Sprintf("Run: %s", m.RunID),
		fmt.Sprintf("Task: %s", m.Task),
		fmt.Sprintf("Status: %s", m.Status),
		fmt.Sprintf("Iterations: %d of at most %d", m.Iterations, m.Options.MaxIterations),
		fmt.Sprintf("Executions: %d (%d failed)", len(m.Execs), len(m.FailedExecs())),
	}
	if m.Options.Model != "" {
		parts = append(parts, fmt.Sprintf("Model: %s", m.Options.Model))
	}
	if m.Options.Sandbox != "" {
		parts = append(parts, fmt.Sprintf("Sandbox: %s", m.Options.Sandbox))
	}
	if m.Error != "" {
		parts = append(parts, fmt.Sprintf("Error: %s", m.Error))
	}
	return strings.Join(parts, "\n")
}

func gatherGraphWarnings(m *manifest.Manifest) string {
	if len(m.Graph.Warnings) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n## Provenance Warnings\n")
	for _, w := range m.Graph.Warnings {
		fmt.Fprintf(&b, "- %s\n", w)
	}
	return b.String()
}

// gatherFailedExecs describes the most recent failed executions, newest
// last, with their error, stderr tail and prompt excerpt.
func gatherFailedExecs(runDir string, m *manifest.Manifest) string {
	failed := m.FailedExecs()
	if len(failed) == 0 {
		return "(none)\n"
	}
	skipped := 0
	if len(failed) > maxFailedExecs {
		skipped = len(failed) - maxFailedExecs
		failed = failed[skipped:]
	}
	var b strings.Builder
	if skipped > 0 {
		fmt.Fprintf(&b, "(%d earlier failures omitted)\n", skipped)
	}
	for _, e := range failed {
		fmt.Fprintf(&b, "\n### %s %s (%s, iteration %d)\n", e.ExecID, e.Label, e.Kind, e.Iteration)
		if e.ExitCode != nil {
			fmt.Fprintf(&b, "Exit code: %d\n", *e.ExitCode)
		}
		if e.Error != "" {
			fmt.Fprintf(&b, "Error: %s\n", e.Error)
		}
		if e.Artifacts.Stderr != "" {
			tail := tailFile(filepath.Join(runDir, filepath.FromSlash(e.Artifacts.Stderr)), maxLogLines)
			if tail == "" {
				tail = "(empty)"
			}
			fmt.Fprintf(&b, "\nStderr:\n```\n%s\n```\n", tail)
		}
		if e.Artifacts.Prompt != "" {
			if data, err := os.ReadFile(filepath.Join(runDir, filepath.FromSlash(e.Artifacts.Prompt))); err == nil {
				fmt.Fprintf(&b, "\nPrompt excerpt:\n```\n%s\n```\n", prompt.Truncate(string(data), maxPromptExcerpt))
			}
		}
	}
	return b.String()
}

// tailFile returns the last n lines of path, or "" if it cannot be read.
func tailFile(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	content := strings.TrimRight(string(data), "\n")
	if content == "" {
		return ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
		return fmt.Sprintf("... (truncated to last %d lines)\n%s", n, strings.Join(lines, "\n"))
	}
	return content
}
