// Package prompt assembles the prompts sent to the agent: workflow
// generation, individual steps, and the completion check.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/jorge-barreto/weave/internal/workflow"
)

const (
	maxDependencyOutput = 12000
	maxSummaryOutput    = 1500
)

// Skill is an opaque prompt fragment loaded from a file.
type Skill struct {
	Name    string
	Content string
}

// LoadSkills reads each path as a skill named after its file.
func LoadSkills(paths []string) ([]Skill, error) {
	skills := make([]Skill, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("loading skill: %w", err)
		}
		name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		skills = append(skills, Skill{Name: name, Content: strings.TrimSpace(string(data))})
	}
	return skills, nil
}

// Truncate shortens s to at most n bytes, marking the cut. The cut never
// splits a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("\n... (truncated, %d more bytes)", len(s)-cut)
}

// GenerationInput is everything the workflow generator sees.
type GenerationInput struct {
	Task           string
	Iteration      int
	MaxIterations  int
	ProjectContext string
	Skills         []Skill
	PreviousReason string // reviewer's reason from the last iteration
	CarrySummary   string // step outcomes from the last iteration
}

// Generation builds the workflow-generation prompt.
func Generation(in GenerationInput) string {
	var b strings.Builder
	b.WriteString(generationPreamble)
	fmt.Fprintf(&b, "\n## Task\n\n%s\n", strings.TrimSpace(in.Task))
	fmt.Fprintf(&b, "\n## Iteration\n\nThis is iteration %d of at most %d.\n", in.Iteration, in.MaxIterations)

	if in.PreviousReason != "" || in.CarrySummary != "" {
		b.WriteString("\n## Previous Iteration\n\n")
		if in.PreviousReason != "" {
			fmt.Fprintf(&b, "The reviewer said the task is not complete yet:\n\n%s\n\n", strings.TrimSpace(in.PreviousReason))
		}
		if in.CarrySummary != "" {
			b.WriteString("Step outcomes:\n\n")
			b.WriteString(in.CarrySummary)
			b.WriteString("\nA step may set adapterRequest.resumeStep to the id of a step above to continue that step's thread.\n")
		}
	}

	if ctx := strings.TrimSpace(in.ProjectContext); ctx != "" {
		b.WriteString("\n# Project Context\n\n")
		b.WriteString(ctx)
		b.WriteString("\n")
	}

	for _, s := range in.Skills {
		fmt.Fprintf(&b, "\n## Skill: %s\n\n%s\n", s.Name, s.Content)
	}

	b.WriteString(generationSchema)
	return b.String()
}

// StepInput is everything one step execution sees.
type StepInput struct {
	Task         string
	WorkflowName string
	Step         workflow.Step
	Dependencies []workflow.StepResult // in dependsOn order
}

// Step builds the prompt for a single workflow step. Failed dependencies
// are included and marked, never omitted.
func Step(in StepInput) string {
	var b strings.Builder
	b.WriteString("You are executing one step of a larger workflow. Do the work described by the goal directly in the repository.\n")
	fmt.Fprintf(&b, "\n## Overall Task\n\n%s\n", strings.TrimSpace(in.Task))
	if in.WorkflowName != "" {
		fmt.Fprintf(&b, "\n## Workflow\n\n%s\n", in.WorkflowName)
	}
	fmt.Fprintf(&b, "\n## Step: %s\n\n%s\n", in.Step.ID, strings.TrimSpace(in.Step.Goal))

	if ctx := in.Step.ContextText(); ctx != "" {
		fmt.Fprintf(&b, "\n## Context\n\n%s\n", ctx)
	}

	if len(in.Dependencies) > 0 {
		b.WriteString("\n## Outputs of Dependencies\n")
		for _, dep := range in.Dependencies {
			b.WriteString(dependencyBlock(dep))
		}
	}

	b.WriteString("\nWhen you are done, reply with a concise summary of what you changed and anything left undone.\n")
	return b.String()
}

func dependencyBlock(r workflow.StepResult) string {
	var b strings.Builder
	if r.Failed() {
		fmt.Fprintf(&b, "\n### %s (failed)\n\n", r.StepID)
		if r.Error != "" {
			fmt.Fprintf(&b, "Error: %s\n\n", r.Error)
		}
	} else {
		fmt.Fprintf(&b, "\n### %s\n\n", r.StepID)
	}
	out := strings.TrimSpace(r.OutputText)
	if out == "" {
		out = "(no output)"
	}
	b.WriteString(Truncate(out, maxDependencyOutput))
	b.WriteString("\n")
	return b.String()
}

// CheckInput is everything the reviewer sees.
type CheckInput struct {
	Task          string
	Iteration     int
	MaxIterations int
	Workflow      *workflow.Workflow
	Results       []workflow.StepResult
}

// CompletionCheck builds the reviewer prompt with a condensed summary of
// every step.
func CompletionCheck(in CheckInput) string {
	var b strings.Builder
	b.WriteString("You are reviewing whether a task has been completed. Inspect the repository as needed.\n")
	fmt.Fprintf(&b, "\n## Task\n\n%s\n", strings.TrimSpace(in.Task))
	fmt.Fprintf(&b, "\n## Iteration\n\nIteration %d of at most %d just finished.\n", in.Iteration, in.MaxIterations)
	if in.Workflow != nil {
		fmt.Fprintf(&b, "\n## Workflow %q\n", in.Workflow.ID)
	}

	b.WriteString("\n## Step Results\n")
	if len(in.Results) == 0 {
		b.WriteString("\n(no steps ran)\n")
	}
	for _, r := range in.Results {
		fmt.Fprintf(&b, "\n### %s [%s]\n", r.StepID, r.Status)
		if r.Error != "" {
			fmt.Fprintf(&b, "Error: %s\n", r.Error)
		}
		if out := strings.TrimSpace(r.OutputText); out != "" {
			fmt.Fprintf(&b, "\n%s\n", Truncate(out, maxSummaryOutput))
		}
	}

	b.WriteString(checkSchema)
	return b.String()
}

// CarrySummary lists every step's id, status, thread and error, one per
// line, for the next iteration's prompt.
func CarrySummary(results []workflow.StepResult) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "- %s: %s", r.StepID, r.Status)
		if r.SessionID != "" {
			fmt.Fprintf(&b, " (thread %s)", r.SessionID)
		}
		if r.Error != "" {
			fmt.Fprintf(&b, " error: %s", oneLine(r.Error))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

const generationPreamble = `You are planning work for autonomous coding agents. Break the task below into a small workflow of steps. Each step is executed by a separate agent run in the same repository. Steps without dependencies between them run in parallel, so only add a dependency when a step needs another step's result.
`

const generationSchema = `
## Output Format

Reply with a single JSON object and nothing else:

{
  "version": 1,
  "id": "short-kebab-case-id",
  "name": "optional human-readable name",
  "concurrency": 2,
  "steps": [
    {
      "id": "unique-step-id",
      "type": "agent.run",
      "goal": "what this step must accomplish",
      "dependsOn": ["ids of steps that must finish first"],
      "context": "optional extra guidance"
    }
  ]
}

Rules:
- "version" must be 1 and every step type must be "agent.run".
- Step ids must be unique. dependsOn may only name steps in this workflow and must not form a cycle.
- Keep the workflow small; prefer a few well-scoped steps.
`

const checkSchema = `
## Output Format

Reply with a single JSON object and nothing else.

If the task is complete:
{"done": true, "summary": "what was accomplished"}

If it is not:
{"done": false, "reason": "what is missing", "nextWorkflow": { ...optional workflow in the same format as the generator uses... }}

Only include nextWorkflow when you know exactly which steps remain.
`
