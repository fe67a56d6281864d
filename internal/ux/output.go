package ux

import (
	"fmt"
	"io"
	"os"
	"time"
)

// ANSI color helpers
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Dim    = "\033[2m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
)

// Out receives all console output.
var Out io.Writer = os.Stdout

func timestamp() string {
	return time.Now().Format("15:04:05")
}

func printf(format string, args ...any) {
	fmt.Fprintf(Out, format, args...)
}

// FormatDuration renders d as "Xm YYs".
func FormatDuration(d time.Duration) string {
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %02ds", m, s)
}

// RunHeader prints the run banner.
func RunHeader(runID, task string) {
	printf("%s[%s]%s  %sRun %s%s\n", Dim, timestamp(), Reset, Bold, runID, Reset)
	printf("%s[%s]%s  %sTask:%s %s\n", Dim, timestamp(), Reset, Dim, Reset, truncate(task, 200))
}

// IterationHeader prints a timestamped iteration header.
func IterationHeader(iteration, max int) {
	printf("\n%s[%s]%s %s══════════════════════════════════════%s\n",
		Dim, timestamp(), Reset, Cyan, Reset)
	printf("%s[%s]%s  %sIteration %d/%d%s\n",
		Dim, timestamp(), Reset, Bold, iteration, max, Reset)
	printf("%s[%s]%s %s══════════════════════════════════════%s\n",
		Dim, timestamp(), Reset, Cyan, Reset)
}

// Generating prints that a workflow is being generated.
func Generating(execID string) {
	printf("%s[%s]%s  %s… Generating workflow (%s)%s\n", Dim, timestamp(), Reset, Dim, execID, Reset)
}

// UsingReviewerWorkflow prints that generation was skipped.
func UsingReviewerWorkflow(workflowID string) {
	printf("%s[%s]%s  %s↺ Using reviewer's workflow %q%s\n", Dim, timestamp(), Reset, Yellow, workflowID, Reset)
}

// WorkflowReady prints the workflow about to run.
func WorkflowReady(workflowID string, steps, concurrency int) {
	printf("%s[%s]%s  %sWorkflow %q: %d steps, concurrency %d%s\n",
		Dim, timestamp(), Reset, Bold, workflowID, steps, concurrency, Reset)
}

// StepStart prints a step start message.
func StepStart(stepID, execID string) {
	printf("%s[%s]%s  %s▶ %s%s %s(%s)%s\n", Dim, timestamp(), Reset, Cyan, stepID, Reset, Dim, execID, Reset)
}

// StepComplete prints a step completion message.
func StepComplete(stepID string, duration time.Duration) {
	printf("%s[%s]%s  %s✓ %s complete (%s)%s\n",
		Dim, timestamp(), Reset, Green, stepID, FormatDuration(duration), Reset)
}

// StepFail prints a step failure message.
func StepFail(stepID, errMsg string) {
	printf("%s[%s]%s  %s✗ %s failed: %s%s\n",
		Dim, timestamp(), Reset, Red, stepID, truncate(errMsg, 300), Reset)
}

// Reviewing prints that the completion check is running.
func Reviewing(execID string) {
	printf("%s[%s]%s  %s… Checking completion (%s)%s\n", Dim, timestamp(), Reset, Dim, execID, Reset)
}

// NotDone prints the reviewer's reason for continuing.
func NotDone(reason string, hasNext bool) {
	next := ""
	if hasNext {
		next = " (next workflow supplied)"
	}
	printf("%s[%s]%s  %s↺ Not done%s: %s%s\n", Dim, timestamp(), Reset, Yellow, next, truncate(reason, 300), Reset)
}

// Warning prints a non-fatal warning.
func Warning(msg string) {
	printf("%s[%s]%s  %s⚠ %s%s\n", Dim, timestamp(), Reset, Yellow, msg, Reset)
}

// RunResult prints the final outcome.
func RunResult(status, summary, errMsg, manifestPath string) {
	switch status {
	case "completed":
		printf("\n%s[%s]%s  %s%s══ Completed ══%s\n", Dim, timestamp(), Reset, Bold, Green, Reset)
		if summary != "" {
			printf("%s\n", summary)
		}
	case "max-iterations":
		printf("\n%s[%s]%s  %s%s══ Stopped: max iterations reached ══%s\n", Dim, timestamp(), Reset, Bold, Yellow, Reset)
	default:
		printf("\n%s[%s]%s  %s%s══ Failed ══%s\n", Dim, timestamp(), Reset, Bold, Red, Reset)
		if errMsg != "" {
			printf("%s%s%s\n", Red, errMsg, Reset)
		}
	}
	printf("%sManifest:%s %s\n\n", Dim, Reset, manifestPath)
}

// DoctorHint prints a doctor command hint.
func DoctorHint(runID string) {
	printf("%sDiagnose:%s weave doctor %s\n", Yellow, Reset, runID)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
