package ux

import (
	"github.com/jorge-barreto/weave/internal/manifest"
)

// RenderStatus prints the status display for a run.
func RenderStatus(m *manifest.Manifest, runDir string) {
	printf("%sRun:%s     %s\n", Bold, Reset, m.RunID)
	printf("%sTask:%s    %s\n", Bold, Reset, truncate(m.Task, 200))
	printf("%sState:%s   %s\n", Bold, Reset, colorStatus(m.Status))
	if m.FinishedAt != nil {
		printf("%sTook:%s    %s (%d iterations)\n", Bold, Reset, FormatDuration(m.FinishedAt.Sub(m.StartedAt)), m.Iterations)
	}
	if m.Summary != "" {
		printf("%sSummary:%s %s\n", Bold, Reset, m.Summary)
	}
	if m.Error != "" {
		printf("%sError:%s   %s%s%s\n", Bold, Reset, Red, m.Error, Reset)
	}

	printf("\n%sExecutions:%s\n", Bold, Reset)
	if len(m.Execs) == 0 {
		printf("  %s(none)%s\n", Dim, Reset)
	}
	for _, e := range m.Execs {
		status := Green + e.Status + Reset
		if e.Status != manifest.ExecCompleted {
			status = Red + e.Status + Reset
		}
		thread := e.ThreadID
		if thread == "" {
			thread = "-"
		}
		dur := ""
		if !e.StartedAt.IsZero() && !e.FinishedAt.IsZero() {
			dur = "(" + FormatDuration(e.FinishedAt.Sub(e.StartedAt)) + ")"
		}
		printf("  %s%s%s  %-28s %-18s %s%s%s %s\n",
			Dim, e.ExecID, Reset, truncate(e.Label, 28), status, Dim, thread, Reset, dur)
	}

	printf("\n%sGraph:%s   %d nodes, %d edges\n", Bold, Reset, len(m.Graph.Nodes), len(m.Graph.Edges))
	for _, w := range m.Graph.Warnings {
		printf("  %s⚠ %s%s\n", Yellow, w, Reset)
	}
	printf("\n%sDir:%s     %s\n\n", Dim, Reset, runDir)
}

func colorStatus(status string) string {
	switch status {
	case manifest.StatusCompleted:
		return Green + Bold + status + Reset
	case manifest.StatusRunning:
		return Cyan + status + Reset
	case manifest.StatusMaxIterations:
		return Yellow + status + Reset
	default:
		return Red + status + Reset
	}
}
