package engine

import (
	"context"
	"fmt"

	"github.com/jorge-barreto/weave/internal/agent"
	"github.com/jorge-barreto/weave/internal/manifest"
	"github.com/jorge-barreto/weave/internal/metrics"
	"github.com/jorge-barreto/weave/internal/provenance"
)

// execJob describes one agent execution.
type execJob struct {
	Kind         string
	Label        string
	StepID       string
	Iteration    int
	Prompt       string
	Model        string
	Options      map[string]any
	ResumeThread string
}

// execOutcome is the result of execute. Fatal is set when the execution's
// artifacts could not be written; Entry is then unusable.
type execOutcome struct {
	Entry      manifest.ExecEntry
	Result     *agent.Result // nil when the adapter returned an error
	AdapterErr error
	Fatal      error
}

// failure returns why the execution did not complete, or "".
func (o execOutcome) failure() string {
	switch {
	case o.AdapterErr != nil:
		return o.AdapterErr.Error()
	case o.Result == nil:
		return "no result"
	case o.Result.Failed():
		if o.Result.Error != "" {
			return o.Result.Error
		}
		return "agent failed"
	}
	return ""
}

// execute runs one agent call and writes its artifacts. It touches no
// shared run state besides its own exec directory, so step goroutines may
// call it concurrently.
func (r *run) execute(ctx context.Context, execID string, job execJob) execOutcome {
	dir, err := r.rc.NewExecDir(execID, job.Label)
	if err != nil {
		return execOutcome{Fatal: err}
	}
	if err := dir.WritePrompt(job.Prompt); err != nil {
		return execOutcome{Fatal: fmt.Errorf("writing prompt for %s: %w", execID, err)}
	}
	events, stderr, err := dir.CreateStreams()
	if err != nil {
		return execOutcome{Fatal: err}
	}

	req := agent.Request{
		Prompt:  job.Prompt,
		Cwd:     r.rc.Cwd,
		Model:   job.Model,
		Options: job.Options,
		RunID:   r.rc.RunID,
		ExecID:  execID,
		Events:  events,
		Stderr:  stderr,
	}

	started := r.Now()
	var res *agent.Result
	var adapterErr error
	if job.ResumeThread != "" {
		res, adapterErr = r.Adapter.Resume(ctx, job.ResumeThread, req)
	} else {
		res, adapterErr = r.Adapter.Execute(ctx, req)
	}
	if adapterErr == nil && res == nil {
		adapterErr = fmt.Errorf("adapter returned no result")
	}
	if adapterErr != nil {
		fmt.Fprintf(stderr, "%v\n", adapterErr)
	}
	events.Close()
	stderr.Close()
	finished := r.Now()

	meta := manifest.Metadata{
		ExecID:          execID,
		Label:           job.Label,
		Kind:            job.Kind,
		Iteration:       job.Iteration,
		StepID:          job.StepID,
		ResumedThreadID: job.ResumeThread,
		ThreadID:        job.ResumeThread,
		Status:          manifest.ExecFailed,
		StartedAt:       started.UTC(),
		FinishedAt:      finished.UTC(),
	}
	var output, last string
	if adapterErr != nil {
		meta.Error = adapterErr.Error()
	} else {
		if res.SessionID != "" {
			meta.ThreadID = res.SessionID
		}
		if !res.Failed() {
			meta.Status = manifest.ExecCompleted
		}
		code := res.ExitCode
		meta.ExitCode = &code
		meta.Usage = res.Usage
		meta.Error = res.Error
		output, last = res.Transcript(), res.OutputText
	}
	if err := dir.WriteResult(output, last, meta); err != nil {
		return execOutcome{Fatal: fmt.Errorf("writing result for %s: %w", execID, err)}
	}

	metrics.ExecsTotal.WithLabelValues(job.Kind, meta.Status).Inc()
	metrics.ExecDuration.WithLabelValues(job.Kind).Observe(finished.Sub(started).Seconds())
	return execOutcome{
		Entry:      meta.Entry(dir.Artifacts),
		Result:     res,
		AdapterErr: adapterErr,
	}
}

// record appends an execution to the manifest and the graph, then
// enriches the graph from the execution's transcript.
func (r *run) record(o execOutcome) error {
	if o.Fatal != nil {
		return o.Fatal
	}
	e := o.Entry
	if err := r.store.AppendExec(e); err != nil {
		return err
	}
	r.Log.Infow("exec recorded", "exec", e.ExecID, "label", e.Label, "status", e.Status, "thread", e.ThreadID)

	r.graph.RecordExecNode(provenance.ExecRef{
		ExecID:    e.ExecID,
		Label:     e.Label,
		ThreadID:  e.ThreadID,
		Artifacts: e.Artifacts.Paths(),
	})
	if e.ResumedThreadID != "" {
		r.graph.RecordResumeEdge(e.ResumedThreadID, e.ExecID)
	}
	if e.ThreadID != "" {
		if n := r.graph.EnrichFromTranscript(e.ThreadID); n > 0 {
			r.Log.Debugw("transcript edges added", "thread", e.ThreadID, "edges", n)
		}
	}
	return r.syncGraph()
}
