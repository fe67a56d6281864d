package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jorge-barreto/weave/internal/manifest"
	"github.com/jorge-barreto/weave/internal/metrics"
	"github.com/jorge-barreto/weave/internal/prompt"
	"github.com/jorge-barreto/weave/internal/ux"
	"github.com/jorge-barreto/weave/internal/workflow"
)

// Adapter request keys the engine consumes itself.
const (
	requestModel          = "model"
	requestResumeThreadID = "resumeThreadId"
	requestResumeStep     = "resumeStep"
)

type stepDone struct {
	step workflow.Step
	out  execOutcome
}

// executeWorkflow runs every step of wf, keeping at most the effective
// concurrency in flight and starting any step as soon as its dependencies
// have finished. A failed step counts as finished: its dependents still
// run and see the failure in their prompt.
func (r *run) executeWorkflow(ctx context.Context, iter int, wf *workflow.Workflow, prevThreads map[string]string) (map[string]workflow.StepResult, error) {
	if _, err := workflow.ResolveWaves(wf.Steps); err != nil {
		return nil, err
	}
	limit := wf.EffectiveConcurrency(r.concurrency)
	ux.WorkflowReady(wf.ID, len(wf.Steps), limit)
	r.Log.Infow("executing workflow", "iteration", iter, "workflow", wf.ID, "steps", len(wf.Steps), "concurrency", limit)

	results := make(map[string]workflow.StepResult, len(wf.Steps))
	completed := make(map[string]bool, len(wf.Steps))
	started := make(map[string]bool, len(wf.Steps))
	done := make(chan stepDone)

	var g errgroup.Group
	inFlight := 0
	var fatal error

	for {
		if fatal == nil {
			if err := ctx.Err(); err != nil {
				fatal = err
			}
		}
		if fatal == nil {
			for _, s := range wf.Steps {
				if inFlight >= limit {
					break
				}
				if started[s.ID] || !workflow.Ready(s, completed) {
					continue
				}
				started[s.ID] = true
				inFlight++
				r.startStep(ctx, &g, done, iter, wf, s, results, prevThreads)
			}
		}
		if inFlight == 0 {
			break
		}

		d := <-done
		inFlight--
		metrics.StepsInFlight.Dec()
		completed[d.step.ID] = true

		if d.out.Fatal != nil {
			if fatal == nil {
				fatal = d.out.Fatal
			}
			continue
		}
		sr := stepResult(d.step.ID, d.out)
		results[d.step.ID] = sr
		if sr.Failed() {
			ux.StepFail(d.step.ID, sr.Error)
		} else {
			ux.StepComplete(d.step.ID, d.out.Entry.FinishedAt.Sub(d.out.Entry.StartedAt))
		}
		if err := r.record(d.out); err != nil && fatal == nil {
			fatal = err
		}
	}
	// Step goroutines report through done, so the group is only a join.
	_ = g.Wait()

	if fatal != nil {
		return nil, fatal
	}
	if len(completed) < len(wf.Steps) {
		var remaining []string
		for _, s := range wf.Steps {
			if !completed[s.ID] {
				remaining = append(remaining, s.ID)
			}
		}
		return nil, &workflow.StuckError{Remaining: remaining}
	}

	r.graph.RecordDependsOnEdges(wf, results)
	if err := r.syncGraph(); err != nil {
		return nil, err
	}
	return results, nil
}

// startStep builds the step's prompt and request on the calling goroutine,
// then runs the agent call on g.
func (r *run) startStep(ctx context.Context, g *errgroup.Group, done chan<- stepDone, iter int, wf *workflow.Workflow, s workflow.Step, results map[string]workflow.StepResult, prevThreads map[string]string) {
	deps := make([]workflow.StepResult, 0, len(s.DependsOn))
	for _, id := range s.DependsOn {
		deps = append(deps, results[id])
	}
	job := execJob{
		Kind:      manifest.KindStep,
		Label:     s.ID,
		StepID:    s.ID,
		Iteration: iter,
		Model:     r.Options.Model,
		Prompt: prompt.Step(prompt.StepInput{
			Task:         r.rc.Task,
			WorkflowName: workflowName(wf),
			Step:         s,
			Dependencies: deps,
		}),
	}
	r.applyRequest(&job, wf.Request(s), prevThreads)

	execID := r.rc.AllocateExecID()
	ux.StepStart(s.ID, execID)
	metrics.StepsInFlight.Inc()
	g.Go(func() error {
		done <- stepDone{step: s, out: r.execute(ctx, execID, job)}
		return nil
	})
}

// applyRequest consumes the keys the engine understands and passes the
// rest through to the adapter.
func (r *run) applyRequest(job *execJob, req map[string]any, prevThreads map[string]string) {
	if len(req) == 0 {
		return
	}
	if m, ok := req[requestModel].(string); ok && m != "" {
		job.Model = m
	}
	if t, ok := req[requestResumeThreadID].(string); ok && t != "" {
		job.ResumeThread = t
	}
	if step, ok := req[requestResumeStep].(string); ok && step != "" {
		if t := prevThreads[step]; t != "" {
			job.ResumeThread = t
		} else {
			r.Log.Warnw("resumeStep has no thread from the previous iteration", "step", job.StepID, "resumeStep", step)
			ux.Warning(fmt.Sprintf("step %s: no thread to resume for step %q; starting a new thread", job.StepID, step))
		}
	}
	for k, v := range req {
		switch k {
		case requestModel, requestResumeThreadID, requestResumeStep:
			continue
		}
		if job.Options == nil {
			job.Options = make(map[string]any)
		}
		job.Options[k] = v
	}
}

// stepResult converts an execution outcome into the step's result.
func stepResult(stepID string, o execOutcome) workflow.StepResult {
	sr := workflow.StepResult{
		StepID:    stepID,
		ExecID:    o.Entry.ExecID,
		Status:    workflow.StatusSucceeded,
		SessionID: o.Entry.ThreadID,
		Usage:     o.Entry.Usage,
	}
	if o.Result != nil {
		sr.OutputText = o.Result.OutputText
	}
	if msg := o.failure(); msg != "" {
		sr.Status = workflow.StatusFailed
		sr.Error = msg
	}
	return sr
}

func workflowName(wf *workflow.Workflow) string {
	if wf.Name != "" {
		return wf.Name
	}
	return wf.ID
}
