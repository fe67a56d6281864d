// Package engine drives a run: generate a workflow, execute its steps with
// bounded parallelism, ask a reviewer whether the task is done, and repeat.
// Every execution is persisted to the run's manifest as it finishes.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jorge-barreto/weave/internal/agent"
	"github.com/jorge-barreto/weave/internal/manifest"
	"github.com/jorge-barreto/weave/internal/metrics"
	"github.com/jorge-barreto/weave/internal/prompt"
	"github.com/jorge-barreto/weave/internal/provenance"
	"github.com/jorge-barreto/weave/internal/ux"
	"github.com/jorge-barreto/weave/internal/workflow"
)

// Options tune a run.
type Options struct {
	MaxIterations  int // floored at 1
	Concurrency    int // floored at 1; a workflow's own value wins
	Model          string
	ProjectContext string // rendered project context for the generator
	Skills         []prompt.Skill
}

// Result is the outcome of a run.
type Result struct {
	RunID      string
	RunDir     string
	Status     string // manifest.StatusCompleted, StatusMaxIterations or StatusError
	Summary    string
	Error      string
	Iterations int
}

// Engine runs tasks through an agent adapter.
type Engine struct {
	Adapter     agent.Adapter
	Transcripts provenance.TranscriptSource // nil disables transcript enrichment
	Log         *zap.SugaredLogger
	Options     Options
	Now         func() time.Time
}

// run is the state of one Run call. Only the goroutine that called Run
// touches it; step goroutines communicate through channels.
type run struct {
	*Engine
	rc          *manifest.RunContext
	store       *manifest.Store
	graph       *provenance.Builder
	maxIter     int
	concurrency int
	warnings    int
}

// Run executes rc.Task until the reviewer reports it done, the iteration
// budget runs out, or an error stops it. The manifest is finalized on every
// return path. The returned error is non-nil only when the run ended with
// status error, or when the manifest could not be created at all.
func (e *Engine) Run(ctx context.Context, rc *manifest.RunContext) (*Result, error) {
	if e.Log == nil {
		e.Log = zap.NewNop().Sugar()
	}
	if e.Now == nil {
		e.Now = time.Now
	}

	store, err := manifest.NewStore(rc, e.Now())
	if err != nil {
		return nil, fmt.Errorf("creating manifest: %w", err)
	}
	r := &run{
		Engine:      e,
		rc:          rc,
		store:       store,
		graph:       provenance.NewBuilder(e.Transcripts),
		maxIter:     max(1, e.Options.MaxIterations),
		concurrency: max(1, e.Options.Concurrency),
	}

	metrics.RunsActive.Inc()
	res := &Result{RunID: rc.RunID, RunDir: rc.RunDir, Status: manifest.StatusError}
	defer r.finalize(res)

	r.Log.Infow("run started", "run", rc.RunID, "dir", rc.RunDir, "maxIterations", r.maxIter, "concurrency", r.concurrency)
	ux.RunHeader(rc.RunID, rc.Task)

	if err := r.loop(ctx, res); err != nil {
		res.Status = manifest.StatusError
		res.Error = err.Error()
		return res, err
	}
	return res, nil
}

// finalize stamps the manifest with the terminal state.
func (r *run) finalize(res *Result) {
	metrics.RunsActive.Dec()
	metrics.RunsTotal.WithLabelValues(res.Status).Inc()
	if err := r.syncGraph(); err != nil {
		r.Log.Errorw("writing graph", "error", err)
	}
	if err := r.store.Finish(res.Status, res.Summary, res.Error, res.Iterations, r.Now()); err != nil {
		r.Log.Errorw("finalizing manifest", "error", err)
	}
	r.Log.Infow("run finished", "run", res.RunID, "status", res.Status, "iterations", res.Iterations)
	ux.RunResult(res.Status, res.Summary, res.Error, r.store.Path())
}

// carry is what one iteration hands to the next.
type carry struct {
	override    *workflow.Workflow
	overrideGen string            // exec id of the check that supplied override
	reason      string            // reviewer's reason
	summary     string            // step outcomes
	threads     map[string]string // step id -> thread id
}

func (r *run) loop(ctx context.Context, res *Result) error {
	var prev carry
	for iter := 1; iter <= r.maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		res.Iterations = iter
		metrics.IterationsTotal.Inc()
		ux.IterationHeader(iter, r.maxIter)

		var wf *workflow.Workflow
		var genExecID string
		if prev.override != nil {
			wf, genExecID = prev.override, prev.overrideGen
			ux.UsingReviewerWorkflow(wf.ID)
			r.Log.Infow("using reviewer workflow", "iteration", iter, "workflow", wf.ID)
		} else {
			var err error
			wf, genExecID, err = r.generate(ctx, iter, prev)
			if err != nil {
				return err
			}
		}

		results, err := r.executeWorkflow(ctx, iter, wf, prev.threads)
		if err != nil {
			return err
		}
		ordered := workflow.SortedResults(wf, results)

		check, checkExecID, err := r.review(ctx, iter, wf, ordered)
		if err != nil {
			return err
		}
		r.graph.RecordInvokesEdges(genExecID, ordered, checkExecID)
		if err := r.syncGraph(); err != nil {
			return err
		}

		if check.Done {
			res.Status = manifest.StatusCompleted
			res.Summary = check.Summary
			return nil
		}
		ux.NotDone(check.Reason, check.NextWorkflow != nil)

		prev = carry{
			override:    check.NextWorkflow,
			overrideGen: checkExecID,
			reason:      check.Reason,
			summary:     prompt.CarrySummary(ordered),
			threads:     make(map[string]string, len(ordered)),
		}
		for _, sr := range ordered {
			if sr.SessionID != "" {
				prev.threads[sr.StepID] = sr.SessionID
			}
		}
	}
	res.Status = manifest.StatusMaxIterations
	return nil
}

// generate asks the agent for a workflow. Both a failed agent run and an
// unparseable answer end the run.
func (r *run) generate(ctx context.Context, iter int, prev carry) (*workflow.Workflow, string, error) {
	execID := r.rc.AllocateExecID()
	ux.Generating(execID)
	out := r.execute(ctx, execID, execJob{
		Kind:      manifest.KindGenerate,
		Label:     manifest.KindGenerate,
		Iteration: iter,
		Model:     r.Options.Model,
		Prompt: prompt.Generation(prompt.GenerationInput{
			Task:           r.rc.Task,
			Iteration:      iter,
			MaxIterations:  r.maxIter,
			ProjectContext: r.Options.ProjectContext,
			Skills:         r.Options.Skills,
			PreviousReason: prev.reason,
			CarrySummary:   prev.summary,
		}),
	})
	if err := r.record(out); err != nil {
		return nil, execID, err
	}
	if msg := out.failure(); msg != "" {
		return nil, execID, fmt.Errorf("workflow generation (%s) failed: %s", execID, msg)
	}

	wf, err := workflow.Parse(out.Result.OutputText)
	if err != nil {
		return nil, execID, fmt.Errorf("workflow generation (%s): %w", execID, err)
	}
	r.Log.Infow("workflow generated", "iteration", iter, "workflow", wf.ID, "steps", len(wf.Steps))
	return wf, execID, nil
}

// review runs the completion check. Invalid reviewer JSON is not fatal; it
// becomes a not-done verdict.
func (r *run) review(ctx context.Context, iter int, wf *workflow.Workflow, results []workflow.StepResult) (*workflow.CompletionCheck, string, error) {
	execID := r.rc.AllocateExecID()
	ux.Reviewing(execID)
	out := r.execute(ctx, execID, execJob{
		Kind:      manifest.KindCheck,
		Label:     manifest.KindCheck,
		Iteration: iter,
		Model:     r.Options.Model,
		Prompt: prompt.CompletionCheck(prompt.CheckInput{
			Task:          r.rc.Task,
			Iteration:     iter,
			MaxIterations: r.maxIter,
			Workflow:      wf,
			Results:       results,
		}),
	})
	if err := r.record(out); err != nil {
		return nil, execID, err
	}
	if msg := out.failure(); msg != "" {
		return nil, execID, fmt.Errorf("completion check (%s) failed: %s", execID, msg)
	}

	check, err := workflow.ParseCompletionCheck(out.Result.OutputText)
	if err != nil {
		r.Log.Warnw("reviewer returned invalid JSON", "exec", execID, "error", err)
		return &workflow.CompletionCheck{
			Done:   false,
			Reason: "reviewer returned invalid JSON: " + err.Error(),
		}, execID, nil
	}
	return check, execID, nil
}

// syncGraph writes the current graph to the manifest and logs any new
// warnings.
func (r *run) syncGraph() error {
	g := r.graph.Snapshot()
	for _, w := range g.Warnings[r.warnings:] {
		r.Log.Warnw("provenance", "warning", w)
		metrics.GraphWarningsTotal.Inc()
	}
	r.warnings = len(g.Warnings)
	return r.store.SetGraph(g)
}
