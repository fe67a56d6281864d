package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jorge-barreto/weave/internal/agent"
	"github.com/jorge-barreto/weave/internal/manifest"
	"github.com/jorge-barreto/weave/internal/metrics"
	"github.com/jorge-barreto/weave/internal/provenance"
	"github.com/jorge-barreto/weave/internal/transcript"
	"github.com/jorge-barreto/weave/internal/ux"
	"github.com/jorge-barreto/weave/internal/workflow"
)

func TestMain(m *testing.M) {
	ux.Out = io.Discard
	os.Exit(m.Run())
}

// call is one adapter invocation seen by mockAdapter.
type call struct {
	Kind   string // generate, step, check
	StepID string
	Resume string
	Req    agent.Request
}

// mockAdapter answers by prompt kind. Generation and check answers are
// consumed in order; steps are answered by step id.
type mockAdapter struct {
	mu       sync.Mutex
	calls    []call
	gens     []string
	checks   []string
	steps    map[string]*agent.Result
	stepErrs map[string]error
	delay    time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newMock() *mockAdapter {
	return &mockAdapter{
		steps:    make(map[string]*agent.Result),
		stepErrs: make(map[string]error),
	}
}

func classify(p string) (kind, stepID string) {
	switch {
	case strings.HasPrefix(p, "You are planning work"):
		return "generate", ""
	case strings.HasPrefix(p, "You are reviewing"):
		return "check", ""
	}
	const marker = "\n## Step: "
	i := strings.Index(p, marker)
	if i < 0 {
		return "unknown", ""
	}
	rest := p[i+len(marker):]
	return "step", rest[:strings.Index(rest, "\n")]
}

func (m *mockAdapter) Execute(ctx context.Context, req agent.Request) (*agent.Result, error) {
	return m.handle(req, "")
}

func (m *mockAdapter) Resume(ctx context.Context, sessionID string, req agent.Request) (*agent.Result, error) {
	return m.handle(req, sessionID)
}

func (m *mockAdapter) handle(req agent.Request, resume string) (*agent.Result, error) {
	kind, stepID := classify(req.Prompt)

	m.mu.Lock()
	m.calls = append(m.calls, call{Kind: kind, StepID: stepID, Resume: resume, Req: req})
	var text string
	switch kind {
	case "generate":
		if len(m.gens) > 0 {
			text, m.gens = m.gens[0], m.gens[1:]
		}
	case "check":
		if len(m.checks) > 0 {
			text, m.checks = m.checks[0], m.checks[1:]
		}
	}
	stepRes, stepErr := m.steps[stepID], m.stepErrs[stepID]
	m.mu.Unlock()

	if req.Events != nil {
		fmt.Fprintf(req.Events, `{"type":"thread.started","thread_id":"th-%s"}`+"\n", req.ExecID)
	}

	if kind == "step" {
		n := m.inFlight.Add(1)
		for {
			cur := m.maxInFlight.Load()
			if n <= cur || m.maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(m.delay)
		m.inFlight.Add(-1)

		if stepErr != nil {
			return nil, stepErr
		}
		if stepRes != nil {
			cp := *stepRes
			if cp.SessionID == "" {
				cp.SessionID = "th-" + req.ExecID
			}
			return &cp, nil
		}
		text = "did " + stepID
	}

	thread := "th-" + req.ExecID
	if resume != "" {
		thread = resume
	}
	return &agent.Result{
		SessionID:  thread,
		OutputText: text,
		Messages:   []string{text},
		Status:     agent.StatusCompleted,
	}, nil
}

func (m *mockAdapter) callsOf(kind string) []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []call
	for _, c := range m.calls {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func newTestEngine(t *testing.T, mock agent.Adapter, opts Options) (*Engine, *manifest.RunContext) {
	t.Helper()
	rc, err := manifest.NewRunContext(t.TempDir(), "run-test", "implement feature", t.TempDir(), manifest.Options{})
	require.NoError(t, err)
	return &Engine{Adapter: mock, Options: opts}, rc
}

const scenarioWorkflow = `{"version":1,"id":"test-workflow","steps":[{"id":"impl","type":"agent.run","goal":"implement feature"}]}`

func TestRun_ScenarioA_SingleIteration(t *testing.T) {
	mock := newMock()
	mock.gens = []string{scenarioWorkflow}
	mock.steps["impl"] = &agent.Result{OutputText: "Done: implemented the feature.", Status: agent.StatusCompleted}
	mock.checks = []string{`{"done":true,"summary":"All complete!"}`}

	e, rc := newTestEngine(t, mock, Options{MaxIterations: 3, Concurrency: 2})
	res, err := e.Run(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, manifest.StatusCompleted, res.Status)
	assert.Equal(t, "All complete!", res.Summary)
	assert.Equal(t, 1, res.Iterations)

	m, err := manifest.Load(rc.RunDir)
	require.NoError(t, err)
	require.Len(t, m.Execs, 3)
	assert.Equal(t, []string{"exec-001", "exec-002", "exec-003"},
		[]string{m.Execs[0].ExecID, m.Execs[1].ExecID, m.Execs[2].ExecID})
	assert.Equal(t, manifest.KindGenerate, m.Execs[0].Kind)
	assert.Equal(t, "impl", m.Execs[1].StepID)
	assert.Equal(t, manifest.KindCheck, m.Execs[2].Kind)
	assert.Equal(t, manifest.StatusCompleted, m.Status)
	assert.Equal(t, "All complete!", m.Summary)
	require.NotNil(t, m.FinishedAt)

	out, err := os.ReadFile(filepath.Join(rc.RunDir, m.Execs[1].Artifacts.LastMessage))
	require.NoError(t, err)
	assert.Equal(t, "Done: implemented the feature.", string(out))
	events, err := os.ReadFile(filepath.Join(rc.RunDir, m.Execs[1].Artifacts.Events))
	require.NoError(t, err)
	assert.Contains(t, string(events), "thread.started")

	invokes := edgesOf(m.Graph, provenance.EdgeInvokes)
	assert.ElementsMatch(t, []provenance.Edge{
		{Type: provenance.EdgeInvokes, From: "exec:exec-001", To: "exec:exec-002", Source: provenance.SourceWorkflow},
		{Type: provenance.EdgeInvokes, From: "exec:exec-002", To: "exec:exec-003", Source: provenance.SourceWorkflow},
	}, invokes)
	assert.Len(t, m.Graph.Nodes, 3)
}

func TestRun_ScenarioB_ReviewerWorkflowSkipsGeneration(t *testing.T) {
	mock := newMock()
	mock.gens = []string{scenarioWorkflow}
	mock.checks = []string{
		`Here is my verdict: {"done":false,"reason":"Need more work","nextWorkflow":{"version":1,"id":"followup","steps":[{"id":"tests","goal":"add tests","adapterRequest":{"resumeStep":"impl"}}]}}`,
		`{"done":true,"summary":"Finished after follow-up"}`,
	}

	e, rc := newTestEngine(t, mock, Options{MaxIterations: 3})
	res, err := e.Run(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, manifest.StatusCompleted, res.Status)
	assert.Equal(t, "Finished after follow-up", res.Summary)
	assert.Equal(t, 2, res.Iterations)
	assert.Len(t, mock.callsOf("generate"), 1, "iteration 2 must not generate")

	steps := mock.callsOf("step")
	require.Len(t, steps, 2)
	assert.Equal(t, "impl", steps[0].StepID)
	assert.Equal(t, "tests", steps[1].StepID)
	assert.Equal(t, "th-exec-002", steps[1].Resume, "resumeStep resolves to the previous step's thread")

	m, err := manifest.Load(rc.RunDir)
	require.NoError(t, err)
	require.Len(t, m.Execs, 5)
	assert.Equal(t, "th-exec-002", m.Execs[3].ResumedThreadID)

	// The reviewer that supplied the workflow acts as its generator.
	invokes := edgesOf(m.Graph, provenance.EdgeInvokes)
	assert.Contains(t, invokes, provenance.Edge{Type: provenance.EdgeInvokes, From: "exec:exec-003", To: "exec:exec-004", Source: provenance.SourceWorkflow})

	resume := edgesOf(m.Graph, provenance.EdgeResume)
	require.Len(t, resume, 1)
	assert.Equal(t, "thread:th-exec-002", resume[0].From)
	assert.Equal(t, "exec:exec-004", resume[0].To)
}

func TestRun_GenerationPromptCarriesPreviousIteration(t *testing.T) {
	mock := newMock()
	mock.gens = []string{scenarioWorkflow, scenarioWorkflow}
	mock.steps["impl"] = &agent.Result{Status: agent.StatusFailed, Error: "agent exited with code 1"}
	mock.checks = []string{`{"done":false,"reason":"impl broke"}`, `{"done":true,"summary":"ok"}`}

	e, rc := newTestEngine(t, mock, Options{MaxIterations: 2})
	res, err := e.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusCompleted, res.Status)

	gens := mock.callsOf("generate")
	require.Len(t, gens, 2)
	assert.NotContains(t, gens[0].Req.Prompt, "Previous Iteration")
	assert.Contains(t, gens[1].Req.Prompt, "impl broke")
	assert.Contains(t, gens[1].Req.Prompt, "- impl: failed")
	assert.Contains(t, gens[1].Req.Prompt, "agent exited with code 1")
}

func TestRun_FailurePropagatesAsData(t *testing.T) {
	mock := newMock()
	mock.gens = []string{`{"version":1,"id":"wf","steps":[
		{"id":"a","goal":"A"},
		{"id":"b","goal":"B"},
		{"id":"c","goal":"C","dependsOn":["a","b"]}]}`}
	mock.stepErrs["a"] = errors.New("spawn failed")
	mock.steps["b"] = &agent.Result{OutputText: "b output", Status: agent.StatusCompleted}
	mock.checks = []string{`{"done":true,"summary":"partial"}`}

	stepFailed := metrics.ExecsTotal.WithLabelValues(manifest.KindStep, manifest.ExecFailed)
	stepOK := metrics.ExecsTotal.WithLabelValues(manifest.KindStep, manifest.ExecCompleted)
	runsDone := metrics.RunsTotal.WithLabelValues(manifest.StatusCompleted)
	failedBefore, okBefore, runsBefore := testutil.ToFloat64(stepFailed), testutil.ToFloat64(stepOK), testutil.ToFloat64(runsDone)
	activeBefore := testutil.ToFloat64(metrics.RunsActive)

	e, rc := newTestEngine(t, mock, Options{MaxIterations: 1, Concurrency: 2})
	res, err := e.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusCompleted, res.Status)

	assert.Equal(t, failedBefore+1, testutil.ToFloat64(stepFailed))
	assert.Equal(t, okBefore+2, testutil.ToFloat64(stepOK))
	assert.Equal(t, runsBefore+1, testutil.ToFloat64(runsDone))
	assert.Equal(t, activeBefore, testutil.ToFloat64(metrics.RunsActive))
	assert.Zero(t, testutil.ToFloat64(metrics.StepsInFlight))

	steps := mock.callsOf("step")
	require.Len(t, steps, 3, "dependents of a failed step still run")
	var cPrompt string
	for _, c := range steps {
		if c.StepID == "c" {
			cPrompt = c.Req.Prompt
		}
	}
	assert.Contains(t, cPrompt, "### a (failed)")
	assert.Contains(t, cPrompt, "Error: spawn failed")
	assert.Contains(t, cPrompt, "b output")

	check := mock.callsOf("check")
	require.Len(t, check, 1)
	assert.Contains(t, check[0].Req.Prompt, "### a [failed]")

	m, err := manifest.Load(rc.RunDir)
	require.NoError(t, err)
	var failed []string
	for _, e := range m.FailedExecs() {
		failed = append(failed, e.StepID)
	}
	assert.Equal(t, []string{"a"}, failed)
	stderr, err := os.ReadFile(filepath.Join(rc.RunDir, m.FailedExecs()[0].Artifacts.Stderr))
	require.NoError(t, err)
	assert.Contains(t, string(stderr), "spawn failed")

	deps := edgesOf(m.Graph, provenance.EdgeDependsOn)
	assert.Len(t, deps, 2)
}

func TestRun_ConcurrencyLimit(t *testing.T) {
	mock := newMock()
	mock.delay = 30 * time.Millisecond
	mock.gens = []string{`{"version":1,"id":"wide","steps":[
		{"id":"s1","goal":"x"},{"id":"s2","goal":"x"},{"id":"s3","goal":"x"},
		{"id":"s4","goal":"x"},{"id":"s5","goal":"x"},{"id":"s6","goal":"x"}]}`}
	mock.checks = []string{`{"done":true,"summary":"ok"}`}

	e, rc := newTestEngine(t, mock, Options{MaxIterations: 1, Concurrency: 2})
	_, err := e.Run(context.Background(), rc)
	require.NoError(t, err)

	assert.Len(t, mock.callsOf("step"), 6)
	assert.LessOrEqual(t, mock.maxInFlight.Load(), int32(2))
	assert.Equal(t, int32(2), mock.maxInFlight.Load())
}

func TestRun_WorkflowConcurrencyOverridesOption(t *testing.T) {
	mock := newMock()
	mock.delay = 20 * time.Millisecond
	mock.gens = []string{`{"version":1,"id":"serial","concurrency":1,"steps":[
		{"id":"s1","goal":"x"},{"id":"s2","goal":"x"},{"id":"s3","goal":"x"}]}`}
	mock.checks = []string{`{"done":true,"summary":"ok"}`}

	e, rc := newTestEngine(t, mock, Options{MaxIterations: 1, Concurrency: 8})
	_, err := e.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, int32(1), mock.maxInFlight.Load())
}

func TestRun_RollingWindow(t *testing.T) {
	// "slow" occupies one slot; "b" depends on the fast "a" and must not
	// wait for "slow" to finish.
	mock := newMock()
	mock.gens = []string{`{"version":1,"id":"rolling","steps":[
		{"id":"slow","goal":"x"},{"id":"a","goal":"x"},{"id":"b","goal":"x","dependsOn":["a"]}]}`}
	mock.checks = []string{`{"done":true,"summary":"ok"}`}
	blocker := &blockingAdapter{mockAdapter: mock, release: make(chan struct{}), sawB: make(chan struct{})}

	e, rc := newTestEngine(t, blocker, Options{MaxIterations: 1, Concurrency: 2})
	go func() {
		select {
		case <-blocker.sawB:
		case <-time.After(5 * time.Second):
		}
		close(blocker.release)
	}()
	res, err := e.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusCompleted, res.Status)
	assert.True(t, blocker.bStartedBeforeRelease.Load(), "b should start while slow is still running")
}

type blockingAdapter struct {
	*mockAdapter
	release               chan struct{}
	sawB                  chan struct{}
	bStartedBeforeRelease atomic.Bool
}

func (b *blockingAdapter) Execute(ctx context.Context, req agent.Request) (*agent.Result, error) {
	_, stepID := classify(req.Prompt)
	switch stepID {
	case "slow":
		<-b.release
	case "b":
		select {
		case <-b.release:
		default:
			b.bStartedBeforeRelease.Store(true)
		}
		close(b.sawB)
	}
	return b.mockAdapter.Execute(ctx, req)
}

func TestRun_MaxIterations(t *testing.T) {
	mock := newMock()
	mock.gens = []string{scenarioWorkflow, scenarioWorkflow}
	mock.checks = []string{`{"done":false,"reason":"no"}`, `{"done":false,"reason":"still no"}`}

	e, rc := newTestEngine(t, mock, Options{MaxIterations: 2})
	res, err := e.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusMaxIterations, res.Status)
	assert.Equal(t, 2, res.Iterations)

	m, err := manifest.Load(rc.RunDir)
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusMaxIterations, m.Status)
	assert.Len(t, m.Execs, 6)
}

func TestRun_MaxIterationsFlooredAtOne(t *testing.T) {
	mock := newMock()
	mock.gens = []string{scenarioWorkflow}
	mock.checks = []string{`{"done":false,"reason":"no"}`}

	e, rc := newTestEngine(t, mock, Options{MaxIterations: 0, Concurrency: -3})
	res, err := e.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusMaxIterations, res.Status)
	assert.Equal(t, 1, res.Iterations)
	assert.Len(t, mock.callsOf("step"), 1)
}

func TestRun_MalformedWorkflowFailsFast(t *testing.T) {
	mock := newMock()
	mock.gens = []string{`{"version":2,"id":"x","steps":[]}`}

	e, rc := newTestEngine(t, mock, Options{MaxIterations: 3})
	res, err := e.Run(context.Background(), rc)
	require.Error(t, err)
	var perr *workflow.ParseError
	assert.ErrorAs(t, err, &perr)
	assert.Equal(t, manifest.StatusError, res.Status)
	assert.Contains(t, res.Error, "version must be 1")
	assert.Len(t, mock.callsOf("generate"), 1, "no retry")

	m, err := manifest.Load(rc.RunDir)
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusError, m.Status)
	assert.Contains(t, m.Error, "version must be 1")
	require.NotNil(t, m.FinishedAt)
	assert.Len(t, m.Execs, 1)
}

func TestRun_CycleIsFatal(t *testing.T) {
	mock := newMock()
	mock.gens = []string{`{"version":1,"id":"loop","steps":[
		{"id":"a","goal":"x","dependsOn":["b"]},{"id":"b","goal":"x","dependsOn":["a"]}]}`}

	e, rc := newTestEngine(t, mock, Options{MaxIterations: 1})
	res, err := e.Run(context.Background(), rc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, workflow.ErrCircularDependency))
	assert.Equal(t, manifest.StatusError, res.Status)
	assert.Empty(t, mock.callsOf("step"))
}

func TestRun_StuckIsFatal(t *testing.T) {
	mock := newMock()
	mock.gens = []string{`{"version":1,"id":"stuck","steps":[{"id":"a","goal":"x","dependsOn":["ghost"]}]}`}

	e, rc := newTestEngine(t, mock, Options{MaxIterations: 1})
	res, err := e.Run(context.Background(), rc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, workflow.ErrStuckWorkflow))
	assert.Equal(t, manifest.StatusError, res.Status)
}

func TestRun_InvalidReviewerJSONContinues(t *testing.T) {
	mock := newMock()
	mock.gens = []string{scenarioWorkflow, scenarioWorkflow}
	mock.checks = []string{`I think it's done`, `{"done":true,"summary":"ok"}`}

	e, rc := newTestEngine(t, mock, Options{MaxIterations: 2})
	res, err := e.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusCompleted, res.Status)

	gens := mock.callsOf("generate")
	require.Len(t, gens, 2)
	assert.Contains(t, gens[1].Req.Prompt, "reviewer returned invalid JSON")
}

type failingAdapter struct{ *mockAdapter }

func (f failingAdapter) Execute(ctx context.Context, req agent.Request) (*agent.Result, error) {
	if kind, _ := classify(req.Prompt); kind == "generate" {
		return nil, errors.New("binary vanished")
	}
	return f.mockAdapter.Execute(ctx, req)
}

func TestRun_GenerationAdapterErrorIsFatal(t *testing.T) {
	e, rc := newTestEngine(t, failingAdapter{newMock()}, Options{MaxIterations: 2})
	res, err := e.Run(context.Background(), rc)
	require.Error(t, err)
	assert.Contains(t, res.Error, "binary vanished")

	m, err := manifest.Load(rc.RunDir)
	require.NoError(t, err)
	require.Len(t, m.Execs, 1)
	assert.Equal(t, manifest.ExecFailed, m.Execs[0].Status)
}

func TestRun_TranscriptEnrichment(t *testing.T) {
	sessions := t.TempDir()
	path := filepath.Join(sessions, "2026", "01", "rollout-2026-01-01T00-00-00-th-exec-002.jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(
		`{"type":"event_msg","payload":{"type":"collab_agent_spawn_end","sender_thread_id":"th-exec-002","new_thread_id":"child-1","call_id":"c1","status":"completed","prompt":"help"}}`+"\n"), 0644))

	mock := newMock()
	mock.gens = []string{scenarioWorkflow}
	mock.checks = []string{`{"done":true,"summary":"ok"}`}

	e, rc := newTestEngine(t, mock, Options{MaxIterations: 1})
	e.Transcripts = transcript.NewLocator(sessions)
	_, err := e.Run(context.Background(), rc)
	require.NoError(t, err)

	m, err := manifest.Load(rc.RunDir)
	require.NoError(t, err)
	spawns := edgesOf(m.Graph, provenance.EdgeSpawn)
	require.Len(t, spawns, 1)
	assert.Equal(t, "thread:th-exec-002", spawns[0].From)
	assert.Equal(t, "thread:child-1", spawns[0].To)
	// Other threads have no transcript; that is a warning, not a failure.
	assert.NotEmpty(t, m.Graph.Warnings)
	assert.Equal(t, manifest.StatusCompleted, m.Status)
}

func TestApplyRequest(t *testing.T) {
	r := &run{Engine: &Engine{Log: zap.NewNop().Sugar()}}

	job := execJob{StepID: "s", Model: "default"}
	r.applyRequest(&job, map[string]any{
		"model":            "gpt-5-codex",
		"resumeThreadId":   "explicit",
		"resumeStep":       "impl",
		"reasoning_effort": "high",
	}, map[string]string{"impl": "from-step"})

	assert.Equal(t, "gpt-5-codex", job.Model)
	assert.Equal(t, "from-step", job.ResumeThread, "resumeStep wins when resolvable")
	assert.Equal(t, map[string]any{"reasoning_effort": "high"}, job.Options)

	job = execJob{StepID: "s"}
	r.applyRequest(&job, map[string]any{"resumeStep": "unknown"}, nil)
	assert.Empty(t, job.ResumeThread)
	assert.Nil(t, job.Options)
}

func edgesOf(g provenance.Graph, typ string) []provenance.Edge {
	var out []provenance.Edge
	for _, e := range g.Edges {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
