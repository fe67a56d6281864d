package docs

var topics = []Topic{
	{
		Name:    "quickstart",
		Title:   "Quick Start",
		Summary: "Getting started with weave",
		Content: topicQuickstart,
	},
	{
		Name:    "workflow",
		Title:   "Workflows and Iterations",
		Summary: "Generated workflow JSON, scheduling, and the completion check",
		Content: topicWorkflow,
	},
	{
		Name:    "manifest",
		Title:   "Run Directory and Manifest",
		Summary: "Layout of a run directory and the fields of manifest.json",
		Content: topicManifest,
	},
	{
		Name:    "graph",
		Title:   "Provenance Graph",
		Summary: "Nodes, edge types, and transcript enrichment",
		Content: topicGraph,
	},
	{
		Name:    "config",
		Title:   "Configuration Reference",
		Summary: "Config file schema, fields, defaults, and CLI overrides",
		Content: topicConfig,
	},
}

const topicQuickstart = `Quick Start
===========

1. Initialize a project (optional; every setting has a default):

    cd your-project
    weave init

   This creates .weave/config.yaml and an example skill.

2. Run a task:

    weave run "add input validation to the signup handler"

   weave asks the agent to plan a workflow, runs its steps (in parallel
   where the plan allows), then asks a reviewer whether the task is done.
   If not, it plans again with the reviewer's feedback, up to
   --max-iterations times.

3. Inspect the result:

    weave status              newest run
    weave status <runId>      a specific run
    weave serve               browse runs over HTTP at 127.0.0.1:7420

4. If a run failed:

    weave doctor <runId>

CLI
---

  weave run <task>                 Run a task
    --max-iterations N             Iteration budget (default 3)
    --concurrency N                Parallel steps (default 2)
    --model NAME                   Default model for every agent call
    --runs-dir DIR                 Where run directories are written
    --no-context                   Leave project context out of the plan prompt
    --log-level LEVEL              debug, info, warn or error
    --metrics-addr HOST:PORT       Serve Prometheus /metrics during the run
  weave status [runId]             Show a run
  weave serve [--addr HOST:PORT]   Serve the read-only viewer API
  weave doctor [runId]             Ask the agent to diagnose a failed run
  weave init                       Scaffold .weave/
  weave docs [topic]               Show documentation

Exit status is 0 when the reviewer declared the task done, 1 otherwise.
`

const topicWorkflow = `Workflows and Iterations
========================

Each iteration has three parts.

Generate
--------

The planner receives the task, the iteration number, project context,
skills and, after the first iteration, the reviewer's reason plus each
previous step's status and thread. It must answer with a JSON object:

    {
      "version": 1,
      "id": "add-validation",
      "concurrency": 2,
      "steps": [
        {"id": "impl", "goal": "Add validation to the handler"},
        {"id": "tests", "goal": "Add tests for the validation",
         "dependsOn": ["impl"]}
      ]
    }

Prose around the object and markdown code fences are tolerated. A
malformed workflow ends the run with status "error"; it is not retried.

Step fields:

  id               Unique within the workflow (defaults to step-N)
  type             Only "agent.run" is supported (the default)
  goal             Required. What the step's agent should do
  dependsOn        Step ids that must finish first
  context          Free-form JSON passed to the step's prompt
  adapterRequest   Per-step agent options (see below)

Execute
-------

A step starts as soon as every step it depends on has finished, with at
most "concurrency" steps in flight (the workflow's value wins over
--concurrency). A failed step still counts as finished: its dependents
run and see "(failed)" and the error in their prompt.

Dependency cycles and references to unknown steps end the run before any
step starts.

adapterRequest keys:

  model            Model for this step only
  resumeThreadId   Continue an existing agent thread
  resumeStep       Continue the thread a step of the previous iteration ran on
  anything else    Passed to the agent as "-c key=value"

Review
------

The reviewer sees every step's status and output and answers:

    {"done": true, "summary": "..."}
    {"done": false, "reason": "...", "nextWorkflow": { ... }}

When nextWorkflow is present and valid it is run as the next iteration's
workflow without calling the planner. A reviewer answer that is not
valid JSON counts as not done; the parse error becomes the reason.
`

const topicManifest = `Run Directory and Manifest
==========================

Every run gets a directory under the runs dir (default .weave/runs):

    run-20260102T030405Z-1a2b3c4d/
      manifest.json
      weave.log
      execs/
        exec-001-workflow-gen/
          prompt.txt
          output.txt          all agent messages
          last_message.txt    the final agent message
          metadata.json
          events.jsonl        raw agent event stream
          stderr.txt
        exec-002-impl/
        exec-003-completion-check/
      doctor/                 written by "weave doctor"

Exec ids are allocated in order: exec-001, exec-002, ... A step's
directory is named after its step id.

manifest.json is rewritten atomically after every execution, so it is
valid even while a run is in progress or after a crash. Fields:

  runId, task, cwd, startedAt, finishedAt
  status        running | completed | max-iterations | error
  summary       reviewer summary when completed
  error         why the run stopped, when status is error
  iterations    iterations started
  options       maxIterations, concurrency, model, sandbox, agentBin
  execs         one entry per agent call: execId, label, kind, iteration,
                stepId, threadId, resumedThreadId, status, exitCode,
                startedAt, finishedAt, usage, error, artifacts
  graph         see "weave docs graph"

Artifact paths in execs are relative to the run directory. Readers should
start from manifest.json rather than guessing paths.

Agent processes see WEAVE_RUN_ID and WEAVE_EXEC_ID in their environment.
`

const topicGraph = `Provenance Graph
================

manifest.json carries a graph of how executions relate:

    "graph": {"nodes": [...], "edges": [...], "warnings": [...]}

Nodes
-----

  exec:<execId>      one agent call, with its label, thread and artifacts
  thread:<threadId>  an agent thread that more than one exec ran on, or
                     one no exec of this run owns (spawned sub-agents)

A thread addressed by exactly one exec is represented by that exec's node.

Edges
-----

  dependsOn   dependency step -> dependent step (source "workflow")
  invokes     planner -> each step -> reviewer (source "workflow")
  resume      resumed thread -> the exec that resumed it (source "resume")
  spawn       thread -> sub-agent thread it started (source "transcript")
  interact    thread -> thread it messaged (source "transcript")

Every edge is recorded once, however often it is observed.

Transcript enrichment
---------------------

After each exec, weave looks for the agent's own session log for that
thread under agent.sessions-dir (files named *-<threadId>.jsonl) and adds
spawn and interact edges from its collaboration events. Spawned threads
are scanned too. A missing or unreadable log adds a warning; it never
fails the run.
`

const topicConfig = `Configuration Reference
=======================

weave reads .weave/config.yaml from the nearest ancestor directory that
has one. Without a config file every setting takes its default.

    agent:
      bin: codex
      model: ""
      sandbox: workspace-write
      args: []
      sessions-dir: ~/.codex/sessions
    run:
      max-iterations: 3
      concurrency: 2
      runs-dir: .weave/runs
      project-context: true
    skills: []
    log-level: info

agent.bin           Agent CLI. Invoked as "<bin> exec --json ... -" with the
                    prompt on stdin. Must be on PATH.
agent.model         Passed as -m. Steps can override it.
agent.sandbox       read-only, workspace-write or danger-full-access.
agent.args          Extra arguments added to every invocation.
agent.sessions-dir  Root of the agent's session logs, used for the graph.

run.max-iterations  Iteration budget. Values below 1 mean 1.
run.concurrency     Parallel steps. Values below 1 mean 1.
run.runs-dir        Relative paths are resolved against the project root.
run.project-context Include the directory layout, README, build files and
                    recent commits in the planning prompt.

skills              Files whose content is appended to the planning prompt.
log-level           debug, info, warn or error. Logs go to stderr and to
                    weave.log in the run directory.

A leading ~ in any path expands to the home directory. Flags on
"weave run" override the file: --max-iterations, --concurrency, --model,
--runs-dir, --no-context, --log-level.
`
