// Package provenance builds the run's provenance graph: which execution or
// thread depended on, invoked, resumed, spawned or talked to which other.
//
// Edges come from two independent paths into one dedup-keyed store. The
// workflow path is fed by the runner's own bookkeeping and is always
// available. The transcript path scans the agent's session logs and may
// silently produce nothing.
package provenance

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jorge-barreto/weave/internal/transcript"
	"github.com/jorge-barreto/weave/internal/workflow"
)

// Node kinds.
const (
	KindExec   = "exec"
	KindThread = "thread"
)

// Edge types.
const (
	EdgeDependsOn = "dependsOn"
	EdgeInvokes   = "invokes"
	EdgeResume    = "resume"
	EdgeSpawn     = "spawn"
	EdgeInteract  = "interact"
)

// Edge sources.
const (
	SourceWorkflow   = "workflow"
	SourceResume     = "resume"
	SourceTranscript = "transcript"
)

// Node is a graph vertex: one execution, or a bare thread.
type Node struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	ExecID    string            `json:"execId,omitempty"`
	Label     string            `json:"label,omitempty"`
	ThreadID  string            `json:"threadId,omitempty"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

// Edge is a directed relation between two node ids.
type Edge struct {
	Type   string `json:"type"`
	From   string `json:"from"`
	To     string `json:"to"`
	CallID string `json:"callId,omitempty"`
	Status string `json:"status,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	Source string `json:"source"`
}

// Graph is the flattened form stored in the manifest.
type Graph struct {
	Nodes    []Node   `json:"nodes"`
	Edges    []Edge   `json:"edges"`
	Warnings []string `json:"warnings"`
}

// ExecRef describes an execution to record as a node.
type ExecRef struct {
	ExecID    string
	Label     string
	ThreadID  string
	Artifacts map[string]string
}

// TranscriptSource loads the session log for a thread.
type TranscriptSource interface {
	Load(threadID string) (*transcript.Transcript, error)
}

// ExecNodeID returns the node id of an execution.
func ExecNodeID(execID string) string { return "exec:" + execID }

// ThreadNodeID returns the node id of a bare thread.
func ThreadNodeID(threadID string) string { return "thread:" + threadID }

// EdgeKey is the identity of workflow- and resume-derived edges.
func EdgeKey(e Edge) string {
	return joinKey(e.Type, e.From, e.To, e.CallID, e.Status, e.Prompt)
}

// TranscriptEdgeKey is the identity of transcript-derived edges. Prompt text
// is not part of it.
func TranscriptEdgeKey(e Edge) string {
	return joinKey("transcript", e.Type, e.From, e.To, e.CallID, e.Status)
}

// joinKey quotes each field so no id content can collide with a separator.
func joinKey(fields ...string) string {
	q := make([]string, len(fields))
	for i, f := range fields {
		q[i] = strconv.Quote(f)
	}
	return strings.Join(q, ",")
}

// Builder is the in-memory index behind a Graph. It is not safe for
// concurrent use; the engine drives it from a single goroutine.
type Builder struct {
	nodes     map[string]*Node
	nodeOrder []string

	edges     map[string]Edge
	edgeOrder []string

	warnings     map[string]bool
	warningOrder []string

	threadExecs map[string][]string // thread id -> exec node ids
	enriched    map[string]bool     // threads already scanned this run
	callIDs     map[string]string   // call id -> edge signature

	transcripts TranscriptSource
}

// NewBuilder returns an empty builder. src may be nil to disable transcript
// enrichment.
func NewBuilder(src TranscriptSource) *Builder {
	return &Builder{
		nodes:       make(map[string]*Node),
		edges:       make(map[string]Edge),
		warnings:    make(map[string]bool),
		threadExecs: make(map[string][]string),
		enriched:    make(map[string]bool),
		callIDs:     make(map[string]string),
		transcripts: src,
	}
}

// Snapshot flattens the index in insertion order.
func (b *Builder) Snapshot() Graph {
	g := Graph{
		Nodes:    make([]Node, 0, len(b.nodeOrder)),
		Edges:    make([]Edge, 0, len(b.edgeOrder)),
		Warnings: append([]string{}, b.warningOrder...),
	}
	for _, id := range b.nodeOrder {
		n := *b.nodes[id]
		if n.Artifacts != nil {
			cp := make(map[string]string, len(n.Artifacts))
			for k, v := range n.Artifacts {
				cp[k] = v
			}
			n.Artifacts = cp
		}
		g.Nodes = append(g.Nodes, n)
	}
	for _, key := range b.edgeOrder {
		g.Edges = append(g.Edges, b.edges[key])
	}
	return g
}

// Warn records a human-readable warning once.
func (b *Builder) Warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if b.warnings[msg] {
		return
	}
	b.warnings[msg] = true
	b.warningOrder = append(b.warningOrder, msg)
}

func (b *Builder) addNode(n Node) *Node {
	if existing, ok := b.nodes[n.ID]; ok {
		return existing
	}
	b.nodes[n.ID] = &n
	b.nodeOrder = append(b.nodeOrder, n.ID)
	return &n
}

// RecordExecNode upserts the exec node for ref and associates it with its
// thread.
func (b *Builder) RecordExecNode(ref ExecRef) string {
	id := ExecNodeID(ref.ExecID)
	if existing, ok := b.nodes[id]; ok {
		if ref.Label != "" {
			existing.Label = ref.Label
		}
		if ref.Artifacts != nil {
			existing.Artifacts = ref.Artifacts
		}
		if ref.ThreadID != "" && existing.ThreadID == "" {
			existing.ThreadID = ref.ThreadID
			b.threadExecs[ref.ThreadID] = append(b.threadExecs[ref.ThreadID], id)
		}
		return id
	}
	b.addNode(Node{
		ID:        id,
		Kind:      KindExec,
		ExecID:    ref.ExecID,
		Label:     ref.Label,
		ThreadID:  ref.ThreadID,
		Artifacts: ref.Artifacts,
	})
	if ref.ThreadID != "" {
		b.threadExecs[ref.ThreadID] = append(b.threadExecs[ref.ThreadID], id)
	}
	return id
}

// NodeIDForThread returns the id that addresses threadID: the sole exec
// node when exactly one execution ran on the thread, otherwise the thread's
// own node id.
func (b *Builder) NodeIDForThread(threadID string) string {
	if execs := b.threadExecs[threadID]; len(execs) == 1 {
		return execs[0]
	}
	return ThreadNodeID(threadID)
}

// EnsureThreadNode returns NodeIDForThread(threadID), creating the thread
// node when that id refers to one.
func (b *Builder) EnsureThreadNode(threadID string) string {
	id := b.NodeIDForThread(threadID)
	if id == ThreadNodeID(threadID) {
		b.addNode(Node{ID: id, Kind: KindThread, ThreadID: threadID})
	}
	return id
}

func (b *Builder) threadNode(threadID string) string {
	id := ThreadNodeID(threadID)
	b.addNode(Node{ID: id, Kind: KindThread, ThreadID: threadID})
	return id
}

// RecordEdge inserts e unless an edge with the same key exists. An empty key
// means EdgeKey(e). It reports whether the edge was new.
func (b *Builder) RecordEdge(e Edge, key string) bool {
	if key == "" {
		key = EdgeKey(e)
	}
	if _, ok := b.edges[key]; ok {
		return false
	}
	b.edges[key] = e
	b.edgeOrder = append(b.edgeOrder, key)
	return true
}

// RecordDependsOnEdges links each dependency's exec node to the dependent
// step's exec node.
func (b *Builder) RecordDependsOnEdges(wf *workflow.Workflow, results map[string]workflow.StepResult) {
	for _, step := range wf.Steps {
		to, ok := results[step.ID]
		if !ok || to.ExecID == "" {
			continue
		}
		for _, dep := range step.DependsOn {
			from, ok := results[dep]
			if !ok || from.ExecID == "" {
				continue
			}
			b.RecordEdge(Edge{
				Type:   EdgeDependsOn,
				From:   ExecNodeID(from.ExecID),
				To:     ExecNodeID(to.ExecID),
				Source: SourceWorkflow,
			}, "")
		}
	}
}

// RecordInvokesEdges links the generator to every step and every step to the
// completion check. Empty exec ids skip their side.
func (b *Builder) RecordInvokesEdges(generatorExecID string, results []workflow.StepResult, completionExecID string) {
	for _, r := range results {
		if r.ExecID == "" {
			continue
		}
		if generatorExecID != "" {
			b.RecordEdge(Edge{
				Type:   EdgeInvokes,
				From:   ExecNodeID(generatorExecID),
				To:     ExecNodeID(r.ExecID),
				Source: SourceWorkflow,
			}, "")
		}
		if completionExecID != "" {
			b.RecordEdge(Edge{
				Type:   EdgeInvokes,
				From:   ExecNodeID(r.ExecID),
				To:     ExecNodeID(completionExecID),
				Source: SourceWorkflow,
			}, "")
		}
	}
}

// RecordResumeEdge links a resumed thread to the execution that resumed it.
// Call it after RecordExecNode for the new execution.
func (b *Builder) RecordResumeEdge(threadID, execID string) {
	to := ExecNodeID(execID)
	from := b.EnsureThreadNode(threadID)
	if from == to {
		from = b.threadNode(threadID)
	}
	b.RecordEdge(Edge{Type: EdgeResume, From: from, To: to, Source: SourceResume}, "")
}
