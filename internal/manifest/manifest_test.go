package manifest

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jorge-barreto/weave/internal/provenance"
)

func newTestRun(t *testing.T) (*RunContext, string) {
	t.Helper()
	runsDir := t.TempDir()
	rc, err := NewRunContext(runsDir, "run-test", "build it", "/work", Options{MaxIterations: 3, Concurrency: 2})
	require.NoError(t, err)
	return rc, runsDir
}

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"workflow-gen", "workflow-gen"},
		{"Step: Implement Feature!", "step-implement-feature"},
		{"  --a__b--  ", "a__b"},
		{"???", "exec"},
		{"", "exec"},
		{"Ünïcode name", "n-code-name"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), tt.in)
	}
}

func TestAllocateExecID_Monotonic(t *testing.T) {
	rc, _ := newTestRun(t)
	assert.Equal(t, "exec-001", rc.AllocateExecID())
	assert.Equal(t, "exec-002", rc.AllocateExecID())

	var wg sync.WaitGroup
	ids := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- rc.AllocateExecID()
		}()
	}
	wg.Wait()
	close(ids)
	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
	assert.Equal(t, "exec-053", rc.AllocateExecID())
}

func TestNewRunID(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	id := NewRunID(now)
	assert.True(t, strings.HasPrefix(id, "run-20260102T030405Z-"), id)
	assert.Len(t, id, len("run-20260102T030405Z-")+8)
	assert.True(t, ValidRunID(id))
	assert.NotEqual(t, id, NewRunID(now))

	assert.False(t, ValidRunID("../x"))
	assert.False(t, ValidRunID("a/b"))
	assert.False(t, ValidRunID(""))
}

func TestWriteExecArtifacts(t *testing.T) {
	rc, _ := newTestRun(t)
	code := 0
	meta := Metadata{ExecID: "exec-001", Label: "Workflow Gen", Kind: KindGenerate, Status: ExecCompleted, ExitCode: &code}

	a, err := rc.WriteExecArtifacts("exec-001", "Workflow Gen", "the prompt", "the output", meta)
	require.NoError(t, err)

	assert.Equal(t, "execs/exec-001-workflow-gen", a.Dir)
	assert.Equal(t, "execs/exec-001-workflow-gen/prompt.txt", a.Prompt)
	assert.Equal(t, "execs/exec-001-workflow-gen/output.txt", a.Output)
	assert.Equal(t, "execs/exec-001-workflow-gen/metadata.json", a.Metadata)
	for _, rel := range []string{a.Prompt, a.Output, a.LastMessage, a.Metadata} {
		assert.False(t, filepath.IsAbs(rel))
		_, err := os.Stat(filepath.Join(rc.RunDir, rel))
		assert.NoError(t, err, rel)
	}

	data, err := os.ReadFile(filepath.Join(rc.RunDir, a.Prompt))
	require.NoError(t, err)
	assert.Equal(t, "the prompt", string(data))

	var got Metadata
	data, err = os.ReadFile(filepath.Join(rc.RunDir, a.Metadata))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, KindGenerate, got.Kind)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
}

func TestExecDir_Streams(t *testing.T) {
	rc, _ := newTestRun(t)
	d, err := rc.NewExecDir("exec-004", "impl")
	require.NoError(t, err)
	events, stderr, err := d.CreateStreams()
	require.NoError(t, err)
	_, _ = events.WriteString(`{"type":"thread.started"}` + "\n")
	_, _ = stderr.WriteString("warn\n")
	require.NoError(t, events.Close())
	require.NoError(t, stderr.Close())

	assert.Equal(t, "execs/exec-004-impl/events.jsonl", d.Artifacts.Events)
	assert.Equal(t, "execs/exec-004-impl/stderr.txt", d.Artifacts.Stderr)
	paths := d.Artifacts.Paths()
	assert.Contains(t, paths, "events")
	assert.NotContains(t, paths, "output")
}

func TestStore_WriteThrough(t *testing.T) {
	rc, _ := newTestRun(t)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s, err := NewStore(rc, start)
	require.NoError(t, err)

	m, err := Load(rc.RunDir)
	require.NoError(t, err, "initial manifest must already be valid")
	assert.Equal(t, StatusRunning, m.Status)
	assert.Empty(t, m.Execs)

	require.NoError(t, s.AppendExec(ExecEntry{
		ExecID: "exec-001", Label: "workflow-gen", Status: ExecCompleted,
		Artifacts: Artifacts{Dir: "execs/exec-001-workflow-gen", Prompt: "execs/exec-001-workflow-gen/prompt.txt"},
	}))
	m, err = Load(rc.RunDir)
	require.NoError(t, err)
	require.Len(t, m.Execs, 1)

	require.NoError(t, s.SetGraph(provenance.Graph{
		Nodes:    []provenance.Node{{ID: "exec:exec-001", Kind: provenance.KindExec, ExecID: "exec-001"}},
		Edges:    []provenance.Edge{},
		Warnings: []string{"transcript for thread t not found"},
	}))
	require.NoError(t, s.Finish(StatusCompleted, "done", "", 1, start.Add(time.Minute)))

	m, err = Load(rc.RunDir)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, m.Status)
	assert.Equal(t, "done", m.Summary)
	assert.Equal(t, 1, m.Iterations)
	require.NotNil(t, m.FinishedAt)
	assert.True(t, m.Finished())
	assert.Len(t, m.Graph.Nodes, 1)
	assert.Equal(t, []string{"transcript for thread t not found"}, m.Graph.Warnings)

	_, err = os.Stat(s.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should not remain")
}

func TestStore_ConcurrentAppends(t *testing.T) {
	rc, _ := newTestRun(t)
	s, err := NewStore(rc, time.Now())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := rc.AllocateExecID()
			assert.NoError(t, s.AppendExec(ExecEntry{
				ExecID: id, Label: "step", Status: ExecCompleted,
				Artifacts: Artifacts{Dir: "execs/" + id, Prompt: "execs/" + id + "/prompt.txt"},
			}))
		}()
	}
	wg.Wait()

	m, err := Load(rc.RunDir)
	require.NoError(t, err)
	assert.Len(t, m.Execs, 20)
	assert.Len(t, s.Snapshot().Execs, 20)
}

func TestValidateJSON(t *testing.T) {
	assert.Error(t, ValidateJSON([]byte(`not json`)))

	err := ValidateJSON([]byte(`{"runId":"r","cwd":"/","startedAt":"x","status":"bogus","options":{},"execs":[],"graph":{"nodes":[],"edges":[],"warnings":[]}}`))
	var serr *SchemaError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Error(), "/status")

	err = ValidateJSON([]byte(`{"runId":"r"}`))
	require.ErrorAs(t, err, &serr)
}

func writeManifest(t *testing.T, runsDir, runID string, started time.Time) {
	t.Helper()
	rc, err := NewRunContext(runsDir, runID, "task "+runID, "/w", Options{})
	require.NoError(t, err)
	_, err = NewStore(rc, started)
	require.NoError(t, err)
}

func TestList_NewestFirstSkipsInvalid(t *testing.T) {
	runsDir := t.TempDir()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	writeManifest(t, runsDir, "run-a", base)
	writeManifest(t, runsDir, "run-c", base.Add(2*time.Hour))
	writeManifest(t, runsDir, "run-b", base.Add(time.Hour))

	require.NoError(t, os.MkdirAll(filepath.Join(runsDir, "broken"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(runsDir, "broken", FileName), []byte(`{"runId":1}`), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(runsDir, "empty"), 0755))

	var skipped []string
	runs, err := List(runsDir, func(dir string, err error) { skipped = append(skipped, filepath.Base(dir)) })
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-c", runs[0].RunID)
	assert.Equal(t, "run-b", runs[1].RunID)
	assert.Equal(t, "run-a", runs[2].RunID)
	assert.ElementsMatch(t, []string{"broken", "empty"}, skipped)

	latest, err := Latest(runsDir)
	require.NoError(t, err)
	assert.Equal(t, "run-c", latest.RunID)

	runs, err = List(filepath.Join(runsDir, "missing"), nil)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestResolveArtifact(t *testing.T) {
	runDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(runDir, "execs", "exec-001-a"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "execs", "exec-001-a", "prompt.txt"), []byte("p"), 0644))

	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("s"), 0644))
	require.NoError(t, os.Symlink(secret, filepath.Join(runDir, "link.txt")))

	got, err := ResolveArtifact(runDir, "execs/exec-001-a/prompt.txt")
	require.NoError(t, err)
	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "p", string(data))

	for _, rel := range []string{"", "/etc/passwd", "../x", "execs/../../x", "link.txt"} {
		_, err := ResolveArtifact(runDir, rel)
		assert.True(t, errors.Is(err, ErrUnsafePath), "%q: %v", rel, err)
	}

	_, err = ResolveArtifact(runDir, "execs/nope.txt")
	assert.True(t, errors.Is(err, fs.ErrNotExist), err)
}
