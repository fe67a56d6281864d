package agent

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent writes a bash script that records its arguments, stdin and
// environment next to itself, then prints body.
func fakeAgent(t *testing.T, body string) (bin, dir string) {
	t.Helper()
	dir = t.TempDir()
	bin = filepath.Join(dir, "fake-agent")
	script := "#!/usr/bin/env bash\n" +
		`here="$(dirname "$0")"` + "\n" +
		`printf '%s\n' "$@" > "$here/args.txt"` + "\n" +
		`cat > "$here/stdin.txt"` + "\n" +
		`printf '%s\n' "$WEAVE_RUN_ID" "$WEAVE_EXEC_ID" > "$here/env.txt"` + "\n" +
		body + "\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0755))
	return bin, dir
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestExec_Execute(t *testing.T) {
	bin, dir := fakeAgent(t, `cat <<'EOF'
{"type":"thread.started","thread_id":"th-1"}
{"type":"item.completed","item":{"type":"agent_message","text":"all good"}}
{"type":"turn.completed","usage":{"input_tokens":10,"output_tokens":2}}
EOF
echo "some warning" >&2`)

	var events, stderr bytes.Buffer
	a := NewExec(bin, "workspace-write", []string{"--full-auto"}, nil)
	res, err := a.Execute(context.Background(), Request{
		Prompt:  "do the thing",
		Cwd:     dir,
		Model:   "gpt-5",
		Options: map[string]any{"model_reasoning_effort": "high"},
		RunID:   "run-1",
		ExecID:  "exec-002",
		Events:  &events,
		Stderr:  &stderr,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.False(t, res.Failed())
	assert.Equal(t, "th-1", res.SessionID)
	assert.Equal(t, "all good", res.OutputText)
	assert.Equal(t, 0, res.ExitCode)
	require.NotNil(t, res.Usage)
	assert.Equal(t, int64(10), res.Usage.InputTokens)
	assert.Equal(t, 3, strings.Count(events.String(), "\n"))
	assert.Equal(t, "some warning\n", stderr.String())

	assert.Equal(t, []string{
		"exec", "--json", "--skip-git-repo-check", "-C", dir,
		"--sandbox", "workspace-write", "-m", "gpt-5",
		"-c", `model_reasoning_effort="high"`, "--full-auto", "-",
	}, readLines(t, filepath.Join(dir, "args.txt")))

	stdin, err := os.ReadFile(filepath.Join(dir, "stdin.txt"))
	require.NoError(t, err)
	assert.Equal(t, "do the thing", string(stdin))
	assert.Equal(t, []string{"run-1", "exec-002"}, readLines(t, filepath.Join(dir, "env.txt")))
}

func TestExec_Resume(t *testing.T) {
	bin, dir := fakeAgent(t, `echo '{"type":"item.completed","item":{"type":"agent_message","text":"resumed"}}'`)

	a := NewExec(bin, "", nil, nil)
	res, err := a.Resume(context.Background(), "th-9", Request{Prompt: "continue", Cwd: dir})
	require.NoError(t, err)
	assert.Equal(t, "resumed", res.OutputText)
	assert.Equal(t, []string{"exec", "resume", "th-9", "--json", "--skip-git-repo-check", "-C", dir, "-"},
		readLines(t, filepath.Join(dir, "args.txt")))

	_, err = a.Resume(context.Background(), "", Request{Prompt: "x"})
	assert.Error(t, err)
}

func TestExec_NonZeroExitIsData(t *testing.T) {
	bin, dir := fakeAgent(t, `echo "boom" >&2
exit 3`)

	a := NewExec(bin, "", nil, nil)
	res, err := a.Execute(context.Background(), Request{Prompt: "p", Cwd: dir})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "agent exited with code 3: boom", res.Error)
}

func TestExec_TurnFailed(t *testing.T) {
	bin, dir := fakeAgent(t, `echo '{"type":"turn.failed","error":{"message":"quota exceeded"}}'`)

	a := NewExec(bin, "", nil, nil)
	res, err := a.Execute(context.Background(), Request{Prompt: "p", Cwd: dir})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "quota exceeded", res.Error)
}

func TestExec_MissingBinary(t *testing.T) {
	a := NewExec(filepath.Join(t.TempDir(), "does-not-exist"), "", nil, nil)
	_, err := a.Execute(context.Background(), Request{Prompt: "p"})
	assert.Error(t, err)
}

func TestConfigOverrides(t *testing.T) {
	got := configOverrides(map[string]any{"b": 2, "a": "x", "c": true})
	assert.Equal(t, []string{"-c", `a="x"`, "-c", "b=2", "-c", "c=true"}, got)
	assert.Empty(t, configOverrides(nil))
}

func TestBuildEnv(t *testing.T) {
	t.Setenv("WEAVE_RUN_ID", "stale")
	env := BuildEnv("run-2", "exec-007")

	var runIDs []string
	for _, e := range env {
		if strings.HasPrefix(e, "WEAVE_RUN_ID=") {
			runIDs = append(runIDs, e)
		}
	}
	assert.Equal(t, []string{"WEAVE_RUN_ID=run-2"}, runIDs)
	assert.Contains(t, env, "WEAVE_EXEC_ID=exec-007")
}

func TestPreflight(t *testing.T) {
	assert.NoError(t, Preflight("bash"))
	err := Preflight("weave-no-such-binary")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weave-no-such-binary")
	assert.Error(t, Preflight(""))
}
