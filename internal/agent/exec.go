package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Sandbox modes accepted by the agent CLI.
var SandboxModes = []string{"read-only", "workspace-write", "danger-full-access"}

// stderrTailSize bounds how much stderr is kept for error messages.
const stderrTailSize = 4096

// Exec runs `<Bin> exec --json` as a subprocess, one process per call.
type Exec struct {
	Bin     string
	Sandbox string
	Args    []string // appended to every invocation
	Log     *zap.SugaredLogger
}

// NewExec returns an adapter for bin.
func NewExec(bin, sandbox string, args []string, log *zap.SugaredLogger) *Exec {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Exec{Bin: bin, Sandbox: sandbox, Args: args, Log: log}
}

// Execute starts a new agent thread.
func (e *Exec) Execute(ctx context.Context, req Request) (*Result, error) {
	return e.run(ctx, e.buildArgs("", req), req)
}

// Resume continues an existing agent thread.
func (e *Exec) Resume(ctx context.Context, sessionID string, req Request) (*Result, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("resume: empty session id")
	}
	return e.run(ctx, e.buildArgs(sessionID, req), req)
}

// buildArgs renders the CLI arguments. The prompt is read from stdin.
func (e *Exec) buildArgs(sessionID string, req Request) []string {
	args := []string{"exec"}
	if sessionID != "" {
		args = append(args, "resume", sessionID)
	}
	args = append(args, "--json", "--skip-git-repo-check")
	if req.Cwd != "" {
		args = append(args, "-C", req.Cwd)
	}
	if e.Sandbox != "" {
		args = append(args, "--sandbox", e.Sandbox)
	}
	if req.Model != "" {
		args = append(args, "-m", req.Model)
	}
	args = append(args, configOverrides(req.Options)...)
	args = append(args, e.Args...)
	return append(args, "-")
}

// configOverrides renders options as `-c key=value` pairs in key order.
// Values are JSON-encoded.
func configOverrides(opts map[string]any) []string {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		v, err := json.Marshal(opts[k])
		if err != nil {
			continue
		}
		out = append(out, "-c", k+"="+string(v))
	}
	return out
}

func (e *Exec) run(ctx context.Context, args []string, req Request) (*Result, error) {
	cmd := exec.CommandContext(ctx, e.Bin, args...)
	cmd.Dir = req.Cwd
	cmd.Env = BuildEnv(req.RunID, req.ExecID)
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	var stderrTail tailBuffer
	if req.Stderr != nil {
		cmd.Stderr = io.MultiWriter(req.Stderr, &stderrTail)
	} else {
		cmd.Stderr = &stderrTail
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	e.Log.Debugw("starting agent", "bin", e.Bin, "args", args, "exec", req.ExecID)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", e.Bin, err)
	}

	stream, streamErr := processStream(ctx, stdout, req.Events)
	if streamErr != nil {
		// Drain so the process can exit.
		io.Copy(io.Discard, stdout)
	}
	code, err := exitCode(cmd.Wait())
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", e.Bin, err)
	}

	result := &Result{
		SessionID:  stream.SessionID,
		OutputText: stream.LastMessage(),
		Messages:   stream.Messages,
		Usage:      stream.Usage,
		ExitCode:   code,
		Status:     StatusCompleted,
	}
	switch {
	case code != 0:
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("agent exited with code %d", code)
		if stream.Failure != "" {
			result.Error += ": " + stream.Failure
		} else if tail := strings.TrimSpace(stderrTail.String()); tail != "" {
			result.Error += ": " + tail
		}
	case stream.Failure != "":
		result.Status = StatusFailed
		result.Error = stream.Failure
	case streamErr != nil:
		result.Status = StatusFailed
		result.Error = streamErr.Error()
	}
	e.Log.Debugw("agent finished", "exec", req.ExecID, "status", result.Status, "code", code, "session", result.SessionID)
	return result, nil
}

// tailBuffer keeps the last stderrTailSize bytes written to it.
type tailBuffer struct {
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > stderrTailSize {
		t.buf = t.buf[len(t.buf)-stderrTailSize:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }

// Preflight checks that the agent binary is available on PATH.
func Preflight(bin string) error {
	if bin == "" {
		return fmt.Errorf("no agent binary configured")
	}
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("required binary not found in PATH: %s", bin)
	}
	return nil
}
