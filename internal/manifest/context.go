package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var runIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidRunID reports whether id can name a run directory.
func ValidRunID(id string) bool {
	return runIDRe.MatchString(id) && !strings.Contains(id, "..")
}

// NewRunID returns run-<UTC timestamp>-<8 hex chars>. Ids sort by start time.
func NewRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("run-%s-%s", now.UTC().Format("20060102T150405Z"), suffix)
}

// RunContext is the per-run state shared by everything that writes
// artifacts. The exec index is the only source of exec id uniqueness.
type RunContext struct {
	RunID   string
	RunDir  string
	Task    string
	Cwd     string
	Options Options

	mu            sync.Mutex
	nextExecIndex int
}

// NewRunContext creates <runsDir>/<runID> and returns a context for it.
func NewRunContext(runsDir, runID, task, cwd string, opts Options) (*RunContext, error) {
	if !ValidRunID(runID) {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}
	runDir, err := filepath.Abs(filepath.Join(runsDir, runID))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(runDir, execsDir), 0755); err != nil {
		return nil, fmt.Errorf("creating run dir %s: %w", runDir, err)
	}
	return &RunContext{
		RunID:   runID,
		RunDir:  runDir,
		Task:    task,
		Cwd:     cwd,
		Options: opts,
	}, nil
}

// AllocateExecID returns the next exec-NNN id. Ids are never reused.
func (rc *RunContext) AllocateExecID() string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.nextExecIndex++
	return fmt.Sprintf("exec-%03d", rc.nextExecIndex)
}

// ManifestPath returns the absolute path of the run's manifest.
func (rc *RunContext) ManifestPath() string {
	return filepath.Join(rc.RunDir, FileName)
}

// LogPath returns the absolute path of the run's diagnostic log.
func (rc *RunContext) LogPath() string {
	return filepath.Join(rc.RunDir, "weave.log")
}
