package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

const execsDir = "execs"

// Artifact file names inside an exec directory.
const (
	promptFile      = "prompt.txt"
	outputFile      = "output.txt"
	lastMessageFile = "last_message.txt"
	metadataFile    = "metadata.json"
	eventsFile      = "events.jsonl"
	stderrFile      = "stderr.txt"
)

var slugRe = regexp.MustCompile(`[^a-z0-9_-]+`)

// Slugify lowercases label, collapses runs of characters outside
// [a-z0-9_-] to one hyphen, and trims hyphens. An empty result becomes "exec".
func Slugify(label string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(label), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "exec"
	}
	return s
}

// ExecDir is the artifact directory of one execution.
type ExecDir struct {
	runDir    string
	Artifacts Artifacts
}

// NewExecDir creates execs/<execID>-<slug> under the run directory.
func (rc *RunContext) NewExecDir(execID, label string) (*ExecDir, error) {
	rel := path.Join(execsDir, execID+"-"+Slugify(label))
	if err := os.MkdirAll(filepath.Join(rc.RunDir, filepath.FromSlash(rel)), 0755); err != nil {
		return nil, fmt.Errorf("creating exec dir %s: %w", rel, err)
	}
	return &ExecDir{
		runDir: rc.RunDir,
		Artifacts: Artifacts{
			Dir:    rel,
			Prompt: path.Join(rel, promptFile),
		},
	}, nil
}

// Abs returns the absolute path of a run-relative artifact path.
func (d *ExecDir) Abs(rel string) string {
	return filepath.Join(d.runDir, filepath.FromSlash(rel))
}

// WritePrompt captures the prompt sent to the agent.
func (d *ExecDir) WritePrompt(prompt string) error {
	return os.WriteFile(d.Abs(d.Artifacts.Prompt), []byte(prompt), 0644)
}

// CreateStreams creates events.jsonl and stderr.txt for the agent's raw
// output. The caller closes both.
func (d *ExecDir) CreateStreams() (events, stderr *os.File, err error) {
	d.Artifacts.Events = path.Join(d.Artifacts.Dir, eventsFile)
	d.Artifacts.Stderr = path.Join(d.Artifacts.Dir, stderrFile)
	events, err = os.Create(d.Abs(d.Artifacts.Events))
	if err != nil {
		return nil, nil, fmt.Errorf("creating events log: %w", err)
	}
	stderr, err = os.Create(d.Abs(d.Artifacts.Stderr))
	if err != nil {
		events.Close()
		return nil, nil, fmt.Errorf("creating stderr log: %w", err)
	}
	return events, stderr, nil
}

// WriteResult writes output.txt, last_message.txt and metadata.json.
func (d *ExecDir) WriteResult(output, lastMessage string, meta Metadata) error {
	d.Artifacts.Output = path.Join(d.Artifacts.Dir, outputFile)
	d.Artifacts.LastMessage = path.Join(d.Artifacts.Dir, lastMessageFile)
	d.Artifacts.Metadata = path.Join(d.Artifacts.Dir, metadataFile)

	if err := os.WriteFile(d.Abs(d.Artifacts.Output), []byte(output), 0644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	if err := os.WriteFile(d.Abs(d.Artifacts.LastMessage), []byte(lastMessage), 0644); err != nil {
		return fmt.Errorf("writing last message: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(d.Abs(d.Artifacts.Metadata), data, 0644)
}

// WriteExecArtifacts writes a complete exec directory in one call and
// returns its run-relative paths.
func (rc *RunContext) WriteExecArtifacts(execID, label, prompt, output string, meta Metadata) (Artifacts, error) {
	d, err := rc.NewExecDir(execID, label)
	if err != nil {
		return Artifacts{}, err
	}
	if err := d.WritePrompt(prompt); err != nil {
		return Artifacts{}, err
	}
	if err := d.WriteResult(output, output, meta); err != nil {
		return Artifacts{}, err
	}
	return d.Artifacts, nil
}
