package scaffold

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jorge-barreto/weave/internal/config"
	"github.com/jorge-barreto/weave/internal/ux"
)

var configTemplate = `# weave configuration. Every key is optional; the values below are the defaults.
agent:
  bin: codex                 # agent CLI, invoked as "<bin> exec --json"
  model: ""                  # passed as -m when set
  sandbox: workspace-write   # read-only | workspace-write | danger-full-access
  args: []                   # extra arguments for every invocation
  sessions-dir: ~/.codex/sessions   # where the agent keeps its session logs

run:
  max-iterations: 3
  concurrency: 2
  runs-dir: .weave/runs
  project-context: true      # include README, build files and git log in the planning prompt

# Documents appended to the planning prompt, relative to the project root.
skills:
  - .weave/skills/conventions.md

log-level: info
`

var skillTemplate = `# Project conventions

- Run the test suite before declaring a step done.
- Keep changes small and focused on the step's goal.
`

var gitignoreTemplate = `runs/
`

// Init creates .weave/ in targetDir with an example config and skill.
func Init(targetDir string, out io.Writer) error {
	weaveDir := filepath.Join(targetDir, config.Dir)
	if _, err := os.Stat(weaveDir); err == nil {
		return fmt.Errorf("%s directory already exists in %s", config.Dir, targetDir)
	}

	skillsDir := filepath.Join(weaveDir, "skills")
	if err := os.MkdirAll(skillsDir, 0755); err != nil {
		return fmt.Errorf("creating %s/skills: %w", config.Dir, err)
	}

	files := []struct {
		path, content string
	}{
		{config.Path(targetDir), configTemplate},
		{filepath.Join(skillsDir, "conventions.md"), skillTemplate},
		{filepath.Join(weaveDir, ".gitignore"), gitignoreTemplate},
	}
	for _, f := range files {
		if err := os.WriteFile(f.path, []byte(f.content), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", filepath.Base(f.path), err)
		}
	}

	fmt.Fprintf(out, "\n%s%s✓ Initialized .weave/ directory%s\n\n", ux.Bold, ux.Green, ux.Reset)
	fmt.Fprintf(out, "  Created:\n")
	fmt.Fprintf(out, "    %s.weave/config.yaml%s             agent and run settings\n", ux.Cyan, ux.Reset)
	fmt.Fprintf(out, "    %s.weave/skills/conventions.md%s   example skill for the planner\n", ux.Cyan, ux.Reset)
	fmt.Fprintf(out, "    %s.weave/.gitignore%s              keeps run artifacts out of git\n\n", ux.Cyan, ux.Reset)
	fmt.Fprintf(out, "  Next steps:\n")
	fmt.Fprintf(out, "    1. Edit %s.weave/config.yaml%s to pick the agent binary and model\n", ux.Cyan, ux.Reset)
	fmt.Fprintf(out, "    2. Run %sweave run \"<task>\"%s\n\n", ux.Cyan, ux.Reset)
	return nil
}
