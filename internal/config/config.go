package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dir is the per-project directory holding config and runs.
const Dir = ".weave"

// FileName is the config file inside Dir.
const FileName = "config.yaml"

type Agent struct {
	Bin         string   `yaml:"bin"`
	Model       string   `yaml:"model"`
	Sandbox     string   `yaml:"sandbox"`
	Args        []string `yaml:"args"`
	SessionsDir string   `yaml:"sessions-dir"`
}

type Run struct {
	MaxIterations  int    `yaml:"max-iterations"`
	Concurrency    int    `yaml:"concurrency"`
	RunsDir        string `yaml:"runs-dir"`
	ProjectContext bool   `yaml:"project-context"`
}

type Config struct {
	Agent    Agent    `yaml:"agent"`
	Run      Run      `yaml:"run"`
	Skills   []string `yaml:"skills"`
	LogLevel string   `yaml:"log-level"`
}

// Default returns the configuration used when no file exists. Fields not
// set in a config file keep these values.
func Default() *Config {
	return &Config{
		Agent: Agent{
			Bin:         "codex",
			Sandbox:     "workspace-write",
			SessionsDir: "~/.codex/sessions",
		},
		Run: Run{
			MaxIterations:  3,
			Concurrency:    2,
			RunsDir:        filepath.Join(Dir, "runs"),
			ProjectContext: true,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML config at path over the defaults and validates it.
// A missing file yields the defaults. Relative paths in the result are
// resolved against projectRoot.
func Load(path, projectRoot string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	cfg.resolvePaths(projectRoot)
	return cfg, nil
}

func (c *Config) resolvePaths(projectRoot string) {
	c.Agent.SessionsDir = ResolvePath(c.Agent.SessionsDir, projectRoot)
	c.Run.RunsDir = ResolvePath(c.Run.RunsDir, projectRoot)
	for i, s := range c.Skills {
		c.Skills[i] = ResolvePath(s, projectRoot)
	}
}

// ResolvePath expands a leading ~ and makes p absolute relative to base.
// Empty stays empty.
func ResolvePath(p, base string) string {
	if p == "" {
		return ""
	}
	p = ExpandHome(p)
	if !filepath.IsAbs(p) && base != "" {
		p = filepath.Join(base, p)
	}
	return filepath.Clean(p)
}

// ExpandHome replaces a leading "~" or "~/" with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Overrides are command-line values that win over the file. Nil or empty
// fields leave the file value alone.
type Overrides struct {
	MaxIterations *int
	Concurrency   *int
	Model         string
	RunsDir       string
	NoContext     bool
	LogLevel      string
}

// Apply merges o into c and re-validates. RunsDir is resolved against cwd.
func (c *Config) Apply(o Overrides, cwd string) error {
	if o.MaxIterations != nil {
		c.Run.MaxIterations = *o.MaxIterations
	}
	if o.Concurrency != nil {
		c.Run.Concurrency = *o.Concurrency
	}
	if o.Model != "" {
		c.Agent.Model = o.Model
	}
	if o.RunsDir != "" {
		c.Run.RunsDir = ResolvePath(o.RunsDir, cwd)
	}
	if o.NoContext {
		c.Run.ProjectContext = false
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	return Validate(c)
}

// FindProjectRoot walks up from dir looking for .weave/config.yaml. When
// none is found, dir itself is the project root.
func FindProjectRoot(dir string) string {
	for cur := dir; ; {
		if _, err := os.Stat(filepath.Join(cur, Dir, FileName)); err == nil {
			return cur
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return dir
		}
		cur = parent
	}
}

// Path returns the config file path under projectRoot.
func Path(projectRoot string) string {
	return filepath.Join(projectRoot, Dir, FileName)
}
