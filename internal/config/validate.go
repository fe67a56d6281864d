package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jorge-barreto/weave/internal/agent"
	"github.com/jorge-barreto/weave/internal/log"
)

// Validate checks the config for errors. Iteration and concurrency limits
// below 1 are accepted; the engine floors them.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Agent.Bin) == "" {
		return fmt.Errorf("config: 'agent.bin' is required")
	}
	if cfg.Agent.Sandbox != "" && !slices.Contains(agent.SandboxModes, cfg.Agent.Sandbox) {
		return fmt.Errorf("config: agent.sandbox: unknown mode %q (must be one of %s)", cfg.Agent.Sandbox, strings.Join(agent.SandboxModes, ", "))
	}
	for i, a := range cfg.Agent.Args {
		if strings.TrimSpace(a) == "" {
			return fmt.Errorf("config: agent.args[%d]: must be non-empty", i)
		}
	}
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("config: log-level: %w", err)
	}
	for i, s := range cfg.Skills {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("config: skills[%d]: path must be non-empty", i)
		}
	}
	if strings.TrimSpace(cfg.Run.RunsDir) == "" {
		return fmt.Errorf("config: 'run.runs-dir' must be non-empty")
	}
	return nil
}
