package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/jorge-barreto/weave/internal/agent"
	"github.com/jorge-barreto/weave/internal/config"
	"github.com/jorge-barreto/weave/internal/contextgather"
	"github.com/jorge-barreto/weave/internal/docs"
	"github.com/jorge-barreto/weave/internal/doctor"
	"github.com/jorge-barreto/weave/internal/engine"
	"github.com/jorge-barreto/weave/internal/log"
	"github.com/jorge-barreto/weave/internal/manifest"
	"github.com/jorge-barreto/weave/internal/metrics"
	"github.com/jorge-barreto/weave/internal/prompt"
	"github.com/jorge-barreto/weave/internal/scaffold"
	"github.com/jorge-barreto/weave/internal/transcript"
	"github.com/jorge-barreto/weave/internal/ux"
	"github.com/jorge-barreto/weave/internal/viewer"
)

// errNotDone exits non-zero without an error line; the run result has
// already been printed.
var errNotDone = errors.New("task not completed")

func main() {
	app := &cli.Command{
		Name:        "weave",
		Usage:       "Plan, run and review coding-agent workflows",
		Description: "Run 'weave docs' for documentation on workflows, run directories and configuration.",
		Commands: []*cli.Command{
			initCmd(),
			runCmd(),
			statusCmd(),
			serveCmd(),
			doctorCmd(),
			docsCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		if !errors.Is(err, errNotDone) {
			fmt.Fprintf(os.Stderr, "%serror:%s %v\n", ux.Red, ux.Reset, err)
		}
		os.Exit(1)
	}
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run a task until the reviewer declares it done",
		ArgsUsage: "<task>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "max-iterations", Usage: "Iteration budget"},
			&cli.IntFlag{Name: "concurrency", Usage: "Maximum parallel steps"},
			&cli.StringFlag{Name: "model", Usage: "Default model for every agent call"},
			&cli.StringFlag{Name: "runs-dir", Usage: "Directory for run artifacts"},
			&cli.BoolFlag{Name: "no-context", Usage: "Leave project context out of the planning prompt"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on this address while the run lasts"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if os.Getenv("WEAVE_RUN_ID") != "" {
				return fmt.Errorf("weave cannot run inside a weave step (WEAVE_RUN_ID is set)")
			}
			task := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
			if task == "" {
				return fmt.Errorf("task argument is required")
			}

			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			projectRoot, cfg, err := loadConfig(cwd)
			if err != nil {
				return err
			}
			if err := cfg.Apply(overridesFrom(cmd), cwd); err != nil {
				return err
			}

			logger, err := log.Stderr(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Close()

			if err := agent.Preflight(cfg.Agent.Bin); err != nil {
				return err
			}
			skills, err := prompt.LoadSkills(cfg.Skills)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
			defer stop()

			var projectContext string
			if cfg.Run.ProjectContext {
				pc, err := contextgather.Gather(ctx, projectRoot)
				if err != nil {
					logger.Warnw("project context unavailable", "error", err)
				} else {
					projectContext = pc.Render()
				}
			}

			rc, err := manifest.NewRunContext(cfg.Run.RunsDir, manifest.NewRunID(time.Now()), task, cwd, manifest.Options{
				MaxIterations:  max(1, cfg.Run.MaxIterations),
				Concurrency:    max(1, cfg.Run.Concurrency),
				Model:          cfg.Agent.Model,
				Sandbox:        cfg.Agent.Sandbox,
				AgentBin:       cfg.Agent.Bin,
				ProjectContext: cfg.Run.ProjectContext,
			})
			if err != nil {
				return err
			}
			runLog, err := logger.Tee(rc.LogPath())
			if err != nil {
				return err
			}
			defer runLog.Close()

			eng := &engine.Engine{
				Adapter: agent.NewExec(cfg.Agent.Bin, cfg.Agent.Sandbox, cfg.Agent.Args, runLog.SugaredLogger),
				Log:     runLog.SugaredLogger,
				Options: engine.Options{
					MaxIterations:  cfg.Run.MaxIterations,
					Concurrency:    cfg.Run.Concurrency,
					Model:          cfg.Agent.Model,
					ProjectContext: projectContext,
					Skills:         skills,
				},
			}
			if cfg.Agent.SessionsDir != "" {
				eng.Transcripts = transcript.NewLocator(cfg.Agent.SessionsDir)
			}

			if addr := cmd.String("metrics-addr"); addr != "" {
				ms, err := metrics.Start(addr, runLog.SugaredLogger)
				if err != nil {
					return fmt.Errorf("metrics listener: %w", err)
				}
				defer ms.Stop()
				runLog.Infow("serving metrics", "addr", ms.Addr())
			}

			res, err := eng.Run(ctx, rc)
			if res == nil {
				return err
			}
			if res.Status == manifest.StatusError {
				ux.DoctorHint(res.RunID)
			}
			if res.Status != manifest.StatusCompleted {
				return errNotDone
			}
			return nil
		},
	}
}

func overridesFrom(cmd *cli.Command) config.Overrides {
	o := config.Overrides{
		Model:     cmd.String("model"),
		RunsDir:   cmd.String("runs-dir"),
		NoContext: cmd.Bool("no-context"),
		LogLevel:  cmd.String("log-level"),
	}
	if cmd.IsSet("max-iterations") {
		n := int(cmd.Int("max-iterations"))
		o.MaxIterations = &n
	}
	if cmd.IsSet("concurrency") {
		n := int(cmd.Int("concurrency"))
		o.Concurrency = &n
	}
	return o
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show a run (default: the newest)",
		ArgsUsage: "[runId]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "runs-dir", Usage: "Directory for run artifacts"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			runsDir, _, err := runsDirFor(cmd)
			if err != nil {
				return err
			}
			m, runDir, err := findRun(runsDir, cmd.Args().First())
			if err != nil {
				return err
			}
			ux.RenderStatus(m, runDir)
			return nil
		},
	}
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the read-only run viewer API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: viewer.DefaultAddr, Usage: "Listen address"},
			&cli.StringFlag{Name: "runs-dir", Usage: "Directory for run artifacts"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			runsDir, cfg, err := runsDirFor(cmd)
			if err != nil {
				return err
			}
			level := cfg.LogLevel
			if l := cmd.String("log-level"); l != "" {
				level = l
			}
			logger, err := log.Stderr(level)
			if err != nil {
				return err
			}
			defer logger.Close()

			var finder viewer.TranscriptFinder
			if cfg.Agent.SessionsDir != "" {
				finder = transcript.NewLocator(cfg.Agent.SessionsDir)
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			addr := cmd.String("addr")
			fmt.Printf("%sServing%s %s on http://%s\n", ux.Bold, ux.Reset, runsDir, addr)
			return viewer.NewServer(runsDir, finder, logger.SugaredLogger).ListenAndServe(ctx, addr)
		},
	}
}

func doctorCmd() *cli.Command {
	return &cli.Command{
		Name:      "doctor",
		Usage:     "Diagnose a failed run using the agent",
		ArgsUsage: "[runId]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "runs-dir", Usage: "Directory for run artifacts"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			runsDir, cfg, err := runsDirFor(cmd)
			if err != nil {
				return err
			}
			m, runDir, err := findRun(runsDir, cmd.Args().First())
			if err != nil {
				return err
			}
			if err := agent.Preflight(cfg.Agent.Bin); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			ad := agent.NewExec(cfg.Agent.Bin, cfg.Agent.Sandbox, cfg.Agent.Args, nil)
			return doctor.Run(ctx, ad, doctor.Input{
				RunDir:   runDir,
				Manifest: m,
				Cwd:      m.Cwd,
				Model:    cfg.Agent.Model,
			}, os.Stdout)
		},
	}
}

func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize a .weave/ directory with an example config",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}
			return scaffold.Init(dir, os.Stdout)
		},
	}
}

func docsCmd() *cli.Command {
	return &cli.Command{
		Name:      "docs",
		Usage:     "Show documentation",
		ArgsUsage: "[topic]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				fmt.Print("\n" + docs.Index())
				return nil
			}
			t, err := docs.Get(name)
			if err != nil {
				return err
			}
			fmt.Print(t.Content)
			return nil
		},
	}
}

// loadConfig finds the project root from cwd and loads its config.
func loadConfig(cwd string) (string, *config.Config, error) {
	root := config.FindProjectRoot(cwd)
	cfg, err := config.Load(config.Path(root), root)
	if err != nil {
		return "", nil, fmt.Errorf("loading config: %w", err)
	}
	return root, cfg, nil
}

// runsDirFor returns the runs directory from --runs-dir or the config.
func runsDirFor(cmd *cli.Command) (string, *config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", nil, err
	}
	_, cfg, err := loadConfig(cwd)
	if err != nil {
		return "", nil, err
	}
	if d := cmd.String("runs-dir"); d != "" {
		return config.ResolvePath(d, cwd), cfg, nil
	}
	return cfg.Run.RunsDir, cfg, nil
}

// findRun loads runID, or the newest run when runID is empty.
func findRun(runsDir, runID string) (*manifest.Manifest, string, error) {
	if runID == "" {
		m, err := manifest.Latest(runsDir)
		if err != nil {
			return nil, "", err
		}
		return m, filepath.Join(runsDir, m.RunID), nil
	}
	runDir, err := manifest.RunDir(runsDir, runID)
	if err != nil {
		return nil, "", err
	}
	m, err := manifest.Load(runDir)
	if err != nil {
		return nil, "", fmt.Errorf("loading run %s: %w", runID, err)
	}
	return m, runDir, nil
}
