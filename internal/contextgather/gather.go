// Package contextgather collects a compact picture of the repository (top
// level layout, instruction and build files, recent commits) for the
// workflow generator's prompt.
package contextgather

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	maxFileSize  = 16 * 1024 // per file
	maxTotalSize = 64 * 1024 // across all files
	maxTreeItems = 40        // entries listed per directory
	gitTimeout   = 5 * time.Second
)

// skipDirs are excluded from the tree listing.
var skipDirs = map[string]bool{
	".git":         true,
	".weave":       true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"__pycache__":  true,
	"target":       true,
	"dist":         true,
}

// keyFiles are doublestar patterns, relative to the project root, whose
// contents are included. Earlier patterns take priority under the total
// size cap.
var keyFiles = []string{
	"AGENTS.md",
	"README*",
	"CONTRIBUTING.md",
	"{M,m}akefile",
	"go.mod",
	"package.json",
	"pyproject.toml",
	"Cargo.toml",
	"requirements.txt",
	".github/workflows/*.{yml,yaml}",
	"**/AGENTS.md",
}

// ProjectContext holds gathered project information.
type ProjectContext struct {
	DirTree string            // top level plus one level deep
	Files   map[string]string // slash-separated relative path -> contents
	Order   []string          // Files keys in the order they were found
	GitLog  string            // last 10 commits, one per line
}

// Gather collects project context from root. Unreadable parts are left
// out; only a missing root is an error.
func Gather(ctx context.Context, root string) (*ProjectContext, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("gathering project context: %w", err)
	}
	pc := &ProjectContext{Files: make(map[string]string)}
	pc.DirTree = buildTree(root)
	gatherFiles(root, pc)
	pc.GitLog = gatherGitLog(ctx, root)
	return pc, nil
}

// Render formats the context as a prompt section.
func (pc *ProjectContext) Render() string {
	var buf strings.Builder

	buf.WriteString("### Directory Structure\n\n```\n")
	buf.WriteString(pc.DirTree)
	buf.WriteString("```\n")

	for _, p := range pc.Order {
		fmt.Fprintf(&buf, "\n### %s\n\n```\n%s\n```\n", p, strings.TrimRight(pc.Files[p], "\n"))
	}

	if pc.GitLog != "" {
		buf.WriteString("\n### Recent Commits\n\n```\n")
		buf.WriteString(pc.GitLog)
		buf.WriteString("\n```\n")
	}
	return buf.String()
}

func buildTree(root string) string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "(unable to read directory)\n"
	}
	var buf strings.Builder
	listed := 0
	for _, e := range entries {
		if skipDirs[e.Name()] {
			continue
		}
		if listed == maxTreeItems {
			fmt.Fprintf(&buf, "... (%d more)\n", len(entries)-listed)
			break
		}
		listed++
		if !e.IsDir() {
			buf.WriteString(e.Name() + "\n")
			continue
		}
		buf.WriteString(e.Name() + "/\n")
		sub, err := os.ReadDir(filepath.Join(root, e.Name()))
		if err != nil {
			continue
		}
		for i, se := range sub {
			if i == maxTreeItems {
				fmt.Fprintf(&buf, "  ... (%d more)\n", len(sub)-i)
				break
			}
			if se.IsDir() {
				buf.WriteString("  " + se.Name() + "/\n")
			} else {
				buf.WriteString("  " + se.Name() + "\n")
			}
		}
	}
	return buf.String()
}

func gatherFiles(root string, pc *ProjectContext) {
	fsys := os.DirFS(root)
	total := 0
	for _, pattern := range keyFiles {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly(), doublestar.WithNoFollow())
		if err != nil {
			continue
		}
		sort.Strings(matches)
		for _, rel := range matches {
			if _, seen := pc.Files[rel]; seen || inSkippedDir(rel) {
				continue
			}
			data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				continue
			}
			content := string(data)
			if len(content) > maxFileSize {
				content = content[:maxFileSize] + "\n... (truncated)"
			}
			if total+len(content) > maxTotalSize {
				return
			}
			total += len(content)
			pc.Files[rel] = content
			pc.Order = append(pc.Order, rel)
		}
	}
}

func inSkippedDir(rel string) bool {
	parts := strings.Split(rel, "/")
	for _, p := range parts[:len(parts)-1] {
		if skipDirs[p] {
			return true
		}
	}
	return false
}

func gatherGitLog(ctx context.Context, root string) string {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "log", "--oneline", "-10")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
