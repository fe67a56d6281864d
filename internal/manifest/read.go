package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnsafePath is returned for artifact paths that would leave the run
// directory.
var ErrUnsafePath = errors.New("unsafe artifact path")

// Load reads and validates <runDir>/manifest.json.
func Load(runDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(runDir, FileName))
	if err != nil {
		return nil, err
	}
	if err := ValidateJSON(data); err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return &m, nil
}

// List loads every run under runsDir, newest first. Directories without a
// valid manifest are reported to skip, when non-nil, and left out. A missing
// runsDir is an empty list.
func List(runsDir string, skip func(dir string, err error)) ([]*Manifest, error) {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var runs []*Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(runsDir, e.Name())
		m, err := Load(dir)
		if err != nil {
			if skip != nil {
				skip(dir, err)
			}
			continue
		}
		runs = append(runs, m)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].RunID > runs[j].RunID
	})
	return runs, nil
}

// RunDir returns the directory of runID under runsDir.
func RunDir(runsDir, runID string) (string, error) {
	if !ValidRunID(runID) {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	return filepath.Join(runsDir, runID), nil
}

// Latest returns the newest valid run under runsDir.
func Latest(runsDir string) (*Manifest, error) {
	runs, err := List(runsDir, nil)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("no runs found in %s", runsDir)
	}
	return runs[0], nil
}

// ResolveArtifact maps a run-relative path to an absolute path inside
// runDir. Empty, absolute and escaping paths fail with ErrUnsafePath, as
// do symlinks that resolve outside the run directory. A missing file fails
// with an error matching fs.ErrNotExist.
func ResolveArtifact(runDir, rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", fmt.Errorf("%w: empty path", ErrUnsafePath)
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) {
		return "", fmt.Errorf("%w: absolute path", ErrUnsafePath)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes run directory", ErrUnsafePath)
	}

	root, err := filepath.EvalSymlinks(runDir)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(filepath.Join(root, clean))
	if err != nil {
		return "", err
	}
	inside, err := filepath.Rel(root, resolved)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: symlink escapes run directory", ErrUnsafePath)
	}
	return resolved, nil
}
