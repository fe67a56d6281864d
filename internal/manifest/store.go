package manifest

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jorge-barreto/weave/internal/provenance"
)

// Store owns a run's manifest and writes it through to disk after every
// mutation. Writes are serialized so concurrent callers cannot interleave.
type Store struct {
	mu   sync.Mutex
	path string
	m    Manifest
}

// NewStore starts a manifest for rc in the running state and writes it.
func NewStore(rc *RunContext, startedAt time.Time) (*Store, error) {
	s := &Store{
		path: rc.ManifestPath(),
		m: Manifest{
			RunID:     rc.RunID,
			Task:      rc.Task,
			Cwd:       rc.Cwd,
			StartedAt: startedAt.UTC(),
			Status:    StatusRunning,
			Options:   rc.Options,
			Execs:     []ExecEntry{},
			Graph: provenance.Graph{
				Nodes:    []provenance.Node{},
				Edges:    []provenance.Edge{},
				Warnings: []string{},
			},
		},
	}
	if err := s.Flush(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the manifest's file path.
func (s *Store) Path() string { return s.path }

// Update applies fn to the manifest and writes the result.
func (s *Store) Update(fn func(m *Manifest)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.m)
	return s.save()
}

// AppendExec adds an exec entry and writes the manifest.
func (s *Store) AppendExec(e ExecEntry) error {
	return s.Update(func(m *Manifest) {
		m.Execs = append(m.Execs, e)
	})
}

// SetGraph replaces the flattened graph and writes the manifest.
func (s *Store) SetGraph(g provenance.Graph) error {
	return s.Update(func(m *Manifest) {
		m.Graph = g
	})
}

// Finish stamps the terminal status and finish time and writes the manifest.
func (s *Store) Finish(status, summary, errMsg string, iterations int, at time.Time) error {
	return s.Update(func(m *Manifest) {
		t := at.UTC()
		m.FinishedAt = &t
		m.Status = status
		m.Summary = summary
		m.Error = errMsg
		m.Iterations = iterations
	})
}

// Flush writes the current state.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// Snapshot returns a copy of the current manifest.
func (s *Store) Snapshot() Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.m
	cp.Execs = append([]ExecEntry(nil), s.m.Execs...)
	return cp
}

func (s *Store) save() error {
	data, err := json.MarshalIndent(&s.m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := writeFileAtomic(s.path, data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}
