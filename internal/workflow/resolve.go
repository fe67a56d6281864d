package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCircularDependency marks a workflow whose dependsOn edges form a cycle.
	ErrCircularDependency = errors.New("circular dependency")
	// ErrStuckWorkflow marks a workflow with steps that can never become ready.
	ErrStuckWorkflow = errors.New("stuck workflow")
)

// CycleError lists the steps that form a dependency cycle, first step repeated last.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCircularDependency, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCircularDependency }

// StuckError lists the steps left unscheduled because a dependency never resolves.
type StuckError struct {
	Remaining []string
}

func (e *StuckError) Error() string {
	return fmt.Sprintf("%v: unresolved dependencies for steps %s", ErrStuckWorkflow, strings.Join(e.Remaining, ", "))
}

func (e *StuckError) Unwrap() error { return ErrStuckWorkflow }

// ResolveWaves groups steps into waves. Every step's dependencies appear in
// strictly earlier waves, and steps keep declaration order inside a wave.
func ResolveWaves(steps []Step) ([][]Step, error) {
	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate step id %q", s.ID)
		}
		seen[s.ID] = true
	}

	completed := make(map[string]bool, len(steps))
	remaining := steps
	var waves [][]Step
	for len(remaining) > 0 {
		var wave, rest []Step
		for _, s := range remaining {
			if Ready(s, completed) {
				wave = append(wave, s)
			} else {
				rest = append(rest, s)
			}
		}
		if len(wave) == 0 {
			if path := DetectCycle(remaining); path != nil {
				return nil, &CycleError{Path: path}
			}
			ids := make([]string, len(remaining))
			for i, s := range remaining {
				ids[i] = s.ID
			}
			return nil, &StuckError{Remaining: ids}
		}
		for _, s := range wave {
			completed[s.ID] = true
		}
		waves = append(waves, wave)
		remaining = rest
	}
	return waves, nil
}

// Ready reports whether every dependency of s is in completed.
func Ready(s Step, completed map[string]bool) bool {
	for _, dep := range s.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// DetectCycle returns a dependency cycle among steps as a path whose first
// and last ids are equal, or nil when the steps are acyclic. Dependencies on
// ids outside steps are ignored.
func DetectCycle(steps []Step) []string {
	deps := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps[s.ID] = s.DependsOn
	}

	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(steps))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range deps[id] {
			if _, ok := deps[dep]; !ok {
				continue
			}
			switch color[dep] {
			case gray:
				for i, v := range stack {
					if v == dep {
						path := append([]string(nil), stack[i:]...)
						return append(path, dep)
					}
				}
			case white:
				if path := visit(dep); path != nil {
					return path
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, s := range steps {
		if color[s.ID] == white {
			if path := visit(s.ID); path != nil {
				return path
			}
		}
	}
	return nil
}
