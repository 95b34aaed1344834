package graph

import (
	"errors"
	"strings"
)

var (
	// ErrCycle is matched by every *CycleError
	ErrCycle = errors.New("dependency cycle detected")

	// ErrUnknownTask is returned when an edge references a task outside the graph
	ErrUnknownTask = errors.New("dependency references unknown task")

	// ErrDuplicateTask is returned when a task id is listed twice
	ErrDuplicateTask = errors.New("duplicate task in graph")

	// ErrUnknownDependencyType is returned for edge kinds other than SEQUENTIAL and PARALLEL
	ErrUnknownDependencyType = errors.New("unknown dependency type")
)

// CycleError reports a cycle among SEQUENTIAL edges.
// Path is closed: its first and last elements are the same task.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return ErrCycle.Error() + ": " + strings.Join(e.Path, " -> ")
}

func (e *CycleError) Unwrap() error {
	return ErrCycle
}
