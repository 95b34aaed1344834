// Package graph models the prerequisite relationships between the tasks of one
// workflow instance.
//
// Edges point from a task to the task it depends on. Only SEQUENTIAL edges
// block: they must form a DAG and they alone decide eligibility. PARALLEL edges
// are kept for display and never participate in cycle checks or eligibility.
package graph

import (
	"fmt"
	"sort"

	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
)

// Edge states that TaskID depends on PrerequisiteID
type Edge struct {
	TaskID         string
	PrerequisiteID string
	Type           entity.DependencyType
}

// Graph is an immutable, validated dependency graph
type Graph struct {
	nodes      []string
	index      map[string]int
	prereqs    map[string][]string
	dependents map[string][]string
	parallel   map[string][]string
}

// New validates the edges against the task set and builds the graph.
// It fails with *CycleError when SEQUENTIAL edges contain a cycle.
func New(taskIDs []string, edges []Edge) (*Graph, error) {
	g := &Graph{
		nodes:      make([]string, 0, len(taskIDs)),
		index:      make(map[string]int, len(taskIDs)),
		prereqs:    make(map[string][]string),
		dependents: make(map[string][]string),
		parallel:   make(map[string][]string),
	}

	for _, id := range taskIDs {
		if _, dup := g.index[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, id)
		}
		g.index[id] = len(g.nodes)
		g.nodes = append(g.nodes, id)
	}

	seen := make(map[Edge]bool, len(edges))
	for _, e := range edges {
		if e.Type == "" {
			e.Type = entity.DependencySequential
		}
		if !e.Type.IsValid() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDependencyType, e.Type)
		}
		if _, ok := g.index[e.TaskID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTask, e.TaskID)
		}
		if _, ok := g.index[e.PrerequisiteID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTask, e.PrerequisiteID)
		}
		if seen[e] {
			continue
		}
		seen[e] = true

		if e.Type == entity.DependencyParallel {
			if e.TaskID != e.PrerequisiteID {
				g.parallel[e.TaskID] = append(g.parallel[e.TaskID], e.PrerequisiteID)
				g.parallel[e.PrerequisiteID] = append(g.parallel[e.PrerequisiteID], e.TaskID)
			}
			continue
		}
		g.prereqs[e.TaskID] = append(g.prereqs[e.TaskID], e.PrerequisiteID)
		g.dependents[e.PrerequisiteID] = append(g.dependents[e.PrerequisiteID], e.TaskID)
	}

	if path := g.findCycle(); path != nil {
		return nil, &CycleError{Path: path}
	}

	return g, nil
}

// FromDependencies builds a graph from persisted dependency rows
func FromDependencies(taskIDs []string, deps []*entity.TaskDependency) (*Graph, error) {
	edges := make([]Edge, 0, len(deps))
	for _, d := range deps {
		edges = append(edges, Edge{
			TaskID:         d.TaskID,
			PrerequisiteID: d.PrerequisiteTaskID,
			Type:           d.DependencyType,
		})
	}
	return New(taskIDs, edges)
}

// FromSteps builds a graph keyed by step key from a template definition
func FromSteps(steps []entity.StepDefinition) (*Graph, error) {
	keys := make([]string, 0, len(steps))
	var edges []Edge
	for _, s := range steps {
		keys = append(keys, s.Key)
		for _, d := range s.DependsOn {
			edges = append(edges, Edge{TaskID: s.Key, PrerequisiteID: d.Key, Type: d.Type})
		}
	}
	return New(keys, edges)
}

// Tasks returns the task ids in insertion order
func (g *Graph) Tasks() []string {
	return append([]string(nil), g.nodes...)
}

// Contains reports whether the task is part of the graph
func (g *Graph) Contains(taskID string) bool {
	_, ok := g.index[taskID]
	return ok
}

// Prerequisites returns the blocking prerequisites of a task
func (g *Graph) Prerequisites(taskID string) []string {
	return append([]string(nil), g.prereqs[taskID]...)
}

// Dependents returns the tasks directly blocked by a task
func (g *Graph) Dependents(taskID string) []string {
	return append([]string(nil), g.dependents[taskID]...)
}

// Parallel returns the tasks linked to a task by advisory edges
func (g *Graph) Parallel(taskID string) []string {
	return append([]string(nil), g.parallel[taskID]...)
}

// IsEligible reports whether every SEQUENTIAL prerequisite of the task is COMPLETED.
// A task with no prerequisites is always eligible.
func (g *Graph) IsEligible(taskID string, statuses map[string]entity.TaskStatus) bool {
	for _, p := range g.prereqs[taskID] {
		if statuses[p] != entity.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// Eligible returns the not-yet-completed tasks that are currently actionable,
// in insertion order
func (g *Graph) Eligible(statuses map[string]entity.TaskStatus) []string {
	var out []string
	for _, id := range g.nodes {
		if statuses[id] == entity.TaskStatusCompleted {
			continue
		}
		if g.IsEligible(id, statuses) {
			out = append(out, id)
		}
	}
	return out
}

// Unlocked returns the direct dependents of taskID that are eligible now but
// were not before taskID completed. Only direct dependents are examined.
func (g *Graph) Unlocked(taskID string, statuses map[string]entity.TaskStatus) []string {
	if statuses[taskID] != entity.TaskStatusCompleted {
		return nil
	}
	var out []string
	for _, d := range g.dependents[taskID] {
		if statuses[d] == entity.TaskStatusCompleted {
			continue
		}
		if g.IsEligible(d, statuses) {
			out = append(out, d)
		}
	}
	return out
}

// TopologicalOrder returns tasks so that every prerequisite precedes its
// dependents. Ties keep insertion order.
func (g *Graph) TopologicalOrder() []string {
	indegree := make(map[string]int, len(g.nodes))
	for _, id := range g.nodes {
		indegree[id] = len(g.prereqs[id])
	}

	var ready []string
	for _, id := range g.nodes {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var next []string
		for _, d := range g.dependents[id] {
			indegree[d]--
			if indegree[d] == 0 {
				next = append(next, d)
			}
		}
		sort.Slice(next, func(i, j int) bool { return g.index[next[i]] < g.index[next[j]] })
		ready = mergeByIndex(ready, next, g.index)
	}

	return order
}

func mergeByIndex(a, b []string, index map[string]int) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if index[a[i]] <= index[b[j]] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

type color uint8

const (
	white color = iota
	gray
	black
)

type frame struct {
	node string
	next int
}

// findCycle runs an iterative DFS over SEQUENTIAL edges and returns the first
// cycle found as a closed path (first element repeated at the end), or nil.
func (g *Graph) findCycle() []string {
	colors := make(map[string]color, len(g.nodes))

	for _, root := range g.nodes {
		if colors[root] != white {
			continue
		}

		stack := []frame{{node: root}}
		colors[root] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			edges := g.prereqs[top.node]

			if top.next >= len(edges) {
				colors[top.node] = black
				stack = stack[:len(stack)-1]
				continue
			}

			child := edges[top.next]
			top.next++

			switch colors[child] {
			case white:
				colors[child] = gray
				stack = append(stack, frame{node: child})
			case gray:
				return cyclePath(stack, child)
			}
		}
	}

	return nil
}

func cyclePath(stack []frame, back string) []string {
	start := 0
	for i, f := range stack {
		if f.node == back {
			start = i
			break
		}
	}
	path := make([]string, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		path = append(path, f.node)
	}
	return append(path, back)
}
