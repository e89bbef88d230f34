// Package graph implements the task dependency graph that backs the
// orchestrator: tasks keyed by ID plus derived dependency/dependent
// adjacency, with ready-set computation over the latest statuses.
//
// The graph is owned by the orchestrator's single thread of control and is
// not safe for concurrent writers.
package graph

import (
	"time"

	"github.com/weft-ai/weft/types"
)

// TaskGraph owns tasks and their dependency edges.
type TaskGraph struct {
	tasks map[string]*types.Task

	// order preserves insertion order for stable task selection
	order []string

	// dependents maps dependency ID -> IDs of tasks depending on it
	dependents map[string][]string
}

// New creates an empty task graph.
func New() *TaskGraph {
	return &TaskGraph{
		tasks:      make(map[string]*types.Task),
		dependents: make(map[string][]string),
	}
}

// AddTask registers a task and its dependency edges. Adding a task whose ID
// is already present is a no-op, so edges are never duplicated.
func (g *TaskGraph) AddTask(task *types.Task) {
	if task == nil {
		return
	}
	if _, exists := g.tasks[task.ID]; exists {
		return
	}
	if task.Status == "" {
		task.Status = types.TaskStatusPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	g.tasks[task.ID] = task
	g.order = append(g.order, task.ID)
	for _, dep := range task.Dependencies {
		g.dependents[dep] = append(g.dependents[dep], task.ID)
	}
}

// Get retrieves a task by ID.
func (g *TaskGraph) Get(id string) (*types.Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// Len returns the number of live tasks.
func (g *TaskGraph) Len() int {
	return len(g.tasks)
}

// RunnableTasks returns every pending task whose dependencies have all
// completed, in insertion order. The scan is O(V+E) over the latest
// statuses; results are never cached.
func (g *TaskGraph) RunnableTasks() []*types.Task {
	var ready []*types.Task
	for _, id := range g.order {
		task, ok := g.tasks[id]
		if !ok || task.Status != types.TaskStatusPending {
			continue
		}
		if g.depsCompleted(task) {
			ready = append(ready, task)
		}
	}
	return ready
}

func (g *TaskGraph) depsCompleted(task *types.Task) bool {
	for _, dep := range task.Dependencies {
		d, ok := g.tasks[dep]
		if !ok || d.Status != types.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// UpdateStatus sets the status of a task. Updating a nonexistent task is a
// programming-contract violation and returns TASK_NOT_FOUND.
func (g *TaskGraph) UpdateStatus(id string, status types.TaskStatus) error {
	task, ok := g.tasks[id]
	if !ok {
		return types.NewErrorf(types.ErrTaskNotFound, "task %q not in graph", id)
	}
	task.Status = status
	task.UpdatedAt = time.Now()
	return nil
}

// RemoveTask removes a task and its dependent edges from the graph. Used by
// the orchestrator when a permanently failed task is replaced by
// replanning. Removing an absent ID is a no-op.
func (g *TaskGraph) RemoveTask(id string) {
	task, ok := g.tasks[id]
	if !ok {
		return
	}
	delete(g.tasks, id)
	for i, oid := range g.order {
		if oid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	for _, dep := range task.Dependencies {
		g.dependents[dep] = removeString(g.dependents[dep], id)
	}
}

// ReplaceTask splices substitute tasks in place of a removed task. Direct
// dependents of the old task are rewired to depend on the last substitute,
// preserving their ordering constraint. With no substitutes this is plain
// removal.
func (g *TaskGraph) ReplaceTask(id string, subs []*types.Task) {
	direct := append([]string(nil), g.dependents[id]...)
	g.RemoveTask(id)
	for _, sub := range subs {
		g.AddTask(sub)
	}
	if len(subs) == 0 {
		return
	}
	last := subs[len(subs)-1]
	for _, depID := range direct {
		dep, ok := g.tasks[depID]
		if !ok {
			continue
		}
		for i, d := range dep.Dependencies {
			if d == id {
				dep.Dependencies[i] = last.ID
			}
		}
		g.dependents[last.ID] = append(g.dependents[last.ID], depID)
	}
}

// Dependents returns the IDs of tasks that depend on the given task,
// directly or transitively.
func (g *TaskGraph) Dependents(id string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		for _, dep := range g.dependents[cur] {
			if _, live := g.tasks[dep]; !live || seen[dep] {
				continue
			}
			seen[dep] = true
			walk(dep)
		}
	}
	walk(id)
	out := make([]string, 0, len(seen))
	for _, oid := range g.order {
		if seen[oid] {
			out = append(out, oid)
		}
	}
	return out
}

// IsCompleted returns true iff every task's status is terminal
// (completed or failed).
func (g *TaskGraph) IsCompleted() bool {
	for _, task := range g.tasks {
		if !task.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// HasCycle reports whether the dependency relation contains a cycle.
// The graph itself does not forbid cycles; callers are expected to splice
// in acyclic plans, and this check exists so that discipline is testable.
func (g *TaskGraph) HasCycle() bool {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(g.tasks))

	var visit func(string) bool
	visit = func(id string) bool {
		color[id] = grey
		for _, dep := range g.tasks[id].Dependencies {
			if _, ok := g.tasks[dep]; !ok {
				continue
			}
			switch color[dep] {
			case grey:
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, id := range g.order {
		if color[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// Tasks returns the live tasks in insertion order.
func (g *TaskGraph) Tasks() []*types.Task {
	out := make([]*types.Task, 0, len(g.tasks))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

// Snapshot returns deep copies of the live tasks in insertion order, for
// persistence.
func (g *TaskGraph) Snapshot() []*types.Task {
	out := make([]*types.Task, 0, len(g.tasks))
	for _, id := range g.order {
		out = append(out, g.tasks[id].Clone())
	}
	return out
}

func removeString(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
