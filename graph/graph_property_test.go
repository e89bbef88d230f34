package graph

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/weft-ai/weft/types"
)

// For any acyclic graph, repeatedly completing one ready task at a time must
// empty the pending set.
func TestProperty_TaskGraph_Termination(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 30).Draw(rt, "numTasks")

		g := New()
		for i := 0; i < n; i++ {
			// Depending only on earlier tasks keeps the graph acyclic
			var deps []string
			if i > 0 {
				numDeps := rapid.IntRange(0, i).Draw(rt, fmt.Sprintf("numDeps_%d", i))
				picked := make(map[int]bool)
				for d := 0; d < numDeps; d++ {
					j := rapid.IntRange(0, i-1).Draw(rt, fmt.Sprintf("dep_%d_%d", i, d))
					if !picked[j] {
						picked[j] = true
						deps = append(deps, fmt.Sprintf("t%d", j))
					}
				}
			}
			g.AddTask(&types.Task{
				ID:           fmt.Sprintf("t%d", i),
				Description:  fmt.Sprintf("generated task %d", i),
				Status:       types.TaskStatusPending,
				Dependencies: deps,
			})
		}

		if g.HasCycle() {
			rt.Fatalf("generator produced a cyclic graph")
		}

		steps := 0
		for !g.IsCompleted() {
			ready := g.RunnableTasks()
			if len(ready) == 0 {
				rt.Fatalf("acyclic graph deadlocked with %d tasks remaining", g.Len())
			}
			if err := g.UpdateStatus(ready[0].ID, types.TaskStatusCompleted); err != nil {
				rt.Fatalf("update failed: %v", err)
			}
			steps++
			if steps > n {
				rt.Fatalf("completion took more steps than tasks")
			}
		}

		if steps != n {
			rt.Fatalf("expected %d completion steps, got %d", n, steps)
		}
	})
}

// AddTask must stay idempotent under arbitrary duplicate insertion orders.
func TestProperty_TaskGraph_AddTaskIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(rt, "numTasks")
		repeats := rapid.IntRange(2, 5).Draw(rt, "repeats")

		g := New()
		for r := 0; r < repeats; r++ {
			for i := 0; i < n; i++ {
				var deps []string
				if i > 0 {
					deps = []string{fmt.Sprintf("t%d", i-1)}
				}
				g.AddTask(&types.Task{
					ID:           fmt.Sprintf("t%d", i),
					Dependencies: deps,
				})
			}
		}

		if g.Len() != n {
			rt.Fatalf("expected %d tasks after duplicate adds, got %d", n, g.Len())
		}
		for i := 0; i < n-1; i++ {
			deps := g.Dependents(fmt.Sprintf("t%d", i))
			if len(deps) != n-1-i {
				rt.Fatalf("task t%d: expected %d transitive dependents, got %d", i, n-1-i, len(deps))
			}
		}
	})
}
