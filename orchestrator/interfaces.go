package orchestrator

import (
	"context"

	"github.com/weft-ai/weft/types"
)

// Executor runs one task attempt. Content generation is outside this
// library; implementations wrap whatever actually performs the work
// (an LLM agent, a shell runner, a test harness).
type Executor interface {
	Execute(ctx context.Context, task *types.Task) (*types.ExecutionResult, error)
}

// Validator judges whether an execution attempt satisfied its task.
type Validator interface {
	Validate(ctx context.Context, task *types.Task, result *types.ExecutionResult) (*types.ValidationResult, error)
}

// Replanner produces substitute tasks for a permanently failed one.
// An empty slice means the failure is unrecoverable.
type Replanner interface {
	Replan(ctx context.Context, task *types.Task, feedback string) ([]*types.Task, error)
}

// ContextStore persists project state. Save is called after every task
// status mutation and must be safe to call repeatedly; resuming a run only
// requires reloading the last snapshot and recomputing the ready set.
type ContextStore interface {
	Save(ctx context.Context, state *types.ProjectState) error
}
