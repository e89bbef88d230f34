package types

import (
	"time"
)

// TaskStatus represents the lifecycle status of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting to be scheduled
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusInProgress indicates the task is currently executing
	TaskStatusInProgress TaskStatus = "in_progress"

	// TaskStatusCompleted indicates the task completed successfully
	TaskStatusCompleted TaskStatus = "completed"

	// TaskStatusFailed indicates the task failed permanently
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusWaitingForDependencies indicates the task is blocked on a
	// dependency that can no longer complete
	TaskStatusWaitingForDependencies TaskStatus = "waiting_for_dependencies"
)

// IsTerminal returns true if the status is a terminal state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// TaskKind categorizes what a task produces.
type TaskKind string

const (
	TaskKindResearch       TaskKind = "research"
	TaskKindImplementation TaskKind = "implementation"
	TaskKindValidation     TaskKind = "validation"
	TaskKindIntegration    TaskKind = "integration"
	TaskKindGeneric        TaskKind = "generic"
)

// Task is a single unit of work in a project plan. Tasks are created by
// planning, mutated only by the orchestrator loop (status) and by the
// replanning policy (replacement), and are never written by two concurrent
// writers.
type Task struct {
	// ID is the unique identifier for the task
	ID string `json:"id"`

	// Description is the human-readable goal of the task
	Description string `json:"description"`

	// Kind categorizes the task
	Kind TaskKind `json:"kind"`

	// Status is the current lifecycle status
	Status TaskStatus `json:"status"`

	// Dependencies lists the IDs of tasks that must complete first
	Dependencies []string `json:"dependencies,omitempty"`

	// Retries is the number of failed execution attempts so far
	Retries int `json:"retries"`

	// MaxRetries is the retry budget before replanning kicks in
	MaxRetries int `json:"max_retries"`

	// ReplanCount is how many times this lineage has been replanned
	ReplanCount int `json:"replan_count"`

	// RootDescription is the description of the original task in this
	// replan lineage, used to detect repeated-failure signatures
	RootDescription string `json:"root_description,omitempty"`

	// Issues accumulates validator feedback across failed attempts
	Issues []string `json:"issues,omitempty"`

	// CreatedAt is when the task was created
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the task was last mutated
	UpdatedAt time.Time `json:"updated_at"`
}

// Root returns the lineage root description, falling back to the task's own
// description for tasks that were never replanned.
func (t *Task) Root() string {
	if t.RootDescription != "" {
		return t.RootDescription
	}
	return t.Description
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.Issues = append([]string(nil), t.Issues...)
	return &c
}

// ExecutionResult is what an Executor reports back for one task attempt.
type ExecutionResult struct {
	// ExitCode is the process-style exit code (0 = success)
	ExitCode int `json:"exit_code"`

	// Stdout is the captured standard output
	Stdout string `json:"stdout,omitempty"`

	// Stderr is the captured standard error
	Stderr string `json:"stderr,omitempty"`

	// ArtifactsChanged lists artifacts created or modified by the attempt
	ArtifactsChanged []string `json:"artifacts_changed,omitempty"`
}

// ValidationResult is the validator's judgement of one execution attempt.
type ValidationResult struct {
	// Passed is true when the attempt satisfied the task
	Passed bool `json:"passed"`

	// Issues lists concrete problems found by the validator
	Issues []string `json:"issues,omitempty"`

	// Improvements lists optional suggestions that did not fail validation
	Improvements []string `json:"improvements,omitempty"`
}

// ProjectStatus is the terminal status of a whole orchestration run.
type ProjectStatus string

const (
	// ProjectStatusRunning indicates the run has not reached a terminal state
	ProjectStatusRunning ProjectStatus = "running"

	// ProjectStatusCompleted indicates every task completed successfully
	ProjectStatusCompleted ProjectStatus = "completed"

	// ProjectStatusCompletedWithFailures indicates every task is terminal but
	// some failed permanently
	ProjectStatusCompletedWithFailures ProjectStatus = "completed_with_failures"

	// ProjectStatusBlocked indicates no task is ready and non-terminal tasks
	// remain, so no further progress is possible
	ProjectStatusBlocked ProjectStatus = "blocked"

	// ProjectStatusBudgetExhausted indicates the iteration budget ran out
	// before the graph completed
	ProjectStatusBudgetExhausted ProjectStatus = "budget_exhausted"
)

// ProjectState is the persisted snapshot of an orchestration run. It is
// written after every status mutation and is sufficient to resume a run:
// the ready set is recomputed from task statuses, so resumption needs no
// special recovery logic.
type ProjectState struct {
	// ProjectID identifies the run
	ProjectID string `json:"project_id"`

	// Status is the overall project status at snapshot time
	Status ProjectStatus `json:"status"`

	// Tasks holds every live task in the graph
	Tasks []*Task `json:"tasks"`

	// CompletedIDs lists tasks that reached COMPLETED, in completion order
	CompletedIDs []string `json:"completed_ids,omitempty"`

	// Failed holds tasks that failed permanently, including replanned-away
	// originals removed from the graph
	Failed []*Task `json:"failed,omitempty"`

	// Iteration is the orchestrator loop counter at snapshot time
	Iteration int `json:"iteration"`

	// UpdatedAt is when the snapshot was taken
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the state.
func (s *ProjectState) Clone() *ProjectState {
	c := *s
	c.Tasks = make([]*Task, len(s.Tasks))
	for i, t := range s.Tasks {
		c.Tasks[i] = t.Clone()
	}
	c.Failed = make([]*Task, len(s.Failed))
	for i, t := range s.Failed {
		c.Failed[i] = t.Clone()
	}
	c.CompletedIDs = append([]string(nil), s.CompletedIDs...)
	return &c
}
