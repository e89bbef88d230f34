// Package orchestrator drives a project's task graph to completion: it
// selects ready tasks, dispatches them to an Executor, checks results with a
// Validator, retries failures, and replaces exhausted tasks via a Replanner.
// State is persisted after every mutation so a crashed run can resume.
//
// The loop is a single logical thread of control; even in batch mode all
// graph mutations happen on the orchestrator goroutine, with only the
// execute/validate calls of one batch in flight concurrently.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/weft-ai/weft/graph"
	"github.com/weft-ai/weft/internal/metrics"
	"github.com/weft-ai/weft/types"
)

// DefaultMaxIterations is the default global iteration budget.
const DefaultMaxIterations = 100

// Orchestrator coordinates one project run.
type Orchestrator struct {
	projectID string
	graph     *graph.TaskGraph
	executor  Executor
	validator Validator
	replanner Replanner
	store     ContextStore
	logger    *zap.Logger
	collector *metrics.Collector

	maxIterations int
	batchMode     bool
	limiter       *rate.Limiter

	iteration    int
	completedIDs []string
	failed       []*types.Task
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxIterations overrides the global iteration budget.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) { o.maxIterations = n }
}

// WithBatchMode dispatches the entire ready set concurrently each iteration,
// with a barrier before the ready set is recomputed. Trades strict ordering
// for throughput.
func WithBatchMode() Option {
	return func(o *Orchestrator) { o.batchMode = true }
}

// WithDispatchLimiter throttles task dispatch.
func WithDispatchLimiter(l *rate.Limiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.collector = c }
}

// New creates an orchestrator for one project run. A nil logger falls back
// to a no-op.
func New(projectID string, g *graph.TaskGraph, executor Executor, validator Validator,
	replanner Replanner, store ContextStore, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		projectID:     projectID,
		graph:         g,
		executor:      executor,
		validator:     validator,
		replanner:     replanner,
		store:         store,
		logger:        logger.With(zap.String("component", "orchestrator"), zap.String("project_id", projectID)),
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Report summarizes a finished run.
type Report struct {
	// Status is the terminal project status
	Status types.ProjectStatus `json:"status"`

	// CompletedIDs lists completed tasks in completion order
	CompletedIDs []string `json:"completed_ids,omitempty"`

	// Failed lists permanently failed tasks with their accumulated issues
	Failed []*types.Task `json:"failed,omitempty"`

	// Blocked lists tasks that are neither terminal nor ever runnable again
	Blocked []string `json:"blocked,omitempty"`

	// Iterations is how many loop iterations the run consumed
	Iterations int `json:"iterations"`
}

// Run drives the graph until it completes, blocks, or exhausts the iteration
// budget. The returned error is non-nil only for context cancellation or a
// persistence failure; task-level failures are reported in the Report.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	o.logger.Info("starting run",
		zap.Int("tasks", o.graph.Len()),
		zap.Int("max_iterations", o.maxIterations),
		zap.Bool("batch_mode", o.batchMode),
	)

	blocked := false
	for o.iteration < o.maxIterations {
		if err := ctx.Err(); err != nil {
			return o.report(blocked), err
		}
		if o.graph.IsCompleted() {
			break
		}

		ready := o.graph.RunnableTasks()
		if len(ready) == 0 {
			// Non-terminal tasks remain but none can run
			blocked = true
			break
		}
		o.iteration++

		var err error
		if o.batchMode {
			err = o.runBatch(ctx, ready)
		} else {
			err = o.runOne(ctx, ready[0])
		}
		if err != nil {
			return o.report(blocked), err
		}
	}

	report := o.report(blocked)
	if err := o.persist(ctx, report.Status); err != nil {
		return report, err
	}
	o.logger.Info("run finished",
		zap.String("status", string(report.Status)),
		zap.Int("completed", len(report.CompletedIDs)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("iterations", report.Iterations),
	)
	return report, nil
}

func (o *Orchestrator) report(blocked bool) *Report {
	r := &Report{
		CompletedIDs: append([]string(nil), o.completedIDs...),
		Failed:       append([]*types.Task(nil), o.failed...),
		Iterations:   o.iteration,
	}
	switch {
	case o.graph.IsCompleted():
		if len(o.failed) == 0 {
			r.Status = types.ProjectStatusCompleted
		} else {
			r.Status = types.ProjectStatusCompletedWithFailures
		}
	case blocked:
		r.Status = types.ProjectStatusBlocked
	default:
		r.Status = types.ProjectStatusBudgetExhausted
	}
	for _, task := range o.graph.Tasks() {
		if !task.Status.IsTerminal() && task.Status != types.TaskStatusPending {
			r.Blocked = append(r.Blocked, task.ID)
		}
	}
	return r
}

// attemptOutcome is the result of one execute+validate round trip. It is
// produced concurrently in batch mode but always applied sequentially.
type attemptOutcome struct {
	task   *types.Task
	passed bool
	issues []string
}

func (o *Orchestrator) runOne(ctx context.Context, task *types.Task) error {
	if err := o.markInProgress(ctx, task); err != nil {
		return err
	}
	outcome, err := o.attempt(ctx, task)
	if err != nil {
		return err
	}
	return o.applyOutcome(ctx, outcome)
}

// runBatch dispatches every ready task concurrently and waits for the whole
// batch to resolve before any outcome is applied, so the graph still has a
// single writer.
func (o *Orchestrator) runBatch(ctx context.Context, ready []*types.Task) error {
	for _, task := range ready {
		if err := o.markInProgress(ctx, task); err != nil {
			return err
		}
	}

	outcomes := make([]*attemptOutcome, len(ready))
	eg, gctx := errgroup.WithContext(ctx)
	for i, task := range ready {
		i, task := i, task
		eg.Go(func() error {
			outcome, err := o.attempt(gctx, task)
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for _, outcome := range outcomes {
		if err := o.applyOutcome(ctx, outcome); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) markInProgress(ctx context.Context, task *types.Task) error {
	if err := o.graph.UpdateStatus(task.ID, types.TaskStatusInProgress); err != nil {
		return err
	}
	return o.persist(ctx, types.ProjectStatusRunning)
}

// attempt executes and validates one task. Execution and validation errors
// are converted into a failed outcome; only context cancellation propagates
// as an error.
func (o *Orchestrator) attempt(ctx context.Context, task *types.Task) (*attemptOutcome, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	o.logger.Debug("executing task", zap.String("task_id", task.ID), zap.Int("retries", task.Retries))
	start := time.Now()

	result, err := o.executor.Execute(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.recordExecution(task, "error", start)
		return &attemptOutcome{task: task, issues: []string{"execution error: " + err.Error()}}, nil
	}

	validation, err := o.validator.Validate(ctx, task, result)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.recordExecution(task, "error", start)
		return &attemptOutcome{task: task, issues: []string{"validation error: " + err.Error()}}, nil
	}

	if validation.Passed {
		o.recordExecution(task, "completed", start)
		return &attemptOutcome{task: task, passed: true}, nil
	}

	issues := validation.Issues
	if len(issues) == 0 {
		issues = []string{"validation failed"}
	}
	o.recordExecution(task, "failed", start)
	return &attemptOutcome{task: task, issues: issues}, nil
}

func (o *Orchestrator) recordExecution(task *types.Task, outcome string, start time.Time) {
	if o.collector != nil {
		o.collector.RecordTaskExecution(string(task.Kind), outcome, time.Since(start))
	}
}

// applyOutcome mutates the graph for one resolved attempt: completion,
// retry, or replan. Always runs on the orchestrator goroutine.
func (o *Orchestrator) applyOutcome(ctx context.Context, outcome *attemptOutcome) error {
	task := outcome.task

	if outcome.passed {
		if err := o.graph.UpdateStatus(task.ID, types.TaskStatusCompleted); err != nil {
			return err
		}
		o.completedIDs = append(o.completedIDs, task.ID)
		o.logger.Info("task completed", zap.String("task_id", task.ID))
		return o.persist(ctx, types.ProjectStatusRunning)
	}

	task.Retries++
	task.Issues = append(task.Issues, outcome.issues...)

	if task.Retries < task.MaxRetries {
		if o.collector != nil {
			o.collector.RecordTaskRetry()
		}
		o.logger.Warn("task failed, will retry",
			zap.String("task_id", task.ID),
			zap.Int("retries", task.Retries),
			zap.Int("max_retries", task.MaxRetries),
			zap.Strings("issues", outcome.issues),
		)
		if err := o.graph.UpdateStatus(task.ID, types.TaskStatusPending); err != nil {
			return err
		}
		return o.persist(ctx, types.ProjectStatusRunning)
	}

	return o.replanTask(ctx, task)
}

// replanTask handles a task whose retry budget is exhausted: the replanner
// either supplies substitutes that get spliced into the graph, or the task
// fails permanently and its dependents are marked as blocked.
func (o *Orchestrator) replanTask(ctx context.Context, task *types.Task) error {
	feedback := strings.Join(task.Issues, "; ")
	substitutes, err := o.replanner.Replan(ctx, task, feedback)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.logger.Error("replanner failed, treating task as unrecoverable",
			zap.String("task_id", task.ID), zap.Error(err))
		substitutes = nil
	}

	if len(substitutes) > 0 {
		o.graph.ReplaceTask(task.ID, substitutes)
		task.Status = types.TaskStatusFailed
		o.failed = append(o.failed, task)
		if o.collector != nil {
			o.collector.RecordReplan("substituted")
		}
		ids := make([]string, len(substitutes))
		for i, s := range substitutes {
			ids[i] = s.ID
		}
		o.logger.Info("task replanned",
			zap.String("task_id", task.ID),
			zap.Strings("substitutes", ids),
		)
		return o.persist(ctx, types.ProjectStatusRunning)
	}

	if err := o.graph.UpdateStatus(task.ID, types.TaskStatusFailed); err != nil {
		return err
	}
	o.failed = append(o.failed, task)
	if o.collector != nil {
		o.collector.RecordReplan("exhausted")
	}

	// Dependents are not cascade-failed; they are marked as waiting so the
	// final report can surface them, and they never become runnable.
	for _, depID := range o.graph.Dependents(task.ID) {
		dep, ok := o.graph.Get(depID)
		if ok && dep.Status == types.TaskStatusPending {
			if err := o.graph.UpdateStatus(depID, types.TaskStatusWaitingForDependencies); err != nil {
				return err
			}
		}
	}

	o.logger.Error("task failed permanently",
		zap.String("task_id", task.ID),
		zap.Strings("issues", task.Issues),
	)
	return o.persist(ctx, types.ProjectStatusRunning)
}

// persist snapshots current state to the context store. Called after every
// status mutation; safe to repeat.
func (o *Orchestrator) persist(ctx context.Context, status types.ProjectStatus) error {
	if o.store == nil {
		return nil
	}
	return o.store.Save(ctx, o.Snapshot(status))
}

// Snapshot builds a persistable state snapshot.
func (o *Orchestrator) Snapshot(status types.ProjectStatus) *types.ProjectState {
	failed := make([]*types.Task, len(o.failed))
	for i, t := range o.failed {
		failed[i] = t.Clone()
	}
	return &types.ProjectState{
		ProjectID:    o.projectID,
		Status:       status,
		Tasks:        o.graph.Snapshot(),
		CompletedIDs: append([]string(nil), o.completedIDs...),
		Failed:       failed,
		Iteration:    o.iteration,
		UpdatedAt:    time.Now(),
	}
}

// Restore rebuilds orchestrator state from a persisted snapshot. Tasks that
// were in progress when the snapshot was taken are reset to pending; the
// ready set is then recomputed as usual, so no other recovery is needed.
func (o *Orchestrator) Restore(state *types.ProjectState) {
	g := graph.New()
	for _, task := range state.Tasks {
		t := task.Clone()
		if t.Status == types.TaskStatusInProgress {
			t.Status = types.TaskStatusPending
		}
		g.AddTask(t)
	}
	o.graph = g
	o.completedIDs = append([]string(nil), state.CompletedIDs...)
	o.failed = make([]*types.Task, len(state.Failed))
	for i, t := range state.Failed {
		o.failed[i] = t.Clone()
	}
	o.iteration = state.Iteration
	o.logger.Info("restored from snapshot",
		zap.Int("tasks", g.Len()),
		zap.Int("iteration", o.iteration),
	)
}

// Graph exposes the underlying task graph. The caller must respect the
// single-writer discipline.
func (o *Orchestrator) Graph() *graph.TaskGraph {
	return o.graph
}
