// Package replan implements the recovery policy for permanently failed
// tasks: failure feedback is classified and zero or more substitute tasks
// are produced, with guardrails that guarantee the retry/replan cycle
// terminates.
package replan

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weft-ai/weft/types"
)

// DefaultMaxReplans is the per-lineage replan cap.
const DefaultMaxReplans = 3

// Policy produces substitute tasks for failed ones. A single Policy instance
// serves one orchestration run; it remembers failure signatures to
// short-circuit repeated failures.
type Policy struct {
	maxReplans int
	logger     *zap.Logger

	// seen maps lineage root descriptions to the number of replans issued,
	// used to detect a repeated-failure signature
	seen map[string]int
}

// Option configures a Policy.
type Option func(*Policy)

// WithMaxReplans overrides the per-lineage replan cap.
func WithMaxReplans(n int) Option {
	return func(p *Policy) { p.maxReplans = n }
}

// NewPolicy creates a replanning policy. A nil logger falls back to a no-op.
func NewPolicy(logger *zap.Logger, opts ...Option) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Policy{
		maxReplans: DefaultMaxReplans,
		logger:     logger.With(zap.String("component", "replan_policy")),
		seen:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Replan returns substitute tasks for a permanently failed task, or an empty
// slice when the failure is unrecoverable. Guardrails: a hard cap on
// ReplanCount per lineage, and detection of a repeated-failure signature
// (same lineage root recurring), both short-circuit to no substitutes.
func (p *Policy) Replan(ctx context.Context, task *types.Task, feedback string) ([]*types.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root := task.Root()

	if task.ReplanCount >= p.maxReplans {
		p.logger.Warn("replan cap reached, giving up",
			zap.String("task_id", task.ID),
			zap.Int("replan_count", task.ReplanCount),
		)
		return nil, nil
	}
	if p.seen[root] > task.ReplanCount {
		p.logger.Warn("repeated failure signature, giving up",
			zap.String("task_id", task.ID),
			zap.String("root", root),
		)
		return nil, nil
	}
	p.seen[root] = task.ReplanCount + 1

	class := Classify(feedback)
	var subs []*types.Task
	switch class {
	case ClassValidation:
		subs = p.simplify(task)
	case ClassTimeout:
		subs = p.split(task)
	case ClassUnknown:
		subs = p.revise(task)
	}

	p.logger.Info("replanned failed task",
		zap.String("task_id", task.ID),
		zap.String("class", class.String()),
		zap.Int("substitutes", len(subs)),
	)
	return subs, nil
}

// simplify produces one substitute with a reduced scope and retry budget,
// keeping the original dependencies.
func (p *Policy) simplify(task *types.Task) []*types.Task {
	retries := task.MaxRetries - 1
	if retries < 1 {
		retries = 1
	}
	return []*types.Task{p.substitute(task,
		fmt.Sprintf("Simplified: %s (reduced scope after validation failure)", task.Description),
		task.Dependencies, retries)}
}

// split produces two ordered substitutes; the second depends on the first.
func (p *Policy) split(task *types.Task) []*types.Task {
	first := p.substitute(task,
		fmt.Sprintf("Part 1 of: %s", task.Description),
		task.Dependencies, task.MaxRetries)
	second := p.substitute(task,
		fmt.Sprintf("Part 2 of: %s", task.Description),
		[]string{first.ID}, task.MaxRetries)
	return []*types.Task{first, second}
}

// revise produces one substitute with a single-attempt retry budget.
func (p *Policy) revise(task *types.Task) []*types.Task {
	return []*types.Task{p.substitute(task,
		fmt.Sprintf("Revised: %s", task.Description),
		task.Dependencies, 1)}
}

func (p *Policy) substitute(parent *types.Task, description string, deps []string, maxRetries int) *types.Task {
	return &types.Task{
		ID:              uuid.New().String(),
		Description:     description,
		Kind:            parent.Kind,
		Status:          types.TaskStatusPending,
		Dependencies:    append([]string(nil), deps...),
		MaxRetries:      maxRetries,
		ReplanCount:     parent.ReplanCount + 1,
		RootDescription: parent.Root(),
	}
}
