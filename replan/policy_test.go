package replan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-ai/weft/types"
)

func failedTask(replanCount int) *types.Task {
	return &types.Task{
		ID:           "t1",
		Description:  "build the parser",
		Kind:         types.TaskKindImplementation,
		Status:       types.TaskStatusFailed,
		Dependencies: []string{"dep1"},
		MaxRetries:   3,
		ReplanCount:  replanCount,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		feedback string
		want     FailureClass
	}{
		{"validation failed: missing tests", ClassValidation},
		{"output check failed", ClassValidation},
		{"execution timed out after 30s", ClassTimeout},
		{"performance regression, too slow", ClassTimeout},
		{"validation timed out", ClassTimeout}, // timeout wins
		{"something exploded", ClassUnknown},
		{"", ClassUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.feedback), "feedback %q", tt.feedback)
	}
}

func TestPolicy_Replan_ValidationFailure(t *testing.T) {
	p := NewPolicy(nil)

	subs, err := p.Replan(context.Background(), failedTask(0), "validation failed: wrong output")
	require.NoError(t, err)
	require.Len(t, subs, 1)

	sub := subs[0]
	assert.Contains(t, sub.Description, "Simplified")
	assert.Equal(t, []string{"dep1"}, sub.Dependencies)
	assert.Equal(t, 2, sub.MaxRetries, "retry budget reduced")
	assert.Equal(t, 1, sub.ReplanCount)
	assert.Equal(t, "build the parser", sub.RootDescription)
	assert.Equal(t, types.TaskStatusPending, sub.Status)
}

func TestPolicy_Replan_TimeoutSplits(t *testing.T) {
	p := NewPolicy(nil)

	subs, err := p.Replan(context.Background(), failedTask(0), "timed out")
	require.NoError(t, err)
	require.Len(t, subs, 2)

	first, second := subs[0], subs[1]
	assert.Equal(t, []string{"dep1"}, first.Dependencies)
	// The second half is ordered after the first
	assert.Equal(t, []string{first.ID}, second.Dependencies)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestPolicy_Replan_UnknownRevises(t *testing.T) {
	p := NewPolicy(nil)

	subs, err := p.Replan(context.Background(), failedTask(0), "mystery failure")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Contains(t, subs[0].Description, "Revised")
	assert.Equal(t, 1, subs[0].MaxRetries)
}

func TestPolicy_Replan_CapReached(t *testing.T) {
	p := NewPolicy(nil)

	subs, err := p.Replan(context.Background(), failedTask(DefaultMaxReplans), "validation failed")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestPolicy_Replan_LineageTerminates(t *testing.T) {
	p := NewPolicy(nil)
	task := failedTask(0)

	// Follow the lineage until the policy gives up; it must do so after
	// exactly maxReplans substitutions.
	replans := 0
	for {
		subs, err := p.Replan(context.Background(), task, "validation failed again")
		require.NoError(t, err)
		if len(subs) == 0 {
			break
		}
		replans++
		require.LessOrEqual(t, replans, DefaultMaxReplans, "policy must terminate")
		task = subs[0]
		task.Status = types.TaskStatusFailed
	}
	assert.Equal(t, DefaultMaxReplans, replans)
}

func TestPolicy_Replan_RepeatedSignatureShortCircuits(t *testing.T) {
	p := NewPolicy(nil)

	// Split one timeout failure into two parts sharing the lineage root.
	subs, err := p.Replan(context.Background(), failedTask(0), "timed out")
	require.NoError(t, err)
	require.Len(t, subs, 2)

	// The first part failing replans once more.
	again, err := p.Replan(context.Background(), subs[0], "timed out")
	require.NoError(t, err)
	require.NotEmpty(t, again)

	// The sibling carrying the same root and replan depth is now a repeated
	// signature and must not spawn more work.
	sibling, err := p.Replan(context.Background(), subs[1], "timed out")
	require.NoError(t, err)
	assert.Empty(t, sibling)
}

func TestPolicy_Replan_CustomCap(t *testing.T) {
	p := NewPolicy(nil, WithMaxReplans(1))

	subs, err := p.Replan(context.Background(), failedTask(1), "validation failed")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestPolicy_Replan_ContextCancelled(t *testing.T) {
	p := NewPolicy(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Replan(ctx, failedTask(0), "validation failed")
	assert.ErrorIs(t, err, context.Canceled)
}
