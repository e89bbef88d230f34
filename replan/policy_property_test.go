package replan

import (
	"context"
	"testing"

	"pgregory.net/rapid"

	"github.com/weft-ai/weft/types"
)

// For any failure feedback and cap, repeatedly failing every substitute must
// terminate the lineage within the cap, with ReplanCount strictly increasing.
func TestProperty_Policy_LineageTerminates(t *testing.T) {
	feedbacks := []string{
		"validation failed: output incomplete",
		"timed out waiting for the build",
		"inexplicable breakage",
		"assert mismatch in checker",
		"deadline exceeded during integration",
		"",
	}

	rapid.Check(t, func(rt *rapid.T) {
		maxReplans := rapid.IntRange(0, 6).Draw(rt, "maxReplans")
		feedback := rapid.SampledFrom(feedbacks).Draw(rt, "feedback")

		policy := NewPolicy(nil, WithMaxReplans(maxReplans))
		current := &types.Task{
			ID:          "origin",
			Description: "the original unit of work",
			Kind:        types.TaskKindImplementation,
			MaxRetries:  3,
		}

		replans := 0
		for {
			subs, err := policy.Replan(context.Background(), current, feedback)
			if err != nil {
				rt.Fatalf("replan errored: %v", err)
			}
			if len(subs) == 0 {
				break
			}
			replans++
			if replans > maxReplans {
				rt.Fatalf("lineage exceeded cap %d", maxReplans)
			}
			// Fail the chain's completion point next
			next := subs[len(subs)-1]
			if next.ReplanCount != current.ReplanCount+1 {
				rt.Fatalf("replan count did not increase: %d -> %d",
					current.ReplanCount, next.ReplanCount)
			}
			if next.Root() != current.Root() {
				rt.Fatalf("lineage root changed: %q -> %q", current.Root(), next.Root())
			}
			current = next
		}

		if replans != maxReplans {
			rt.Fatalf("expected the lineage to use the full cap %d, used %d", maxReplans, replans)
		}
	})
}
