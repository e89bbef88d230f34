package handoff

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubAgent implements the optional protocol hooks via callbacks, so each
// test wires only the behavior it cares about.
type stubAgent struct {
	prepareFn     func(ctx context.Context, req *Request) error
	prepareRecvFn func(ctx context.Context, req *Request) error
	sendFn        func(ctx context.Context, req *Request) (map[string]any, error)
	receiveFn     func(ctx context.Context, req *Request) (map[string]any, error)
	ackFn         func(ctx context.Context, req *Request, transfer map[string]any) (bool, error)
	rollbackFn    func(ctx context.Context, req *Request) error
}

func (a *stubAgent) PrepareHandoff(ctx context.Context, req *Request) error {
	if a.prepareFn != nil {
		return a.prepareFn(ctx, req)
	}
	return nil
}

func (a *stubAgent) PrepareReceive(ctx context.Context, req *Request) error {
	if a.prepareRecvFn != nil {
		return a.prepareRecvFn(ctx, req)
	}
	return nil
}

func (a *stubAgent) SendHandoff(ctx context.Context, req *Request) (map[string]any, error) {
	if a.sendFn != nil {
		return a.sendFn(ctx, req)
	}
	return map[string]any{"sent": true}, nil
}

func (a *stubAgent) ReceiveHandoff(ctx context.Context, req *Request) (map[string]any, error) {
	if a.receiveFn != nil {
		return a.receiveFn(ctx, req)
	}
	return map[string]any{"received": true}, nil
}

func (a *stubAgent) AcknowledgeHandoff(ctx context.Context, req *Request, transfer map[string]any) (bool, error) {
	if a.ackFn != nil {
		return a.ackFn(ctx, req, transfer)
	}
	return true, nil
}

func (a *stubAgent) RollbackHandoff(ctx context.Context, req *Request) error {
	if a.rollbackFn != nil {
		return a.rollbackFn(ctx, req)
	}
	return nil
}

// memSink records audit appends.
type memSink struct {
	mu   sync.Mutex
	recs []*AuditRecord
}

func (s *memSink) Append(_ context.Context, rec *AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

func allKinds() []string {
	out := make([]string, 0, len(Kinds()))
	for _, k := range Kinds() {
		out = append(out, string(k))
	}
	return out
}

func TestCoordinator_InitiateHandoff_Completes(t *testing.T) {
	c := NewCoordinator(zap.NewNop())
	c.RegisterAgent("sender", allKinds(), &stubAgent{})
	c.RegisterAgent("receiver", allKinds(), &stubAgent{})

	resp := c.InitiateHandoff(context.Background(), &Request{
		Kind:       KindContextTransfer,
		SenderID:   "sender",
		ReceiverID: "receiver",
		Payload:    map[string]any{"project_context": "state"},
	})

	assert.Equal(t, StatusCompleted, resp.Status)
	assert.Empty(t, resp.Error)
	assert.True(t, resp.ValidationPassed)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, map[string]any{"sent": true}, resp.TransferResult["sender"])
	assert.Equal(t, map[string]any{"received": true}, resp.TransferResult["receiver"])
	assert.Equal(t, 0, c.ActiveCount())
}

func TestCoordinator_InitiateHandoff_UnregisteredReceiverFails(t *testing.T) {
	sink := &memSink{}
	c := NewCoordinator(zap.NewNop(), WithAuditSink(sink))
	c.RegisterAgent("sender", allKinds(), &stubAgent{})

	resp := c.InitiateHandoff(context.Background(), &Request{
		Kind:       KindTaskDelegation,
		SenderID:   "sender",
		ReceiverID: "ghost",
	})

	assert.Equal(t, StatusFailed, resp.Status)
	assert.Contains(t, resp.Error, "ghost")
	assert.Nil(t, resp.TransferResult, "nothing may run past initiation")

	// The refusal is still audited
	require.Equal(t, 1, sink.count())
	assert.Equal(t, StatusFailed, sink.recs[0].Status)
}

func TestCoordinator_InitiateHandoff_NoHooksUsesBasicTransfer(t *testing.T) {
	type plainAgent struct{}
	c := NewCoordinator(zap.NewNop())
	c.RegisterAgent("sender", allKinds(), &plainAgent{})
	c.RegisterAgent("receiver", allKinds(), &plainAgent{})

	resp := c.InitiateHandoff(context.Background(), &Request{
		Kind:       KindStateSync,
		SenderID:   "sender",
		ReceiverID: "receiver",
		Payload:    map[string]any{"k1": 1, "k2": 2},
	})

	assert.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, "basic", resp.TransferResult["transfer"])
	assert.Equal(t, 2, resp.TransferResult["payload_keys"])
}

func TestCoordinator_InitiateHandoff_CapabilityMismatchWarnsOnly(t *testing.T) {
	c := NewCoordinator(zap.NewNop())
	c.RegisterAgent("sender", allKinds(), &stubAgent{})
	c.RegisterAgent("receiver", []string{string(KindStateSync)}, &stubAgent{})

	resp := c.InitiateHandoff(context.Background(), &Request{
		Kind:       KindKnowledgeShare,
		SenderID:   "sender",
		ReceiverID: "receiver",
	})

	assert.Equal(t, StatusCompleted, resp.Status)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "knowledge_share")
}

func TestCoordinator_InitiateHandoff_ValidationRuleBlocksTransfer(t *testing.T) {
	transferred := atomic.Bool{}
	agent := &stubAgent{
		sendFn: func(_ context.Context, _ *Request) (map[string]any, error) {
			transferred.Store(true)
			return nil, nil
		},
	}

	c := NewCoordinator(zap.NewNop())
	c.RegisterAgent("sender", allKinds(), agent)
	c.RegisterAgent("receiver", allKinds(), &stubAgent{})
	c.AddValidationRule(KindContextTransfer, RequirePayloadKeys("project_context"))

	resp := c.InitiateHandoff(context.Background(), &Request{
		Kind:       KindContextTransfer,
		SenderID:   "sender",
		ReceiverID: "receiver",
		Payload:    map[string]any{},
	})

	assert.Equal(t, StatusFailed, resp.Status)
	assert.False(t, resp.ValidationPassed)
	require.Len(t, resp.ValidationErrors, 1)
	assert.Contains(t, resp.ValidationErrors[0], "project_context")
	assert.False(t, transferred.Load(), "transfer must not run after failed validation")
}

func TestCoordinator_InitiateHandoff_RuleWarningsDoNotBlock(t *testing.T) {
	c := NewCoordinator(zap.NewNop())
	c.RegisterAgent("sender", allKinds(), &stubAgent{})
	c.RegisterAgent("receiver", allKinds(), &stubAgent{})
	c.AddValidationRule(KindStateSync, WarnPayloadSizeAbove(1))

	resp := c.InitiateHandoff(context.Background(), &Request{
		Kind:       KindStateSync,
		SenderID:   "sender",
		ReceiverID: "receiver",
		Payload:    map[string]any{"a": 1, "b": 2},
	})

	assert.Equal(t, StatusCompleted, resp.Status)
	assert.True(t, resp.ValidationPassed)
	assert.NotEmpty(t, resp.ValidationWarnings)
}

func TestCoordinator_InitiateHandoff_NegativeAckRollsBack(t *testing.T) {
	var senderRollbacks, receiverRollbacks atomic.Int32

	sender := &stubAgent{
		rollbackFn: func(_ context.Context, _ *Request) error {
			senderRollbacks.Add(1)
			return nil
		},
	}
	receiver := &stubAgent{
		ackFn: func(_ context.Context, _ *Request, _ map[string]any) (bool, error) {
			return false, nil
		},
		rollbackFn: func(_ context.Context, _ *Request) error {
			receiverRollbacks.Add(1)
			return nil
		},
	}

	c := NewCoordinator(zap.NewNop())
	c.RegisterAgent("sender", allKinds(), sender)
	c.RegisterAgent("receiver", allKinds(), receiver)

	resp := c.InitiateHandoff(context.Background(), &Request{
		Kind:        KindTaskDelegation,
		SenderID:    "sender",
		ReceiverID:  "receiver",
		RequiresAck: true,
	})

	assert.Equal(t, StatusRolledBack, resp.Status)
	assert.Contains(t, resp.Error, "rejected")
	assert.Equal(t, int32(1), senderRollbacks.Load(), "sender rollback exactly once")
	assert.Equal(t, int32(1), receiverRollbacks.Load(), "receiver rollback exactly once")
}

func TestCoordinator_InitiateHandoff_PrepareFailureRollsBackAndFails(t *testing.T) {
	var rollbacks atomic.Int32
	receiver := &stubAgent{
		prepareRecvFn: func(_ context.Context, _ *Request) error {
			return errors.New("no capacity")
		},
		rollbackFn: func(_ context.Context, _ *Request) error {
			rollbacks.Add(1)
			return nil
		},
	}

	c := NewCoordinator(zap.NewNop())
	c.RegisterAgent("sender", allKinds(), &stubAgent{})
	c.RegisterAgent("receiver", allKinds(), receiver)

	resp := c.InitiateHandoff(context.Background(), &Request{
		Kind:       KindCollaborativeWork,
		SenderID:   "sender",
		ReceiverID: "receiver",
	})

	assert.Equal(t, StatusFailed, resp.Status)
	assert.Contains(t, resp.Error, "preparation failed")
	assert.Contains(t, resp.Error, "no capacity")
	assert.Equal(t, int32(1), rollbacks.Load())
}

func TestCoordinator_InitiateHandoff_TimeoutFailsWithRollback(t *testing.T) {
	var rollbacks atomic.Int32
	sender := &stubAgent{
		sendFn: func(ctx context.Context, _ *Request) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		rollbackFn: func(_ context.Context, _ *Request) error {
			rollbacks.Add(1)
			return nil
		},
	}

	c := NewCoordinator(zap.NewNop())
	c.RegisterAgent("sender", allKinds(), sender)
	c.RegisterAgent("receiver", allKinds(), &stubAgent{})

	resp := c.InitiateHandoff(context.Background(), &Request{
		Kind:       KindContextTransfer,
		SenderID:   "sender",
		ReceiverID: "receiver",
		Timeout:    30 * time.Millisecond,
	})

	assert.Equal(t, StatusFailed, resp.Status)
	assert.Contains(t, resp.Error, "timeout")
	assert.Equal(t, int32(1), rollbacks.Load())
}

func TestCoordinator_InitiateHandoff_RollbackErrorDoesNotChangeStatus(t *testing.T) {
	receiver := &stubAgent{
		ackFn: func(_ context.Context, _ *Request, _ map[string]any) (bool, error) {
			return false, errors.New("receiver exploded")
		},
		rollbackFn: func(_ context.Context, _ *Request) error {
			return errors.New("rollback also exploded")
		},
	}

	c := NewCoordinator(zap.NewNop())
	c.RegisterAgent("sender", allKinds(), &stubAgent{})
	c.RegisterAgent("receiver", allKinds(), receiver)

	resp := c.InitiateHandoff(context.Background(), &Request{
		Kind:        KindTaskDelegation,
		SenderID:    "sender",
		ReceiverID:  "receiver",
		RequiresAck: true,
	})

	assert.Equal(t, StatusRolledBack, resp.Status)
}

func TestCoordinator_ConcurrentHandoffsDoNotSerialize(t *testing.T) {
	const latency = 80 * time.Millisecond
	slow := &stubAgent{
		sendFn: func(ctx context.Context, _ *Request) (map[string]any, error) {
			select {
			case <-time.After(latency):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return map[string]any{"sent": true}, nil
		},
	}

	c := NewCoordinator(zap.NewNop())
	for _, id := range []string{"a1", "a2", "b1", "b2"} {
		c.RegisterAgent(id, allKinds(), slow)
	}

	start := time.Now()
	var wg sync.WaitGroup
	results := make([]*Response, 2)
	pairs := [][2]string{{"a1", "a2"}, {"b1", "b2"}}
	for i, pair := range pairs {
		i, pair := i, pair
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.InitiateHandoff(context.Background(), &Request{
				Kind:       KindStateSync,
				SenderID:   pair[0],
				ReceiverID: pair[1],
			})
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	for _, resp := range results {
		require.NotNil(t, resp)
		assert.Equal(t, StatusCompleted, resp.Status)
	}
	// Disjoint handoffs run under no shared lock during their phases
	assert.Less(t, elapsed, 2*latency, "independent handoffs must overlap")
}

func TestCoordinator_SystemMetrics(t *testing.T) {
	c := NewCoordinator(zap.NewNop())
	c.RegisterAgent("sender", allKinds(), &stubAgent{})
	c.RegisterAgent("receiver", allKinds(), &stubAgent{})
	c.AddValidationRule(KindContextTransfer, RequirePayloadKeys("project_context"))
	c.AddValidationRule(KindContextTransfer, WarnPayloadSizeAbove(100))

	ok := c.InitiateHandoff(context.Background(), &Request{
		Kind:       KindContextTransfer,
		SenderID:   "sender",
		ReceiverID: "receiver",
		Payload:    map[string]any{"project_context": "x"},
	})
	require.Equal(t, StatusCompleted, ok.Status)

	bad := c.InitiateHandoff(context.Background(), &Request{
		Kind:       KindContextTransfer,
		SenderID:   "sender",
		ReceiverID: "missing",
	})
	require.Equal(t, StatusFailed, bad.Status)

	m := c.SystemMetrics()
	assert.Equal(t, 2, m.TotalHandoffs)
	assert.Equal(t, 0, m.ActiveHandoffs)
	assert.Equal(t, 2, m.RegisteredAgents)
	assert.InDelta(t, 0.5, m.SuccessRate, 1e-9)
	assert.Equal(t, 2, m.ValidationRuleCounts[KindContextTransfer])
}

func TestCoordinator_HistoryIsAppendOnlyAndCopied(t *testing.T) {
	c := NewCoordinator(zap.NewNop())
	c.RegisterAgent("sender", allKinds(), &stubAgent{})
	c.RegisterAgent("receiver", allKinds(), &stubAgent{})

	for i := 0; i < 3; i++ {
		c.InitiateHandoff(context.Background(), &Request{
			Kind:       KindStateSync,
			SenderID:   "sender",
			ReceiverID: "receiver",
		})
	}

	hist := c.History()
	require.Len(t, hist, 3)
	for _, rec := range hist {
		assert.Equal(t, StatusCompleted, rec.Status)
		assert.NotEmpty(t, rec.RequestID)
		assert.False(t, rec.CompletedAt.Before(rec.StartedAt))
	}

	// Mutating the returned slice must not affect the coordinator
	hist[0] = nil
	assert.NotNil(t, c.History()[0])
}

func TestCoordinator_RegisterAgent_Upserts(t *testing.T) {
	c := NewCoordinator(zap.NewNop())
	c.RegisterAgent("a", []string{string(KindStateSync)}, &stubAgent{})
	c.RegisterAgent("a", allKinds(), &stubAgent{})

	reg, ok := c.Agent("a")
	require.True(t, ok)
	assert.Len(t, reg.Capabilities, len(Kinds()))
	assert.Equal(t, 1, c.SystemMetrics().RegisteredAgents)

	c.UnregisterAgent("a")
	_, ok = c.Agent("a")
	assert.False(t, ok)
}
