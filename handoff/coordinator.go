package handoff

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/weft-ai/weft/internal/metrics"
)

// Coordinator runs the handoff protocol. It is an explicitly constructed
// service with process-scoped lifetime, passed by reference to whoever
// initiates handoffs; there is no global instance.
type Coordinator struct {
	logger         *zap.Logger
	tracer         trace.Tracer
	collector      *metrics.Collector
	auditSink      AuditSink
	defaultTimeout time.Duration

	registryMu sync.RWMutex
	agents     map[string]*AgentRegistration

	rulesMu sync.RWMutex
	rules   map[Kind][]ValidationRule

	// mu is the coordination lock: it guards only the active index and the
	// in-memory history, never the protocol phases themselves
	mu      sync.Mutex
	active  map[string]*Request
	history []*AuditRecord
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithAuditSink attaches a durable store for audit records.
func WithAuditSink(sink AuditSink) CoordinatorOption {
	return func(c *Coordinator) { c.auditSink = sink }
}

// WithDefaultTimeout overrides the per-handoff budget used when a request
// carries none.
func WithDefaultTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.defaultTimeout = d }
}

// WithCollector attaches a metrics collector.
func WithCollector(collector *metrics.Collector) CoordinatorOption {
	return func(c *Coordinator) { c.collector = collector }
}

// NewCoordinator creates a handoff coordinator. A nil logger falls back to
// a no-op.
func NewCoordinator(logger *zap.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		logger:         logger.With(zap.String("component", "handoff_coordinator")),
		tracer:         otel.Tracer("github.com/weft-ai/weft/handoff"),
		defaultTimeout: DefaultTimeout,
		agents:         make(map[string]*AgentRegistration),
		rules:          make(map[Kind][]ValidationRule),
		active:         make(map[string]*Request),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterAgent upserts an agent into the registry.
func (c *Coordinator) RegisterAgent(id string, capabilities []string, ref any) {
	c.registryMu.Lock()
	defer c.registryMu.Unlock()
	c.agents[id] = &AgentRegistration{
		ID:           id,
		Capabilities: append([]string(nil), capabilities...),
		Ref:          ref,
		RegisteredAt: time.Now(),
	}
	c.logger.Info("registered agent",
		zap.String("agent_id", id),
		zap.Strings("capabilities", capabilities),
	)
}

// UnregisterAgent removes an agent from the registry.
func (c *Coordinator) UnregisterAgent(id string) {
	c.registryMu.Lock()
	defer c.registryMu.Unlock()
	delete(c.agents, id)
}

// Agent looks up a registration by ID.
func (c *Coordinator) Agent(id string) (*AgentRegistration, bool) {
	c.registryMu.RLock()
	defer c.registryMu.RUnlock()
	reg, ok := c.agents[id]
	return reg, ok
}

// AddValidationRule appends a rule to the ordered list for a kind.
func (c *Coordinator) AddValidationRule(kind Kind, rule ValidationRule) {
	c.rulesMu.Lock()
	defer c.rulesMu.Unlock()
	c.rules[kind] = append(c.rules[kind], rule)
}

// InitiateHandoff runs the four-phase protocol for one request and returns
// the terminal response. Handoff-level failures are encoded in the response
// status, never raised.
func (c *Coordinator) InitiateHandoff(ctx context.Context, req *Request) *Response {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Timeout <= 0 {
		req.Timeout = c.defaultTimeout
	}
	if req.Priority < 1 {
		req.Priority = 1
	} else if req.Priority > 10 {
		req.Priority = 10
	}

	resp := &Response{RequestID: req.ID, Status: StatusInitiated, ValidationPassed: true}
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, "handoff.initiate",
		trace.WithAttributes(
			attribute.String("handoff.id", req.ID),
			attribute.String("handoff.kind", string(req.Kind)),
			attribute.String("handoff.sender", req.SenderID),
			attribute.String("handoff.receiver", req.ReceiverID),
		))
	defer span.End()

	sender, senderOK := c.Agent(req.SenderID)
	receiver, receiverOK := c.Agent(req.ReceiverID)
	if !senderOK || !receiverOK {
		missing := req.SenderID
		if senderOK {
			missing = req.ReceiverID
		}
		resp.Status = StatusFailed
		resp.Error = fmt.Sprintf("agent %q is not registered", missing)
		resp.DurationMs = time.Since(start).Milliseconds()
		c.logger.Warn("handoff refused, unknown agent",
			zap.String("request_id", req.ID),
			zap.String("missing_agent", missing),
		)
		c.finalize(ctx, req, resp, start, false)
		return resp
	}

	if !receiver.HasCapability(req.Kind) {
		// Capability advertisement is informational; record and proceed
		warning := fmt.Sprintf("receiver %q does not advertise capability %q", receiver.ID, req.Kind)
		resp.Warnings = append(resp.Warnings, warning)
		c.logger.Warn("capability mismatch", zap.String("request_id", req.ID), zap.String("warning", warning))
	}

	// Bookkeeping only: the lock is released before any phase runs
	c.mu.Lock()
	c.active[req.ID] = req
	c.mu.Unlock()

	c.logger.Info("handoff initiated",
		zap.String("request_id", req.ID),
		zap.String("kind", string(req.Kind)),
		zap.String("sender", req.SenderID),
		zap.String("receiver", req.ReceiverID),
		zap.Int("priority", req.Priority),
	)

	hctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	c.runProtocol(hctx, req, resp, sender, receiver)
	resp.DurationMs = time.Since(start).Milliseconds()
	c.finalize(ctx, req, resp, start, true)
	return resp
}

// runProtocol executes prepare, validate, transfer, and acknowledge,
// mutating resp toward a terminal status.
func (c *Coordinator) runProtocol(ctx context.Context, req *Request, resp *Response,
	sender, receiver *AgentRegistration) {

	// Phase: preparation, both sides concurrently
	resp.Status = StatusCoordinating
	if err := c.preparePhase(ctx, req, sender, receiver); err != nil {
		c.rollback(req, sender, receiver)
		resp.Status = StatusFailed
		resp.Error = "preparation failed: " + phaseError(ctx, err)
		return
	}

	// Phase: validation; nothing has moved yet, so failure needs no rollback
	resp.Status = StatusValidating
	errs, warns := c.validatePhase(ctx, req)
	resp.ValidationErrors = errs
	resp.ValidationWarnings = warns
	resp.ValidationPassed = len(errs) == 0
	if !resp.ValidationPassed {
		resp.Status = StatusFailed
		resp.Error = fmt.Sprintf("validation failed: %d rule error(s)", len(errs))
		return
	}

	// Phase: transfer, both sides concurrently
	resp.Status = StatusTransferring
	transfer, err := c.transferPhase(ctx, req, sender, receiver)
	if err != nil {
		c.rollback(req, sender, receiver)
		resp.Status = StatusFailed
		resp.Error = "transfer failed: " + phaseError(ctx, err)
		return
	}
	resp.TransferResult = transfer

	// Phase: acknowledgment, only when required
	if req.RequiresAck {
		ack, err := c.ackPhase(ctx, req, receiver, transfer)
		if err != nil {
			// Partial transfer occurred and is explicitly undone
			c.rollback(req, sender, receiver)
			resp.Status = StatusRolledBack
			resp.Error = "acknowledgment failed: " + phaseError(ctx, err)
			return
		}
		resp.AckData = ack
	}

	resp.Status = StatusCompleted
}

func (c *Coordinator) preparePhase(ctx context.Context, req *Request,
	sender, receiver *AgentRegistration) error {

	ctx, span := c.tracer.Start(ctx, "handoff.prepare")
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if p, ok := sender.Ref.(SendPreparer); ok {
			return p.PrepareHandoff(gctx, req)
		}
		return nil
	})
	g.Go(func() error {
		if p, ok := receiver.Ref.(ReceivePreparer); ok {
			return p.PrepareReceive(gctx, req)
		}
		return nil
	})
	return g.Wait()
}

func (c *Coordinator) validatePhase(ctx context.Context, req *Request) (errs, warns []string) {
	_, span := c.tracer.Start(ctx, "handoff.validate")
	defer span.End()

	c.rulesMu.RLock()
	rules := c.rules[req.Kind]
	c.rulesMu.RUnlock()

	for _, rule := range rules {
		res := rule(req)
		if res == nil {
			continue
		}
		errs = append(errs, res.Errors...)
		warns = append(warns, res.Warnings...)
	}
	return errs, warns
}

func (c *Coordinator) transferPhase(ctx context.Context, req *Request,
	sender, receiver *AgentRegistration) (map[string]any, error) {

	ctx, span := c.tracer.Start(ctx, "handoff.transfer")
	defer span.End()

	sendHook, hasSend := sender.Ref.(Sender)
	recvHook, hasRecv := receiver.Ref.(Receiver)

	var sent, received map[string]any
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if hasSend {
			out, err := sendHook.SendHandoff(gctx, req)
			sent = out
			return err
		}
		return nil
	})
	g.Go(func() error {
		if hasRecv {
			out, err := recvHook.ReceiveHandoff(gctx, req)
			received = out
			return err
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make(map[string]any)
	if !hasSend && !hasRecv {
		// Neither side implements the transfer hooks; record a basic
		// transfer so the handoff still carries its payload marker
		result["transfer"] = "basic"
		result["payload_keys"] = len(req.Payload)
		return result, nil
	}
	if sent != nil {
		result["sender"] = sent
	}
	if received != nil {
		result["receiver"] = received
	}
	return result, nil
}

func (c *Coordinator) ackPhase(ctx context.Context, req *Request,
	receiver *AgentRegistration, transfer map[string]any) (map[string]any, error) {

	ctx, span := c.tracer.Start(ctx, "handoff.acknowledge")
	defer span.End()

	a, ok := receiver.Ref.(Acknowledger)
	if !ok {
		// Auto-acknowledge when the receiver has no hook
		return map[string]any{"acknowledged": true, "auto": true}, nil
	}
	acked, err := a.AcknowledgeHandoff(ctx, req, transfer)
	if err != nil {
		return nil, err
	}
	if !acked {
		return nil, fmt.Errorf("receiver %q rejected the transfer", receiver.ID)
	}
	return map[string]any{"acknowledged": true}, nil
}

// rollback invokes the optional rollback hooks on both agents, best-effort.
// Errors are logged and never change the already-decided terminal status.
func (c *Coordinator) rollback(req *Request, sender, receiver *AgentRegistration) {
	// Fresh context: rollback must still run when the handoff deadline is
	// what triggered it
	ctx, cancel := context.WithTimeout(context.Background(), c.defaultTimeout)
	defer cancel()

	if c.collector != nil {
		c.collector.RecordRollback()
	}
	for _, reg := range []*AgentRegistration{sender, receiver} {
		rb, ok := reg.Ref.(Rollbacker)
		if !ok {
			continue
		}
		if err := rb.RollbackHandoff(ctx, req); err != nil {
			c.logger.Error("rollback hook failed",
				zap.String("request_id", req.ID),
				zap.String("agent_id", reg.ID),
				zap.Error(err),
			)
		}
	}
	c.logger.Info("handoff rolled back", zap.String("request_id", req.ID))
}

// finalize removes the request from the active index and appends the audit
// record in one critical section, then pushes the record to the optional
// sink. It runs on every terminal outcome and never affects control flow.
func (c *Coordinator) finalize(ctx context.Context, req *Request, resp *Response,
	start time.Time, wasActive bool) {

	completed := time.Now()
	rec := &AuditRecord{
		ID:           uuid.New().String(),
		RequestID:    req.ID,
		Kind:         req.Kind,
		SenderID:     req.SenderID,
		ReceiverID:   req.ReceiverID,
		Status:       resp.Status,
		Error:        resp.Error,
		PayloadBytes: payloadSize(req.Payload),
		StartedAt:    start,
		CompletedAt:  completed,
		DurationMs:   completed.Sub(start).Milliseconds(),
	}

	// Deregistration and history append are one atomic step under the
	// coordination lock, so a crash cannot separate them
	c.mu.Lock()
	if wasActive {
		delete(c.active, req.ID)
	}
	c.history = append(c.history, rec)
	c.mu.Unlock()

	if c.auditSink != nil {
		if err := c.auditSink.Append(ctx, rec); err != nil {
			c.logger.Error("audit sink append failed",
				zap.String("request_id", req.ID),
				zap.Error(err),
			)
		}
	}
	if c.collector != nil {
		c.collector.RecordHandoff(string(req.Kind), string(resp.Status), completed.Sub(start))
	}

	c.logger.Info("handoff finished",
		zap.String("request_id", req.ID),
		zap.String("status", string(resp.Status)),
		zap.Int64("duration_ms", rec.DurationMs),
	)
}

// phaseError renders a phase failure, mapping a blown deadline to an
// explicit timeout description.
func phaseError(ctx context.Context, err error) string {
	if ctx.Err() == context.DeadlineExceeded {
		return "handoff timeout exceeded"
	}
	return err.Error()
}

// ActiveCount returns the number of handoffs currently in flight.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// History returns a copy of the audit history in append order.
func (c *Coordinator) History() []*AuditRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*AuditRecord, len(c.history))
	copy(out, c.history)
	return out
}

// SystemMetrics aggregates the audit history and registries. Read-only, no
// side effects.
func (c *Coordinator) SystemMetrics() *SystemMetrics {
	m := &SystemMetrics{ValidationRuleCounts: make(map[Kind]int)}

	c.mu.Lock()
	m.TotalHandoffs = len(c.history)
	m.ActiveHandoffs = len(c.active)
	var totalMs int64
	completed := 0
	for _, rec := range c.history {
		totalMs += rec.DurationMs
		if rec.Status == StatusCompleted {
			completed++
		}
	}
	c.mu.Unlock()

	if m.TotalHandoffs > 0 {
		m.AverageDurationMs = float64(totalMs) / float64(m.TotalHandoffs)
		m.SuccessRate = float64(completed) / float64(m.TotalHandoffs)
	}

	c.registryMu.RLock()
	m.RegisteredAgents = len(c.agents)
	c.registryMu.RUnlock()

	c.rulesMu.RLock()
	for kind, rules := range c.rules {
		m.ValidationRuleCounts[kind] = len(rules)
	}
	c.rulesMu.RUnlock()

	return m
}
