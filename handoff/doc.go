// Package handoff implements the agent-to-agent coordination protocol:
// a registry of named agents and a four-phase handoff (prepare, validate,
// transfer, acknowledge) with rollback, an append-only audit history, and
// read-only system metrics.
//
// Many handoffs may be in flight at once. One coordination lock guards only
// the active-handoff index and audit history; the potentially slow phases
// run without it, so independent handoffs never block each other. Within a
// phase the sender-side and receiver-side calls run concurrently and the
// first error wins.
package handoff
