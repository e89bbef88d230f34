// Package metrics provides internal Prometheus metrics collection for the
// orchestrator and the handoff coordinator. This package is internal and
// should not be imported by external projects.
package metrics
