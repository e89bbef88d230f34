// Package types defines the shared data model of the Weft framework:
// tasks, task lifecycle statuses, executor and validator results, project
// state snapshots, and the structured error type used across packages.
package types
