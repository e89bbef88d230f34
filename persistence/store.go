// Package persistence provides durable storage for project state snapshots
// and handoff audit records.
//
// Project snapshots are the crash-recovery mechanism: the orchestrator saves
// one after every task status mutation, so resuming a run only requires
// loading the latest snapshot and recomputing the ready set.
//
// Supported snapshot backends:
//   - Memory: for development and testing (default)
//   - File: for single-node production deployments
//   - Redis: for distributed production deployments
package persistence

import (
	"context"
	"errors"

	"github.com/weft-ai/weft/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
)

// StoreConfig is the base configuration for all store implementations
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// BaseDir is the base directory for file-based storage
	BaseDir string `json:"base_dir" yaml:"base_dir"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	// Host is the Redis server host
	Host string `json:"host" yaml:"host"`

	// Port is the Redis server port
	Port int `json:"port" yaml:"port"`

	// Password is the Redis password (optional)
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number
	DB int `json:"db" yaml:"db"`

	// PoolSize is the connection pool size
	PoolSize int `json:"pool_size" yaml:"pool_size"`

	// KeyPrefix is the prefix for all Redis keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    StoreTypeMemory,
		BaseDir: "./data/persistence",
		Redis: RedisStoreConfig{
			Host:      "localhost",
			Port:      6379,
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "weft:",
		},
	}
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// ProjectStore persists project state snapshots. Save overwrites the
// previous snapshot for the same project; only the latest one matters for
// recovery.
type ProjectStore interface {
	Store

	// Save persists a snapshot, replacing any earlier one for the project
	Save(ctx context.Context, state *types.ProjectState) error

	// Load retrieves the latest snapshot for a project
	Load(ctx context.Context, projectID string) (*types.ProjectState, error)

	// Delete removes a project's snapshot
	Delete(ctx context.Context, projectID string) error

	// List returns the IDs of all stored projects
	List(ctx context.Context) ([]string, error)
}
