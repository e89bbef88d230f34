package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weft-ai/weft/types"
)

// RedisProjectStore is a Redis-based implementation of ProjectStore.
// Suitable for distributed production deployments. Snapshots are stored as
// JSON strings with a set-based project index.
type RedisProjectStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisProjectStore creates a new Redis-based project store
func NewRedisProjectStore(config StoreConfig) (*RedisProjectStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Redis.Host, config.Redis.Port),
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "weft:"
	}

	return &RedisProjectStore{
		client:    client,
		keyPrefix: keyPrefix + "project:",
	}, nil
}

// Close closes the store
func (s *RedisProjectStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisProjectStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// projectKey returns the Redis key for a project snapshot
func (s *RedisProjectStore) projectKey(projectID string) string {
	return s.keyPrefix + "data:" + projectID
}

// indexKey returns the Redis key for the project index
func (s *RedisProjectStore) indexKey() string {
	return s.keyPrefix + "all"
}

// Save persists a snapshot, replacing any earlier one for the project
func (s *RedisProjectStore) Save(ctx context.Context, state *types.ProjectState) error {
	if state == nil || state.ProjectID == "" {
		return ErrInvalidInput
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal project state: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.projectKey(state.ProjectID), data, 0)
	pipe.SAdd(ctx, s.indexKey(), state.ProjectID)
	_, err = pipe.Exec(ctx)
	return err
}

// Load retrieves the latest snapshot for a project
func (s *RedisProjectStore) Load(ctx context.Context, projectID string) (*types.ProjectState, error) {
	data, err := s.client.Get(ctx, s.projectKey(projectID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var state types.ProjectState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal project state: %w", err)
	}
	return &state, nil
}

// Delete removes a project's snapshot
func (s *RedisProjectStore) Delete(ctx context.Context, projectID string) error {
	pipe := s.client.Pipeline()
	del := pipe.Del(ctx, s.projectKey(projectID))
	pipe.SRem(ctx, s.indexKey(), projectID)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns the IDs of all stored projects
func (s *RedisProjectStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

var _ ProjectStore = (*RedisProjectStore)(nil)
