package persistence

import "fmt"

// NewProjectStore creates a ProjectStore based on the configuration
func NewProjectStore(config StoreConfig) (ProjectStore, error) {
	switch config.Type {
	case StoreTypeMemory:
		return NewMemoryProjectStore(), nil
	case StoreTypeFile:
		return NewFileProjectStore(config)
	case StoreTypeRedis:
		return NewRedisProjectStore(config)
	default:
		return nil, fmt.Errorf("unsupported project store type: %s", config.Type)
	}
}
