package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// GetJSON decodes the value at key into v. It reports false when the key
// is missing.
func GetJSON(ctx context.Context, store Store, key string, v any) (bool, error) {
	data, ok, err := store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode key %s: %w", key, err)
	}
	return true, nil
}

func PutJSON(ctx context.Context, store Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode key %s: %w", key, err)
	}
	return store.Put(ctx, key, data, ttl)
}
