package depstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/codedeck/execbox/internal/engine"
)

// RedisMarkerStore persists dependency-cache markers in Redis so cache hits
// survive worker restarts and are shared across workers. Keys are scoped by
// project and language; writes are plain SETs, so concurrent installs for
// one project race last-writer-wins, which the cache tolerates.
type RedisMarkerStore struct {
	client *redis.Client
}

var _ engine.MarkerStore = (*RedisMarkerStore)(nil)

func NewRedisMarkerStore(client *redis.Client) *RedisMarkerStore {
	return &RedisMarkerStore{client: client}
}

func key(projectID, language string) string {
	return fmt.Sprintf("execbox:deps:%s:%s", projectID, language)
}

func (s *RedisMarkerStore) Get(ctx context.Context, projectID, language string) (*engine.Marker, error) {
	raw, err := s.client.Get(ctx, key(projectID, language)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dependency marker: %w", err)
	}
	var m engine.Marker
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode dependency marker: %w", err)
	}
	return &m, nil
}

func (s *RedisMarkerStore) Put(ctx context.Context, projectID, language string, m engine.Marker) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode dependency marker: %w", err)
	}
	if err := s.client.Set(ctx, key(projectID, language), data, 0).Err(); err != nil {
		return fmt.Errorf("write dependency marker: %w", err)
	}
	return nil
}
