package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultSnapshotKey is the fixed storage key for the chat state.
const DefaultSnapshotKey = "layza:chat:state"

// RedisSnapshotter keeps the snapshot under one Redis key.
type RedisSnapshotter struct {
	client *redis.Client
	key    string
}

// NewRedisSnapshotter builds a Redis-backed snapshotter.
func NewRedisSnapshotter(addr, password, key string) *RedisSnapshotter {
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &RedisSnapshotter{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		key: key,
	}
}

// Load fetches and decodes the snapshot.
func (s *RedisSnapshotter) Load() (Snapshot, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	snap, err := DecodeSnapshot(data)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// Save writes the snapshot without expiry.
func (s *RedisSnapshotter) Save(snap Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.client.Set(ctx, s.key, data, 0).Err()
}
