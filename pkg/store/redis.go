package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "flowgo:ctx:"

// RedisStore persists snapshots as JSON values in Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis at addr and pings it so a misconfigured
// backend fails at startup, not on first save.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("store: redis ping: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client. Tests use this with
// miniredis.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(agentID string) string {
	return redisKeyPrefix + agentID
}

func (s *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := validateID(snap.AgentID); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(snap.AgentID), data, 0).Err(); err != nil {
		return fmt.Errorf("store: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, agentID string) (*Snapshot, error) {
	if err := validateID(agentID); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, redisKey(agentID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: redis get: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("store: decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), redisKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("store: redis scan: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) Delete(ctx context.Context, agentID string) error {
	if err := validateID(agentID); err != nil {
		return err
	}
	removed, err := s.client.Del(ctx, redisKey(agentID)).Result()
	if err != nil {
		return fmt.Errorf("store: redis del: %w", err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
