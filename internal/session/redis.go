// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jeranaias/edgeroute/internal/router"
)

// RedisKeyPrefix namespaces conversation keys.
const RedisKeyPrefix = "edgeroute:conversation:"

// RedisStore keeps conversations as JSON strings in redis. Every Save
// refreshes the key's TTL.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. A ttl of zero keeps keys forever.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisStore(client, ttl), nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, id string) (*router.ConversationContext, error) {
	data, err := s.client.Get(ctx, RedisKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var cc router.ConversationContext
	if err := json.Unmarshal(data, &cc); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	if cc.History == nil {
		cc.History = []router.Turn{}
	}
	if cc.Transitions == nil {
		cc.Transitions = []router.Transition{}
	}
	return &cc, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, cc *router.ConversationContext) error {
	if err := ValidateID(cc.ID); err != nil {
		return err
	}
	data, err := json.Marshal(cc)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, RedisKeyPrefix+cc.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, RedisKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
