// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"upsertmock/internal/upsert/core"
)

// RedisClient abstracts the minimal surface we need from a Redis client.
// *redis.Client and *redis.ClusterClient both satisfy it.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// DefaultRedisPrefix namespaces idempotency entries in a shared Redis.
const DefaultRedisPrefix = "idem:"

// RedisStore keeps records as JSON strings written with SETNX.
//
// A zero ttl keeps entries forever, matching the in-memory store. A positive
// ttl bounds growth; pick one comfortably larger than the client retry window.
type RedisStore struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore returns a store on client. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client RedisClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// RedisKey returns the Redis key used for an idempotency key.
func (r *RedisStore) RedisKey(key string) string { return r.prefix + key }

func (r *RedisStore) Lookup(ctx context.Context, key string) (core.IdempotencyRecord, bool, error) {
	if key == "" {
		return core.IdempotencyRecord{}, false, nil
	}
	raw, err := r.client.Get(ctx, r.RedisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return core.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return core.IdempotencyRecord{}, false, fmt.Errorf("redis get key=%s: %w", key, err)
	}
	rec, err := decodeRecord(key, raw)
	if err != nil {
		return core.IdempotencyRecord{}, false, err
	}
	return rec, true, nil
}

func (r *RedisStore) Record(ctx context.Context, rec core.IdempotencyRecord) (core.IdempotencyRecord, bool, error) {
	if rec.Key == "" {
		return rec, false, nil
	}
	val, err := encodeRecord(rec)
	if err != nil {
		return core.IdempotencyRecord{}, false, err
	}

	// A TTL can expire the winner between SETNX and GET; one retry re-runs the race.
	for attempt := 0; attempt < 2; attempt++ {
		set, err := r.client.SetNX(ctx, r.RedisKey(rec.Key), val, r.ttl).Result()
		if err != nil {
			return core.IdempotencyRecord{}, false, fmt.Errorf("redis setnx key=%s: %w", rec.Key, err)
		}
		if set {
			return rec, true, nil
		}
		winner, ok, err := r.Lookup(ctx, rec.Key)
		if err != nil {
			return core.IdempotencyRecord{}, false, err
		}
		if ok {
			return winner, false, nil
		}
	}
	return core.IdempotencyRecord{}, false, fmt.Errorf("redis key=%s vanished after SETNX lost", rec.Key)
}
