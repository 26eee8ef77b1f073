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
	"strings"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"

	"upsertmock/internal/upsert/core"
)

// fakeRedis is a goroutine-safe in-memory stand-in for the two commands we use.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration

	setNXErr error
	getErr   error
	// dropAfterSetNX deletes the key right after a losing SETNX, simulating expiry.
	dropAfterSetNX bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if f.setNXErr != nil {
		return redis.NewBoolResult(false, f.setNXErr)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		if f.dropAfterSetNX {
			delete(f.data, key)
		}
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = fmt.Sprint(value)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func TestRedisStore_KeyAndDefaults(t *testing.T) {
	s := NewRedisStore(newFakeRedis(), "", -time.Second)
	if got, want := s.RedisKey("abc"), "idem:abc"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if s.ttl != 0 {
		t.Fatalf("negative ttl should clamp to 0, got %v", s.ttl)
	}
	if got := NewRedisStore(newFakeRedis(), "mock:", 0).RedisKey("k"); got != "mock:k" {
		t.Fatalf("custom prefix ignored: %q", got)
	}
}

func TestRedisStore_RecordThenLookup(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	s := NewRedisStore(fake, "", time.Hour)

	if _, ok, err := s.Lookup(ctx, "k"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	rec := core.IdempotencyRecord{Key: "k", ServerID: "srv-1", ResourceID: "tx-1"}
	got, stored, err := s.Record(ctx, rec)
	if err != nil || !stored || got != rec {
		t.Fatalf("record: got=%+v stored=%v err=%v", got, stored, err)
	}
	if fake.ttls["idem:k"] != time.Hour {
		t.Fatalf("ttl not forwarded: %v", fake.ttls["idem:k"])
	}
	if !strings.Contains(fake.data["idem:k"], `"server_id":"srv-1"`) {
		t.Fatalf("unexpected stored value: %s", fake.data["idem:k"])
	}

	back, ok, err := s.Lookup(ctx, "k")
	if err != nil || !ok || back != rec {
		t.Fatalf("lookup: got=%+v ok=%v err=%v", back, ok, err)
	}
}

func TestRedisStore_FirstWriterWins(t *testing.T) {
	ctx := context.Background()
	s := NewRedisStore(newFakeRedis(), "", 0)

	_, _, _ = s.Record(ctx, core.IdempotencyRecord{Key: "k", ServerID: "srv-1", ResourceID: "tx-1"})
	winner, stored, err := s.Record(ctx, core.IdempotencyRecord{Key: "k", ServerID: "srv-2", ResourceID: "tx-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored || winner.ServerID != "srv-1" || winner.ResourceID != "tx-1" {
		t.Fatalf("expected original record, got %+v stored=%v", winner, stored)
	}
}

func TestRedisStore_EmptyKey(t *testing.T) {
	fake := newFakeRedis()
	s := NewRedisStore(fake, "", 0)
	if _, stored, err := s.Record(context.Background(), core.IdempotencyRecord{ServerID: "srv"}); stored || err != nil {
		t.Fatalf("empty key must not be stored: stored=%v err=%v", stored, err)
	}
	if len(fake.data) != 0 {
		t.Fatalf("fake should be untouched, has %d keys", len(fake.data))
	}
	if _, ok, _ := s.Lookup(context.Background(), ""); ok {
		t.Fatalf("empty key lookup must miss")
	}
}

func TestRedisStore_Errors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")

	fake := newFakeRedis()
	fake.getErr = boom
	if _, _, err := NewRedisStore(fake, "", 0).Lookup(ctx, "k"); !errors.Is(err, boom) {
		t.Fatalf("expected get error, got %v", err)
	}

	fake = newFakeRedis()
	fake.setNXErr = boom
	if _, _, err := NewRedisStore(fake, "", 0).Record(ctx, core.IdempotencyRecord{Key: "k", ServerID: "s"}); !errors.Is(err, boom) {
		t.Fatalf("expected setnx error, got %v", err)
	}

	fake = newFakeRedis()
	fake.data["idem:k"] = "not-json"
	if _, _, err := NewRedisStore(fake, "", 0).Lookup(ctx, "k"); err == nil {
		t.Fatalf("expected decode error for corrupt value")
	}
}

// TestRedisStore_WinnerExpiredRetries covers a winner vanishing between SETNX and GET.
func TestRedisStore_WinnerExpiredRetries(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	fake.data["idem:k"] = `{"server_id":"srv-old","resource_id":"tx"}`
	fake.dropAfterSetNX = true
	s := NewRedisStore(fake, "", time.Minute)

	got, stored, err := s.Record(ctx, core.IdempotencyRecord{Key: "k", ServerID: "srv-new", ResourceID: "tx"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stored || got.ServerID != "srv-new" {
		t.Fatalf("expected retry to store new record, got %+v stored=%v", got, stored)
	}
}

func TestRedisStore_WithResolver_ConcurrentSameKey(t *testing.T) {
	r := core.NewResolver(NewRedisStore(newFakeRedis(), "", 0))

	const goroutines = 32
	ids := make([]string, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), "shared", "tx")
			if err != nil {
				t.Errorf("resolve: %v", err)
			}
			ids[i] = res.ServerID
		}(i)
	}
	wg.Wait()
	for i := range ids {
		if ids[i] != ids[0] {
			t.Fatalf("caller %d got %s, caller 0 got %s", i, ids[i], ids[0])
		}
	}
}
