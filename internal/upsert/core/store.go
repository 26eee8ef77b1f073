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

// Package core provides the idempotency resolution logic for the upsert service.
package core

import (
	"context"
	"sync"
)

// IdempotencyRecord is the stored outcome of the first resolution for a key.
//
// ServerID never changes once recorded. ResourceID is the payload id seen at
// mint time and is only consulted when strict replay checking is enabled.
type IdempotencyRecord struct {
	Key        string
	ServerID   string
	ResourceID string
}

// Store holds the key -> record mapping.
//
// Record must behave as an atomic insert-if-absent: when the key is already
// present the existing record is returned with stored=false and nothing is
// overwritten. Both methods treat an empty key as "no record".
type Store interface {
	Lookup(ctx context.Context, key string) (rec IdempotencyRecord, ok bool, err error)
	Record(ctx context.Context, rec IdempotencyRecord) (winner IdempotencyRecord, stored bool, err error)
}

// MemoryStore is the default, process-lifetime Store. Keys are never evicted.
type MemoryStore struct {
	records sync.Map // string -> IdempotencyRecord
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Lookup returns the record for key, if any. It never fails.
func (s *MemoryStore) Lookup(_ context.Context, key string) (IdempotencyRecord, bool, error) {
	if key == "" {
		return IdempotencyRecord{}, false, nil
	}
	v, ok := s.records.Load(key)
	if !ok {
		return IdempotencyRecord{}, false, nil
	}
	return v.(IdempotencyRecord), true, nil
}

// Record publishes rec unless its key is empty or already taken.
func (s *MemoryStore) Record(_ context.Context, rec IdempotencyRecord) (IdempotencyRecord, bool, error) {
	if rec.Key == "" {
		return rec, false, nil
	}
	// If another goroutine won the race, hand back its record.
	if actual, loaded := s.records.LoadOrStore(rec.Key, rec); loaded {
		return actual.(IdempotencyRecord), false, nil
	}
	return rec, true, nil
}

// Len reports how many keys are currently recorded.
func (s *MemoryStore) Len() int {
	n := 0
	s.records.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
