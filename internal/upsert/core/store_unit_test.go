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

package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// TestMemoryStore_LookupAndRecord covers the basic insert-if-absent contract.
func TestMemoryStore_LookupAndRecord(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, ok, err := s.Lookup(ctx, "k"); ok || err != nil {
		t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
	}

	first := IdempotencyRecord{Key: "k", ServerID: "srv-1", ResourceID: "tx-1"}
	got, stored, err := s.Record(ctx, first)
	if err != nil || !stored {
		t.Fatalf("first record should be stored: stored=%v err=%v", stored, err)
	}
	if got != first {
		t.Fatalf("unexpected winner: %+v", got)
	}

	rec, ok, err := s.Lookup(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected key present: ok=%v err=%v", ok, err)
	}
	if rec.ServerID != "srv-1" {
		t.Fatalf("lookup server id = %q, want srv-1", rec.ServerID)
	}
}

// TestMemoryStore_FirstWriterWins ensures a second Record never overwrites.
func TestMemoryStore_FirstWriterWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, _, _ = s.Record(ctx, IdempotencyRecord{Key: "k", ServerID: "srv-1", ResourceID: "tx-1"})
	winner, stored, err := s.Record(ctx, IdempotencyRecord{Key: "k", ServerID: "srv-2", ResourceID: "tx-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored {
		t.Fatalf("second record must not be stored")
	}
	if winner.ServerID != "srv-1" || winner.ResourceID != "tx-1" {
		t.Fatalf("expected original record back, got %+v", winner)
	}
	if rec, _, _ := s.Lookup(ctx, "k"); rec.ServerID != "srv-1" {
		t.Fatalf("record was overwritten: %+v", rec)
	}
}

// TestMemoryStore_EmptyKeyIgnored checks that empty keys never create entries.
func TestMemoryStore_EmptyKeyIgnored(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	in := IdempotencyRecord{ServerID: "srv-x"}
	got, stored, err := s.Record(ctx, in)
	if err != nil || stored {
		t.Fatalf("empty key must not be stored: stored=%v err=%v", stored, err)
	}
	if got != in {
		t.Fatalf("expected input echoed back, got %+v", got)
	}
	if _, ok, _ := s.Lookup(ctx, ""); ok {
		t.Fatalf("empty key lookup must be absent")
	}
	if n := s.Len(); n != 0 {
		t.Fatalf("expected empty store, got %d entries", n)
	}
}

// TestMemoryStore_ConcurrentRecord_SingleWinner races many writers on one key.
func TestMemoryStore_ConcurrentRecord_SingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const goroutines = 64
	var wg sync.WaitGroup
	wg.Add(goroutines)
	winners := make([]string, goroutines)
	storedCount := make([]bool, goroutines)

	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			rec := IdempotencyRecord{Key: "key", ServerID: fmt.Sprintf("srv-%d", i)}
			w, stored, _ := s.Record(ctx, rec)
			winners[i] = w.ServerID
			storedCount[i] = stored
		}(i)
	}
	wg.Wait()

	n := 0
	for i := 0; i < goroutines; i++ {
		if storedCount[i] {
			n++
		}
		if winners[i] != winners[0] {
			t.Fatalf("writer %d saw %q, writer 0 saw %q", i, winners[i], winners[0])
		}
	}
	if n != 1 {
		t.Fatalf("expected exactly one stored record, got %d", n)
	}
	if s.Len() != 1 {
		t.Fatalf("expected one entry, got %d", s.Len())
	}
}
