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

// Package persistence provides durable implementations of core.Store for Redis,
// Postgres and SQLite.
//
// Every adapter implements Record as an atomic insert-if-absent on the backend
// (SETNX, INSERT ... ON CONFLICT DO NOTHING) so that several service instances
// sharing one backend still agree on a single server id per idempotency key.
package persistence

import (
	"encoding/json"
	"fmt"

	"upsertmock/internal/upsert/core"
)

// storedRecord is the serialized form used by key-value backends.
type storedRecord struct {
	ServerID   string `json:"server_id"`
	ResourceID string `json:"resource_id"`
}

func encodeRecord(rec core.IdempotencyRecord) (string, error) {
	b, err := json.Marshal(storedRecord{ServerID: rec.ServerID, ResourceID: rec.ResourceID})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeRecord(key, raw string) (core.IdempotencyRecord, error) {
	var sr storedRecord
	if err := json.Unmarshal([]byte(raw), &sr); err != nil {
		return core.IdempotencyRecord{}, fmt.Errorf("decode record key=%s: %w", key, err)
	}
	if sr.ServerID == "" {
		return core.IdempotencyRecord{}, fmt.Errorf("decode record key=%s: empty server_id", key)
	}
	return core.IdempotencyRecord{Key: key, ServerID: sr.ServerID, ResourceID: sr.ResourceID}, nil
}
