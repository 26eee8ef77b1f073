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
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"upsertmock/internal/upsert/core"
)

// Dialect selects placeholder syntax for SQLStore.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

func (d Dialect) String() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectSQLite:
		return "sqlite"
	default:
		return "dialect(" + strconv.Itoa(int(d)) + ")"
	}
}

// Schema (both dialects):
//
//	CREATE TABLE IF NOT EXISTS idempotency_keys (
//	  idem_key    TEXT PRIMARY KEY,
//	  server_id   TEXT NOT NULL,
//	  resource_id TEXT NOT NULL,
//	  created_at  BIGINT NOT NULL
//	);
//
// Record inserts with ON CONFLICT DO NOTHING; when no row was affected the
// winner is read back, so the first committed insert decides the server id.
const schemaSQL = `CREATE TABLE IF NOT EXISTS idempotency_keys (
	idem_key    TEXT PRIMARY KEY,
	server_id   TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	created_at  BIGINT NOT NULL
)`

const (
	selectRecordSQL = `SELECT server_id, resource_id FROM idempotency_keys WHERE idem_key = $1`
	insertRecordSQL = `INSERT INTO idempotency_keys(idem_key, server_id, resource_id, created_at)
	VALUES ($1, $2, $3, $4) ON CONFLICT (idem_key) DO NOTHING`
)

// SQLStore is a core.Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	// Per-call timeout used when ctx has no deadline.
	defaultTimeout time.Duration

	selectSQL string
	insertSQL string
}

// NewSQLStore wraps db. Call Migrate once before use.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		db:             db,
		dialect:        dialect,
		defaultTimeout: 5 * time.Second,
		selectSQL:      rebind(dialect, selectRecordSQL),
		insertSQL:      rebind(dialect, insertRecordSQL),
	}
}

// rebind turns $n placeholders into ? for SQLite.
func rebind(d Dialect, q string) string {
	if d != DialectSQLite {
		return q
	}
	var b strings.Builder
	for i := 0; i < len(q); i++ {
		if q[i] == '$' && i+1 < len(q) && q[i+1] >= '0' && q[i+1] <= '9' {
			b.WriteByte('?')
			for i+1 < len(q) && q[i+1] >= '0' && q[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// Migrate creates the idempotency table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate %s: %w", s.dialect, err)
	}
	return nil
}

func (s *SQLStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && s.defaultTimeout > 0 {
		return context.WithTimeout(ctx, s.defaultTimeout)
	}
	return ctx, func() {}
}

func (s *SQLStore) Lookup(ctx context.Context, key string) (core.IdempotencyRecord, bool, error) {
	if key == "" {
		return core.IdempotencyRecord{}, false, nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.lookup(ctx, key)
}

func (s *SQLStore) lookup(ctx context.Context, key string) (core.IdempotencyRecord, bool, error) {
	rec := core.IdempotencyRecord{Key: key}
	err := s.db.QueryRowContext(ctx, s.selectSQL, key).Scan(&rec.ServerID, &rec.ResourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return core.IdempotencyRecord{}, false, fmt.Errorf("select idempotency_keys(%s): %w", key, err)
	}
	return rec, true, nil
}

func (s *SQLStore) Record(ctx context.Context, rec core.IdempotencyRecord) (core.IdempotencyRecord, bool, error) {
	if rec.Key == "" {
		return rec, false, nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.insertSQL, rec.Key, rec.ServerID, rec.ResourceID, time.Now().Unix())
	if err != nil {
		return core.IdempotencyRecord{}, false, fmt.Errorf("insert idempotency_keys(%s): %w", rec.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.IdempotencyRecord{}, false, fmt.Errorf("rows affected (%s): %w", rec.Key, err)
	}
	if n > 0 {
		return rec, true, nil
	}

	winner, ok, err := s.lookup(ctx, rec.Key)
	if err != nil {
		return core.IdempotencyRecord{}, false, err
	}
	if !ok {
		return core.IdempotencyRecord{}, false, fmt.Errorf("idempotency_keys(%s): conflict row not found", rec.Key)
	}
	return winner, false, nil
}
