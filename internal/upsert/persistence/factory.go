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

	"upsertmock/internal/upsert/core"
)

// Options carries backend settings for BuildStore.
type Options struct {
	RedisAddr   string
	RedisPrefix string
	RedisTTL    time.Duration
	PostgresDSN string
	SQLitePath  string
}

// DefaultSQLitePath is used when the sqlite adapter is chosen without a path.
const DefaultSQLitePath = "./data/upsert.db"

// BuildStore returns the store for adapter plus a func releasing its resources.
func BuildStore(ctx context.Context, adapter string, opts Options) (core.Store, func() error, error) {
	noop := func() error { return nil }
	switch adapter {
	case "", "memory":
		return core.NewMemoryStore(), noop, nil
	case "redis":
		if opts.RedisAddr == "" {
			return nil, nil, errors.New("redis adapter requires a redis address")
		}
		client := NewGoRedisClient(opts.RedisAddr)
		return NewRedisStore(client, opts.RedisPrefix, opts.RedisTTL), client.Close, nil
	case "postgres":
		if opts.PostgresDSN == "" {
			return nil, nil, errors.New("postgres adapter requires a DSN")
		}
		db, err := OpenPostgres(ctx, opts.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		s := NewSQLStore(db, DialectPostgres)
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, db.Close, nil
	case "sqlite":
		path := opts.SQLitePath
		if path == "" {
			path = DefaultSQLitePath
		}
		db, err := OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		s := NewSQLStore(db, DialectSQLite)
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store adapter: %s", adapter)
	}
}
