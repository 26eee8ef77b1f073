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
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// UnknownResource stands in for a payload that carries no resource id. Callers
// substitute it at the decoding boundary; Resolve records resource ids verbatim.
const UnknownResource = "unknown"

// ServerIDPrefix is prepended to every minted identifier.
const ServerIDPrefix = "srv-"

// ErrConflict is returned in strict replay mode when a replayed key arrives
// with a resource id different from the one recorded at mint time.
var ErrConflict = errors.New("idempotency key reused with a different resource")

// Outcome tells whether a resolution minted a new identifier or replayed one.
type Outcome int

const (
	OutcomeMint Outcome = iota
	OutcomeReplay
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMint:
		return "mint"
	case OutcomeReplay:
		return "replay"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Resolution is the result of resolving one upsert request.
type Resolution struct {
	ServerID   string
	ResourceID string
	Outcome    Outcome
}

// Replayed reports whether the server id came from an earlier request.
func (r Resolution) Replayed() bool { return r.Outcome == OutcomeReplay }

// Option configures a Resolver.
type Option func(*Resolver)

// WithMinter overrides how new server ids are generated.
func WithMinter(mint func() string) Option {
	return func(r *Resolver) {
		if mint != nil {
			r.mint = mint
		}
	}
}

// WithStrictReplay makes replays with a mismatching resource id fail with ErrConflict.
func WithStrictReplay(strict bool) Option {
	return func(r *Resolver) {
		r.strict = strict
	}
}

// Resolver decides, per request, whether to reuse a recorded server id or mint one.
type Resolver struct {
	store  Store
	mint   func() string
	strict bool
}

// NewResolver builds a Resolver over store. A nil store gets a fresh MemoryStore.
func NewResolver(store Store, opts ...Option) *Resolver {
	if store == nil {
		store = NewMemoryStore()
	}
	r := &Resolver{store: store, mint: NewServerID}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewServerID mints "srv-" followed by a random (v4) UUID.
func NewServerID() string {
	return ServerIDPrefix + uuid.NewString()
}

// Resolve maps an idempotency key and resource id to a server id.
//
// Requests without a key always mint and are never recorded. With a key, the
// first writer's id is returned to every caller, including concurrent ones that
// lose the insert race. The resource id never affects which path is taken.
func (r *Resolver) Resolve(ctx context.Context, key, resourceID string) (Resolution, error) {
	RecordResolution()

	if key == "" {
		RecordMint()
		return Resolution{ServerID: r.mint(), ResourceID: resourceID, Outcome: OutcomeMint}, nil
	}

	rec, ok, err := r.store.Lookup(ctx, key)
	if err != nil {
		RecordStoreError()
		return Resolution{}, fmt.Errorf("lookup key=%s: %w", key, err)
	}
	if ok {
		return r.replay(rec, resourceID)
	}

	candidate := IdempotencyRecord{Key: key, ServerID: r.mint(), ResourceID: resourceID}
	winner, stored, err := r.store.Record(ctx, candidate)
	if err != nil {
		RecordStoreError()
		return Resolution{}, fmt.Errorf("record key=%s: %w", key, err)
	}
	if !stored {
		return r.replay(winner, resourceID)
	}
	RecordMint()
	return Resolution{ServerID: winner.ServerID, ResourceID: resourceID, Outcome: OutcomeMint}, nil
}

func (r *Resolver) replay(rec IdempotencyRecord, resourceID string) (Resolution, error) {
	if r.strict && rec.ResourceID != resourceID {
		RecordConflict()
		return Resolution{}, fmt.Errorf("key=%s recorded for %s, got %s: %w", rec.Key, rec.ResourceID, resourceID, ErrConflict)
	}
	RecordReplay()
	return Resolution{ServerID: rec.ServerID, ResourceID: resourceID, Outcome: OutcomeReplay}, nil
}
