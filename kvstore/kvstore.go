// Copyright 2025 The go-felt Authors
// This file is part of the go-felt library.
//
// The go-felt library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-felt library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-felt library. If not, see <http://www.gnu.org/licenses/>.

// Package kvstore exposes the scripted atomic primitives the transactional
// core relies on, plus the handful of plain commands used around them.
//
// The script set is bit-stable: callers dispatch on the exact strings a
// script returns, so any change to a return value is a compatibility break.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// Reservation status values as stored in the KV hash.
const (
	StatusPending    = "pending"
	StatusCommitted  = "committed"
	StatusRolledBack = "rolled_back"
	StatusExpired    = "expired"
)

// Script return values. The wallet and orchestrator switch on these exact
// strings.
const (
	RetOK          = "ok"
	RetCommitted   = "committed"
	RetMissing     = "missing"
	RetRolledBack  = "rolled_back"
	RetCompensated = "compensated"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kvstore: closed")

// ReservationRecord is the durable form of a pending chip movement.
type ReservationRecord struct {
	ID        string
	UserID    int64
	ChatID    int64
	Amount    int64
	CreatedAt int64 // epoch seconds
	Status    string
	Metadata  map[string]string
	Reason    string // terminalization reason, empty while pending
}

// Store is the contract between the core and the durable KV backend. Valkey
// implements it with server-side Lua; Memory implements it in-process for
// tests and single-node development.
type Store interface {
	// ReservationCreate atomically creates the reservation hash iff the key
	// does not exist. Returns true when created.
	ReservationCreate(ctx context.Context, key string, rec ReservationRecord, ttl time.Duration) (bool, error)

	// ReservationCommit transitions pending to committed. Returns RetOK on
	// transition, RetCommitted when already committed (idempotent success),
	// RetMissing when absent, or the raw stored status otherwise.
	ReservationCommit(ctx context.Context, key string) (string, error)

	// ReservationRollback transitions pending to rolled_back. With
	// allowCommitted it also compensates committed reservations, returning
	// RetCompensated. Returns RetRolledBack when rolled back (idempotently),
	// RetCommitted when committed and not allowed, RetMissing when absent.
	ReservationRollback(ctx context.Context, key string, allowCommitted bool, reason string) (string, error)

	// GameStateSave persists state iff the stored version equals
	// expectedVersion, incrementing it. Returns true on success.
	GameStateSave(ctx context.Context, key string, state []byte, expectedVersion int64, ttl time.Duration) (bool, error)

	// Plain commands.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	LPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LRem(ctx context.Context, key, value string) error
	LLen(ctx context.Context, key string) (int64, error)
	Scan(ctx context.Context, pattern string) ([]string, error)

	Close()
}
