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

package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	valkey "github.com/valkey-io/valkey-go"
)

// ValkeyConfig configures the production Store.
type ValkeyConfig struct {
	Addr     string
	Password string
	DB       int

	// CommandTimeout bounds every individual command. Zero means the
	// 30 second default.
	CommandTimeout time.Duration
}

// DefaultCommandTimeout bounds a single KV command.
const DefaultCommandTimeout = 30 * time.Second

// Valkey implements Store over a valkey server using server-side Lua for the
// atomic primitives.
type Valkey struct {
	client  valkey.Client
	timeout time.Duration
	log     *logrus.Entry

	createScript   *valkey.Lua
	commitScript   *valkey.Lua
	rollbackScript *valkey.Lua
	saveScript     *valkey.Lua
	cadScript      *valkey.Lua
}

// NewValkey connects to the configured server and preloads the script set.
func NewValkey(cfg ValkeyConfig) (*Valkey, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{cfg.Addr},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: connect %s: %w", cfg.Addr, err)
	}
	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Valkey{
		client:         client,
		timeout:        timeout,
		log:            logrus.WithField("component", "kvstore"),
		createScript:   valkey.NewLuaScript(reservationCreateScript),
		commitScript:   valkey.NewLuaScript(reservationCommitScript),
		rollbackScript: valkey.NewLuaScript(reservationRollbackScript),
		saveScript:     valkey.NewLuaScript(gameStateSaveScript),
		cadScript:      valkey.NewLuaScript(compareAndDeleteScript),
	}, nil
}

func (v *Valkey) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, v.timeout)
}

// ReservationCreate implements Store.
func (v *Valkey) ReservationCreate(ctx context.Context, key string, rec ReservationRecord, ttl time.Duration) (bool, error) {
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	n, err := v.createScript.Exec(ctx, v.client, []string{key}, []string{
		rec.ID,
		strconv.FormatInt(rec.UserID, 10),
		strconv.FormatInt(rec.ChatID, 10),
		strconv.FormatInt(rec.Amount, 10),
		rec.Status,
		encodeMetadata(rec.Metadata),
		strconv.FormatInt(rec.CreatedAt, 10),
		strconv.FormatInt(int64(ttl/time.Second), 10),
	}).AsInt64()
	if err != nil {
		return false, fmt.Errorf("kvstore: reservation_create %s: %w", key, err)
	}
	return n == 1, nil
}

// ReservationCommit implements Store.
func (v *Valkey) ReservationCommit(ctx context.Context, key string) (string, error) {
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	ret, err := v.commitScript.Exec(ctx, v.client, []string{key}, nil).ToString()
	if err != nil {
		return "", fmt.Errorf("kvstore: reservation_commit %s: %w", key, err)
	}
	return ret, nil
}

// ReservationRollback implements Store.
func (v *Valkey) ReservationRollback(ctx context.Context, key string, allowCommitted bool, reason string) (string, error) {
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	allow := "0"
	if allowCommitted {
		allow = "1"
	}
	ret, err := v.rollbackScript.Exec(ctx, v.client, []string{key}, []string{allow, reason}).ToString()
	if err != nil {
		return "", fmt.Errorf("kvstore: reservation_rollback %s: %w", key, err)
	}
	return ret, nil
}

// GameStateSave implements Store.
func (v *Valkey) GameStateSave(ctx context.Context, key string, state []byte, expectedVersion int64, ttl time.Duration) (bool, error) {
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	n, err := v.saveScript.Exec(ctx, v.client, []string{key}, []string{
		strconv.FormatInt(expectedVersion, 10),
		string(state),
		strconv.FormatInt(int64(ttl/time.Second), 10),
	}).AsInt64()
	if err != nil {
		return false, fmt.Errorf("kvstore: game_state_save %s: %w", key, err)
	}
	return n == 1, nil
}

// SetNX implements Store.
func (v *Valkey) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	cmd := v.client.B().Set().Key(key).Value(value).Nx().Ex(ttl).Build()
	err := v.client.Do(ctx, cmd).Error()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return false, nil
		}
		return false, fmt.Errorf("kvstore: setnx %s: %w", key, err)
	}
	return true, nil
}

// CompareAndDelete implements Store.
func (v *Valkey) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	n, err := v.cadScript.Exec(ctx, v.client, []string{key}, []string{token}).AsInt64()
	if err != nil {
		return false, fmt.Errorf("kvstore: compare-and-delete %s: %w", key, err)
	}
	return n == 1, nil
}

// Get implements Store.
func (v *Valkey) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	val, err := v.client.Do(ctx, v.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("kvstore: get %s: %w", key, err)
	}
	return val, true, nil
}

// Delete implements Store.
func (v *Valkey) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	if err := v.client.Do(ctx, v.client.B().Del().Key(keys...).Build()).Error(); err != nil {
		return fmt.Errorf("kvstore: del: %w", err)
	}
	return nil
}

// Exists implements Store.
func (v *Valkey) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	n, err := v.client.Do(ctx, v.client.B().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("kvstore: exists %s: %w", key, err)
	}
	return n == 1, nil
}

// HGetAll implements Store.
func (v *Valkey) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	m, err := v.client.Do(ctx, v.client.B().Hgetall().Key(key).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("kvstore: hgetall %s: %w", key, err)
	}
	return m, nil
}

// HSet implements Store.
func (v *Valkey) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	b := v.client.B().Hset().Key(key).FieldValue()
	for f, val := range fields {
		b = b.FieldValue(f, val)
	}
	if err := v.client.Do(ctx, b.Build()).Error(); err != nil {
		return fmt.Errorf("kvstore: hset %s: %w", key, err)
	}
	return nil
}

// Expire implements Store.
func (v *Valkey) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	cmd := v.client.B().Expire().Key(key).Seconds(int64(ttl / time.Second)).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("kvstore: expire %s: %w", key, err)
	}
	return nil
}

// LPush implements Store.
func (v *Valkey) LPush(ctx context.Context, key string, values ...string) error {
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	cmd := v.client.B().Lpush().Key(key).Element(values...).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("kvstore: lpush %s: %w", key, err)
	}
	return nil
}

// LRange implements Store.
func (v *Valkey) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	cmd := v.client.B().Lrange().Key(key).Start(start).Stop(stop).Build()
	vals, err := v.client.Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("kvstore: lrange %s: %w", key, err)
	}
	return vals, nil
}

// LRem implements Store.
func (v *Valkey) LRem(ctx context.Context, key, value string) error {
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	cmd := v.client.B().Lrem().Key(key).Count(0).Element(value).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("kvstore: lrem %s: %w", key, err)
	}
	return nil
}

// LLen implements Store.
func (v *Valkey) LLen(ctx context.Context, key string) (int64, error) {
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	n, err := v.client.Do(ctx, v.client.B().Llen().Key(key).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("kvstore: llen %s: %w", key, err)
	}
	return n, nil
}

// Scan implements Store. It walks the full keyspace cursor, so patterns are
// expected to be reasonably selective.
func (v *Valkey) Scan(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	var (
		keys   []string
		cursor uint64
	)
	for {
		cmd := v.client.B().Scan().Cursor(cursor).Match(pattern).Count(256).Build()
		entry, err := v.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("kvstore: scan %s: %w", pattern, err)
		}
		keys = append(keys, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Close releases the underlying client.
func (v *Valkey) Close() {
	v.client.Close()
}
