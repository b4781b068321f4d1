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

package lockmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feltlabs/go-felt/kvstore"
	"github.com/feltlabs/go-felt/params"
)

func TestAcquireSmartFree(t *testing.T) {
	kv := kvstore.NewMemory(nil)
	m := New(params.DefaultConfig().Lock, nil, kv)
	ctx := WithTask(context.Background())

	key := TableKey(1)
	require.NoError(t, m.AcquireSmart(ctx, key, LevelTableWrite, time.Second, "table_write"))
	m.Release(ctx, key)

	// The waiter entry must not linger in the advisory queue.
	n, err := kv.LLen(ctx, params.LockQueueKeyPrefix+key)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAcquireSmartQueueFull(t *testing.T) {
	kv := kvstore.NewMemory(nil)
	cfg := params.DefaultConfig().Lock
	cfg.QueueDepthLimit = 2
	m := New(cfg, nil, kv)
	ctx := WithTask(context.Background())

	key := TableKey(1)
	queueKey := params.LockQueueKeyPrefix + key
	require.NoError(t, kv.LPush(ctx, queueKey, "w1", "w2", "w3"))

	err := m.AcquireSmart(ctx, key, LevelTableWrite, time.Second, "table_write")
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestAcquireSmartContended(t *testing.T) {
	kv := kvstore.NewMemory(nil)
	cfg := params.DefaultConfig().Lock
	cfg.SmartBackoffDelays = []time.Duration{5 * time.Millisecond}
	cfg.SmartGraceBuffer = 50 * time.Millisecond
	m := New(cfg, nil, kv)

	key := TableKey(1)
	holder := WithTask(context.Background())
	require.NoError(t, m.Acquire(holder, key, LevelTableWrite, time.Second))

	done := make(chan error, 1)
	go func() {
		done <- m.AcquireSmart(WithTask(context.Background()), key, LevelTableWrite, 2*time.Second, "table_write")
	}()
	time.Sleep(20 * time.Millisecond)
	m.Release(holder, key)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("smart acquisition never completed")
	}
}

func TestAcquireSmartHierarchyFatal(t *testing.T) {
	kv := kvstore.NewMemory(nil)
	m := New(params.DefaultConfig().Lock, nil, kv)
	ctx := WithTask(context.Background())

	require.NoError(t, m.Acquire(ctx, "wallet:1", LevelWallet, time.Second))

	// Order violations must not burn the whole retry budget.
	start := time.Now()
	err := m.AcquireSmart(ctx, TableKey(1), LevelTableWrite, 10*time.Second, "table_write")
	var order *LockOrderError
	require.ErrorAs(t, err, &order)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAcquireSmartWithoutKV(t *testing.T) {
	m := New(params.DefaultConfig().Lock, nil, nil)
	ctx := WithTask(context.Background())
	require.NoError(t, m.AcquireSmart(ctx, TableKey(1), LevelTableWrite, time.Second, "table_write"))
	m.Release(ctx, TableKey(1))
}
