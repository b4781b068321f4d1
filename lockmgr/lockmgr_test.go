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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feltlabs/go-felt/common/mclock"
	"github.com/feltlabs/go-felt/params"
)

func testManager() *Manager {
	cfg := params.DefaultConfig().Lock
	return New(cfg, nil, nil)
}

func TestReentrantAcquire(t *testing.T) {
	m := testManager()
	ctx := WithTask(context.Background())

	require.NoError(t, m.TableWriteLock(ctx, 1, time.Second))
	require.NoError(t, m.TableWriteLock(ctx, 1, time.Second))

	// Still held after one release; a stranger cannot take it.
	m.TableUnlock(ctx, 1)
	other := WithTask(context.Background())
	err := m.TableWriteLock(other, 1, 10*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	m.TableUnlock(ctx, 1)
	require.NoError(t, m.TableWriteLock(other, 1, time.Second))
	m.TableUnlock(other, 1)
}

func TestAcquireWithoutTask(t *testing.T) {
	m := testManager()
	err := m.TableWriteLock(context.Background(), 1, time.Second)
	require.ErrorIs(t, err, ErrNoTask)
}

func TestHierarchyViolation(t *testing.T) {
	m := testManager()
	ctx := WithTask(context.Background())

	require.NoError(t, m.Acquire(ctx, "wallet:7", LevelWallet, time.Second))

	err := m.TableWriteLock(ctx, 1, time.Second)
	var order *LockOrderError
	require.ErrorAs(t, err, &order)
	assert.Equal(t, LevelTableWrite, order.Level)
	assert.Equal(t, LevelWallet, order.Deepest)

	// The failed attempt must not leave the table lock held.
	other := WithTask(context.Background())
	require.NoError(t, m.TableWriteLock(other, 1, time.Second))
	m.TableUnlock(other, 1)

	m.Release(ctx, "wallet:7")
}

func TestAscendingAcquisitions(t *testing.T) {
	m := testManager()
	ctx := WithTask(context.Background())

	require.NoError(t, m.TableWriteLock(ctx, 1, time.Second))
	require.NoError(t, m.Acquire(ctx, "pot:1", LevelPot, time.Second))
	// Skipping levels upward is fine, and so is a same-level sibling.
	require.NoError(t, m.Acquire(ctx, "deck:1", LevelDeck, time.Second))
	require.NoError(t, m.Acquire(ctx, "betting:1", LevelBetting, time.Second))

	m.Release(ctx, "betting:1")
	m.Release(ctx, "deck:1")
	m.Release(ctx, "pot:1")
	m.TableUnlock(ctx, 1)
	assert.Empty(t, FromContext(ctx).HeldLevels())
}

func TestSharedReaders(t *testing.T) {
	m := testManager()
	r1 := WithTask(context.Background())
	r2 := WithTask(context.Background())

	require.NoError(t, m.TableReadLock(r1, 1, time.Second))
	require.NoError(t, m.TableReadLock(r2, 1, time.Second))

	w := WithTask(context.Background())
	err := m.TableWriteLock(w, 1, 10*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	m.TableUnlock(r1, 1)
	err = m.TableWriteLock(w, 1, 10*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	m.TableUnlock(r2, 1)
	require.NoError(t, m.TableWriteLock(w, 1, time.Second))
	m.TableUnlock(w, 1)
}

func TestWriterBlocksReader(t *testing.T) {
	m := testManager()
	w := WithTask(context.Background())
	require.NoError(t, m.TableWriteLock(w, 1, time.Second))

	r := WithTask(context.Background())
	err := m.TableReadLock(r, 1, 10*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	m.TableUnlock(w, 1)
	require.NoError(t, m.TableReadLock(r, 1, time.Second))
	m.TableUnlock(r, 1)
}

func TestContendedHandoff(t *testing.T) {
	m := testManager()
	a := WithTask(context.Background())
	require.NoError(t, m.TableWriteLock(a, 1, time.Second))

	acquired := make(chan error, 1)
	go func() {
		b := WithTask(context.Background())
		acquired <- m.TableWriteLock(b, 1, 5*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	m.TableUnlock(a, 1)

	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestCancellationPropagates(t *testing.T) {
	m := testManager()
	a := WithTask(context.Background())
	require.NoError(t, m.TableWriteLock(a, 1, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	b := WithTask(ctx)
	done := make(chan error, 1)
	go func() {
		done <- m.TableWriteLock(b, 1, 10*time.Second)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not propagate")
	}
	m.TableUnlock(a, 1)
}

func TestReleaseByNonOwner(t *testing.T) {
	m := testManager()
	owner := WithTask(context.Background())
	require.NoError(t, m.TableWriteLock(owner, 1, time.Second))

	// Relaxed policy: a scheduler-driven release from another task frees the
	// lock without corrupting depth accounting.
	stranger := WithTask(context.Background())
	m.TableUnlock(stranger, 1)

	require.NoError(t, m.TableWriteLock(stranger, 1, 50*time.Millisecond))
	m.TableUnlock(stranger, 1)

	// A second stray release on a free lock stays a no-op.
	m.TableUnlock(stranger, 1)
}

func TestIdleReaper(t *testing.T) {
	clock := &mclock.Simulated{}
	cfg := params.DefaultConfig().Lock
	m := New(cfg, clock, nil)

	ctx := WithTask(context.Background())
	require.NoError(t, m.TableWriteLock(ctx, 1, time.Second))
	require.NoError(t, m.TableWriteLock(WithTask(context.Background()), 2, time.Second))
	m.TableUnlock(ctx, 1)
	require.Equal(t, 2, m.PoolSize())

	clock.Run(cfg.IdleReapAfter + time.Second)
	m.reapIdle()

	// The released entry is gone, the held one survives.
	require.Equal(t, 1, m.PoolSize())
	require.NoError(t, m.TableWriteLock(ctx, 1, time.Second))
	m.TableUnlock(ctx, 1)
}

func TestReapBatchesDrainInOneSweep(t *testing.T) {
	clock := &mclock.Simulated{}
	cfg := params.DefaultConfig().Lock
	cfg.ReapBatch = 3
	m := New(cfg, clock, nil)

	for i := int64(0); i < 10; i++ {
		ctx := WithTask(context.Background())
		require.NoError(t, m.TableWriteLock(ctx, i, time.Second))
		m.TableUnlock(ctx, i)
	}
	require.Equal(t, 10, m.PoolSize())

	clock.Run(cfg.IdleReapAfter + time.Second)
	m.reapIdle()
	assert.Zero(t, m.PoolSize())
}

func TestUpdateRetryConfig(t *testing.T) {
	m := testManager()
	m.UpdateRetryConfig(5, []time.Duration{time.Second}, 3*time.Second)

	cfg := m.tuning()
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, []time.Duration{time.Second}, cfg.SmartBackoffDelays)
	assert.Equal(t, 3*time.Second, cfg.SmartGraceBuffer)

	// Non-positive values leave the current tuning alone.
	m.UpdateRetryConfig(0, nil, 0)
	assert.Equal(t, 4, m.tuning().MaxRetries)
}

func TestLevelOrderConstants(t *testing.T) {
	levels := []Level{LevelTableRead, LevelTableWrite, LevelPlayer, LevelPot, LevelDeck, LevelWallet, LevelChat}
	for i := 1; i < len(levels); i++ {
		assert.LessOrEqual(t, levels[i-1], levels[i])
	}
	assert.Equal(t, LevelDeck, LevelBetting)
}

func TestTimeoutErrorWrapsKey(t *testing.T) {
	m := testManager()
	a := WithTask(context.Background())
	require.NoError(t, m.Acquire(a, "pot:9", LevelPot, time.Second))

	err := m.Acquire(WithTask(context.Background()), "pot:9", LevelPot, 10*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Contains(t, err.Error(), "pot:9")
}
