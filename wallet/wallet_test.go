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

package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feltlabs/go-felt/common/mclock"
	"github.com/feltlabs/go-felt/kvstore"
	"github.com/feltlabs/go-felt/ledger"
	"github.com/feltlabs/go-felt/params"
)

type walletFixture struct {
	wallet *Wallet
	repo   *ledger.Memory
	kv     *kvstore.Memory
	clock  *mclock.Simulated
	cfg    params.WalletConfig
}

func newFixture(t *testing.T) *walletFixture {
	t.Helper()
	clock := &mclock.Simulated{}
	kv := kvstore.NewMemory(clock)
	repo := ledger.NewMemory()
	cfg := params.WalletConfig{ReservationTTL: 5 * time.Minute, ExpiryGrace: 5 * time.Second}
	w := New(repo, kv, clock, cfg, NewKVDLQ(kv, params.DLQKey))
	t.Cleanup(w.Close)
	return &walletFixture{wallet: w, repo: repo, kv: kv, clock: clock, cfg: cfg}
}

func (f *walletFixture) balance(t *testing.T, userID, chatID int64) int64 {
	t.Helper()
	b, err := f.repo.GetBalance(context.Background(), userID, chatID)
	require.NoError(t, err)
	return b
}

func TestReserveCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.repo.SetBalance(7, 42, 500)

	id, err := f.wallet.Reserve(ctx, 7, 42, 200, map[string]string{"action": "call"})
	require.NoError(t, err)
	assert.Regexp(t, `^res_7_42_-?\d+$`, id)
	assert.Equal(t, int64(300), f.balance(t, 7, 42))

	require.NoError(t, f.wallet.Commit(ctx, id))
	assert.Equal(t, int64(300), f.balance(t, 7, 42))

	// Idempotent second commit.
	require.NoError(t, f.wallet.Commit(ctx, id))

	// A committed reservation refuses plain rollback.
	err = f.wallet.Rollback(ctx, id, "late", false)
	require.Error(t, err)
	assert.Equal(t, int64(300), f.balance(t, 7, 42))
}

func TestReserveInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.repo.SetBalance(7, 42, 100)

	_, err := f.wallet.Reserve(ctx, 7, 42, 200, nil)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Contains(t, err.Error(), "balance 100")
	assert.Contains(t, err.Error(), "required 200")
	assert.Equal(t, int64(100), f.balance(t, 7, 42))
}

func TestRollbackRefunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.repo.SetBalance(7, 42, 500)

	id, err := f.wallet.Reserve(ctx, 7, 42, 200, nil)
	require.NoError(t, err)
	require.Equal(t, int64(300), f.balance(t, 7, 42))

	require.NoError(t, f.wallet.Rollback(ctx, id, "user_cancel", false))
	assert.Equal(t, int64(500), f.balance(t, 7, 42))

	// Idempotent: the second rollback must not credit again.
	require.NoError(t, f.wallet.Rollback(ctx, id, "user_cancel", false))
	assert.Equal(t, int64(500), f.balance(t, 7, 42))

	rec, err := f.wallet.Reservation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, kvstore.StatusRolledBack, rec.Status)
	assert.Equal(t, "user_cancel", rec.Reason)
}

func TestRollbackCompensatesCommitted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.repo.SetBalance(7, 42, 500)

	id, err := f.wallet.Reserve(ctx, 7, 42, 200, nil)
	require.NoError(t, err)
	require.NoError(t, f.wallet.Commit(ctx, id))

	require.NoError(t, f.wallet.Rollback(ctx, id, "admin_reversal", true))
	assert.Equal(t, int64(500), f.balance(t, 7, 42))
}

func TestAutoExpiryRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.repo.SetBalance(7, 42, 500)

	id, err := f.wallet.Reserve(ctx, 7, 42, 200, nil)
	require.NoError(t, err)
	require.Equal(t, int64(300), f.balance(t, 7, 42))

	f.clock.Run(f.cfg.ReservationTTL + f.cfg.ExpiryGrace + time.Second)

	assert.Equal(t, int64(500), f.balance(t, 7, 42))
	rec, err := f.wallet.Reservation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, kvstore.StatusRolledBack, rec.Status)
	assert.Equal(t, "timeout", rec.Reason)
}

func TestCommitDisarmsExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.repo.SetBalance(7, 42, 500)

	id, err := f.wallet.Reserve(ctx, 7, 42, 200, nil)
	require.NoError(t, err)
	require.NoError(t, f.wallet.Commit(ctx, id))

	f.clock.Run(f.cfg.ReservationTTL + f.cfg.ExpiryGrace + time.Second)
	assert.Equal(t, int64(300), f.balance(t, 7, 42))
}

func TestRefundFailureGoesToDLQ(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.repo.SetBalance(7, 42, 500)

	id, err := f.wallet.Reserve(ctx, 7, 42, 200, nil)
	require.NoError(t, err)

	f.repo.FailCredits(errors.New("ledger down"))
	err = f.wallet.Rollback(ctx, id, "user_cancel", false)
	require.ErrorIs(t, err, ErrRefundFailed)

	entries, err := f.wallet.DLQEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ReservationID)
	assert.Equal(t, int64(200), entries[0].Amount)
	assert.Equal(t, "user_cancel", entries[0].Reason)
	assert.Contains(t, entries[0].Error, "ledger down")
}

func TestDirectRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.repo.SetBalance(7, 42, 500)

	id, err := f.wallet.Reserve(ctx, 7, 42, 200, nil)
	require.NoError(t, err)
	require.NoError(t, f.wallet.Commit(ctx, id))

	require.NoError(t, f.wallet.DirectRefund(ctx, id, "state_conflict"))
	assert.Equal(t, int64(500), f.balance(t, 7, 42))

	// The record stays committed: the refund travels outside the 2PC state.
	rec, err := f.wallet.Reservation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, kvstore.StatusCommitted, rec.Status)
}

func TestReserveCollisionUnwinds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.repo.SetBalance(7, 42, 500)

	// The simulated clock stands still, so the second id collides.
	_, err := f.wallet.Reserve(ctx, 7, 42, 200, nil)
	require.NoError(t, err)
	_, err = f.wallet.Reserve(ctx, 7, 42, 100, nil)
	require.ErrorIs(t, err, ErrCollision)

	// Only the first debit sticks.
	assert.Equal(t, int64(300), f.balance(t, 7, 42))
}

func TestCommitUnknownReservation(t *testing.T) {
	f := newFixture(t)
	err := f.wallet.Commit(context.Background(), "res_9_9_123")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecoverPending(t *testing.T) {
	ctx := context.Background()
	clock := &mclock.Simulated{}
	kv := kvstore.NewMemory(nil) // real clock for KV so records outlive the virtual TTL window
	repo := ledger.NewMemory()
	repo.SetBalance(7, 42, 500)
	cfg := params.WalletConfig{ReservationTTL: 5 * time.Minute, ExpiryGrace: 5 * time.Second}

	w1 := New(repo, kv, clock, cfg, nil)
	staleID, err := w1.Reserve(ctx, 7, 42, 200, nil)
	require.NoError(t, err)
	w1.Close() // simulated crash: timers gone, record still pending in KV

	// Past the deadline, a fresh wallet rolls the stale reservation back.
	clock.Run(cfg.ReservationTTL + cfg.ExpiryGrace + time.Minute)
	w2 := New(repo, kv, clock, cfg, nil)
	defer w2.Close()

	live, err := w2.RecoverPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, live)
	assert.Equal(t, int64(500), mustBalance(t, repo, 7, 42))

	rec, err := w2.Reservation(ctx, staleID)
	require.NoError(t, err)
	assert.Equal(t, kvstore.StatusRolledBack, rec.Status)
	assert.Equal(t, "recovered", rec.Reason)

	// A reservation still inside its window is re-armed, not rolled back.
	freshID, err := w2.Reserve(ctx, 7, 42, 100, nil)
	require.NoError(t, err)
	w3 := New(repo, kv, clock, cfg, nil)
	defer w3.Close()
	live, err = w3.RecoverPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, live)

	rec, err = w3.Reservation(ctx, freshID)
	require.NoError(t, err)
	assert.Equal(t, kvstore.StatusPending, rec.Status)
}

func mustBalance(t *testing.T, repo *ledger.Memory, userID, chatID int64) int64 {
	t.Helper()
	b, err := repo.GetBalance(context.Background(), userID, chatID)
	require.NoError(t, err)
	return b
}
