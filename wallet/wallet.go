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

// Package wallet is the two-phase-commit engine for chip movements. A
// reservation debits the ledger immediately and parks the chips in a durable
// record; commit makes the movement final, rollback (or expiry) credits them
// back. Credits that fail land on the dead-letter queue for manual
// resolution.
//
// The KV store is the source of truth. The in-memory state is only a hot
// index of expiry timers and is rebuilt from KV on startup.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feltlabs/go-felt/common/mclock"
	"github.com/feltlabs/go-felt/kvstore"
	"github.com/feltlabs/go-felt/ledger"
	"github.com/feltlabs/go-felt/params"
)

var (
	// ErrInsufficientFunds wraps the ledger error with the balance numbers.
	ErrInsufficientFunds = ledger.ErrInsufficientFunds

	// ErrNotFound is returned for terminals on unknown or expired ids.
	ErrNotFound = errors.New("wallet: reservation not found or expired")

	// ErrRefundFailed means the credit could not be applied and the
	// reservation was routed to the DLQ.
	ErrRefundFailed = errors.New("wallet: refund failed, queued for manual resolution")

	// ErrCollision means the generated reservation id already existed.
	ErrCollision = errors.New("wallet: reservation id collision")
)

// Wallet implements the 2PC engine over a ledger repository and the KV
// store.
type Wallet struct {
	ledger ledger.Repository
	kv     kvstore.Store
	clock  mclock.Clock
	cfg    params.WalletConfig
	dlq    DLQ
	log    *logrus.Entry

	mu     sync.Mutex
	timers map[string]mclock.Timer // pending reservation id -> expiry timer

	idLocks sync.Map // reservation id -> *sync.Mutex
}

// New builds a wallet. dlq may be nil, in which case refund failures are only
// logged (at critical severity) and reported to the caller.
func New(repo ledger.Repository, kv kvstore.Store, clock mclock.Clock, cfg params.WalletConfig, dlq DLQ) *Wallet {
	if clock == nil {
		clock = mclock.System{}
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = 5 * time.Minute
	}
	return &Wallet{
		ledger: repo,
		kv:     kv,
		clock:  clock,
		cfg:    cfg,
		dlq:    dlq,
		log:    logrus.WithField("component", "wallet"),
		timers: make(map[string]mclock.Timer),
	}
}

func reservationKey(id string) string { return params.ReservationKeyPrefix + id }

// recordRetention keeps the durable record readable past the expiry task's
// firing point. Without it the record would lapse at exactly the moment the
// task needs the amount to refund.
const recordRetention = time.Minute

// idLock serializes terminal transitions per reservation id. Decisions are
// always made from KV state re-read under this lock.
func (w *Wallet) idLock(id string) *sync.Mutex {
	mu, _ := w.idLocks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Reserve debits amount from (user, chat) and persists a pending
// reservation. The returned id has the res_{user}_{chat}_{epoch_ms} format;
// debug logs and DLQ entries carry it verbatim.
func (w *Wallet) Reserve(ctx context.Context, userID, chatID, amount int64, metadata map[string]string) (string, error) {
	defer w.timeOp("reserve")()
	if amount < 0 {
		reserveCounter.WithLabelValues("invalid").Inc()
		return "", fmt.Errorf("wallet: negative amount %d", amount)
	}

	balance, err := w.ledger.GetBalance(ctx, userID, chatID)
	if err != nil {
		reserveCounter.WithLabelValues("error").Inc()
		return "", fmt.Errorf("wallet: balance lookup: %w", err)
	}
	if balance < amount {
		reserveCounter.WithLabelValues("insufficient_funds").Inc()
		return "", fmt.Errorf("%w: balance %d, required %d", ErrInsufficientFunds, balance, amount)
	}

	id := fmt.Sprintf("res_%d_%d_%d", userID, chatID, w.clock.Now().UnixMilli())

	if err := w.ledger.Debit(ctx, userID, chatID, amount, metadata); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			// Lost a race since the read; same user-visible outcome.
			reserveCounter.WithLabelValues("insufficient_funds").Inc()
			return "", fmt.Errorf("%w: balance moved under us, required %d", ErrInsufficientFunds, amount)
		}
		reserveCounter.WithLabelValues("error").Inc()
		return "", fmt.Errorf("wallet: debit: %w", err)
	}

	rec := kvstore.ReservationRecord{
		ID:        id,
		UserID:    userID,
		ChatID:    chatID,
		Amount:    amount,
		CreatedAt: w.clock.Now().Unix(),
		Status:    kvstore.StatusPending,
		Metadata:  metadata,
	}
	recordTTL := w.cfg.ReservationTTL + w.cfg.ExpiryGrace + recordRetention
	created, err := w.kv.ReservationCreate(ctx, reservationKey(id), rec, recordTTL)
	if err == nil && !created {
		err = fmt.Errorf("%w: %s", ErrCollision, id)
	}
	if err != nil {
		// The debit already happened; undo it or dead-letter the record.
		if cerr := w.ledger.Credit(ctx, userID, chatID, amount, metadata); cerr != nil {
			w.toDLQ(ctx, rec, cerr, "reserve_unwind")
		}
		reserveCounter.WithLabelValues("error").Inc()
		return "", fmt.Errorf("wallet: persist reservation: %w", err)
	}

	w.armExpiry(id, w.cfg.ReservationTTL+w.cfg.ExpiryGrace)

	reserveCounter.WithLabelValues("success").Inc()
	w.log.WithFields(logrus.Fields{
		"reservation": id, "user": userID, "chat": chatID, "amount": amount,
	}).Debug("reserved")
	return id, nil
}

// Commit finalizes a pending reservation. Committing twice is success both
// times; the second call has no side effect.
func (w *Wallet) Commit(ctx context.Context, id string) error {
	defer w.timeOp("commit")()
	mu := w.idLock(id)
	mu.Lock()
	defer mu.Unlock()

	ret, err := w.kv.ReservationCommit(ctx, reservationKey(id))
	if err != nil {
		commitCounter.WithLabelValues("error").Inc()
		return fmt.Errorf("wallet: commit %s: %w", id, err)
	}
	switch ret {
	case kvstore.RetOK:
		w.dropTimer(id)
		commitCounter.WithLabelValues("success").Inc()
		w.log.WithField("reservation", id).Debug("committed")
		return nil
	case kvstore.RetCommitted:
		commitCounter.WithLabelValues("idempotent").Inc()
		return nil
	case kvstore.RetMissing:
		commitCounter.WithLabelValues("not_found").Inc()
		return ErrNotFound
	default:
		commitCounter.WithLabelValues(ret).Inc()
		return fmt.Errorf("wallet: reservation %s is %s", id, ret)
	}
}

// Rollback credits a pending reservation back to the ledger. With
// allowCommitted it also compensates an already committed one. Rolling back
// an already rolled-back reservation is success without side effect.
func (w *Wallet) Rollback(ctx context.Context, id, reason string, allowCommitted bool) error {
	defer w.timeOp("rollback")()
	mu := w.idLock(id)
	mu.Lock()
	defer mu.Unlock()

	fields, err := w.kv.HGetAll(ctx, reservationKey(id))
	if err != nil {
		rollbackCounter.WithLabelValues("error").Inc()
		return fmt.Errorf("wallet: rollback %s: %w", id, err)
	}
	if len(fields) == 0 {
		rollbackCounter.WithLabelValues("not_found").Inc()
		return ErrNotFound
	}
	rec, err := kvstore.DecodeReservation(fields)
	if err != nil {
		rollbackCounter.WithLabelValues("error").Inc()
		return fmt.Errorf("wallet: rollback %s: %w", id, err)
	}

	ret, err := w.kv.ReservationRollback(ctx, reservationKey(id), allowCommitted, reason)
	if err != nil {
		rollbackCounter.WithLabelValues("error").Inc()
		return fmt.Errorf("wallet: rollback %s: %w", id, err)
	}
	switch ret {
	case kvstore.RetRolledBack:
		if rec.Status != kvstore.StatusPending {
			// Already terminal before this call.
			rollbackCounter.WithLabelValues("idempotent").Inc()
			return nil
		}
		w.dropTimer(id)
		if err := w.ledger.Credit(ctx, rec.UserID, rec.ChatID, rec.Amount, rec.Metadata); err != nil {
			w.toDLQ(ctx, rec, err, reason)
			rollbackCounter.WithLabelValues("refund_failed").Inc()
			return ErrRefundFailed
		}
		rollbackCounter.WithLabelValues("success").Inc()
		w.log.WithFields(logrus.Fields{"reservation": id, "reason": reason}).Debug("rolled back")
		return nil
	case kvstore.RetCompensated:
		w.dropTimer(id)
		if err := w.ledger.Credit(ctx, rec.UserID, rec.ChatID, rec.Amount, rec.Metadata); err != nil {
			w.toDLQ(ctx, rec, err, reason)
			rollbackCounter.WithLabelValues("refund_failed").Inc()
			return ErrRefundFailed
		}
		rollbackCounter.WithLabelValues("compensated").Inc()
		w.log.WithFields(logrus.Fields{"reservation": id, "reason": reason}).Info("compensated committed reservation")
		return nil
	case kvstore.RetCommitted:
		rollbackCounter.WithLabelValues("committed").Inc()
		return fmt.Errorf("wallet: reservation %s already committed", id)
	case kvstore.RetMissing:
		rollbackCounter.WithLabelValues("not_found").Inc()
		return ErrNotFound
	default:
		rollbackCounter.WithLabelValues("error").Inc()
		return fmt.Errorf("wallet: reservation %s in unexpected status %q", id, ret)
	}
}

// DirectRefund credits the reservation's amount back without touching the
// reservation record. It exists for the state-conflict path: the reservation
// is already committed and stays committed, only the chips travel back. A
// failed credit is dead-lettered exactly like a failed compensation.
func (w *Wallet) DirectRefund(ctx context.Context, id, reason string) error {
	rec, err := w.Reservation(ctx, id)
	if err != nil {
		return err
	}
	if err := w.ledger.Credit(ctx, rec.UserID, rec.ChatID, rec.Amount, rec.Metadata); err != nil {
		w.toDLQ(ctx, rec, err, reason)
		return ErrRefundFailed
	}
	w.log.WithFields(logrus.Fields{"reservation": id, "reason": reason}).Info("direct refund applied")
	return nil
}

// Reservation loads the durable record for id.
func (w *Wallet) Reservation(ctx context.Context, id string) (kvstore.ReservationRecord, error) {
	fields, err := w.kv.HGetAll(ctx, reservationKey(id))
	if err != nil {
		return kvstore.ReservationRecord{}, fmt.Errorf("wallet: load %s: %w", id, err)
	}
	if len(fields) == 0 {
		return kvstore.ReservationRecord{}, ErrNotFound
	}
	return kvstore.DecodeReservation(fields)
}

// DLQEntries exposes the dead-letter queue for operator tooling.
func (w *Wallet) DLQEntries(ctx context.Context, limit int64) ([]DLQEntry, error) {
	if w.dlq == nil {
		return nil, nil
	}
	return w.dlq.Entries(ctx, limit)
}

// RecoverPending rebuilds the expiry index from KV after a restart. Pending
// reservations past their deadline are rolled back immediately with reason
// "recovered"; the rest get timers re-armed relative to created_at. Returns
// the number of reservations still live.
func (w *Wallet) RecoverPending(ctx context.Context) (int, error) {
	keys, err := w.kv.Scan(ctx, params.ReservationKeyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("wallet: recovery scan: %w", err)
	}
	live := 0
	for _, key := range keys {
		id := strings.TrimPrefix(key, params.ReservationKeyPrefix)
		fields, err := w.kv.HGetAll(ctx, key)
		if err != nil || len(fields) == 0 {
			continue
		}
		rec, err := kvstore.DecodeReservation(fields)
		if err != nil {
			w.log.WithError(err).WithField("key", key).Warn("undecodable reservation skipped")
			continue
		}
		if rec.Status != kvstore.StatusPending {
			continue
		}
		deadline := time.Unix(rec.CreatedAt, 0).Add(w.cfg.ReservationTTL + w.cfg.ExpiryGrace)
		if !w.clock.Now().Before(deadline) {
			if err := w.Rollback(ctx, id, "recovered", false); err != nil && !errors.Is(err, ErrNotFound) {
				w.log.WithError(err).WithField("reservation", id).Warn("recovery rollback failed")
			}
			continue
		}
		w.armExpiry(id, deadline.Sub(w.clock.Now()))
		live++
	}
	w.log.WithFields(logrus.Fields{"scanned": len(keys), "live": live}).Info("reservation index recovered")
	return live, nil
}

// Close stops all expiry timers. Pending reservations stay in KV and are
// picked up by RecoverPending on the next start.
func (w *Wallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
}

// armExpiry schedules the single-shot expiry task for a pending reservation.
func (w *Wallet) armExpiry(id string, after time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if old, ok := w.timers[id]; ok {
		old.Stop()
	}
	w.timers[id] = w.clock.AfterFunc(after, func() { w.expire(id) })
}

func (w *Wallet) dropTimer(id string) {
	w.mu.Lock()
	if t, ok := w.timers[id]; ok {
		t.Stop()
		delete(w.timers, id)
	}
	w.mu.Unlock()
	w.idLocks.Delete(id)
}

// expire observes the status at firing time and no-ops unless the
// reservation is still pending.
func (w *Wallet) expire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rec, err := w.Reservation(ctx, id)
	if err != nil {
		w.dropTimer(id)
		return
	}
	if rec.Status != kvstore.StatusPending {
		w.dropTimer(id)
		return
	}
	w.log.WithField("reservation", id).Warn("reservation expired, rolling back")
	if err := w.Rollback(ctx, id, "timeout", false); err != nil && !errors.Is(err, ErrNotFound) {
		w.log.WithError(err).WithField("reservation", id).Error("expiry rollback failed")
	}
}

// toDLQ routes a failed refund to the dead-letter queue. Without a queue the
// event is logged at critical severity and the caller still sees the
// failure.
func (w *Wallet) toDLQ(ctx context.Context, rec kvstore.ReservationRecord, cause error, reason string) {
	entry := DLQEntry{
		ReservationID: rec.ID,
		UserID:        rec.UserID,
		ChatID:        rec.ChatID,
		Amount:        rec.Amount,
		Error:         cause.Error(),
		Reason:        reason,
		Timestamp:     w.clock.Now().Unix(),
	}
	if w.dlq == nil {
		w.log.WithFields(logrus.Fields{
			"critical": true, "reservation": rec.ID, "amount": rec.Amount, "reason": reason,
		}).WithError(cause).Error("refund failed and no DLQ configured")
		return
	}
	if err := w.dlq.Push(context.WithoutCancel(ctx), entry); err != nil {
		w.log.WithFields(logrus.Fields{
			"critical": true, "reservation": rec.ID, "amount": rec.Amount, "reason": reason,
		}).WithError(err).Error("DLQ push failed")
		return
	}
	dlqCounter.Inc()
	w.log.WithFields(logrus.Fields{
		"critical": true, "reservation": rec.ID, "amount": rec.Amount, "reason": reason,
	}).WithError(cause).Error("refund failed, reservation dead-lettered")
}

func (w *Wallet) timeOp(op string) func() {
	start := w.clock.Now()
	return func() {
		operationDuration.WithLabelValues(op).Observe(w.clock.Now().Sub(start).Seconds())
	}
}
