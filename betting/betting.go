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

// Package betting composes the wallet, the lock service and the state store
// into the one write path of the system. Handle never returns an error: every
// outcome, including internal failures, is a Result, and money moved by a
// failed action is always returned through one of the two compensation
// paths.
package betting

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feltlabs/go-felt/common/mclock"
	"github.com/feltlabs/go-felt/gamestate"
	"github.com/feltlabs/go-felt/health"
	"github.com/feltlabs/go-felt/lockmgr"
	"github.com/feltlabs/go-felt/rollout"
	"github.com/feltlabs/go-felt/wallet"
)

// Result is the uniform outcome of a betting action.
type Result struct {
	Success       bool             `json:"success"`
	Message       string           `json:"message"`
	NewState      *gamestate.State `json:"new_state,omitempty"`
	ReservationID string           `json:"reservation_id,omitempty"`
}

func failure(msg string) Result { return Result{Message: msg} }

// Orchestrator drives one betting action through its phases.
type Orchestrator struct {
	wallet  *wallet.Wallet
	locks   *lockmgr.Manager
	states  *gamestate.Store
	gate    *rollout.Gate
	monitor *health.Monitor
	clock   mclock.Clock
	log     *logrus.Entry

	writeTimeout time.Duration
}

// NewOrchestrator wires the composer. gate and monitor may be nil; without a
// gate every chat uses the plain acquisition path.
func NewOrchestrator(w *wallet.Wallet, locks *lockmgr.Manager, states *gamestate.Store,
	gate *rollout.Gate, monitor *health.Monitor, clock mclock.Clock, writeTimeout time.Duration) *Orchestrator {
	if clock == nil {
		clock = mclock.System{}
	}
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	return &Orchestrator{
		wallet:       w,
		locks:        locks,
		states:       states,
		gate:         gate,
		monitor:      monitor,
		clock:        clock,
		log:          logrus.WithField("component", "betting"),
		writeTimeout: writeTimeout,
	}
}

// Handle runs one betting action to completion. amount is only consulted for
// raises.
func (o *Orchestrator) Handle(ctx context.Context, userID, chatID int64, action Action, amount *int64) Result {
	start := o.clock.Now()
	res := o.handle(ctx, userID, chatID, action, amount)
	elapsed := o.clock.Now().Sub(start)

	actionDuration.WithLabelValues(string(action)).Observe(elapsed.Seconds())
	status := "failure"
	if res.Success {
		status = "success"
	}
	actionsTotal.WithLabelValues(string(action), status).Inc()
	if o.monitor != nil {
		o.monitor.RecordAction(chatID, elapsed, res.Success)
	}
	return res
}

func (o *Orchestrator) handle(ctx context.Context, userID, chatID int64, action Action, amount *int64) Result {
	log := o.log.WithFields(logrus.Fields{"chat": chatID, "user": userID, "action": action})

	// Phase 1: validate against a lock-free snapshot.
	st, err := o.states.Load(ctx, chatID)
	if err != nil {
		log.WithError(err).Error("state load failed")
		return failure("Internal error")
	}
	if st == nil {
		return failure("No active game")
	}
	player := st.Player(userID)
	if player == nil {
		return failure("You are not in this game")
	}
	if player.Folded {
		return failure("You have already folded")
	}
	required, reject := requiredAmount(st, player, action, amount)
	if reject != "" {
		return failure(reject)
	}

	// Phase 2: reserve the chips before touching the table.
	var reservationID string
	if required > 0 {
		reservationID, err = o.wallet.Reserve(ctx, userID, chatID, required, map[string]string{
			"action": string(action),
		})
		if err != nil {
			return failure(err.Error())
		}
	}

	// Phase 3: table write lock.
	ctx = lockmgr.WithTask(ctx)
	key := lockmgr.TableKey(chatID)
	lockStart := o.clock.Now()
	if o.gate != nil && o.gate.IsEnabledForChat(chatID) {
		err = o.locks.AcquireSmart(ctx, key, lockmgr.LevelTableWrite, o.writeTimeout, "table_write")
	} else {
		err = o.locks.TableWriteLock(ctx, chatID, o.writeTimeout)
	}
	if err != nil {
		if o.monitor != nil {
			o.monitor.RecordLockError(chatID)
		}
		log.WithError(err).Warn("table lock acquisition failed")
		o.rollback(ctx, reservationID, "lock_timeout")
		return failure("Table is busy - try again")
	}
	if o.monitor != nil {
		o.monitor.RecordLockWait(chatID, o.clock.Now().Sub(lockStart))
	}
	holdStart := o.clock.Now()
	defer func() {
		o.locks.Release(ctx, key)
		if o.monitor != nil {
			o.monitor.RecordLockHold(chatID, o.clock.Now().Sub(holdStart))
		}
	}()

	// Phase 4: re-read under the lock.
	st, version, err := o.states.LoadWithVersion(ctx, chatID)
	if err != nil {
		log.WithError(err).Error("state reload failed")
		o.rollback(ctx, reservationID, "load_failed")
		return failure("Internal error")
	}
	if st == nil {
		o.rollback(ctx, reservationID, "game_not_found")
		return failure("Game no longer exists")
	}
	if st.CurrentPlayerID != nil && *st.CurrentPlayerID != userID {
		o.rollback(ctx, reservationID, "not_players_turn")
		return failure("Not your turn")
	}
	if st.Player(userID) == nil {
		o.rollback(ctx, reservationID, "player_left")
		return failure("You are not in this game")
	}

	// Phase 5: commit the reservation. From here on a failed action refunds
	// by direct credit, never by reservation rollback.
	if reservationID != "" {
		if err := o.wallet.Commit(ctx, reservationID); err != nil {
			log.WithError(err).Warn("reservation commit failed")
			return failure(err.Error())
		}
	}

	// Phase 6: pure transition on the reloaded snapshot.
	next, err := Apply(st, userID, action, required)
	if err != nil {
		log.WithError(err).Error("transition failed after commit")
		o.directRefund(ctx, reservationID)
		return failure("State conflict - action cancelled, funds returned")
	}

	// Phase 7: CAS save with the version read in phase 4.
	ok, err := o.states.SaveWithVersion(ctx, chatID, next, version)
	if err != nil {
		log.WithError(err).Error("state save failed after commit")
		o.directRefund(ctx, reservationID)
		return failure("State conflict - action cancelled, funds returned")
	}
	if !ok {
		stateConflicts.Inc()
		o.directRefund(ctx, reservationID)
		return failure("State conflict - action cancelled, funds returned")
	}

	// Phase 8: done.
	return Result{
		Success:       true,
		Message:       "Action applied",
		NewState:      next,
		ReservationID: reservationID,
	}
}

// rollback unwinds a pre-commit reservation. Best effort: auto-expiry is the
// backstop if the KV store is unreachable right now.
func (o *Orchestrator) rollback(ctx context.Context, reservationID, reason string) {
	if reservationID == "" {
		return
	}
	if err := o.wallet.Rollback(context.WithoutCancel(ctx), reservationID, reason, false); err != nil {
		o.log.WithError(err).WithFields(logrus.Fields{
			"reservation": reservationID, "reason": reason,
		}).Error("reservation rollback failed")
	}
}

// directRefund compensates a committed reservation whose state change was
// lost. The wallet routes a failed credit to the DLQ.
func (o *Orchestrator) directRefund(ctx context.Context, reservationID string) {
	if reservationID == "" {
		return
	}
	if err := o.wallet.DirectRefund(context.WithoutCancel(ctx), reservationID, "state_conflict"); err != nil {
		o.log.WithError(err).WithFields(logrus.Fields{
			"critical": true, "reservation": reservationID,
		}).Error("direct refund failed")
	}
}
