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

// Package health watches per-chat action and lock outcomes in sliding
// windows and automatically walks the rollout percentage back down when a
// chat stays unhealthy for several consecutive windows.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feltlabs/go-felt/common/mclock"
	"github.com/feltlabs/go-felt/params"
	"github.com/feltlabs/go-felt/rollout"
)

// window accumulates one chat's samples for the current period.
type window struct {
	start time.Time

	actions     int64
	failures    int64
	actionTime  time.Duration
	lockSamples int64
	lockErrors  int64
	lockWait    time.Duration
	lockHold    time.Duration
}

// Totals is the process-lifetime aggregate served by the endpoint.
type Totals struct {
	Actions    int64
	Failures   int64
	LockOps    int64
	LockErrors int64
}

// Monitor is the per-chat health evaluator.
type Monitor struct {
	cfg   params.HealthConfig
	clock mclock.Clock
	gate  *rollout.Gate
	log   *logrus.Entry

	mu        sync.Mutex
	chats     map[int64]*window
	unhealthy map[int64]int
	totals    Totals

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewMonitor builds a monitor wired to the rollout gate it may roll back.
func NewMonitor(cfg params.HealthConfig, clock mclock.Clock, gate *rollout.Gate) *Monitor {
	if clock == nil {
		clock = mclock.System{}
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = 3
	}
	return &Monitor{
		cfg:       cfg,
		clock:     clock,
		gate:      gate,
		log:       logrus.WithField("component", "health"),
		chats:     make(map[int64]*window),
		unhealthy: make(map[int64]int),
		quit:      make(chan struct{}),
	}
}

func (m *Monitor) windowFor(chatID int64) *window {
	w, ok := m.chats[chatID]
	if !ok {
		w = &window{start: m.clock.Now()}
		m.chats[chatID] = w
	}
	return w
}

// RecordAction samples one completed betting action.
func (m *Monitor) RecordAction(chatID int64, d time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.windowFor(chatID)
	w.actions++
	w.actionTime += d
	m.totals.Actions++
	if !success {
		w.failures++
		m.totals.Failures++
	}
}

// RecordLockWait samples a successful lock acquisition's wait time.
func (m *Monitor) RecordLockWait(chatID int64, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.windowFor(chatID)
	w.lockSamples++
	w.lockWait += d
	m.totals.LockOps++
}

// RecordLockHold samples how long a lock was held.
func (m *Monitor) RecordLockHold(chatID int64, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windowFor(chatID).lockHold += d
}

// RecordLockError samples a failed lock acquisition.
func (m *Monitor) RecordLockError(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.windowFor(chatID)
	w.lockSamples++
	w.lockErrors++
	m.totals.LockOps++
	m.totals.LockErrors++
}

// healthy applies the window thresholds. Empty windows are healthy.
func (m *Monitor) healthy(w *window) bool {
	if w.actions > 0 {
		if float64(w.failures)/float64(w.actions) > m.cfg.MaxErrorRate {
			return false
		}
		if time.Duration(int64(w.actionTime)/w.actions) > m.cfg.MaxMeanActionTime {
			return false
		}
	}
	if w.lockSamples > 0 {
		if float64(w.lockErrors)/float64(w.lockSamples) > m.cfg.MaxLockErrorRate {
			return false
		}
	}
	return true
}

// IsHealthy evaluates the chat's current window without consuming it.
func (m *Monitor) IsHealthy(chatID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.chats[chatID]
	if !ok {
		return true
	}
	return m.healthy(w)
}

// Start launches the background evaluation loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.quit:
				return
			case <-m.clock.After(m.cfg.Window):
			}
			m.Evaluate(context.Background())
		}
	}()
}

// Stop terminates the loop and waits for it.
func (m *Monitor) Stop() {
	close(m.quit)
	m.wg.Wait()
}

// Evaluate closes out every full window. A healthy window resets the chat's
// consecutive-unhealthy counter; an unhealthy one increments it, and
// reaching the threshold triggers the rollout rollback.
func (m *Monitor) Evaluate(ctx context.Context) {
	now := m.clock.Now()

	m.mu.Lock()
	var rollbackChats []int64
	for chatID, w := range m.chats {
		if now.Sub(w.start) < m.cfg.Window {
			continue
		}
		if m.healthy(w) {
			m.unhealthy[chatID] = 0
		} else {
			m.unhealthy[chatID]++
			m.log.WithFields(logrus.Fields{
				"chat": chatID, "consecutive": m.unhealthy[chatID],
				"actions": w.actions, "failures": w.failures,
				"lock_errors": w.lockErrors,
			}).Warn("unhealthy window")
			if m.unhealthy[chatID] >= m.cfg.UnhealthyThreshold {
				rollbackChats = append(rollbackChats, chatID)
				m.unhealthy[chatID] = 0
			}
		}
		m.chats[chatID] = &window{start: now}
	}
	m.mu.Unlock()

	for _, chatID := range rollbackChats {
		m.rollback(ctx, chatID)
	}
}

// rollback halves the rollout percentage, persists it and reloads the gate.
func (m *Monitor) rollback(ctx context.Context, chatID int64) {
	if m.gate == nil {
		return
	}
	cur := m.gate.Percentage()
	next := cur / 2
	if next < 0 {
		next = 0
	}
	if err := m.gate.SetPercentage(ctx, next); err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{
			"critical": true, "chat": chatID,
		}).Error("rollout rollback failed to persist")
		return
	}
	m.log.WithFields(logrus.Fields{
		"critical": true, "chat": chatID, "from": cur, "to": next,
	}).Error("unhealthy chat triggered rollout rollback")
}

// TotalsSnapshot returns the process-lifetime aggregate.
func (m *Monitor) TotalsSnapshot() Totals {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals
}
