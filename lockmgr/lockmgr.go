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

// Package lockmgr provides keyed re-entrant mutexes with hierarchy
// enforcement, timed acquisition with retry, shared/exclusive table locks,
// smart retry against distributed contention and durable per-chat action
// tokens.
package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feltlabs/go-felt/common/mclock"
	"github.com/feltlabs/go-felt/kvstore"
	"github.com/feltlabs/go-felt/params"
)

var (
	// ErrTimeout is returned when every attempt within the acquisition
	// budget failed.
	ErrTimeout = errors.New("lockmgr: acquisition timed out")

	// ErrQueueFull aborts smart acquisition when the distributed wait queue
	// is already too deep to bother joining.
	ErrQueueFull = errors.New("lockmgr: lock queue depth exceeded")

	// ErrNoTask is returned when the context carries no lock-owning task.
	ErrNoTask = errors.New("lockmgr: context carries no task (missing WithTask)")
)

// entry is one pooled lock. It supports exclusive holds (owner/depth) and
// shared holds (readers); both are re-entrant per task.
type entry struct {
	key string

	mu          sync.Mutex
	dead        bool // removed from the pool; acquirers must re-fetch
	owner       *Task
	depth       int
	level       Level
	readers     map[*Task]int
	waiters     int
	gen         chan struct{} // closed and replaced whenever the entry frees up
	lastRelease time.Time
}

func (e *entry) freeLocked() bool {
	return e.owner == nil && len(e.readers) == 0
}

// wake releases everyone parked on the current generation.
func (e *entry) wakeLocked() {
	close(e.gen)
	e.gen = make(chan struct{})
}

// Manager is the lock service. The KV store is optional; without it the
// smart-retry and action-token paths degrade to their in-process versions.
type Manager struct {
	cfgMu sync.RWMutex
	cfg   params.LockConfig

	clock mclock.Clock
	kv    kvstore.Store
	log   *logrus.Entry

	mu      sync.Mutex
	entries map[string]*entry

	quit chan struct{}
	wg   sync.WaitGroup
}

// New builds a Manager. kv may be nil.
func New(cfg params.LockConfig, clock mclock.Clock, kv kvstore.Store) *Manager {
	if clock == nil {
		clock = mclock.System{}
	}
	return &Manager{
		cfg:     cfg,
		clock:   clock,
		kv:      kv,
		log:     logrus.WithField("component", "lockmgr"),
		entries: make(map[string]*entry),
		quit:    make(chan struct{}),
	}
}

// tuning snapshots the config for one operation. The retry fields can
// change at runtime through UpdateRetryConfig.
func (m *Manager) tuning() params.LockConfig {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// UpdateRetryConfig overrides the retry tuning at runtime, typically from
// the system_constants document. Non-positive values leave the current
// setting in place.
func (m *Manager) UpdateRetryConfig(maxAttempts int, delays []time.Duration, grace time.Duration) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	if maxAttempts > 0 {
		m.cfg.MaxRetries = maxAttempts - 1
	}
	if len(delays) > 0 {
		m.cfg.SmartBackoffDelays = delays
	}
	if grace > 0 {
		m.cfg.SmartGraceBuffer = grace
	}
	m.log.WithFields(logrus.Fields{
		"max_attempts": maxAttempts, "delays": delays, "grace": grace,
	}).Info("retry config updated")
}

// Start launches the idle-entry reaper.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.reapLoop()
}

// Stop terminates background work and waits for it.
func (m *Manager) Stop() {
	close(m.quit)
	m.wg.Wait()
}

// entryFor returns the pooled entry for key with its mutex held.
func (m *Manager) entryFor(key string) *entry {
	for {
		m.mu.Lock()
		e, ok := m.entries[key]
		if !ok {
			e = &entry{
				key:     key,
				readers: make(map[*Task]int),
				gen:     make(chan struct{}),
			}
			m.entries[key] = e
		}
		m.mu.Unlock()

		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		return e
	}
}

// Acquire takes key exclusively at the given level, retrying within timeout.
// The total budget is apportioned across the remaining attempts, with
// exponential backoff between attempts.
func (m *Manager) Acquire(ctx context.Context, key string, level Level, timeout time.Duration) error {
	task := FromContext(ctx)
	if task == nil {
		return ErrNoTask
	}
	cfg := m.tuning()
	start := m.clock.Now()
	deadline := start.Add(timeout)
	attempts := cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		remaining := deadline.Sub(m.clock.Now())
		if remaining <= 0 {
			break
		}
		slice := remaining / time.Duration(attempts-attempt)
		err = m.acquireOnce(ctx, task, key, level, false, slice)
		if err == nil {
			lockWaitDuration.Observe(m.clock.Now().Sub(start).Seconds())
			return nil
		}
		var order *LockOrderError
		if errors.As(err, &order) || ctx.Err() != nil {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		backoff := cfg.RetryBackoffBase << attempt
		if rem := deadline.Sub(m.clock.Now()); backoff > rem {
			backoff = rem
		}
		if backoff > 0 {
			if err := m.sleep(ctx, backoff); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: %s", ErrTimeout, key)
}

// AcquireRead takes key in shared mode. Concurrent readers from different
// tasks are permitted; a writer excludes them all.
func (m *Manager) AcquireRead(ctx context.Context, key string, level Level, timeout time.Duration) error {
	task := FromContext(ctx)
	if task == nil {
		return ErrNoTask
	}
	start := m.clock.Now()
	if err := m.acquireOnce(ctx, task, key, level, true, timeout); err != nil {
		return err
	}
	lockWaitDuration.Observe(m.clock.Now().Sub(start).Seconds())
	return nil
}

// acquireOnce is a single timed attempt. On the fast path the underlying
// mutex is taken before the hierarchy is consulted; a validation failure
// releases it again before any caller code can run.
func (m *Manager) acquireOnce(ctx context.Context, task *Task, key string, level Level, shared bool, wait time.Duration) error {
	deadline := m.clock.Now().Add(wait)
	for {
		e := m.entryFor(key)

		// Re-entrant holds never block.
		if shared && e.readers[task] > 0 {
			if err := task.validate(key, level); err != nil {
				e.mu.Unlock()
				return err
			}
			e.readers[task]++
			task.push(key, level)
			e.mu.Unlock()
			return nil
		}
		if !shared && e.owner == task {
			if err := task.validate(key, level); err != nil {
				e.mu.Unlock()
				return err
			}
			e.depth++
			task.push(key, level)
			e.mu.Unlock()
			return nil
		}

		acquirable := false
		if shared {
			acquirable = e.owner == nil
		} else {
			acquirable = e.freeLocked()
		}
		if acquirable {
			if shared {
				e.readers[task] = 1
			} else {
				e.owner = task
				e.depth = 1
				e.level = level
			}
			e.mu.Unlock()
			// Deferred hierarchy validation: mutex already held, released
			// immediately if the stack says no.
			if err := task.validate(key, level); err != nil {
				e.mu.Lock()
				if shared {
					delete(e.readers, task)
				} else {
					e.owner = nil
					e.depth = 0
				}
				if e.freeLocked() {
					e.lastRelease = m.clock.Now()
					e.wakeLocked()
				}
				e.mu.Unlock()
				return err
			}
			task.push(key, level)
			return nil
		}

		// Contended: park on the current generation.
		remaining := deadline.Sub(m.clock.Now())
		if remaining <= 0 {
			e.mu.Unlock()
			return ErrTimeout
		}
		ch := e.gen
		e.waiters++
		e.mu.Unlock()

		var err error
		select {
		case <-ch:
		case <-m.clock.After(remaining):
			err = ErrTimeout
		case <-ctx.Done():
			err = ctx.Err()
		}
		e.mu.Lock()
		e.waiters--
		e.mu.Unlock()
		if err != nil {
			return err
		}
	}
}

// Release undoes one acquisition of key by the calling task. Releasing a
// lock the task does not own is logged and tolerated (callbacks scheduled
// outside the owning task do release locks); depth accounting never goes
// below zero.
func (m *Manager) Release(ctx context.Context, key string) {
	task := FromContext(ctx)

	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		m.log.WithField("key", key).Warn("release of unknown lock")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case task != nil && e.readers[task] > 0:
		e.readers[task]--
		if e.readers[task] == 0 {
			delete(e.readers, task)
		}
		task.pop(key)
	case task != nil && e.owner == task:
		e.depth--
		task.pop(key)
		if e.depth == 0 {
			e.owner = nil
		}
	default:
		owner := "none"
		if e.owner != nil {
			owner = e.owner.id
		}
		m.log.WithFields(logrus.Fields{"key": key, "owner": owner}).
			Warn("lock released by non-owner")
		if e.owner != nil && e.depth > 0 {
			e.depth--
			e.owner.pop(key)
			if e.depth == 0 {
				e.owner = nil
			}
		}
	}
	if e.freeLocked() {
		e.lastRelease = m.clock.Now()
		e.wakeLocked()
	}
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-m.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Table lock helpers.

// TableKey is the pool key of the chat's table lock.
func TableKey(chatID int64) string { return fmt.Sprintf("table:%d", chatID) }

// TableReadLock takes the chat's table lock in shared mode at level 1.
func (m *Manager) TableReadLock(ctx context.Context, chatID int64, timeout time.Duration) error {
	return m.AcquireRead(ctx, TableKey(chatID), LevelTableRead, timeout)
}

// TableWriteLock takes the chat's table lock exclusively at level 2.
func (m *Manager) TableWriteLock(ctx context.Context, chatID int64, timeout time.Duration) error {
	return m.Acquire(ctx, TableKey(chatID), LevelTableWrite, timeout)
}

// TableUnlock releases one hold of the chat's table lock.
func (m *Manager) TableUnlock(ctx context.Context, chatID int64) {
	m.Release(ctx, TableKey(chatID))
}

// reapLoop sweeps idle pool entries. Held or waited-on entries are never
// removed; removal batches are bounded but every batch runs within one
// sweep.
func (m *Manager) reapLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.quit:
			return
		case <-m.clock.After(m.cfg.ReapInterval):
		}
		m.reapIdle()
	}
}

func (m *Manager) reapIdle() {
	cutoff := m.clock.Now().Add(-m.cfg.IdleReapAfter)
	batch := m.cfg.ReapBatch
	if batch <= 0 {
		batch = 100
	}

	for {
		removed := 0
		m.mu.Lock()
		for key, e := range m.entries {
			if removed >= batch {
				break
			}
			e.mu.Lock()
			idle := e.freeLocked() && e.waiters == 0 && !e.lastRelease.IsZero() && e.lastRelease.Before(cutoff)
			if idle {
				e.dead = true
				delete(m.entries, key)
				removed++
			}
			e.mu.Unlock()
		}
		m.mu.Unlock()
		if removed > 0 {
			m.log.WithField("count", removed).Debug("reaped idle lock entries")
		}
		if removed < batch {
			return
		}
	}
}

// PoolSize reports the number of pooled entries, for tests and diagnostics.
func (m *Manager) PoolSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
