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
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/feltlabs/go-felt/params"
)

// AcquireSmart is the fine-grained acquisition path used under distributed
// contention. Beyond the plain timed acquire it samples the KV wait queue and
// refuses to join one deeper than the configured limit, registers itself as a
// waiter for the duration, and follows the configured backoff schedule with
// jitter. The total wait never exceeds timeout plus the grace buffer.
//
// lockType labels the retry metrics (e.g. "table_write").
func (m *Manager) AcquireSmart(ctx context.Context, key string, level Level, timeout time.Duration, lockType string) error {
	if FromContext(ctx) == nil {
		return ErrNoTask
	}
	if m.kv == nil {
		return m.Acquire(ctx, key, level, timeout)
	}

	cfg := m.tuning()
	queueKey := params.LockQueueKeyPrefix + key
	depth, err := m.kv.LLen(ctx, queueKey)
	if err != nil {
		m.log.WithError(err).WithField("key", key).Warn("queue depth probe failed")
	} else {
		lockQueueDepth.Observe(float64(depth))
		if depth > cfg.QueueDepthLimit {
			return ErrQueueFull
		}
	}

	waiterID := uuid.NewString()
	if err := m.kv.LPush(ctx, queueKey, waiterID); err != nil {
		m.log.WithError(err).WithField("key", key).Warn("waiter enqueue failed")
	} else {
		defer func() {
			// Best effort; the queue is advisory and entries age out with
			// the lock's TTL.
			if err := m.kv.LRem(context.WithoutCancel(ctx), queueKey, waiterID); err != nil {
				m.log.WithError(err).WithField("key", key).Warn("waiter dequeue failed")
			}
		}()
	}

	task := FromContext(ctx)
	deadline := m.clock.Now().Add(timeout + cfg.SmartGraceBuffer)
	attempts := cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		lockRetryAttempts.WithLabelValues(lockType, strconv.Itoa(attempt)).Inc()

		remaining := deadline.Sub(m.clock.Now())
		if remaining <= 0 {
			break
		}
		slice := remaining / time.Duration(attempts-attempt)
		err := m.acquireOnce(ctx, task, key, level, false, slice)
		if err == nil {
			lockAcquisitionSuccess.WithLabelValues(lockType, strconv.Itoa(attempt)).Inc()
			if attempt > 0 {
				lockRetrySuccess.WithLabelValues(lockType).Inc()
			}
			return nil
		}
		var order *LockOrderError
		if errors.As(err, &order) || ctx.Err() != nil {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		if err := m.sleep(ctx, m.smartBackoff(cfg, attempt, deadline)); err != nil {
			return err
		}
	}
	return ErrTimeout
}

// smartBackoff picks the schedule entry for attempt, adds up to 20% jitter
// and caps at the remaining deadline.
func (m *Manager) smartBackoff(cfg params.LockConfig, attempt int, deadline time.Time) time.Duration {
	delays := cfg.SmartBackoffDelays
	if len(delays) == 0 {
		delays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	}
	idx := attempt
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	d := delays[idx]
	d += time.Duration(rand.Int63n(int64(d)/5 + 1))
	if rem := deadline.Sub(m.clock.Now()); d > rem {
		d = rem
	}
	if d < 0 {
		d = 0
	}
	return d
}
