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
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/feltlabs/go-felt/params"
)

// ErrActionLocked is returned when the (chat, user, action) token is already
// held.
var ErrActionLocked = errors.New("lockmgr: action already in flight")

// ErrNoKV is returned by the durable-token operations when the manager was
// built without a KV store.
var ErrNoKV = errors.New("lockmgr: no kv store configured")

func actionKey(chatID, userID int64, action string) string {
	return fmt.Sprintf("%s%d:%d:%s", params.ActionLockKeyPrefix, chatID, userID, action)
}

// AcquireActionLock atomically sets the durable token for the triple with a
// TTL and returns the token needed to release it. Action tokens serialize a
// specific (chat, user, action) at the transport edge; the orchestrator is
// correct without them.
func (m *Manager) AcquireActionLock(ctx context.Context, chatID, userID int64, action string, ttl time.Duration) (string, error) {
	if m.kv == nil {
		return "", ErrNoKV
	}
	token := uuid.NewString()
	ok, err := m.kv.SetNX(ctx, actionKey(chatID, userID, action), token, ttl)
	if err != nil {
		return "", fmt.Errorf("lockmgr: action token: %w", err)
	}
	if !ok {
		return "", ErrActionLocked
	}
	return token, nil
}

// ReleaseActionLock deletes the token only if it still carries the value
// returned by AcquireActionLock, so an expired-and-reacquired token is never
// stolen.
func (m *Manager) ReleaseActionLock(ctx context.Context, chatID, userID int64, action, token string) error {
	if m.kv == nil {
		return ErrNoKV
	}
	ok, err := m.kv.CompareAndDelete(ctx, actionKey(chatID, userID, action), token)
	if err != nil {
		return fmt.Errorf("lockmgr: action token release: %w", err)
	}
	if !ok {
		m.log.WithFields(map[string]interface{}{
			"chat": chatID, "user": userID, "action": action,
		}).Debug("action token already rotated")
	}
	return nil
}

// ActionQueuePosition estimates how many actions are in flight for the chat
// by counting live tokens under its prefix.
func (m *Manager) ActionQueuePosition(ctx context.Context, chatID int64) (int, error) {
	if m.kv == nil {
		return 0, ErrNoKV
	}
	keys, err := m.kv.Scan(ctx, fmt.Sprintf("%s%d:*", params.ActionLockKeyPrefix, chatID))
	if err != nil {
		return 0, fmt.Errorf("lockmgr: action queue scan: %w", err)
	}
	return len(keys), nil
}

// AcquireActionLockWithRetry keeps trying to take the token until timeout,
// sampling the chat's queue between attempts. progress, when non-nil, fires
// once per distinct queue-position decrease — never on duplicates — so the
// transport can narrate "2 ahead of you… 1 ahead of you…" without spam.
func (m *Manager) AcquireActionLockWithRetry(ctx context.Context, chatID, userID int64, action string, ttl, timeout time.Duration, progress func(position int)) (string, error) {
	if m.kv == nil {
		return "", ErrNoKV
	}
	deadline := m.clock.Now().Add(timeout)
	lastPos := -1
	for attempt := 0; ; attempt++ {
		token, err := m.AcquireActionLock(ctx, chatID, userID, action, ttl)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrActionLocked) {
			return "", err
		}
		if pos, perr := m.ActionQueuePosition(ctx, chatID); perr == nil {
			if progress != nil && (lastPos == -1 || pos < lastPos) {
				progress(pos)
			}
			if lastPos == -1 || pos < lastPos {
				lastPos = pos
			}
		}
		remaining := deadline.Sub(m.clock.Now())
		if remaining <= 0 {
			return "", ErrTimeout
		}
		backoff := m.cfg.RetryBackoffBase << uint(attempt)
		if backoff > remaining {
			backoff = remaining
		}
		if backoff <= 0 {
			backoff = m.cfg.RetryBackoffBase
		}
		if err := m.sleep(ctx, backoff); err != nil {
			return "", err
		}
	}
}
