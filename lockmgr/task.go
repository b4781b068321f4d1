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
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Level classifies every acquisition. A task may only acquire locks whose
// level is greater than or equal to the deepest level it already holds;
// ascending acquisitions may skip levels.
type Level int

// Canonical hierarchy. Deck and betting share a level on purpose: they are
// acquired together inside the same critical section.
const (
	LevelTableRead  Level = 1
	LevelTableWrite Level = 2
	LevelPlayer     Level = 3
	LevelPot        Level = 4
	LevelDeck       Level = 5
	LevelBetting    Level = 5
	LevelWallet     Level = 6
	LevelChat       Level = 7
)

func (l Level) String() string {
	switch l {
	case LevelTableRead:
		return "table_read"
	case LevelTableWrite:
		return "table_write"
	case LevelPlayer:
		return "player"
	case LevelPot:
		return "pot"
	case LevelDeck: // == LevelBetting
		return "deck/betting"
	case LevelWallet:
		return "wallet"
	case LevelChat:
		return "chat"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// LockOrderError reports an acquisition that would descend the hierarchy.
// Nothing is held when it is returned.
type LockOrderError struct {
	Key     string
	Level   Level
	Deepest Level
}

func (e *LockOrderError) Error() string {
	return fmt.Sprintf("lockmgr: %s at level %s below held level %s", e.Key, e.Level, e.Deepest)
}

// Task is the lock-owning identity. One task is created per logical
// operation (not per goroutine) and carried through context; its held-level
// stack is what the hierarchy check consults.
type Task struct {
	id string

	mu   sync.Mutex
	held []heldRef // acquisition order; levels are non-decreasing
}

type heldRef struct {
	key   string
	level Level
}

// ID returns the task's debug identity.
func (t *Task) ID() string { return t.id }

// validate checks that taking level now would keep the held stack
// non-decreasing. It does not mutate.
func (t *Task) validate(key string, level Level) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.held); n > 0 && level < t.held[n-1].level {
		return &LockOrderError{Key: key, Level: level, Deepest: t.held[n-1].level}
	}
	return nil
}

// push records an acquisition after validation has passed.
func (t *Task) push(key string, level Level) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.held = append(t.held, heldRef{key: key, level: level})
}

// pop removes the most recent acquisition of key. Returns false if the task
// does not hold it.
func (t *Task) pop(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.held) - 1; i >= 0; i-- {
		if t.held[i].key == key {
			t.held = append(t.held[:i], t.held[i+1:]...)
			return true
		}
	}
	return false
}

// HeldLevels returns a snapshot of the held-level stack, for tests and
// diagnostics.
func (t *Task) HeldLevels() []Level {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Level, len(t.held))
	for i, h := range t.held {
		out[i] = h.level
	}
	return out
}

type taskKey struct{}

// WithTask attaches a fresh lock-owning task to ctx unless one is already
// present.
func WithTask(ctx context.Context) context.Context {
	if FromContext(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, taskKey{}, &Task{id: uuid.NewString()})
}

// FromContext returns the task carried by ctx, or nil.
func FromContext(ctx context.Context) *Task {
	t, _ := ctx.Value(taskKey{}).(*Task)
	return t
}
