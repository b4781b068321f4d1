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

package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetCap(t *testing.T) {
	tr := NewTracker(10)

	for i := 0; i < 10; i++ {
		require.True(t, tr.TryConsume(1, 1, CategoryTurn), "slot %d", i)
	}
	assert.False(t, tr.TryConsume(1, 1, CategoryTurn))
	assert.False(t, tr.TryConsume(1, 1, CategoryStage), "the cap is on the total, not per category")

	_, total := tr.Usage(1, 1)
	assert.Equal(t, 10, total)

	// Other rounds and chats are independent.
	assert.True(t, tr.TryConsume(1, 2, CategoryTurn))
	assert.True(t, tr.TryConsume(2, 1, CategoryTurn))
}

func TestReleaseFloorsAtZero(t *testing.T) {
	tr := NewTracker(10)

	require.True(t, tr.TryConsume(1, 1, CategoryInline))
	tr.Release(1, 1, CategoryInline)
	tr.Release(1, 1, CategoryInline) // over-release must not go negative
	tr.Release(1, 1, CategoryTurn)   // nor may a never-consumed category

	counts, total := tr.Usage(1, 1)
	assert.Zero(t, total)
	assert.Zero(t, counts[CategoryInline])

	// A released slot is available again at the cap.
	for i := 0; i < 10; i++ {
		require.True(t, tr.TryConsume(1, 1, CategoryCountdown))
	}
	assert.False(t, tr.TryConsume(1, 1, CategoryCountdown))
	tr.Release(1, 1, CategoryCountdown)
	assert.True(t, tr.TryConsume(1, 1, CategoryCountdown))
}

func TestUsageBreakdown(t *testing.T) {
	tr := NewTracker(10)
	tr.TryConsume(1, 1, CategoryTurn)
	tr.TryConsume(1, 1, CategoryTurn)
	tr.TryConsume(1, 1, CategoryStage)

	counts, total := tr.Usage(1, 1)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, counts[CategoryTurn])
	assert.Equal(t, 1, counts[CategoryStage])

	counts, total = tr.Usage(9, 9)
	assert.Empty(t, counts)
	assert.Zero(t, total)
}

func TestReset(t *testing.T) {
	tr := NewTracker(2)
	tr.TryConsume(1, 1, CategoryTurn)
	tr.TryConsume(1, 1, CategoryTurn)
	assert.False(t, tr.TryConsume(1, 1, CategoryTurn))

	tr.Reset(1, 1)
	assert.True(t, tr.TryConsume(1, 1, CategoryTurn))

	tr.TryConsume(1, 2, CategoryTurn)
	tr.TryConsume(2, 1, CategoryTurn)
	tr.ResetChat(1)
	_, total := tr.Usage(1, 2)
	assert.Zero(t, total, "chat reset drops every round of the chat")
	_, total = tr.Usage(2, 1)
	assert.Equal(t, 1, total, "other chats are untouched")
}

func TestDefaultLimit(t *testing.T) {
	tr := NewTracker(0)
	assert.Equal(t, 10, tr.Limit())
	assert.Equal(t, 8, tr.threshold, "threshold is ceil(limit*0.75)")
}
