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

package ledger

import (
	"context"
	"sync"
)

type rowKey struct {
	userID int64
	chatID int64
}

// Memory implements Repository in-process with a single mutex standing in
// for row locks. Used by tests and single-node development.
type Memory struct {
	mu   sync.Mutex
	rows map[rowKey]int64

	// FailCredits makes every Credit return the supplied error, for
	// exercising the refund-failure paths.
	failCredit error
}

// NewMemory returns an empty in-process ledger.
func NewMemory() *Memory {
	return &Memory{rows: make(map[rowKey]int64)}
}

// SetBalance seeds a row, bypassing the wallet. Test helper.
func (m *Memory) SetBalance(userID, chatID, chips int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[rowKey{userID, chatID}] = chips
}

// FailCredits makes subsequent credits fail with err (nil restores normal
// operation). Test helper for DLQ paths.
func (m *Memory) FailCredits(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCredit = err
}

// GetBalance implements Repository.
func (m *Memory) GetBalance(_ context.Context, userID, chatID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[rowKey{userID, chatID}], nil
}

// Debit implements Repository.
func (m *Memory) Debit(_ context.Context, userID, chatID, amount int64, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rowKey{userID, chatID}
	if m.rows[key] < amount {
		return ErrInsufficientFunds
	}
	m.rows[key] -= amount
	return nil
}

// Credit implements Repository.
func (m *Memory) Credit(_ context.Context, userID, chatID, amount int64, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCredit != nil {
		return m.failCredit
	}
	m.rows[rowKey{userID, chatID}] += amount
	return nil
}
