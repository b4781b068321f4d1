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

// Package ledger holds the chip balance repository. Only the wallet mutates
// balances; debits and credits are serialized per (user, chat) row and the
// row invariant chips >= 0 holds across any interleaving.
package ledger

import (
	"context"
	"errors"
)

// ErrInsufficientFunds is returned by Debit when the row would go negative.
var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

// ErrNoRow is returned when the (user, chat) row does not exist.
var ErrNoRow = errors.New("ledger: no balance row")

// Repository is the balance store contract consumed by the wallet.
type Repository interface {
	// GetBalance returns the chips held by user in chat. A missing row reads
	// as zero.
	GetBalance(ctx context.Context, userID, chatID int64) (int64, error)

	// Debit removes amount chips under a row-level lock. Returns
	// ErrInsufficientFunds without mutating when the balance is short.
	Debit(ctx context.Context, userID, chatID, amount int64, metadata map[string]string) error

	// Credit adds amount chips under a row-level lock, creating the row if
	// needed.
	Credit(ctx context.Context, userID, chatID, amount int64, metadata map[string]string) error
}
