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
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

// SQL implements Repository over a relational store. Debit and credit run in
// a transaction that takes the row lock with SELECT ... FOR UPDATE, which is
// what serializes concurrent movements on one (user, chat) row.
type SQL struct {
	db  *sql.DB
	log *logrus.Entry
}

// OpenSQL opens a mysql DSN and verifies connectivity.
func OpenSQL(ctx context.Context, dsn string) (*SQL, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	return NewSQL(db), nil
}

// NewSQL wraps an existing handle (tests pass a prepared pool).
func NewSQL(db *sql.DB) *SQL {
	return &SQL{db: db, log: logrus.WithField("component", "ledger")}
}

// Close releases the connection pool.
func (s *SQL) Close() error {
	return s.db.Close()
}

// GetBalance implements Repository.
func (s *SQL) GetBalance(ctx context.Context, userID, chatID int64) (int64, error) {
	var chips int64
	err := s.db.QueryRowContext(ctx,
		`SELECT chips FROM ledger WHERE user_id = ? AND chat_id = ?`,
		userID, chatID,
	).Scan(&chips)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: get balance (%d,%d): %w", userID, chatID, err)
	}
	return chips, nil
}

// Debit implements Repository.
func (s *SQL) Debit(ctx context.Context, userID, chatID, amount int64, metadata map[string]string) error {
	return s.withRowLock(ctx, userID, chatID, func(tx *sql.Tx, chips int64, exists bool) error {
		if !exists || chips < amount {
			return ErrInsufficientFunds
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE ledger SET chips = chips - ? WHERE user_id = ? AND chat_id = ?`,
			amount, userID, chatID)
		return err
	})
}

// Credit implements Repository.
func (s *SQL) Credit(ctx context.Context, userID, chatID, amount int64, metadata map[string]string) error {
	return s.withRowLock(ctx, userID, chatID, func(tx *sql.Tx, chips int64, exists bool) error {
		if !exists {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO ledger (user_id, chat_id, chips) VALUES (?, ?, ?)`,
				userID, chatID, amount)
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE ledger SET chips = chips + ? WHERE user_id = ? AND chat_id = ?`,
			amount, userID, chatID)
		return err
	})
}

// withRowLock runs fn inside a transaction holding the (user, chat) row lock.
func (s *SQL) withRowLock(ctx context.Context, userID, chatID int64, fn func(tx *sql.Tx, chips int64, exists bool) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback()

	var (
		chips  int64
		exists = true
	)
	err = tx.QueryRowContext(ctx,
		`SELECT chips FROM ledger WHERE user_id = ? AND chat_id = ? FOR UPDATE`,
		userID, chatID,
	).Scan(&chips)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return fmt.Errorf("ledger: lock row (%d,%d): %w", userID, chatID, err)
	}

	if err := fn(tx, chips, exists); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return err
		}
		return fmt.Errorf("ledger: mutate (%d,%d): %w", userID, chatID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit (%d,%d): %w", userID, chatID, err)
	}
	return nil
}
