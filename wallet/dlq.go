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

package wallet

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/feltlabs/go-felt/kvstore"
)

// DLQEntry records a reservation whose refund failed and needs manual
// resolution. The reservation id inside is part of the operational contract:
// support tooling greps for it.
type DLQEntry struct {
	EntryID       string `json:"entry_id"`
	ReservationID string `json:"reservation_id"`
	UserID        int64  `json:"user_id"`
	ChatID        int64  `json:"chat_id"`
	Amount        int64  `json:"amount"`
	Error         string `json:"error"`
	Reason        string `json:"reason"`
	Timestamp     int64  `json:"timestamp"`
}

// DLQ is the dead-letter sink. Pushes are best effort: a failed push is
// logged at critical severity by the wallet, never retried inline.
type DLQ interface {
	Push(ctx context.Context, e DLQEntry) error
	Entries(ctx context.Context, limit int64) ([]DLQEntry, error)
}

// KVDLQ appends entries onto a KV list.
type KVDLQ struct {
	kv  kvstore.Store
	key string
}

// NewKVDLQ builds the default list-backed queue.
func NewKVDLQ(kv kvstore.Store, key string) *KVDLQ {
	return &KVDLQ{kv: kv, key: key}
}

// Push implements DLQ.
func (q *KVDLQ) Push(ctx context.Context, e DLQEntry) error {
	if e.EntryID == "" {
		e.EntryID = uuid.NewString()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("wallet: dlq encode: %w", err)
	}
	if err := q.kv.LPush(ctx, q.key, string(b)); err != nil {
		return fmt.Errorf("wallet: dlq push: %w", err)
	}
	return nil
}

// Entries implements DLQ, newest first. limit <= 0 reads the whole list.
func (q *KVDLQ) Entries(ctx context.Context, limit int64) ([]DLQEntry, error) {
	stop := limit - 1
	if limit <= 0 {
		stop = -1
	}
	raw, err := q.kv.LRange(ctx, q.key, 0, stop)
	if err != nil {
		return nil, fmt.Errorf("wallet: dlq read: %w", err)
	}
	out := make([]DLQEntry, 0, len(raw))
	for _, r := range raw {
		var e DLQEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("wallet: dlq decode: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
