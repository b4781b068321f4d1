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

package kvstore

import (
	"encoding/json"
	"fmt"
	"strconv"
)

func encodeMetadata(md map[string]string) string {
	if len(md) == 0 {
		return "{}"
	}
	b, err := json.Marshal(md)
	if err != nil {
		// map[string]string cannot fail to marshal
		return "{}"
	}
	return string(b)
}

// DecodeReservation rebuilds a ReservationRecord from the hash fields stored
// under a reservation key. An empty map means the key was absent.
func DecodeReservation(fields map[string]string) (ReservationRecord, error) {
	var rec ReservationRecord
	if len(fields) == 0 {
		return rec, fmt.Errorf("kvstore: empty reservation hash")
	}
	rec.ID = fields["id"]
	rec.Status = fields["status"]
	rec.Reason = fields["reason"]

	var err error
	if rec.UserID, err = strconv.ParseInt(fields["user_id"], 10, 64); err != nil {
		return rec, fmt.Errorf("kvstore: reservation user_id %q: %w", fields["user_id"], err)
	}
	if rec.ChatID, err = strconv.ParseInt(fields["chat_id"], 10, 64); err != nil {
		return rec, fmt.Errorf("kvstore: reservation chat_id %q: %w", fields["chat_id"], err)
	}
	if rec.Amount, err = strconv.ParseInt(fields["amount"], 10, 64); err != nil {
		return rec, fmt.Errorf("kvstore: reservation amount %q: %w", fields["amount"], err)
	}
	if rec.CreatedAt, err = strconv.ParseInt(fields["created_at"], 10, 64); err != nil {
		return rec, fmt.Errorf("kvstore: reservation created_at %q: %w", fields["created_at"], err)
	}
	if md := fields["metadata"]; md != "" && md != "{}" {
		if err := json.Unmarshal([]byte(md), &rec.Metadata); err != nil {
			return rec, fmt.Errorf("kvstore: reservation metadata: %w", err)
		}
	}
	return rec, nil
}
