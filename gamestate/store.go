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

package gamestate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feltlabs/go-felt/kvstore"
)

// Store persists game documents with compare-and-swap versioning. The stored
// version starts at 0 (absent) and strictly increases on every successful
// save; a CAS miss changes nothing on either side.
type Store struct {
	kv     kvstore.Store
	prefix string
	ttl    time.Duration
	log    *logrus.Entry
}

// NewStore builds a store writing under prefix. ttl <= 0 keeps documents
// forever.
func NewStore(kv kvstore.Store, prefix string, ttl time.Duration) *Store {
	return &Store{
		kv:     kv,
		prefix: prefix,
		ttl:    ttl,
		log:    logrus.WithField("component", "gamestate"),
	}
}

func (s *Store) key(chatID int64) string {
	return fmt.Sprintf("%s%d", s.prefix, chatID)
}

// LoadWithVersion returns the chat's state and stored version. A chat with
// no game returns (nil, 0, nil).
func (s *Store) LoadWithVersion(ctx context.Context, chatID int64) (*State, int64, error) {
	fields, err := s.kv.HGetAll(ctx, s.key(chatID))
	if err != nil {
		return nil, 0, fmt.Errorf("gamestate: load chat %d: %w", chatID, err)
	}
	if len(fields) == 0 {
		return nil, 0, nil
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("gamestate: chat %d version %q: %w", chatID, fields["version"], err)
	}
	var st State
	if err := json.Unmarshal([]byte(fields["state"]), &st); err != nil {
		return nil, 0, fmt.Errorf("gamestate: chat %d decode: %w", chatID, err)
	}
	return &st, version, nil
}

// Load is LoadWithVersion without the version.
func (s *Store) Load(ctx context.Context, chatID int64) (*State, error) {
	st, _, err := s.LoadWithVersion(ctx, chatID)
	return st, err
}

// SaveWithVersion persists st iff the stored version still equals
// expectedVersion, bumping it to expectedVersion+1. Returns false on a
// version conflict.
func (s *Store) SaveWithVersion(ctx context.Context, chatID int64, st *State, expectedVersion int64) (bool, error) {
	body, err := json.Marshal(st)
	if err != nil {
		return false, fmt.Errorf("gamestate: chat %d encode: %w", chatID, err)
	}
	ok, err := s.kv.GameStateSave(ctx, s.key(chatID), body, expectedVersion, s.ttl)
	if err != nil {
		return false, fmt.Errorf("gamestate: chat %d save: %w", chatID, err)
	}
	if !ok {
		s.log.WithFields(logrus.Fields{"chat": chatID, "expected": expectedVersion}).
			Debug("version conflict on save")
	}
	return ok, nil
}

// Delete removes the chat's document. Used when a hand ends.
func (s *Store) Delete(ctx context.Context, chatID int64) error {
	return s.kv.Delete(ctx, s.key(chatID))
}
