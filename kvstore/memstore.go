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
	"context"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/feltlabs/go-felt/common/mclock"
)

// Memory implements Store in-process. It backs tests and single-node
// development; every primitive honors the same return-string contract as the
// Lua scripts. Expiry is lazy, evaluated against the injected clock on
// access.
type Memory struct {
	clock mclock.Clock

	mu      sync.Mutex
	hashes  map[string]map[string]string
	strings map[string]string
	lists   map[string][]string
	expiry  map[string]time.Time
	closed  bool
}

// NewMemory returns an empty in-process store. A nil clock defaults to the
// system clock.
func NewMemory(clock mclock.Clock) *Memory {
	if clock == nil {
		clock = mclock.System{}
	}
	return &Memory{
		clock:   clock,
		hashes:  make(map[string]map[string]string),
		strings: make(map[string]string),
		lists:   make(map[string][]string),
		expiry:  make(map[string]time.Time),
	}
}

// reapLocked drops key if its TTL has lapsed. Callers hold mu.
func (m *Memory) reapLocked(key string) {
	if at, ok := m.expiry[key]; ok && !m.clock.Now().Before(at) {
		delete(m.hashes, key)
		delete(m.strings, key)
		delete(m.lists, key)
		delete(m.expiry, key)
	}
}

func (m *Memory) setTTLLocked(key string, ttl time.Duration) {
	if ttl > 0 {
		m.expiry[key] = m.clock.Now().Add(ttl)
	}
}

// ReservationCreate implements Store.
func (m *Memory) ReservationCreate(_ context.Context, key string, rec ReservationRecord, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	m.reapLocked(key)
	if _, ok := m.hashes[key]; ok {
		return false, nil
	}
	m.hashes[key] = map[string]string{
		"id":         rec.ID,
		"user_id":    strconv.FormatInt(rec.UserID, 10),
		"chat_id":    strconv.FormatInt(rec.ChatID, 10),
		"amount":     strconv.FormatInt(rec.Amount, 10),
		"status":     rec.Status,
		"metadata":   encodeMetadata(rec.Metadata),
		"created_at": strconv.FormatInt(rec.CreatedAt, 10),
	}
	m.setTTLLocked(key, ttl)
	return true, nil
}

// ReservationCommit implements Store.
func (m *Memory) ReservationCommit(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	m.reapLocked(key)
	h, ok := m.hashes[key]
	if !ok {
		return RetMissing, nil
	}
	switch h["status"] {
	case StatusPending:
		h["status"] = StatusCommitted
		return RetOK, nil
	case StatusCommitted:
		return RetCommitted, nil
	default:
		return h["status"], nil
	}
}

// ReservationRollback implements Store.
func (m *Memory) ReservationRollback(_ context.Context, key string, allowCommitted bool, reason string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	m.reapLocked(key)
	h, ok := m.hashes[key]
	if !ok {
		return RetMissing, nil
	}
	switch h["status"] {
	case StatusPending:
		h["status"] = StatusRolledBack
		h["reason"] = reason
		return RetRolledBack, nil
	case StatusRolledBack:
		return RetRolledBack, nil
	case StatusCommitted:
		if allowCommitted {
			h["status"] = StatusRolledBack
			h["reason"] = reason
			return RetCompensated, nil
		}
		return RetCommitted, nil
	default:
		return h["status"], nil
	}
}

// GameStateSave implements Store.
func (m *Memory) GameStateSave(_ context.Context, key string, state []byte, expectedVersion int64, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	m.reapLocked(key)
	cur := int64(0)
	if h, ok := m.hashes[key]; ok {
		cur, _ = strconv.ParseInt(h["version"], 10, 64)
	}
	if cur != expectedVersion {
		return false, nil
	}
	m.hashes[key] = map[string]string{
		"state":   string(state),
		"version": strconv.FormatInt(expectedVersion+1, 10),
	}
	m.setTTLLocked(key, ttl)
	return true, nil
}

// SetNX implements Store.
func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	m.reapLocked(key)
	if _, ok := m.strings[key]; ok {
		return false, nil
	}
	m.strings[key] = value
	m.setTTLLocked(key, ttl)
	return true, nil
}

// CompareAndDelete implements Store.
func (m *Memory) CompareAndDelete(_ context.Context, key, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	m.reapLocked(key)
	if m.strings[key] != token {
		return false, nil
	}
	delete(m.strings, key)
	delete(m.expiry, key)
	return true, nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, ErrClosed
	}
	m.reapLocked(key)
	v, ok := m.strings[key]
	return v, ok, nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, key := range keys {
		delete(m.hashes, key)
		delete(m.strings, key)
		delete(m.lists, key)
		delete(m.expiry, key)
	}
	return nil
}

// Exists implements Store.
func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	m.reapLocked(key)
	if _, ok := m.hashes[key]; ok {
		return true, nil
	}
	if _, ok := m.strings[key]; ok {
		return true, nil
	}
	_, ok := m.lists[key]
	return ok, nil
}

// HGetAll implements Store.
func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.reapLocked(key)
	out := make(map[string]string, len(m.hashes[key]))
	for f, v := range m.hashes[key] {
		out[f] = v
	}
	return out, nil
}

// HSet implements Store.
func (m *Memory) HSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.reapLocked(key)
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		m.hashes[key] = h
	}
	for f, v := range fields {
		h[f] = v
	}
	return nil
}

// Expire implements Store.
func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.setTTLLocked(key, ttl)
	return nil
}

// LPush implements Store.
func (m *Memory) LPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.reapLocked(key)
	for _, v := range values {
		m.lists[key] = append([]string{v}, m.lists[key]...)
	}
	return nil
}

// LRange implements Store.
func (m *Memory) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.reapLocked(key)
	l := m.lists[key]
	n := int64(len(l))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}
	out := make([]string, 0, stop-start+1)
	out = append(out, l[start:stop+1]...)
	return out, nil
}

// LRem implements Store. Like LREM with count 0 it removes every occurrence.
func (m *Memory) LRem(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.reapLocked(key)
	var kept []string
	for _, v := range m.lists[key] {
		if v != value {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		delete(m.lists, key)
	} else {
		m.lists[key] = kept
	}
	return nil
}

// LLen implements Store.
func (m *Memory) LLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	m.reapLocked(key)
	return int64(len(m.lists[key])), nil
}

// Scan implements Store with glob matching over the whole keyspace.
func (m *Memory) Scan(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	var keys []string
	appendMatches := func(space map[string]struct{}) {
		for key := range space {
			if ok, _ := path.Match(pattern, key); ok {
				keys = append(keys, key)
			}
		}
	}
	all := make(map[string]struct{})
	for k := range m.hashes {
		all[k] = struct{}{}
	}
	for k := range m.strings {
		all[k] = struct{}{}
	}
	for k := range m.lists {
		all[k] = struct{}{}
	}
	for k := range all {
		m.reapLocked(k)
	}
	clear(all)
	for k := range m.hashes {
		all[k] = struct{}{}
	}
	for k := range m.strings {
		all[k] = struct{}{}
	}
	for k := range m.lists {
		all[k] = struct{}{}
	}
	appendMatches(all)
	return keys, nil
}

// Close implements Store.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}
