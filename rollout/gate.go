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

// Package rollout gates the fine-grained locking path per chat. Bucketing is
// deterministic — sha256 of the decimal chat id — so a chat stays on one
// side of the gate for the lifetime of a percentage value, across processes.
package rollout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"

	"github.com/feltlabs/go-felt/kvstore"
	"github.com/feltlabs/go-felt/params"
)

// Constants is the parsed system_constants document.
type Constants struct {
	Enabled            bool
	Percentage         int64
	RetryMaxAttempts   int
	RetryBackoffDelays []time.Duration
	RetryGraceBuffer   time.Duration
}

// Gate answers "does this chat use the fine-grained path". It caches the
// percentage in memory; Reload refreshes it from the KV store.
type Gate struct {
	kv  kvstore.Store
	log *logrus.Entry

	enabled    atomic.Bool
	percentage atomic.Int64

	buckets *lru.Cache[int64, int64]
	sf      singleflight.Group

	mu          sync.Mutex
	subscribers []func(Constants)
	last        Constants
}

// New builds a gate with the given startup values. Call Reload to pick up
// the persisted document.
func New(kv kvstore.Store, enabled bool, percentage int64) *Gate {
	cache, _ := lru.New[int64, int64](4096)
	g := &Gate{
		kv:      kv,
		log:     logrus.WithField("component", "rollout"),
		buckets: cache,
	}
	g.enabled.Store(enabled)
	g.percentage.Store(clamp(percentage))
	g.last = Constants{Enabled: enabled, Percentage: clamp(percentage)}
	return g
}

func clamp(p int64) int64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// bucket maps a chat to [0, 100). The first eight hex digits of the sha256
// digest, read as an unsigned integer, modulo 100.
func (g *Gate) bucket(chatID int64) int64 {
	if b, ok := g.buckets.Get(chatID); ok {
		return b
	}
	sum := sha256.Sum256([]byte(strconv.FormatInt(chatID, 10)))
	v, _ := strconv.ParseUint(hex.EncodeToString(sum[:])[:8], 16, 64)
	b := int64(v % 100)
	g.buckets.Add(chatID, b)
	return b
}

// IsEnabledForChat reports whether the chat is inside the rollout. The
// answer is stable for a fixed percentage, across calls and processes.
func (g *Gate) IsEnabledForChat(chatID int64) bool {
	if !g.enabled.Load() {
		return false
	}
	pct := g.percentage.Load()
	if pct >= 100 {
		return true
	}
	if pct <= 0 {
		return false
	}
	return g.bucket(chatID) < pct
}

// Enabled reports the global switch.
func (g *Gate) Enabled() bool { return g.enabled.Load() }

// Percentage reports the cached rollout percentage.
func (g *Gate) Percentage() int64 { return g.percentage.Load() }

// Subscribe registers a callback invoked after every successful Reload with
// the freshly parsed constants.
func (g *Gate) Subscribe(fn func(Constants)) {
	g.mu.Lock()
	g.subscribers = append(g.subscribers, fn)
	g.mu.Unlock()
}

// Reload re-reads system_constants. Concurrent reloads collapse into one KV
// round trip.
func (g *Gate) Reload(ctx context.Context) error {
	_, err, _ := g.sf.Do("reload", func() (interface{}, error) {
		return nil, g.reload(ctx)
	})
	return err
}

func (g *Gate) reload(ctx context.Context) error {
	fields, err := g.kv.HGetAll(ctx, params.SystemConstantsKey)
	if err != nil {
		return fmt.Errorf("rollout: reload: %w", err)
	}
	c := Constants{
		Enabled:    g.enabled.Load(),
		Percentage: g.percentage.Load(),
	}
	if v, ok := fields[params.ConstFineGrainedEnabled]; ok {
		c.Enabled = v == "1" || v == "true"
	}
	if v, ok := fields[params.ConstRolloutPercentage]; ok {
		p, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("rollout: bad percentage %q: %w", v, err)
		}
		c.Percentage = clamp(p)
	}
	if v, ok := fields[params.ConstRetryMaxAttempts]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.RetryMaxAttempts = n
		}
	}
	if v, ok := fields[params.ConstRetryBackoffDelays]; ok {
		for _, part := range strings.Split(v, ",") {
			if secs, err := strconv.ParseFloat(strings.TrimSpace(part), 64); err == nil {
				c.RetryBackoffDelays = append(c.RetryBackoffDelays, time.Duration(secs*float64(time.Second)))
			}
		}
	}
	if v, ok := fields[params.ConstRetryGraceBuffer]; ok {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			c.RetryGraceBuffer = time.Duration(secs * float64(time.Second))
		}
	}

	old := g.percentage.Swap(c.Percentage)
	g.enabled.Store(c.Enabled)
	if old != c.Percentage {
		g.log.WithFields(logrus.Fields{"from": old, "to": c.Percentage}).
			Info("rollout percentage changed")
	}

	g.mu.Lock()
	g.last = c
	subs := append([]func(Constants){}, g.subscribers...)
	g.mu.Unlock()
	for _, fn := range subs {
		fn(c)
	}
	return nil
}

// Constants returns the most recently parsed document.
func (g *Gate) Constants() Constants {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// SetPercentage persists a new percentage and reloads, so every consumer
// observes the same value. Used by the health monitor's rollback.
func (g *Gate) SetPercentage(ctx context.Context, pct int64) error {
	pct = clamp(pct)
	err := g.kv.HSet(ctx, params.SystemConstantsKey, map[string]string{
		params.ConstRolloutPercentage: strconv.FormatInt(pct, 10),
	})
	if err != nil {
		return fmt.Errorf("rollout: persist percentage: %w", err)
	}
	return g.Reload(ctx)
}
